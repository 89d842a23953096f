package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// FileBroadcaster carries broadcast messages between processes through a
// small event file next to the credential store. Publish atomically replaces
// the file; subscribers watch its directory with fsnotify and re-read it on
// writes. Nonces filter out the same event seen twice (rename on some
// filesystems reports both CREATE and WRITE).
type FileBroadcaster struct {
	path   string
	logger *zap.Logger

	mu        sync.Mutex
	subs      map[int]chan Message
	next      int
	watcher   *fsnotify.Watcher
	lastNonce string
	closed    bool
}

// NewFileBroadcaster builds a broadcaster around the event file at path. The
// parent directory must exist.
func NewFileBroadcaster(path string, logger *zap.Logger) (*FileBroadcaster, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory, not the file: atomic rename replaces the inode
	// and a file-level watch would go stale after the first publish.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	b := &FileBroadcaster{
		path:    path,
		logger:  logger,
		subs:    make(map[int]chan Message),
		watcher: watcher,
	}
	go b.watch()
	return b, nil
}

// Publish writes msg to the event file via write-then-rename so readers never
// observe a torn payload. Local subscribers are notified directly as well,
// since fsnotify delivery is asynchronous.
func (b *FileBroadcaster) Publish(_ context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode broadcast: %w", err)
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write broadcast: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return fmt.Errorf("publish broadcast: %w", err)
	}
	b.deliver(msg)
	return nil
}

// Subscribe registers a buffered listener channel.
func (b *FileBroadcaster) Subscribe() (<-chan Message, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan Message, 8)
	b.subs[id] = ch
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Close stops the watcher and closes all subscriber channels.
func (b *FileBroadcaster) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
	return b.watcher.Close()
}

func (b *FileBroadcaster) watch() {
	for {
		select {
		case evt, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			if evt.Name != b.path {
				continue
			}
			if !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Rename) {
				continue
			}
			b.readAndDeliver()
		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			b.logger.Warn("broadcast watcher error", zap.Error(err))
		}
	}
}

func (b *FileBroadcaster) readAndDeliver() {
	data, err := os.ReadFile(b.path)
	if err != nil {
		// The file may be mid-rename; the next event will retry.
		return
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		b.logger.Debug("discarding malformed broadcast payload", zap.Error(err))
		return
	}
	b.deliver(msg)
}

// deliver fans out to subscribers, skipping nonces already seen and never
// blocking on a slow listener.
func (b *FileBroadcaster) deliver(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if msg.Nonce != "" && msg.Nonce == b.lastNonce {
		return
	}
	b.lastNonce = msg.Nonce
	for _, ch := range b.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}
