package status

import (
	"sync/atomic"
)

// Callbacks is the consumer-facing notification contract shared by the stream
// client and the polling fallback. All callbacks are optional and are invoked
// from the component's own goroutine, never concurrently with each other.
type Callbacks struct {
	// OnSnapshot receives every snapshot in arrival order, including the
	// terminal one.
	OnSnapshot func(Snapshot)
	// OnComplete fires exactly once with the first terminal snapshot.
	OnComplete func(Snapshot)
	// OnError receives credential failures and generic connectivity errors.
	// It is never invoked after an intentional stop.
	OnError func(error)
	// OnTimeout fires at most once when the polling budget is exhausted
	// without a terminal snapshot.
	OnTimeout func()
}

// notifier funnels both delivery paths through one terminal guard. Once a
// terminal snapshot, fatal error, or timeout has been reported, every further
// invocation is suppressed. This is what makes the brief overlap between a
// dying push channel and a starting fallback poll safe: a duplicate terminal
// snapshot is swallowed instead of double-firing OnComplete.
type notifier struct {
	cb   Callbacks
	done atomic.Bool
}

func newNotifier(cb Callbacks) *notifier {
	return &notifier{cb: cb}
}

// snapshot relays one snapshot and handles terminal completion.
func (n *notifier) snapshot(snap Snapshot) {
	if n.done.Load() {
		return
	}
	if snap.Status.Terminal() {
		if !n.done.CompareAndSwap(false, true) {
			return
		}
		if n.cb.OnSnapshot != nil {
			n.cb.OnSnapshot(snap)
		}
		if n.cb.OnComplete != nil {
			n.cb.OnComplete(snap)
		}
		return
	}
	if n.cb.OnSnapshot != nil {
		n.cb.OnSnapshot(snap)
	}
}

// transient reports a recoverable connectivity error without ending delivery.
func (n *notifier) transient(err error) {
	if n.done.Load() {
		return
	}
	if n.cb.OnError != nil {
		n.cb.OnError(err)
	}
}

// fail reports a fatal error and permanently suppresses further callbacks.
func (n *notifier) fail(err error) {
	if !n.done.CompareAndSwap(false, true) {
		return
	}
	if n.cb.OnError != nil {
		n.cb.OnError(err)
	}
}

// timeout reports budget exhaustion at most once.
func (n *notifier) timeout() {
	if !n.done.CompareAndSwap(false, true) {
		return
	}
	if n.cb.OnTimeout != nil {
		n.cb.OnTimeout()
	}
}

// finished reports whether a terminal event has already been delivered.
func (n *notifier) finished() bool {
	return n.done.Load()
}
