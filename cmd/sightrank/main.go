// Package main wires together the job watcher binary. It follows one audit
// job to completion, preferring the push channel and degrading to polling.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sightrank/sightrank-go/internal/auth"
	"github.com/sightrank/sightrank-go/internal/config"
	"github.com/sightrank/sightrank-go/internal/credstore"
	credmemory "github.com/sightrank/sightrank-go/internal/credstore/memory"
	credpostgres "github.com/sightrank/sightrank-go/internal/credstore/postgres"
	credsqlite "github.com/sightrank/sightrank-go/internal/credstore/sqlite"
	"github.com/sightrank/sightrank-go/internal/logging"
	"github.com/sightrank/sightrank-go/internal/status"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	jobID := flag.String("job", "", "Audit job id to watch")
	flag.Parse()

	if *jobID == "" {
		fmt.Fprintln(os.Stderr, "usage: sightrank -job <job_id> [-config <path>]")
		os.Exit(2)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *jobID); err != nil {
		logger.Error("watch failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger, jobID string) error {
	store, bcast, cleanup, err := buildCredentials(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	refresher := auth.NewHTTPRefresher(cfg.API.BaseURL, cfg.Auth.RefreshToken, nil)
	coordinator := auth.NewCoordinator(store, bcast, refresher, auth.Config{
		RefreshMargin:     time.Duration(cfg.Auth.RefreshMarginSeconds) * time.Second,
		LockTTL:           time.Duration(cfg.Auth.LockTTLSeconds) * time.Second,
		ClaimRecheckDelay: time.Duration(cfg.Auth.ClaimRecheckMs) * time.Millisecond,
		Logger:            logging.Component(logger, "auth"),
	})

	apiClient := status.NewClient(cfg.API.BaseURL, coordinator,
		&http.Client{Timeout: time.Duration(cfg.API.TimeoutSeconds) * time.Second},
		logging.Component(logger, "api"))

	streamBase, streamCap := cfg.StreamBackoff()
	pollBase, pollCap := cfg.PollBackoff()

	done := make(chan error, 1)
	stream := status.NewStream(
		jobID,
		apiClient,
		status.NewSSETransport(nil),
		apiClient,
		status.StreamConfig{
			Policy:        status.NewPolicy(streamBase, streamCap),
			MaxReconnects: cfg.Stream.MaxReconnects,
			Poll: status.PollerConfig{
				Policy:       status.NewPolicy(pollBase, pollCap),
				MaxAttempts:  cfg.Poll.MaxAttempts,
				MaxWallClock: time.Duration(cfg.Poll.MaxWallClockSec) * time.Second,
			},
			Logger: logging.Component(logger, "stream"),
		},
		status.Callbacks{
			OnSnapshot: func(snap status.Snapshot) {
				logger.Info("job progress",
					zap.String("job_id", snap.JobID),
					zap.Int("progress", snap.Progress),
					zap.String("status", string(snap.Status)))
			},
			OnComplete: func(snap status.Snapshot) {
				if snap.Status == status.StateFailed {
					done <- fmt.Errorf("job failed: %s", snap.ErrorMessage)
					return
				}
				logger.Info("job completed",
					zap.String("job_id", snap.JobID),
					zap.Any("result", snap.Result))
				done <- nil
			},
			OnError: func(err error) {
				if errors.Is(err, status.ErrUnauthorized) {
					done <- fmt.Errorf("re-authentication required: %w", err)
					return
				}
				logger.Warn("stream connectivity degraded", zap.Error(err))
			},
			OnTimeout: func() {
				done <- errors.New("gave up watching: no terminal status within budget")
			},
		},
	)
	stream.Start()
	defer stream.Close()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		logger.Info("shutting down", zap.String("job_id", jobID))
		return nil
	}
}

func buildCredentials(cfg config.Config, logger *zap.Logger) (credstore.Store, auth.Broadcaster, func(), error) {
	switch cfg.CredStore.Driver {
	case "sqlite":
		store, err := credsqlite.Open(cfg.CredStore.Path)
		if err != nil {
			return nil, nil, nil, err
		}
		bcast, err := auth.NewFileBroadcaster(cfg.CredStore.Path+".events",
			logging.Component(logger, "broadcast"))
		if err != nil {
			_ = store.Close()
			return nil, nil, nil, err
		}
		cleanup := func() {
			_ = bcast.Close()
			_ = store.Close()
		}
		return store, bcast, cleanup, nil
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		store, err := credpostgres.New(ctx, cfg.CredStore.DSN, cfg.CredStore.Session)
		if err != nil {
			return nil, nil, nil, err
		}
		// Postgres deployments lack a shared filesystem; waiters rely on the
		// store-read fallback bounded by the lock TTL.
		return store, auth.NewMemoryBroadcaster(), func() { _ = store.Close() }, nil
	case "memory":
		store := credmemory.New()
		return store, auth.NewMemoryBroadcaster(), func() {}, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown credstore driver %q", cfg.CredStore.Driver)
	}
}
