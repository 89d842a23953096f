// Package main runs the local development stub of the audit backend and auth
// service so the watcher can be exercised end to end without real
// infrastructure.
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

	"github.com/sightrank/sightrank-go/internal/config"
	"github.com/sightrank/sightrank-go/internal/logging"
	"github.com/sightrank/sightrank-go/internal/stubserver"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	refreshToken := flag.String("refresh-token", "dev-refresh-token", "Refresh token the stub accepts")
	jobID := flag.String("job", "demo-job", "Job id to preload with a scripted run")
	flag.Parse()

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

	stub := stubserver.New(stubserver.Config{
		RefreshToken: *refreshToken,
		Logger:       logging.Component(logger, "stub"),
	})
	stub.ScriptDefaultJob(*jobID)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Stub.Port),
		Handler:           stub.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("stub server listening",
		zap.Int("port", cfg.Stub.Port),
		zap.String("job_id", *jobID))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", zap.Error(err))
		os.Exit(1)
	}
}
