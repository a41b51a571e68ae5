// Command server exposes the session store over a read-only HTTP API with a
// live websocket feed per session.
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

	"github.com/shehryarbajwa/chatpilot/internal/api"
	"github.com/shehryarbajwa/chatpilot/internal/config"
	"github.com/shehryarbajwa/chatpilot/internal/logging"
	"github.com/shehryarbajwa/chatpilot/internal/ratelimit"
	"github.com/shehryarbajwa/chatpilot/internal/store"
	"github.com/shehryarbajwa/chatpilot/internal/stream"
)

func main() {
	cfgPath := flag.String("config", config.DefaultConfigFile, "path to the YAML config file")
	flag.Parse()

	cfg, err := config.LoadFrom(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.Logging.Level, cfg.Logging.JSON)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := serve(cfg, log); err != nil {
		log.Fatal("Server error", zap.Error(err))
	}
}

func serve(cfg *config.Config, log *zap.Logger) error {
	st, err := store.NewManager(cfg.StateDir)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	log.Info("Session store opened", zap.String("dir", st.Dir()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := stream.NewHub(st, log)
	go func() {
		if err := hub.Run(ctx); err != nil {
			log.Error("Session watcher stopped", zap.Error(err))
		}
	}()

	limiter := ratelimit.NewLimiter(cfg.Server.RequestsPerHour, cfg.Server.Burst)
	go pruneLoop(ctx, limiter)

	router := api.NewHandler(st, hub, log).SetupRoutes(limiter, cfg.Server.CORSOrigin)

	srv := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     router,
		// no WriteTimeout: the websocket feed is long lived
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Server starting",
			zap.String("addr", cfg.Server.Addr),
			zap.Int("requestsPerHour", cfg.Server.RequestsPerHour))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down server gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	log.Info("Server stopped cleanly")
	return nil
}

func pruneLoop(ctx context.Context, limiter *ratelimit.Limiter) {
	t := time.NewTicker(10 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			limiter.Prune()
		}
	}
}
