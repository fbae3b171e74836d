// Package main is the entrypoint for the JobHunter API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/jobhunter/internal/api"
	"github.com/kiranshivaraju/jobhunter/internal/api/handler"
	mw "github.com/kiranshivaraju/jobhunter/internal/api/middleware"
	"github.com/kiranshivaraju/jobhunter/internal/api/response"
	"github.com/kiranshivaraju/jobhunter/internal/cache"
	"github.com/kiranshivaraju/jobhunter/internal/config"
	"github.com/kiranshivaraju/jobhunter/internal/notify"
	"github.com/kiranshivaraju/jobhunter/internal/pipeline"
	"github.com/kiranshivaraju/jobhunter/internal/scheduler"
	"github.com/kiranshivaraju/jobhunter/internal/source"
	"github.com/kiranshivaraju/jobhunter/internal/store"
	"github.com/kiranshivaraju/jobhunter/internal/tracking"
)

const (
	shutdownTimeout = 30 * time.Second
	requestsPerMin  = 60
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config and criteria, fail fast when either is invalid
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "store", cfg.Store.Driver, "criteria", cfg.CriteriaFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Open the offer store (migrations run for postgres)
	st, err := store.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	slog.Info("store ready", "driver", cfg.Store.Driver)

	// 3. Cache: Redis when configured, in-process otherwise
	c, err := cache.Open(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer c.Close()

	// 4. Optional Telegram alerts
	var notifier pipeline.Notifier
	if cfg.Telegram.Enabled() {
		tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			return fmt.Errorf("create telegram notifier: %w", err)
		}
		notifier = tg
	}

	// 5. Pipeline coordinator over the enabled adapters
	adapters := source.FromConfig(cfg)
	if len(adapters) == 0 {
		slog.Warn("no sources enabled in criteria file; runs will fetch nothing")
	}
	coordinator := pipeline.NewCoordinator(st, c, adapters, pipeline.Options{
		Concurrency:    cfg.Pipeline.Concurrency,
		AdapterTimeout: cfg.Pipeline.AdapterTimeout,
		Notifier:       notifier,
	})

	// 6. Scheduler
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Spec != "" {
		sched, err = scheduler.New(coordinator, cfg.Scheduler.Spec, cfg.Scheduler.Timezone)
		if err != nil {
			return fmt.Errorf("create scheduler: %w", err)
		}
		sched.Start()
	}

	// 7. Build router with dependencies
	auth := mw.NewAuth(cfg.Auth.APIKeyHash)
	if !auth.Enabled() {
		slog.Warn("JOBHUNTER_API_KEY_HASH is empty; API authentication is disabled")
	}

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: mw.NewRateLimit(c, requestsPerMin),

		HealthHandler:         healthHandler(st, c),
		StartRunHandler:       handler.NewStartRunHandler(coordinator, cfg.Criteria),
		LatestRunHandler:      handler.NewLatestRunHandler(coordinator),
		ListOffersHandler:     handler.NewListOffersHandler(st),
		GetOfferHandler:       handler.NewGetOfferHandler(st),
		UpdateTrackingHandler: handler.NewUpdateTrackingHandler(tracking.NewService(st)),
		StatsHandler:          handler.NewStatsHandler(st),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			slog.Warn("scheduler did not stop cleanly", "error", err)
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := coordinator.Close(shutdownCtx); err != nil {
		slog.Warn("background run did not finish before shutdown", "error", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// pinger is satisfied by both the store and the cache.
type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler checks store and cache connectivity.
func healthHandler(db, c pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := db.Ping(r.Context()); err != nil {
			slog.Warn("health: store ping failed", "error", err)
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			slog.Warn("health: cache ping failed", "error", err)
			checks["cache"] = "degraded"
		}

		if checks["database"] != "ok" || checks["cache"] != "ok" {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
