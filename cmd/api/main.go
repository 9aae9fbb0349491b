package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/bootstrap"
	apphttp "github.com/ph0rque/MakeDealCRM-sub005/internal/http"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/http/router"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/service"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/scheduler"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/config"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/db"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	var queue service.MaintenanceQueue
	if client, closeClient := initMaintenanceQueue(cfg, log); client != nil {
		defer closeClient()
		queue = client
	}

	rt, err := bootstrap.Open(ctx, cfg, log, bootstrap.Options{Migrate: true, Queue: queue})
	if err != nil {
		log.Error("failed to initialize runtime", "error", err)
		panic("failed to initialize runtime: " + err.Error())
	}
	defer rt.Close()

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config: cfg,
		Logger: log,
		Health: db.NewPoolAdapter(rt.Pool),
		Modules: []apphttp.Module{
			rt.Pipeline,
			rt.Notifications,
		},
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.New(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

func initMaintenanceQueue(cfg config.SchedulerConfig, log *logger.Logger) (*scheduler.Client, func()) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; asynchronous maintenance disabled")
		return nil, nil
	}

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize maintenance queue client", "error", err)
		return nil, nil
	}

	return client, func() {
		_ = client.Close()
	}
}
