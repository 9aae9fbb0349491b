package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/bootstrap"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/scheduler"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/config"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env, "cron", cfg.GetMaintenanceCron())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Open(ctx, cfg, log, bootstrap.Options{})
	if err != nil {
		log.Error("failed to initialize runtime", "error", err)
		panic("failed to initialize runtime: " + err.Error())
	}
	defer rt.Close()

	periodic, err := scheduler.NewPeriodic(cfg, log)
	if err != nil {
		log.Error("failed to initialize periodic scheduler", "error", err)
		panic("failed to initialize periodic scheduler: " + err.Error())
	}
	go func() {
		if err := periodic.Run(ctx); err != nil {
			log.Error("periodic scheduler stopped", "error", err)
			stop()
		}
	}()

	worker, err := scheduler.NewWorker(cfg, rt.Maintenance(), log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	worker.Run(ctx)
}
