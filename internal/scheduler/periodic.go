package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/ph0rque/MakeDealCRM-sub005/platform/config"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/logger"

	"github.com/hibiken/asynq"
)

const defaultMaintenanceCron = "0 2 * * *"

// Periodic registers the recurring maintenance pass with asynq's scheduler.
type Periodic struct {
	scheduler *asynq.Scheduler
	cron      string
	target    target
	log       *logger.Logger
}

func NewPeriodic(cfg config.SchedulerConfig, log *logger.Logger) (*Periodic, error) {
	t, err := resolveTarget(cfg)
	if err != nil {
		return nil, err
	}

	cron := cfg.GetMaintenanceCron()
	if cron == "" {
		cron = defaultMaintenanceCron
	}

	return &Periodic{
		scheduler: asynq.NewScheduler(t.redis, &asynq.SchedulerOpts{Location: time.UTC}),
		cron:      cron,
		target:    t,
		log:       log,
	}, nil
}

// Run registers the entry and keeps the scheduler running until ctx ends.
func (p *Periodic) Run(ctx context.Context) error {
	if p == nil || p.scheduler == nil {
		return nil
	}

	task, err := NewMaintenanceTask(MaintenancePayload{Trigger: triggerPeriodic})
	if err != nil {
		return err
	}
	entryID, err := p.scheduler.Register(p.cron, task, p.target.maintenanceOptions()...)
	if err != nil {
		return fmt.Errorf("register maintenance cron %q: %w", p.cron, err)
	}
	p.log.Info("maintenance pass scheduled", "cron", p.cron, "entry_id", entryID)

	if err := p.scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	<-ctx.Done()
	p.scheduler.Shutdown()
	return nil
}
