package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/maintenance"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/config"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/logger"

	"github.com/hibiken/asynq"
)

const defaultConcurrency = 4

// MaintenanceRunner executes a maintenance pass.
type MaintenanceRunner interface {
	Run(ctx context.Context, opts maintenance.Options) (maintenance.JobSummary, error)
}

// Worker consumes pipeline tasks from the queue.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	runner MaintenanceRunner
	log    *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, runner MaintenanceRunner, log *logger.Logger) (*Worker, error) {
	t, err := resolveTarget(cfg)
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = defaultConcurrency
	}

	w := &Worker{runner: runner, log: log, mux: asynq.NewServeMux()}
	w.mux.HandleFunc(TaskPipelineMaintenance, w.handleMaintenance)
	w.server = asynq.NewServer(t.redis, asynq.Config{
		Concurrency:  concurrency,
		Queues:       map[string]int{t.queue: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(w.reportFailure),
	})
	return w, nil
}

// Run blocks until ctx is cancelled or the server fails.
func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			w.server.Shutdown()
		case <-stopped:
		}
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) reportFailure(ctx context.Context, task *asynq.Task, err error) {
	retried, _ := asynq.GetRetryCount(ctx)
	w.log.Warn("task failed", "task", task.Type(), "retried", retried, "error", err)
}

// handleMaintenance runs one pass. Contention on the pass lock is not an
// error: another worker is already doing the job.
func (w *Worker) handleMaintenance(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseMaintenancePayload(task)
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	summary, err := w.runner.Run(ctx, payload.Options())
	switch {
	case errors.Is(err, maintenance.ErrAlreadyRunning):
		w.log.Info("maintenance task skipped: pass already running", "trigger", payload.Trigger)
		return nil
	case err != nil:
		return err
	}

	w.log.Info("maintenance task finished",
		"trigger", payload.Trigger,
		"job_id", summary.JobID.String(),
		"status", summary.Status,
		"errors", len(summary.Errors))
	return nil
}
