package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/domain"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/maintenance"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/logger"
)

type fakeRunner struct {
	calls []maintenance.Options
	err   error
}

func (f *fakeRunner) Run(_ context.Context, opts maintenance.Options) (maintenance.JobSummary, error) {
	f.calls = append(f.calls, opts)
	if f.err != nil {
		return maintenance.JobSummary{}, f.err
	}
	return maintenance.JobSummary{JobID: uuid.New(), Status: domain.JobSuccess}, nil
}

func TestHandleMaintenancePassesOptions(t *testing.T) {
	runner := &fakeRunner{}
	w := &Worker{runner: runner, log: logger.Nop()}

	task, err := NewMaintenanceTask(MaintenancePayload{DryRun: true, SkipSteps: []string{maintenance.StepCleanupOldData}, Trigger: "manual"})
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	if err := w.handleMaintenance(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(runner.calls) != 1 {
		t.Fatalf("expected one run, got %d", len(runner.calls))
	}
	got := runner.calls[0]
	if !got.DryRun || len(got.SkipSteps) != 1 || got.SkipSteps[0] != maintenance.StepCleanupOldData {
		t.Fatalf("unexpected options %+v", got)
	}
}

func TestHandleMaintenanceTreatsLockContentionAsDone(t *testing.T) {
	w := &Worker{runner: &fakeRunner{err: maintenance.ErrAlreadyRunning}, log: logger.Nop()}
	task, _ := NewMaintenanceTask(MaintenancePayload{Trigger: "periodic"})
	if err := w.handleMaintenance(context.Background(), task); err != nil {
		t.Fatalf("expected nil on lock contention, got %v", err)
	}
}

func TestHandleMaintenanceRetriesOtherFailures(t *testing.T) {
	boom := errors.New("redis down")
	w := &Worker{runner: &fakeRunner{err: boom}, log: logger.Nop()}
	task, _ := NewMaintenanceTask(MaintenancePayload{})
	err := w.handleMaintenance(context.Background(), task)
	if !errors.Is(err, boom) || errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

func TestHandleMaintenanceSkipsRetryOnBadPayload(t *testing.T) {
	runner := &fakeRunner{}
	w := &Worker{runner: runner, log: logger.Nop()}
	err := w.handleMaintenance(context.Background(), asynq.NewTask(TaskPipelineMaintenance, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
	if len(runner.calls) != 0 {
		t.Fatalf("runner must not be called for a bad payload")
	}
}

func TestRedisClientOpt(t *testing.T) {
	opt, err := redisClientOpt("redis://:secret@localhost:6380/2", false)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opt.Addr != "localhost:6380" || opt.Password != "secret" || opt.DB != 2 || opt.TLSConfig != nil {
		t.Fatalf("unexpected options %+v", opt)
	}

	opt, err = redisClientOpt("rediss://localhost:6380", true)
	if err != nil {
		t.Fatalf("parse tls: %v", err)
	}
	if opt.TLSConfig == nil || !opt.TLSConfig.InsecureSkipVerify {
		t.Fatalf("expected insecure tls config")
	}
}
