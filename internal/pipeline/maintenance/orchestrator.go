// Package maintenance runs the periodic reconciliation pass over the whole
// pipeline: staleness, lead conversion, automation, WIP, analytics and
// retention.
package maintenance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/events"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/automation"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/domain"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/repository"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/scoring"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/clock"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/lock"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/logger"
)

// LockName is the distributed lock held for the duration of a pass.
const LockName = "pipeline-maintenance"

// ErrAlreadyRunning is returned when another replica holds the lock.
var ErrAlreadyRunning = errors.New("maintenance pass already running")

// Archive stores job summaries outside the database.
type Archive interface {
	PutJSON(ctx context.Context, bucket, key string, v any) error
}

// Deps wires the orchestrator's collaborators. Scoring, Rules, Sink, Bus,
// Locker and Archive are optional.
type Deps struct {
	Store         repository.Store
	Catalog       *domain.Catalog
	Scoring       *scoring.Engine
	Rules         *automation.Evaluator
	Sink          domain.Sink
	Bus           events.Bus
	Clock         clock.Clock
	Log           *logger.Logger
	Locker        lock.Locker
	LockTTL       time.Duration
	Archive       Archive
	ArchiveBucket string
	StoreTimeout  time.Duration
	Defaults      Options
}

// Orchestrator runs maintenance passes.
type Orchestrator struct {
	deps Deps
}

// New returns an orchestrator.
func New(d Deps) *Orchestrator {
	if d.Clock == nil {
		d.Clock = clock.System{}
	}
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	if d.Locker == nil {
		d.Locker = lock.Noop{}
	}
	if d.LockTTL <= 0 {
		d.LockTTL = 30 * time.Minute
	}
	d.Defaults = d.Defaults.withDefaults(DefaultOptions())
	return &Orchestrator{deps: d}
}

// run carries the state of one pass.
type run struct {
	o       *Orchestrator
	opts    Options
	jobID   uuid.UUID
	now     time.Time
	summary *JobSummary
}

// stepRun accumulates one step's counters. Safe for concurrent use.
type stepRun struct {
	mu     sync.Mutex
	name   string
	result StepResult
	errs   []ItemError
}

func (s *stepRun) processed() {
	s.mu.Lock()
	s.result.Processed++
	s.mu.Unlock()
}

func (s *stepRun) affected() {
	s.mu.Lock()
	s.result.Affected++
	s.mu.Unlock()
}

func (s *stepRun) fail(itemID string, err error) {
	s.mu.Lock()
	s.result.Failed++
	s.errs = append(s.errs, ItemError{Step: s.name, ItemID: itemID, Message: err.Error()})
	s.mu.Unlock()
}

// moved withdraws an affected count for a deal a transition changed after
// the step read it.
func (s *stepRun) moved() {
	s.mu.Lock()
	s.result.Affected--
	if s.result.Details == nil {
		s.result.Details = map[string]any{}
	}
	n, _ := s.result.Details["movedDuringStep"].(int)
	s.result.Details["movedDuringStep"] = n + 1
	s.mu.Unlock()
}

func (s *stepRun) detail(key string, v any) {
	s.mu.Lock()
	if s.result.Details == nil {
		s.result.Details = map[string]any{}
	}
	s.result.Details[key] = v
	s.mu.Unlock()
}

// Run executes one maintenance pass. It returns ErrAlreadyRunning when the
// lock is held elsewhere; every other failure is reported in the summary.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (JobSummary, error) {
	opts = opts.withDefaults(o.deps.Defaults)

	lease, err := o.deps.Locker.Acquire(ctx, LockName, o.deps.LockTTL)
	if errors.Is(err, lock.ErrNotAcquired) {
		o.deps.Log.Info("maintenance pass skipped: lock held by another worker")
		return JobSummary{}, ErrAlreadyRunning
	}
	if err != nil {
		return JobSummary{}, fmt.Errorf("acquire maintenance lock: %w", err)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			o.deps.Log.Warn("failed to release maintenance lock", "error", err)
		}
	}()

	started := o.deps.Clock.Now()
	r := &run{
		o:     o,
		opts:  opts,
		jobID: uuid.New(),
		now:   started,
		summary: &JobSummary{
			StartedAt: started,
			DryRun:    opts.DryRun,
			Steps:     make([]StepResult, 0, len(StepNames)),
			Errors:    []ItemError{},
			Wip:       []domain.WipCounter{},
		},
	}
	r.summary.JobID = r.jobID
	o.deps.Log.Info("maintenance pass started", "job_id", r.jobID.String(), "dry_run", opts.DryRun)

	steps := []struct {
		name string
		fn   func(context.Context, *stepRun) error
	}{
		{StepUpdateDaysInStage, r.updateDaysInStage},
		{StepDetectStaleDeals, r.detectStaleDeals},
		{StepProcessLeadConversions, r.processLeadConversions},
		{StepExecuteAutomationRules, r.executeAutomationRules},
		{StepReconcileWip, r.reconcileWip},
		{StepPipelineAnalytics, r.pipelineAnalytics},
		{StepSendAlertNotifications, r.sendAlertNotifications},
		{StepCleanupOldData, r.cleanupOldData},
	}
	for _, step := range steps {
		if ctx.Err() != nil {
			r.summary.Cancelled = true
			r.summary.Steps = append(r.summary.Steps, StepResult{Name: step.name, Status: StepCancelled})
			continue
		}
		if opts.skips(step.name) {
			r.summary.Steps = append(r.summary.Steps, StepResult{Name: step.name, Status: StepSkipped})
			continue
		}
		r.runStep(ctx, step.name, step.fn)
	}

	r.summary.Statistics = r.statistics(context.WithoutCancel(ctx))

	finished := o.deps.Clock.Now()
	r.summary.FinishedAt = finished
	r.summary.DurationSeconds = finished.Sub(started).Seconds()
	r.summary.Status = overallStatus(r.summary.Steps, r.summary.Errors)
	if r.summary.Cancelled && r.summary.Status == domain.JobSuccess {
		r.summary.Status = domain.JobPartialSuccess
	}

	r.persist(context.WithoutCancel(ctx))

	o.deps.Log.Info("maintenance pass finished",
		"job_id", r.jobID.String(),
		"status", r.summary.Status,
		"errors", len(r.summary.Errors),
		"cancelled", r.summary.Cancelled,
		"duration_s", r.summary.DurationSeconds)
	if o.deps.Bus != nil {
		o.deps.Bus.Publish(ctx, events.MaintenanceCompleted{
			BaseEvent:  events.At(finished),
			JobID:      r.jobID,
			Status:     r.summary.Status,
			ErrorCount: len(r.summary.Errors),
			Cancelled:  r.summary.Cancelled,
		})
	}
	return *r.summary, nil
}

// runStep isolates one step: errors and panics are recorded and the pass
// continues.
func (r *run) runStep(ctx context.Context, name string, fn func(context.Context, *stepRun) error) {
	s := &stepRun{name: name, result: StepResult{Name: name}}
	start := time.Now()

	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				r.o.deps.Log.Error("maintenance step panicked", "step", name, "panic", fmt.Sprint(p), "stack", string(debug.Stack()))
				err = fmt.Errorf("panic: %v", p)
			}
		}()
		return fn(ctx, s)
	}()

	s.result.DurationMs = time.Since(start).Milliseconds()
	switch {
	case err != nil:
		s.result.Status = StepFailed
		s.errs = append(s.errs, ItemError{Step: name, Message: err.Error()})
	case s.result.Status != "":
	case s.result.Failed > 0:
		s.result.Status = StepPartial
	default:
		s.result.Status = StepSuccess
	}

	r.summary.Steps = append(r.summary.Steps, s.result)
	r.summary.Errors = append(r.summary.Errors, s.errs...)
	r.o.deps.Log.MaintenanceStep(r.jobID.String(), name, s.result.Status, s.result.Processed, s.result.Failed, s.result.DurationMs)
}

// each runs fn over items on a bounded pool. Each item gets a context that
// survives cancellation of ctx, bounded by the store timeout. It reports
// whether scheduling stopped early because ctx was cancelled.
func each[T any](ctx context.Context, r *run, items []T, fn func(context.Context, T)) bool {
	var g errgroup.Group
	g.SetLimit(r.opts.Workers)
	cancelled := false
	for _, item := range items {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		g.Go(func() error {
			ictx, stop := r.o.itemCtx(ctx)
			defer stop()
			fn(ictx, item)
			return nil
		})
	}
	_ = g.Wait()
	if cancelled {
		r.summary.Cancelled = true
	}
	return cancelled
}

func (o *Orchestrator) itemCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if o.deps.StoreTimeout <= 0 {
		return detached, func() {}
	}
	return context.WithTimeout(detached, o.deps.StoreTimeout)
}

func (o *Orchestrator) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.deps.StoreTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, o.deps.StoreTimeout)
}

// persist writes the job log and, when configured, archives the summary.
func (r *run) persist(ctx context.Context) {
	if r.o.deps.Archive != nil && r.o.deps.ArchiveBucket != "" {
		key := archiveKey(r.jobID, r.summary.StartedAt)
		actx, cancel := r.o.storeCtx(ctx)
		err := r.o.deps.Archive.PutJSON(actx, r.o.deps.ArchiveBucket, key, r.summary)
		cancel()
		if err != nil {
			r.o.deps.Log.Warn("failed to archive maintenance summary", "job_id", r.jobID.String(), "error", err)
		} else {
			r.summary.ArchiveKey = key
		}
	}

	body, err := json.Marshal(r.summary)
	if err != nil {
		r.o.deps.Log.Error("failed to encode maintenance summary", "job_id", r.jobID.String(), "error", err)
		body = []byte("{}")
	}
	completed := 0
	for _, s := range r.summary.Steps {
		if s.Status == StepSuccess || s.Status == StepPartial {
			completed++
		}
	}
	sctx, cancel := r.o.storeCtx(ctx)
	defer cancel()
	err = r.o.deps.Store.SaveJobLog(sctx, domain.JobLog{
		JobID:           r.jobID,
		StartedAt:       r.summary.StartedAt,
		FinishedAt:      r.summary.FinishedAt,
		DurationSeconds: r.summary.DurationSeconds,
		TasksCompleted:  completed,
		ErrorCount:      len(r.summary.Errors),
		Status:          r.summary.Status,
		Summary:         body,
	})
	if err != nil {
		r.o.deps.Log.DatabaseError("save job log", err)
	}
}

// archiveKey places summaries under a date prefix so listings sort by time.
// ArchivePrefix is the object key prefix of archived job summaries.
const ArchivePrefix = "maintenance/"

func archiveKey(jobID uuid.UUID, startedAt time.Time) string {
	return fmt.Sprintf("%s%s/%s.json", ArchivePrefix, startedAt.UTC().Format("2006/01/02"), jobID)
}
