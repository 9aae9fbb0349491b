// Package transition moves deals between stages under validation and WIP
// control, as a single unit of work.
package transition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/events"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/domain"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/repository"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/retry"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/validation"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/wip"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/clock"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/logger"
)

// MaxRuleDepth bounds how deep rule-triggered transitions may nest.
const MaxRuleDepth = 5

// Request asks for a deal to move to a stage.
type Request struct {
	DealID         uuid.UUID    `json:"dealId"`
	ToStage        domain.Stage `json:"toStage"`
	ActorID        uuid.UUID    `json:"actorId"`
	Reason         string       `json:"reason,omitempty"`
	Override       bool         `json:"override"`
	OverrideReason string       `json:"overrideReason,omitempty"`
}

// Result describes the outcome of a transition attempt. Business failures are
// reported here; the error return is reserved for infrastructure faults.
type Result struct {
	Success    bool                     `json:"success"`
	NoOp       bool                     `json:"noOp"`
	Failure    domain.Failure           `json:"failure,omitempty"`
	Errors     []string                 `json:"errors"`
	Warnings   []string                 `json:"warnings"`
	Validation *validation.Verdict      `json:"validation,omitempty"`
	Wip        *wip.Check               `json:"wip,omitempty"`
	Deal       domain.Deal              `json:"deal"`
	Transition *domain.TransitionRecord `json:"transition,omitempty"`
	RuleErrors []string                 `json:"ruleErrors,omitempty"`
}

// RuleHook evaluates automation rules against a deal that just changed stage.
// depth is the nesting level of the transition that produced deal.
type RuleHook interface {
	AfterTransition(ctx context.Context, deal domain.Deal, depth int) []error
}

// Deps wires the engine's collaborators.
type Deps struct {
	Store             repository.Store
	Catalog           *domain.Catalog
	Validator         *validation.Validator
	Limiter           *wip.Limiter
	Sink              domain.Sink
	Bus               events.Bus
	Clock             clock.Clock
	Log               *logger.Logger
	StoreTimeout      time.Duration
	SideEffectTimeout time.Duration
	Retry             retry.Policy
}

// Engine executes stage transitions.
type Engine struct {
	deps Deps
	hook RuleHook
}

// NewEngine returns an engine. Zero-valued optional deps get defaults.
func NewEngine(d Deps) *Engine {
	if d.Clock == nil {
		d.Clock = clock.System{}
	}
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	if d.Validator == nil {
		d.Validator = validation.New(d.Catalog, d.Store)
	}
	if d.Limiter == nil {
		d.Limiter = wip.NewLimiter(d.Catalog)
	}
	if d.Retry.Attempts == 0 {
		d.Retry = retry.Default
	}
	return &Engine{deps: d}
}

// SetRuleHook installs the automation evaluator. Call it during wiring, before
// the engine serves requests.
func (e *Engine) SetRuleHook(h RuleHook) { e.hook = h }

// Catalog returns the catalog the engine enforces.
func (e *Engine) Catalog() *domain.Catalog { return e.deps.Catalog }

// Execute performs a user-initiated transition.
func (e *Engine) Execute(ctx context.Context, req Request) (Result, error) {
	return e.execute(ctx, req, false, 0)
}

// ExecuteAutomated performs a rule-triggered transition at the given nesting
// depth. Depths above MaxRuleDepth are refused.
func (e *Engine) ExecuteAutomated(ctx context.Context, req Request, depth int) (Result, error) {
	if depth > MaxRuleDepth {
		err := fmt.Errorf("%w: deal %s to %s at depth %d (max %d)",
			domain.ErrRuleDepthExceeded, req.DealID, req.ToStage, depth, MaxRuleDepth)
		e.deps.Log.Error("automation depth exceeded",
			"deal_id", req.DealID.String(),
			"to_stage", string(req.ToStage),
			"depth", depth)
		if e.deps.Bus != nil {
			e.deps.Bus.Publish(ctx, events.AutomationDepthExceeded{
				BaseEvent: events.At(e.deps.Clock.Now()),
				DealID:    req.DealID,
				ToStage:   string(req.ToStage),
				Depth:     depth,
				MaxDepth:  MaxRuleDepth,
			})
		}
		return Result{
			Failure:    domain.FailureRuleEvaluation,
			Errors:     []string{err.Error()},
			Warnings:   []string{},
			RuleErrors: []string{err.Error()},
		}, nil
	}
	if req.ActorID == uuid.Nil {
		req.ActorID = domain.AutomationActorID
	}
	return e.execute(ctx, req, true, depth)
}

func (e *Engine) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.deps.StoreTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.deps.StoreTimeout)
}

func (e *Engine) effectCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.deps.SideEffectTimeout <= 0 {
		return context.WithoutCancel(ctx), func() {}
	}
	return context.WithTimeout(context.WithoutCancel(ctx), e.deps.SideEffectTimeout)
}

// wipExceeded aborts the unit of work when the conditional reservation fails.
type wipExceeded struct {
	check wip.Check
}

func (w *wipExceeded) Error() string {
	return fmt.Sprintf("wip limit reached (%d in stage)", w.check.CurrentCount)
}

func (w *wipExceeded) Unwrap() error { return domain.ErrWipLimitReached }

func (e *Engine) execute(ctx context.Context, req Request, automated bool, depth int) (Result, error) {
	res := Result{Errors: []string{}, Warnings: []string{}}

	var deal domain.Deal
	err := e.deps.Retry.Do(ctx, e.deps.Log, "read deal", func() error {
		sctx, cancel := e.storeCtx(ctx)
		defer cancel()
		var err error
		deal, err = e.deps.Store.GetDeal(sctx, req.DealID)
		return err
	})
	if err != nil {
		return res, err
	}
	res.Deal = deal
	from := deal.Stage

	if from == req.ToStage {
		res.Success = true
		res.NoOp = true
		return res, nil
	}

	if automated && e.deps.Catalog.IsTerminal(from) {
		return e.fail(res, req, domain.FailureInvalidTransition,
			fmt.Sprintf("Automated transitions cannot leave terminal stage %s", from)), nil
	}

	verdict := e.deps.Validator.Validate(ctx, deal, req.ToStage)
	res.Validation = &verdict
	res.Warnings = append(res.Warnings, verdict.Warnings...)
	if verdict.UnknownStage || verdict.SkipViolation {
		return e.fail(res, req, domain.FailureInvalidTransition, verdict.Errors...), nil
	}
	validationOverridden := false
	if !verdict.Allowed {
		if !req.Override {
			return e.fail(res, req, domain.FailureValidation, verdict.Errors...), nil
		}
		validationOverridden = true
		res.Warnings = append(res.Warnings, verdict.Errors...)
	}

	now := e.deps.Clock.Now()
	var (
		check   wip.Check
		updated domain.Deal
		record  domain.TransitionRecord
	)
	err = e.deps.Retry.Do(ctx, e.deps.Log, "commit transition", func() error {
		sctx, cancel := e.storeCtx(ctx)
		defer cancel()
		return e.deps.Store.RunInTx(sctx, func(tx repository.Tx) error {
			counters := tx.Counters()
			if err := e.deps.Limiter.Release(sctx, counters, from, deal.OwnerID); err != nil {
				return err
			}
			c, err := e.deps.Limiter.CheckAndReserve(sctx, counters, req.ToStage, deal.OwnerID, req.Override)
			if err != nil {
				return err
			}
			check = c
			if !c.Allowed {
				return &wipExceeded{check: c}
			}

			overridden := validationOverridden || c.Overridden
			next := e.applyMove(deal, req, c.Overridden, now)
			saved, err := tx.PutDeal(sctx, next, deal.Version)
			if err != nil {
				return err
			}

			rec := domain.TransitionRecord{
				ID:                  uuid.New(),
				DealID:              deal.ID,
				FromStage:           from,
				ToStage:             req.ToStage,
				OccurredAt:          now,
				ActorID:             req.ActorID,
				Type:                transitionType(automated, overridden),
				Reason:              req.Reason,
				DaysInPreviousStage: domain.DaysBetween(deal.StageEnteredAt, now),
			}
			if overridden {
				rec.OverrideReason = req.OverrideReason
			}
			if err := tx.AppendTransition(sctx, rec); err != nil {
				return err
			}
			updated, record = saved, rec
			return nil
		})
	})

	var exceeded *wipExceeded
	switch {
	case err == nil:
	case errors.As(err, &exceeded):
		res.Wip = &exceeded.check
		return e.fail(res, req, domain.FailureWipExceeded, wipMessage(req.ToStage, exceeded.check)), nil
	case errors.Is(err, domain.ErrVersionConflict):
		return e.fail(res, req, domain.FailureConcurrentModification,
			"Deal was modified by another operation; reload and retry"), nil
	default:
		e.deps.Log.TransitionEvent(deal.ID.String(), string(from), string(req.ToStage), "", false, string(domain.FailureStoreUnavailable))
		return res, err
	}

	res.Success = true
	res.Wip = &check
	res.Deal = updated
	res.Transition = &record
	e.deps.Log.TransitionEvent(deal.ID.String(), string(from), string(req.ToStage), string(record.Type), true, "")

	res.Deal = e.afterCommit(ctx, deal, updated, record, depth)

	if e.hook != nil {
		for _, rerr := range e.hook.AfterTransition(ctx, res.Deal, depth) {
			res.RuleErrors = append(res.RuleErrors, rerr.Error())
		}
	}
	return res, nil
}

func (e *Engine) applyMove(deal domain.Deal, req Request, wipOverridden bool, now time.Time) domain.Deal {
	next := deal.Clone()
	next.Stage = req.ToStage
	next.StageEnteredAt = now
	next.DaysInStage = 0
	next.IsStale = false
	next.StaleReason = ""
	next.WipOverride = wipOverridden
	next.WipOverrideReason = ""
	if wipOverridden {
		next.WipOverrideReason = req.OverrideReason
	}
	if e.deps.Catalog.IsTerminal(req.ToStage) {
		if next.ClosedAt == nil {
			closed := now
			next.ClosedAt = &closed
		}
	} else {
		next.ClosedAt = nil
	}
	next.UpdatedAt = now
	return next
}

func transitionType(automated, overridden bool) domain.TransitionType {
	switch {
	case automated:
		return domain.TransitionAutomated
	case overridden:
		return domain.TransitionOverride
	default:
		return domain.TransitionManual
	}
}

func wipMessage(stage domain.Stage, c wip.Check) string {
	limit := 0
	if c.Limit != nil {
		limit = *c.Limit
	}
	if c.HardEnforced {
		return fmt.Sprintf("WIP limit reached for %s (%d/%d); the limit is hard-enforced and cannot be overridden", stage, c.CurrentCount, limit)
	}
	return fmt.Sprintf("WIP limit reached for %s (%d/%d)", stage, c.CurrentCount, limit)
}

func (e *Engine) fail(res Result, req Request, f domain.Failure, messages ...string) Result {
	res.Success = false
	res.Failure = f
	res.Errors = append(res.Errors, messages...)
	e.deps.Log.TransitionEvent(req.DealID.String(), string(res.Deal.Stage), string(req.ToStage), "", false, string(f))
	return res
}
