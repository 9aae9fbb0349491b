package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/domain"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/repository"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/transition"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/clock"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/logger"
)

// Escalation task shape.
const (
	EscalationTaskPrefix = "Escalation: Stale Deal - "
	escalationDueDays    = 2
)

// Store is the subset of the record store rules need.
type Store interface {
	repository.DealReader
	repository.RuleStore
	repository.Directory
	domain.ActivitySource
}

// Deps wires the evaluator's collaborators.
type Deps struct {
	Store             Store
	Engine            *transition.Engine
	Catalog           *domain.Catalog
	Sink              domain.Sink
	Clock             clock.Clock
	Log               *logger.Logger
	StoreTimeout      time.Duration
	SideEffectTimeout time.Duration
	Workers           int
}

// Evaluator applies automation rules to deals.
type Evaluator struct {
	deps Deps
}

// NewEvaluator returns an evaluator. It does not register itself with the
// engine; call Engine.SetRuleHook for that.
func NewEvaluator(d Deps) *Evaluator {
	if d.Clock == nil {
		d.Clock = clock.System{}
	}
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	if d.Workers < 1 {
		d.Workers = 1
	}
	return &Evaluator{deps: d}
}

// ItemError is a failure applying a rule to one deal.
type ItemError struct {
	RuleID  uuid.UUID `json:"ruleId"`
	DealID  uuid.UUID `json:"dealId"`
	Message string    `json:"message"`
}

func (e ItemError) Error() string {
	return fmt.Sprintf("rule %s on deal %s: %s", e.RuleID, e.DealID, e.Message)
}

// Report summarises one rule run over its population.
type Report struct {
	RuleID    uuid.UUID   `json:"ruleId"`
	RuleName  string      `json:"ruleName"`
	Evaluated int         `json:"evaluated"`
	Matched   int         `json:"matched"`
	Acted     int         `json:"acted"`
	Skipped   int         `json:"skipped"`
	Errors    []ItemError `json:"errors"`
	Cancelled bool        `json:"cancelled"`
}

// outcome is the result of applying one rule to one deal.
type outcome struct {
	skipped bool
	matched bool
	acted   bool
	moved   bool
	nested  []error
}

func (e *Evaluator) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.deps.StoreTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.deps.StoreTimeout)
}

func (e *Evaluator) effectCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.deps.SideEffectTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.deps.SideEffectTimeout)
}

// LoadRules reads the active rules, ordered by priority, and compiles them.
func (e *Evaluator) LoadRules(ctx context.Context) ([]Rule, error) {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	stored, err := e.deps.Store.ListActiveRules(sctx)
	if err != nil {
		return nil, fmt.Errorf("list active rules: %w", err)
	}
	rules := make([]Rule, 0, len(stored))
	for _, r := range stored {
		rule := CompileRule(r)
		if rule.HasUnknown() {
			e.deps.Log.Warn("automation rule has unrecognised conditions",
				"rule", r.Name, "conditions", strings.Join(r.Conditions, "; "))
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// Applies reports whether rule targets deals in stage.
func (e *Evaluator) Applies(rule Rule, stage domain.Stage) bool {
	if rule.Scoped() {
		return rule.Stage == stage
	}
	return e.deps.Catalog.IsKnown(stage) && !e.deps.Catalog.IsTerminal(stage)
}

// evaluation memoizes the activity lookup for one deal.
type evaluation struct {
	e        *Evaluator
	deal     domain.Deal
	now      time.Time
	loaded   bool
	activity *time.Time
}

func (v *evaluation) lastActivity(ctx context.Context) (*time.Time, error) {
	if v.loaded {
		return v.activity, nil
	}
	sctx, cancel := v.e.storeCtx(ctx)
	defer cancel()
	last, err := v.e.deps.Store.LastActivity(sctx, v.deal.ID)
	if err != nil {
		return nil, fmt.Errorf("last activity: %w", err)
	}
	v.loaded, v.activity = true, last
	return last, nil
}

func (v *evaluation) number(field string) (float64, bool) {
	switch field {
	case "days_in_stage":
		return float64(domain.DaysBetween(v.deal.StageEnteredAt, v.now)), true
	case "health_score":
		return float64(v.deal.HealthScore), true
	}
	return v.deal.Number(field)
}

func (v *evaluation) holds(ctx context.Context, p Predicate) (bool, error) {
	days := domain.DaysBetween(v.deal.StageEnteredAt, v.now)
	switch p := p.(type) {
	case FieldGte:
		n, ok := v.number(p.Field)
		return ok && n >= p.Value, nil
	case FieldLte:
		n, ok := v.number(p.Field)
		return ok && n <= p.Value, nil
	case DaysInStageGt:
		return days > p.Days, nil
	case DaysInStageBeyondCritical:
		def, ok := v.e.deps.Catalog.Definition(v.deal.Stage)
		return ok && def.CriticalDays != nil && days > *def.CriticalDays, nil
	case NoActivityDays:
		last, err := v.lastActivity(ctx)
		if err != nil {
			return false, err
		}
		return last == nil || domain.DaysBetween(*last, v.now) > p.Days, nil
	case AllRequiredFieldsComplete:
		def, ok := v.e.deps.Catalog.Definition(v.deal.Stage)
		if !ok {
			return false, nil
		}
		for _, f := range def.RequiredFields {
			if v.deal.Field(f) == "" {
				return false, nil
			}
		}
		return true, nil
	case FieldsPresent:
		for _, f := range p.Fields {
			if v.deal.Field(f) == "" {
				return false, nil
			}
		}
		return true, nil
	case FieldNotIn:
		val := strings.ToLower(v.deal.Field(p.Field))
		if val == "" {
			return false, nil
		}
		for _, x := range p.Values {
			if val == strings.ToLower(x) {
				return false, nil
			}
		}
		return true, nil
	default:
		return false, nil
	}
}

// Evaluate reports whether every condition of rule holds for deal. A rule
// with no conditions never matches.
func (e *Evaluator) Evaluate(ctx context.Context, rule Rule, deal domain.Deal) (bool, error) {
	if len(rule.Predicates) == 0 {
		return false, nil
	}
	v := &evaluation{e: e, deal: deal, now: e.deps.Clock.Now()}
	for _, p := range rule.Predicates {
		ok, err := v.holds(ctx, p)
		if err != nil {
			return false, fmt.Errorf("evaluate %s: %w", p, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Act performs the rule's action on deal. depth is the nesting level of the
// transition that produced deal; moves run one level deeper. Errors raised by
// rules nested under a move are returned separately from the action's own.
func (e *Evaluator) Act(ctx context.Context, rule Rule, deal domain.Deal, depth int) (nested []error, err error) {
	switch rule.Action {
	case domain.ActionMoveToStage:
		return e.move(ctx, rule, deal, depth)
	case domain.ActionEscalateToManager:
		return nil, e.Escalate(ctx, deal, rule.EscalationLevel)
	case domain.ActionSendNotification:
		return nil, e.notify(ctx, rule, deal)
	default:
		return nil, fmt.Errorf("unsupported action %q", rule.Action)
	}
}

func (e *Evaluator) move(ctx context.Context, rule Rule, deal domain.Deal, depth int) ([]error, error) {
	if e.deps.Engine == nil {
		return nil, errors.New("no transition engine configured")
	}
	if rule.TargetStage == "" {
		return nil, errors.New("move_to_stage rule has no target stage")
	}
	res, err := e.deps.Engine.ExecuteAutomated(ctx, transition.Request{
		DealID:  deal.ID,
		ToStage: rule.TargetStage,
		ActorID: domain.AutomationActorID,
		Reason:  "Automation rule: " + rule.Name,
	}, depth+1)
	if err != nil {
		return nil, err
	}
	if res.Failure == domain.FailureRuleEvaluation {
		// The engine refused the move; nothing was committed.
		return nil, fmt.Errorf("%w: move to %s at depth %d (max %d)",
			domain.ErrRuleDepthExceeded, rule.TargetStage, depth+1, transition.MaxRuleDepth)
	}
	var nested []error
	for _, msg := range res.RuleErrors {
		nested = append(nested, errors.New(msg))
	}
	if !res.Success {
		return nested, fmt.Errorf("%s: %s", res.Failure, strings.Join(res.Errors, "; "))
	}
	return nested, nil
}

// Escalate creates the stale-deal escalation task for the owner's manager, or
// for the owner when no manager is on record.
func (e *Evaluator) Escalate(ctx context.Context, deal domain.Deal, level string) error {
	if e.deps.Sink == nil {
		return errors.New("no task sink configured")
	}
	assignee := deal.OwnerID
	sctx, cancel := e.storeCtx(ctx)
	manager, ok, err := e.deps.Store.ManagerOf(sctx, deal.OwnerID)
	cancel()
	if err != nil {
		return fmt.Errorf("resolve manager: %w", err)
	}
	if ok {
		assignee = manager
	}
	if level == "" {
		level = "high"
	}

	now := e.deps.Clock.Now()
	desc := fmt.Sprintf("Deal %q has been in %s for %d days without progress. Escalation level: %s.",
		deal.Name, deal.Stage, domain.DaysBetween(deal.StageEnteredAt, now), level)

	ectx, cancel := e.effectCtx(ctx)
	defer cancel()
	_, err = e.deps.Sink.CreateTask(ectx, domain.TaskSpec{
		ParentType:  domain.ParentDeal,
		ParentID:    deal.ID,
		AssignedTo:  assignee,
		Name:        EscalationTaskPrefix + deal.Name,
		Description: desc,
		Priority:    domain.PriorityHigh,
		DueAt:       now.AddDate(0, 0, escalationDueDays),
	})
	if err != nil {
		return fmt.Errorf("create escalation task: %w", err)
	}
	return nil
}

func (e *Evaluator) notify(ctx context.Context, rule Rule, deal domain.Deal) error {
	if e.deps.Sink == nil {
		return errors.New("no notification sink configured")
	}
	ectx, cancel := e.effectCtx(ctx)
	defer cancel()
	return e.deps.Sink.Notify(ectx, domain.Recipient{UserID: deal.OwnerID}, domain.TemplateRuleTrigger, map[string]any{
		"dealId":               deal.ID.String(),
		"dealName":             deal.Name,
		"stage":                string(deal.Stage),
		"ruleName":             rule.Name,
		"notificationTemplate": rule.NotificationTemplate,
	})
}

// apply runs one rule against one deal: dedup, evaluate, act, record.
func (e *Evaluator) apply(ctx context.Context, rule Rule, deal domain.Deal, depth int) (outcome, error) {
	var out outcome

	sctx, cancel := e.storeCtx(ctx)
	done, err := e.deps.Store.HasAutomationLog(sctx, rule.ID, deal.ID, deal.StageEnteredAt)
	cancel()
	if err != nil {
		return out, fmt.Errorf("check automation log: %w", err)
	}
	if done {
		out.skipped = true
		return out, nil
	}

	ok, err := e.Evaluate(ctx, rule, deal)
	if err != nil {
		return out, err
	}
	if !ok {
		return out, nil
	}
	out.matched = true

	nested, actErr := e.Act(ctx, rule, deal, depth)
	out.nested = nested
	now := e.deps.Clock.Now()

	entry := domain.AutomationLogEntry{
		ID:             uuid.New(),
		RuleID:         rule.ID,
		DealID:         deal.ID,
		Status:         domain.AutomationSuccess,
		Message:        fmt.Sprintf("Rule %s applied: %s", rule.Name, rule.Action),
		StageEnteredAt: deal.StageEnteredAt,
		CreatedAt:      now,
	}
	if actErr != nil {
		entry.Status = domain.AutomationFailed
		entry.Message = actErr.Error()
	}

	sctx, cancel = e.storeCtx(ctx)
	if err := e.deps.Store.AppendAutomationLog(sctx, entry); err != nil {
		e.deps.Log.Warn("failed to write automation log", "rule", rule.Name, "deal_id", deal.ID.String(), "error", err)
	}
	if err := e.deps.Store.RecordRuleExecution(sctx, rule.ID, now); err != nil {
		e.deps.Log.Warn("failed to record rule execution", "rule", rule.Name, "error", err)
	}
	cancel()

	if actErr != nil {
		return out, actErr
	}
	out.acted = true
	out.moved = rule.Action == domain.ActionMoveToStage
	return out, nil
}

// AfterTransition evaluates every active rule that applies to the deal's new
// stage. Evaluation stops after a rule moves the deal, since the nested
// transition evaluates the new stage itself.
func (e *Evaluator) AfterTransition(ctx context.Context, deal domain.Deal, depth int) []error {
	rules, err := e.LoadRules(ctx)
	if err != nil {
		return []error{err}
	}

	var errs []error
	for _, rule := range rules {
		if !e.Applies(rule, deal.Stage) {
			continue
		}
		out, err := e.apply(ctx, rule, deal, depth)
		errs = append(errs, out.nested...)
		if err != nil {
			e.deps.Log.Error("automation rule failed", "rule", rule.Name, "deal_id", deal.ID.String(), "depth", depth, "error", err)
			errs = append(errs, ItemError{RuleID: rule.ID, DealID: deal.ID, Message: err.Error()})
			continue
		}
		if out.moved {
			break
		}
	}
	return errs
}

var _ transition.RuleHook = (*Evaluator)(nil)

// population lists the deals a rule applies to.
func (e *Evaluator) population(ctx context.Context, rule Rule) ([]domain.Deal, error) {
	filter := repository.DealFilter{Stages: e.deps.Catalog.NonTerminal()}
	if rule.Scoped() {
		filter.Stages = []domain.Stage{rule.Stage}
	}
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	return e.deps.Store.ListDeals(sctx, filter)
}

// RunRule applies rule to every deal in its population with a bounded worker
// pool. Per-deal failures are collected, never fatal. Cancelling ctx stops
// scheduling new deals; deals already started finish on a detached context.
func (e *Evaluator) RunRule(ctx context.Context, rule Rule) (Report, error) {
	report := Report{RuleID: rule.ID, RuleName: rule.Name, Errors: []ItemError{}}

	deals, err := e.population(ctx, rule)
	if err != nil {
		return report, fmt.Errorf("rule %s population: %w", rule.Name, err)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(e.deps.Workers)
	for _, deal := range deals {
		if ctx.Err() != nil {
			report.Cancelled = true
			break
		}
		g.Go(func() error {
			out, err := e.apply(context.WithoutCancel(ctx), rule, deal, 0)
			mu.Lock()
			defer mu.Unlock()
			report.Evaluated++
			if out.skipped {
				report.Skipped++
			}
			if out.matched {
				report.Matched++
			}
			if out.acted {
				report.Acted++
			}
			for _, n := range out.nested {
				report.Errors = append(report.Errors, ItemError{RuleID: rule.ID, DealID: deal.ID, Message: n.Error()})
			}
			if err != nil {
				e.deps.Log.Warn("automation rule failed for deal", "rule", rule.Name, "deal_id", deal.ID.String(), "error", err)
				report.Errors = append(report.Errors, ItemError{RuleID: rule.ID, DealID: deal.ID, Message: err.Error()})
			}
			return nil
		})
	}
	_ = g.Wait()
	return report, nil
}

// RunAll loads the active rules and runs each in priority order.
func (e *Evaluator) RunAll(ctx context.Context) ([]Report, error) {
	rules, err := e.LoadRules(ctx)
	if err != nil {
		return nil, err
	}
	reports := make([]Report, 0, len(rules))
	for _, rule := range rules {
		if ctx.Err() != nil {
			break
		}
		r, err := e.RunRule(ctx, rule)
		if err != nil {
			e.deps.Log.Error("automation rule run failed", "rule", rule.Name, "error", err)
			r.Errors = append(r.Errors, ItemError{RuleID: rule.ID, Message: err.Error()})
		}
		reports = append(reports, r)
	}
	return reports, nil
}
