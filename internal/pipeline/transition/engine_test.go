package transition

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/events"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/domain"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/memstore"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/repository"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/retry"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/wip"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/clock"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/logger"
)

var now = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

type notice struct {
	to       domain.Recipient
	template string
	data     map[string]any
}

type fakeSink struct {
	mu      sync.Mutex
	tasks   []domain.TaskSpec
	notices []notice
}

func (s *fakeSink) CreateTask(_ context.Context, spec domain.TaskSpec) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, spec)
	return uuid.New(), nil
}

func (s *fakeSink) Notify(_ context.Context, to domain.Recipient, template string, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, notice{to: to, template: template, data: data})
	return nil
}

func newTestEngine(store repository.Store, catalog *domain.Catalog, sink domain.Sink, bus events.Bus) *Engine {
	if catalog == nil {
		catalog = domain.DefaultCatalog()
	}
	return NewEngine(Deps{
		Store:   store,
		Catalog: catalog,
		Sink:    sink,
		Bus:     bus,
		Clock:   clock.NewFixed(now),
		Log:     logger.Nop(),
		Retry:   retry.Policy{Attempts: 3, BaseDelay: time.Millisecond},
	})
}

// sourcingDeal carries every field needed to enter sourcing and screening.
func sourcingDeal(owner uuid.UUID) domain.Deal {
	return domain.Deal{
		ID:             uuid.New(),
		Name:           "Acme",
		Stage:          domain.StageSourcing,
		StageEnteredAt: now.AddDate(0, 0, -10),
		OwnerID:        owner,
		DealValue:      5_000_000,
		HealthScore:    70,
		Version:        1,
		Attributes: map[string]string{
			"deal_source":      "referral",
			"company_name":     "Acme Corp",
			"industry":         "Manufacturing",
			"annual_revenue":   "2,000,000",
			"employee_count":   "40",
			"geographic_focus": "North America",
			"market_size":      "500000000",
		},
	}
}

func TestExecuteMovesDealAndRecordsEffects(t *testing.T) {
	store := memstore.New()
	sink := &fakeSink{}
	owner := uuid.New()
	deal := sourcingDeal(owner)
	store.AddDeal(deal)
	actor := uuid.New()

	res, err := newTestEngine(store, nil, sink, nil).Execute(context.Background(), Request{
		DealID: deal.ID, ToStage: domain.StageScreening, ActorID: actor, Reason: "financials received",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success || res.Failure != "" {
		t.Fatalf("expected success, got %+v", res)
	}

	got, _ := store.Deal(deal.ID)
	if got.Stage != domain.StageScreening || got.Version != 2 {
		t.Fatalf("expected screening v2, got %s v%d", got.Stage, got.Version)
	}
	if !got.StageEnteredAt.Equal(now) || got.DaysInStage != 0 || got.WipOverride {
		t.Fatalf("unexpected stage bookkeeping: %+v", got)
	}
	if n := store.Counter(domain.WipKey{Stage: domain.StageSourcing, OwnerID: owner}); n != 0 {
		t.Fatalf("expected sourcing slot released, got %d", n)
	}
	if n := store.Counter(domain.WipKey{Stage: domain.StageScreening, OwnerID: owner}); n != 1 {
		t.Fatalf("expected screening slot reserved, got %d", n)
	}

	recs := store.Transitions()
	if len(recs) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(recs))
	}
	rec := recs[0]
	if rec.Type != domain.TransitionManual || rec.ActorID != actor || rec.DaysInPreviousStage != 10 || rec.Reason != "financials received" {
		t.Fatalf("unexpected transition record: %+v", rec)
	}

	metrics := store.StageMetrics()
	if len(metrics) != 1 || metrics[0].Stage != domain.StageSourcing || metrics[0].Days != 10 {
		t.Fatalf("expected sourcing exit metric, got %+v", metrics)
	}

	if len(sink.tasks) != 2 {
		t.Fatalf("expected 2 screening tasks, got %d", len(sink.tasks))
	}
	if sink.tasks[0].Name != "Financial Screening" || !sink.tasks[0].DueAt.Equal(now.AddDate(0, 0, 7)) || sink.tasks[0].AssignedTo != owner {
		t.Fatalf("unexpected first task: %+v", sink.tasks[0])
	}
	if len(sink.notices) != 0 {
		t.Fatalf("screening does not notify on entry, got %d notices", len(sink.notices))
	}
}

// editingStore lets another writer save the deal right after the first
// transition commits, before the engine refreshes its health score.
type editingStore struct {
	*memstore.Store
	once sync.Once
	edit func()
}

func (s *editingStore) LastActivity(ctx context.Context, id uuid.UUID) (*time.Time, error) {
	if len(s.Store.Transitions()) == 1 {
		s.once.Do(s.edit)
	}
	return s.Store.LastActivity(ctx, id)
}

func TestHealthRefreshYieldsToNewerWrite(t *testing.T) {
	inner := memstore.New()
	deal := sourcingDeal(uuid.New())
	deal.HealthScore = 1
	inner.AddDeal(deal)
	store := &editingStore{Store: inner}
	store.edit = func() {
		err := inner.RunInTx(context.Background(), func(tx repository.Tx) error {
			cur, err := tx.GetDeal(context.Background(), deal.ID)
			if err != nil {
				return err
			}
			cur.HealthScore = 33
			_, err = tx.PutDeal(context.Background(), cur, cur.Version)
			return err
		})
		if err != nil {
			t.Errorf("concurrent edit: %v", err)
		}
	}

	res, err := newTestEngine(store, nil, &fakeSink{}, nil).Execute(context.Background(), Request{
		DealID: deal.ID, ToStage: domain.StageScreening, ActorID: uuid.New(),
	})
	if err != nil || !res.Success {
		t.Fatalf("expected success, got %v %+v", err, res)
	}

	got, _ := inner.Deal(deal.ID)
	if got.Version != 3 {
		t.Fatalf("expected the concurrent edit committed as v3, got v%d", got.Version)
	}
	if got.HealthScore != 33 {
		t.Fatalf("health refresh overwrote a newer write: %d", got.HealthScore)
	}
}

func TestExecuteRejectsSkipEvenWithOverride(t *testing.T) {
	store := memstore.New()
	deal := sourcingDeal(uuid.New())
	store.AddDeal(deal)
	engine := newTestEngine(store, nil, &fakeSink{}, nil)

	for _, override := range []bool{false, true} {
		res, err := engine.Execute(context.Background(), Request{
			DealID: deal.ID, ToStage: domain.StageDueDiligence, ActorID: uuid.New(),
			Override: override, OverrideReason: "partner request",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Success || res.Failure != domain.FailureInvalidTransition {
			t.Fatalf("override=%v: expected invalid transition, got %+v", override, res)
		}
	}

	got, _ := store.Deal(deal.ID)
	if got.Stage != domain.StageSourcing || got.Version != 1 {
		t.Fatalf("deal must be unchanged, got %s v%d", got.Stage, got.Version)
	}
	if len(store.Transitions()) != 0 {
		t.Fatal("no transition may be recorded")
	}
}

func TestExecuteUnknownStage(t *testing.T) {
	store := memstore.New()
	deal := sourcingDeal(uuid.New())
	store.AddDeal(deal)

	res, err := newTestEngine(store, nil, nil, nil).Execute(context.Background(), Request{
		DealID: deal.ID, ToStage: domain.Stage("archived"), ActorID: uuid.New(), Override: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Failure != domain.FailureInvalidTransition {
		t.Fatalf("expected invalid transition, got %+v", res)
	}
}

func TestExecuteWipLimitAndOverride(t *testing.T) {
	store := memstore.New()
	owner := uuid.New()
	deal := sourcingDeal(owner)
	store.AddDeal(deal)
	screening := domain.WipKey{Stage: domain.StageScreening, OwnerID: owner}
	store.SetCounter(screening, 25)
	engine := newTestEngine(store, nil, &fakeSink{}, nil)

	res, err := engine.Execute(context.Background(), Request{DealID: deal.ID, ToStage: domain.StageScreening, ActorID: owner})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success || res.Failure != domain.FailureWipExceeded {
		t.Fatalf("expected wip exceeded, got %+v", res)
	}
	if res.Wip == nil || res.Wip.CurrentCount != 25 {
		t.Fatalf("expected wip check with count 25, got %+v", res.Wip)
	}
	if n := store.Counter(screening); n != 25 {
		t.Fatalf("failed transition must not reserve, got %d", n)
	}
	if n := store.Counter(domain.WipKey{Stage: domain.StageSourcing, OwnerID: owner}); n != 1 {
		t.Fatalf("failed transition must not release, got %d", n)
	}
	if got, _ := store.Deal(deal.ID); got.Stage != domain.StageSourcing || got.Version != 1 {
		t.Fatalf("deal must be unchanged, got %s v%d", got.Stage, got.Version)
	}

	res, err = engine.Execute(context.Background(), Request{
		DealID: deal.ID, ToStage: domain.StageScreening, ActorID: owner,
		Override: true, OverrideReason: "board priority",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected override to succeed, got %+v", res)
	}
	got, _ := store.Deal(deal.ID)
	if !got.WipOverride || got.WipOverrideReason != "board priority" {
		t.Fatalf("expected override recorded on deal, got %+v", got)
	}
	if n := store.Counter(screening); n != 26 {
		t.Fatalf("expected 26 after override, got %d", n)
	}
	recs := store.Transitions()
	if len(recs) != 1 || recs[0].Type != domain.TransitionOverride || recs[0].OverrideReason != "board priority" {
		t.Fatalf("expected override transition record, got %+v", recs)
	}
}

func TestExecuteHardLimitCannotBeOverridden(t *testing.T) {
	store := memstore.New()
	owner := uuid.New()
	deal := domain.Deal{
		ID: uuid.New(), Name: "Beta", Stage: domain.StageTermSheet, StageEnteredAt: now.AddDate(0, 0, -3),
		OwnerID: owner, DealValue: 2_000_000, HealthScore: 80, Version: 1,
		Attributes: map[string]string{"dd_checklist": "v1", "external_advisors": "KPMG", "data_room_access": "granted"},
	}
	store.AddDeal(deal)
	store.SetCounter(domain.WipKey{Stage: domain.StageDueDiligence, OwnerID: owner}, 8)

	res, err := newTestEngine(store, nil, &fakeSink{}, nil).Execute(context.Background(), Request{
		DealID: deal.ID, ToStage: domain.StageDueDiligence, ActorID: owner, Override: true, OverrideReason: "urgent",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Failure != domain.FailureWipExceeded || res.Wip == nil || !res.Wip.HardEnforced {
		t.Fatalf("expected hard wip rejection, got %+v", res)
	}
	if !strings.Contains(strings.Join(res.Errors, " "), "hard-enforced") {
		t.Fatalf("expected hard limit message, got %v", res.Errors)
	}
}

func TestExecuteValidationFailureAndOverride(t *testing.T) {
	store := memstore.New()
	deal := sourcingDeal(uuid.New())
	delete(deal.Attributes, "geographic_focus")
	store.AddDeal(deal)
	engine := newTestEngine(store, nil, &fakeSink{}, nil)

	res, err := engine.Execute(context.Background(), Request{DealID: deal.ID, ToStage: domain.StageScreening, ActorID: uuid.New()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Failure != domain.FailureValidation || len(res.Errors) == 0 {
		t.Fatalf("expected validation failure, got %+v", res)
	}

	res, err = engine.Execute(context.Background(), Request{
		DealID: deal.ID, ToStage: domain.StageScreening, ActorID: uuid.New(), Override: true, OverrideReason: "known gap",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success || len(res.Warnings) == 0 {
		t.Fatalf("expected success with warnings, got %+v", res)
	}
	got, _ := store.Deal(deal.ID)
	if got.WipOverride {
		t.Fatal("validation override is not a wip override")
	}
	recs := store.Transitions()
	if len(recs) != 1 || recs[0].Type != domain.TransitionOverride || recs[0].OverrideReason != "known gap" {
		t.Fatalf("expected override record, got %+v", recs)
	}
}

func TestExecuteSameStageIsNoOp(t *testing.T) {
	store := memstore.New()
	deal := sourcingDeal(uuid.New())
	store.AddDeal(deal)

	res, err := newTestEngine(store, nil, nil, nil).Execute(context.Background(), Request{DealID: deal.ID, ToStage: domain.StageSourcing})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success || !res.NoOp {
		t.Fatalf("expected no-op success, got %+v", res)
	}
	if got, _ := store.Deal(deal.ID); got.Version != 1 {
		t.Fatalf("no-op must not write, got v%d", got.Version)
	}
}

func TestExecuteUnknownDeal(t *testing.T) {
	_, err := newTestEngine(memstore.New(), nil, nil, nil).Execute(context.Background(), Request{DealID: uuid.New(), ToStage: domain.StageScreening})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestExecuteTerminalStageSetsClosedAtAndNotifies(t *testing.T) {
	store := memstore.New()
	sink := &fakeSink{}
	owner := uuid.New()
	deal := domain.Deal{
		ID: uuid.New(), Name: "Gamma", Stage: domain.StageFinalNegotiation, StageEnteredAt: now.AddDate(0, 0, -5),
		OwnerID: owner, DealValue: 3_000_000, HealthScore: 75, Version: 1,
		Attributes: map[string]string{"closing_date": "2025-07-01", "funding_confirmed": "yes", "all_approvals": "yes"},
	}
	store.AddDeal(deal)
	engine := newTestEngine(store, nil, sink, nil)

	res, err := engine.Execute(context.Background(), Request{DealID: deal.ID, ToStage: domain.StageClosing, ActorID: owner})
	if err != nil || !res.Success {
		t.Fatalf("expected closing to succeed, got %+v, %v", res, err)
	}
	if len(sink.notices) != 1 || sink.notices[0].template != domain.TemplateStageEntry || sink.notices[0].to.UserID != owner {
		t.Fatalf("expected stage entry notice to owner, got %+v", sink.notices)
	}
	if sink.notices[0].data["toStage"] != string(domain.StageClosing) {
		t.Fatalf("unexpected notice data: %v", sink.notices[0].data)
	}

	res, err = engine.Execute(context.Background(), Request{DealID: deal.ID, ToStage: domain.StageClosedWon, ActorID: owner})
	if err != nil || !res.Success {
		t.Fatalf("expected closed_won to succeed, got %+v, %v", res, err)
	}
	got, _ := store.Deal(deal.ID)
	if got.ClosedAt == nil || !got.ClosedAt.Equal(now) {
		t.Fatalf("expected closedAt stamped, got %v", got.ClosedAt)
	}

	res, err = engine.ExecuteAutomated(context.Background(), Request{DealID: deal.ID, ToStage: domain.StageClosing}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Failure != domain.FailureInvalidTransition {
		t.Fatalf("automated move out of a terminal stage must fail, got %+v", res)
	}
}

func TestExecutePublishesStageChanged(t *testing.T) {
	store := memstore.New()
	bus := events.NewInMemoryBus(logger.Nop())
	var (
		mu  sync.Mutex
		got []events.DealStageChanged
	)
	bus.Subscribe(events.DealStageChanged{}.EventName(), events.HandlerFunc(func(_ context.Context, e events.Event) error {
		mu.Lock()
		got = append(got, e.(events.DealStageChanged))
		mu.Unlock()
		return nil
	}))
	deal := sourcingDeal(uuid.New())
	store.AddDeal(deal)

	if _, err := newTestEngine(store, nil, nil, bus).Execute(context.Background(), Request{DealID: deal.ID, ToStage: domain.StageScreening}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bus.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].FromStage != "sourcing" || got[0].ToStage != "screening" || got[0].TransitionType != "manual" {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestExecuteRetriesUnavailableStore(t *testing.T) {
	store := memstore.New()
	deal := sourcingDeal(uuid.New())
	store.AddDeal(deal)
	store.FailOn("RunInTx", domain.ErrStoreUnavailable, 2)

	res, err := newTestEngine(store, nil, nil, nil).Execute(context.Background(), Request{DealID: deal.ID, ToStage: domain.StageScreening})
	if err != nil || !res.Success {
		t.Fatalf("expected success after retries, got %+v, %v", res, err)
	}
}

func TestExecuteSurfacesPersistentOutage(t *testing.T) {
	store := memstore.New()
	deal := sourcingDeal(uuid.New())
	store.AddDeal(deal)
	store.FailOn("AppendTransition", domain.ErrStoreUnavailable, -1)

	_, err := newTestEngine(store, nil, nil, nil).Execute(context.Background(), Request{DealID: deal.ID, ToStage: domain.StageScreening})
	if !domain.IsStoreUnavailable(err) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
	got, _ := store.Deal(deal.ID)
	if got.Stage != domain.StageSourcing || got.Version != 1 {
		t.Fatalf("partial write leaked: %s v%d", got.Stage, got.Version)
	}
	if n := store.Counter(domain.WipKey{Stage: domain.StageScreening, OwnerID: deal.OwnerID}); n != 0 {
		t.Fatalf("reservation leaked: %d", n)
	}
}

// barrierStore holds every GetDeal caller until two have read, so both
// writers start from the same version.
type barrierStore struct {
	*memstore.Store
	reads sync.WaitGroup
}

func (b *barrierStore) GetDeal(ctx context.Context, id uuid.UUID) (domain.Deal, error) {
	d, err := b.Store.GetDeal(ctx, id)
	b.reads.Done()
	b.reads.Wait()
	return d, err
}

func TestConcurrentTransitionsExactlyOneWins(t *testing.T) {
	inner := memstore.New()
	owner := uuid.New()
	deal := sourcingDeal(owner)
	inner.AddDeal(deal)
	store := &barrierStore{Store: inner}
	store.reads.Add(2)
	engine := newTestEngine(store, nil, nil, nil)

	var wg sync.WaitGroup
	results := make([]Result, 2)
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = engine.Execute(context.Background(), Request{
				DealID: deal.ID, ToStage: domain.StageScreening, ActorID: uuid.New(),
			})
		}(i)
	}
	wg.Wait()

	wins, conflicts := 0, 0
	for i := range 2 {
		if errs[i] != nil {
			t.Fatalf("unexpected error: %v", errs[i])
		}
		switch {
		case results[i].Success:
			wins++
		case results[i].Failure == domain.FailureConcurrentModification:
			conflicts++
		}
	}
	if wins != 1 || conflicts != 1 {
		t.Fatalf("expected one win and one conflict, got %d and %d", wins, conflicts)
	}
	if n := inner.Counter(domain.WipKey{Stage: domain.StageScreening, OwnerID: owner}); n != 1 {
		t.Fatalf("expected exactly one reservation, got %d", n)
	}
	if len(inner.Transitions()) != 1 {
		t.Fatalf("expected one transition record, got %d", len(inner.Transitions()))
	}
}

func TestSkipRuleAcrossAllStagePairs(t *testing.T) {
	catalog := domain.DefaultCatalog()
	for _, from := range catalog.NonTerminal() {
		for _, def := range catalog.Stages() {
			to := def.Stage
			if from == to {
				continue
			}
			store := memstore.New()
			deal := sourcingDeal(uuid.New())
			deal.Stage = from
			store.AddDeal(deal)

			res, err := newTestEngine(store, catalog, nil, nil).Execute(context.Background(), Request{
				DealID: deal.ID, ToStage: to, Override: true, OverrideReason: "sweep",
			})
			if err != nil {
				t.Fatalf("%s->%s: unexpected error: %v", from, to, err)
			}
			tooFar := catalog.Order(to) > catalog.Order(from)+catalog.MaxSkip()
			if tooFar && res.Failure != domain.FailureInvalidTransition {
				t.Fatalf("%s->%s: expected invalid transition, got %+v", from, to, res)
			}
			if !tooFar && res.Failure == domain.FailureInvalidTransition {
				t.Fatalf("%s->%s: unexpected invalid transition: %v", from, to, res.Errors)
			}
		}
	}
}

// pingPong moves the deal back and forth between sourcing and screening from
// inside the rule hook, nesting one level deeper each time.
type pingPong struct {
	engine *Engine
	depths []int
}

func (p *pingPong) AfterTransition(ctx context.Context, deal domain.Deal, depth int) []error {
	p.depths = append(p.depths, depth)
	next := domain.StageSourcing
	if deal.Stage == domain.StageSourcing {
		next = domain.StageScreening
	}
	res, err := p.engine.ExecuteAutomated(ctx, Request{DealID: deal.ID, ToStage: next}, depth+1)
	if err != nil {
		return []error{err}
	}
	var out []error
	for _, msg := range res.RuleErrors {
		out = append(out, errors.New(msg))
	}
	return out
}

func TestRuleDepthIsBounded(t *testing.T) {
	store := memstore.New()
	bus := events.NewInMemoryBus(logger.Nop())
	var (
		mu       sync.Mutex
		exceeded []events.AutomationDepthExceeded
	)
	bus.Subscribe(events.AutomationDepthExceeded{}.EventName(), events.HandlerFunc(func(_ context.Context, e events.Event) error {
		mu.Lock()
		exceeded = append(exceeded, e.(events.AutomationDepthExceeded))
		mu.Unlock()
		return nil
	}))
	deal := sourcingDeal(uuid.New())
	store.AddDeal(deal)
	engine := newTestEngine(store, nil, nil, bus)
	hook := &pingPong{engine: engine}
	engine.SetRuleHook(hook)

	res, err := engine.Execute(context.Background(), Request{DealID: deal.ID, ToStage: domain.StageScreening, ActorID: uuid.New()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("top-level transition should succeed, got %+v", res)
	}
	if len(res.RuleErrors) != 1 || !strings.Contains(res.RuleErrors[0], "depth 6") {
		t.Fatalf("expected depth error to surface, got %v", res.RuleErrors)
	}
	if got := len(store.Transitions()); got != 1+MaxRuleDepth {
		t.Fatalf("expected %d transitions, got %d", 1+MaxRuleDepth, got)
	}
	for i, d := range hook.depths {
		if d != i {
			t.Fatalf("expected hook depths 0..%d in order, got %v", MaxRuleDepth, hook.depths)
		}
	}
	for _, rec := range store.Transitions()[1:] {
		if rec.Type != domain.TransitionAutomated || rec.ActorID != domain.AutomationActorID {
			t.Fatalf("nested transitions must be automated, got %+v", rec)
		}
	}

	bus.Wait()
	mu.Lock()
	defer mu.Unlock()
	if len(exceeded) != 1 || exceeded[0].Depth != MaxRuleDepth+1 {
		t.Fatalf("expected one depth-exceeded event, got %+v", exceeded)
	}
}

func TestCountersMatchRecomputeAfterRandomTransitions(t *testing.T) {
	limit := func(n int) *int { return &n }
	catalog, err := domain.NewCatalog([]domain.StageDefinition{
		{Stage: "lead", Order: 1, WipLimit: limit(3)},
		{Stage: "qualified", Order: 2, WipLimit: limit(2)},
		{Stage: "proposal", Order: 3, WipLimit: limit(2), HardWipLimit: true},
		{Stage: "contract", Order: 4},
		{Stage: "won", Order: 5, Terminal: true},
		{Stage: "lost", Order: 6, Terminal: true},
	}, 2)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}

	store := memstore.New()
	owners := []uuid.UUID{uuid.New(), uuid.New()}
	var ids []uuid.UUID
	for i := range 8 {
		d := domain.Deal{
			ID: uuid.New(), Name: "deal", Stage: "lead", StageEnteredAt: now.AddDate(0, 0, -i),
			OwnerID: owners[i%2], DealValue: 1_000_000, Version: 1,
		}
		store.AddDeal(d)
		ids = append(ids, d.ID)
	}
	engine := newTestEngine(store, catalog, nil, nil)
	stages := catalog.Stages()
	rng := rand.New(rand.NewPCG(7, 11))

	for range 200 {
		req := Request{
			DealID:   ids[rng.IntN(len(ids))],
			ToStage:  stages[rng.IntN(len(stages))].Stage,
			ActorID:  owners[0],
			Override: rng.IntN(3) == 0,
		}
		if _, err := engine.Execute(context.Background(), req); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	stored, err := store.WipSnapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if drift := wip.Drift(stored, wip.Tally(store.Deals())); drift != 0 {
		t.Fatalf("incremental counters drifted from recompute on %d keys", drift)
	}
	for key, count := range stored {
		def, _ := catalog.Definition(key.Stage)
		if def.HardWipLimit && count > *def.WipLimit {
			t.Fatalf("hard limit exceeded for %+v: %d", key, count)
		}
	}
}
