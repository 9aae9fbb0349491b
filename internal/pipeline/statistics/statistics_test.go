package statistics

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/domain"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/memstore"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/clock"
)

var now = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

func deal(owner uuid.UUID, stage domain.Stage, value float64, daysIn int, stale bool) domain.Deal {
	return domain.Deal{
		ID:             uuid.New(),
		Name:           "deal",
		Stage:          stage,
		StageEnteredAt: now.AddDate(0, 0, -daysIn),
		OwnerID:        owner,
		DealValue:      value,
		IsStale:        stale,
		Version:        1,
	}
}

func TestGetPipelineStatistics(t *testing.T) {
	store := memstore.New()
	alice, bob := uuid.New(), uuid.New()
	store.AddDeal(deal(alice, domain.StageScreening, 1_000_000, 10, false))
	store.AddDeal(deal(alice, domain.StageScreening, 2_000_000, 20, true))
	store.AddDeal(deal(bob, domain.StageScreening, 3_000_000, 30, true))
	store.AddDeal(deal(bob, domain.StageSourcing, 500_000, 2, false))
	store.AddDeal(deal(bob, domain.StageClosedWon, 9_000_000, 1, false))

	svc := New(store, domain.DefaultCatalog(), clock.NewFixed(now))

	stats, err := svc.GetPipelineStatistics(context.Background(), nil)
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected two non-empty open stages, got %+v", stats)
	}
	if stats[0].Stage != domain.StageSourcing || stats[1].Stage != domain.StageScreening {
		t.Fatalf("expected catalog order, got %s, %s", stats[0].Stage, stats[1].Stage)
	}
	sc := stats[1]
	if sc.Count != 3 || sc.TotalValue != 6_000_000 || sc.AvgValue != 2_000_000 {
		t.Fatalf("unexpected value aggregates %+v", sc)
	}
	if sc.AvgDaysInStage != 20 || sc.StaleCount != 2 {
		t.Fatalf("unexpected age aggregates %+v", sc)
	}
	if sc.WipLimit == nil || *sc.WipLimit != 25 || sc.WipUtilization != 12 {
		t.Fatalf("unexpected wip figures %+v", sc)
	}

	mine, err := svc.GetPipelineStatistics(context.Background(), &alice)
	if err != nil {
		t.Fatalf("owner statistics: %v", err)
	}
	if len(mine) != 1 || mine[0].Count != 2 || mine[0].AvgDaysInStage != 15 {
		t.Fatalf("unexpected owner statistics %+v", mine)
	}
}

func TestWipUtilizationRoundsToOneDecimal(t *testing.T) {
	store := memstore.New()
	owner := uuid.New()
	for range 2 {
		store.AddDeal(deal(owner, domain.StageAnalysisOutreach, 0, 1, false))
	}
	svc := New(store, domain.DefaultCatalog(), clock.NewFixed(now))
	stats, err := svc.GetPipelineStatistics(context.Background(), nil)
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if got := stats[0].WipUtilization; got != 13.3 {
		t.Fatalf("expected 13.3%% of 15, got %v", got)
	}
}

func TestGetConversionStatistics(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	add := func(score float64, rec domain.Recommendation, age time.Duration) {
		lead := domain.Lead{ID: uuid.New(), CompanyName: "Co", Status: domain.LeadNew}
		store.AddLead(lead)
		at := now.Add(-age)
		h := domain.ScoringHistory{ID: uuid.New(), LeadID: lead.ID, Score: score, Recommendation: rec, CreatedAt: at}
		if err := store.SaveEvaluation(ctx, lead.ID, score, rec, at, h); err != nil {
			t.Fatalf("save evaluation: %v", err)
		}
	}
	add(85, domain.RecommendAutoConversion, time.Hour)
	add(95, domain.RecommendAutoConversion, 2*time.Hour)
	add(40, domain.RecommendDisqualification, 24*time.Hour)
	add(90, domain.RecommendAutoConversion, 40*24*time.Hour)

	svc := New(store, domain.DefaultCatalog(), clock.NewFixed(now))
	stats, err := svc.GetConversionStatistics(ctx)
	if err != nil {
		t.Fatalf("conversion statistics: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected two recommendations, got %+v", stats)
	}
	auto := stats[0]
	if auto.Recommendation != domain.RecommendAutoConversion || auto.Count != 2 {
		t.Fatalf("unexpected first group %+v", auto)
	}
	if auto.AvgScore != 90 || auto.MinScore != 85 || auto.MaxScore != 95 {
		t.Fatalf("unexpected score spread %+v", auto)
	}
}

func TestWipUsageFiltersByOwner(t *testing.T) {
	store := memstore.New()
	alice, bob := uuid.New(), uuid.New()
	store.AddDeal(deal(alice, domain.StageScreening, 0, 1, false))
	store.AddDeal(deal(bob, domain.StageScreening, 0, 1, false))
	store.AddDeal(deal(bob, domain.StageTermSheet, 0, 1, false))

	svc := New(store, domain.DefaultCatalog(), clock.NewFixed(now))
	all, err := svc.WipUsage(context.Background(), nil)
	if err != nil {
		t.Fatalf("wip usage: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected three counters, got %d", len(all))
	}
	mine, err := svc.WipUsage(context.Background(), &bob)
	if err != nil {
		t.Fatalf("wip usage: %v", err)
	}
	if len(mine) != 2 || mine[1].Stage != domain.StageTermSheet || mine[1].UtilizationPercent != 10 {
		t.Fatalf("unexpected owner counters %+v", mine)
	}
}
