// Package statistics aggregates pipeline and lead-conversion figures for
// dashboards.
package statistics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/domain"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/repository"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/wip"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/clock"
)

// ConversionWindow is how far back GetConversionStatistics looks.
const ConversionWindow = 30 * 24 * time.Hour

// Store is the subset of the record store statistics read from.
type Store interface {
	StreamDeals(ctx context.Context, filter repository.DealFilter, fn func(domain.Deal) error) error
	ListScoringHistorySince(ctx context.Context, since time.Time) ([]domain.ScoringHistory, error)
	WipSnapshot(ctx context.Context) (map[domain.WipKey]int, error)
}

// StageStatistics is the aggregate for one stage.
type StageStatistics struct {
	Stage          domain.Stage `json:"stage"`
	Count          int          `json:"count"`
	TotalValue     float64      `json:"totalValue"`
	AvgValue       float64      `json:"avgValue"`
	AvgDaysInStage float64      `json:"avgDaysInStage"`
	StaleCount     int          `json:"staleCount"`
	WipLimit       *int         `json:"wipLimit,omitempty"`
	WipUtilization float64      `json:"wipUtilization"`
}

// RecommendationStatistics is the score spread for one recommendation.
type RecommendationStatistics struct {
	Recommendation domain.Recommendation `json:"recommendation"`
	Count          int                   `json:"count"`
	AvgScore       float64               `json:"avgScore"`
	MinScore       float64               `json:"minScore"`
	MaxScore       float64               `json:"maxScore"`
}

// Service computes statistics on demand.
type Service struct {
	store   Store
	catalog *domain.Catalog
	clock   clock.Clock
}

// New returns a statistics service.
func New(store Store, catalog *domain.Catalog, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{store: store, catalog: catalog, clock: clk}
}

type stageAgg struct {
	count, stale int
	value        float64
	days         int
}

// GetPipelineStatistics aggregates the open pipeline per stage, optionally
// for one owner. Empty stages are omitted; the rest follow catalog order.
func (s *Service) GetPipelineStatistics(ctx context.Context, ownerID *uuid.UUID) ([]StageStatistics, error) {
	now := s.clock.Now()
	aggs := map[domain.Stage]*stageAgg{}
	filter := repository.DealFilter{Stages: s.catalog.NonTerminal(), OwnerID: ownerID}
	err := s.store.StreamDeals(ctx, filter, func(d domain.Deal) error {
		a, ok := aggs[d.Stage]
		if !ok {
			a = &stageAgg{}
			aggs[d.Stage] = a
		}
		a.count++
		a.value += d.DealValue
		a.days += domain.DaysBetween(d.StageEnteredAt, now)
		if d.IsStale {
			a.stale++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("stream deals: %w", err)
	}

	out := make([]StageStatistics, 0, len(aggs))
	for _, stage := range s.catalog.NonTerminal() {
		a, ok := aggs[stage]
		if !ok {
			continue
		}
		def, _ := s.catalog.Definition(stage)
		out = append(out, StageStatistics{
			Stage:          stage,
			Count:          a.count,
			TotalValue:     a.value,
			AvgValue:       domain.Round(a.value/float64(a.count), 2),
			AvgDaysInStage: domain.Round(float64(a.days)/float64(a.count), 1),
			StaleCount:     a.stale,
			WipLimit:       def.WipLimit,
			WipUtilization: domain.Utilization(a.count, def.WipLimit, 1),
		})
	}
	return out, nil
}

// GetConversionStatistics groups the last 30 days of lead evaluations by
// recommendation.
func (s *Service) GetConversionStatistics(ctx context.Context) ([]RecommendationStatistics, error) {
	history, err := s.store.ListScoringHistorySince(ctx, s.clock.Now().Add(-ConversionWindow))
	if err != nil {
		return nil, fmt.Errorf("list scoring history: %w", err)
	}

	type agg struct {
		count         int
		sum, min, max float64
	}
	groups := map[domain.Recommendation]*agg{}
	for _, h := range history {
		g, ok := groups[h.Recommendation]
		if !ok {
			g = &agg{min: math.Inf(1), max: math.Inf(-1)}
			groups[h.Recommendation] = g
		}
		g.count++
		g.sum += h.Score
		g.min = math.Min(g.min, h.Score)
		g.max = math.Max(g.max, h.Score)
	}

	out := make([]RecommendationStatistics, 0, len(groups))
	for rec, g := range groups {
		out = append(out, RecommendationStatistics{
			Recommendation: rec,
			Count:          g.count,
			AvgScore:       domain.Round(g.sum/float64(g.count), 2),
			MinScore:       g.min,
			MaxScore:       g.max,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Recommendation < out[j].Recommendation
	})
	return out, nil
}

// WipUsage returns the stored counters with their limits, optionally for one
// owner.
func (s *Service) WipUsage(ctx context.Context, ownerID *uuid.UUID) ([]domain.WipCounter, error) {
	counts, err := s.store.WipSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("wip snapshot: %w", err)
	}
	if ownerID != nil {
		for key := range counts {
			if key.OwnerID != *ownerID {
				delete(counts, key)
			}
		}
	}
	return wip.Describe(s.catalog, counts), nil
}
