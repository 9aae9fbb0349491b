// Package wip enforces per-(stage, owner) work-in-progress capacity.
package wip

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/domain"
)

// Counters is the counter store the limiter reserves against. Implementations
// scoped to a transaction make reservations part of that unit of work.
type Counters interface {
	Count(ctx context.Context, key domain.WipKey) (int, error)
	// IncrementIfBelow increments only when the current count is below limit.
	IncrementIfBelow(ctx context.Context, key domain.WipKey, limit int) (bool, error)
	Increment(ctx context.Context, key domain.WipKey) error
	// Decrement never takes a counter below zero.
	Decrement(ctx context.Context, key domain.WipKey) error
}

// Check is the outcome of a capacity check.
type Check struct {
	Allowed      bool    `json:"allowed"`
	CurrentCount int     `json:"currentCount"`
	Limit        *int    `json:"limit"`
	Utilization  float64 `json:"utilization"`
	Overridden   bool    `json:"overridden"`
	HardEnforced bool    `json:"hardEnforced"`
}

// Limiter applies catalog limits to a Counters store.
type Limiter struct {
	catalog *domain.Catalog
}

// NewLimiter returns a limiter bound to catalog.
func NewLimiter(catalog *domain.Catalog) *Limiter {
	return &Limiter{catalog: catalog}
}

func (l *Limiter) definition(stage domain.Stage) (domain.StageDefinition, error) {
	def, ok := l.catalog.Definition(stage)
	if !ok {
		return domain.StageDefinition{}, fmt.Errorf("unknown stage %q: %w", stage, domain.ErrInvalidTransition)
	}
	return def, nil
}

// Check reports whether one more deal fits without reserving it.
func (l *Limiter) Check(ctx context.Context, counters Counters, stage domain.Stage, owner uuid.UUID, override bool) (Check, error) {
	def, err := l.definition(stage)
	if err != nil {
		return Check{}, err
	}
	count, err := counters.Count(ctx, domain.WipKey{Stage: stage, OwnerID: owner})
	if err != nil {
		return Check{}, fmt.Errorf("count wip: %w", err)
	}

	res := Check{
		CurrentCount: count,
		Limit:        def.WipLimit,
		Utilization:  domain.Utilization(count, def.WipLimit, 2),
		HardEnforced: def.HardWipLimit,
	}
	switch {
	case def.Unbounded() || count < *def.WipLimit:
		res.Allowed = true
	case override && !def.HardWipLimit:
		res.Allowed = true
		res.Overridden = true
	}
	return res, nil
}

// CheckAndReserve reserves one slot for owner in stage. An override only
// applies to stages without a hard limit.
func (l *Limiter) CheckAndReserve(ctx context.Context, counters Counters, stage domain.Stage, owner uuid.UUID, override bool) (Check, error) {
	def, err := l.definition(stage)
	if err != nil {
		return Check{}, err
	}
	key := domain.WipKey{Stage: stage, OwnerID: owner}
	res := Check{Limit: def.WipLimit, HardEnforced: def.HardWipLimit}

	if def.Unbounded() {
		if err := counters.Increment(ctx, key); err != nil {
			return Check{}, fmt.Errorf("reserve wip: %w", err)
		}
		res.Allowed = true
	} else {
		ok, err := counters.IncrementIfBelow(ctx, key, *def.WipLimit)
		if err != nil {
			return Check{}, fmt.Errorf("reserve wip: %w", err)
		}
		switch {
		case ok:
			res.Allowed = true
		case override && !def.HardWipLimit:
			if err := counters.Increment(ctx, key); err != nil {
				return Check{}, fmt.Errorf("reserve wip: %w", err)
			}
			res.Allowed = true
			res.Overridden = true
		}
	}

	count, err := counters.Count(ctx, key)
	if err != nil {
		return Check{}, fmt.Errorf("count wip: %w", err)
	}
	res.CurrentCount = count
	res.Utilization = domain.Utilization(count, def.WipLimit, 2)
	return res, nil
}

// Reserve takes a slot unconditionally.
func (l *Limiter) Reserve(ctx context.Context, counters Counters, stage domain.Stage, owner uuid.UUID) error {
	if _, err := l.definition(stage); err != nil {
		return err
	}
	if err := counters.Increment(ctx, domain.WipKey{Stage: stage, OwnerID: owner}); err != nil {
		return fmt.Errorf("reserve wip: %w", err)
	}
	return nil
}

// Release frees a slot. Counts never drop below zero.
func (l *Limiter) Release(ctx context.Context, counters Counters, stage domain.Stage, owner uuid.UUID) error {
	if err := counters.Decrement(ctx, domain.WipKey{Stage: stage, OwnerID: owner}); err != nil {
		return fmt.Errorf("release wip: %w", err)
	}
	return nil
}

// Tally groups deals by (stage, owner). It is the full recompute the stored
// counters must always agree with.
func Tally(deals []domain.Deal) map[domain.WipKey]int {
	out := make(map[domain.WipKey]int)
	for _, d := range deals {
		out[domain.WipKey{Stage: d.Stage, OwnerID: d.OwnerID}]++
	}
	return out
}

// Describe turns raw counts into counters ordered by stage order, then owner.
// Stages missing from the catalog are skipped.
func Describe(catalog *domain.Catalog, counts map[domain.WipKey]int) []domain.WipCounter {
	out := make([]domain.WipCounter, 0, len(counts))
	for key, count := range counts {
		def, ok := catalog.Definition(key.Stage)
		if !ok {
			continue
		}
		out = append(out, domain.WipCounter{
			Stage:              key.Stage,
			OwnerID:            key.OwnerID,
			Count:              count,
			Limit:              def.WipLimit,
			UtilizationPercent: domain.Utilization(count, def.WipLimit, 2),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		oi, oj := catalog.Order(out[i].Stage), catalog.Order(out[j].Stage)
		if oi != oj {
			return oi < oj
		}
		return out[i].OwnerID.String() < out[j].OwnerID.String()
	})
	return out
}

// Drift counts keys whose stored value differs from the recomputed one.
// Zero-valued entries are treated as absent.
func Drift(stored, recomputed map[domain.WipKey]int) int {
	drift := 0
	for key, want := range recomputed {
		if stored[key] != want {
			drift++
		}
	}
	for key, have := range stored {
		if _, ok := recomputed[key]; !ok && have != 0 {
			drift++
		}
	}
	return drift
}
