package wip

import (
	"context"
	"sync"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/domain"
)

// Arena is a standalone in-process counter store guarded by one mutex.
type Arena struct {
	mu     sync.Mutex
	counts map[domain.WipKey]int
}

// NewArena returns an empty arena.
func NewArena() *Arena {
	return &Arena{counts: make(map[domain.WipKey]int)}
}

func (a *Arena) Count(_ context.Context, key domain.WipKey) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts[key], nil
}

func (a *Arena) IncrementIfBelow(_ context.Context, key domain.WipKey, limit int) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.counts[key] >= limit {
		return false, nil
	}
	a.counts[key]++
	return true, nil
}

func (a *Arena) Increment(_ context.Context, key domain.WipKey) error {
	a.mu.Lock()
	a.counts[key]++
	a.mu.Unlock()
	return nil
}

func (a *Arena) Decrement(_ context.Context, key domain.WipKey) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.counts[key] > 0 {
		a.counts[key]--
	}
	return nil
}

// Snapshot copies the current counts.
func (a *Arena) Snapshot() map[domain.WipKey]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[domain.WipKey]int, len(a.counts))
	for k, v := range a.counts {
		out[k] = v
	}
	return out
}

// ReplaceAll swaps in recomputed counts.
func (a *Arena) ReplaceAll(counts map[domain.WipKey]int) {
	next := make(map[domain.WipKey]int, len(counts))
	for k, v := range counts {
		next[k] = v
	}
	a.mu.Lock()
	a.counts = next
	a.mu.Unlock()
}

var _ Counters = (*Arena)(nil)
