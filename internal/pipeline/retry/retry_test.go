package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/domain"
)

func TestDoRetriesTransientErrors(t *testing.T) {
	p := Policy{Attempts: 3, BaseDelay: time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), nil, "op", func() error {
		calls++
		if calls < 3 {
			return domain.ErrStoreUnavailable
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoSurfacesAfterAttempts(t *testing.T) {
	p := Policy{Attempts: 2, BaseDelay: time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), nil, "op", func() error {
		calls++
		return domain.ErrStoreUnavailable
	})
	if !domain.IsStoreUnavailable(err) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestDoDoesNotRetryOtherErrors(t *testing.T) {
	p := Policy{Attempts: 5, BaseDelay: time.Millisecond}
	calls := 0
	boom := errors.New("boom")
	err := p.Do(context.Background(), nil, "op", func() error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("expected single failing call, got %d calls and %v", calls, err)
	}
}

func TestDoStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Default.Do(ctx, nil, "op", func() error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
