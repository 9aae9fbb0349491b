// Package retry re-runs store operations that failed with a transient error.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/domain"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/logger"
)

// Policy bounds the number of attempts and the backoff base.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
}

// Default is three attempts with quadratic backoff from 50ms.
var Default = Policy{Attempts: 3, BaseDelay: 50 * time.Millisecond}

// Do runs fn until it succeeds, fails with a non-transient error, or the
// attempts run out. Only domain.ErrStoreUnavailable is retried. The delay
// before attempt n+1 is n²×BaseDelay.
func (p Policy) Do(ctx context.Context, log *logger.Logger, name string, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn()
		if err == nil {
			return nil
		}
		if !domain.IsStoreUnavailable(err) {
			return err
		}
		lastErr = err
		if log != nil {
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * p.BaseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return fmt.Errorf("%s: %w", name, lastErr)
}
