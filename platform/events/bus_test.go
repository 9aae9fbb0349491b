package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ph0rque/MakeDealCRM-sub005/platform/logger"
)

type pingEvent struct {
	BaseEvent
}

func (pingEvent) EventName() string { return "test.ping" }

func TestInMemoryBusPublishReachesAllHandlers(t *testing.T) {
	bus := NewInMemoryBus(logger.Nop())
	var calls atomic.Int32
	for i := 0; i < 3; i++ {
		bus.Subscribe("test.ping", HandlerFunc(func(ctx context.Context, event Event) error {
			calls.Add(1)
			return nil
		}))
	}

	bus.Publish(context.Background(), pingEvent{BaseEvent: At(time.Now())})
	bus.Wait()

	if calls.Load() != 3 {
		t.Fatalf("expected 3 handler calls, got %d", calls.Load())
	}
}

func TestInMemoryBusPublishSyncJoinsErrors(t *testing.T) {
	bus := NewInMemoryBus(logger.Nop())
	errA := errors.New("a failed")
	bus.Subscribe("test.ping", HandlerFunc(func(ctx context.Context, event Event) error { return errA }))
	bus.Subscribe("test.ping", HandlerFunc(func(ctx context.Context, event Event) error { return nil }))

	err := bus.PublishSync(context.Background(), pingEvent{BaseEvent: At(time.Now())})
	if !errors.Is(err, errA) {
		t.Fatalf("expected joined error to contain errA, got %v", err)
	}
}

func TestInMemoryBusIgnoresUnsubscribedEvents(t *testing.T) {
	bus := NewInMemoryBus(logger.Nop())
	if err := bus.PublishSync(context.Background(), pingEvent{BaseEvent: At(time.Now())}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}
