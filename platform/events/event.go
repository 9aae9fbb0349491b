// Package events is the in-process publish/subscribe layer used to fan
// pipeline facts out to notification delivery and the live stream.
package events

import (
	"context"
	"time"
)

// Event is a named fact with the time it happened.
type Event interface {
	EventName() string
	OccurredAt() time.Time
}

// BaseEvent carries the occurrence time. Embed it in concrete events.
type BaseEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// OccurredAt implements Event.
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }

// At stamps an event with t. Callers pass their injected clock's time so
// tests stay deterministic.
func At(t time.Time) BaseEvent {
	return BaseEvent{Timestamp: t}
}

// Handler reacts to one event.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error { return f(ctx, event) }

// Bus routes events by name. Publish is fire-and-forget; PublishSync
// returns the joined handler errors.
type Bus interface {
	Publish(ctx context.Context, event Event)
	PublishSync(ctx context.Context, event Event) error
	Subscribe(eventName string, handler Handler)
}

// SubscribeAll registers handler for every event's name.
func SubscribeAll(bus Bus, handler Handler, evs ...Event) {
	for _, e := range evs {
		bus.Subscribe(e.EventName(), handler)
	}
}
