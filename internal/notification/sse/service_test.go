package sse

import (
	"testing"

	"github.com/google/uuid"

	"github.com/ph0rque/MakeDealCRM-sub005/platform/logger"
)

func TestPublishDropsWhenBufferFull(t *testing.T) {
	s := New(logger.Nop())
	user := uuid.New()
	_, cancel := s.Subscribe(user)
	defer cancel()

	for i := 0; i < clientBuffer; i++ {
		if n := s.Publish(user, Event{Type: EventAlertRaised}); n != 1 {
			t.Fatalf("expected delivery %d to succeed", i)
		}
	}
	if n := s.Publish(user, Event{Type: EventAlertRaised}); n != 0 {
		t.Fatalf("expected full buffer to drop event, delivered to %d", n)
	}
}

func TestCancelUnregistersClient(t *testing.T) {
	s := New(logger.Nop())
	user := uuid.New()
	ch, cancel := s.Subscribe(user)
	if s.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", s.ClientCount())
	}

	cancel()
	cancel()

	if s.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", s.ClientCount())
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed")
	}
	if n := s.Publish(user, Event{Type: EventNotification}); n != 0 {
		t.Fatalf("expected no delivery after cancel, got %d", n)
	}
}

func TestCloseEndsStreams(t *testing.T) {
	s := New(logger.Nop())
	a, _ := s.Subscribe(uuid.New())
	b, cancelB := s.Subscribe(uuid.New())

	s.Close()
	cancelB()

	for _, ch := range []<-chan Event{a, b} {
		if _, ok := <-ch; ok {
			t.Fatal("expected stream to be closed")
		}
	}
	if s.ClientCount() != 0 {
		t.Fatalf("expected no clients after close, got %d", s.ClientCount())
	}
}
