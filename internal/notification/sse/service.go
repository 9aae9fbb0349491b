// Package sse streams pipeline events to connected users over Server-Sent Events.
package sse

import (
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ph0rque/MakeDealCRM-sub005/platform/logger"
)

type EventType string

const (
	EventDealStageChanged EventType = "deal_stage_changed"
	EventAlertRaised      EventType = "alert_raised"
	EventLeadConverted    EventType = "lead_converted"
	EventNotification     EventType = "notification"
)

// Event is one message on a user's stream. It is written as the JSON data
// line of an SSE frame named after Type.
type Event struct {
	Type    EventType `json:"type"`
	DealID  uuid.UUID `json:"dealId,omitempty"`
	Message string    `json:"message,omitempty"`
	Data    any       `json:"data,omitempty"`
}

const (
	clientBuffer      = 32
	heartbeatInterval = 25 * time.Second
)

type subscriber chan Event

// Service fans events out to every open stream of a user. Slow readers lose
// events rather than block publishers.
type Service struct {
	mu    sync.RWMutex
	users map[uuid.UUID]map[subscriber]struct{}
	log   *logger.Logger
}

func New(log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{users: make(map[uuid.UUID]map[subscriber]struct{}), log: log}
}

// Subscribe opens a stream for userID. The returned func closes it and is
// safe to call more than once.
func (s *Service) Subscribe(userID uuid.UUID) (<-chan Event, func()) {
	sub := make(subscriber, clientBuffer)

	s.mu.Lock()
	set, ok := s.users[userID]
	if !ok {
		set = make(map[subscriber]struct{})
		s.users[userID] = set
	}
	set[sub] = struct{}{}
	s.mu.Unlock()

	return sub, func() { s.unsubscribe(userID, sub) }
}

func (s *Service) unsubscribe(userID uuid.UUID, sub subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.users[userID]
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	close(sub)
	if len(set) == 0 {
		delete(s.users, userID)
	}
}

// Publish delivers event to the open streams of userID and reports how many
// accepted it.
func (s *Service) Publish(userID uuid.UUID, event Event) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	delivered := 0
	for sub := range s.users[userID] {
		select {
		case sub <- event:
			delivered++
		default:
			s.log.Warn("sse stream lagging, event dropped", "user_id", userID.String(), "event", string(event.Type))
		}
	}
	return delivered
}

func (s *Service) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, set := range s.users {
		n += len(set)
	}
	return n
}

// Handler serves the stream for the user resolved by identify.
func (s *Service) Handler(identify func(*gin.Context) (uuid.UUID, bool)) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := identify(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		h := c.Writer.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")

		stream, cancel := s.Subscribe(userID)
		defer cancel()

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		c.SSEvent("connected", gin.H{"userId": userID})
		c.Stream(func(w io.Writer) bool {
			select {
			case <-c.Request.Context().Done():
				return false
			case <-heartbeat.C:
				c.SSEvent("heartbeat", gin.H{"at": time.Now().UTC()})
				return true
			case ev, open := <-stream:
				if !open {
					return false
				}
				c.SSEvent(string(ev.Type), ev)
				return true
			}
		})
		s.log.Debug("sse stream closed", "user_id", userID.String())
	}
}

// Close ends every open stream.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for userID, set := range s.users {
		for sub := range set {
			close(sub)
		}
		delete(s.users, userID)
	}
}
