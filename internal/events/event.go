// Package events defines the pipeline's domain events. The bus itself lives
// in platform/events; the aliases below let pipeline packages depend on this
// package alone.
package events

import (
	"github.com/google/uuid"

	"github.com/ph0rque/MakeDealCRM-sub005/platform/events"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/logger"
)

type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
	InMemoryBus = events.InMemoryBus
)

var (
	At           = events.At
	SubscribeAll = events.SubscribeAll
)

// NewInMemoryBus creates the process-local bus.
func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return events.NewInMemoryBus(log)
}

// =============================================================================
// Pipeline Domain Events
// =============================================================================

// DealStageChanged is published after a stage transition commits.
type DealStageChanged struct {
	BaseEvent
	DealID         uuid.UUID `json:"dealId"`
	DealName       string    `json:"dealName"`
	OwnerID        uuid.UUID `json:"ownerId"`
	FromStage      string    `json:"fromStage"`
	ToStage        string    `json:"toStage"`
	TransitionType string    `json:"transitionType"`
	ActorID        uuid.UUID `json:"actorId"`
	WipOverride    bool      `json:"wipOverride"`
	Depth          int       `json:"depth"`
}

func (e DealStageChanged) EventName() string { return "pipeline.deal.stage_changed" }

// LeadConverted is published after a lead is converted to a deal.
type LeadConverted struct {
	BaseEvent
	LeadID    uuid.UUID `json:"leadId"`
	DealID    uuid.UUID `json:"dealId"`
	AccountID uuid.UUID `json:"accountId"`
	ContactID uuid.UUID `json:"contactId"`
	OwnerID   uuid.UUID `json:"ownerId"`
	Company   string    `json:"company"`
	Score     float64   `json:"score"`
}

func (e LeadConverted) EventName() string { return "pipeline.lead.converted" }

// AlertRaised is published when maintenance creates a new stale or inactive alert.
type AlertRaised struct {
	BaseEvent
	AlertID    uuid.UUID `json:"alertId"`
	DealID     uuid.UUID `json:"dealId"`
	Stage      string    `json:"stage"`
	Severity   string    `json:"severity"`
	AlertType  string    `json:"alertType"`
	AssignedTo uuid.UUID `json:"assignedTo"`
	Message    string    `json:"message"`
}

func (e AlertRaised) EventName() string { return "pipeline.alert.raised" }

// AutomationDepthExceeded is published when rule-triggered transitions nest
// deeper than allowed.
type AutomationDepthExceeded struct {
	BaseEvent
	DealID   uuid.UUID `json:"dealId"`
	ToStage  string    `json:"toStage"`
	Depth    int       `json:"depth"`
	MaxDepth int       `json:"maxDepth"`
}

func (e AutomationDepthExceeded) EventName() string { return "pipeline.automation.depth_exceeded" }

// NotificationRequested is published whenever the pipeline notifies a user, so
// listeners other than email delivery can react.
type NotificationRequested struct {
	BaseEvent
	UserID   uuid.UUID      `json:"userId"`
	Email    string         `json:"email,omitempty"`
	Template string         `json:"template"`
	Data     map[string]any `json:"data"`
}

func (e NotificationRequested) EventName() string { return "pipeline.notification.requested" }

// MaintenanceCompleted is published at the end of a maintenance pass.
type MaintenanceCompleted struct {
	BaseEvent
	JobID      uuid.UUID `json:"jobId"`
	Status     string    `json:"status"`
	ErrorCount int       `json:"errorCount"`
	Cancelled  bool      `json:"cancelled"`
}

func (e MaintenanceCompleted) EventName() string { return "pipeline.maintenance.completed" }
