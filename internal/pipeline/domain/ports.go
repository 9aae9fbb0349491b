package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Task parent types.
const (
	ParentDeal = "deal"
	ParentLead = "lead"
)

// TaskSpec describes a follow-up task to create for a user.
type TaskSpec struct {
	ParentType  string    `json:"parentType"`
	ParentID    uuid.UUID `json:"parentId"`
	AssignedTo  uuid.UUID `json:"assignedTo"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Priority    Priority  `json:"priority"`
	DueAt       time.Time `json:"dueAt"`
}

// Recipient addresses a notification. Email may be empty; sinks resolve it.
type Recipient struct {
	UserID uuid.UUID
	Email  string
}

// Notification templates.
const (
	TemplateStageEntry    = "stage_entry"
	TemplateStaleAlert    = "stale_alert"
	TemplateRuleTrigger   = "rule_notification"
	TemplateLeadConverted = "lead_converted"
)

// Sink creates tasks and sends notifications.
type Sink interface {
	CreateTask(ctx context.Context, spec TaskSpec) (uuid.UUID, error)
	Notify(ctx context.Context, to Recipient, template string, data map[string]any) error
}

// ActivitySource reports the most recent logged activity on a deal.
type ActivitySource interface {
	LastActivity(ctx context.Context, dealID uuid.UUID) (*time.Time, error)
}

// ActivitySourceFunc adapts a function to ActivitySource.
type ActivitySourceFunc func(ctx context.Context, dealID uuid.UUID) (*time.Time, error)

// LastActivity calls f.
func (f ActivitySourceFunc) LastActivity(ctx context.Context, dealID uuid.UUID) (*time.Time, error) {
	return f(ctx, dealID)
}
