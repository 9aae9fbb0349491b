package domain

import (
	"time"

	"github.com/google/uuid"
)

// RuleAction names what an automation rule does when its conditions hold.
type RuleAction string

const (
	ActionMoveToStage       RuleAction = "move_to_stage"
	ActionEscalateToManager RuleAction = "escalate_to_manager"
	ActionSendNotification  RuleAction = "send_notification"
)

// AutomationRule is the persisted form of a rule. Conditions stay raw here;
// the automation package compiles them into predicates at load time.
type AutomationRule struct {
	ID                   uuid.UUID  `json:"id"`
	Name                 string     `json:"name"`
	Stage                Stage      `json:"stage,omitempty"`
	Conditions           []string   `json:"conditions"`
	Action               RuleAction `json:"action"`
	TargetStage          Stage      `json:"targetStage,omitempty"`
	EscalationLevel      string     `json:"escalationLevel,omitempty"`
	NotificationTemplate string     `json:"notificationTemplate,omitempty"`
	Priority             int        `json:"priority"`
	IsActive             bool       `json:"isActive"`
	ExecutionCount       int        `json:"executionCount"`
	LastExecutedAt       *time.Time `json:"lastExecutedAt,omitempty"`
}

// Scoped reports whether the rule applies only to one stage.
func (r AutomationRule) Scoped() bool { return r.Stage != "" }
