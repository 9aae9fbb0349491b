package domain

import (
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
)

// AutomationActorID is the actor recorded on automated transitions.
var AutomationActorID = uuid.MustParse("00000000-0000-0000-0000-00000000a070")

// TransitionRecord is an append-only audit entry for a stage change.
type TransitionRecord struct {
	ID                  uuid.UUID      `json:"id"`
	DealID              uuid.UUID      `json:"dealId"`
	FromStage           Stage          `json:"fromStage"`
	ToStage             Stage          `json:"toStage"`
	OccurredAt          time.Time      `json:"occurredAt"`
	ActorID             uuid.UUID      `json:"actorId"`
	Type                TransitionType `json:"type"`
	Reason              string         `json:"reason,omitempty"`
	OverrideReason      string         `json:"overrideReason,omitempty"`
	DaysInPreviousStage int            `json:"daysInPreviousStage"`
}

// StageMetric is written when a deal leaves a stage.
type StageMetric struct {
	ID        uuid.UUID `json:"id"`
	DealID    uuid.UUID `json:"dealId"`
	Stage     Stage     `json:"stage"`
	Days      int       `json:"days"`
	DealValue float64   `json:"dealValue"`
	OwnerID   uuid.UUID `json:"ownerId"`
	ExitedAt  time.Time `json:"exitedAt"`
}

// WipKey addresses one WIP counter.
type WipKey struct {
	Stage   Stage     `json:"stage"`
	OwnerID uuid.UUID `json:"ownerId"`
}

// WipCounter is the number of deals an owner holds in a stage.
type WipCounter struct {
	Stage              Stage     `json:"stage"`
	OwnerID            uuid.UUID `json:"ownerId"`
	Count              int       `json:"count"`
	Limit              *int      `json:"limit"`
	UtilizationPercent float64   `json:"utilizationPercent"`
}

// Utilization returns count/limit*100 rounded to the given decimals, or 0 when
// the limit is unbounded.
func Utilization(count int, limit *int, decimals int) float64 {
	if limit == nil || *limit <= 0 {
		return 0
	}
	return Round(float64(count)/float64(*limit)*100, decimals)
}

// Round rounds v half away from zero to the given decimals.
func Round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

// AlertType classifies staleness alerts.
type AlertType string

const (
	AlertStaleDeal    AlertType = "stale_deal"
	AlertInactiveDeal AlertType = "inactive_deal"
)

// Severity of an alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is raised by maintenance for stale or inactive deals. (DealID,
// Severity, StageEnteredAt) is unique.
type Alert struct {
	ID             uuid.UUID  `json:"id"`
	DealID         uuid.UUID  `json:"dealId"`
	DealName       string     `json:"dealName"`
	Stage          Stage      `json:"stage"`
	Type           AlertType  `json:"type"`
	Severity       Severity   `json:"severity"`
	Message        string     `json:"message"`
	AssignedTo     uuid.UUID  `json:"assignedTo"`
	DueAt          time.Time  `json:"dueAt"`
	StageEnteredAt time.Time  `json:"stageEnteredAt"`
	NotifiedAt     *time.Time `json:"notifiedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// Automation log statuses.
const (
	AutomationSuccess = "success"
	AutomationFailed  = "failed"
)

// AutomationLogEntry records one rule application attempt against a deal.
type AutomationLogEntry struct {
	ID             uuid.UUID `json:"id"`
	RuleID         uuid.UUID `json:"ruleId"`
	DealID         uuid.UUID `json:"dealId"`
	Status         string    `json:"status"`
	Message        string    `json:"message"`
	StageEnteredAt time.Time `json:"stageEnteredAt"`
	CreatedAt      time.Time `json:"createdAt"`
}

// AnalyticsSnapshot is the daily aggregate for one (stage, owner).
type AnalyticsSnapshot struct {
	SnapshotDate time.Time `json:"snapshotDate"`
	Stage        Stage     `json:"stage"`
	OwnerID      uuid.UUID `json:"ownerId"`
	DealCount    int       `json:"dealCount"`
	TotalValue   float64   `json:"totalValue"`
	AvgDays      float64   `json:"avgDays"`
	StaleCount   int       `json:"staleCount"`
}

// ScoringHistory is appended on every lead evaluation.
type ScoringHistory struct {
	ID             uuid.UUID       `json:"id"`
	LeadID         uuid.UUID       `json:"leadId"`
	Score          float64         `json:"score"`
	Recommendation Recommendation  `json:"recommendation"`
	Breakdown      json.RawMessage `json:"breakdown"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// ConversionAudit records a successful lead conversion.
type ConversionAudit struct {
	ID          uuid.UUID `json:"id"`
	LeadID      uuid.UUID `json:"leadId"`
	DealID      uuid.UUID `json:"dealId"`
	AccountID   uuid.UUID `json:"accountId"`
	ContactID   uuid.UUID `json:"contactId"`
	Score       float64   `json:"score"`
	ConvertedAt time.Time `json:"convertedAt"`
}

// Account is the company record a converted lead attaches to.
type Account struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Industry  string    `json:"industry,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Contact is a person linked to an account.
type Contact struct {
	ID        uuid.UUID  `json:"id"`
	AccountID *uuid.UUID `json:"accountId,omitempty"`
	Name      string     `json:"name"`
	Email     string     `json:"email,omitempty"`
	Phone     string     `json:"phone,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Job statuses.
const (
	JobSuccess        = "success"
	JobPartialSuccess = "partial_success"
	JobFailed         = "failed"
)

// JobLog persists a maintenance run summary.
type JobLog struct {
	JobID           uuid.UUID       `json:"jobId"`
	StartedAt       time.Time       `json:"startedAt"`
	FinishedAt      time.Time       `json:"finishedAt"`
	DurationSeconds float64         `json:"durationSeconds"`
	TasksCompleted  int             `json:"tasksCompleted"`
	ErrorCount      int             `json:"errorCount"`
	Status          string          `json:"status"`
	Summary         json.RawMessage `json:"summary"`
}
