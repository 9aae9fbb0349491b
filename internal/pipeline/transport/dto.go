package transport

import (
	"time"

	"github.com/google/uuid"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/domain"
)

// Custom validation tags registered by the pipeline module.
const (
	TagPipelineStage   = "pipeline_stage"
	TagMaintenanceStep = "maintenance_step"
)

// TransitionRequest moves a deal to another stage.
type TransitionRequest struct {
	ToStage        string `json:"toStage" validate:"required,pipeline_stage"`
	Reason         string `json:"reason" validate:"max=1000"`
	Override       bool   `json:"override"`
	OverrideReason string `json:"overrideReason" validate:"required_if=Override true,max=1000"`
}

// ScoreLeadQuery controls whether scoring also executes the recommended action.
type ScoreLeadQuery struct {
	Apply bool `form:"apply"`
}

// MaintenanceRequest triggers a maintenance pass.
type MaintenanceRequest struct {
	DryRun    bool     `json:"dryRun"`
	SkipSteps []string `json:"skipSteps" validate:"omitempty,max=8,dive,maintenance_step"`
}

// MaintenanceQuery selects synchronous or queued execution.
type MaintenanceQuery struct {
	Async bool `form:"async"`
}

// OwnerQuery optionally narrows a read to one deal owner.
type OwnerQuery struct {
	OwnerID string `form:"ownerId" validate:"omitempty,uuid"`
}

// EnqueuedResponse acknowledges a queued maintenance pass.
type EnqueuedResponse struct {
	TaskID     string    `json:"taskId"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// DealResponse is a deal with its transition history.
type DealResponse struct {
	Deal        domain.Deal               `json:"deal"`
	Transitions []domain.TransitionRecord `json:"transitions"`
}

// StageResponse describes one catalog stage.
type StageResponse struct {
	Stage          domain.Stage `json:"stage"`
	Order          int          `json:"order"`
	WipLimit       *int         `json:"wipLimit,omitempty"`
	HardWipLimit   bool         `json:"hardWipLimit"`
	WarningDays    *int         `json:"warningDays,omitempty"`
	CriticalDays   *int         `json:"criticalDays,omitempty"`
	RequiredFields []string     `json:"requiredFields"`
	Terminal       bool         `json:"terminal"`
}

// ParseOwner returns the owner filter, or nil when none was given.
func (q OwnerQuery) ParseOwner() *uuid.UUID {
	if q.OwnerID == "" {
		return nil
	}
	id, err := uuid.Parse(q.OwnerID)
	if err != nil {
		return nil
	}
	return &id
}
