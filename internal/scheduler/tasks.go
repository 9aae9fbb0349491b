package scheduler

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/maintenance"
)

// TaskPipelineMaintenance runs one maintenance pass.
const TaskPipelineMaintenance = "pipeline.maintenance"

// MaintenancePayload carries the options of a queued pass.
type MaintenancePayload struct {
	DryRun    bool     `json:"dryRun,omitempty"`
	SkipSteps []string `json:"skipSteps,omitempty"`
	Trigger   string   `json:"trigger"`
}

// Options converts the payload into orchestrator options.
func (p MaintenancePayload) Options() maintenance.Options {
	return maintenance.Options{DryRun: p.DryRun, SkipSteps: p.SkipSteps}
}

func NewMaintenanceTask(payload MaintenancePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPipelineMaintenance, data), nil
}

func ParseMaintenancePayload(task *asynq.Task) (MaintenancePayload, error) {
	var payload MaintenancePayload
	if len(task.Payload()) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return MaintenancePayload{}, fmt.Errorf("parse maintenance payload: %w", err)
	}
	return payload, nil
}
