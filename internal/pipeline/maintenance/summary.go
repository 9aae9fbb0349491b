package maintenance

import (
	"time"

	"github.com/google/uuid"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/domain"
)

// Step names, in execution order.
const (
	StepUpdateDaysInStage      = "update_days_in_stage"
	StepDetectStaleDeals       = "detect_stale_deals"
	StepProcessLeadConversions = "process_lead_conversions"
	StepExecuteAutomationRules = "execute_automation_rules"
	StepReconcileWip           = "reconcile_wip"
	StepPipelineAnalytics      = "pipeline_analytics"
	StepSendAlertNotifications = "send_alert_notifications"
	StepCleanupOldData         = "cleanup_old_data"
)

// StepNames lists every step in order.
var StepNames = []string{
	StepUpdateDaysInStage,
	StepDetectStaleDeals,
	StepProcessLeadConversions,
	StepExecuteAutomationRules,
	StepReconcileWip,
	StepPipelineAnalytics,
	StepSendAlertNotifications,
	StepCleanupOldData,
}

// Step statuses.
const (
	StepSuccess   = "success"
	StepPartial   = "partial_success"
	StepFailed    = "failed"
	StepSkipped   = "skipped"
	StepCancelled = "cancelled"
)

// Options tune one pass. Zero values take the defaults.
type Options struct {
	LeadBatchSize      int           `json:"leadBatchSize"`
	EvaluationCooldown time.Duration `json:"evaluationCooldown"`
	Workers            int           `json:"workers"`
	NotificationBatch  int           `json:"notificationBatch"`
	SkipSteps          []string      `json:"skipSteps,omitempty"`
	DryRun             bool          `json:"dryRun"`
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		LeadBatchSize:      50,
		EvaluationCooldown: 7 * 24 * time.Hour,
		Workers:            8,
		NotificationBatch:  50,
	}
}

func (o Options) withDefaults(base Options) Options {
	if o.LeadBatchSize <= 0 {
		o.LeadBatchSize = base.LeadBatchSize
	}
	if o.EvaluationCooldown <= 0 {
		o.EvaluationCooldown = base.EvaluationCooldown
	}
	if o.Workers <= 0 {
		o.Workers = base.Workers
	}
	if o.NotificationBatch <= 0 {
		o.NotificationBatch = base.NotificationBatch
	}
	return o
}

func (o Options) skips(step string) bool {
	for _, s := range o.SkipSteps {
		if s == step {
			return true
		}
	}
	return false
}

// StepResult reports one step.
type StepResult struct {
	Name       string         `json:"name"`
	Status     string         `json:"status"`
	Processed  int            `json:"processed"`
	Affected   int            `json:"affected"`
	Failed     int            `json:"failed"`
	DurationMs int64          `json:"durationMs"`
	Details    map[string]any `json:"details,omitempty"`
}

// ItemError is a failure on one record or a whole step.
type ItemError struct {
	Step    string `json:"step"`
	ItemID  string `json:"itemId,omitempty"`
	Message string `json:"message"`
}

// Statistics is the pipeline health snapshot taken at the end of a pass.
type Statistics struct {
	ActiveDeals        int     `json:"activeDeals"`
	AverageHealth      float64 `json:"averageHealth"`
	StalePercent       float64 `json:"stalePercent"`
	WipViolations      int     `json:"wipViolations"`
	ConversionRate12m  float64 `json:"conversionRate12m"`
	AverageWonDealDays float64 `json:"averageWonDealDays"`
	LeadsEvaluated12m  int     `json:"leadsEvaluated12m"`
	LeadsConverted12m  int     `json:"leadsConverted12m"`
	DealsWon12m        int     `json:"dealsWon12m"`
}

// JobSummary is the full report of a maintenance pass.
type JobSummary struct {
	JobID           uuid.UUID           `json:"jobId"`
	StartedAt       time.Time           `json:"startedAt"`
	FinishedAt      time.Time           `json:"finishedAt"`
	DurationSeconds float64             `json:"durationSeconds"`
	Status          string              `json:"status"`
	DryRun          bool                `json:"dryRun"`
	Cancelled       bool                `json:"cancelled"`
	Steps           []StepResult        `json:"steps"`
	Errors          []ItemError         `json:"errors"`
	Wip             []domain.WipCounter `json:"wip"`
	WipDrift        int                 `json:"wipDrift"`
	Statistics      Statistics          `json:"statistics"`
	ArchiveKey      string              `json:"archiveKey,omitempty"`
}

// overallStatus derives the job status from its steps.
func overallStatus(steps []StepResult, errs []ItemError) string {
	ran, failed := 0, 0
	for _, s := range steps {
		switch s.Status {
		case StepSkipped, StepCancelled:
			continue
		case StepFailed:
			failed++
		}
		ran++
	}
	switch {
	case ran > 0 && failed == ran:
		return domain.JobFailed
	case failed > 0 || len(errs) > 0:
		return domain.JobPartialSuccess
	default:
		return domain.JobSuccess
	}
}
