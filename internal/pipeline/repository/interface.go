// Package repository defines the pipeline record store and its PostgreSQL
// implementation.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/domain"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/wip"
)

// DealFilter narrows deal reads. Zero values mean "no constraint".
type DealFilter struct {
	Stages         []domain.Stage
	ExcludeStages  []domain.Stage
	OwnerID        *uuid.UUID
	ClosedWonSince *time.Time
	Limit          int
}

// RetentionCutoffs holds the oldest timestamp kept per table.
type RetentionCutoffs struct {
	Transitions    time.Time
	AutomationLogs time.Time
	ScoringHistory time.Time
	Analytics      time.Time
}

// LeadConversionCounts summarises lead outcomes over a window.
type LeadConversionCounts struct {
	Total     int
	Converted int
}

// DealUpdate carries maintenance-owned columns. It applies only while the
// deal is still at Version; a transition committed after the read wins.
type DealUpdate struct {
	Version     int64
	DaysInStage int
	HealthScore int
	IsStale     bool
	StaleReason string
}

// WipReconciliation is the stored and recomputed counter sets seen inside one
// reconcile.
type WipReconciliation struct {
	Deals      int
	Stored     map[domain.WipKey]int
	Recomputed map[domain.WipKey]int
}

// Tx is a unit of work. Everything written through it commits or rolls back
// together.
type Tx interface {
	GetDeal(ctx context.Context, id uuid.UUID) (domain.Deal, error)
	// PutDeal writes deal if the stored version equals expectedVersion and
	// returns it with the bumped version. A mismatch yields ErrVersionConflict.
	PutDeal(ctx context.Context, deal domain.Deal, expectedVersion int64) (domain.Deal, error)
	InsertDeal(ctx context.Context, deal domain.Deal) error
	AppendTransition(ctx context.Context, rec domain.TransitionRecord) error
	Counters() wip.Counters

	FindAccountByName(ctx context.Context, name string) (*domain.Account, error)
	InsertAccount(ctx context.Context, account domain.Account) error
	FindContactByEmail(ctx context.Context, email string) (*domain.Contact, error)
	FindContactByName(ctx context.Context, accountID uuid.UUID, name string) (*domain.Contact, error)
	InsertContact(ctx context.Context, contact domain.Contact) error
	PutLead(ctx context.Context, lead domain.Lead, expectedVersion int64) (domain.Lead, error)
	InsertConversionAudit(ctx context.Context, audit domain.ConversionAudit) error
}

// DealReader reads deals outside a transaction.
type DealReader interface {
	GetDeal(ctx context.Context, id uuid.UUID) (domain.Deal, error)
	ListDeals(ctx context.Context, filter DealFilter) ([]domain.Deal, error)
	// StreamDeals calls fn for each matching deal without materialising the set.
	StreamDeals(ctx context.Context, filter DealFilter, fn func(domain.Deal) error) error
	HasOpenDealForCompany(ctx context.Context, company string, excludeID uuid.UUID) (bool, error)
	ListTransitions(ctx context.Context, dealID uuid.UUID) ([]domain.TransitionRecord, error)
}

// LeadStore reads and records lead evaluations.
type LeadStore interface {
	GetLead(ctx context.Context, id uuid.UUID) (domain.Lead, error)
	// ListLeadsDue returns open leads never evaluated or evaluated before
	// cutoff, highest score first.
	ListLeadsDue(ctx context.Context, cutoff time.Time, limit int) ([]domain.Lead, error)
	SaveEvaluation(ctx context.Context, leadID uuid.UUID, score float64, rec domain.Recommendation, at time.Time, history domain.ScoringHistory) error
	ListScoringHistorySince(ctx context.Context, since time.Time) ([]domain.ScoringHistory, error)
	CountLeadConversions(ctx context.Context, since time.Time) (LeadConversionCounts, error)
}

// RuleStore persists automation rules and their execution log.
type RuleStore interface {
	ListActiveRules(ctx context.Context) ([]domain.AutomationRule, error)
	RecordRuleExecution(ctx context.Context, ruleID uuid.UUID, at time.Time) error
	HasAutomationLog(ctx context.Context, ruleID, dealID uuid.UUID, stageEnteredAt time.Time) (bool, error)
	AppendAutomationLog(ctx context.Context, entry domain.AutomationLogEntry) error
}

// MaintenanceStore holds the writes the maintenance pass performs.
type MaintenanceStore interface {
	// UpdateDealMaintenance and UpdateDealHealth report false, without error,
	// when the deal is no longer at the expected version.
	UpdateDealMaintenance(ctx context.Context, id uuid.UUID, update DealUpdate) (bool, error)
	UpdateDealHealth(ctx context.Context, id uuid.UUID, version int64, health int) (bool, error)
	SaveStageMetric(ctx context.Context, metric domain.StageMetric) error
	// InsertAlert returns false when an alert with the same dedup key exists.
	InsertAlert(ctx context.Context, alert domain.Alert) (bool, error)
	ListPendingAlerts(ctx context.Context, limit int) ([]domain.Alert, error)
	MarkAlertNotified(ctx context.Context, id uuid.UUID, at time.Time) error
	WipSnapshot(ctx context.Context) (map[domain.WipKey]int, error)
	// ReconcileWip recomputes the counters from the deals while holding off
	// every reservation, and rewrites them when apply is set and they drifted.
	ReconcileWip(ctx context.Context, apply bool) (WipReconciliation, error)
	UpsertAnalytics(ctx context.Context, snapshots []domain.AnalyticsSnapshot) error
	Prune(ctx context.Context, cutoffs RetentionCutoffs) (map[string]int64, error)
	SaveJobLog(ctx context.Context, log domain.JobLog) error
}

// Directory resolves users for task assignment and notification.
type Directory interface {
	ManagerOf(ctx context.Context, userID uuid.UUID) (uuid.UUID, bool, error)
	UserEmail(ctx context.Context, userID uuid.UUID) (string, error)
}

// TaskWriter stores generated tasks.
type TaskWriter interface {
	InsertTask(ctx context.Context, id uuid.UUID, spec domain.TaskSpec) error
}

// Store is the full record store contract.
type Store interface {
	DealReader
	LeadStore
	RuleStore
	MaintenanceStore
	Directory
	TaskWriter
	domain.ActivitySource
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
}
