package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/domain"
)

const jobTypeMaintenance = "pipeline_maintenance"

// InsertAlert creates an alert unless one exists for (deal, severity, stage entry).
func (r *Repo) InsertAlert(ctx context.Context, a domain.Alert) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO pipeline_alerts (
			id, deal_id, stage, alert_type, severity, message, assigned_to, due_at, stage_entered_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (deal_id, severity, stage_entered_at) DO NOTHING`,
		a.ID, a.DealID, string(a.Stage), string(a.Type), string(a.Severity), a.Message,
		a.AssignedTo, a.DueAt, a.StageEnteredAt, a.CreatedAt)
	if err != nil {
		return false, classify("insert alert", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListPendingAlerts returns un-notified alerts, oldest first.
func (r *Repo) ListPendingAlerts(ctx context.Context, limit int) ([]domain.Alert, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.id, a.deal_id, COALESCE(d.name, ''), a.stage, a.alert_type, a.severity, a.message,
		       a.assigned_to, a.due_at, a.stage_entered_at, a.notified_at, a.created_at
		FROM pipeline_alerts a
		LEFT JOIN pipeline_deals d ON d.id = a.deal_id
		WHERE a.notified_at IS NULL
		ORDER BY a.created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, classify("list pending alerts", err)
	}
	defer rows.Close()

	var out []domain.Alert
	for rows.Next() {
		var (
			a                     domain.Alert
			stage, kind, severity string
		)
		if err := rows.Scan(&a.ID, &a.DealID, &a.DealName, &stage, &kind, &severity, &a.Message,
			&a.AssignedTo, &a.DueAt, &a.StageEnteredAt, &a.NotifiedAt, &a.CreatedAt); err != nil {
			return nil, classify("scan alert", err)
		}
		a.Stage = domain.Stage(stage)
		a.Type = domain.AlertType(kind)
		a.Severity = domain.Severity(severity)
		out = append(out, a)
	}
	return out, classify("list pending alerts", rows.Err())
}

// MarkAlertNotified stamps an alert as sent.
func (r *Repo) MarkAlertNotified(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE pipeline_alerts SET notified_at = $2 WHERE id = $1`, id, at)
	return classify("mark alert notified", err)
}

// UpsertAnalytics writes daily snapshots; reruns on the same day overwrite.
func (r *Repo) UpsertAnalytics(ctx context.Context, snapshots []domain.AnalyticsSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, s := range snapshots {
		batch.Queue(`
			INSERT INTO pipeline_analytics (snapshot_date, stage, owner_id, deal_count, total_value, avg_days, stale_count)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (snapshot_date, stage, owner_id) DO UPDATE SET
				deal_count = EXCLUDED.deal_count,
				total_value = EXCLUDED.total_value,
				avg_days = EXCLUDED.avg_days,
				stale_count = EXCLUDED.stale_count`,
			s.SnapshotDate, string(s.Stage), s.OwnerID, s.DealCount, s.TotalValue, s.AvgDays, s.StaleCount)
	}
	return classify("upsert analytics", r.pool.SendBatch(ctx, batch).Close())
}

// Prune deletes rows older than the retention cutoffs and reports counts per table.
func (r *Repo) Prune(ctx context.Context, c RetentionCutoffs) (map[string]int64, error) {
	statements := []struct {
		table string
		query string
		arg   time.Time
	}{
		{"pipeline_transitions", `DELETE FROM pipeline_transitions WHERE occurred_at < $1`, c.Transitions},
		{"pipeline_automation_log", `DELETE FROM pipeline_automation_log WHERE created_at < $1`, c.AutomationLogs},
		{"pipeline_lead_scoring_history", `DELETE FROM pipeline_lead_scoring_history WHERE created_at < $1`, c.ScoringHistory},
		{"pipeline_analytics", `DELETE FROM pipeline_analytics WHERE snapshot_date < $1`, c.Analytics},
	}

	out := make(map[string]int64, len(statements))
	for _, st := range statements {
		tag, err := r.pool.Exec(ctx, st.query, st.arg)
		if err != nil {
			return out, classify("prune "+st.table, err)
		}
		out[st.table] = tag.RowsAffected()
	}
	return out, nil
}

// SaveJobLog persists a maintenance run.
func (r *Repo) SaveJobLog(ctx context.Context, l domain.JobLog) error {
	summary := l.Summary
	if len(summary) == 0 {
		summary = []byte("{}")
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO pipeline_job_log (
			id, job_type, started_at, finished_at, duration_seconds, tasks_completed, errors_count, status, summary
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		l.JobID, jobTypeMaintenance, l.StartedAt, l.FinishedAt, l.DurationSeconds,
		l.TasksCompleted, l.ErrorCount, l.Status, []byte(summary))
	return classify("save job log", err)
}

// ManagerOf returns the user's manager, if one is configured.
func (r *Repo) ManagerOf(ctx context.Context, userID uuid.UUID) (uuid.UUID, bool, error) {
	var manager *uuid.UUID
	err := r.pool.QueryRow(ctx, `SELECT manager_id FROM pipeline_users WHERE id = $1`, userID).Scan(&manager)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, classify("get manager", err)
	}
	if manager == nil {
		return uuid.Nil, false, nil
	}
	return *manager, true, nil
}

// UserEmail returns the user's email address, or "" when unknown.
func (r *Repo) UserEmail(ctx context.Context, userID uuid.UUID) (string, error) {
	var email string
	err := r.pool.QueryRow(ctx, `SELECT email FROM pipeline_users WHERE id = $1`, userID).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", classify("get user email", err)
	}
	return email, nil
}

// InsertTask stores a generated follow-up task.
func (r *Repo) InsertTask(ctx context.Context, id uuid.UUID, spec domain.TaskSpec) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO pipeline_tasks (id, parent_type, parent_id, assigned_to, name, description, priority, due_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, spec.ParentType, spec.ParentID, spec.AssignedTo, spec.Name, spec.Description,
		string(spec.Priority), spec.DueAt)
	return classify("insert task", err)
}
