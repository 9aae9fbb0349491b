package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/domain"
)

// ListActiveRules returns active automation rules, lowest priority value first.
func (r *Repo) ListActiveRules(ctx context.Context) ([]domain.AutomationRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, stage, conditions, action, target_stage, escalation_level,
		       notification_template, priority, is_active, execution_count, last_executed_at
		FROM pipeline_automation_rules
		WHERE is_active
		ORDER BY priority ASC, name ASC`)
	if err != nil {
		return nil, classify("list rules", err)
	}
	defer rows.Close()

	var out []domain.AutomationRule
	for rows.Next() {
		var (
			rule                       domain.AutomationRule
			stage, action, targetStage string
			conditions                 []byte
		)
		if err := rows.Scan(&rule.ID, &rule.Name, &stage, &conditions, &action, &targetStage,
			&rule.EscalationLevel, &rule.NotificationTemplate, &rule.Priority, &rule.IsActive,
			&rule.ExecutionCount, &rule.LastExecutedAt); err != nil {
			return nil, classify("scan rule", err)
		}
		if err := json.Unmarshal(conditions, &rule.Conditions); err != nil {
			return nil, classify("decode rule conditions", err)
		}
		rule.Stage = domain.Stage(stage)
		rule.Action = domain.RuleAction(action)
		rule.TargetStage = domain.Stage(targetStage)
		out = append(out, rule)
	}
	return out, classify("list rules", rows.Err())
}

// RecordRuleExecution bumps the execution counter and last-run time.
func (r *Repo) RecordRuleExecution(ctx context.Context, ruleID uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE pipeline_automation_rules
		SET execution_count = execution_count + 1, last_executed_at = $2
		WHERE id = $1`, ruleID, at)
	return classify("record rule execution", err)
}

// HasAutomationLog reports whether the rule already acted on this stage visit.
func (r *Repo) HasAutomationLog(ctx context.Context, ruleID, dealID uuid.UUID, stageEnteredAt time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pipeline_automation_log
			WHERE rule_id = $1 AND deal_id = $2 AND stage_entered_at = $3 AND status = 'success'
		)`, ruleID, dealID, stageEnteredAt).Scan(&exists)
	if err != nil {
		return false, classify("check automation log", err)
	}
	return exists, nil
}

// AppendAutomationLog records one rule attempt.
func (r *Repo) AppendAutomationLog(ctx context.Context, e domain.AutomationLogEntry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO pipeline_automation_log (id, rule_id, deal_id, stage_entered_at, status, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.RuleID, e.DealID, e.StageEnteredAt, e.Status, e.Message, e.CreatedAt)
	return classify("append automation log", err)
}
