package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/domain"
)

const dealColumns = `id, name, stage, stage_entered_at, days_in_stage, owner_id, deal_value,
	health_score, is_stale, stale_reason, wip_override, wip_override_reason, probability,
	account_id, lead_id, stakeholders, attributes, closed_at, version, created_at, updated_at`

func scanDeal(row pgx.Row) (domain.Deal, error) {
	var (
		d            domain.Deal
		stage        string
		stakeholders []byte
		attributes   []byte
	)
	if err := row.Scan(
		&d.ID, &d.Name, &stage, &d.StageEnteredAt, &d.DaysInStage, &d.OwnerID, &d.DealValue,
		&d.HealthScore, &d.IsStale, &d.StaleReason, &d.WipOverride, &d.WipOverrideReason, &d.Probability,
		&d.AccountID, &d.LeadID, &stakeholders, &attributes, &d.ClosedAt, &d.Version, &d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return domain.Deal{}, err
	}
	d.Stage = domain.Stage(stage)
	if len(stakeholders) > 0 {
		if err := json.Unmarshal(stakeholders, &d.Stakeholders); err != nil {
			return domain.Deal{}, fmt.Errorf("decode stakeholders: %w", err)
		}
	}
	if len(attributes) > 0 {
		if err := json.Unmarshal(attributes, &d.Attributes); err != nil {
			return domain.Deal{}, fmt.Errorf("decode attributes: %w", err)
		}
	}
	if d.Attributes == nil {
		d.Attributes = map[string]string{}
	}
	return d, nil
}

func encodeDealJSON(d domain.Deal) ([]byte, []byte, error) {
	stakeholders := d.Stakeholders
	if stakeholders == nil {
		stakeholders = []domain.Stakeholder{}
	}
	attributes := d.Attributes
	if attributes == nil {
		attributes = map[string]string{}
	}
	s, err := json.Marshal(stakeholders)
	if err != nil {
		return nil, nil, fmt.Errorf("encode stakeholders: %w", err)
	}
	a, err := json.Marshal(attributes)
	if err != nil {
		return nil, nil, fmt.Errorf("encode attributes: %w", err)
	}
	return s, a, nil
}

func getDeal(ctx context.Context, q querier, id uuid.UUID) (domain.Deal, error) {
	query := `SELECT ` + dealColumns + ` FROM pipeline_deals WHERE id = $1`
	d, err := scanDeal(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Deal{}, notFound(dealNotFoundMessage)
		}
		return domain.Deal{}, classify("get deal", err)
	}
	return d, nil
}

// GetDeal reads one deal.
func (r *Repo) GetDeal(ctx context.Context, id uuid.UUID) (domain.Deal, error) {
	return getDeal(ctx, r.pool, id)
}

func (t *txRepo) GetDeal(ctx context.Context, id uuid.UUID) (domain.Deal, error) {
	return getDeal(ctx, t.q, id)
}

func stageNames(stages []domain.Stage) []string {
	out := make([]string, len(stages))
	for i, s := range stages {
		out[i] = string(s)
	}
	return out
}

func buildDealQuery(filter DealFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if len(filter.Stages) > 0 {
		add("stage = ANY($%d)", stageNames(filter.Stages))
	}
	if len(filter.ExcludeStages) > 0 {
		add("NOT (stage = ANY($%d))", stageNames(filter.ExcludeStages))
	}
	if filter.OwnerID != nil {
		add("owner_id = $%d", *filter.OwnerID)
	}
	if filter.ClosedWonSince != nil {
		add("stage = 'closed_won' AND closed_at >= $%d", *filter.ClosedWonSince)
	}

	query := `SELECT ` + dealColumns + ` FROM pipeline_deals`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args
}

// ListDeals returns all deals matching filter.
func (r *Repo) ListDeals(ctx context.Context, filter DealFilter) ([]domain.Deal, error) {
	var out []domain.Deal
	err := r.StreamDeals(ctx, filter, func(d domain.Deal) error {
		out = append(out, d)
		return nil
	})
	return out, err
}

// StreamDeals iterates matching deals row by row.
func (r *Repo) StreamDeals(ctx context.Context, filter DealFilter, fn func(domain.Deal) error) error {
	query, args := buildDealQuery(filter)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return classify("list deals", err)
	}
	defer rows.Close()

	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return classify("scan deal", err)
		}
		if err := fn(d); err != nil {
			return err
		}
	}
	return classify("list deals", rows.Err())
}

// HasOpenDealForCompany reports whether another non-terminal deal has the same company name.
func (r *Repo) HasOpenDealForCompany(ctx context.Context, company string, excludeID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pipeline_deals
			WHERE lower(attributes ->> 'company_name') = lower($1)
			  AND id <> $2
			  AND stage NOT IN ('closed_won', 'closed_lost', 'unavailable')
		)`, company, excludeID).Scan(&exists)
	if err != nil {
		return false, classify("check duplicate company", err)
	}
	return exists, nil
}

func (t *txRepo) PutDeal(ctx context.Context, d domain.Deal, expectedVersion int64) (domain.Deal, error) {
	stakeholders, attributes, err := encodeDealJSON(d)
	if err != nil {
		return domain.Deal{}, err
	}
	query := `
		UPDATE pipeline_deals SET
			name = $3, stage = $4, stage_entered_at = $5, days_in_stage = $6, owner_id = $7,
			deal_value = $8, health_score = $9, is_stale = $10, stale_reason = $11,
			wip_override = $12, wip_override_reason = $13, probability = $14,
			account_id = $15, lead_id = $16, stakeholders = $17, attributes = $18, closed_at = $19,
			version = version + 1, updated_at = $20
		WHERE id = $1 AND version = $2
		RETURNING ` + dealColumns

	updated, err := scanDeal(t.q.QueryRow(ctx, query,
		d.ID, expectedVersion,
		d.Name, string(d.Stage), d.StageEnteredAt, d.DaysInStage, d.OwnerID,
		d.DealValue, d.HealthScore, d.IsStale, d.StaleReason,
		d.WipOverride, d.WipOverrideReason, d.Probability,
		d.AccountID, d.LeadID, stakeholders, attributes, d.ClosedAt, d.UpdatedAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Deal{}, fmt.Errorf("put deal %s: %w", d.ID, domain.ErrVersionConflict)
		}
		return domain.Deal{}, classify("put deal", err)
	}
	return updated, nil
}

func (t *txRepo) InsertDeal(ctx context.Context, d domain.Deal) error {
	stakeholders, attributes, err := encodeDealJSON(d)
	if err != nil {
		return err
	}
	_, err = t.q.Exec(ctx, `
		INSERT INTO pipeline_deals (
			id, name, stage, stage_entered_at, days_in_stage, owner_id, deal_value,
			health_score, is_stale, stale_reason, wip_override, wip_override_reason, probability,
			account_id, lead_id, stakeholders, attributes, closed_at, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		d.ID, d.Name, string(d.Stage), d.StageEnteredAt, d.DaysInStage, d.OwnerID, d.DealValue,
		d.HealthScore, d.IsStale, d.StaleReason, d.WipOverride, d.WipOverrideReason, d.Probability,
		d.AccountID, d.LeadID, stakeholders, attributes, d.ClosedAt, d.Version, d.CreatedAt, d.UpdatedAt,
	)
	return classify("insert deal", err)
}

func (t *txRepo) AppendTransition(ctx context.Context, rec domain.TransitionRecord) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO pipeline_transitions (
			id, deal_id, from_stage, to_stage, occurred_at, actor_id,
			transition_type, reason, override_reason, days_in_previous_stage
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.DealID, string(rec.FromStage), string(rec.ToStage), rec.OccurredAt, rec.ActorID.String(),
		string(rec.Type), rec.Reason, rec.OverrideReason, rec.DaysInPreviousStage,
	)
	return classify("append transition", err)
}

// ListTransitions returns a deal's transition history, oldest first.
func (r *Repo) ListTransitions(ctx context.Context, dealID uuid.UUID) ([]domain.TransitionRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, deal_id, from_stage, to_stage, occurred_at, actor_id,
		       transition_type, reason, override_reason, days_in_previous_stage
		FROM pipeline_transitions
		WHERE deal_id = $1
		ORDER BY occurred_at ASC`, dealID)
	if err != nil {
		return nil, classify("list transitions", err)
	}
	defer rows.Close()

	var out []domain.TransitionRecord
	for rows.Next() {
		var rec domain.TransitionRecord
		var from, to, actor, transitionType string
		if err := rows.Scan(&rec.ID, &rec.DealID, &from, &to, &rec.OccurredAt, &actor,
			&transitionType, &rec.Reason, &rec.OverrideReason, &rec.DaysInPreviousStage); err != nil {
			return nil, classify("scan transition", err)
		}
		rec.FromStage = domain.Stage(from)
		rec.ToStage = domain.Stage(to)
		rec.Type = domain.TransitionType(transitionType)
		rec.ActorID, _ = uuid.Parse(actor)
		out = append(out, rec)
	}
	return out, classify("list transitions", rows.Err())
}

// UpdateDealMaintenance writes maintenance-owned columns without bumping the version.
func (r *Repo) UpdateDealMaintenance(ctx context.Context, id uuid.UUID, u DealUpdate) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE pipeline_deals
		SET days_in_stage = $3, health_score = $4, is_stale = $5, stale_reason = $6, updated_at = now()
		WHERE id = $1 AND version = $2`,
		id, u.Version, u.DaysInStage, u.HealthScore, u.IsStale, u.StaleReason)
	if err != nil {
		return false, classify("update deal maintenance", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateDealHealth persists a recomputed health score.
func (r *Repo) UpdateDealHealth(ctx context.Context, id uuid.UUID, version int64, health int) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE pipeline_deals SET health_score = $3 WHERE id = $1 AND version = $2`, id, version, health)
	if err != nil {
		return false, classify("update deal health", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SaveStageMetric records the time a deal spent in a stage.
func (r *Repo) SaveStageMetric(ctx context.Context, m domain.StageMetric) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO pipeline_stage_metrics (id, deal_id, stage, days_in_stage, deal_value, owner_id, exited_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.DealID, string(m.Stage), m.Days, m.DealValue, m.OwnerID, m.ExitedAt)
	return classify("save stage metric", err)
}

// LastActivity returns the most recent activity timestamp for a deal.
func (r *Repo) LastActivity(ctx context.Context, dealID uuid.UUID) (*time.Time, error) {
	var last *time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT max(occurred_at) FROM pipeline_activities WHERE deal_id = $1`, dealID,
	).Scan(&last)
	if err != nil {
		return nil, classify("last activity", err)
	}
	return last, nil
}
