package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/domain"
)

const leadColumns = `id, company_name, industry, region, annual_revenue, employee_count, ebitda,
	growth_rate, interactions, response_quality, urgency, budget, interest_level,
	lead_source, decision_maker_identified, estimated_deal_value, primary_contact_name, primary_contact_email, primary_contact_phone,
	owner_id, status, lead_score, recommendation, last_evaluation_date, converted_deal_id,
	converted_account_id, converted_contact_id, converted_at, conversion_score, version,
	created_at, updated_at`

func scanLead(row pgx.Row) (domain.Lead, error) {
	var (
		l              domain.Lead
		status         string
		recommendation string
		score          float64
	)
	if err := row.Scan(
		&l.ID, &l.CompanyName, &l.Industry, &l.Region, &l.AnnualRevenue, &l.EmployeeCount, &l.Ebitda,
		&l.GrowthRate, &l.Interactions, &l.ResponseQuality, &l.Urgency, &l.Budget, &l.InterestLevel,
		&l.LeadSource, &l.DecisionMaker, &l.EstimatedDealValue, &l.PrimaryContactName, &l.PrimaryContactEmail, &l.PrimaryContactPhone,
		&l.OwnerID, &status, &score, &recommendation, &l.LastEvaluationDate, &l.ConvertedDealID,
		&l.ConvertedAccountID, &l.ConvertedContactID, &l.ConvertedAt, &l.ConversionScore, &l.Version,
		&l.CreatedAt, &l.UpdatedAt,
	); err != nil {
		return domain.Lead{}, err
	}
	l.Status = domain.LeadStatus(status)
	l.Recommendation = domain.Recommendation(recommendation)
	if l.LastEvaluationDate != nil {
		l.LeadScore = &score
	}
	return l, nil
}

// GetLead reads one lead.
func (r *Repo) GetLead(ctx context.Context, id uuid.UUID) (domain.Lead, error) {
	l, err := scanLead(r.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM pipeline_leads WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Lead{}, notFound(leadNotFoundMessage)
		}
		return domain.Lead{}, classify("get lead", err)
	}
	return l, nil
}

// ListLeadsDue returns open leads due for evaluation, highest score first.
func (r *Repo) ListLeadsDue(ctx context.Context, cutoff time.Time, limit int) ([]domain.Lead, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+leadColumns+`
		FROM pipeline_leads
		WHERE status NOT IN ('converted', 'disqualified', 'dead')
		  AND (last_evaluation_date IS NULL OR last_evaluation_date < $1)
		ORDER BY lead_score DESC, created_at ASC
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, classify("list due leads", err)
	}
	defer rows.Close()

	var out []domain.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, classify("scan lead", err)
		}
		out = append(out, l)
	}
	return out, classify("list due leads", rows.Err())
}

// SaveEvaluation stores a lead's latest score and appends the history row.
func (r *Repo) SaveEvaluation(ctx context.Context, leadID uuid.UUID, score float64, rec domain.Recommendation, at time.Time, history domain.ScoringHistory) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return classify("begin tx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE pipeline_leads
		SET lead_score = $2, recommendation = $3, last_evaluation_date = $4,
		    status = CASE WHEN status = 'new' THEN 'qualifying' ELSE status END,
		    updated_at = $4
		WHERE id = $1`,
		leadID, score, string(rec), at)
	if err != nil {
		return classify("save lead score", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(leadNotFoundMessage)
	}

	breakdown := history.Breakdown
	if len(breakdown) == 0 {
		breakdown = []byte("{}")
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO pipeline_lead_scoring_history (id, lead_id, score, recommendation, breakdown, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		history.ID, leadID, history.Score, string(history.Recommendation), []byte(breakdown), history.CreatedAt,
	); err != nil {
		return classify("append scoring history", err)
	}
	return classify("commit lead evaluation", tx.Commit(ctx))
}

// ListScoringHistorySince returns evaluations recorded at or after since.
func (r *Repo) ListScoringHistorySince(ctx context.Context, since time.Time) ([]domain.ScoringHistory, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, lead_id, score, recommendation, breakdown, created_at
		FROM pipeline_lead_scoring_history
		WHERE created_at >= $1
		ORDER BY created_at ASC`, since)
	if err != nil {
		return nil, classify("list scoring history", err)
	}
	defer rows.Close()

	var out []domain.ScoringHistory
	for rows.Next() {
		var (
			h   domain.ScoringHistory
			rec string
			raw []byte
		)
		if err := rows.Scan(&h.ID, &h.LeadID, &h.Score, &rec, &raw, &h.CreatedAt); err != nil {
			return nil, classify("scan scoring history", err)
		}
		h.Recommendation = domain.Recommendation(rec)
		h.Breakdown = raw
		out = append(out, h)
	}
	return out, classify("list scoring history", rows.Err())
}

// CountLeadConversions counts leads created since the cutoff and how many converted.
func (r *Repo) CountLeadConversions(ctx context.Context, since time.Time) (LeadConversionCounts, error) {
	var c LeadConversionCounts
	err := r.pool.QueryRow(ctx, `
		SELECT count(*), count(*) FILTER (WHERE status = 'converted')
		FROM pipeline_leads
		WHERE created_at >= $1`, since,
	).Scan(&c.Total, &c.Converted)
	if err != nil {
		return LeadConversionCounts{}, classify("count lead conversions", err)
	}
	return c, nil
}

func (t *txRepo) FindAccountByName(ctx context.Context, name string) (*domain.Account, error) {
	var a domain.Account
	err := t.q.QueryRow(ctx, `
		SELECT id, name, industry, created_at FROM pipeline_accounts
		WHERE lower(name) = lower($1)
		ORDER BY created_at ASC
		LIMIT 1`, name,
	).Scan(&a.ID, &a.Name, &a.Industry, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("find account", err)
	}
	return &a, nil
}

func (t *txRepo) InsertAccount(ctx context.Context, a domain.Account) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO pipeline_accounts (id, name, industry, created_at) VALUES ($1, $2, $3, $4)`,
		a.ID, a.Name, a.Industry, a.CreatedAt)
	return classify("insert account", err)
}

func (t *txRepo) findContact(ctx context.Context, op, query string, args ...any) (*domain.Contact, error) {
	var c domain.Contact
	err := t.q.QueryRow(ctx, query, args...).Scan(&c.ID, &c.AccountID, &c.Name, &c.Email, &c.Phone, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(op, err)
	}
	return &c, nil
}

func (t *txRepo) FindContactByEmail(ctx context.Context, email string) (*domain.Contact, error) {
	return t.findContact(ctx, "find contact by email", `
		SELECT id, account_id, name, email, phone, created_at FROM pipeline_contacts
		WHERE lower(email) = lower($1)
		ORDER BY created_at ASC
		LIMIT 1`, email)
}

func (t *txRepo) FindContactByName(ctx context.Context, accountID uuid.UUID, name string) (*domain.Contact, error) {
	return t.findContact(ctx, "find contact by name", `
		SELECT id, account_id, name, email, phone, created_at FROM pipeline_contacts
		WHERE account_id = $1 AND lower(name) = lower($2)
		ORDER BY created_at ASC
		LIMIT 1`, accountID, name)
}

func (t *txRepo) InsertContact(ctx context.Context, c domain.Contact) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO pipeline_contacts (id, account_id, name, email, phone, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.AccountID, c.Name, c.Email, c.Phone, c.CreatedAt)
	return classify("insert contact", err)
}

func (t *txRepo) PutLead(ctx context.Context, l domain.Lead, expectedVersion int64) (domain.Lead, error) {
	score := 0.0
	if l.LeadScore != nil {
		score = *l.LeadScore
	}
	updated, err := scanLead(t.q.QueryRow(ctx, `
		UPDATE pipeline_leads SET
			status = $3, lead_score = $4, recommendation = $5, last_evaluation_date = $6,
			converted_deal_id = $7, converted_account_id = $8, converted_contact_id = $9,
			converted_at = $10, conversion_score = $11, version = version + 1, updated_at = $12
		WHERE id = $1 AND version = $2
		RETURNING `+leadColumns,
		l.ID, expectedVersion,
		string(l.Status), score, string(l.Recommendation), l.LastEvaluationDate,
		l.ConvertedDealID, l.ConvertedAccountID, l.ConvertedContactID,
		l.ConvertedAt, l.ConversionScore, l.UpdatedAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Lead{}, fmt.Errorf("put lead %s: %w", l.ID, domain.ErrVersionConflict)
		}
		return domain.Lead{}, classify("put lead", err)
	}
	return updated, nil
}

func (t *txRepo) InsertConversionAudit(ctx context.Context, a domain.ConversionAudit) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO pipeline_conversion_audit (id, lead_id, deal_id, account_id, contact_id, score, converted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.LeadID, a.DealID, a.AccountID, a.ContactID, a.Score, a.ConvertedAt)
	return classify("insert conversion audit", err)
}
