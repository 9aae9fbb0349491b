package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/events"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/domain"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/repository"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/retry"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/wip"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/clock"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/logger"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/phone"
)

// Action is what the engine did after scoring.
type Action string

const (
	ActionNone                 Action = "none"
	ActionConverted            Action = "converted"
	ActionConversionFailed     Action = "conversion_failed"
	ActionReviewTask           Action = "review_task"
	ActionQualificationTasks   Action = "qualification_tasks"
	ActionDisqualificationTask Action = "disqualification_task"
)

const (
	conversionProbability       = 20
	revenueMultipleForDealValue = 3
)

// Outcome is the result of scoring a lead and, optionally, acting on it.
type Outcome struct {
	Lead      domain.Lead `json:"lead"`
	Result    ScoreResult `json:"result"`
	Action    Action      `json:"action"`
	Reason    string      `json:"reason,omitempty"`
	DealID    *uuid.UUID  `json:"dealId,omitempty"`
	AccountID *uuid.UUID  `json:"accountId,omitempty"`
	ContactID *uuid.UUID  `json:"contactId,omitempty"`
	TaskIDs   []uuid.UUID `json:"taskIds,omitempty"`
	TaskError string      `json:"taskError,omitempty"`
}

// Deps wires the engine's collaborators.
type Deps struct {
	Store             repository.Store
	Catalog           *domain.Catalog
	Limiter           *wip.Limiter
	Sink              domain.Sink
	Bus               events.Bus
	Clock             clock.Clock
	Log               *logger.Logger
	Tables            Tables
	PhoneRegion       string
	StoreTimeout      time.Duration
	SideEffectTimeout time.Duration
	Retry             retry.Policy
}

// Engine scores leads, persists evaluations and executes conversions.
type Engine struct {
	scorer *Scorer
	deps   Deps
}

// NewEngine returns an engine. Zero-valued optional deps get defaults.
func NewEngine(d Deps) *Engine {
	if d.Clock == nil {
		d.Clock = clock.System{}
	}
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	if d.Limiter == nil {
		d.Limiter = wip.NewLimiter(d.Catalog)
	}
	if d.Retry.Attempts == 0 {
		d.Retry = retry.Default
	}
	if d.Tables.Weights == nil {
		d.Tables = DefaultTables()
	}
	return &Engine{scorer: NewScorer(d.Tables), deps: d}
}

// Scorer exposes the pure scorer.
func (e *Engine) Scorer() *Scorer { return e.scorer }

func (e *Engine) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.deps.StoreTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.deps.StoreTimeout)
}

func (e *Engine) effectCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.deps.SideEffectTimeout <= 0 {
		return context.WithoutCancel(ctx), func() {}
	}
	return context.WithTimeout(context.WithoutCancel(ctx), e.deps.SideEffectTimeout)
}

// Process scores a lead, persists the evaluation and, when apply is set,
// executes the recommended action.
func (e *Engine) Process(ctx context.Context, leadID uuid.UUID, apply bool) (Outcome, error) {
	var lead domain.Lead
	err := e.deps.Retry.Do(ctx, e.deps.Log, "get lead", func() error {
		sctx, cancel := e.storeCtx(ctx)
		defer cancel()
		var err error
		lead, err = e.deps.Store.GetLead(sctx, leadID)
		return err
	})
	if err != nil {
		return Outcome{}, err
	}
	return e.ProcessLead(ctx, lead, apply)
}

// ProcessLead is Process for a lead already in hand.
func (e *Engine) ProcessLead(ctx context.Context, lead domain.Lead, apply bool) (Outcome, error) {
	lead, result, err := e.evaluate(ctx, lead)
	if err != nil {
		return Outcome{}, err
	}
	if !apply {
		return Outcome{Lead: lead, Result: result, Action: ActionNone}, nil
	}
	return e.Act(ctx, lead, result)
}

func (e *Engine) evaluate(ctx context.Context, lead domain.Lead) (domain.Lead, ScoreResult, error) {
	result := e.scorer.Score(lead)
	now := e.deps.Clock.Now()

	breakdown, err := json.Marshal(result.Breakdown)
	if err != nil {
		return lead, result, fmt.Errorf("encode breakdown: %w", err)
	}
	history := domain.ScoringHistory{
		ID:             uuid.New(),
		LeadID:         lead.ID,
		Score:          result.Score,
		Recommendation: result.Recommendation,
		Breakdown:      breakdown,
		CreatedAt:      now,
	}
	err = e.deps.Retry.Do(ctx, e.deps.Log, "save lead evaluation", func() error {
		sctx, cancel := e.storeCtx(ctx)
		defer cancel()
		return e.deps.Store.SaveEvaluation(sctx, lead.ID, result.Score, result.Recommendation, now, history)
	})
	if err != nil {
		return lead, result, err
	}

	score := result.Score
	lead.LeadScore = &score
	lead.Recommendation = result.Recommendation
	lead.LastEvaluationDate = &now
	if lead.Status == domain.LeadNew {
		lead.Status = domain.LeadQualifying
	}
	e.deps.Log.Info("lead scored",
		"lead_id", lead.ID.String(),
		"score", result.Score,
		"recommendation", string(result.Recommendation))
	return lead, result, nil
}

// Act executes the action the recommendation calls for. Conversion failures
// are reported in the outcome, not as errors.
func (e *Engine) Act(ctx context.Context, lead domain.Lead, result ScoreResult) (Outcome, error) {
	out := Outcome{Lead: lead, Result: result}

	switch result.Recommendation {
	case domain.RecommendAutoConversion:
		if ok, why := e.scorer.ConversionGate(lead, result); !ok {
			out.Action = ActionReviewTask
			out.Reason = "Auto-conversion criteria not fully met"
			e.deps.Log.Info("auto-conversion gated", "lead_id", lead.ID.String(), "reason", why)
			e.addTask(ctx, &out, e.reviewTask(lead, result, out.Reason))
			return out, nil
		}
		return e.convert(ctx, lead, result)

	case domain.RecommendReviewConversion:
		out.Action = ActionReviewTask
		out.Reason = "Manual review required for conversion"
		e.addTask(ctx, &out, e.reviewTask(lead, result, out.Reason))

	case domain.RecommendQualificationRequired:
		out.Action = ActionQualificationTasks
		for _, action := range result.RequiredActions {
			e.addTask(ctx, &out, domain.TaskSpec{
				ParentType:  domain.ParentLead,
				ParentID:    lead.ID,
				AssignedTo:  lead.OwnerID,
				Name:        "Lead Qualification: " + action,
				Description: fmt.Sprintf("Lead: %s\nScore: %.2f\nAction: %s", lead.CompanyName, result.Score, action),
				Priority:    domain.PriorityMedium,
				DueAt:       e.deps.Clock.Now().AddDate(0, 0, 7),
			})
		}

	default:
		out.Action = ActionDisqualificationTask
		desc := fmt.Sprintf("Low lead score: %.2f\nConsider disqualification or further qualification efforts.", result.Score)
		e.addTask(ctx, &out, domain.TaskSpec{
			ParentType:  domain.ParentLead,
			ParentID:    lead.ID,
			AssignedTo:  lead.OwnerID,
			Name:        "Review Lead for Disqualification: " + lead.CompanyName,
			Description: desc,
			Priority:    domain.PriorityLow,
			DueAt:       e.deps.Clock.Now().AddDate(0, 0, 14),
		})
	}
	return out, nil
}

func (e *Engine) reviewTask(lead domain.Lead, result ScoreResult, reason string) domain.TaskSpec {
	desc := fmt.Sprintf("Lead Score: %.2f\nReason: %s\nRequired Actions: %s",
		result.Score, reason, strings.Join(result.RequiredActions, ", "))
	return domain.TaskSpec{
		ParentType:  domain.ParentLead,
		ParentID:    lead.ID,
		AssignedTo:  lead.OwnerID,
		Name:        "Review Lead for Conversion: " + lead.CompanyName,
		Description: desc,
		Priority:    domain.PriorityHigh,
		DueAt:       e.deps.Clock.Now().AddDate(0, 0, 3),
	}
}

func (e *Engine) addTask(ctx context.Context, out *Outcome, spec domain.TaskSpec) {
	if e.deps.Sink == nil {
		return
	}
	ectx, cancel := e.effectCtx(ctx)
	defer cancel()
	id, err := e.deps.Sink.CreateTask(ectx, spec)
	if err != nil {
		e.deps.Log.Warn("failed to create lead task", "lead_id", spec.ParentID.String(), "task", spec.Name, "error", err)
		out.TaskError = err.Error()
		return
	}
	out.TaskIDs = append(out.TaskIDs, id)
}

type conversion struct {
	lead    domain.Lead
	deal    domain.Deal
	account domain.Account
	contact domain.Contact
}

func (e *Engine) convert(ctx context.Context, lead domain.Lead, result ScoreResult) (Outcome, error) {
	out := Outcome{Lead: lead, Result: result}

	var conv conversion
	err := e.deps.Retry.Do(ctx, e.deps.Log, "convert lead", func() error {
		sctx, cancel := e.storeCtx(ctx)
		defer cancel()
		var err error
		conv, err = e.runConversion(sctx, lead, result)
		return err
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return out, err
		}
		e.deps.Log.Error("auto-conversion failed", "lead_id", lead.ID.String(), "error", err)
		out.Action = ActionConversionFailed
		out.Reason = "Auto-conversion failed: " + err.Error()
		e.addTask(ctx, &out, e.reviewTask(lead, result, out.Reason))
		return out, nil
	}

	out.Action = ActionConverted
	out.Lead = conv.lead
	out.DealID = &conv.deal.ID
	out.AccountID = &conv.account.ID
	out.ContactID = &conv.contact.ID
	e.deps.Log.Info("lead auto-converted",
		"lead_id", lead.ID.String(),
		"deal_id", conv.deal.ID.String(),
		"score", result.Score)

	if e.deps.Bus != nil {
		e.deps.Bus.Publish(ctx, events.LeadConverted{
			BaseEvent: events.At(e.deps.Clock.Now()),
			LeadID:    lead.ID,
			DealID:    conv.deal.ID,
			AccountID: conv.account.ID,
			ContactID: conv.contact.ID,
			OwnerID:   lead.OwnerID,
			Company:   lead.CompanyName,
			Score:     result.Score,
		})
	}
	if e.deps.Sink != nil {
		ectx, cancel := e.effectCtx(ctx)
		defer cancel()
		if err := e.deps.Sink.Notify(ectx, domain.Recipient{UserID: lead.OwnerID}, domain.TemplateLeadConverted, map[string]any{
			"company":  lead.CompanyName,
			"dealId":   conv.deal.ID.String(),
			"dealName": conv.deal.Name,
			"score":    result.Score,
		}); err != nil {
			e.deps.Log.Warn("failed to send conversion notification", "lead_id", lead.ID.String(), "error", err)
		}
	}
	return out, nil
}

// runConversion performs the whole conversion as one unit of work.
func (e *Engine) runConversion(ctx context.Context, lead domain.Lead, result ScoreResult) (conversion, error) {
	now := e.deps.Clock.Now()
	var conv conversion

	err := e.deps.Store.RunInTx(ctx, func(tx repository.Tx) error {
		account, err := tx.FindAccountByName(ctx, lead.CompanyName)
		if err != nil {
			return fmt.Errorf("find account: %w", err)
		}
		if account == nil {
			account = &domain.Account{ID: uuid.New(), Name: lead.CompanyName, Industry: lead.Industry, CreatedAt: now}
			if err := tx.InsertAccount(ctx, *account); err != nil {
				return fmt.Errorf("create account: %w", err)
			}
		}

		contact, err := e.resolveContact(ctx, tx, lead, account.ID, now)
		if err != nil {
			return err
		}

		deal := e.dealFromLead(lead, account.ID, now)
		if err := tx.InsertDeal(ctx, deal); err != nil {
			return fmt.Errorf("create deal: %w", err)
		}
		if err := e.deps.Limiter.Reserve(ctx, tx.Counters(), deal.Stage, deal.OwnerID); err != nil {
			return err
		}

		converted := lead.Clone()
		score := result.Score
		converted.Status = domain.LeadConverted
		converted.ConvertedDealID = &deal.ID
		converted.ConvertedAccountID = &account.ID
		converted.ConvertedContactID = &contact.ID
		converted.ConvertedAt = &now
		converted.ConversionScore = &score
		converted.UpdatedAt = now
		updated, err := tx.PutLead(ctx, converted, lead.Version)
		if err != nil {
			return fmt.Errorf("mark lead converted: %w", err)
		}

		if err := tx.InsertConversionAudit(ctx, domain.ConversionAudit{
			ID:          uuid.New(),
			LeadID:      lead.ID,
			DealID:      deal.ID,
			AccountID:   account.ID,
			ContactID:   contact.ID,
			Score:       result.Score,
			ConvertedAt: now,
		}); err != nil {
			return fmt.Errorf("write conversion audit: %w", err)
		}

		conv = conversion{lead: updated, deal: deal, account: *account, contact: contact}
		return nil
	})
	return conv, err
}

func (e *Engine) resolveContact(ctx context.Context, tx repository.Tx, lead domain.Lead, accountID uuid.UUID, now time.Time) (domain.Contact, error) {
	email := strings.TrimSpace(lead.PrimaryContactEmail)
	if email != "" {
		found, err := tx.FindContactByEmail(ctx, email)
		if err != nil {
			return domain.Contact{}, fmt.Errorf("find contact: %w", err)
		}
		if found != nil {
			return *found, nil
		}
	}
	name := strings.TrimSpace(lead.PrimaryContactName)
	if name != "" {
		found, err := tx.FindContactByName(ctx, accountID, name)
		if err != nil {
			return domain.Contact{}, fmt.Errorf("find contact: %w", err)
		}
		if found != nil {
			return *found, nil
		}
	}

	contact := domain.Contact{
		ID:        uuid.New(),
		AccountID: &accountID,
		Name:      name,
		Email:     email,
		Phone:     phone.NormalizeE164(lead.PrimaryContactPhone, e.deps.PhoneRegion),
		CreatedAt: now,
	}
	if err := tx.InsertContact(ctx, contact); err != nil {
		return domain.Contact{}, fmt.Errorf("create contact: %w", err)
	}
	return contact, nil
}

func (e *Engine) dealFromLead(lead domain.Lead, accountID uuid.UUID, now time.Time) domain.Deal {
	value := 0.0
	switch {
	case lead.EstimatedDealValue != nil:
		value = *lead.EstimatedDealValue
	case lead.AnnualRevenue != nil:
		value = *lead.AnnualRevenue * revenueMultipleForDealValue
	}

	attrs := map[string]string{
		"company_name": lead.CompanyName,
		"industry":     lead.Industry,
	}
	setFloat := func(key string, v *float64) {
		if v != nil {
			attrs[key] = strconv.FormatFloat(*v, 'f', -1, 64)
		}
	}
	setFloat("annual_revenue", lead.AnnualRevenue)
	setFloat("ebitda", lead.Ebitda)
	setFloat("growth_rate", lead.GrowthRate)
	if lead.EmployeeCount != nil {
		attrs["employee_count"] = strconv.Itoa(*lead.EmployeeCount)
	}
	if lead.Region != "" {
		attrs["geographic_focus"] = lead.Region
	}
	if lead.LeadSource != "" {
		attrs["deal_source"] = lead.LeadSource
	}
	if lead.PrimaryContactName != "" {
		attrs["primary_contact"] = lead.PrimaryContactName
	}
	if lead.InterestLevel != "" {
		attrs["interest_level"] = lead.InterestLevel
	}

	leadID := lead.ID
	deal := domain.Deal{
		ID:             uuid.New(),
		Name:           lead.CompanyName + " - Acquisition Opportunity",
		Stage:          e.deps.Catalog.InitialStage(),
		StageEnteredAt: now,
		OwnerID:        lead.OwnerID,
		DealValue:      value,
		Probability:    conversionProbability,
		AccountID:      &accountID,
		LeadID:         &leadID,
		Attributes:     attrs,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	def, _ := e.deps.Catalog.Definition(deal.Stage)
	deal.HealthScore = domain.HealthScore(deal, def, nil, now)
	return deal
}
