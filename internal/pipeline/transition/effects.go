package transition

import (
	"context"

	"github.com/google/uuid"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/events"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/domain"
)

// afterCommit runs the exit and entry effects of a committed transition and
// returns the deal with its recomputed health. Failures are logged only.
func (e *Engine) afterCommit(ctx context.Context, before, after domain.Deal, rec domain.TransitionRecord, depth int) domain.Deal {
	e.recordStageExit(ctx, before, rec)
	e.createAutoTasks(ctx, after)
	e.notifyEntry(ctx, after, rec)
	after = e.refreshHealth(ctx, after)

	if e.deps.Bus != nil {
		e.deps.Bus.Publish(ctx, events.DealStageChanged{
			BaseEvent:      events.At(rec.OccurredAt),
			DealID:         after.ID,
			DealName:       after.Name,
			OwnerID:        after.OwnerID,
			FromStage:      string(rec.FromStage),
			ToStage:        string(rec.ToStage),
			TransitionType: string(rec.Type),
			ActorID:        rec.ActorID,
			WipOverride:    after.WipOverride,
			Depth:          depth,
		})
	}
	return after
}

func (e *Engine) recordStageExit(ctx context.Context, before domain.Deal, rec domain.TransitionRecord) {
	ectx, cancel := e.effectCtx(ctx)
	defer cancel()
	metric := domain.StageMetric{
		ID:        uuid.New(),
		DealID:    before.ID,
		Stage:     before.Stage,
		Days:      rec.DaysInPreviousStage,
		DealValue: before.DealValue,
		OwnerID:   before.OwnerID,
		ExitedAt:  rec.OccurredAt,
	}
	if err := e.deps.Store.SaveStageMetric(ectx, metric); err != nil {
		e.deps.Log.Warn("failed to record stage exit", "deal_id", before.ID.String(), "stage", string(before.Stage), "error", err)
	}
}

func (e *Engine) createAutoTasks(ctx context.Context, deal domain.Deal) {
	if e.deps.Sink == nil {
		return
	}
	def, ok := e.deps.Catalog.Definition(deal.Stage)
	if !ok {
		return
	}
	for _, tmpl := range def.AutoTasks {
		ectx, cancel := e.effectCtx(ctx)
		_, err := e.deps.Sink.CreateTask(ectx, domain.TaskSpec{
			ParentType:  domain.ParentDeal,
			ParentID:    deal.ID,
			AssignedTo:  deal.OwnerID,
			Name:        tmpl.Name,
			Description: tmpl.Description,
			Priority:    tmpl.Priority,
			DueAt:       deal.StageEnteredAt.AddDate(0, 0, tmpl.DueDays),
		})
		cancel()
		if err != nil {
			e.deps.Log.Warn("failed to create stage task", "deal_id", deal.ID.String(), "task", tmpl.Key, "error", err)
		}
	}
}

func (e *Engine) notifyEntry(ctx context.Context, deal domain.Deal, rec domain.TransitionRecord) {
	if e.deps.Sink == nil {
		return
	}
	def, ok := e.deps.Catalog.Definition(deal.Stage)
	if !ok || !def.NotifyOnEntry {
		return
	}
	ectx, cancel := e.effectCtx(ctx)
	defer cancel()
	err := e.deps.Sink.Notify(ectx, domain.Recipient{UserID: deal.OwnerID}, domain.TemplateStageEntry, map[string]any{
		"dealId":    deal.ID.String(),
		"dealName":  deal.Name,
		"fromStage": string(rec.FromStage),
		"toStage":   string(rec.ToStage),
		"actor":     rec.ActorID.String(),
	})
	if err != nil {
		e.deps.Log.Warn("failed to send stage entry notification", "deal_id", deal.ID.String(), "error", err)
	}
}

func (e *Engine) refreshHealth(ctx context.Context, deal domain.Deal) domain.Deal {
	def, ok := e.deps.Catalog.Definition(deal.Stage)
	if !ok {
		return deal
	}
	ectx, cancel := e.effectCtx(ctx)
	defer cancel()

	last, err := e.deps.Store.LastActivity(ectx, deal.ID)
	if err != nil {
		e.deps.Log.Warn("failed to read last activity", "deal_id", deal.ID.String(), "error", err)
	}
	health := domain.HealthScore(deal, def, last, e.deps.Clock.Now())
	if health == deal.HealthScore {
		return deal
	}
	applied, err := e.deps.Store.UpdateDealHealth(ectx, deal.ID, deal.Version, health)
	if err != nil {
		e.deps.Log.Warn("failed to update deal health", "deal_id", deal.ID.String(), "error", err)
		return deal
	}
	if !applied {
		return deal
	}
	deal.HealthScore = health
	return deal
}
