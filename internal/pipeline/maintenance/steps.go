package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/events"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/domain"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/repository"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/scoring"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/wip"
)

const (
	inactivityDays   = 30
	alertDueDays     = 3
	statisticsMonths = 12
	wipViolationPct  = 100.0
)

// Retention windows for cleanupOldData.
const (
	transitionYears    = 2
	automationLogMonth = 6
	scoringYears       = 1
	analyticsYears     = 3
)

func (r *run) listOpenDeals(ctx context.Context) ([]domain.Deal, error) {
	sctx, cancel := r.o.storeCtx(ctx)
	defer cancel()
	deals, err := r.o.deps.Store.ListDeals(sctx, repository.DealFilter{Stages: r.o.deps.Catalog.NonTerminal()})
	if err != nil {
		return nil, fmt.Errorf("list open deals: %w", err)
	}
	return deals, nil
}

// updateDaysInStage refreshes days-in-stage and health, writing only changed
// deals.
func (r *run) updateDaysInStage(ctx context.Context, s *stepRun) error {
	deals, err := r.listOpenDeals(ctx)
	if err != nil {
		return err
	}
	each(ctx, r, deals, func(ictx context.Context, d domain.Deal) {
		s.processed()
		def, ok := r.o.deps.Catalog.Definition(d.Stage)
		if !ok {
			return
		}
		last, err := r.o.deps.Store.LastActivity(ictx, d.ID)
		if err != nil {
			s.fail(d.ID.String(), fmt.Errorf("last activity: %w", err))
			return
		}
		days := domain.DaysBetween(d.StageEnteredAt, r.now)
		health := domain.HealthScore(d, def, last, r.now)
		if days == d.DaysInStage && health == d.HealthScore {
			return
		}
		s.affected()
		if r.opts.DryRun {
			return
		}
		applied, err := r.o.deps.Store.UpdateDealMaintenance(ictx, d.ID, repository.DealUpdate{
			Version:     d.Version,
			DaysInStage: days,
			HealthScore: health,
			IsStale:     d.IsStale,
			StaleReason: d.StaleReason,
		})
		if err != nil {
			s.fail(d.ID.String(), fmt.Errorf("update deal: %w", err))
			return
		}
		if !applied {
			s.moved()
		}
	})
	return nil
}

// staleness is the verdict for one deal.
type staleness struct {
	stale    bool
	severity domain.Severity
	kind     domain.AlertType
	reason   string
}

func (r *run) assess(d domain.Deal, def domain.StageDefinition, last *time.Time) staleness {
	days := domain.DaysBetween(d.StageEnteredAt, r.now)
	switch {
	case def.CriticalDays != nil && days >= *def.CriticalDays:
		return staleness{
			stale: true, severity: domain.SeverityCritical, kind: domain.AlertStaleDeal,
			reason: fmt.Sprintf("Deal has been in %s stage for %d days (critical threshold: %d days)", d.Stage, days, *def.CriticalDays),
		}
	case def.WarningDays != nil && days >= *def.WarningDays:
		return staleness{
			stale: true, severity: domain.SeverityWarning, kind: domain.AlertStaleDeal,
			reason: fmt.Sprintf("Deal has been in %s stage for %d days (warning threshold: %d days)", d.Stage, days, *def.WarningDays),
		}
	}

	ref := last
	if ref == nil {
		since := d.CreatedAt
		if since.IsZero() {
			since = d.StageEnteredAt
		}
		ref = &since
	}
	if idle := domain.DaysBetween(*ref, r.now); idle > inactivityDays {
		return staleness{
			stale: true, severity: domain.SeverityWarning, kind: domain.AlertInactiveDeal,
			reason: fmt.Sprintf("No activity recorded for %d days", idle),
		}
	}
	return staleness{}
}

// detectStaleDeals flags stale deals, raises deduplicated alerts and escalates
// new critical ones.
func (r *run) detectStaleDeals(ctx context.Context, s *stepRun) error {
	deals, err := r.listOpenDeals(ctx)
	if err != nil {
		return err
	}
	var (
		criticalCount int
		warningCount  int
	)
	each(ctx, r, deals, func(ictx context.Context, d domain.Deal) {
		s.processed()
		def, ok := r.o.deps.Catalog.Definition(d.Stage)
		if !ok {
			return
		}
		last, err := r.o.deps.Store.LastActivity(ictx, d.ID)
		if err != nil {
			s.fail(d.ID.String(), fmt.Errorf("last activity: %w", err))
			return
		}
		v := r.assess(d, def, last)

		flagged := false
		if v.stale != d.IsStale || v.reason != d.StaleReason {
			flagged = true
			s.affected()
			if !r.opts.DryRun {
				applied, err := r.o.deps.Store.UpdateDealMaintenance(ictx, d.ID, repository.DealUpdate{
					Version:     d.Version,
					DaysInStage: domain.DaysBetween(d.StageEnteredAt, r.now),
					HealthScore: d.HealthScore,
					IsStale:     v.stale,
					StaleReason: v.reason,
				})
				if err != nil {
					s.fail(d.ID.String(), fmt.Errorf("flag stale: %w", err))
					return
				}
				if !applied {
					// The verdict belongs to a stage visit that has ended.
					s.moved()
					return
				}
			}
		}
		if v.stale {
			s.mu.Lock()
			if v.severity == domain.SeverityCritical {
				criticalCount++
			} else {
				warningCount++
			}
			s.mu.Unlock()
		}
		if !v.stale || r.opts.DryRun {
			return
		}
		if !flagged {
			cur, err := r.o.deps.Store.GetDeal(ictx, d.ID)
			if err != nil {
				s.fail(d.ID.String(), fmt.Errorf("reload deal: %w", err))
				return
			}
			if cur.Version != d.Version {
				return
			}
		}

		alert := domain.Alert{
			ID:             uuid.New(),
			DealID:         d.ID,
			DealName:       d.Name,
			Stage:          d.Stage,
			Type:           v.kind,
			Severity:       v.severity,
			Message:        v.reason,
			AssignedTo:     d.OwnerID,
			DueAt:          r.now.AddDate(0, 0, alertDueDays),
			StageEnteredAt: d.StageEnteredAt,
			CreatedAt:      r.now,
		}
		created, err := r.o.deps.Store.InsertAlert(ictx, alert)
		if err != nil {
			s.fail(d.ID.String(), fmt.Errorf("insert alert: %w", err))
			return
		}
		if !created {
			return
		}
		if r.o.deps.Bus != nil {
			r.o.deps.Bus.Publish(ictx, events.AlertRaised{
				BaseEvent:  events.At(r.now),
				AlertID:    alert.ID,
				DealID:     d.ID,
				Stage:      string(d.Stage),
				Severity:   string(v.severity),
				AlertType:  string(v.kind),
				AssignedTo: d.OwnerID,
				Message:    v.reason,
			})
		}
		if v.severity == domain.SeverityCritical && r.o.deps.Rules != nil {
			if err := r.o.deps.Rules.Escalate(ictx, d, string(domain.SeverityCritical)); err != nil {
				s.fail(d.ID.String(), fmt.Errorf("escalate: %w", err))
			}
		}
	})
	s.detail("critical", criticalCount)
	s.detail("warning", warningCount)
	return nil
}

// processLeadConversions scores a batch of due leads and acts on them.
func (r *run) processLeadConversions(ctx context.Context, s *stepRun) error {
	if r.o.deps.Scoring == nil || r.opts.DryRun {
		s.result.Status = StepSkipped
		return nil
	}
	sctx, cancel := r.o.storeCtx(ctx)
	leads, err := r.o.deps.Store.ListLeadsDue(sctx, r.now.Add(-r.opts.EvaluationCooldown), r.opts.LeadBatchSize)
	cancel()
	if err != nil {
		return fmt.Errorf("list leads due: %w", err)
	}

	actions := map[string]int{}
	each(ctx, r, leads, func(ictx context.Context, l domain.Lead) {
		s.processed()
		out, err := r.o.deps.Scoring.ProcessLead(ictx, l, true)
		if err != nil {
			s.fail(l.ID.String(), err)
			return
		}
		s.mu.Lock()
		actions[string(out.Action)]++
		s.mu.Unlock()
		if out.TaskError != "" {
			s.fail(l.ID.String(), errors.New(out.TaskError))
		}
		if out.Action != scoring.ActionNone {
			s.affected()
		}
	})
	s.detail("actions", actions)
	return nil
}

// executeAutomationRules runs every active rule over its population.
func (r *run) executeAutomationRules(ctx context.Context, s *stepRun) error {
	if r.o.deps.Rules == nil || r.opts.DryRun {
		s.result.Status = StepSkipped
		return nil
	}
	rules, err := r.o.deps.Rules.LoadRules(ctx)
	if err != nil {
		return err
	}
	perRule := map[string]int{}
	for _, rule := range rules {
		if ctx.Err() != nil {
			r.summary.Cancelled = true
			break
		}
		report, err := r.o.deps.Rules.RunRule(ctx, rule)
		if err != nil {
			s.fail(rule.ID.String(), err)
			continue
		}
		if report.Cancelled {
			r.summary.Cancelled = true
		}
		s.mu.Lock()
		s.result.Processed += report.Evaluated
		s.result.Affected += report.Acted
		s.mu.Unlock()
		perRule[rule.Name] = report.Acted
		for _, ie := range report.Errors {
			s.fail(ie.DealID.String(), fmt.Errorf("rule %s: %s", rule.Name, ie.Message))
		}
	}
	s.detail("actedPerRule", perRule)
	return nil
}

// reconcileWip replaces the stored counters with a full recompute taken
// atomically against concurrent reservations.
func (r *run) reconcileWip(ctx context.Context, s *stepRun) error {
	sctx, cancel := r.o.storeCtx(ctx)
	defer cancel()
	rec, err := r.o.deps.Store.ReconcileWip(sctx, !r.opts.DryRun)
	if err != nil {
		return fmt.Errorf("reconcile wip: %w", err)
	}
	drift := wip.Drift(rec.Stored, rec.Recomputed)

	s.result.Processed = rec.Deals
	s.result.Affected = drift
	r.summary.WipDrift = drift
	r.summary.Wip = wip.Describe(r.o.deps.Catalog, rec.Recomputed)
	s.detail("drift", drift)
	if drift > 0 {
		r.o.deps.Log.Warn("wip counters drifted from recompute", "job_id", r.jobID.String(), "keys", drift, "rewritten", !r.opts.DryRun)
	}
	return nil
}

// pipelineAnalytics upserts today's per-(stage, owner) snapshot.
func (r *run) pipelineAnalytics(ctx context.Context, s *stepRun) error {
	deals, err := r.listOpenDeals(ctx)
	if err != nil {
		return err
	}
	day := time.Date(r.now.Year(), r.now.Month(), r.now.Day(), 0, 0, 0, 0, time.UTC)

	type agg struct {
		count, stale int
		value        float64
		days         int
	}
	groups := map[domain.WipKey]*agg{}
	for _, d := range deals {
		key := domain.WipKey{Stage: d.Stage, OwnerID: d.OwnerID}
		g, ok := groups[key]
		if !ok {
			g = &agg{}
			groups[key] = g
		}
		g.count++
		g.value += d.DealValue
		g.days += domain.DaysBetween(d.StageEnteredAt, r.now)
		if d.IsStale {
			g.stale++
		}
	}

	snaps := make([]domain.AnalyticsSnapshot, 0, len(groups))
	for key, g := range groups {
		snaps = append(snaps, domain.AnalyticsSnapshot{
			SnapshotDate: day,
			Stage:        key.Stage,
			OwnerID:      key.OwnerID,
			DealCount:    g.count,
			TotalValue:   g.value,
			AvgDays:      domain.Round(float64(g.days)/float64(g.count), 1),
			StaleCount:   g.stale,
		})
	}
	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].Stage != snaps[j].Stage {
			return r.o.deps.Catalog.Order(snaps[i].Stage) < r.o.deps.Catalog.Order(snaps[j].Stage)
		}
		return snaps[i].OwnerID.String() < snaps[j].OwnerID.String()
	})

	s.result.Processed = len(deals)
	s.result.Affected = len(snaps)
	if r.opts.DryRun {
		return nil
	}
	sctx, cancel := r.o.storeCtx(ctx)
	defer cancel()
	if err := r.o.deps.Store.UpsertAnalytics(sctx, snaps); err != nil {
		return fmt.Errorf("upsert analytics: %w", err)
	}
	return nil
}

// sendAlertNotifications delivers pending alerts and marks the delivered ones.
func (r *run) sendAlertNotifications(ctx context.Context, s *stepRun) error {
	if r.o.deps.Sink == nil || r.opts.DryRun {
		s.result.Status = StepSkipped
		return nil
	}
	sctx, cancel := r.o.storeCtx(ctx)
	alerts, err := r.o.deps.Store.ListPendingAlerts(sctx, r.opts.NotificationBatch)
	cancel()
	if err != nil {
		return fmt.Errorf("list pending alerts: %w", err)
	}

	each(ctx, r, alerts, func(ictx context.Context, a domain.Alert) {
		s.processed()
		err := r.o.deps.Sink.Notify(ictx, domain.Recipient{UserID: a.AssignedTo}, domain.TemplateStaleAlert, map[string]any{
			"dealId":   a.DealID.String(),
			"dealName": a.DealName,
			"stage":    string(a.Stage),
			"severity": string(a.Severity),
			"message":  a.Message,
			"dueDate":  a.DueAt.Format("2006-01-02"),
		})
		if err != nil {
			s.fail(a.ID.String(), fmt.Errorf("notify: %w", err))
			return
		}
		if err := r.o.deps.Store.MarkAlertNotified(ictx, a.ID, r.now); err != nil {
			s.fail(a.ID.String(), fmt.Errorf("mark notified: %w", err))
			return
		}
		s.affected()
	})
	return nil
}

// cleanupOldData prunes rows past their retention window.
func (r *run) cleanupOldData(ctx context.Context, s *stepRun) error {
	if r.opts.DryRun {
		s.result.Status = StepSkipped
		return nil
	}
	cutoffs := repository.RetentionCutoffs{
		Transitions:    r.now.AddDate(-transitionYears, 0, 0),
		AutomationLogs: r.now.AddDate(0, -automationLogMonth, 0),
		ScoringHistory: r.now.AddDate(-scoringYears, 0, 0),
		Analytics:      r.now.AddDate(-analyticsYears, 0, 0),
	}
	sctx, cancel := r.o.storeCtx(ctx)
	defer cancel()
	deleted, err := r.o.deps.Store.Prune(sctx, cutoffs)
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}
	total := 0
	for _, n := range deleted {
		total += int(n)
	}
	s.result.Affected = total
	s.detail("deleted", deleted)
	return nil
}

// statistics summarises pipeline health after the pass.
func (r *run) statistics(ctx context.Context) Statistics {
	var st Statistics
	deals, err := r.listOpenDeals(ctx)
	if err != nil {
		r.o.deps.Log.Warn("failed to compute pipeline statistics", "error", err)
		return st
	}
	st.ActiveDeals = len(deals)
	if len(deals) > 0 {
		health, stale := 0, 0
		for _, d := range deals {
			health += d.HealthScore
			if d.IsStale {
				stale++
			}
		}
		st.AverageHealth = domain.Round(float64(health)/float64(len(deals)), 1)
		st.StalePercent = domain.Round(float64(stale)/float64(len(deals))*100, 1)
	}
	for _, c := range r.summary.Wip {
		if c.UtilizationPercent > wipViolationPct {
			st.WipViolations++
		}
	}

	since := r.now.AddDate(0, -statisticsMonths, 0)
	sctx, cancel := r.o.storeCtx(ctx)
	defer cancel()
	if counts, err := r.o.deps.Store.CountLeadConversions(sctx, since); err != nil {
		r.o.deps.Log.Warn("failed to count lead conversions", "error", err)
	} else {
		st.LeadsEvaluated12m = counts.Total
		st.LeadsConverted12m = counts.Converted
		if counts.Total > 0 {
			st.ConversionRate12m = domain.Round(float64(counts.Converted)/float64(counts.Total)*100, 1)
		}
	}

	won, err := r.o.deps.Store.ListDeals(sctx, repository.DealFilter{
		Stages:         []domain.Stage{domain.StageClosedWon},
		ClosedWonSince: &since,
	})
	if err != nil {
		r.o.deps.Log.Warn("failed to list won deals", "error", err)
		return st
	}
	st.DealsWon12m = len(won)
	if len(won) > 0 {
		days := 0
		for _, d := range won {
			closed := r.now
			if d.ClosedAt != nil {
				closed = *d.ClosedAt
			}
			days += domain.DaysBetween(d.CreatedAt, closed)
		}
		st.AverageWonDealDays = domain.Round(float64(days)/float64(len(won)), 1)
	}
	return st
}
