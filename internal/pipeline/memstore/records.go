package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/domain"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/repository"
)

// GetLead reads one lead.
func (s *Store) GetLead(ctx context.Context, id uuid.UUID) (domain.Lead, error) {
	if err := s.fail("GetLead"); err != nil {
		return domain.Lead{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.st.leads[id]
	if !ok {
		return domain.Lead{}, leadNotFound()
	}
	return l.Clone(), nil
}

// ListLeadsDue returns open leads due for evaluation, highest score first.
func (s *Store) ListLeadsDue(ctx context.Context, cutoff time.Time, limit int) ([]domain.Lead, error) {
	if err := s.fail("ListLeadsDue"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var out []domain.Lead
	for _, l := range s.st.leads {
		if l.Status.Closed() {
			continue
		}
		if l.LastEvaluationDate != nil && !l.LastEvaluationDate.Before(cutoff) {
			continue
		}
		out = append(out, l.Clone())
	}
	s.mu.RUnlock()

	score := func(l domain.Lead) float64 {
		if l.LeadScore == nil {
			return 0
		}
		return *l.LeadScore
	}
	sort.Slice(out, func(i, j int) bool {
		if score(out[i]) != score(out[j]) {
			return score(out[i]) > score(out[j])
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SaveEvaluation stores the latest score and appends history.
func (s *Store) SaveEvaluation(ctx context.Context, leadID uuid.UUID, score float64, rec domain.Recommendation, at time.Time, history domain.ScoringHistory) error {
	if err := s.fail("SaveEvaluation"); err != nil {
		return err
	}
	var missing bool
	s.write(func(st *state) {
		l, ok := st.leads[leadID]
		if !ok {
			missing = true
			return
		}
		sc := score
		ts := at
		l.LeadScore = &sc
		l.Recommendation = rec
		l.LastEvaluationDate = &ts
		if l.Status == domain.LeadNew {
			l.Status = domain.LeadQualifying
		}
		st.leads[leadID] = l
	})
	if missing {
		return leadNotFound()
	}
	s.mu.Lock()
	s.history = append(s.history, history)
	s.mu.Unlock()
	return nil
}

// ListScoringHistorySince returns history rows at or after since.
func (s *Store) ListScoringHistorySince(ctx context.Context, since time.Time) ([]domain.ScoringHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ScoringHistory
	for _, h := range s.history {
		if !h.CreatedAt.Before(since) {
			out = append(out, h)
		}
	}
	return out, nil
}

// CountLeadConversions counts leads created since the cutoff and how many converted.
func (s *Store) CountLeadConversions(ctx context.Context, since time.Time) (repository.LeadConversionCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var c repository.LeadConversionCounts
	for _, l := range s.st.leads {
		if l.CreatedAt.Before(since) {
			continue
		}
		c.Total++
		if l.Status == domain.LeadConverted {
			c.Converted++
		}
	}
	return c, nil
}

// ListActiveRules returns active rules by ascending priority.
func (s *Store) ListActiveRules(ctx context.Context) ([]domain.AutomationRule, error) {
	if err := s.fail("ListActiveRules"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var out []domain.AutomationRule
	for _, r := range s.rules {
		if r.IsActive {
			r.Conditions = append([]string(nil), r.Conditions...)
			out = append(out, r)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// RecordRuleExecution bumps the rule's counters.
func (s *Store) RecordRuleExecution(ctx context.Context, ruleID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rules[ruleID]; ok {
		ts := at
		r.ExecutionCount++
		r.LastExecutedAt = &ts
		s.rules[ruleID] = r
	}
	return nil
}

// HasAutomationLog reports whether the rule already acted on this stage visit.
func (s *Store) HasAutomationLog(ctx context.Context, ruleID, dealID uuid.UUID, stageEnteredAt time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.automation {
		if e.RuleID == ruleID && e.DealID == dealID && e.StageEnteredAt.Equal(stageEnteredAt) && e.Status == domain.AutomationSuccess {
			return true, nil
		}
	}
	return false, nil
}

// AppendAutomationLog records a rule attempt.
func (s *Store) AppendAutomationLog(ctx context.Context, e domain.AutomationLogEntry) error {
	if err := s.fail("AppendAutomationLog"); err != nil {
		return err
	}
	s.mu.Lock()
	s.automation = append(s.automation, e)
	s.mu.Unlock()
	return nil
}

// SaveStageMetric records a stage exit.
func (s *Store) SaveStageMetric(ctx context.Context, m domain.StageMetric) error {
	if err := s.fail("SaveStageMetric"); err != nil {
		return err
	}
	s.mu.Lock()
	s.metrics = append(s.metrics, m)
	s.mu.Unlock()
	return nil
}

// InsertAlert creates an alert unless its dedup key exists.
func (s *Store) InsertAlert(ctx context.Context, a domain.Alert) (bool, error) {
	if err := s.fail("InsertAlert"); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.alerts {
		if existing.DealID == a.DealID && existing.Severity == a.Severity && existing.StageEnteredAt.Equal(a.StageEnteredAt) {
			return false, nil
		}
	}
	s.alerts[a.ID] = a
	return true, nil
}

// ListPendingAlerts returns un-notified alerts, oldest first.
func (s *Store) ListPendingAlerts(ctx context.Context, limit int) ([]domain.Alert, error) {
	s.mu.RLock()
	var out []domain.Alert
	for _, a := range s.alerts {
		if a.NotifiedAt == nil {
			if d, ok := s.st.deals[a.DealID]; ok {
				a.DealName = d.Name
			}
			out = append(out, a)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkAlertNotified stamps an alert as sent.
func (s *Store) MarkAlertNotified(ctx context.Context, id uuid.UUID, at time.Time) error {
	if err := s.fail("MarkAlertNotified"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.alerts[id]; ok {
		ts := at
		a.NotifiedAt = &ts
		s.alerts[id] = a
	}
	return nil
}

func analyticsKey(s domain.AnalyticsSnapshot) string {
	return s.SnapshotDate.Format("2006-01-02") + "|" + string(s.Stage) + "|" + s.OwnerID.String()
}

// UpsertAnalytics writes daily snapshots keyed by (date, stage, owner).
func (s *Store) UpsertAnalytics(ctx context.Context, snapshots []domain.AnalyticsSnapshot) error {
	if err := s.fail("UpsertAnalytics"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range snapshots {
		s.analytics[analyticsKey(snap)] = snap
	}
	return nil
}

// Prune deletes rows older than the retention cutoffs.
func (s *Store) Prune(ctx context.Context, c repository.RetentionCutoffs) (map[string]int64, error) {
	if err := s.fail("Prune"); err != nil {
		return nil, err
	}
	out := map[string]int64{}

	s.write(func(st *state) {
		kept := st.transitions[:0:0]
		for _, rec := range st.transitions {
			if rec.OccurredAt.Before(c.Transitions) {
				out["pipeline_transitions"]++
				continue
			}
			kept = append(kept, rec)
		}
		st.transitions = kept
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	keptLogs := s.automation[:0:0]
	for _, e := range s.automation {
		if e.CreatedAt.Before(c.AutomationLogs) {
			out["pipeline_automation_log"]++
			continue
		}
		keptLogs = append(keptLogs, e)
	}
	s.automation = keptLogs

	keptHistory := s.history[:0:0]
	for _, h := range s.history {
		if h.CreatedAt.Before(c.ScoringHistory) {
			out["pipeline_lead_scoring_history"]++
			continue
		}
		keptHistory = append(keptHistory, h)
	}
	s.history = keptHistory

	for k, snap := range s.analytics {
		if snap.SnapshotDate.Before(c.Analytics) {
			out["pipeline_analytics"]++
			delete(s.analytics, k)
		}
	}
	return out, nil
}

// SaveJobLog stores a maintenance summary.
func (s *Store) SaveJobLog(ctx context.Context, l domain.JobLog) error {
	if err := s.fail("SaveJobLog"); err != nil {
		return err
	}
	s.mu.Lock()
	s.jobs = append(s.jobs, l)
	s.mu.Unlock()
	return nil
}

// ManagerOf returns a seeded user's manager.
func (s *Store) ManagerOf(ctx context.Context, userID uuid.UUID) (uuid.UUID, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok || u.manager == nil {
		return uuid.Nil, false, nil
	}
	return *u.manager, true, nil
}

// UserEmail returns a seeded user's email.
func (s *Store) UserEmail(ctx context.Context, userID uuid.UUID) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.users[userID].email, nil
}

// InsertTask stores a generated task.
func (s *Store) InsertTask(ctx context.Context, id uuid.UUID, spec domain.TaskSpec) error {
	if err := s.fail("InsertTask"); err != nil {
		return err
	}
	s.mu.Lock()
	s.tasks = append(s.tasks, StoredTask{ID: id, TaskSpec: spec})
	s.mu.Unlock()
	return nil
}
