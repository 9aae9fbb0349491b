package memstore

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/domain"
)

// AddDeal seeds a deal and counts it toward its (stage, owner) counter.
func (s *Store) AddDeal(d domain.Deal) {
	s.write(func(st *state) {
		st.deals[d.ID] = d.Clone()
		st.counters[domain.WipKey{Stage: d.Stage, OwnerID: d.OwnerID}]++
	})
}

// AddLead seeds a lead.
func (s *Store) AddLead(l domain.Lead) {
	s.write(func(st *state) { st.leads[l.ID] = l.Clone() })
}

// AddAccount seeds an account.
func (s *Store) AddAccount(a domain.Account) {
	s.write(func(st *state) { st.accounts[a.ID] = a })
}

// AddRule seeds an automation rule.
func (s *Store) AddRule(r domain.AutomationRule) {
	s.mu.Lock()
	s.rules[r.ID] = r
	s.mu.Unlock()
}

// AddActivity records an activity timestamp for a deal.
func (s *Store) AddActivity(dealID uuid.UUID, at time.Time) {
	s.mu.Lock()
	s.activities[dealID] = append(s.activities[dealID], at)
	s.mu.Unlock()
}

// AddUser seeds a directory entry. manager may be nil.
func (s *Store) AddUser(id uuid.UUID, email string, manager *uuid.UUID) {
	s.mu.Lock()
	s.users[id] = user{email: email, manager: manager}
	s.mu.Unlock()
}

// SetCounter overwrites one stored WIP counter.
func (s *Store) SetCounter(key domain.WipKey, count int) {
	s.write(func(st *state) { st.counters[key] = count })
}

// Deal returns the committed deal, if any.
func (s *Store) Deal(id uuid.UUID) (domain.Deal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.st.deals[id]
	return d.Clone(), ok
}

// Lead returns the committed lead, if any.
func (s *Store) Lead(id uuid.UUID) (domain.Lead, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.st.leads[id]
	return l.Clone(), ok
}

// Deals returns every committed deal ordered by id.
func (s *Store) Deals() []domain.Deal {
	s.mu.RLock()
	out := make([]domain.Deal, 0, len(s.st.deals))
	for _, d := range s.st.deals {
		out = append(out, d.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// Counter returns one committed WIP counter.
func (s *Store) Counter(key domain.WipKey) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.counters[key]
}

// Transitions returns every committed transition record.
func (s *Store) Transitions() []domain.TransitionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.TransitionRecord(nil), s.st.transitions...)
}

// Accounts returns committed accounts.
func (s *Store) Accounts() []domain.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Account, 0, len(s.st.accounts))
	for _, a := range s.st.accounts {
		out = append(out, a)
	}
	return out
}

// Contacts returns committed contacts.
func (s *Store) Contacts() []domain.Contact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Contact, 0, len(s.st.contacts))
	for _, c := range s.st.contacts {
		out = append(out, c)
	}
	return out
}

// Audits returns committed conversion audits.
func (s *Store) Audits() []domain.ConversionAudit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.ConversionAudit(nil), s.st.audits...)
}

// Tasks returns stored tasks in insertion order.
func (s *Store) Tasks() []StoredTask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]StoredTask(nil), s.tasks...)
}

// Alerts returns all alerts ordered by creation.
func (s *Store) Alerts() []domain.Alert {
	s.mu.RLock()
	out := make([]domain.Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		out = append(out, a)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// History returns scoring history in insertion order.
func (s *Store) History() []domain.ScoringHistory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.ScoringHistory(nil), s.history...)
}

// AutomationLog returns automation log entries in insertion order.
func (s *Store) AutomationLog() []domain.AutomationLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.AutomationLogEntry(nil), s.automation...)
}

// JobLogs returns saved maintenance runs.
func (s *Store) JobLogs() []domain.JobLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.JobLog(nil), s.jobs...)
}

// StageMetrics returns recorded stage exits.
func (s *Store) StageMetrics() []domain.StageMetric {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.StageMetric(nil), s.metrics...)
}

// Analytics returns stored snapshots.
func (s *Store) Analytics() []domain.AnalyticsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.AnalyticsSnapshot, 0, len(s.analytics))
	for _, a := range s.analytics {
		out = append(out, a)
	}
	return out
}

// Rule returns one stored rule.
func (s *Store) Rule(id uuid.UUID) (domain.AutomationRule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[id]
	return r, ok
}
