// Package memstore is an in-memory pipeline record store. Transactions work
// on a cloned snapshot that replaces the live state only on commit.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/domain"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/repository"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/wip"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/apperr"
)

// state holds everything a transaction may write.
type state struct {
	deals       map[uuid.UUID]domain.Deal
	leads       map[uuid.UUID]domain.Lead
	accounts    map[uuid.UUID]domain.Account
	contacts    map[uuid.UUID]domain.Contact
	transitions []domain.TransitionRecord
	audits      []domain.ConversionAudit
	counters    map[domain.WipKey]int
}

func newState() *state {
	return &state{
		deals:    make(map[uuid.UUID]domain.Deal),
		leads:    make(map[uuid.UUID]domain.Lead),
		accounts: make(map[uuid.UUID]domain.Account),
		contacts: make(map[uuid.UUID]domain.Contact),
		counters: make(map[domain.WipKey]int),
	}
}

func (s *state) clone() *state {
	out := &state{
		deals:       make(map[uuid.UUID]domain.Deal, len(s.deals)),
		leads:       make(map[uuid.UUID]domain.Lead, len(s.leads)),
		accounts:    make(map[uuid.UUID]domain.Account, len(s.accounts)),
		contacts:    make(map[uuid.UUID]domain.Contact, len(s.contacts)),
		transitions: append([]domain.TransitionRecord(nil), s.transitions...),
		audits:      append([]domain.ConversionAudit(nil), s.audits...),
		counters:    make(map[domain.WipKey]int, len(s.counters)),
	}
	for k, v := range s.deals {
		out.deals[k] = v.Clone()
	}
	for k, v := range s.leads {
		out.leads[k] = v.Clone()
	}
	for k, v := range s.accounts {
		out.accounts[k] = v
	}
	for k, v := range s.contacts {
		out.contacts[k] = v
	}
	for k, v := range s.counters {
		out.counters[k] = v
	}
	return out
}

type user struct {
	email   string
	manager *uuid.UUID
}

type failure struct {
	err       error
	remaining int
}

// Store implements repository.Store in memory.
type Store struct {
	// txMu serializes writers so a committed snapshot never overwrites a
	// concurrent write.
	txMu sync.Mutex
	mu   sync.RWMutex
	st   *state

	rules        map[uuid.UUID]domain.AutomationRule
	automation   []domain.AutomationLogEntry
	alerts       map[uuid.UUID]domain.Alert
	tasks        []StoredTask
	metrics      []domain.StageMetric
	analytics    map[string]domain.AnalyticsSnapshot
	history      []domain.ScoringHistory
	jobs         []domain.JobLog
	activities   map[uuid.UUID][]time.Time
	users        map[uuid.UUID]user
	failures     map[string]*failure
	beforeCommit func()
}

// StoredTask is a task persisted through InsertTask.
type StoredTask struct {
	ID uuid.UUID
	domain.TaskSpec
}

// New returns an empty store.
func New() *Store {
	return &Store{
		st:         newState(),
		rules:      make(map[uuid.UUID]domain.AutomationRule),
		alerts:     make(map[uuid.UUID]domain.Alert),
		analytics:  make(map[string]domain.AnalyticsSnapshot),
		activities: make(map[uuid.UUID][]time.Time),
		users:      make(map[uuid.UUID]user),
		failures:   make(map[string]*failure),
	}
}

var _ repository.Store = (*Store)(nil)

// FailOn makes the next n calls to op return err. n < 0 fails forever.
func (s *Store) FailOn(op string, err error, n int) {
	s.mu.Lock()
	s.failures[op] = &failure{err: err, remaining: n}
	s.mu.Unlock()
}

// ClearFailures removes all injected failures.
func (s *Store) ClearFailures() {
	s.mu.Lock()
	s.failures = make(map[string]*failure)
	s.mu.Unlock()
}

// BeforeCommit registers a hook run after a transaction body succeeds and
// before its snapshot is swapped in.
func (s *Store) BeforeCommit(fn func()) {
	s.mu.Lock()
	s.beforeCommit = fn
	s.mu.Unlock()
}

func (s *Store) fail(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.failures[op]
	if !ok || f.remaining == 0 {
		return nil
	}
	if f.remaining > 0 {
		f.remaining--
	}
	return fmt.Errorf("%s: %w", op, f.err)
}

// RunInTx runs fn on a cloned snapshot and swaps it in when fn succeeds.
func (s *Store) RunInTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.fail("RunInTx"); err != nil {
		return err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.st.clone()
	hook := s.beforeCommit
	s.mu.RUnlock()

	if err := fn(&tx{store: s, st: snapshot}); err != nil {
		return err
	}
	if hook != nil {
		hook()
	}
	if err := s.fail("Commit"); err != nil {
		return err
	}

	s.mu.Lock()
	s.st = snapshot
	s.mu.Unlock()
	return nil
}

// write runs fn against live state under both locks.
func (s *Store) write(fn func(st *state)) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.st)
}

func dealMatches(d domain.Deal, f repository.DealFilter) bool {
	if len(f.Stages) > 0 && !containsStage(f.Stages, d.Stage) {
		return false
	}
	if len(f.ExcludeStages) > 0 && containsStage(f.ExcludeStages, d.Stage) {
		return false
	}
	if f.OwnerID != nil && d.OwnerID != *f.OwnerID {
		return false
	}
	if f.ClosedWonSince != nil {
		if d.Stage != domain.StageClosedWon || d.ClosedAt == nil || d.ClosedAt.Before(*f.ClosedWonSince) {
			return false
		}
	}
	return true
}

func containsStage(list []domain.Stage, s domain.Stage) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func dealNotFound() error {
	return apperr.Wrap(apperr.KindNotFound, "deal not found", domain.ErrNotFound)
}

func leadNotFound() error {
	return apperr.Wrap(apperr.KindNotFound, "lead not found", domain.ErrNotFound)
}

// GetDeal reads one deal.
func (s *Store) GetDeal(ctx context.Context, id uuid.UUID) (domain.Deal, error) {
	if err := s.fail("GetDeal"); err != nil {
		return domain.Deal{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.st.deals[id]
	if !ok {
		return domain.Deal{}, dealNotFound()
	}
	return d.Clone(), nil
}

// ListDeals returns matching deals ordered by id.
func (s *Store) ListDeals(ctx context.Context, f repository.DealFilter) ([]domain.Deal, error) {
	if err := s.fail("ListDeals"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]domain.Deal, 0, len(s.st.deals))
	for _, d := range s.st.deals {
		if dealMatches(d, f) {
			out = append(out, d.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// StreamDeals calls fn for each matching deal on a point-in-time copy.
func (s *Store) StreamDeals(ctx context.Context, f repository.DealFilter, fn func(domain.Deal) error) error {
	deals, err := s.ListDeals(ctx, f)
	if err != nil {
		return err
	}
	for _, d := range deals {
		if err := fn(d); err != nil {
			return err
		}
	}
	return nil
}

// HasOpenDealForCompany reports whether another open deal shares the company name.
func (s *Store) HasOpenDealForCompany(ctx context.Context, company string, excludeID uuid.UUID) (bool, error) {
	if err := s.fail("HasOpenDealForCompany"); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.st.deals {
		if d.ID == excludeID {
			continue
		}
		switch d.Stage {
		case domain.StageClosedWon, domain.StageClosedLost, domain.StageUnavailable:
			continue
		}
		if strings.EqualFold(d.Field("company_name"), company) {
			return true, nil
		}
	}
	return false, nil
}

// ListTransitions returns a deal's history, oldest first.
func (s *Store) ListTransitions(ctx context.Context, dealID uuid.UUID) ([]domain.TransitionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.TransitionRecord
	for _, rec := range s.st.transitions {
		if rec.DealID == dealID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// LastActivity returns the latest activity time recorded for a deal.
func (s *Store) LastActivity(ctx context.Context, dealID uuid.UUID) (*time.Time, error) {
	if err := s.fail("LastActivity"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last *time.Time
	for _, at := range s.activities[dealID] {
		if last == nil || at.After(*last) {
			t := at
			last = &t
		}
	}
	return last, nil
}

// UpdateDealMaintenance writes maintenance columns without bumping the
// version. It is a no-op returning false once the deal moved past u.Version.
func (s *Store) UpdateDealMaintenance(ctx context.Context, id uuid.UUID, u repository.DealUpdate) (bool, error) {
	if err := s.fail("UpdateDealMaintenance"); err != nil {
		return false, err
	}
	var applied bool
	s.write(func(st *state) {
		d, ok := st.deals[id]
		if !ok || d.Version != u.Version {
			return
		}
		d.DaysInStage = u.DaysInStage
		d.HealthScore = u.HealthScore
		d.IsStale = u.IsStale
		d.StaleReason = u.StaleReason
		st.deals[id] = d
		applied = true
	})
	return applied, nil
}

// UpdateDealHealth persists a health score while the deal is still at version.
func (s *Store) UpdateDealHealth(ctx context.Context, id uuid.UUID, version int64, health int) (bool, error) {
	if err := s.fail("UpdateDealHealth"); err != nil {
		return false, err
	}
	var applied bool
	s.write(func(st *state) {
		if d, ok := st.deals[id]; ok && d.Version == version {
			d.HealthScore = health
			st.deals[id] = d
			applied = true
		}
	})
	return applied, nil
}

// WipSnapshot copies the stored counters.
func (s *Store) WipSnapshot(ctx context.Context) (map[domain.WipKey]int, error) {
	if err := s.fail("WipSnapshot"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.st.counters), nil
}

// ReconcileWip recomputes the counters and, when apply is set, rewrites them
// under the writer lock, so no transaction commits in between.
func (s *Store) ReconcileWip(ctx context.Context, apply bool) (repository.WipReconciliation, error) {
	if err := s.fail("ReconcileWip"); err != nil {
		return repository.WipReconciliation{}, err
	}
	var out repository.WipReconciliation
	s.write(func(st *state) {
		deals := make([]domain.Deal, 0, len(st.deals))
		for _, d := range st.deals {
			deals = append(deals, d)
		}
		out = repository.WipReconciliation{
			Deals:      len(deals),
			Stored:     maps.Clone(st.counters),
			Recomputed: wip.Tally(deals),
		}
		if apply && wip.Drift(out.Stored, out.Recomputed) > 0 {
			st.counters = maps.Clone(out.Recomputed)
		}
	})
	return out, nil
}

// tx is a unit of work over a cloned snapshot.
type tx struct {
	store *Store
	st    *state
}

var _ repository.Tx = (*tx)(nil)

func (t *tx) GetDeal(ctx context.Context, id uuid.UUID) (domain.Deal, error) {
	if err := t.store.fail("Tx.GetDeal"); err != nil {
		return domain.Deal{}, err
	}
	d, ok := t.st.deals[id]
	if !ok {
		return domain.Deal{}, dealNotFound()
	}
	return d.Clone(), nil
}

func (t *tx) PutDeal(ctx context.Context, d domain.Deal, expectedVersion int64) (domain.Deal, error) {
	if err := t.store.fail("PutDeal"); err != nil {
		return domain.Deal{}, err
	}
	cur, ok := t.st.deals[d.ID]
	if !ok {
		return domain.Deal{}, dealNotFound()
	}
	if cur.Version != expectedVersion {
		return domain.Deal{}, fmt.Errorf("put deal %s: %w", d.ID, domain.ErrVersionConflict)
	}
	next := d.Clone()
	next.Version = expectedVersion + 1
	t.st.deals[d.ID] = next
	return next.Clone(), nil
}

func (t *tx) InsertDeal(ctx context.Context, d domain.Deal) error {
	if err := t.store.fail("InsertDeal"); err != nil {
		return err
	}
	if _, exists := t.st.deals[d.ID]; exists {
		return fmt.Errorf("insert deal %s: %w", d.ID, domain.ErrAlreadyExists)
	}
	t.st.deals[d.ID] = d.Clone()
	return nil
}

func (t *tx) AppendTransition(ctx context.Context, rec domain.TransitionRecord) error {
	if err := t.store.fail("AppendTransition"); err != nil {
		return err
	}
	t.st.transitions = append(t.st.transitions, rec)
	return nil
}

func (t *tx) Counters() wip.Counters {
	return &txCounters{tx: t}
}

func (t *tx) FindAccountByName(ctx context.Context, name string) (*domain.Account, error) {
	var found *domain.Account
	for _, a := range t.st.accounts {
		if strings.EqualFold(a.Name, name) && (found == nil || a.CreatedAt.Before(found.CreatedAt)) {
			acc := a
			found = &acc
		}
	}
	return found, nil
}

func (t *tx) InsertAccount(ctx context.Context, a domain.Account) error {
	if err := t.store.fail("InsertAccount"); err != nil {
		return err
	}
	t.st.accounts[a.ID] = a
	return nil
}

func (t *tx) FindContactByEmail(ctx context.Context, email string) (*domain.Contact, error) {
	for _, c := range t.st.contacts {
		if email != "" && strings.EqualFold(c.Email, email) {
			contact := c
			return &contact, nil
		}
	}
	return nil, nil
}

func (t *tx) FindContactByName(ctx context.Context, accountID uuid.UUID, name string) (*domain.Contact, error) {
	for _, c := range t.st.contacts {
		if c.AccountID != nil && *c.AccountID == accountID && strings.EqualFold(c.Name, name) {
			contact := c
			return &contact, nil
		}
	}
	return nil, nil
}

func (t *tx) InsertContact(ctx context.Context, c domain.Contact) error {
	if err := t.store.fail("InsertContact"); err != nil {
		return err
	}
	t.st.contacts[c.ID] = c
	return nil
}

func (t *tx) PutLead(ctx context.Context, l domain.Lead, expectedVersion int64) (domain.Lead, error) {
	if err := t.store.fail("PutLead"); err != nil {
		return domain.Lead{}, err
	}
	cur, ok := t.st.leads[l.ID]
	if !ok {
		return domain.Lead{}, leadNotFound()
	}
	if cur.Version != expectedVersion {
		return domain.Lead{}, fmt.Errorf("put lead %s: %w", l.ID, domain.ErrVersionConflict)
	}
	next := l.Clone()
	next.Version = expectedVersion + 1
	t.st.leads[l.ID] = next
	return next.Clone(), nil
}

func (t *tx) InsertConversionAudit(ctx context.Context, a domain.ConversionAudit) error {
	if err := t.store.fail("InsertConversionAudit"); err != nil {
		return err
	}
	t.st.audits = append(t.st.audits, a)
	return nil
}

// txCounters adjusts counters inside the transaction snapshot.
type txCounters struct {
	tx *tx
}

func (c *txCounters) Count(ctx context.Context, key domain.WipKey) (int, error) {
	return c.tx.st.counters[key], nil
}

func (c *txCounters) IncrementIfBelow(ctx context.Context, key domain.WipKey, limit int) (bool, error) {
	if err := c.tx.store.fail("IncrementIfBelow"); err != nil {
		return false, err
	}
	if c.tx.st.counters[key] >= limit {
		return false, nil
	}
	c.tx.st.counters[key]++
	return true, nil
}

func (c *txCounters) Increment(ctx context.Context, key domain.WipKey) error {
	c.tx.st.counters[key]++
	return nil
}

func (c *txCounters) Decrement(ctx context.Context, key domain.WipKey) error {
	if c.tx.st.counters[key] > 0 {
		c.tx.st.counters[key]--
	}
	return nil
}
