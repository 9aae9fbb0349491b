package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/domain"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/repository"
)

var base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func seedDeal(s *Store, stage domain.Stage) domain.Deal {
	d := domain.Deal{
		ID:             uuid.New(),
		Name:           "Acme",
		Stage:          stage,
		StageEnteredAt: base,
		OwnerID:        uuid.New(),
		Version:        1,
	}
	s.AddDeal(d)
	return d
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	s := New()
	d := seedDeal(s, domain.StageScreening)
	boom := errors.New("boom")

	err := s.RunInTx(context.Background(), func(tx repository.Tx) error {
		cur, err := tx.GetDeal(context.Background(), d.ID)
		if err != nil {
			return err
		}
		cur.Stage = domain.StageAnalysisOutreach
		if _, err := tx.PutDeal(context.Background(), cur, cur.Version); err != nil {
			return err
		}
		if err := tx.Counters().Increment(context.Background(), domain.WipKey{Stage: domain.StageAnalysisOutreach, OwnerID: d.OwnerID}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, _ := s.Deal(d.ID)
	if got.Stage != domain.StageScreening || got.Version != 1 {
		t.Fatalf("expected untouched deal, got %s v%d", got.Stage, got.Version)
	}
	if n := s.Counter(domain.WipKey{Stage: domain.StageAnalysisOutreach, OwnerID: d.OwnerID}); n != 0 {
		t.Fatalf("expected counter rollback, got %d", n)
	}
}

func TestPutDealDetectsVersionConflict(t *testing.T) {
	s := New()
	d := seedDeal(s, domain.StageSourcing)

	err := s.RunInTx(context.Background(), func(tx repository.Tx) error {
		_, err := tx.PutDeal(context.Background(), d, 0)
		return err
	})
	if !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	err = s.RunInTx(context.Background(), func(tx repository.Tx) error {
		updated, err := tx.PutDeal(context.Background(), d, 1)
		if err == nil && updated.Version != 2 {
			t.Fatalf("expected version 2, got %d", updated.Version)
		}
		return err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMaintenanceWritesRequireCurrentVersion(t *testing.T) {
	tests := []struct {
		name    string
		version int64
		applied bool
	}{
		{name: "current version", version: 2, applied: true},
		{name: "stale version", version: 1, applied: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			d := seedDeal(s, domain.StageScreening)
			err := s.RunInTx(context.Background(), func(tx repository.Tx) error {
				next := d
				next.Stage = domain.StageAnalysisOutreach
				next.DaysInStage = 0
				_, err := tx.PutDeal(context.Background(), next, d.Version)
				return err
			})
			if err != nil {
				t.Fatalf("move: %v", err)
			}

			applied, err := s.UpdateDealMaintenance(context.Background(), d.ID, repository.DealUpdate{
				Version: tt.version, DaysInStage: 31, HealthScore: 10, IsStale: true, StaleReason: "old visit",
			})
			if err != nil || applied != tt.applied {
				t.Fatalf("UpdateDealMaintenance = %v, %v; want %v", applied, err, tt.applied)
			}
			healthApplied, err := s.UpdateDealHealth(context.Background(), d.ID, tt.version, 5)
			if err != nil || healthApplied != tt.applied {
				t.Fatalf("UpdateDealHealth = %v, %v; want %v", healthApplied, err, tt.applied)
			}

			got, _ := s.Deal(d.ID)
			if got.Version != 2 {
				t.Fatalf("maintenance writes must not bump the version, got %d", got.Version)
			}
			if tt.applied {
				if !got.IsStale || got.DaysInStage != 31 || got.HealthScore != 5 {
					t.Fatalf("expected write applied, got %+v", got)
				}
				return
			}
			if got.IsStale || got.DaysInStage != 0 || got.HealthScore != d.HealthScore {
				t.Fatalf("stale write reached the moved deal: %+v", got)
			}
		})
	}
}

func TestMaintenanceWriteOnMissingDealIsSkipped(t *testing.T) {
	s := New()
	applied, err := s.UpdateDealMaintenance(context.Background(), uuid.New(), repository.DealUpdate{Version: 1})
	if err != nil || applied {
		t.Fatalf("expected skipped write, got %v, %v", applied, err)
	}
}

func TestReconcileWipRewritesOnlyWhenApplied(t *testing.T) {
	s := New()
	d := seedDeal(s, domain.StageScreening)
	key := domain.WipKey{Stage: d.Stage, OwnerID: d.OwnerID}
	s.SetCounter(key, 4)

	rec, err := s.ReconcileWip(context.Background(), false)
	if err != nil {
		t.Fatalf("dry reconcile: %v", err)
	}
	if rec.Deals != 1 || rec.Stored[key] != 4 || rec.Recomputed[key] != 1 {
		t.Fatalf("unexpected reconciliation %+v", rec)
	}
	if s.Counter(key) != 4 {
		t.Fatalf("dry reconcile rewrote the counter")
	}

	if _, err := s.ReconcileWip(context.Background(), true); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if s.Counter(key) != 1 {
		t.Fatalf("expected counter repaired to 1, got %d", s.Counter(key))
	}
}

func TestFailOnCountsDown(t *testing.T) {
	s := New()
	d := seedDeal(s, domain.StageSourcing)
	s.FailOn("GetDeal", domain.ErrStoreUnavailable, 1)

	if _, err := s.GetDeal(context.Background(), d.ID); !domain.IsStoreUnavailable(err) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if _, err := s.GetDeal(context.Background(), d.ID); err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
}

func TestCommitFailureDiscardsSnapshot(t *testing.T) {
	s := New()
	d := seedDeal(s, domain.StageSourcing)
	s.FailOn("Commit", domain.ErrStoreUnavailable, 1)

	err := s.RunInTx(context.Background(), func(tx repository.Tx) error {
		return tx.AppendTransition(context.Background(), domain.TransitionRecord{ID: uuid.New(), DealID: d.ID})
	})
	if !domain.IsStoreUnavailable(err) {
		t.Fatalf("expected commit failure, got %v", err)
	}
	if len(s.Transitions()) != 0 {
		t.Fatalf("expected no transitions after failed commit")
	}
}

func TestGetDealNotFound(t *testing.T) {
	s := New()
	if _, err := s.GetDeal(context.Background(), uuid.New()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestInsertAlertDeduplicates(t *testing.T) {
	s := New()
	d := seedDeal(s, domain.StageDueDiligence)
	alert := domain.Alert{
		ID: uuid.New(), DealID: d.ID, Severity: domain.SeverityCritical,
		StageEnteredAt: d.StageEnteredAt, CreatedAt: base,
	}

	created, err := s.InsertAlert(context.Background(), alert)
	if err != nil || !created {
		t.Fatalf("expected first insert, got %v %v", created, err)
	}
	alert.ID = uuid.New()
	created, err = s.InsertAlert(context.Background(), alert)
	if err != nil || created {
		t.Fatalf("expected duplicate to be skipped, got %v %v", created, err)
	}

	pending, _ := s.ListPendingAlerts(context.Background(), 10)
	if len(pending) != 1 || pending[0].DealName != "Acme" {
		t.Fatalf("expected one pending alert with deal name, got %+v", pending)
	}
	if err := s.MarkAlertNotified(context.Background(), pending[0].ID, base); err != nil {
		t.Fatalf("mark: %v", err)
	}
	pending, _ = s.ListPendingAlerts(context.Background(), 10)
	if len(pending) != 0 {
		t.Fatalf("expected no pending alerts, got %d", len(pending))
	}
}

func TestListLeadsDueSkipsClosedAndFresh(t *testing.T) {
	s := New()
	high, low := 80.0, 20.0
	recent := base.Add(-time.Hour)
	old := base.Add(-48 * time.Hour)

	due1 := domain.Lead{ID: uuid.New(), Status: domain.LeadNew, CreatedAt: base}
	due2 := domain.Lead{ID: uuid.New(), Status: domain.LeadQualifying, LeadScore: &high, LastEvaluationDate: &old, CreatedAt: base}
	fresh := domain.Lead{ID: uuid.New(), Status: domain.LeadQualifying, LeadScore: &low, LastEvaluationDate: &recent}
	closed := domain.Lead{ID: uuid.New(), Status: domain.LeadConverted}
	for _, l := range []domain.Lead{due1, due2, fresh, closed} {
		s.AddLead(l)
	}

	leads, err := s.ListLeadsDue(context.Background(), base.Add(-24*time.Hour), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(leads) != 2 || leads[0].ID != due2.ID || leads[1].ID != due1.ID {
		t.Fatalf("unexpected due leads: %+v", leads)
	}
}

func TestSaveEvaluationMovesNewToQualifying(t *testing.T) {
	s := New()
	l := domain.Lead{ID: uuid.New(), Status: domain.LeadNew, Version: 3}
	s.AddLead(l)

	if err := s.SaveEvaluation(context.Background(), l.ID, 61, domain.RecommendQualificationRequired, base, domain.ScoringHistory{ID: uuid.New(), LeadID: l.ID, CreatedAt: base}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, _ := s.Lead(l.ID)
	if got.Status != domain.LeadQualifying || got.LeadScore == nil || *got.LeadScore != 61 {
		t.Fatalf("unexpected lead: %+v", got)
	}
	if got.Version != 3 {
		t.Fatalf("evaluation must not bump version, got %d", got.Version)
	}
	if len(s.History()) != 1 {
		t.Fatalf("expected one history row")
	}
}

func TestPruneRemovesOldRows(t *testing.T) {
	s := New()
	d := seedDeal(s, domain.StageSourcing)
	_ = s.RunInTx(context.Background(), func(tx repository.Tx) error {
		_ = tx.AppendTransition(context.Background(), domain.TransitionRecord{ID: uuid.New(), DealID: d.ID, OccurredAt: base.AddDate(-3, 0, 0)})
		return tx.AppendTransition(context.Background(), domain.TransitionRecord{ID: uuid.New(), DealID: d.ID, OccurredAt: base})
	})
	_ = s.AppendAutomationLog(context.Background(), domain.AutomationLogEntry{ID: uuid.New(), CreatedAt: base.AddDate(0, -4, 0)})
	_ = s.UpsertAnalytics(context.Background(), []domain.AnalyticsSnapshot{{SnapshotDate: base.AddDate(-2, 0, 0)}, {SnapshotDate: base}})

	counts, err := s.Prune(context.Background(), repository.RetentionCutoffs{
		Transitions:    base.AddDate(-2, 0, 0),
		AutomationLogs: base.AddDate(0, -3, 0),
		ScoringHistory: base.AddDate(-1, 0, 0),
		Analytics:      base.AddDate(-1, 0, 0),
	})
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if counts["pipeline_transitions"] != 1 || counts["pipeline_automation_log"] != 1 || counts["pipeline_analytics"] != 1 {
		t.Fatalf("unexpected prune counts: %v", counts)
	}
	if len(s.Transitions()) != 1 || len(s.AutomationLog()) != 0 || len(s.Analytics()) != 1 {
		t.Fatalf("unexpected remaining rows")
	}
}

func TestHasAutomationLogOnlyCountsSuccess(t *testing.T) {
	s := New()
	rule, deal := uuid.New(), uuid.New()
	_ = s.AppendAutomationLog(context.Background(), domain.AutomationLogEntry{ID: uuid.New(), RuleID: rule, DealID: deal, StageEnteredAt: base, Status: domain.AutomationFailed})

	ok, _ := s.HasAutomationLog(context.Background(), rule, deal, base)
	if ok {
		t.Fatalf("failed attempts must not block retries")
	}
	_ = s.AppendAutomationLog(context.Background(), domain.AutomationLogEntry{ID: uuid.New(), RuleID: rule, DealID: deal, StageEnteredAt: base, Status: domain.AutomationSuccess})
	ok, _ = s.HasAutomationLog(context.Background(), rule, deal, base)
	if !ok {
		t.Fatalf("expected success entry to be found")
	}
}
