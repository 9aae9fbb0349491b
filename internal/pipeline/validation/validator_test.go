package validation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/domain"
)

type fakeDuplicates struct {
	found bool
	err   error
}

func (f fakeDuplicates) HasOpenDealForCompany(context.Context, string, uuid.UUID) (bool, error) {
	return f.found, f.err
}

func screeningReadyDeal() domain.Deal {
	return domain.Deal{
		ID:          uuid.New(),
		Name:        "Acme",
		Stage:       domain.StageSourcing,
		DealValue:   5_000_000,
		HealthScore: 60,
		Attributes: map[string]string{
			"company_name":     "Acme Corp",
			"annual_revenue":   "2,000,000",
			"employee_count":   "40",
			"geographic_focus": "North America",
			"market_size":      "500000000",
		},
	}
}

func contains(list []string, substr string) bool {
	for _, s := range list {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

func TestValidateAllowsCompleteDeal(t *testing.T) {
	v := New(domain.DefaultCatalog(), nil)
	verdict := v.Validate(context.Background(), screeningReadyDeal(), domain.StageScreening)

	if !verdict.Allowed {
		t.Fatalf("expected allowed, got errors %v", verdict.Errors)
	}
	if verdict.Score != 100 {
		t.Fatalf("expected score 100, got %d (warnings %v)", verdict.Score, verdict.Warnings)
	}
}

func TestValidateUnknownStage(t *testing.T) {
	v := New(domain.DefaultCatalog(), nil)
	verdict := v.Validate(context.Background(), screeningReadyDeal(), domain.Stage("archived"))
	if verdict.Allowed || !verdict.UnknownStage {
		t.Fatalf("expected unknown stage rejection, got %+v", verdict)
	}
}

func TestValidateSkipViolation(t *testing.T) {
	v := New(domain.DefaultCatalog(), nil)
	deal := screeningReadyDeal()

	verdict := v.Validate(context.Background(), deal, domain.StageDueDiligence)
	if verdict.Allowed || !verdict.SkipViolation {
		t.Fatalf("expected skip violation, got %+v", verdict)
	}
	if !contains(verdict.Errors, "Cannot skip more than one stage") {
		t.Fatalf("expected skip message, got %v", verdict.Errors)
	}

	verdict = v.Validate(context.Background(), deal, domain.StageAnalysisOutreach)
	if verdict.SkipViolation {
		t.Fatalf("expected two-step move to be within skip distance")
	}
}

func TestValidateFieldRulesAndScore(t *testing.T) {
	v := New(domain.DefaultCatalog(), nil)
	deal := screeningReadyDeal()
	deal.Attributes["annual_revenue"] = "100000"
	deal.Attributes["employee_count"] = "3"
	delete(deal.Attributes, "geographic_focus")

	verdict := v.Validate(context.Background(), deal, domain.StageScreening)
	if verdict.Allowed {
		t.Fatalf("expected rejection")
	}
	for _, want := range []string{
		"Geographic focus must be defined",
		"Annual revenue must be at least $500K",
		"Must have at least 5 employees",
		"Deal value cannot exceed 10x annual revenue",
	} {
		if !contains(verdict.Errors, want) {
			t.Fatalf("expected error %q in %v", want, verdict.Errors)
		}
	}
	if verdict.Score != 20 {
		t.Fatalf("expected score 20 for 4 errors, got %d", verdict.Score)
	}
}

func TestValidateBusinessRuleWarnings(t *testing.T) {
	v := New(domain.DefaultCatalog(), nil)
	deal := screeningReadyDeal()
	deal.Attributes["ebitda"] = "40000"
	deal.Attributes["competitive_position"] = "weak"
	delete(deal.Attributes, "market_size")

	verdict := v.Validate(context.Background(), deal, domain.StageScreening)
	if !verdict.Allowed {
		t.Fatalf("warnings must not block: %v", verdict.Errors)
	}
	if len(verdict.Warnings) != 3 {
		t.Fatalf("expected 3 warnings, got %v", verdict.Warnings)
	}
	if verdict.Score != 85 {
		t.Fatalf("expected score 85, got %d", verdict.Score)
	}
}

func TestValidateStakeholderMapping(t *testing.T) {
	v := New(domain.DefaultCatalog(), nil)
	deal := screeningReadyDeal()
	deal.Stage = domain.StageScreening
	deal.Attributes["primary_contact"] = "Jane"
	deal.Attributes["decision_maker"] = "John"
	deal.Attributes["key_stakeholders"] = "Board"

	verdict := v.Validate(context.Background(), deal, domain.StageAnalysisOutreach)
	if verdict.Allowed || !contains(verdict.Errors, "decision maker or financial approver") {
		t.Fatalf("expected stakeholder error, got %+v", verdict)
	}

	deal.Stakeholders = []domain.Stakeholder{{ContactID: uuid.New(), Role: domain.RoleFinancialApprover}}
	verdict = v.Validate(context.Background(), deal, domain.StageAnalysisOutreach)
	if !verdict.Allowed {
		t.Fatalf("expected allowed with financial approver, got %v", verdict.Errors)
	}
}

func TestValidateDuplicateFinderFailureDegradesToWarning(t *testing.T) {
	v := New(domain.DefaultCatalog(), fakeDuplicates{err: errors.New("db down")})
	deal := screeningReadyDeal()
	deal.Stage = domain.StageClosedLost
	deal.Attributes["deal_source"] = "referral"
	deal.Attributes["industry"] = "Software"

	verdict := v.Validate(context.Background(), deal, domain.StageSourcing)
	if !verdict.Allowed {
		t.Fatalf("expected allowed, got %v", verdict.Errors)
	}
	if !contains(verdict.Warnings, "check_duplicate_company") {
		t.Fatalf("expected degraded warning, got %v", verdict.Warnings)
	}
}

func TestValidateDuplicateCompanyWarns(t *testing.T) {
	v := New(domain.DefaultCatalog(), fakeDuplicates{found: true})
	deal := screeningReadyDeal()
	deal.Stage = domain.StageScreening
	deal.Attributes["deal_source"] = "auction"
	deal.Attributes["industry"] = "Software"

	verdict := v.Validate(context.Background(), deal, domain.StageSourcing)
	if !contains(verdict.Warnings, "Company already exists in active pipeline") {
		t.Fatalf("expected duplicate warning, got %v", verdict.Warnings)
	}
}

func TestValidateHealthAdvisory(t *testing.T) {
	v := New(domain.DefaultCatalog(), nil)
	deal := screeningReadyDeal()
	deal.Stage = domain.StageAnalysisOutreach
	deal.HealthScore = 30
	deal.Attributes["valuation_range"] = "$10,000,000 - $15,000,000"
	deal.Attributes["deal_structure"] = "asset purchase"
	deal.Attributes["key_terms"] = "earn-out"
	deal.Attributes["valuation_methodology"] = "DCF"

	verdict := v.Validate(context.Background(), deal, domain.StageTermSheet)
	if !verdict.Allowed {
		t.Fatalf("expected allowed, got %v", verdict.Errors)
	}
	if !contains(verdict.Warnings, "health score 30") {
		t.Fatalf("expected health advisory, got %v", verdict.Warnings)
	}
}
