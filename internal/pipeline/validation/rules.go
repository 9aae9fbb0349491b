package validation

import (
	"context"
	"strings"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/domain"
)

var validDealSources = map[string]bool{
	"referral":    true,
	"proprietary": true,
	"broker":      true,
	"auction":     true,
	"inbound":     true,
}

const (
	minEbitdaMargin      = 5.0
	minMarketSize        = 100_000_000
	financingCheckAmount = 50_000_000
)

func defaultRules(duplicates DuplicateFinder) map[domain.Stage][]BusinessRule {
	sourcing := []BusinessRule{
		{Name: "validate_deal_source", Check: validateDealSource},
	}
	if duplicates != nil {
		sourcing = append([]BusinessRule{{Name: "check_duplicate_company", Check: checkDuplicateCompany(duplicates)}}, sourcing...)
	}

	return map[domain.Stage][]BusinessRule{
		domain.StageSourcing: sourcing,
		domain.StageScreening: {
			{Name: "check_financial_ratios", Check: checkFinancialRatios},
			{Name: "validate_market_size", Check: validateMarketSize},
			{Name: "assess_competitive_position", Check: assessCompetitivePosition},
		},
		domain.StageAnalysisOutreach: {
			{Name: "validate_stakeholder_mapping", Check: validateStakeholderMapping},
			{Name: "check_initial_interest", Check: checkInitialInterest},
			{Name: "assess_accessibility", Check: assessAccessibility},
		},
		domain.StageTermSheet: {
			{Name: "validate_valuation_methodology", Check: requireField("valuation_methodology", "Valuation methodology must be documented")},
			{Name: "check_deal_structure_feasibility", Check: requireField("deal_structure", "Deal structure must be defined")},
			{Name: "verify_financing_capacity", Check: verifyFinancingCapacity},
		},
	}
}

func checkDuplicateCompany(finder DuplicateFinder) func(context.Context, domain.Deal) (Outcome, error) {
	return func(ctx context.Context, deal domain.Deal) (Outcome, error) {
		company := deal.Field("company_name")
		if company == "" {
			return pass(), nil
		}
		found, err := finder.HasOpenDealForCompany(ctx, company, deal.ID)
		if err != nil {
			return Outcome{}, err
		}
		if found {
			return fail(SeverityWarning, "Company already exists in active pipeline"), nil
		}
		return pass(), nil
	}
}

func validateDealSource(_ context.Context, deal domain.Deal) (Outcome, error) {
	if !validDealSources[strings.ToLower(deal.Field("deal_source"))] {
		return fail(SeverityError, "Invalid deal source specified"), nil
	}
	return pass(), nil
}

func checkFinancialRatios(_ context.Context, deal domain.Deal) (Outcome, error) {
	revenue, _ := deal.Number("annual_revenue")
	ebitda, _ := deal.Number("ebitda")
	if revenue > 0 && ebitda > 0 && ebitda/revenue*100 < minEbitdaMargin {
		return fail(SeverityWarning, "EBITDA margin is below 5% - proceed with caution"), nil
	}
	return pass(), nil
}

func validateMarketSize(_ context.Context, deal domain.Deal) (Outcome, error) {
	size, _ := deal.Number("market_size")
	if size < minMarketSize {
		return fail(SeverityWarning, "Market size may be too small for target returns"), nil
	}
	return pass(), nil
}

func assessCompetitivePosition(_ context.Context, deal domain.Deal) (Outcome, error) {
	switch strings.ToLower(deal.Field("competitive_position")) {
	case "weak", "poor":
		return fail(SeverityWarning, "Weak competitive position may impact returns"), nil
	}
	return pass(), nil
}

func validateStakeholderMapping(_ context.Context, deal domain.Deal) (Outcome, error) {
	if !deal.HasStakeholderRole(domain.RoleDecisionMaker, domain.RoleFinancialApprover) {
		return fail(SeverityError, "Must have contact with decision maker or financial approver"), nil
	}
	return pass(), nil
}

func checkInitialInterest(_ context.Context, deal domain.Deal) (Outcome, error) {
	switch strings.ToLower(deal.Field("interest_level")) {
	case "none", "low":
		return fail(SeverityWarning, "Low interest level - consider alternative approach"), nil
	}
	return pass(), nil
}

func assessAccessibility(_ context.Context, deal domain.Deal) (Outcome, error) {
	if strings.EqualFold(deal.Field("accessibility_rating"), "difficult") {
		return fail(SeverityWarning, "Difficult accessibility may impact timeline"), nil
	}
	return pass(), nil
}

func requireField(field, message string) func(context.Context, domain.Deal) (Outcome, error) {
	return func(_ context.Context, deal domain.Deal) (Outcome, error) {
		if deal.Field(field) == "" {
			return fail(SeverityError, message), nil
		}
		return pass(), nil
	}
}

func verifyFinancingCapacity(_ context.Context, deal domain.Deal) (Outcome, error) {
	if deal.DealValue > financingCheckAmount && deal.Field("financing_source") == "" {
		return fail(SeverityError, "Large deals require confirmed financing source"), nil
	}
	return pass(), nil
}
