// Package validation decides whether a deal may enter a target stage.
package validation

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/domain"
)

// Severity of a rule outcome.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

const (
	errorPenalty      = 20
	warningPenalty    = 5
	healthAdvisoryMin = 50
)

// Verdict is the structured result of validating a move.
type Verdict struct {
	Allowed       bool     `json:"allowed"`
	Errors        []string `json:"errors"`
	Warnings      []string `json:"warnings"`
	Score         int      `json:"score"`
	SkipViolation bool     `json:"skipViolation"`
	UnknownStage  bool     `json:"unknownStage"`
}

// Outcome is the result of one named business rule.
type Outcome struct {
	Valid    bool
	Severity Severity
	Message  string
}

func pass() Outcome { return Outcome{Valid: true} }

func fail(sev Severity, msg string) Outcome {
	return Outcome{Severity: sev, Message: msg}
}

// BusinessRule is a named check run when a deal targets a stage.
type BusinessRule struct {
	Name  string
	Check func(ctx context.Context, deal domain.Deal) (Outcome, error)
}

// DuplicateFinder looks up other open deals for the same company.
type DuplicateFinder interface {
	HasOpenDealForCompany(ctx context.Context, company string, excludeID uuid.UUID) (bool, error)
}

// Validator runs field and business rules for stage entry.
type Validator struct {
	catalog *domain.Catalog
	rules   map[domain.Stage][]BusinessRule
}

// New builds a validator with the production rule set. duplicates may be nil,
// in which case the duplicate check is skipped.
func New(catalog *domain.Catalog, duplicates DuplicateFinder) *Validator {
	return &Validator{catalog: catalog, rules: defaultRules(duplicates)}
}

// Validate checks whether deal may move into target.
func (v *Validator) Validate(ctx context.Context, deal domain.Deal, target domain.Stage) Verdict {
	verdict := Verdict{Errors: []string{}, Warnings: []string{}}

	def, ok := v.catalog.Definition(target)
	if !ok {
		verdict.UnknownStage = true
		verdict.Errors = append(verdict.Errors, fmt.Sprintf("Unknown stage: %s", target))
		return finish(verdict)
	}

	if v.catalog.IsKnown(deal.Stage) && v.catalog.ExceedsSkip(deal.Stage, target) {
		verdict.SkipViolation = true
		verdict.Errors = append(verdict.Errors, fmt.Sprintf(
			"Cannot skip more than one stage: %s to %s exceeds the maximum of %d",
			deal.Stage, target, v.catalog.MaxSkip()))
	}

	for _, field := range def.RequiredFields {
		if deal.Field(field) == "" {
			verdict.Errors = append(verdict.Errors, requiredMessage(field))
		}
	}

	verdict.Errors = append(verdict.Errors, fieldRuleErrors(deal, target)...)

	for _, rule := range v.rules[target] {
		out, err := rule.Check(ctx, deal)
		if err != nil {
			verdict.Warnings = append(verdict.Warnings, fmt.Sprintf("Rule %s could not be evaluated: %v", rule.Name, err))
			continue
		}
		if out.Valid {
			continue
		}
		if out.Severity == SeverityError {
			verdict.Errors = append(verdict.Errors, out.Message)
		} else {
			verdict.Warnings = append(verdict.Warnings, out.Message)
		}
	}

	if (target == domain.StageTermSheet || target == domain.StageDueDiligence) && deal.HealthScore < healthAdvisoryMin {
		verdict.Warnings = append(verdict.Warnings, fmt.Sprintf("Deal health score %d is below %d", deal.HealthScore, healthAdvisoryMin))
	}

	return finish(verdict)
}

func finish(v Verdict) Verdict {
	v.Allowed = len(v.Errors) == 0
	v.Score = max(0, 100-errorPenalty*len(v.Errors)-warningPenalty*len(v.Warnings))
	return v
}

var requiredMessages = map[string]string{
	"deal_source":        "Deal source must be specified",
	"company_name":       "Company name is required",
	"industry":           "Industry classification is required",
	"annual_revenue":     "Annual revenue is required for screening",
	"employee_count":     "Employee count is required",
	"geographic_focus":   "Geographic focus must be defined",
	"primary_contact":    "Primary contact must be identified",
	"decision_maker":     "Decision maker must be identified",
	"key_stakeholders":   "Key stakeholders must be mapped",
	"valuation_range":    "Valuation range must be established",
	"deal_structure":     "Deal structure must be defined",
	"key_terms":          "Key terms must be outlined",
	"dd_checklist":       "Due diligence checklist must be created",
	"external_advisors":  "External advisors must be engaged",
	"data_room_access":   "Data room access must be confirmed",
	"final_terms":        "Final terms must be negotiated",
	"closing_conditions": "Closing conditions must be defined",
	"timeline":           "Closing timeline must be established",
	"closing_date":       "Closing date must be set",
	"funding_confirmed":  "Funding must be confirmed",
	"all_approvals":      "All approvals must be obtained",
}

func requiredMessage(field string) string {
	if msg, ok := requiredMessages[field]; ok {
		return msg
	}
	return fmt.Sprintf("%s is required", strings.ReplaceAll(field, "_", " "))
}

var valuationRange = regexp.MustCompile(`\$?[\d,]+\s*-\s*\$?[\d,]+`)

func fieldRuleErrors(deal domain.Deal, target domain.Stage) []string {
	var errs []string
	switch target {
	case domain.StageSourcing:
		if deal.DealValue < 1_000_000 {
			errs = append(errs, "Deal value must be at least $1M")
		}
		if name := deal.Field("company_name"); name != "" && len([]rune(name)) < 2 {
			errs = append(errs, "Company name must be at least 2 characters")
		}
	case domain.StageScreening:
		revenue, hasRevenue := deal.Number("annual_revenue")
		if hasRevenue && revenue < 500_000 {
			errs = append(errs, "Annual revenue must be at least $500K")
		}
		if employees, ok := deal.Number("employee_count"); ok && employees < 5 {
			errs = append(errs, "Must have at least 5 employees")
		}
		if hasRevenue && revenue > 0 && deal.DealValue > revenue*10 {
			errs = append(errs, "Deal value cannot exceed 10x annual revenue")
		}
	case domain.StageTermSheet:
		if vr := deal.Field("valuation_range"); vr != "" && !valuationRange.MatchString(vr) {
			errs = append(errs, "Valuation must be in range format (e.g., $10,000,000 - $15,000,000)")
		}
	}
	return errs
}
