// Package scoring computes the composite lead-qualification score and
// executes the action its recommendation calls for.
package scoring

import (
	"fmt"
	"strings"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/domain"
)

// CategoryScore is one row of the score breakdown.
type CategoryScore struct {
	Score    float64 `json:"score"`
	Weight   float64 `json:"weight"`
	Weighted float64 `json:"weighted"`
}

// ScoreResult is the outcome of scoring a lead.
type ScoreResult struct {
	Score           float64                    `json:"score"`
	Breakdown       map[Category]CategoryScore `json:"breakdown"`
	Recommendation  domain.Recommendation      `json:"recommendation"`
	MissingFields   []string                   `json:"missingFields"`
	RequiredActions []string                   `json:"requiredActions"`
}

// Recommendation thresholds.
const (
	AutoConversionScore = 80
	ReviewScore         = 60
	QualificationScore  = 40
)

// RequiredConversionFields must be populated for auto-conversion.
var RequiredConversionFields = []string{
	"company_name",
	"industry",
	"annual_revenue",
	"employee_count",
	"primary_contact_name",
	"primary_contact_email",
}

// Scorer is a pure function of a lead and the scoring tables.
type Scorer struct {
	tables Tables
}

// NewScorer returns a scorer over tables.
func NewScorer(tables Tables) *Scorer {
	return &Scorer{tables: tables.Normalize()}
}

// Tables returns the tables the scorer uses.
func (s *Scorer) Tables() Tables { return s.tables }

// Score computes the weighted composite, recommendation and follow-up actions.
func (s *Scorer) Score(lead domain.Lead) ScoreResult {
	raw := map[Category]float64{
		CategoryCompanySize:     s.companySize(lead),
		CategoryIndustryFit:     s.tables.Industry.Score(strings.TrimSpace(lead.Industry)),
		CategoryGeographicFit:   s.tables.Region.Score(strings.TrimSpace(lead.Region)),
		CategoryFinancialHealth: s.financialHealth(lead),
		CategoryEngagement:      s.engagement(lead),
		CategoryTiming:          s.timing(lead),
	}

	result := ScoreResult{Breakdown: make(map[Category]CategoryScore, len(raw))}
	var total float64
	for _, c := range Categories {
		w := s.tables.Weights[c]
		weighted := raw[c] * w / 100
		result.Breakdown[c] = CategoryScore{Score: raw[c], Weight: w, Weighted: weighted}
		total += weighted
	}
	result.Score = domain.Round(total, 2)
	result.Recommendation = Recommend(result.Score)
	result.MissingFields = missingFields(lead)
	result.RequiredActions = requiredActions(lead, result)
	return result
}

// Recommend maps a composite score to a recommendation.
func Recommend(score float64) domain.Recommendation {
	switch {
	case score >= AutoConversionScore:
		return domain.RecommendAutoConversion
	case score >= ReviewScore:
		return domain.RecommendReviewConversion
	case score >= QualificationScore:
		return domain.RecommendQualificationRequired
	default:
		return domain.RecommendDisqualification
	}
}

func (s *Scorer) companySize(lead domain.Lead) float64 {
	revenue := 0.0
	if lead.AnnualRevenue != nil {
		revenue = *lead.AnnualRevenue
	}
	employees := 0.0
	if lead.EmployeeCount != nil {
		employees = float64(*lead.EmployeeCount)
	}
	return (s.tables.Revenue.Lookup(revenue) + s.tables.Employees.Lookup(employees)) / 2
}

// EbitdaMargin returns ebitda/revenue as a percentage, or 0 when either is missing.
func EbitdaMargin(lead domain.Lead) float64 {
	if lead.AnnualRevenue == nil || lead.Ebitda == nil || *lead.AnnualRevenue == 0 {
		return 0
	}
	return *lead.Ebitda / *lead.AnnualRevenue * 100
}

func (s *Scorer) financialHealth(lead domain.Lead) float64 {
	growth := 0.0
	if lead.GrowthRate != nil {
		growth = *lead.GrowthRate
	}
	return (s.tables.EbitdaMargin.Lookup(EbitdaMargin(lead)) + s.tables.Growth.Lookup(growth)) / 2
}

func (s *Scorer) engagement(lead domain.Lead) float64 {
	quality := strings.ToLower(strings.TrimSpace(lead.ResponseQuality))
	return (s.tables.Interactions.Lookup(float64(lead.Interactions)) + s.tables.ResponseQuality.Score(quality)) / 2
}

func (s *Scorer) timing(lead domain.Lead) float64 {
	urgency := strings.ToLower(strings.TrimSpace(lead.Urgency))
	budget := strings.ToLower(strings.TrimSpace(lead.Budget))
	return (s.tables.Urgency.Score(urgency) + s.tables.Budget.Score(budget)) / 2
}

func missingFields(lead domain.Lead) []string {
	var missing []string
	for _, f := range RequiredConversionFields {
		if !lead.HasField(f) {
			missing = append(missing, f)
		}
	}
	return missing
}

func requiredActions(lead domain.Lead, r ScoreResult) []string {
	var actions []string
	if len(r.MissingFields) > 0 {
		actions = append(actions, fmt.Sprintf("Gather missing information: %s", strings.Join(r.MissingFields, ", ")))
	}
	if r.Score < ReviewScore {
		actions = append(actions, "Improve lead qualification through additional discovery calls")
	}
	if strings.TrimSpace(lead.PrimaryContactEmail) == "" {
		actions = append(actions, "Obtain primary contact email address")
	}
	if !lead.DecisionMaker {
		actions = append(actions, "Identify and engage with decision maker")
	}
	if r.Breakdown[CategoryFinancialHealth].Score < 60 {
		actions = append(actions, "Validate financial information and health metrics")
	}
	if r.Breakdown[CategoryEngagement].Score < 50 {
		actions = append(actions, "Increase engagement through regular touchpoints")
	}
	return actions
}

// ConversionGate reports whether a lead meets the auto-conversion criteria and,
// if not, the first failing reason.
func (s *Scorer) ConversionGate(lead domain.Lead, r ScoreResult) (bool, string) {
	if r.Score < AutoConversionScore {
		return false, fmt.Sprintf("score %.2f is below %d", r.Score, AutoConversionScore)
	}
	if len(r.MissingFields) > 0 {
		return false, "missing " + strings.Join(r.MissingFields, ", ")
	}
	if *lead.AnnualRevenue < 5_000_000 {
		return false, "annual revenue below $5M"
	}
	if *lead.EmployeeCount < 25 {
		return false, "fewer than 25 employees"
	}
	if r.Breakdown[CategoryIndustryFit].Score < 70 {
		return false, "industry fit below 70"
	}
	if r.Breakdown[CategoryGeographicFit].Score < 60 {
		return false, "geographic fit below 60"
	}
	return true, ""
}
