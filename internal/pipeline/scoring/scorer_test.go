package scoring

import (
	"testing"

	"github.com/google/uuid"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/domain"
)

func f64(v float64) *float64 { return &v }
func intp(v int) *int        { return &v }

func strongLead() domain.Lead {
	return domain.Lead{
		ID:                  uuid.New(),
		CompanyName:         "Acme Robotics",
		Industry:            "Technology",
		Region:              "North America",
		AnnualRevenue:       f64(120_000_000),
		EmployeeCount:       intp(1200),
		Ebitda:              f64(33_600_000),
		GrowthRate:          f64(55),
		Interactions:        12,
		Urgency:             "immediate",
		Budget:              "confirmed",
		PrimaryContactName:  "Dana Reyes",
		PrimaryContactEmail: "dana@acme.example",
		PrimaryContactPhone: "(202) 456-1111",
		LeadSource:          "referral",
		DecisionMaker:       true,
		OwnerID:             uuid.New(),
		Status:              domain.LeadNew,
		Version:             1,
	}
}

func weakLead() domain.Lead {
	return domain.Lead{
		ID:            uuid.New(),
		CompanyName:   "Corner Shop",
		Industry:      "Retail",
		AnnualRevenue: f64(200_000),
		OwnerID:       uuid.New(),
		Status:        domain.LeadNew,
		Version:       1,
	}
}

func TestScoreStrongLead(t *testing.T) {
	r := NewScorer(DefaultTables()).Score(strongLead())

	if r.Score != 95.5 {
		t.Fatalf("expected 95.5, got %v", r.Score)
	}
	if r.Recommendation != domain.RecommendAutoConversion {
		t.Fatalf("expected auto_conversion, got %s", r.Recommendation)
	}
	if len(r.MissingFields) != 0 {
		t.Fatalf("expected no missing fields, got %v", r.MissingFields)
	}
	if got := r.Breakdown[CategoryEngagement].Score; got != 55 {
		t.Fatalf("expected engagement 55, got %v", got)
	}
}

func TestScoreWeakLead(t *testing.T) {
	r := NewScorer(DefaultTables()).Score(weakLead())

	if r.Score != 24 {
		t.Fatalf("expected 24, got %v", r.Score)
	}
	if r.Recommendation != domain.RecommendDisqualification {
		t.Fatalf("expected disqualification, got %s", r.Recommendation)
	}
	wantMissing := map[string]bool{"employee_count": true, "primary_contact_name": true, "primary_contact_email": true}
	for _, f := range r.MissingFields {
		if !wantMissing[f] {
			t.Fatalf("unexpected missing field %s", f)
		}
	}
	if len(r.MissingFields) != len(wantMissing) {
		t.Fatalf("expected %d missing fields, got %v", len(wantMissing), r.MissingFields)
	}
}

func TestRecommendThresholds(t *testing.T) {
	cases := []struct {
		score float64
		want  domain.Recommendation
	}{
		{100, domain.RecommendAutoConversion},
		{80, domain.RecommendAutoConversion},
		{79.99, domain.RecommendReviewConversion},
		{60, domain.RecommendReviewConversion},
		{59.99, domain.RecommendQualificationRequired},
		{40, domain.RecommendQualificationRequired},
		{39.99, domain.RecommendDisqualification},
		{0, domain.RecommendDisqualification},
	}
	for _, tc := range cases {
		if got := Recommend(tc.score); got != tc.want {
			t.Errorf("Recommend(%v) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestScoreIsMonotonicPerAttribute(t *testing.T) {
	s := NewScorer(DefaultTables())

	attributes := []struct {
		name   string
		values []float64
		apply  func(l *domain.Lead, v float64)
	}{
		{"revenue", []float64{0, 500_000, 1_000_000, 7_000_000, 30_000_000, 80_000_000, 500_000_000}, func(l *domain.Lead, v float64) {
			ebitdaMargin := *l.Ebitda / *l.AnnualRevenue
			l.AnnualRevenue = f64(v)
			l.Ebitda = f64(v * ebitdaMargin)
		}},
		{"employees", []float64{0, 10, 25, 60, 150, 400, 800, 5000}, func(l *domain.Lead, v float64) {
			l.EmployeeCount = intp(int(v))
		}},
		{"ebitda", []float64{-5_000_000, 0, 3_000_000, 8_000_000, 15_000_000, 40_000_000}, func(l *domain.Lead, v float64) {
			l.Ebitda = f64(v)
		}},
		{"growth", []float64{-20, 0, 6, 12, 25, 40, 90}, func(l *domain.Lead, v float64) {
			l.GrowthRate = f64(v)
		}},
		{"interactions", []float64{0, 1, 2, 3, 5, 8, 10, 30}, func(l *domain.Lead, v float64) {
			l.Interactions = int(v)
		}},
	}

	for _, attr := range attributes {
		t.Run(attr.name, func(t *testing.T) {
			prev := -1.0
			for _, v := range attr.values {
				lead := strongLead()
				lead.AnnualRevenue = f64(20_000_000)
				lead.Ebitda = f64(2_000_000)
				lead.EmployeeCount = intp(120)
				lead.GrowthRate = f64(8)
				lead.Interactions = 2
				attr.apply(&lead, v)

				got := s.Score(lead).Score
				if got < prev {
					t.Fatalf("score decreased from %v to %v at %s=%v", prev, got, attr.name, v)
				}
				prev = got
			}
		})
	}
}

func TestScoreUnknownLookupsUseFallback(t *testing.T) {
	lead := strongLead()
	lead.Industry = "Mining"
	lead.Region = "Antarctica"
	r := NewScorer(DefaultTables()).Score(lead)

	if got := r.Breakdown[CategoryIndustryFit].Score; got != 30 {
		t.Fatalf("expected industry fallback 30, got %v", got)
	}
	if got := r.Breakdown[CategoryGeographicFit].Score; got != 20 {
		t.Fatalf("expected region fallback 20, got %v", got)
	}
}

func TestRequiredActions(t *testing.T) {
	lead := weakLead()
	r := NewScorer(DefaultTables()).Score(lead)

	want := []string{
		"Gather missing information: employee_count, primary_contact_name, primary_contact_email",
		"Improve lead qualification through additional discovery calls",
		"Obtain primary contact email address",
		"Identify and engage with decision maker",
		"Validate financial information and health metrics",
		"Increase engagement through regular touchpoints",
	}
	if len(r.RequiredActions) != len(want) {
		t.Fatalf("expected %d actions, got %v", len(want), r.RequiredActions)
	}
	for i := range want {
		if r.RequiredActions[i] != want[i] {
			t.Errorf("action %d = %q, want %q", i, r.RequiredActions[i], want[i])
		}
	}
}

func TestConversionGate(t *testing.T) {
	s := NewScorer(DefaultTables())

	cases := []struct {
		name   string
		mutate func(l *domain.Lead)
		ok     bool
	}{
		{"all criteria met", func(*domain.Lead) {}, true},
		{"too few employees", func(l *domain.Lead) { l.EmployeeCount = intp(20) }, false},
		{"missing email", func(l *domain.Lead) { l.PrimaryContactEmail = "" }, false},
		{"weak region", func(l *domain.Lead) { l.Region = "Africa" }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lead := strongLead()
			tc.mutate(&lead)
			r := s.Score(lead)
			ok, reason := s.ConversionGate(lead, r)
			if ok != tc.ok {
				t.Fatalf("expected gate %v, got %v (%s)", tc.ok, ok, reason)
			}
			if !ok && reason == "" {
				t.Fatal("expected a reason for failed gate")
			}
		})
	}
}

func TestTablesValidate(t *testing.T) {
	if err := DefaultTables().Validate(); err != nil {
		t.Fatalf("default tables invalid: %v", err)
	}
	broken := DefaultTables()
	delete(broken.Weights, CategoryTiming)
	if err := broken.Validate(); err == nil {
		t.Fatal("expected error for missing weight")
	}
	broken = DefaultTables()
	broken.Growth = nil
	if err := broken.Validate(); err == nil {
		t.Fatal("expected error for empty tiers")
	}
}

func TestTiersLookupUnsortedInput(t *testing.T) {
	tables := DefaultTables()
	tables.Interactions = Tiers{{0, 10}, {10, 100}, {5, 70}}
	s := NewScorer(tables)

	lead := strongLead()
	lead.Interactions = 6
	if got := s.Score(lead).Breakdown[CategoryEngagement].Score; got != (70+10)/2 {
		t.Fatalf("expected engagement 40, got %v", got)
	}
}
