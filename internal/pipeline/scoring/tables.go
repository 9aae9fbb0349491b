package scoring

import (
	"fmt"
	"sort"
)

// Category is one weighted component of the composite lead score.
type Category string

const (
	CategoryCompanySize     Category = "company_size"
	CategoryIndustryFit     Category = "industry_fit"
	CategoryGeographicFit   Category = "geographic_fit"
	CategoryFinancialHealth Category = "financial_health"
	CategoryEngagement      Category = "engagement"
	CategoryTiming          Category = "timing"
)

// Categories lists the categories in breakdown order.
var Categories = []Category{
	CategoryCompanySize,
	CategoryIndustryFit,
	CategoryGeographicFit,
	CategoryFinancialHealth,
	CategoryEngagement,
	CategoryTiming,
}

// Tier maps a value at or above Threshold to Score.
type Tier struct {
	Threshold float64 `yaml:"threshold" json:"threshold"`
	Score     float64 `yaml:"score" json:"score"`
}

// Tiers is evaluated highest threshold first.
type Tiers []Tier

// Lookup returns the score of the first tier whose threshold v reaches, or 0.
func (t Tiers) Lookup(v float64) float64 {
	for _, tier := range t {
		if v >= tier.Threshold {
			return tier.Score
		}
	}
	return 0
}

func (t Tiers) sorted() Tiers {
	out := append(Tiers(nil), t...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Threshold > out[j].Threshold })
	return out
}

// Lookup is a name-to-score table with a fallback for unknown names.
type Lookup struct {
	Values   map[string]float64 `yaml:"values" json:"values"`
	Fallback float64            `yaml:"fallback" json:"fallback"`
}

// Score returns the value for name or the fallback.
func (l Lookup) Score(name string) float64 {
	if v, ok := l.Values[name]; ok {
		return v
	}
	return l.Fallback
}

// Tables holds every weight and tier the scorer reads. Load it once and share
// it read-only.
type Tables struct {
	Weights         map[Category]float64 `yaml:"weights"`
	Revenue         Tiers                `yaml:"revenue"`
	Employees       Tiers                `yaml:"employees"`
	Industry        Lookup               `yaml:"industry"`
	Region          Lookup               `yaml:"region"`
	EbitdaMargin    Tiers                `yaml:"ebitdaMargin"`
	Growth          Tiers                `yaml:"growth"`
	Interactions    Tiers                `yaml:"interactions"`
	ResponseQuality Lookup               `yaml:"responseQuality"`
	Urgency         Lookup               `yaml:"urgency"`
	Budget          Lookup               `yaml:"budget"`
}

// Validate checks that every category has a weight and tiers are present.
func (t Tables) Validate() error {
	for _, c := range Categories {
		w, ok := t.Weights[c]
		if !ok {
			return fmt.Errorf("scoring: missing weight for %s", c)
		}
		if w < 0 {
			return fmt.Errorf("scoring: negative weight for %s", c)
		}
	}
	for name, tiers := range map[string]Tiers{
		"revenue":      t.Revenue,
		"employees":    t.Employees,
		"ebitdaMargin": t.EbitdaMargin,
		"growth":       t.Growth,
		"interactions": t.Interactions,
	} {
		if len(tiers) == 0 {
			return fmt.Errorf("scoring: %s tiers are empty", name)
		}
	}
	return nil
}

// Normalize returns a copy with tiers sorted by descending threshold.
func (t Tables) Normalize() Tables {
	out := t
	out.Weights = make(map[Category]float64, len(t.Weights))
	for k, v := range t.Weights {
		out.Weights[k] = v
	}
	out.Revenue = t.Revenue.sorted()
	out.Employees = t.Employees.sorted()
	out.EbitdaMargin = t.EbitdaMargin.sorted()
	out.Growth = t.Growth.sorted()
	out.Interactions = t.Interactions.sorted()
	return out
}

// DefaultTables returns the production weights and tiers.
func DefaultTables() Tables {
	return Tables{
		Weights: map[Category]float64{
			CategoryCompanySize:     25,
			CategoryIndustryFit:     20,
			CategoryGeographicFit:   15,
			CategoryFinancialHealth: 20,
			CategoryEngagement:      10,
			CategoryTiming:          10,
		},
		Revenue: Tiers{
			{100_000_000, 100}, {50_000_000, 85}, {25_000_000, 70}, {10_000_000, 55},
			{5_000_000, 40}, {1_000_000, 25}, {0, 10},
		},
		Employees: Tiers{
			{1000, 100}, {500, 85}, {250, 70}, {100, 55}, {50, 40}, {25, 25}, {0, 10},
		},
		Industry: Lookup{
			Values: map[string]float64{
				"Technology":         100,
				"Software":           100,
				"Healthcare":         90,
				"Financial Services": 85,
				"Manufacturing":      80,
				"Business Services":  75,
				"Consumer Products":  70,
				"Energy":             65,
				"Real Estate":        60,
				"Retail":             50,
			},
			Fallback: 30,
		},
		Region: Lookup{
			Values: map[string]float64{
				"North America":  100,
				"Western Europe": 90,
				"Asia Pacific":   80,
				"Eastern Europe": 70,
				"Latin America":  60,
				"Middle East":    50,
				"Africa":         40,
			},
			Fallback: 20,
		},
		EbitdaMargin: Tiers{
			{25, 100}, {20, 85}, {15, 70}, {10, 55}, {5, 40}, {0, 25}, {-100, 10},
		},
		Growth: Tiers{
			{50, 100}, {30, 85}, {20, 70}, {10, 55}, {5, 40}, {0, 25}, {-100, 10},
		},
		Interactions: Tiers{
			{10, 100}, {7, 85}, {5, 70}, {3, 55}, {1, 40}, {0, 10},
		},
		ResponseQuality: Lookup{
			Values:   map[string]float64{"high": 100, "medium": 70, "low": 40, "none": 10},
			Fallback: 10,
		},
		Urgency: Lookup{
			Values: map[string]float64{
				"immediate":        100,
				"within_6_months":  85,
				"within_12_months": 70,
				"within_24_months": 55,
				"exploring":        40,
				"no_timeline":      20,
			},
			Fallback: 20,
		},
		Budget: Lookup{
			Values:   map[string]float64{"confirmed": 100, "estimated": 70, "unknown": 30},
			Fallback: 30,
		},
	}
}
