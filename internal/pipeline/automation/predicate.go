// Package automation compiles and applies the condition/action rules that
// advance, escalate or flag deals without a user in the loop.
package automation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/domain"
)

// Predicate is one compiled rule condition. The set of variants is closed.
type Predicate interface {
	predicate()
	String() string
}

// FieldGte holds when the numeric field is at least Value.
type FieldGte struct {
	Field string
	Value float64
}

// FieldLte holds when the numeric field is at most Value.
type FieldLte struct {
	Field string
	Value float64
}

// DaysInStageGt holds when the deal has been in its stage more than Days.
type DaysInStageGt struct {
	Days int
}

// DaysInStageBeyondCritical holds when the deal exceeds its stage's critical
// threshold. Stages without one never match.
type DaysInStageBeyondCritical struct{}

// NoActivityDays holds when the deal has had no logged activity for more than
// Days. A deal with no activity at all matches.
type NoActivityDays struct {
	Days int
}

// AllRequiredFieldsComplete holds when every field the current stage requires
// is present.
type AllRequiredFieldsComplete struct{}

// FieldsPresent holds when every listed field is non-empty.
type FieldsPresent struct {
	Fields []string
}

// FieldNotIn holds when Field is non-empty and not one of Values.
type FieldNotIn struct {
	Field  string
	Values []string
}

// Unknown is any condition that did not compile. It never holds.
type Unknown struct {
	Raw string
}

func (FieldGte) predicate()                  {}
func (FieldLte) predicate()                  {}
func (DaysInStageGt) predicate()             {}
func (DaysInStageBeyondCritical) predicate() {}
func (NoActivityDays) predicate()            {}
func (AllRequiredFieldsComplete) predicate() {}
func (FieldsPresent) predicate()             {}
func (FieldNotIn) predicate()                {}
func (Unknown) predicate()                   {}

func (p FieldGte) String() string {
	return fmt.Sprintf("%s >= %s", p.Field, strconv.FormatFloat(p.Value, 'f', -1, 64))
}

func (p FieldLte) String() string {
	return fmt.Sprintf("%s <= %s", p.Field, strconv.FormatFloat(p.Value, 'f', -1, 64))
}

func (p DaysInStageGt) String() string           { return fmt.Sprintf("days_in_stage > %d", p.Days) }
func (DaysInStageBeyondCritical) String() string { return "days_in_stage > critical_threshold" }
func (p NoActivityDays) String() string          { return fmt.Sprintf("no_activity_last_%d_days", p.Days) }
func (AllRequiredFieldsComplete) String() string { return "all_required_fields_complete" }
func (p FieldsPresent) String() string           { return "present(" + strings.Join(p.Fields, ",") + ")" }
func (p FieldNotIn) String() string              { return p.Field + " not in (" + strings.Join(p.Values, ",") + ")" }
func (p Unknown) String() string                 { return "unknown(" + p.Raw + ")" }

var (
	comparison  = regexp.MustCompile(`^([a-z_][a-z0-9_]*)\s*(>=|<=|>)\s*([a-z0-9_.$,-]+)$`)
	noActivity  = regexp.MustCompile(`^no_activity_last_(\d+)_days$`)
	fieldSyntax = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
)

// Compile turns one raw condition into a predicate. Anything it does not
// recognise becomes Unknown.
func Compile(raw string) Predicate {
	cond := strings.ToLower(strings.TrimSpace(raw))

	switch cond {
	case "all_required_fields_complete":
		return AllRequiredFieldsComplete{}
	case "financial_metrics_verified":
		return FieldsPresent{Fields: []string{"annual_revenue", "ebitda"}}
	case "initial_interest_confirmed":
		return FieldNotIn{Field: "interest_level", Values: []string{"none"}}
	}

	if m := noActivity.FindStringSubmatch(cond); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return NoActivityDays{Days: n}
		}
		return Unknown{Raw: raw}
	}

	m := comparison.FindStringSubmatch(cond)
	if m == nil {
		return Unknown{Raw: raw}
	}
	field, op, operand := m[1], m[2], m[3]

	if field == "days_in_stage" && op == ">" {
		if operand == "critical_threshold" {
			return DaysInStageBeyondCritical{}
		}
		if n, err := strconv.Atoi(operand); err == nil && n >= 0 {
			return DaysInStageGt{Days: n}
		}
		return Unknown{Raw: raw}
	}
	if op == ">" || !fieldSyntax.MatchString(field) {
		return Unknown{Raw: raw}
	}
	value, ok := domain.ParseNumber(operand)
	if !ok {
		return Unknown{Raw: raw}
	}
	if op == ">=" {
		return FieldGte{Field: field, Value: value}
	}
	return FieldLte{Field: field, Value: value}
}

// CompileAll compiles conditions in order.
func CompileAll(conditions []string) []Predicate {
	out := make([]Predicate, 0, len(conditions))
	for _, c := range conditions {
		out = append(out, Compile(c))
	}
	return out
}

// Rule is an automation rule with its conditions compiled.
type Rule struct {
	domain.AutomationRule
	Predicates []Predicate
}

// CompileRule compiles a stored rule.
func CompileRule(r domain.AutomationRule) Rule {
	return Rule{AutomationRule: r, Predicates: CompileAll(r.Conditions)}
}

// HasUnknown reports whether any condition failed to compile.
func (r Rule) HasUnknown() bool {
	for _, p := range r.Predicates {
		if _, ok := p.(Unknown); ok {
			return true
		}
	}
	return false
}

// DefaultRules returns the rules seeded for a new installation.
func DefaultRules() []domain.AutomationRule {
	return []domain.AutomationRule{
		{
			Name:        "auto_progression_screening",
			Stage:       domain.StageScreening,
			Conditions:  []string{"all_required_fields_complete", "financial_metrics_verified", "initial_interest_confirmed"},
			Action:      domain.ActionMoveToStage,
			TargetStage: domain.StageAnalysisOutreach,
			Priority:    10,
			IsActive:    true,
		},
		{
			Name:            "stale_deal_escalation",
			Conditions:      []string{"days_in_stage > critical_threshold", "no_activity_last_30_days"},
			Action:          domain.ActionEscalateToManager,
			EscalationLevel: "high",
			Priority:        20,
			IsActive:        true,
		},
	}
}
