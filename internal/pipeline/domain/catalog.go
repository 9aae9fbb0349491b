package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// DefaultMaxSkip is how far past the current stage a single transition may go.
const DefaultMaxSkip = 2

// TaskTemplate describes a task created automatically when a deal enters a stage.
type TaskTemplate struct {
	Key         string   `json:"key" yaml:"key"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Priority    Priority `json:"priority" yaml:"priority"`
	DueDays     int      `json:"dueDays" yaml:"dueDays"`
}

// StageDefinition is one immutable entry of the stage catalog.
type StageDefinition struct {
	Stage          Stage          `json:"stage"`
	Order          int            `json:"order"`
	WipLimit       *int           `json:"wipLimit"`
	WarningDays    *int           `json:"warningDays"`
	CriticalDays   *int           `json:"criticalDays"`
	RequiredFields []string       `json:"requiredFields"`
	AutoTasks      []TaskTemplate `json:"autoTasks"`
	HardWipLimit   bool           `json:"hardWipLimit"`
	NotifyOnEntry  bool           `json:"notifyOnEntry"`
	Terminal       bool           `json:"terminal"`
}

// Unbounded reports whether the stage has no WIP limit.
func (d StageDefinition) Unbounded() bool { return d.WipLimit == nil }

// WarningThreshold returns the warning day threshold, or fallback when unset.
func (d StageDefinition) WarningThreshold(fallback int) int {
	if d.WarningDays == nil {
		return fallback
	}
	return *d.WarningDays
}

// Catalog is the ordered, read-only set of stage definitions. Build it once
// at startup and share the pointer; nothing mutates it afterwards.
type Catalog struct {
	stages  []StageDefinition
	index   map[Stage]int
	maxSkip int
}

// NewCatalog validates defs and returns a catalog ordered by Order.
func NewCatalog(defs []StageDefinition, maxSkip int) (*Catalog, error) {
	if len(defs) == 0 {
		return nil, errors.New("stage catalog is empty")
	}
	if maxSkip < 1 {
		return nil, fmt.Errorf("max skip must be at least 1, got %d", maxSkip)
	}

	sorted := make([]StageDefinition, len(defs))
	for i, d := range defs {
		sorted[i] = cloneDefinition(d)
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	index := make(map[Stage]int, len(sorted))
	for i, d := range sorted {
		if strings.TrimSpace(string(d.Stage)) == "" {
			return nil, errors.New("stage name must not be empty")
		}
		if _, dup := index[d.Stage]; dup {
			return nil, fmt.Errorf("duplicate stage %q", d.Stage)
		}
		if i > 0 && sorted[i-1].Order == d.Order {
			return nil, fmt.Errorf("stages %q and %q share order %d", sorted[i-1].Stage, d.Stage, d.Order)
		}
		if d.WipLimit != nil && *d.WipLimit < 1 {
			return nil, fmt.Errorf("stage %q: wip limit must be positive", d.Stage)
		}
		if d.WarningDays != nil && d.CriticalDays != nil && *d.WarningDays > *d.CriticalDays {
			return nil, fmt.Errorf("stage %q: warning days exceed critical days", d.Stage)
		}
		for _, t := range d.AutoTasks {
			if !IsValidPriority(t.Priority) {
				return nil, fmt.Errorf("stage %q: task %q has invalid priority %q", d.Stage, t.Key, t.Priority)
			}
		}
		index[d.Stage] = i
	}

	return &Catalog{stages: sorted, index: index, maxSkip: maxSkip}, nil
}

// Definition returns the definition for stage.
func (c *Catalog) Definition(stage Stage) (StageDefinition, bool) {
	i, ok := c.index[stage]
	if !ok {
		return StageDefinition{}, false
	}
	return c.stages[i], true
}

// IsKnown reports whether stage is part of the catalog.
func (c *Catalog) IsKnown(stage Stage) bool {
	_, ok := c.index[stage]
	return ok
}

// IsKnownName is IsKnown for raw strings, for request validation.
func (c *Catalog) IsKnownName(name string) bool {
	return c.IsKnown(Stage(name))
}

// Order returns the stage's order, or 0 when unknown.
func (c *Catalog) Order(stage Stage) int {
	d, ok := c.Definition(stage)
	if !ok {
		return 0
	}
	return d.Order
}

// IsTerminal reports whether stage is terminal. Unknown stages are not terminal.
func (c *Catalog) IsTerminal(stage Stage) bool {
	d, ok := c.Definition(stage)
	return ok && d.Terminal
}

// MaxSkip is the maximum forward order distance of a single transition.
func (c *Catalog) MaxSkip() int { return c.maxSkip }

// ExceedsSkip reports whether moving from -> to jumps further than allowed.
func (c *Catalog) ExceedsSkip(from, to Stage) bool {
	return c.Order(to) > c.Order(from)+c.maxSkip
}

// InitialStage is the first stage by order; converted leads start here.
func (c *Catalog) InitialStage() Stage { return c.stages[0].Stage }

// Stages returns all definitions in order. The slice is a copy.
func (c *Catalog) Stages() []StageDefinition {
	out := make([]StageDefinition, len(c.stages))
	for i, d := range c.stages {
		out[i] = cloneDefinition(d)
	}
	return out
}

// NonTerminal returns the stage identifiers that are not terminal, in order.
func (c *Catalog) NonTerminal() []Stage {
	out := make([]Stage, 0, len(c.stages))
	for _, d := range c.stages {
		if !d.Terminal {
			out = append(out, d.Stage)
		}
	}
	return out
}

// Terminal returns the terminal stage identifiers, in order.
func (c *Catalog) Terminal() []Stage {
	out := make([]Stage, 0, 3)
	for _, d := range c.stages {
		if d.Terminal {
			out = append(out, d.Stage)
		}
	}
	return out
}

func cloneDefinition(d StageDefinition) StageDefinition {
	out := d
	out.WipLimit = cloneInt(d.WipLimit)
	out.WarningDays = cloneInt(d.WarningDays)
	out.CriticalDays = cloneInt(d.CriticalDays)
	out.RequiredFields = append([]string(nil), d.RequiredFields...)
	out.AutoTasks = append([]TaskTemplate(nil), d.AutoTasks...)
	return out
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}

func intPtr(v int) *int { return &v }

// defaultTaskTemplates holds the production task definitions keyed by template key.
var defaultTaskTemplates = map[string]TaskTemplate{
	"initial_research":       {Name: "Initial Company Research", Description: "Research company background, financials, and market position", Priority: PriorityHigh, DueDays: 3},
	"market_analysis":        {Name: "Market Analysis", Description: "Analyze market size, trends, and competitive landscape", Priority: PriorityMedium, DueDays: 5},
	"financial_screening":    {Name: "Financial Screening", Description: "Review financial statements and key performance metrics", Priority: PriorityHigh, DueDays: 7},
	"strategic_fit_analysis": {Name: "Strategic Fit Analysis", Description: "Evaluate strategic alignment with investment criteria", Priority: PriorityHigh, DueDays: 5},
	"stakeholder_mapping":    {Name: "Stakeholder Mapping", Description: "Identify key stakeholders and decision makers", Priority: PriorityMedium, DueDays: 3},
	"initial_outreach":       {Name: "Initial Outreach", Description: "Make initial contact with company leadership", Priority: PriorityHigh, DueDays: 2},
	"term_sheet_preparation": {Name: "Term Sheet Preparation", Description: "Prepare preliminary term sheet and valuation", Priority: PriorityHigh, DueDays: 10},
	"negotiation_strategy":   {Name: "Negotiation Strategy", Description: "Develop negotiation strategy and key terms", Priority: PriorityMedium, DueDays: 5},
	"dd_checklist_creation":  {Name: "Due Diligence Checklist", Description: "Create comprehensive due diligence checklist", Priority: PriorityCritical, DueDays: 3},
	"advisor_coordination":   {Name: "Advisor Coordination", Description: "Coordinate with legal, financial, and technical advisors", Priority: PriorityHigh, DueDays: 5},
	"legal_documentation":    {Name: "Legal Documentation", Description: "Prepare definitive agreements and legal documents", Priority: PriorityCritical, DueDays: 15},
	"regulatory_approval":    {Name: "Regulatory Approval", Description: "Obtain necessary regulatory approvals", Priority: PriorityCritical, DueDays: 30},
	"closing_checklist":      {Name: "Closing Checklist", Description: "Complete all closing requirements and conditions", Priority: PriorityCritical, DueDays: 7},
	"funds_transfer":         {Name: "Funds Transfer", Description: "Coordinate funds transfer and closing mechanics", Priority: PriorityCritical, DueDays: 1},
	"integration_planning":   {Name: "Integration Planning", Description: "Develop post-acquisition integration plan", Priority: PriorityHigh, DueDays: 14},
	"portfolio_onboarding":   {Name: "Portfolio Onboarding", Description: "Onboard company into portfolio management system", Priority: PriorityMedium, DueDays: 30},
	"post_mortem_analysis":   {Name: "Post-Mortem Analysis", Description: "Analyze lessons learned from lost deal", Priority: PriorityMedium, DueDays: 10},
	"follow_up_reminder":     {Name: "Follow-up Reminder", Description: "Set reminder to follow up on unavailable deal", Priority: PriorityLow, DueDays: 30},
}

// ResolveTaskTemplate returns the production template for key, falling back
// to a title-cased name with Medium priority due in 7 days.
func ResolveTaskTemplate(key string) TaskTemplate {
	if t, ok := defaultTaskTemplates[key]; ok {
		t.Key = key
		return t
	}
	name := titleCase(strings.ReplaceAll(key, "_", " "))
	return TaskTemplate{
		Key:         key,
		Name:        name,
		Description: "Auto-generated task: " + name,
		Priority:    PriorityMedium,
		DueDays:     7,
	}
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

func templates(keys ...string) []TaskTemplate {
	out := make([]TaskTemplate, 0, len(keys))
	for _, k := range keys {
		out = append(out, ResolveTaskTemplate(k))
	}
	return out
}

// DefaultStageDefinitions returns the production stage configuration.
func DefaultStageDefinitions() []StageDefinition {
	return []StageDefinition{
		{
			Stage: StageSourcing, Order: 1, WipLimit: intPtr(50), WarningDays: intPtr(30), CriticalDays: intPtr(60),
			RequiredFields: []string{"deal_source", "company_name", "industry"},
			AutoTasks:      templates("initial_research", "market_analysis"),
		},
		{
			Stage: StageScreening, Order: 2, WipLimit: intPtr(25), WarningDays: intPtr(14), CriticalDays: intPtr(30),
			RequiredFields: []string{"annual_revenue", "employee_count", "geographic_focus"},
			AutoTasks:      templates("financial_screening", "strategic_fit_analysis"),
		},
		{
			Stage: StageAnalysisOutreach, Order: 3, WipLimit: intPtr(15), WarningDays: intPtr(21), CriticalDays: intPtr(45),
			RequiredFields: []string{"primary_contact", "decision_maker", "key_stakeholders"},
			AutoTasks:      templates("stakeholder_mapping", "initial_outreach"),
		},
		{
			Stage: StageTermSheet, Order: 4, WipLimit: intPtr(10), WarningDays: intPtr(30), CriticalDays: intPtr(60),
			RequiredFields: []string{"valuation_range", "deal_structure", "key_terms"},
			AutoTasks:      templates("term_sheet_preparation", "negotiation_strategy"),
		},
		{
			Stage: StageDueDiligence, Order: 5, WipLimit: intPtr(8), WarningDays: intPtr(45), CriticalDays: intPtr(90),
			RequiredFields: []string{"dd_checklist", "external_advisors", "data_room_access"},
			AutoTasks:      templates("dd_checklist_creation", "advisor_coordination"),
			HardWipLimit:   true, NotifyOnEntry: true,
		},
		{
			Stage: StageFinalNegotiation, Order: 6, WipLimit: intPtr(5), WarningDays: intPtr(30), CriticalDays: intPtr(60),
			RequiredFields: []string{"final_terms", "closing_conditions", "timeline"},
			AutoTasks:      templates("legal_documentation", "regulatory_approval"),
			HardWipLimit:   true, NotifyOnEntry: true,
		},
		{
			Stage: StageClosing, Order: 7, WipLimit: intPtr(5), WarningDays: intPtr(21), CriticalDays: intPtr(45),
			RequiredFields: []string{"closing_date", "funding_confirmed", "all_approvals"},
			AutoTasks:      templates("closing_checklist", "funds_transfer"),
			HardWipLimit:   true, NotifyOnEntry: true,
		},
		{
			Stage: StageClosedWon, Order: 8, Terminal: true,
			AutoTasks: templates("integration_planning", "portfolio_onboarding"),
		},
		{
			Stage: StageClosedLost, Order: 9, Terminal: true,
			RequiredFields: []string{"loss_reason", "lessons_learned"},
			AutoTasks:      templates("post_mortem_analysis"),
		},
		{
			Stage: StageUnavailable, Order: 10, Terminal: true, WarningDays: intPtr(180), CriticalDays: intPtr(365),
			RequiredFields: []string{"unavailable_reason", "follow_up_date"},
			AutoTasks:      templates("follow_up_reminder"),
		},
	}
}

// DefaultCatalog returns the production catalog.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultStageDefinitions(), DefaultMaxSkip)
	if err != nil {
		panic("default stage catalog is invalid: " + err.Error())
	}
	return c
}
