// Package domain contains the pipeline's core types: the stage catalog, deals,
// leads, automation rules and the records the engine appends.
package domain

// Stage identifies one position in the deal pipeline.
type Stage string

const (
	StageSourcing         Stage = "sourcing"
	StageScreening        Stage = "screening"
	StageAnalysisOutreach Stage = "analysis_outreach"
	StageTermSheet        Stage = "term_sheet"
	StageDueDiligence     Stage = "due_diligence"
	StageFinalNegotiation Stage = "final_negotiation"
	StageClosing          Stage = "closing"
	StageClosedWon        Stage = "closed_won"
	StageClosedLost       Stage = "closed_lost"
	StageUnavailable      Stage = "unavailable"
)

func (s Stage) String() string { return string(s) }

// TransitionType records how a stage change was initiated.
type TransitionType string

const (
	TransitionManual    TransitionType = "manual"
	TransitionOverride  TransitionType = "override"
	TransitionAutomated TransitionType = "automated"
)

// Priority is the urgency of a generated task.
type Priority string

const (
	PriorityLow      Priority = "Low"
	PriorityMedium   Priority = "Medium"
	PriorityHigh     Priority = "High"
	PriorityCritical Priority = "Critical"
)

// IsValidPriority reports whether p is one of the known priorities.
func IsValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	default:
		return false
	}
}
