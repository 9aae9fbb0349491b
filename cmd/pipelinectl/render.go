package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/adapters/storage"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/domain"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/maintenance"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/scoring"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/statistics"
)

// output writes v as indented JSON when --json is set, otherwise calls render.
func output(w io.Writer, v any, render func()) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	render()
	return nil
}

func newTable(w io.Writer) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	return tw
}

func renderSummary(w io.Writer, s maintenance.JobSummary) {
	fmt.Fprintf(w, "job %s: %s in %.2fs", s.JobID, s.Status, s.DurationSeconds)
	if s.DryRun {
		fmt.Fprint(w, " (dry run)")
	}
	if s.Cancelled {
		fmt.Fprint(w, " (cancelled)")
	}
	fmt.Fprintln(w)

	tw := newTable(w)
	tw.AppendHeader(table.Row{"Step", "Status", "Processed", "Affected", "Failed", "ms"})
	for _, st := range s.Steps {
		tw.AppendRow(table.Row{st.Name, st.Status, st.Processed, st.Affected, st.Failed, st.DurationMs})
	}
	tw.Render()

	if len(s.Errors) > 0 {
		et := newTable(w)
		et.AppendHeader(table.Row{"Step", "Item", "Error"})
		for _, e := range s.Errors {
			et.AppendRow(table.Row{e.Step, e.ItemID, e.Message})
		}
		et.Render()
	}

	st := s.Statistics
	fmt.Fprintf(w, "active deals %d, average health %.1f, stale %.1f%%, wip violations %d, wip drift %d\n",
		st.ActiveDeals, st.AverageHealth, st.StalePercent, st.WipViolations, s.WipDrift)
	if s.ArchiveKey != "" {
		fmt.Fprintf(w, "archived as %s\n", s.ArchiveKey)
	}
}

func renderOutcome(w io.Writer, out scoring.Outcome) {
	fmt.Fprintf(w, "lead %s (%s): score %.1f, recommendation %s, action %s\n",
		out.Lead.ID, out.Lead.CompanyName, out.Result.Score, out.Result.Recommendation, out.Action)
	if out.Reason != "" {
		fmt.Fprintf(w, "reason: %s\n", out.Reason)
	}
	if out.DealID != nil {
		fmt.Fprintf(w, "deal: %s\n", *out.DealID)
	}

	categories := make([]string, 0, len(out.Result.Breakdown))
	for c := range out.Result.Breakdown {
		categories = append(categories, string(c))
	}
	slices.Sort(categories)

	tw := newTable(w)
	tw.AppendHeader(table.Row{"Category", "Score", "Weight", "Weighted"})
	for _, c := range categories {
		cs := out.Result.Breakdown[scoring.Category(c)]
		tw.AppendRow(table.Row{c, fmt.Sprintf("%.1f", cs.Score), fmt.Sprintf("%.2f", cs.Weight), fmt.Sprintf("%.2f", cs.Weighted)})
	}
	tw.Render()

	if len(out.Result.MissingFields) > 0 {
		fmt.Fprintf(w, "missing: %s\n", strings.Join(out.Result.MissingFields, ", "))
	}
	for _, a := range out.Result.RequiredActions {
		fmt.Fprintf(w, "- %s\n", a)
	}
	if out.TaskError != "" {
		fmt.Fprintf(w, "task error: %s\n", out.TaskError)
	}
}

func renderStageStatistics(w io.Writer, rows []statistics.StageStatistics) {
	tw := newTable(w)
	tw.AppendHeader(table.Row{"Stage", "Deals", "Total", "Avg value", "Avg days", "Stale", "WIP"})
	for _, r := range rows {
		tw.AppendRow(table.Row{
			r.Stage, r.Count,
			fmt.Sprintf("%.2f", r.TotalValue), fmt.Sprintf("%.2f", r.AvgValue),
			fmt.Sprintf("%.1f", r.AvgDaysInStage), r.StaleCount,
			wipCell(r.WipLimit, r.WipUtilization),
		})
	}
	tw.Render()
}

func renderConversions(w io.Writer, rows []statistics.RecommendationStatistics) {
	tw := newTable(w)
	tw.AppendHeader(table.Row{"Recommendation", "Leads", "Avg", "Min", "Max"})
	for _, r := range rows {
		tw.AppendRow(table.Row{
			r.Recommendation, r.Count,
			fmt.Sprintf("%.1f", r.AvgScore), fmt.Sprintf("%.1f", r.MinScore), fmt.Sprintf("%.1f", r.MaxScore),
		})
	}
	tw.Render()
}

func renderWip(w io.Writer, rows []domain.WipCounter) {
	tw := newTable(w)
	tw.AppendHeader(table.Row{"Stage", "Owner", "Count", "Limit", "Utilization"})
	for _, r := range rows {
		tw.AppendRow(table.Row{r.Stage, r.OwnerID, r.Count, limitCell(r.Limit), fmt.Sprintf("%.1f%%", r.UtilizationPercent)})
	}
	tw.Render()
}

func renderStages(w io.Writer, defs []domain.StageDefinition) {
	tw := newTable(w)
	tw.AppendHeader(table.Row{"#", "Stage", "WIP", "Warn", "Critical", "Required", "Terminal"})
	for _, d := range defs {
		limit := limitCell(d.WipLimit)
		if d.HardWipLimit {
			limit += " (hard)"
		}
		tw.AppendRow(table.Row{
			d.Order, d.Stage, limit,
			limitCell(d.WarningDays), limitCell(d.CriticalDays),
			strings.Join(d.RequiredFields, ", "), d.Terminal,
		})
	}
	tw.Render()
}

func limitCell(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}

func wipCell(limit *int, utilization float64) string {
	if limit == nil {
		return "-"
	}
	return fmt.Sprintf("%d (%.1f%%)", *limit, utilization)
}

func renderArchive(w io.Writer, objs []storage.ObjectInfo) {
	if len(objs) == 0 {
		fmt.Fprintln(w, "no archived summaries")
		return
	}
	tw := newTable(w)
	tw.AppendHeader(table.Row{"Key", "Size", "Archived"})
	for _, o := range objs {
		tw.AppendRow(table.Row{o.Key, o.Size, o.LastModified.UTC().Format("2006-01-02 15:04:05")})
	}
	tw.Render()
}
