package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/bootstrap"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/maintenance"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/settings"
)

func maintenanceCmd() *cobra.Command {
	m := &cobra.Command{Use: "maintenance", Short: "Run maintenance passes"}

	var (
		dryRun bool
		skip   []string
	)
	run := &cobra.Command{
		Use:   "run",
		Short: "Run one maintenance pass now",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, s := range skip {
				if !slices.Contains(maintenance.StepNames, s) {
					return fmt.Errorf("unknown step %q", s)
				}
			}
			return withRuntime(cmd, func(ctx context.Context, rt *bootstrap.Runtime) error {
				summary, err := rt.Pipeline.Service().RunMaintenancePass(ctx, maintenance.Options{
					DryRun:    dryRun,
					SkipSteps: skip,
				})
				if err != nil {
					return err
				}
				return output(cmd.OutOrStdout(), summary, func() { renderSummary(cmd.OutOrStdout(), summary) })
			})
		},
	}
	run.Flags().BoolVar(&dryRun, "dry-run", false, "compute results without writing")
	run.Flags().StringSliceVar(&skip, "skip", nil, "steps to skip")

	steps := &cobra.Command{
		Use:   "steps",
		Short: "List maintenance steps in execution order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return output(cmd.OutOrStdout(), maintenance.StepNames, func() {
				for i, s := range maintenance.StepNames {
					fmt.Fprintf(cmd.OutOrStdout(), "%d. %s\n", i+1, s)
				}
			})
		},
	}

	var limit int
	history := &cobra.Command{
		Use:   "history",
		Short: "List archived maintenance summaries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *bootstrap.Runtime) error {
				if rt.Archive == nil {
					return errNoArchive
				}
				objs, err := rt.Archive.ListObjects(ctx, rt.ArchiveBucket, maintenance.ArchivePrefix, limit)
				if err != nil {
					return err
				}
				return output(cmd.OutOrStdout(), objs, func() { renderArchive(cmd.OutOrStdout(), objs) })
			})
		},
	}
	history.Flags().IntVar(&limit, "limit", 20, "maximum number of summaries")

	show := &cobra.Command{
		Use:   "show <key>",
		Short: "Print an archived maintenance summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *bootstrap.Runtime) error {
				if rt.Archive == nil {
					return errNoArchive
				}
				var summary maintenance.JobSummary
				if err := rt.Archive.ReadJSON(ctx, rt.ArchiveBucket, args[0], &summary); err != nil {
					return err
				}
				return output(cmd.OutOrStdout(), summary, func() { renderSummary(cmd.OutOrStdout(), summary) })
			})
		},
	}

	m.AddCommand(run, steps, history, show)
	return m
}

var errNoArchive = errors.New("object storage is not configured (MINIO_* settings)")

func leadCmd() *cobra.Command {
	l := &cobra.Command{Use: "lead", Short: "Lead scoring"}

	var apply bool
	score := &cobra.Command{
		Use:   "score <lead-id>",
		Short: "Score a lead and optionally act on the recommendation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid lead id: %w", err)
			}
			return withRuntime(cmd, func(ctx context.Context, rt *bootstrap.Runtime) error {
				out, err := rt.Pipeline.Service().ScoreLead(ctx, id, apply)
				if err != nil {
					return err
				}
				return output(cmd.OutOrStdout(), out, func() { renderOutcome(cmd.OutOrStdout(), out) })
			})
		},
	}
	score.Flags().BoolVar(&apply, "apply", false, "convert, disqualify or create tasks as recommended")

	l.AddCommand(score)
	return l
}

func statsCmd() *cobra.Command {
	var owner string
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Per-stage pipeline statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ownerID, err := parseOwner(owner)
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *bootstrap.Runtime) error {
				rows, err := rt.Pipeline.Service().GetPipelineStatistics(ctx, ownerID)
				if err != nil {
					return err
				}
				return output(cmd.OutOrStdout(), rows, func() { renderStageStatistics(cmd.OutOrStdout(), rows) })
			})
		},
	}
	stats.Flags().StringVar(&owner, "owner", "", "restrict to one owner id")

	conversions := &cobra.Command{
		Use:   "conversions",
		Short: "Recent score distribution per recommendation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *bootstrap.Runtime) error {
				rows, err := rt.Pipeline.Service().GetConversionStatistics(ctx)
				if err != nil {
					return err
				}
				return output(cmd.OutOrStdout(), rows, func() { renderConversions(cmd.OutOrStdout(), rows) })
			})
		},
	}

	stats.AddCommand(conversions)
	return stats
}

func wipCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "wip",
		Short: "Current WIP counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			ownerID, err := parseOwner(owner)
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *bootstrap.Runtime) error {
				rows, err := rt.Pipeline.Service().WipUsage(ctx, ownerID)
				if err != nil {
					return err
				}
				return output(cmd.OutOrStdout(), rows, func() { renderWip(cmd.OutOrStdout(), rows) })
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "restrict to one owner id")
	return cmd
}

func stagesCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "stages",
		Short: "Show the stage catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := settings.Load(settingsPath(path))
			if err != nil {
				return err
			}
			defs := s.Catalog.Stages()
			return output(cmd.OutOrStdout(), defs, func() { renderStages(cmd.OutOrStdout(), defs) })
		},
	}
	cmd.Flags().StringVar(&path, "settings", "", "settings file (defaults to PIPELINE_SETTINGS_PATH)")
	return cmd
}

func settingsCmd() *cobra.Command {
	s := &cobra.Command{Use: "settings", Short: "Pipeline settings"}
	validate := &cobra.Command{
		Use:   "validate [path]",
		Short: "Parse a settings file and report errors",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			path = settingsPath(path)
			if path == "" {
				return fmt.Errorf("no settings file given")
			}
			loaded, err := settings.Load(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d stages, max skip %d)\n",
				path, len(loaded.Catalog.Stages()), loaded.Catalog.MaxSkip())
			return nil
		},
	}
	s.AddCommand(validate)
	return s
}

func settingsPath(flag string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv("PIPELINE_SETTINGS_PATH")
}

func parseOwner(raw string) (*uuid.UUID, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid owner id: %w", err)
	}
	return &id, nil
}
