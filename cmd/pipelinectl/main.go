// Command pipelinectl runs pipeline operations from the command line:
// maintenance passes, lead scoring, statistics and settings checks.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/bootstrap"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/config"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/logger"
)

var jsonOutput bool

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pipelinectl",
		Short:         "Operate the deal pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON")

	root.AddCommand(maintenanceCmd())
	root.AddCommand(leadCmd())
	root.AddCommand(statsCmd())
	root.AddCommand(wipCmd())
	root.AddCommand(stagesCmd())
	root.AddCommand(settingsCmd())
	return root
}

// withRuntime opens the database-backed runtime for the duration of fn.
// Logs go to stderr so stdout stays machine-readable.
func withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *bootstrap.Runtime) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.NewWithWriter(cfg.Env, cmd.ErrOrStderr())

	ctx := cmd.Context()
	rt, err := bootstrap.Open(ctx, cfg, log, bootstrap.Options{})
	if err != nil {
		return err
	}
	defer rt.Close()

	return fn(ctx, rt)
}
