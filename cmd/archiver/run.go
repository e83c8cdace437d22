package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/muaviaUsmani/rrdb/internal/archive"
	"github.com/muaviaUsmani/rrdb/internal/config"
	"github.com/muaviaUsmani/rrdb/internal/logger"
	"github.com/muaviaUsmani/rrdb/internal/metrics"
	"github.com/spf13/cobra"
)

// manualTriggerID tags runs started from the command line
const manualTriggerID = "manual"

func newRunCmd() *cobra.Command {
	var (
		dryRun bool
		at     string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the archival job once and print its report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now
			if at != "" {
				ref, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at %q: %w", at, err)
				}
				now = func() time.Time { return ref }
			}

			a, err := bootstrap(cmd.Context(), 1)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := logger.WithRun(cmd.Context(), manualTriggerID, uuid.NewString())
			ctx, cancel := context.WithTimeout(ctx, a.cfg.ArchiveTimeout)
			defer cancel()

			report, runErr := newRunner(a, runnerOptions{dryRun: dryRun, now: now}).Run(ctx)
			a.recordRun(ctx, report, runErr)
			if report != nil {
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
			}
			return runErr
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Evaluate and report without archiving")
	cmd.Flags().StringVar(&at, "at", "", "Reference time (RFC3339) instead of now")
	return cmd
}

type runnerOptions struct {
	dryRun bool
	now    func() time.Time
}

// newRunner builds the archival runner from configuration
func newRunner(a *app, opts runnerOptions) *archive.Runner {
	return archive.NewRunner(a.store, runnerConfig(a.cfg, a.log, opts))
}

func runnerConfig(cfg *config.Config, log logger.Logger, opts runnerOptions) archive.Options {
	return archive.Options{
		Concurrency:    cfg.ArchiveConcurrency,
		MaxOccurrences: cfg.ArchiveMaxOccurrences,
		DryRun:         opts.dryRun,
		Now:            opts.now,
		Logger:         log.WithComponent(logger.ComponentArchiver).WithSource(logger.LogSourceJob),
		Recorder:       metrics.Default(),
	}
}
