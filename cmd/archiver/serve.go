package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/muaviaUsmani/rrdb/internal/logger"
	"github.com/muaviaUsmani/rrdb/internal/metrics"
	"github.com/muaviaUsmani/rrdb/internal/scheduler"
	"github.com/muaviaUsmani/rrdb/internal/status"
	"github.com/spf13/cobra"
)

const (
	archiveTriggerID = "archive-expired-events"
	archiveJobName   = "archive"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the archival job on its cron schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context(), 5)
			if err != nil {
				return err
			}
			defer a.Close()

			return serve(cmd.Context(), a)
		},
	}
}

// newCronScheduler wires the archival job to its trigger
func newCronScheduler(a *app, collector *metrics.Collector) (*scheduler.CronScheduler, error) {
	registry := scheduler.NewRegistry()
	if err := registry.Register(&scheduler.Trigger{
		ID:          archiveTriggerID,
		Cron:        a.cfg.ArchiveCron,
		Job:         archiveJobName,
		Timeout:     a.cfg.ArchiveTimeout,
		Timezone:    a.cfg.ArchiveTimezone,
		Enabled:     true,
		Description: "Archive events whose final occurrence is before yesterday",
	}); err != nil {
		return nil, err
	}

	cs := scheduler.NewCronScheduler(registry, a.store.Client(), a.cfg.SchedulerTickInterval)
	cs.SetLockTTL(a.cfg.SchedulerLockTTL)
	cs.SetKeyPrefix(a.cfg.KeyPrefix)
	cs.SetRecorder(collector)

	runner := newRunner(a, runnerOptions{})
	cs.RegisterJob(archiveJobName, func(ctx context.Context) error {
		report, err := runner.Run(ctx)
		a.recordRun(ctx, report, err)
		return err
	})

	return cs, nil
}

func serve(ctx context.Context, a *app) error {
	serveLog := a.log.WithComponent(logger.ComponentScheduler).WithSource(logger.LogSourceInternal)

	cs, err := newCronScheduler(a, metrics.Default())
	if err != nil {
		return err
	}

	serveLog.Info("Archiver starting",
		"cron", a.cfg.ArchiveCron,
		"timezone", a.cfg.ArchiveTimezone,
		"timeout", a.cfg.ArchiveTimeout,
		"concurrency", a.cfg.ArchiveConcurrency,
		"version", version)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var statusServer *status.Server
	if addr := a.cfg.StatusAddr(); addr != "" {
		statusServer = status.NewServer(addr, status.Deps{
			Store:     a.store,
			Collector: metrics.Default(),
			Triggers:  cs,
			History:   a.history,
		})
		go func() {
			if err := statusServer.ListenAndServe(); err != nil {
				serveLog.Error("Status server failed", "error", err)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		cs.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		serveLog.Info("Received shutdown signal, initiating graceful shutdown", "signal", sig)
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if statusServer != nil {
		if err := statusServer.Shutdown(shutdownCtx); err != nil {
			serveLog.Warn("Status server shutdown failed", "error", err)
		}
	}

	select {
	case <-done:
	case <-shutdownCtx.Done():
		serveLog.Warn("Scheduler did not stop before the shutdown deadline")
	}

	serveLog.Info("Archiver shut down successfully")
	return nil
}
