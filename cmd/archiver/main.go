// Package main provides the archiver CLI: a daemon that hides calendar events
// whose final occurrence has passed, plus one-shot and seeding commands.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/muaviaUsmani/rrdb/internal/archive"
	"github.com/muaviaUsmani/rrdb/internal/config"
	"github.com/muaviaUsmani/rrdb/internal/logger"
	"github.com/muaviaUsmani/rrdb/internal/result"
	"github.com/muaviaUsmani/rrdb/internal/store"
	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "archiver",
		Short: "Archive calendar events whose final occurrence has passed",
		Long: `The archiver scans every visible Event resource, computes the final
occurrence of its schedule, and sets isVisible=false on events that ended
before yesterday. Run it as a daemon with "serve" or once with "run".`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newRunCmd(),
		newSeedCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version info",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "archiver %s (%s, %s)\n", version, commit, buildDate)
			},
		},
	)

	return rootCmd
}

// app holds what every command needs once configuration is loaded
type app struct {
	cfg     *config.Config
	log     *logger.MultiLogger
	store   *store.RedisStore
	history *result.RedisBackend
}

// bootstrap loads configuration, installs the process logger and connects to the store
func bootstrap(ctx context.Context, connectAttempts int) (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.SetDefault(log)

	st, err := connectWithRetry(ctx, cfg, connectAttempts, log.WithComponent(logger.ComponentStore))
	if err != nil {
		_ = log.Close()
		return nil, err
	}

	return newApp(cfg, log, st), nil
}

func newApp(cfg *config.Config, log *logger.MultiLogger, st *store.RedisStore) *app {
	return &app{
		cfg:     cfg,
		log:     log,
		store:   st,
		history: result.NewRedisBackend(st.Client(), cfg.KeyPrefix, cfg.RunHistoryTTLSuccess, cfg.RunHistoryTTLFailure, cfg.RunHistorySize),
	}
}

// recordRun stores the outcome of a run in the run history. ctx must carry the run ids.
func (a *app) recordRun(ctx context.Context, report *archive.Report, runErr error) {
	triggerID, runID := logger.RunFromContext(ctx)
	run := result.NewRun(triggerID, runID, report, runErr)

	if err := a.history.StoreRun(context.WithoutCancel(ctx), run); err != nil {
		a.log.WithComponent(logger.ComponentStore).WarnContext(ctx, "Failed to record run", "error", err)
	}
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("Failed to close store connection", "error", err)
	}
	if err := a.log.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close logger: %v\n", err)
	}
}

// connectWithRetry attempts to connect to Redis with exponential backoff
func connectWithRetry(ctx context.Context, cfg *config.Config, maxAttempts int, log logger.Logger) (*store.RedisStore, error) {
	var (
		st  *store.RedisStore
		err error
	)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		st, err = store.Connect(ctx, cfg.RedisURL, cfg.KeyPrefix)
		if err == nil {
			log.Info("Connected to document store", "key_prefix", cfg.KeyPrefix)
			return st, nil
		}
		if attempt == maxAttempts-1 {
			break
		}

		// 2^attempt seconds, capped at 30 seconds
		delay := time.Duration(1<<uint(attempt)) * time.Second
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}

		log.Warn("Failed to connect to Redis, retrying",
			"attempt", attempt+1,
			"max_attempts", maxAttempts,
			"error", err,
			"retry_in", delay)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("failed to connect to Redis after %d attempts: %w", maxAttempts, err)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
