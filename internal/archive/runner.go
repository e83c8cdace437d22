// Package archive hides calendar events whose final occurrence has passed.
package archive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/muaviaUsmani/rrdb/internal/logger"
	"github.com/muaviaUsmani/rrdb/internal/resource"
	"github.com/muaviaUsmani/rrdb/internal/schedule"
	"golang.org/x/sync/errgroup"
)

// Store is the part of the document store the runner needs
type Store interface {
	// QueryActiveEvents returns Event resources whose visibility flag is not false
	QueryActiveEvents(ctx context.Context) ([]resource.Document, error)
	// Archive sets a resource's visibility flag to false
	Archive(ctx context.Context, id string) error
}

// Recorder receives the outcome of every run
type Recorder interface {
	RecordRun(report *Report, err error)
}

// DefaultConcurrency is the number of archive updates in flight at once
const DefaultConcurrency = 16

// Options configures a Runner. Zero values fall back to defaults.
type Options struct {
	// Concurrency bounds parallel archive updates
	Concurrency int
	// MaxOccurrences bounds the walk through each recurring series
	MaxOccurrences int
	// DryRun evaluates and reports without writing
	DryRun bool
	// Now returns the reference time; defaults to time.Now
	Now func() time.Time
	// Logger defaults to the process logger tagged with the archiver component
	Logger logger.Logger
	// Recorder is optional
	Recorder Recorder
}

// Runner is the archival job
type Runner struct {
	store     Store
	evaluator schedule.Evaluator
	opts      Options
	log       logger.Logger
}

// NewRunner creates a runner over store
func NewRunner(store Store, opts Options) *Runner {
	if opts.Concurrency < 1 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = logger.Default().WithComponent(logger.ComponentArchiver)
	}

	return &Runner{
		store:     store,
		evaluator: schedule.Evaluator{MaxOccurrences: opts.MaxOccurrences},
		opts:      opts,
		log:       log,
	}
}

// Cutoff returns the instant one calendar day before now, in UTC
func Cutoff(now time.Time) time.Time {
	return now.UTC().AddDate(0, 0, -1)
}

// Run performs one archival pass.
//
// Events whose final occurrence is strictly before the cutoff are archived.
// A malformed schedule skips only its own document. A query failure aborts
// the run before any write. Every due update is attempted even when some
// fail; the first failure is returned together with the partial report.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	begin := time.Now()
	cutoff := Cutoff(r.opts.Now())
	report := &Report{Cutoff: cutoff, DryRun: r.opts.DryRun}

	r.log.InfoContext(ctx, "Archiving events prior to cutoff",
		"cutoff", cutoff.Format(time.RFC3339),
		"dry_run", r.opts.DryRun)

	err := r.run(ctx, cutoff, report)
	report.Duration = time.Since(begin)

	if r.opts.Recorder != nil {
		r.opts.Recorder.RecordRun(report, err)
	}

	if err != nil {
		r.log.ErrorContext(ctx, "Error while checking events",
			"error", err,
			"archived", report.Archived,
			"failed", report.Failed)
		return report, err
	}

	r.log.InfoContext(ctx, "Archival run complete",
		"archived", report.Archived,
		"scanned", report.Scanned,
		"skipped", len(report.Skipped),
		"duration", report.Duration)
	return report, nil
}

func (r *Runner) run(ctx context.Context, cutoff time.Time, report *Report) error {
	docs, err := r.store.QueryActiveEvents(ctx)
	if err != nil {
		return fmt.Errorf("failed to query events: %w", err)
	}
	report.Scanned = len(docs)

	due := r.selectDue(ctx, docs, cutoff, report)
	if len(due) == 0 || r.opts.DryRun {
		for _, doc := range due {
			report.ArchivedIDs = append(report.ArchivedIDs, doc.ID)
		}
		report.Archived = len(due)
		return nil
	}

	return r.archiveAll(ctx, due, report)
}

// selectDue evaluates every document and returns those due for archival
func (r *Runner) selectDue(ctx context.Context, docs []resource.Document, cutoff time.Time, report *Report) []resource.Document {
	due := make([]resource.Document, 0)
	for _, doc := range docs {
		final, err := r.evaluate(doc)
		if err != nil {
			report.Skipped = append(report.Skipped, SkippedDocument{ID: doc.ID, Name: doc.Name, Error: err.Error()})
			r.log.WarnContext(ctx, "Skipping event with malformed schedule",
				"id", doc.ID,
				"name", doc.Name,
				"error", err)
			continue
		}

		if final.Before(cutoff) {
			r.log.InfoContext(ctx, "Event is due to be archived",
				"name", doc.Name,
				"id", doc.ID,
				"final_date", final.String())
			due = append(due, doc)
		}
	}
	return due
}

func (r *Runner) evaluate(doc resource.Document) (schedule.FinalDate, error) {
	s, err := doc.DecodeSchedule()
	if err != nil {
		return schedule.Unbounded, err
	}
	return r.evaluator.Final(s)
}

func (r *Runner) archiveAll(ctx context.Context, due []resource.Document, report *Report) error {
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(r.opts.Concurrency)

	for _, doc := range due {
		g.Go(func() error {
			err := r.store.Archive(ctx, doc.ID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				return fmt.Errorf("failed to archive %s: %w", doc.ID, err)
			}
			report.Archived++
			report.ArchivedIDs = append(report.ArchivedIDs, doc.ID)
			return nil
		})
	}

	return g.Wait()
}
