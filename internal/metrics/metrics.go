// Package metrics keeps in-memory counters for archival runs and trigger firings.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/muaviaUsmani/rrdb/internal/archive"
)

var (
	globalCollector *Collector
	once            sync.Once
)

// Collector tracks process-wide metrics in memory
type Collector struct {
	runs             atomic.Int64
	failedRuns       atomic.Int64
	scanned          atomic.Int64
	archived         atomic.Int64
	skipped          atomic.Int64
	failedUpdates    atomic.Int64
	triggersFired    atomic.Int64
	triggersLocked   atomic.Int64
	triggersPanicked atomic.Int64

	mu            sync.RWMutex
	lastRun       time.Time
	lastCutoff    time.Time
	lastDuration  time.Duration
	lastError     string
	totalDuration time.Duration
	startTime     time.Time
}

// Metrics is a snapshot of the collector
type Metrics struct {
	Runs             int64         `json:"runs"`
	FailedRuns       int64         `json:"failed_runs"`
	DocumentsScanned int64         `json:"documents_scanned"`
	EventsArchived   int64         `json:"events_archived"`
	EventsSkipped    int64         `json:"events_skipped"`
	FailedUpdates    int64         `json:"failed_updates"`
	TriggersFired    int64         `json:"triggers_fired"`
	TriggersLocked   int64         `json:"triggers_locked"`
	TriggersPanicked int64         `json:"triggers_panicked"`
	LastRun          time.Time     `json:"last_run,omitempty"`
	LastCutoff       time.Time     `json:"last_cutoff,omitempty"`
	LastDuration     time.Duration `json:"last_duration"`
	LastError        string        `json:"last_error,omitempty"`
	AvgRunDuration   time.Duration `json:"avg_run_duration"`
	ErrorRate        float64       `json:"error_rate"`
	Uptime           time.Duration `json:"uptime"`
}

var _ archive.Recorder = (*Collector)(nil)

// Default returns the global metrics collector instance
func Default() *Collector {
	once.Do(func() {
		globalCollector = NewCollector()
	})
	return globalCollector
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// RecordRun records the outcome of one archival run. report may be nil.
func (c *Collector) RecordRun(report *archive.Report, err error) {
	c.runs.Add(1)
	if err != nil {
		c.failedRuns.Add(1)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastRun = time.Now()
	c.lastError = ""
	if err != nil {
		c.lastError = err.Error()
	}
	if report == nil {
		return
	}

	c.scanned.Add(int64(report.Scanned))
	c.skipped.Add(int64(len(report.Skipped)))
	c.failedUpdates.Add(int64(report.Failed))
	if !report.DryRun {
		c.archived.Add(int64(report.Archived))
	}

	c.lastCutoff = report.Cutoff
	c.lastDuration = report.Duration
	c.totalDuration += report.Duration
}

// RecordTriggerFired counts a trigger whose job was started by this instance
func (c *Collector) RecordTriggerFired() {
	c.triggersFired.Add(1)
}

// RecordTriggerLocked counts a due trigger already held by another instance
func (c *Collector) RecordTriggerLocked() {
	c.triggersLocked.Add(1)
}

// RecordTriggerPanicked counts a job that panicked
func (c *Collector) RecordTriggerPanicked() {
	c.triggersPanicked.Add(1)
}

// GetMetrics returns a snapshot of current metrics
func (c *Collector) GetMetrics() Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	runs := c.runs.Load()
	failed := c.failedRuns.Load()

	var avg time.Duration
	var errorRate float64
	if runs > 0 {
		avg = c.totalDuration / time.Duration(runs)
		errorRate = float64(failed) / float64(runs) * 100
	}

	return Metrics{
		Runs:             runs,
		FailedRuns:       failed,
		DocumentsScanned: c.scanned.Load(),
		EventsArchived:   c.archived.Load(),
		EventsSkipped:    c.skipped.Load(),
		FailedUpdates:    c.failedUpdates.Load(),
		TriggersFired:    c.triggersFired.Load(),
		TriggersLocked:   c.triggersLocked.Load(),
		TriggersPanicked: c.triggersPanicked.Load(),
		LastRun:          c.lastRun,
		LastCutoff:       c.lastCutoff,
		LastDuration:     c.lastDuration,
		LastError:        c.lastError,
		AvgRunDuration:   avg,
		ErrorRate:        errorRate,
		Uptime:           time.Since(c.startTime),
	}
}

// Reset clears all metrics (useful for testing)
func (c *Collector) Reset() {
	for _, counter := range []*atomic.Int64{
		&c.runs, &c.failedRuns, &c.scanned, &c.archived, &c.skipped,
		&c.failedUpdates, &c.triggersFired, &c.triggersLocked, &c.triggersPanicked,
	} {
		counter.Store(0)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastRun = time.Time{}
	c.lastCutoff = time.Time{}
	c.lastDuration = 0
	c.lastError = ""
	c.totalDuration = 0
	c.startTime = time.Now()
}

// GetMetrics returns metrics from the global collector
func GetMetrics() Metrics {
	return Default().GetMetrics()
}
