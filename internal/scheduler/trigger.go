package scheduler

import (
	"context"
	"time"
)

// JobFunc is the work a trigger starts. The context carries the trigger's
// timeout and the trigger/run ids for logging.
type JobFunc func(ctx context.Context) error

// Trigger fires a registered job on a cron schedule
type Trigger struct {
	// ID is a unique identifier for the trigger
	ID string

	// Cron expression (standard 5-field: minute hour day month weekday)
	// Examples:
	//   "3 7 * * *"     - Every day at 07:03
	//   "*/15 * * * *"  - Every 15 minutes
	//   "0 0 1 * *"     - First day of every month at midnight
	Cron string

	// Job name (must be registered with the scheduler)
	Job string

	// Timeout bounds one execution of the job. Zero means no deadline.
	Timeout time.Duration

	// Timezone for cron evaluation (default: UTC)
	// Must be a valid IANA timezone (e.g., "America/New_York", "UTC")
	Timezone string

	// Enabled flag (allows disabling without removing)
	Enabled bool

	// Description for logging/monitoring
	Description string
}

// TriggerState is the runtime state of a trigger, shared by all instances through Redis
type TriggerState struct {
	ID          string    `json:"id"`
	LastRun     time.Time `json:"last_run"`
	NextRun     time.Time `json:"next_run"`
	RunCount    int64     `json:"run_count"`
	LastError   string    `json:"last_error,omitempty"`
	LastSuccess time.Time `json:"last_success"`
}
