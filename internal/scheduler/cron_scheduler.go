// Package scheduler fires registered jobs on cron triggers, with a Redis lock so
// that only one daemon instance runs a given trigger at a time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	rrdberrors "github.com/muaviaUsmani/rrdb/internal/errors"
	"github.com/muaviaUsmani/rrdb/internal/logger"
	"github.com/redis/go-redis/v9"
)

// Recorder receives trigger outcomes, typically a metrics collector
type Recorder interface {
	RecordTriggerFired()
	RecordTriggerLocked()
	RecordTriggerPanicked()
}

// DefaultKeyPrefix namespaces trigger state and lock keys
const DefaultKeyPrefix = "rrdb:"

// CronScheduler fires due triggers on every tick
type CronScheduler struct {
	registry  *Registry
	client    *redis.Client
	interval  time.Duration
	lockTTL   time.Duration
	keyPrefix string
	recorder  Recorder
	log       logger.Logger
	now       func() time.Time

	mu      sync.RWMutex
	jobs    map[string]JobFunc
	started time.Time
}

// NewCronScheduler creates a new cron scheduler
func NewCronScheduler(registry *Registry, client *redis.Client, interval time.Duration) *CronScheduler {
	return &CronScheduler{
		registry:  registry,
		client:    client,
		interval:  interval,
		lockTTL:   360 * time.Second,
		keyPrefix: DefaultKeyPrefix,
		log:       logger.Default().WithComponent(logger.ComponentScheduler),
		now:       time.Now,
		jobs:      make(map[string]JobFunc),
	}
}

// SetLockTTL sets the distributed lock TTL. A running job's lock is extended
// every half TTL, so the TTL only bounds how long a crashed instance blocks others.
func (cs *CronScheduler) SetLockTTL(ttl time.Duration) {
	cs.lockTTL = ttl
}

// SetKeyPrefix sets the prefix of trigger state and lock keys
func (cs *CronScheduler) SetKeyPrefix(prefix string) {
	cs.keyPrefix = prefix
}

// SetRecorder sets the recorder notified of trigger outcomes
func (cs *CronScheduler) SetRecorder(recorder Recorder) {
	cs.recorder = recorder
}

// SetLogger replaces the scheduler's logger
func (cs *CronScheduler) SetLogger(log logger.Logger) {
	cs.log = log
}

// RegisterJob binds a job name to the function triggers with that job run
func (cs *CronScheduler) RegisterJob(name string, fn JobFunc) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.jobs[name] = fn
}

func (cs *CronScheduler) job(name string) (JobFunc, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	fn, ok := cs.jobs[name]
	return fn, ok
}

// Start runs the scheduler loop until ctx is cancelled.
// A trigger that has never run is anchored at the time Start was called.
func (cs *CronScheduler) Start(ctx context.Context) {
	cs.mu.Lock()
	cs.started = cs.now()
	cs.mu.Unlock()

	cs.log.Info("Cron scheduler started",
		"interval", cs.interval,
		"triggers", cs.registry.Count())

	ticker := time.NewTicker(cs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cs.log.Info("Cron scheduler stopping")
			return
		case <-ticker.C:
			cs.tick(ctx)
		}
	}
}

// tick fires every enabled trigger that is due
func (cs *CronScheduler) tick(ctx context.Context) {
	now := cs.now()
	for _, trigger := range cs.registry.List() {
		if !trigger.Enabled {
			continue
		}
		if cs.isDue(ctx, trigger, now) {
			cs.executeTrigger(ctx, trigger, now)
		}
	}
}

// anchor returns the time the next fire is computed from
func (cs *CronScheduler) anchor(state *TriggerState) time.Time {
	if !state.LastRun.IsZero() {
		return state.LastRun
	}
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.started
}

// isDue checks if a trigger should fire now
func (cs *CronScheduler) isDue(ctx context.Context, trigger *Trigger, now time.Time) bool {
	_, due := cs.dueAt(ctx, trigger, now)
	return due
}

// dueAt returns the trigger's next scheduled fire time and whether it has been reached
func (cs *CronScheduler) dueAt(ctx context.Context, trigger *Trigger, now time.Time) (time.Time, bool) {
	state, err := cs.getState(ctx, trigger.ID)
	if err != nil {
		cs.log.Error("Failed to get trigger state",
			"trigger_id", trigger.ID,
			"error", err)
		return time.Time{}, false
	}

	nextRun, err := cs.registry.NextRun(trigger, cs.anchor(state))
	if err != nil {
		cs.log.Error("Failed to calculate next run",
			"trigger_id", trigger.ID,
			"error", err)
		return time.Time{}, false
	}

	// 1-second buffer to account for tick timing
	return nextRun, !now.Before(nextRun.Add(-1 * time.Second))
}

// executeTrigger runs the trigger's job while holding the trigger lock
func (cs *CronScheduler) executeTrigger(ctx context.Context, trigger *Trigger, now time.Time) {
	lock, err := AcquireLock(ctx, cs.client, cs.lockKey(trigger.ID), cs.lockTTL)
	if err != nil {
		cs.log.Error("Failed to acquire trigger lock",
			"trigger_id", trigger.ID,
			"error", err)
		return
	}

	if lock == nil {
		cs.log.Debug("Trigger already locked by another instance",
			"trigger_id", trigger.ID)
		if cs.recorder != nil {
			cs.recorder.RecordTriggerLocked()
		}
		return
	}

	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			cs.log.Error("Failed to release trigger lock",
				"trigger_id", trigger.ID,
				"error", err)
		}
	}()

	// Another instance may have fired and released between isDue and AcquireLock
	scheduled, due := cs.dueAt(ctx, trigger, now)
	if !due {
		return
	}
	// A run started inside the tick buffer is recorded at its scheduled time
	ranAt := now
	if scheduled.After(now) {
		ranAt = scheduled
	}

	lockCtx, stopHeartbeat := cs.holdLock(ctx, lock, trigger.ID)
	runErr := cs.run(lockCtx, trigger)
	stopHeartbeat()

	nextRun, err := cs.registry.NextRun(trigger, ranAt)
	if err != nil {
		cs.log.Error("Failed to calculate next run time",
			"trigger_id", trigger.ID,
			"error", err)
		nextRun = time.Time{}
	}

	state := &TriggerState{
		ID:      trigger.ID,
		LastRun: ranAt,
		NextRun: nextRun,
	}
	if runErr != nil {
		state.LastError = runErr.Error()
	} else {
		state.LastSuccess = ranAt
	}

	// State is written even after a cancelled run so the trigger is not re-fired on restart
	stateCtx := context.WithoutCancel(ctx)
	runCount := cs.incrementRunCount(stateCtx, trigger.ID)
	if updateErr := cs.updateState(stateCtx, trigger.ID, state); updateErr != nil {
		cs.log.Warn("Failed to update trigger state", "trigger_id", trigger.ID, "error", updateErr)
	}

	cs.log.Debug("Trigger state updated",
		"trigger_id", trigger.ID,
		"next_run", nextRun.Format(time.RFC3339),
		"run_count", runCount)
}

// holdLock extends lock every half TTL until the returned stop function is
// called. If the lock is lost the returned context is cancelled with ErrLockLost.
func (cs *CronScheduler) holdLock(ctx context.Context, lock *DistributedLock, triggerID string) (context.Context, func()) {
	lockCtx, cancel := context.WithCancelCause(ctx)
	interval := max(cs.lockTTL/2, time.Millisecond)

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-lockCtx.Done():
				return
			case <-ticker.C:
				err := lock.Extend(lockCtx, cs.lockTTL)
				if errors.Is(err, ErrLockLost) {
					cs.log.Error("Trigger lock lost, cancelling job",
						"trigger_id", triggerID,
						"lock_key", lock.Key())
					cancel(ErrLockLost)
					return
				}
				if err != nil {
					cs.log.Warn("Failed to extend trigger lock",
						"trigger_id", triggerID,
						"error", err)
				}
			}
		}
	}()

	return lockCtx, func() {
		close(stop)
		<-stopped
		cancel(nil)
	}
}

// run executes the job bound to trigger under its timeout, converting panics into errors
func (cs *CronScheduler) run(ctx context.Context, trigger *Trigger) error {
	fn, ok := cs.job(trigger.Job)
	if !ok {
		err := fmt.Errorf("no job registered with name %s", trigger.Job)
		cs.log.Error("Trigger references unknown job",
			"trigger_id", trigger.ID,
			"job_name", trigger.Job)
		return err
	}

	runID := uuid.NewString()
	runCtx := logger.WithRun(ctx, trigger.ID, runID)
	if trigger.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, trigger.Timeout)
		defer cancel()
	}

	if cs.recorder != nil {
		cs.recorder.RecordTriggerFired()
	}
	cs.log.InfoContext(runCtx, "Trigger fired",
		"job_name", trigger.Job,
		"timeout", trigger.Timeout,
		"description", trigger.Description)

	begin := time.Now()
	err := rrdberrors.Guard(trigger.Job, func() error { return fn(runCtx) })
	duration := time.Since(begin)

	if panicErr, ok := rrdberrors.AsPanic(err); ok {
		if cs.recorder != nil {
			cs.recorder.RecordTriggerPanicked()
		}
		cs.log.ErrorContext(runCtx, "Job panicked",
			"job_name", trigger.Job,
			"error", panicErr,
			"stack", rrdberrors.FormatPanicForLog(panicErr))
		return err
	}
	if err != nil {
		cs.log.ErrorContext(runCtx, "Job failed",
			"job_name", trigger.Job,
			"duration", duration,
			"error", err)
		return err
	}

	cs.log.InfoContext(runCtx, "Job completed",
		"job_name", trigger.Job,
		"duration", duration)
	return nil
}

func (cs *CronScheduler) stateKey(triggerID string) string {
	return cs.keyPrefix + "triggers:" + triggerID
}

func (cs *CronScheduler) lockKey(triggerID string) string {
	return cs.keyPrefix + "trigger_lock:" + triggerID
}

// getState retrieves the current state of a trigger from Redis
func (cs *CronScheduler) getState(ctx context.Context, triggerID string) (*TriggerState, error) {
	result, err := cs.client.HGetAll(ctx, cs.stateKey(triggerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get trigger state: %w", err)
	}

	state := &TriggerState{ID: triggerID}
	if len(result) == 0 {
		return state, nil
	}

	state.LastRun = parseStateTime(result["last_run"])
	state.NextRun = parseStateTime(result["next_run"])
	state.LastSuccess = parseStateTime(result["last_success"])
	state.LastError = result["last_error"]
	if runCount, err := strconv.ParseInt(result["run_count"], 10, 64); err == nil {
		state.RunCount = runCount
	}

	return state, nil
}

func parseStateTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

// updateState writes the trigger state to Redis
func (cs *CronScheduler) updateState(ctx context.Context, triggerID string, state *TriggerState) error {
	key := cs.stateKey(triggerID)

	fields := map[string]interface{}{
		"last_run": state.LastRun.UTC().Format(time.RFC3339Nano),
	}
	if !state.NextRun.IsZero() {
		fields["next_run"] = state.NextRun.UTC().Format(time.RFC3339Nano)
	}
	if !state.LastSuccess.IsZero() {
		fields["last_success"] = state.LastSuccess.UTC().Format(time.RFC3339Nano)
	}

	_, err := cs.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if state.LastError != "" {
			fields["last_error"] = state.LastError
		} else {
			pipe.HDel(ctx, key, "last_error")
		}
		pipe.HSet(ctx, key, fields)
		return nil
	})
	return err
}

// incrementRunCount increments and returns the run count
func (cs *CronScheduler) incrementRunCount(ctx context.Context, triggerID string) int64 {
	count, err := cs.client.HIncrBy(ctx, cs.stateKey(triggerID), "run_count", 1).Result()
	if err != nil {
		cs.log.Error("Failed to increment run count",
			"trigger_id", triggerID,
			"error", err)
		return 0
	}
	return count
}

// GetState retrieves the current state of a trigger (public method for monitoring)
func (cs *CronScheduler) GetState(ctx context.Context, triggerID string) (*TriggerState, error) {
	return cs.getState(ctx, triggerID)
}

// States returns the state of every registered trigger
func (cs *CronScheduler) States(ctx context.Context) ([]*TriggerState, error) {
	triggers := cs.registry.List()
	states := make([]*TriggerState, 0, len(triggers))
	for _, trigger := range triggers {
		state, err := cs.getState(ctx, trigger.ID)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, nil
}
