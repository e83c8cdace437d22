package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/muaviaUsmani/rrdb/internal/logger"
	"github.com/redis/go-redis/v9"
)

// fireTime is the daily archival fire time on the test day
var fireTime = time.Date(2024, 6, 2, 7, 3, 0, 0, time.UTC)

type mockRecorder struct {
	fired, locked, panicked atomic.Int64
}

func (m *mockRecorder) RecordTriggerFired()    { m.fired.Add(1) }
func (m *mockRecorder) RecordTriggerLocked()   { m.locked.Add(1) }
func (m *mockRecorder) RecordTriggerPanicked() { m.panicked.Add(1) }

func newTestScheduler(registry *Registry, client *redis.Client) (*CronScheduler, *mockRecorder) {
	recorder := &mockRecorder{}
	cs := NewCronScheduler(registry, client, 20*time.Millisecond)
	cs.SetLockTTL(5 * time.Second)
	cs.SetLogger(&logger.NoOpLogger{})
	cs.SetRecorder(recorder)
	cs.started = fireTime.Add(-3 * time.Minute)
	return cs, recorder
}

func setupCronScheduler(t *testing.T) (*CronScheduler, *Registry, *mockRecorder, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	client, mr := setupTestRedis(t)
	registry := NewRegistry()
	cs, recorder := newTestScheduler(registry, client)
	return cs, registry, recorder, client, mr
}

func TestNewCronScheduler(t *testing.T) {
	registry := NewRegistry()
	cs := NewCronScheduler(registry, nil, 30*time.Second)

	if cs.interval != 30*time.Second {
		t.Errorf("Interval mismatch: got %v, want 30s", cs.interval)
	}
	if cs.lockTTL != 360*time.Second {
		t.Errorf("Lock TTL mismatch: got %v, want 360s", cs.lockTTL)
	}
	if cs.stateKey("archive") != "rrdb:triggers:archive" || cs.lockKey("archive") != "rrdb:trigger_lock:archive" {
		t.Errorf("unexpected keys: %s %s", cs.stateKey("archive"), cs.lockKey("archive"))
	}

	cs.SetKeyPrefix("staging:")
	if cs.stateKey("archive") != "staging:triggers:archive" {
		t.Errorf("prefix not applied: %s", cs.stateKey("archive"))
	}
}

func TestCronScheduler_ExecuteTrigger(t *testing.T) {
	cs, registry, recorder, _, mr := setupCronScheduler(t)
	ctx := context.Background()

	trigger := archiveTrigger()
	registry.MustRegister(trigger)

	var (
		calls       int
		hasDeadline bool
		remaining   time.Duration
	)
	cs.RegisterJob("archive", func(ctx context.Context) error {
		calls++
		var deadline time.Time
		deadline, hasDeadline = ctx.Deadline()
		remaining = time.Until(deadline)
		return nil
	})

	cs.executeTrigger(ctx, trigger, fireTime)

	if calls != 1 {
		t.Fatalf("Expected job to run once, ran %d times", calls)
	}
	if !hasDeadline || remaining <= 0 || remaining > trigger.Timeout {
		t.Errorf("job context should carry the trigger timeout, remaining=%v", remaining)
	}
	if recorder.fired.Load() != 1 {
		t.Errorf("fired = %d, want 1", recorder.fired.Load())
	}

	state, err := cs.GetState(ctx, trigger.ID)
	if err != nil {
		t.Fatalf("Failed to get state: %v", err)
	}
	if !state.LastRun.Equal(fireTime) || !state.LastSuccess.Equal(fireTime) {
		t.Errorf("LastRun = %v, LastSuccess = %v, want %v", state.LastRun, state.LastSuccess, fireTime)
	}
	if want := fireTime.AddDate(0, 0, 1); !state.NextRun.Equal(want) {
		t.Errorf("NextRun = %v, want %v", state.NextRun, want)
	}
	if state.RunCount != 1 || state.LastError != "" {
		t.Errorf("RunCount = %d, LastError = %q", state.RunCount, state.LastError)
	}

	if mr.Exists(cs.lockKey(trigger.ID)) {
		t.Error("Lock should be released after the run")
	}
}

func TestCronScheduler_JobError(t *testing.T) {
	cs, registry, _, _, _ := setupCronScheduler(t)
	ctx := context.Background()

	trigger := archiveTrigger()
	registry.MustRegister(trigger)
	cs.RegisterJob("archive", func(context.Context) error {
		return errors.New("failed to query events: connection refused")
	})

	cs.executeTrigger(ctx, trigger, fireTime)

	state, err := cs.GetState(ctx, trigger.ID)
	if err != nil {
		t.Fatalf("Failed to get state: %v", err)
	}
	if !strings.Contains(state.LastError, "connection refused") {
		t.Errorf("LastError = %q", state.LastError)
	}
	if !state.LastSuccess.IsZero() {
		t.Error("Expected zero LastSuccess on error")
	}
	if !state.LastRun.Equal(fireTime) {
		t.Errorf("LastRun = %v, want %v", state.LastRun, fireTime)
	}
}

func TestCronScheduler_JobPanicRecovered(t *testing.T) {
	cs, registry, recorder, _, _ := setupCronScheduler(t)
	ctx := context.Background()

	trigger := archiveTrigger()
	registry.MustRegister(trigger)
	cs.RegisterJob("archive", func(context.Context) error {
		var m map[string]int
		m["boom"]++
		return nil
	})

	cs.executeTrigger(ctx, trigger, fireTime)

	if recorder.panicked.Load() != 1 {
		t.Errorf("panicked = %d, want 1", recorder.panicked.Load())
	}
	state, _ := cs.GetState(ctx, trigger.ID)
	if !strings.Contains(state.LastError, "panic recovered in job archive") {
		t.Errorf("LastError = %q", state.LastError)
	}
}

func TestCronScheduler_JobTimeout(t *testing.T) {
	cs, registry, _, _, _ := setupCronScheduler(t)
	ctx := context.Background()

	trigger := archiveTrigger()
	trigger.Timeout = 20 * time.Millisecond
	registry.MustRegister(trigger)
	cs.RegisterJob("archive", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	cs.executeTrigger(ctx, trigger, fireTime)

	state, _ := cs.GetState(ctx, trigger.ID)
	if !strings.Contains(state.LastError, context.DeadlineExceeded.Error()) {
		t.Errorf("LastError = %q, want deadline exceeded", state.LastError)
	}
}

func TestCronScheduler_HeartbeatExtendsLock(t *testing.T) {
	cs, registry, _, _, mr := setupCronScheduler(t)
	cs.SetLockTTL(200 * time.Millisecond)
	ctx := context.Background()

	trigger := archiveTrigger()
	registry.MustRegister(trigger)
	lockKey := cs.lockKey(trigger.ID)

	var (
		held bool
		ttl  time.Duration
	)
	cs.RegisterJob("archive", func(ctx context.Context) error {
		// Leave 50ms on the lock, then outlive it
		mr.FastForward(150 * time.Millisecond)
		time.Sleep(350 * time.Millisecond)
		held = mr.Exists(lockKey)
		ttl = mr.TTL(lockKey)
		return ctx.Err()
	})

	cs.executeTrigger(ctx, trigger, fireTime)

	if !held {
		t.Fatal("lock should still be held while the job runs")
	}
	if ttl <= 150*time.Millisecond {
		t.Errorf("lock TTL = %v, want it reset to about 200ms", ttl)
	}
	if mr.Exists(lockKey) {
		t.Error("Lock should be released after the run")
	}

	state, _ := cs.GetState(ctx, trigger.ID)
	if state.LastError != "" {
		t.Errorf("LastError = %q, want none", state.LastError)
	}
}

func TestCronScheduler_LockLostCancelsJob(t *testing.T) {
	cs, registry, _, _, mr := setupCronScheduler(t)
	cs.SetLockTTL(100 * time.Millisecond)
	ctx := context.Background()

	trigger := archiveTrigger()
	registry.MustRegister(trigger)

	var cause error
	cs.RegisterJob("archive", func(ctx context.Context) error {
		mr.Del(cs.lockKey(trigger.ID))
		select {
		case <-ctx.Done():
			cause = context.Cause(ctx)
			return ctx.Err()
		case <-time.After(2 * time.Second):
			return errors.New("job was not cancelled")
		}
	})

	cs.executeTrigger(ctx, trigger, fireTime)

	if !errors.Is(cause, ErrLockLost) {
		t.Errorf("cancellation cause = %v, want ErrLockLost", cause)
	}
	state, _ := cs.GetState(ctx, trigger.ID)
	if !strings.Contains(state.LastError, context.Canceled.Error()) {
		t.Errorf("LastError = %q, want context canceled", state.LastError)
	}
}

func TestCronScheduler_UnknownJob(t *testing.T) {
	cs, registry, recorder, _, _ := setupCronScheduler(t)
	ctx := context.Background()

	trigger := archiveTrigger()
	registry.MustRegister(trigger)

	cs.executeTrigger(ctx, trigger, fireTime)

	state, _ := cs.GetState(ctx, trigger.ID)
	if !strings.Contains(state.LastError, "no job registered") {
		t.Errorf("LastError = %q", state.LastError)
	}
	if recorder.fired.Load() != 0 {
		t.Error("unknown job should not count as fired")
	}
}

func TestCronScheduler_LockedByOtherInstance(t *testing.T) {
	cs, registry, recorder, client, _ := setupCronScheduler(t)
	ctx := context.Background()

	trigger := archiveTrigger()
	registry.MustRegister(trigger)
	var calls atomic.Int64
	cs.RegisterJob("archive", func(context.Context) error {
		calls.Add(1)
		return nil
	})

	other, err := AcquireLock(ctx, client, cs.lockKey(trigger.ID), time.Minute)
	if err != nil || other == nil {
		t.Fatalf("Failed to pre-acquire lock: %v", err)
	}

	cs.executeTrigger(ctx, trigger, fireTime)

	if calls.Load() != 0 {
		t.Error("job must not run while another instance holds the lock")
	}
	if recorder.locked.Load() != 1 {
		t.Errorf("locked = %d, want 1", recorder.locked.Load())
	}
	state, _ := cs.GetState(ctx, trigger.ID)
	if !state.LastRun.IsZero() {
		t.Error("state must not change when the lock is not acquired")
	}
}

func TestCronScheduler_DistributedLocking(t *testing.T) {
	client, _ := setupTestRedis(t)
	registry := NewRegistry()
	trigger := archiveTrigger()
	registry.MustRegister(trigger)

	var calls atomic.Int64
	job := func(context.Context) error {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return nil
	}

	cs1, _ := newTestScheduler(registry, client)
	cs2, _ := newTestScheduler(registry, client)
	cs1.RegisterJob("archive", job)
	cs2.RegisterJob("archive", job)

	ctx := context.Background()
	var wg sync.WaitGroup
	for _, cs := range []*CronScheduler{cs1, cs2} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cs.executeTrigger(ctx, trigger, fireTime)
		}()
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("Expected exactly 1 job run across instances, got %d", calls.Load())
	}
}

func TestCronScheduler_IsDue(t *testing.T) {
	tests := []struct {
		name    string
		lastRun time.Time
		now     time.Time
		want    bool
	}{
		{"never run, before first fire", time.Time{}, fireTime.Add(-2 * time.Second), false},
		{"never run, within tick buffer", time.Time{}, fireTime.Add(-500 * time.Millisecond), true},
		{"never run, at fire time", time.Time{}, fireTime, true},
		{"ran today", fireTime, fireTime.Add(30 * time.Minute), false},
		{"ran yesterday, now past fire time", fireTime.AddDate(0, 0, -1), fireTime.Add(time.Hour), true},
		{"ran yesterday, before fire time", fireTime.AddDate(0, 0, -1), fireTime.Add(-time.Hour), false},
		{"missed several days", fireTime.AddDate(0, 0, -5), fireTime.Add(-time.Hour), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs, registry, _, _, _ := setupCronScheduler(t)
			ctx := context.Background()
			trigger := archiveTrigger()
			registry.MustRegister(trigger)

			if !tt.lastRun.IsZero() {
				if err := cs.updateState(ctx, trigger.ID, &TriggerState{LastRun: tt.lastRun}); err != nil {
					t.Fatal(err)
				}
			}

			if got := cs.isDue(ctx, trigger, tt.now); got != tt.want {
				t.Errorf("isDue() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCronScheduler_Tick(t *testing.T) {
	cs, registry, _, _, _ := setupCronScheduler(t)
	ctx := context.Background()

	var archiveCalls, disabledCalls, hourlyCalls atomic.Int64
	registry.MustRegister(archiveTrigger())
	registry.MustRegister(&Trigger{ID: "disabled", Cron: "* * * * *", Job: "disabled", Enabled: false})
	registry.MustRegister(&Trigger{ID: "hourly", Cron: "0 * * * *", Job: "hourly", Enabled: true})

	cs.RegisterJob("archive", func(context.Context) error { archiveCalls.Add(1); return nil })
	cs.RegisterJob("disabled", func(context.Context) error { disabledCalls.Add(1); return nil })
	cs.RegisterJob("hourly", func(context.Context) error { hourlyCalls.Add(1); return nil })

	cs.now = func() time.Time { return fireTime }
	cs.tick(ctx)
	cs.tick(ctx)

	if archiveCalls.Load() != 1 {
		t.Errorf("archive ran %d times, want 1", archiveCalls.Load())
	}
	if disabledCalls.Load() != 0 {
		t.Error("disabled trigger must not fire")
	}
	if hourlyCalls.Load() != 0 {
		t.Error("hourly trigger is not due until 08:00")
	}
}

func TestCronScheduler_StateUpdate_ClearsError(t *testing.T) {
	cs, registry, _, _, _ := setupCronScheduler(t)
	ctx := context.Background()

	trigger := archiveTrigger()
	registry.MustRegister(trigger)

	fail := true
	cs.RegisterJob("archive", func(context.Context) error {
		if fail {
			return errors.New("transient")
		}
		return nil
	})

	cs.executeTrigger(ctx, trigger, fireTime)
	if state, _ := cs.GetState(ctx, trigger.ID); state.LastError == "" {
		t.Fatal("Expected error after failed run")
	}

	fail = false
	cs.executeTrigger(ctx, trigger, fireTime.AddDate(0, 0, 1))

	state, _ := cs.GetState(ctx, trigger.ID)
	if state.LastError != "" {
		t.Errorf("Expected error cleared, got %q", state.LastError)
	}
	if !state.LastSuccess.Equal(fireTime.AddDate(0, 0, 1)) {
		t.Errorf("LastSuccess = %v", state.LastSuccess)
	}
}

func TestCronScheduler_RunCount_Increment(t *testing.T) {
	cs, registry, _, _, _ := setupCronScheduler(t)
	ctx := context.Background()

	trigger := archiveTrigger()
	registry.MustRegister(trigger)
	cs.RegisterJob("archive", func(context.Context) error { return nil })

	for day := 0; day < 3; day++ {
		cs.executeTrigger(ctx, trigger, fireTime.AddDate(0, 0, day))
	}
	// Same fire time again is not due
	cs.executeTrigger(ctx, trigger, fireTime.AddDate(0, 0, 2))

	state, _ := cs.GetState(ctx, trigger.ID)
	if state.RunCount != 3 {
		t.Errorf("RunCount = %d, want 3", state.RunCount)
	}
}

func TestCronScheduler_States(t *testing.T) {
	cs, registry, _, _, _ := setupCronScheduler(t)
	ctx := context.Background()

	registry.MustRegister(archiveTrigger())
	registry.MustRegister(&Trigger{ID: "hourly", Cron: "0 * * * *", Job: "hourly"})
	cs.RegisterJob("archive", func(context.Context) error { return nil })
	cs.executeTrigger(ctx, archiveTrigger(), fireTime)

	states, err := cs.States(ctx)
	if err != nil {
		t.Fatalf("States() error = %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("Expected 2 states, got %d", len(states))
	}
	if states[0].ID != "archive-expired-events" || states[0].RunCount != 1 {
		t.Errorf("unexpected archive state: %+v", states[0])
	}
	if states[1].ID != "hourly" || !states[1].LastRun.IsZero() {
		t.Errorf("unexpected hourly state: %+v", states[1])
	}
}

func TestCronScheduler_Start_Stop(t *testing.T) {
	cs, registry, _, _, _ := setupCronScheduler(t)
	registry.MustRegister(&Trigger{ID: "every-minute", Cron: "* * * * *", Job: "noop", Enabled: true})

	var calls atomic.Int64
	cs.RegisterJob("noop", func(context.Context) error { calls.Add(1); return nil })

	// Start anchors never-run triggers at the current time
	start := time.Date(2024, 6, 2, 7, 2, 59, 500_000_000, time.UTC)
	cs.now = func() time.Time { return start }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		cs.Start(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Scheduler did not stop within timeout")
	}

	if calls.Load() != 1 {
		t.Errorf("Expected one run of the due trigger, got %d", calls.Load())
	}
}
