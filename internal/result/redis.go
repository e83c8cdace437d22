package result

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/muaviaUsmani/rrdb/internal/archive"
	"github.com/redis/go-redis/v9"
)

// DefaultHistorySize is the number of run ids kept in the recent list
const DefaultHistorySize = 50

// RedisBackend implements the Backend interface using Redis
type RedisBackend struct {
	client      *redis.Client
	keyPrefix   string
	successTTL  time.Duration
	failureTTL  time.Duration
	historySize int
}

// NewRedisBackend creates a new Redis-backed run history
func NewRedisBackend(client *redis.Client, keyPrefix string, successTTL, failureTTL time.Duration, historySize int) *RedisBackend {
	if historySize < 1 {
		historySize = DefaultHistorySize
	}
	return &RedisBackend{
		client:      client,
		keyPrefix:   keyPrefix,
		successTTL:  successTTL,
		failureTTL:  failureTTL,
		historySize: historySize,
	}
}

func (r *RedisBackend) runKey(runID string) string {
	return r.keyPrefix + "run:" + runID
}

func (r *RedisBackend) recentKey() string {
	return r.keyPrefix + "runs:recent"
}

// StoreRun stores a run record and pushes it onto the capped recent list
func (r *RedisBackend) StoreRun(ctx context.Context, run *Run) error {
	if run.RunID == "" {
		return fmt.Errorf("run id cannot be empty")
	}
	key := r.runKey(run.RunID)

	data := map[string]interface{}{
		"trigger_id":   run.TriggerID,
		"status":       string(run.Status),
		"completed_at": run.CompletedAt.Format(time.RFC3339Nano),
		"duration_ms":  run.Duration.Milliseconds(),
	}

	if run.Report != nil {
		report, err := json.Marshal(run.Report)
		if err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		data["report"] = string(report)
	}

	if run.IsFailed() && run.Error != "" {
		data["error"] = run.Error
	}

	ttl := r.successTTL
	if run.IsFailed() {
		ttl = r.failureTTL
	}

	// HSET + EXPIRE + LPUSH + LTRIM in one transaction
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, data)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		pipe.LPush(ctx, r.recentKey(), run.RunID)
		pipe.LTrim(ctx, r.recentKey(), 0, int64(r.historySize-1))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store run: %w", err)
	}

	return nil
}

// GetRun retrieves a run record from Redis
func (r *RedisBackend) GetRun(ctx context.Context, runID string) (*Run, error) {
	data, err := r.client.HGetAll(ctx, r.runKey(runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	if len(data) == 0 {
		return nil, nil
	}

	return parseRun(runID, data)
}

func parseRun(runID string, data map[string]string) (*Run, error) {
	run := &Run{
		RunID:     runID,
		TriggerID: data["trigger_id"],
		Status:    Status(data["status"]),
		Error:     data["error"],
	}

	if completedAt, exists := data["completed_at"]; exists {
		if t, err := time.Parse(time.RFC3339Nano, completedAt); err == nil {
			run.CompletedAt = t
		}
	}

	if durationMs, exists := data["duration_ms"]; exists {
		if ms, err := strconv.ParseInt(durationMs, 10, 64); err == nil {
			run.Duration = time.Duration(ms) * time.Millisecond
		}
	}

	if report, exists := data["report"]; exists {
		run.Report = &archive.Report{}
		if err := json.Unmarshal([]byte(report), run.Report); err != nil {
			return nil, fmt.Errorf("failed to decode report of run %s: %w", runID, err)
		}
	}

	return run, nil
}

// Recent returns up to limit recorded runs, newest first. Expired records are skipped.
func (r *RedisBackend) Recent(ctx context.Context, limit int) ([]*Run, error) {
	if limit < 1 || limit > r.historySize {
		limit = r.historySize
	}

	ids, err := r.client.LRange(ctx, r.recentKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	runs := make([]*Run, 0, len(ids))
	for _, id := range ids {
		run, err := r.GetRun(ctx, id)
		if err != nil {
			return nil, err
		}
		if run != nil {
			runs = append(runs, run)
		}
	}
	return runs, nil
}
