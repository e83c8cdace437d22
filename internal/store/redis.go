// Package store keeps the resources collection in Redis.
//
// Each resource is a hash at <prefix>resource:<id> with the fields
// resourceType, name, isVisible and schedule (JSON). Ids are indexed per
// resource type in the set <prefix>resources:type:<resourceType>.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/muaviaUsmani/rrdb/internal/resource"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a resource id does not exist
var ErrNotFound = errors.New("resource not found")

const (
	fieldResourceType = "resourceType"
	fieldName         = "name"
	fieldVisible      = "isVisible"
	fieldSchedule     = "schedule"

	// queryBatchSize is the number of hashes fetched per pipeline round trip
	queryBatchSize = 500
)

// setFieldIfExists updates one field of an existing hash and never creates one
var setFieldIfExists = redis.NewScript(`
	if redis.call("exists", KEYS[1]) == 0 then
		return 0
	end
	redis.call("hset", KEYS[1], ARGV[1], ARGV[2])
	return 1
`)

// RedisStore implements the resources collection on Redis
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore wraps an existing client. An empty prefix defaults to "rrdb:".
func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "rrdb:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

// Connect parses redisURL, opens a client and verifies it with PING
func Connect(ctx context.Context, redisURL, keyPrefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStore(client, keyPrefix), nil
}

// Client returns the underlying Redis client
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Ping checks the connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) resourceKey(id string) string {
	return s.keyPrefix + "resource:" + id
}

func (s *RedisStore) typeIndexKey(resourceType string) string {
	return s.keyPrefix + "resources:type:" + resourceType
}

// Put creates or replaces a resource and indexes it by type
func (s *RedisStore) Put(ctx context.Context, r resource.Resource) error {
	if r.ID == "" {
		return fmt.Errorf("resource id cannot be empty")
	}
	if r.ResourceType == "" {
		return fmt.Errorf("resource %s: resourceType cannot be empty", r.ID)
	}

	key := s.resourceKey(r.ID)

	previousType, err := s.client.HGet(ctx, key, fieldResourceType).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to read resource %s: %w", r.ID, err)
	}

	fields := map[string]interface{}{
		fieldResourceType: r.ResourceType,
		fieldName:         r.Name,
	}
	if r.IsVisible != nil {
		fields[fieldVisible] = strconv.FormatBool(*r.IsVisible)
	}
	if r.Schedule != nil {
		data, err := json.Marshal(r.Schedule)
		if err != nil {
			return fmt.Errorf("failed to encode schedule of %s: %w", r.ID, err)
		}
		fields[fieldSchedule] = string(data)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, fields)
		if previousType != "" && previousType != r.ResourceType {
			pipe.SRem(ctx, s.typeIndexKey(previousType), r.ID)
		}
		pipe.SAdd(ctx, s.typeIndexKey(r.ResourceType), r.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store resource %s: %w", r.ID, err)
	}
	return nil
}

// Get returns a resource by id, or ErrNotFound
func (s *RedisStore) Get(ctx context.Context, id string) (*resource.Resource, error) {
	data, err := s.client.HGetAll(ctx, s.resourceKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get resource %s: %w", id, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	r := &resource.Resource{
		ID:           id,
		ResourceType: data[fieldResourceType],
		Name:         data[fieldName],
	}
	if v, ok := data[fieldVisible]; ok {
		visible := v != "false"
		r.IsVisible = &visible
	}
	if raw, ok := data[fieldSchedule]; ok && raw != "" {
		doc := resource.Document{ID: id, Schedule: json.RawMessage(raw)}
		sched, err := doc.DecodeSchedule()
		if err != nil {
			return nil, err
		}
		r.Schedule = &sched
	}
	return r, nil
}

// QueryActiveEvents returns every Event resource whose isVisible flag is not
// false, projected to name and schedule. Documents are ordered by id.
func (s *RedisStore) QueryActiveEvents(ctx context.Context) ([]resource.Document, error) {
	ids, err := s.client.SMembers(ctx, s.typeIndexKey(resource.TypeEvent)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	sort.Strings(ids)

	docs := make([]resource.Document, 0, len(ids))
	for start := 0; start < len(ids); start += queryBatchSize {
		end := min(start+queryBatchSize, len(ids))
		batch, err := s.fetchActive(ctx, ids[start:end])
		if err != nil {
			return nil, err
		}
		docs = append(docs, batch...)
	}
	return docs, nil
}

func (s *RedisStore) fetchActive(ctx context.Context, ids []string) ([]resource.Document, error) {
	pipe := s.client.Pipeline()
	cmds := make([]*redis.SliceCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HMGet(ctx, s.resourceKey(id), fieldResourceType, fieldVisible, fieldName, fieldSchedule)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}

	docs := make([]resource.Document, 0, len(ids))
	for i, cmd := range cmds {
		vals := cmd.Val()
		// Ids left in the index after their hash was removed are skipped.
		if len(vals) != 4 || asString(vals[0]) != resource.TypeEvent {
			continue
		}
		if asString(vals[1]) == "false" {
			continue
		}

		doc := resource.Document{ID: ids[i], Name: asString(vals[2])}
		if raw := asString(vals[3]); raw != "" {
			doc.Schedule = json.RawMessage(raw)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Archive sets isVisible to false on an existing resource
func (s *RedisStore) Archive(ctx context.Context, id string) error {
	updated, err := setFieldIfExists.Run(ctx, s.client, []string{s.resourceKey(id)}, fieldVisible, "false").Int()
	if err != nil {
		return fmt.Errorf("failed to archive resource %s: %w", id, err)
	}
	if updated == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func asString(v interface{}) string {
	if str, ok := v.(string); ok {
		return str
	}
	return ""
}
