// Package redis provides a Redis implementation of the entitlement storage
// interfaces. The limit check and increment run inside one Lua script, which
// Redis executes atomically, so concurrent callers cannot jointly push a
// counter above its limit.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aceprep/entitlement/pkg/entitlement"
)

// Store implements entitlement.Store using Redis.
type Store struct {
	client  redis.UniversalClient
	config  Config
	scripts map[string]*redis.Script
}

// Config holds Redis storage configuration.
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "entitlement:").
	KeyPrefix string

	// SnapshotTTL is the TTL for snapshot keys (0 = no expiration).
	SnapshotTTL time.Duration

	// UsageRetention is how long a day's usage key survives past its reset
	// time. 0 keeps records forever; the engine itself never deletes usage
	// history, expiry here is optional housekeeping.
	UsageRetention time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		KeyPrefix:      "entitlement:",
		SnapshotTTL:    24 * time.Hour,
		UsageRetention: 0,
	}
}

// New creates a new Redis store. The client can be *redis.Client,
// *redis.ClusterClient, or *redis.Ring.
func New(client redis.UniversalClient, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "entitlement:"
	}

	s := &Store{
		client:  client,
		config:  config,
		scripts: make(map[string]*redis.Script),
	}
	s.loadScripts()

	return s, nil
}

// loadScripts compiles the Lua scripts for atomic operations.
func (s *Store) loadScripts() {
	// Conditional increment: succeeds only while count < limit.
	// Returns {count, 1} on success, {count, 0} on rejection.
	s.scripts["recordUse"] = redis.NewScript(`
		local key = KEYS[1]
		local limit = tonumber(ARGV[1])
		local expireAt = tonumber(ARGV[2])

		local current = tonumber(redis.call('GET', key) or '0')
		if current >= limit then
			return {current, 0}
		end

		local new = redis.call('INCR', key)
		if expireAt > 0 then
			redis.call('EXPIREAT', key, expireAt)
		end

		return {new, 1}
	`)
}

// Snapshot implements entitlement.SnapshotSource.
func (s *Store) Snapshot(ctx context.Context, userID string) (*entitlement.SubscriptionSnapshot, error) {
	raw, err := s.client.Get(ctx, s.snapshotKey(userID)).Result()
	if err == redis.Nil {
		return nil, entitlement.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	var snap entitlement.SubscriptionSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// SetSnapshot implements entitlement.Store.
func (s *Store) SetSnapshot(ctx context.Context, snap *entitlement.SubscriptionSnapshot) error {
	if snap == nil || snap.UserID == "" {
		return fmt.Errorf("invalid snapshot")
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := s.client.Set(ctx, s.snapshotKey(snap.UserID), raw, s.config.SnapshotTTL).Err(); err != nil {
		return fmt.Errorf("failed to set snapshot: %w", err)
	}

	return nil
}

// GetUsage implements entitlement.UsageStore.
func (s *Store) GetUsage(ctx context.Context, userID string, feature entitlement.Feature, day entitlement.Day) (int, error) {
	count, err := s.client.Get(ctx, s.usageKey(userID, feature, day)).Int()
	if err == redis.Nil {
		return 0, nil // no usage yet is not an error
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get usage: %w", err)
	}

	return count, nil
}

// RecordUse implements entitlement.UsageStore via the recordUse Lua script.
func (s *Store) RecordUse(ctx context.Context, req *entitlement.RecordUseRequest) (int, error) {
	if req.Limit <= 0 {
		return 0, entitlement.ErrQuotaExceeded
	}

	result, err := s.scripts["recordUse"].Run(ctx, s.client,
		[]string{s.usageKey(req.UserID, req.Feature, req.Day)},
		req.Limit, s.expireAt(req.Day),
	).Slice()
	if err != nil {
		return 0, fmt.Errorf("failed to record use: %w", err)
	}
	if len(result) != 2 {
		return 0, fmt.Errorf("unexpected script result: %v", result)
	}

	count, ok := result[0].(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected count type %T", result[0])
	}
	accepted, ok := result[1].(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected accepted type %T", result[1])
	}

	if accepted == 0 {
		return int(count), entitlement.ErrQuotaExceeded
	}
	return int(count), nil
}

// AddUsage implements entitlement.UsageStore. A plain INCR is already atomic.
func (s *Store) AddUsage(ctx context.Context, req *entitlement.RecordUseRequest) (int, error) {
	key := s.usageKey(req.UserID, req.Feature, req.Day)

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to add usage: %w", err)
	}

	if expireAt := s.expireAt(req.Day); expireAt > 0 {
		s.client.ExpireAt(ctx, key, time.Unix(expireAt, 0))
	}

	return int(count), nil
}

func (s *Store) snapshotKey(userID string) string {
	return fmt.Sprintf("%ssnapshot:%s", s.config.KeyPrefix, userID)
}

func (s *Store) usageKey(userID string, feature entitlement.Feature, day entitlement.Day) string {
	return fmt.Sprintf("%susage:%s:%s:%s", s.config.KeyPrefix, userID, feature, day.Key())
}

// expireAt returns the Unix expiry for a day's usage key, or 0 to keep it
// forever.
func (s *Store) expireAt(day entitlement.Day) int64 {
	if s.config.UsageRetention <= 0 {
		return 0
	}
	return day.ResetTime().Add(s.config.UsageRetention).Unix()
}
