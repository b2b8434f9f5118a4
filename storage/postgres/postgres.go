// Package postgres provides a PostgreSQL implementation of the entitlement
// storage interfaces. RecordUse is a single conditional upsert so the limit
// check and the increment commit atomically; there is no separate
// read-compare-write sequence anywhere in the adapter.
//
// Expected schema:
//
//	CREATE TABLE subscription_snapshots (
//	    user_id            TEXT PRIMARY KEY,
//	    tier               TEXT NOT NULL,
//	    status             TEXT NOT NULL,
//	    start_date         TIMESTAMPTZ NOT NULL,
//	    end_date           TIMESTAMPTZ,
//	    account_created_at TIMESTAMPTZ NOT NULL,
//	    updated_at         TIMESTAMPTZ NOT NULL
//	);
//
//	CREATE TABLE feature_usage (
//	    user_id    TEXT NOT NULL,
//	    feature    TEXT NOT NULL,
//	    day        DATE NOT NULL,
//	    count      BIGINT NOT NULL,
//	    tier       TEXT NOT NULL,
//	    reset_at   TIMESTAMPTZ NOT NULL,
//	    metadata   JSONB,
//	    updated_at TIMESTAMPTZ NOT NULL,
//	    PRIMARY KEY (user_id, feature, day)
//	);
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aceprep/entitlement/pkg/entitlement"
)

// Store implements entitlement.Store using PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration.
type Config struct {
	// ConnectionString is the PostgreSQL connection string.
	ConnectionString string

	// Pool configuration.
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL store.
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool, config: config}, nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks the PostgreSQL connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Snapshot implements entitlement.SnapshotSource.
func (s *Store) Snapshot(ctx context.Context, userID string) (*entitlement.SubscriptionSnapshot, error) {
	var snap entitlement.SubscriptionSnapshot
	var endDate *time.Time

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, tier, status, start_date, end_date, account_created_at, updated_at
			FROM subscription_snapshots WHERE user_id = $1`,
		userID).Scan(
		&snap.UserID,
		&snap.Tier,
		&snap.Status,
		&snap.StartDate,
		&endDate,
		&snap.AccountCreatedAt,
		&snap.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entitlement.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	snap.EndDate = endDate
	return &snap, nil
}

// SetSnapshot implements entitlement.Store.
func (s *Store) SetSnapshot(ctx context.Context, snap *entitlement.SubscriptionSnapshot) error {
	if snap == nil || snap.UserID == "" {
		return fmt.Errorf("invalid snapshot")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO subscription_snapshots
				(user_id, tier, status, start_date, end_date, account_created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (user_id) DO UPDATE SET
				tier = EXCLUDED.tier,
				status = EXCLUDED.status,
				start_date = EXCLUDED.start_date,
				end_date = EXCLUDED.end_date,
				account_created_at = EXCLUDED.account_created_at,
				updated_at = EXCLUDED.updated_at`,
		snap.UserID, string(snap.Tier), string(snap.Status), snap.StartDate,
		snap.EndDate, snap.AccountCreatedAt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to set snapshot: %w", err)
	}

	return nil
}

// GetUsage implements entitlement.UsageStore.
func (s *Store) GetUsage(ctx context.Context, userID string, feature entitlement.Feature, day entitlement.Day) (int, error) {
	var count int64

	err := s.pool.QueryRow(ctx,
		`SELECT count FROM feature_usage
			WHERE user_id = $1 AND feature = $2 AND day = $3`,
		userID, string(feature), day.Key()).Scan(&count)

	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil // no usage yet is not an error
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get usage: %w", err)
	}

	return int(count), nil
}

// RecordUse implements entitlement.UsageStore with a single conditional
// upsert: the row is created with count 1, or incremented only while the
// current count is below the limit. Concurrent callers at the boundary
// serialize on the row and at most limit increments ever commit.
func (s *Store) RecordUse(ctx context.Context, req *entitlement.RecordUseRequest) (int, error) {
	if req.Limit <= 0 {
		return 0, entitlement.ErrQuotaExceeded
	}

	metadata, err := marshalMetadata(req.Metadata)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	var newCount int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO feature_usage (user_id, feature, day, count, tier, reset_at, metadata, updated_at)
			VALUES ($1, $2, $3, 1, $4, $5, $6, NOW())
			ON CONFLICT (user_id, feature, day) DO UPDATE
				SET count = feature_usage.count + 1, updated_at = NOW()
				WHERE feature_usage.count < $7
			RETURNING count`,
		req.UserID, string(req.Feature), req.Day.Key(), string(req.Tier),
		req.Day.ResetTime(), metadata, req.Limit).Scan(&newCount)

	if errors.Is(err, pgx.ErrNoRows) {
		// The conditional update declined: the row is at (or above) the
		// limit. Read the current count for the rejection result; the
		// decision itself was already made atomically above.
		current, readErr := s.GetUsage(ctx, req.UserID, req.Feature, req.Day)
		if readErr != nil {
			return 0, readErr
		}
		return current, entitlement.ErrQuotaExceeded
	}
	if err != nil {
		return 0, fmt.Errorf("failed to record use: %w", err)
	}

	return int(newCount), nil
}

// AddUsage implements entitlement.UsageStore: an unconditional upsert
// increment used only for unlimited-tier telemetry.
func (s *Store) AddUsage(ctx context.Context, req *entitlement.RecordUseRequest) (int, error) {
	metadata, err := marshalMetadata(req.Metadata)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	var newCount int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO feature_usage (user_id, feature, day, count, tier, reset_at, metadata, updated_at)
			VALUES ($1, $2, $3, 1, $4, $5, $6, NOW())
			ON CONFLICT (user_id, feature, day) DO UPDATE
				SET count = feature_usage.count + 1, updated_at = NOW()
			RETURNING count`,
		req.UserID, string(req.Feature), req.Day.Key(), string(req.Tier),
		req.Day.ResetTime(), metadata).Scan(&newCount)
	if err != nil {
		return 0, fmt.Errorf("failed to add usage: %w", err)
	}

	return int(newCount), nil
}

// marshalMetadata returns a JSONB-compatible value: a JSON string for
// non-empty metadata, nil otherwise (the column requires valid JSON or NULL).
func marshalMetadata(md map[string]string) (interface{}, error) {
	if len(md) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(md)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}
