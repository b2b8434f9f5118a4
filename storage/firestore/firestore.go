// Package firestore provides a Firestore implementation of the entitlement
// storage interfaces. RecordUse runs the limit check and the increment inside
// a Firestore transaction; the server retries the transaction on contention,
// so concurrent callers at the boundary cannot jointly exceed the limit.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/aceprep/entitlement/pkg/entitlement"
)

// Store implements entitlement.Store using Google Cloud Firestore.
type Store struct {
	client              *firestore.Client
	snapshotsCollection string
	usageCollection     string
}

// Config holds Firestore storage configuration.
type Config struct {
	// SnapshotsCollection is the collection for subscription snapshots.
	// Default: "subscription_snapshots".
	SnapshotsCollection string

	// UsageCollection is the collection for per-day usage records.
	// Default: "feature_usage".
	UsageCollection string
}

// New creates a new Firestore store.
func New(client *firestore.Client, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	if config.SnapshotsCollection == "" {
		config.SnapshotsCollection = "subscription_snapshots"
	}
	if config.UsageCollection == "" {
		config.UsageCollection = "feature_usage"
	}

	return &Store{
		client:              client,
		snapshotsCollection: config.SnapshotsCollection,
		usageCollection:     config.UsageCollection,
	}, nil
}

// Snapshot implements entitlement.SnapshotSource.
func (s *Store) Snapshot(ctx context.Context, userID string) (*entitlement.SubscriptionSnapshot, error) {
	doc := s.client.Collection(s.snapshotsCollection).Doc(userID)
	snap, err := doc.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, entitlement.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	if !snap.Exists() {
		return nil, entitlement.ErrUserNotFound
	}

	data := snap.Data()
	out := &entitlement.SubscriptionSnapshot{
		UserID:           userID,
		Tier:             entitlement.Tier(getString(data, "tier")),
		Status:           entitlement.Status(getString(data, "status")),
		StartDate:        getTime(data, "startDate"),
		AccountCreatedAt: getTime(data, "accountCreatedAt"),
		UpdatedAt:        getTime(data, "updatedAt"),
	}

	if endDate, ok := data["endDate"].(time.Time); ok && !endDate.IsZero() {
		out.EndDate = &endDate
	}

	return out, nil
}

// SetSnapshot implements entitlement.Store.
func (s *Store) SetSnapshot(ctx context.Context, snap *entitlement.SubscriptionSnapshot) error {
	if snap == nil || snap.UserID == "" {
		return fmt.Errorf("invalid snapshot")
	}

	data := map[string]interface{}{
		"tier":             string(snap.Tier),
		"status":           string(snap.Status),
		"startDate":        snap.StartDate,
		"accountCreatedAt": snap.AccountCreatedAt,
		"updatedAt":        time.Now().UTC(),
	}
	if snap.EndDate != nil {
		data["endDate"] = *snap.EndDate
	}

	if _, err := s.client.Collection(s.snapshotsCollection).Doc(snap.UserID).Set(ctx, data); err != nil {
		return fmt.Errorf("failed to set snapshot: %w", err)
	}

	return nil
}

// GetUsage implements entitlement.UsageStore.
func (s *Store) GetUsage(ctx context.Context, userID string, feature entitlement.Feature, day entitlement.Day) (int, error) {
	doc := s.client.Collection(s.usageCollection).Doc(usageDocID(userID, feature, day))
	snap, err := doc.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return 0, nil // no usage yet is not an error
		}
		return 0, fmt.Errorf("failed to get usage: %w", err)
	}

	return getCount(snap.Data()), nil
}

// RecordUse implements entitlement.UsageStore with a transactional
// conditional increment.
func (s *Store) RecordUse(ctx context.Context, req *entitlement.RecordUseRequest) (int, error) {
	if req.Limit <= 0 {
		return 0, entitlement.ErrQuotaExceeded
	}

	doc := s.client.Collection(s.usageCollection).Doc(usageDocID(req.UserID, req.Feature, req.Day))

	var newCount int
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		current := 0
		snap, err := tx.Get(doc)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil && snap.Exists() {
			current = getCount(snap.Data())
		}

		if current >= req.Limit {
			newCount = current
			return entitlement.ErrQuotaExceeded
		}

		newCount = current + 1
		return tx.Set(doc, s.usageData(req, newCount))
	})
	if errors.Is(err, entitlement.ErrQuotaExceeded) {
		return newCount, entitlement.ErrQuotaExceeded
	}
	if err != nil {
		return 0, fmt.Errorf("failed to record use: %w", err)
	}

	return newCount, nil
}

// AddUsage implements entitlement.UsageStore. The unconditional increment
// still needs a transaction: Firestore has no atomic read-increment-return.
func (s *Store) AddUsage(ctx context.Context, req *entitlement.RecordUseRequest) (int, error) {
	doc := s.client.Collection(s.usageCollection).Doc(usageDocID(req.UserID, req.Feature, req.Day))

	var newCount int
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		current := 0
		snap, err := tx.Get(doc)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil && snap.Exists() {
			current = getCount(snap.Data())
		}

		newCount = current + 1
		return tx.Set(doc, s.usageData(req, newCount))
	})
	if err != nil {
		return 0, fmt.Errorf("failed to add usage: %w", err)
	}

	return newCount, nil
}

func (s *Store) usageData(req *entitlement.RecordUseRequest, count int) map[string]interface{} {
	data := map[string]interface{}{
		"userId":    req.UserID,
		"feature":   string(req.Feature),
		"day":       req.Day.Key(),
		"count":     count,
		"tier":      string(req.Tier),
		"resetAt":   req.Day.ResetTime(),
		"updatedAt": time.Now().UTC(),
	}
	if len(req.Metadata) > 0 {
		data["metadata"] = req.Metadata
	}
	return data
}

func usageDocID(userID string, feature entitlement.Feature, day entitlement.Day) string {
	return fmt.Sprintf("%s_%s_%s", userID, feature, day.Key())
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}

func getCount(data map[string]interface{}) int {
	switch v := data["count"].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
