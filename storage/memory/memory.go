// Package memory provides an in-memory implementation of the entitlement
// storage interfaces. It is intended for tests and local development; the
// limit check and increment happen under one mutex, preserving the atomicity
// contract of UsageStore.RecordUse.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/aceprep/entitlement/pkg/entitlement"
)

// Store implements entitlement.Store using in-memory maps.
type Store struct {
	mu        sync.RWMutex
	snapshots map[string]*entitlement.SubscriptionSnapshot
	usage     map[string]*usageRecord
}

type usageRecord struct {
	count    int
	metadata map[string]string
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		snapshots: make(map[string]*entitlement.SubscriptionSnapshot),
		usage:     make(map[string]*usageRecord),
	}
}

// Snapshot implements entitlement.SnapshotSource.
func (s *Store) Snapshot(ctx context.Context, userID string) (*entitlement.SubscriptionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[userID]
	if !ok {
		return nil, entitlement.ErrUserNotFound
	}

	// Return a copy to prevent external mutations.
	snapCopy := *snap
	return &snapCopy, nil
}

// SetSnapshot implements entitlement.Store.
func (s *Store) SetSnapshot(ctx context.Context, snap *entitlement.SubscriptionSnapshot) error {
	if snap == nil || snap.UserID == "" {
		return fmt.Errorf("invalid snapshot")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapCopy := *snap
	s.snapshots[snap.UserID] = &snapCopy
	return nil
}

// GetUsage implements entitlement.UsageStore.
func (s *Store) GetUsage(ctx context.Context, userID string, feature entitlement.Feature, day entitlement.Day) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.usage[usageKey(userID, feature, day)]
	if !ok {
		return 0, nil // no usage yet is not an error
	}
	return record.count, nil
}

// RecordUse implements entitlement.UsageStore. The check and increment run
// under the write lock, so concurrent callers at the boundary cannot jointly
// push the count above the limit.
func (s *Store) RecordUse(ctx context.Context, req *entitlement.RecordUseRequest) (int, error) {
	if req.Limit <= 0 {
		return 0, entitlement.ErrQuotaExceeded
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := usageKey(req.UserID, req.Feature, req.Day)
	record, ok := s.usage[key]
	if !ok {
		record = &usageRecord{}
	}

	if record.count >= req.Limit {
		return record.count, entitlement.ErrQuotaExceeded
	}

	record.count++
	if record.metadata == nil && len(req.Metadata) > 0 {
		record.metadata = copyMetadata(req.Metadata)
	}
	s.usage[key] = record
	return record.count, nil
}

// AddUsage implements entitlement.UsageStore.
func (s *Store) AddUsage(ctx context.Context, req *entitlement.RecordUseRequest) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := usageKey(req.UserID, req.Feature, req.Day)
	record, ok := s.usage[key]
	if !ok {
		record = &usageRecord{}
	}

	record.count++
	if record.metadata == nil && len(req.Metadata) > 0 {
		record.metadata = copyMetadata(req.Metadata)
	}
	s.usage[key] = record
	return record.count, nil
}

// Clear removes all data (useful for testing).
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots = make(map[string]*entitlement.SubscriptionSnapshot)
	s.usage = make(map[string]*usageRecord)
}

func usageKey(userID string, feature entitlement.Feature, day entitlement.Day) string {
	return fmt.Sprintf("%s:%s:%s", userID, feature, day.Key())
}

func copyMetadata(md map[string]string) map[string]string {
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
