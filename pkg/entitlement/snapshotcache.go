package entitlement

import (
	"context"
	"sync"
	"time"
)

// SnapshotCache is a TTL+LRU read-through decorator over a SnapshotSource.
// Billing snapshots change rarely and are read on every gate operation, so a
// short TTL takes most of the read load off the billing store. Usage counters
// are deliberately never cached: quota correctness depends on the storage
// round trip.
type SnapshotCache struct {
	source  SnapshotSource
	ttl     time.Duration
	max     int
	metrics Metrics

	mu       sync.Mutex
	entries  map[string]*snapshotEntry
	sequence int64
}

type snapshotEntry struct {
	snap       SubscriptionSnapshot
	expiration time.Time
	accessTime time.Time
	sequence   int64
}

// NewSnapshotCache creates a cache over source. A non-positive ttl defaults
// to one minute; a non-positive maxEntries defaults to 1000.
func NewSnapshotCache(source SnapshotSource, ttl time.Duration, maxEntries int, metrics Metrics) *SnapshotCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	if metrics == nil {
		metrics = &NoopMetrics{}
	}
	return &SnapshotCache{
		source:  source,
		ttl:     ttl,
		max:     maxEntries,
		metrics: metrics,
		entries: make(map[string]*snapshotEntry, maxEntries),
	}
}

// Snapshot implements SnapshotSource. Only positive results are cached;
// ErrUserNotFound and storage failures always go back to the source.
func (c *SnapshotCache) Snapshot(ctx context.Context, userID string) (*SubscriptionSnapshot, error) {
	if snap, ok := c.get(userID); ok {
		c.metrics.RecordCacheHit("snapshot")
		return snap, nil
	}
	c.metrics.RecordCacheMiss("snapshot")

	snap, err := c.source.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.set(userID, snap)
	return snap, nil
}

// Invalidate drops the cached snapshot for a user. The billing collaborator
// calls this after mutating a subscription so tier changes apply promptly.
func (c *SnapshotCache) Invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
}

// Clear removes all cached snapshots.
func (c *SnapshotCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*snapshotEntry, c.max)
}

func (c *SnapshotCache) get(userID string) (*SubscriptionSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[userID]
	if !ok || time.Now().After(entry.expiration) {
		return nil, false
	}
	entry.accessTime = time.Now()

	snap := entry.snap
	return &snap, true
}

func (c *SnapshotCache) set(userID string, snap *SubscriptionSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if _, exists := c.entries[userID]; !exists && len(c.entries) >= c.max {
		c.evictOldest()
	}

	seq := c.sequence
	c.sequence++
	c.entries[userID] = &snapshotEntry{
		snap:       *snap,
		expiration: now.Add(c.ttl),
		accessTime: now,
		sequence:   seq,
	}
}

// evictOldest removes the least recently used entry, breaking access-time
// ties by insertion sequence. Caller holds the lock.
func (c *SnapshotCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time
	var oldestSeq int64
	first := true
	for key, entry := range c.entries {
		if first || entry.accessTime.Before(oldestTime) ||
			(entry.accessTime.Equal(oldestTime) && entry.sequence < oldestSeq) {
			oldestKey = key
			oldestTime = entry.accessTime
			oldestSeq = entry.sequence
			first = false
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
