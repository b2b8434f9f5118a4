package entitlement

import "context"

// SnapshotSource reads subscription snapshots maintained by the billing
// collaborator. Implementations return ErrUserNotFound (possibly wrapped)
// when no snapshot exists for the user.
type SnapshotSource interface {
	Snapshot(ctx context.Context, userID string) (*SubscriptionSnapshot, error)
}

// RecordUseRequest is a usage increment against a (user, feature, day) key.
type RecordUseRequest struct {
	UserID  string
	Feature Feature
	Day     Day

	// Limit is the per-day cap enforced by RecordUse. It is always >= 0
	// there; unlimited combinations never reach the store through RecordUse.
	Limit int

	// Tier is recorded with the usage row for auditing.
	Tier Tier

	// Metadata is an optional opaque blob stored with the record.
	Metadata map[string]string
}

// UsageStore persists per-day usage counters. The RecordUse limit check and
// increment MUST happen as one atomic operation at the storage layer (a
// conditional update, transaction or script); a separate read-compare-write
// sequence from application code is a check-then-act race and is not a
// conforming implementation.
type UsageStore interface {
	// GetUsage returns the recorded count for the key, or 0 when no record
	// exists (absence is not an error).
	GetUsage(ctx context.Context, userID string, feature Feature, day Day) (int, error)

	// RecordUse atomically increments the count by one if and only if the
	// current count is below req.Limit. It returns the new count on success,
	// or the unchanged current count together with ErrQuotaExceeded when the
	// limit has been reached.
	RecordUse(ctx context.Context, req *RecordUseRequest) (int, error)

	// AddUsage increments the count by one without a limit check and returns
	// the new count. It exists for the telemetry extension point that records
	// usage of unlimited tiers; quota enforcement never goes through it.
	AddUsage(ctx context.Context, req *RecordUseRequest) (int, error)
}

// Store is the combined persistence surface implemented by the storage
// adapters. SetSnapshot is the write half used by the billing collaborator
// (and by tests); the engine itself only reads snapshots.
type Store interface {
	SnapshotSource
	UsageStore

	SetSnapshot(ctx context.Context, snap *SubscriptionSnapshot) error
}
