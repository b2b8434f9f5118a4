package entitlement

import (
	"time"
)

// Tier is a named subscription level with its own per-feature quotas.
type Tier string

const (
	TierFree       Tier = "free"
	TierFreeTrial  Tier = "free_trial"
	TierBasic      Tier = "basic"
	TierPro        Tier = "pro"
	TierQuarterly  Tier = "quarterly"
	TierHalfYearly Tier = "half_yearly"
	TierYearly     Tier = "yearly"
	TierPremium    Tier = "premium"
)

// Tiers lists every supported tier.
var Tiers = []Tier{
	TierFree,
	TierFreeTrial,
	TierBasic,
	TierPro,
	TierQuarterly,
	TierHalfYearly,
	TierYearly,
	TierPremium,
}

// Valid reports whether t is one of the supported tiers.
func (t Tier) Valid() bool {
	for _, known := range Tiers {
		if t == known {
			return true
		}
	}
	return false
}

// Feature is a metered capability identifier, gated independently of other
// features.
type Feature string

const (
	FeatureAIChat         Feature = "ai_chat"
	FeatureAIVisualLab    Feature = "ai_visual_lab"
	FeatureAITutorSession Feature = "ai_tutor_session"
	FeatureVisualPackage  Feature = "visual_package_generation"
	FeatureMockTest       Feature = "mock_test_generation"
)

// Features lists every supported feature.
var Features = []Feature{
	FeatureAIChat,
	FeatureAIVisualLab,
	FeatureAITutorSession,
	FeatureVisualPackage,
	FeatureMockTest,
}

// Valid reports whether f is one of the supported features.
func (f Feature) Valid() bool {
	for _, known := range Features {
		if f == known {
			return true
		}
	}
	return false
}

// Status is the billing-side subscription status.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Limit sentinels. Unlimited propagates through results unchanged and is
// never compared arithmetically against usage counts.
const (
	Unlimited = -1
	NoAccess  = 0
)

// SubscriptionSnapshot is the billing collaborator's view of a user's
// subscription. The engine only reads it; all mutation happens upstream.
type SubscriptionSnapshot struct {
	UserID           string
	Tier             Tier
	Status           Status
	StartDate        time.Time
	EndDate          *time.Time
	AccountCreatedAt time.Time
	UpdatedAt        time.Time
}

// Resolution is the outcome of resolving a snapshot against a point in time:
// the single effective tier whose quotas apply right now.
type Resolution struct {
	Tier   Tier
	Active bool

	// TrialBoundary is set when the snapshot was evaluated against the trial
	// window: the instant the free-trial access expires (or expired).
	TrialBoundary *time.Time
}

// Access is the result of a CheckAccess call. Limit and Remaining carry the
// Unlimited sentinel (-1) through unchanged for unlimited combinations.
type Access struct {
	HasAccess bool      `json:"has_access"`
	Tier      Tier      `json:"tier"`
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetTime time.Time `json:"reset_time"`
}

// FeatureUsage is the per-feature slice of an EffectiveEntitlement.
type FeatureUsage struct {
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	ResetTime time.Time `json:"reset_time"`
}

// EffectiveEntitlement is the resolved, time-dependent answer to "what tier
// and quotas currently apply to this user". It is derived fresh on every call
// and never persisted.
type EffectiveEntitlement struct {
	UserID        string                   `json:"user_id"`
	Tier          Tier                     `json:"tier"`
	Active        bool                     `json:"active"`
	TrialBoundary *time.Time               `json:"trial_boundary,omitempty"`
	Features      map[Feature]FeatureUsage `json:"features"`
}

// Day is a calendar-day usage bucket. Start is midnight in the bucket's
// location; usage "resets" purely by the current day differing from a
// record's day, there is no sweep process.
type Day struct {
	Start time.Time
}

// DayOf returns the day bucket containing t in the given location.
func DayOf(t time.Time, loc *time.Location) Day {
	if loc == nil {
		loc = time.Local
	}
	tt := t.In(loc)
	return Day{Start: time.Date(tt.Year(), tt.Month(), tt.Day(), 0, 0, 0, 0, loc)}
}

// Key returns a stable string key for this day, e.g. "2026-08-31".
func (d Day) Key() string {
	return d.Start.Format("2006-01-02")
}

// ResetTime returns the start of the next calendar day, when counters for
// this bucket stop applying.
func (d Day) ResetTime() time.Time {
	return time.Date(d.Start.Year(), d.Start.Month(), d.Start.Day()+1, 0, 0, 0, 0, d.Start.Location())
}

// TrackResult is the outcome of a metered RecordUse operation.
type TrackResult struct {
	// Accepted is true when the atomic increment succeeded within the limit.
	Accepted bool

	// NewCount is the stored count after the operation; when rejected it is
	// the unchanged current count.
	NewCount int
}

// TrackOption customizes a TrackUsage call.
type TrackOption func(*TrackOptions)

// TrackOptions holds options for TrackUsage.
type TrackOptions struct {
	Metadata map[string]string
}

// WithMetadata attaches an opaque metadata blob to the usage record created
// or updated by this call.
func WithMetadata(md map[string]string) TrackOption {
	return func(opts *TrackOptions) {
		opts.Metadata = md
	}
}
