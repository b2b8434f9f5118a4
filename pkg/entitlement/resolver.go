package entitlement

import "time"

// trialWindow is how long free-trial access lasts when the billing side has
// not recorded an explicit end date for the trial.
const trialWindow = 24 * time.Hour

// Resolver computes the single effective tier to apply to a subscription
// snapshot at a point in time.
type Resolver struct {
	clock  Clock
	logger Logger
}

// NewResolver creates a resolver with the given clock and logger. A nil clock
// defaults to the system clock; a nil logger discards diagnostics.
func NewResolver(clock Clock, logger Logger) *Resolver {
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = &NoopLogger{}
	}
	return &Resolver{clock: clock, logger: logger}
}

// Resolve evaluates the snapshot against the resolver's clock.
func (r *Resolver) Resolve(snap *SubscriptionSnapshot) Resolution {
	return r.ResolveAt(snap, r.clock.Now())
}

// ResolveAt evaluates the snapshot against an explicit instant. Branches are
// tried in order and the first match wins:
//
//  1. Active premium is never time-gated, even without an end date. This is
//     an intentional legacy carve-out; do not "fix" it.
//  2. Any other active tier requires a future end date. A missing or past end
//     date demotes the subscription as though it were inactive.
//  3. A free-trial tier (whatever its status) is active until its boundary:
//     the recorded end date if present, otherwise account creation plus 24h.
//  4. Everything else lands on the free tier, which is always active.
func (r *Resolver) ResolveAt(snap *SubscriptionSnapshot, now time.Time) Resolution {
	if snap.Status == StatusActive {
		if snap.Tier == TierPremium {
			return Resolution{Tier: TierPremium, Active: true}
		}
		if snap.EndDate != nil && snap.EndDate.After(now) {
			return Resolution{Tier: snap.Tier, Active: true}
		}
		if snap.EndDate == nil && snap.Tier != TierFree && snap.Tier != TierFreeTrial {
			// Usually upstream billing-data corruption: a paid subscription
			// should always carry an end date.
			r.logger.Warn("active paid subscription has no end date, treating as expired",
				Field{Key: "user_id", Value: snap.UserID},
				Field{Key: "tier", Value: string(snap.Tier)},
			)
		}
	}

	if snap.Tier == TierFreeTrial {
		boundary := snap.AccountCreatedAt.Add(trialWindow)
		if snap.EndDate != nil {
			boundary = *snap.EndDate
		}
		if now.Before(boundary) {
			return Resolution{Tier: TierFreeTrial, Active: true, TrialBoundary: &boundary}
		}
		return Resolution{Tier: TierFree, Active: true, TrialBoundary: &boundary}
	}

	return Resolution{Tier: TierFree, Active: true}
}
