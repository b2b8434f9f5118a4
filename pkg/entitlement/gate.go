package entitlement

import (
	"context"
	"errors"
	"time"
)

// Config holds gate configuration. The zero value is usable: defaults are
// applied by NewGate.
type Config struct {
	// Catalog is the authoritative limits table (default: DefaultCatalog).
	Catalog *Catalog

	// Clock is the single time provider for all gate operations (default:
	// the system clock).
	Clock Clock

	// Location is the time zone whose calendar days partition usage
	// (default: time.Local, i.e. the server-local day).
	Location *time.Location

	// Logger is used for structured logging (default: NoopLogger).
	Logger Logger

	// Metrics is used for tracking gate operations (default: NoopMetrics).
	Metrics Metrics

	// RecordUnlimited, when set, records usage for unlimited (limit -1)
	// combinations via UsageStore.AddUsage so that paying customers still
	// produce usage telemetry. Enforcement is unaffected: unlimited access
	// is granted before the write, and a failed write does not deny access.
	RecordUnlimited bool
}

// Gate is the single public entry point of the engine. It composes the
// Resolver, Catalog and Meter to answer "may this request proceed"
// (CheckAccess) and to record a successful use (TrackUsage).
//
// Every typed failure is recovered inside the gate and converted into the
// standard result shape. Callers only ever see an Access value or a boolean;
// a storage hiccup denies access, it never propagates a crash.
type Gate struct {
	snapshots SnapshotSource
	usage     UsageStore
	meter     *Meter
	resolver  *Resolver
	catalog   *Catalog
	clock     Clock
	loc       *time.Location
	logger    Logger
	metrics   Metrics

	recordUnlimited bool
}

// NewGate creates a gate over the given snapshot source and usage store.
func NewGate(snapshots SnapshotSource, usage UsageStore, cfg Config) (*Gate, error) {
	if snapshots == nil || usage == nil {
		return nil, ErrStorageUnavailable
	}
	if cfg.Catalog == nil {
		cfg.Catalog = DefaultCatalog()
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Logger == nil {
		cfg.Logger = &NoopLogger{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &NoopMetrics{}
	}

	meter, err := NewMeter(usage, cfg.Clock, cfg.Location)
	if err != nil {
		return nil, err
	}

	return &Gate{
		snapshots:       snapshots,
		usage:           usage,
		meter:           meter,
		resolver:        NewResolver(cfg.Clock, cfg.Logger),
		catalog:         cfg.Catalog,
		clock:           cfg.Clock,
		loc:             cfg.Location,
		logger:          cfg.Logger,
		metrics:         cfg.Metrics,
		recordUnlimited: cfg.RecordUnlimited,
	}, nil
}

// CheckAccess reports whether the user may use the feature right now. It
// never returns an error: unknown users, unknown features and storage
// failures all fail closed into a denied Access.
func (g *Gate) CheckAccess(ctx context.Context, userID string, feature Feature) *Access {
	started := time.Now()
	now := g.clock.Now()
	day := DayOf(now, g.loc)
	reset := day.ResetTime()

	access := g.checkAccess(ctx, userID, feature, now, day, reset)
	g.metrics.RecordAccessCheck(string(feature), string(access.Tier), access.HasAccess, time.Since(started))
	return access
}

func (g *Gate) checkAccess(ctx context.Context, userID string, feature Feature, now time.Time, day Day, reset time.Time) *Access {
	snap, err := g.snapshot(ctx, userID)
	if err != nil {
		return g.deniedBySnapshot(userID, feature, err, reset)
	}

	res := g.resolver.ResolveAt(snap, now)

	limit, err := g.catalog.LimitFor(res.Tier, feature)
	if err != nil {
		g.logger.Warn("access denied for unknown catalog key",
			Field{Key: "user_id", Value: userID},
			Field{Key: "feature", Value: string(feature)},
			Field{Key: "tier", Value: string(res.Tier)},
			Field{Key: "error", Value: err.Error()},
		)
		return &Access{HasAccess: false, Tier: res.Tier, Limit: 0, Remaining: 0, ResetTime: reset}
	}

	if limit == Unlimited {
		return &Access{
			HasAccess: true,
			Tier:      res.Tier,
			Used:      0,
			Limit:     Unlimited,
			Remaining: Unlimited,
			ResetTime: reset,
		}
	}

	used, err := g.peek(ctx, userID, feature, day)
	if err != nil {
		g.logger.Error("usage store unavailable, denying access",
			Field{Key: "user_id", Value: userID},
			Field{Key: "feature", Value: string(feature)},
			Field{Key: "error", Value: err.Error()},
		)
		return &Access{HasAccess: false, Tier: res.Tier, Limit: limit, Remaining: 0, ResetTime: reset}
	}

	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return &Access{
		HasAccess: used < limit,
		Tier:      res.Tier,
		Used:      used,
		Limit:     limit,
		Remaining: remaining,
		ResetTime: reset,
	}
}

// TrackUsage records one successful use of the feature. The tier and limit
// are re-derived from scratch: a prior CheckAccess result is never trusted,
// since time may have advanced or a concurrent call may have consumed the
// remaining quota. The atomic storage operation alone decides acceptance.
func (g *Gate) TrackUsage(ctx context.Context, userID string, feature Feature, opts ...TrackOption) bool {
	var options TrackOptions
	for _, opt := range opts {
		opt(&options)
	}

	now := g.clock.Now()
	day := DayOf(now, g.loc)

	snap, err := g.snapshot(ctx, userID)
	if err != nil {
		g.logSnapshotFailure("usage not tracked", userID, feature, err)
		return false
	}

	res := g.resolver.ResolveAt(snap, now)

	limit, err := g.catalog.LimitFor(res.Tier, feature)
	if err != nil {
		g.logger.Warn("usage not tracked for unknown catalog key",
			Field{Key: "user_id", Value: userID},
			Field{Key: "feature", Value: string(feature)},
			Field{Key: "tier", Value: string(res.Tier)},
			Field{Key: "error", Value: err.Error()},
		)
		return false
	}

	if limit == Unlimited {
		if g.recordUnlimited {
			g.addUnmetered(ctx, userID, feature, res.Tier, day, options.Metadata)
		}
		return true
	}

	result, err := g.recordUse(ctx, userID, feature, res.Tier, limit, day, options.Metadata)
	if err != nil {
		g.logger.Error("usage store unavailable, rejecting track",
			Field{Key: "user_id", Value: userID},
			Field{Key: "feature", Value: string(feature)},
			Field{Key: "error", Value: err.Error()},
		)
		g.metrics.RecordTrack(string(feature), string(res.Tier), false)
		return false
	}

	g.metrics.RecordTrack(string(feature), string(res.Tier), result.Accepted)
	return result.Accepted
}

// Entitlement computes the full derived view of the user's current tier and
// per-feature quota standing. Unlike CheckAccess it surfaces storage errors,
// since it backs read-only inspection endpoints rather than the request path.
func (g *Gate) Entitlement(ctx context.Context, userID string) (*EffectiveEntitlement, error) {
	now := g.clock.Now()
	day := DayOf(now, g.loc)
	reset := day.ResetTime()

	snap, err := g.snapshot(ctx, userID)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	var res Resolution
	if err != nil {
		res = Resolution{Tier: TierFree, Active: true}
	} else {
		res = g.resolver.ResolveAt(snap, now)
	}

	ent := &EffectiveEntitlement{
		UserID:        userID,
		Tier:          res.Tier,
		Active:        res.Active,
		TrialBoundary: res.TrialBoundary,
		Features:      make(map[Feature]FeatureUsage, len(Features)),
	}

	for _, feature := range Features {
		limit, err := g.catalog.LimitFor(res.Tier, feature)
		if err != nil {
			return nil, err
		}
		if limit == Unlimited {
			ent.Features[feature] = FeatureUsage{Limit: Unlimited, Used: 0, Remaining: Unlimited, ResetTime: reset}
			continue
		}
		used, err := g.peek(ctx, userID, feature, day)
		if err != nil {
			return nil, err
		}
		remaining := limit - used
		if remaining < 0 {
			remaining = 0
		}
		ent.Features[feature] = FeatureUsage{Limit: limit, Used: used, Remaining: remaining, ResetTime: reset}
	}

	return ent, nil
}

func (g *Gate) snapshot(ctx context.Context, userID string) (*SubscriptionSnapshot, error) {
	started := time.Now()
	snap, err := g.snapshots.Snapshot(ctx, userID)
	g.metrics.RecordStorageOperation("snapshot", time.Since(started), err)
	return snap, err
}

func (g *Gate) peek(ctx context.Context, userID string, feature Feature, day Day) (int, error) {
	started := time.Now()
	used, err := g.meter.PeekAt(ctx, userID, feature, day)
	g.metrics.RecordStorageOperation("get_usage", time.Since(started), err)
	return used, err
}

func (g *Gate) recordUse(ctx context.Context, userID string, feature Feature, tier Tier, limit int, day Day, md map[string]string) (TrackResult, error) {
	started := time.Now()
	result, err := g.meter.RecordUseAt(ctx, userID, feature, tier, limit, day, md)
	g.metrics.RecordStorageOperation("record_use", time.Since(started), err)
	return result, err
}

func (g *Gate) addUnmetered(ctx context.Context, userID string, feature Feature, tier Tier, day Day, md map[string]string) {
	started := time.Now()
	_, err := g.usage.AddUsage(ctx, &RecordUseRequest{
		UserID:   userID,
		Feature:  feature,
		Day:      day,
		Limit:    Unlimited,
		Tier:     tier,
		Metadata: md,
	})
	g.metrics.RecordStorageOperation("add_usage", time.Since(started), err)
	if err != nil {
		// Telemetry only: never turns unlimited access into a denial.
		g.logger.Warn("failed to record unlimited usage",
			Field{Key: "user_id", Value: userID},
			Field{Key: "feature", Value: string(feature)},
			Field{Key: "error", Value: err.Error()},
		)
	}
}

func (g *Gate) deniedBySnapshot(userID string, feature Feature, err error, reset time.Time) *Access {
	denied := &Access{HasAccess: false, Tier: TierFree, Used: 0, Limit: 0, Remaining: 0, ResetTime: reset}
	g.logSnapshotFailure("access denied", userID, feature, err)
	return denied
}

func (g *Gate) logSnapshotFailure(action, userID string, feature Feature, err error) {
	if errors.Is(err, ErrUserNotFound) {
		g.logger.Debug(action+": user has no subscription snapshot",
			Field{Key: "user_id", Value: userID},
			Field{Key: "feature", Value: string(feature)},
		)
		return
	}
	g.logger.Error(action+": snapshot source unavailable",
		Field{Key: "user_id", Value: userID},
		Field{Key: "feature", Value: string(feature)},
		Field{Key: "error", Value: err.Error()},
	)
}
