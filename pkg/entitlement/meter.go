package entitlement

import (
	"context"
	"errors"
	"time"
)

// Meter provides atomic read and increment operations over a UsageStore,
// scoped to the current calendar day.
type Meter struct {
	store UsageStore
	clock Clock
	loc   *time.Location
}

// NewMeter creates a meter over the given store. A nil clock defaults to the
// system clock; a nil location defaults to the server-local time zone.
func NewMeter(store UsageStore, clock Clock, loc *time.Location) (*Meter, error) {
	if store == nil {
		return nil, ErrStorageUnavailable
	}
	if clock == nil {
		clock = SystemClock()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Meter{store: store, clock: clock, loc: loc}, nil
}

// Peek returns today's count for the (user, feature) pair.
func (m *Meter) Peek(ctx context.Context, userID string, feature Feature) (int, error) {
	return m.PeekAt(ctx, userID, feature, DayOf(m.clock.Now(), m.loc))
}

// PeekAt returns the count for an explicit day bucket. Callers that already
// hold a clock reading use this to keep one instant per operation.
func (m *Meter) PeekAt(ctx context.Context, userID string, feature Feature, day Day) (int, error) {
	return m.store.GetUsage(ctx, userID, feature, day)
}

// RecordUse attempts to consume one unit of today's quota for the pair,
// enforcing limit atomically at the storage layer.
func (m *Meter) RecordUse(ctx context.Context, userID string, feature Feature, tier Tier, limit int, md map[string]string) (TrackResult, error) {
	return m.RecordUseAt(ctx, userID, feature, tier, limit, DayOf(m.clock.Now(), m.loc), md)
}

// RecordUseAt is RecordUse against an explicit day bucket. The limit must be
// >= 0: unlimited combinations are short-circuited by the caller and never
// touch the store. A limit of 0 rejects without a storage round trip.
func (m *Meter) RecordUseAt(ctx context.Context, userID string, feature Feature, tier Tier, limit int, day Day, md map[string]string) (TrackResult, error) {
	if limit <= 0 {
		return TrackResult{Accepted: false, NewCount: 0}, nil
	}

	count, err := m.store.RecordUse(ctx, &RecordUseRequest{
		UserID:   userID,
		Feature:  feature,
		Day:      day,
		Limit:    limit,
		Tier:     tier,
		Metadata: md,
	})
	if errors.Is(err, ErrQuotaExceeded) {
		return TrackResult{Accepted: false, NewCount: count}, nil
	}
	if err != nil {
		return TrackResult{}, err
	}
	return TrackResult{Accepted: true, NewCount: count}, nil
}
