package tiered

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aceprep/entitlement/pkg/entitlement"
	"github.com/aceprep/entitlement/storage/memory"
)

func testDay() entitlement.Day {
	return entitlement.DayOf(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC), time.UTC)
}

func newTestTiered(t *testing.T, async bool) (*Store, *memory.Store, *memory.Store) {
	t.Helper()

	hot := memory.New()
	cold := memory.New()
	store, err := New(Config{
		Hot:            hot,
		Cold:           cold,
		AsyncUsageSync: async,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, hot, cold
}

func basicSnapshot(userID string) *entitlement.SubscriptionSnapshot {
	now := time.Now().UTC()
	end := now.Add(30 * 24 * time.Hour)
	return &entitlement.SubscriptionSnapshot{
		UserID:           userID,
		Tier:             entitlement.TierBasic,
		Status:           entitlement.StatusActive,
		StartDate:        now.Add(-time.Hour),
		EndDate:          &end,
		AccountCreatedAt: now.Add(-48 * time.Hour),
		UpdatedAt:        now,
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Hot: memory.New()})
	assert.Error(t, err)
	_, err = New(Config{Cold: memory.New()})
	assert.Error(t, err)
}

func TestStore_SetSnapshot_WriteThrough(t *testing.T) {
	store, hot, cold := newTestTiered(t, false)
	ctx := context.Background()

	require.NoError(t, store.SetSnapshot(ctx, basicSnapshot("user1")))

	// Both layers hold the snapshot after a write-through.
	coldSnap, err := cold.Snapshot(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, entitlement.TierBasic, coldSnap.Tier)

	hotSnap, err := hot.Snapshot(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, entitlement.TierBasic, hotSnap.Tier)
}

func TestStore_Snapshot_ReadThrough(t *testing.T) {
	store, hot, cold := newTestTiered(t, false)
	ctx := context.Background()

	// Seed only the cold store, as after a hot-store restart.
	require.NoError(t, cold.SetSnapshot(ctx, basicSnapshot("user1")))

	snap, err := store.Snapshot(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, entitlement.TierBasic, snap.Tier)

	// The read repaired the hot layer.
	hotSnap, err := hot.Snapshot(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, entitlement.TierBasic, hotSnap.Tier)
}

func TestStore_Snapshot_NotFound(t *testing.T) {
	store, _, _ := newTestTiered(t, false)

	_, err := store.Snapshot(context.Background(), "missing")
	assert.ErrorIs(t, err, entitlement.ErrUserNotFound)
}

func TestStore_RecordUse_HotDecides(t *testing.T) {
	store, hot, cold := newTestTiered(t, false)
	ctx := context.Background()

	req := &entitlement.RecordUseRequest{
		UserID:  "user1",
		Feature: entitlement.FeatureAIChat,
		Day:     testDay(),
		Limit:   2,
		Tier:    entitlement.TierBasic,
	}

	for want := 1; want <= 2; want++ {
		count, err := store.RecordUse(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, want, count)
	}

	_, err := store.RecordUse(ctx, req)
	assert.ErrorIs(t, err, entitlement.ErrQuotaExceeded)

	// Hot enforces the limit; the cold audit copy has the same accepted
	// count and nothing for the rejected attempt.
	hotUsed, err := hot.GetUsage(ctx, "user1", entitlement.FeatureAIChat, testDay())
	require.NoError(t, err)
	assert.Equal(t, 2, hotUsed)

	coldUsed, err := cold.GetUsage(ctx, "user1", entitlement.FeatureAIChat, testDay())
	require.NoError(t, err)
	assert.Equal(t, 2, coldUsed)
}

func TestStore_RecordUse_AsyncMirror(t *testing.T) {
	store, _, cold := newTestTiered(t, true)
	ctx := context.Background()

	req := &entitlement.RecordUseRequest{
		UserID:  "user1",
		Feature: entitlement.FeatureAIChat,
		Day:     testDay(),
		Limit:   5,
		Tier:    entitlement.TierBasic,
	}
	for i := 0; i < 3; i++ {
		_, err := store.RecordUse(ctx, req)
		require.NoError(t, err)
	}

	// Close drains the mirror queue.
	require.NoError(t, store.Close())

	coldUsed, err := cold.GetUsage(ctx, "user1", entitlement.FeatureAIChat, testDay())
	require.NoError(t, err)
	assert.Equal(t, 3, coldUsed)
}

func TestStore_GetUsage_HotOnly(t *testing.T) {
	store, _, cold := newTestTiered(t, false)
	ctx := context.Background()

	// A count that exists only in cold is invisible: the hot counter is
	// the enforcement source of truth for the day.
	_, err := cold.AddUsage(ctx, &entitlement.RecordUseRequest{
		UserID:  "user1",
		Feature: entitlement.FeatureAIChat,
		Day:     testDay(),
		Tier:    entitlement.TierBasic,
	})
	require.NoError(t, err)

	used, err := store.GetUsage(ctx, "user1", entitlement.FeatureAIChat, testDay())
	require.NoError(t, err)
	assert.Equal(t, 0, used)
}

func TestStore_AddUsage_Mirrors(t *testing.T) {
	store, hot, cold := newTestTiered(t, false)
	ctx := context.Background()

	req := &entitlement.RecordUseRequest{
		UserID:  "user1",
		Feature: entitlement.FeatureAIChat,
		Day:     testDay(),
		Tier:    entitlement.TierPremium,
	}
	count, err := store.AddUsage(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	hotUsed, _ := hot.GetUsage(ctx, "user1", entitlement.FeatureAIChat, testDay())
	coldUsed, _ := cold.GetUsage(ctx, "user1", entitlement.FeatureAIChat, testDay())
	assert.Equal(t, 1, hotUsed)
	assert.Equal(t, 1, coldUsed)
}

func TestStore_Close_Idempotent(t *testing.T) {
	store, _, _ := newTestTiered(t, true)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
}
