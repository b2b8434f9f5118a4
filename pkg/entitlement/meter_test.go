package entitlement_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aceprep/entitlement/pkg/entitlement"
	"github.com/aceprep/entitlement/storage/memory"
)

var meterNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestMeter(t *testing.T) (*entitlement.Meter, *memory.Store) {
	t.Helper()
	store := memory.New()
	clock := entitlement.ClockFunc(func() time.Time { return meterNow })
	meter, err := entitlement.NewMeter(store, clock, time.UTC)
	if err != nil {
		t.Fatalf("NewMeter: %v", err)
	}
	return meter, store
}

func TestNewMeter_NilStore(t *testing.T) {
	if _, err := entitlement.NewMeter(nil, nil, nil); err == nil {
		t.Fatal("expected error for nil store")
	}
}

func TestMeter_RecordUse_Monotonic(t *testing.T) {
	meter, _ := newTestMeter(t)
	ctx := context.Background()

	for want := 1; want <= 5; want++ {
		result, err := meter.RecordUse(ctx, "user1", entitlement.FeatureAIChat, entitlement.TierBasic, 10, nil)
		if err != nil {
			t.Fatalf("RecordUse: %v", err)
		}
		if !result.Accepted {
			t.Fatalf("use %d rejected", want)
		}
		if result.NewCount != want {
			t.Errorf("count = %d, want %d", result.NewCount, want)
		}
	}

	used, err := meter.Peek(ctx, "user1", entitlement.FeatureAIChat)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if used != 5 {
		t.Errorf("Peek = %d, want 5", used)
	}
}

func TestMeter_RecordUse_AtLimit(t *testing.T) {
	meter, _ := newTestMeter(t)
	ctx := context.Background()

	limit := 3
	for i := 0; i < limit; i++ {
		result, err := meter.RecordUse(ctx, "user1", entitlement.FeatureMockTest, entitlement.TierBasic, limit, nil)
		if err != nil || !result.Accepted {
			t.Fatalf("use %d: accepted=%v err=%v", i+1, result.Accepted, err)
		}
	}

	result, err := meter.RecordUse(ctx, "user1", entitlement.FeatureMockTest, entitlement.TierBasic, limit, nil)
	if err != nil {
		t.Fatalf("RecordUse over limit: %v", err)
	}
	if result.Accepted {
		t.Error("use over limit was accepted")
	}
	if result.NewCount != limit {
		t.Errorf("count after rejection = %d, want %d", result.NewCount, limit)
	}

	used, _ := meter.Peek(ctx, "user1", entitlement.FeatureMockTest)
	if used != limit {
		t.Errorf("Peek = %d, want %d; rejection must not mutate the count", used, limit)
	}
}

func TestMeter_RecordUse_ZeroAndNegativeLimit(t *testing.T) {
	meter, _ := newTestMeter(t)
	ctx := context.Background()

	result, err := meter.RecordUse(ctx, "user1", entitlement.FeatureAIChat, entitlement.TierFree, 0, nil)
	if err != nil {
		t.Fatalf("RecordUse: %v", err)
	}
	if result.Accepted || result.NewCount != 0 {
		t.Errorf("zero limit: got %+v, want rejected with count 0", result)
	}

	// No storage write happens for a rejected zero-limit use.
	used, _ := meter.Peek(ctx, "user1", entitlement.FeatureAIChat)
	if used != 0 {
		t.Errorf("Peek = %d, want 0", used)
	}
}

func TestMeter_BucketsAreIndependent(t *testing.T) {
	meter, _ := newTestMeter(t)
	ctx := context.Background()

	_, _ = meter.RecordUse(ctx, "user1", entitlement.FeatureAIChat, entitlement.TierBasic, 10, nil)
	_, _ = meter.RecordUse(ctx, "user1", entitlement.FeatureMockTest, entitlement.TierBasic, 10, nil)
	_, _ = meter.RecordUse(ctx, "user2", entitlement.FeatureAIChat, entitlement.TierBasic, 10, nil)

	cases := []struct {
		user    string
		feature entitlement.Feature
		want    int
	}{
		{"user1", entitlement.FeatureAIChat, 1},
		{"user1", entitlement.FeatureMockTest, 1},
		{"user2", entitlement.FeatureAIChat, 1},
		{"user2", entitlement.FeatureMockTest, 0},
	}
	for _, tc := range cases {
		used, err := meter.Peek(ctx, tc.user, tc.feature)
		if err != nil {
			t.Fatalf("Peek(%s, %s): %v", tc.user, tc.feature, err)
		}
		if used != tc.want {
			t.Errorf("Peek(%s, %s) = %d, want %d", tc.user, tc.feature, used, tc.want)
		}
	}
}

func TestMeter_DayRollover(t *testing.T) {
	store := memory.New()
	now := meterNow
	clock := entitlement.ClockFunc(func() time.Time { return now })
	meter, err := entitlement.NewMeter(store, clock, time.UTC)
	if err != nil {
		t.Fatalf("NewMeter: %v", err)
	}
	ctx := context.Background()

	limit := 2
	for i := 0; i < limit; i++ {
		result, _ := meter.RecordUse(ctx, "user1", entitlement.FeatureAIChat, entitlement.TierBasic, limit, nil)
		if !result.Accepted {
			t.Fatalf("use %d rejected", i+1)
		}
	}
	if result, _ := meter.RecordUse(ctx, "user1", entitlement.FeatureAIChat, entitlement.TierBasic, limit, nil); result.Accepted {
		t.Fatal("expected rejection at limit")
	}

	// Next calendar day starts a fresh bucket.
	now = now.Add(24 * time.Hour)
	used, err := meter.Peek(ctx, "user1", entitlement.FeatureAIChat)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if used != 0 {
		t.Errorf("Peek after rollover = %d, want 0", used)
	}
	if result, _ := meter.RecordUse(ctx, "user1", entitlement.FeatureAIChat, entitlement.TierBasic, limit, nil); !result.Accepted {
		t.Error("expected acceptance after rollover")
	}
}

func TestMeter_ConcurrentBoundary(t *testing.T) {
	meter, _ := newTestMeter(t)
	ctx := context.Background()

	// Start one short of the limit; of ten concurrent attempts exactly one
	// may win the last slot.
	limit := 5
	for i := 0; i < limit-1; i++ {
		result, _ := meter.RecordUse(ctx, "user1", entitlement.FeatureAIChat, entitlement.TierBasic, limit, nil)
		if !result.Accepted {
			t.Fatalf("setup use %d rejected", i+1)
		}
	}

	var accepted int64
	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			result, err := meter.RecordUse(ctx, "user1", entitlement.FeatureAIChat, entitlement.TierBasic, limit, nil)
			if err != nil {
				return err
			}
			if result.Accepted {
				atomic.AddInt64(&accepted, 1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent RecordUse: %v", err)
	}

	if accepted != 1 {
		t.Errorf("accepted = %d, want exactly 1", accepted)
	}
	used, _ := meter.Peek(ctx, "user1", entitlement.FeatureAIChat)
	if used != limit {
		t.Errorf("Peek = %d, want %d", used, limit)
	}
}

func TestDay_Key(t *testing.T) {
	day := entitlement.DayOf(time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC), time.UTC)
	if got := day.Key(); got != "2026-03-10" {
		t.Errorf("Key = %q, want 2026-03-10", got)
	}
}

func TestDay_ResetTime(t *testing.T) {
	loc := time.UTC
	day := entitlement.DayOf(time.Date(2026, 3, 10, 15, 30, 0, 0, loc), loc)
	want := time.Date(2026, 3, 11, 0, 0, 0, 0, loc)
	if !day.ResetTime().Equal(want) {
		t.Errorf("ResetTime = %v, want %v", day.ResetTime(), want)
	}
}

func TestDay_LocationPartitionsDays(t *testing.T) {
	// The same instant falls on different calendar days in different zones.
	instant := time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)
	kolkata, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Skipf("tz database unavailable: %v", err)
	}

	utcDay := entitlement.DayOf(instant, time.UTC)
	istDay := entitlement.DayOf(instant, kolkata)
	if utcDay.Key() != "2026-03-10" {
		t.Errorf("UTC key = %q, want 2026-03-10", utcDay.Key())
	}
	if istDay.Key() != "2026-03-10" {
		t.Errorf("IST key = %q, want 2026-03-10", istDay.Key())
	}

	late := time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC)
	if got := entitlement.DayOf(late, kolkata).Key(); got != "2026-03-11" {
		t.Errorf("IST key for 20:00 UTC = %q, want 2026-03-11", got)
	}
}
