package usage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisClient failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return NewRedisStore(client), mr
}

func TestRedisStore_Increment(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		ok, count, err := store.Increment(ctx, "alice", 3)
		if err != nil {
			t.Fatalf("Increment failed: %v", err)
		}
		if !ok || count != i {
			t.Errorf("Increment #%d = (%v, %d), want (true, %d)", i, ok, count, i)
		}
	}

	ok, count, err := store.Increment(ctx, "alice", 3)
	if err != nil {
		t.Fatalf("Increment failed: %v", err)
	}
	if ok || count != 3 {
		t.Errorf("Increment over limit = (%v, %d), want (false, 3)", ok, count)
	}

	if ttl := mr.TTL(countKeyPrefix + "alice"); ttl <= 0 || ttl > usageKeyTTL {
		t.Errorf("unexpected TTL %v", ttl)
	}
}

func TestRedisStore_CountAndReset(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	if got, err := store.Count(ctx, "nobody"); err != nil || got != 0 {
		t.Fatalf("Count on missing key = (%d, %v), want (0, nil)", got, err)
	}

	store.Increment(ctx, "alice", 5)
	store.Increment(ctx, "bob", 5)
	store.Increment(ctx, "bob", 5)
	mr.Set("unrelated", "keep")

	if got, _ := store.Count(ctx, "bob"); got != 2 {
		t.Errorf("Count(bob) = %d, want 2", got)
	}

	cleared, err := store.Reset(ctx, "2024-05-02")
	if err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if !cleared {
		t.Fatal("first reset for a day should clear the counters")
	}

	for _, user := range []string{"alice", "bob"} {
		if got, _ := store.Count(ctx, user); got != 0 {
			t.Errorf("Count(%s) after reset = %d, want 0", user, got)
		}
	}
	if !mr.Exists("unrelated") {
		t.Error("Reset should only delete usage keys")
	}

	// A second reset for the same or an earlier day is a no-op.
	store.Increment(ctx, "alice", 5)
	for _, day := range []string{"2024-05-02", "2024-05-01"} {
		if cleared, err := store.Reset(ctx, day); err != nil || cleared {
			t.Errorf("Reset(%s) = (%v, %v), want (false, nil)", day, cleared, err)
		}
	}
	if got, _ := store.Count(ctx, "alice"); got != 1 {
		t.Errorf("Count(alice) after repeated reset = %d, want 1", got)
	}
}

func TestRedisStore_SharedDailyReset(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()
	day1 := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	first := newTestTracker(store, 2, day1)
	second := newTestTracker(store, 2, day1)

	// The first instance resets on day 2 and the user spends the allowance.
	morning := time.Date(2024, 5, 2, 1, 0, 0, 0, time.UTC)
	if reset, err := first.ResetIfDue(ctx, morning); err != nil || !reset {
		t.Fatalf("first ResetIfDue = (%v, %v), want (true, nil)", reset, err)
	}
	for i := 0; i < 2; i++ {
		if ok, _ := first.CheckAndIncrement(ctx, "u", "dev"); !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	// The second instance sees the same day later and must not clear again.
	noon := time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)
	if reset, err := second.ResetIfDue(ctx, noon); err != nil || reset {
		t.Fatalf("second ResetIfDue = (%v, %v), want (false, nil)", reset, err)
	}
	if ok, _ := second.CheckAndIncrement(ctx, "u", "dev"); ok {
		t.Error("daily limit must hold across instances sharing the store")
	}

	// The next day either instance may reset, once.
	next := time.Date(2024, 5, 3, 0, 30, 0, 0, time.UTC)
	if reset, _ := second.ResetIfDue(ctx, next); !reset {
		t.Error("expected a reset on the following day")
	}
	if reset, _ := first.ResetIfDue(ctx, next.Add(time.Hour)); reset {
		t.Error("the other instance should not reset again the same day")
	}
	if ok, _ := first.CheckAndIncrement(ctx, "u", "dev"); !ok {
		t.Error("allowance should be restored after the daily reset")
	}
}

func TestRedisStore_WithTracker(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()
	tracker := newTestTracker(store, 1, time.Now())

	if ok, err := tracker.CheckAndIncrement(ctx, "alice", "dev"); err != nil || !ok {
		t.Fatalf("first request = (%v, %v), want allowed", ok, err)
	}
	if ok, _ := tracker.CheckAndIncrement(ctx, "alice", "dev"); ok {
		t.Error("second request should be denied")
	}
}

func TestNewRedisClient_BadURL(t *testing.T) {
	if _, err := NewRedisClient(context.Background(), "not-a-url"); err == nil {
		t.Fatal("expected error for invalid URL")
	}
}

var (
	_ Store = (*RedisStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
