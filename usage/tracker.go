// Package usage tracks per-user daily counters for the restricted drawing model.
package usage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Store holds the per-user counters. Implementations must make Increment
// atomic with respect to concurrent callers.
type Store interface {
	// Increment adds one to the user's counter if it is below limit.
	// It reports whether the increment happened and the resulting count.
	Increment(ctx context.Context, user string, limit int) (bool, int, error)
	// Count returns the user's current counter, zero if absent.
	Count(ctx context.Context, user string) (int, error)
	// Reset clears every counter unless a reset for day, or a later one,
	// is already recorded. It reports whether the counters were cleared.
	// Days are "YYYY-MM-DD" strings.
	Reset(ctx context.Context, day string) (bool, error)
}

// Tracker applies the daily limit for one restricted model key.
type Tracker struct {
	store           Store
	restrictedModel string
	limit           int
	resetHour       int
	resetMinute     int
	log             *slog.Logger

	mu        sync.Mutex
	lastReset time.Time
}

// NewTracker creates a Tracker whose last reset date is the date of now.
func NewTracker(store Store, restrictedModel string, limit, resetHour, resetMinute int, now time.Time, log *slog.Logger) *Tracker {
	return &Tracker{
		store:           store,
		restrictedModel: restrictedModel,
		limit:           limit,
		resetHour:       resetHour,
		resetMinute:     resetMinute,
		log:             log,
		lastReset:       dateOf(now),
	}
}

// Limit is the daily allowance for the restricted model.
func (t *Tracker) Limit() int {
	return t.limit
}

// RestrictedModel is the model key subject to the daily limit.
func (t *Tracker) RestrictedModel() string {
	return t.restrictedModel
}

// CheckAndIncrement records one use of modelKey by user. Only the restricted
// model is counted; it is denied without mutation once the limit is reached.
func (t *Tracker) CheckAndIncrement(ctx context.Context, user, modelKey string) (bool, error) {
	if modelKey != t.restrictedModel {
		return true, nil
	}

	allowed, count, err := t.store.Increment(ctx, user, t.limit)
	if err != nil {
		return false, fmt.Errorf("usage: failed to increment counter: %w", err)
	}

	t.log.Debug("restricted model usage", "user", user, "model", modelKey, "count", count, "limit", t.limit, "allowed", allowed)
	return allowed, nil
}

// Count returns the user's usage of the restricted model today.
func (t *Tracker) Count(ctx context.Context, user string) (int, error) {
	return t.store.Count(ctx, user)
}

// ResetIfDue clears every counter once per calendar day, at or after the
// configured time of day. The reset record lives in the store, so trackers
// sharing a store reset it at most once per day between them. It reports
// whether this call cleared the counters.
func (t *Tracker) ResetIfDue(ctx context.Context, now time.Time) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	resetAt := time.Date(y, m, d, t.resetHour, t.resetMinute, 0, 0, now.Location())

	if now.Before(resetAt) || !t.lastReset.Before(today) {
		return false, nil
	}

	day := today.Format(time.DateOnly)
	cleared, err := t.store.Reset(ctx, day)
	if err != nil {
		return false, fmt.Errorf("usage: failed to reset counters: %w", err)
	}
	t.lastReset = today

	if !cleared {
		t.log.Debug("daily usage counters already reset", "model", t.restrictedModel, "date", day)
		return false, nil
	}
	t.log.Info("daily usage counters reset", "model", t.restrictedModel, "date", day)
	return true, nil
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
