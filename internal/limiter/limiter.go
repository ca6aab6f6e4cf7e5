// Package limiter enforces windowed activity quotas.
package limiter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/eloity-labs/reward-engine/internal/domain"
	"github.com/eloity-labs/reward-engine/internal/reward"
	"github.com/google/uuid"
)

// Limiter answers quota questions against the activity ledger and the
// active rule's window caps. Unlike rule reads, quota checks fail
// closed: when the ledger cannot be counted the action is denied,
// because over-granting rewards is the costlier failure.
type Limiter struct {
	rules domain.Repository
	store reward.RuleGetter
	now   func() time.Time
}

// New creates a limiter over the repository ledger and the cached rule
// store.
func New(repo domain.Repository, store reward.RuleGetter) *Limiter {
	return &Limiter{
		rules: repo,
		store: store,
		now:   time.Now,
	}
}

// CheckLimit reports whether the user may still perform the action
// within the given timeframe. An uncapped window, or an absent rule,
// always allows.
func (l *Limiter) CheckLimit(ctx context.Context, userID, actionType string, tf domain.Timeframe) bool {
	rule := l.store.GetRule(ctx, actionType)
	if rule == nil {
		return true
	}
	cap := rule.CapFor(tf)
	if cap == nil {
		return true
	}

	count, err := l.rules.CountActivities(ctx, userID, actionType, l.windowStart(tf))
	if err != nil {
		slog.Error("activity count failed, denying action",
			"user_id", userID,
			"action_type", actionType,
			"timeframe", tf,
			"error", err,
		)
		return false
	}

	return count < int64(*cap)
}

// CheckAll reports whether every capped window still has room.
func (l *Limiter) CheckAll(ctx context.Context, userID, actionType string) bool {
	for _, tf := range domain.Timeframes() {
		if !l.CheckLimit(ctx, userID, actionType, tf) {
			return false
		}
	}
	return true
}

// Remaining returns how many more actions the window admits. Uncapped
// windows (and absent rules) return -1; exhausted windows clamp at 0.
func (l *Limiter) Remaining(ctx context.Context, userID, actionType string, tf domain.Timeframe) (int, error) {
	rule := l.store.GetRule(ctx, actionType)
	if rule == nil {
		return -1, nil
	}
	cap := rule.CapFor(tf)
	if cap == nil {
		return -1, nil
	}

	count, err := l.rules.CountActivities(ctx, userID, actionType, l.windowStart(tf))
	if err != nil {
		return 0, fmt.Errorf("failed to count activities: %w", err)
	}

	remaining := int64(*cap) - count
	if remaining < 0 {
		remaining = 0
	}
	return int(remaining), nil
}

// Reserve atomically records the activity while every capped window
// still has room. It returns false without writing when a cap is
// exhausted, so check-then-record races cannot overshoot the quota.
func (l *Limiter) Reserve(ctx context.Context, userID, actionType string) (bool, error) {
	rule := l.store.GetRule(ctx, actionType)

	rec := &domain.ActivityRecord{
		ID:         uuid.New().String(),
		UserID:     userID,
		ActionType: actionType,
		OccurredAt: l.now().UTC(),
	}

	caps := domain.WindowCaps{}
	if rule != nil {
		caps = domain.WindowCaps{
			DailyCap:     rule.DailyLimit,
			DailyStart:   l.windowStart(domain.TimeframeDaily),
			WeeklyCap:    rule.WeeklyLimit,
			WeeklyStart:  l.windowStart(domain.TimeframeWeekly),
			MonthlyCap:   rule.MonthlyLimit,
			MonthlyStart: l.windowStart(domain.TimeframeMonthly),
		}
	}

	ok, err := l.rules.RecordActivityCapped(ctx, rec, caps)
	if err != nil {
		return false, fmt.Errorf("failed to reserve quota: %w", err)
	}
	return ok, nil
}

// windowStart computes the UTC start of the current quota window.
// Weeks start on Monday.
func (l *Limiter) windowStart(tf domain.Timeframe) time.Time {
	now := l.now().UTC()
	switch tf {
	case domain.TimeframeDaily:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	case domain.TimeframeWeekly:
		day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case domain.TimeframeMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return now
	}
}
