package limiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/eloity-labs/reward-engine/internal/domain"
)

// fakeLedger implements domain.Repository with an in-memory activity
// list. Rule methods are unused by the limiter.
type fakeLedger struct {
	domain.Repository

	records  []*domain.ActivityRecord
	countErr error
}

func (f *fakeLedger) CountActivities(ctx context.Context, userID, actionType string, since time.Time) (int64, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	var count int64
	for _, rec := range f.records {
		if rec.UserID == userID && rec.ActionType == actionType && !rec.OccurredAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (f *fakeLedger) RecordActivityCapped(ctx context.Context, rec *domain.ActivityRecord, caps domain.WindowCaps) (bool, error) {
	check := func(cap *int, start time.Time) bool {
		if cap == nil {
			return true
		}
		count, _ := f.CountActivities(ctx, rec.UserID, rec.ActionType, start)
		return count < int64(*cap)
	}
	if !check(caps.DailyCap, caps.DailyStart) ||
		!check(caps.WeeklyCap, caps.WeeklyStart) ||
		!check(caps.MonthlyCap, caps.MonthlyStart) {
		return false, nil
	}
	f.records = append(f.records, rec)
	return true, nil
}

type fixedRules struct {
	rule *domain.RewardRule
}

func (f *fixedRules) GetRule(ctx context.Context, actionType string) *domain.RewardRule {
	return f.rule
}

func cappedRule(daily int) *domain.RewardRule {
	return &domain.RewardRule{
		ID:         "rule-001",
		ActionType: "post_content",
		DailyLimit: &daily,
		Active:     true,
	}
}

func TestCheckLimit(t *testing.T) {
	ctx := context.Background()

	t.Run("NoRuleAllows", func(t *testing.T) {
		lim := New(&fakeLedger{}, &fixedRules{})
		if !lim.CheckLimit(ctx, "user-001", "post_content", domain.TimeframeDaily) {
			t.Error("absent rule should allow")
		}
	})

	t.Run("UncappedWindowAllows", func(t *testing.T) {
		rule := cappedRule(5)
		lim := New(&fakeLedger{}, &fixedRules{rule: rule})
		if !lim.CheckLimit(ctx, "user-001", "post_content", domain.TimeframeWeekly) {
			t.Error("uncapped weekly window should allow")
		}
	})

	t.Run("BoundaryAtCap", func(t *testing.T) {
		ledger := &fakeLedger{}
		lim := New(ledger, &fixedRules{rule: cappedRule(5)})
		now := time.Now().UTC()

		for n := 0; n < 4; n++ {
			ledger.records = append(ledger.records, &domain.ActivityRecord{
				UserID: "user-001", ActionType: "post_content", OccurredAt: now,
			})
		}

		// 4 of 5 used: still allowed.
		if !lim.CheckLimit(ctx, "user-001", "post_content", domain.TimeframeDaily) {
			t.Error("4 of 5 should allow")
		}

		ledger.records = append(ledger.records, &domain.ActivityRecord{
			UserID: "user-001", ActionType: "post_content", OccurredAt: now,
		})

		// 5 of 5 used: denied.
		if lim.CheckLimit(ctx, "user-001", "post_content", domain.TimeframeDaily) {
			t.Error("5 of 5 should deny")
		}
	})

	t.Run("LedgerErrorFailsClosed", func(t *testing.T) {
		ledger := &fakeLedger{countErr: errors.New("ledger down")}
		lim := New(ledger, &fixedRules{rule: cappedRule(5)})

		if lim.CheckLimit(ctx, "user-001", "post_content", domain.TimeframeDaily) {
			t.Error("an uncountable ledger must deny")
		}
	})

	t.Run("CheckAllStopsAtAnyExhaustedWindow", func(t *testing.T) {
		monthly := 2
		rule := cappedRule(100)
		rule.MonthlyLimit = &monthly

		ledger := &fakeLedger{}
		now := time.Now().UTC()
		for n := 0; n < 2; n++ {
			ledger.records = append(ledger.records, &domain.ActivityRecord{
				UserID: "user-001", ActionType: "post_content", OccurredAt: now,
			})
		}

		lim := New(ledger, &fixedRules{rule: rule})
		if lim.CheckAll(ctx, "user-001", "post_content") {
			t.Error("exhausted monthly window should deny even with daily room")
		}
	})
}

func TestRemaining(t *testing.T) {
	ctx := context.Background()

	t.Run("UnlimitedIsMinusOne", func(t *testing.T) {
		lim := New(&fakeLedger{}, &fixedRules{})
		remaining, err := lim.Remaining(ctx, "user-001", "post_content", domain.TimeframeDaily)
		if err != nil {
			t.Fatalf("Remaining failed: %v", err)
		}
		if remaining != -1 {
			t.Errorf("expected -1 for unlimited, got %d", remaining)
		}
	})

	t.Run("CountsDown", func(t *testing.T) {
		ledger := &fakeLedger{}
		lim := New(ledger, &fixedRules{rule: cappedRule(5)})
		now := time.Now().UTC()

		for n := 0; n < 3; n++ {
			ledger.records = append(ledger.records, &domain.ActivityRecord{
				UserID: "user-001", ActionType: "post_content", OccurredAt: now,
			})
		}

		remaining, err := lim.Remaining(ctx, "user-001", "post_content", domain.TimeframeDaily)
		if err != nil {
			t.Fatalf("Remaining failed: %v", err)
		}
		if remaining != 2 {
			t.Errorf("expected 2, got %d", remaining)
		}
	})

	t.Run("ClampsAtZero", func(t *testing.T) {
		ledger := &fakeLedger{}
		lim := New(ledger, &fixedRules{rule: cappedRule(2)})
		now := time.Now().UTC()

		for n := 0; n < 4; n++ {
			ledger.records = append(ledger.records, &domain.ActivityRecord{
				UserID: "user-001", ActionType: "post_content", OccurredAt: now,
			})
		}

		remaining, err := lim.Remaining(ctx, "user-001", "post_content", domain.TimeframeDaily)
		if err != nil {
			t.Fatalf("Remaining failed: %v", err)
		}
		if remaining != 0 {
			t.Errorf("expected clamp at 0, got %d", remaining)
		}
	})

	t.Run("LedgerErrorIsReturned", func(t *testing.T) {
		ledger := &fakeLedger{countErr: errors.New("ledger down")}
		lim := New(ledger, &fixedRules{rule: cappedRule(5)})

		if _, err := lim.Remaining(ctx, "user-001", "post_content", domain.TimeframeDaily); err == nil {
			t.Error("expected error from uncountable ledger")
		}
	})
}

func TestReserve(t *testing.T) {
	ctx := context.Background()

	t.Run("ReservesUntilCap", func(t *testing.T) {
		ledger := &fakeLedger{}
		lim := New(ledger, &fixedRules{rule: cappedRule(3)})

		for n := 0; n < 3; n++ {
			ok, err := lim.Reserve(ctx, "user-001", "post_content")
			if err != nil {
				t.Fatalf("Reserve failed: %v", err)
			}
			if !ok {
				t.Fatalf("reservation %d rejected below cap", n)
			}
		}

		ok, err := lim.Reserve(ctx, "user-001", "post_content")
		if err != nil {
			t.Fatalf("Reserve failed: %v", err)
		}
		if ok {
			t.Error("reservation beyond cap should be rejected")
		}
		if len(ledger.records) != 3 {
			t.Errorf("rejected reservation must not write, ledger has %d records", len(ledger.records))
		}
	})

	t.Run("NoRuleReservesUncapped", func(t *testing.T) {
		ledger := &fakeLedger{}
		lim := New(ledger, &fixedRules{})

		ok, err := lim.Reserve(ctx, "user-001", "post_content")
		if err != nil {
			t.Fatalf("Reserve failed: %v", err)
		}
		if !ok {
			t.Error("uncapped reservation should succeed")
		}
		if len(ledger.records) != 1 {
			t.Errorf("expected 1 ledger record, got %d", len(ledger.records))
		}
	})
}

func TestWindowStart(t *testing.T) {
	lim := New(&fakeLedger{}, &fixedRules{})

	// Wednesday 2025-06-18 15:30 UTC.
	lim.now = func() time.Time {
		return time.Date(2025, 6, 18, 15, 30, 0, 0, time.UTC)
	}

	tests := []struct {
		tf   domain.Timeframe
		want time.Time
	}{
		{domain.TimeframeDaily, time.Date(2025, 6, 18, 0, 0, 0, 0, time.UTC)},
		{domain.TimeframeWeekly, time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC)},
		{domain.TimeframeMonthly, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		if got := lim.windowStart(tt.tf); !got.Equal(tt.want) {
			t.Errorf("windowStart(%s) = %v, want %v", tt.tf, got, tt.want)
		}
	}

	// A Sunday rolls back to the previous Monday.
	lim.now = func() time.Time {
		return time.Date(2025, 6, 22, 10, 0, 0, 0, time.UTC)
	}
	want := time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC)
	if got := lim.windowStart(domain.TimeframeWeekly); !got.Equal(want) {
		t.Errorf("windowStart(weekly) on Sunday = %v, want %v", got, want)
	}
}
