package domain

import "time"

// ActivityRecord is one entry in the external activity ledger. The
// engine reads the ledger to count occurrences inside quota windows;
// writes happen through the award workflow (or RecordActivityCapped
// for atomic increment-and-check).
type ActivityRecord struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	ActionType string    `json:"actionType"`
	OccurredAt time.Time `json:"occurredAt"`
}

// WindowCaps bundles the per-window caps and window starts for an
// atomic capped ledger insert. A nil cap means the window is
// unlimited and is not checked.
type WindowCaps struct {
	DailyCap     *int
	DailyStart   time.Time
	WeeklyCap    *int
	WeeklyStart  time.Time
	MonthlyCap   *int
	MonthlyStart time.Time
}

// Unlimited reports whether no window carries a cap.
func (w WindowCaps) Unlimited() bool {
	return w.DailyCap == nil && w.WeeklyCap == nil && w.MonthlyCap == nil
}
