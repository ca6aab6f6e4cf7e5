package domain

import (
	"errors"
	"fmt"
	"time"
)

// RewardRule configures how much reward currency one action type earns
// and under which constraints.
type RewardRule struct {
	ID         string `json:"id"`
	ActionType string `json:"actionType"`
	Name       string `json:"name"`

	// Base reward in eloits and the currency it is denominated in.
	BaseEloits float64 `json:"baseEloits"`
	Currency   string  `json:"currency"`

	// Windowed caps. nil means unlimited for that window.
	DailyLimit   *int `json:"dailyLimit,omitempty"`
	WeeklyLimit  *int `json:"weeklyLimit,omitempty"`
	MonthlyLimit *int `json:"monthlyLimit,omitempty"`

	// Eligibility floor and value-bonus threshold.
	MinTrustScore float64 `json:"minTrustScore"`
	MinValue      float64 `json:"minValue"`

	// Decay of repeated identical actions.
	DecayEnabled  bool    `json:"decayEnabled"`
	DecayStart    int     `json:"decayStart"`
	DecayRate     float64 `json:"decayRate"`
	MinMultiplier float64 `json:"minMultiplier"`

	// Moderation gate and quality-bonus threshold.
	RequiresModeration bool    `json:"requiresModeration"`
	QualityThreshold   float64 `json:"qualityThreshold"`

	// Additional policy conditions, validated at creation time.
	Conditions []Condition `json:"conditions,omitempty"`

	Active     bool       `json:"active"`
	ActiveFrom *time.Time `json:"activeFrom,omitempty"`
	ActiveTo   *time.Time `json:"activeTo,omitempty"`

	// Audit fields
	CreatedBy string    `json:"createdBy"`
	UpdatedBy string    `json:"updatedBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// InWindow reports whether the rule's optional active-from/active-to
// window contains the given instant.
func (r *RewardRule) InWindow(now time.Time) bool {
	if r.ActiveFrom != nil && now.Before(*r.ActiveFrom) {
		return false
	}
	if r.ActiveTo != nil && now.After(*r.ActiveTo) {
		return false
	}
	return true
}

// CapFor returns the configured cap for a timeframe, or nil when the
// window is unlimited.
func (r *RewardRule) CapFor(tf Timeframe) *int {
	switch tf {
	case TimeframeDaily:
		return r.DailyLimit
	case TimeframeWeekly:
		return r.WeeklyLimit
	case TimeframeMonthly:
		return r.MonthlyLimit
	default:
		return nil
	}
}

// Validate checks rule configuration invariants.
func (r *RewardRule) Validate() error {
	if r.ActionType == "" {
		return errors.New("actionType is required")
	}
	if r.Name == "" {
		return errors.New("name is required")
	}
	if r.BaseEloits < 0 {
		return errors.New("baseEloits must not be negative")
	}
	if r.DecayRate < 0 || r.DecayRate >= 1 {
		return errors.New("decayRate must be in [0, 1)")
	}
	if r.MinMultiplier < 0 || r.MinMultiplier > 1 {
		return errors.New("minMultiplier must be in [0, 1]")
	}
	for _, limit := range []*int{r.DailyLimit, r.WeeklyLimit, r.MonthlyLimit} {
		if limit != nil && *limit < 0 {
			return errors.New("limits must not be negative")
		}
	}
	if r.ActiveFrom != nil && r.ActiveTo != nil && r.ActiveTo.Before(*r.ActiveFrom) {
		return errors.New("activeTo must not precede activeFrom")
	}
	for i, cond := range r.Conditions {
		if err := cond.Validate(); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
	}
	return nil
}

// Timeframe identifies a quota window.
type Timeframe string

const (
	TimeframeDaily   Timeframe = "daily"
	TimeframeWeekly  Timeframe = "weekly"
	TimeframeMonthly Timeframe = "monthly"
)

// Timeframes lists all quota windows in checking order.
func Timeframes() []Timeframe {
	return []Timeframe{TimeframeDaily, TimeframeWeekly, TimeframeMonthly}
}

// Valid reports whether tf is a known timeframe.
func (tf Timeframe) Valid() bool {
	switch tf {
	case TimeframeDaily, TimeframeWeekly, TimeframeMonthly:
		return true
	}
	return false
}

// ConditionKind discriminates the policy-condition variants.
type ConditionKind string

const (
	// ConditionMinAccountAge requires the earning account to be at
	// least MinAgeDays old.
	ConditionMinAccountAge ConditionKind = "min_account_age"

	// ConditionPlatform restricts earning to the listed platforms.
	ConditionPlatform ConditionKind = "platform"

	// ConditionExpression is a CEL expression over calculation inputs
	// that must evaluate to true for the reward to be granted.
	ConditionExpression ConditionKind = "expression"
)

// Condition is one policy condition attached to a rule, stored as a
// tagged variant so malformed entries are rejected at creation time
// instead of being silently ignored during calculation.
type Condition struct {
	Kind ConditionKind `json:"kind"`

	// min_account_age
	MinAgeDays int `json:"minAgeDays,omitempty"`

	// platform
	Platforms []string `json:"platforms,omitempty"`

	// expression
	Expression string `json:"expression,omitempty"`
}

// Validate checks the kind-specific fields. CEL expressions are
// additionally compile-checked by the reward package at rule creation.
func (c Condition) Validate() error {
	switch c.Kind {
	case ConditionMinAccountAge:
		if c.MinAgeDays <= 0 {
			return errors.New("minAgeDays must be positive")
		}
	case ConditionPlatform:
		if len(c.Platforms) == 0 {
			return errors.New("platforms must not be empty")
		}
	case ConditionExpression:
		if c.Expression == "" {
			return errors.New("expression must not be empty")
		}
	default:
		return fmt.Errorf("unknown condition kind %q", c.Kind)
	}
	return nil
}

// RuleDraft is the input to RuleAdministrator.Create. Pointer fields
// distinguish "omitted" from zero values so defaults can be applied.
type RuleDraft struct {
	ActionType string  `json:"actionType"`
	Name       string  `json:"name"`
	BaseEloits float64 `json:"baseEloits"`
	Currency   string  `json:"currency"`

	DailyLimit   *int `json:"dailyLimit,omitempty"`
	WeeklyLimit  *int `json:"weeklyLimit,omitempty"`
	MonthlyLimit *int `json:"monthlyLimit,omitempty"`

	MinTrustScore float64 `json:"minTrustScore"`
	MinValue      float64 `json:"minValue"`

	// Defaults to true when nil.
	DecayEnabled  *bool   `json:"decayEnabled,omitempty"`
	DecayStart    int     `json:"decayStart"`
	DecayRate     float64 `json:"decayRate"`
	MinMultiplier float64 `json:"minMultiplier"`

	RequiresModeration bool    `json:"requiresModeration"`
	QualityThreshold   float64 `json:"qualityThreshold"`

	Conditions []Condition `json:"conditions,omitempty"`

	// Defaults to true when nil.
	Active     *bool      `json:"active,omitempty"`
	ActiveFrom *time.Time `json:"activeFrom,omitempty"`
	ActiveTo   *time.Time `json:"activeTo,omitempty"`
}

// RulePatch is a partial update for RuleAdministrator.Update. Only
// non-nil fields are merged into the stored rule.
type RulePatch struct {
	Name       *string  `json:"name,omitempty"`
	BaseEloits *float64 `json:"baseEloits,omitempty"`
	Currency   *string  `json:"currency,omitempty"`

	DailyLimit   *int `json:"dailyLimit,omitempty"`
	WeeklyLimit  *int `json:"weeklyLimit,omitempty"`
	MonthlyLimit *int `json:"monthlyLimit,omitempty"`

	MinTrustScore *float64 `json:"minTrustScore,omitempty"`
	MinValue      *float64 `json:"minValue,omitempty"`

	DecayEnabled  *bool    `json:"decayEnabled,omitempty"`
	DecayStart    *int     `json:"decayStart,omitempty"`
	DecayRate     *float64 `json:"decayRate,omitempty"`
	MinMultiplier *float64 `json:"minMultiplier,omitempty"`

	RequiresModeration *bool    `json:"requiresModeration,omitempty"`
	QualityThreshold   *float64 `json:"qualityThreshold,omitempty"`

	Conditions *[]Condition `json:"conditions,omitempty"`

	Active     *bool      `json:"active,omitempty"`
	ActiveFrom *time.Time `json:"activeFrom,omitempty"`
	ActiveTo   *time.Time `json:"activeTo,omitempty"`
}

// Apply merges the patch into a copy of the rule and returns it.
func (p *RulePatch) Apply(rule *RewardRule) *RewardRule {
	merged := *rule
	if p.Name != nil {
		merged.Name = *p.Name
	}
	if p.BaseEloits != nil {
		merged.BaseEloits = *p.BaseEloits
	}
	if p.Currency != nil {
		merged.Currency = *p.Currency
	}
	if p.DailyLimit != nil {
		merged.DailyLimit = p.DailyLimit
	}
	if p.WeeklyLimit != nil {
		merged.WeeklyLimit = p.WeeklyLimit
	}
	if p.MonthlyLimit != nil {
		merged.MonthlyLimit = p.MonthlyLimit
	}
	if p.MinTrustScore != nil {
		merged.MinTrustScore = *p.MinTrustScore
	}
	if p.MinValue != nil {
		merged.MinValue = *p.MinValue
	}
	if p.DecayEnabled != nil {
		merged.DecayEnabled = *p.DecayEnabled
	}
	if p.DecayStart != nil {
		merged.DecayStart = *p.DecayStart
	}
	if p.DecayRate != nil {
		merged.DecayRate = *p.DecayRate
	}
	if p.MinMultiplier != nil {
		merged.MinMultiplier = *p.MinMultiplier
	}
	if p.RequiresModeration != nil {
		merged.RequiresModeration = *p.RequiresModeration
	}
	if p.QualityThreshold != nil {
		merged.QualityThreshold = *p.QualityThreshold
	}
	if p.Conditions != nil {
		merged.Conditions = *p.Conditions
	}
	if p.Active != nil {
		merged.Active = *p.Active
	}
	if p.ActiveFrom != nil {
		merged.ActiveFrom = p.ActiveFrom
	}
	if p.ActiveTo != nil {
		merged.ActiveTo = p.ActiveTo
	}
	return &merged
}
