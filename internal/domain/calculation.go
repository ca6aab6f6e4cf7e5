package domain

// CalcInput carries the optional, caller-supplied context for a reward
// calculation. Pointer fields distinguish "not supplied" from zero.
type CalcInput struct {
	// Monetary base value of the activity (e.g. an order total).
	BaseValue *float64 `json:"baseValue,omitempty"`

	// Number of prior identical actions, used for decay.
	ActivityCount *int `json:"activityCount,omitempty"`

	// Quality score in [0, 100].
	QualityScore *float64 `json:"qualityScore,omitempty"`

	// External tier scaling factor (e.g. subscription tier).
	TierMultiplier *float64 `json:"tierMultiplier,omitempty"`

	// Platform the activity originated from, checked against
	// platform conditions when present.
	Platform string `json:"platform,omitempty"`

	// Age of the earning account in days, checked against
	// min_account_age conditions when present.
	AccountAgeDays int `json:"accountAgeDays,omitempty"`
}

// RewardCalculation is the immutable result of one calculation call.
// It is created fresh per call and never persisted by the engine.
type RewardCalculation struct {
	ActionType string `json:"actionType"`
	Currency   string `json:"currency"`

	BaseAmount  float64 `json:"baseAmount"`
	Multiplier  float64 `json:"multiplier"`
	FinalAmount float64 `json:"finalAmount"`

	// Applied lists, in order, the steps that contributed to the
	// final amount.
	Applied []string `json:"applied"`

	// Breakdown records each step's numeric contribution for audit
	// replay, keyed by step name.
	Breakdown map[string]float64 `json:"breakdown"`

	// DenialReason is set on zero-amount policy denials, so callers
	// can tell "denied" apart from "no rule configured".
	DenialReason string `json:"denialReason,omitempty"`
}

// Denied reports whether the calculation was a policy denial.
func (c *RewardCalculation) Denied() bool {
	return c.DenialReason != ""
}

// Record appends a pipeline step and its contribution to the trace.
func (c *RewardCalculation) Record(step string, value float64) {
	c.Applied = append(c.Applied, step)
	c.Breakdown[step] = value
}

// Denial reasons.
const (
	DenialTrustScoreTooLow = "trust_score_too_low"
	DenialConditionsNotMet = "conditions_not_met"
	DenialRuleNotInWindow  = "rule_not_in_window"
)

// Breakdown and trace step names.
const (
	StepBase         = "base"
	StepValueBonus   = "value_bonus"
	StepQualityBonus = "quality_bonus"
	StepTierBonus    = "tier_bonus"
	StepDecay        = "decay"
	StepTrustBonus   = "trust_bonus"
)
