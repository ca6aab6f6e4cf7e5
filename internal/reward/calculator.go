// Package reward implements the reward calculation pipeline.
package reward

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/eloity-labs/reward-engine/internal/domain"
)

// RuleGetter resolves the active rule for an action type. Absence and
// store failure both surface as nil.
type RuleGetter interface {
	GetRule(ctx context.Context, actionType string) *domain.RewardRule
}

// Calculator computes reward amounts from the active rule and the
// caller-supplied activity context. Calculation is pure: it never
// writes, so callers may preview amounts freely.
type Calculator struct {
	rules RuleGetter
	conds *ConditionChecker
	now   func() time.Time
}

// NewCalculator creates a calculator over the given rule source.
func NewCalculator(rules RuleGetter) (*Calculator, error) {
	conds, err := NewConditionChecker()
	if err != nil {
		return nil, fmt.Errorf("failed to create condition checker: %w", err)
	}
	return &Calculator{
		rules: rules,
		conds: conds,
		now:   time.Now,
	}, nil
}

// Conditions exposes the shared condition checker so rule
// administration can compile-check expressions with the same
// environment that will evaluate them.
func (c *Calculator) Conditions() *ConditionChecker {
	return c.conds
}

// Calculate computes the reward for one action. A nil result means no
// rule is configured for the action type; a zero-amount result with a
// denial reason means a rule exists but its policy rejected the
// activity.
func (c *Calculator) Calculate(ctx context.Context, actionType string, trustScore float64, in *domain.CalcInput) *domain.RewardCalculation {
	rule := c.rules.GetRule(ctx, actionType)
	if rule == nil {
		return nil
	}
	if in == nil {
		in = &domain.CalcInput{}
	}

	if !rule.InWindow(c.now().UTC()) {
		return denial(rule, domain.DenialRuleNotInWindow)
	}

	if trustScore < rule.MinTrustScore {
		return denial(rule, domain.DenialTrustScoreTooLow)
	}

	met, err := c.conds.Met(rule, trustScore, in)
	if err != nil {
		// Conditions are compile-checked at creation, so an
		// evaluation failure means drifted configuration. Deny.
		slog.Error("condition evaluation failed, denying reward",
			"action_type", actionType,
			"rule_id", rule.ID,
			"error", err,
		)
		return denial(rule, domain.DenialConditionsNotMet)
	}
	if !met {
		return denial(rule, domain.DenialConditionsNotMet)
	}

	return Compute(rule, trustScore, in)
}

// Compute runs the amount pipeline for a rule that already passed
// eligibility. The steps run in a fixed order: base, value bonus, then
// the multiplier chain of quality bonus, tier, decay and trust bonus.
func Compute(rule *domain.RewardRule, trustScore float64, in *domain.CalcInput) *domain.RewardCalculation {
	calc := &domain.RewardCalculation{
		ActionType: rule.ActionType,
		Currency:   rule.Currency,
		Breakdown:  make(map[string]float64),
	}

	base := rule.BaseEloits
	calc.Record(domain.StepBase, base)

	if in.BaseValue != nil && *in.BaseValue > rule.MinValue {
		bonus := *in.BaseValue * 0.01
		base += bonus
		calc.Record(domain.StepValueBonus, bonus)
	}

	multiplier := 1.0

	if in.QualityScore != nil && *in.QualityScore >= rule.QualityThreshold {
		factor := 1.1 + (*in.QualityScore/100)*0.1
		multiplier *= factor
		calc.Record(domain.StepQualityBonus, factor)
	}

	if in.TierMultiplier != nil {
		multiplier *= *in.TierMultiplier
		calc.Record(domain.StepTierBonus, *in.TierMultiplier)
	}

	if rule.DecayEnabled && in.ActivityCount != nil && *in.ActivityCount >= rule.DecayStart {
		factor := math.Pow(1-rule.DecayRate, float64(*in.ActivityCount-rule.DecayStart))
		if factor < rule.MinMultiplier {
			factor = rule.MinMultiplier
		}
		multiplier *= factor
		calc.Record(domain.StepDecay, factor)
	}

	trustBonus := 1 + (trustScore/100)*0.1
	multiplier *= trustBonus
	calc.Record(domain.StepTrustBonus, trustBonus)

	calc.BaseAmount = base
	calc.Multiplier = multiplier
	calc.FinalAmount = round2(base * multiplier)

	return calc
}

func denial(rule *domain.RewardRule, reason string) *domain.RewardCalculation {
	return &domain.RewardCalculation{
		ActionType:   rule.ActionType,
		Currency:     rule.Currency,
		Breakdown:    make(map[string]float64),
		DenialReason: reason,
	}
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
