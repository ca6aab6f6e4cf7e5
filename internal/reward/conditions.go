package reward

import (
	"fmt"
	"slices"
	"sync"

	"github.com/eloity-labs/reward-engine/internal/domain"
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

// ConditionChecker validates and evaluates rule policy conditions.
// Expression conditions are CEL programs over the calculation inputs,
// compiled once and cached by expression text.
type ConditionChecker struct {
	mu       sync.RWMutex
	env      *cel.Env
	programs map[string]cel.Program
}

// NewConditionChecker creates a checker with the calculation-input
// CEL environment.
func NewConditionChecker() (*ConditionChecker, error) {
	env, err := cel.NewEnv(
		cel.Variable("action_type", cel.StringType),
		cel.Variable("trust_score", cel.DoubleType),
		cel.Variable("base_value", cel.DoubleType),
		cel.Variable("quality_score", cel.DoubleType),
		cel.Variable("tier_multiplier", cel.DoubleType),
		cel.Variable("activity_count", cel.IntType),
		cel.Variable("platform", cel.StringType),
		cel.Variable("account_age_days", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &ConditionChecker{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Validate rejects a malformed condition, compiling expression
// conditions so bad configuration fails at rule creation rather than
// being ignored at calculation time.
func (c *ConditionChecker) Validate(cond domain.Condition) error {
	if err := cond.Validate(); err != nil {
		return err
	}
	if cond.Kind != domain.ConditionExpression {
		return nil
	}
	_, err := c.compile(cond.Expression)
	return err
}

// ValidateAll validates every condition of a rule.
func (c *ConditionChecker) ValidateAll(conds []domain.Condition) error {
	for i, cond := range conds {
		if err := c.Validate(cond); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
	}
	return nil
}

// Met reports whether every condition of the rule holds for the given
// inputs.
func (c *ConditionChecker) Met(rule *domain.RewardRule, trustScore float64, in *domain.CalcInput) (bool, error) {
	for _, cond := range rule.Conditions {
		ok, err := c.eval(cond, rule.ActionType, trustScore, in)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (c *ConditionChecker) eval(cond domain.Condition, actionType string, trustScore float64, in *domain.CalcInput) (bool, error) {
	switch cond.Kind {
	case domain.ConditionMinAccountAge:
		return in.AccountAgeDays >= cond.MinAgeDays, nil

	case domain.ConditionPlatform:
		return slices.Contains(cond.Platforms, in.Platform), nil

	case domain.ConditionExpression:
		program, err := c.compile(cond.Expression)
		if err != nil {
			return false, err
		}
		out, _, err := program.Eval(activation(actionType, trustScore, in))
		if err != nil {
			return false, fmt.Errorf("condition evaluation failed: %w", err)
		}
		result, ok := out.(types.Bool)
		if !ok {
			return false, fmt.Errorf("condition %q did not yield a bool", cond.Expression)
		}
		return bool(result), nil

	default:
		return false, fmt.Errorf("unknown condition kind %q", cond.Kind)
	}
}

func (c *ConditionChecker) compile(expression string) (cel.Program, error) {
	c.mu.RLock()
	program, ok := c.programs[expression]
	c.mu.RUnlock()
	if ok {
		return program, nil
	}

	ast, issues := c.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile condition: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("condition must return bool, got %s", ast.OutputType())
	}

	program, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create condition program: %w", err)
	}

	c.mu.Lock()
	c.programs[expression] = program
	c.mu.Unlock()

	return program, nil
}

func activation(actionType string, trustScore float64, in *domain.CalcInput) map[string]any {
	baseValue := 0.0
	if in.BaseValue != nil {
		baseValue = *in.BaseValue
	}
	qualityScore := 0.0
	if in.QualityScore != nil {
		qualityScore = *in.QualityScore
	}
	tierMultiplier := 1.0
	if in.TierMultiplier != nil {
		tierMultiplier = *in.TierMultiplier
	}
	activityCount := 0
	if in.ActivityCount != nil {
		activityCount = *in.ActivityCount
	}

	return map[string]any{
		"action_type":      actionType,
		"trust_score":      trustScore,
		"base_value":       baseValue,
		"quality_score":    qualityScore,
		"tier_multiplier":  tierMultiplier,
		"activity_count":   activityCount,
		"platform":         in.Platform,
		"account_age_days": in.AccountAgeDays,
	}
}
