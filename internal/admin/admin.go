// Package admin implements rule administration: validated writes,
// cache invalidation and change-feed publication.
package admin

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/eloity-labs/reward-engine/internal/domain"
	"github.com/eloity-labs/reward-engine/internal/repository"
	"github.com/eloity-labs/reward-engine/internal/reward"
	"github.com/eloity-labs/reward-engine/internal/store"
	"github.com/google/uuid"
)

// Administrator mutates reward rules. Every confirmed write
// invalidates the rule cache and publishes a change event; failed
// writes do neither, so readers never drop a cache for a mutation
// that did not happen.
type Administrator struct {
	repo  domain.Repository
	store *store.Store
	bus   domain.EventBus
	conds *reward.ConditionChecker
	now   func() time.Time
}

// New creates a rule administrator.
func New(repo domain.Repository, st *store.Store, bus domain.EventBus, conds *reward.ConditionChecker) *Administrator {
	return &Administrator{
		repo:  repo,
		store: st,
		bus:   bus,
		conds: conds,
		now:   time.Now,
	}
}

// Create validates a draft and persists it as a new rule. When the
// draft is active, any previously active rule for the same action type
// is deactivated in the same transaction.
func (a *Administrator) Create(ctx context.Context, draft *domain.RuleDraft, actor string) (*domain.RewardRule, error) {
	if draft == nil {
		return nil, fmt.Errorf("%w: empty draft", repository.ErrInvalidInput)
	}

	now := a.now().UTC()
	rule := &domain.RewardRule{
		ID:                 uuid.New().String(),
		ActionType:         draft.ActionType,
		Name:               draft.Name,
		BaseEloits:         draft.BaseEloits,
		Currency:           draft.Currency,
		DailyLimit:         draft.DailyLimit,
		WeeklyLimit:        draft.WeeklyLimit,
		MonthlyLimit:       draft.MonthlyLimit,
		MinTrustScore:      draft.MinTrustScore,
		MinValue:           draft.MinValue,
		DecayEnabled:       true,
		DecayStart:         draft.DecayStart,
		DecayRate:          draft.DecayRate,
		MinMultiplier:      draft.MinMultiplier,
		RequiresModeration: draft.RequiresModeration,
		QualityThreshold:   draft.QualityThreshold,
		Conditions:         draft.Conditions,
		Active:             true,
		ActiveFrom:         draft.ActiveFrom,
		ActiveTo:           draft.ActiveTo,
		CreatedBy:          actor,
		UpdatedBy:          actor,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if draft.DecayEnabled != nil {
		rule.DecayEnabled = *draft.DecayEnabled
	}
	if draft.Active != nil {
		rule.Active = *draft.Active
	}
	if rule.Currency == "" {
		rule.Currency = "eloits"
	}

	if err := a.validate(rule); err != nil {
		return nil, err
	}

	if err := a.repo.CreateRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}

	a.afterWrite(ctx, domain.ChangeOpCreate, rule)
	return rule, nil
}

// Update merges a partial patch into the stored rule and persists the
// result.
func (a *Administrator) Update(ctx context.Context, id string, patch *domain.RulePatch, actor string) (*domain.RewardRule, error) {
	if patch == nil {
		return nil, fmt.Errorf("%w: empty patch", repository.ErrInvalidInput)
	}

	current, err := a.repo.GetRuleByID(ctx, id)
	if err != nil {
		return nil, err
	}

	merged := patch.Apply(current)
	merged.UpdatedBy = actor
	merged.UpdatedAt = a.now().UTC()

	if err := a.validate(merged); err != nil {
		return nil, err
	}

	if err := a.repo.UpdateRule(ctx, merged); err != nil {
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}

	op := domain.ChangeOpUpdate
	if current.Active && !merged.Active {
		op = domain.ChangeOpDeactivate
	}
	a.afterWrite(ctx, op, merged)
	return merged, nil
}

// Deactivate retires a rule without deleting it, preserving the audit
// trail.
func (a *Administrator) Deactivate(ctx context.Context, id string, actor string) (*domain.RewardRule, error) {
	inactive := false
	return a.Update(ctx, id, &domain.RulePatch{Active: &inactive}, actor)
}

// Get returns a rule by id.
func (a *Administrator) Get(ctx context.Context, id string) (*domain.RewardRule, error) {
	return a.repo.GetRuleByID(ctx, id)
}

func (a *Administrator) validate(rule *domain.RewardRule) error {
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("%w: %v", repository.ErrInvalidInput, err)
	}
	if err := a.conds.ValidateAll(rule.Conditions); err != nil {
		return fmt.Errorf("%w: %v", repository.ErrInvalidInput, err)
	}
	return nil
}

// afterWrite runs only once the repository confirmed the mutation.
// Invalidation comes first so no reader re-caches the stale row before
// subscribers hear about the change.
func (a *Administrator) afterWrite(ctx context.Context, op string, rule *domain.RewardRule) {
	a.store.Invalidate(ctx)

	event := &domain.RuleChangeEvent{
		Op:         op,
		RuleID:     rule.ID,
		ActionType: rule.ActionType,
		Rule:       rule,
		OccurredAt: a.now().UTC(),
	}
	payload, err := event.Encode()
	if err != nil {
		slog.Error("failed to encode rule change event", "rule_id", rule.ID, "error", err)
		return
	}
	if err := a.bus.Publish(ctx, domain.TopicRuleChanged, payload); err != nil {
		slog.Error("failed to publish rule change event",
			"op", op,
			"rule_id", rule.ID,
			"action_type", rule.ActionType,
			"error", err,
		)
	}
}
