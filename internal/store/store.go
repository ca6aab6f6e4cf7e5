// Package store provides the TTL-cached rule store.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/eloity-labs/reward-engine/internal/domain"
	"github.com/eloity-labs/reward-engine/internal/repository"
)

// Store serves reward rules with a time-bounded cache in front of the
// repository. Reads fail open: an unreachable store is reported as "no
// rule configured", never as an error, because no reward is the safe
// default for a missing rule.
type Store struct {
	repo  domain.Repository
	cache domain.Cache
	ttl   time.Duration
}

// New creates a rule store. A zero ttl falls back to DefaultRuleTTL.
func New(repo domain.Repository, cache domain.Cache, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = domain.DefaultRuleTTL
	}
	return &Store{
		repo:  repo,
		cache: cache,
		ttl:   ttl,
	}
}

// GetRule returns the active rule for an action type, or nil when none
// is configured. Cached snapshots are served while fresher than the
// TTL; absence is not cached.
func (s *Store) GetRule(ctx context.Context, actionType string) *domain.RewardRule {
	if actionType == "" {
		return nil
	}

	key := ruleKey(actionType)

	if data, err := s.cache.Get(ctx, key); err != nil {
		slog.Warn("rule cache read failed", "action_type", actionType, "error", err)
	} else if data != nil {
		var rule domain.RewardRule
		if err := json.Unmarshal(data, &rule); err == nil {
			return &rule
		}
		slog.Warn("dropping undecodable rule cache entry", "action_type", actionType)
		_ = s.cache.Delete(ctx, key)
	}

	rule, err := s.repo.GetActiveRule(ctx, actionType)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		slog.Error("rule fetch failed, treating as absent", "action_type", actionType, "error", err)
		return nil
	}

	if data, err := json.Marshal(rule); err == nil {
		if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
			slog.Warn("rule cache write failed", "action_type", actionType, "error", err)
		}
	}

	return rule
}

// ListActive returns every active rule ordered by display name,
// always bypassing the cache.
func (s *Store) ListActive(ctx context.Context) []*domain.RewardRule {
	rules, err := s.repo.ListActiveRules(ctx)
	if err != nil {
		slog.Error("active rule listing failed, returning empty", "error", err)
		return nil
	}
	return rules
}

// ListApplicable returns the active rules a user with the given trust
// score clears the floor for.
func (s *Store) ListApplicable(ctx context.Context, trustScore float64) []*domain.RewardRule {
	rules, err := s.repo.ListApplicableRules(ctx, trustScore)
	if err != nil {
		slog.Error("applicable rule listing failed, returning empty", "trust_score", trustScore, "error", err)
		return nil
	}
	return rules
}

// Invalidate clears the entire rule cache. Mutations invalidate
// wholesale rather than per key.
func (s *Store) Invalidate(ctx context.Context) {
	if err := s.cache.Clear(ctx); err != nil {
		slog.Error("rule cache invalidation failed", "error", err)
	}
}

// TTL returns the configured freshness bound.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

func ruleKey(actionType string) string {
	return "rule:" + actionType
}
