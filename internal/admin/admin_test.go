package admin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/eloity-labs/reward-engine/internal/bus"
	"github.com/eloity-labs/reward-engine/internal/domain"
	"github.com/eloity-labs/reward-engine/internal/repository"
	"github.com/eloity-labs/reward-engine/internal/reward"
	"github.com/eloity-labs/reward-engine/internal/store"
)

// memRepo is an in-memory rule table that honors the single-active
// invariant.
type memRepo struct {
	domain.Repository

	mu        sync.Mutex
	rules     map[string]*domain.RewardRule
	createErr error
	updateErr error
}

func newMemRepo() *memRepo {
	return &memRepo{rules: make(map[string]*domain.RewardRule)}
}

func (r *memRepo) CreateRule(ctx context.Context, rule *domain.RewardRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	if rule.Active {
		for _, existing := range r.rules {
			if existing.ActionType == rule.ActionType && existing.Active {
				existing.Active = false
			}
		}
	}
	copied := *rule
	r.rules[rule.ID] = &copied
	return nil
}

func (r *memRepo) GetRuleByID(ctx context.Context, id string) (*domain.RewardRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.rules[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *rule
	return &copied, nil
}

func (r *memRepo) UpdateRule(ctx context.Context, rule *domain.RewardRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	if _, ok := r.rules[rule.ID]; !ok {
		return repository.ErrNotFound
	}
	copied := *rule
	r.rules[rule.ID] = &copied
	return nil
}

func (r *memRepo) GetActiveRule(ctx context.Context, actionType string) (*domain.RewardRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rule := range r.rules {
		if rule.ActionType == actionType && rule.Active {
			copied := *rule
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

// spyCache counts Clear calls so tests can observe invalidation order.
type spyCache struct {
	mu     sync.Mutex
	clears int
}

func (c *spyCache) Get(ctx context.Context, key string) ([]byte, error) { return nil, nil }
func (c *spyCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}
func (c *spyCache) Delete(ctx context.Context, key string) error { return nil }
func (c *spyCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clears++
	return nil
}
func (c *spyCache) IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	return 0, nil
}
func (c *spyCache) Ping(ctx context.Context) error { return nil }
func (c *spyCache) Close() error                   { return nil }

func (c *spyCache) clearCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clears
}

type fixture struct {
	repo  *memRepo
	cache *spyCache
	bus   *bus.ChannelBus
	admin *Administrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := newMemRepo()
	cache := &spyCache{}
	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	st := store.New(repo, cache, time.Minute)
	conds, err := reward.NewConditionChecker()
	if err != nil {
		t.Fatalf("failed to create condition checker: %v", err)
	}

	return &fixture{
		repo:  repo,
		cache: cache,
		bus:   eventBus,
		admin: New(repo, st, eventBus, conds),
	}
}

func draft(actionType string) *domain.RuleDraft {
	return &domain.RuleDraft{
		ActionType:    actionType,
		Name:          "Test " + actionType,
		BaseEloits:    10,
		MinTrustScore: 20,
		DecayStart:    5,
		DecayRate:     0.1,
		MinMultiplier: 0.1,
	}
}

func TestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("AppliesDefaults", func(t *testing.T) {
		f := newFixture(t)

		rule, err := f.admin.Create(ctx, draft("post_content"), "alice")
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		if rule.ID == "" {
			t.Error("expected generated id")
		}
		if !rule.Active {
			t.Error("omitted active should default to true")
		}
		if !rule.DecayEnabled {
			t.Error("omitted decayEnabled should default to true")
		}
		if rule.Currency != "eloits" {
			t.Errorf("expected default currency eloits, got %s", rule.Currency)
		}
		if rule.CreatedBy != "alice" || rule.UpdatedBy != "alice" {
			t.Errorf("audit fields not set: %s / %s", rule.CreatedBy, rule.UpdatedBy)
		}
	})

	t.Run("ExplicitFalseDefaultsSurvive", func(t *testing.T) {
		f := newFixture(t)

		d := draft("post_content")
		off := false
		d.DecayEnabled = &off
		d.Active = &off

		rule, err := f.admin.Create(ctx, d, "alice")
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if rule.DecayEnabled {
			t.Error("explicit decayEnabled=false was overridden")
		}
		if rule.Active {
			t.Error("explicit active=false was overridden")
		}
	})

	t.Run("RejectsInvalidDraft", func(t *testing.T) {
		f := newFixture(t)

		d := draft("post_content")
		d.DecayRate = 1.5
		_, err := f.admin.Create(ctx, d, "alice")
		if !errors.Is(err, repository.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
		if f.cache.clearCount() != 0 {
			t.Error("rejected draft must not invalidate the cache")
		}
	})

	t.Run("RejectsMalformedCondition", func(t *testing.T) {
		f := newFixture(t)

		d := draft("post_content")
		d.Conditions = []domain.Condition{
			{Kind: domain.ConditionExpression, Expression: "quality_score >"},
		}
		if _, err := f.admin.Create(ctx, d, "alice"); !errors.Is(err, repository.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for bad expression, got: %v", err)
		}
	})

	t.Run("InvalidatesAndPublishesOnlyAfterWrite", func(t *testing.T) {
		f := newFixture(t)
		f.repo.createErr = errors.New("db down")

		events := subscribeEvents(t, f.bus)

		if _, err := f.admin.Create(ctx, draft("post_content"), "alice"); err == nil {
			t.Fatal("expected error from failing repository")
		}
		if f.cache.clearCount() != 0 {
			t.Error("failed write must not invalidate the cache")
		}

		f.repo.createErr = nil
		rule, err := f.admin.Create(ctx, draft("post_content"), "alice")
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if f.cache.clearCount() != 1 {
			t.Errorf("expected 1 invalidation after confirmed write, got %d", f.cache.clearCount())
		}

		event := waitEvent(t, events)
		if event.Op != domain.ChangeOpCreate || event.RuleID != rule.ID {
			t.Errorf("unexpected event: %+v", event)
		}
	})
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("MergesPatch", func(t *testing.T) {
		f := newFixture(t)
		rule, _ := f.admin.Create(ctx, draft("post_content"), "alice")

		newBase := 42.0
		updated, err := f.admin.Update(ctx, rule.ID, &domain.RulePatch{BaseEloits: &newBase}, "bob")
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}

		if updated.BaseEloits != 42 {
			t.Errorf("expected patched base 42, got %.2f", updated.BaseEloits)
		}
		if updated.Name != rule.Name {
			t.Error("unpatched fields must be preserved")
		}
		if updated.UpdatedBy != "bob" {
			t.Errorf("expected UpdatedBy bob, got %s", updated.UpdatedBy)
		}
		if updated.CreatedBy != "alice" {
			t.Errorf("CreatedBy must not change, got %s", updated.CreatedBy)
		}
	})

	t.Run("MissingRule", func(t *testing.T) {
		f := newFixture(t)
		name := "x"
		_, err := f.admin.Update(ctx, "nope", &domain.RulePatch{Name: &name}, "bob")
		if !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("RejectsInvalidMerge", func(t *testing.T) {
		f := newFixture(t)
		rule, _ := f.admin.Create(ctx, draft("post_content"), "alice")
		before := f.cache.clearCount()

		bad := 2.0
		_, err := f.admin.Update(ctx, rule.ID, &domain.RulePatch{DecayRate: &bad}, "bob")
		if !errors.Is(err, repository.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
		if f.cache.clearCount() != before {
			t.Error("rejected patch must not invalidate the cache")
		}
	})
}

func TestDeactivate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rule, _ := f.admin.Create(ctx, draft("post_content"), "alice")
	events := subscribeEvents(t, f.bus)

	deactivated, err := f.admin.Deactivate(ctx, rule.ID, "bob")
	if err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}
	if deactivated.Active {
		t.Error("expected rule to be inactive")
	}

	event := waitEvent(t, events)
	if event.Op != domain.ChangeOpDeactivate {
		t.Errorf("expected deactivate op, got %s", event.Op)
	}

	// The row survives for audit.
	stored, err := f.admin.Get(ctx, rule.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.Active {
		t.Error("stored rule should be inactive")
	}
}

func subscribeEvents(t *testing.T, b *bus.ChannelBus) chan *domain.RuleChangeEvent {
	t.Helper()

	events := make(chan *domain.RuleChangeEvent, 10)
	_, err := b.Subscribe(context.Background(), domain.TopicRuleChanged, func(ctx context.Context, msg *domain.Message) error {
		event, err := domain.DecodeRuleChangeEvent(msg.Payload)
		if err != nil {
			return err
		}
		events <- event
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	return events
}

func waitEvent(t *testing.T, events chan *domain.RuleChangeEvent) *domain.RuleChangeEvent {
	t.Helper()

	select {
	case event := <-events:
		return event
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for change event")
		return nil
	}
}
