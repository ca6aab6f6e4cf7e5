// Package notifier bridges the change feed to rule-cache consumers.
package notifier

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/eloity-labs/reward-engine/internal/domain"
	"github.com/eloity-labs/reward-engine/internal/store"
)

// Notifier subscribes to the rule change feed, keeps the local rule
// cache coherent and fans events out to registered callbacks.
type Notifier struct {
	bus   domain.EventBus
	store *store.Store
}

// New creates a change notifier.
func New(bus domain.EventBus, st *store.Store) *Notifier {
	return &Notifier{
		bus:   bus,
		store: st,
	}
}

// Callback receives decoded rule change events.
type Callback func(ctx context.Context, event *domain.RuleChangeEvent)

// Subscribe registers a callback for rule changes and returns a
// disposer that cancels exactly this registration. Every delivered
// event also invalidates the local rule cache before the callback
// runs, so the callback observes post-change reads.
func (n *Notifier) Subscribe(ctx context.Context, callback Callback) (func() error, error) {
	sub, err := n.bus.Subscribe(ctx, domain.TopicRuleChanged, func(ctx context.Context, msg *domain.Message) error {
		event, err := domain.DecodeRuleChangeEvent(msg.Payload)
		if err != nil {
			slog.Error("dropping undecodable rule change event",
				"message_id", msg.ID,
				"error", err,
			)
			return err
		}

		n.store.Invalidate(ctx)

		if callback != nil {
			callback(ctx, event)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to rule changes: %w", err)
	}

	return sub.Unsubscribe, nil
}

// Start wires cache coherence without a consumer callback. Used by
// nodes that only read rules.
func (n *Notifier) Start(ctx context.Context) (func() error, error) {
	return n.Subscribe(ctx, nil)
}
