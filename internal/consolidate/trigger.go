// Package consolidate watches review records and fires the fan-in. When a
// record's counter covers every specialist, the trigger takes the
// pending→consolidating lock and publishes the consolidation message; the
// lock transaction guarantees at most one publish per review lifetime no
// matter how many trigger evaluations race.
package consolidate

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/omjadhav9271/code-review-copilot/internal/queue"
	"github.com/omjadhav9271/code-review-copilot/internal/retry"
	"github.com/omjadhav9271/code-review-copilot/internal/review"
	"github.com/omjadhav9271/code-review-copilot/internal/store"
)

// Trigger reacts to store updates and evaluates the completion predicate.
type Trigger struct {
	store      *store.Store
	queue      *queue.Queue
	sweepEvery time.Duration
	policy     retry.Policy
	logger     *log.Logger
}

// NewTrigger creates a Trigger. sweepEvery bounds how long a completed review
// can sit unnoticed if an update notification is dropped.
func NewTrigger(st *store.Store, q *queue.Queue, sweepEvery time.Duration, policy retry.Policy, logger *log.Logger) *Trigger {
	return &Trigger{store: st, queue: q, sweepEvery: sweepEvery, policy: policy, logger: logger}
}

// Run consumes store update notifications until the context is done. A
// periodic sweep re-evaluates every pending review so a dropped notification
// can only delay consolidation, never lose it.
func (t *Trigger) Run(ctx context.Context) error {
	updates := t.store.Subscribe()
	ticker := time.NewTicker(t.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case id := <-updates:
			if err := t.Evaluate(ctx, id); err != nil {
				t.logger.Printf("evaluate %s: %v", id, err)
			}
		case <-ticker.C:
			t.sweep(ctx)
		}
	}
}

// Evaluate runs the completion predicate for one review. The guard
// (tasks_completed >= total_tasks, status pending) and the status flip commit
// together inside the store; only the caller whose lock succeeded publishes.
func (t *Trigger) Evaluate(ctx context.Context, id string) error {
	locked, err := t.store.TryLockConsolidation(id)
	if err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	if !locked {
		return nil
	}

	payload, err := json.Marshal(review.ConsolidationMessage{ReviewID: id})
	if err != nil {
		return fmt.Errorf("marshal consolidation message: %w", err)
	}

	// The lock committed before this publish, per the ordering contract.
	err = retry.Do(ctx, t.policy, func() error {
		return retry.Transient(t.queue.Publish(review.TopicConsolidation, payload))
	})
	if err != nil {
		// A locked record nobody will ever consolidate must not strand;
		// close it out as failed so the requester sees an explicit outcome.
		t.logger.Printf("publish consolidation for %s failed: %v", id, err)
		if failErr := t.store.MarkFailed(id, fmt.Sprintf("consolidation dispatch failed: %v", err)); failErr != nil {
			return fmt.Errorf("mark failed after publish failure: %w", failErr)
		}
		return fmt.Errorf("publish consolidation: %w", err)
	}

	t.logger.Printf("review %s locked for consolidation", id)
	return nil
}

// sweep re-evaluates all pending reviews.
func (t *Trigger) sweep(ctx context.Context) {
	states, err := t.store.List(store.StatusPending)
	if err != nil {
		t.logger.Printf("sweep: list pending: %v", err)
		return
	}
	for _, st := range states {
		if err := t.Evaluate(ctx, st.ID); err != nil {
			t.logger.Printf("sweep: evaluate %s: %v", st.ID, err)
		}
	}
}
