// Package outbox relays settlement triggers recorded in the ledger
// transaction to the task queue, and runs the workers that consume them.
package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"settlement-gateway/internal/metrics"
	"settlement-gateway/internal/models"
	"settlement-gateway/internal/repository"
)

// Publisher hands one event to the downstream transport. Publishing the same
// event twice must be harmless.
type Publisher interface {
	Publish(ctx context.Context, evt *models.OutboxEvent) error
}

// Dispatcher polls unpublished events and publishes them in creation order.
// Delivery is at least once; a failed publish is retried on the next poll
// until the event has had MaxAttempts attempts. Such an event stays
// unpublished in the store for an operator and is no longer polled.
type Dispatcher struct {
	Repo         repository.OutboxStore
	Publisher    Publisher
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	Log          *zap.Logger
}

func (d *Dispatcher) Run(ctx context.Context) {
	interval := d.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.DispatchOnce(ctx)
		}
	}
}

// DispatchOnce publishes one batch and returns how many events went out.
func (d *Dispatcher) DispatchOnce(ctx context.Context) int {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}

	events, err := d.Repo.FindUnpublished(ctx, d.MaxAttempts, d.BatchSize)
	if err != nil {
		log.Error("failed to load outbox events", zap.Error(err))
		return 0
	}

	published := 0
	for _, evt := range events {
		if ctx.Err() != nil {
			break
		}
		if err := d.Publisher.Publish(ctx, evt); err != nil {
			metrics.OutboxDispatched.WithLabelValues(string(evt.Type), "error").Inc()
			log.Warn("failed to publish outbox event",
				zap.String("event_id", evt.ID),
				zap.String("type", string(evt.Type)),
				zap.Int("attempts", evt.Attempts+1),
				zap.Error(err),
			)
			if markErr := d.Repo.MarkAttempted(ctx, evt.ID); markErr != nil {
				log.Error("failed to record outbox attempt", zap.String("event_id", evt.ID), zap.Error(markErr))
				continue
			}
			if d.MaxAttempts > 0 && evt.Attempts+1 >= d.MaxAttempts {
				metrics.OutboxDispatched.WithLabelValues(string(evt.Type), "parked").Inc()
				log.Error("outbox event parked after repeated failures",
					zap.String("event_id", evt.ID),
					zap.String("type", string(evt.Type)),
					zap.String("intent_id", evt.IntentID),
					zap.Int("attempts", evt.Attempts+1),
				)
			}
			continue
		}

		if err := d.Repo.MarkPublished(ctx, evt.ID); err != nil {
			// Published but not marked: the next poll republishes it.
			log.Error("failed to mark outbox event published", zap.String("event_id", evt.ID), zap.Error(err))
			continue
		}
		metrics.OutboxDispatched.WithLabelValues(string(evt.Type), "published").Inc()
		published++
	}
	return published
}
