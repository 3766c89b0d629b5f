package outbox

import (
	"context"
	"time"

	"github.com/richardliu001/gamestore-wallet/internal/model"
	"go.uber.org/zap"
)

// Store is the slice of the repository the relay drains.
type Store interface {
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error
	MarkOutboxProcessed(ctx context.Context, id uint64) error
}

// Relay forwards committed outbox rows to the event stream.
type Relay struct {
	store     Store
	log       *zap.SugaredLogger
	interval  time.Duration
	batchSize int
}

func NewRelay(store Store, log *zap.SugaredLogger, interval time.Duration, batchSize int) *Relay {
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{store: store, log: log, interval: interval, batchSize: batchSize}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Infow("outbox relay started", "interval", r.interval, "batch_size", r.batchSize)
	for {
		select {
		case <-ctx.Done():
			r.log.Info("outbox relay stopped")
			return
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil {
				r.log.Errorw("poll outbox", "error", err)
			}
		}
	}
}

// Flush publishes one batch and returns how many rows were marked processed.
// Once a wallet's event fails, its later events wait for the next round so
// consumers see them in order.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	events, err := r.store.PollOutbox(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}
	blocked := make(map[string]bool)
	sent := 0
	for _, evt := range events {
		if blocked[evt.AggregateID] {
			continue
		}
		if err := r.store.PublishEvent(ctx, evt); err != nil {
			blocked[evt.AggregateID] = true
			r.log.Errorw("publish event", "id", evt.ID, "event_type", evt.EventType, "error", err)
			continue
		}
		if err := r.store.MarkOutboxProcessed(ctx, evt.ID); err != nil {
			blocked[evt.AggregateID] = true
			r.log.Errorw("mark processed", "id", evt.ID, "error", err)
			continue
		}
		sent++
	}
	if sent > 0 {
		r.log.Infow("outbox flushed", "sent", sent, "polled", len(events))
	}
	return sent, nil
}
