package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/viralforge/chainraise/internal/observability"
	"github.com/viralforge/chainraise/internal/ports"
)

// OutboxWorker relays committed outbox records to the publisher. Records stay
// unpublished until a publish succeeds, so delivery is at least once. A record that
// fails maxRetries times is dead-lettered.
type OutboxWorker struct {
	logger     *slog.Logger
	outbox     ports.OutboxRepository
	publisher  ports.EventPublisher
	interval   time.Duration
	batchSize  int
	maxRetries int
	now        func() time.Time
}

func NewOutboxWorker(logger *slog.Logger, outbox ports.OutboxRepository, publisher ports.EventPublisher, interval time.Duration, batchSize, maxRetries int) *OutboxWorker {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &OutboxWorker{
		logger: logger, outbox: outbox, publisher: publisher, interval: interval, batchSize: batchSize, maxRetries: maxRetries,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (w *OutboxWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		if _, err := w.ProcessOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.ErrorContext(ctx, "outbox iteration failed",
				"module", "events.outbox_worker",
				"layer", "adapter",
				"operation", "process_once",
				"outcome", "failure",
				"error", err,
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessOnce publishes one batch and reports how many records were delivered.
// Once a record fails, later records with the same partition key wait for the
// next batch so one campaign's events reach the broker in order.
func (w *OutboxWorker) ProcessOnce(ctx context.Context) (int, error) {
	records, err := w.outbox.FetchUnpublished(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}
	blocked := make(map[string]struct{})
	published, failed, deadLettered := 0, 0, 0
	for _, rec := range records {
		if _, held := blocked[rec.PartitionKey]; held {
			continue
		}
		now := w.now()
		if rec.RetryCount >= w.maxRetries {
			deadLettered++
			if err := w.outbox.MarkDeadLettered(ctx, rec.OutboxID, "retry threshold reached before publish", now); err != nil {
				return published, err
			}
			continue
		}
		if err := w.publisher.Publish(ctx, rec.EventType, rec.Payload, rec.PartitionKey); err != nil {
			observability.RecordOutboxPublish(rec.EventType, false)
			failed++
			retries := rec.RetryCount + 1
			if retries >= w.maxRetries {
				deadLettered++
				w.logger.ErrorContext(ctx, "outbox record moved to dead letter",
					"module", "events.outbox_worker",
					"layer", "adapter",
					"operation", "publish",
					"outcome", "dead_lettered",
					"event_type", rec.EventType,
					"outbox_id", rec.OutboxID.String(),
					"retry_count", retries,
					"error", err,
				)
				if markErr := w.outbox.MarkDeadLettered(ctx, rec.OutboxID, err.Error(), now); markErr != nil {
					return published, markErr
				}
				continue
			}
			w.logger.WarnContext(ctx, "outbox publish failed; retry scheduled",
				"module", "events.outbox_worker",
				"layer", "adapter",
				"operation", "publish",
				"outcome", "failure",
				"event_type", rec.EventType,
				"outbox_id", rec.OutboxID.String(),
				"retry_count", retries,
				"error", err,
			)
			blocked[rec.PartitionKey] = struct{}{}
			if markErr := w.outbox.MarkFailed(ctx, rec.OutboxID, err.Error(), now); markErr != nil {
				return published, markErr
			}
			continue
		}
		observability.RecordOutboxPublish(rec.EventType, true)
		if err := w.outbox.MarkPublished(ctx, rec.OutboxID, now); err != nil {
			return published, err
		}
		published++
	}
	if len(records) > 0 {
		w.logger.InfoContext(ctx, "outbox batch processed",
			"module", "events.outbox_worker",
			"layer", "adapter",
			"operation", "process_once",
			"outcome", "success",
			"batch_size", len(records),
			"published_count", published,
			"failed_count", failed,
			"dead_lettered_count", deadLettered,
		)
	}
	return published, nil
}
