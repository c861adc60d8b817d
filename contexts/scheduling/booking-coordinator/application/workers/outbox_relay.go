package workers

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	application "gymcore/contexts/scheduling/booking-coordinator/application"
	"gymcore/contexts/scheduling/booking-coordinator/ports"
)

// OutboxRelay publishes persisted booking events to the event bus.
type OutboxRelay struct {
	Outbox       ports.OutboxRepository
	Publisher    ports.EventPublisher
	Clock        ports.Clock
	BatchSize    int
	StoreTimeout time.Duration
	Logger       *slog.Logger
}

// RunOnce publishes a bounded batch of pending rows and marks each one only
// after the publish succeeded. It stops at the first failure so the next cycle
// resumes from the same row.
func (r OutboxRelay) RunOnce(ctx context.Context) error {
	logger := application.ResolveLogger(r.Logger)
	limit := r.BatchSize
	if limit <= 0 {
		limit = 100
	}

	listCtx, cancel := application.StoreContext(ctx, r.StoreTimeout)
	pending, err := r.Outbox.ListPendingOutbox(listCtx, limit)
	cancel()
	if err != nil {
		logger.Error("booking outbox list failed",
			"event", "booking_outbox_list_failed",
			"module", "scheduling/booking-coordinator",
			"layer", "worker",
			"error", err.Error(),
		)
		return application.ClassifyStoreError(err)
	}
	if len(pending) == 0 {
		logger.Debug("booking outbox relay found no pending rows",
			"event", "booking_outbox_relay_noop",
			"module", "scheduling/booking-coordinator",
			"layer", "worker",
		)
		return nil
	}

	now := time.Now().UTC()
	if r.Clock != nil {
		now = r.Clock.Now().UTC()
	}

	for _, row := range pending {
		var event ports.EventEnvelope
		if err := json.Unmarshal(row.Payload, &event); err != nil {
			logger.Error("booking outbox decode failed",
				"event", "booking_outbox_decode_failed",
				"module", "scheduling/booking-coordinator",
				"layer", "worker",
				"outbox_id", row.OutboxID,
				"error", err.Error(),
			)
			return err
		}
		topic := event.EventType
		if topic == "" {
			topic = row.EventType
		}
		if err := r.Publisher.Publish(ctx, topic, event); err != nil {
			logger.Error("booking outbox publish failed",
				"event", "booking_outbox_publish_failed",
				"module", "scheduling/booking-coordinator",
				"layer", "worker",
				"outbox_id", row.OutboxID,
				"event_type", event.EventType,
				"error", err.Error(),
			)
			return err
		}
		markCtx, cancel := application.StoreContext(ctx, r.StoreTimeout)
		err := r.Outbox.MarkOutboxPublished(markCtx, row.OutboxID, now)
		cancel()
		if err != nil {
			logger.Error("booking outbox mark published failed",
				"event", "booking_outbox_mark_published_failed",
				"module", "scheduling/booking-coordinator",
				"layer", "worker",
				"outbox_id", row.OutboxID,
				"error", err.Error(),
			)
			return application.ClassifyStoreError(err)
		}
	}

	logger.Info("booking outbox relay cycle completed",
		"event", "booking_outbox_relay_completed",
		"module", "scheduling/booking-coordinator",
		"layer", "worker",
		"published_count", len(pending),
	)
	return nil
}
