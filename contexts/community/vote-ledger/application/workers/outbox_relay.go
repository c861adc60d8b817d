package workers

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	application "gymcore/contexts/community/vote-ledger/application"
	"gymcore/contexts/community/vote-ledger/ports"
)

// OutboxRelay publishes persisted ledger events to the event bus.
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
		logger.Error("vote ledger outbox list failed",
			"event", "vote_ledger_outbox_list_failed",
			"module", "community/vote-ledger",
			"layer", "worker",
			"error", err.Error(),
		)
		return application.ClassifyStoreError(err)
	}
	if len(pending) == 0 {
		logger.Debug("vote ledger outbox relay found no pending rows",
			"event", "vote_ledger_outbox_relay_noop",
			"module", "community/vote-ledger",
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
			logger.Error("vote ledger outbox decode failed",
				"event", "vote_ledger_outbox_decode_failed",
				"module", "community/vote-ledger",
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
			logger.Error("vote ledger outbox publish failed",
				"event", "vote_ledger_outbox_publish_failed",
				"module", "community/vote-ledger",
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
			logger.Error("vote ledger outbox mark published failed",
				"event", "vote_ledger_outbox_mark_published_failed",
				"module", "community/vote-ledger",
				"layer", "worker",
				"outbox_id", row.OutboxID,
				"error", err.Error(),
			)
			return application.ClassifyStoreError(err)
		}
	}

	logger.Info("vote ledger outbox relay cycle completed",
		"event", "vote_ledger_outbox_relay_completed",
		"module", "community/vote-ledger",
		"layer", "worker",
		"published_count", len(pending),
	)
	return nil
}
