package bootstrap

import (
	"context"
	"errors"
	"testing"
	"time"

	"gymcore/contexts/scheduling/booking-coordinator/adapters/memory"
	"gymcore/contexts/scheduling/booking-coordinator/application/commands"
	"gymcore/contexts/scheduling/booking-coordinator/domain/entities"
	eventsv1 "gymcore/contracts/events/v1"
	"gymcore/internal/platform/config"

	"github.com/shopspring/decimal"
)

type recordingPublisher struct {
	events chan eventsv1.Envelope
}

func (p recordingPublisher) Publish(_ context.Context, _ string, event eventsv1.Envelope) error {
	p.events <- event
	return nil
}

func TestNormalizeAddr(t *testing.T) {
	cases := map[string]string{"": ":8080", "9090": ":9090", ":7070": ":7070", " 80 ": ":80"}
	for in, want := range cases {
		if got := normalizeAddr(in); got != want {
			t.Fatalf("normalizeAddr(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOpenStoresRejectsUnknownBackend(t *testing.T) {
	_, err := openStores(context.Background(), config.Config{StoreBackend: "cassandra"}, nil)
	if err == nil {
		t.Fatalf("expected unsupported backend error")
	}
}

func TestEmbeddedWorkersRelayBookingEvents(t *testing.T) {
	cfg := config.Config{
		StoreBackend:             config.BackendMemory,
		StoreTimeout:             time.Second,
		StepRetryAttempts:        1,
		WorkerPollInterval:       10 * time.Millisecond,
		OutboxBatchSize:          10,
		EnableBookingOutboxRelay: true,
	}
	st, err := openStores(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("open stores: %v", err)
	}
	store := st.bookings.(*memory.Store)
	store.SetClass(entities.ClassOffering{ClassID: "class-1", Name: "Spin"})

	bookings := st.bookingModule(cfg, nil)
	_, err = bookings.Payments.RecordPayment(context.Background(), commands.RecordPaymentCommand{
		PayerID:        "member@gym.test",
		ClassID:        "class-1",
		Amount:         decimal.NewFromInt(20),
		IdempotencyKey: "pay-1",
	})
	if err != nil {
		t.Fatalf("record payment: %v", err)
	}

	pub := recordingPublisher{events: make(chan eventsv1.Envelope, 16)}
	workers := newWorkerSet(cfg, st, bookings, pub, nil)
	if len(workers.loops) != 1 {
		t.Fatalf("expected only the booking relay loop, got %d", len(workers.loops))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- workers.Run(ctx) }()

	seen := map[string]bool{}
	deadline := time.After(2 * time.Second)
	for len(seen) < 2 {
		select {
		case event := <-pub.events:
			seen[event.EventType] = true
		case <-deadline:
			t.Fatalf("timed out waiting for relayed events, saw %v", seen)
		}
	}
	cancel()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("worker set stopped with error: %v", err)
	}
	if pending := store.PendingEventTypes(); len(pending) != 0 {
		t.Fatalf("expected drained outbox, got %v", pending)
	}
}
