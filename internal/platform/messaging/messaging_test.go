package messaging

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	eventsv1 "gymcore/contracts/events/v1"

	amqp "github.com/rabbitmq/amqp091-go"
)

func testEnvelope(t *testing.T) eventsv1.Envelope {
	t.Helper()
	event, err := eventsv1.New("evt-1", "booking.payment.recorded", "booking-coordinator", "payment_id", "pay-1",
		time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC), map[string]any{"payment_id": "pay-1"})
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	return event
}

func TestBusDeliversToSubscribers(t *testing.T) {
	bus := NewBus(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan eventsv1.Envelope, 1)
	bus.Subscribe(ctx, "booking.payment.recorded", "test", func(_ context.Context, event eventsv1.Envelope) error {
		received <- event
		return nil
	})
	if err := bus.Publish(ctx, "booking.payment.recorded", testEnvelope(t)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	select {
	case event := <-received:
		if event.EventID != "evt-1" {
			t.Fatalf("unexpected event: %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatalf("event was not delivered")
	}
	if err := bus.Publish(ctx, "forum.vote.applied", testEnvelope(t)); err != nil {
		t.Fatalf("publish without subscribers failed: %v", err)
	}
}

func TestRabbitPublishingCarriesEnvelopeMetadata(t *testing.T) {
	event := testEnvelope(t)
	msg, err := publishing(event)
	if err != nil {
		t.Fatalf("publishing failed: %v", err)
	}
	if msg.MessageId != "evt-1" || msg.Type != "booking.payment.recorded" || msg.DeliveryMode != amqp.Persistent {
		t.Fatalf("unexpected message metadata: %+v", msg)
	}
	if msg.Headers["partition_key"] != "pay-1" {
		t.Fatalf("expected partition key header, got %v", msg.Headers)
	}
	var decoded eventsv1.Envelope
	if err := json.Unmarshal(msg.Body, &decoded); err != nil || decoded.EventID != "evt-1" {
		t.Fatalf("expected envelope body, got %+v err=%v", decoded, err)
	}
}
