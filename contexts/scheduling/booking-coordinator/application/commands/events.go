package commands

import (
	"time"

	eventsv1 "gymcore/contracts/events/v1"
	"gymcore/contexts/scheduling/booking-coordinator/ports"
)

const (
	eventPaymentRecorded     = "booking.payment.recorded"
	eventSlotConflict        = "booking.slot.conflict"
	eventSettlementCompleted = "booking.settlement.completed"
	eventClassCreated        = "booking.class.created"
	eventSlotCreated         = "booking.slot.created"
	eventSourceBooking       = "booking-coordinator"
)

func newPaymentEnvelope(
	eventID string,
	eventType string,
	paymentID string,
	occurredAt time.Time,
	data map[string]any,
) (ports.EventEnvelope, error) {
	return eventsv1.New(eventID, eventType, eventSourceBooking, "payment_id", paymentID, occurredAt, data)
}

func newCatalogEnvelope(
	eventID string,
	eventType string,
	classID string,
	occurredAt time.Time,
	data map[string]any,
) (ports.EventEnvelope, error) {
	return eventsv1.New(eventID, eventType, eventSourceBooking, "class_id", classID, occurredAt, data)
}
