package ports

import (
	"context"
	"time"

	eventsv1 "gymcore/contracts/events/v1"
	"gymcore/contexts/scheduling/booking-coordinator/domain/entities"
)

// PaymentRepository stores immutable payments keyed by payment id.
type PaymentRepository interface {
	// InsertPayment stores payment unless its id exists, in which case the
	// stored payment is returned with created=false.
	InsertPayment(ctx context.Context, payment entities.Payment) (stored entities.Payment, created bool, err error)
	GetPayment(ctx context.Context, paymentID string) (entities.Payment, error)
	// ListPaymentsWithoutSettlement finds payments whose settlement record was
	// never written, for example because the process died right after step 1.
	ListPaymentsWithoutSettlement(ctx context.Context, createdBefore time.Time, limit int) ([]entities.Payment, error)
}

type ClassRepository interface {
	CreateClass(ctx context.Context, class entities.ClassOffering) error
	GetClass(ctx context.Context, classID string) (entities.ClassOffering, error)
	AddTrainer(ctx context.Context, classID string, trainerID string, at time.Time) (entities.ClassOffering, error)
	// CreditBooking increments the booking count for paymentID exactly once,
	// atomically with recording that paymentID was counted.
	CreditBooking(ctx context.Context, classID string, paymentID string, at time.Time) (credited bool, err error)
}

type SlotBooking struct {
	Slot    entities.Slot
	Outcome entities.SlotBookingOutcome
}

type SlotRepository interface {
	CreateSlot(ctx context.Context, slot entities.Slot) error
	GetSlot(ctx context.Context, slotID string) (entities.Slot, error)
	// BookSlot moves the slot from active to booked guarded by the current
	// status, as one conditional update.
	BookSlot(ctx context.Context, slotID string, payerID string, paymentID string, at time.Time) (SlotBooking, error)
}

type SettlementRepository interface {
	SaveSettlement(ctx context.Context, settlement entities.Settlement) error
	GetSettlement(ctx context.Context, paymentID string) (entities.Settlement, error)
	ListIncompleteSettlements(ctx context.Context, updatedBefore time.Time, maxAttempts int, limit int) ([]entities.Settlement, error)
}

// InsightsReader serves the read-side rollups. AdminBalance must read the sum
// and the recent list from one consistent snapshot.
type InsightsReader interface {
	AdminBalance(ctx context.Context, recent int) (entities.Balance, error)
	FeaturedClasses(ctx context.Context, limit int) ([]entities.ClassOffering, error)
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}

type EventEnvelope = eventsv1.Envelope

type OutboxWriter interface {
	AppendOutbox(ctx context.Context, envelope EventEnvelope) error
}

type OutboxMessage struct {
	OutboxID     string
	EventType    string
	PartitionKey string
	Payload      []byte
	CreatedAt    time.Time
}

type OutboxRepository interface {
	ListPendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error
}

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event EventEnvelope) error
}
