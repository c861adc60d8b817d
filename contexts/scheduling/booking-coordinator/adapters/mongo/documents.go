package mongoadapter

import (
	"time"

	"gymcore/contexts/scheduling/booking-coordinator/domain/entities"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type paymentDocument struct {
	ID                string          `bson:"_id"`
	ClassID           string          `bson:"classId"`
	SlotID            string          `bson:"slotId,omitempty"`
	PayerID           string          `bson:"payerId"`
	Amount            bson.Decimal128 `bson:"amount"`
	Currency          string          `bson:"currency"`
	ConfirmationToken string          `bson:"confirmationToken,omitempty"`
	IdempotencyKey    string          `bson:"idempotencyKey,omitempty"`
	RequestHash       string          `bson:"requestHash"`
	CreatedAt         time.Time       `bson:"createdAt"`
}

func paymentDocumentFromEntity(payment entities.Payment) (paymentDocument, error) {
	amount, err := bson.ParseDecimal128(payment.Amount.String())
	if err != nil {
		return paymentDocument{}, err
	}
	return paymentDocument{
		ID:                payment.PaymentID,
		ClassID:           payment.ClassID,
		SlotID:            payment.SlotID,
		PayerID:           payment.PayerID,
		Amount:            amount,
		Currency:          payment.Currency,
		ConfirmationToken: payment.ConfirmationToken,
		IdempotencyKey:    payment.IdempotencyKey,
		RequestHash:       payment.RequestHash,
		CreatedAt:         payment.CreatedAt.UTC(),
	}, nil
}

func (d paymentDocument) toEntity() (entities.Payment, error) {
	amount, err := decimal.NewFromString(d.Amount.String())
	if err != nil {
		return entities.Payment{}, err
	}
	return entities.Payment{
		PaymentID:         d.ID,
		ClassID:           d.ClassID,
		SlotID:            d.SlotID,
		PayerID:           d.PayerID,
		Amount:            amount,
		Currency:          d.Currency,
		ConfirmationToken: d.ConfirmationToken,
		IdempotencyKey:    d.IdempotencyKey,
		RequestHash:       d.RequestHash,
		CreatedAt:         d.CreatedAt.UTC(),
	}, nil
}

func paymentsFromDocuments(docs []paymentDocument) ([]entities.Payment, error) {
	items := make([]entities.Payment, 0, len(docs))
	for _, doc := range docs {
		payment, err := doc.toEntity()
		if err != nil {
			return nil, err
		}
		items = append(items, payment)
	}
	return items, nil
}

type classDocument struct {
	ID               string    `bson:"_id"`
	Name             string    `bson:"name"`
	TrainerIDs       []string  `bson:"trainerIds"`
	BookingCount     int64     `bson:"bookingCount"`
	CreditedPayments []string  `bson:"creditedPayments"`
	CreatedAt        time.Time `bson:"createdAt"`
	UpdatedAt        time.Time `bson:"updatedAt"`
}

func classDocumentFromEntity(class entities.ClassOffering) classDocument {
	trainers := class.TrainerIDs
	if trainers == nil {
		trainers = []string{}
	}
	credited := class.CreditedPayments
	if credited == nil {
		credited = []string{}
	}
	return classDocument{
		ID:               class.ClassID,
		Name:             class.Name,
		TrainerIDs:       trainers,
		BookingCount:     class.BookingCount,
		CreditedPayments: credited,
		CreatedAt:        class.CreatedAt.UTC(),
		UpdatedAt:        class.UpdatedAt.UTC(),
	}
}

func (d classDocument) toEntity() entities.ClassOffering {
	return entities.ClassOffering{
		ClassID:          d.ID,
		Name:             d.Name,
		TrainerIDs:       d.TrainerIDs,
		BookingCount:     d.BookingCount,
		CreditedPayments: d.CreditedPayments,
		CreatedAt:        d.CreatedAt.UTC(),
		UpdatedAt:        d.UpdatedAt.UTC(),
	}
}

type slotDocument struct {
	ID              string    `bson:"_id"`
	ClassID         string    `bson:"classId"`
	TrainerID       string    `bson:"trainerId"`
	Status          string    `bson:"status"`
	BookedBy        string    `bson:"bookedBy,omitempty"`
	BookedByPayment string    `bson:"bookedByPayment,omitempty"`
	StartsAt        time.Time `bson:"startsAt"`
	CreatedAt       time.Time `bson:"createdAt"`
	UpdatedAt       time.Time `bson:"updatedAt"`
}

func slotDocumentFromEntity(slot entities.Slot) slotDocument {
	return slotDocument{
		ID:              slot.SlotID,
		ClassID:         slot.ClassID,
		TrainerID:       slot.TrainerID,
		Status:          string(slot.Status),
		BookedBy:        slot.BookedBy,
		BookedByPayment: slot.BookedByPayment,
		StartsAt:        slot.StartsAt.UTC(),
		CreatedAt:       slot.CreatedAt.UTC(),
		UpdatedAt:       slot.UpdatedAt.UTC(),
	}
}

func (d slotDocument) toEntity() entities.Slot {
	return entities.Slot{
		SlotID:          d.ID,
		ClassID:         d.ClassID,
		TrainerID:       d.TrainerID,
		Status:          entities.SlotStatus(d.Status),
		BookedBy:        d.BookedBy,
		BookedByPayment: d.BookedByPayment,
		StartsAt:        d.StartsAt.UTC(),
		CreatedAt:       d.CreatedAt.UTC(),
		UpdatedAt:       d.UpdatedAt.UTC(),
	}
}

type settlementDocument struct {
	ID         string    `bson:"_id"`
	ClassID    string    `bson:"classId"`
	SlotID     string    `bson:"slotId,omitempty"`
	PayerID    string    `bson:"payerId"`
	ClassStep  string    `bson:"classStep"`
	ClassError string    `bson:"classError,omitempty"`
	SlotStep   string    `bson:"slotStep"`
	SlotError  string    `bson:"slotError,omitempty"`
	Attempts   int       `bson:"attempts"`
	CreatedAt  time.Time `bson:"createdAt"`
	UpdatedAt  time.Time `bson:"updatedAt"`
}

func settlementDocumentFromEntity(settlement entities.Settlement) settlementDocument {
	return settlementDocument{
		ID:         settlement.PaymentID,
		ClassID:    settlement.ClassID,
		SlotID:     settlement.SlotID,
		PayerID:    settlement.PayerID,
		ClassStep:  string(settlement.ClassStep),
		ClassError: settlement.ClassError,
		SlotStep:   string(settlement.SlotStep),
		SlotError:  settlement.SlotError,
		Attempts:   settlement.Attempts,
		CreatedAt:  settlement.CreatedAt.UTC(),
		UpdatedAt:  settlement.UpdatedAt.UTC(),
	}
}

func (d settlementDocument) toEntity() entities.Settlement {
	return entities.Settlement{
		PaymentID:  d.ID,
		ClassID:    d.ClassID,
		SlotID:     d.SlotID,
		PayerID:    d.PayerID,
		ClassStep:  entities.StepStatus(d.ClassStep),
		ClassError: d.ClassError,
		SlotStep:   entities.StepStatus(d.SlotStep),
		SlotError:  d.SlotError,
		Attempts:   d.Attempts,
		CreatedAt:  d.CreatedAt.UTC(),
		UpdatedAt:  d.UpdatedAt.UTC(),
	}
}

type outboxDocument struct {
	ID           string     `bson:"_id"`
	EventType    string     `bson:"eventType"`
	PartitionKey string     `bson:"partitionKey"`
	Payload      []byte     `bson:"payload"`
	Status       string     `bson:"status"`
	CreatedAt    time.Time  `bson:"createdAt"`
	PublishedAt  *time.Time `bson:"publishedAt,omitempty"`
}
