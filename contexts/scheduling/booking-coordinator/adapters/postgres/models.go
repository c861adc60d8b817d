package postgresadapter

import (
	"strings"
	"time"

	"gymcore/contexts/scheduling/booking-coordinator/domain/entities"

	"github.com/shopspring/decimal"
)

type paymentModel struct {
	ID                string          `gorm:"column:id;primaryKey"`
	ClassID           string          `gorm:"column:class_id;index;not null"`
	SlotID            string          `gorm:"column:slot_id"`
	PayerID           string          `gorm:"column:payer_id;index;not null"`
	Amount            decimal.Decimal `gorm:"column:amount;type:numeric(14,2);not null"`
	Currency          string          `gorm:"column:currency;not null"`
	ConfirmationToken string          `gorm:"column:confirmation_token"`
	IdempotencyKey    string          `gorm:"column:idempotency_key"`
	RequestHash       string          `gorm:"column:request_hash;not null"`
	CreatedAt         time.Time       `gorm:"column:created_at;index"`
}

func (paymentModel) TableName() string {
	return "booking_payments"
}

func paymentModelFromEntity(payment entities.Payment) paymentModel {
	return paymentModel{
		ID:                strings.TrimSpace(payment.PaymentID),
		ClassID:           payment.ClassID,
		SlotID:            payment.SlotID,
		PayerID:           payment.PayerID,
		Amount:            payment.Amount,
		Currency:          payment.Currency,
		ConfirmationToken: payment.ConfirmationToken,
		IdempotencyKey:    payment.IdempotencyKey,
		RequestHash:       payment.RequestHash,
		CreatedAt:         payment.CreatedAt.UTC(),
	}
}

func (m paymentModel) toEntity() entities.Payment {
	return entities.Payment{
		PaymentID:         m.ID,
		ClassID:           m.ClassID,
		SlotID:            m.SlotID,
		PayerID:           m.PayerID,
		Amount:            m.Amount,
		Currency:          m.Currency,
		ConfirmationToken: m.ConfirmationToken,
		IdempotencyKey:    m.IdempotencyKey,
		RequestHash:       m.RequestHash,
		CreatedAt:         m.CreatedAt.UTC(),
	}
}

type classOfferingModel struct {
	ID           string    `gorm:"column:id;primaryKey"`
	Name         string    `gorm:"column:name;not null"`
	BookingCount int64     `gorm:"column:booking_count;not null;default:0;index"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (classOfferingModel) TableName() string {
	return "booking_classes"
}

func classOfferingModelFromEntity(class entities.ClassOffering) classOfferingModel {
	return classOfferingModel{
		ID:           strings.TrimSpace(class.ClassID),
		Name:         class.Name,
		BookingCount: class.BookingCount,
		CreatedAt:    class.CreatedAt.UTC(),
		UpdatedAt:    class.UpdatedAt.UTC(),
	}
}

func (m classOfferingModel) toEntity(trainerIDs []string) entities.ClassOffering {
	return entities.ClassOffering{
		ClassID:      m.ID,
		Name:         m.Name,
		TrainerIDs:   trainerIDs,
		BookingCount: m.BookingCount,
		CreatedAt:    m.CreatedAt.UTC(),
		UpdatedAt:    m.UpdatedAt.UTC(),
	}
}

type classTrainerModel struct {
	ClassID   string    `gorm:"column:class_id;primaryKey"`
	TrainerID string    `gorm:"column:trainer_id;primaryKey"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (classTrainerModel) TableName() string {
	return "booking_class_trainers"
}

type classCreditModel struct {
	PaymentID string    `gorm:"column:payment_id;primaryKey"`
	ClassID   string    `gorm:"column:class_id;index;not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (classCreditModel) TableName() string {
	return "booking_class_credits"
}

type slotModel struct {
	ID              string    `gorm:"column:id;primaryKey"`
	ClassID         string    `gorm:"column:class_id;index"`
	TrainerID       string    `gorm:"column:trainer_id;not null"`
	Status          string    `gorm:"column:status;not null"`
	BookedBy        string    `gorm:"column:booked_by"`
	BookedByPayment string    `gorm:"column:booked_by_payment"`
	StartsAt        time.Time `gorm:"column:starts_at"`
	CreatedAt       time.Time `gorm:"column:created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at"`
}

func (slotModel) TableName() string {
	return "booking_slots"
}

func slotModelFromEntity(slot entities.Slot) slotModel {
	return slotModel{
		ID:              strings.TrimSpace(slot.SlotID),
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

func (m slotModel) toEntity() entities.Slot {
	return entities.Slot{
		SlotID:          m.ID,
		ClassID:         m.ClassID,
		TrainerID:       m.TrainerID,
		Status:          entities.SlotStatus(m.Status),
		BookedBy:        m.BookedBy,
		BookedByPayment: m.BookedByPayment,
		StartsAt:        m.StartsAt.UTC(),
		CreatedAt:       m.CreatedAt.UTC(),
		UpdatedAt:       m.UpdatedAt.UTC(),
	}
}

type settlementModel struct {
	PaymentID  string    `gorm:"column:payment_id;primaryKey"`
	ClassID    string    `gorm:"column:class_id"`
	SlotID     string    `gorm:"column:slot_id"`
	PayerID    string    `gorm:"column:payer_id"`
	ClassStep  string    `gorm:"column:class_step;not null"`
	ClassError string    `gorm:"column:class_error"`
	SlotStep   string    `gorm:"column:slot_step;not null"`
	SlotError  string    `gorm:"column:slot_error"`
	Attempts   int       `gorm:"column:attempts;not null;default:0"`
	CreatedAt  time.Time `gorm:"column:created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at;index"`
}

func (settlementModel) TableName() string {
	return "booking_settlements"
}

func settlementModelFromEntity(settlement entities.Settlement) settlementModel {
	return settlementModel{
		PaymentID:  settlement.PaymentID,
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

func (m settlementModel) toEntity() entities.Settlement {
	return entities.Settlement{
		PaymentID:  m.PaymentID,
		ClassID:    m.ClassID,
		SlotID:     m.SlotID,
		PayerID:    m.PayerID,
		ClassStep:  entities.StepStatus(m.ClassStep),
		ClassError: m.ClassError,
		SlotStep:   entities.StepStatus(m.SlotStep),
		SlotError:  m.SlotError,
		Attempts:   m.Attempts,
		CreatedAt:  m.CreatedAt.UTC(),
		UpdatedAt:  m.UpdatedAt.UTC(),
	}
}

type outboxModel struct {
	OutboxID     string     `gorm:"column:outbox_id;primaryKey"`
	EventType    string     `gorm:"column:event_type"`
	PartitionKey string     `gorm:"column:partition_key"`
	Payload      []byte     `gorm:"column:payload"`
	Status       string     `gorm:"column:status;index"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	PublishedAt  *time.Time `gorm:"column:published_at"`
}

func (outboxModel) TableName() string {
	return "booking_outbox"
}
