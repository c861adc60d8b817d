package entities

import (
	"time"

	domainerrors "gymcore/contexts/scheduling/booking-coordinator/domain/errors"

	"github.com/shopspring/decimal"
)

// ClassOffering is a class members can pay for. BookingCount grows by exactly
// one per recorded payment; CreditedPayments is the set of payment ids already
// counted and lives in the same atomic unit as the counter.
type ClassOffering struct {
	ClassID          string
	Name             string
	TrainerIDs       []string
	BookingCount     int64
	CreditedPayments []string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (c ClassOffering) HasCredited(paymentID string) bool {
	for _, id := range c.CreditedPayments {
		if id == paymentID {
			return true
		}
	}
	return false
}

// Credit counts paymentID once. It reports false when the payment was already
// counted.
func (c *ClassOffering) Credit(paymentID string, at time.Time) bool {
	if c.HasCredited(paymentID) {
		return false
	}
	c.CreditedPayments = append(c.CreditedPayments, paymentID)
	c.BookingCount++
	c.UpdatedAt = at
	return true
}

// AddTrainer adds trainerID to the class unless it is already listed.
func (c *ClassOffering) AddTrainer(trainerID string, at time.Time) bool {
	for _, existing := range c.TrainerIDs {
		if existing == trainerID {
			return false
		}
	}
	c.TrainerIDs = append(c.TrainerIDs, trainerID)
	c.UpdatedAt = at
	return true
}

type SlotStatus string

const (
	SlotStatusActive SlotStatus = "active"
	SlotStatusBooked SlotStatus = "booked"
)

// Slot is a trainer's bookable time. It moves active -> booked at most once
// and BookedBy is never cleared.
type Slot struct {
	SlotID          string
	ClassID         string
	TrainerID       string
	Status          SlotStatus
	BookedBy        string
	BookedByPayment string
	StartsAt        time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type SlotBookingOutcome string

const (
	// SlotBookedNow means this call performed the active -> booked transition.
	SlotBookedNow SlotBookingOutcome = "booked"
	// SlotAlreadyHeld means the slot was already booked by the same payer.
	SlotAlreadyHeld SlotBookingOutcome = "already_held"
)

// Book applies the guarded transition. A slot booked by someone else yields
// ErrSlotAlreadyBooked.
func (s *Slot) Book(payerID string, paymentID string, at time.Time) (SlotBookingOutcome, error) {
	switch s.Status {
	case SlotStatusActive:
		s.Status = SlotStatusBooked
		s.BookedBy = payerID
		s.BookedByPayment = paymentID
		s.UpdatedAt = at
		return SlotBookedNow, nil
	case SlotStatusBooked:
		if s.BookedBy == payerID {
			return SlotAlreadyHeld, nil
		}
		return "", domainerrors.ErrSlotAlreadyBooked
	default:
		return "", domainerrors.ErrSlotAlreadyBooked
	}
}

// Payment is immutable once stored. It is the source of truth for class
// booking counts and the admin balance.
type Payment struct {
	PaymentID         string
	ClassID           string
	SlotID            string
	PayerID           string
	Amount            decimal.Decimal
	Currency          string
	ConfirmationToken string
	IdempotencyKey    string
	RequestHash       string
	CreatedAt         time.Time
}

// Balance is the admin rollup over every recorded payment.
type Balance struct {
	Total        decimal.Decimal
	PaymentCount int64
	Recent       []Payment
}
