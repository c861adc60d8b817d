package errors

import (
	"errors"
	"fmt"
)

// Category sentinels shared by every booking error.
var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("conflict")
	ErrTransient = errors.New("transient store failure")
	ErrInvalid   = errors.New("invalid input")
)

var (
	ErrInvalidPaymentInput = fmt.Errorf("payment: %w", ErrInvalid)
	ErrInvalidClassInput   = fmt.Errorf("class offering: %w", ErrInvalid)
	ErrInvalidSlotInput    = fmt.Errorf("slot: %w", ErrInvalid)
	ErrPaymentNotFound     = fmt.Errorf("payment %w", ErrNotFound)
	ErrClassNotFound       = fmt.Errorf("class offering %w", ErrNotFound)
	ErrSlotNotFound        = fmt.Errorf("slot %w", ErrNotFound)
	ErrSettlementNotFound  = fmt.Errorf("settlement %w", ErrNotFound)
	ErrSlotAlreadyBooked   = fmt.Errorf("slot already booked by another member: %w", ErrConflict)
	ErrClassExists         = fmt.Errorf("class offering already exists: %w", ErrConflict)
	ErrSlotExists          = fmt.Errorf("slot already exists: %w", ErrConflict)
	ErrIdempotencyConflict = fmt.Errorf("idempotency key reused with a different payment: %w", ErrConflict)
	ErrOutboxConflict      = fmt.Errorf("outbox event id reused with different payload: %w", ErrConflict)
)

// Transient marks err as retryable while keeping the cause inspectable.
func Transient(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// IsCategorized reports whether err already belongs to one of the four
// categories.
func IsCategorized(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrTransient) ||
		errors.Is(err, ErrInvalid)
}
