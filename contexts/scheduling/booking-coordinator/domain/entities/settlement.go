package entities

import "time"

type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepApplied  StepStatus = "applied"
	StepNoop     StepStatus = "noop"
	StepSkipped  StepStatus = "skipped"
	StepConflict StepStatus = "conflict"
	StepFailed   StepStatus = "failed"
)

// Terminal reports whether a step needs no further attempts.
func (s StepStatus) Terminal() bool {
	switch s {
	case StepApplied, StepNoop, StepSkipped, StepConflict:
		return true
	default:
		return false
	}
}

// Settlement tracks which downstream steps of a recorded payment have landed.
// It is keyed by payment id and drives reconciliation.
type Settlement struct {
	PaymentID  string
	ClassID    string
	SlotID     string
	PayerID    string
	ClassStep  StepStatus
	ClassError string
	SlotStep   StepStatus
	SlotError  string
	Attempts   int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func NewSettlement(payment Payment, at time.Time) Settlement {
	slotStep := StepPending
	if payment.SlotID == "" {
		slotStep = StepSkipped
	}
	return Settlement{
		PaymentID: payment.PaymentID,
		ClassID:   payment.ClassID,
		SlotID:    payment.SlotID,
		PayerID:   payment.PayerID,
		ClassStep: StepPending,
		SlotStep:  slotStep,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func (s Settlement) Complete() bool {
	return s.ClassStep.Terminal() && s.SlotStep.Terminal()
}
