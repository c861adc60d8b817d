package http

import "time"

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RecordPaymentRequest carries the amount as a decimal string so no precision
// is lost on the way in.
type RecordPaymentRequest struct {
	ClassID           string `json:"class_id"`
	SlotID            string `json:"slot_id,omitempty"`
	Amount            string `json:"amount"`
	Currency          string `json:"currency,omitempty"`
	ConfirmationToken string `json:"confirmation_token,omitempty"`
}

type PaymentResponse struct {
	PaymentID string    `json:"payment_id"`
	ClassID   string    `json:"class_id"`
	SlotID    string    `json:"slot_id,omitempty"`
	PayerID   string    `json:"payer_id"`
	Amount    string    `json:"amount"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
}

type StepResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type SettlementResponse struct {
	PaymentID string       `json:"payment_id"`
	ClassStep StepResponse `json:"class_step"`
	SlotStep  StepResponse `json:"slot_step"`
	Attempts  int          `json:"attempts"`
	Complete  bool         `json:"complete"`
	UpdatedAt time.Time    `json:"updated_at"`
}

type RecordPaymentResponse struct {
	Payment    PaymentResponse    `json:"payment"`
	Replayed   bool               `json:"replayed"`
	Settlement SettlementResponse `json:"settlement"`
}

type CreateClassRequest struct {
	ClassID    string   `json:"class_id,omitempty"`
	Name       string   `json:"name"`
	TrainerIDs []string `json:"trainer_ids,omitempty"`
}

type AddTrainerRequest struct {
	TrainerID string `json:"trainer_id"`
}

type ClassResponse struct {
	ClassID      string    `json:"class_id"`
	Name         string    `json:"name"`
	TrainerIDs   []string  `json:"trainer_ids"`
	BookingCount int64     `json:"booking_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type CreateSlotRequest struct {
	SlotID    string    `json:"slot_id,omitempty"`
	ClassID   string    `json:"class_id"`
	TrainerID string    `json:"trainer_id"`
	StartsAt  time.Time `json:"starts_at"`
}

type SlotResponse struct {
	SlotID    string    `json:"slot_id"`
	ClassID   string    `json:"class_id"`
	TrainerID string    `json:"trainer_id"`
	Status    string    `json:"status"`
	BookedBy  string    `json:"booked_by,omitempty"`
	StartsAt  time.Time `json:"starts_at"`
}

type AdminBalanceResponse struct {
	Total          string            `json:"total"`
	PaymentCount   int64             `json:"payment_count"`
	RecentPayments []PaymentResponse `json:"recent_payments"`
}

type FeaturedClassesResponse struct {
	Classes []ClassResponse `json:"classes"`
}
