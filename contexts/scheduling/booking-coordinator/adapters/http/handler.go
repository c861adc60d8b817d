package httpadapter

import (
	"context"
	"log/slog"
	"strings"

	"gymcore/contexts/scheduling/booking-coordinator/application/commands"
	"gymcore/contexts/scheduling/booking-coordinator/application/queries"
	"gymcore/contexts/scheduling/booking-coordinator/domain/entities"
	domainerrors "gymcore/contexts/scheduling/booking-coordinator/domain/errors"
	httptransport "gymcore/contexts/scheduling/booking-coordinator/transport/http"

	"github.com/shopspring/decimal"
)

type Handler struct {
	Payments commands.PaymentUseCase
	Catalog  commands.CatalogUseCase
	Bookings queries.BookingQueryUseCase
	Insights queries.InsightsQueryUseCase
	Logger   *slog.Logger
}

// @Summary Record class payment
// @Description Records a payment under its idempotency key, credits the class once and books the slot when it is still active.
// @Tags booking-coordinator
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param Idempotency-Key header string true "Client payment key"
// @Param request body httptransport.RecordPaymentRequest true "Payment"
// @Success 201 {object} httptransport.RecordPaymentResponse
// @Failure 400 {object} httptransport.ErrorResponse
// @Failure 401 {object} httptransport.ErrorResponse
// @Failure 404 {object} httptransport.ErrorResponse
// @Failure 409 {object} httptransport.ErrorResponse
// @Failure 503 {object} httptransport.ErrorResponse
// @Router /payments [post]
func (h Handler) RecordPaymentHandler(
	ctx context.Context,
	payerID string,
	idempotencyKey string,
	req httptransport.RecordPaymentRequest,
) (httptransport.RecordPaymentResponse, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		return httptransport.RecordPaymentResponse{}, domainerrors.ErrInvalidPaymentInput
	}
	result, err := h.Payments.RecordPayment(ctx, commands.RecordPaymentCommand{
		PayerID:           payerID,
		ClassID:           req.ClassID,
		SlotID:            req.SlotID,
		Amount:            amount,
		Currency:          req.Currency,
		IdempotencyKey:    idempotencyKey,
		ConfirmationToken: req.ConfirmationToken,
	})
	if err != nil {
		return httptransport.RecordPaymentResponse{}, err
	}
	return httptransport.RecordPaymentResponse{
		Payment:    mapPayment(result.Payment),
		Replayed:   result.Replayed,
		Settlement: mapSettlement(result.Settlement),
	}, nil
}

// @Summary Get payment
// @Description Returns one recorded payment.
// @Tags booking-coordinator
// @Accept json
// @Produce json
// @Param id path string true "Payment id"
// @Success 200 {object} httptransport.PaymentResponse
// @Failure 404 {object} httptransport.ErrorResponse
// @Failure 500 {object} httptransport.ErrorResponse
// @Router /payments/{id} [get]
func (h Handler) GetPaymentHandler(ctx context.Context, paymentID string) (httptransport.PaymentResponse, error) {
	payment, err := h.Bookings.GetPayment(ctx, paymentID)
	if err != nil {
		return httptransport.PaymentResponse{}, err
	}
	return mapPayment(payment), nil
}

// @Summary Get payment settlement
// @Description Returns the per-step settlement of a payment.
// @Tags booking-coordinator
// @Accept json
// @Produce json
// @Param id path string true "Payment id"
// @Success 200 {object} httptransport.SettlementResponse
// @Failure 404 {object} httptransport.ErrorResponse
// @Failure 500 {object} httptransport.ErrorResponse
// @Router /payments/{id}/settlement [get]
func (h Handler) GetSettlementHandler(ctx context.Context, paymentID string) (httptransport.SettlementResponse, error) {
	settlement, err := h.Bookings.GetSettlement(ctx, paymentID)
	if err != nil {
		return httptransport.SettlementResponse{}, err
	}
	return mapSettlement(settlement), nil
}

// @Summary Create class
// @Description Creates a class offering with an optional trainer set.
// @Tags booking-coordinator
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body httptransport.CreateClassRequest true "Class"
// @Success 201 {object} httptransport.ClassResponse
// @Failure 400 {object} httptransport.ErrorResponse
// @Failure 401 {object} httptransport.ErrorResponse
// @Failure 409 {object} httptransport.ErrorResponse
// @Failure 500 {object} httptransport.ErrorResponse
// @Router /classes [post]
func (h Handler) CreateClassHandler(ctx context.Context, req httptransport.CreateClassRequest) (httptransport.ClassResponse, error) {
	class, err := h.Catalog.CreateClass(ctx, commands.CreateClassCommand{
		ClassID:    req.ClassID,
		Name:       req.Name,
		TrainerIDs: req.TrainerIDs,
	})
	if err != nil {
		return httptransport.ClassResponse{}, err
	}
	return mapClass(class), nil
}

// @Summary Add class trainer
// @Description Adds a trainer to a class; a listed trainer is a no-op.
// @Tags booking-coordinator
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param class_id path string true "Class id"
// @Param request body httptransport.AddTrainerRequest true "Trainer"
// @Success 200 {object} httptransport.ClassResponse
// @Failure 400 {object} httptransport.ErrorResponse
// @Failure 401 {object} httptransport.ErrorResponse
// @Failure 404 {object} httptransport.ErrorResponse
// @Failure 500 {object} httptransport.ErrorResponse
// @Router /classes/{class_id}/trainers [post]
func (h Handler) AddTrainerHandler(
	ctx context.Context,
	classID string,
	req httptransport.AddTrainerRequest,
) (httptransport.ClassResponse, error) {
	class, err := h.Catalog.AddTrainer(ctx, commands.AddTrainerCommand{
		ClassID:   classID,
		TrainerID: req.TrainerID,
	})
	if err != nil {
		return httptransport.ClassResponse{}, err
	}
	return mapClass(class), nil
}

// @Summary Get class
// @Description Returns one class offering with its booking count.
// @Tags booking-coordinator
// @Accept json
// @Produce json
// @Param class_id path string true "Class id"
// @Success 200 {object} httptransport.ClassResponse
// @Failure 404 {object} httptransport.ErrorResponse
// @Failure 500 {object} httptransport.ErrorResponse
// @Router /classes/{class_id} [get]
func (h Handler) GetClassHandler(ctx context.Context, classID string) (httptransport.ClassResponse, error) {
	class, err := h.Bookings.GetClass(ctx, classID)
	if err != nil {
		return httptransport.ClassResponse{}, err
	}
	return mapClass(class), nil
}

// @Summary Create slot
// @Description Creates an active trainer slot for a class.
// @Tags booking-coordinator
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body httptransport.CreateSlotRequest true "Slot"
// @Success 201 {object} httptransport.SlotResponse
// @Failure 400 {object} httptransport.ErrorResponse
// @Failure 401 {object} httptransport.ErrorResponse
// @Failure 409 {object} httptransport.ErrorResponse
// @Failure 500 {object} httptransport.ErrorResponse
// @Router /slots [post]
func (h Handler) CreateSlotHandler(ctx context.Context, req httptransport.CreateSlotRequest) (httptransport.SlotResponse, error) {
	slot, err := h.Catalog.CreateSlot(ctx, commands.CreateSlotCommand{
		SlotID:    req.SlotID,
		ClassID:   req.ClassID,
		TrainerID: req.TrainerID,
		StartsAt:  req.StartsAt,
	})
	if err != nil {
		return httptransport.SlotResponse{}, err
	}
	return mapSlot(slot), nil
}

// @Summary Get slot
// @Description Returns one slot and who booked it.
// @Tags booking-coordinator
// @Accept json
// @Produce json
// @Param slot_id path string true "Slot id"
// @Success 200 {object} httptransport.SlotResponse
// @Failure 404 {object} httptransport.ErrorResponse
// @Failure 500 {object} httptransport.ErrorResponse
// @Router /slots/{slot_id} [get]
func (h Handler) GetSlotHandler(ctx context.Context, slotID string) (httptransport.SlotResponse, error) {
	slot, err := h.Bookings.GetSlot(ctx, slotID)
	if err != nil {
		return httptransport.SlotResponse{}, err
	}
	return mapSlot(slot), nil
}

// @Summary Admin balance
// @Description Returns the payment total, count and most recent payments from one read.
// @Tags booking-coordinator
// @Accept json
// @Produce json
// @Param recent query int false "Recent payments (default 6, max 50)"
// @Success 200 {object} httptransport.AdminBalanceResponse
// @Failure 400 {object} httptransport.ErrorResponse
// @Failure 500 {object} httptransport.ErrorResponse
// @Router /admin/balance [get]
func (h Handler) AdminBalanceHandler(ctx context.Context, recent int) (httptransport.AdminBalanceResponse, error) {
	balance, err := h.Insights.AdminBalance(ctx, recent)
	if err != nil {
		return httptransport.AdminBalanceResponse{}, err
	}
	resp := httptransport.AdminBalanceResponse{
		Total:          balance.Total.StringFixed(2),
		PaymentCount:   balance.PaymentCount,
		RecentPayments: make([]httptransport.PaymentResponse, 0, len(balance.Recent)),
	}
	for _, payment := range balance.Recent {
		resp.RecentPayments = append(resp.RecentPayments, mapPayment(payment))
	}
	return resp, nil
}

// @Summary Featured classes
// @Description Returns classes ordered by booking count.
// @Tags booking-coordinator
// @Accept json
// @Produce json
// @Param limit query int false "Page size (default 6, max 50)"
// @Success 200 {object} httptransport.FeaturedClassesResponse
// @Failure 400 {object} httptransport.ErrorResponse
// @Failure 500 {object} httptransport.ErrorResponse
// @Router /classes/featured [get]
func (h Handler) FeaturedClassesHandler(ctx context.Context, limit int) (httptransport.FeaturedClassesResponse, error) {
	classes, err := h.Insights.FeaturedClasses(ctx, limit)
	if err != nil {
		return httptransport.FeaturedClassesResponse{}, err
	}
	resp := httptransport.FeaturedClassesResponse{
		Classes: make([]httptransport.ClassResponse, 0, len(classes)),
	}
	for _, class := range classes {
		resp.Classes = append(resp.Classes, mapClass(class))
	}
	return resp, nil
}

func mapPayment(payment entities.Payment) httptransport.PaymentResponse {
	return httptransport.PaymentResponse{
		PaymentID: payment.PaymentID,
		ClassID:   payment.ClassID,
		SlotID:    payment.SlotID,
		PayerID:   payment.PayerID,
		Amount:    payment.Amount.StringFixed(2),
		Currency:  payment.Currency,
		CreatedAt: payment.CreatedAt,
	}
}

func mapSettlement(settlement entities.Settlement) httptransport.SettlementResponse {
	return httptransport.SettlementResponse{
		PaymentID: settlement.PaymentID,
		ClassStep: httptransport.StepResponse{Status: string(settlement.ClassStep), Error: settlement.ClassError},
		SlotStep:  httptransport.StepResponse{Status: string(settlement.SlotStep), Error: settlement.SlotError},
		Attempts:  settlement.Attempts,
		Complete:  settlement.Complete(),
		UpdatedAt: settlement.UpdatedAt,
	}
}

func mapClass(class entities.ClassOffering) httptransport.ClassResponse {
	trainers := class.TrainerIDs
	if trainers == nil {
		trainers = []string{}
	}
	return httptransport.ClassResponse{
		ClassID:      class.ClassID,
		Name:         class.Name,
		TrainerIDs:   trainers,
		BookingCount: class.BookingCount,
		CreatedAt:    class.CreatedAt,
		UpdatedAt:    class.UpdatedAt,
	}
}

func mapSlot(slot entities.Slot) httptransport.SlotResponse {
	return httptransport.SlotResponse{
		SlotID:    slot.SlotID,
		ClassID:   slot.ClassID,
		TrainerID: slot.TrainerID,
		Status:    string(slot.Status),
		BookedBy:  slot.BookedBy,
		StartsAt:  slot.StartsAt,
	}
}
