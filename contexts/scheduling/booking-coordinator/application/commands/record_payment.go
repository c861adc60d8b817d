package commands

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	application "gymcore/contexts/scheduling/booking-coordinator/application"
	"gymcore/contexts/scheduling/booking-coordinator/domain/entities"
	domainerrors "gymcore/contexts/scheduling/booking-coordinator/domain/errors"
	"gymcore/contexts/scheduling/booking-coordinator/ports"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("gymcore/contexts/scheduling/booking-coordinator")

const defaultCurrency = "USD"

// RecordPaymentCommand is a confirmed charge reported by the payment
// authority. SlotID is optional.
type RecordPaymentCommand struct {
	PayerID           string
	ClassID           string
	SlotID            string
	Amount            decimal.Decimal
	Currency          string
	IdempotencyKey    string
	ConfirmationToken string
}

// RecordPaymentResult reports the durable payment plus the state of every
// downstream step. ClassErr and SlotErr carry this attempt's failures.
type RecordPaymentResult struct {
	Payment    entities.Payment
	Replayed   bool
	Settlement entities.Settlement
	ClassErr   error
	SlotErr    error
}

// PaymentUseCase applies one payment as an ordered saga: the payment insert
// is the durability point, then the class credit, then the slot booking. Each
// step is idempotent, so replays and the reconciler can re-drive it safely.
type PaymentUseCase struct {
	Payments             ports.PaymentRepository
	Classes              ports.ClassRepository
	Slots                ports.SlotRepository
	Settlements          ports.SettlementRepository
	Outbox               ports.OutboxWriter
	Clock                ports.Clock
	IDGen                ports.IDGenerator
	StoreTimeout         time.Duration
	StepRetryAttempts    int
	RetryInitialInterval time.Duration
	Logger               *slog.Logger
}

func (uc PaymentUseCase) RecordPayment(ctx context.Context, cmd RecordPaymentCommand) (RecordPaymentResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	cmd = normalizeRecordPaymentCommand(cmd)

	ctx, span := tracer.Start(ctx, "booking.record_payment")
	defer span.End()
	span.SetAttributes(
		attribute.String("class_id", cmd.ClassID),
		attribute.String("slot_id", cmd.SlotID),
	)

	logger.Info("payment record processing started",
		"event", "booking_payment_record_started",
		"module", "scheduling/booking-coordinator",
		"layer", "application",
		"payer_id", cmd.PayerID,
		"class_id", cmd.ClassID,
		"slot_id", cmd.SlotID,
	)
	if cmd.PayerID == "" || cmd.ClassID == "" || !cmd.Amount.IsPositive() || len(cmd.Currency) != 3 {
		logger.Warn("payment record validation failed",
			"event", "booking_payment_record_validation_failed",
			"module", "scheduling/booking-coordinator",
			"layer", "application",
			"payer_id", cmd.PayerID,
			"class_id", cmd.ClassID,
			"amount", cmd.Amount.String(),
		)
		span.SetStatus(codes.Error, "invalid input")
		return RecordPaymentResult{}, domainerrors.ErrInvalidPaymentInput
	}

	paymentID, err := uc.resolvePaymentID(ctx, cmd)
	if err != nil {
		return RecordPaymentResult{}, err
	}
	now := uc.now()
	payment := entities.Payment{
		PaymentID:         paymentID,
		ClassID:           cmd.ClassID,
		SlotID:            cmd.SlotID,
		PayerID:           cmd.PayerID,
		Amount:            cmd.Amount,
		Currency:          cmd.Currency,
		ConfirmationToken: cmd.ConfirmationToken,
		IdempotencyKey:    cmd.IdempotencyKey,
		RequestHash:       hashRecordPaymentCommand(cmd),
		CreatedAt:         now,
	}
	span.SetAttributes(attribute.String("payment_id", paymentID))

	var (
		stored  entities.Payment
		created bool
	)
	err = application.Retry(ctx, uc.retryPolicy(), func(ctx context.Context) error {
		var insertErr error
		stored, created, insertErr = uc.Payments.InsertPayment(ctx, payment)
		return insertErr
	})
	if err != nil {
		logger.Error("payment insert failed",
			"event", "booking_payment_insert_failed",
			"module", "scheduling/booking-coordinator",
			"layer", "application",
			"payment_id", paymentID,
			"error", err.Error(),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return RecordPaymentResult{}, err
	}
	if !created && stored.RequestHash != payment.RequestHash {
		logger.Warn("payment idempotency conflict",
			"event", "booking_payment_idempotency_conflict",
			"module", "scheduling/booking-coordinator",
			"layer", "application",
			"payment_id", paymentID,
			"payer_id", cmd.PayerID,
		)
		span.SetStatus(codes.Error, "idempotency conflict")
		return RecordPaymentResult{}, domainerrors.ErrIdempotencyConflict
	}
	if created {
		uc.appendEvent(ctx, logger, eventPaymentRecorded, stored, map[string]any{
			"payment_id":  stored.PaymentID,
			"class_id":    stored.ClassID,
			"slot_id":     stored.SlotID,
			"payer_id":    stored.PayerID,
			"amount":      stored.Amount.String(),
			"currency":    stored.Currency,
			"occurred_at": stored.CreatedAt.Format(time.RFC3339),
		})
	}

	// The payment is durable from here on. The remaining steps run even if the
	// caller goes away; each store call is still bounded by StoreTimeout.
	settlement, classErr, slotErr := uc.Settle(context.WithoutCancel(ctx), stored)
	span.SetAttributes(
		attribute.String("class_step", string(settlement.ClassStep)),
		attribute.String("slot_step", string(settlement.SlotStep)),
	)

	logger.Info("payment recorded",
		"event", "booking_payment_recorded",
		"module", "scheduling/booking-coordinator",
		"layer", "application",
		"payment_id", stored.PaymentID,
		"payer_id", stored.PayerID,
		"class_id", stored.ClassID,
		"slot_id", stored.SlotID,
		"replayed", !created,
		"class_step", string(settlement.ClassStep),
		"slot_step", string(settlement.SlotStep),
	)
	return RecordPaymentResult{
		Payment:    stored,
		Replayed:   !created,
		Settlement: settlement,
		ClassErr:   classErr,
		SlotErr:    slotErr,
	}, nil
}

// Resume re-drives the unfinished steps of an already recorded payment.
func (uc PaymentUseCase) Resume(ctx context.Context, paymentID string) (entities.Settlement, error) {
	var payment entities.Payment
	err := application.Retry(ctx, uc.retryPolicy(), func(ctx context.Context) error {
		var getErr error
		payment, getErr = uc.Payments.GetPayment(ctx, paymentID)
		return getErr
	})
	if err != nil {
		return entities.Settlement{}, err
	}
	settlement, _, _, err := uc.settle(ctx, payment)
	return settlement, err
}

// Settle loads or creates the payment's settlement record and applies every
// step that has not reached a terminal status. Step failures are recorded on
// the settlement and returned, never rolled back.
// A settlement that cannot be read is left untouched: both step errors carry
// the lookup failure and nothing is written.
func (uc PaymentUseCase) Settle(ctx context.Context, payment entities.Payment) (entities.Settlement, error, error) {
	settlement, classErr, slotErr, err := uc.settle(ctx, payment)
	if err != nil {
		return settlement, err, err
	}
	return settlement, classErr, slotErr
}

func (uc PaymentUseCase) settle(ctx context.Context, payment entities.Payment) (entities.Settlement, error, error, error) {
	logger := application.ResolveLogger(uc.Logger)
	now := uc.now()

	var settlement entities.Settlement
	err := application.Retry(ctx, uc.retryPolicy(), func(ctx context.Context) error {
		var getErr error
		settlement, getErr = uc.Settlements.GetSettlement(ctx, payment.PaymentID)
		return getErr
	})
	switch {
	case err == nil:
		if settlement.Complete() {
			return settlement, nil, nil, nil
		}
	case errors.Is(err, domainerrors.ErrNotFound):
		settlement = entities.NewSettlement(payment, now)
		uc.saveSettlement(ctx, logger, settlement)
	default:
		logger.Error("settlement lookup failed",
			"event", "booking_settlement_lookup_failed",
			"module", "scheduling/booking-coordinator",
			"layer", "application",
			"payment_id", payment.PaymentID,
			"error", err.Error(),
		)
		return entities.NewSettlement(payment, now), nil, nil, err
	}

	settlement.Attempts++
	var classErr, slotErr error
	if !settlement.ClassStep.Terminal() {
		classErr = uc.applyClassStep(ctx, logger, &settlement, payment, now)
	}
	if !settlement.SlotStep.Terminal() {
		slotErr = uc.applySlotStep(ctx, logger, &settlement, payment, now)
	}
	settlement.UpdatedAt = now
	uc.saveSettlement(ctx, logger, settlement)

	if settlement.Complete() {
		uc.appendEvent(ctx, logger, eventSettlementCompleted, payment, map[string]any{
			"payment_id":  payment.PaymentID,
			"class_id":    payment.ClassID,
			"slot_id":     payment.SlotID,
			"payer_id":    payment.PayerID,
			"class_step":  string(settlement.ClassStep),
			"slot_step":   string(settlement.SlotStep),
			"attempts":    settlement.Attempts,
			"occurred_at": now.Format(time.RFC3339),
		})
	}
	return settlement, classErr, slotErr, nil
}

func (uc PaymentUseCase) applyClassStep(
	ctx context.Context,
	logger *slog.Logger,
	settlement *entities.Settlement,
	payment entities.Payment,
	now time.Time,
) error {
	var credited bool
	err := application.Retry(ctx, uc.retryPolicy(), func(ctx context.Context) error {
		var creditErr error
		credited, creditErr = uc.Classes.CreditBooking(ctx, payment.ClassID, payment.PaymentID, now)
		return creditErr
	})
	if err != nil {
		settlement.ClassStep = entities.StepFailed
		settlement.ClassError = err.Error()
		logger.Warn("class booking credit failed",
			"event", "booking_class_credit_failed",
			"module", "scheduling/booking-coordinator",
			"layer", "application",
			"payment_id", payment.PaymentID,
			"class_id", payment.ClassID,
			"error", err.Error(),
		)
		return err
	}
	settlement.ClassStep = entities.StepApplied
	settlement.ClassError = ""
	logger.Info("class booking credited",
		"event", "booking_class_credited",
		"module", "scheduling/booking-coordinator",
		"layer", "application",
		"payment_id", payment.PaymentID,
		"class_id", payment.ClassID,
		"already_credited", !credited,
	)
	return nil
}

func (uc PaymentUseCase) applySlotStep(
	ctx context.Context,
	logger *slog.Logger,
	settlement *entities.Settlement,
	payment entities.Payment,
	now time.Time,
) error {
	if payment.SlotID == "" {
		settlement.SlotStep = entities.StepSkipped
		return nil
	}
	var booking ports.SlotBooking
	err := application.Retry(ctx, uc.retryPolicy(), func(ctx context.Context) error {
		var bookErr error
		booking, bookErr = uc.Slots.BookSlot(ctx, payment.SlotID, payment.PayerID, payment.PaymentID, now)
		return bookErr
	})
	switch {
	case err == nil && booking.Slot.BookedByPayment == payment.PaymentID:
		settlement.SlotStep = entities.StepApplied
		settlement.SlotError = ""
	case err == nil:
		settlement.SlotStep = entities.StepNoop
		settlement.SlotError = ""
	case errors.Is(err, domainerrors.ErrSlotAlreadyBooked):
		settlement.SlotStep = entities.StepConflict
		settlement.SlotError = err.Error()
		uc.appendEvent(ctx, logger, eventSlotConflict, payment, map[string]any{
			"payment_id":  payment.PaymentID,
			"slot_id":     payment.SlotID,
			"payer_id":    payment.PayerID,
			"occurred_at": now.Format(time.RFC3339),
		})
	default:
		settlement.SlotStep = entities.StepFailed
		settlement.SlotError = err.Error()
	}
	if err != nil {
		logger.Warn("slot booking step did not apply",
			"event", "booking_slot_step_rejected",
			"module", "scheduling/booking-coordinator",
			"layer", "application",
			"payment_id", payment.PaymentID,
			"slot_id", payment.SlotID,
			"slot_step", string(settlement.SlotStep),
			"error", err.Error(),
		)
		return err
	}
	logger.Info("slot booked",
		"event", "booking_slot_booked",
		"module", "scheduling/booking-coordinator",
		"layer", "application",
		"payment_id", payment.PaymentID,
		"slot_id", payment.SlotID,
		"slot_step", string(settlement.SlotStep),
	)
	return nil
}

func (uc PaymentUseCase) saveSettlement(ctx context.Context, logger *slog.Logger, settlement entities.Settlement) {
	err := application.Retry(ctx, uc.retryPolicy(), func(ctx context.Context) error {
		return uc.Settlements.SaveSettlement(ctx, settlement)
	})
	if err != nil {
		// Orphan detection in the reconciler picks up payments whose
		// settlement never got written.
		logger.Error("settlement save failed",
			"event", "booking_settlement_save_failed",
			"module", "scheduling/booking-coordinator",
			"layer", "application",
			"payment_id", settlement.PaymentID,
			"error", err.Error(),
		)
	}
}

func (uc PaymentUseCase) appendEvent(
	ctx context.Context,
	logger *slog.Logger,
	eventType string,
	payment entities.Payment,
	data map[string]any,
) {
	if uc.Outbox == nil {
		return
	}
	err := func() error {
		eventID, err := uc.IDGen.NewID(ctx)
		if err != nil {
			return err
		}
		envelope, err := newPaymentEnvelope(eventID, eventType, payment.PaymentID, uc.now(), data)
		if err != nil {
			return err
		}
		return application.Retry(ctx, uc.retryPolicy(), func(ctx context.Context) error {
			return uc.Outbox.AppendOutbox(ctx, envelope)
		})
	}()
	if err != nil {
		logger.Error("booking event append failed",
			"event", "booking_outbox_append_failed",
			"module", "scheduling/booking-coordinator",
			"layer", "application",
			"payment_id", payment.PaymentID,
			"event_type", eventType,
			"error", err.Error(),
		)
	}
}

// resolvePaymentID derives a stable id so retries of the same charge land on
// the same payment row.
func (uc PaymentUseCase) resolvePaymentID(ctx context.Context, cmd RecordPaymentCommand) (string, error) {
	switch {
	case cmd.IdempotencyKey != "":
		return cmd.IdempotencyKey, nil
	case cmd.ConfirmationToken != "":
		return "charge:" + cmd.ConfirmationToken, nil
	default:
		return uc.IDGen.NewID(ctx)
	}
}

func (uc PaymentUseCase) retryPolicy() application.RetryPolicy {
	return application.RetryPolicy{
		Attempts:        uc.StepRetryAttempts,
		InitialInterval: uc.RetryInitialInterval,
		StoreTimeout:    uc.StoreTimeout,
	}
}

func (uc PaymentUseCase) now() time.Time {
	if uc.Clock != nil {
		return uc.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

func normalizeRecordPaymentCommand(cmd RecordPaymentCommand) RecordPaymentCommand {
	cmd.PayerID = strings.TrimSpace(cmd.PayerID)
	cmd.ClassID = strings.TrimSpace(cmd.ClassID)
	cmd.SlotID = strings.TrimSpace(cmd.SlotID)
	cmd.Currency = strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if cmd.Currency == "" {
		cmd.Currency = defaultCurrency
	}
	cmd.IdempotencyKey = strings.TrimSpace(cmd.IdempotencyKey)
	cmd.ConfirmationToken = strings.TrimSpace(cmd.ConfirmationToken)
	return cmd
}

func hashRecordPaymentCommand(cmd RecordPaymentCommand) string {
	payload := map[string]string{
		"payer_id":           cmd.PayerID,
		"class_id":           cmd.ClassID,
		"slot_id":            cmd.SlotID,
		"amount":             cmd.Amount.String(),
		"currency":           cmd.Currency,
		"confirmation_token": cmd.ConfirmationToken,
		"op":                 "record_payment",
	}
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
