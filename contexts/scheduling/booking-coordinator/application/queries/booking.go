package queries

import (
	"context"
	"strings"
	"time"

	application "gymcore/contexts/scheduling/booking-coordinator/application"
	"gymcore/contexts/scheduling/booking-coordinator/domain/entities"
	domainerrors "gymcore/contexts/scheduling/booking-coordinator/domain/errors"
	"gymcore/contexts/scheduling/booking-coordinator/ports"
)

type BookingQueryUseCase struct {
	Payments     ports.PaymentRepository
	Settlements  ports.SettlementRepository
	Classes      ports.ClassRepository
	Slots        ports.SlotRepository
	StoreTimeout time.Duration
}

func (uc BookingQueryUseCase) GetPayment(ctx context.Context, paymentID string) (entities.Payment, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return entities.Payment{}, domainerrors.ErrInvalidPaymentInput
	}
	storeCtx, cancel := application.StoreContext(ctx, uc.StoreTimeout)
	defer cancel()
	payment, err := uc.Payments.GetPayment(storeCtx, paymentID)
	if err != nil {
		return entities.Payment{}, application.ClassifyStoreError(err)
	}
	return payment, nil
}

func (uc BookingQueryUseCase) GetSettlement(ctx context.Context, paymentID string) (entities.Settlement, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return entities.Settlement{}, domainerrors.ErrInvalidPaymentInput
	}
	storeCtx, cancel := application.StoreContext(ctx, uc.StoreTimeout)
	defer cancel()
	settlement, err := uc.Settlements.GetSettlement(storeCtx, paymentID)
	if err != nil {
		return entities.Settlement{}, application.ClassifyStoreError(err)
	}
	return settlement, nil
}

func (uc BookingQueryUseCase) GetClass(ctx context.Context, classID string) (entities.ClassOffering, error) {
	classID = strings.TrimSpace(classID)
	if classID == "" {
		return entities.ClassOffering{}, domainerrors.ErrInvalidClassInput
	}
	storeCtx, cancel := application.StoreContext(ctx, uc.StoreTimeout)
	defer cancel()
	class, err := uc.Classes.GetClass(storeCtx, classID)
	if err != nil {
		return entities.ClassOffering{}, application.ClassifyStoreError(err)
	}
	return class, nil
}

func (uc BookingQueryUseCase) GetSlot(ctx context.Context, slotID string) (entities.Slot, error) {
	slotID = strings.TrimSpace(slotID)
	if slotID == "" {
		return entities.Slot{}, domainerrors.ErrInvalidSlotInput
	}
	storeCtx, cancel := application.StoreContext(ctx, uc.StoreTimeout)
	defer cancel()
	slot, err := uc.Slots.GetSlot(storeCtx, slotID)
	if err != nil {
		return entities.Slot{}, application.ClassifyStoreError(err)
	}
	return slot, nil
}
