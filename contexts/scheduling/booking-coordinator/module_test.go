package bookingcoordinator

import (
	"context"
	"errors"
	"testing"

	domainerrors "gymcore/contexts/scheduling/booking-coordinator/domain/errors"
	httptransport "gymcore/contexts/scheduling/booking-coordinator/transport/http"
)

func TestBookingCoordinatorPaymentFlow(t *testing.T) {
	module := NewInMemoryModule(nil)
	ctx := context.Background()

	class, err := module.Handler.CreateClassHandler(ctx, httptransport.CreateClassRequest{
		ClassID:    "class-yoga",
		Name:       "Evening Yoga",
		TrainerIDs: []string{"coach@gym.test", "coach@gym.test"},
	})
	if err != nil {
		t.Fatalf("create class failed: %v", err)
	}
	if len(class.TrainerIDs) != 1 {
		t.Fatalf("expected unique trainers, got %v", class.TrainerIDs)
	}
	slot, err := module.Handler.CreateSlotHandler(ctx, httptransport.CreateSlotRequest{
		ClassID:   class.ClassID,
		TrainerID: "coach@gym.test",
	})
	if err != nil {
		t.Fatalf("create slot failed: %v", err)
	}

	paid, err := module.Handler.RecordPaymentHandler(ctx, "x@gym.test", "key-1", httptransport.RecordPaymentRequest{
		ClassID: class.ClassID,
		SlotID:  slot.SlotID,
		Amount:  "30",
	})
	if err != nil {
		t.Fatalf("record payment failed: %v", err)
	}
	if paid.Payment.Amount != "30.00" || !paid.Settlement.Complete {
		t.Fatalf("unexpected payment response: %+v", paid)
	}

	if _, err := module.Handler.RecordPaymentHandler(ctx, "x@gym.test", "key-2", httptransport.RecordPaymentRequest{
		ClassID: class.ClassID,
		Amount:  "thirty",
	}); !errors.Is(err, domainerrors.ErrInvalid) {
		t.Fatalf("expected invalid amount, got %v", err)
	}

	settlement, err := module.Handler.GetSettlementHandler(ctx, paid.Payment.PaymentID)
	if err != nil || settlement.SlotStep.Status != "applied" {
		t.Fatalf("unexpected settlement: %+v err=%v", settlement, err)
	}
	balance, err := module.Handler.AdminBalanceHandler(ctx, 0)
	if err != nil || balance.Total != "30.00" || len(balance.RecentPayments) != 1 {
		t.Fatalf("unexpected balance: %+v err=%v", balance, err)
	}
	featured, err := module.Handler.FeaturedClassesHandler(ctx, 0)
	if err != nil || len(featured.Classes) != 1 || featured.Classes[0].BookingCount != 1 {
		t.Fatalf("unexpected featured classes: %+v err=%v", featured, err)
	}
	if _, err := module.Handler.GetSlotHandler(ctx, "missing"); !errors.Is(err, domainerrors.ErrSlotNotFound) {
		t.Fatalf("expected slot not found, got %v", err)
	}
}
