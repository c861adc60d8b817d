package postgresadapter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"gymcore/contexts/scheduling/booking-coordinator/domain/entities"
	domainerrors "gymcore/contexts/scheduling/booking-coordinator/domain/errors"
	"gymcore/internal/platform/db/pgtest"

	"github.com/shopspring/decimal"
)

func TestPostgresBookingStepsIntegration(t *testing.T) {
	repo := NewRepository(pgtest.Start(t), nil)
	ctx := context.Background()
	if err := repo.AutoMigrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	now := time.Now().UTC()

	if err := repo.CreateClass(ctx, entities.ClassOffering{ClassID: "class-1", Name: "Spin", TrainerIDs: []string{"t@gym.test"}, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("create class: %v", err)
	}
	if err := repo.CreateClass(ctx, entities.ClassOffering{ClassID: "class-1", Name: "Spin"}); !errors.Is(err, domainerrors.ErrConflict) {
		t.Fatalf("expected duplicate class conflict, got %v", err)
	}
	if err := repo.CreateSlot(ctx, entities.Slot{SlotID: "slot-1", ClassID: "class-1", TrainerID: "t@gym.test", Status: entities.SlotStatusActive, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("create slot: %v", err)
	}

	payment := entities.Payment{
		PaymentID:   "pay-1",
		ClassID:     "class-1",
		SlotID:      "slot-1",
		PayerID:     "x@gym.test",
		Amount:      decimal.RequireFromString("19.99"),
		Currency:    "USD",
		RequestHash: "hash-1",
		CreatedAt:   now,
	}
	if _, created, err := repo.InsertPayment(ctx, payment); err != nil || !created {
		t.Fatalf("expected created payment, got created=%v err=%v", created, err)
	}
	stored, created, err := repo.InsertPayment(ctx, payment)
	if err != nil || created || stored.RequestHash != "hash-1" || !stored.Amount.Equal(payment.Amount) {
		t.Fatalf("expected existing payment on replay, got %+v created=%v err=%v", stored, created, err)
	}

	for i, want := range []bool{true, false} {
		credited, err := repo.CreditBooking(ctx, "class-1", "pay-1", now)
		if err != nil || credited != want {
			t.Fatalf("credit %d: expected credited=%v, got %v err=%v", i, want, credited, err)
		}
	}
	if _, err := repo.CreditBooking(ctx, "missing", "pay-2", now); !errors.Is(err, domainerrors.ErrNotFound) {
		t.Fatalf("expected class not found, got %v", err)
	}
	class, err := repo.GetClass(ctx, "class-1")
	if err != nil || class.BookingCount != 1 {
		t.Fatalf("unexpected class after credit: %+v err=%v", class, err)
	}
	if len(class.CreditedPayments) != 0 {
		t.Fatalf("expected class reads to skip credit rows, got %v", class.CreditedPayments)
	}
	if credited, err := repo.CreditBooking(ctx, "class-1", "pay-1", now); err != nil || credited {
		t.Fatalf("expected re-credit after read to be a no-op, got credited=%v err=%v", credited, err)
	}
	featured, err := repo.FeaturedClasses(ctx, 5)
	if err != nil || len(featured) != 1 || featured[0].BookingCount != 1 {
		t.Fatalf("expected single-count featured class, got %+v err=%v", featured, err)
	}

	booking, err := repo.BookSlot(ctx, "slot-1", "x@gym.test", "pay-1", now)
	if err != nil || booking.Outcome != entities.SlotBookedNow {
		t.Fatalf("expected booked slot, got %+v err=%v", booking, err)
	}
	held, err := repo.BookSlot(ctx, "slot-1", "x@gym.test", "pay-1", now)
	if err != nil || held.Outcome != entities.SlotAlreadyHeld || held.Slot.BookedByPayment != "pay-1" {
		t.Fatalf("expected already held, got %+v err=%v", held, err)
	}
	if _, err := repo.BookSlot(ctx, "slot-1", "y@gym.test", "pay-2", now); !errors.Is(err, domainerrors.ErrSlotAlreadyBooked) {
		t.Fatalf("expected slot conflict, got %v", err)
	}

	orphans, err := repo.ListPaymentsWithoutSettlement(ctx, now.Add(time.Minute), 10)
	if err != nil || len(orphans) != 1 {
		t.Fatalf("expected one orphan payment, got %d err=%v", len(orphans), err)
	}
	settlement := entities.NewSettlement(payment, now)
	settlement.ClassStep = entities.StepApplied
	if err := repo.SaveSettlement(ctx, settlement); err != nil {
		t.Fatalf("save settlement: %v", err)
	}
	incomplete, err := repo.ListIncompleteSettlements(ctx, now.Add(time.Minute), 10, 10)
	if err != nil || len(incomplete) != 1 {
		t.Fatalf("expected one incomplete settlement, got %d err=%v", len(incomplete), err)
	}
	settlement.SlotStep = entities.StepApplied
	if err := repo.SaveSettlement(ctx, settlement); err != nil {
		t.Fatalf("update settlement: %v", err)
	}
	incomplete, err = repo.ListIncompleteSettlements(ctx, now.Add(time.Minute), 10, 10)
	if err != nil || len(incomplete) != 0 {
		t.Fatalf("expected no incomplete settlements, got %d err=%v", len(incomplete), err)
	}

	balance, err := repo.AdminBalance(ctx, 6)
	if err != nil || !balance.Total.Equal(decimal.RequireFromString("19.99")) || len(balance.Recent) != 1 {
		t.Fatalf("unexpected balance: %+v err=%v", balance, err)
	}
}

func TestPostgresConcurrentSlotBookingIntegration(t *testing.T) {
	repo := NewRepository(pgtest.Start(t), nil)
	ctx := context.Background()
	if err := repo.AutoMigrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	now := time.Now().UTC()
	if err := repo.CreateSlot(ctx, entities.Slot{SlotID: "slot-hot", ClassID: "class-1", TrainerID: "t@gym.test", Status: entities.SlotStatusActive}); err != nil {
		t.Fatalf("create slot: %v", err)
	}

	const contenders = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		booked    int
		conflicts int
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.BookSlot(ctx, "slot-hot", fmt.Sprintf("member-%d@gym.test", i), fmt.Sprintf("pay-%d", i), now)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				booked++
			case errors.Is(err, domainerrors.ErrSlotAlreadyBooked):
				conflicts++
			default:
				t.Errorf("contender %d: unexpected error %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	if booked != 1 || conflicts != contenders-1 {
		t.Fatalf("expected exactly one booking, got booked=%d conflicts=%d", booked, conflicts)
	}
}
