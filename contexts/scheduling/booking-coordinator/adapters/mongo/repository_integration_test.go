package mongoadapter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"gymcore/contexts/scheduling/booking-coordinator/domain/entities"
	domainerrors "gymcore/contexts/scheduling/booking-coordinator/domain/errors"
	"gymcore/internal/platform/db/mongotest"

	"github.com/shopspring/decimal"
)

func newIntegrationRepository(t *testing.T) *Repository {
	t.Helper()
	repo := NewRepository(mongotest.Start(t), nil)
	if err := repo.EnsureIndexes(context.Background()); err != nil {
		t.Fatalf("ensure indexes: %v", err)
	}
	return repo
}

func TestMongoBookingStepsIntegration(t *testing.T) {
	repo := newIntegrationRepository(t)
	ctx := context.Background()
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
	featured, err := repo.FeaturedClasses(ctx, 5)
	if err != nil || len(featured) != 1 || featured[0].BookingCount != 1 {
		t.Fatalf("expected single-count featured class, got %+v err=%v", featured, err)
	}

	for i := 0; i < 2; i++ {
		class, err = repo.AddTrainer(ctx, "class-1", "coach@gym.test", now)
		if err != nil || len(class.TrainerIDs) != 2 {
			t.Fatalf("add trainer %d: expected two trainers, got %+v err=%v", i, class, err)
		}
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
	if _, err := repo.BookSlot(ctx, "missing", "y@gym.test", "pay-2", now); !errors.Is(err, domainerrors.ErrNotFound) {
		t.Fatalf("expected slot not found, got %v", err)
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
	if orphans, err := repo.ListPaymentsWithoutSettlement(ctx, now.Add(time.Minute), 10); err != nil || len(orphans) != 0 {
		t.Fatalf("expected no orphans once settled, got %d err=%v", len(orphans), err)
	}
}

func TestMongoConcurrentCreditIntegration(t *testing.T) {
	repo := newIntegrationRepository(t)
	ctx := context.Background()
	now := time.Now().UTC()
	if err := repo.CreateClass(ctx, entities.ClassOffering{ClassID: "class-hot", Name: "HIIT", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("create class: %v", err)
	}

	const (
		payments = 5
		retries  = 4
	)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		credited = map[string]int{}
	)
	for p := 0; p < payments; p++ {
		for r := 0; r < retries; r++ {
			wg.Add(1)
			go func(paymentID string) {
				defer wg.Done()
				ok, err := repo.CreditBooking(ctx, "class-hot", paymentID, time.Now().UTC())
				if err != nil {
					t.Errorf("credit %s: %v", paymentID, err)
					return
				}
				if ok {
					mu.Lock()
					credited[paymentID]++
					mu.Unlock()
				}
			}(fmt.Sprintf("pay-%d", p))
		}
	}
	wg.Wait()

	for p := 0; p < payments; p++ {
		if got := credited[fmt.Sprintf("pay-%d", p)]; got != 1 {
			t.Fatalf("payment pay-%d credited %d times", p, got)
		}
	}
	class, err := repo.GetClass(ctx, "class-hot")
	if err != nil || class.BookingCount != payments {
		t.Fatalf("expected booking count %d, got %+v err=%v", payments, class, err)
	}
}

func TestMongoConcurrentSlotBookingIntegration(t *testing.T) {
	repo := newIntegrationRepository(t)
	ctx := context.Background()
	now := time.Now().UTC()
	if err := repo.CreateSlot(ctx, entities.Slot{SlotID: "slot-hot", ClassID: "class-1", TrainerID: "t@gym.test", Status: entities.SlotStatusActive}); err != nil {
		t.Fatalf("create slot: %v", err)
	}

	const contenders = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winner    string
		booked    int
		conflicts int
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payer := fmt.Sprintf("member-%d@gym.test", i)
			_, err := repo.BookSlot(ctx, "slot-hot", payer, fmt.Sprintf("pay-%d", i), now)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				booked++
				winner = payer
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
	slot, err := repo.GetSlot(ctx, "slot-hot")
	if err != nil || slot.Status != entities.SlotStatusBooked || slot.BookedBy != winner {
		t.Fatalf("expected slot held by %s, got %+v err=%v", winner, slot, err)
	}
}

func TestMongoAdminBalanceIntegration(t *testing.T) {
	repo := newIntegrationRepository(t)
	ctx := context.Background()

	empty, err := repo.AdminBalance(ctx, 6)
	if err != nil || !empty.Total.IsZero() || empty.PaymentCount != 0 || len(empty.Recent) != 0 {
		t.Fatalf("expected empty balance, got %+v err=%v", empty, err)
	}

	base := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	amounts := []string{"10.10", "20.20", "0.05", "99.99", "5.00", "12.34", "7.77", "3.33"}
	for i, amount := range amounts {
		_, _, err := repo.InsertPayment(ctx, entities.Payment{
			PaymentID:   fmt.Sprintf("pay-%d", i),
			ClassID:     "class-1",
			PayerID:     "m@gym.test",
			Amount:      decimal.RequireFromString(amount),
			Currency:    "USD",
			RequestHash: fmt.Sprintf("hash-%d", i),
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("insert payment %d: %v", i, err)
		}
	}

	balance, err := repo.AdminBalance(ctx, 6)
	if err != nil {
		t.Fatalf("admin balance: %v", err)
	}
	if !balance.Total.Equal(decimal.RequireFromString("158.78")) || balance.PaymentCount != int64(len(amounts)) {
		t.Fatalf("unexpected totals %s / %d", balance.Total, balance.PaymentCount)
	}
	if len(balance.Recent) != 6 || balance.Recent[0].PaymentID != "pay-7" || balance.Recent[5].PaymentID != "pay-2" {
		t.Fatalf("expected newest six payments first, got %d starting %+v", len(balance.Recent), balance.Recent)
	}
}
