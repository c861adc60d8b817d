package boltadapter

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gymcore/contexts/scheduling/booking-coordinator/domain/entities"
	domainerrors "gymcore/contexts/scheduling/booking-coordinator/domain/errors"

	bolt "github.com/boltdb/bolt"
	"github.com/shopspring/decimal"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "booking.db"), 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		t.Fatalf("open bolt: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	store, err := NewStore(db, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestBoltPaymentInsertIsKeyed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	payment := entities.Payment{
		PaymentID:   "pay-1",
		ClassID:     "class-1",
		PayerID:     "x@gym.test",
		Amount:      decimal.RequireFromString("42.10"),
		Currency:    "USD",
		RequestHash: "h1",
		CreatedAt:   time.Now().UTC(),
	}
	if _, created, err := store.InsertPayment(ctx, payment); err != nil || !created {
		t.Fatalf("expected created, got created=%v err=%v", created, err)
	}
	replay := payment
	replay.RequestHash = "h2"
	stored, created, err := store.InsertPayment(ctx, replay)
	if err != nil || created || stored.RequestHash != "h1" {
		t.Fatalf("expected stored payment back, got %+v created=%v err=%v", stored, created, err)
	}
	if !stored.Amount.Equal(payment.Amount) {
		t.Fatalf("expected amount %s, got %s", payment.Amount, stored.Amount)
	}
	if _, err := store.GetPayment(ctx, "missing"); !errors.Is(err, domainerrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestBoltCreditBookingCountsOncePerPayment(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	if err := store.CreateClass(ctx, entities.ClassOffering{ClassID: "class-1", Name: "Spin"}); err != nil {
		t.Fatalf("create class: %v", err)
	}
	for i, want := range []bool{true, false} {
		credited, err := store.CreditBooking(ctx, "class-1", "pay-1", now)
		if err != nil || credited != want {
			t.Fatalf("credit %d: expected %v, got %v err=%v", i, want, credited, err)
		}
	}
	if _, err := store.CreditBooking(ctx, "missing", "pay-1", now); !errors.Is(err, domainerrors.ErrClassNotFound) {
		t.Fatalf("expected class not found, got %v", err)
	}
	class, _ := store.GetClass(ctx, "class-1")
	if class.BookingCount != 1 {
		t.Fatalf("expected count 1, got %d", class.BookingCount)
	}
	updated, err := store.AddTrainer(ctx, "class-1", "coach@gym.test", now)
	if err != nil || len(updated.TrainerIDs) != 1 {
		t.Fatalf("add trainer: %+v err=%v", updated, err)
	}
	updated, err = store.AddTrainer(ctx, "class-1", "coach@gym.test", now)
	if err != nil || len(updated.TrainerIDs) != 1 {
		t.Fatalf("expected trainer set to stay unique, got %+v err=%v", updated, err)
	}
}

func TestBoltConcurrentSlotBookingHasOneWinner(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.CreateSlot(ctx, entities.Slot{SlotID: "slot-1", ClassID: "class-1", TrainerID: "t@gym.test", Status: entities.SlotStatusActive}); err != nil {
		t.Fatalf("create slot: %v", err)
	}

	const contenders = 8
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
			_, err := store.BookSlot(ctx, "slot-1", fmt.Sprintf("m%d@gym.test", i), fmt.Sprintf("pay-%d", i), time.Now().UTC())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				booked++
			case errors.Is(err, domainerrors.ErrSlotAlreadyBooked):
				conflicts++
			default:
				t.Errorf("contender %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	if booked != 1 || conflicts != contenders-1 {
		t.Fatalf("expected one winner, got booked=%d conflicts=%d", booked, conflicts)
	}
	slot, _ := store.GetSlot(ctx, "slot-1")
	held, err := store.BookSlot(ctx, "slot-1", slot.BookedBy, "pay-other", time.Now().UTC())
	if err != nil || held.Outcome != entities.SlotAlreadyHeld {
		t.Fatalf("expected holder rebook to be already held, got %+v err=%v", held, err)
	}
}

func TestBoltSettlementsAndRollups(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if _, _, err := store.InsertPayment(ctx, entities.Payment{
			PaymentID: fmt.Sprintf("pay-%d", i),
			ClassID:   "class-1",
			PayerID:   "x@gym.test",
			Amount:    decimal.RequireFromString("10.25"),
			Currency:  "USD",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("insert payment %d: %v", i, err)
		}
	}
	pending := entities.NewSettlement(entities.Payment{PaymentID: "pay-0", ClassID: "class-1"}, base)
	if err := store.SaveSettlement(ctx, pending); err != nil {
		t.Fatalf("save settlement: %v", err)
	}

	orphans, err := store.ListPaymentsWithoutSettlement(ctx, base.Add(time.Hour), 10)
	if err != nil || len(orphans) != 2 || orphans[0].PaymentID != "pay-1" {
		t.Fatalf("unexpected orphans: %+v err=%v", orphans, err)
	}
	incomplete, err := store.ListIncompleteSettlements(ctx, base.Add(time.Hour), 10, 10)
	if err != nil || len(incomplete) != 1 {
		t.Fatalf("unexpected incomplete settlements: %+v err=%v", incomplete, err)
	}

	balance, err := store.AdminBalance(ctx, 2)
	if err != nil {
		t.Fatalf("admin balance: %v", err)
	}
	if !balance.Total.Equal(decimal.RequireFromString("30.75")) || balance.PaymentCount != 3 {
		t.Fatalf("unexpected totals: %s / %d", balance.Total, balance.PaymentCount)
	}
	if len(balance.Recent) != 2 || balance.Recent[0].PaymentID != "pay-2" {
		t.Fatalf("unexpected recent payments: %+v", balance.Recent)
	}
}
