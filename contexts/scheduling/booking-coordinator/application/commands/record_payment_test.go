package commands

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"gymcore/contexts/scheduling/booking-coordinator/adapters/memory"
	"gymcore/contexts/scheduling/booking-coordinator/domain/entities"
	domainerrors "gymcore/contexts/scheduling/booking-coordinator/domain/errors"
	"gymcore/contexts/scheduling/booking-coordinator/ports"

	"github.com/shopspring/decimal"
)

func newPaymentUseCase(store *memory.Store) PaymentUseCase {
	return PaymentUseCase{
		Payments:             store,
		Classes:              store,
		Slots:                store,
		Settlements:          store,
		Outbox:               store,
		Clock:                store,
		IDGen:                store,
		StoreTimeout:         time.Second,
		StepRetryAttempts:    3,
		RetryInitialInterval: time.Millisecond,
	}
}

func seedCatalog() *memory.Store {
	store := memory.NewStore()
	store.SetClass(entities.ClassOffering{ClassID: "class-yoga", Name: "Morning Yoga"})
	store.SetSlot(entities.Slot{
		SlotID:    "slot-1",
		ClassID:   "class-yoga",
		TrainerID: "trainer@gym.test",
		Status:    entities.SlotStatusActive,
	})
	return store
}

func paymentCommand(payer string, key string) RecordPaymentCommand {
	return RecordPaymentCommand{
		PayerID:        payer,
		ClassID:        "class-yoga",
		SlotID:         "slot-1",
		Amount:         decimal.RequireFromString("25.00"),
		IdempotencyKey: key,
	}
}

func TestRecordPaymentAppliesEveryStep(t *testing.T) {
	store := seedCatalog()
	uc := newPaymentUseCase(store)
	ctx := context.Background()

	result, err := uc.RecordPayment(ctx, paymentCommand("x@gym.test", "pay-1"))
	if err != nil {
		t.Fatalf("record payment failed: %v", err)
	}
	if result.Replayed || result.ClassErr != nil || result.SlotErr != nil {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Payment.PaymentID != "pay-1" || result.Payment.Currency != "USD" {
		t.Fatalf("unexpected payment: %+v", result.Payment)
	}
	if result.Settlement.ClassStep != entities.StepApplied || result.Settlement.SlotStep != entities.StepApplied {
		t.Fatalf("expected both steps applied, got %+v", result.Settlement)
	}

	class, _ := store.GetClass(ctx, "class-yoga")
	if class.BookingCount != 1 {
		t.Fatalf("expected booking count 1, got %d", class.BookingCount)
	}
	slot, _ := store.GetSlot(ctx, "slot-1")
	if slot.Status != entities.SlotStatusBooked || slot.BookedBy != "x@gym.test" || slot.BookedByPayment != "pay-1" {
		t.Fatalf("unexpected slot: %+v", slot)
	}
	stored, err := store.GetSettlement(ctx, "pay-1")
	if err != nil || !stored.Complete() || stored.Attempts != 1 {
		t.Fatalf("expected complete settlement after one attempt, got %+v err=%v", stored, err)
	}

	types := store.PendingEventTypes()
	if len(types) != 2 {
		t.Fatalf("expected recorded and completed events, got %v", types)
	}
}

func TestRecordPaymentReplayDoesNotDoubleCount(t *testing.T) {
	store := seedCatalog()
	uc := newPaymentUseCase(store)
	ctx := context.Background()

	if _, err := uc.RecordPayment(ctx, paymentCommand("x@gym.test", "pay-1")); err != nil {
		t.Fatalf("first record failed: %v", err)
	}
	replay, err := uc.RecordPayment(ctx, paymentCommand("x@gym.test", "pay-1"))
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if !replay.Replayed {
		t.Fatalf("expected replayed flag")
	}
	if !replay.Settlement.Complete() {
		t.Fatalf("expected complete settlement on replay, got %+v", replay.Settlement)
	}
	class, _ := store.GetClass(ctx, "class-yoga")
	if class.BookingCount != 1 {
		t.Fatalf("expected booking count to stay 1, got %d", class.BookingCount)
	}
}

func TestRecordPaymentRejectsReusedKeyWithDifferentContent(t *testing.T) {
	store := seedCatalog()
	uc := newPaymentUseCase(store)
	ctx := context.Background()

	if _, err := uc.RecordPayment(ctx, paymentCommand("x@gym.test", "pay-1")); err != nil {
		t.Fatalf("first record failed: %v", err)
	}
	changed := paymentCommand("x@gym.test", "pay-1")
	changed.Amount = decimal.RequireFromString("30")
	_, err := uc.RecordPayment(ctx, changed)
	if !errors.Is(err, domainerrors.ErrIdempotencyConflict) || !errors.Is(err, domainerrors.ErrConflict) {
		t.Fatalf("expected idempotency conflict, got %v", err)
	}
}

func TestRecordPaymentDerivesIDFromConfirmationToken(t *testing.T) {
	store := seedCatalog()
	uc := newPaymentUseCase(store)
	cmd := paymentCommand("x@gym.test", "")
	cmd.ConfirmationToken = "pi_123"

	result, err := uc.RecordPayment(context.Background(), cmd)
	if err != nil {
		t.Fatalf("record payment failed: %v", err)
	}
	if result.Payment.PaymentID != "charge:pi_123" {
		t.Fatalf("expected token-derived id, got %q", result.Payment.PaymentID)
	}
}

func TestRecordPaymentValidatesInput(t *testing.T) {
	uc := newPaymentUseCase(seedCatalog())
	cases := []RecordPaymentCommand{
		{ClassID: "class-yoga", Amount: decimal.NewFromInt(10)},
		{PayerID: "x@gym.test", Amount: decimal.NewFromInt(10)},
		{PayerID: "x@gym.test", ClassID: "class-yoga", Amount: decimal.Zero},
		{PayerID: "x@gym.test", ClassID: "class-yoga", Amount: decimal.NewFromInt(-5)},
		{PayerID: "x@gym.test", ClassID: "class-yoga", Amount: decimal.NewFromInt(10), Currency: "dollars"},
	}
	for i, cmd := range cases {
		if _, err := uc.RecordPayment(context.Background(), cmd); !errors.Is(err, domainerrors.ErrInvalid) {
			t.Fatalf("case %d: expected invalid input, got %v", i, err)
		}
	}
}

func TestRecordPaymentKeepsPaymentWhenClassIsMissing(t *testing.T) {
	store := memory.NewStore()
	uc := newPaymentUseCase(store)
	ctx := context.Background()
	cmd := paymentCommand("x@gym.test", "pay-1")
	cmd.SlotID = ""

	result, err := uc.RecordPayment(ctx, cmd)
	if err != nil {
		t.Fatalf("record payment failed: %v", err)
	}
	if !errors.Is(result.ClassErr, domainerrors.ErrNotFound) {
		t.Fatalf("expected class not found step error, got %v", result.ClassErr)
	}
	if result.Settlement.ClassStep != entities.StepFailed || result.Settlement.SlotStep != entities.StepSkipped {
		t.Fatalf("unexpected settlement: %+v", result.Settlement)
	}
	if _, err := store.GetPayment(ctx, "pay-1"); err != nil {
		t.Fatalf("expected payment to persist, got %v", err)
	}

	store.SetClass(entities.ClassOffering{ClassID: "class-yoga", Name: "Morning Yoga"})
	for i := 0; i < 2; i++ {
		settlement, err := uc.Resume(ctx, "pay-1")
		if err != nil {
			t.Fatalf("resume %d failed: %v", i, err)
		}
		if !settlement.Complete() {
			t.Fatalf("resume %d: expected complete settlement, got %+v", i, settlement)
		}
	}
	class, _ := store.GetClass(ctx, "class-yoga")
	if class.BookingCount != 1 {
		t.Fatalf("expected booking count 1 after resumes, got %d", class.BookingCount)
	}
}

func TestRecordPaymentSameSlotConcurrentPayers(t *testing.T) {
	store := seedCatalog()
	uc := newPaymentUseCase(store)
	ctx := context.Background()

	payers := []string{"x@gym.test", "y@gym.test"}
	results := make([]RecordPaymentResult, len(payers))
	errs := make([]error, len(payers))
	var wg sync.WaitGroup
	for i, payer := range payers {
		wg.Add(1)
		go func(i int, payer string) {
			defer wg.Done()
			results[i], errs[i] = uc.RecordPayment(ctx, paymentCommand(payer, fmt.Sprintf("pay-%d", i)))
		}(i, payer)
	}
	wg.Wait()

	booked, conflicts := 0, 0
	for i := range payers {
		if errs[i] != nil {
			t.Fatalf("payer %d: record failed: %v", i, errs[i])
		}
		switch results[i].Settlement.SlotStep {
		case entities.StepApplied:
			booked++
		case entities.StepConflict:
			conflicts++
			if !errors.Is(results[i].SlotErr, domainerrors.ErrSlotAlreadyBooked) {
				t.Fatalf("payer %d: expected slot conflict error, got %v", i, results[i].SlotErr)
			}
		}
		if _, err := store.GetPayment(ctx, results[i].Payment.PaymentID); err != nil {
			t.Fatalf("payer %d: payment missing: %v", i, err)
		}
	}
	if booked != 1 || conflicts != 1 {
		t.Fatalf("expected one booking and one conflict, got booked=%d conflicts=%d", booked, conflicts)
	}
	class, _ := store.GetClass(ctx, "class-yoga")
	if class.BookingCount != 2 {
		t.Fatalf("expected both payments counted, got %d", class.BookingCount)
	}
}

func TestRecordPaymentSecondPaymentBySameHolderIsNoop(t *testing.T) {
	store := seedCatalog()
	uc := newPaymentUseCase(store)
	ctx := context.Background()

	if _, err := uc.RecordPayment(ctx, paymentCommand("x@gym.test", "pay-1")); err != nil {
		t.Fatalf("first record failed: %v", err)
	}
	second, err := uc.RecordPayment(ctx, paymentCommand("x@gym.test", "pay-2"))
	if err != nil {
		t.Fatalf("second record failed: %v", err)
	}
	if second.Settlement.SlotStep != entities.StepNoop || second.SlotErr != nil {
		t.Fatalf("expected noop slot step, got %+v", second.Settlement)
	}
}

// flakyClasses fails the first credit with a transient error.
type flakyClasses struct {
	ports.ClassRepository
	mu    sync.Mutex
	fails int
}

func (f *flakyClasses) CreditBooking(ctx context.Context, classID string, paymentID string, at time.Time) (bool, error) {
	f.mu.Lock()
	if f.fails > 0 {
		f.fails--
		f.mu.Unlock()
		return false, domainerrors.Transient(errors.New("connection reset"))
	}
	f.mu.Unlock()
	return f.ClassRepository.CreditBooking(ctx, classID, paymentID, at)
}

func TestRecordPaymentRetriesTransientClassCredit(t *testing.T) {
	store := seedCatalog()
	uc := newPaymentUseCase(store)
	uc.Classes = &flakyClasses{ClassRepository: store, fails: 2}

	result, err := uc.RecordPayment(context.Background(), paymentCommand("x@gym.test", "pay-1"))
	if err != nil {
		t.Fatalf("record payment failed: %v", err)
	}
	if result.Settlement.ClassStep != entities.StepApplied || result.ClassErr != nil {
		t.Fatalf("expected class step to converge, got %+v err=%v", result.Settlement, result.ClassErr)
	}
	class, _ := store.GetClass(context.Background(), "class-yoga")
	if class.BookingCount != 1 {
		t.Fatalf("expected booking count 1, got %d", class.BookingCount)
	}
}

func TestRecordPaymentRunsStepsAfterCallerCancels(t *testing.T) {
	store := seedCatalog()
	uc := newPaymentUseCase(store)
	ctx, cancel := context.WithCancel(context.Background())
	uc.Payments = cancelAfterInsert{PaymentRepository: store, cancel: cancel}

	result, err := uc.RecordPayment(ctx, paymentCommand("x@gym.test", "pay-1"))
	if err != nil {
		t.Fatalf("record payment failed: %v", err)
	}
	if !result.Settlement.Complete() {
		t.Fatalf("expected steps to finish on a detached context, got %+v", result.Settlement)
	}
}

type cancelAfterInsert struct {
	ports.PaymentRepository
	cancel context.CancelFunc
}

func (c cancelAfterInsert) InsertPayment(ctx context.Context, payment entities.Payment) (entities.Payment, bool, error) {
	stored, created, err := c.PaymentRepository.InsertPayment(ctx, payment)
	c.cancel()
	return stored, created, err
}

func TestSettleLeavesUnreadableSettlementUntouched(t *testing.T) {
	store := memory.NewStore()
	uc := newPaymentUseCase(store)
	ctx := context.Background()
	cmd := paymentCommand("x@gym.test", "pay-1")
	cmd.SlotID = ""
	if _, err := uc.RecordPayment(ctx, cmd); err != nil {
		t.Fatalf("record payment failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := uc.Resume(ctx, "pay-1"); err != nil {
			t.Fatalf("resume %d failed: %v", i, err)
		}
	}
	before, err := store.GetSettlement(ctx, "pay-1")
	if err != nil || before.Attempts != 4 {
		t.Fatalf("expected 4 attempts before outage, got %+v err=%v", before, err)
	}

	uc.StepRetryAttempts = 1
	uc.Settlements = unreadableSettlements{SettlementRepository: store}
	if _, err := uc.Resume(ctx, "pay-1"); !errors.Is(err, domainerrors.ErrTransient) {
		t.Fatalf("expected resume to surface the lookup failure, got %v", err)
	}
	payment, _ := store.GetPayment(ctx, "pay-1")
	_, classErr, slotErr := uc.Settle(ctx, payment)
	if !errors.Is(classErr, domainerrors.ErrTransient) || !errors.Is(slotErr, domainerrors.ErrTransient) {
		t.Fatalf("expected both step errors to carry the lookup failure, got %v / %v", classErr, slotErr)
	}

	after, err := store.GetSettlement(ctx, "pay-1")
	if err != nil {
		t.Fatalf("get settlement: %v", err)
	}
	if after.Attempts != before.Attempts || after.ClassStep != entities.StepFailed {
		t.Fatalf("expected stored settlement unchanged, before %+v after %+v", before, after)
	}
}

type unreadableSettlements struct {
	ports.SettlementRepository
}

func (unreadableSettlements) GetSettlement(context.Context, string) (entities.Settlement, error) {
	return entities.Settlement{}, domainerrors.Transient(errors.New("replica unavailable"))
}
