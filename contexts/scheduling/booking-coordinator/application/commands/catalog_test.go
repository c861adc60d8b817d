package commands

import (
	"context"
	"testing"
	"time"

	"gymcore/contexts/scheduling/booking-coordinator/adapters/memory"
)

func newCatalogUseCase(store *memory.Store) CatalogUseCase {
	return CatalogUseCase{
		Classes:      store,
		Slots:        store,
		Outbox:       store,
		Clock:        store,
		IDGen:        store,
		StoreTimeout: time.Second,
	}
}

func TestCatalogFoldsTrainerIdentity(t *testing.T) {
	store := memory.NewStore()
	uc := newCatalogUseCase(store)
	ctx := context.Background()

	class, err := uc.CreateClass(ctx, CreateClassCommand{
		ClassID:    "class-spin",
		Name:       "Spin",
		TrainerIDs: []string{" Coach-A@Gym.test ", "coach-a@gym.test"},
	})
	if err != nil {
		t.Fatalf("create class: %v", err)
	}
	if len(class.TrainerIDs) != 1 || class.TrainerIDs[0] != "coach-a@gym.test" {
		t.Fatalf("expected one folded trainer, got %v", class.TrainerIDs)
	}

	class, err = uc.AddTrainer(ctx, AddTrainerCommand{ClassID: "class-spin", TrainerID: "COACH-A@GYM.TEST"})
	if err != nil {
		t.Fatalf("add trainer: %v", err)
	}
	if len(class.TrainerIDs) != 1 {
		t.Fatalf("expected trainer set to stay unique, got %v", class.TrainerIDs)
	}
	class, err = uc.AddTrainer(ctx, AddTrainerCommand{ClassID: "class-spin", TrainerID: "Coach-B@gym.test"})
	if err != nil {
		t.Fatalf("add second trainer: %v", err)
	}
	if len(class.TrainerIDs) != 2 || class.TrainerIDs[1] != "coach-b@gym.test" {
		t.Fatalf("expected folded second trainer, got %v", class.TrainerIDs)
	}

	slot, err := uc.CreateSlot(ctx, CreateSlotCommand{
		SlotID:    "slot-spin",
		ClassID:   "class-spin",
		TrainerID: "Coach-B@Gym.Test",
		StartsAt:  time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create slot: %v", err)
	}
	if slot.TrainerID != "coach-b@gym.test" {
		t.Fatalf("expected folded slot trainer, got %q", slot.TrainerID)
	}
}
