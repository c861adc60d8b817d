package commands

import (
	"context"
	"log/slog"
	"strings"
	"time"

	application "gymcore/contexts/scheduling/booking-coordinator/application"
	"gymcore/contexts/scheduling/booking-coordinator/domain/entities"
	domainerrors "gymcore/contexts/scheduling/booking-coordinator/domain/errors"
	"gymcore/contexts/scheduling/booking-coordinator/ports"
)

type CreateClassCommand struct {
	ClassID    string
	Name       string
	TrainerIDs []string
}

type AddTrainerCommand struct {
	ClassID   string
	TrainerID string
}

type CreateSlotCommand struct {
	SlotID    string
	ClassID   string
	TrainerID string
	StartsAt  time.Time
}

// CatalogUseCase manages the class and slot setup surface the booking saga
// runs against.
type CatalogUseCase struct {
	Classes      ports.ClassRepository
	Slots        ports.SlotRepository
	Outbox       ports.OutboxWriter
	Clock        ports.Clock
	IDGen        ports.IDGenerator
	StoreTimeout time.Duration
	Logger       *slog.Logger
}

// normalizeTrainerID folds a trainer email to one key so every store agrees
// on trainer-set membership and slot ownership.
func normalizeTrainerID(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func (uc CatalogUseCase) CreateClass(ctx context.Context, cmd CreateClassCommand) (entities.ClassOffering, error) {
	logger := application.ResolveLogger(uc.Logger)
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return entities.ClassOffering{}, domainerrors.ErrInvalidClassInput
	}
	classID := strings.TrimSpace(cmd.ClassID)
	if classID == "" {
		id, err := uc.IDGen.NewID(ctx)
		if err != nil {
			return entities.ClassOffering{}, err
		}
		classID = id
	}
	now := uc.now()
	class := entities.ClassOffering{
		ClassID:   classID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, trainerID := range cmd.TrainerIDs {
		trainerID = normalizeTrainerID(trainerID)
		if trainerID == "" {
			continue
		}
		class.AddTrainer(trainerID, now)
	}

	storeCtx, cancel := application.StoreContext(ctx, uc.StoreTimeout)
	err := uc.Classes.CreateClass(storeCtx, class)
	cancel()
	if err != nil {
		logger.Warn("class offering create failed",
			"event", "booking_class_create_failed",
			"module", "scheduling/booking-coordinator",
			"layer", "application",
			"class_id", classID,
			"error", err.Error(),
		)
		return entities.ClassOffering{}, application.ClassifyStoreError(err)
	}
	uc.appendEvent(ctx, logger, eventClassCreated, classID, map[string]any{
		"class_id":    classID,
		"name":        name,
		"trainer_ids": class.TrainerIDs,
		"occurred_at": now.Format(time.RFC3339),
	})
	logger.Info("class offering created",
		"event", "booking_class_created",
		"module", "scheduling/booking-coordinator",
		"layer", "application",
		"class_id", classID,
	)
	return class, nil
}

// AddTrainer keeps the trainer set unique; adding a listed trainer is a no-op.
func (uc CatalogUseCase) AddTrainer(ctx context.Context, cmd AddTrainerCommand) (entities.ClassOffering, error) {
	classID := strings.TrimSpace(cmd.ClassID)
	trainerID := normalizeTrainerID(cmd.TrainerID)
	if classID == "" || trainerID == "" {
		return entities.ClassOffering{}, domainerrors.ErrInvalidClassInput
	}
	storeCtx, cancel := application.StoreContext(ctx, uc.StoreTimeout)
	defer cancel()
	class, err := uc.Classes.AddTrainer(storeCtx, classID, trainerID, uc.now())
	if err != nil {
		return entities.ClassOffering{}, application.ClassifyStoreError(err)
	}
	application.ResolveLogger(uc.Logger).Info("class trainer added",
		"event", "booking_class_trainer_added",
		"module", "scheduling/booking-coordinator",
		"layer", "application",
		"class_id", classID,
		"trainer_id", trainerID,
	)
	return class, nil
}

func (uc CatalogUseCase) CreateSlot(ctx context.Context, cmd CreateSlotCommand) (entities.Slot, error) {
	logger := application.ResolveLogger(uc.Logger)
	classID := strings.TrimSpace(cmd.ClassID)
	trainerID := normalizeTrainerID(cmd.TrainerID)
	if classID == "" || trainerID == "" {
		return entities.Slot{}, domainerrors.ErrInvalidSlotInput
	}
	slotID := strings.TrimSpace(cmd.SlotID)
	if slotID == "" {
		id, err := uc.IDGen.NewID(ctx)
		if err != nil {
			return entities.Slot{}, err
		}
		slotID = id
	}
	now := uc.now()
	slot := entities.Slot{
		SlotID:    slotID,
		ClassID:   classID,
		TrainerID: trainerID,
		Status:    entities.SlotStatusActive,
		StartsAt:  cmd.StartsAt.UTC(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	storeCtx, cancel := application.StoreContext(ctx, uc.StoreTimeout)
	err := uc.Slots.CreateSlot(storeCtx, slot)
	cancel()
	if err != nil {
		logger.Warn("slot create failed",
			"event", "booking_slot_create_failed",
			"module", "scheduling/booking-coordinator",
			"layer", "application",
			"slot_id", slotID,
			"error", err.Error(),
		)
		return entities.Slot{}, application.ClassifyStoreError(err)
	}
	uc.appendEvent(ctx, logger, eventSlotCreated, classID, map[string]any{
		"slot_id":     slotID,
		"class_id":    classID,
		"trainer_id":  trainerID,
		"occurred_at": now.Format(time.RFC3339),
	})
	return slot, nil
}

func (uc CatalogUseCase) appendEvent(
	ctx context.Context,
	logger *slog.Logger,
	eventType string,
	classID string,
	data map[string]any,
) {
	if uc.Outbox == nil {
		return
	}
	eventID, err := uc.IDGen.NewID(ctx)
	if err == nil {
		var envelope ports.EventEnvelope
		envelope, err = newCatalogEnvelope(eventID, eventType, classID, uc.now(), data)
		if err == nil {
			storeCtx, cancel := application.StoreContext(ctx, uc.StoreTimeout)
			err = uc.Outbox.AppendOutbox(storeCtx, envelope)
			cancel()
		}
	}
	if err != nil {
		logger.Error("catalog event append failed",
			"event", "booking_catalog_outbox_append_failed",
			"module", "scheduling/booking-coordinator",
			"layer", "application",
			"class_id", classID,
			"event_type", eventType,
			"error", err.Error(),
		)
	}
}

func (uc CatalogUseCase) now() time.Time {
	if uc.Clock != nil {
		return uc.Clock.Now().UTC()
	}
	return time.Now().UTC()
}
