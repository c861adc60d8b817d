package postgresadapter

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"gymcore/contexts/scheduling/booking-coordinator/domain/entities"
	domainerrors "gymcore/contexts/scheduling/booking-coordinator/domain/errors"
	"gymcore/contexts/scheduling/booking-coordinator/ports"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	outboxStatusPending   = "pending"
	outboxStatusPublished = "published"
)

type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// AutoMigrate creates the booking tables when they do not exist yet.
func (r *Repository) AutoMigrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(
		&paymentModel{},
		&classOfferingModel{},
		&classTrainerModel{},
		&classCreditModel{},
		&slotModel{},
		&settlementModel{},
		&outboxModel{},
	); err != nil {
		return r.logError("booking_repo_migrate_failed", err)
	}
	return nil
}

// InsertPayment relies on the primary key: a conflicting insert does nothing
// and the stored row is returned instead.
func (r *Repository) InsertPayment(ctx context.Context, payment entities.Payment) (entities.Payment, bool, error) {
	row := paymentModelFromEntity(payment)
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return entities.Payment{}, false, r.translate("booking_repo_insert_payment_failed", create.Error,
			"payment_id", payment.PaymentID,
		)
	}
	if create.RowsAffected > 0 {
		return payment, true, nil
	}
	existing, err := r.GetPayment(ctx, payment.PaymentID)
	if err != nil {
		return entities.Payment{}, false, err
	}
	return existing, false, nil
}

func (r *Repository) GetPayment(ctx context.Context, paymentID string) (entities.Payment, error) {
	var row paymentModel
	err := r.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(paymentID)).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Payment{}, domainerrors.ErrPaymentNotFound
		}
		return entities.Payment{}, r.translate("booking_repo_get_payment_failed", err, "payment_id", paymentID)
	}
	return row.toEntity(), nil
}

func (r *Repository) ListPaymentsWithoutSettlement(ctx context.Context, createdBefore time.Time, limit int) ([]entities.Payment, error) {
	var rows []paymentModel
	err := r.db.WithContext(ctx).
		Where("created_at < ?", createdBefore.UTC()).
		Where("NOT EXISTS (SELECT 1 FROM booking_settlements s WHERE s.payment_id = booking_payments.id)").
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, r.translate("booking_repo_list_orphan_payments_failed", err, "limit", limit)
	}
	items := make([]entities.Payment, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r *Repository) CreateClass(ctx context.Context, class entities.ClassOffering) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := classOfferingModelFromEntity(class)
		if err := tx.Create(&row).Error; err != nil {
			if isUniqueViolation(err) {
				return domainerrors.ErrClassExists
			}
			return err
		}
		for _, trainerID := range class.TrainerIDs {
			if err := tx.Create(&classTrainerModel{
				ClassID:   row.ID,
				TrainerID: trainerID,
				CreatedAt: class.CreatedAt.UTC(),
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return r.translate("booking_repo_create_class_failed", err, "class_id", class.ClassID)
	}
	return nil
}

func (r *Repository) GetClass(ctx context.Context, classID string) (entities.ClassOffering, error) {
	classID = strings.TrimSpace(classID)
	var row classOfferingModel
	err := r.db.WithContext(ctx).Where("id = ?", classID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.ClassOffering{}, domainerrors.ErrClassNotFound
		}
		return entities.ClassOffering{}, r.translate("booking_repo_get_class_failed", err, "class_id", classID)
	}
	classes, err := r.hydrateClasses(r.db.WithContext(ctx), []classOfferingModel{row})
	if err != nil {
		return entities.ClassOffering{}, r.translate("booking_repo_hydrate_class_failed", err, "class_id", classID)
	}
	return classes[0], nil
}

func (r *Repository) AddTrainer(ctx context.Context, classID string, trainerID string, at time.Time) (entities.ClassOffering, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		touch := tx.Model(&classOfferingModel{}).
			Where("id = ?", classID).
			Update("updated_at", at.UTC())
		if touch.Error != nil {
			return touch.Error
		}
		if touch.RowsAffected == 0 {
			return domainerrors.ErrClassNotFound
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&classTrainerModel{
			ClassID:   classID,
			TrainerID: trainerID,
			CreatedAt: at.UTC(),
		}).Error
	})
	if err != nil {
		return entities.ClassOffering{}, r.translate("booking_repo_add_trainer_failed", err,
			"class_id", classID,
			"trainer_id", trainerID,
		)
	}
	return r.GetClass(ctx, classID)
}

// CreditBooking records the credit row and bumps the counter in one
// transaction. The credit's primary key makes a second credit a no-op.
func (r *Repository) CreditBooking(ctx context.Context, classID string, paymentID string, at time.Time) (bool, error) {
	credited := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		insert := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "payment_id"}},
			DoNothing: true,
		}).Create(&classCreditModel{
			PaymentID: paymentID,
			ClassID:   classID,
			CreatedAt: at.UTC(),
		})
		if insert.Error != nil {
			return insert.Error
		}
		if insert.RowsAffected == 0 {
			return nil
		}
		bump := tx.Model(&classOfferingModel{}).
			Where("id = ?", classID).
			Updates(map[string]any{
				"booking_count": gorm.Expr("booking_count + 1"),
				"updated_at":    at.UTC(),
			})
		if bump.Error != nil {
			return bump.Error
		}
		if bump.RowsAffected == 0 {
			return domainerrors.ErrClassNotFound
		}
		credited = true
		return nil
	})
	if err != nil {
		return false, r.translate("booking_repo_credit_booking_failed", err,
			"class_id", classID,
			"payment_id", paymentID,
		)
	}
	return credited, nil
}

func (r *Repository) CreateSlot(ctx context.Context, slot entities.Slot) error {
	row := slotModelFromEntity(slot)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrSlotExists
		}
		return r.translate("booking_repo_create_slot_failed", err, "slot_id", slot.SlotID)
	}
	return nil
}

func (r *Repository) GetSlot(ctx context.Context, slotID string) (entities.Slot, error) {
	var row slotModel
	err := r.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(slotID)).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Slot{}, domainerrors.ErrSlotNotFound
		}
		return entities.Slot{}, r.translate("booking_repo_get_slot_failed", err, "slot_id", slotID)
	}
	return row.toEntity(), nil
}

// BookSlot is a single guarded UPDATE. When it matches nothing the row is
// read to tell a missing slot from one that is already booked.
func (r *Repository) BookSlot(ctx context.Context, slotID string, payerID string, paymentID string, at time.Time) (ports.SlotBooking, error) {
	update := r.db.WithContext(ctx).
		Model(&slotModel{}).
		Where("id = ? AND status = ?", slotID, string(entities.SlotStatusActive)).
		Updates(map[string]any{
			"status":            string(entities.SlotStatusBooked),
			"booked_by":         payerID,
			"booked_by_payment": paymentID,
			"updated_at":        at.UTC(),
		})
	if update.Error != nil {
		return ports.SlotBooking{}, r.translate("booking_repo_book_slot_failed", update.Error,
			"slot_id", slotID,
			"payment_id", paymentID,
		)
	}
	slot, err := r.GetSlot(ctx, slotID)
	if err != nil {
		return ports.SlotBooking{}, err
	}
	if update.RowsAffected > 0 {
		return ports.SlotBooking{Slot: slot, Outcome: entities.SlotBookedNow}, nil
	}
	if slot.Status == entities.SlotStatusBooked && slot.BookedBy == payerID {
		return ports.SlotBooking{Slot: slot, Outcome: entities.SlotAlreadyHeld}, nil
	}
	return ports.SlotBooking{}, domainerrors.ErrSlotAlreadyBooked
}

func (r *Repository) SaveSettlement(ctx context.Context, settlement entities.Settlement) error {
	row := settlementModelFromEntity(settlement)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "payment_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"class_step", "class_error", "slot_step", "slot_error", "attempts", "updated_at",
		}),
	}).Create(&row).Error
	if err != nil {
		return r.translate("booking_repo_save_settlement_failed", err, "payment_id", settlement.PaymentID)
	}
	return nil
}

func (r *Repository) GetSettlement(ctx context.Context, paymentID string) (entities.Settlement, error) {
	var row settlementModel
	err := r.db.WithContext(ctx).Where("payment_id = ?", strings.TrimSpace(paymentID)).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Settlement{}, domainerrors.ErrSettlementNotFound
		}
		return entities.Settlement{}, r.translate("booking_repo_get_settlement_failed", err, "payment_id", paymentID)
	}
	return row.toEntity(), nil
}

func (r *Repository) ListIncompleteSettlements(ctx context.Context, updatedBefore time.Time, maxAttempts int, limit int) ([]entities.Settlement, error) {
	var rows []settlementModel
	err := r.db.WithContext(ctx).
		Where("updated_at < ? AND attempts < ?", updatedBefore.UTC(), maxAttempts).
		Where("(class_step NOT IN ?) OR (slot_step NOT IN ?)", terminalSteps(), terminalSteps()).
		Order("updated_at ASC").
		Order("payment_id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, r.translate("booking_repo_list_incomplete_settlements_failed", err, "limit", limit)
	}
	items := make([]entities.Settlement, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

// AdminBalance reads the sum and the recent list in one repeatable-read
// transaction so both come from the same snapshot.
func (r *Repository) AdminBalance(ctx context.Context, recent int) (entities.Balance, error) {
	var balance entities.Balance
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var totals struct {
			Total        decimal.Decimal
			PaymentCount int64
		}
		if err := tx.Model(&paymentModel{}).
			Select("COALESCE(SUM(amount), 0) AS total, COUNT(*) AS payment_count").
			Scan(&totals).Error; err != nil {
			return err
		}
		var rows []paymentModel
		if err := tx.Order("created_at DESC").
			Order("id DESC").
			Limit(recent).
			Find(&rows).Error; err != nil {
			return err
		}
		balance.Total = totals.Total
		balance.PaymentCount = totals.PaymentCount
		balance.Recent = make([]entities.Payment, 0, len(rows))
		for _, row := range rows {
			balance.Recent = append(balance.Recent, row.toEntity())
		}
		return nil
	}, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return entities.Balance{}, r.translate("booking_repo_admin_balance_failed", err, "recent", recent)
	}
	return balance, nil
}

func (r *Repository) FeaturedClasses(ctx context.Context, limit int) ([]entities.ClassOffering, error) {
	var rows []classOfferingModel
	db := r.db.WithContext(ctx)
	if err := db.Order("booking_count DESC, id ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, r.translate("booking_repo_featured_classes_failed", err, "limit", limit)
	}
	classes, err := r.hydrateClasses(db, rows)
	if err != nil {
		return nil, r.translate("booking_repo_hydrate_featured_failed", err, "limit", limit)
	}
	return classes, nil
}

func (r *Repository) AppendOutbox(ctx context.Context, envelope ports.EventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return r.logError("booking_repo_append_outbox_marshal_failed", err,
			"event_id", envelope.EventID,
		)
	}
	row := outboxModel{
		OutboxID:     strings.TrimSpace(envelope.EventID),
		EventType:    strings.TrimSpace(envelope.EventType),
		PartitionKey: strings.TrimSpace(envelope.PartitionKey),
		Payload:      payload,
		Status:       outboxStatusPending,
		CreatedAt:    envelope.OccurredAt.UTC(),
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "outbox_id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return r.translate("booking_repo_append_outbox_insert_failed", create.Error,
			"outbox_id", row.OutboxID,
		)
	}
	if create.RowsAffected > 0 {
		return nil
	}
	var existing outboxModel
	if err := r.db.WithContext(ctx).
		Select("payload").
		Where("outbox_id = ?", row.OutboxID).
		First(&existing).Error; err != nil {
		return r.translate("booking_repo_append_outbox_load_existing_failed", err,
			"outbox_id", row.OutboxID,
		)
	}
	if !bytes.Equal(existing.Payload, row.Payload) {
		return domainerrors.ErrOutboxConflict
	}
	return nil
}

func (r *Repository) ListPendingOutbox(ctx context.Context, limit int) ([]ports.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []outboxModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", outboxStatusPending).
		Order("created_at ASC").
		Order("outbox_id ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, r.translate("booking_repo_list_pending_outbox_failed", err, "limit", limit)
	}
	items := make([]ports.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		items = append(items, ports.OutboxMessage{
			OutboxID:     row.OutboxID,
			EventType:    row.EventType,
			PartitionKey: row.PartitionKey,
			Payload:      append([]byte(nil), row.Payload...),
			CreatedAt:    row.CreatedAt.UTC(),
		})
	}
	return items, nil
}

func (r *Repository) MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("outbox_id = ?", strings.TrimSpace(outboxID)).
		Updates(map[string]any{
			"status":       outboxStatusPublished,
			"published_at": publishedAt.UTC(),
		})
	if result.Error != nil {
		return r.translate("booking_repo_mark_outbox_published_failed", result.Error,
			"outbox_id", strings.TrimSpace(outboxID),
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrConflict
	}
	return nil
}

// hydrateClasses attaches trainers only. Credited payment ids stay in
// booking_class_credits, where CreditBooking checks them by key.
func (r *Repository) hydrateClasses(db *gorm.DB, rows []classOfferingModel) ([]entities.ClassOffering, error) {
	if len(rows) == 0 {
		return []entities.ClassOffering{}, nil
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	var trainers []classTrainerModel
	if err := db.Where("class_id IN ?", ids).Order("created_at ASC").Order("trainer_id ASC").Find(&trainers).Error; err != nil {
		return nil, err
	}
	trainersByClass := make(map[string][]string, len(rows))
	for _, trainer := range trainers {
		trainersByClass[trainer.ClassID] = append(trainersByClass[trainer.ClassID], trainer.TrainerID)
	}
	items := make([]entities.ClassOffering, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity(trainersByClass[row.ID]))
	}
	return items, nil
}

// translate passes domain errors through and tags driver failures that are
// safe to retry as transient.
func (r *Repository) translate(event string, err error, attrs ...any) error {
	if domainerrors.IsCategorized(err) {
		return err
	}
	r.logError(event, err, attrs...)
	if isTransient(err) {
		return domainerrors.Transient(err)
	}
	return err
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "scheduling/booking-coordinator",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("booking repository operation failed", fields...)
	return err
}

func terminalSteps() []string {
	return []string{
		string(entities.StepApplied),
		string(entities.StepNoop),
		string(entities.StepSkipped),
		string(entities.StepConflict),
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "40001", pgErr.Code == "40P01", pgErr.Code == "57P01":
			return true
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "53"):
			return true
		}
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

var _ ports.PaymentRepository = (*Repository)(nil)
var _ ports.ClassRepository = (*Repository)(nil)
var _ ports.SlotRepository = (*Repository)(nil)
var _ ports.SettlementRepository = (*Repository)(nil)
var _ ports.InsightsReader = (*Repository)(nil)
var _ ports.OutboxWriter = (*Repository)(nil)
var _ ports.OutboxRepository = (*Repository)(nil)
