package mongoadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"gymcore/contexts/scheduling/booking-coordinator/domain/entities"
	domainerrors "gymcore/contexts/scheduling/booking-coordinator/domain/errors"
	"gymcore/contexts/scheduling/booking-coordinator/ports"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	paymentsCollection    = "payments"
	classesCollection     = "classes"
	slotsCollection       = "slots"
	settlementsCollection = "bookingSettlements"
	outboxCollection      = "bookingOutbox"
)

// Repository maps every booking entity onto one document so each saga step
// is a single-document conditional write. Class credits live in the class
// document next to the counter they guard.
type Repository struct {
	payments    *mongo.Collection
	classes     *mongo.Collection
	slots       *mongo.Collection
	settlements *mongo.Collection
	outbox      *mongo.Collection
	logger      *slog.Logger
}

func NewRepository(db *mongo.Database, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		payments:    db.Collection(paymentsCollection),
		classes:     db.Collection(classesCollection),
		slots:       db.Collection(slotsCollection),
		settlements: db.Collection(settlementsCollection),
		outbox:      db.Collection(outboxCollection),
		logger:      logger,
	}
}

// EnsureIndexes creates the indexes the reconciler, the rollups and the
// outbox poller rely on.
func (r *Repository) EnsureIndexes(ctx context.Context) error {
	indexes := []struct {
		collection *mongo.Collection
		keys       bson.D
	}{
		{r.payments, bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}},
		{r.classes, bson.D{{Key: "bookingCount", Value: -1}, {Key: "_id", Value: 1}}},
		{r.settlements, bson.D{{Key: "updatedAt", Value: 1}}},
		{r.outbox, bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: 1}}},
	}
	for _, index := range indexes {
		if _, err := index.collection.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: index.keys}); err != nil {
			return r.translate("booking_mongo_ensure_indexes_failed", err,
				"collection", index.collection.Name(),
			)
		}
	}
	return nil
}

func (r *Repository) InsertPayment(ctx context.Context, payment entities.Payment) (entities.Payment, bool, error) {
	doc, err := paymentDocumentFromEntity(payment)
	if err != nil {
		return entities.Payment{}, false, err
	}
	if _, err := r.payments.InsertOne(ctx, doc); err != nil {
		if !mongo.IsDuplicateKeyError(err) {
			return entities.Payment{}, false, r.translate("booking_mongo_insert_payment_failed", err,
				"payment_id", payment.PaymentID,
			)
		}
		existing, getErr := r.GetPayment(ctx, payment.PaymentID)
		if getErr != nil {
			return entities.Payment{}, false, getErr
		}
		return existing, false, nil
	}
	return payment, true, nil
}

func (r *Repository) GetPayment(ctx context.Context, paymentID string) (entities.Payment, error) {
	var doc paymentDocument
	err := r.payments.FindOne(ctx, bson.D{{Key: "_id", Value: strings.TrimSpace(paymentID)}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return entities.Payment{}, domainerrors.ErrPaymentNotFound
		}
		return entities.Payment{}, r.translate("booking_mongo_get_payment_failed", err, "payment_id", paymentID)
	}
	return doc.toEntity()
}

func (r *Repository) ListPaymentsWithoutSettlement(ctx context.Context, createdBefore time.Time, limit int) ([]entities.Payment, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "createdAt", Value: bson.D{{Key: "$lt", Value: createdBefore.UTC()}}}}}},
		{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: settlementsCollection},
			{Key: "localField", Value: "_id"},
			{Key: "foreignField", Value: "_id"},
			{Key: "as", Value: "settlement"},
		}}},
		{{Key: "$match", Value: bson.D{{Key: "settlement", Value: bson.D{{Key: "$size", Value: 0}}}}}},
		{{Key: "$sort", Value: bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}}},
		{{Key: "$limit", Value: int64(limit)}},
		{{Key: "$project", Value: bson.D{{Key: "settlement", Value: 0}}}},
	}
	cursor, err := r.payments.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, r.translate("booking_mongo_list_orphan_payments_failed", err, "limit", limit)
	}
	var docs []paymentDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, r.translate("booking_mongo_decode_orphan_payments_failed", err, "limit", limit)
	}
	return paymentsFromDocuments(docs)
}

func (r *Repository) CreateClass(ctx context.Context, class entities.ClassOffering) error {
	if _, err := r.classes.InsertOne(ctx, classDocumentFromEntity(class)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domainerrors.ErrClassExists
		}
		return r.translate("booking_mongo_create_class_failed", err, "class_id", class.ClassID)
	}
	return nil
}

func (r *Repository) GetClass(ctx context.Context, classID string) (entities.ClassOffering, error) {
	var doc classDocument
	err := r.classes.FindOne(ctx, bson.D{{Key: "_id", Value: strings.TrimSpace(classID)}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return entities.ClassOffering{}, domainerrors.ErrClassNotFound
		}
		return entities.ClassOffering{}, r.translate("booking_mongo_get_class_failed", err, "class_id", classID)
	}
	return doc.toEntity(), nil
}

func (r *Repository) AddTrainer(ctx context.Context, classID string, trainerID string, at time.Time) (entities.ClassOffering, error) {
	var doc classDocument
	err := r.classes.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: classID}},
		bson.D{
			{Key: "$addToSet", Value: bson.D{{Key: "trainerIds", Value: trainerID}}},
			{Key: "$set", Value: bson.D{{Key: "updatedAt", Value: at.UTC()}}},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return entities.ClassOffering{}, domainerrors.ErrClassNotFound
		}
		return entities.ClassOffering{}, r.translate("booking_mongo_add_trainer_failed", err,
			"class_id", classID,
			"trainer_id", trainerID,
		)
	}
	return doc.toEntity(), nil
}

// CreditBooking increments the counter only when the payment id is not yet in
// the class's credited set; both change in the same document update.
func (r *Repository) CreditBooking(ctx context.Context, classID string, paymentID string, at time.Time) (bool, error) {
	result, err := r.classes.UpdateOne(ctx,
		bson.D{
			{Key: "_id", Value: classID},
			{Key: "creditedPayments", Value: bson.D{{Key: "$ne", Value: paymentID}}},
		},
		bson.D{
			{Key: "$inc", Value: bson.D{{Key: "bookingCount", Value: 1}}},
			{Key: "$addToSet", Value: bson.D{{Key: "creditedPayments", Value: paymentID}}},
			{Key: "$set", Value: bson.D{{Key: "updatedAt", Value: at.UTC()}}},
		},
	)
	if err != nil {
		return false, r.translate("booking_mongo_credit_booking_failed", err,
			"class_id", classID,
			"payment_id", paymentID,
		)
	}
	if result.MatchedCount > 0 {
		return true, nil
	}
	count, err := r.classes.CountDocuments(ctx, bson.D{{Key: "_id", Value: classID}})
	if err != nil {
		return false, r.translate("booking_mongo_credit_booking_check_failed", err, "class_id", classID)
	}
	if count == 0 {
		return false, domainerrors.ErrClassNotFound
	}
	return false, nil
}

func (r *Repository) CreateSlot(ctx context.Context, slot entities.Slot) error {
	if _, err := r.slots.InsertOne(ctx, slotDocumentFromEntity(slot)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domainerrors.ErrSlotExists
		}
		return r.translate("booking_mongo_create_slot_failed", err, "slot_id", slot.SlotID)
	}
	return nil
}

func (r *Repository) GetSlot(ctx context.Context, slotID string) (entities.Slot, error) {
	var doc slotDocument
	err := r.slots.FindOne(ctx, bson.D{{Key: "_id", Value: strings.TrimSpace(slotID)}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return entities.Slot{}, domainerrors.ErrSlotNotFound
		}
		return entities.Slot{}, r.translate("booking_mongo_get_slot_failed", err, "slot_id", slotID)
	}
	return doc.toEntity(), nil
}

// BookSlot applies the active -> booked transition with the status in the
// filter, so at most one concurrent caller matches.
func (r *Repository) BookSlot(ctx context.Context, slotID string, payerID string, paymentID string, at time.Time) (ports.SlotBooking, error) {
	var doc slotDocument
	err := r.slots.FindOneAndUpdate(ctx,
		bson.D{
			{Key: "_id", Value: slotID},
			{Key: "status", Value: string(entities.SlotStatusActive)},
		},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "status", Value: string(entities.SlotStatusBooked)},
			{Key: "bookedBy", Value: payerID},
			{Key: "bookedByPayment", Value: paymentID},
			{Key: "updatedAt", Value: at.UTC()},
		}}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err == nil {
		return ports.SlotBooking{Slot: doc.toEntity(), Outcome: entities.SlotBookedNow}, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return ports.SlotBooking{}, r.translate("booking_mongo_book_slot_failed", err,
			"slot_id", slotID,
			"payment_id", paymentID,
		)
	}
	slot, err := r.GetSlot(ctx, slotID)
	if err != nil {
		return ports.SlotBooking{}, err
	}
	if slot.Status == entities.SlotStatusBooked && slot.BookedBy == payerID {
		return ports.SlotBooking{Slot: slot, Outcome: entities.SlotAlreadyHeld}, nil
	}
	return ports.SlotBooking{}, domainerrors.ErrSlotAlreadyBooked
}

func (r *Repository) SaveSettlement(ctx context.Context, settlement entities.Settlement) error {
	doc := settlementDocumentFromEntity(settlement)
	_, err := r.settlements.ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: doc.ID}},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return r.translate("booking_mongo_save_settlement_failed", err, "payment_id", settlement.PaymentID)
	}
	return nil
}

func (r *Repository) GetSettlement(ctx context.Context, paymentID string) (entities.Settlement, error) {
	var doc settlementDocument
	err := r.settlements.FindOne(ctx, bson.D{{Key: "_id", Value: strings.TrimSpace(paymentID)}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return entities.Settlement{}, domainerrors.ErrSettlementNotFound
		}
		return entities.Settlement{}, r.translate("booking_mongo_get_settlement_failed", err, "payment_id", paymentID)
	}
	return doc.toEntity(), nil
}

func (r *Repository) ListIncompleteSettlements(ctx context.Context, updatedBefore time.Time, maxAttempts int, limit int) ([]entities.Settlement, error) {
	terminal := bson.A{
		string(entities.StepApplied),
		string(entities.StepNoop),
		string(entities.StepSkipped),
		string(entities.StepConflict),
	}
	cursor, err := r.settlements.Find(ctx,
		bson.D{
			{Key: "updatedAt", Value: bson.D{{Key: "$lt", Value: updatedBefore.UTC()}}},
			{Key: "attempts", Value: bson.D{{Key: "$lt", Value: maxAttempts}}},
			{Key: "$or", Value: bson.A{
				bson.D{{Key: "classStep", Value: bson.D{{Key: "$nin", Value: terminal}}}},
				bson.D{{Key: "slotStep", Value: bson.D{{Key: "$nin", Value: terminal}}}},
			}},
		},
		options.Find().
			SetSort(bson.D{{Key: "updatedAt", Value: 1}, {Key: "_id", Value: 1}}).
			SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, r.translate("booking_mongo_list_incomplete_settlements_failed", err, "limit", limit)
	}
	var docs []settlementDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, r.translate("booking_mongo_decode_settlements_failed", err, "limit", limit)
	}
	items := make([]entities.Settlement, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc.toEntity())
	}
	return items, nil
}

// AdminBalance computes the total and the recent list in one $facet stage,
// so both are evaluated by a single aggregation over the same cursor.
func (r *Repository) AdminBalance(ctx context.Context, recent int) (entities.Balance, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$facet", Value: bson.D{
			{Key: "totals", Value: bson.A{
				bson.D{{Key: "$group", Value: bson.D{
					{Key: "_id", Value: nil},
					{Key: "total", Value: bson.D{{Key: "$sum", Value: "$amount"}}},
					{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
				}}},
			}},
			{Key: "recent", Value: bson.A{
				bson.D{{Key: "$sort", Value: bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}}},
				bson.D{{Key: "$limit", Value: int64(recent)}},
			}},
		}}},
	}
	cursor, err := r.payments.Aggregate(ctx, pipeline)
	if err != nil {
		return entities.Balance{}, r.translate("booking_mongo_admin_balance_failed", err, "recent", recent)
	}
	var rows []struct {
		Totals []struct {
			Total bson.Decimal128 `bson:"total"`
			Count int64           `bson:"count"`
		} `bson:"totals"`
		Recent []paymentDocument `bson:"recent"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return entities.Balance{}, r.translate("booking_mongo_decode_admin_balance_failed", err, "recent", recent)
	}
	balance := entities.Balance{Total: decimal.Zero, Recent: []entities.Payment{}}
	if len(rows) == 0 {
		return balance, nil
	}
	if len(rows[0].Totals) > 0 {
		total, err := decimal.NewFromString(rows[0].Totals[0].Total.String())
		if err != nil {
			return entities.Balance{}, err
		}
		balance.Total = total
		balance.PaymentCount = rows[0].Totals[0].Count
	}
	balance.Recent, err = paymentsFromDocuments(rows[0].Recent)
	if err != nil {
		return entities.Balance{}, err
	}
	return balance, nil
}

func (r *Repository) FeaturedClasses(ctx context.Context, limit int) ([]entities.ClassOffering, error) {
	cursor, err := r.classes.Find(ctx,
		bson.D{},
		options.Find().
			SetSort(bson.D{{Key: "bookingCount", Value: -1}, {Key: "_id", Value: 1}}).
			SetLimit(int64(limit)).
			SetProjection(bson.D{{Key: "creditedPayments", Value: 0}}),
	)
	if err != nil {
		return nil, r.translate("booking_mongo_featured_classes_failed", err, "limit", limit)
	}
	var docs []classDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, r.translate("booking_mongo_decode_featured_classes_failed", err, "limit", limit)
	}
	items := make([]entities.ClassOffering, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc.toEntity())
	}
	return items, nil
}

func (r *Repository) AppendOutbox(ctx context.Context, envelope ports.EventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	doc := outboxDocument{
		ID:           envelope.EventID,
		EventType:    envelope.EventType,
		PartitionKey: envelope.PartitionKey,
		Payload:      payload,
		Status:       "pending",
		CreatedAt:    envelope.OccurredAt.UTC(),
	}
	if _, err := r.outbox.InsertOne(ctx, doc); err != nil {
		if !mongo.IsDuplicateKeyError(err) {
			return r.translate("booking_mongo_append_outbox_failed", err, "outbox_id", doc.ID)
		}
		var existing outboxDocument
		if err := r.outbox.FindOne(ctx, bson.D{{Key: "_id", Value: doc.ID}}).Decode(&existing); err != nil {
			return r.translate("booking_mongo_append_outbox_load_existing_failed", err, "outbox_id", doc.ID)
		}
		if !bytes.Equal(existing.Payload, payload) {
			return domainerrors.ErrOutboxConflict
		}
	}
	return nil
}

func (r *Repository) ListPendingOutbox(ctx context.Context, limit int) ([]ports.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	cursor, err := r.outbox.Find(ctx,
		bson.D{{Key: "status", Value: "pending"}},
		options.Find().
			SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}).
			SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, r.translate("booking_mongo_list_outbox_failed", err, "limit", limit)
	}
	var docs []outboxDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, r.translate("booking_mongo_decode_outbox_failed", err, "limit", limit)
	}
	items := make([]ports.OutboxMessage, 0, len(docs))
	for _, doc := range docs {
		items = append(items, ports.OutboxMessage{
			OutboxID:     doc.ID,
			EventType:    doc.EventType,
			PartitionKey: doc.PartitionKey,
			Payload:      doc.Payload,
			CreatedAt:    doc.CreatedAt.UTC(),
		})
	}
	return items, nil
}

func (r *Repository) MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error {
	result, err := r.outbox.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: outboxID}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "status", Value: "published"},
			{Key: "publishedAt", Value: publishedAt.UTC()},
		}}},
	)
	if err != nil {
		return r.translate("booking_mongo_mark_outbox_failed", err, "outbox_id", outboxID)
	}
	if result.MatchedCount == 0 {
		return domainerrors.ErrConflict
	}
	return nil
}

func (r *Repository) translate(event string, err error, attrs ...any) error {
	if domainerrors.IsCategorized(err) {
		return err
	}
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "scheduling/booking-coordinator",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("booking mongo operation failed", fields...)
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domainerrors.Transient(err)
	}
	return err
}

var _ ports.PaymentRepository = (*Repository)(nil)
var _ ports.ClassRepository = (*Repository)(nil)
var _ ports.SlotRepository = (*Repository)(nil)
var _ ports.SettlementRepository = (*Repository)(nil)
var _ ports.InsightsReader = (*Repository)(nil)
var _ ports.OutboxWriter = (*Repository)(nil)
var _ ports.OutboxRepository = (*Repository)(nil)
