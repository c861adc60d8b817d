package boltadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"gymcore/contexts/scheduling/booking-coordinator/domain/entities"
	domainerrors "gymcore/contexts/scheduling/booking-coordinator/domain/errors"
	"gymcore/contexts/scheduling/booking-coordinator/ports"

	bolt "github.com/boltdb/bolt"
	"github.com/shopspring/decimal"
)

var (
	paymentsBucket    = []byte("booking_payments")
	classesBucket     = []byte("booking_classes")
	slotsBucket       = []byte("booking_slots")
	settlementsBucket = []byte("booking_settlements")
	outboxBucket      = []byte("booking_outbox")
)

// Store keeps booking documents as JSON in an embedded bolt file. Bolt runs
// one writer at a time, so every conditional write is a read-modify-write in
// a single update transaction and rollups read from one view snapshot.
type Store struct {
	db     *bolt.DB
	logger *slog.Logger
}

// NewStore ensures the booking buckets exist on an already opened database.
func NewStore(db *bolt.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{paymentsBucket, classesBucket, slotsBucket, settlementsBucket, outboxBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) InsertPayment(ctx context.Context, payment entities.Payment) (entities.Payment, bool, error) {
	if err := ctx.Err(); err != nil {
		return entities.Payment{}, false, domainerrors.Transient(err)
	}
	stored := payment
	created := false
	err := s.update("booking_bolt_insert_payment_failed", func(tx *bolt.Tx) error {
		bucket := tx.Bucket(paymentsBucket)
		key := []byte(payment.PaymentID)
		if raw := bucket.Get(key); raw != nil {
			return json.Unmarshal(raw, &stored)
		}
		created = true
		return putJSON(bucket, key, payment)
	})
	if err != nil {
		return entities.Payment{}, false, err
	}
	return stored, created, nil
}

func (s *Store) GetPayment(ctx context.Context, paymentID string) (entities.Payment, error) {
	var payment entities.Payment
	err := s.view(ctx, func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(paymentsBucket), paymentID, &payment, domainerrors.ErrPaymentNotFound)
	})
	return payment, err
}

func (s *Store) ListPaymentsWithoutSettlement(ctx context.Context, createdBefore time.Time, limit int) ([]entities.Payment, error) {
	var items []entities.Payment
	err := s.view(ctx, func(tx *bolt.Tx) error {
		settlements := tx.Bucket(settlementsBucket)
		return tx.Bucket(paymentsBucket).ForEach(func(k, v []byte) error {
			if settlements.Get(k) != nil {
				return nil
			}
			var payment entities.Payment
			if err := json.Unmarshal(v, &payment); err != nil {
				return err
			}
			if payment.CreatedAt.Before(createdBefore) {
				items = append(items, payment)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].PaymentID < items[j].PaymentID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return truncate(items, limit), nil
}

func (s *Store) CreateClass(ctx context.Context, class entities.ClassOffering) error {
	if err := ctx.Err(); err != nil {
		return domainerrors.Transient(err)
	}
	return s.update("booking_bolt_create_class_failed", func(tx *bolt.Tx) error {
		bucket := tx.Bucket(classesBucket)
		key := []byte(class.ClassID)
		if bucket.Get(key) != nil {
			return domainerrors.ErrClassExists
		}
		return putJSON(bucket, key, class)
	})
}

func (s *Store) GetClass(ctx context.Context, classID string) (entities.ClassOffering, error) {
	var class entities.ClassOffering
	err := s.view(ctx, func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(classesBucket), classID, &class, domainerrors.ErrClassNotFound)
	})
	return class, err
}

func (s *Store) AddTrainer(ctx context.Context, classID string, trainerID string, at time.Time) (entities.ClassOffering, error) {
	if err := ctx.Err(); err != nil {
		return entities.ClassOffering{}, domainerrors.Transient(err)
	}
	var class entities.ClassOffering
	err := s.update("booking_bolt_add_trainer_failed", func(tx *bolt.Tx) error {
		bucket := tx.Bucket(classesBucket)
		if err := getJSON(bucket, classID, &class, domainerrors.ErrClassNotFound); err != nil {
			return err
		}
		if !class.AddTrainer(trainerID, at) {
			return nil
		}
		return putJSON(bucket, []byte(classID), class)
	})
	if err != nil {
		return entities.ClassOffering{}, err
	}
	return class, nil
}

func (s *Store) CreditBooking(ctx context.Context, classID string, paymentID string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, domainerrors.Transient(err)
	}
	credited := false
	err := s.update("booking_bolt_credit_booking_failed", func(tx *bolt.Tx) error {
		bucket := tx.Bucket(classesBucket)
		var class entities.ClassOffering
		if err := getJSON(bucket, classID, &class, domainerrors.ErrClassNotFound); err != nil {
			return err
		}
		credited = class.Credit(paymentID, at)
		if !credited {
			return nil
		}
		return putJSON(bucket, []byte(classID), class)
	})
	if err != nil {
		return false, err
	}
	return credited, nil
}

func (s *Store) CreateSlot(ctx context.Context, slot entities.Slot) error {
	if err := ctx.Err(); err != nil {
		return domainerrors.Transient(err)
	}
	return s.update("booking_bolt_create_slot_failed", func(tx *bolt.Tx) error {
		bucket := tx.Bucket(slotsBucket)
		key := []byte(slot.SlotID)
		if bucket.Get(key) != nil {
			return domainerrors.ErrSlotExists
		}
		return putJSON(bucket, key, slot)
	})
}

func (s *Store) GetSlot(ctx context.Context, slotID string) (entities.Slot, error) {
	var slot entities.Slot
	err := s.view(ctx, func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(slotsBucket), slotID, &slot, domainerrors.ErrSlotNotFound)
	})
	return slot, err
}

func (s *Store) BookSlot(ctx context.Context, slotID string, payerID string, paymentID string, at time.Time) (ports.SlotBooking, error) {
	if err := ctx.Err(); err != nil {
		return ports.SlotBooking{}, domainerrors.Transient(err)
	}
	var booking ports.SlotBooking
	err := s.update("booking_bolt_book_slot_failed", func(tx *bolt.Tx) error {
		bucket := tx.Bucket(slotsBucket)
		var slot entities.Slot
		if err := getJSON(bucket, slotID, &slot, domainerrors.ErrSlotNotFound); err != nil {
			return err
		}
		outcome, err := slot.Book(payerID, paymentID, at)
		if err != nil {
			return err
		}
		booking = ports.SlotBooking{Slot: slot, Outcome: outcome}
		if outcome != entities.SlotBookedNow {
			return nil
		}
		return putJSON(bucket, []byte(slotID), slot)
	})
	if err != nil {
		return ports.SlotBooking{}, err
	}
	return booking, nil
}

func (s *Store) SaveSettlement(ctx context.Context, settlement entities.Settlement) error {
	if err := ctx.Err(); err != nil {
		return domainerrors.Transient(err)
	}
	return s.update("booking_bolt_save_settlement_failed", func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(settlementsBucket), []byte(settlement.PaymentID), settlement)
	})
}

func (s *Store) GetSettlement(ctx context.Context, paymentID string) (entities.Settlement, error) {
	var settlement entities.Settlement
	err := s.view(ctx, func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(settlementsBucket), paymentID, &settlement, domainerrors.ErrSettlementNotFound)
	})
	return settlement, err
}

func (s *Store) ListIncompleteSettlements(ctx context.Context, updatedBefore time.Time, maxAttempts int, limit int) ([]entities.Settlement, error) {
	var items []entities.Settlement
	err := s.view(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(settlementsBucket).ForEach(func(_, v []byte) error {
			var settlement entities.Settlement
			if err := json.Unmarshal(v, &settlement); err != nil {
				return err
			}
			if settlement.Complete() || settlement.Attempts >= maxAttempts || !settlement.UpdatedAt.Before(updatedBefore) {
				return nil
			}
			items = append(items, settlement)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].PaymentID < items[j].PaymentID
		}
		return items[i].UpdatedAt.Before(items[j].UpdatedAt)
	})
	return truncate(items, limit), nil
}

// AdminBalance scans payments inside one read transaction, which bolt serves
// from a consistent snapshot.
func (s *Store) AdminBalance(ctx context.Context, recent int) (entities.Balance, error) {
	balance := entities.Balance{Total: decimal.Zero}
	var all []entities.Payment
	err := s.view(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(paymentsBucket).ForEach(func(_, v []byte) error {
			var payment entities.Payment
			if err := json.Unmarshal(v, &payment); err != nil {
				return err
			}
			balance.Total = balance.Total.Add(payment.Amount)
			balance.PaymentCount++
			all = append(all, payment)
			return nil
		})
	})
	if err != nil {
		return entities.Balance{}, err
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].PaymentID > all[j].PaymentID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	balance.Recent = truncate(all, recent)
	if balance.Recent == nil {
		balance.Recent = []entities.Payment{}
	}
	return balance, nil
}

func (s *Store) FeaturedClasses(ctx context.Context, limit int) ([]entities.ClassOffering, error) {
	var items []entities.ClassOffering
	err := s.view(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(classesBucket).ForEach(func(_, v []byte) error {
			var class entities.ClassOffering
			if err := json.Unmarshal(v, &class); err != nil {
				return err
			}
			items = append(items, class)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].BookingCount == items[j].BookingCount {
			return items[i].ClassID < items[j].ClassID
		}
		return items[i].BookingCount > items[j].BookingCount
	})
	return truncate(items, limit), nil
}

type outboxEntry struct {
	Message   ports.OutboxMessage `json:"message"`
	Published bool                `json:"published"`
}

func (s *Store) AppendOutbox(_ context.Context, envelope ports.EventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return s.update("booking_bolt_append_outbox_failed", func(tx *bolt.Tx) error {
		bucket := tx.Bucket(outboxBucket)
		key := []byte(envelope.EventID)
		if raw := bucket.Get(key); raw != nil {
			var existing outboxEntry
			if err := json.Unmarshal(raw, &existing); err != nil {
				return err
			}
			if !bytes.Equal(existing.Message.Payload, payload) {
				return domainerrors.ErrOutboxConflict
			}
			return nil
		}
		return putJSON(bucket, key, outboxEntry{Message: ports.OutboxMessage{
			OutboxID:     envelope.EventID,
			EventType:    envelope.EventType,
			PartitionKey: envelope.PartitionKey,
			Payload:      payload,
			CreatedAt:    envelope.OccurredAt.UTC(),
		}})
	})
}

func (s *Store) ListPendingOutbox(ctx context.Context, limit int) ([]ports.OutboxMessage, error) {
	var items []ports.OutboxMessage
	err := s.view(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(outboxBucket).ForEach(func(_, v []byte) error {
			var entry outboxEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			if !entry.Published {
				items = append(items, entry.Message)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].OutboxID < items[j].OutboxID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return truncate(items, limit), nil
}

func (s *Store) MarkOutboxPublished(_ context.Context, outboxID string, _ time.Time) error {
	return s.update("booking_bolt_mark_outbox_failed", func(tx *bolt.Tx) error {
		bucket := tx.Bucket(outboxBucket)
		key := []byte(outboxID)
		raw := bucket.Get(key)
		if raw == nil {
			return domainerrors.ErrConflict
		}
		var entry outboxEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return err
		}
		entry.Published = true
		return putJSON(bucket, key, entry)
	})
}

func (s *Store) update(event string, fn func(tx *bolt.Tx) error) error {
	err := s.db.Update(fn)
	if err == nil || domainerrors.IsCategorized(err) {
		return err
	}
	s.logger.Error("booking bolt operation failed",
		"event", event,
		"module", "scheduling/booking-coordinator",
		"layer", "adapter",
		"error", err.Error(),
	)
	if errors.Is(err, bolt.ErrTimeout) || errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return domainerrors.Transient(err)
	}
	return err
}

func (s *Store) view(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return domainerrors.Transient(err)
	}
	err := s.db.View(fn)
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return domainerrors.Transient(err)
	}
	return err
}

func getJSON(bucket *bolt.Bucket, key string, out any, notFound error) error {
	raw := bucket.Get([]byte(strings.TrimSpace(key)))
	if raw == nil {
		return notFound
	}
	return json.Unmarshal(raw, out)
}

func putJSON(bucket *bolt.Bucket, key []byte, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return bucket.Put(key, raw)
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

var _ ports.PaymentRepository = (*Store)(nil)
var _ ports.ClassRepository = (*Store)(nil)
var _ ports.SlotRepository = (*Store)(nil)
var _ ports.SettlementRepository = (*Store)(nil)
var _ ports.InsightsReader = (*Store)(nil)
var _ ports.OutboxWriter = (*Store)(nil)
var _ ports.OutboxRepository = (*Store)(nil)
