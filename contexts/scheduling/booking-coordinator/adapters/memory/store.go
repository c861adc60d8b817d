package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"gymcore/contexts/scheduling/booking-coordinator/domain/entities"
	domainerrors "gymcore/contexts/scheduling/booking-coordinator/domain/errors"
	"gymcore/contexts/scheduling/booking-coordinator/ports"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type outboxRecord struct {
	message   ports.OutboxMessage
	published bool
}

// Store keeps every booking collection behind one lock. Each method is one
// atomic unit, which is what the adapters of real stores provide per document.
type Store struct {
	mu          sync.RWMutex
	payments    map[string]entities.Payment
	classes     map[string]entities.ClassOffering
	slots       map[string]entities.Slot
	settlements map[string]entities.Settlement
	outbox      map[string]outboxRecord
}

func NewStore() *Store {
	return &Store{
		payments:    make(map[string]entities.Payment),
		classes:     make(map[string]entities.ClassOffering),
		slots:       make(map[string]entities.Slot),
		settlements: make(map[string]entities.Settlement),
		outbox:      make(map[string]outboxRecord),
	}
}

// SetClass seeds or replaces a class, counters included.
func (s *Store) SetClass(class entities.ClassOffering) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classes[strings.TrimSpace(class.ClassID)] = cloneClass(class)
}

// SetSlot seeds or replaces a slot.
func (s *Store) SetSlot(slot entities.Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[strings.TrimSpace(slot.SlotID)] = slot
}

func (s *Store) InsertPayment(ctx context.Context, payment entities.Payment) (entities.Payment, bool, error) {
	if err := ctx.Err(); err != nil {
		return entities.Payment{}, false, domainerrors.Transient(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.payments[payment.PaymentID]; ok {
		return existing, false, nil
	}
	s.payments[payment.PaymentID] = payment
	return payment, true, nil
}

func (s *Store) GetPayment(_ context.Context, paymentID string) (entities.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payment, ok := s.payments[paymentID]
	if !ok {
		return entities.Payment{}, domainerrors.ErrPaymentNotFound
	}
	return payment, nil
}

func (s *Store) ListPaymentsWithoutSettlement(_ context.Context, createdBefore time.Time, limit int) ([]entities.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.Payment, 0)
	for id, payment := range s.payments {
		if _, ok := s.settlements[id]; ok {
			continue
		}
		if !payment.CreatedAt.Before(createdBefore) {
			continue
		}
		items = append(items, payment)
	}
	sortPaymentsOldestFirst(items)
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) CreateClass(_ context.Context, class entities.ClassOffering) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.classes[class.ClassID]; exists {
		return domainerrors.ErrClassExists
	}
	s.classes[class.ClassID] = cloneClass(class)
	return nil
}

func (s *Store) GetClass(_ context.Context, classID string) (entities.ClassOffering, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	class, ok := s.classes[classID]
	if !ok {
		return entities.ClassOffering{}, domainerrors.ErrClassNotFound
	}
	return cloneClass(class), nil
}

func (s *Store) AddTrainer(_ context.Context, classID string, trainerID string, at time.Time) (entities.ClassOffering, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	class, ok := s.classes[classID]
	if !ok {
		return entities.ClassOffering{}, domainerrors.ErrClassNotFound
	}
	class = cloneClass(class)
	class.AddTrainer(trainerID, at)
	s.classes[classID] = class
	return cloneClass(class), nil
}

func (s *Store) CreditBooking(ctx context.Context, classID string, paymentID string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, domainerrors.Transient(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	class, ok := s.classes[classID]
	if !ok {
		return false, domainerrors.ErrClassNotFound
	}
	class = cloneClass(class)
	credited := class.Credit(paymentID, at)
	s.classes[classID] = class
	return credited, nil
}

func (s *Store) CreateSlot(_ context.Context, slot entities.Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.slots[slot.SlotID]; exists {
		return domainerrors.ErrSlotExists
	}
	s.slots[slot.SlotID] = slot
	return nil
}

func (s *Store) GetSlot(_ context.Context, slotID string) (entities.Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slot, ok := s.slots[slotID]
	if !ok {
		return entities.Slot{}, domainerrors.ErrSlotNotFound
	}
	return slot, nil
}

func (s *Store) BookSlot(ctx context.Context, slotID string, payerID string, paymentID string, at time.Time) (ports.SlotBooking, error) {
	if err := ctx.Err(); err != nil {
		return ports.SlotBooking{}, domainerrors.Transient(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[slotID]
	if !ok {
		return ports.SlotBooking{}, domainerrors.ErrSlotNotFound
	}
	outcome, err := slot.Book(payerID, paymentID, at)
	if err != nil {
		return ports.SlotBooking{}, err
	}
	s.slots[slotID] = slot
	return ports.SlotBooking{Slot: slot, Outcome: outcome}, nil
}

func (s *Store) SaveSettlement(_ context.Context, settlement entities.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settlements[settlement.PaymentID] = settlement
	return nil
}

func (s *Store) GetSettlement(_ context.Context, paymentID string) (entities.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	settlement, ok := s.settlements[paymentID]
	if !ok {
		return entities.Settlement{}, domainerrors.ErrSettlementNotFound
	}
	return settlement, nil
}

func (s *Store) ListIncompleteSettlements(_ context.Context, updatedBefore time.Time, maxAttempts int, limit int) ([]entities.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.Settlement, 0)
	for _, settlement := range s.settlements {
		if settlement.Complete() || settlement.Attempts >= maxAttempts {
			continue
		}
		if !settlement.UpdatedAt.Before(updatedBefore) {
			continue
		}
		items = append(items, settlement)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].PaymentID < items[j].PaymentID
		}
		return items[i].UpdatedAt.Before(items[j].UpdatedAt)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// AdminBalance reads under the store lock, so the sum and the recent list
// come from the same state.
func (s *Store) AdminBalance(_ context.Context, recent int) (entities.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	balance := entities.Balance{Total: decimal.Zero}
	all := make([]entities.Payment, 0, len(s.payments))
	for _, payment := range s.payments {
		balance.Total = balance.Total.Add(payment.Amount)
		balance.PaymentCount++
		all = append(all, payment)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].PaymentID > all[j].PaymentID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if recent > 0 && len(all) > recent {
		all = all[:recent]
	}
	balance.Recent = all
	return balance, nil
}

func (s *Store) FeaturedClasses(_ context.Context, limit int) ([]entities.ClassOffering, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.ClassOffering, 0, len(s.classes))
	for _, class := range s.classes {
		items = append(items, cloneClass(class))
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].BookingCount == items[j].BookingCount {
			return items[i].ClassID < items[j].ClassID
		}
		return items[i].BookingCount > items[j].BookingCount
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) AppendOutbox(_ context.Context, envelope ports.EventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.outbox[envelope.EventID]; ok {
		if !bytes.Equal(existing.message.Payload, payload) {
			return domainerrors.ErrOutboxConflict
		}
		return nil
	}
	s.outbox[envelope.EventID] = outboxRecord{
		message: ports.OutboxMessage{
			OutboxID:     envelope.EventID,
			EventType:    envelope.EventType,
			PartitionKey: envelope.PartitionKey,
			Payload:      payload,
			CreatedAt:    envelope.OccurredAt.UTC(),
		},
	}
	return nil
}

func (s *Store) ListPendingOutbox(_ context.Context, limit int) ([]ports.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]ports.OutboxMessage, 0, len(s.outbox))
	for _, record := range s.outbox {
		if record.published {
			continue
		}
		items = append(items, record.message)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].OutboxID < items[j].OutboxID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) MarkOutboxPublished(_ context.Context, outboxID string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.outbox[outboxID]
	if !ok {
		return domainerrors.ErrConflict
	}
	record.published = true
	s.outbox[outboxID] = record
	return nil
}

// PendingEventTypes lists unpublished outbox event types in append order.
func (s *Store) PendingEventTypes() []string {
	pending, _ := s.ListPendingOutbox(context.Background(), 0)
	types := make([]string, 0, len(pending))
	for _, message := range pending {
		types = append(types, message.EventType)
	}
	return types
}

func (s *Store) Now() time.Time {
	return time.Now().UTC()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

func cloneClass(class entities.ClassOffering) entities.ClassOffering {
	class.TrainerIDs = append([]string(nil), class.TrainerIDs...)
	class.CreditedPayments = append([]string(nil), class.CreditedPayments...)
	return class
}

func sortPaymentsOldestFirst(items []entities.Payment) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].PaymentID < items[j].PaymentID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}

var _ ports.PaymentRepository = (*Store)(nil)
var _ ports.ClassRepository = (*Store)(nil)
var _ ports.SlotRepository = (*Store)(nil)
var _ ports.SettlementRepository = (*Store)(nil)
var _ ports.InsightsReader = (*Store)(nil)
var _ ports.OutboxWriter = (*Store)(nil)
var _ ports.OutboxRepository = (*Store)(nil)
var _ ports.Clock = (*Store)(nil)
var _ ports.IDGenerator = (*Store)(nil)
