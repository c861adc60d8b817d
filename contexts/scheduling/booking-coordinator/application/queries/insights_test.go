package queries

import (
	"context"
	"testing"
	"time"

	"gymcore/contexts/scheduling/booking-coordinator/adapters/memory"
	"gymcore/contexts/scheduling/booking-coordinator/domain/entities"

	"github.com/shopspring/decimal"
)

func TestAdminBalanceSumsAllAndListsRecent(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 8; i++ {
		if _, _, err := store.InsertPayment(ctx, entities.Payment{
			PaymentID: string(rune('a' + i)),
			ClassID:   "class-1",
			PayerID:   "x@gym.test",
			Amount:    decimal.RequireFromString("12.50"),
			Currency:  "USD",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("insert payment failed: %v", err)
		}
	}

	uc := InsightsQueryUseCase{Reader: store, StoreTimeout: time.Second}
	balance, err := uc.AdminBalance(ctx, 0)
	if err != nil {
		t.Fatalf("admin balance failed: %v", err)
	}
	if !balance.Total.Equal(decimal.RequireFromString("100")) || balance.PaymentCount != 8 {
		t.Fatalf("unexpected totals: %s / %d", balance.Total, balance.PaymentCount)
	}
	if len(balance.Recent) != DefaultRecentPayments {
		t.Fatalf("expected %d recent payments, got %d", DefaultRecentPayments, len(balance.Recent))
	}
	if balance.Recent[0].PaymentID != "h" {
		t.Fatalf("expected newest payment first, got %q", balance.Recent[0].PaymentID)
	}
}

func TestFeaturedClassesOrdersByCountThenID(t *testing.T) {
	store := memory.NewStore()
	store.SetClass(entities.ClassOffering{ClassID: "c-boxing", BookingCount: 3})
	store.SetClass(entities.ClassOffering{ClassID: "b-yoga", BookingCount: 5})
	store.SetClass(entities.ClassOffering{ClassID: "a-spin", BookingCount: 3})
	store.SetClass(entities.ClassOffering{ClassID: "d-pilates", BookingCount: 1})

	uc := InsightsQueryUseCase{Reader: store}
	classes, err := uc.FeaturedClasses(context.Background(), 3)
	if err != nil {
		t.Fatalf("featured classes failed: %v", err)
	}
	want := []string{"b-yoga", "a-spin", "c-boxing"}
	if len(classes) != len(want) {
		t.Fatalf("expected %d classes, got %d", len(want), len(classes))
	}
	for i, id := range want {
		if classes[i].ClassID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, classes[i].ClassID)
		}
	}
}
