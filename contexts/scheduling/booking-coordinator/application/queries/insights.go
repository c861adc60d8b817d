package queries

import (
	"context"
	"time"

	application "gymcore/contexts/scheduling/booking-coordinator/application"
	"gymcore/contexts/scheduling/booking-coordinator/domain/entities"
	"gymcore/contexts/scheduling/booking-coordinator/ports"
)

const (
	DefaultRecentPayments  = 6
	DefaultFeaturedClasses = 6
	maxInsightsWindow      = 50
)

// InsightsQueryUseCase serves the admin and landing-page rollups. It only
// reads.
type InsightsQueryUseCase struct {
	Reader       ports.InsightsReader
	StoreTimeout time.Duration
}

func (uc InsightsQueryUseCase) AdminBalance(ctx context.Context, recent int) (entities.Balance, error) {
	storeCtx, cancel := application.StoreContext(ctx, uc.StoreTimeout)
	defer cancel()
	balance, err := uc.Reader.AdminBalance(storeCtx, clampWindow(recent, DefaultRecentPayments))
	if err != nil {
		return entities.Balance{}, application.ClassifyStoreError(err)
	}
	return balance, nil
}

// FeaturedClasses orders by booking count descending, ties by class id.
func (uc InsightsQueryUseCase) FeaturedClasses(ctx context.Context, limit int) ([]entities.ClassOffering, error) {
	storeCtx, cancel := application.StoreContext(ctx, uc.StoreTimeout)
	defer cancel()
	classes, err := uc.Reader.FeaturedClasses(storeCtx, clampWindow(limit, DefaultFeaturedClasses))
	if err != nil {
		return nil, application.ClassifyStoreError(err)
	}
	return classes, nil
}

func clampWindow(n int, fallback int) int {
	if n <= 0 {
		return fallback
	}
	if n > maxInsightsWindow {
		return maxInsightsWindow
	}
	return n
}
