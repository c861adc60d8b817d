package bookingcoordinator

import (
	"log/slog"
	"time"

	httpadapter "gymcore/contexts/scheduling/booking-coordinator/adapters/http"
	"gymcore/contexts/scheduling/booking-coordinator/adapters/memory"
	"gymcore/contexts/scheduling/booking-coordinator/application/commands"
	"gymcore/contexts/scheduling/booking-coordinator/application/queries"
	"gymcore/contexts/scheduling/booking-coordinator/application/workers"
	"gymcore/contexts/scheduling/booking-coordinator/ports"
)

type Module struct {
	Handler  httpadapter.Handler
	Payments commands.PaymentUseCase
	Store    *memory.Store
}

type Dependencies struct {
	Payments             ports.PaymentRepository
	Classes              ports.ClassRepository
	Slots                ports.SlotRepository
	Settlements          ports.SettlementRepository
	Insights             ports.InsightsReader
	Outbox               ports.OutboxWriter
	Clock                ports.Clock
	IDGen                ports.IDGenerator
	StoreTimeout         time.Duration
	StepRetryAttempts    int
	RetryInitialInterval time.Duration
	Logger               *slog.Logger
}

func NewModule(deps Dependencies) Module {
	payments := commands.PaymentUseCase{
		Payments:             deps.Payments,
		Classes:              deps.Classes,
		Slots:                deps.Slots,
		Settlements:          deps.Settlements,
		Outbox:               deps.Outbox,
		Clock:                deps.Clock,
		IDGen:                deps.IDGen,
		StoreTimeout:         deps.StoreTimeout,
		StepRetryAttempts:    deps.StepRetryAttempts,
		RetryInitialInterval: deps.RetryInitialInterval,
		Logger:               deps.Logger,
	}
	return Module{
		Payments: payments,
		Handler: httpadapter.Handler{
			Payments: payments,
			Catalog: commands.CatalogUseCase{
				Classes:      deps.Classes,
				Slots:        deps.Slots,
				Outbox:       deps.Outbox,
				Clock:        deps.Clock,
				IDGen:        deps.IDGen,
				StoreTimeout: deps.StoreTimeout,
				Logger:       deps.Logger,
			},
			Bookings: queries.BookingQueryUseCase{
				Payments:     deps.Payments,
				Settlements:  deps.Settlements,
				Classes:      deps.Classes,
				Slots:        deps.Slots,
				StoreTimeout: deps.StoreTimeout,
			},
			Insights: queries.InsightsQueryUseCase{
				Reader:       deps.Insights,
				StoreTimeout: deps.StoreTimeout,
			},
			Logger: deps.Logger,
		},
	}
}

func NewInMemoryModule(logger *slog.Logger) Module {
	store := memory.NewStore()
	module := NewModule(Dependencies{
		Payments:             store,
		Classes:              store,
		Slots:                store,
		Settlements:          store,
		Insights:             store,
		Outbox:               store,
		Clock:                store,
		IDGen:                store,
		StoreTimeout:         5 * time.Second,
		StepRetryAttempts:    3,
		RetryInitialInterval: 10 * time.Millisecond,
		Logger:               logger,
	})
	module.Store = store
	return module
}

// RelayDependencies configures the outbox relay worker.
type RelayDependencies struct {
	Outbox       ports.OutboxRepository
	Publisher    ports.EventPublisher
	Clock        ports.Clock
	BatchSize    int
	StoreTimeout time.Duration
	Logger       *slog.Logger
}

func NewOutboxRelay(deps RelayDependencies) workers.OutboxRelay {
	return workers.OutboxRelay{
		Outbox:       deps.Outbox,
		Publisher:    deps.Publisher,
		Clock:        deps.Clock,
		BatchSize:    deps.BatchSize,
		StoreTimeout: deps.StoreTimeout,
		Logger:       deps.Logger,
	}
}

// ReconcilerDependencies configures the settlement reconciler.
type ReconcilerDependencies struct {
	Payments     ports.PaymentRepository
	Settlements  ports.SettlementRepository
	Driver       workers.SettlementDriver
	Clock        ports.Clock
	Grace        time.Duration
	MaxAttempts  int
	BatchSize    int
	StoreTimeout time.Duration
	Logger       *slog.Logger
}

func NewSettlementReconciler(deps ReconcilerDependencies) workers.SettlementReconciler {
	return workers.SettlementReconciler{
		Payments:     deps.Payments,
		Settlements:  deps.Settlements,
		Driver:       deps.Driver,
		Clock:        deps.Clock,
		Grace:        deps.Grace,
		MaxAttempts:  deps.MaxAttempts,
		BatchSize:    deps.BatchSize,
		StoreTimeout: deps.StoreTimeout,
		Logger:       deps.Logger,
	}
}
