package voteledger

import (
	"log/slog"
	"time"

	httpadapter "gymcore/contexts/community/vote-ledger/adapters/http"
	"gymcore/contexts/community/vote-ledger/adapters/memory"
	"gymcore/contexts/community/vote-ledger/application/commands"
	"gymcore/contexts/community/vote-ledger/application/queries"
	"gymcore/contexts/community/vote-ledger/application/workers"
	"gymcore/contexts/community/vote-ledger/domain/entities"
	"gymcore/contexts/community/vote-ledger/ports"
)

type Module struct {
	Handler httpadapter.Handler
	Store   *memory.Store
}

type Dependencies struct {
	Posts        ports.PostRepository
	Outbox       ports.OutboxWriter
	Clock        ports.Clock
	IDGen        ports.IDGenerator
	StoreTimeout time.Duration
	Logger       *slog.Logger
}

func NewModule(deps Dependencies) Module {
	return Module{
		Handler: httpadapter.Handler{
			Votes: commands.VoteUseCase{
				Posts:        deps.Posts,
				Outbox:       deps.Outbox,
				Clock:        deps.Clock,
				IDGen:        deps.IDGen,
				StoreTimeout: deps.StoreTimeout,
				Logger:       deps.Logger,
			},
			Posts: queries.PostQueryUseCase{
				Posts:        deps.Posts,
				StoreTimeout: deps.StoreTimeout,
			},
			Logger: deps.Logger,
		},
	}
}

func NewInMemoryModule(seed []entities.Post, logger *slog.Logger) Module {
	store := memory.NewStore(seed)
	module := NewModule(Dependencies{
		Posts:        store,
		Outbox:       store,
		Clock:        store,
		IDGen:        store,
		StoreTimeout: 5 * time.Second,
		Logger:       logger,
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
