package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	voteledger "gymcore/contexts/community/vote-ledger"
	voteboltadapter "gymcore/contexts/community/vote-ledger/adapters/bolt"
	votememory "gymcore/contexts/community/vote-ledger/adapters/memory"
	votemongoadapter "gymcore/contexts/community/vote-ledger/adapters/mongo"
	votepostgresadapter "gymcore/contexts/community/vote-ledger/adapters/postgres"
	voteports "gymcore/contexts/community/vote-ledger/ports"
	bookingcoordinator "gymcore/contexts/scheduling/booking-coordinator"
	bookingboltadapter "gymcore/contexts/scheduling/booking-coordinator/adapters/bolt"
	bookingmemory "gymcore/contexts/scheduling/booking-coordinator/adapters/memory"
	bookingmongoadapter "gymcore/contexts/scheduling/booking-coordinator/adapters/mongo"
	bookingpostgresadapter "gymcore/contexts/scheduling/booking-coordinator/adapters/postgres"
	bookingports "gymcore/contexts/scheduling/booking-coordinator/ports"
	"gymcore/internal/platform/config"
	"gymcore/internal/platform/db"
)

type voteStore interface {
	voteports.PostRepository
	voteports.OutboxWriter
	voteports.OutboxRepository
}

type bookingStore interface {
	bookingports.PaymentRepository
	bookingports.ClassRepository
	bookingports.SlotRepository
	bookingports.SettlementRepository
	bookingports.InsightsReader
	bookingports.OutboxWriter
	bookingports.OutboxRepository
}

// stores holds the opened backend for both contexts plus whatever has to be
// closed at shutdown.
type stores struct {
	votes        voteStore
	voteClock    voteports.Clock
	voteIDs      voteports.IDGenerator
	bookings     bookingStore
	bookingClock bookingports.Clock
	bookingIDs   bookingports.IDGenerator
	closers      []func() error
}

func openStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (*stores, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		votes := votememory.NewStore(nil)
		bookings := bookingmemory.NewStore()
		return &stores{
			votes:        votes,
			voteClock:    votes,
			voteIDs:      votes,
			bookings:     bookings,
			bookingClock: bookings,
			bookingIDs:   bookings,
		}, nil

	case config.BackendPostgres:
		pg, err := db.Connect(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		votes := votepostgresadapter.NewRepository(pg.DB, logger)
		bookings := bookingpostgresadapter.NewRepository(pg.DB, logger)
		if cfg.PostgresAutoMigrate {
			if err := errors.Join(votes.AutoMigrate(ctx), bookings.AutoMigrate(ctx)); err != nil {
				_ = pg.Close()
				return nil, fmt.Errorf("migrate postgres: %w", err)
			}
		}
		return withSystemClock(&stores{
			votes:    votes,
			bookings: bookings,
			closers:  []func() error{pg.Close},
		}), nil

	case config.BackendMongo:
		m, err := db.ConnectMongo(cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		votes := votemongoadapter.NewRepository(m.Database, logger)
		bookings := bookingmongoadapter.NewRepository(m.Database, logger)
		if err := errors.Join(votes.EnsureIndexes(ctx), bookings.EnsureIndexes(ctx)); err != nil {
			_ = m.Close()
			return nil, fmt.Errorf("ensure mongo indexes: %w", err)
		}
		return withSystemClock(&stores{
			votes:    votes,
			bookings: bookings,
			closers:  []func() error{m.Close},
		}), nil

	case config.BackendBolt:
		boltDB, err := db.OpenBolt(cfg.BoltPath)
		if err != nil {
			return nil, err
		}
		votes, err := voteboltadapter.NewStore(boltDB, logger)
		if err != nil {
			_ = boltDB.Close()
			return nil, err
		}
		bookings, err := bookingboltadapter.NewStore(boltDB, logger)
		if err != nil {
			_ = boltDB.Close()
			return nil, err
		}
		return withSystemClock(&stores{
			votes:    votes,
			bookings: bookings,
			closers:  []func() error{boltDB.Close},
		}), nil
	}
	return nil, fmt.Errorf("unsupported STORE_BACKEND %q", cfg.StoreBackend)
}

func withSystemClock(s *stores) *stores {
	s.voteClock = votepostgresadapter.SystemClock{}
	s.voteIDs = votepostgresadapter.UUIDGenerator{}
	s.bookingClock = bookingpostgresadapter.SystemClock{}
	s.bookingIDs = bookingpostgresadapter.UUIDGenerator{}
	return s
}

func (s *stores) voteModule(cfg config.Config, logger *slog.Logger) voteledger.Module {
	return voteledger.NewModule(voteledger.Dependencies{
		Posts:        s.votes,
		Outbox:       s.votes,
		Clock:        s.voteClock,
		IDGen:        s.voteIDs,
		StoreTimeout: cfg.StoreTimeout,
		Logger:       logger,
	})
}

func (s *stores) bookingModule(cfg config.Config, logger *slog.Logger) bookingcoordinator.Module {
	return bookingcoordinator.NewModule(bookingcoordinator.Dependencies{
		Payments:             s.bookings,
		Classes:              s.bookings,
		Slots:                s.bookings,
		Settlements:          s.bookings,
		Insights:             s.bookings,
		Outbox:               s.bookings,
		Clock:                s.bookingClock,
		IDGen:                s.bookingIDs,
		StoreTimeout:         cfg.StoreTimeout,
		StepRetryAttempts:    cfg.StepRetryAttempts,
		RetryInitialInterval: cfg.RetryInitialInterval,
		Logger:               logger,
	})
}

func (s *stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}
