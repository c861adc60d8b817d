// Package pgtest starts a throwaway Postgres for adapter integration tests.
package pgtest

import (
	"context"
	"testing"

	"gymcore/internal/platform/db"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"gorm.io/gorm"
)

const image = "postgres:16-alpine"

// Start runs a Postgres container for the lifetime of t and returns a
// connected handle. Tests are skipped under -short or without a container
// runtime.
func Start(t *testing.T) *gorm.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := postgres.Run(ctx, image,
		postgres.WithDatabase("gymcore"),
		postgres.WithUsername("gymcore"),
		postgres.WithPassword("gymcore"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("postgres connection string: %v", err)
	}
	pg, err := db.Connect(dsn)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(func() { _ = pg.Close() })
	return pg.DB
}
