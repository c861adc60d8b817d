// Package mongotest starts a throwaway MongoDB for adapter integration tests.
package mongotest

import (
	"context"
	"testing"

	"gymcore/internal/platform/db"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

const image = "mongo:7"

// Start runs a MongoDB container for the lifetime of t and returns a fresh
// database on it. Tests are skipped under -short or without a container
// runtime.
func Start(t *testing.T) *mongo.Database {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping mongo integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := mongodb.Run(ctx, image)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("start mongo container: %v", err)
	}

	uri, err := ctr.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("mongo connection string: %v", err)
	}
	m, err := db.ConnectMongo(uri, "gymcore_test")
	if err != nil {
		t.Fatalf("connect mongo: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m.Database
}
