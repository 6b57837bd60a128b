package repository

import (
	"context"
	"fmt"
	"os"
	"testing"

	"go.uber.org/zap"

	"github.com/Secineralyr/Cotonestrum/internal/config"
	"github.com/Secineralyr/Cotonestrum/internal/db"
)

// setupTestDB creates a test database connection pool for integration tests.
// If TEST_DATABASE_URL is not set, the test is skipped.
func setupTestDB(t *testing.T) *db.Pool {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	cfg := &config.JournalConfig{
		DatabaseURL:        dbURL,
		MaxConnections:     5,
		MaxIdleConnections: 1,
		ConnMaxLifetime:    "1h",
	}

	pool, err := db.NewPool(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create test database pool: %v", err)
	}
	if err := pool.Migrate(context.Background()); err != nil {
		pool.Close()
		t.Fatalf("failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		pool.Close()
	})

	return pool
}

// truncateTables truncates all test tables to ensure a clean state.
func truncateTables(t *testing.T, pool *db.Pool, tables ...string) {
	t.Helper()

	ctx := context.Background()
	for _, table := range tables {
		query := fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)
		if _, err := pool.Exec(ctx, query); err != nil {
			t.Logf("warning: failed to truncate table %s: %v", table, err)
		}
	}
}
