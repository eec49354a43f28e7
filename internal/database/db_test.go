package database

import (
	"context"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

// setupTestDB connects to the database described by DB_* variables and
// empties it. Skipped unless INTEGRATION_TEST=true.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run")
	}

	port, _ := strconv.Atoi(envOr("DB_PORT", "5432"))
	ctx := context.Background()
	db, err := New(ctx, Config{
		Host:     envOr("DB_HOST", "localhost"),
		Port:     port,
		User:     envOr("DB_USER", "postgres"),
		Password: envOr("DB_PASSWORD", "postgres"),
		Database: envOr("DB_NAME", "shopee_scraper_test"),
		MaxConns: 4,
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))

	_, err = db.Exec(ctx, "TRUNCATE scrapes CASCADE")
	require.NoError(t, err)
	return db
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
