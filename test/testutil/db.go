package testutil

import (
	"database/sql"
	"os"
	"testing"

	"github.com/xxxsen/ragcore/internal/config"
	"github.com/xxxsen/ragcore/internal/repo"
)

// EmbeddingDim is the vector width the test schema is created with.
const EmbeddingDim = 8

func OpenTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		t.Skip("TEST_DB_HOST not set, skipping postgres test")
	}
	conn, err := repo.Open(config.DatabaseConfig{
		Host:     host,
		Port:     5432,
		User:     "ragcore",
		Password: "ragcore_pass",
		DBName:   "ragcore_test",
		SSLMode:  "disable",
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := repo.ApplyMigrations(conn, EmbeddingDim); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return conn, func() {
		_ = conn.Close()
	}
}
