// Package testutil provides shared fixtures for engram's tests: a
// schema-initialised temporary store and a fully wired engine backed by
// the deterministic embedder and the in-process vector index.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/engramhq/engram/internal/database"
	"github.com/engramhq/engram/internal/engine"
	"github.com/engramhq/engram/pkg/config"
)

// NewTestDB creates a temporary store with the full schema and all
// migrations applied, cleaned up with the test.
func NewTestDB(t *testing.T) *database.Database {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "engram-test.db"))
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.InitSchema(); err != nil {
		t.Fatalf("init test schema: %v", err)
	}
	if err := database.RunMigrations(db.DB()); err != nil {
		t.Fatalf("run test migrations: %v", err)
	}
	return db
}

// TestConfig returns a config suitable for tests: temp-dir store,
// deterministic embedder, in-process index, analyzer heuristics only.
func TestConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "engram-test.db")
	cfg.Embedding.Provider = "deterministic"
	cfg.Embedding.Dimension = 128
	cfg.VectorIndex.Backend = "inprocess"
	cfg.Analyzer.Enabled = false
	cfg.RestAPI.Enabled = false
	return cfg
}

// NewTestEngine wires a complete engine over a fresh temporary store.
func NewTestEngine(t *testing.T) *engine.Engine {
	t.Helper()

	eng, err := engine.Open(TestConfig(t))
	if err != nil {
		t.Fatalf("open test engine: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng
}
