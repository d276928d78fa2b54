package testutil

import (
	"context"
	"testing"

	"github.com/engramhq/engram/internal/engine"
)

func TestNewTestDBInitialisesSchema(t *testing.T) {
	db := NewTestDB(t)

	for _, table := range []string{"memory_nodes", "memory_nodes_fts", "embeddings",
		"connections", "intentions", "state_transitions", "consolidation_records", "dream_records"} {
		if !db.TableExists(table) {
			t.Errorf("table %s missing from test schema", table)
		}
	}

	version, err := db.GetSchemaVersion()
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if version < 2 {
		t.Errorf("schema version = %d, want migrations applied (>= 2)", version)
	}
}

func TestNewTestEngineRoundTrips(t *testing.T) {
	eng := NewTestEngine(t)

	res, err := eng.Ingest(context.Background(), engine.IngestRequest{
		Content: "fixture smoke test memory", NodeType: "note",
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if _, err := eng.Get(res.NodeID); err != nil {
		t.Fatalf("get after ingest: %v", err)
	}
}
