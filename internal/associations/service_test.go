package associations

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/engramhq/engram/internal/database"
)

func newTestService(t *testing.T) (*Service, *database.Database) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "engram.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return NewService(db), db
}

func createTestNode(t *testing.T, db *database.Database, content string) *database.MemoryNode {
	t.Helper()
	n := &database.MemoryNode{Content: content, NodeType: "fact", RetentionStrength: 1}
	if err := database.CreateMemoryNode(db, n); err != nil {
		t.Fatalf("create node: %v", err)
	}
	return n
}

func TestRebuildAndAssociates(t *testing.T) {
	svc, db := newTestService(t)

	a := createTestNode(t, db, "Go uses goroutines for concurrency")
	b := createTestNode(t, db, "Channels synchronise goroutines")
	c := createTestNode(t, db, "Python uses asyncio")

	for _, conn := range []*database.Connection{
		{SourceID: a.ID, TargetID: b.ID, Strength: 0.9, LinkType: "semantic"},
		{SourceID: a.ID, TargetID: c.ID, Strength: 0.2, LinkType: "complementary"},
	} {
		if err := database.SaveConnection(db, conn); err != nil {
			t.Fatalf("save connection: %v", err)
		}
	}

	edges, err := svc.Associates(a.ID, 5)
	if err != nil {
		t.Fatalf("cold-cache associates: %v", err)
	}
	if len(edges) != 2 {
		t.Fatalf("cold-cache associates returned %d edges, want 2", len(edges))
	}

	n, err := svc.Rebuild(time.Now().UTC())
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if n != 2 {
		t.Errorf("rebuild cached %d edges, want 2", n)
	}

	edges, err = svc.Associates(a.ID, 1)
	if err != nil {
		t.Fatalf("warm-cache associates: %v", err)
	}
	if len(edges) != 1 || edges[0].TargetID != b.ID {
		t.Errorf("top association = %+v, want strongest edge to %s", edges, b.ID)
	}
}

func TestSpreadBounded(t *testing.T) {
	svc, db := newTestService(t)

	// Chain a -> b -> c -> d; two hops from a must not reach d.
	nodes := make([]*database.MemoryNode, 4)
	for i := range nodes {
		nodes[i] = createTestNode(t, db, "chain node")
	}
	for i := 0; i < 3; i++ {
		if err := database.SaveConnection(db, &database.Connection{
			SourceID: nodes[i].ID, TargetID: nodes[i+1].ID, Strength: 0.8, LinkType: "temporal",
		}); err != nil {
			t.Fatalf("save connection: %v", err)
		}
	}
	if _, err := svc.Rebuild(time.Now().UTC()); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	reached := svc.Spread([]string{nodes[0].ID}, 2, 50)
	ids := make(map[string]bool)
	for _, r := range reached {
		ids[r.MemoryID] = true
	}
	if !ids[nodes[1].ID] || !ids[nodes[2].ID] {
		t.Errorf("spread should reach b and c, got %+v", reached)
	}
	if ids[nodes[3].ID] {
		t.Errorf("spread crossed the hop bound to reach d: %+v", reached)
	}

	// Activation attenuates with each hop.
	var actB, actC float64
	for _, r := range reached {
		switch r.MemoryID {
		case nodes[1].ID:
			actB = r.Activation
		case nodes[2].ID:
			actC = r.Activation
		}
	}
	if actC >= actB {
		t.Errorf("activation at two hops (%v) should be below one hop (%v)", actC, actB)
	}
}

func TestPrune(t *testing.T) {
	svc, db := newTestService(t)

	a := createTestNode(t, db, "anchor")
	b := createTestNode(t, db, "weak old neighbour")
	c := createTestNode(t, db, "strong neighbour")

	old := time.Now().UTC().Add(-90 * 24 * time.Hour)
	if err := database.SaveConnection(db, &database.Connection{
		SourceID: a.ID, TargetID: b.ID, Strength: 0.05, LinkType: "semantic", LastActivated: old,
	}); err != nil {
		t.Fatalf("save weak connection: %v", err)
	}
	if err := database.SaveConnection(db, &database.Connection{
		SourceID: a.ID, TargetID: c.ID, Strength: 0.9, LinkType: "semantic",
	}); err != nil {
		t.Fatalf("save strong connection: %v", err)
	}

	pruned, err := svc.Prune(0.1, 30*24*time.Hour, time.Now().UTC())
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned %d connections, want 1", pruned)
	}

	remaining, err := database.GetOutboundConnections(db, a.ID, 0)
	if err != nil {
		t.Fatalf("get connections: %v", err)
	}
	if len(remaining) != 1 || remaining[0].TargetID != c.ID {
		t.Errorf("remaining connections = %+v, want only the strong edge", remaining)
	}
}
