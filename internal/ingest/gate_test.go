package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/engramhq/engram/internal/ai"
	"github.com/engramhq/engram/internal/database"
	"github.com/engramhq/engram/internal/embedding"
	"github.com/engramhq/engram/internal/engerr"
	"github.com/engramhq/engram/internal/fsrs"
	"github.com/engramhq/engram/internal/vectorindex"
)

// stubEmbedder returns pre-registered vectors per exact text, so tests
// place candidates at precise similarities to existing memories.
type stubEmbedder struct {
	vectors map[string][]float64
	fail    bool
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	if s.fail {
		return nil, errors.New("embedder down")
	}
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return []float64{0, 0, 0, 1}, nil
}

func (s *stubEmbedder) Dimension() int  { return 4 }
func (s *stubEmbedder) ModelID() string { return "stub" }

// vecAt builds a unit vector whose cosine similarity to [1,0,0,0] is sim.
func vecAt(sim float64) []float64 {
	return []float64{sim, math.Sqrt(1 - sim*sim), 0, 0}
}

type fixture struct {
	db       *database.Database
	index    *vectorindex.InProcessIndex
	embedder *stubEmbedder
	gate     *Gate
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "engram-test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("schema: %v", err)
	}
	if err := database.RunMigrations(db.DB()); err != nil {
		t.Fatalf("migrations: %v", err)
	}

	embedder := &stubEmbedder{vectors: make(map[string][]float64)}
	index := vectorindex.NewInProcessIndex(4)
	scheduler := fsrs.NewScheduler(fsrs.DefaultParameters())
	gate := NewGate(db, index, embedder, scheduler, ai.NewAnalyzer(nil), DefaultConfig())

	return &fixture{db: db, index: index, embedder: embedder, gate: gate}
}

// seedNode plants an existing memory with the base vector [1,0,0,0].
func (f *fixture) seedNode(t *testing.T, content string) *database.MemoryNode {
	t.Helper()
	n := &database.MemoryNode{
		Content: content, NodeType: "fact",
		RetentionStrength: 1, RetrievalStrength: 0.8, StorageStrength: 0.3,
		Stability: 3,
	}
	if err := database.CreateMemoryNode(f.db, n); err != nil {
		t.Fatalf("seed node: %v", err)
	}
	vec := []float64{1, 0, 0, 0}
	if err := database.SaveEmbedding(f.db, n.ID, 2, embedding.EncodeVector(vec), 4, "stub"); err != nil {
		t.Fatalf("seed embedding: %v", err)
	}
	if err := f.index.Upsert(context.Background(), n.ID, vec); err != nil {
		t.Fatalf("seed index: %v", err)
	}
	return n
}

func (f *fixture) nodeCount(t *testing.T) int {
	t.Helper()
	n, err := f.db.CountRows("memory_nodes")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestIngestValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.gate.Ingest(ctx, Request{Content: "  "}); !errors.Is(err, engerr.ErrInvalidInput) {
		t.Errorf("empty content: err = %v, want InvalidInput", err)
	}
	huge := strings.Repeat("a", database.MaxContentBytes+1)
	if _, err := f.gate.Ingest(ctx, Request{Content: huge}); !errors.Is(err, engerr.ErrInvalidInput) {
		t.Errorf("oversized content: err = %v, want InvalidInput", err)
	}
}

func TestConfigCascadeValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TUpdate = 0.95 // above TReinforce
	if err := cfg.Validate(); !errors.Is(err, engerr.ErrInvalidInput) {
		t.Errorf("broken cascade: err = %v, want InvalidInput", err)
	}
}

func TestEmptyStoreCreates(t *testing.T) {
	f := newFixture(t)

	res, err := f.gate.Ingest(context.Background(), Request{Content: "first memory", NodeType: "fact"})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Decision != DecisionCreate {
		t.Errorf("decision = %s, want create", res.Decision)
	}
	if res.PredictionError != 1 {
		t.Errorf("prediction error = %v, want 1 on empty store", res.PredictionError)
	}

	n, err := database.GetMemoryNode(f.db, res.NodeID)
	if err != nil {
		t.Fatalf("get created node: %v", err)
	}
	if n.RetentionStrength != 1.0 {
		t.Errorf("fresh node retention = %v, want 1.0", n.RetentionStrength)
	}
	if n.Stability <= 0 {
		t.Errorf("fresh node stability = %v, want > 0", n.Stability)
	}
	if n.LearningState != "new" {
		t.Errorf("learning state = %q, want new", n.LearningState)
	}
}

func TestLowSimilarityCreates(t *testing.T) {
	f := newFixture(t)
	f.seedNode(t, "the capital of France is Paris")
	f.embedder.vectors["completely different topic"] = vecAt(0.3)

	res, err := f.gate.Ingest(context.Background(), Request{Content: "completely different topic"})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Decision != DecisionCreate {
		t.Errorf("decision = %s, want create below T_create", res.Decision)
	}
	if f.nodeCount(t) != 2 {
		t.Errorf("node count = %d, want 2", f.nodeCount(t))
	}
}

func TestHighSimilarityReinforces(t *testing.T) {
	f := newFixture(t)
	seed := f.seedNode(t, "Rust enforces memory safety through ownership")
	f.embedder.vectors["Rust ensures memory safety using ownership"] = vecAt(0.95)

	res, err := f.gate.Ingest(context.Background(), Request{Content: "Rust ensures memory safety using ownership"})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Decision != DecisionReinforce {
		t.Errorf("decision = %s, want reinforce", res.Decision)
	}
	if res.NodeID != seed.ID {
		t.Errorf("acted on %s, want top match %s", res.NodeID, seed.ID)
	}
	if res.TopSimilarity < 0.92 {
		t.Errorf("similarity = %v, want >= reinforce threshold", res.TopSimilarity)
	}
	if f.nodeCount(t) != 1 {
		t.Errorf("node count = %d, want 1 (no duplicate)", f.nodeCount(t))
	}

	n, _ := database.GetMemoryNode(f.db, seed.ID)
	if n.RetrievalStrength <= seed.RetrievalStrength {
		t.Errorf("retrieval strength did not rise on reinforce")
	}
	// Textually different phrasing is kept as appended context.
	if !strings.Contains(n.Content, "ensures") {
		t.Errorf("new phrasing not appended: %q", n.Content)
	}
}

func TestSameContentTwiceNeverTwoCreates(t *testing.T) {
	f := newFixture(t)
	content := "The mitochondrion is the powerhouse of the cell"
	f.embedder.vectors[content] = []float64{1, 0, 0, 0}
	ctx := context.Background()

	first, err := f.gate.Ingest(ctx, Request{Content: content, NodeType: "fact"})
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if first.Decision != DecisionCreate {
		t.Fatalf("first decision = %s, want create", first.Decision)
	}

	second, err := f.gate.Ingest(ctx, Request{Content: content, NodeType: "fact"})
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if second.Decision == DecisionCreate {
		t.Error("second identical ingest must not create")
	}
	if second.NodeID != first.NodeID {
		t.Errorf("second ingest acted on %s, want %s", second.NodeID, first.NodeID)
	}
	if f.nodeCount(t) != 1 {
		t.Errorf("node count = %d, want 1", f.nodeCount(t))
	}
}

func TestUpdateBandMergesContent(t *testing.T) {
	f := newFixture(t)
	seed := f.seedNode(t, "Go maps are not safe for concurrent writes")
	f.embedder.vectors["Concurrent map writes need a mutex in Go"] = vecAt(0.85)

	res, err := f.gate.Ingest(context.Background(), Request{
		Content: "Concurrent map writes need a mutex in Go",
		Tags:    []string{"go"},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Decision != DecisionUpdate {
		t.Errorf("decision = %s, want update in [T_update, T_reinforce)", res.Decision)
	}

	n, _ := database.GetMemoryNode(f.db, seed.ID)
	if !strings.Contains(n.Content, "mutex") {
		t.Errorf("update did not merge-append: %q", n.Content)
	}
	if len(n.Tags) == 0 {
		t.Errorf("tags not unioned: %v", n.Tags)
	}
}

func TestMidBandAddsContext(t *testing.T) {
	f := newFixture(t)
	seed := f.seedNode(t, "Paris is the capital of France")
	f.embedder.vectors["France also has great food"] = vecAt(0.7)

	res, err := f.gate.Ingest(context.Background(), Request{Content: "France also has great food"})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Decision != DecisionAddContext {
		t.Errorf("decision = %s, want add_context in [T_create, T_update)", res.Decision)
	}

	n, _ := database.GetMemoryNode(f.db, seed.ID)
	if !strings.Contains(n.Content, "---") {
		t.Errorf("context not appended as a discrete section: %q", n.Content)
	}
	if f.nodeCount(t) != 1 {
		t.Errorf("node count = %d, want 1", f.nodeCount(t))
	}
}

func TestDemotedNodeIsSuperseded(t *testing.T) {
	f := newFixture(t)
	old := f.seedNode(t, "The capital of Australia is Sydney.")

	// Demote: retrieval strength below the floor.
	low := 0.1
	if err := database.UpdateMemoryNode(f.db, old.ID, &database.NodeUpdate{RetrievalStrength: &low}); err != nil {
		t.Fatalf("demote: %v", err)
	}

	f.embedder.vectors["The capital of Australia is Canberra."] = vecAt(0.85)
	res, err := f.gate.Ingest(context.Background(), Request{
		Content: "The capital of Australia is Canberra.", NodeType: "fact",
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Decision != DecisionSupersede {
		t.Fatalf("decision = %s, want supersede", res.Decision)
	}
	if res.SupersededID != old.ID {
		t.Errorf("superseded = %s, want %s", res.SupersededID, old.ID)
	}
	if f.nodeCount(t) != 2 {
		t.Errorf("node count = %d, want 2", f.nodeCount(t))
	}

	expired, _ := database.GetMemoryNode(f.db, old.ID)
	if expired.ValidUntil == nil {
		t.Error("old node valid_until not set")
	}

	conns, err := database.GetOutboundConnections(f.db, res.NodeID, 0)
	if err != nil {
		t.Fatalf("connections: %v", err)
	}
	found := false
	for _, c := range conns {
		if c.TargetID == old.ID && c.LinkType == "supersedes" {
			found = true
		}
	}
	if !found {
		t.Errorf("no supersedes edge from new to old: %+v", conns)
	}
}

func TestNearEqualClusterMerges(t *testing.T) {
	f := newFixture(t)
	a := f.seedNode(t, "Goroutines are lightweight threads")
	b := &database.MemoryNode{Content: "Goroutines are cheap green threads", NodeType: "fact",
		RetentionStrength: 1, RetrievalStrength: 0.8}
	if err := database.CreateMemoryNode(f.db, b); err != nil {
		t.Fatalf("create b: %v", err)
	}
	// Both existing memories sit at nearly the same direction.
	bVec := vecAt(0.999)
	if err := database.SaveEmbedding(f.db, b.ID, 2, embedding.EncodeVector(bVec), 4, "stub"); err != nil {
		t.Fatalf("embed b: %v", err)
	}
	if err := f.index.Upsert(context.Background(), b.ID, bVec); err != nil {
		t.Fatalf("index b: %v", err)
	}

	f.embedder.vectors["Goroutines are inexpensive threads"] = vecAt(0.85)
	res, err := f.gate.Ingest(context.Background(), Request{Content: "Goroutines are inexpensive threads"})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Decision != DecisionMerge {
		t.Fatalf("decision = %s, want merge for two near-equals", res.Decision)
	}
	if len(res.MergedWith) < 2 {
		t.Errorf("merged with %v, want both near-equal candidates", res.MergedWith)
	}

	conns, err := database.GetOutboundConnections(f.db, res.NodeID, 0)
	if err != nil {
		t.Fatalf("connections: %v", err)
	}
	targets := map[string]string{}
	for _, c := range conns {
		targets[c.TargetID] = c.LinkType
	}
	if targets[a.ID] != "shared_concepts" || targets[b.ID] != "shared_concepts" {
		t.Errorf("merge edges = %v, want shared_concepts to both", targets)
	}
}

func TestLabileWindowRoutesToUpdate(t *testing.T) {
	f := newFixture(t)
	seed := f.seedNode(t, "Labile memories accept modifications")
	until := time.Now().UTC().Add(5 * time.Minute)
	if err := database.SetLabileUntil(f.db, seed.ID, until); err != nil {
		t.Fatalf("set labile: %v", err)
	}

	// 0.85 would normally be plain update anyway; 0.95 would normally be
	// reinforce, but inside the labile window it becomes a modification.
	f.embedder.vectors["Labile memories welcome modifications"] = vecAt(0.95)
	res, err := f.gate.Ingest(context.Background(), Request{Content: "Labile memories welcome modifications"})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Decision != DecisionUpdate {
		t.Errorf("decision = %s, want update inside the labile window", res.Decision)
	}
}

func TestEmbedderFailureDegradesToCreate(t *testing.T) {
	f := newFixture(t)
	f.seedNode(t, "existing memory")
	f.embedder.fail = true

	res, err := f.gate.Ingest(context.Background(), Request{Content: "anything at all"})
	if err != nil {
		t.Fatalf("ingest should degrade, not fail: %v", err)
	}
	if res.Decision != DecisionCreate || !res.Degraded {
		t.Errorf("result = %+v, want degraded create", res)
	}
	if f.nodeCount(t) != 2 {
		t.Errorf("node count = %d, want 2", f.nodeCount(t))
	}
}

func TestImportanceSetsWakingTag(t *testing.T) {
	f := newFixture(t)

	content := "critical: remember the production password rotation deadline"
	res, err := f.gate.Ingest(context.Background(), Request{
		Content: content, Tags: []string{"critical"},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	n, _ := database.GetMemoryNode(f.db, res.NodeID)
	if !n.WakingTag {
		t.Error("high-importance memory should carry the synaptic tag")
	}
	if n.SentimentMagnitude <= 0 {
		t.Errorf("sentiment magnitude = %v, want > 0", n.SentimentMagnitude)
	}
}

func TestReasonsAreHumanReadable(t *testing.T) {
	f := newFixture(t)
	res, err := f.gate.Ingest(context.Background(), Request{Content: "some note"})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Reason == "" {
		t.Error("reason must be populated")
	}
	// Reasons embed the governing threshold so operators can audit.
	if !strings.Contains(res.Reason, fmt.Sprintf("%.2f", f.gate.Config.TCreate)) {
		t.Errorf("create reason %q does not cite the threshold", res.Reason)
	}
}
