package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/engramhq/engram/internal/database"
	"github.com/engramhq/engram/internal/embedding"
	"github.com/engramhq/engram/internal/fsrs"
	"github.com/engramhq/engram/internal/vectorindex"
)

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float64, error) {
	return nil, errors.New("embedder down")
}
func (failingEmbedder) Dimension() int  { return 8 }
func (failingEmbedder) ModelID() string { return "failing" }

func newPipeline(t *testing.T, embedder embedding.Embedder) (*Pipeline, *database.Database) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "engram-test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("schema: %v", err)
	}
	if embedder == nil {
		embedder = embedding.NewDeterministicEmbedder(8)
	}
	p := NewPipeline(db, vectorindex.NewInProcessIndex(8), embedder,
		fsrs.NewScheduler(fsrs.DefaultParameters()), DefaultConfig())
	return p, db
}

func seed(t *testing.T, db *database.Database, content string, mutate func(*database.MemoryNode)) *database.MemoryNode {
	t.Helper()
	n := &database.MemoryNode{
		Content: content, NodeType: "fact",
		RetentionStrength: 1, RetrievalStrength: 0.8, StorageStrength: 0.5,
	}
	if mutate != nil {
		mutate(n)
	}
	if err := database.CreateMemoryNode(db, n); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return n
}

func TestEmbedderFailureDegradesToKeywordOnly(t *testing.T) {
	p, db := newPipeline(t, failingEmbedder{})
	seed(t, db, "degradation path keyword sentinel", nil)

	resp, err := p.Run(context.Background(), "degradation keyword sentinel", Options{Limit: 5})
	if err != nil {
		t.Fatalf("run should degrade, not fail: %v", err)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("results = %d, want 1 from the keyword side", len(resp.Results))
	}
	if len(resp.Notes) == 0 {
		t.Error("degraded run must carry a note")
	}
}

func TestExpiredValidityZeroesTemporalTerm(t *testing.T) {
	p, db := newPipeline(t, nil)
	past := time.Now().UTC().Add(-24 * time.Hour)
	expired := seed(t, db, "expired validity sentinel entry", func(n *database.MemoryNode) {
		n.ValidUntil = &past
	})
	current := seed(t, db, "current validity sentinel entry", nil)

	resp, err := p.Run(context.Background(), "validity sentinel entry", Options{Limit: 5})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	byID := map[string]*SubScores{}
	for i := range resp.Results {
		byID[resp.Results[i].Node.ID] = &resp.Results[i].Scores
	}
	exp, cur := byID[expired.ID], byID[current.ID]
	if exp == nil || cur == nil {
		t.Fatalf("both nodes should survive (validity discounts, never drops): %v", byID)
	}
	if exp.ValidityMultiplier != 0 {
		t.Errorf("expired validity multiplier = %v, want 0", exp.ValidityMultiplier)
	}
	if cur.ValidityMultiplier != 1 {
		t.Errorf("current validity multiplier = %v, want 1", cur.ValidityMultiplier)
	}
	if exp.AfterTemporal >= cur.AfterTemporal {
		t.Errorf("expired node should rank below the current one: %v >= %v",
			exp.AfterTemporal, cur.AfterTemporal)
	}
}

func TestCancelledContextCommitsNoSideEffects(t *testing.T) {
	p, db := newPipeline(t, nil)
	n := seed(t, db, "cancellation sentinel content", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Run(ctx, "cancellation sentinel", Options{Limit: 5}); err == nil {
		t.Fatal("cancelled run must return an error")
	}

	got, err := database.GetMemoryNode(db, n.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TimesRetrieved != 0 {
		t.Errorf("times_retrieved = %d after cancelled run, want 0", got.TimesRetrieved)
	}
	if got.LabileUntil != nil {
		t.Error("labile window set by a cancelled run")
	}
}

func TestCompetitionSuppressesEachLoserOnce(t *testing.T) {
	p, db := newPipeline(t, nil)
	ctx := context.Background()

	// Three near-identical memories with distinct strengths: the third
	// loses to both the top and the second, but the 0.85 penalty must
	// land exactly once relative to its pre-competition score.
	unitAt := func(sim float64, axis int) []float64 {
		v := make([]float64, 8)
		v[0] = sim
		v[axis] = math.Sqrt(1 - sim*sim)
		return v
	}
	vectors := [][]float64{
		unitAt(1, 1),
		unitAt(0.98, 1),
		unitAt(0.97, 2),
	}
	strengths := []float64{0.9, 0.6, 0.5}
	ids := make([]string, 3)
	for i, vec := range vectors {
		n := seed(t, db, fmt.Sprintf("the standup meeting moved to nine thirty (note %d)", i+1),
			func(n *database.MemoryNode) {
				n.RetentionStrength = strengths[i]
				n.RetrievalStrength = strengths[i]
				n.StorageStrength = strengths[i]
			})
		ids[i] = n.ID
		if err := database.SaveEmbedding(db, n.ID, 2, embedding.EncodeVector(vec), 8, "test"); err != nil {
			t.Fatalf("embed %d: %v", i, err)
		}
		if err := p.Vectors.Upsert(ctx, n.ID, vec); err != nil {
			t.Fatalf("index %d: %v", i, err)
		}
	}

	resp, err := p.Run(ctx, "standup meeting moved nine thirty", Options{Limit: 3})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("results = %d, want 3", len(resp.Results))
	}
	if resp.SuppressedCount != 2 {
		t.Errorf("suppressed count = %d, want 2", resp.SuppressedCount)
	}

	byID := map[string]*SubScores{}
	for i := range resp.Results {
		byID[resp.Results[i].Node.ID] = &resp.Results[i].Scores
	}

	for i, id := range ids {
		s := byID[id]
		if s == nil {
			t.Fatalf("node %d missing from results", i)
		}
		// No topics were supplied, so the pre-competition score is the
		// temporal-adjusted score gated by accessibility.
		pre := s.AfterTemporal * s.AccessibilityValue
		if i == 0 {
			if s.CompetitionSuppressed {
				t.Error("top result must not be suppressed")
			}
			if math.Abs(s.AfterAccessibility-pre) > 1e-9 {
				t.Errorf("top score changed by competition: %v, want %v", s.AfterAccessibility, pre)
			}
			continue
		}
		if !s.CompetitionSuppressed {
			t.Errorf("result %d should be suppressed", i)
		}
		want := pre * p.Config.CompetitionPenalty
		if math.Abs(s.AfterAccessibility-want) > 1e-9 {
			t.Errorf("result %d score = %v, want exactly one 0.85 penalty (%v)", i, s.AfterAccessibility, want)
		}
	}
}

func TestExplanatorySubScoresPopulated(t *testing.T) {
	p, db := newPipeline(t, nil)
	seed(t, db, "explanation sentinel about oceans", func(n *database.MemoryNode) {
		n.Tags = []string{"oceans"}
	})

	resp, err := p.Run(context.Background(), "explanation sentinel oceans",
		Options{Limit: 5, Topics: []string{"oceans"}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(resp.Results) == 0 {
		t.Fatal("no results")
	}
	s := resp.Results[0].Scores
	if s.RerankScore <= 0 {
		t.Errorf("rerank score = %v, want > 0", s.RerankScore)
	}
	if s.RecencyMultiplier <= 0 || s.RecencyMultiplier > 1 {
		t.Errorf("recency multiplier = %v, want (0, 1]", s.RecencyMultiplier)
	}
	if s.Accessibility == "" {
		t.Error("accessibility label empty")
	}
	if s.ContextBoost <= 1 {
		t.Errorf("context boost = %v, want > 1 for a full tag match", s.ContextBoost)
	}
	if s.UtilityBoost < 1 {
		t.Errorf("utility boost = %v, want >= 1", s.UtilityBoost)
	}
	if s.FinalScore <= 0 {
		t.Errorf("final score = %v, want > 0", s.FinalScore)
	}
}
