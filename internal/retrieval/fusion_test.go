package retrieval

import (
	"math"
	"testing"
)

func TestConvexFusionWeights(t *testing.T) {
	f := DefaultConvexFusion()
	keyword := []ScoredID{{MemoryID: "k", Score: 5}}
	semantic := []ScoredID{{MemoryID: "s", Score: 0.9}}

	fused := f.Fuse(keyword, semantic)
	if len(fused) != 2 {
		t.Fatalf("fused = %d entries, want 2", len(fused))
	}
	// Single-entry sides min-max normalise to 1.0, so the semantic side's
	// 0.7 weight must outrank the keyword side's 0.3.
	if fused[0].MemoryID != "s" {
		t.Errorf("top = %s, want the semantic hit", fused[0].MemoryID)
	}
	if math.Abs(fused[0].Score-0.7) > 1e-9 || math.Abs(fused[1].Score-0.3) > 1e-9 {
		t.Errorf("scores = %v/%v, want 0.7/0.3", fused[0].Score, fused[1].Score)
	}
}

func TestConvexFusionCombinesSharedIDs(t *testing.T) {
	f := DefaultConvexFusion()
	keyword := []ScoredID{{MemoryID: "both", Score: 1}, {MemoryID: "kw-only", Score: 0.5}}
	semantic := []ScoredID{{MemoryID: "both", Score: 0.8}, {MemoryID: "sem-only", Score: 0.4}}

	fused := f.Fuse(keyword, semantic)
	if fused[0].MemoryID != "both" {
		t.Errorf("top = %s, want the id present on both sides", fused[0].MemoryID)
	}
	if math.Abs(fused[0].Score-1.0) > 1e-9 {
		t.Errorf("both-sides score = %v, want 1.0 (0.3*1 + 0.7*1)", fused[0].Score)
	}
}

func TestRRFFusionRankDriven(t *testing.T) {
	f := DefaultRRFFusion()
	// Wildly different score scales; RRF only sees ranks.
	keyword := []ScoredID{{MemoryID: "a", Score: 1000}, {MemoryID: "b", Score: 999}}
	semantic := []ScoredID{{MemoryID: "b", Score: 0.01}, {MemoryID: "a", Score: 0.009}}

	fused := f.Fuse(keyword, semantic)
	// a: 1/(60+1) + 1/(60+2); b: 1/(60+2) + 1/(60+1), a tie by symmetry.
	if math.Abs(fused[0].Score-fused[1].Score) > 1e-12 {
		t.Errorf("symmetric ranks should tie: %v vs %v", fused[0].Score, fused[1].Score)
	}
	want := 1.0/61 + 1.0/62
	if math.Abs(fused[0].Score-want) > 1e-12 {
		t.Errorf("rrf score = %v, want %v", fused[0].Score, want)
	}
}

func TestMinMaxNormalizeDegenerate(t *testing.T) {
	out := minMaxNormalize([]ScoredID{{MemoryID: "x", Score: 3}, {MemoryID: "y", Score: 3}})
	if out["x"] != 1.0 || out["y"] != 1.0 {
		t.Errorf("equal scores should normalise to 1.0, got %v", out)
	}
	if len(minMaxNormalize(nil)) != 0 {
		t.Error("empty input should produce empty map")
	}
}

func TestBM25VariantRerank(t *testing.T) {
	query := "memory consolidation during sleep"
	relevant := "memory consolidation happens during sleep cycles overnight"
	irrelevant := "grocery list apples bananas flour"

	if bm25VariantRerank(query, relevant) <= bm25VariantRerank(query, irrelevant) {
		t.Error("relevant document must outscore irrelevant one")
	}
	if bm25VariantRerank("", relevant) != 0 {
		t.Error("empty query scores 0")
	}
	if bm25VariantRerank(query, "") != 0 {
		t.Error("empty document scores 0")
	}
}

func TestAccessibilityLabels(t *testing.T) {
	tests := []struct {
		value float64
		want  string
	}{
		{0.9, "active"}, {0.7, "active"},
		{0.5, "dormant"}, {0.4, "dormant"},
		{0.2, "silent"}, {0.1, "silent"},
		{0.05, "unavailable"}, {0, "unavailable"},
	}
	for _, tt := range tests {
		if got := accessibilityLabel(tt.value); got != tt.want {
			t.Errorf("accessibilityLabel(%v) = %s, want %s", tt.value, got, tt.want)
		}
	}
}

func TestJaccardOverlap(t *testing.T) {
	if got := jaccardOverlap([]string{"go", "db"}, []string{"go", "db"}); got != 1 {
		t.Errorf("identical sets = %v, want 1", got)
	}
	if got := jaccardOverlap([]string{"go"}, []string{"rust"}); got != 0 {
		t.Errorf("disjoint sets = %v, want 0", got)
	}
	if got := jaccardOverlap([]string{"Go", "db"}, []string{"go"}); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("case-insensitive half overlap = %v, want 0.5", got)
	}
	if got := jaccardOverlap(nil, []string{"x"}); got != 0 {
		t.Errorf("empty side = %v, want 0", got)
	}
}

func TestHasSearchableContent(t *testing.T) {
	if hasSearchableContent("?!... --") {
		t.Error("punctuation-only query should not be searchable")
	}
	if !hasSearchableContent("a?") {
		t.Error("a single letter makes a query searchable")
	}
	if !hasSearchableContent("42") {
		t.Error("digits make a query searchable")
	}
}
