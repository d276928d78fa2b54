package vectorindex

import (
	"context"
	"errors"
	"testing"

	"github.com/engramhq/engram/internal/engerr"
)

func TestInProcessUpsertSearchDelete(t *testing.T) {
	idx := NewInProcessIndex(3)
	ctx := context.Background()

	vectors := map[string][]float64{
		"a": {1, 0, 0},
		"b": {0.9, 0.1, 0},
		"c": {0, 0, 1},
	}
	for id, v := range vectors {
		if err := idx.Upsert(ctx, id, v); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}
	if idx.Len() != 3 {
		t.Errorf("len = %d, want 3", idx.Len())
	}

	matches, err := idx.Search(ctx, []float64{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("matches = %d, want 2", len(matches))
	}
	if matches[0].MemoryID != "a" {
		t.Errorf("best match = %s, want a", matches[0].MemoryID)
	}
	if matches[0].Score < matches[1].Score {
		t.Error("matches not sorted by descending similarity")
	}

	if err := idx.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	matches, _ = idx.Search(ctx, []float64{1, 0, 0}, 2)
	for _, m := range matches {
		if m.MemoryID == "a" {
			t.Error("deleted vector still returned")
		}
	}
}

func TestInProcessDimensionCheck(t *testing.T) {
	idx := NewInProcessIndex(4)
	err := idx.Upsert(context.Background(), "x", []float64{1, 2})
	if !errors.Is(err, engerr.ErrInvalidInput) {
		t.Errorf("dimension mismatch: err = %v, want InvalidInput", err)
	}
}

func TestInProcessSearchLimitExceedsSize(t *testing.T) {
	idx := NewInProcessIndex(2)
	_ = idx.Upsert(context.Background(), "only", []float64{1, 0})

	matches, err := idx.Search(context.Background(), []float64{1, 0}, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(matches) != 1 {
		t.Errorf("matches = %d, want 1", len(matches))
	}
}
