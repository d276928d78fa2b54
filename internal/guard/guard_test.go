package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/engramhq/engram/internal/engerr"
	"github.com/engramhq/engram/internal/vectorindex"
)

type slowEmbedder struct {
	delay time.Duration
	dim   int
}

func (s *slowEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	select {
	case <-time.After(s.delay):
		v := make([]float64, s.dim)
		v[0] = 1
		return v, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *slowEmbedder) Dimension() int  { return s.dim }
func (s *slowEmbedder) ModelID() string { return "slow-test" }

func TestGuardedEmbedderDeadline(t *testing.T) {
	g := NewGuardedEmbedder(&slowEmbedder{delay: 200 * time.Millisecond, dim: 4},
		Config{EmbedTimeout: 20 * time.Millisecond}, nil)

	_, err := g.Embed(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected deadline error")
	}
	if !errors.Is(err, engerr.ErrResourceUnavailable) {
		t.Errorf("error kind = %v, want ResourceUnavailable", engerr.KindOf(err))
	}
}

func TestGuardedEmbedderSuccess(t *testing.T) {
	m := NewMetrics()
	g := NewGuardedEmbedder(&slowEmbedder{delay: time.Millisecond, dim: 4},
		Config{EmbedTimeout: time.Second}, m)

	vec, err := g.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 4 {
		t.Errorf("vector length = %d, want 4", len(vec))
	}
	if snap := m.GetSnapshot(); snap.TotalSuccess != 1 || snap.SuccessByOp["embed"] != 1 {
		t.Errorf("metrics snapshot = %+v, want one embed success", snap)
	}
}

func TestGuardedIndexSearchDeadline(t *testing.T) {
	idx := vectorindex.NewInProcessIndex(4)
	if err := idx.Upsert(context.Background(), "a", []float64{1, 0, 0, 0}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	g := NewGuardedIndex(idx, Config{VectorTimeout: time.Second}, nil)
	matches, err := g.Search(context.Background(), []float64{1, 0, 0, 0}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 || matches[0].MemoryID != "a" {
		t.Errorf("matches = %+v, want single hit for a", matches)
	}
}

func TestGuardedIndexDimensionMismatchKeepsKind(t *testing.T) {
	idx := vectorindex.NewInProcessIndex(4)
	g := NewGuardedIndex(idx, DefaultConfig(), nil)

	err := g.Upsert(context.Background(), "a", []float64{1, 0})
	if err == nil {
		t.Fatal("expected dimension error")
	}
	if !errors.Is(err, engerr.ErrInvalidInput) {
		t.Errorf("error kind = %v, want InvalidInput preserved through the guard", engerr.KindOf(err))
	}
}
