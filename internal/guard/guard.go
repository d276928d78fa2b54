// Package guard enforces the resource-model deadlines on the two external
// call boundaries: the embedder and the vector index. Every call through a
// guard gets its configured deadline, and every failure is reported as
// ResourceUnavailable so the retrieval pipeline and ingest gate can degrade
// locally instead of propagating a stall.
package guard

import (
	"context"
	"time"

	"github.com/engramhq/engram/internal/embedding"
	"github.com/engramhq/engram/internal/engerr"
	"github.com/engramhq/engram/internal/logging"
	"github.com/engramhq/engram/internal/vectorindex"
)

var log = logging.GetLogger("guard")

// Config carries the per-boundary deadlines.
type Config struct {
	EmbedTimeout  time.Duration
	VectorTimeout time.Duration
}

// DefaultConfig returns the deadlines the resource model specifies: 5s for
// embedding, 500ms for a vector query.
func DefaultConfig() Config {
	return Config{
		EmbedTimeout:  5 * time.Second,
		VectorTimeout: 500 * time.Millisecond,
	}
}

// GuardedEmbedder wraps an Embedder with the embed deadline and failure
// accounting. The concrete Ollama embedder carries its own circuit breaker
// and rate limiter; the guard only owns the deadline and the error-kind
// contract.
type GuardedEmbedder struct {
	inner   embedding.Embedder
	timeout time.Duration
	metrics *Metrics
}

// NewGuardedEmbedder wraps inner with cfg's embed deadline.
func NewGuardedEmbedder(inner embedding.Embedder, cfg Config, metrics *Metrics) *GuardedEmbedder {
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = DefaultConfig().EmbedTimeout
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &GuardedEmbedder{inner: inner, timeout: cfg.EmbedTimeout, metrics: metrics}
}

func (g *GuardedEmbedder) Dimension() int  { return g.inner.Dimension() }
func (g *GuardedEmbedder) ModelID() string { return g.inner.ModelID() }

// Embed runs the inner embedder under the embed deadline.
func (g *GuardedEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	vec, err := g.inner.Embed(ctx, text)
	if err != nil {
		g.metrics.RecordFailure("embed")
		log.Warn("embedder call failed", "elapsed", time.Since(start), "error", err)
		if ctx.Err() == context.DeadlineExceeded {
			return nil, engerr.Wrap(engerr.ResourceUnavailable, "embedder deadline exceeded", err)
		}
		return nil, engerr.Wrap(engerr.ResourceUnavailable, "embedder call failed", err)
	}
	g.metrics.RecordSuccess("embed")
	return vec, nil
}

// GuardedIndex wraps a vector index with the vector-query deadline. Upsert
// and Delete share the query deadline; they are the same order of
// round-trip against either backend.
type GuardedIndex struct {
	inner   vectorindex.Index
	timeout time.Duration
	metrics *Metrics
}

// NewGuardedIndex wraps inner with cfg's vector deadline.
func NewGuardedIndex(inner vectorindex.Index, cfg Config, metrics *Metrics) *GuardedIndex {
	if cfg.VectorTimeout <= 0 {
		cfg.VectorTimeout = DefaultConfig().VectorTimeout
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &GuardedIndex{inner: inner, timeout: cfg.VectorTimeout, metrics: metrics}
}

func (g *GuardedIndex) Len() int { return g.inner.Len() }

func (g *GuardedIndex) Upsert(ctx context.Context, id string, vector []float64) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	if err := g.inner.Upsert(ctx, id, vector); err != nil {
		g.metrics.RecordFailure("vector_upsert")
		return wrapVectorErr("vector upsert failed", err, ctx)
	}
	g.metrics.RecordSuccess("vector_upsert")
	return nil
}

func (g *GuardedIndex) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	if err := g.inner.Delete(ctx, id); err != nil {
		g.metrics.RecordFailure("vector_delete")
		return wrapVectorErr("vector delete failed", err, ctx)
	}
	g.metrics.RecordSuccess("vector_delete")
	return nil
}

func (g *GuardedIndex) Search(ctx context.Context, query []float64, limit int) ([]vectorindex.Match, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	matches, err := g.inner.Search(ctx, query, limit)
	if err != nil {
		g.metrics.RecordFailure("vector_search")
		return nil, wrapVectorErr("vector search failed", err, ctx)
	}
	g.metrics.RecordSuccess("vector_search")
	return matches, nil
}

func wrapVectorErr(msg string, err error, ctx context.Context) error {
	if ctx.Err() == context.DeadlineExceeded {
		return engerr.Wrap(engerr.ResourceUnavailable, msg+" (deadline exceeded)", err)
	}
	// Invalid input (dimension mismatch) keeps its kind; everything else on
	// this boundary is a resource problem.
	if engerr.KindOf(err) == engerr.InvalidInput {
		return err
	}
	return engerr.Wrap(engerr.ResourceUnavailable, msg, err)
}
