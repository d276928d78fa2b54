// Package engine assembles the core subsystems (node store, FSRS
// scheduler, retrieval pipeline, ingest gate, consolidator, association
// graph) behind one dependency-injected façade. Nothing here is
// process-global; the Engine owns every component and the RPC/CLI surfaces
// only ever talk to it.
package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/engramhq/engram/internal/ai"
	"github.com/engramhq/engram/internal/associations"
	"github.com/engramhq/engram/internal/consolidate"
	"github.com/engramhq/engram/internal/database"
	"github.com/engramhq/engram/internal/embedding"
	"github.com/engramhq/engram/internal/engerr"
	"github.com/engramhq/engram/internal/fsrs"
	"github.com/engramhq/engram/internal/guard"
	"github.com/engramhq/engram/internal/ingest"
	"github.com/engramhq/engram/internal/logging"
	"github.com/engramhq/engram/internal/retrieval"
	"github.com/engramhq/engram/internal/vectorindex"
	"github.com/engramhq/engram/pkg/config"
)

var log = logging.GetLogger("engine")

// Engine is the top-level handle over the cognitive memory core.
type Engine struct {
	DB           *database.Database
	Embedder     embedding.Embedder
	Vectors      vectorindex.Index
	Scheduler    *fsrs.Scheduler
	Analyzer     *ai.Analyzer
	Pipeline     *retrieval.Pipeline
	Gate         *ingest.Gate
	Consolidator *consolidate.Consolidator
	Associations *associations.Service
	GuardMetrics *guard.Metrics

	window    *AccessWindow
	triggerCh chan consolidate.Trigger

	// Now is the clock shared with the gate and consolidator,
	// overridable in tests that simulate elapsed time.
	Now func() time.Time
}

// Open builds a fully wired Engine from cfg: opens the store, applies
// migrations, rebuilds the vector index from persisted embeddings, and
// wires every subsystem.
func Open(cfg *config.Config) (*Engine, error) {
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := database.RunMigrations(db.DB()); err != nil {
		db.Close()
		return nil, err
	}

	eng, err := New(db, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	return eng, nil
}

// New wires an Engine over an already-open database. The vector index is
// rebuilt from the embeddings table so derived state never outlives a
// crash.
func New(db *database.Database, cfg *config.Config) (*Engine, error) {
	metrics := guard.NewMetrics()
	guardCfg := cfg.Guard.ToGuardConfig()

	baseEmbedder := buildEmbedder(cfg)
	embedder := guard.NewGuardedEmbedder(baseEmbedder, guardCfg, metrics)

	baseIndex, err := buildVectorIndex(cfg, baseEmbedder.Dimension())
	if err != nil {
		return nil, err
	}
	vectors := guard.NewGuardedIndex(baseIndex, guardCfg, metrics)

	if err := rebuildVectorIndex(db, baseIndex); err != nil {
		return nil, err
	}

	params := cfg.FSRS.ToParameters()
	scheduler := fsrs.NewScheduler(params)
	if steps := cfg.FSRS.LearningSteps; steps > 0 {
		scheduler.LearningSteps = steps
	}

	var analyzer *ai.Analyzer
	if cfg.Analyzer.Enabled {
		analyzer = ai.NewAnalyzer(ai.NewOllamaClient(ai.OllamaClientConfig{
			BaseURL:   cfg.Analyzer.BaseURL,
			ChatModel: cfg.Analyzer.ChatModel,
			Enabled:   true,
		}))
	} else {
		analyzer = ai.NewAnalyzer(nil)
	}

	gateCfg := cfg.IngestGate.ToGateConfig()
	if err := gateCfg.Validate(); err != nil {
		return nil, err
	}

	assoc := associations.NewService(db)
	pipeline := retrieval.NewPipeline(db, vectors, embedder, scheduler, cfg.Retrieval.ToPipelineConfig())
	gate := ingest.NewGate(db, vectors, embedder, scheduler, analyzer, gateCfg)
	cons := consolidate.New(db, vectors, scheduler, assoc, cfg.Consolidation.ToConsolidateConfig())

	eng := &Engine{
		DB:           db,
		Embedder:     embedder,
		Vectors:      vectors,
		Scheduler:    scheduler,
		Analyzer:     analyzer,
		Pipeline:     pipeline,
		Gate:         gate,
		Consolidator: cons,
		Associations: assoc,
		GuardMetrics: metrics,
		window:       NewAccessWindow(DefaultAccessWindowSize),
		triggerCh:    make(chan consolidate.Trigger, 4),
		Now:          func() time.Time { return time.Now().UTC() },
	}
	gate.Now = eng.clock
	cons.Now = eng.clock
	return eng, nil
}

func (e *Engine) clock() time.Time { return e.Now() }

func buildEmbedder(cfg *config.Config) embedding.Embedder {
	switch cfg.Embedding.Provider {
	case "ollama":
		return embedding.NewOllamaEmbedder(embedding.OllamaConfig{
			BaseURL:   cfg.Embedding.BaseURL,
			Model:     cfg.Embedding.Model,
			Dimension: cfg.Embedding.Dimension,
		})
	default:
		return embedding.NewDeterministicEmbedder(cfg.Embedding.Dimension)
	}
}

func buildVectorIndex(cfg *config.Config, dim int) (vectorindex.Index, error) {
	switch cfg.VectorIndex.Backend {
	case "qdrant":
		idx := vectorindex.NewQdrantIndex(vectorindex.QdrantConfig{
			URL:            cfg.VectorIndex.URL,
			CollectionName: cfg.VectorIndex.Collection,
			Dimension:      dim,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := idx.EnsureCollection(ctx); err != nil {
			log.Warn("qdrant unavailable, falling back to in-process index", "error", err)
			return vectorindex.NewInProcessIndex(dim), nil
		}
		return idx, nil
	default:
		return vectorindex.NewInProcessIndex(dim), nil
	}
}

// rebuildVectorIndex replays every persisted embedding into the index.
func rebuildVectorIndex(db *database.Database, idx vectorindex.Index) error {
	blobs, _, err := database.AllEmbeddings(db)
	if err != nil {
		return err
	}
	ctx := context.Background()
	for id, blob := range blobs {
		if err := idx.Upsert(ctx, id, embedding.DecodeVector(blob)); err != nil {
			log.Warn("failed to replay embedding into index", "id", id, "error", err)
		}
	}
	if len(blobs) > 0 {
		log.Info("vector index rebuilt", "vectors", len(blobs))
	}
	return nil
}

// Close releases the store.
func (e *Engine) Close() error {
	return e.DB.Close()
}

// ApplyHotReload swaps in the hot-reloadable settings, the retention
// target and the ingest-gate thresholds, from a freshly validated config.
// Writes serialise through the store's single-writer guard, so replacing
// these values between operations is safe.
func (e *Engine) ApplyHotReload(cfg *config.Config) {
	gateCfg := cfg.IngestGate.ToGateConfig()
	if err := gateCfg.Validate(); err != nil {
		log.Warn("rejecting hot-reloaded gate thresholds", "error", err)
		return
	}
	e.Gate.Config = gateCfg
	if target := cfg.FSRS.RetentionTarget; target > 0 && target < 1 {
		e.Scheduler.Params.RequestRetention = target
	}
	log.Info("hot-reloadable settings applied",
		"retention_target", e.Scheduler.Params.RequestRetention)
}

// StartBackground launches the consolidation loop; it stops when ctx is
// cancelled.
func (e *Engine) StartBackground(ctx context.Context) {
	go e.Consolidator.Run(ctx, e.triggerCh)
}

// IngestRequest mirrors the gate's request shape at the engine boundary.
type IngestRequest = ingest.Request

// Ingest routes a candidate write through the prediction-error gate and
// feeds the consolidation trigger heuristic.
func (e *Engine) Ingest(ctx context.Context, req IngestRequest) (*ingest.Result, error) {
	res, err := e.Gate.Ingest(ctx, req)
	if err != nil {
		return nil, err
	}
	e.Consolidator.NoteWrite()
	return res, nil
}

// Get returns a node with its retention evaluated live at read time, so
// callers always observe current retrievability rather than the last
// cached value.
func (e *Engine) Get(id string) (*database.MemoryNode, error) {
	n, err := database.GetMemoryNode(e.DB, id)
	if err != nil {
		return nil, err
	}
	if n.Reps > 0 || n.Stability > 0 {
		n.RetentionStrength = e.Scheduler.Params.RetrievabilityNow(n.Stability, n.LastAccessed, e.Now())
	}
	return n, nil
}

// SearchOptions are the engine-level search knobs.
type SearchOptions struct {
	Limit         int
	Topics        []string
	MinRetention  *float64
	MinSimilarity *float64
}

// Search runs the retrieval pipeline and records the returned ids in the
// predictive-access window.
func (e *Engine) Search(ctx context.Context, query string, opts SearchOptions) (*retrieval.Response, error) {
	pOpts := retrieval.Options{Limit: opts.Limit, Topics: opts.Topics}
	if opts.MinRetention != nil {
		pOpts.MinRetention = *opts.MinRetention
		pOpts.HasMinRetention = true
	}
	if opts.MinSimilarity != nil {
		pOpts.MinSimilarity = *opts.MinSimilarity
		pOpts.HasMinSimilarity = true
	}

	resp, err := e.Pipeline.Run(ctx, query, pOpts)
	if err != nil {
		return nil, err
	}
	now := e.Now()
	for _, r := range resp.Results {
		e.window.Record(r.Node.ID, now)
	}
	return resp, nil
}

// Delete removes a node; its embeddings and connections cascade away.
func (e *Engine) Delete(ctx context.Context, id string) error {
	if err := database.DeleteMemoryNode(e.DB, id); err != nil {
		return err
	}
	if err := e.Vectors.Delete(ctx, id); err != nil {
		log.Warn("failed to drop vector for deleted node", "id", id, "error", err)
	}
	e.Consolidator.NoteWrite()
	return nil
}

// List returns nodes matching the filters.
func (e *Engine) List(f *database.NodeFilters) ([]*database.MemoryNode, error) {
	return database.ListByTypeAndTag(e.DB, f)
}

// MarkUseful records that a retrieved memory actually helped, feeding the
// utility score.
func (e *Engine) MarkUseful(id string) error {
	return database.RecordUseful(e.DB, id)
}

// DueReviews answers "what should I review next".
func (e *Engine) DueReviews(limit int) ([]*database.MemoryNode, error) {
	return database.ListDueReviews(e.DB, e.Now(), limit)
}

// Stats returns store-wide aggregates.
func (e *Engine) Stats() (*database.NodeStats, error) {
	return database.GetNodeStats(e.DB, e.Now())
}

// RetentionDistribution returns the retention histogram.
func (e *Engine) RetentionDistribution(buckets int) ([]database.RetentionBucket, error) {
	return database.GetRetentionDistribution(e.DB, buckets)
}

// RetentionTrend returns per-day average retention for recent cohorts.
func (e *Engine) RetentionTrend(days int) ([]database.RetentionTrendPoint, error) {
	return database.GetRetentionTrend(e.DB, days, e.Now())
}

// ChangelogEntry is one row of the merged system-wide changelog.
type ChangelogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"` // state_transition, consolidation, dream
	MemoryID  string    `json:"memory_id,omitempty"`
	Summary   string    `json:"summary"`
}

// Changelog merges the three append-only audit streams (state transitions,
// consolidation records, dream records) by timestamp, newest first.
func (e *Engine) Changelog(since time.Time, limit int) ([]ChangelogEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	transitions, err := database.ListChangelog(e.DB, since, limit)
	if err != nil {
		return nil, err
	}
	consolidations, err := database.ListRecentConsolidations(e.DB, limit)
	if err != nil {
		return nil, err
	}
	dreams, err := database.ListRecentDreams(e.DB, limit)
	if err != nil {
		return nil, err
	}

	entries := make([]ChangelogEntry, 0, len(transitions)+len(consolidations)+len(dreams))
	for _, t := range transitions {
		from := t.FromState
		if from == "" {
			from = "-"
		}
		entries = append(entries, ChangelogEntry{
			Timestamp: t.Timestamp,
			Kind:      "state_transition",
			MemoryID:  t.MemoryID,
			Summary:   fmt.Sprintf("%s -> %s (%s)", from, t.ToState, t.Reason),
		})
	}
	for _, c := range consolidations {
		if c.FinishedAt.Before(since) {
			continue
		}
		entries = append(entries, ChangelogEntry{
			Timestamp: c.FinishedAt,
			Kind:      "consolidation",
			Summary: fmt.Sprintf("recomputed %d, merged %d, pruned %d connections",
				c.RecomputedCount, c.MergedCount, c.PrunedConnections),
		})
	}
	for _, d := range dreams {
		if d.CompletedAt.Before(since) {
			continue
		}
		entries = append(entries, ChangelogEntry{
			Timestamp: d.CompletedAt,
			Kind:      "dream",
			Summary:   fmt.Sprintf("cycle over %d nodes (%d merges)", d.NodesProcessed, d.Merges),
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp.After(entries[j].Timestamp) })
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// History returns the state transitions for one memory, oldest first.
func (e *Engine) History(id string) ([]*database.StateTransition, error) {
	return database.ListStateTransitions(e.DB, id)
}

// TriggerConsolidation runs a pass immediately and returns its record.
func (e *Engine) TriggerConsolidation(reason string) (*database.ConsolidationRecord, error) {
	log.Info("consolidation requested", "reason", reason)
	return e.Consolidator.Pass()
}

// RecentConsolidations lists recent pass records, newest first.
func (e *Engine) RecentConsolidations(limit int) ([]*database.ConsolidationRecord, error) {
	return database.ListRecentConsolidations(e.DB, limit)
}

// RecentAccesses returns the predictive-access window contents, newest
// first.
func (e *Engine) RecentAccesses() []AccessRecord {
	return e.window.Snapshot()
}

// SaveIntention stores a prospective-memory reminder.
func (e *Engine) SaveIntention(in *database.Intention) error {
	return database.SaveIntention(e.DB, in)
}

// DueIntentions lists intentions that should surface now.
func (e *Engine) DueIntentions() ([]*database.Intention, error) {
	return database.ListDueIntentions(e.DB, e.Now())
}

// SnoozeIntention defers an intention until the given time.
func (e *Engine) SnoozeIntention(id string, until time.Time) error {
	return database.Snooze(e.DB, id, until)
}

// ResolveIntention moves an intention to a terminal status.
func (e *Engine) ResolveIntention(id, status string) error {
	switch status {
	case "fulfilled":
		return database.Fulfill(e.DB, id)
	case "cancelled":
		return database.Cancel(e.DB, id)
	case "expired":
		return database.Expire(e.DB, id)
	default:
		return engerr.Invalid("unknown terminal intention status %q", status)
	}
}

// Backup checkpoints the write-ahead log and copies the database file to
// destPath; the copy alone is a complete restorable backup.
func (e *Engine) Backup(destPath string) error {
	if err := e.DB.Checkpoint(); err != nil {
		return engerr.Wrap(engerr.InternalError, "checkpoint before backup", err)
	}

	src, err := os.Open(e.DB.Path())
	if err != nil {
		return engerr.Wrap(engerr.InternalError, "open database for backup", err)
	}
	defer src.Close()

	dst, err := os.Create(destPath)
	if err != nil {
		return engerr.Wrap(engerr.InternalError, "create backup file", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return engerr.Wrap(engerr.InternalError, "copy database file", err)
	}
	return dst.Sync()
}
