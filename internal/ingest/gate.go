// Package ingest implements the prediction-error gate, the single
// choke-point through which every memory write flows. The gate embeds the
// candidate, compares it against the nearest existing memories, and decides
// between create, reinforce, update, supersede, merge, and add_context so
// near-duplicate content collapses instead of proliferating.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/engramhq/engram/internal/ai"
	"github.com/engramhq/engram/internal/database"
	"github.com/engramhq/engram/internal/embedding"
	"github.com/engramhq/engram/internal/engerr"
	"github.com/engramhq/engram/internal/fsrs"
	"github.com/engramhq/engram/internal/logging"
	"github.com/engramhq/engram/internal/vectorindex"
)

var log = logging.GetLogger("ingest")

// Decision is the gate's classification of a write.
type Decision string

const (
	DecisionCreate     Decision = "create"
	DecisionReinforce  Decision = "reinforce"
	DecisionUpdate     Decision = "update"
	DecisionSupersede  Decision = "supersede"
	DecisionMerge      Decision = "merge"
	DecisionAddContext Decision = "add_context"
)

// Config carries the gate's similarity thresholds. The thresholds form a
// monotone cascade: TCreate < TUpdate < TReinforce.
type Config struct {
	TCreate       float64 // below this, always a fresh node
	TUpdate       float64
	TReinforce    float64
	K             int     // nearest neighbours consulted
	MergeBand     float64 // similarity band around s1 counting as "near equal"
	DemotionFloor float64 // retrieval_strength below this marks a node demoted

	// SynapticTagThreshold gates the post-ingest importance side effect.
	SynapticTagThreshold float64

	// EmbeddingVersion tags stored vectors; cosine comparisons are only
	// meaningful within one version.
	EmbeddingVersion int

	// EmotionalBoostK scales the stability boost for salient memories.
	EmotionalBoostK float64
}

// DefaultConfig returns the stock gate thresholds.
func DefaultConfig() Config {
	return Config{
		TCreate:              0.65,
		TUpdate:              0.80,
		TReinforce:           0.92,
		K:                    5,
		MergeBand:            0.05,
		DemotionFloor:        0.3,
		SynapticTagThreshold: 0.3,
		EmbeddingVersion:     2,
		EmotionalBoostK:      fsrs.EmotionalBoostK,
	}
}

// Validate rejects threshold sets that break the monotone cascade.
func (c Config) Validate() error {
	if !(c.TCreate < c.TUpdate && c.TUpdate < c.TReinforce) {
		return engerr.Invalid("gate thresholds must satisfy T_create < T_update < T_reinforce (got %v, %v, %v)",
			c.TCreate, c.TUpdate, c.TReinforce)
	}
	if c.K <= 0 {
		return engerr.Invalid("gate K must be positive")
	}
	return nil
}

// Request is one candidate write.
type Request struct {
	Content    string
	NodeType   string
	Tags       []string
	Source     string
	ValidFrom  *time.Time
	ValidUntil *time.Time
}

// Result reports the gate's decision, the node it acted on, the prediction
// error, and a human-readable reason.
type Result struct {
	Decision        Decision `json:"decision"`
	NodeID          string   `json:"node_id"`
	PredictionError float64  `json:"prediction_error"`
	TopSimilarity   float64  `json:"top_similarity"`
	Reason          string   `json:"reason"`
	Degraded        bool     `json:"degraded"`

	// MergedWith lists the near-equal candidates a merge connected to.
	MergedWith []string `json:"merged_with,omitempty"`
	// SupersededID is the expired node on a supersede.
	SupersededID string `json:"superseded_id,omitempty"`
}

// Gate wires the embedder, vector index, node store, scheduler, and
// analyzer into the decision procedure.
type Gate struct {
	DB        *database.Database
	Vectors   vectorindex.Index
	Embedder  embedding.Embedder
	Scheduler *fsrs.Scheduler
	Analyzer  *ai.Analyzer
	Config    Config

	// Now is the clock, overridable in tests that simulate elapsed time.
	Now func() time.Time
}

// NewGate builds a Gate with cfg, defaulting zero configs.
func NewGate(db *database.Database, vectors vectorindex.Index, embedder embedding.Embedder, scheduler *fsrs.Scheduler, analyzer *ai.Analyzer, cfg Config) *Gate {
	if cfg.K == 0 {
		cfg = DefaultConfig()
	}
	return &Gate{
		DB:        db,
		Vectors:   vectors,
		Embedder:  embedder,
		Scheduler: scheduler,
		Analyzer:  analyzer,
		Config:    cfg,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// Ingest runs the full decision procedure for one candidate. After the
// vector lookup commits the decision the operation is no longer
// cancellable: the remaining store mutations run to completion even if ctx
// is cancelled mid-way.
func (g *Gate) Ingest(ctx context.Context, req Request) (*Result, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, engerr.Invalid("content is required")
	}
	if len(req.Content) > database.MaxContentBytes {
		return nil, engerr.Invalid("content exceeds %d bytes", database.MaxContentBytes)
	}

	assessment := g.assess(ctx, content, req.Tags)

	vec, err := g.Embedder.Embed(ctx, content)
	if err != nil {
		// Degraded path: no embedding means no similarity evidence, so the
		// only safe decision is an unconditional create.
		log.Warn("embedder unavailable, degrading to unconditional create", "error", err)
		res, cerr := g.createNode(nil, req, assessment)
		if cerr != nil {
			return nil, cerr
		}
		res.Degraded = true
		res.Reason = "embedder unavailable; stored as a new memory without similarity checks"
		return res, nil
	}
	vec = embedding.Normalize(vec)

	matches, err := g.Vectors.Search(ctx, vec, g.Config.K)
	if err != nil {
		log.Warn("vector index unavailable, degrading to unconditional create", "error", err)
		res, cerr := g.createNode(vec, req, assessment)
		if cerr != nil {
			return nil, cerr
		}
		res.Degraded = true
		res.Reason = "vector index unavailable; stored as a new memory without similarity checks"
		return res, nil
	}

	// Past this point the vector lookup has committed the decision; the
	// mutation phase runs to completion regardless of ctx.
	if len(matches) == 0 || matches[0].Score < g.Config.TCreate {
		res, err := g.createNode(vec, req, assessment)
		if err != nil {
			return nil, err
		}
		if len(matches) > 0 {
			res.TopSimilarity = matches[0].Score
			res.PredictionError = 1 - matches[0].Score
		} else {
			res.PredictionError = 1
		}
		res.Reason = fmt.Sprintf("nearest memory similarity %.3f below create threshold %.2f",
			res.TopSimilarity, g.Config.TCreate)
		return res, nil
	}

	s1 := matches[0].Score
	pe := 1 - s1
	top, err := database.GetMemoryNode(g.DB, matches[0].MemoryID)
	if err != nil {
		// The index can run ahead of the store (a node deleted between
		// index population and lookup); treat as no evidence.
		res, cerr := g.createNode(vec, req, assessment)
		if cerr != nil {
			return nil, cerr
		}
		res.PredictionError = pe
		res.TopSimilarity = s1
		res.Reason = "nearest indexed memory no longer exists; stored as a new memory"
		return res, nil
	}

	now := g.Now()

	// A labile top match means the write lands inside its reconsolidation
	// window: treat it as a modification of the just-accessed memory rather
	// than weighing a duplicate.
	if top.IsLabile(now) && s1 >= g.Config.TUpdate {
		return g.updateNode(vec, top, req, assessment, s1, pe,
			fmt.Sprintf("memory is labile (reconsolidation window open) and similarity %.3f >= %.2f", s1, g.Config.TUpdate))
	}

	demoted := top.RetrievalStrength < g.Config.DemotionFloor

	switch {
	case s1 >= g.Config.TReinforce:
		return g.reinforceNode(top, content, assessment, s1, pe)

	case s1 >= g.Config.TUpdate && demoted:
		return g.supersedeNode(vec, top, req, assessment, s1, pe)

	case s1 >= g.Config.TUpdate:
		if ids := g.nearEqualIDs(matches); len(ids) >= 2 {
			return g.mergeNode(vec, ids, matches, req, assessment, s1, pe)
		}
		return g.updateNode(vec, top, req, assessment, s1, pe,
			fmt.Sprintf("similarity %.3f in update band [%.2f, %.2f)", s1, g.Config.TUpdate, g.Config.TReinforce))

	default:
		// T_create <= s1 < T_update: related but distinct; attach the new
		// content as a discrete context section on the nearest memory.
		return g.addContext(top, content, s1, pe)
	}
}

func (g *Gate) assess(ctx context.Context, content string, tags []string) ai.Assessment {
	if g.Analyzer == nil {
		return ai.Assessment{}
	}
	return g.Analyzer.Assess(ctx, content, tags)
}

// nearEqualIDs returns the ids of every match whose similarity is within
// MergeBand of the best match and at or above TUpdate, the merge
// precondition.
func (g *Gate) nearEqualIDs(matches []vectorindex.Match) []string {
	s1 := matches[0].Score
	var out []string
	for _, m := range matches {
		if m.Score >= g.Config.TUpdate && s1-m.Score <= g.Config.MergeBand {
			out = append(out, m.MemoryID)
		}
	}
	return out
}

// createNode writes a fresh MemoryNode with its initial FSRS state,
// persists the embedding when available, and runs the post-ingest side
// effects.
func (g *Gate) createNode(vec []float64, req Request, assessment ai.Assessment) (*Result, error) {
	now := g.Now()
	w := g.Scheduler.Params.W

	stability := fsrs.InitialStability(fsrs.RatingGood, w)
	stability = fsrs.ApplySentimentBoost(stability, assessment.SentimentMagnitude,
		g.Config.EmotionalBoostK, assessment.Flashbulb, fsrs.MinStability*100)

	node := &database.MemoryNode{
		Content:  req.Content,
		NodeType: req.NodeType,
		Tags:     req.Tags,
		Source:   req.Source,

		CreatedAt:    now,
		UpdatedAt:    now,
		LastAccessed: now,
		ValidFrom:    req.ValidFrom,
		ValidUntil:   req.ValidUntil,

		Stability:     stability,
		Difficulty:    fsrs.InitialDifficulty(fsrs.RatingGood, w),
		LearningState: string(fsrs.StateNew),

		// Fresh memories start fully retrievable; storage strength builds
		// only through review (Bjork dual-strength).
		StorageStrength:   0.3,
		RetrievalStrength: 0.8,
		RetentionStrength: 1.0,

		SentimentScore:     assessment.SentimentScore,
		SentimentMagnitude: assessment.SentimentMagnitude,
	}

	if assessment.Flashbulb || assessment.Importance > g.Config.SynapticTagThreshold {
		node.WakingTag = true
		t := now
		node.WakingTagAt = &t
	}

	if err := database.CreateMemoryNode(g.DB, node); err != nil {
		return nil, err
	}

	if vec != nil {
		g.persistEmbedding(node.ID, vec)
	}

	return &Result{
		Decision:        DecisionCreate,
		NodeID:          node.ID,
		PredictionError: 1,
	}, nil
}

// reinforceNode is the high-similarity path: the memory is confirmed, so
// its strengths climb and, when the phrasing differs, the new wording is
// kept as appended context.
func (g *Gate) reinforceNode(top *database.MemoryNode, content string, assessment ai.Assessment, s1, pe float64) (*Result, error) {
	now := g.Now()

	retrieval := top.RetrievalStrength + (1-top.RetrievalStrength)*0.2
	storage := top.StorageStrength + (1-top.StorageStrength)*0.1
	stability := fsrs.ApplySentimentBoost(top.Stability, assessment.SentimentMagnitude,
		g.Config.EmotionalBoostK, false, 0)
	retention := g.Scheduler.Params.RetrievabilityNow(stability, top.LastAccessed, now)

	newContent := top.Content
	if !textuallyEqual(top.Content, content) {
		newContent = top.Content + "\n\n" + content
		if len(newContent) > database.MaxContentBytes {
			newContent = top.Content
		}
	}

	times := top.TimesRetrieved + 1
	update := &database.NodeUpdate{
		Content:           &newContent,
		Stability:         &stability,
		RetrievalStrength: &retrieval,
		StorageStrength:   &storage,
		RetentionStrength: &retention,
		TimesRetrieved:    &times,
	}
	if err := database.UpdateMemoryNode(g.DB, top.ID, update); err != nil {
		return nil, err
	}
	g.touchAccess(top.ID, now)

	if err := database.InsertStateTransition(g.DB, &database.StateTransition{
		MemoryID:  top.ID,
		FromState: top.LearningState,
		ToState:   top.LearningState,
		Reason:    "reinforce",
		Detail:    fmt.Sprintf("similarity %.3f", s1),
	}); err != nil {
		log.Warn("failed to record reinforce transition", "id", top.ID, "error", err)
	}

	return &Result{
		Decision:        DecisionReinforce,
		NodeID:          top.ID,
		PredictionError: pe,
		TopSimilarity:   s1,
		Reason:          fmt.Sprintf("similarity %.3f >= reinforce threshold %.2f", s1, g.Config.TReinforce),
	}, nil
}

// updateNode merges the candidate into the top match and refreshes its
// embedding.
func (g *Gate) updateNode(vec []float64, top *database.MemoryNode, req Request, assessment ai.Assessment, s1, pe float64, reason string) (*Result, error) {
	now := g.Now()

	merged := top.Content
	if !textuallyEqual(top.Content, req.Content) {
		merged = top.Content + "\n\n" + strings.TrimSpace(req.Content)
		if len(merged) > database.MaxContentBytes {
			merged = strings.TrimSpace(req.Content)
		}
	}
	tags := unionTags(top.Tags, req.Tags)
	retention := g.Scheduler.Params.RetrievabilityNow(top.Stability, top.LastAccessed, now)

	update := &database.NodeUpdate{
		Content:           &merged,
		Tags:              tags,
		RetentionStrength: &retention,
	}
	if req.Source != "" {
		update.Source = &req.Source
	}
	if err := database.UpdateMemoryNode(g.DB, top.ID, update); err != nil {
		return nil, err
	}
	g.touchAccess(top.ID, now)

	if vec != nil {
		// Content changed, so the stored vector is stale; re-embed the
		// merged text rather than keeping the candidate's.
		g.reembed(top.ID, merged)
	}

	if err := database.InsertStateTransition(g.DB, &database.StateTransition{
		MemoryID:  top.ID,
		FromState: top.LearningState,
		ToState:   top.LearningState,
		Reason:    "pe_update",
		Detail:    fmt.Sprintf("similarity %.3f", s1),
	}); err != nil {
		log.Warn("failed to record update transition", "id", top.ID, "error", err)
	}

	return &Result{
		Decision:        DecisionUpdate,
		NodeID:          top.ID,
		PredictionError: pe,
		TopSimilarity:   s1,
		Reason:          reason,
	}, nil
}

// supersedeNode handles a correction against a demoted memory: the new
// content becomes a fresh node, the old one is expired and linked.
func (g *Gate) supersedeNode(vec []float64, old *database.MemoryNode, req Request, assessment ai.Assessment, s1, pe float64) (*Result, error) {
	now := g.Now()

	res, err := g.createNode(vec, req, assessment)
	if err != nil {
		return nil, err
	}

	validUntil := now
	if err := database.UpdateMemoryNode(g.DB, old.ID, &database.NodeUpdate{
		ValidUntil: &validUntil,
	}); err != nil {
		return nil, err
	}

	if err := database.InsertStateTransition(g.DB, &database.StateTransition{
		MemoryID:  old.ID,
		FromState: old.LearningState,
		ToState:   old.LearningState,
		Reason:    "superseded",
		Detail:    fmt.Sprintf("superseded by %s at similarity %.3f", res.NodeID, s1),
	}); err != nil {
		log.Warn("failed to record supersede transition", "id", old.ID, "error", err)
	}

	if err := database.SaveConnection(g.DB, &database.Connection{
		SourceID: res.NodeID,
		TargetID: old.ID,
		Strength: s1,
		LinkType: "supersedes",
	}); err != nil {
		log.Warn("failed to save supersedes connection", "error", err)
	}

	res.Decision = DecisionSupersede
	res.PredictionError = pe
	res.TopSimilarity = s1
	res.SupersededID = old.ID
	res.Reason = fmt.Sprintf("nearest memory demoted (retrieval strength %.3f < %.2f); new version supersedes it",
		old.RetrievalStrength, g.Config.DemotionFloor)
	return res, nil
}

// mergeNode handles several near-equal matches: a fresh node is written
// and linked to each of them via shared_concepts edges.
func (g *Gate) mergeNode(vec []float64, nearEqual []string, matches []vectorindex.Match, req Request, assessment ai.Assessment, s1, pe float64) (*Result, error) {
	res, err := g.createNode(vec, req, assessment)
	if err != nil {
		return nil, err
	}

	simByID := make(map[string]float64, len(matches))
	for _, m := range matches {
		simByID[m.MemoryID] = m.Score
	}

	for _, id := range nearEqual {
		if err := database.SaveConnection(g.DB, &database.Connection{
			SourceID: res.NodeID,
			TargetID: id,
			Strength: simByID[id],
			LinkType: "shared_concepts",
		}); err != nil {
			log.Warn("failed to save merge connection", "target", id, "error", err)
		}
	}

	res.Decision = DecisionMerge
	res.PredictionError = pe
	res.TopSimilarity = s1
	res.MergedWith = nearEqual
	res.Reason = fmt.Sprintf("%d near-equal memories within %.2f of the best match", len(nearEqual), g.Config.MergeBand)
	return res, nil
}

// addContext appends the candidate as a discrete context section on the
// nearest memory without refreshing its embedding: the original meaning
// stays dominant, the new material rides along.
func (g *Gate) addContext(top *database.MemoryNode, content string, s1, pe float64) (*Result, error) {
	now := g.Now()

	appended := top.Content + "\n\n---\n" + content
	if len(appended) > database.MaxContentBytes {
		return nil, engerr.Invalid("appending context would exceed %d bytes", database.MaxContentBytes)
	}

	if err := database.UpdateMemoryNode(g.DB, top.ID, &database.NodeUpdate{Content: &appended}); err != nil {
		return nil, err
	}
	g.touchAccess(top.ID, now)

	if err := database.InsertStateTransition(g.DB, &database.StateTransition{
		MemoryID:  top.ID,
		FromState: top.LearningState,
		ToState:   top.LearningState,
		Reason:    "add_context",
		Detail:    fmt.Sprintf("similarity %.3f", s1),
	}); err != nil {
		log.Warn("failed to record add_context transition", "id", top.ID, "error", err)
	}

	return &Result{
		Decision:        DecisionAddContext,
		NodeID:          top.ID,
		PredictionError: pe,
		TopSimilarity:   s1,
		Reason: fmt.Sprintf("similarity %.3f related but below update threshold %.2f; appended as context",
			s1, g.Config.TUpdate),
	}, nil
}

// persistEmbedding stores vec for id and mirrors it into the vector index.
// Failures are logged, not fatal: the consolidator's cache rebuild and the
// index rebuild at startup both recover from the store.
func (g *Gate) persistEmbedding(id string, vec []float64) {
	blob := embedding.EncodeVector(vec)
	if err := database.SaveEmbedding(g.DB, id, g.Config.EmbeddingVersion, blob, len(vec), g.Embedder.ModelID()); err != nil {
		log.Warn("failed to persist embedding", "id", id, "error", err)
		return
	}
	if err := g.Vectors.Upsert(context.Background(), id, vec); err != nil {
		log.Warn("failed to index embedding", "id", id, "error", err)
	}
}

// reembed regenerates the stored embedding after a content change.
func (g *Gate) reembed(id, content string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	vec, err := g.Embedder.Embed(ctx, content)
	if err != nil {
		log.Warn("failed to refresh embedding after update", "id", id, "error", err)
		return
	}
	g.persistEmbedding(id, embedding.Normalize(vec))
}

func (g *Gate) touchAccess(id string, now time.Time) {
	if _, err := g.DB.Exec("UPDATE memory_nodes SET last_accessed = ? WHERE id = ?", now, id); err != nil {
		log.Warn("failed to touch last_accessed", "id", id, "error", err)
	}
}

func textuallyEqual(a, b string) bool {
	return strings.TrimSpace(a) == strings.TrimSpace(b)
}

func unionTags(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, t := range append(append([]string{}, a...), b...) {
		key := strings.ToLower(t)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}
