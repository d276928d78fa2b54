// Package retrieval implements the seven-stage hybrid retrieval pipeline:
// hybrid fetch+fusion, rerank, temporal adjustment, accessibility gating,
// context match, retrieval competition, utility boost, associations, and
// the access-side effects.
package retrieval

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/engramhq/engram/internal/database"
	"github.com/engramhq/engram/internal/embedding"
	"github.com/engramhq/engram/internal/engerr"
	"github.com/engramhq/engram/internal/fsrs"
	"github.com/engramhq/engram/internal/keywordindex"
	"github.com/engramhq/engram/internal/logging"
	"github.com/engramhq/engram/internal/vectorindex"
)

var log = logging.GetLogger("retrieval")

// Config holds the pipeline's tunable thresholds and weights, all
// overridable and some hot-reloadable per the configuration surface.
type Config struct {
	Fusion               FusionStrategy
	MinRetention         float64
	MinSimilarity        float64
	RecencyHalfLifeDays  float64
	TemporalBlend        float64 // weight on the recency/validity-adjusted term
	ContextBoostMax      float64
	CompetitionThreshold float64
	CompetitionPenalty   float64
	UtilityBoostCoef     float64
	LabileWindow         time.Duration
	AssociationTopK      int
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		Fusion:               DefaultConvexFusion(),
		MinRetention:         0,
		MinSimilarity:        0,
		RecencyHalfLifeDays:  30,
		TemporalBlend:        0.15,
		ContextBoostMax:      0.30,
		CompetitionThreshold: 0.7,
		CompetitionPenalty:   0.85,
		UtilityBoostCoef:     0.15,
		LabileWindow:         5 * time.Minute,
		AssociationTopK:      3,
	}
}

// Options are the per-request knobs. The zero value inherits the
// pipeline's Config for the threshold fields; Limit defaults to 10.
type Options struct {
	Limit  int
	Topics []string

	// MinRetention / MinSimilarity override Config when set (>= 0 and the
	// corresponding Has flag true). Engine-level callers set these from the
	// request; a search with MinRetention 1.0 returns only freshly
	// reviewed or newly created nodes.
	MinRetention     float64
	HasMinRetention  bool
	MinSimilarity    float64
	HasMinSimilarity bool
}

// SubScores carries every stage's contribution to a candidate's final
// score, for the audit/explainability requirement.
type SubScores struct {
	KeywordScore          float64 `json:"keyword_score"`
	SemanticScore         float64 `json:"semantic_score"`
	FusedScore            float64 `json:"fused_score"`
	RerankScore           float64 `json:"rerank_score"`
	RecencyMultiplier     float64 `json:"recency_multiplier"`
	ValidityMultiplier    float64 `json:"validity_multiplier"`
	AfterTemporal         float64 `json:"after_temporal"`
	Accessibility         string  `json:"accessibility"`
	AccessibilityValue    float64 `json:"accessibility_value"`
	AfterAccessibility    float64 `json:"after_accessibility"`
	ContextBoost          float64 `json:"context_boost"`
	CompetitionSuppressed bool    `json:"competition_suppressed"`
	UtilityBoost          float64 `json:"utility_boost"`
	FinalScore            float64 `json:"final_score"`
}

// Result is one ranked candidate with its full explanatory breakdown.
type Result struct {
	Node          *database.MemoryNode
	Scores        SubScores
	AssociatedIDs []string

	// vector is the candidate's stored embedding, threaded through for
	// Stage 5b's pairwise competition. Nil when the node has none.
	vector []float64
}

// Response is the full pipeline output: ranked results plus the run-level
// accounting the audit surface needs.
type Response struct {
	Results         []Result
	SuppressedCount int
	Notes           []string // degradation annotations, empty on a clean run
}

// Pipeline wires the keyword index, vector index, embedder, and FSRS
// scheduler together into the seven-stage retrieval contract.
type Pipeline struct {
	DB        *database.Database
	Vectors   vectorindex.Index
	Embedder  embedding.Embedder
	Scheduler *fsrs.Scheduler
	Config    Config
}

// NewPipeline builds a Pipeline with cfg, falling back to DefaultConfig
// when cfg has no fusion strategy.
func NewPipeline(db *database.Database, vectors vectorindex.Index, embedder embedding.Embedder, scheduler *fsrs.Scheduler, cfg Config) *Pipeline {
	if cfg.Fusion == nil {
		cfg = DefaultConfig()
	}
	return &Pipeline{DB: db, Vectors: vectors, Embedder: embedder, Scheduler: scheduler, Config: cfg}
}

// Run executes all seven stages for the query, returning at most
// opts.Limit ranked results, and performs the Stage 7 access-side effects
// before returning. Cancellation is honoured at every stage boundary; a
// cancelled run commits no side effects.
func (p *Pipeline) Run(ctx context.Context, query string, opts Options) (*Response, error) {
	n := opts.Limit
	if n <= 0 {
		n = 10
	}
	minRetention := p.Config.MinRetention
	if opts.HasMinRetention {
		minRetention = opts.MinRetention
	}
	minSimilarity := p.Config.MinSimilarity
	if opts.HasMinSimilarity {
		minSimilarity = opts.MinSimilarity
	}

	resp := &Response{}
	now := time.Now().UTC()

	// A query with no indexable content (punctuation only, whitespace only)
	// matches nothing by definition; return an empty set, not an error.
	if !hasSearchableContent(query) {
		return resp, nil
	}

	fetchLimit := n * 3
	if fetchLimit > 100 {
		fetchLimit = 100
	}
	if fetchLimit < n {
		fetchLimit = n
	}

	// Stage 1: hybrid fetch. The keyword and vector sides run concurrently
	// and meet at the fusion step.
	keywordScored, semanticScored := p.hybridFetch(ctx, query, fetchLimit, resp)
	if err := ctx.Err(); err != nil {
		return nil, engerr.Wrap(engerr.InternalError, "retrieval cancelled", err)
	}

	fused := p.Config.Fusion.Fuse(keywordScored, semanticScored)
	keywordByID := indexByID(keywordScored)
	semanticByID := indexByID(semanticScored)

	candidates := make(map[string]*Result)
	var order []string
	for _, f := range fused {
		node, err := database.GetMemoryNode(p.DB, f.MemoryID)
		if err != nil {
			continue // deleted between index population and lookup
		}
		if node.RetentionStrength < minRetention {
			continue
		}
		sem := semanticByID[f.MemoryID]
		if minSimilarity > 0 && sem < minSimilarity {
			continue
		}

		candidates[f.MemoryID] = &Result{
			Node: node,
			Scores: SubScores{
				KeywordScore:  keywordByID[f.MemoryID],
				SemanticScore: sem,
				FusedScore:    f.Score,
			},
		}
		order = append(order, f.MemoryID)
	}

	// Stage 2: rerank on the full query and full candidate text. The
	// working set stays at fetchLimit so later stages still have room to
	// reorder before the final trim.
	for _, id := range order {
		r := candidates[id]
		r.Scores.RerankScore = bm25VariantRerank(query, r.Node.Content)
	}
	sort.Slice(order, func(i, j int) bool {
		return candidates[order[i]].Scores.RerankScore > candidates[order[j]].Scores.RerankScore
	})
	if len(order) > fetchLimit {
		order = order[:fetchLimit]
	}
	if err := ctx.Err(); err != nil {
		return nil, engerr.Wrap(engerr.InternalError, "retrieval cancelled", err)
	}

	// Stage 3: temporal adjustment.
	lambda := math.Ln2 / p.Config.RecencyHalfLifeDays
	for _, id := range order {
		r := candidates[id]
		ageDays := now.Sub(r.Node.CreatedAt).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		recency := math.Exp(-lambda * ageDays)
		validity := 1.0
		if r.Node.ValidFrom != nil && now.Before(*r.Node.ValidFrom) {
			validity = 0
		}
		if r.Node.ValidUntil != nil && now.After(*r.Node.ValidUntil) {
			validity = 0
		}
		blend := p.Config.TemporalBlend
		base := r.Scores.RerankScore
		adjusted := (1-blend)*base + blend*base*recency*validity

		r.Scores.RecencyMultiplier = recency
		r.Scores.ValidityMultiplier = validity
		r.Scores.AfterTemporal = adjusted
	}

	// Stage 4: accessibility gating. Unavailable memories keep a deeply
	// discounted score rather than being dropped outright.
	for _, id := range order {
		r := candidates[id]
		node := r.Node
		accessibility := 0.5*node.RetentionStrength + 0.3*node.RetrievalStrength + 0.2*node.StorageStrength
		r.Scores.Accessibility = accessibilityLabel(accessibility)
		r.Scores.AccessibilityValue = accessibility
		r.Scores.AfterAccessibility = r.Scores.AfterTemporal * accessibility
	}

	// Stage 5a: context match.
	if len(opts.Topics) > 0 {
		for _, id := range order {
			r := candidates[id]
			overlap := jaccardOverlap(opts.Topics, r.Node.Tags)
			boost := 1 + p.Config.ContextBoostMax*overlap
			r.Scores.ContextBoost = boost
			r.Scores.AfterAccessibility *= boost
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, engerr.Wrap(engerr.InternalError, "retrieval cancelled", err)
	}

	// Stage 5b: retrieval competition (retrieval-induced forgetting).
	p.loadCandidateVectors(order, candidates)
	resp.SuppressedCount = p.applyRetrievalCompetition(order, candidates)

	// Stage 5c: utility boost.
	for _, id := range order {
		r := candidates[id]
		boost := 1 + p.Config.UtilityBoostCoef*r.Node.UtilityScore()
		r.Scores.UtilityBoost = boost
		r.Scores.FinalScore = r.Scores.AfterAccessibility * boost
	}

	// Sort descending by the final score and trim to the requested limit.
	sort.Slice(order, func(i, j int) bool {
		return candidates[order[i]].Scores.FinalScore > candidates[order[j]].Scores.FinalScore
	})
	if len(order) > n {
		order = order[:n]
	}

	resp.Results = make([]Result, 0, len(order))
	for _, id := range order {
		resp.Results = append(resp.Results, *candidates[id])
	}
	if err := ctx.Err(); err != nil {
		return nil, engerr.Wrap(engerr.InternalError, "retrieval cancelled", err)
	}

	// Stage 6: associations, attached to the top result only.
	if len(resp.Results) > 0 {
		assoc, err := p.topAssociations(resp.Results[0].Node.ID)
		if err != nil {
			log.Warn("association lookup failed", "error", err)
			resp.Notes = append(resp.Notes, "associations unavailable")
		} else {
			resp.Results[0].AssociatedIDs = assoc
		}
	}

	// Stage 7: side effects. A cancellation observed before this point has
	// already returned, so a response that reaches the caller always has
	// its Testing Effect applied.
	ids := make([]string, len(resp.Results))
	for i, r := range resp.Results {
		ids[i] = r.Node.ID
	}
	if err := p.applySideEffects(ids, now); err != nil {
		log.Warn("retrieval side effects failed", "error", err)
		resp.Notes = append(resp.Notes, "access side effects incomplete")
	}

	return resp, nil
}

// hybridFetch issues the keyword and semantic queries concurrently,
// recording a degradation note for whichever side fails.
func (p *Pipeline) hybridFetch(ctx context.Context, query string, fetchLimit int, resp *Response) (keyword, semantic []ScoredID) {
	var (
		wg       sync.WaitGroup
		noteMu   sync.Mutex
		kwHits   []keywordindex.Hit
		kwErr    error
		semHits  []vectorindex.Match
		semErr   error
		embedErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		kwHits, kwErr = keywordindex.Search(p.DB, query, fetchLimit)
	}()
	go func() {
		defer wg.Done()
		queryVec, err := p.Embedder.Embed(ctx, query)
		if err != nil {
			embedErr = err
			return
		}
		queryVec = embedding.Normalize(queryVec)
		semHits, semErr = p.Vectors.Search(ctx, queryVec, fetchLimit)
	}()
	wg.Wait()

	addNote := func(n string) {
		noteMu.Lock()
		resp.Notes = append(resp.Notes, n)
		noteMu.Unlock()
	}

	if kwErr != nil {
		log.Warn("keyword search failed, continuing semantic-only", "error", kwErr)
		addNote("keyword search degraded")
	} else {
		keyword = toScoredIDs(kwHits)
	}

	switch {
	case embedErr != nil:
		log.Warn("embedding failed, continuing keyword-only", "error", embedErr)
		addNote("semantic search degraded: embedder unavailable")
	case semErr != nil:
		log.Warn("vector search failed, continuing keyword-only", "error", semErr)
		addNote("semantic search degraded: vector index unavailable")
	default:
		for _, m := range semHits {
			semantic = append(semantic, ScoredID{MemoryID: m.MemoryID, Score: m.Score})
		}
	}
	return keyword, semantic
}

func toScoredIDs(hits []keywordindex.Hit) []ScoredID {
	out := make([]ScoredID, len(hits))
	for i, h := range hits {
		out[i] = ScoredID{MemoryID: h.MemoryID, Score: h.Score}
	}
	return out
}

func indexByID(items []ScoredID) map[string]float64 {
	out := make(map[string]float64, len(items))
	for _, it := range items {
		out[it.MemoryID] = it.Score
	}
	return out
}

// hasSearchableContent reports whether the query contains at least one
// letter or digit after stripping punctuation.
func hasSearchableContent(query string) bool {
	for _, r := range query {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// bm25VariantRerank is a lightweight BM25-shaped overlap score between the
// full query and the full candidate text, used by Stage 2.
func bm25VariantRerank(query, content string) float64 {
	queryTerms := strings.Fields(strings.ToLower(query))
	if len(queryTerms) == 0 {
		return 0
	}
	contentLower := strings.ToLower(content)
	contentTerms := strings.Fields(contentLower)
	termCount := make(map[string]int, len(contentTerms))
	for _, t := range contentTerms {
		termCount[t]++
	}

	var score float64
	docLen := float64(len(contentTerms))
	if docLen == 0 {
		docLen = 1
	}
	const k1, b, avgDocLen = 1.2, 0.75, 50.0
	for _, qt := range queryTerms {
		tf := float64(termCount[qt])
		if tf == 0 {
			continue
		}
		score += (tf * (k1 + 1)) / (tf + k1*(1-b+b*docLen/avgDocLen))
	}
	return score
}

func accessibilityLabel(accessibility float64) string {
	switch {
	case accessibility >= 0.7:
		return "active"
	case accessibility >= 0.4:
		return "dormant"
	case accessibility >= 0.1:
		return "silent"
	default:
		return "unavailable"
	}
}

func jaccardOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(a))
	for _, t := range a {
		setA[strings.ToLower(t)] = true
	}
	setB := make(map[string]bool, len(b))
	for _, t := range b {
		setB[strings.ToLower(t)] = true
	}

	intersection := 0
	for t := range setA {
		if setB[t] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// loadCandidateVectors attaches each candidate's stored embedding so
// Stage 5b can compute true pairwise similarity. Nodes without a stored
// embedding simply skip competition.
func (p *Pipeline) loadCandidateVectors(order []string, candidates map[string]*Result) {
	for _, id := range order {
		r := candidates[id]
		if !r.Node.HasEmbedding {
			continue
		}
		blob, _, err := database.GetLatestEmbedding(p.DB, id)
		if err != nil {
			continue
		}
		r.vector = embedding.DecodeVector(blob)
	}
}

// applyRetrievalCompetition suppresses the weaker of any pair whose
// stored-embedding similarity exceeds CompetitionThreshold, preventing
// near-duplicates from swamping the result set. The penalty applies at
// most once per candidate relative to its pre-competition score, no matter
// how many stronger competitors it loses to. Returns how many candidates
// were suppressed.
func (p *Pipeline) applyRetrievalCompetition(order []string, candidates map[string]*Result) int {
	suppressed := 0
	for i := 0; i < len(order); i++ {
		for j := i + 1; j < len(order); j++ {
			a, b := candidates[order[i]], candidates[order[j]]
			if a.vector == nil || b.vector == nil {
				continue
			}
			sim := embedding.CosineSimilarity(a.vector, b.vector)
			if sim < p.Config.CompetitionThreshold {
				continue
			}
			if a.Scores.AfterAccessibility == b.Scores.AfterAccessibility {
				continue
			}
			weaker := a
			if b.Scores.AfterAccessibility < a.Scores.AfterAccessibility {
				weaker = b
			}
			if weaker.Scores.CompetitionSuppressed {
				continue
			}
			weaker.Scores.AfterAccessibility *= p.Config.CompetitionPenalty
			weaker.Scores.CompetitionSuppressed = true
			suppressed++
		}
	}
	return suppressed
}

func (p *Pipeline) topAssociations(memoryID string) ([]string, error) {
	conns, err := database.GetOutboundConnections(p.DB, memoryID, 0)
	if err != nil {
		return nil, err
	}
	sort.Slice(conns, func(i, j int) bool {
		wi := conns[i].Strength * recencyWeight(conns[i].LastActivated)
		wj := conns[j].Strength * recencyWeight(conns[j].LastActivated)
		return wi > wj
	})

	k := p.Config.AssociationTopK
	if k <= 0 {
		k = 3
	}
	if len(conns) > k {
		conns = conns[:k]
	}
	out := make([]string, len(conns))
	for i, c := range conns {
		out[i] = c.TargetID
		if err := database.ActivateConnection(p.DB, c.SourceID, c.TargetID); err != nil {
			log.Warn("failed to activate connection", "source", c.SourceID, "target", c.TargetID, "error", err)
		}
	}
	return out, nil
}

func recencyWeight(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	ageDays := time.Since(t).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-ageDays / 30)
}

func (p *Pipeline) applySideEffects(ids []string, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	if err := database.StrengthenBatchOnAccess(p.DB, ids); err != nil {
		return engerr.Wrap(engerr.InternalError, "strengthen batch on access", err)
	}
	labileUntil := now.Add(p.Config.LabileWindow)
	for _, id := range ids {
		if err := database.SetLabileUntil(p.DB, id, labileUntil); err != nil {
			return err
		}
	}
	return nil
}
