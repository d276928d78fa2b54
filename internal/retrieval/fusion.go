package retrieval

import "sort"

// ScoredID pairs a memory id with a raw score from one retrieval side.
type ScoredID struct {
	MemoryID string
	Score    float64
}

// FusionStrategy combines a keyword-side and a semantic-side candidate list
// into one fused, normalized ranking.
type FusionStrategy interface {
	Name() string
	Fuse(keyword, semantic []ScoredID) []ScoredID
}

// ConvexFusion is the default strategy: score = wk*normalize(keyword) +
// ws*normalize(semantic), normalizing each side's scores to [0,1] by
// min-max before blending.
type ConvexFusion struct {
	KeywordWeight  float64
	SemanticWeight float64
}

// DefaultConvexFusion returns the stock weights (0.3, 0.7).
func DefaultConvexFusion() ConvexFusion {
	return ConvexFusion{KeywordWeight: 0.3, SemanticWeight: 0.7}
}

func (c ConvexFusion) Name() string { return "convex" }

func (c ConvexFusion) Fuse(keyword, semantic []ScoredID) []ScoredID {
	kNorm := minMaxNormalize(keyword)
	sNorm := minMaxNormalize(semantic)

	fused := make(map[string]float64)
	for id, score := range kNorm {
		fused[id] += c.KeywordWeight * score
	}
	for id, score := range sNorm {
		fused[id] += c.SemanticWeight * score
	}

	return sortedScoredIDs(fused)
}

func minMaxNormalize(items []ScoredID) map[string]float64 {
	out := make(map[string]float64, len(items))
	if len(items) == 0 {
		return out
	}

	min, max := items[0].Score, items[0].Score
	for _, it := range items {
		if it.Score < min {
			min = it.Score
		}
		if it.Score > max {
			max = it.Score
		}
	}

	spread := max - min
	for _, it := range items {
		if spread == 0 {
			out[it.MemoryID] = 1.0
			continue
		}
		out[it.MemoryID] = (it.Score - min) / spread
	}
	return out
}

// RRFFusion is the reciprocal-rank-fusion alternate, selectable behind the
// same FusionStrategy interface. Rank position, not raw score scale,
// drives the fused score, which makes RRF robust when the two sides' score
// distributions aren't comparable.
type RRFFusion struct {
	K float64
}

// DefaultRRFFusion uses the conventional k=60 constant.
func DefaultRRFFusion() RRFFusion {
	return RRFFusion{K: 60}
}

func (r RRFFusion) Name() string { return "rrf" }

func (r RRFFusion) Fuse(keyword, semantic []ScoredID) []ScoredID {
	fused := make(map[string]float64)
	addRanks(fused, keyword, r.K)
	addRanks(fused, semantic, r.K)
	return sortedScoredIDs(fused)
}

func addRanks(fused map[string]float64, items []ScoredID, k float64) {
	ranked := append([]ScoredID(nil), items...)
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	for i, it := range ranked {
		rank := float64(i + 1)
		fused[it.MemoryID] += 1.0 / (k + rank)
	}
}

func sortedScoredIDs(m map[string]float64) []ScoredID {
	out := make([]ScoredID, 0, len(m))
	for id, score := range m {
		out = append(out, ScoredID{MemoryID: id, Score: score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
