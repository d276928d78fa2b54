// Package keywordindex wraps the FTS5 side of the hybrid retrieval
// pipeline's Stage 1 fetch: a BM25-ranked, porter-stemmed
// lexical search over memory_nodes_fts.
package keywordindex

import (
	"strings"

	"github.com/engramhq/engram/internal/database"
	"github.com/engramhq/engram/internal/engerr"
)

// Hit is one keyword-search result with its BM25 score normalised to
// [0,1] by normalizeBM25.
type Hit struct {
	MemoryID string
	Score    float64 // higher is better, already sign-flipped from FTS5's bm25()
}

// Search runs query against the FTS5 index, over-fetching up to limit
// results ordered by BM25 relevance.
func Search(db *database.Database, query string, limit int) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, engerr.Invalid("search query is required")
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := db.Query(`
		SELECT id, bm25(memory_nodes_fts) AS rank
		FROM memory_nodes_fts
		WHERE memory_nodes_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, EscapeQuery(query), limit)
	if err != nil {
		return nil, engerr.Wrap(engerr.InternalError, "fts5 search", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var id string
		var rank float64
		if err := rows.Scan(&id, &rank); err != nil {
			return nil, engerr.Wrap(engerr.InternalError, "scan fts5 hit", err)
		}
		hits = append(hits, Hit{MemoryID: id, Score: normalizeBM25(rank)})
	}
	return hits, rows.Err()
}

// normalizeBM25 maps FTS5's bm25() output (negative, lower is better) onto
// [0,1] where higher is better, clamping the tail of the distribution
// rather than letting it run unbounded; SQLite's bm25() values typically
// fall in [-20, 0] for short documents.
func normalizeBM25(rank float64) float64 {
	score := 1.0 + rank/20.0
	if score > 1.0 {
		score = 1.0
	}
	if score < 0.0 {
		score = 0.0
	}
	return score
}

// EscapeQuery quotes each whitespace-separated term individually so user
// input can never break out of FTS5's MATCH syntax or inject boolean/
// column-filter operators, while keeping FTS5's implicit AND across terms
// (and therefore porter-stemmed per-term matching) intact.
func EscapeQuery(query string) string {
	terms := strings.Fields(query)
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " ")
}
