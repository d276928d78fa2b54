package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/engramhq/engram/internal/database"
	"github.com/engramhq/engram/internal/engerr"
	"github.com/engramhq/engram/internal/ingest"
)

// ExportedNode is the one-node-per-line JSON interchange format. Strengths
// are exported for inspection but intentionally not honoured on import:
// replaying through the ingest gate resets them as freshly ingested.
type ExportedNode struct {
	ID                string    `json:"id"`
	Content           string    `json:"content"`
	NodeType          string    `json:"node_type"`
	Tags              []string  `json:"tags"`
	Source            string    `json:"source,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
	LastAccessed      time.Time `json:"last_accessed"`
	StorageStrength   float64   `json:"storage_strength"`
	RetrievalStrength float64   `json:"retrieval_strength"`
	RetentionStrength float64   `json:"retention_strength"`
}

// ExportJSON streams every node as one JSON object per line.
func (e *Engine) ExportJSON(w io.Writer) (int, error) {
	const pageSize = 500
	enc := json.NewEncoder(w)
	exported := 0

	for offset := 0; ; offset += pageSize {
		nodes, err := database.ListByTypeAndTag(e.DB, &database.NodeFilters{Limit: pageSize, Offset: offset})
		if err != nil {
			return exported, err
		}
		if len(nodes) == 0 {
			return exported, nil
		}
		for _, n := range nodes {
			if err := enc.Encode(ExportedNode{
				ID:                n.ID,
				Content:           n.Content,
				NodeType:          n.NodeType,
				Tags:              n.Tags,
				Source:            n.Source,
				CreatedAt:         n.CreatedAt,
				UpdatedAt:         n.UpdatedAt,
				LastAccessed:      n.LastAccessed,
				StorageStrength:   n.StorageStrength,
				RetrievalStrength: n.RetrievalStrength,
				RetentionStrength: n.RetentionStrength,
			}); err != nil {
				return exported, engerr.Wrap(engerr.InternalError, "encode export line", err)
			}
			exported++
		}
	}
}

// ImportResult summarises an import run.
type ImportResult struct {
	Lines     int
	Decisions map[ingest.Decision]int
	Failures  int
}

// ImportJSON replays each line through the prediction-error gate, which is
// exactly equivalent to re-ingesting the content: duplicates collapse and
// strengths start fresh.
func (e *Engine) ImportJSON(ctx context.Context, r io.Reader) (*ImportResult, error) {
	res := &ImportResult{Decisions: make(map[ingest.Decision]int)}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), database.MaxContentBytes+64*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		res.Lines++

		var node ExportedNode
		if err := json.Unmarshal(line, &node); err != nil {
			res.Failures++
			log.Warn("skipping unparseable import line", "line", res.Lines, "error", err)
			continue
		}

		out, err := e.Ingest(ctx, IngestRequest{
			Content:  node.Content,
			NodeType: node.NodeType,
			Tags:     node.Tags,
			Source:   node.Source,
		})
		if err != nil {
			res.Failures++
			log.Warn("import line rejected by gate", "line", res.Lines, "error", err)
			continue
		}
		res.Decisions[out.Decision]++
	}
	if err := scanner.Err(); err != nil {
		return res, engerr.Wrap(engerr.InternalError, "read import stream", err)
	}
	return res, nil
}
