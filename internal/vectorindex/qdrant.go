package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/engramhq/engram/internal/engerr"
)

// QdrantConfig configures the optional external backend.
type QdrantConfig struct {
	URL            string
	CollectionName string
	Dimension      int
	Timeout        time.Duration
}

// QdrantIndex satisfies Index against a Qdrant HTTP collection, for
// deployments that prefer an external ANN service over the in-process
// brute-force scan. It does not have to be the source of truth: points can
// always be rebuilt from internal/database's embeddings table.
type QdrantIndex struct {
	baseURL    string
	collection string
	dim        int
	httpClient *http.Client
}

// NewQdrantIndex builds a QdrantIndex from cfg, defaulting unset fields.
func NewQdrantIndex(cfg QdrantConfig) *QdrantIndex {
	if cfg.URL == "" {
		cfg.URL = "http://localhost:6333"
	}
	if cfg.CollectionName == "" {
		cfg.CollectionName = "engram-nodes"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &QdrantIndex{
		baseURL:    cfg.URL,
		collection: cfg.CollectionName,
		dim:        cfg.Dimension,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// EnsureCollection creates the backing collection if it does not exist,
// using cosine distance to match the in-process index's semantics.
func (q *QdrantIndex) EnsureCollection(ctx context.Context) error {
	exists, err := q.collectionExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	body, _ := json.Marshal(map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     q.dim,
			"distance": "Cosine",
		},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, q.baseURL+"/collections/"+q.collection, bytes.NewReader(body))
	if err != nil {
		return engerr.Wrap(engerr.ResourceUnavailable, "build qdrant create-collection request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return engerr.Wrap(engerr.ResourceUnavailable, "qdrant create collection", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return engerr.New(engerr.ResourceUnavailable, fmt.Sprintf("qdrant create collection failed: %d %s", resp.StatusCode, b))
	}
	return nil
}

func (q *QdrantIndex) collectionExists(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.baseURL+"/collections/"+q.collection, nil)
	if err != nil {
		return false, err
	}
	resp, err := q.httpClient.Do(req)
	if err != nil {
		return false, engerr.Wrap(engerr.ResourceUnavailable, "qdrant collection lookup", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

func (q *QdrantIndex) Upsert(ctx context.Context, id string, vector []float64) error {
	body, _ := json.Marshal(map[string]interface{}{
		"points": []map[string]interface{}{{"id": id, "vector": vector}},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, q.baseURL+"/collections/"+q.collection+"/points", bytes.NewReader(body))
	if err != nil {
		return engerr.Wrap(engerr.ResourceUnavailable, "build qdrant upsert request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return engerr.Wrap(engerr.ResourceUnavailable, "qdrant upsert", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return engerr.New(engerr.ResourceUnavailable, fmt.Sprintf("qdrant upsert failed: %d %s", resp.StatusCode, b))
	}
	return nil
}

func (q *QdrantIndex) Delete(ctx context.Context, id string) error {
	body, _ := json.Marshal(map[string]interface{}{"points": []string{id}})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, q.baseURL+"/collections/"+q.collection+"/points/delete", bytes.NewReader(body))
	if err != nil {
		return engerr.Wrap(engerr.ResourceUnavailable, "build qdrant delete request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return engerr.Wrap(engerr.ResourceUnavailable, "qdrant delete", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return engerr.New(engerr.ResourceUnavailable, fmt.Sprintf("qdrant delete failed: %d %s", resp.StatusCode, b))
	}
	return nil
}

func (q *QdrantIndex) Search(ctx context.Context, query []float64, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 10
	}
	body, _ := json.Marshal(map[string]interface{}{
		"vector": query,
		"limit":  limit,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, q.baseURL+"/collections/"+q.collection+"/points/search", bytes.NewReader(body))
	if err != nil {
		return nil, engerr.Wrap(engerr.ResourceUnavailable, "build qdrant search request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return nil, engerr.Wrap(engerr.ResourceUnavailable, "qdrant search", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, engerr.New(engerr.ResourceUnavailable, fmt.Sprintf("qdrant search failed: %d %s", resp.StatusCode, b))
	}

	var parsed struct {
		Result []struct {
			ID    interface{} `json:"id"`
			Score float64     `json:"score"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, engerr.Wrap(engerr.InternalError, "decode qdrant search response", err)
	}

	out := make([]Match, len(parsed.Result))
	for i, r := range parsed.Result {
		var id string
		switch v := r.ID.(type) {
		case string:
			id = v
		default:
			id = fmt.Sprintf("%v", v)
		}
		out[i] = Match{MemoryID: id, Score: r.Score}
	}
	return out, nil
}

// Len is unsupported against the HTTP API without an extra round trip and
// is not on the hot path; it always returns 0 here and callers that need a
// count should query Qdrant's collection-info endpoint directly.
func (q *QdrantIndex) Len() int { return 0 }
