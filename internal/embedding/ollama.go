package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/engramhq/engram/internal/engerr"
	"github.com/engramhq/engram/internal/logging"
)

var log = logging.GetLogger("embedding")

// OllamaConfig configures the Ollama-backed Embedder.
type OllamaConfig struct {
	BaseURL        string
	Model          string
	Dimension      int
	Timeout        time.Duration
	RequestsPerSec float64
	Burst          int
}

// OllamaEmbedder calls an Ollama server's /api/embeddings endpoint, guarded
// by a circuit breaker and a token-bucket limiter so a slow or unavailable
// model degrades gracefully rather than stalling the ingest/retrieval path.
type OllamaEmbedder struct {
	baseURL    string
	model      string
	dim        int
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
}

// NewOllamaEmbedder builds an OllamaEmbedder from cfg, defaulting any
// unset field.
func NewOllamaEmbedder(cfg OllamaConfig) *OllamaEmbedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = 768
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ollama-embedder",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change", "breaker", name, "from", from, "to", to)
		},
	})

	return &OllamaEmbedder{
		baseURL:    cfg.BaseURL,
		model:      cfg.Model,
		dim:        cfg.Dimension,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.Burst),
		breaker:    breaker,
	}
}

func (e *OllamaEmbedder) Dimension() int  { return e.dim }
func (e *OllamaEmbedder) ModelID() string { return e.model }

type ollamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed calls Ollama's embeddings endpoint, waiting on the rate limiter and
// tripping the circuit breaker open on repeated failure so callers fail
// fast instead of piling up requests against a dead model server.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, engerr.Wrap(engerr.ResourceUnavailable, "rate limiter wait", err)
	}

	result, err := e.breaker.Execute(func() (interface{}, error) {
		return e.doEmbed(ctx, text)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, engerr.Wrap(engerr.ResourceUnavailable, "ollama embedder circuit open", err)
		}
		return nil, engerr.Wrap(engerr.ResourceUnavailable, "ollama embedding request", err)
	}

	return Normalize(result.([]float64)), nil
}

func (e *OllamaEmbedder) doEmbed(ctx context.Context, text string) ([]float64, error) {
	reqBody, err := json.Marshal(ollamaEmbeddingRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var parsed ollamaEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	return parsed.Embedding, nil
}
