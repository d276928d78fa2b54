package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewOllamaClientDefaults(t *testing.T) {
	c := NewOllamaClient(OllamaClientConfig{Enabled: true})
	if c.baseURL != "http://localhost:11434" {
		t.Errorf("default base URL = %q", c.baseURL)
	}
	if c.chatModel != "qwen2.5:3b" {
		t.Errorf("default chat model = %q", c.chatModel)
	}
}

func TestGenerateDisabled(t *testing.T) {
	c := NewOllamaClient(OllamaClientConfig{Enabled: false})
	if _, err := c.Generate(context.Background(), "hello"); err == nil {
		t.Fatal("expected error from disabled client")
	}
}

func TestIsAvailableWhenDisabled(t *testing.T) {
	c := NewOllamaClient(OllamaClientConfig{Enabled: false})
	if c.IsAvailable() {
		t.Fatal("disabled client must not report available")
	}
}

func TestGenerateAgainstStub(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(generateResponse{Model: req.Model, Response: "ok", Done: true})
	}))
	defer srv.Close()

	c := NewOllamaClient(OllamaClientConfig{BaseURL: srv.URL, Enabled: true, Timeout: 5 * time.Second})
	got, err := c.Generate(context.Background(), "ping")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "ok" {
		t.Errorf("Generate = %q, want ok", got)
	}
}

func TestGenerateServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewOllamaClient(OllamaClientConfig{BaseURL: srv.URL, Enabled: true})
	if _, err := c.Generate(context.Background(), "ping"); err == nil {
		t.Fatal("expected error from 500 response")
	}
}
