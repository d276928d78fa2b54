// Package dependencies provides centralized checking and messaging for the
// engine's environment: data directory, embedded store integrity, and the
// optional Ollama / Qdrant services. The doctor command surfaces its
// report.
package dependencies

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/engramhq/engram/internal/database"
	"github.com/engramhq/engram/pkg/config"
)

// Status is one dependency's health classification.
type Status string

const (
	StatusAvailable   Status = "available"
	StatusUnavailable Status = "unavailable"
	StatusDisabled    Status = "disabled"
	StatusMissing     Status = "missing"
)

// DependencyInfo describes one checked dependency.
type DependencyInfo struct {
	Name         string
	Status       Status
	URL          string
	Message      string
	Models       []string // for Ollama, the available models
	MissingItems []string // required models not present
}

// CheckResult contains the results of checking everything the engine
// depends on.
type CheckResult struct {
	DataDir  DependencyInfo
	Store    DependencyInfo
	Embedder DependencyInfo
	Qdrant   DependencyInfo
}

// Healthy reports whether every required dependency is usable. Optional
// services (Ollama, Qdrant) being absent never makes the result unhealthy;
// the engine degrades to the deterministic embedder and the in-process
// index.
func (r *CheckResult) Healthy() bool {
	return r.DataDir.Status == StatusAvailable && r.Store.Status == StatusAvailable
}

// Check inspects all dependencies and returns their status.
func Check(cfg *config.Config) *CheckResult {
	return &CheckResult{
		DataDir:  checkDataDir(cfg),
		Store:    checkStore(cfg),
		Embedder: checkEmbedder(cfg),
		Qdrant:   checkQdrant(cfg),
	}
}

// checkDataDir verifies the data directory exists (or can be created) and
// is writable.
func checkDataDir(cfg *config.Config) DependencyInfo {
	info := DependencyInfo{Name: "Data directory", URL: filepath.Dir(cfg.Database.Path)}

	dir := filepath.Dir(cfg.Database.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		info.Status = StatusUnavailable
		info.Message = fmt.Sprintf("cannot create %s: %v", dir, err)
		return info
	}

	probe := filepath.Join(dir, ".engram-write-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		info.Status = StatusUnavailable
		info.Message = fmt.Sprintf("directory is not writable: %v", err)
		return info
	}
	os.Remove(probe)

	info.Status = StatusAvailable
	info.Message = "writable"
	return info
}

// checkStore opens the database, verifies the FTS5 index responds, and
// runs SQLite's integrity check.
func checkStore(cfg *config.Config) DependencyInfo {
	info := DependencyInfo{Name: "Embedded store", URL: cfg.Database.Path}

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		info.Status = StatusUnavailable
		info.Message = fmt.Sprintf("cannot open: %v", err)
		return info
	}
	defer db.Close()

	if err := db.InitSchema(); err != nil {
		info.Status = StatusUnavailable
		info.Message = fmt.Sprintf("schema initialisation failed: %v", err)
		return info
	}

	version, err := db.GetSchemaVersion()
	if err != nil {
		info.Status = StatusUnavailable
		info.Message = fmt.Sprintf("cannot read schema version: %v", err)
		return info
	}

	var integrity string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&integrity); err != nil || integrity != "ok" {
		info.Status = StatusUnavailable
		info.Message = fmt.Sprintf("integrity check: %s (%v)", integrity, err)
		return info
	}

	if !db.TableExists("memory_nodes_fts") {
		info.Status = StatusUnavailable
		info.Message = "keyword index (FTS5) table is missing"
		return info
	}

	info.Status = StatusAvailable
	info.Message = fmt.Sprintf("schema version %d, integrity ok", version)
	return info
}

// checkEmbedder reports the embedder backend's reachability. The
// deterministic provider is always available; the Ollama provider is
// probed over HTTP and its required model verified.
func checkEmbedder(cfg *config.Config) DependencyInfo {
	info := DependencyInfo{Name: "Embedder", URL: cfg.Embedding.BaseURL}

	if cfg.Embedding.Provider != "ollama" {
		info.Status = StatusAvailable
		info.Message = "deterministic embedder (no external service)"
		info.URL = ""
		return info
	}

	models, err := listOllamaModels(cfg.Embedding.BaseURL)
	if err != nil {
		info.Status = StatusMissing
		info.Message = "Ollama is not running or not installed"
		return info
	}
	info.Models = models

	modelSet := make(map[string]bool, len(models)*2)
	for _, m := range models {
		modelSet[m] = true
		modelSet[strings.Split(m, ":")[0]] = true
	}

	required := []string{cfg.Embedding.Model}
	if cfg.Analyzer.Enabled {
		required = append(required, cfg.Analyzer.ChatModel)
	}
	for _, model := range required {
		if !modelSet[model] && !modelSet[strings.Split(model, ":")[0]] {
			info.MissingItems = append(info.MissingItems, model)
		}
	}

	if len(info.MissingItems) > 0 {
		info.Status = StatusUnavailable
		info.Message = fmt.Sprintf("Ollama running but missing models: %s (ollama pull %s)",
			strings.Join(info.MissingItems, ", "), info.MissingItems[0])
		return info
	}

	info.Status = StatusAvailable
	info.Message = "Ollama running with required models"
	return info
}

func listOllamaModels(baseURL string) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := (&http.Client{Timeout: 5 * time.Second}).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var parsed struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(parsed.Models))
	for _, m := range parsed.Models {
		out = append(out, m.Name)
	}
	return out, nil
}

// checkQdrant probes the optional external vector backend.
func checkQdrant(cfg *config.Config) DependencyInfo {
	info := DependencyInfo{Name: "Qdrant", URL: cfg.VectorIndex.URL}

	if cfg.VectorIndex.Backend != "qdrant" {
		info.Status = StatusDisabled
		info.Message = "in-process vector index selected"
		return info
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.VectorIndex.URL+"/collections", nil)
	if err != nil {
		info.Status = StatusUnavailable
		info.Message = "failed to create request"
		return info
	}
	resp, err := (&http.Client{Timeout: 5 * time.Second}).Do(req)
	if err != nil {
		info.Status = StatusMissing
		info.Message = "Qdrant is not running (engine will fall back to the in-process index)"
		return info
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		info.Status = StatusUnavailable
		info.Message = fmt.Sprintf("Qdrant returned status %d", resp.StatusCode)
		return info
	}

	info.Status = StatusAvailable
	info.Message = "reachable"
	return info
}

// FormatReport renders the result for terminal display.
func FormatReport(r *CheckResult) string {
	var b strings.Builder
	b.WriteString("Dependency check:\n")
	for _, d := range []DependencyInfo{r.DataDir, r.Store, r.Embedder, r.Qdrant} {
		mark := "✗"
		switch d.Status {
		case StatusAvailable:
			mark = "✓"
		case StatusDisabled:
			mark = "-"
		}
		fmt.Fprintf(&b, "  %s %-16s %s", mark, d.Name, d.Message)
		if d.URL != "" {
			fmt.Fprintf(&b, " (%s)", d.URL)
		}
		b.WriteString("\n")
	}
	return b.String()
}
