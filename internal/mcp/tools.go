package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/engramhq/engram/internal/database"
	"github.com/engramhq/engram/internal/engine"
)

// toolDefinitions enumerates the tools exposed over MCP, one per engine
// operation the assistant needs.
func toolDefinitions() []Tool {
	return []Tool{
		{
			Name:        "store_memory",
			Description: "Store a memory. Near-duplicates are reinforced or merged instead of duplicated; the response reports the decision taken.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"content":   {Type: "string", Description: "The memory content"},
					"node_type": {Type: "string", Description: "Kind of memory", Enum: database.NodeTypes, Default: "note"},
					"tags":      {Type: "array", Description: "Topic tags", Items: &Property{Type: "string"}},
					"source":    {Type: "string", Description: "Where this came from"},
				},
				Required: []string{"content"},
			},
		},
		{
			Name:        "recall_memories",
			Description: "Search memories with the hybrid retrieval pipeline. Returns ranked results with explanatory sub-scores.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"query":  {Type: "string", Description: "What to remember about"},
					"limit":  {Type: "number", Description: "Max results", Default: 10},
					"topics": {Type: "array", Description: "Context topics for boosting", Items: &Property{Type: "string"}},
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        "get_memory",
			Description: "Fetch one memory by id with its live retention strength.",
			InputSchema: InputSchema{
				Type:       "object",
				Properties: map[string]Property{"id": {Type: "string", Description: "Memory id"}},
				Required:   []string{"id"},
			},
		},
		{
			Name:        "review_memory",
			Description: "Record a spaced-repetition review outcome for a memory (1=Again, 2=Hard, 3=Good, 4=Easy).",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"id":     {Type: "string", Description: "Memory id"},
					"rating": {Type: "number", Description: "Review rating 1-4"},
				},
				Required: []string{"id", "rating"},
			},
		},
		{
			Name:        "due_reviews",
			Description: "List the memories most overdue for review.",
			InputSchema: InputSchema{
				Type:       "object",
				Properties: map[string]Property{"limit": {Type: "number", Default: 10}},
			},
		},
		{
			Name:        "mark_useful",
			Description: "Record that a recalled memory actually helped, raising its future ranking.",
			InputSchema: InputSchema{
				Type:       "object",
				Properties: map[string]Property{"id": {Type: "string", Description: "Memory id"}},
				Required:   []string{"id"},
			},
		},
		{
			Name:        "delete_memory",
			Description: "Delete a memory and its connections and embeddings.",
			InputSchema: InputSchema{
				Type:       "object",
				Properties: map[string]Property{"id": {Type: "string", Description: "Memory id"}},
				Required:   []string{"id"},
			},
		},
		{
			Name:        "save_intention",
			Description: "Save a deferred intention to be resurfaced later.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"content":       {Type: "string", Description: "What to do"},
					"trigger_type":  {Type: "string", Enum: []string{"time", "duration", "context"}},
					"trigger_value": {Type: "string", Description: "Trigger detail (RFC3339 time, duration, or context phrase)"},
					"priority":      {Type: "string", Enum: database.IntentionPriorities, Default: "normal"},
					"deadline":      {Type: "string", Description: "RFC3339 deadline"},
				},
				Required: []string{"content", "trigger_type"},
			},
		},
		{
			Name:        "due_intentions",
			Description: "List intentions that should surface now.",
			InputSchema: InputSchema{Type: "object"},
		},
		{
			Name:        "memory_stats",
			Description: "Store-wide statistics: counts by type and state, average stability and retention, due reviews.",
			InputSchema: InputSchema{Type: "object"},
		},
		{
			Name:        "changelog",
			Description: "Recent state transitions, consolidation runs and dream runs, merged newest first.",
			InputSchema: InputSchema{
				Type:       "object",
				Properties: map[string]Property{"limit": {Type: "number", Default: 20}},
			},
		},
		{
			Name:        "consolidate",
			Description: "Run a consolidation pass now: recompute stale strengths, merge duplicates, rebuild the association cache, prune weak connections.",
			InputSchema: InputSchema{Type: "object"},
		},
	}
}

func (s *Server) dispatchTool(ctx context.Context, name string, args json.RawMessage) (string, error) {
	switch name {
	case "store_memory":
		return s.toolStoreMemory(ctx, args)
	case "recall_memories":
		return s.toolRecallMemories(ctx, args)
	case "get_memory":
		return s.toolGetMemory(args)
	case "review_memory":
		return s.toolReviewMemory(args)
	case "due_reviews":
		return s.toolDueReviews(args)
	case "mark_useful":
		return s.toolMarkUseful(args)
	case "delete_memory":
		return s.toolDeleteMemory(ctx, args)
	case "save_intention":
		return s.toolSaveIntention(args)
	case "due_intentions":
		return s.toolDueIntentions()
	case "memory_stats":
		return s.toolMemoryStats()
	case "changelog":
		return s.toolChangelog(args)
	case "consolidate":
		return s.toolConsolidate()
	default:
		return "", fmt.Errorf("unknown tool %q", name)
	}
}

func (s *Server) toolStoreMemory(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Content  string   `json:"content"`
		NodeType string   `json:"node_type"`
		Tags     []string `json:"tags"`
		Source   string   `json:"source"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}

	result, err := s.engine.Ingest(ctx, engine.IngestRequest{
		Content:  params.Content,
		NodeType: params.NodeType,
		Tags:     params.Tags,
		Source:   params.Source,
	})
	if err != nil {
		return "", err
	}
	return s.formatter.IngestResult(result), nil
}

func (s *Server) toolRecallMemories(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Query  string   `json:"query"`
		Limit  int      `json:"limit"`
		Topics []string `json:"topics"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}

	resp, err := s.engine.Search(ctx, params.Query, engine.SearchOptions{
		Limit:  params.Limit,
		Topics: params.Topics,
	})
	if err != nil {
		return "", err
	}
	return s.formatter.SearchResponse(params.Query, resp), nil
}

func (s *Server) toolGetMemory(args json.RawMessage) (string, error) {
	var params struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}

	node, err := s.engine.Get(params.ID)
	if err != nil {
		return "", err
	}
	return s.formatter.Node(node), nil
}

func (s *Server) toolReviewMemory(args json.RawMessage) (string, error) {
	var params struct {
		ID     string `json:"id"`
		Rating int    `json:"rating"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}

	outcome, err := s.engine.MarkReviewed(params.ID, params.Rating)
	if err != nil {
		return "", err
	}
	return s.formatter.ReviewOutcome(outcome), nil
}

func (s *Server) toolDueReviews(args json.RawMessage) (string, error) {
	var params struct {
		Limit int `json:"limit"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
	}

	nodes, err := s.engine.DueReviews(params.Limit)
	if err != nil {
		return "", err
	}
	return s.formatter.NodeList("Due for review", nodes), nil
}

func (s *Server) toolMarkUseful(args json.RawMessage) (string, error) {
	var params struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if err := s.engine.MarkUseful(params.ID); err != nil {
		return "", err
	}
	return fmt.Sprintf("Recorded usefulness for %s.", params.ID), nil
}

func (s *Server) toolDeleteMemory(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if err := s.engine.Delete(ctx, params.ID); err != nil {
		return "", err
	}
	return fmt.Sprintf("Deleted memory %s.", params.ID), nil
}

func (s *Server) toolSaveIntention(args json.RawMessage) (string, error) {
	var params struct {
		Content      string `json:"content"`
		TriggerType  string `json:"trigger_type"`
		TriggerValue string `json:"trigger_value"`
		Priority     string `json:"priority"`
		Deadline     string `json:"deadline"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}

	in := &database.Intention{
		Content:      params.Content,
		TriggerType:  params.TriggerType,
		TriggerValue: params.TriggerValue,
		Priority:     params.Priority,
	}
	if params.Deadline != "" {
		t, err := time.Parse(time.RFC3339, params.Deadline)
		if err != nil {
			return "", fmt.Errorf("deadline must be RFC3339: %w", err)
		}
		in.Deadline = &t
	}
	if err := s.engine.SaveIntention(in); err != nil {
		return "", err
	}
	return fmt.Sprintf("Saved intention %s (%s priority).", in.ID, in.Priority), nil
}

func (s *Server) toolDueIntentions() (string, error) {
	intentions, err := s.engine.DueIntentions()
	if err != nil {
		return "", err
	}
	return s.formatter.IntentionList(intentions), nil
}

func (s *Server) toolMemoryStats() (string, error) {
	stats, err := s.engine.Stats()
	if err != nil {
		return "", err
	}
	return s.formatter.Stats(stats), nil
}

func (s *Server) toolChangelog(args json.RawMessage) (string, error) {
	var params struct {
		Limit int `json:"limit"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
	}

	entries, err := s.engine.Changelog(time.Time{}, params.Limit)
	if err != nil {
		return "", err
	}
	return s.formatter.Changelog(entries), nil
}

func (s *Server) toolConsolidate() (string, error) {
	rec, err := s.engine.TriggerConsolidation("mcp")
	if err != nil {
		return "", err
	}
	return s.formatter.ConsolidationRecord(rec), nil
}
