package claude

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/engramhq/engram/internal/engine"
	"github.com/engramhq/engram/internal/ingest"
)

// Connector drives transcripts through the engine's ingest gate. Every
// extracted excerpt goes through the same decision table as any other
// write, so re-running the connector over the same sessions reinforces
// rather than duplicates.
type Connector struct {
	reader  *Reader
	engine  *engine.Engine
	chunker *Chunker
}

// ConnectOptions controls a connector run.
type ConnectOptions struct {
	ProjectPath string // filter to one project (empty = all)
	MinMessages int    // skip sessions with fewer messages (default 3)
	MinExcerpt  int    // skip excerpts shorter than this many characters (default 60)
	MaxPerRun   int    // cap on ingested excerpts per run (0 = unlimited)
}

// ConnectResult summarises a run.
type ConnectResult struct {
	SessionsProcessed int                     `json:"sessions_processed"`
	ExcerptsSeen      int                     `json:"excerpts_seen"`
	Ingested          int                     `json:"ingested"`
	Decisions         map[ingest.Decision]int `json:"decisions"`
	Failures          int                     `json:"failures"`
}

// NewConnector creates a Connector over reader and eng.
func NewConnector(reader *Reader, eng *engine.Engine) *Connector {
	return &Connector{
		reader:  reader,
		engine:  eng,
		chunker: NewChunker(DefaultChunkConfig()),
	}
}

// Run walks every matching project and session, extracting excerpts and
// routing each through the gate.
func (c *Connector) Run(ctx context.Context, opts ConnectOptions) (*ConnectResult, error) {
	if opts.MinMessages <= 0 {
		opts.MinMessages = 3
	}
	if opts.MinExcerpt <= 0 {
		opts.MinExcerpt = 60
	}

	result := &ConnectResult{Decisions: make(map[ingest.Decision]int)}

	projects, err := c.reader.ListProjects()
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	for _, project := range projects {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if opts.ProjectPath != "" && project.Path != opts.ProjectPath {
			continue
		}

		files, err := c.reader.ListConversationFiles(project.Hash)
		if err != nil {
			log.Warn("failed to list conversations for project", "project", project.Hash, "error", err)
			continue
		}

		for _, filePath := range files {
			if err := ctx.Err(); err != nil {
				return result, err
			}

			conv, err := c.reader.ReadConversation(filePath)
			if err != nil {
				log.Warn("failed to read conversation", "file", filePath, "error", err)
				continue
			}
			if len(conv.Messages) < opts.MinMessages {
				continue
			}
			result.SessionsProcessed++

			if err := c.ingestSession(ctx, conv, &project, opts, result); err != nil {
				return result, err
			}
			if opts.MaxPerRun > 0 && result.Ingested >= opts.MaxPerRun {
				return result, nil
			}
		}
	}
	return result, nil
}

func (c *Connector) ingestSession(ctx context.Context, conv *ConversationFile, project *ProjectInfo, opts ConnectOptions, result *ConnectResult) error {
	source := "claude:" + conv.SessionID
	tags := []string{"claude-session", filepath.Base(project.Path)}

	for i := range conv.Messages {
		if err := ctx.Err(); err != nil {
			return err
		}
		text := ExtractText(&conv.Messages[i])
		if len(text) < opts.MinExcerpt || looksLikeNoise(text) {
			continue
		}
		result.ExcerptsSeen++

		for _, chunk := range c.chunker.Split(text) {
			if len(chunk) < opts.MinExcerpt {
				continue
			}
			out, err := c.engine.Ingest(ctx, engine.IngestRequest{
				Content:  chunk,
				NodeType: "event",
				Tags:     tags,
				Source:   source,
			})
			if err != nil {
				result.Failures++
				log.Warn("gate rejected transcript excerpt", "session", conv.SessionID, "error", err)
				continue
			}
			result.Ingested++
			result.Decisions[out.Decision]++

			if opts.MaxPerRun > 0 && result.Ingested >= opts.MaxPerRun {
				return nil
			}
		}
	}
	return nil
}

// looksLikeNoise filters excerpts that carry no memorable content: command
// echoes, bare paths, tool plumbing.
func looksLikeNoise(text string) bool {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "<") && strings.HasSuffix(trimmed, ">") {
		return true
	}
	if strings.HasPrefix(trimmed, "$") || strings.HasPrefix(trimmed, "```") {
		return true
	}
	letters := 0
	for _, r := range trimmed {
		if ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') {
			letters++
		}
	}
	return letters*2 < len(trimmed)
}
