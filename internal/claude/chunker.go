package claude

import "strings"

// ChunkConfig bounds how transcript excerpts are split before ingestion.
type ChunkConfig struct {
	// MaxChunkSize is the maximum characters per chunk.
	MaxChunkSize int
	// MinChunkSize is the floor below which content is never split.
	MinChunkSize int
}

// DefaultChunkConfig returns chunk bounds sized so each chunk stands alone
// as one coherent memory.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		MaxChunkSize: 1800,
		MinChunkSize: 1200,
	}
}

// Chunker splits long transcript text on paragraph boundaries.
type Chunker struct {
	config ChunkConfig
}

// NewChunker creates a Chunker, defaulting a zero config.
func NewChunker(config ChunkConfig) *Chunker {
	if config.MaxChunkSize <= 0 {
		config = DefaultChunkConfig()
	}
	return &Chunker{config: config}
}

// ShouldChunk reports whether content is long enough to split.
func (c *Chunker) ShouldChunk(content string) bool {
	return len(content) > c.config.MinChunkSize
}

// Split breaks content into chunks at paragraph boundaries, packing
// consecutive paragraphs until MaxChunkSize would be exceeded. A single
// oversized paragraph is split at sentence-ish boundaries as a fallback.
func (c *Chunker) Split(content string) []string {
	if !c.ShouldChunk(content) {
		return []string{content}
	}

	paragraphs := strings.Split(content, "\n\n")
	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}

	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if len(p) > c.config.MaxChunkSize {
			flush()
			chunks = append(chunks, c.splitLong(p)...)
			continue
		}
		if current.Len() > 0 && current.Len()+len(p)+2 > c.config.MaxChunkSize {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
	}
	flush()
	return chunks
}

func (c *Chunker) splitLong(paragraph string) []string {
	sentences := strings.SplitAfter(paragraph, ". ")
	var chunks []string
	var current strings.Builder
	for _, s := range sentences {
		if current.Len() > 0 && current.Len()+len(s) > c.config.MaxChunkSize {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
		current.WriteString(s)
	}
	if current.Len() > 0 {
		chunks = append(chunks, strings.TrimSpace(current.String()))
	}
	return chunks
}
