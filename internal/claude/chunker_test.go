package claude

import (
	"strings"
	"testing"
)

func TestSplitShortContentUntouched(t *testing.T) {
	c := NewChunker(DefaultChunkConfig())
	content := "a short excerpt that fits in one memory"
	chunks := c.Split(content)
	if len(chunks) != 1 || chunks[0] != content {
		t.Errorf("short content should stay whole: %v", chunks)
	}
}

func TestSplitRespectsParagraphsAndBounds(t *testing.T) {
	cfg := ChunkConfig{MaxChunkSize: 120, MinChunkSize: 100}
	c := NewChunker(cfg)

	paragraphs := []string{
		"first paragraph with a reasonable amount of text in it for testing",
		"second paragraph also carries enough words to matter here",
		"third paragraph closes out the excerpt with more words",
	}
	chunks := c.Split(strings.Join(paragraphs, "\n\n"))

	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want a split", len(chunks))
	}
	for i, ch := range chunks {
		if len(ch) > cfg.MaxChunkSize {
			t.Errorf("chunk %d length %d exceeds max %d", i, len(ch), cfg.MaxChunkSize)
		}
		if strings.TrimSpace(ch) == "" {
			t.Errorf("chunk %d is blank", i)
		}
	}
}

func TestExtractTextSkipsToolPlumbing(t *testing.T) {
	raw := RawMessage{Type: "assistant", Message: []byte(`{
		"role": "assistant",
		"content": [
			{"type": "text", "text": "the actual insight"},
			{"type": "tool_use"},
			{"type": "tool_result"}
		]
	}`)}
	if got := ExtractText(&raw); got != "the actual insight" {
		t.Errorf("ExtractText = %q", got)
	}

	ignored := RawMessage{Type: "file-history-snapshot"}
	if got := ExtractText(&ignored); got != "" {
		t.Errorf("non-message line produced text: %q", got)
	}
}
