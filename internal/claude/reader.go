// Package claude is the source connector for Claude Code session
// transcripts: it reads conversation JSONL files from ~/.claude and feeds
// candidate memories into the engine through the prediction-error gate.
// It lives outside the core, one of the external collaborators that
// invoke it, and never writes to the store directly.
package claude

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/engramhq/engram/internal/logging"
)

var log = logging.GetLogger("claude")

// Reader reads Claude Code conversation data from a ~/.claude directory.
type Reader struct {
	claudeDir string
}

// ProjectInfo is one project directory under projects/.
type ProjectInfo struct {
	Hash string // directory name in projects/
	Path string // decoded project path
}

// ConversationFile is a parsed JSONL conversation file.
type ConversationFile struct {
	FilePath  string
	SessionID string // UUID portion of the filename
	Messages  []RawMessage
}

// RawMessage is a single line from the JSONL file.
type RawMessage struct {
	Type      string          `json:"type"` // "user", "assistant", others ignored
	SessionID string          `json:"sessionId"`
	Timestamp string          `json:"timestamp"`
	CWD       string          `json:"cwd"`
	Message   json.RawMessage `json:"message"`
}

// ParsedMessage is the message payload within a RawMessage.
type ParsedMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"` // string or []ContentBlock
}

// ContentBlock is one block of structured message content.
type ContentBlock struct {
	Type string `json:"type"` // "text", "tool_use", "tool_result"
	Text string `json:"text,omitempty"`
}

// NewReader creates a reader over claudeDir, auto-detecting ~/.claude when
// empty.
func NewReader(claudeDir string) *Reader {
	if claudeDir == "" {
		claudeDir = DetectClaudeDir()
	}
	return &Reader{claudeDir: claudeDir}
}

// DetectClaudeDir finds the ~/.claude directory, returning "" if absent.
func DetectClaudeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		log.Warn("could not detect home directory", "error", err)
		return ""
	}
	claudeDir := filepath.Join(home, ".claude")
	if _, err := os.Stat(claudeDir); err != nil {
		log.Debug("claude directory not found", "path", claudeDir)
		return ""
	}
	return claudeDir
}

// ClaudeDir returns the configured directory.
func (r *Reader) ClaudeDir() string {
	return r.claudeDir
}

// ListProjects scans projects/ and returns every project entry.
func (r *Reader) ListProjects() ([]ProjectInfo, error) {
	projectsDir := filepath.Join(r.claudeDir, "projects")
	entries, err := os.ReadDir(projectsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read projects directory: %w", err)
	}

	var projects []ProjectInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		projects = append(projects, ProjectInfo{
			Hash: entry.Name(),
			Path: DecodeProjectPath(entry.Name()),
		})
	}
	return projects, nil
}

// DecodeProjectPath converts an encoded project directory name back into a
// filesystem path ("-dev-engram" -> "/dev/engram"; "C--dev-engram" ->
// "C:/dev/engram").
func DecodeProjectPath(hash string) string {
	if len(hash) > 2 && hash[1] == '-' && hash[2] == '-' {
		// Windows drive prefix like "C--".
		return string(hash[0]) + ":" + strings.ReplaceAll(hash[2:], "-", "/")
	}
	return strings.ReplaceAll(hash, "-", "/")
}

// ListConversationFiles returns the JSONL files for one project hash,
// in ascending file-name order.
func (r *Reader) ListConversationFiles(projectHash string) ([]string, error) {
	dir := filepath.Join(r.claudeDir, "projects", projectHash)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read project directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	return files, nil
}

// ReadConversation parses one JSONL file, skipping unparseable lines.
func (r *Reader) ReadConversation(filePath string) (*ConversationFile, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open conversation file: %w", err)
	}
	defer f.Close()

	conv := &ConversationFile{
		FilePath:  filePath,
		SessionID: strings.TrimSuffix(filepath.Base(filePath), ".jsonl"),
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg RawMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			log.Debug("skipping unparseable transcript line", "file", filePath, "error", err)
			continue
		}
		conv.Messages = append(conv.Messages, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan conversation file: %w", err)
	}
	return conv, nil
}

// ExtractText pulls the human-readable text out of one message, ignoring
// tool calls and tool results.
func ExtractText(raw *RawMessage) string {
	if raw.Type != "user" && raw.Type != "assistant" {
		return ""
	}
	var parsed ParsedMessage
	if err := json.Unmarshal(raw.Message, &parsed); err != nil {
		return ""
	}

	// Content is either a bare string or a block list.
	var asString string
	if err := json.Unmarshal(parsed.Content, &asString); err == nil {
		return strings.TrimSpace(asString)
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(parsed.Content, &blocks); err != nil {
		return ""
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && strings.TrimSpace(b.Text) != "" {
			parts = append(parts, strings.TrimSpace(b.Text))
		}
	}
	return strings.Join(parts, "\n")
}
