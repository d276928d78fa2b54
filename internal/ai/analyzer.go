package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/engramhq/engram/internal/logging"
)

var log = logging.GetLogger("ai")

// Assessment is the importance composite computed for a candidate memory
// at ingest time. SentimentScore and SentimentMagnitude land directly on
// the node's importance-encoding columns; Importance drives the synaptic
// tagging decision in the ingest gate; Flashbulb marks the rare
// high-salience memories that receive the maximum stability multiplier.
type Assessment struct {
	SentimentScore     float64 `json:"sentiment_score"`     // [-1, 1]
	SentimentMagnitude float64 `json:"sentiment_magnitude"` // [0, 1], composite importance
	Importance         float64 `json:"importance"`          // [0, 1]
	Flashbulb          bool    `json:"flashbulb"`
}

// Analyzer scores candidate content for emotional salience and importance.
// The lexicon heuristic always works; when an Ollama chat model is
// configured and reachable, its judgment replaces the heuristic's, with the
// heuristic kept as the fallback on any model failure.
type Analyzer struct {
	ollama *OllamaClient
}

// NewAnalyzer builds an Analyzer around the given chat client. A nil
// client means heuristic-only assessment.
func NewAnalyzer(ollama *OllamaClient) *Analyzer {
	return &Analyzer{ollama: ollama}
}

// Assess scores content and tags. It never fails: the model path degrades
// to the heuristic and the heuristic is total.
func (a *Analyzer) Assess(ctx context.Context, content string, tags []string) Assessment {
	heuristic := assessHeuristically(content, tags)

	if a.ollama == nil || !a.ollama.IsEnabled() {
		return heuristic
	}

	assessed, err := a.assessWithModel(ctx, content)
	if err != nil {
		log.Debug("model assessment failed, using heuristic", "error", err)
		return heuristic
	}

	// The model does not see tags; fold tag-driven salience back in so an
	// explicit "critical" tag is never outvoted by the model.
	if heuristic.Importance > assessed.Importance {
		assessed.Importance = heuristic.Importance
	}
	assessed.Flashbulb = assessed.Flashbulb || heuristic.Flashbulb
	return clampAssessment(assessed)
}

func (a *Analyzer) assessWithModel(ctx context.Context, content string) (Assessment, error) {
	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	prompt := fmt.Sprintf(`Rate the following note for an AI assistant's long-term memory.
Reply with JSON only: {"sentiment_score": <-1..1>, "sentiment_magnitude": <0..1>, "importance": <0..1>, "flashbulb": <bool>}.
"importance" is how costly it would be to forget this. "flashbulb" is true only for rare, highly consequential facts (credentials, hard deadlines, irreversible decisions).

Note:
%s`, truncateForPrompt(content, 2000))

	raw, err := a.ollama.GenerateJSON(ctx, prompt)
	if err != nil {
		return Assessment{}, err
	}

	var parsed Assessment
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &parsed); err != nil {
		return Assessment{}, fmt.Errorf("unparseable model assessment: %w", err)
	}
	return parsed, nil
}

// Signal lexicons for the heuristic path. Deliberately small: the point is
// separating "buy milk" from "the production database password rotated",
// not literary sentiment analysis.
var (
	positiveWords = []string{
		"love", "great", "excellent", "success", "happy", "works", "fixed",
		"solved", "breakthrough", "win", "perfect",
	}
	negativeWords = []string{
		"hate", "terrible", "fail", "failure", "broken", "bug", "crash",
		"error", "angry", "lost", "deadline missed", "outage",
	}
	importanceSignals = []string{
		"important", "critical", "must", "never", "always", "remember",
		"deadline", "password", "credential", "secret", "decision",
		"production", "urgent", "key insight",
	}
	flashbulbSignals = []string{
		"critical", "password", "credential", "irreversible", "emergency",
	}
	importanceTags = []string{"important", "critical", "urgent", "flashbulb"}
)

func assessHeuristically(content string, tags []string) Assessment {
	lower := strings.ToLower(content)

	var pos, neg int
	for _, w := range positiveWords {
		pos += strings.Count(lower, w)
	}
	for _, w := range negativeWords {
		neg += strings.Count(lower, w)
	}

	score := 0.0
	if pos+neg > 0 {
		score = float64(pos-neg) / float64(pos+neg)
	}

	signals := 0
	for _, w := range importanceSignals {
		if strings.Contains(lower, w) {
			signals++
		}
	}
	tagged := false
	for _, t := range tags {
		for _, it := range importanceTags {
			if strings.EqualFold(t, it) {
				tagged = true
			}
		}
	}

	importance := 0.35*absFloat(score) + 0.18*float64(signals)
	if tagged {
		importance += 0.3
	}
	if strings.Contains(content, "!") {
		importance += 0.05
	}

	flashbulb := false
	for _, w := range flashbulbSignals {
		if strings.Contains(lower, w) {
			flashbulb = tagged || signals >= 2
			break
		}
	}

	magnitude := importance
	if m := absFloat(score); m > magnitude {
		magnitude = m
	}

	return clampAssessment(Assessment{
		SentimentScore:     score,
		SentimentMagnitude: magnitude,
		Importance:         importance,
		Flashbulb:          flashbulb,
	})
}

func clampAssessment(a Assessment) Assessment {
	a.SentimentScore = clamp(a.SentimentScore, -1, 1)
	a.SentimentMagnitude = clamp(a.SentimentMagnitude, 0, 1)
	a.Importance = clamp(a.Importance, 0, 1)
	return a
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func truncateForPrompt(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
