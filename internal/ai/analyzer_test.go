package ai

import (
	"context"
	"testing"
)

func TestAssessHeuristicBounds(t *testing.T) {
	tests := []struct {
		name    string
		content string
		tags    []string
	}{
		{"plain note", "bought milk on the way home", nil},
		{"positive", "the fix works, great success, love it", nil},
		{"negative", "terrible outage, everything is broken, deadline missed", nil},
		{"critical tagged", "rotate the production password before friday", []string{"critical"}},
		{"empty", "", nil},
	}

	a := NewAnalyzer(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.Assess(context.Background(), tt.content, tt.tags)
			if got.SentimentScore < -1 || got.SentimentScore > 1 {
				t.Errorf("sentiment_score %v out of [-1,1]", got.SentimentScore)
			}
			if got.SentimentMagnitude < 0 || got.SentimentMagnitude > 1 {
				t.Errorf("sentiment_magnitude %v out of [0,1]", got.SentimentMagnitude)
			}
			if got.Importance < 0 || got.Importance > 1 {
				t.Errorf("importance %v out of [0,1]", got.Importance)
			}
		})
	}
}

func TestAssessSentimentDirection(t *testing.T) {
	a := NewAnalyzer(nil)

	pos := a.Assess(context.Background(), "excellent work, the fix works perfectly, happy with it", nil)
	if pos.SentimentScore <= 0 {
		t.Errorf("expected positive sentiment, got %v", pos.SentimentScore)
	}

	neg := a.Assess(context.Background(), "terrible failure, the build is broken and everything crashed", nil)
	if neg.SentimentScore >= 0 {
		t.Errorf("expected negative sentiment, got %v", neg.SentimentScore)
	}
}

func TestAssessImportanceOrdering(t *testing.T) {
	a := NewAnalyzer(nil)

	trivial := a.Assess(context.Background(), "had a sandwich for lunch", nil)
	critical := a.Assess(context.Background(),
		"critical: the production database password rotated, remember the new credential location", nil)

	if critical.Importance <= trivial.Importance {
		t.Errorf("critical content importance %v should exceed trivial %v",
			critical.Importance, trivial.Importance)
	}
}

func TestAssessTaggedImportance(t *testing.T) {
	a := NewAnalyzer(nil)

	plain := a.Assess(context.Background(), "review the quarterly numbers", nil)
	tagged := a.Assess(context.Background(), "review the quarterly numbers", []string{"important"})

	if tagged.Importance <= plain.Importance {
		t.Errorf("tagged importance %v should exceed untagged %v", tagged.Importance, plain.Importance)
	}
}

func TestDisabledOllamaFallsBackToHeuristic(t *testing.T) {
	client := NewOllamaClient(OllamaClientConfig{Enabled: false})
	a := NewAnalyzer(client)

	got := a.Assess(context.Background(), "the fix works, excellent", nil)
	if got.SentimentScore <= 0 {
		t.Errorf("expected heuristic fallback to run, got score %v", got.SentimentScore)
	}
}
