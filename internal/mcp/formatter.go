package mcp

import (
	"fmt"
	"strings"

	"github.com/engramhq/engram/internal/database"
	"github.com/engramhq/engram/internal/engine"
	"github.com/engramhq/engram/internal/ingest"
	"github.com/engramhq/engram/internal/retrieval"
)

// Formatter renders engine results as the plain text MCP clients show the
// model.
type Formatter struct{}

// NewFormatter creates a Formatter.
func NewFormatter() *Formatter {
	return &Formatter{}
}

// IngestResult renders a gate decision.
func (f *Formatter) IngestResult(r *ingest.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Decision: %s\n", r.Decision)
	fmt.Fprintf(&b, "Memory: %s\n", r.NodeID)
	fmt.Fprintf(&b, "Prediction error: %.3f\n", r.PredictionError)
	if r.TopSimilarity > 0 {
		fmt.Fprintf(&b, "Nearest similarity: %.3f\n", r.TopSimilarity)
	}
	if r.SupersededID != "" {
		fmt.Fprintf(&b, "Superseded: %s\n", r.SupersededID)
	}
	if len(r.MergedWith) > 0 {
		fmt.Fprintf(&b, "Merged with: %s\n", strings.Join(r.MergedWith, ", "))
	}
	if r.Degraded {
		b.WriteString("Note: similarity checks were unavailable; stored unconditionally.\n")
	}
	fmt.Fprintf(&b, "Reason: %s", r.Reason)
	return b.String()
}

// SearchResponse renders ranked results with their sub-scores.
func (f *Formatter) SearchResponse(query string, resp *retrieval.Response) string {
	if len(resp.Results) == 0 {
		return fmt.Sprintf("No memories found for %q.", query)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d memories for %q", len(resp.Results), query)
	if resp.SuppressedCount > 0 {
		fmt.Fprintf(&b, " (%d near-duplicates suppressed)", resp.SuppressedCount)
	}
	b.WriteString(":\n\n")

	for i, r := range resp.Results {
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, r.Node.NodeType, truncate(r.Node.Content, 200))
		fmt.Fprintf(&b, "   id=%s score=%.3f (keyword %.2f, semantic %.2f, accessibility %s)",
			r.Node.ID, r.Scores.FinalScore, r.Scores.KeywordScore, r.Scores.SemanticScore, r.Scores.Accessibility)
		if r.Scores.CompetitionSuppressed {
			b.WriteString(" [suppressed]")
		}
		b.WriteString("\n")
		if len(r.AssociatedIDs) > 0 {
			fmt.Fprintf(&b, "   associated: %s\n", strings.Join(r.AssociatedIDs, ", "))
		}
	}

	for _, note := range resp.Notes {
		fmt.Fprintf(&b, "\nNote: %s", note)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Node renders one memory in full.
func (f *Formatter) Node(n *database.MemoryNode) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Memory %s [%s]\n", n.ID, n.NodeType)
	fmt.Fprintf(&b, "%s\n\n", n.Content)
	if len(n.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(n.Tags, ", "))
	}
	if n.Source != "" {
		fmt.Fprintf(&b, "Source: %s\n", n.Source)
	}
	fmt.Fprintf(&b, "State: %s, reps %d, lapses %d\n", n.LearningState, n.Reps, n.Lapses)
	fmt.Fprintf(&b, "Stability: %.2f days, difficulty %.2f\n", n.Stability, n.Difficulty)
	fmt.Fprintf(&b, "Strengths: retention %.3f, retrieval %.3f, storage %.3f\n",
		n.RetentionStrength, n.RetrievalStrength, n.StorageStrength)
	if n.NextReview != nil {
		fmt.Fprintf(&b, "Next review: %s\n", n.NextReview.Format("2006-01-02"))
	}
	fmt.Fprintf(&b, "Accessed %d times, useful %d times", n.TimesRetrieved, n.TimesUseful)
	return b.String()
}

// ReviewOutcome renders a committed review.
func (f *Formatter) ReviewOutcome(o *engine.ReviewOutcome) string {
	return fmt.Sprintf(
		"Reviewed %s with rating %d.\nState: %s, reps %d, stability %.2f days.\nNext review in %d days (retrievability %.3f).",
		o.Node.ID, o.Rating, o.Node.LearningState, o.Node.Reps, o.Node.Stability,
		o.Interval, o.Retrievability)
}

// NodeList renders a titled list of memories.
func (f *Formatter) NodeList(title string, nodes []*database.MemoryNode) string {
	if len(nodes) == 0 {
		return title + ": nothing."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%d):\n", title, len(nodes))
	for i, n := range nodes {
		fmt.Fprintf(&b, "%d. %s, %s", i+1, n.ID, truncate(n.Content, 120))
		if n.NextReview != nil {
			fmt.Fprintf(&b, " (due %s)", n.NextReview.Format("2006-01-02"))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// IntentionList renders due intentions by priority.
func (f *Formatter) IntentionList(intentions []*database.Intention) string {
	if len(intentions) == 0 {
		return "No intentions are due."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Due intentions (%d):\n", len(intentions))
	for i, in := range intentions {
		fmt.Fprintf(&b, "%d. [%s] %s", i+1, in.Priority, truncate(in.Content, 120))
		if in.Deadline != nil {
			fmt.Fprintf(&b, " (deadline %s)", in.Deadline.Format("2006-01-02"))
		}
		fmt.Fprintf(&b, " id=%s\n", in.ID)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Stats renders store-wide aggregates.
func (f *Formatter) Stats(s *database.NodeStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Memories: %d (%d with embeddings, %d connections)\n",
		s.TotalNodes, s.WithEmbedding, s.TotalConnections)
	fmt.Fprintf(&b, "Average stability: %.2f days, average retention: %.3f\n",
		s.AvgStability, s.AvgRetention)
	fmt.Fprintf(&b, "Due for review: %d, labile now: %d\n", s.DueForReview, s.LabileNow)
	if len(s.ByType) > 0 {
		b.WriteString("By type:")
		for t, c := range s.ByType {
			fmt.Fprintf(&b, " %s=%d", t, c)
		}
		b.WriteString("\n")
	}
	if len(s.ByLearningState) > 0 {
		b.WriteString("By state:")
		for st, c := range s.ByLearningState {
			fmt.Fprintf(&b, " %s=%d", st, c)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Changelog renders the merged audit stream.
func (f *Formatter) Changelog(entries []engine.ChangelogEntry) string {
	if len(entries) == 0 {
		return "No recent changes."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Recent changes (%d):\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(&b, "%s  %-16s %s", e.Timestamp.Format("2006-01-02 15:04"), e.Kind, e.Summary)
		if e.MemoryID != "" {
			fmt.Fprintf(&b, "  [%s]", e.MemoryID)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// ConsolidationRecord renders one pass summary.
func (f *Formatter) ConsolidationRecord(r *database.ConsolidationRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Consolidation pass %d finished at %s.\n", r.ID, r.FinishedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Recomputed: %d, merged: %d, pruned connections: %d\n",
		r.RecomputedCount, r.MergedCount, r.PrunedConnections)
	if len(r.PhaseErrors) > 0 {
		fmt.Fprintf(&b, "Phase errors: %s", strings.Join(r.PhaseErrors, "; "))
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
