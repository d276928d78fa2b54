package recall

import (
	"fmt"
	"strings"
	"time"
)

// FormatReport renders a run result for the terminal.
func FormatReport(r *RunResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Recall benchmark: top-%d, %s\n\n", r.TopK,
		r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))

	fmt.Fprintf(&b, "%10s %10s %10s %10s %8s %10s\n",
		"corpus", "questions", "recall@k", "hit rate", "mrr", "answer f1")
	for _, cp := range r.Checkpoints {
		fmt.Fprintf(&b, "%10d %10d %10.3f %10.3f %8.3f %10.3f\n",
			cp.CorpusSize, cp.Questions, cp.RecallAtK, cp.HitRate, cp.MRR, cp.MeanAnswerF1)
	}

	if len(r.Checkpoints) >= 2 {
		first := r.Checkpoints[0]
		last := r.Checkpoints[len(r.Checkpoints)-1]
		drop := first.HitRate - last.HitRate
		fmt.Fprintf(&b, "\nHit-rate drift across growth: %+.3f", -drop)
		if drop > 0.05 {
			b.WriteString("  (precision is degrading as the corpus grows)")
		}
		b.WriteString("\n")
	}

	if len(r.Decisions) > 0 {
		b.WriteString("\nGate decisions during ingest:")
		for decision, count := range r.Decisions {
			fmt.Fprintf(&b, " %s=%d", decision, count)
		}
		b.WriteString("\n")
	}
	return b.String()
}
