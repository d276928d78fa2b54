package recall

import (
	"strings"
	"unicode"
)

// TokenizeAnswer tokenizes a string for F1 scoring, following the standard
// QA evaluation recipe: lowercase, strip punctuation, drop articles, split
// on whitespace.
func TokenizeAnswer(s string) []string {
	s = strings.ToLower(s)

	var builder strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			builder.WriteRune(r)
		} else {
			builder.WriteRune(' ')
		}
	}

	articles := map[string]bool{"a": true, "an": true, "the": true}
	var filtered []string
	for _, w := range strings.Fields(builder.String()) {
		if !articles[w] {
			filtered = append(filtered, w)
		}
	}
	return filtered
}

// CalculateF1 computes token-level F1/precision/recall between a retrieved
// text and the ground-truth answer, SQuAD-style.
func CalculateF1(generated, groundTruth string) (f1, precision, recall float64) {
	genTokens := TokenizeAnswer(generated)
	gtTokens := TokenizeAnswer(groundTruth)

	if len(genTokens) == 0 && len(gtTokens) == 0 {
		return 1, 1, 1
	}
	if len(genTokens) == 0 || len(gtTokens) == 0 {
		return 0, 0, 0
	}

	gtCounts := make(map[string]int, len(gtTokens))
	for _, t := range gtTokens {
		gtCounts[t]++
	}
	genCounts := make(map[string]int, len(genTokens))
	for _, t := range genTokens {
		genCounts[t]++
	}

	common := 0
	for token, genCount := range genCounts {
		if gtCount, ok := gtCounts[token]; ok {
			if genCount < gtCount {
				common += genCount
			} else {
				common += gtCount
			}
		}
	}

	precision = float64(common) / float64(len(genTokens))
	recall = float64(common) / float64(len(gtTokens))
	if precision+recall == 0 {
		return 0, precision, recall
	}
	f1 = 2 * precision * recall / (precision + recall)
	return f1, precision, recall
}

// evidenceRecall computes what fraction of evidence ids appear among the
// retrieved ids, plus the reciprocal rank of the first evidence hit.
func evidenceRecall(retrieved []string, evidence []string) (found int, rr float64) {
	evidenceSet := make(map[string]bool, len(evidence))
	for _, e := range evidence {
		evidenceSet[e] = true
	}

	seen := make(map[string]bool)
	for rank, id := range retrieved {
		if evidenceSet[id] && !seen[id] {
			seen[id] = true
			found++
			if rr == 0 {
				rr = 1.0 / float64(rank+1)
			}
		}
	}
	return found, rr
}
