package recall

import (
	"math"
	"testing"
)

func TestTokenizeAnswer(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"simple", "The quick brown fox", []string{"quick", "brown", "fox"}},
		{"punctuation", "Fleming, in 1928!", []string{"fleming", "in", "1928"}},
		{"articles dropped", "a cat and an owl and the dog", []string{"cat", "and", "owl", "and", "dog"}},
		{"empty", "", nil},
		{"only punctuation", "?!...", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TokenizeAnswer(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("TokenizeAnswer(%q) = %v, want %v", tt.input, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("token %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestCalculateF1(t *testing.T) {
	tests := []struct {
		name      string
		generated string
		truth     string
		wantF1    float64
	}{
		{"exact match", "165 Earth years", "165 Earth years", 1.0},
		{"no overlap", "blue whale", "red panda", 0.0},
		{"both empty", "", "", 1.0},
		{"one empty", "something", "", 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f1, _, _ := CalculateF1(tt.generated, tt.truth)
			if math.Abs(f1-tt.wantF1) > 1e-9 {
				t.Errorf("F1 = %v, want %v", f1, tt.wantF1)
			}
		})
	}
}

func TestCalculateF1Partial(t *testing.T) {
	f1, precision, recall := CalculateF1("Alexander Fleming discovered it", "Alexander Fleming in 1928")
	if precision <= 0 || precision >= 1 {
		t.Errorf("precision = %v, want partial", precision)
	}
	if recall <= 0 || recall >= 1 {
		t.Errorf("recall = %v, want partial", recall)
	}
	if f1 <= 0 || f1 >= 1 {
		t.Errorf("F1 = %v, want partial", f1)
	}
}

func TestEvidenceRecall(t *testing.T) {
	found, rr := evidenceRecall([]string{"x", "e1", "y", "e2"}, []string{"e1", "e2", "e3"})
	if found != 2 {
		t.Errorf("found = %d, want 2", found)
	}
	if math.Abs(rr-0.5) > 1e-9 {
		t.Errorf("reciprocal rank = %v, want 0.5 (first hit at rank 2)", rr)
	}

	found, rr = evidenceRecall([]string{"x", "y"}, []string{"e1"})
	if found != 0 || rr != 0 {
		t.Errorf("miss case = (%d, %v), want (0, 0)", found, rr)
	}
}

func TestGenerateSyntheticDeterministic(t *testing.T) {
	a := GenerateSynthetic(200, 42)
	b := GenerateSynthetic(200, 42)

	if len(a.Conversations) != 1 || len(b.Conversations) != 1 {
		t.Fatal("expected one conversation each")
	}
	ca, cb := a.Conversations[0], b.Conversations[0]
	if len(ca.QA) != len(cb.QA) || len(ca.QA) == 0 {
		t.Fatalf("QA counts differ or empty: %d vs %d", len(ca.QA), len(cb.QA))
	}
	for i := range ca.QA {
		if ca.QA[i].Evidence[0] != cb.QA[i].Evidence[0] {
			t.Errorf("evidence for question %d differs between identical seeds", i)
		}
	}

	turns := 0
	for _, session := range ca.Sessions {
		turns += len(session)
	}
	if turns != 200 {
		t.Errorf("generated %d turns, want 200", turns)
	}
}
