// Package recall benchmarks retrieval quality against a conversational
// corpus: dialogue turns are ingested through the prediction-error gate,
// annotated questions are asked through the retrieval pipeline, and
// precision is tracked as the corpus grows. The dataset shape follows the
// LoCoMo (ACL 2024) long-term conversational memory benchmark.
package recall

import "time"

// Dataset is a set of annotated conversations.
type Dataset struct {
	Conversations []Conversation `json:"conversations"`
}

// Conversation is one long dialogue between two speakers, with QA
// annotations whose evidence points at specific turns.
type Conversation struct {
	ID       string            `json:"id"`
	SpeakerA string            `json:"speaker_a"`
	SpeakerB string            `json:"speaker_b"`
	Sessions map[string][]Turn `json:"sessions"`
	QA       []QAAnnotation    `json:"qa"`
}

// Turn is one dialogue turn.
type Turn struct {
	DiaID   string `json:"dia_id"`
	Speaker string `json:"speaker"`
	Content string `json:"content"`
}

// QAAnnotation is one evaluation question with the turns that answer it.
type QAAnnotation struct {
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Evidence []string `json:"evidence"` // dia ids that ground the answer
	Category string   `json:"category"`
}

// Config bounds a benchmark run.
type Config struct {
	// TopK is the retrieval depth evaluated.
	TopK int
	// Checkpoints are corpus sizes (ingested turns) at which retrieval
	// quality is re-measured, so growth-induced precision loss shows up.
	Checkpoints []int
	// MaxQuestions caps evaluated questions per checkpoint (0 = all).
	MaxQuestions int
}

// DefaultConfig returns the stock run bounds.
func DefaultConfig() Config {
	return Config{
		TopK:        5,
		Checkpoints: []int{50, 200, 500, 1000},
	}
}

// QuestionResult is the outcome of one evaluated question.
type QuestionResult struct {
	Question      string  `json:"question"`
	Category      string  `json:"category"`
	EvidenceFound int     `json:"evidence_found"`
	EvidenceTotal int     `json:"evidence_total"`
	ReciprocalRank float64 `json:"reciprocal_rank"`
	Hit           bool    `json:"hit"` // any evidence turn in the top-K
}

// CheckpointResult aggregates quality at one corpus size.
type CheckpointResult struct {
	CorpusSize     int     `json:"corpus_size"`
	Questions      int     `json:"questions"`
	RecallAtK      float64 `json:"recall_at_k"`
	HitRate        float64 `json:"hit_rate"`
	MRR            float64 `json:"mrr"`
	MeanAnswerF1   float64 `json:"mean_answer_f1"`
	IngestDuration time.Duration `json:"ingest_duration"`
	QueryDuration  time.Duration `json:"query_duration"`
}

// RunResult is the full benchmark outcome.
type RunResult struct {
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  time.Time          `json:"finished_at"`
	TopK        int                `json:"top_k"`
	Checkpoints []CheckpointResult `json:"checkpoints"`
	Decisions   map[string]int     `json:"decisions"` // gate decision counts over the whole run
}
