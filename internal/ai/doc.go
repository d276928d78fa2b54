// Package ai scores candidate memories for emotional salience and
// importance at ingest time.
//
// The lexicon heuristic is always available; an optional Ollama chat model
// (qwen2.5:3b by default) sharpens the assessment when reachable.
package ai
