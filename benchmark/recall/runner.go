package recall

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/engramhq/engram/internal/engine"
	"github.com/engramhq/engram/internal/logging"
)

var log = logging.GetLogger("benchmark")

// Runner drives one benchmark run against a live engine.
type Runner struct {
	Engine *engine.Engine
	Config Config
}

// NewRunner builds a Runner, defaulting a zero config.
func NewRunner(eng *engine.Engine, cfg Config) *Runner {
	if cfg.TopK <= 0 {
		cfg = DefaultConfig()
	}
	return &Runner{Engine: eng, Config: cfg}
}

// LoadDataset parses a dataset JSON file.
func LoadDataset(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	var ds Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("parse dataset: %w", err)
	}
	return &ds, nil
}

// Run ingests the corpus turn by turn, pausing at each checkpoint to
// re-evaluate every answerable question, so the result shows whether
// precision survives corpus growth.
func (r *Runner) Run(ctx context.Context, ds *Dataset) (*RunResult, error) {
	result := &RunResult{
		StartedAt: time.Now().UTC(),
		TopK:      r.Config.TopK,
		Decisions: make(map[string]int),
	}

	// Flatten turns in a stable order and collect QA with evidence.
	type flatTurn struct {
		convID string
		turn   Turn
	}
	var turns []flatTurn
	var questions []QAAnnotation
	for _, conv := range ds.Conversations {
		sessionKeys := make([]string, 0, len(conv.Sessions))
		for k := range conv.Sessions {
			sessionKeys = append(sessionKeys, k)
		}
		sort.Strings(sessionKeys)
		for _, k := range sessionKeys {
			for _, t := range conv.Sessions[k] {
				turns = append(turns, flatTurn{convID: conv.ID, turn: t})
			}
		}
		for _, qa := range conv.QA {
			if len(qa.Evidence) > 0 {
				questions = append(questions, qa)
			}
		}
	}

	checkpoints := append([]int(nil), r.Config.Checkpoints...)
	sort.Ints(checkpoints)

	diaToNode := make(map[string]string, len(turns))
	ingested := 0
	nextCheckpoint := 0

	ingestStart := time.Now()
	for _, ft := range turns {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		out, err := r.Engine.Ingest(ctx, engine.IngestRequest{
			Content:  ft.turn.Speaker + ": " + ft.turn.Content,
			NodeType: "event",
			Tags:     []string{"benchmark", ft.convID},
			Source:   ft.turn.DiaID,
		})
		if err != nil {
			log.Warn("benchmark ingest failed", "dia", ft.turn.DiaID, "error", err)
			continue
		}
		diaToNode[ft.turn.DiaID] = out.NodeID
		result.Decisions[string(out.Decision)]++
		ingested++

		for nextCheckpoint < len(checkpoints) && ingested >= checkpoints[nextCheckpoint] {
			cp, err := r.evaluate(ctx, questions, diaToNode, ingested, time.Since(ingestStart))
			if err != nil {
				return result, err
			}
			result.Checkpoints = append(result.Checkpoints, *cp)
			nextCheckpoint++
			ingestStart = time.Now()
		}
	}

	// Final checkpoint over the whole corpus if none landed exactly there.
	if len(result.Checkpoints) == 0 || result.Checkpoints[len(result.Checkpoints)-1].CorpusSize != ingested {
		cp, err := r.evaluate(ctx, questions, diaToNode, ingested, time.Since(ingestStart))
		if err != nil {
			return result, err
		}
		result.Checkpoints = append(result.Checkpoints, *cp)
	}

	result.FinishedAt = time.Now().UTC()
	return result, nil
}

// evaluate asks every answerable question through the retrieval pipeline
// and aggregates evidence recall, hit rate, MRR, and answer-token F1.
func (r *Runner) evaluate(ctx context.Context, questions []QAAnnotation, diaToNode map[string]string, corpusSize int, ingestDuration time.Duration) (*CheckpointResult, error) {
	cp := &CheckpointResult{CorpusSize: corpusSize, IngestDuration: ingestDuration}

	var totalRecall, totalRR, totalF1 float64
	hits := 0

	queryStart := time.Now()
	evaluated := 0
	for _, qa := range questions {
		if err := ctx.Err(); err != nil {
			return cp, err
		}
		if r.Config.MaxQuestions > 0 && evaluated >= r.Config.MaxQuestions {
			break
		}

		// Evidence turns not yet ingested can't be found; skip questions
		// whose evidence is entirely ahead of this checkpoint.
		var evidenceNodes []string
		for _, dia := range qa.Evidence {
			if nodeID, ok := diaToNode[dia]; ok {
				evidenceNodes = append(evidenceNodes, nodeID)
			}
		}
		if len(evidenceNodes) == 0 {
			continue
		}
		evaluated++

		resp, err := r.Engine.Search(ctx, qa.Question, engine.SearchOptions{Limit: r.Config.TopK})
		if err != nil {
			log.Warn("benchmark query failed", "question", qa.Question, "error", err)
			continue
		}

		retrieved := make([]string, 0, len(resp.Results))
		var bestF1 float64
		for _, res := range resp.Results {
			retrieved = append(retrieved, res.Node.ID)
			if f1, _, _ := CalculateF1(res.Node.Content, qa.Answer); f1 > bestF1 {
				bestF1 = f1
			}
		}

		found, rr := evidenceRecall(retrieved, evidenceNodes)
		totalRecall += float64(found) / float64(len(evidenceNodes))
		totalRR += rr
		totalF1 += bestF1
		if found > 0 {
			hits++
		}
	}
	cp.QueryDuration = time.Since(queryStart)
	cp.Questions = evaluated

	if evaluated > 0 {
		cp.RecallAtK = totalRecall / float64(evaluated)
		cp.HitRate = float64(hits) / float64(evaluated)
		cp.MRR = totalRR / float64(evaluated)
		cp.MeanAnswerF1 = totalF1 / float64(evaluated)
	}
	return cp, nil
}
