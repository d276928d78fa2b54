// Package consolidate implements the periodic background pass: stale
// retrievability recomputation, batched near-duplicate merging, activation
// cache rebuild, and weak-connection pruning. Each phase runs and logs
// independently; one phase failing never aborts the others.
package consolidate

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/engramhq/engram/internal/associations"
	"github.com/engramhq/engram/internal/database"
	"github.com/engramhq/engram/internal/embedding"
	"github.com/engramhq/engram/internal/fsrs"
	"github.com/engramhq/engram/internal/logging"
	"github.com/engramhq/engram/internal/vectorindex"
)

var log = logging.GetLogger("consolidate")

// Config carries the trigger heuristic and per-phase thresholds.
type Config struct {
	// MinInterval / WriteThreshold form the trigger heuristic: a pass is
	// due when either has been exceeded since the last pass.
	MinInterval    time.Duration
	WriteThreshold int

	// StaleAfter bounds phase 1: only nodes untouched for at least this
	// long get their retention recomputed.
	StaleAfter time.Duration

	// DuplicateThreshold is the batched near-duplicate similarity floor
	// for phase 2.
	DuplicateThreshold float64

	// PruneFloor / PruneHorizon bound phase 4.
	PruneFloor   float64
	PruneHorizon time.Duration
}

// DefaultConfig returns the stock consolidation thresholds.
func DefaultConfig() Config {
	return Config{
		MinInterval:        6 * time.Hour,
		WriteThreshold:     100,
		StaleAfter:         time.Hour,
		DuplicateThreshold: 0.92,
		PruneFloor:         0.05,
		PruneHorizon:       30 * 24 * time.Hour,
	}
}

// Consolidator runs the four-phase pass.
type Consolidator struct {
	DB           *database.Database
	Vectors      vectorindex.Index
	Scheduler    *fsrs.Scheduler
	Associations *associations.Service
	Config       Config

	// Now is the clock, overridable in tests.
	Now func() time.Time

	// IdleFn reports whether the host is idle; a pass only starts when it
	// returns true. Defaults to always-idle.
	IdleFn func() bool

	writesSinceLast atomic.Int64
	lastRun         atomic.Int64 // unix nanos of the last completed pass
}

// New builds a Consolidator with cfg, defaulting zero configs.
func New(db *database.Database, vectors vectorindex.Index, scheduler *fsrs.Scheduler, assoc *associations.Service, cfg Config) *Consolidator {
	if cfg.MinInterval == 0 {
		cfg = DefaultConfig()
	}
	return &Consolidator{
		DB:           db,
		Vectors:      vectors,
		Scheduler:    scheduler,
		Associations: assoc,
		Config:       cfg,
		Now:          func() time.Time { return time.Now().UTC() },
		IdleFn:       func() bool { return true },
	}
}

// NoteWrite feeds the accumulated-write half of the trigger heuristic.
func (c *Consolidator) NoteWrite() {
	c.writesSinceLast.Add(1)
}

// Due reports whether the trigger heuristic says a pass should run now.
func (c *Consolidator) Due(now time.Time) bool {
	if !c.IdleFn() {
		return false
	}
	last := c.lastRun.Load()
	if last == 0 {
		return c.writesSinceLast.Load() > 0
	}
	if now.Sub(time.Unix(0, last)) >= c.Config.MinInterval {
		return true
	}
	return c.writesSinceLast.Load() >= int64(c.Config.WriteThreshold)
}

// Pass runs all four phases and appends the consolidation and dream audit
// rows. Phases are independent: a failed phase records its error and the
// pass continues.
func (c *Consolidator) Pass() (*database.ConsolidationRecord, error) {
	start := c.Now()
	rec := &database.ConsolidationRecord{StartedAt: start}

	phaseStart := c.Now()
	recomputed, err := c.recomputeRetention(start)
	rec.RecomputedCount = recomputed
	rec.RecomputeDurationMS = c.Now().Sub(phaseStart).Milliseconds()
	if err != nil {
		rec.PhaseErrors = append(rec.PhaseErrors, fmt.Sprintf("recompute: %v", err))
		log.Warn("consolidation recompute phase failed", "error", err)
	}

	phaseStart = c.Now()
	merged, err := c.mergeDuplicates()
	rec.MergedCount = merged
	rec.DedupDurationMS = c.Now().Sub(phaseStart).Milliseconds()
	if err != nil {
		rec.PhaseErrors = append(rec.PhaseErrors, fmt.Sprintf("dedup: %v", err))
		log.Warn("consolidation dedup phase failed", "error", err)
	}

	phaseStart = c.Now()
	if _, err := c.Associations.Rebuild(c.Now()); err != nil {
		rec.PhaseErrors = append(rec.PhaseErrors, fmt.Sprintf("cache rebuild: %v", err))
		log.Warn("consolidation cache rebuild failed", "error", err)
	}
	rec.CacheRebuildDurationMS = c.Now().Sub(phaseStart).Milliseconds()

	phaseStart = c.Now()
	pruned, err := c.Associations.Prune(c.Config.PruneFloor, c.Config.PruneHorizon, c.Now())
	rec.PrunedConnections = pruned
	rec.PruneDurationMS = c.Now().Sub(phaseStart).Milliseconds()
	if err != nil {
		rec.PhaseErrors = append(rec.PhaseErrors, fmt.Sprintf("prune: %v", err))
		log.Warn("consolidation prune phase failed", "error", err)
	}

	rec.FinishedAt = c.Now()
	if err := database.InsertConsolidationRecord(c.DB, rec); err != nil {
		return rec, err
	}
	if err := database.InsertDreamRecord(c.DB, &database.DreamRecord{
		ConsolidationID:   rec.ID,
		CompletedAt:       rec.FinishedAt,
		NodesProcessed:    rec.RecomputedCount,
		Merges:            rec.MergedCount,
		ConnectionsPruned: rec.PrunedConnections,
	}); err != nil {
		log.Warn("failed to record dream", "error", err)
	}

	c.writesSinceLast.Store(0)
	c.lastRun.Store(rec.FinishedAt.UnixNano())

	log.Info("consolidation pass complete",
		"recomputed", rec.RecomputedCount,
		"merged", rec.MergedCount,
		"pruned", rec.PrunedConnections,
		"errors", len(rec.PhaseErrors))
	return rec, nil
}

// recomputeRetention is phase 1: refresh retention_strength from stored
// FSRS state for every stale node and reschedule its next review.
func (c *Consolidator) recomputeRetention(now time.Time) (int, error) {
	cutoff := now.Add(-c.Config.StaleAfter)
	nodes, err := database.ListNodesNeedingRetentionRefresh(c.DB, cutoff, 0)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, n := range nodes {
		retention := c.Scheduler.Params.RetrievabilityNow(n.Stability, n.LastAccessed, now)
		interval := fsrs.NextInterval(c.Scheduler.Params.RequestRetention, n.Stability, c.Scheduler.Params.W)
		nextReview := now.Add(time.Duration(interval*24) * time.Hour)
		if err := database.WriteRetentionRefresh(c.DB, n.ID, retention, now, nextReview); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// DuplicateCluster is one group of near-identical memories found by the
// batched similarity scan.
type DuplicateCluster struct {
	SurvivorID string
	VictimIDs  []string
	MinSim     float64
}

// FindDuplicateClusters runs the batched near-duplicate scan over every
// stored embedding: pairs at or above threshold are grouped with
// union-find, and the node with the most reviews in each group (oldest on
// a tie) is elected survivor. The
// scan is exported so the dedup surface can run it standalone as a
// dry-run, not only inside a pass.
func (c *Consolidator) FindDuplicateClusters(threshold float64) ([]DuplicateCluster, error) {
	blobs, _, err := database.AllEmbeddings(c.DB)
	if err != nil {
		return nil, err
	}
	if len(blobs) < 2 {
		return nil, nil
	}

	ids := make([]string, 0, len(blobs))
	vectors := make(map[string][]float64, len(blobs))
	for id, blob := range blobs {
		ids = append(ids, id)
		vectors[id] = embedding.DecodeVector(blob)
	}
	sort.Strings(ids)

	parent := make(map[string]string, len(ids))
	var find func(string) string
	find = func(x string) string {
		if parent[x] == x {
			return x
		}
		parent[x] = find(parent[x])
		return parent[x]
	}
	for _, id := range ids {
		parent[id] = id
	}

	minSim := make(map[string]float64)
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			sim := embedding.CosineSimilarity(vectors[ids[i]], vectors[ids[j]])
			if sim < threshold {
				continue
			}
			ri, rj := find(ids[i]), find(ids[j])
			if ri != rj {
				parent[rj] = ri
			}
			root := find(ri)
			if cur, ok := minSim[root]; !ok || sim < cur {
				minSim[root] = sim
			}
		}
	}

	groups := make(map[string][]string)
	for _, id := range ids {
		root := find(id)
		groups[root] = append(groups[root], id)
	}

	var clusters []DuplicateCluster
	for root, members := range groups {
		if len(members) < 2 {
			continue
		}
		survivor, err := c.electSurvivor(members)
		if err != nil {
			return nil, err
		}
		var victims []string
		for _, id := range members {
			if id != survivor {
				victims = append(victims, id)
			}
		}
		sort.Strings(victims)
		clusters = append(clusters, DuplicateCluster{
			SurvivorID: survivor,
			VictimIDs:  victims,
			MinSim:     minSim[root],
		})
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].SurvivorID < clusters[j].SurvivorID })
	return clusters, nil
}

// electSurvivor picks the cluster member with the most review history,
// breaking ties by age (oldest wins).
func (c *Consolidator) electSurvivor(members []string) (string, error) {
	var best *database.MemoryNode
	for _, id := range members {
		n, err := database.GetMemoryNode(c.DB, id)
		if err != nil {
			continue
		}
		if best == nil ||
			n.Reps > best.Reps ||
			(n.Reps == best.Reps && n.CreatedAt.Before(best.CreatedAt)) {
			best = n
		}
	}
	if best == nil {
		return "", fmt.Errorf("no retrievable members in cluster %v", members)
	}
	return best.ID, nil
}

// mergeDuplicates is phase 2: collapse each cluster into its survivor,
// redirecting the victims' connections before deleting them.
func (c *Consolidator) mergeDuplicates() (int, error) {
	clusters, err := c.FindDuplicateClusters(c.Config.DuplicateThreshold)
	if err != nil {
		return 0, err
	}

	merged := 0
	for _, cluster := range clusters {
		for _, victim := range cluster.VictimIDs {
			if err := c.redirectConnections(victim, cluster.SurvivorID); err != nil {
				log.Warn("failed to redirect connections", "victim", victim, "error", err)
			}
			if err := database.InsertStateTransition(c.DB, &database.StateTransition{
				MemoryID:  victim,
				FromState: "",
				ToState:   "merged",
				Reason:    "consolidation_merge",
				Detail:    fmt.Sprintf("merged into %s", cluster.SurvivorID),
			}); err != nil {
				log.Warn("failed to record merge transition", "victim", victim, "error", err)
			}
			if err := database.DeleteMemoryNode(c.DB, victim); err != nil {
				log.Warn("failed to delete merged duplicate", "victim", victim, "error", err)
				continue
			}
			if c.Vectors != nil {
				if err := c.Vectors.Delete(context.Background(), victim); err != nil {
					log.Warn("failed to drop merged vector", "victim", victim, "error", err)
				}
			}
			merged++
		}
	}
	return merged, nil
}

// redirectConnections repoints every edge touching victim at survivor,
// skipping edges that would become self-loops.
func (c *Consolidator) redirectConnections(victim, survivor string) error {
	conns, err := database.GetConnections(c.DB, victim)
	if err != nil {
		return err
	}
	for _, conn := range conns {
		source, target := conn.SourceID, conn.TargetID
		if source == victim {
			source = survivor
		}
		if target == victim {
			target = survivor
		}
		if source == target {
			continue
		}
		if err := database.SaveConnection(c.DB, &database.Connection{
			SourceID:      source,
			TargetID:      target,
			Strength:      conn.Strength,
			LinkType:      conn.LinkType,
			CreatedAt:     conn.CreatedAt,
			LastActivated: conn.LastActivated,
		}); err != nil {
			log.Warn("failed to redirect connection", "source", source, "target", target, "error", err)
		}
	}
	return nil
}
