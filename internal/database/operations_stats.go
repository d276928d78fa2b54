package database

import (
	"time"

	"github.com/engramhq/engram/internal/engerr"
)

// NodeStats aggregates the store-wide counters surfaced by the stats
// query.
type NodeStats struct {
	TotalNodes       int
	ByType           map[string]int
	ByLearningState  map[string]int
	AvgStability     float64
	AvgRetention     float64
	DueForReview     int
	LabileNow        int
	WithEmbedding    int
	TotalConnections int
}

// GetNodeStats returns an aggregate snapshot over memory_nodes.
func GetNodeStats(db *Database, now time.Time) (*NodeStats, error) {
	s := &NodeStats{
		ByType:          make(map[string]int),
		ByLearningState: make(map[string]int),
	}

	row := db.QueryRow(`
		SELECT COUNT(*),
			COALESCE(AVG(stability), 0),
			COALESCE(AVG(retention_strength), 0),
			COALESCE(SUM(CASE WHEN next_review IS NOT NULL AND next_review <= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN labile_until IS NOT NULL AND labile_until > ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(has_embedding), 0)
		FROM memory_nodes`, now, now)
	if err := row.Scan(&s.TotalNodes, &s.AvgStability, &s.AvgRetention,
		&s.DueForReview, &s.LabileNow, &s.WithEmbedding); err != nil {
		return nil, engerr.Wrap(engerr.InternalError, "aggregate node stats", err)
	}

	rows, err := db.Query("SELECT node_type, COUNT(*) FROM memory_nodes GROUP BY node_type")
	if err != nil {
		return nil, engerr.Wrap(engerr.InternalError, "count nodes by type", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t string
		var c int
		if err := rows.Scan(&t, &c); err != nil {
			return nil, engerr.Wrap(engerr.InternalError, "scan type count", err)
		}
		s.ByType[t] = c
	}
	if err := rows.Err(); err != nil {
		return nil, engerr.Wrap(engerr.InternalError, "iterate type counts", err)
	}

	stateRows, err := db.Query("SELECT learning_state, COUNT(*) FROM memory_nodes GROUP BY learning_state")
	if err != nil {
		return nil, engerr.Wrap(engerr.InternalError, "count nodes by state", err)
	}
	defer stateRows.Close()
	for stateRows.Next() {
		var st string
		var c int
		if err := stateRows.Scan(&st, &c); err != nil {
			return nil, engerr.Wrap(engerr.InternalError, "scan state count", err)
		}
		s.ByLearningState[st] = c
	}
	if err := stateRows.Err(); err != nil {
		return nil, engerr.Wrap(engerr.InternalError, "iterate state counts", err)
	}

	if s.TotalConnections, err = db.CountRows("connections"); err != nil {
		return nil, err
	}
	return s, nil
}

// RetentionBucket is one bar of the retention distribution histogram.
type RetentionBucket struct {
	Low   float64
	High  float64
	Count int
}

// GetRetentionDistribution buckets every node's retention_strength into
// `buckets` equal-width bins over [0,1].
func GetRetentionDistribution(db *Database, buckets int) ([]RetentionBucket, error) {
	if buckets <= 0 {
		buckets = 10
	}
	out := make([]RetentionBucket, buckets)
	width := 1.0 / float64(buckets)
	for i := range out {
		out[i].Low = float64(i) * width
		out[i].High = out[i].Low + width
	}

	rows, err := db.Query("SELECT retention_strength FROM memory_nodes")
	if err != nil {
		return nil, engerr.Wrap(engerr.InternalError, "read retention strengths", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r float64
		if err := rows.Scan(&r); err != nil {
			return nil, engerr.Wrap(engerr.InternalError, "scan retention strength", err)
		}
		idx := int(r / width)
		if idx >= buckets {
			idx = buckets - 1
		}
		if idx < 0 {
			idx = 0
		}
		out[idx].Count++
	}
	return out, rows.Err()
}

// RetentionTrendPoint is average retention for the nodes created in one
// day-wide cohort.
type RetentionTrendPoint struct {
	Day          time.Time
	NodeCount    int
	AvgRetention float64
}

// GetRetentionTrend returns per-day average retention over the last `days`
// days of node creation, oldest first.
func GetRetentionTrend(db *Database, days int, now time.Time) ([]RetentionTrendPoint, error) {
	if days <= 0 {
		days = 30
	}
	since := now.AddDate(0, 0, -days)

	rows, err := db.Query(`
		SELECT DATE(created_at), COUNT(*), AVG(retention_strength)
		FROM memory_nodes
		WHERE created_at >= ?
		GROUP BY DATE(created_at)
		ORDER BY DATE(created_at) ASC`, since)
	if err != nil {
		return nil, engerr.Wrap(engerr.InternalError, "read retention trend", err)
	}
	defer rows.Close()

	var out []RetentionTrendPoint
	for rows.Next() {
		var day string
		var p RetentionTrendPoint
		if err := rows.Scan(&day, &p.NodeCount, &p.AvgRetention); err != nil {
			return nil, engerr.Wrap(engerr.InternalError, "scan trend point", err)
		}
		if t, err := time.Parse("2006-01-02", day); err == nil {
			p.Day = t
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListDueReviews answers "what should I review next": nodes whose
// next_review is set and has passed, most overdue first. Nodes with no
// next_review are not returned.
func ListDueReviews(db *Database, now time.Time, limit int) ([]*MemoryNode, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`
		SELECT id, content, node_type, tags, created_at, updated_at, last_accessed,
			valid_from, valid_until, stability, difficulty, reps, lapses,
			learning_state, next_review, scheduled_days,
			storage_strength, retrieval_strength, retention_strength,
			sentiment_score, sentiment_magnitude, waking_tag, waking_tag_at,
			times_retrieved, times_useful, source, has_embedding, embedding_model,
			labile_until, row_version
		FROM memory_nodes
		WHERE next_review IS NOT NULL AND next_review <= ?
		ORDER BY next_review ASC
		LIMIT ?`, now, limit)
	if err != nil {
		return nil, engerr.Wrap(engerr.InternalError, "list due reviews", err)
	}
	defer rows.Close()

	var out []*MemoryNode
	for rows.Next() {
		n, err := scanMemoryNode(rows)
		if err != nil {
			return nil, engerr.Wrap(engerr.InternalError, "scan due review", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ListStaleNodes returns nodes whose last_accessed is older than cutoff,
// the working set of the consolidator's retrievability-recompute phase.
func ListStaleNodes(db *Database, cutoff time.Time, limit int) ([]*MemoryNode, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := db.Query(`
		SELECT id, content, node_type, tags, created_at, updated_at, last_accessed,
			valid_from, valid_until, stability, difficulty, reps, lapses,
			learning_state, next_review, scheduled_days,
			storage_strength, retrieval_strength, retention_strength,
			sentiment_score, sentiment_magnitude, waking_tag, waking_tag_at,
			times_retrieved, times_useful, source, has_embedding, embedding_model,
			labile_until, row_version
		FROM memory_nodes
		WHERE last_accessed < ?
		ORDER BY last_accessed ASC
		LIMIT ?`, cutoff, limit)
	if err != nil {
		return nil, engerr.Wrap(engerr.InternalError, "list stale nodes", err)
	}
	defer rows.Close()

	var out []*MemoryNode
	for rows.Next() {
		n, err := scanMemoryNode(rows)
		if err != nil {
			return nil, engerr.Wrap(engerr.InternalError, "scan stale node", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ListNodesNeedingRetentionRefresh returns nodes whose cached
// retention_strength has not been recomputed since cutoff and whose last
// access is older than cutoff, the consolidator's phase-1 working set.
// Selecting on retention_computed_at (not just last_accessed) makes the
// pass convergent: an immediate second pass finds nothing to refresh.
func ListNodesNeedingRetentionRefresh(db *Database, cutoff time.Time, limit int) ([]*MemoryNode, error) {
	if limit <= 0 {
		limit = 5000
	}
	rows, err := db.Query(`
		SELECT id, content, node_type, tags, created_at, updated_at, last_accessed,
			valid_from, valid_until, stability, difficulty, reps, lapses,
			learning_state, next_review, scheduled_days,
			storage_strength, retrieval_strength, retention_strength,
			sentiment_score, sentiment_magnitude, waking_tag, waking_tag_at,
			times_retrieved, times_useful, source, has_embedding, embedding_model,
			labile_until, row_version
		FROM memory_nodes
		WHERE last_accessed < ?
		AND (retention_computed_at IS NULL OR retention_computed_at < ?)
		ORDER BY last_accessed ASC
		LIMIT ?`, cutoff, cutoff, limit)
	if err != nil {
		return nil, engerr.Wrap(engerr.InternalError, "list retention-refresh candidates", err)
	}
	defer rows.Close()

	var out []*MemoryNode
	for rows.Next() {
		n, err := scanMemoryNode(rows)
		if err != nil {
			return nil, engerr.Wrap(engerr.InternalError, "scan refresh candidate", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// WriteRetentionRefresh persists a recomputed retention value, its
// computation timestamp, and the rescheduled next review in one statement.
func WriteRetentionRefresh(db *Database, id string, retention float64, computedAt, nextReview time.Time) error {
	_, err := db.Exec(`
		UPDATE memory_nodes SET retention_strength = ?, retention_computed_at = ?, next_review = ?
		WHERE id = ?`, retention, computedAt, nextReview, id)
	if err != nil {
		return engerr.Wrap(engerr.InternalError, "write retention refresh", err)
	}
	return nil
}

// GarbageCollectNodes deletes nodes whose retention has fallen below
// retentionFloor and whose age exceeds minAge (lifecycle rule: destroy on
// retention-below-threshold AND age-above-threshold). Returns ids removed.
func GarbageCollectNodes(db *Database, retentionFloor float64, minAge time.Duration, now time.Time) ([]string, error) {
	cutoff := now.Add(-minAge)
	rows, err := db.Query(`
		SELECT id, learning_state FROM memory_nodes
		WHERE retention_strength < ? AND created_at < ? AND waking_tag = 0`,
		retentionFloor, cutoff)
	if err != nil {
		return nil, engerr.Wrap(engerr.InternalError, "select gc candidates", err)
	}
	type victim struct{ id, state string }
	var victims []victim
	for rows.Next() {
		var v victim
		if err := rows.Scan(&v.id, &v.state); err != nil {
			rows.Close()
			return nil, engerr.Wrap(engerr.InternalError, "scan gc candidate", err)
		}
		victims = append(victims, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, engerr.Wrap(engerr.InternalError, "iterate gc candidates", err)
	}

	var removed []string
	for _, v := range victims {
		if err := InsertStateTransition(db, &StateTransition{
			MemoryID:  v.id,
			FromState: v.state,
			ToState:   "deleted",
			Reason:    "garbage_collect",
		}); err != nil {
			log.Warn("failed to record gc state transition", "id", v.id, "error", err)
		}
		if _, err := db.Exec("DELETE FROM memory_nodes WHERE id = ?", v.id); err != nil {
			return removed, engerr.Wrap(engerr.InternalError, "gc delete", err)
		}
		removed = append(removed, v.id)
	}
	return removed, nil
}
