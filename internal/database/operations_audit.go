package database

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/engramhq/engram/internal/engerr"
)

// StateTransition is one append-only row in the system-wide changelog.
// Rows are never updated or deleted.
type StateTransition struct {
	ID        int64
	MemoryID  string
	FromState string
	ToState   string
	Reason    string
	Detail    string
	Timestamp time.Time
}

// InsertStateTransition appends a row. Timestamp defaults to now.
func InsertStateTransition(db *Database, t *StateTransition) error {
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now().UTC()
	}
	res, err := db.Exec(`
		INSERT INTO state_transitions (memory_id, from_state, to_state, reason_kind, reason_detail, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.MemoryID, t.FromState, t.ToState, t.Reason, t.Detail, t.Timestamp,
	)
	if err != nil {
		return engerr.Wrap(engerr.InternalError, "insert state transition", err)
	}
	t.ID, _ = res.LastInsertId()
	return nil
}

// ListStateTransitions returns the transitions for a single memory id,
// oldest first.
func ListStateTransitions(db *Database, memoryID string) ([]*StateTransition, error) {
	rows, err := db.Query(`
		SELECT id, memory_id, from_state, to_state, reason_kind, reason_detail, timestamp
		FROM state_transitions WHERE memory_id = ? ORDER BY timestamp ASC`, memoryID)
	if err != nil {
		return nil, engerr.Wrap(engerr.InternalError, "list state transitions", err)
	}
	defer rows.Close()
	return scanStateTransitions(rows)
}

// ListChangelog returns the most recent transitions across every memory,
// newest first, the system-wide changelog view.
func ListChangelog(db *Database, since time.Time, limit int) ([]*StateTransition, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT id, memory_id, from_state, to_state, reason_kind, reason_detail, timestamp
		FROM state_transitions WHERE timestamp >= ? ORDER BY timestamp DESC LIMIT ?`, since, limit)
	if err != nil {
		return nil, engerr.Wrap(engerr.InternalError, "list changelog", err)
	}
	defer rows.Close()
	return scanStateTransitions(rows)
}

func scanStateTransitions(rows *sql.Rows) ([]*StateTransition, error) {
	var out []*StateTransition
	for rows.Next() {
		var t StateTransition
		if err := rows.Scan(&t.ID, &t.MemoryID, &t.FromState, &t.ToState, &t.Reason, &t.Detail, &t.Timestamp); err != nil {
			return nil, engerr.Wrap(engerr.InternalError, "scan state transition", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// ConsolidationRecord audits one run of the consolidation pass.
type ConsolidationRecord struct {
	ID                     int64
	StartedAt              time.Time
	FinishedAt             time.Time
	RecomputedCount        int
	RecomputeDurationMS    int64
	MergedCount            int
	DedupDurationMS        int64
	CacheRebuildDurationMS int64
	PrunedConnections      int
	PruneDurationMS        int64
	PhaseErrors            []string
}

// InsertConsolidationRecord appends a consolidation run summary.
func InsertConsolidationRecord(db *Database, r *ConsolidationRecord) error {
	errsJSON, err := json.Marshal(r.PhaseErrors)
	if err != nil {
		return engerr.Wrap(engerr.InternalError, "marshal phase errors", err)
	}
	res, err := db.Exec(`
		INSERT INTO consolidation_records (
			started_at, finished_at, recomputed_count, recompute_duration_ms,
			merged_count, dedup_duration_ms, cache_rebuild_duration_ms,
			pruned_connections, prune_duration_ms, phase_errors
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.StartedAt, r.FinishedAt, r.RecomputedCount, r.RecomputeDurationMS,
		r.MergedCount, r.DedupDurationMS, r.CacheRebuildDurationMS,
		r.PrunedConnections, r.PruneDurationMS, string(errsJSON),
	)
	if err != nil {
		return engerr.Wrap(engerr.InternalError, "insert consolidation record", err)
	}
	r.ID, _ = res.LastInsertId()
	return nil
}

// DreamRecord audits one sub-pass of consolidation against a parent run.
type DreamRecord struct {
	ID                int64
	ConsolidationID   int64
	CompletedAt       time.Time
	NodesProcessed    int
	Merges            int
	ConnectionsPruned int
}

// InsertDreamRecord appends a dream record tied to its parent consolidation run.
func InsertDreamRecord(db *Database, r *DreamRecord) error {
	res, err := db.Exec(`
		INSERT INTO dream_records (consolidation_id, completed_at, nodes_processed, merges, connections_pruned)
		VALUES (?, ?, ?, ?, ?)`,
		r.ConsolidationID, r.CompletedAt, r.NodesProcessed, r.Merges, r.ConnectionsPruned,
	)
	if err != nil {
		return engerr.Wrap(engerr.InternalError, "insert dream record", err)
	}
	r.ID, _ = res.LastInsertId()
	return nil
}

// ListRecentDreams returns the most recent dream records, newest first.
// The status surface uses the first entry to answer "when did we last
// consolidate?".
func ListRecentDreams(db *Database, limit int) ([]*DreamRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`
		SELECT id, consolidation_id, completed_at, nodes_processed, merges, connections_pruned
		FROM dream_records ORDER BY completed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, engerr.Wrap(engerr.InternalError, "list dream records", err)
	}
	defer rows.Close()

	var out []*DreamRecord
	for rows.Next() {
		var r DreamRecord
		if err := rows.Scan(&r.ID, &r.ConsolidationID, &r.CompletedAt,
			&r.NodesProcessed, &r.Merges, &r.ConnectionsPruned); err != nil {
			return nil, engerr.Wrap(engerr.InternalError, "scan dream record", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// ListRecentConsolidations returns the most recent consolidation runs,
// newest first.
func ListRecentConsolidations(db *Database, limit int) ([]*ConsolidationRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`
		SELECT id, started_at, finished_at, recomputed_count, recompute_duration_ms,
			merged_count, dedup_duration_ms, cache_rebuild_duration_ms,
			pruned_connections, prune_duration_ms, phase_errors
		FROM consolidation_records ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, engerr.Wrap(engerr.InternalError, "list consolidation records", err)
	}
	defer rows.Close()

	var out []*ConsolidationRecord
	for rows.Next() {
		var r ConsolidationRecord
		var errsJSON string
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.RecomputedCount, &r.RecomputeDurationMS,
			&r.MergedCount, &r.DedupDurationMS, &r.CacheRebuildDurationMS,
			&r.PrunedConnections, &r.PruneDurationMS, &errsJSON); err != nil {
			return nil, engerr.Wrap(engerr.InternalError, "scan consolidation record", err)
		}
		json.Unmarshal([]byte(errsJSON), &r.PhaseErrors)
		out = append(out, &r)
	}
	return out, rows.Err()
}
