package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/engramhq/engram/internal/engerr"
)

// MaxContentBytes bounds MemoryNode.Content to 1 MiB of free text.
const MaxContentBytes = 1 << 20

// MemoryNode is the central entity of the store.
type MemoryNode struct {
	ID       string
	Content  string
	NodeType string
	Tags     []string

	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastAccessed time.Time
	ValidFrom    *time.Time
	ValidUntil   *time.Time

	Stability     float64
	Difficulty    float64
	Reps          int
	Lapses        int
	LearningState string
	NextReview    *time.Time
	ScheduledDays int

	StorageStrength   float64
	RetrievalStrength float64
	RetentionStrength float64

	SentimentScore     float64
	SentimentMagnitude float64
	WakingTag          bool
	WakingTagAt        *time.Time

	TimesRetrieved int
	TimesUseful    int

	Source string

	HasEmbedding   bool
	EmbeddingModel string

	LabileUntil *time.Time
	RowVersion  int
}

// UtilityScore is times_useful / times_retrieved when the denominator is
// positive, else 0.
func (m *MemoryNode) UtilityScore() float64 {
	if m.TimesRetrieved <= 0 {
		return 0
	}
	return float64(m.TimesUseful) / float64(m.TimesRetrieved)
}

// IsLabile reports whether now falls within the post-access reconsolidation
// window set by retrieval pipeline Stage 7.
func (m *MemoryNode) IsLabile(now time.Time) bool {
	return m.LabileUntil != nil && now.Before(*m.LabileUntil)
}

// NodeUpdate carries the mutable subset of MemoryNode as pointers so only
// the fields a caller sets are written.
type NodeUpdate struct {
	Content            *string
	NodeType           *string
	Tags               []string
	Source             *string
	ValidFrom          *time.Time
	ValidUntil         *time.Time
	Stability          *float64
	Difficulty         *float64
	Reps               *int
	Lapses             *int
	LearningState      *string
	NextReview         *time.Time
	ScheduledDays      *int
	StorageStrength    *float64
	RetrievalStrength  *float64
	RetentionStrength  *float64
	SentimentScore     *float64
	SentimentMagnitude *float64
	TimesRetrieved     *int
	TimesUseful        *int
	HasEmbedding       *bool
	EmbeddingModel     *string
	LabileUntil        *time.Time
}

// CreateMemoryNode inserts n, assigning an id and timestamps if absent.
func CreateMemoryNode(db *Database, n *MemoryNode) error {
	if len(n.Content) == 0 {
		return engerr.Invalid("content is required")
	}
	if len(n.Content) > MaxContentBytes {
		return engerr.Invalid("content exceeds %d bytes", MaxContentBytes)
	}
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.NodeType == "" {
		n.NodeType = "note"
	}
	if !IsValidNodeType(n.NodeType) {
		return engerr.Invalid("invalid node_type %q", n.NodeType)
	}
	if n.LearningState == "" {
		n.LearningState = "new"
	}

	now := time.Now().UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = now
	}
	if n.LastAccessed.IsZero() {
		n.LastAccessed = now
	}
	n.RowVersion = 1

	tagsJSON, err := json.Marshal(n.Tags)
	if err != nil {
		return engerr.Wrap(engerr.InternalError, "marshal tags", err)
	}

	_, err = db.Exec(`
		INSERT INTO memory_nodes (
			id, content, node_type, tags, created_at, updated_at, last_accessed,
			valid_from, valid_until, stability, difficulty, reps, lapses,
			learning_state, next_review, scheduled_days,
			storage_strength, retrieval_strength, retention_strength,
			sentiment_score, sentiment_magnitude, waking_tag, waking_tag_at,
			times_retrieved, times_useful, source, has_embedding, embedding_model,
			labile_until, row_version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.Content, n.NodeType, string(tagsJSON), n.CreatedAt, n.UpdatedAt, n.LastAccessed,
		nullTime(n.ValidFrom), nullTime(n.ValidUntil), n.Stability, n.Difficulty, n.Reps, n.Lapses,
		n.LearningState, nullTime(n.NextReview), n.ScheduledDays,
		n.StorageStrength, n.RetrievalStrength, n.RetentionStrength,
		n.SentimentScore, n.SentimentMagnitude, n.WakingTag, nullTime(n.WakingTagAt),
		n.TimesRetrieved, n.TimesUseful, n.Source, n.HasEmbedding, n.EmbeddingModel,
		nullTime(n.LabileUntil), n.RowVersion,
	)
	if err != nil {
		return engerr.Wrap(engerr.InternalError, "insert memory node", err)
	}

	if err := InsertStateTransition(db, &StateTransition{
		MemoryID:  n.ID,
		FromState: "",
		ToState:   n.LearningState,
		Reason:    "ingest",
	}); err != nil {
		log.Warn("failed to record ingest state transition", "id", n.ID, "error", err)
	}

	return nil
}

// GetMemoryNode fetches a node by id.
func GetMemoryNode(db *Database, id string) (*MemoryNode, error) {
	row := db.QueryRow(`
		SELECT id, content, node_type, tags, created_at, updated_at, last_accessed,
			valid_from, valid_until, stability, difficulty, reps, lapses,
			learning_state, next_review, scheduled_days,
			storage_strength, retrieval_strength, retention_strength,
			sentiment_score, sentiment_magnitude, waking_tag, waking_tag_at,
			times_retrieved, times_useful, source, has_embedding, embedding_model,
			labile_until, row_version
		FROM memory_nodes WHERE id = ?`, id)

	n, err := scanMemoryNode(row)
	if err == sql.ErrNoRows {
		return nil, engerr.NotFoundf("memory node %q not found", id)
	}
	if err != nil {
		return nil, engerr.Wrap(engerr.InternalError, "get memory node", err)
	}
	return n, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMemoryNode(row rowScanner) (*MemoryNode, error) {
	var n MemoryNode
	var tagsJSON string
	var validFrom, validUntil, nextReview, wakingTagAt, labileUntil sql.NullTime

	err := row.Scan(
		&n.ID, &n.Content, &n.NodeType, &tagsJSON, &n.CreatedAt, &n.UpdatedAt, &n.LastAccessed,
		&validFrom, &validUntil, &n.Stability, &n.Difficulty, &n.Reps, &n.Lapses,
		&n.LearningState, &nextReview, &n.ScheduledDays,
		&n.StorageStrength, &n.RetrievalStrength, &n.RetentionStrength,
		&n.SentimentScore, &n.SentimentMagnitude, &n.WakingTag, &wakingTagAt,
		&n.TimesRetrieved, &n.TimesUseful, &n.Source, &n.HasEmbedding, &n.EmbeddingModel,
		&labileUntil, &n.RowVersion,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(tagsJSON), &n.Tags); err != nil {
		n.Tags = nil
	}
	n.ValidFrom = fromNullTime(validFrom)
	n.ValidUntil = fromNullTime(validUntil)
	n.NextReview = fromNullTime(nextReview)
	n.WakingTagAt = fromNullTime(wakingTagAt)
	n.LabileUntil = fromNullTime(labileUntil)

	return &n, nil
}

// UpdateMemoryNode applies a dynamic SET clause built from the non-nil
// fields of u, bumps updated_at and row_version, and emits a StateTransition
// if learning_state changed.
func UpdateMemoryNode(db *Database, id string, u *NodeUpdate) error {
	existing, err := GetMemoryNode(db, id)
	if err != nil {
		return err
	}

	sets := []string{"updated_at = ?", "row_version = row_version + 1"}
	args := []interface{}{time.Now().UTC()}

	addField := func(col string, v interface{}) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if u.Content != nil {
		if len(*u.Content) > MaxContentBytes {
			return engerr.Invalid("content exceeds %d bytes", MaxContentBytes)
		}
		addField("content", *u.Content)
	}
	if u.NodeType != nil {
		if !IsValidNodeType(*u.NodeType) {
			return engerr.Invalid("invalid node_type %q", *u.NodeType)
		}
		addField("node_type", *u.NodeType)
	}
	if u.Tags != nil {
		tagsJSON, _ := json.Marshal(u.Tags)
		addField("tags", string(tagsJSON))
	}
	if u.Source != nil {
		addField("source", *u.Source)
	}
	if u.ValidFrom != nil {
		addField("valid_from", *u.ValidFrom)
	}
	if u.ValidUntil != nil {
		addField("valid_until", *u.ValidUntil)
	}
	if u.Stability != nil {
		addField("stability", *u.Stability)
	}
	if u.Difficulty != nil {
		addField("difficulty", *u.Difficulty)
	}
	if u.Reps != nil {
		addField("reps", *u.Reps)
	}
	if u.Lapses != nil {
		addField("lapses", *u.Lapses)
	}
	if u.LearningState != nil {
		addField("learning_state", *u.LearningState)
	}
	if u.NextReview != nil {
		addField("next_review", *u.NextReview)
	}
	if u.ScheduledDays != nil {
		addField("scheduled_days", *u.ScheduledDays)
	}
	if u.StorageStrength != nil {
		addField("storage_strength", *u.StorageStrength)
	}
	if u.RetrievalStrength != nil {
		addField("retrieval_strength", *u.RetrievalStrength)
	}
	if u.RetentionStrength != nil {
		addField("retention_strength", *u.RetentionStrength)
	}
	if u.SentimentScore != nil {
		addField("sentiment_score", *u.SentimentScore)
	}
	if u.SentimentMagnitude != nil {
		addField("sentiment_magnitude", *u.SentimentMagnitude)
	}
	if u.TimesRetrieved != nil {
		addField("times_retrieved", *u.TimesRetrieved)
	}
	if u.TimesUseful != nil {
		addField("times_useful", *u.TimesUseful)
	}
	if u.HasEmbedding != nil {
		addField("has_embedding", *u.HasEmbedding)
	}
	if u.EmbeddingModel != nil {
		addField("embedding_model", *u.EmbeddingModel)
	}
	if u.LabileUntil != nil {
		addField("labile_until", *u.LabileUntil)
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE memory_nodes SET %s WHERE id = ?", strings.Join(sets, ", "))
	if _, err := db.Exec(query, args...); err != nil {
		return engerr.Wrap(engerr.InternalError, "update memory node", err)
	}

	if u.LearningState != nil && *u.LearningState != existing.LearningState {
		if err := InsertStateTransition(db, &StateTransition{
			MemoryID:  id,
			FromState: existing.LearningState,
			ToState:   *u.LearningState,
			Reason:    "review",
		}); err != nil {
			log.Warn("failed to record review state transition", "id", id, "error", err)
		}
	}

	return nil
}

// DeleteMemoryNode removes a node and, via ON DELETE CASCADE, its
// embeddings and connections. The state
// transition marking the deletion is written before the delete executes so
// no transition for this id is ever inserted after the delete timestamp.
func DeleteMemoryNode(db *Database, id string) error {
	existing, err := GetMemoryNode(db, id)
	if err != nil {
		return err
	}

	if err := InsertStateTransition(db, &StateTransition{
		MemoryID:  id,
		FromState: existing.LearningState,
		ToState:   "deleted",
		Reason:    "delete",
	}); err != nil {
		log.Warn("failed to record delete state transition", "id", id, "error", err)
	}

	res, err := db.Exec("DELETE FROM memory_nodes WHERE id = ?", id)
	if err != nil {
		return engerr.Wrap(engerr.InternalError, "delete memory node", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return engerr.NotFoundf("memory node %q not found", id)
	}
	return nil
}

// NodeFilters narrows ListByTypeAndTag / QueryTimeRange.
type NodeFilters struct {
	NodeType  string
	Tags      []string
	StartDate *time.Time
	EndDate   *time.Time
	Limit     int
	Offset    int
}

// ListByTypeAndTag lists nodes matching the optional node_type and tag
// filters, newest first.
func ListByTypeAndTag(db *Database, f *NodeFilters) ([]*MemoryNode, error) {
	query := `SELECT id, content, node_type, tags, created_at, updated_at, last_accessed,
		valid_from, valid_until, stability, difficulty, reps, lapses,
		learning_state, next_review, scheduled_days,
		storage_strength, retrieval_strength, retention_strength,
		sentiment_score, sentiment_magnitude, waking_tag, waking_tag_at,
		times_retrieved, times_useful, source, has_embedding, embedding_model,
		labile_until, row_version FROM memory_nodes WHERE 1=1`
	var args []interface{}

	if f.NodeType != "" {
		query += " AND node_type = ?"
		args = append(args, f.NodeType)
	}
	if f.StartDate != nil {
		query += " AND created_at >= ?"
		args = append(args, *f.StartDate)
	}
	if f.EndDate != nil {
		query += " AND created_at <= ?"
		args = append(args, *f.EndDate)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, engerr.Wrap(engerr.InternalError, "list memory nodes", err)
	}
	defer rows.Close()

	var out []*MemoryNode
	for rows.Next() {
		n, err := scanMemoryNode(rows)
		if err != nil {
			return nil, engerr.Wrap(engerr.InternalError, "scan memory node", err)
		}
		if len(f.Tags) > 0 && !hasAnyTag(n.Tags, f.Tags) {
			continue
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// QueryTimeRange lists nodes whose created_at falls within [start, end].
func QueryTimeRange(db *Database, start, end time.Time, limit int) ([]*MemoryNode, error) {
	return ListByTypeAndTag(db, &NodeFilters{StartDate: &start, EndDate: &end, Limit: limit})
}

func hasAnyTag(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[t] = true
	}
	for _, w := range want {
		if set[w] {
			return true
		}
	}
	return false
}

// StrengthenBatchOnAccess encodes the Testing Effect: for each
// id, bump times_retrieved, refresh last_accessed, and nudge
// retrieval_strength toward 1 by a small fixed fraction. It is a single
// write per id with minimal per-row work, called after every retrieval.
const testingEffectNudge = 0.05

func StrengthenBatchOnAccess(db *Database, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for _, id := range ids {
		_, err := db.Exec(`
			UPDATE memory_nodes SET
				times_retrieved = times_retrieved + 1,
				last_accessed = ?,
				retrieval_strength = retrieval_strength + (1 - retrieval_strength) * ?
			WHERE id = ?`, now, testingEffectNudge, id)
		if err != nil {
			return engerr.Wrap(engerr.InternalError, "strengthen on access", err)
		}
	}
	return nil
}

// RecordUseful increments times_useful for id, feeding the utility_score
// used by retrieval Stage 5c.
func RecordUseful(db *Database, id string) error {
	_, err := db.Exec("UPDATE memory_nodes SET times_useful = times_useful + 1 WHERE id = ?", id)
	if err != nil {
		return engerr.Wrap(engerr.InternalError, "record useful", err)
	}
	return nil
}

// SetLabileUntil marks a node as labile until until, so subsequent writes
// against it within the window are treated as modifications rather than
// duplicates.
func SetLabileUntil(db *Database, id string, until time.Time) error {
	_, err := db.Exec("UPDATE memory_nodes SET labile_until = ? WHERE id = ?", until, id)
	if err != nil {
		return engerr.Wrap(engerr.InternalError, "set labile window", err)
	}
	return nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func fromNullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
