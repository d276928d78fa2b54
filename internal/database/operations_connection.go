package database

import (
	"database/sql"
	"time"

	"github.com/engramhq/engram/internal/engerr"
)

// Connection is a directed, typed, weighted edge between two memory nodes.
type Connection struct {
	SourceID        string
	TargetID        string
	Strength        float64
	LinkType        string
	CreatedAt       time.Time
	LastActivated   time.Time
	ActivationCount int
}

// SaveConnection upserts the edge source->target, replacing a strength
// outside [0,1] with 0.5 and defaulting link_type to "user_defined" when
// empty.
func SaveConnection(db *Database, c *Connection) error {
	if c.SourceID == "" || c.TargetID == "" {
		return engerr.Invalid("source_id and target_id are required")
	}
	if c.SourceID == c.TargetID {
		return engerr.Invalid("a connection cannot link a node to itself")
	}
	if c.LinkType == "" {
		c.LinkType = "user_defined"
	}
	if !IsValidLinkType(c.LinkType) {
		return engerr.Invalid("invalid link_type %q", c.LinkType)
	}
	if c.Strength < 0 || c.Strength > 1 {
		c.Strength = 0.5
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.LastActivated.IsZero() {
		c.LastActivated = now
	}

	_, err := db.Exec(`
		INSERT INTO connections (source_id, target_id, strength, link_type, created_at, last_activated, activation_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, target_id) DO UPDATE SET
			strength = excluded.strength,
			link_type = excluded.link_type,
			last_activated = excluded.last_activated`,
		c.SourceID, c.TargetID, c.Strength, c.LinkType, c.CreatedAt, c.LastActivated, c.ActivationCount,
	)
	if err != nil {
		return engerr.Wrap(engerr.InternalError, "save connection", err)
	}
	return nil
}

// GetConnections returns every connection touching memoryID, in either
// direction.
func GetConnections(db *Database, memoryID string) ([]*Connection, error) {
	rows, err := db.Query(`
		SELECT source_id, target_id, strength, link_type, created_at, last_activated, activation_count
		FROM connections WHERE source_id = ? OR target_id = ?`, memoryID, memoryID)
	if err != nil {
		return nil, engerr.Wrap(engerr.InternalError, "get connections", err)
	}
	defer rows.Close()
	return scanConnections(rows)
}

// GetOutboundConnections returns connections where memoryID is the source,
// ordered by strength descending, the shape the retrieval pipeline's
// Connections/Stage 6 step walks.
func GetOutboundConnections(db *Database, memoryID string, minStrength float64) ([]*Connection, error) {
	rows, err := db.Query(`
		SELECT source_id, target_id, strength, link_type, created_at, last_activated, activation_count
		FROM connections WHERE source_id = ? AND strength >= ?
		ORDER BY strength DESC`, memoryID, minStrength)
	if err != nil {
		return nil, engerr.Wrap(engerr.InternalError, "get outbound connections", err)
	}
	defer rows.Close()
	return scanConnections(rows)
}

func scanConnections(rows *sql.Rows) ([]*Connection, error) {
	var out []*Connection
	for rows.Next() {
		var c Connection
		if err := rows.Scan(&c.SourceID, &c.TargetID, &c.Strength, &c.LinkType,
			&c.CreatedAt, &c.LastActivated, &c.ActivationCount); err != nil {
			return nil, engerr.Wrap(engerr.InternalError, "scan connection", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// ActivateConnection bumps activation_count and last_activated, called
// when the retrieval pipeline's Connections step surfaces an edge.
func ActivateConnection(db *Database, sourceID, targetID string) error {
	_, err := db.Exec(`
		UPDATE connections SET activation_count = activation_count + 1, last_activated = ?
		WHERE source_id = ? AND target_id = ?`, time.Now().UTC(), sourceID, targetID)
	if err != nil {
		return engerr.Wrap(engerr.InternalError, "activate connection", err)
	}
	return nil
}

// DeleteConnection removes a single directed edge.
func DeleteConnection(db *Database, sourceID, targetID string) error {
	res, err := db.Exec("DELETE FROM connections WHERE source_id = ? AND target_id = ?", sourceID, targetID)
	if err != nil {
		return engerr.Wrap(engerr.InternalError, "delete connection", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return engerr.NotFoundf("connection %s -> %s not found", sourceID, targetID)
	}
	return nil
}

// SaveEmbedding writes an embedding version for a memory node as an opaque
// BLOB and flips has_embedding/embedding_model on the owning node.
func SaveEmbedding(db *Database, memoryID string, version int, vector []byte, dim int, model string) error {
	_, err := db.Exec(`
		INSERT INTO embeddings (memory_id, version, vector, dim, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(memory_id, version) DO UPDATE SET vector = excluded.vector, dim = excluded.dim`,
		memoryID, version, vector, dim, time.Now().UTC(),
	)
	if err != nil {
		return engerr.Wrap(engerr.InternalError, "save embedding", err)
	}

	if _, err := db.Exec(
		"UPDATE memory_nodes SET has_embedding = 1, embedding_model = ? WHERE id = ?", model, memoryID,
	); err != nil {
		return engerr.Wrap(engerr.InternalError, "flag node as embedded", err)
	}
	return nil
}

// GetLatestEmbedding returns the highest-version embedding stored for
// memoryID.
func GetLatestEmbedding(db *Database, memoryID string) (vector []byte, dim int, err error) {
	row := db.QueryRow(`
		SELECT vector, dim FROM embeddings WHERE memory_id = ? ORDER BY version DESC LIMIT 1`, memoryID)
	err = row.Scan(&vector, &dim)
	if err == sql.ErrNoRows {
		return nil, 0, engerr.NotFoundf("no embedding for memory %q", memoryID)
	}
	if err != nil {
		return nil, 0, engerr.Wrap(engerr.InternalError, "get latest embedding", err)
	}
	return vector, dim, nil
}

// AllEmbeddings returns the latest embedding for every node that has one,
// used to rebuild the in-process vector index at startup.
func AllEmbeddings(db *Database) (map[string][]byte, map[string]int, error) {
	rows, err := db.Query(`
		SELECT e.memory_id, e.vector, e.dim FROM embeddings e
		INNER JOIN (SELECT memory_id, MAX(version) AS v FROM embeddings GROUP BY memory_id) latest
			ON e.memory_id = latest.memory_id AND e.version = latest.v`)
	if err != nil {
		return nil, nil, engerr.Wrap(engerr.InternalError, "list all embeddings", err)
	}
	defer rows.Close()

	vectors := make(map[string][]byte)
	dims := make(map[string]int)
	for rows.Next() {
		var id string
		var v []byte
		var dim int
		if err := rows.Scan(&id, &v, &dim); err != nil {
			return nil, nil, engerr.Wrap(engerr.InternalError, "scan embedding", err)
		}
		vectors[id] = v
		dims[id] = dim
	}
	return vectors, dims, rows.Err()
}
