package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/engramhq/engram/internal/engerr"
	"github.com/engramhq/engram/internal/logging"
)

var log = logging.GetLogger("database")

// CurrentSchemaVersion is the schema version InitSchema records for the
// core schema. Later versions are applied by RunMigrations; nothing
// compares the on-disk version against this constant.
const CurrentSchemaVersion = 1

// Database wraps a single SQLite connection pool pinned to one writer.
// Spec §5: "single writer, many logical readers"; mu serialises mutating
// operations while WAL journaling lets reads proceed concurrently.
type Database struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// Open creates or opens the database file at path, enabling WAL journaling,
// foreign keys, and an 8KiB page size.
func Open(path string) (*Database, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, engerr.Wrap(engerr.InternalError, "create database directory", err)
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL", path)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, engerr.Wrap(engerr.InternalError, "open sqlite database", err)
	}

	// A single writer enforces write serialisation at the
	// connection-pool level rather than relying on callers to coordinate.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if _, err := sqlDB.Exec("PRAGMA page_size = 8192"); err != nil {
		log.Warn("failed to set page_size pragma", "error", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, engerr.Wrap(engerr.InternalError, "ping sqlite database", err)
	}

	return &Database{db: sqlDB, path: path}, nil
}

// InitSchema applies the core schema and FTS5 index if they are not
// already present, then records schema_version 1.
func (d *Database) InitSchema() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.tableExists("memory_nodes") {
		log.Debug("schema already initialized")
		return nil
	}

	tx, err := d.db.Begin()
	if err != nil {
		return engerr.Wrap(engerr.InternalError, "begin schema transaction", err)
	}

	if _, err := tx.Exec(CoreSchema); err != nil {
		tx.Rollback()
		return engerr.Wrap(engerr.InternalError, "apply core schema", err)
	}

	if _, err := tx.Exec(FTS5Schema); err != nil {
		tx.Rollback()
		return engerr.Wrap(engerr.InternalError, "apply fts5 schema", err)
	}

	if _, err := tx.Exec(
		"INSERT INTO schema_version (version) VALUES (?)", CurrentSchemaVersion,
	); err != nil {
		tx.Rollback()
		return engerr.Wrap(engerr.InternalError, "record schema version", err)
	}

	if err := tx.Commit(); err != nil {
		return engerr.Wrap(engerr.InternalError, "commit schema transaction", err)
	}

	log.Info("schema initialized", "version", CurrentSchemaVersion)
	return nil
}

// Close closes the underlying connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// DB returns the underlying *sql.DB for callers (such as RunMigrations)
// that need direct transaction control.
func (d *Database) DB() *sql.DB {
	return d.db
}

// Path returns the database file path.
func (d *Database) Path() string {
	return d.path
}

// Exec runs a write statement, serialised against other writers.
func (d *Database) Exec(query string, args ...interface{}) (sql.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.Exec(query, args...)
}

// Query runs a read statement. Multiple readers may run concurrently under
// WAL, so only a read lock is held.
func (d *Database) Query(query string, args ...interface{}) (*sql.Rows, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.db.Query(query, args...)
}

// QueryRow runs a single-row read statement.
func (d *Database) QueryRow(query string, args ...interface{}) *sql.Row {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.db.QueryRow(query, args...)
}

// Begin starts a transaction on the pool's single connection; other
// statements wait for that connection until the caller commits or rolls
// back. Begin does not hold the database-level mutex across the
// transaction's lifetime so embedder
// and vector-index calls made between Begin and Commit do not block
// readers.
func (d *Database) Begin() (*sql.Tx, error) {
	return d.db.Begin()
}

// Lock/Unlock expose the writer-serialisation mutex directly for callers
// that need to wrap a multi-statement write with exec calls
// interleaved with Go logic, without going through a single Exec call.
func (d *Database) Lock()    { d.mu.Lock() }
func (d *Database) Unlock()  { d.mu.Unlock() }
func (d *Database) RLock()   { d.mu.RLock() }
func (d *Database) RUnlock() { d.mu.RUnlock() }

func (d *Database) tableExists(name string) bool {
	var count int
	err := d.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&count)
	return err == nil && count > 0
}

// TableExists reports whether a table with the given name exists.
func (d *Database) TableExists(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.tableExists(name)
}

// GetSchemaVersion returns the highest applied schema version, or 0 if the
// schema_version table is empty or absent.
func (d *Database) GetSchemaVersion() (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.tableExists("schema_version") {
		return 0, nil
	}

	var version int
	err := d.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, engerr.Wrap(engerr.InternalError, "read schema version", err)
	}
	return version, nil
}

// CountRows returns the row count of table.
func (d *Database) CountRows(table string) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var count int
	err := d.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count)
	if err != nil {
		return 0, engerr.Wrap(engerr.InternalError, "count rows", err)
	}
	return count, nil
}

// Vacuum reclaims free pages. Intended for operator-triggered maintenance,
// not the hot path.
func (d *Database) Vacuum() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec("VACUUM")
	return err
}

// Checkpoint forces a WAL checkpoint, used before producing a backup copy
// of the database file; the copied file alone is a complete backup.
func (d *Database) Checkpoint() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// Stats summarises row counts across the core tables.
type Stats struct {
	NodeCount        int
	EmbeddingCount   int
	ConnectionCount  int
	IntentionCount   int
	TransitionCount  int
	SchemaVersion    int
	LastCheckpointAt time.Time
}

// GetStats returns a snapshot of core table sizes.
func (d *Database) GetStats() (*Stats, error) {
	nodes, err := d.CountRows("memory_nodes")
	if err != nil {
		return nil, err
	}
	embeddings, err := d.CountRows("embeddings")
	if err != nil {
		return nil, err
	}
	connections, err := d.CountRows("connections")
	if err != nil {
		return nil, err
	}
	intentions, err := d.CountRows("intentions")
	if err != nil {
		return nil, err
	}
	transitions, err := d.CountRows("state_transitions")
	if err != nil {
		return nil, err
	}
	version, err := d.GetSchemaVersion()
	if err != nil {
		return nil, err
	}

	return &Stats{
		NodeCount:       nodes,
		EmbeddingCount:  embeddings,
		ConnectionCount: connections,
		IntentionCount:  intentions,
		TransitionCount: transitions,
		SchemaVersion:   version,
	}, nil
}
