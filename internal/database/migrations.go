package database

import (
	"database/sql"
	"strings"

	"github.com/engramhq/engram/internal/engerr"
)

// Migration is a named, versioned unit of DDL. Reapplying a migration is
// forbidden, schema_version is the sole source of truth.
type Migration struct {
	Version     int
	Description string
	Statements  []string
}

// Migrations lists every migration beyond the CoreSchema (version 1,
// applied directly by InitSchema). Add future migrations to this slice;
// never renumber or remove an entry once released.
var Migrations = []Migration{
	{
		Version:     2,
		Description: "cache the timestamp retention_strength was last recomputed at, for staleness audits of the cached retrievability",
		Statements: []string{
			`ALTER TABLE memory_nodes ADD COLUMN retention_computed_at TIMESTAMP`,
		},
	},
}

// RunMigrations applies every migration whose version is greater than the
// database's current schema version, each inside its own transaction. A
// failed migration aborts the whole process ("any error aborts
// the transaction and the entire process refuses to serve requests").
func RunMigrations(db *sql.DB) error {
	var current int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current)
	if err != nil {
		return engerr.Wrap(engerr.InternalError, "read current schema version", err)
	}

	for _, m := range Migrations {
		if m.Version <= current {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return engerr.Wrap(engerr.InternalError, "apply migration", err)
		}
		log.Info("migration applied", "version", m.Version, "description", m.Description)
	}

	return nil
}

func applyMigration(db *sql.DB, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}

	for _, stmt := range m.Statements {
		if _, err := tx.Exec(stmt); err != nil {
			// ALTER TABLE ... ADD COLUMN on a column that already exists is
			// the one case treated as idempotent noise rather than failure,
			// since InitSchema and RunMigrations may race on first boot.
			if isDuplicateColumnError(err) {
				log.Debug("migration statement already applied", "version", m.Version, "error", err)
				continue
			}
			tx.Rollback()
			return err
		}
	}

	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.Version); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

func isDuplicateColumnError(err error) bool {
	return strings.Contains(err.Error(), "duplicate column name")
}
