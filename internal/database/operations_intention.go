package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/engramhq/engram/internal/engerr"
)

// Intention is a prospective-memory reminder the user asked to be
// resurfaced later.
type Intention struct {
	ID            string
	Content       string
	TriggerType   string
	TriggerValue  string
	Priority      string
	Status        string
	Deadline      *time.Time
	SnoozeUntil   *time.Time
	CreatedAt     time.Time
	ReminderCount int
}

// SaveIntention inserts a new intention, assigning an id and defaults if
// absent.
func SaveIntention(db *Database, in *Intention) error {
	if in.Content == "" {
		return engerr.Invalid("content is required")
	}
	if in.TriggerType != "time" && in.TriggerType != "duration" && in.TriggerType != "context" {
		return engerr.Invalid("invalid trigger_type %q", in.TriggerType)
	}
	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	if in.Priority == "" {
		in.Priority = "normal"
	}
	if in.Status == "" {
		in.Status = "active"
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(`
		INSERT INTO intentions (id, content, trigger_type, trigger_value, priority, status, deadline, snooze_until, created_at, reminder_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.Content, in.TriggerType, in.TriggerValue, in.Priority, in.Status,
		nullTime(in.Deadline), nullTime(in.SnoozeUntil), in.CreatedAt, in.ReminderCount,
	)
	if err != nil {
		return engerr.Wrap(engerr.InternalError, "save intention", err)
	}
	return nil
}

// GetIntention fetches an intention by id.
func GetIntention(db *Database, id string) (*Intention, error) {
	row := db.QueryRow(`
		SELECT id, content, trigger_type, trigger_value, priority, status, deadline, snooze_until, created_at, reminder_count
		FROM intentions WHERE id = ?`, id)
	in, err := scanIntention(row)
	if err == sql.ErrNoRows {
		return nil, engerr.NotFoundf("intention %q not found", id)
	}
	if err != nil {
		return nil, engerr.Wrap(engerr.InternalError, "get intention", err)
	}
	return in, nil
}

func scanIntention(row rowScanner) (*Intention, error) {
	var in Intention
	var deadline, snoozeUntil sql.NullTime
	err := row.Scan(&in.ID, &in.Content, &in.TriggerType, &in.TriggerValue, &in.Priority,
		&in.Status, &deadline, &snoozeUntil, &in.CreatedAt, &in.ReminderCount)
	if err != nil {
		return nil, err
	}
	in.Deadline = fromNullTime(deadline)
	in.SnoozeUntil = fromNullTime(snoozeUntil)
	return &in, nil
}

// ListDueIntentions returns active or snoozed intentions whose deadline (if
// any) has passed and whose snooze window (if any) has elapsed, as of now,
// highest priority first.
func ListDueIntentions(db *Database, now time.Time) ([]*Intention, error) {
	rows, err := db.Query(`
		SELECT id, content, trigger_type, trigger_value, priority, status, deadline, snooze_until, created_at, reminder_count
		FROM intentions
		WHERE status IN ('active', 'snoozed')
		AND (deadline IS NULL OR deadline <= ?)
		AND (snooze_until IS NULL OR snooze_until <= ?)
		ORDER BY
			CASE priority WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'normal' THEN 2 ELSE 3 END,
			deadline ASC`, now, now)
	if err != nil {
		return nil, engerr.Wrap(engerr.InternalError, "list due intentions", err)
	}
	defer rows.Close()

	var out []*Intention
	for rows.Next() {
		in, err := scanIntention(rows)
		if err != nil {
			return nil, engerr.Wrap(engerr.InternalError, "scan intention", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// Snooze defers an intention's resurfacing until until and clears any
// deadline-based due state in the interim.
func Snooze(db *Database, id string, until time.Time) error {
	res, err := db.Exec(
		"UPDATE intentions SET status = 'snoozed', snooze_until = ? WHERE id = ? AND status NOT IN ('fulfilled', 'cancelled', 'expired')",
		until, id,
	)
	if err != nil {
		return engerr.Wrap(engerr.InternalError, "snooze intention", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engerr.NotFoundf("intention %q not found or already closed", id)
	}
	return nil
}

// Fulfill marks an intention as satisfied, a terminal state.
func Fulfill(db *Database, id string) error {
	return setIntentionTerminalStatus(db, id, "fulfilled")
}

// Cancel marks an intention as withdrawn, a terminal state.
func Cancel(db *Database, id string) error {
	return setIntentionTerminalStatus(db, id, "cancelled")
}

// Expire marks an intention as having aged out unresolved, a terminal state.
func Expire(db *Database, id string) error {
	return setIntentionTerminalStatus(db, id, "expired")
}

func setIntentionTerminalStatus(db *Database, id, status string) error {
	res, err := db.Exec(
		"UPDATE intentions SET status = ? WHERE id = ? AND status NOT IN ('fulfilled', 'cancelled', 'expired')",
		status, id,
	)
	if err != nil {
		return engerr.Wrap(engerr.InternalError, "update intention status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engerr.NotFoundf("intention %q not found or already closed", id)
	}
	return nil
}

// BumpReminderCount increments reminder_count, called each time an active
// intention is surfaced to the user without being resolved.
func BumpReminderCount(db *Database, id string) error {
	_, err := db.Exec("UPDATE intentions SET reminder_count = reminder_count + 1 WHERE id = ?", id)
	if err != nil {
		return engerr.Wrap(engerr.InternalError, "bump reminder count", err)
	}
	return nil
}
