package keywordindex

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/engramhq/engram/internal/database"
	"github.com/engramhq/engram/internal/engerr"
)

func newTestDB(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "engram-test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return db
}

func mustCreate(t *testing.T, db *database.Database, content string) *database.MemoryNode {
	t.Helper()
	n := &database.MemoryNode{Content: content, NodeType: "fact"}
	if err := database.CreateMemoryNode(db, n); err != nil {
		t.Fatalf("create: %v", err)
	}
	return n
}

func TestSearchFindsStemmedTerms(t *testing.T) {
	db := newTestDB(t)
	n := mustCreate(t, db, "The mitochondrion is the powerhouse of the cell")
	mustCreate(t, db, "Unrelated content about sailing boats")

	// Porter stemming folds "cells" onto "cell".
	hits, err := Search(db, "cells", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].MemoryID != n.ID {
		t.Errorf("hits = %+v, want single hit for the cell fact", hits)
	}
	if hits[0].Score <= 0 {
		t.Errorf("score = %v, want > 0", hits[0].Score)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	db := newTestDB(t)
	_, err := Search(db, "   ", 10)
	if !errors.Is(err, engerr.ErrInvalidInput) {
		t.Errorf("empty query: err = %v, want InvalidInput", err)
	}
}

func TestEscapeQueryBlocksInjection(t *testing.T) {
	db := newTestDB(t)
	mustCreate(t, db, "plain content here")

	// FTS5 syntax in the query must not error out or match everything.
	for _, q := range []string{`"unclosed`, `a OR b`, `col:value`, `NEAR(x y)`} {
		if _, err := Search(db, q, 10); err != nil {
			t.Errorf("query %q should be survivable, got %v", q, err)
		}
	}
}

func TestEscapeQueryQuotesTerms(t *testing.T) {
	got := EscapeQuery(`hello "world" OR`)
	// FTS5 doubles embedded quotes rather than backslash-escaping.
	want := `"hello" """world""" "OR"`
	if got != want {
		t.Errorf("EscapeQuery = %s, want %s", got, want)
	}
}
