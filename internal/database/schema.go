package database

// CoreSchema is the version-1 DDL for the relational store: memory nodes,
// their FSRS state, embeddings, connections, intentions, and the
// append-only audit tables. Applied inside a single transaction by
// Database.InitSchema / the Migrator.
const CoreSchema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS memory_nodes (
	id TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	node_type TEXT NOT NULL DEFAULT 'note'
		CHECK (node_type IN ('fact','concept','event','person','place','note','pattern','decision')),
	tags TEXT NOT NULL DEFAULT '[]',

	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	last_accessed TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	valid_from TIMESTAMP,
	valid_until TIMESTAMP,

	stability REAL NOT NULL DEFAULT 0,
	difficulty REAL NOT NULL DEFAULT 0,
	reps INTEGER NOT NULL DEFAULT 0,
	lapses INTEGER NOT NULL DEFAULT 0,
	learning_state TEXT NOT NULL DEFAULT 'new'
		CHECK (learning_state IN ('new','learning','review','relearning')),
	next_review TIMESTAMP,
	scheduled_days INTEGER NOT NULL DEFAULT 0,

	storage_strength REAL NOT NULL DEFAULT 0,
	retrieval_strength REAL NOT NULL DEFAULT 0,
	retention_strength REAL NOT NULL DEFAULT 0,

	sentiment_score REAL NOT NULL DEFAULT 0,
	sentiment_magnitude REAL NOT NULL DEFAULT 0,
	waking_tag INTEGER NOT NULL DEFAULT 0,
	waking_tag_at TIMESTAMP,

	times_retrieved INTEGER NOT NULL DEFAULT 0,
	times_useful INTEGER NOT NULL DEFAULT 0,

	source TEXT NOT NULL DEFAULT '',

	has_embedding INTEGER NOT NULL DEFAULT 0,
	embedding_model TEXT NOT NULL DEFAULT '',

	labile_until TIMESTAMP,
	row_version INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_memory_nodes_type ON memory_nodes(node_type);
CREATE INDEX IF NOT EXISTS idx_memory_nodes_next_review ON memory_nodes(next_review);
CREATE INDEX IF NOT EXISTS idx_memory_nodes_last_accessed ON memory_nodes(last_accessed);
CREATE INDEX IF NOT EXISTS idx_memory_nodes_created_at ON memory_nodes(created_at);
CREATE INDEX IF NOT EXISTS idx_memory_nodes_retention ON memory_nodes(retention_strength);

CREATE TABLE IF NOT EXISTS embeddings (
	memory_id TEXT NOT NULL REFERENCES memory_nodes(id) ON DELETE CASCADE,
	version INTEGER NOT NULL,
	vector BLOB NOT NULL,
	dim INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (memory_id, version)
);

CREATE TABLE IF NOT EXISTS connections (
	source_id TEXT NOT NULL REFERENCES memory_nodes(id) ON DELETE CASCADE,
	target_id TEXT NOT NULL REFERENCES memory_nodes(id) ON DELETE CASCADE,
	strength REAL NOT NULL DEFAULT 0.5 CHECK (strength >= 0 AND strength <= 1),
	link_type TEXT NOT NULL DEFAULT 'user_defined'
		CHECK (link_type IN ('semantic','temporal','causal','shared_concepts','complementary','cross_reference','pattern','user_defined','supersedes')),
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	last_activated TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	activation_count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (source_id, target_id)
);

CREATE INDEX IF NOT EXISTS idx_connections_target ON connections(target_id);
CREATE INDEX IF NOT EXISTS idx_connections_type ON connections(link_type);

CREATE TABLE IF NOT EXISTS intentions (
	id TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	trigger_type TEXT NOT NULL CHECK (trigger_type IN ('time','duration','context')),
	trigger_value TEXT NOT NULL DEFAULT '',
	priority TEXT NOT NULL DEFAULT 'normal' CHECK (priority IN ('low','normal','high','critical')),
	status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active','fulfilled','cancelled','snoozed','expired')),
	deadline TIMESTAMP,
	snooze_until TIMESTAMP,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	reminder_count INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_intentions_status ON intentions(status);
CREATE INDEX IF NOT EXISTS idx_intentions_deadline ON intentions(deadline);

-- Append-only audit tables. Rows here are never UPDATEd.
CREATE TABLE IF NOT EXISTS state_transitions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	memory_id TEXT NOT NULL,
	from_state TEXT NOT NULL,
	to_state TEXT NOT NULL,
	reason_kind TEXT NOT NULL,
	reason_detail TEXT NOT NULL DEFAULT '',
	timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_state_transitions_memory ON state_transitions(memory_id);
CREATE INDEX IF NOT EXISTS idx_state_transitions_timestamp ON state_transitions(timestamp);

CREATE TABLE IF NOT EXISTS consolidation_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at TIMESTAMP NOT NULL,
	finished_at TIMESTAMP NOT NULL,
	recomputed_count INTEGER NOT NULL DEFAULT 0,
	recompute_duration_ms INTEGER NOT NULL DEFAULT 0,
	merged_count INTEGER NOT NULL DEFAULT 0,
	dedup_duration_ms INTEGER NOT NULL DEFAULT 0,
	cache_rebuild_duration_ms INTEGER NOT NULL DEFAULT 0,
	pruned_connections INTEGER NOT NULL DEFAULT 0,
	prune_duration_ms INTEGER NOT NULL DEFAULT 0,
	phase_errors TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_consolidation_records_finished ON consolidation_records(finished_at);

CREATE TABLE IF NOT EXISTS dream_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	consolidation_id INTEGER NOT NULL REFERENCES consolidation_records(id),
	completed_at TIMESTAMP NOT NULL,
	nodes_processed INTEGER NOT NULL DEFAULT 0,
	merges INTEGER NOT NULL DEFAULT 0,
	connections_pruned INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_dream_records_completed ON dream_records(completed_at);
`

// FTS5Schema creates the keyword index as a standalone virtual table kept
// in lockstep with memory_nodes via triggers. The porter tokenizer gives
// Porter-stemmed tokenization without a separate Go dependency: it ships
// inside SQLite's FTS5 extension, reached through mattn/go-sqlite3's cgo
// build.
const FTS5Schema = `
CREATE VIRTUAL TABLE IF NOT EXISTS memory_nodes_fts USING fts5(
	id UNINDEXED,
	content,
	tags,
	tokenize = 'porter ascii'
);

CREATE TRIGGER IF NOT EXISTS memory_nodes_fts_insert AFTER INSERT ON memory_nodes
BEGIN
	INSERT INTO memory_nodes_fts(id, content, tags) VALUES (new.id, new.content, new.tags);
END;

CREATE TRIGGER IF NOT EXISTS memory_nodes_fts_delete AFTER DELETE ON memory_nodes
BEGIN
	DELETE FROM memory_nodes_fts WHERE id = old.id;
END;

CREATE TRIGGER IF NOT EXISTS memory_nodes_fts_update AFTER UPDATE ON memory_nodes
BEGIN
	DELETE FROM memory_nodes_fts WHERE id = old.id;
	INSERT INTO memory_nodes_fts(id, content, tags) VALUES (new.id, new.content, new.tags);
END;
`

// NodeTypes enumerates the valid MemoryNode.node_type values.
var NodeTypes = []string{"fact", "concept", "event", "person", "place", "note", "pattern", "decision"}

// LinkTypes enumerates the valid Connection.link_type values, including
// the "supersedes" kind the PE Ingest Gate attaches on correction.
var LinkTypes = []string{"semantic", "temporal", "causal", "shared_concepts", "complementary", "cross_reference", "pattern", "user_defined", "supersedes"}

// LearningStates enumerates the FSRS state machine's states.
var LearningStates = []string{"new", "learning", "review", "relearning"}

// IntentionPriorities enumerates Intention.priority values.
var IntentionPriorities = []string{"low", "normal", "high", "critical"}

// IntentionStatuses enumerates Intention.status values.
var IntentionStatuses = []string{"active", "fulfilled", "cancelled", "snoozed", "expired"}

// IsValidNodeType reports whether t is a recognised node_type.
func IsValidNodeType(t string) bool {
	for _, v := range NodeTypes {
		if v == t {
			return true
		}
	}
	return false
}

// IsValidLinkType reports whether t is a recognised link_type.
func IsValidLinkType(t string) bool {
	for _, v := range LinkTypes {
		if v == t {
			return true
		}
	}
	return false
}
