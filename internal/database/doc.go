// Package database provides the embedded SQLite storage layer: the
// Schema/Migrator, the Node Store's CRUD surface over memory nodes,
// embeddings, connections, and intentions, and the append-only audit
// tables (state transitions, consolidation records, dream records).
//
// Keyword search rides on a companion FTS5 virtual table kept in lockstep
// with memory_nodes by triggers defined in schema.go; vector search lives
// outside this package (internal/vectorindex) since embeddings are stored
// here only as opaque BLOBs.
package database
