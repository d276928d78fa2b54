// Package config loads and validates engram's layered YAML configuration:
// storage location, API binding, FSRS weights, retrieval and ingest-gate
// thresholds, consolidation triggers, and external-service endpoints.
// Hot-reloadable settings propagate through an atomically swapped
// Snapshot.
package config
