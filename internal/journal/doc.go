// Package journal records every frame the relay accepts or transmits in the
// SQLite traffic table, for operators to inspect through GET /api/journal.
//
// The journal is optional and best-effort: callers log Record errors and
// carry on. Entries older than database.retention_hours are deleted by
// RunPruner.
package journal
