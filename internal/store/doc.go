// Package store persists per-session handler state.
//
// # Model
//
// A session record is a JSON object mapping component name to that
// component's state. Every save overwrites the whole record; loads restore
// only the components the caller passes in.
//
//	{"memory": {"content": [...]}, "prefs": {"lang": "en"}}
//
// # Backends
//
//   - FileBackend: {save_dir}/{session_id}.json, written atomically
//   - SQLBackend: one row per session over modernc.org/sqlite, mattn/go-sqlite3, or pgx
//   - RedisBackend: {prefix}{session_id} with optional expiry
//   - MemoryBackend: process-local, for tests
//
// New selects a backend from config.SessionConfig and wraps it in Sessions,
// which implements Store.
package store
