package sqlite

// Schema is the base schema for the sqlite backend. Timestamps are unix
// seconds (INTEGER) and embeddings are JSON arrays stored as TEXT; SQLite
// has no native vector type, so similarity is computed in Go at query time.
const Schema = `
CREATE TABLE IF NOT EXISTS memory_items (
	id                 TEXT PRIMARY KEY,
	owner_id           TEXT NOT NULL,
	content            TEXT NOT NULL,
	category           TEXT NOT NULL,
	confidence         REAL NOT NULL DEFAULT 0.3,
	importance_score   REAL NOT NULL DEFAULT 0.5,
	embedding          TEXT,
	task_context       TEXT NOT NULL DEFAULT '',
	last_accessed_at   INTEGER,
	access_count       INTEGER NOT NULL DEFAULT 0,
	merged_from        TEXT NOT NULL DEFAULT '[]',
	superseded_by      TEXT NOT NULL DEFAULT '',
	compression_status TEXT NOT NULL DEFAULT 'active',
	created_at         INTEGER NOT NULL,
	updated_at         INTEGER NOT NULL,
	version            INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_memory_items_owner_status
	ON memory_items (owner_id, compression_status);

CREATE INDEX IF NOT EXISTS idx_memory_items_owner_category
	ON memory_items (owner_id, category);

CREATE INDEX IF NOT EXISTS idx_memory_items_owner_importance
	ON memory_items (owner_id, importance_score);
`
