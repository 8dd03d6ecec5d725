package postgres

// Schema is the base schema for the postgres backend. All statements are
// idempotent so the schema can be re-applied on every startup. The embedding
// column uses pgvector's vector type with the engine-wide 1536 dimensionality.
const Schema = `
CREATE TABLE IF NOT EXISTS memory_items (
	id                 TEXT PRIMARY KEY,
	owner_id           TEXT NOT NULL,
	content            TEXT NOT NULL,
	category           TEXT NOT NULL,
	confidence         DOUBLE PRECISION NOT NULL DEFAULT 0.3,
	importance_score   DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	embedding          vector(1536),
	task_context       TEXT NOT NULL DEFAULT '',
	last_accessed_at   TIMESTAMPTZ,
	access_count       INTEGER NOT NULL DEFAULT 0,
	merged_from        JSONB NOT NULL DEFAULT '[]'::jsonb,
	superseded_by      TEXT NOT NULL DEFAULT '',
	compression_status TEXT NOT NULL DEFAULT 'active',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	version            INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_memory_items_owner_status
	ON memory_items (owner_id, compression_status);

CREATE INDEX IF NOT EXISTS idx_memory_items_owner_category
	ON memory_items (owner_id, category) WHERE compression_status = 'active';

CREATE INDEX IF NOT EXISTS idx_memory_items_owner_importance
	ON memory_items (owner_id, importance_score) WHERE compression_status = 'active';

CREATE INDEX IF NOT EXISTS idx_memory_items_embedding_cosine
	ON memory_items USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
`
