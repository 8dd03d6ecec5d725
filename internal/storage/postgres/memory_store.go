// Package postgres provides the PostgreSQL + pgvector implementation of the
// storage interfaces. Vector similarity search runs server-side with tier
// windows and thresholds pushed into SQL, which keeps the read path to one
// round trip per query vector.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/pathwise/engram/internal/storage"
	"github.com/pathwise/engram/pkg/types"
)

// MemoryStore implements storage.Store using PostgreSQL with pgvector.
type MemoryStore struct {
	db *sql.DB
}

// Compile-time assertion.
var _ storage.Store = (*MemoryStore)(nil)

// NewMemoryStore opens a PostgreSQL memory store. The pgvector extension is
// required: without a server-side vector primitive this backend cannot
// honor the search contract, so a missing extension is a startup error
// (deployments without pgvector use the sqlite backend instead).
func NewMemoryStore(dsn string) (*MemoryStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to ping database: %w", err)
	}

	if _, err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: pgvector extension unavailable: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to apply schema: %w", err)
	}

	return &MemoryStore{db: db}, nil
}

// memorySelectColumns is the canonical SELECT column list for memory_items.
// It must match the scan order in scanItemRow.
const memorySelectColumns = `
	id, owner_id, content, category, confidence, importance_score,
	embedding, task_context, last_accessed_at, access_count, merged_from,
	superseded_by, compression_status, created_at, updated_at, version
`

// Insert creates a new memory item with version 1.
func (s *MemoryStore) Insert(ctx context.Context, item *types.MemoryItem) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	mergedFrom, err := json.Marshal(nonNil(item.MergedFrom))
	if err != nil {
		return fmt.Errorf("postgres: marshal merged_from: %w", err)
	}

	if item.CompressionStatus == "" {
		item.CompressionStatus = types.StatusActive
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	item.Version = 1

	const insertSQL = `
		INSERT INTO memory_items (
			id, owner_id, content, category, confidence, importance_score,
			embedding, task_context, last_accessed_at, access_count,
			merged_from, superseded_by, compression_status,
			created_at, updated_at, version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`
	_, err = s.db.ExecContext(ctx, insertSQL,
		item.ID, item.OwnerID, item.Content, string(item.Category),
		item.Confidence, item.ImportanceScore,
		embeddingValue(item.Embedding), item.TaskContext,
		nullableTime(item.LastAccessedAt), item.AccessCount,
		string(mergedFrom), item.SupersededBy, string(item.CompressionStatus),
		item.CreatedAt, item.UpdatedAt, item.Version,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert memory item %s: %w", item.ID, err)
	}
	return nil
}

// Get retrieves one item by owner and id.
func (s *MemoryStore) Get(ctx context.Context, ownerID, id string) (*types.MemoryItem, error) {
	const querySQL = `
		SELECT ` + memorySelectColumns + `
		FROM memory_items
		WHERE owner_id = $1 AND id = $2
	`
	row := s.db.QueryRowContext(ctx, querySQL, ownerID, id)
	item, err := scanItemRow(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get memory item %s: %w", id, err)
	}
	return item, nil
}

// Update rewrites a mutable item guarded by expectedVersion (compare-and-swap).
func (s *MemoryStore) Update(ctx context.Context, item *types.MemoryItem, expectedVersion int) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	mergedFrom, err := json.Marshal(nonNil(item.MergedFrom))
	if err != nil {
		return fmt.Errorf("postgres: marshal merged_from: %w", err)
	}

	now := time.Now().UTC()
	const updateSQL = `
		UPDATE memory_items
		SET content = $1, category = $2, confidence = $3,
		    importance_score = $4, embedding = $5, merged_from = $6,
		    superseded_by = $7, compression_status = $8,
		    updated_at = $9, version = version + 1
		WHERE owner_id = $10 AND id = $11 AND version = $12
	`
	result, err := s.db.ExecContext(ctx, updateSQL,
		item.Content, string(item.Category), item.Confidence,
		item.ImportanceScore, embeddingValue(item.Embedding), string(mergedFrom),
		item.SupersededBy, string(item.CompressionStatus),
		now, item.OwnerID, item.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("postgres: update memory item %s: %w", item.ID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: update rows affected: %w", err)
	}
	if n == 0 {
		// Distinguish a stale version from a missing row.
		if _, getErr := s.Get(ctx, item.OwnerID, item.ID); getErr != nil {
			return getErr
		}
		return storage.ErrVersionConflict
	}

	item.UpdatedAt = now
	item.Version = expectedVersion + 1
	return nil
}

// SetStatus transitions an item's compression status.
func (s *MemoryStore) SetStatus(ctx context.Context, ownerID, id string, status types.CompressionStatus, supersededBy string) error {
	if !types.IsValidCompressionStatus(status) {
		return fmt.Errorf("%w: unknown compression status %q", storage.ErrInvalidInput, status)
	}

	const updateSQL = `
		UPDATE memory_items
		SET compression_status = $1,
		    superseded_by = CASE WHEN $2 <> '' THEN $2 ELSE superseded_by END,
		    updated_at = NOW()
		WHERE owner_id = $3 AND id = $4
	`
	result, err := s.db.ExecContext(ctx, updateSQL, string(status), supersededBy, ownerID, id)
	if err != nil {
		return fmt.Errorf("postgres: set status for %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// SetImportance overwrites an item's importance score.
func (s *MemoryStore) SetImportance(ctx context.Context, ownerID, id string, score float64) error {
	const updateSQL = `
		UPDATE memory_items
		SET importance_score = $1, updated_at = NOW()
		WHERE owner_id = $2 AND id = $3
	`
	result, err := s.db.ExecContext(ctx, updateSQL, types.Clamp01(score), ownerID, id)
	if err != nil {
		return fmt.Errorf("postgres: set importance for %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Delete hard-deletes an item.
func (s *MemoryStore) Delete(ctx context.Context, ownerID, id string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM memory_items WHERE owner_id = $1 AND id = $2`, ownerID, id)
	if err != nil {
		return fmt.Errorf("postgres: delete memory item %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// TouchAccess marks items as accessed and applies the small capped
// importance boost for corroborated usefulness. Missing ids are ignored.
func (s *MemoryStore) TouchAccess(ctx context.Context, ownerID string, ids []string, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	const updateSQL = `
		UPDATE memory_items
		SET last_accessed_at = $1,
		    access_count = access_count + 1,
		    importance_score = LEAST(1.0, importance_score + 0.01)
		WHERE owner_id = $2 AND id = ANY($3)
	`
	if _, err := s.db.ExecContext(ctx, updateSQL, now.UTC(), ownerID, pq.Array(ids)); err != nil {
		return fmt.Errorf("postgres: touch access: %w", err)
	}
	return nil
}

// ListActiveByCategory returns active items for one owner and category,
// oldest first.
func (s *MemoryStore) ListActiveByCategory(ctx context.Context, ownerID string, category types.Category) ([]*types.MemoryItem, error) {
	const querySQL = `
		SELECT ` + memorySelectColumns + `
		FROM memory_items
		WHERE owner_id = $1 AND category = $2 AND compression_status = 'active'
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, querySQL, ownerID, string(category))
	if err != nil {
		return nil, fmt.Errorf("postgres: list by category: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanItemRows(rows)
}

// ListCompactionCandidates returns aging low-importance active items,
// lowest importance first.
func (s *MemoryStore) ListCompactionCandidates(ctx context.Context, ownerID string, filter storage.CandidateFilter) ([]*types.MemoryItem, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	const querySQL = `
		SELECT ` + memorySelectColumns + `
		FROM memory_items
		WHERE owner_id = $1
		  AND compression_status = 'active'
		  AND importance_score < $2
		  AND created_at <= NOW() - make_interval(days => $3)
		ORDER BY importance_score ASC
		LIMIT $4
	`
	rows, err := s.db.QueryContext(ctx, querySQL, ownerID, filter.MaxImportance, filter.MinAgeDays, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list compaction candidates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanItemRows(rows)
}

// ListOwners returns owners ordered by least-recently-updated first.
func (s *MemoryStore) ListOwners(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	const querySQL = `
		SELECT owner_id
		FROM memory_items
		GROUP BY owner_id
		ORDER BY MAX(updated_at) ASC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, querySQL, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list owners: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("postgres: scan owner: %w", err)
		}
		owners = append(owners, owner)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows error: %w", err)
	}
	return owners, nil
}

// Stats returns per-status and per-category counts for one owner.
func (s *MemoryStore) Stats(ctx context.Context, ownerID string) (*storage.OwnerStats, error) {
	stats := &storage.OwnerStats{
		ByStatus:   make(map[types.CompressionStatus]int),
		ByCategory: make(map[types.Category]int),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT compression_status, category, COUNT(*)
		FROM memory_items
		WHERE owner_id = $1
		GROUP BY compression_status, category
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("postgres: stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var status, category string
		var count int
		if err := rows.Scan(&status, &category, &count); err != nil {
			return nil, fmt.Errorf("postgres: scan stats: %w", err)
		}
		stats.ByStatus[types.CompressionStatus(status)] += count
		if types.CompressionStatus(status) == types.StatusActive {
			stats.ByCategory[types.Category(category)] += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows error: %w", err)
	}
	return stats, nil
}

// Ping verifies the database is reachable.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection pool.
func (s *MemoryStore) Close() error {
	return s.db.Close()
}

// embeddingValue converts an embedding slice to a driver value:
// SQL NULL for absent embeddings, a pgvector value otherwise.
func embeddingValue(embedding []float32) interface{} {
	if len(embedding) == 0 {
		return nil
	}
	return pgvector.NewVector(embedding)
}

// nonNil normalizes a nil slice to an empty one so merged_from is always a
// JSON array, never JSON null.
func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func nullableTime(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanItemRow scans a single row in memorySelectColumns order.
func scanItemRow(row rowScanner) (*types.MemoryItem, error) {
	var item types.MemoryItem
	var category, status string
	var mergedFromJSON string
	var embedding []byte
	var lastAccessedAt sql.NullTime

	err := row.Scan(
		&item.ID,
		&item.OwnerID,
		&item.Content,
		&category,
		&item.Confidence,
		&item.ImportanceScore,
		&embedding,
		&item.TaskContext,
		&lastAccessedAt,
		&item.AccessCount,
		&mergedFromJSON,
		&item.SupersededBy,
		&status,
		&item.CreatedAt,
		&item.UpdatedAt,
		&item.Version,
	)
	if err != nil {
		return nil, err
	}

	item.Category = types.Category(category)
	item.CompressionStatus = types.CompressionStatus(status)
	// pgvector's text form is a bracketed number list, which parses as JSON.
	if len(embedding) > 0 {
		if err := json.Unmarshal(embedding, &item.Embedding); err != nil {
			return nil, fmt.Errorf("unmarshal embedding: %w", err)
		}
	}
	if lastAccessedAt.Valid {
		t := lastAccessedAt.Time
		item.LastAccessedAt = &t
	}
	if mergedFromJSON != "" {
		if err := json.Unmarshal([]byte(mergedFromJSON), &item.MergedFrom); err != nil {
			return nil, fmt.Errorf("unmarshal merged_from: %w", err)
		}
	}
	return &item, nil
}

// scanItemRows reads all rows into a slice.
func scanItemRows(rows *sql.Rows) ([]*types.MemoryItem, error) {
	var items []*types.MemoryItem
	for rows.Next() {
		item, err := scanItemRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan memory item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows error: %w", err)
	}
	return items, nil
}
