// Package sqlite provides the embedded SQLite implementation of the storage
// interfaces. SQLite has no server-side vector primitive, so similarity
// search loads the owner's tier slice and computes cosine similarity in
// process, the degraded single-node path. Timestamps are stored as unix
// seconds and embeddings as JSON arrays.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/pathwise/engram/internal/storage"
	"github.com/pathwise/engram/pkg/types"
)

// MemoryStore implements storage.Store using SQLite.
type MemoryStore struct {
	db *sql.DB
}

// Compile-time assertion.
var _ storage.Store = (*MemoryStore)(nil)

// NewMemoryStore opens a SQLite memory store at the given path and applies
// the schema. SQLite supports one concurrent writer; a single open connection
// serialises writes and avoids SQLITE_BUSY under concurrent load, while WAL
// mode lets readers proceed without blocking the writer.
func NewMemoryStore(path string) (*MemoryStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to apply schema: %w", err)
	}

	return &MemoryStore{db: db}, nil
}

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
		return fmt.Errorf("sqlite: marshal merged_from: %w", err)
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
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`
	_, err = s.db.ExecContext(ctx, insertSQL,
		item.ID, item.OwnerID, item.Content, string(item.Category),
		item.Confidence, item.ImportanceScore,
		embeddingJSON(item.Embedding), item.TaskContext,
		unixOrNil(item.LastAccessedAt), item.AccessCount,
		string(mergedFrom), item.SupersededBy, string(item.CompressionStatus),
		item.CreatedAt.Unix(), item.UpdatedAt.Unix(), item.Version,
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert memory item %s: %w", item.ID, err)
	}
	return nil
}

// Get retrieves one item by owner and id.
func (s *MemoryStore) Get(ctx context.Context, ownerID, id string) (*types.MemoryItem, error) {
	const querySQL = `
		SELECT ` + memorySelectColumns + `
		FROM memory_items
		WHERE owner_id = ? AND id = ?
	`
	row := s.db.QueryRowContext(ctx, querySQL, ownerID, id)
	item, err := scanItemRow(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get memory item %s: %w", id, err)
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
		return fmt.Errorf("sqlite: marshal merged_from: %w", err)
	}

	now := time.Now().UTC()
	const updateSQL = `
		UPDATE memory_items
		SET content = ?, category = ?, confidence = ?,
		    importance_score = ?, embedding = ?, merged_from = ?,
		    superseded_by = ?, compression_status = ?,
		    updated_at = ?, version = version + 1
		WHERE owner_id = ? AND id = ? AND version = ?
	`
	result, err := s.db.ExecContext(ctx, updateSQL,
		item.Content, string(item.Category), item.Confidence,
		item.ImportanceScore, embeddingJSON(item.Embedding), string(mergedFrom),
		item.SupersededBy, string(item.CompressionStatus),
		now.Unix(), item.OwnerID, item.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update memory item %s: %w", item.ID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: update rows affected: %w", err)
	}
	if n == 0 {
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
		SET compression_status = ?,
		    superseded_by = CASE WHEN ? <> '' THEN ? ELSE superseded_by END,
		    updated_at = ?
		WHERE owner_id = ? AND id = ?
	`
	result, err := s.db.ExecContext(ctx, updateSQL,
		string(status), supersededBy, supersededBy, time.Now().UTC().Unix(), ownerID, id)
	if err != nil {
		return fmt.Errorf("sqlite: set status for %s: %w", id, err)
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
		SET importance_score = ?, updated_at = ?
		WHERE owner_id = ? AND id = ?
	`
	result, err := s.db.ExecContext(ctx, updateSQL,
		types.Clamp01(score), time.Now().UTC().Unix(), ownerID, id)
	if err != nil {
		return fmt.Errorf("sqlite: set importance for %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Delete hard-deletes an item.
func (s *MemoryStore) Delete(ctx context.Context, ownerID, id string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM memory_items WHERE owner_id = ? AND id = ?`, ownerID, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete memory item %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// TouchAccess marks items as accessed and applies the small capped
// importance boost. Missing ids are ignored.
func (s *MemoryStore) TouchAccess(ctx context.Context, ownerID string, ids []string, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	updateSQL := fmt.Sprintf(`
		UPDATE memory_items
		SET last_accessed_at = ?,
		    access_count = access_count + 1,
		    importance_score = MIN(1.0, importance_score + 0.01)
		WHERE owner_id = ? AND id IN (%s)
	`, placeholders)

	args := make([]interface{}, 0, len(ids)+2)
	args = append(args, now.UTC().Unix(), ownerID)
	for _, id := range ids {
		args = append(args, id)
	}

	if _, err := s.db.ExecContext(ctx, updateSQL, args...); err != nil {
		return fmt.Errorf("sqlite: touch access: %w", err)
	}
	return nil
}

// ListActiveByCategory returns active items for one owner and category,
// oldest first.
func (s *MemoryStore) ListActiveByCategory(ctx context.Context, ownerID string, category types.Category) ([]*types.MemoryItem, error) {
	const querySQL = `
		SELECT ` + memorySelectColumns + `
		FROM memory_items
		WHERE owner_id = ? AND category = ? AND compression_status = 'active'
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, querySQL, ownerID, string(category))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list by category: %w", err)
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
	cutoff := time.Now().UTC().AddDate(0, 0, -filter.MinAgeDays).Unix()

	const querySQL = `
		SELECT ` + memorySelectColumns + `
		FROM memory_items
		WHERE owner_id = ?
		  AND compression_status = 'active'
		  AND importance_score < ?
		  AND created_at <= ?
		ORDER BY importance_score ASC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, querySQL, ownerID, filter.MaxImportance, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list compaction candidates: %w", err)
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
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, querySQL, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list owners: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("sqlite: scan owner: %w", err)
		}
		owners = append(owners, owner)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: rows error: %w", err)
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
		WHERE owner_id = ?
		GROUP BY compression_status, category
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var status, category string
		var count int
		if err := rows.Scan(&status, &category, &count); err != nil {
			return nil, fmt.Errorf("sqlite: scan stats: %w", err)
		}
		stats.ByStatus[types.CompressionStatus(status)] += count
		if types.CompressionStatus(status) == types.StatusActive {
			stats.ByCategory[types.Category(category)] += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: rows error: %w", err)
	}
	return stats, nil
}

// Ping verifies the database is reachable.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *MemoryStore) Close() error {
	return s.db.Close()
}

// embeddingJSON converts an embedding to its stored form: SQL NULL when
// absent, a JSON array otherwise.
func embeddingJSON(embedding []float32) interface{} {
	if len(embedding) == 0 {
		return nil
	}
	data, err := json.Marshal(embedding)
	if err != nil {
		return nil
	}
	return string(data)
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func unixOrNil(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Unix()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanItemRow scans a single row in memorySelectColumns order.
func scanItemRow(row rowScanner) (*types.MemoryItem, error) {
	var item types.MemoryItem
	var category, status, mergedFromJSON string
	var embedding sql.NullString
	var lastAccessedAt sql.NullInt64
	var createdAt, updatedAt int64

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
		&createdAt,
		&updatedAt,
		&item.Version,
	)
	if err != nil {
		return nil, err
	}

	item.Category = types.Category(category)
	item.CompressionStatus = types.CompressionStatus(status)
	item.CreatedAt = time.Unix(createdAt, 0).UTC()
	item.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if lastAccessedAt.Valid {
		t := time.Unix(lastAccessedAt.Int64, 0).UTC()
		item.LastAccessedAt = &t
	}
	if embedding.Valid && embedding.String != "" {
		if err := json.Unmarshal([]byte(embedding.String), &item.Embedding); err != nil {
			return nil, fmt.Errorf("unmarshal embedding: %w", err)
		}
	}
	if mergedFromJSON != "" {
		if err := json.Unmarshal([]byte(mergedFromJSON), &item.MergedFrom); err != nil {
			return nil, fmt.Errorf("unmarshal merged_from: %w", err)
		}
	}
	return &item, nil
}

func scanItemRows(rows *sql.Rows) ([]*types.MemoryItem, error) {
	var items []*types.MemoryItem
	for rows.Next() {
		item, err := scanItemRow(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan memory item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: rows error: %w", err)
	}
	return items, nil
}
