package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// sqliteBatchSize bounds the number of placeholders in one IN (...) clause.
const sqliteBatchSize = 500

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chunks (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	chunk_id      TEXT NOT NULL UNIQUE,
	content       TEXT NOT NULL,
	library       TEXT NOT NULL DEFAULT '',
	category      TEXT NOT NULL DEFAULT '',
	function_name TEXT NOT NULL DEFAULT '',
	title         TEXT NOT NULL DEFAULT '',
	metadata      TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_chunks_library ON chunks(lower(library));
CREATE INDEX IF NOT EXISTS idx_chunks_category ON chunks(lower(category));
CREATE TABLE IF NOT EXISTS state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// SQLiteStore is the metadata table and, optionally, the chunk corpus.
// Corpus order is the chunks.seq column, assigned on first insertion.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool

	// snap, once pinned, serves every read until Close.
	snap *sql.Tx

	// beforeCommit runs inside ReplaceChunks just before the commit (tests).
	beforeCommit func()
}

// OpenSQLiteStore opens (creating if needed) the database at path.
// Use ":memory:" for an in-memory store.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open(SQLiteDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: a single writer, and ":memory:" databases are per-connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// ErrSnapshotPinned is returned by writes on a store serving a pinned snapshot.
var ErrSnapshotPinned = errors.New("store is pinned to a read snapshot")

type sqlQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PinSnapshot freezes the store's view of the database: from now on every
// read sees the rows committed before the call, whatever other connections
// commit afterwards. Writes fail with ErrSnapshotPinned. Close releases the
// snapshot.
func (s *SQLiteStore) PinSnapshot(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.snap != nil {
		return nil
	}

	// database/sql rolls a transaction back when its context ends; the
	// snapshot lives until Close.
	tx, err := s.db.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return fmt.Errorf("begin snapshot: %w", err)
	}
	// SQLite takes the snapshot at the first read of a deferred transaction.
	var n int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&n); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("pin snapshot: %w", err)
	}
	s.snap = tx
	return nil
}

func (s *SQLiteStore) reader() sqlQuerier {
	if s.snap != nil {
		return s.snap
	}
	return s.db
}

// writable must be called with mu held.
func (s *SQLiteStore) writable() error {
	if s.closed {
		return ErrClosed
	}
	if s.snap != nil {
		return ErrSnapshotPinned
	}
	return nil
}

// Path returns the database path.
func (s *SQLiteStore) Path() string { return s.path }

// SelectChunkIDs implements MetadataStore.
func (s *SQLiteStore) SelectChunkIDs(ctx context.Context, p Predicates) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	where, args := buildPredicateClause(p)
	q := "SELECT chunk_id FROM chunks" + where + " ORDER BY seq"

	rows, err := s.reader().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select chunk ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chunk id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunk ids: %w", err)
	}
	return ids, nil
}

// buildPredicateClause renders predicates as a WHERE clause. Comparisons are
// on lowercased values; SQLite lower() folds ASCII only.
func buildPredicateClause(p Predicates) (string, []any) {
	var conds []string
	var args []any

	if p.Library != "" {
		conds = append(conds, "lower(library) = ?")
		args = append(args, strings.ToLower(p.Library))
	}
	if p.Category != "" {
		conds = append(conds, "lower(category) = ?")
		args = append(args, strings.ToLower(p.Category))
	}
	if p.FunctionNameContains != "" {
		conds = append(conds, `lower(function_name) LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(strings.ToLower(p.FunctionNameContains))+"%")
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// escapeLike escapes LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// SaveChunks implements MetadataStore. Existing IDs keep their corpus position.
func (s *SQLiteStore) SaveChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertChunks(ctx, tx, chunks); err != nil {
		return err
	}
	return tx.Commit()
}

// ReplaceChunks swaps the whole chunk table for chunks and writes state in a
// single transaction. Other connections see either the previous rows or the
// new ones, never an empty or partial table.
func (s *SQLiteStore) ReplaceChunks(ctx context.Context, chunks []*Chunk, state map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks"); err != nil {
		return fmt.Errorf("reset chunks: %w", err)
	}
	if err := upsertChunks(ctx, tx, chunks); err != nil {
		return err
	}
	for key, value := range state {
		if err := setStateTx(ctx, tx, key, value); err != nil {
			return err
		}
	}

	if s.beforeCommit != nil {
		s.beforeCommit()
	}
	return tx.Commit()
}

func upsertChunks(ctx context.Context, tx *sql.Tx, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (chunk_id, content, library, category, function_name, title, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			content = excluded.content,
			library = excluded.library,
			category = excluded.category,
			function_name = excluded.function_name,
			title = excluded.title,
			metadata = excluded.metadata`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, c := range chunks {
		if c == nil || c.ID == "" {
			return fmt.Errorf("cannot save chunk without id")
		}
		meta := c.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", c.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.Content, c.Library, c.Category, c.FunctionName, c.Title, string(metaJSON)); err != nil {
			return fmt.Errorf("upsert chunk %s: %w", c.ID, err)
		}
	}
	return nil
}

// PutChunks implements CorpusWriter.
func (s *SQLiteStore) PutChunks(ctx context.Context, chunks []*Chunk) error {
	return s.SaveChunks(ctx, chunks)
}

// Reset deletes every chunk. Corpus order restarts with the next insert.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM chunks"); err != nil {
		return fmt.Errorf("reset chunks: %w", err)
	}
	return nil
}

// Count implements MetadataStore.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	var n int
	if err := s.reader().QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

// GetState implements MetadataStore. Returns ErrNotFound for unknown keys.
func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", ErrClosed
	}
	var v string
	err := s.reader().QueryRowContext(ctx, "SELECT value FROM state WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get state %s: %w", key, err)
	}
	return v, nil
}

// SetState implements MetadataStore.
func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, setStateSQL, key, value); err != nil {
		return fmt.Errorf("set state %s: %w", key, err)
	}
	return nil
}

const setStateSQL = "INSERT INTO state (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value"

func setStateTx(ctx context.Context, tx *sql.Tx, key, value string) error {
	if _, err := tx.ExecContext(ctx, setStateSQL, key, value); err != nil {
		return fmt.Errorf("set state %s: %w", key, err)
	}
	return nil
}

// GetChunk implements Corpus.
func (s *SQLiteStore) GetChunk(ctx context.Context, id string) (*Chunk, error) {
	chunks, err := s.GetChunks(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, ErrNotFound
	}
	return chunks[0], nil
}

// GetChunks implements Corpus.
func (s *SQLiteStore) GetChunks(ctx context.Context, ids []string) ([]*Chunk, error) {
	if len(ids) == 0 {
		return []*Chunk{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	found := make(map[string]*Chunk, len(ids))
	for start := 0; start < len(ids); start += sqliteBatchSize {
		end := min(start+sqliteBatchSize, len(ids))
		batch := ids[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")
		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}

		rows, err := s.reader().QueryContext(ctx,
			"SELECT chunk_id, content, library, category, function_name, title, metadata FROM chunks WHERE chunk_id IN ("+placeholders+")",
			args...)
		if err != nil {
			return nil, fmt.Errorf("get chunks: %w", err)
		}
		err = scanChunks(rows, func(c *Chunk) error {
			found[c.ID] = c
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	out := make([]*Chunk, 0, len(found))
	for _, id := range ids {
		if c, ok := found[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// ForEach implements Corpus.
func (s *SQLiteStore) ForEach(ctx context.Context, fn func(*Chunk) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	rows, err := s.reader().QueryContext(ctx,
		"SELECT chunk_id, content, library, category, function_name, title, metadata FROM chunks ORDER BY seq")
	if err != nil {
		return fmt.Errorf("walk chunks: %w", err)
	}
	return scanChunks(rows, fn)
}

func scanChunks(rows *sql.Rows, fn func(*Chunk) error) error {
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		c := &Chunk{}
		var metaJSON string
		if err := rows.Scan(&c.ID, &c.Content, &c.Library, &c.Category, &c.FunctionName, &c.Title, &metaJSON); err != nil {
			return fmt.Errorf("scan chunk: %w", err)
		}
		if metaJSON != "" {
			if err := json.Unmarshal([]byte(metaJSON), &c.Metadata); err != nil {
				return fmt.Errorf("decode metadata for %s: %w", c.ID, err)
			}
		}
		if err := fn(c); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.snap != nil {
		_ = s.snap.Rollback()
		s.snap = nil
	}
	return s.db.Close()
}

var (
	_ MetadataStore = (*SQLiteStore)(nil)
	_ CorpusWriter  = (*SQLiteStore)(nil)
)
