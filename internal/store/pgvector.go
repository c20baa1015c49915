package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// PgVectorIndex implements VectorIndex on a PostgreSQL table with the pgvector extension.
type PgVectorIndex struct {
	db     *sql.DB
	config VectorConfig
	table  string
	count  atomic.Int64
}

// OpenPgVectorIndex connects to dsn and ensures the embeddings table exists.
func OpenPgVectorIndex(ctx context.Context, dsn string, cfg VectorConfig) (*PgVectorIndex, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pgvector: empty dsn")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("pgvector: dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.Metric == "" {
		cfg.Metric = MetricCosine
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("pgvector: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pgvector: ping: %w", err)
	}

	p := &PgVectorIndex{db: db, config: cfg, table: "chunk_embeddings"}
	if err := p.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := p.refreshCount(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

func (p *PgVectorIndex) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			chunk_id TEXT PRIMARY KEY,
			embedding vector(%d) NOT NULL
		)`, p.table, p.config.Dimensions),
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("pgvector: schema: %w", err)
		}
	}
	return nil
}

func (p *PgVectorIndex) refreshCount(ctx context.Context) error {
	var n int64
	if err := p.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, p.table)).Scan(&n); err != nil {
		return fmt.Errorf("pgvector: count: %w", err)
	}
	p.count.Store(n)
	return nil
}

// Add upserts vectors in one transaction.
func (p *PgVectorIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	for _, v := range vectors {
		if len(v) != p.config.Dimensions {
			return ErrDimensionMismatch{Expected: p.config.Dimensions, Got: len(v)}
		}
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pgvector: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (chunk_id, embedding) VALUES ($1, $2)
		 ON CONFLICT (chunk_id) DO UPDATE SET embedding = EXCLUDED.embedding`, p.table))
	if err != nil {
		return fmt.Errorf("pgvector: prepare: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, id := range ids {
		if _, err := stmt.ExecContext(ctx, id, pgvector.NewVector(vectors[i])); err != nil {
			return fmt.Errorf("pgvector: insert %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("pgvector: commit: %w", err)
	}
	return p.refreshCount(ctx)
}

// Prune deletes every vector whose chunk ID is not in keep.
func (p *PgVectorIndex) Prune(ctx context.Context, keep []string) error {
	var err error
	if len(keep) == 0 {
		// ANY of an empty or NULL array never matches; delete everything.
		_, err = p.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, p.table))
	} else {
		_, err = p.db.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE NOT (chunk_id = ANY($1))`, p.table),
			pq.Array(keep))
	}
	if err != nil {
		return fmt.Errorf("pgvector: prune: %w", err)
	}
	return p.refreshCount(ctx)
}

// Nearest orders by the pgvector distance operator matching the metric:
// <=> for cosine distance, <-> for euclidean.
func (p *PgVectorIndex) Nearest(ctx context.Context, embedding []float32, k int) ([]*VectorResult, error) {
	if len(embedding) != p.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: p.config.Dimensions, Got: len(embedding)}
	}
	if k <= 0 {
		return []*VectorResult{}, nil
	}

	op := "<=>"
	if p.config.Metric == MetricL2 {
		op = "<->"
	}

	rows, err := p.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT chunk_id, embedding %s $1 AS distance FROM %s ORDER BY distance LIMIT $2`, op, p.table),
		pgvector.NewVector(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("pgvector: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]*VectorResult, 0, k)
	for rows.Next() {
		var id string
		var dist float64
		if err := rows.Scan(&id, &dist); err != nil {
			return nil, fmt.Errorf("pgvector: scan: %w", err)
		}
		results = append(results, &VectorResult{ID: id, Distance: float32(dist)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgvector: rows: %w", err)
	}
	return results, nil
}

// Metric returns the configured distance metric.
func (p *PgVectorIndex) Metric() string { return p.config.Metric }

// Dimensions returns the column dimension.
func (p *PgVectorIndex) Dimensions() int { return p.config.Dimensions }

// Count returns the row count observed at the last write or open.
func (p *PgVectorIndex) Count() int { return int(p.count.Load()) }

// Close closes the connection pool.
func (p *PgVectorIndex) Close() error { return p.db.Close() }

var _ VectorIndex = (*PgVectorIndex)(nil)
