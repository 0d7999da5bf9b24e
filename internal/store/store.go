package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/seanblong/filingrag/pkg/models"
)

const (
	MinK     = 1
	MaxK     = 20
	DefaultK = 6
)

// ClampK bounds k to [MinK, MaxK]. Zero means DefaultK.
func ClampK(k int) int {
	switch {
	case k == 0:
		return DefaultK
	case k < MinK:
		return MinK
	case k > MaxK:
		return MaxK
	}
	return k
}

// VectorStore persists embedded chunks and answers nearest-neighbour queries.
type VectorStore interface {
	// Migrate creates the schema for vectors of the given dimension. It is
	// idempotent and fails with models.ErrDimensionMismatch when the existing
	// schema was created for another dimension.
	Migrate(ctx context.Context, dim int) error
	Write(ctx context.Context, records []models.Record) (int, error)
	// ReplaceSource drops every record of sourceID and writes records in one
	// transaction.
	ReplaceSource(ctx context.Context, sourceID string, records []models.Record) (int, error)
	// Query returns up to k records by ascending cosine distance. An empty
	// entityTag disables the filter.
	Query(ctx context.Context, vec []float32, k int, entityTag string) ([]models.SearchResult, error)
	Ping(ctx context.Context) error
	Close()
}

// TagLister is implemented by stores that can enumerate their entity tags.
type TagLister interface {
	EntityTags(ctx context.Context) ([]string, error)
}

// Store is the pgvector-backed VectorStore.
type Store struct {
	pool *pgxpool.Pool
	dim  int
}

var (
	_ VectorStore = (*Store)(nil)
	_ TagLister   = (*Store)(nil)
)

// New creates a new Store instance connected to the given database URL.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("%w: database url: %v", models.ErrConfiguration, err)
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p}, nil
}

func (s *Store) Close() { s.pool.Close() }

// EntityTags returns every distinct entity tag in the store.
func (s *Store) EntityTags(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT DISTINCT entity_tag FROM documents WHERE entity_tag <> '' ORDER BY entity_tag")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}

	return tags, rows.Err()
}

// Migrate applies necessary database migrations and schema setup.
func (s *Store) Migrate(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("%w: embedding dimension must be positive, got %d", models.ErrConfiguration, dim)
	}

	existing, err := s.existingDim(ctx)
	if err != nil {
		return err
	}
	if existing > 0 && existing != dim {
		return fmt.Errorf("documents.embedding is vector(%d), embedder produces %d: %w",
			existing, dim, models.ErrDimensionMismatch)
	}

	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS documents (
  id          TEXT PRIMARY KEY,
  content     TEXT NOT NULL,
  embedding   vector(%d) NOT NULL,
  entity_tag  TEXT NOT NULL DEFAULT '',
  source_id   TEXT NOT NULL DEFAULT '',
  position    INT NOT NULL DEFAULT 0,
  created_at  TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE INDEX IF NOT EXISTS documents_entity_tag_idx
  ON documents (entity_tag);

CREATE INDEX IF NOT EXISTS documents_source_id_idx
  ON documents (source_id);

CREATE INDEX IF NOT EXISTS documents_embedding_hnsw_idx
  ON documents USING hnsw (embedding vector_cosine_ops);
`
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(q, dim)); err != nil {
		return err
	}
	s.dim = dim
	return nil
}

// existingDim reads the declared dimension of documents.embedding, or 0 when
// the table does not exist yet.
func (s *Store) existingDim(ctx context.Context) (int, error) {
	const q = `
      SELECT a.atttypmod
      FROM pg_attribute a
      WHERE a.attrelid = to_regclass('documents')
        AND a.attname = 'embedding'
        AND NOT a.attisdropped`
	var mod int
	err := s.pool.QueryRow(ctx, q).Scan(&mod)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return mod, nil
}

const insertRecord = `
		INSERT INTO documents (id, content, embedding, entity_tag, source_id, position, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (id) DO UPDATE SET
		  content = EXCLUDED.content,
		  embedding = EXCLUDED.embedding,
		  entity_tag = EXCLUDED.entity_tag,
		  source_id = EXCLUDED.source_id,
		  position = EXCLUDED.position`

// Write inserts records in a single transaction.
func (s *Store) Write(ctx context.Context, records []models.Record) (int, error) {
	return s.inTx(ctx, func(tx pgx.Tx) (int, error) {
		return s.insert(ctx, tx, records)
	})
}

// ReplaceSource swaps the records of one source atomically.
func (s *Store) ReplaceSource(ctx context.Context, sourceID string, records []models.Record) (int, error) {
	return s.inTx(ctx, func(tx pgx.Tx) (int, error) {
		if _, err := tx.Exec(ctx, `DELETE FROM documents WHERE source_id = $1`, sourceID); err != nil {
			return 0, fmt.Errorf("delete source %q: %w", sourceID, err)
		}
		return s.insert(ctx, tx, records)
	})
}

func (s *Store) inTx(ctx context.Context, fn func(pgx.Tx) (int, error)) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	n, err := fn(tx)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) insert(ctx context.Context, tx pgx.Tx, records []models.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	b := &pgx.Batch{}
	for _, r := range records {
		if s.dim > 0 && len(r.Embedding) != s.dim {
			return 0, fmt.Errorf("record %d of %q has %d values, store holds %d: %w",
				r.Position, r.SourceID, len(r.Embedding), s.dim, models.ErrDimensionMismatch)
		}
		id := r.ID
		if id == "" {
			id = uuid.NewString()
		}
		b.Queue(insertRecord, id, r.Content, pgvector.NewVector(r.Embedding), r.EntityTag, r.SourceID, r.Position)
	}

	br := tx.SendBatch(ctx, b)
	for range records {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return 0, err
		}
	}
	if err := br.Close(); err != nil {
		return 0, err
	}
	return len(records), nil
}

// Query returns the k nearest records to vec by cosine distance. Unfiltered
// queries use the HNSW index; with an entityTag every match of the tag is
// ranked exactly, since HNSW filters only its ef_search candidates.
func (s *Store) Query(ctx context.Context, vec []float32, k int, entityTag string) ([]models.SearchResult, error) {
	if s.dim > 0 && len(vec) != s.dim {
		return nil, fmt.Errorf("query vector has %d values, store holds %d: %w",
			len(vec), s.dim, models.ErrDimensionMismatch)
	}

	q, args := querySQL(vec, k, entityTag)
	if entityTag == "" {
		rows, err := s.pool.Query(ctx, q, args...)
		if err != nil {
			return nil, err
		}
		return scanResults(rows)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, exactScan); err != nil {
		return nil, fmt.Errorf("disable index scan: %w", err)
	}
	rows, err := tx.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	out, err := scanResults(rows)
	if err != nil {
		return nil, err
	}
	return out, tx.Commit(ctx)
}

// exactScan keeps the planner off the HNSW index for the current transaction.
// Bitmap scans on the entity_tag btree stay available.
const exactScan = `SET LOCAL enable_indexscan = off`

func querySQL(vec []float32, k int, entityTag string) (string, []any) {
	args := []any{pgvector.NewVector(vec)}
	where := "TRUE"
	if entityTag != "" {
		where += " AND entity_tag = $2"
		args = append(args, entityTag)
	}

	q := fmt.Sprintf(`
SELECT id, content, entity_tag, source_id, position, created_at,
       embedding <=> $1 AS distance
FROM documents
WHERE %s
ORDER BY embedding <=> $1
LIMIT %d;
`, where, ClampK(k))
	return q, args
}

func scanResults(rows pgx.Rows) ([]models.SearchResult, error) {
	defer rows.Close()

	out := []models.SearchResult{}
	for rows.Next() {
		var r models.Record
		var distance float64
		if err := rows.Scan(
			&r.ID, &r.Content, &r.EntityTag, &r.SourceID, &r.Position, &r.CreatedAt,
			&distance,
		); err != nil {
			return nil, err
		}
		out = append(out, models.SearchResult{Record: r, Distance: distance})
	}
	return out, rows.Err()
}

// Ping checks the database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// IsTransient reports whether a database error is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, models.ErrConfiguration) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08":
			return true
		case pgErr.Code == "57P01", pgErr.Code == "57P02", pgErr.Code == "57P03":
			return true
		case pgErr.Code == "53300":
			return true
		case pgErr.Code == "40001", pgErr.Code == "40P01":
			return true
		}
		return false
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
