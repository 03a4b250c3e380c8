package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps a pgx connection pool and provides the catalog's relational
// and vector operations over a single Postgres database.
type Store struct {
	pool *pgxpool.Pool
	dim  int
}

// New connects to the catalog database at url and returns a Store whose
// chunks.embedding column is declared with dimension dim.
func New(ctx context.Context, url string, dim int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("catalog: parse config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("catalog: connect: %w", err)
	}
	return &Store{pool: pool, dim: dim}, nil
}

// Pool exposes the underlying pool for components (change detector
// snapshot queries, supervisor health probes) that need read-only access
// beyond the methods defined here.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Migrate creates the catalog schema if it does not already exist.
//
// spec.md §1 treats schema bootstrap as out of scope for the core; this
// exists only so local/dev and the test suite can stand up a throwaway
// database without a separate migration tool.
func (s *Store) Migrate(ctx context.Context) error {
	q := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS tenants (
  slug         TEXT PRIMARY KEY,
  display_name TEXT NOT NULL,
  api_key      TEXT NOT NULL UNIQUE,
  created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS files (
  id                TEXT PRIMARY KEY,
  tenant_slug       TEXT NOT NULL REFERENCES tenants(slug),
  filename          TEXT NOT NULL,
  relative_path     TEXT NOT NULL,
  size_bytes        BIGINT NOT NULL,
  content_hash      TEXT NOT NULL,
  mime_type         TEXT NOT NULL DEFAULT '',
  sync_status       TEXT NOT NULL DEFAULT 'pending',
  sync_started_at   TIMESTAMPTZ,
  sync_completed_at TIMESTAMPTZ,
  sync_error        TEXT NOT NULL DEFAULT '',
  created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
  deleted_at        TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS files_tenant_path_live_uidx
  ON files (tenant_slug, relative_path) WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS files_tenant_status_idx ON files (tenant_slug, sync_status);

CREATE TABLE IF NOT EXISTS chunks (
  id              TEXT PRIMARY KEY,
  file_id         TEXT NOT NULL REFERENCES files(id),
  tenant_slug     TEXT NOT NULL,
  chunk_index     INT NOT NULL,
  text            TEXT NOT NULL,
  text_hash       TEXT NOT NULL,
  token_count     INT NOT NULL,
  embedding       vector(%d) NOT NULL,
  embedding_model TEXT NOT NULL,
  created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS chunks_file_index_uidx ON chunks (file_id, chunk_index);
CREATE INDEX IF NOT EXISTS chunks_tenant_idx ON chunks (tenant_slug);
CREATE INDEX IF NOT EXISTS chunks_embedding_idx
  ON chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);

CREATE TABLE IF NOT EXISTS sync_operations (
  id                        TEXT PRIMARY KEY,
  tenant_slug               TEXT NOT NULL REFERENCES tenants(slug),
  operation_type            TEXT NOT NULL,
  status                    TEXT NOT NULL,
  started_at                TIMESTAMPTZ NOT NULL,
  completed_at              TIMESTAMPTZ,
  heartbeat_at              TIMESTAMPTZ NOT NULL,
  expected_duration_seconds INT NOT NULL,
  progress_stage            TEXT NOT NULL,
  progress_percentage       INT NOT NULL DEFAULT 0,
  total_files_to_process    INT NOT NULL DEFAULT 0,
  current_file_index        INT NOT NULL DEFAULT 0,
  files_added               INT NOT NULL DEFAULT 0,
  files_updated             INT NOT NULL DEFAULT 0,
  files_deleted             INT NOT NULL DEFAULT 0,
  chunks_created            INT NOT NULL DEFAULT 0,
  chunks_deleted            INT NOT NULL DEFAULT 0,
  error_message             TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS sync_operations_tenant_status_idx
  ON sync_operations (tenant_slug, status);
`, s.dim)

	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("catalog: migrate: %w", err)
	}
	return nil
}
