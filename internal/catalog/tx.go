package catalog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"
)

// ErrPersistence wraps any failure inside a persistence transaction, per
// spec.md §7's PersistenceError kind.
type ErrPersistence struct {
	Op  string
	Err error
}

func (e *ErrPersistence) Error() string { return fmt.Sprintf("catalog: %s: %v", e.Op, e.Err) }
func (e *ErrPersistence) Unwrap() error { return e.Err }

// NewChunk is the embedded-chunk payload the batcher hands the
// persistence layer, prior to being assigned an id.
type NewChunk struct {
	ChunkIndex     int
	Text           string
	TextHash       string
	TokenCount     int
	Embedding      []float32
	EmbeddingModel string
}

// BeginFileProcessing inserts a new file row in processing status ahead
// of extraction/chunking/embedding, committed on its own short
// transaction, so a failure in any of those stages has a row for
// MarkFileFailed to land on instead of leaving the file uncatalogued.
// Mirrors original_source's sync_service.py create-then-process
// ordering (commit the processing row, then attempt the work).
func (s *Store) BeginFileProcessing(ctx context.Context, f File) (fileID string, err error) {
	id := uuid.NewString()
	const q = `
		INSERT INTO files (id, tenant_slug, filename, relative_path, size_bytes,
		                    content_hash, sync_status, sync_started_at,
		                    created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,'processing', now(), now(), now())`
	if _, err = s.pool.Exec(ctx, q, id, f.TenantSlug, f.Filename, f.RelativePath, f.SizeBytes, f.ContentHash); err != nil {
		return "", &ErrPersistence{"begin file processing", err}
	}
	return id, nil
}

// FinalizeNewFile implements spec.md §4.G's "Create" primitive's
// completion half: one transaction bulk-inserts the chunks for a file
// already in processing status (from BeginFileProcessing) and flips it
// to synced with its detected MIME type. Any failure rolls back the
// whole transaction; the caller is responsible for the short follow-up
// transaction that marks the file failed (see MarkFileFailed).
func (s *Store) FinalizeNewFile(ctx context.Context, fileID, tenantSlug, mimeType string, chunks []NewChunk) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &ErrPersistence{"begin finalize", err}
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = insertChunks(ctx, tx, fileID, tenantSlug, chunks); err != nil {
		return &ErrPersistence{"insert chunks", err}
	}

	const finalize = `UPDATE files SET sync_status = 'synced', mime_type = $2, sync_completed_at = now(), updated_at = now() WHERE id = $1`
	if _, err = tx.Exec(ctx, finalize, fileID, mimeType); err != nil {
		return &ErrPersistence{"finalize file", err}
	}

	if err = tx.Commit(ctx); err != nil {
		return &ErrPersistence{"commit finalize", err}
	}
	return nil
}

// UpdateFileWithChunks implements spec.md §4.G's "Update" primitive.
func (s *Store) UpdateFileWithChunks(ctx context.Context, fileID, newHash, mimeType string, newSize int64, chunks []NewChunk) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &ErrPersistence{"begin update", err}
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var tenantSlug string
	const setProcessing = `
		UPDATE files SET content_hash = $2, size_bytes = $3, sync_status = 'processing',
		                  sync_started_at = now(), updated_at = now()
		WHERE id = $1
		RETURNING tenant_slug`
	if err = tx.QueryRow(ctx, setProcessing, fileID, newHash, newSize).Scan(&tenantSlug); err != nil {
		return &ErrPersistence{"mark processing", err}
	}

	if _, err = tx.Exec(ctx, `DELETE FROM chunks WHERE file_id = $1`, fileID); err != nil {
		return &ErrPersistence{"delete old chunks", err}
	}

	if err = insertChunks(ctx, tx, fileID, tenantSlug, chunks); err != nil {
		return &ErrPersistence{"insert chunks", err}
	}

	const finalize = `UPDATE files SET sync_status = 'synced', mime_type = $2, sync_completed_at = now(), updated_at = now() WHERE id = $1`
	if _, err = tx.Exec(ctx, finalize, fileID, mimeType); err != nil {
		return &ErrPersistence{"finalize file", err}
	}

	if err = tx.Commit(ctx); err != nil {
		return &ErrPersistence{"commit update", err}
	}
	return nil
}

// softDeleteFiles controls whether DeleteFile tombstones a file or
// removes the row outright. See DESIGN.md Open Question resolution #1:
// the core is soft-delete system-wide.
const softDeleteFiles = true

// DeleteFile implements spec.md §4.G's "Delete" primitive: chunks are
// always hard-deleted (they carry no independent retention value and
// re-sync regenerates them), while the file row is soft-deleted.
func (s *Store) DeleteFile(ctx context.Context, fileID string) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &ErrPersistence{"begin delete", err}
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `DELETE FROM chunks WHERE file_id = $1`, fileID); err != nil {
		return &ErrPersistence{"delete chunks", err}
	}

	if softDeleteFiles {
		_, err = tx.Exec(ctx, `UPDATE files SET deleted_at = now(), sync_status = 'synced', updated_at = now() WHERE id = $1`, fileID)
	} else {
		_, err = tx.Exec(ctx, `DELETE FROM files WHERE id = $1`, fileID)
	}
	if err != nil {
		return &ErrPersistence{"delete file", err}
	}

	if err = tx.Commit(ctx); err != nil {
		return &ErrPersistence{"commit delete", err}
	}
	return nil
}

func insertChunks(ctx context.Context, tx pgx.Tx, fileID, tenantSlug string, chunks []NewChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	const q = `
		INSERT INTO chunks (id, file_id, tenant_slug, chunk_index, text, text_hash,
		                     token_count, embedding, embedding_model, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, now())`
	for _, c := range chunks {
		batch.Queue(q, uuid.NewString(), fileID, tenantSlug, c.ChunkIndex, c.Text, c.TextHash,
			c.TokenCount, pgvector.NewVector(c.Embedding), c.EmbeddingModel)
	}
	br := tx.SendBatch(ctx, batch)
	defer br.Close()
	for range chunks {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// ChunkCount returns the number of chunks belonging to a file, used by
// the testable-invariant suite (spec.md §8).
func (s *Store) ChunkCount(ctx context.Context, fileID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM chunks WHERE file_id = $1`, fileID).Scan(&n)
	return n, err
}
