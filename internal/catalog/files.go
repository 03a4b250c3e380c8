package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

var ErrFileNotFound = errors.New("catalog: file not found")

// LiveFiles returns every non-deleted file for a tenant, keyed implicitly
// by RelativePath by the caller — this is the db_map half of the change
// detector's map-diff (spec.md §4.C).
func (s *Store) LiveFiles(ctx context.Context, tenantSlug string) ([]File, error) {
	const q = `
		SELECT id, tenant_slug, filename, relative_path, size_bytes, content_hash,
		       mime_type, sync_status, sync_started_at, sync_completed_at, sync_error,
		       created_at, updated_at, deleted_at
		FROM files
		WHERE tenant_slug = $1 AND deleted_at IS NULL`
	rows, err := s.pool.Query(ctx, q, tenantSlug)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []File
	for rows.Next() {
		var f File
		if err := scanFile(rows, &f); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(r rowScanner, f *File) error {
	return r.Scan(&f.ID, &f.TenantSlug, &f.Filename, &f.RelativePath, &f.SizeBytes, &f.ContentHash,
		&f.MimeType, &f.SyncStatus, &f.SyncStartedAt, &f.SyncCompletedAt, &f.SyncError,
		&f.CreatedAt, &f.UpdatedAt, &f.DeletedAt)
}

// FileByID fetches a single file row.
func (s *Store) FileByID(ctx context.Context, id string) (File, error) {
	const q = `
		SELECT id, tenant_slug, filename, relative_path, size_bytes, content_hash,
		       mime_type, sync_status, sync_started_at, sync_completed_at, sync_error,
		       created_at, updated_at, deleted_at
		FROM files WHERE id = $1`
	var f File
	err := scanFile(s.pool.QueryRow(ctx, q, id), &f)
	if errors.Is(err, pgx.ErrNoRows) {
		return File{}, ErrFileNotFound
	}
	return f, err
}

// ListFilesPage backs GET /files: a paginated list ordered by relative_path.
func (s *Store) ListFilesPage(ctx context.Context, tenantSlug string, limit, offset int) ([]File, int, error) {
	const countQ = `SELECT count(*) FROM files WHERE tenant_slug = $1 AND deleted_at IS NULL`
	var total int
	if err := s.pool.QueryRow(ctx, countQ, tenantSlug).Scan(&total); err != nil {
		return nil, 0, err
	}

	const q = `
		SELECT id, tenant_slug, filename, relative_path, size_bytes, content_hash,
		       mime_type, sync_status, sync_started_at, sync_completed_at, sync_error,
		       created_at, updated_at, deleted_at
		FROM files
		WHERE tenant_slug = $1 AND deleted_at IS NULL
		ORDER BY relative_path
		LIMIT $2 OFFSET $3`
	rows, err := s.pool.Query(ctx, q, tenantSlug, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []File
	for rows.Next() {
		var f File
		if err := scanFile(rows, &f); err != nil {
			return nil, 0, err
		}
		out = append(out, f)
	}
	return out, total, rows.Err()
}

// FileStatusCounts tallies files by sync_status for GET /sync/status.
func (s *Store) FileStatusCounts(ctx context.Context, tenantSlug string) (map[SyncStatus]int, int, error) {
	const q = `
		SELECT sync_status, count(*)
		FROM files
		WHERE tenant_slug = $1 AND deleted_at IS NULL
		GROUP BY sync_status`
	rows, err := s.pool.Query(ctx, q, tenantSlug)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	counts := make(map[SyncStatus]int)
	total := 0
	for rows.Next() {
		var status SyncStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, 0, err
		}
		counts[status] = n
		total += n
	}
	return counts, total, rows.Err()
}

// DemoteProcessingToPending is used by the stuck-operation supervisor
// (§4.H/§4.L): files left in "processing" by a reclaimed operation return
// to "pending" so the next sync picks them back up.
func (s *Store) DemoteProcessingToPending(ctx context.Context, tenantSlug string) (int64, error) {
	const q = `
		UPDATE files SET sync_status = 'pending', updated_at = now()
		WHERE tenant_slug = $1 AND sync_status = 'processing'`
	tag, err := s.pool.Exec(ctx, q, tenantSlug)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// MarkFileFailed records an extraction/persistence failure on one file
// without aborting the owning SyncOperation (spec.md §7: per-file errors
// are local).
func (s *Store) MarkFileFailed(ctx context.Context, fileID, reason string) error {
	const q = `
		UPDATE files SET sync_status = 'failed', sync_error = $2, updated_at = now()
		WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, fileID, reason)
	return err
}
