package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var ErrSyncOperationNotFound = errors.New("catalog: sync operation not found")

// RunningSyncOperation returns the tenant's current running operation, if
// any. Invariant (spec.md §3): at most one exists per tenant at a time.
func (s *Store) RunningSyncOperation(ctx context.Context, tenantSlug string) (SyncOperation, bool, error) {
	const q = syncOpSelect + ` WHERE tenant_slug = $1 AND status = 'running' ORDER BY started_at DESC LIMIT 1`
	var op SyncOperation
	err := scanSyncOp(s.pool.QueryRow(ctx, q, tenantSlug), &op)
	if errors.Is(err, pgx.ErrNoRows) {
		return SyncOperation{}, false, nil
	}
	if err != nil {
		return SyncOperation{}, false, err
	}
	return op, true, nil
}

// InsertSyncOperation creates the running row for a freshly-started sync,
// per spec.md §4.H step 4.
func (s *Store) InsertSyncOperation(ctx context.Context, op SyncOperation) (string, error) {
	id := uuid.NewString()
	const q = `
		INSERT INTO sync_operations (
			id, tenant_slug, operation_type, status, started_at, heartbeat_at,
			expected_duration_seconds, progress_stage, progress_percentage,
			total_files_to_process, current_file_index
		) VALUES ($1,$2,$3,'running', now(), now(), $4, $5, 0, $6, 0)`
	_, err := s.pool.Exec(ctx, q, id, op.TenantSlug, op.OperationType,
		op.ExpectedDurationSecs, op.ProgressStage, op.TotalFilesToProcess)
	return id, err
}

// UpdateHeartbeat advances heartbeat_at in its own short transaction, per
// spec.md §5: "heartbeat and executor use separate short transactions."
func (s *Store) UpdateHeartbeat(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE sync_operations SET heartbeat_at = now() WHERE id = $1 AND status = 'running'`, id)
	return err
}

// AdvanceStage updates progress_stage and progress_percentage on entry to
// a new stage of the executor state machine (spec.md §4.H).
func (s *Store) AdvanceStage(ctx context.Context, id string, stage ProgressStage, percentage int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE sync_operations SET progress_stage = $2, progress_percentage = $3 WHERE id = $1`,
		id, stage, percentage)
	return err
}

// UpdateFileProgress records advancement within processing_files, plus
// the running counters of files/chunks added/updated/deleted.
func (s *Store) UpdateFileProgress(ctx context.Context, id string, currentIndex, total int, percentage int, added, updated, deleted, chunksCreated, chunksDeleted int) error {
	const q = `
		UPDATE sync_operations SET
			current_file_index = $2, total_files_to_process = $3, progress_percentage = $4,
			files_added = $5, files_updated = $6, files_deleted = $7,
			chunks_created = $8, chunks_deleted = $9
		WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, id, currentIndex, total, percentage, added, updated, deleted, chunksCreated, chunksDeleted)
	return err
}

// CompleteSyncOperation marks an operation completed or cancelled.
func (s *Store) CompleteSyncOperation(ctx context.Context, id string, status OperationStatus) error {
	const q = `
		UPDATE sync_operations SET status = $2, progress_stage = 'completed',
		       progress_percentage = 100, completed_at = now()
		WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, id, status)
	return err
}

// FailSyncOperation marks an operation failed with a reason, per spec.md
// §7's TimeoutError/StuckError handling.
func (s *Store) FailSyncOperation(ctx context.Context, id, reason string) error {
	const q = `
		UPDATE sync_operations SET status = 'failed', progress_stage = 'failed',
		       error_message = $2, completed_at = now()
		WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, id, reason)
	return err
}

// CancelSyncOperation marks a still-running operation cancelled, the
// terminal state an operator reaches via POST /sync/cancel rather than a
// timeout or a failure.
func (s *Store) CancelSyncOperation(ctx context.Context, id string) error {
	const q = `
		UPDATE sync_operations SET status = 'cancelled', progress_stage = 'failed',
		       error_message = 'cancelled by operator', completed_at = now()
		WHERE id = $1 AND status = 'running'`
	_, err := s.pool.Exec(ctx, q, id)
	return err
}

// SyncOperationByID is used by GET /sync/status and the conflict response.
func (s *Store) SyncOperationByID(ctx context.Context, id string) (SyncOperation, error) {
	const q = syncOpSelect + ` WHERE id = $1`
	var op SyncOperation
	err := scanSyncOp(s.pool.QueryRow(ctx, q, id), &op)
	if errors.Is(err, pgx.ErrNoRows) {
		return SyncOperation{}, ErrSyncOperationNotFound
	}
	return op, err
}

// SyncHistory backs GET /sync/history?limit=N.
func (s *Store) SyncHistory(ctx context.Context, tenantSlug string, limit int) ([]SyncOperation, error) {
	const q = syncOpSelect + ` WHERE tenant_slug = $1 ORDER BY started_at DESC LIMIT $2`
	rows, err := s.pool.Query(ctx, q, tenantSlug, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SyncOperation
	for rows.Next() {
		var op SyncOperation
		if err := scanSyncOp(rows, &op); err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

// StuckRunningOperations returns every running operation across all
// tenants whose heartbeat is older than staleAfter or whose runtime
// exceeds stuckMultiplier times its expected duration — the query behind
// the Background Supervisor's cleanup cycle (§4.L) and the on-request
// stuck check in request_sync (§4.H step 2).
func (s *Store) StuckRunningOperations(ctx context.Context, staleAfter time.Duration, stuckMultiplier float64) ([]SyncOperation, error) {
	const q = syncOpSelect + `
		WHERE status = 'running'
		  AND (
		    EXTRACT(EPOCH FROM (now() - heartbeat_at)) > $1
		    OR EXTRACT(EPOCH FROM (now() - started_at)) > $2 * expected_duration_seconds
		  )`
	rows, err := s.pool.Query(ctx, q, staleAfter.Seconds(), stuckMultiplier)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SyncOperation
	for rows.Next() {
		var op SyncOperation
		if err := scanSyncOp(rows, &op); err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

const syncOpSelect = `
	SELECT id, tenant_slug, operation_type, status, started_at, completed_at, heartbeat_at,
	       expected_duration_seconds, progress_stage, progress_percentage,
	       total_files_to_process, current_file_index, files_added, files_updated,
	       files_deleted, chunks_created, chunks_deleted, error_message
	FROM sync_operations`

func scanSyncOp(r rowScanner, op *SyncOperation) error {
	return r.Scan(&op.ID, &op.TenantSlug, &op.OperationType, &op.Status, &op.StartedAt,
		&op.CompletedAt, &op.HeartbeatAt, &op.ExpectedDurationSecs, &op.ProgressStage,
		&op.ProgressPercentage, &op.TotalFilesToProcess, &op.CurrentFileIndex,
		&op.FilesAdded, &op.FilesUpdated, &op.FilesDeleted, &op.ChunksCreated,
		&op.ChunksDeleted, &op.ErrorMessage)
}
