package syncmanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragserver/internal/catalog"
	"github.com/fyrsmithlabs/ragserver/internal/changeset"
	"github.com/fyrsmithlabs/ragserver/internal/chunk"
	"github.com/fyrsmithlabs/ragserver/internal/embed"
	"github.com/fyrsmithlabs/ragserver/internal/extract"
	"github.com/fyrsmithlabs/ragserver/internal/fsscan"
)

// Timeouts holds the adaptive-deadline constants from spec.md §4.H.
type Timeouts struct {
	BaseTimeout      time.Duration // default 300s
	PerFileTimeout   time.Duration // default 10s
	MinTimeout       time.Duration // default 300s
	MaxTimeout       time.Duration // default 7200s
	HeartbeatEvery   time.Duration // default 30s
	StuckMultiplier  float64       // default 2.0
}

// DefaultTimeouts matches spec.md §4.H's stated defaults.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		BaseTimeout:     300 * time.Second,
		PerFileTimeout:  10 * time.Second,
		MinTimeout:      300 * time.Second,
		MaxTimeout:      7200 * time.Second,
		HeartbeatEvery:  30 * time.Second,
		StuckMultiplier: 2.0,
	}
}

func (t Timeouts) expectedDuration(nFiles int) time.Duration {
	d := t.BaseTimeout + time.Duration(nFiles)*t.PerFileTimeout
	if d < t.MinTimeout {
		return t.MinTimeout
	}
	if d > t.MaxTimeout {
		return t.MaxTimeout
	}
	return d
}

// TriggerResult is the outcome of request_sync (spec.md §6 POST /sync/trigger).
type TriggerResult struct {
	Status                 string // "started" or "conflict"
	SyncID                 string
	ExpectedDurationSeconds int
	TotalFiles             int
	Conflict               *catalog.SyncOperation
}

// ErrRootUnreadable is returned when the tenant's document root cannot
// be scanned; the caller should surface this as a 500.
var ErrRootUnreadable = errors.New("syncmanager: document root unreadable")

// Manager serializes and executes sync operations per tenant (spec.md
// §4.H). One Manager instance serves every tenant.
type Manager struct {
	store      *catalog.Store
	chunker    *chunk.Chunker
	batcher    *embed.Batcher
	publisher  *EventPublisher
	timeouts   Timeouts
	docsRoot   func(tenantSlug string) string
	modelName  string
	log        *zap.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc // op id -> cancel
}

// Deps bundles the Manager's collaborators.
type Deps struct {
	Store      *catalog.Store
	Chunker    *chunk.Chunker
	Batcher    *embed.Batcher
	Publisher  *EventPublisher
	Timeouts   Timeouts
	DocsRoot   func(tenantSlug string) string
	ModelName  string
	Logger     *zap.Logger
}

// New constructs a Manager from its collaborators.
func New(d Deps) *Manager {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Manager{
		store:     d.Store,
		chunker:   d.Chunker,
		batcher:   d.Batcher,
		publisher: d.Publisher,
		timeouts:  d.Timeouts,
		docsRoot:  d.DocsRoot,
		modelName: d.ModelName,
		log:       d.Logger,
		cancels:   make(map[string]context.CancelFunc),
	}
}

// RequestSync implements the request_sync protocol (spec.md §4.H steps
// 1-6): reclaim-if-stuck, conflict-if-running, otherwise plan and launch
// the executor and heartbeat tasks in the background.
func (m *Manager) RequestSync(ctx context.Context, tenantSlug string, forceFullSync bool) (TriggerResult, error) {
	running, ok, err := m.store.RunningSyncOperation(ctx, tenantSlug)
	if err != nil {
		return TriggerResult{}, fmt.Errorf("syncmanager: check running op: %w", err)
	}
	if ok {
		if !m.isStuck(running) {
			return TriggerResult{Status: "conflict", SyncID: running.ID, Conflict: &running}, nil
		}
		if err := m.store.FailSyncOperation(ctx, running.ID, "reset by supervisor"); err != nil {
			return TriggerResult{}, fmt.Errorf("syncmanager: reclaim stuck op: %w", err)
		}
	}

	root := m.docsRoot(tenantSlug)
	var skipped []fsscan.SkippedFile
	scanned, err := fsscan.Scan(root, func(s fsscan.SkippedFile) { skipped = append(skipped, s) })
	if err != nil {
		return TriggerResult{}, fmt.Errorf("%w: %v", ErrRootUnreadable, err)
	}

	live, err := m.store.LiveFiles(ctx, tenantSlug)
	if err != nil {
		return TriggerResult{}, fmt.Errorf("syncmanager: list live files: %w", err)
	}

	plan := changeset.Detect(tenantSlug, scanned, live, forceFullSync)

	opType := catalog.OperationDelta
	if forceFullSync {
		opType = catalog.OperationFull
	}
	expected := m.timeouts.expectedDuration(plan.TotalChanges())

	op := catalog.SyncOperation{
		ID:                   uuid.NewString(),
		TenantSlug:           tenantSlug,
		OperationType:        opType,
		Status:               catalog.OperationRunning,
		StartedAt:            time.Now(),
		HeartbeatAt:          time.Now(),
		ExpectedDurationSecs: int(expected.Seconds()),
		ProgressStage:        catalog.StageInitializing,
		TotalFilesToProcess:  plan.TotalChanges(),
	}
	id, err := m.store.InsertSyncOperation(ctx, op)
	if err != nil {
		return TriggerResult{}, fmt.Errorf("syncmanager: insert operation: %w", err)
	}
	op.ID = id

	execCtx, cancel := context.WithTimeout(context.Background(), expected)
	m.setCancel(op.ID, cancel)
	go m.runHeartbeat(execCtx, op.ID)
	go func() {
		defer cancel()
		defer m.clearCancel(op.ID)
		m.execute(execCtx, op, plan)
	}()

	return TriggerResult{
		Status:                  "started",
		SyncID:                  op.ID,
		ExpectedDurationSeconds: int(expected.Seconds()),
		TotalFiles:              plan.TotalChanges(),
	}, nil
}

func (m *Manager) setCancel(opID string, cancel context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancels[opID] = cancel
}

func (m *Manager) clearCancel(opID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cancels, opID)
}

// ErrSyncNotRunning is returned by CancelSync when the tenant has no
// operation currently running.
var ErrSyncNotRunning = errors.New("syncmanager: no sync operation running")

// CancelSync implements operator-initiated cancellation (spec.md §4.H/§5's
// "cancelled" terminal state): it cancels the running operation's
// execution context, which the executor's select loop observes on its
// next iteration and reports back as cancelled rather than failed.
func (m *Manager) CancelSync(ctx context.Context, tenantSlug string) error {
	running, ok, err := m.store.RunningSyncOperation(ctx, tenantSlug)
	if err != nil {
		return fmt.Errorf("syncmanager: check running op: %w", err)
	}
	if !ok {
		return ErrSyncNotRunning
	}

	m.mu.Lock()
	cancel, found := m.cancels[running.ID]
	m.mu.Unlock()
	if !found {
		return ErrSyncNotRunning
	}
	cancel()
	return nil
}

func (m *Manager) isStuck(op catalog.SyncOperation) bool {
	staleHeartbeat := time.Since(op.HeartbeatAt) > 3*m.timeouts.HeartbeatEvery
	runtimeExceeded := time.Since(op.StartedAt) > time.Duration(float64(op.ExpectedDurationSecs)*m.timeouts.StuckMultiplier)*time.Second
	return staleHeartbeat || runtimeExceeded
}

// runHeartbeat updates heartbeat_at on its own short transaction every
// HeartbeatEvery, independent of the executor's file-processing
// transactions (spec.md §5: "separate short transactions").
func (m *Manager) runHeartbeat(ctx context.Context, opID string) {
	ticker := time.NewTicker(m.timeouts.HeartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hbCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := m.store.UpdateHeartbeat(hbCtx, opID); err != nil {
				m.log.Warn("syncmanager: heartbeat update failed", zap.String("op_id", opID), zap.Error(err))
			}
			cancel()
		}
	}
}

// execute drives the executor state machine: initializing →
// detecting_changes → processing_files → finalizing → completed/failed.
func (m *Manager) execute(ctx context.Context, op catalog.SyncOperation, plan catalog.SyncPlan) {
	advance := func(stage catalog.ProgressStage, pct int) {
		_ = m.store.AdvanceStage(context.Background(), op.ID, stage, pct)
		m.publisher.publish(LifecycleEvent{OperationID: op.ID, TenantSlug: op.TenantSlug, Stage: stage, Percentage: pct})
	}

	lock, err := m.store.AcquireTenantLock(ctx, op.TenantSlug)
	if err != nil || !lock.Held() {
		m.fail(op.ID, op.TenantSlug, "could not acquire tenant write lock")
		return
	}
	defer lock.Release()

	advance(catalog.StageDetectingChanges, 10)

	advance(catalog.StageProcessingFiles, 10)

	var added, updated, deleted, chunksCreated, chunksDeleted int
	n := plan.TotalChanges()
	for i, change := range plan.Changes {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				_ = m.store.CancelSyncOperation(context.Background(), op.ID)
				m.publisher.publish(LifecycleEvent{OperationID: op.ID, TenantSlug: op.TenantSlug, Stage: catalog.StageFailed, Status: catalog.OperationCancelled})
				return
			}
			_ = m.store.FailSyncOperation(context.Background(), op.ID, "timeout")
			return
		default:
		}

		if err := m.processChange(ctx, op.TenantSlug, change, &added, &updated, &deleted, &chunksCreated, &chunksDeleted); err != nil {
			m.log.Warn("syncmanager: file change failed", zap.String("path", change.RelativePath), zap.Error(err))
		}

		pct := 10 + int(80*float64(i+1)/float64(max(n, 1)))
		_ = m.store.UpdateFileProgress(context.Background(), op.ID, i+1, n, pct, added, updated, deleted, chunksCreated, chunksDeleted)
	}

	advance(catalog.StageFinalizing, 95)

	if err := m.store.CompleteSyncOperation(context.Background(), op.ID, catalog.OperationCompleted); err != nil {
		m.log.Error("syncmanager: finalize failed", zap.Error(err))
		return
	}
	m.publisher.publish(LifecycleEvent{OperationID: op.ID, TenantSlug: op.TenantSlug, Stage: catalog.StageCompleted, Percentage: 100, Status: catalog.OperationCompleted})
}

func (m *Manager) fail(opID, tenantSlug, reason string) {
	_ = m.store.FailSyncOperation(context.Background(), opID, reason)
	m.publisher.publish(LifecycleEvent{OperationID: opID, TenantSlug: tenantSlug, Stage: catalog.StageFailed, Status: catalog.OperationFailed, Error: reason})
}

// processChange applies one FileChange within the Persistence Layer's
// transactional primitives (spec.md §4.G): extract, chunk, embed, then
// one of create/update/delete.
func (m *Manager) processChange(ctx context.Context, tenantSlug string, change catalog.FileChange, added, updated, deleted, chunksCreated, chunksDeleted *int) error {
	switch change.Kind {
	case catalog.ChangeDeleted:
		if err := m.store.DeleteFile(ctx, change.FileID); err != nil {
			_ = m.store.MarkFileFailed(ctx, change.FileID, err.Error())
			return err
		}
		*deleted++
		return nil

	case catalog.ChangeCreated, catalog.ChangeUpdated:
		// fileID is resolved up front so every failure from here on has a
		// row to mark failed against (spec.md §4.G/§7): change.FileID for
		// an update, or a freshly inserted processing row for a create,
		// matching original_source's commit-then-process ordering.
		fileID := change.FileID
		if change.Kind == catalog.ChangeCreated {
			f := catalog.File{
				TenantSlug:   tenantSlug,
				Filename:     baseName(change.RelativePath),
				RelativePath: change.RelativePath,
				SizeBytes:    change.Size,
				ContentHash:  change.NewHash,
			}
			id, err := m.store.BeginFileProcessing(ctx, f)
			if err != nil {
				return err
			}
			fileID = id
		}

		path := m.docsRoot(tenantSlug) + "/" + change.RelativePath
		res, err := extract.Extract(path)
		if err != nil {
			_ = m.store.MarkFileFailed(ctx, fileID, err.Error())
			return err
		}
		pieces := m.chunker.Chunk(res.Text)
		texts := make([]string, len(pieces))
		for i, p := range pieces {
			texts[i] = p.Text
		}
		vectors, err := m.batcher.EmbedAll(ctx, texts)
		if err != nil {
			_ = m.store.MarkFileFailed(ctx, fileID, err.Error())
			return err
		}
		newChunks := make([]catalog.NewChunk, len(pieces))
		for i, p := range pieces {
			newChunks[i] = catalog.NewChunk{
				ChunkIndex:     p.ChunkIndex,
				Text:           p.Text,
				TextHash:       p.TextHash,
				TokenCount:     p.TokenCount,
				Embedding:      vectors[i],
				EmbeddingModel: m.modelName,
			}
		}

		if change.Kind == catalog.ChangeCreated {
			if err := m.store.FinalizeNewFile(ctx, fileID, tenantSlug, res.MimeType, newChunks); err != nil {
				_ = m.store.MarkFileFailed(ctx, fileID, err.Error())
				return err
			}
			*added++
			*chunksCreated += len(newChunks)
			return nil
		}

		if err := m.store.UpdateFileWithChunks(ctx, fileID, change.NewHash, res.MimeType, change.Size, newChunks); err != nil {
			_ = m.store.MarkFileFailed(ctx, fileID, err.Error())
			return err
		}
		*updated++
		*chunksCreated += len(newChunks)
		return nil
	}
	return fmt.Errorf("syncmanager: unknown change kind %q", change.Kind)
}

func baseName(relPath string) string {
	for i := len(relPath) - 1; i >= 0; i-- {
		if relPath[i] == '/' {
			return relPath[i+1:]
		}
	}
	return relPath
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// CleanupStuckOperations implements cleanup_stuck_operations (spec.md
// §4.H/§4.L): any running operation whose heartbeat is stale or whose
// runtime exceeds its expected duration is failed, and its files still
// marked processing are demoted to pending.
func (m *Manager) CleanupStuckOperations(ctx context.Context) (int, error) {
	stuck, err := m.store.StuckRunningOperations(ctx, 3*m.timeouts.HeartbeatEvery, m.timeouts.StuckMultiplier)
	if err != nil {
		return 0, fmt.Errorf("syncmanager: find stuck operations: %w", err)
	}
	for _, op := range stuck {
		if err := m.store.FailSyncOperation(ctx, op.ID, "reset by supervisor"); err != nil {
			m.log.Warn("syncmanager: fail stuck op", zap.String("op_id", op.ID), zap.Error(err))
			continue
		}
		if _, err := m.store.DemoteProcessingToPending(ctx, op.TenantSlug); err != nil {
			m.log.Warn("syncmanager: demote processing files", zap.String("tenant", op.TenantSlug), zap.Error(err))
		}
		m.publisher.publish(LifecycleEvent{OperationID: op.ID, TenantSlug: op.TenantSlug, Stage: catalog.StageFailed, Status: catalog.OperationFailed, Error: "reset by supervisor"})
	}
	return len(stuck), nil
}

// DetectChanges runs just the scan+detect half of RequestSync, for the
// read-only POST /sync/detect-changes endpoint (spec.md §6).
func (m *Manager) DetectChanges(ctx context.Context, tenantSlug string, forceFullSync bool) (catalog.SyncPlan, error) {
	root := m.docsRoot(tenantSlug)
	scanned, err := fsscan.Scan(root, nil)
	if err != nil {
		return catalog.SyncPlan{}, fmt.Errorf("%w: %v", ErrRootUnreadable, err)
	}
	live, err := m.store.LiveFiles(ctx, tenantSlug)
	if err != nil {
		return catalog.SyncPlan{}, fmt.Errorf("syncmanager: list live files: %w", err)
	}
	return changeset.Detect(tenantSlug, scanned, live, forceFullSync), nil
}
