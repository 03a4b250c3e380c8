// Package catalog implements the durable relational store of tenants,
// files, chunks, and sync operations. It is the single transactional
// store for both metadata and vectors (see DESIGN.md on why a separate
// vector store was dropped): one engine, one transaction, one commit.
package catalog

import "time"

// SyncStatus is the lifecycle state of a File row.
type SyncStatus string

const (
	SyncStatusPending    SyncStatus = "pending"
	SyncStatusProcessing SyncStatus = "processing"
	SyncStatusSynced     SyncStatus = "synced"
	SyncStatusFailed     SyncStatus = "failed"
)

// OperationType distinguishes a delta sync from a forced full sync.
type OperationType string

const (
	OperationDelta OperationType = "delta"
	OperationFull  OperationType = "full"
)

// OperationStatus is the terminal/non-terminal state of a SyncOperation.
type OperationStatus string

const (
	OperationRunning   OperationStatus = "running"
	OperationCompleted OperationStatus = "completed"
	OperationFailed    OperationStatus = "failed"
	OperationCancelled OperationStatus = "cancelled"
)

// ProgressStage tracks where the executor state machine currently is.
type ProgressStage string

const (
	StageInitializing     ProgressStage = "initializing"
	StageDetectingChanges ProgressStage = "detecting_changes"
	StageProcessingFiles  ProgressStage = "processing_files"
	StageFinalizing       ProgressStage = "finalizing"
	StageCompleted        ProgressStage = "completed"
	StageFailed           ProgressStage = "failed"
)

// Tenant is an isolated namespace of files, chunks, and sync operations.
type Tenant struct {
	Slug        string
	DisplayName string
	APIKey      string
	CreatedAt   time.Time
}

// File is one catalogued document under a tenant's document root.
type File struct {
	ID              string
	TenantSlug      string
	Filename        string
	RelativePath    string
	SizeBytes       int64
	ContentHash     string
	MimeType        string
	SyncStatus      SyncStatus
	SyncStartedAt   *time.Time
	SyncCompletedAt *time.Time
	SyncError       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       *time.Time
}

// Chunk is a bounded, overlapping window of a file's text with its
// embedding vector.
type Chunk struct {
	ID             string
	FileID         string
	TenantSlug     string
	ChunkIndex     int
	Text           string
	TextHash       string
	TokenCount     int
	Embedding      []float32
	EmbeddingModel string
	CreatedAt      time.Time
}

// SyncOperation is the persisted record of one reconciliation attempt.
type SyncOperation struct {
	ID                     string
	TenantSlug             string
	OperationType          OperationType
	Status                 OperationStatus
	StartedAt              time.Time
	CompletedAt            *time.Time
	HeartbeatAt            time.Time
	ExpectedDurationSecs   int
	ProgressStage          ProgressStage
	ProgressPercentage     int
	TotalFilesToProcess    int
	CurrentFileIndex       int
	FilesAdded             int
	FilesUpdated           int
	FilesDeleted           int
	ChunksCreated          int
	ChunksDeleted          int
	ErrorMessage           string
}

// ChangeKind tags the variant a FileChange carries.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

// FileChange is the tagged union spec.md §9 asks for in place of an
// inheritance hierarchy: only the fields relevant to Kind are populated.
type FileChange struct {
	Kind         ChangeKind
	RelativePath string
	FileID       string // populated for Updated/Deleted
	OldHash      string // populated for Updated/Deleted
	NewHash      string // populated for Created/Updated
	Size         int64  // populated for Created/Updated
}

// SyncPlan is the in-memory output of the change detector. It is never
// persisted or resumed across a restart; on restart it is recomputed.
type SyncPlan struct {
	TenantSlug string
	Changes    []FileChange
}

func (p SyncPlan) TotalChanges() int { return len(p.Changes) }

func (p SyncPlan) CountByKind(k ChangeKind) int {
	n := 0
	for _, c := range p.Changes {
		if c.Kind == k {
			n++
		}
	}
	return n
}
