// Package sync mirrors an archive subtree to an external object store, per
// spec §4.10. Grounded on original_source/archive/sync/base.py's
// SyncProvider/SyncResult/SyncStatus and service.py's ArchiveSyncService,
// generalized from a single Google Drive provider to a closed Provider
// interface so any S3-compatible bucket can back it.
package sync

import (
	"context"
	"time"
)

// Status is the outcome of one sync run.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSuccess    Status = "success"
	StatusPartial    Status = "partial"
	StatusFailed     Status = "failed"
)

// ConflictStrategy decides which side wins when both local and remote
// copies of a file changed.
type ConflictStrategy string

const (
	ConflictLocalWins  ConflictStrategy = "local_wins"
	ConflictRemoteWins ConflictStrategy = "remote_wins"
	ConflictNewestWins ConflictStrategy = "newest"
)

// Config controls one provider instance.
type Config struct {
	Enabled          bool
	SyncDeletes      bool
	ConflictStrategy ConflictStrategy
}

// Result reports what one Sync call did.
type Result struct {
	Status        Status
	FilesSynced   int
	FilesFailed   int
	BytesUploaded int64
	StartedAt     time.Time
	CompletedAt   time.Time
	Errors        []string
}

// FileInfo describes one remote object.
type FileInfo struct {
	Key         string
	Size        int64
	ModifiedAt  time.Time
}

// StatusInfo reports a provider's connectivity and quota.
type StatusInfo struct {
	Provider string
	Enabled  bool
	Error    string
	UsedBytes  int64
	LimitBytes int64
}

// Provider is the closed interface every sync backend satisfies, per spec
// §6.4. A provider mirrors one local subtree to one remote prefix.
type Provider interface {
	Sync(ctx context.Context, localSubtree string) (Result, error)
	Download(ctx context.Context, remotePath, localPath string) error
	Delete(ctx context.Context, remotePath string) error
	List(ctx context.Context, remotePrefix string) ([]FileInfo, error)
	Status(ctx context.Context) (StatusInfo, error)
}

// State is the last known sync outcome for one source, tracked by Manager
// and persisted to sync-state.json between runs.
type State struct {
	SourceKey   string
	LastSync    time.Time
	LastStatus  Status
	FilesSynced int
	TotalBytes  int64
	Errors      []string
}
