// Package lock implements the at-most-one-concurrent-generation TTL lock
// described in spec §4.3, grounded on original_source/archive/locking.py.
package lock

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nextlevelbuilder/archivekeeper/internal/archive/layout"
	"github.com/nextlevelbuilder/archivekeeper/internal/archive/model"
)

// DefaultTTL is the default lock lease duration.
const DefaultTTL = 300 * time.Second

// Manager arbitrates concurrent workers over sidecar files.
type Manager struct {
	ttl      time.Duration
	workerID string
}

// New returns a Manager with the given TTL (DefaultTTL if zero) and
// worker ID (defaults to "worker-<pid>" if empty).
func New(ttl time.Duration, workerID string) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if workerID == "" {
		workerID = fmt.Sprintf("worker-%d", os.Getpid())
	}
	return &Manager{ttl: ttl, workerID: workerID}
}

// Acquire attempts to take the lock on metaPath for jobID, per spec §4.3's
// four cases. Returns ("", nil) when the lock is refused (not an error).
func (m *Manager) Acquire(metaPath string, jobID string) (string, error) {
	meta, err := readMeta(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return jobID, m.writeLock(metaPath, model.SummaryMetadata{
				Status: model.StatusGenerating,
			}, jobID)
		}
		return "", err
	}

	switch meta.Status {
	case model.StatusComplete:
		return "", nil
	case model.StatusGenerating:
		if meta.Lock != nil && !meta.Lock.IsExpired() {
			return "", nil
		}
		if meta.Lock != nil {
			slog.Warn("taking over expired lock", "meta_path", metaPath, "prior_job_id", meta.Lock.JobID)
		}
		return jobID, m.writeLock(metaPath, meta, jobID)
	default: // pending, incomplete, or an expired generating lock already handled above
		return jobID, m.writeLock(metaPath, meta, jobID)
	}
}

func (m *Manager) writeLock(metaPath string, meta model.SummaryMetadata, jobID string) error {
	now := time.Now().UTC()
	meta.Status = model.StatusGenerating
	meta.Lock = &model.GenerationLock{
		JobID:      jobID,
		AcquiredAt: now,
		AcquiredBy: m.workerID,
		ExpiresAt:  now.Add(m.ttl),
	}
	return writeMeta(metaPath, meta)
}

// Release sets status to the supplied terminal value, clears the lock, and
// atomically replaces the sidecar. extra fields, if non-nil, are merged by
// the caller before calling Release — Release itself only clears the lock
// and sets status.
func (m *Manager) Release(metaPath string, status model.SummaryStatus) error {
	meta, err := readMeta(metaPath)
	if err != nil {
		return err
	}
	meta.Status = status
	meta.Lock = nil
	return writeMeta(metaPath, meta)
}

// Extend refreshes expires_at iff the caller owns the lock.
func (m *Manager) Extend(metaPath, jobID string, delta time.Duration) error {
	meta, err := readMeta(metaPath)
	if err != nil {
		return err
	}
	if meta.Lock == nil || meta.Lock.JobID != jobID {
		return fmt.Errorf("extend lock: not held by %s", jobID)
	}
	meta.Lock.ExpiresAt = meta.Lock.ExpiresAt.Add(delta)
	return writeMeta(metaPath, meta)
}

// ForceRelease is the admin path: reset a sidecar to pending regardless of
// current state.
func (m *Manager) ForceRelease(metaPath string) error {
	meta, err := readMeta(metaPath)
	if err != nil {
		return err
	}
	meta.Status = model.StatusPending
	meta.Lock = nil
	return writeMeta(metaPath, meta)
}

// CleanupExpiredLocks walks every sidecar under root and rewrites any with
// an expired lock back to pending.
func (m *Manager) CleanupExpiredLocks(root string) (int, error) {
	n := 0
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".json" || !isMetaFile(path) {
			return nil
		}
		meta, err := readMeta(path)
		if err != nil {
			slog.Warn("skipping malformed sidecar during lock sweep", "path", path, "error", err)
			return nil
		}
		if meta.Status == model.StatusGenerating && meta.Lock != nil && meta.Lock.IsExpired() {
			meta.Status = model.StatusPending
			meta.Lock = nil
			if err := writeMeta(path, meta); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

func isMetaFile(path string) bool {
	const suffix = ".meta.json"
	return len(path) >= len(suffix) && path[len(path)-len(suffix):] == suffix
}

func readMeta(path string) (model.SummaryMetadata, error) {
	var meta model.SummaryMetadata
	data, err := os.ReadFile(path)
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("parse sidecar %s: %w", path, err)
	}
	return meta, nil
}

func writeMeta(path string, meta model.SummaryMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sidecar: %w", err)
	}
	return layout.AtomicWriteFile(path, data, 0o644)
}
