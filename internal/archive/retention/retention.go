// Package retention implements soft-delete, grace-period recovery, and
// permanent deletion of archived summaries, per spec §4.9. Grounded on
// original_source/archive/retention.py's RetentionManager.
package retention

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nextlevelbuilder/archivekeeper/internal/archive/layout"
	"github.com/nextlevelbuilder/archivekeeper/internal/archive/model"
)

// ArchiveFormat selects the backup container written before a permanent
// delete, when Config.ArchiveBeforeDelete is set.
type ArchiveFormat string

const (
	FormatZip   ArchiveFormat = "zip"
	FormatTarGz ArchiveFormat = "tar.gz"
)

// Config controls retention policy.
type Config struct {
	RetentionDays       int // 0 = keep forever
	SoftDeleteGraceDays int
	ArchiveBeforeDelete bool
	ArchiveFormat       ArchiveFormat
}

// DeletedSummary records one soft-deleted summary awaiting either recovery
// or permanent deletion.
type DeletedSummary struct {
	SummaryID         string    `json:"summary_id"`
	SourceKey         string    `json:"source_key"`
	Period            string    `json:"period"`
	DeletedAt         time.Time `json:"deleted_at"`
	Reason            string    `json:"reason"`
	PermanentDeleteAt time.Time `json:"permanent_delete_at"`
	BackupPath        string    `json:"backup_path,omitempty"`
	OriginalPath      string    `json:"original_path"`
}

type deletedManifest struct {
	Deleted []DeletedSummary `json:"deleted"`
}

// Manager applies retention policy and manages the soft-delete lifecycle.
type Manager struct {
	root   string
	config Config
}

// New returns a Manager rooted at root with the given policy. Zero-valued
// fields in cfg fall back to spec defaults (30-day grace, zip backups).
func New(root string, cfg Config) *Manager {
	if cfg.SoftDeleteGraceDays == 0 {
		cfg.SoftDeleteGraceDays = 30
	}
	if cfg.ArchiveFormat == "" {
		cfg.ArchiveFormat = FormatZip
	}
	return &Manager{root: root, config: cfg}
}

func (m *Manager) deletedDir() string {
	return filepath.Join(m.root, layout.DeletedDir)
}

func (m *Manager) manifestPath() string {
	return filepath.Join(m.deletedDir(), layout.DeletedManifestFile)
}

// SoftDelete moves mdPath (and its sidecar) into .deleted/, tagged with a
// permanent-delete deadline soft_delete_grace_days out.
func (m *Manager) SoftDelete(mdPath, reason string) (DeletedSummary, error) {
	metaPath := strings.TrimSuffix(mdPath, ".md") + ".meta.json"

	var summaryID, sourceKey, period string
	var meta model.SummaryMetadata
	hasMeta := false
	if data, err := os.ReadFile(metaPath); err == nil {
		if err := json.Unmarshal(data, &meta); err != nil {
			return DeletedSummary{}, fmt.Errorf("parse sidecar %s: %w", metaPath, err)
		}
		hasMeta = true
		summaryID = meta.SummaryID
		if summaryID == "" {
			summaryID = "unknown"
		}
		sourceKey = meta.Source.Key()
		if !meta.Period.Start.IsZero() {
			period = meta.Period.Start.Format("2006-01-02")
		}
	}
	if summaryID == "" {
		summaryID = strings.TrimSuffix(filepath.Base(mdPath), ".md")
	}
	if sourceKey == "" {
		sourceKey = "unknown"
	}
	if period == "" {
		base := filepath.Base(mdPath)
		if len(base) >= 10 {
			period = base[:10]
		} else {
			period = base
		}
	}

	now := time.Now().UTC()
	permanentAt := now.AddDate(0, 0, m.config.SoftDeleteGraceDays)

	safeSource := strings.ReplaceAll(sourceKey, ":", "_")
	destDir := filepath.Join(m.deletedDir(), safeSource, period)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return DeletedSummary{}, fmt.Errorf("create deleted dir: %w", err)
	}

	destMD := filepath.Join(destDir, filepath.Base(mdPath))
	if err := os.Rename(mdPath, destMD); err != nil {
		return DeletedSummary{}, fmt.Errorf("move summary: %w", err)
	}

	if hasMeta {
		destMeta := filepath.Join(destDir, filepath.Base(metaPath))
		if err := os.Rename(metaPath, destMeta); err != nil {
			return DeletedSummary{}, fmt.Errorf("move sidecar: %w", err)
		}
		meta.Status = model.StatusDeleted
		data, err := json.MarshalIndent(meta, "", "  ")
		if err != nil {
			return DeletedSummary{}, fmt.Errorf("marshal sidecar: %w", err)
		}
		if err := layout.AtomicWriteFile(destMeta, data, 0o644); err != nil {
			return DeletedSummary{}, fmt.Errorf("rewrite moved sidecar: %w", err)
		}
	}

	info := DeletedSummary{
		SummaryID:         summaryID,
		SourceKey:         sourceKey,
		Period:            period,
		DeletedAt:         now,
		Reason:            reason,
		PermanentDeleteAt: permanentAt,
		OriginalPath:      mdPath,
	}

	if err := m.appendToManifest(info); err != nil {
		return DeletedSummary{}, err
	}

	slog.Info("soft deleted summary", "path", mdPath, "summary_id", summaryID)
	return info, nil
}

// Recover restores a soft-deleted summary to its original path and marks
// it complete again.
func (m *Manager) Recover(summaryID string) (bool, error) {
	manifest, err := m.loadManifest()
	if err != nil {
		return false, err
	}

	idx := -1
	for i, item := range manifest.Deleted {
		if item.SummaryID == summaryID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, nil
	}
	entry := manifest.Deleted[idx]

	safeSource := strings.ReplaceAll(entry.SourceKey, ":", "_")
	deletedDir := filepath.Join(m.deletedDir(), safeSource, entry.Period)

	mdFiles, err := filepath.Glob(filepath.Join(deletedDir, "*.md"))
	if err != nil {
		return false, err
	}
	if len(mdFiles) == 0 {
		return false, nil
	}
	mdPath := mdFiles[0]
	metaPath := strings.TrimSuffix(mdPath, ".md") + ".meta.json"

	if err := os.MkdirAll(filepath.Dir(entry.OriginalPath), 0o755); err != nil {
		return false, fmt.Errorf("create original dir: %w", err)
	}
	if err := os.Rename(mdPath, entry.OriginalPath); err != nil {
		return false, fmt.Errorf("restore summary: %w", err)
	}

	if _, err := os.Stat(metaPath); err == nil {
		originalMeta := strings.TrimSuffix(entry.OriginalPath, ".md") + ".meta.json"
		if err := os.Rename(metaPath, originalMeta); err != nil {
			return false, fmt.Errorf("restore sidecar: %w", err)
		}

		data, err := os.ReadFile(originalMeta)
		if err != nil {
			return false, err
		}
		var meta model.SummaryMetadata
		if err := json.Unmarshal(data, &meta); err != nil {
			return false, fmt.Errorf("parse restored sidecar: %w", err)
		}
		meta.Status = model.StatusComplete
		out, err := json.MarshalIndent(meta, "", "  ")
		if err != nil {
			return false, err
		}
		if err := layout.AtomicWriteFile(originalMeta, out, 0o644); err != nil {
			return false, err
		}
	}

	manifest.Deleted = append(manifest.Deleted[:idx], manifest.Deleted[idx+1:]...)
	if err := m.saveManifest(manifest); err != nil {
		return false, err
	}

	if entries, err := os.ReadDir(deletedDir); err == nil && len(entries) == 0 {
		_ = os.Remove(deletedDir)
	}

	slog.Info("recovered summary", "summary_id", summaryID)
	return true, nil
}

// PermanentDelete removes a soft-deleted summary's files for good, backing
// them up first if configured to.
func (m *Manager) PermanentDelete(summaryID string) (bool, error) {
	manifest, err := m.loadManifest()
	if err != nil {
		return false, err
	}

	idx := -1
	for i, item := range manifest.Deleted {
		if item.SummaryID == summaryID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, nil
	}
	entry := manifest.Deleted[idx]

	if m.config.ArchiveBeforeDelete {
		if _, err := m.createBackup(entry); err != nil {
			return false, err
		}
	}

	safeSource := strings.ReplaceAll(entry.SourceKey, ":", "_")
	deletedDir := filepath.Join(m.deletedDir(), safeSource, entry.Period)
	if err := os.RemoveAll(deletedDir); err != nil {
		return false, fmt.Errorf("remove deleted dir: %w", err)
	}

	manifest.Deleted = append(manifest.Deleted[:idx], manifest.Deleted[idx+1:]...)
	if err := m.saveManifest(manifest); err != nil {
		return false, err
	}

	slog.Info("permanently deleted summary", "summary_id", summaryID)
	return true, nil
}

// CleanupExpired permanently deletes every soft-deleted summary whose grace
// period has elapsed, returning how many were removed.
func (m *Manager) CleanupExpired() (int, error) {
	manifest, err := m.loadManifest()
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	var expired []string
	for _, item := range manifest.Deleted {
		if !now.Before(item.PermanentDeleteAt) {
			expired = append(expired, item.SummaryID)
		}
	}

	count := 0
	for _, id := range expired {
		ok, err := m.PermanentDelete(id)
		if err != nil {
			return count, err
		}
		if ok {
			count++
		}
	}
	return count, nil
}

// ApplyRetentionPolicy soft-deletes every complete summary older than
// RetentionDays. A zero RetentionDays disables the sweep.
func (m *Manager) ApplyRetentionPolicy() (int, error) {
	if m.config.RetentionDays == 0 {
		return 0, nil
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -m.config.RetentionDays)
	sourcesDir := filepath.Join(m.root, "sources")

	count := 0
	err := filepath.WalkDir(sourcesDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}
		if strings.Contains(path, layout.DeletedDir) {
			return nil
		}

		metaPath := strings.TrimSuffix(path, ".md") + ".meta.json"
		data, err := os.ReadFile(metaPath)
		if err != nil {
			return nil
		}
		var meta model.SummaryMetadata
		if err := json.Unmarshal(data, &meta); err != nil {
			slog.Warn("failed to check retention", "path", path, "error", err)
			return nil
		}
		if meta.GeneratedAt == nil || !meta.GeneratedAt.Before(cutoff) {
			return nil
		}
		if _, err := m.SoftDelete(path, "retention_policy"); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return count, err
	}

	slog.Info("applied retention policy", "soft_deleted", count)
	return count, nil
}

// ListDeleted returns every soft-deleted summary currently tracked.
func (m *Manager) ListDeleted() ([]DeletedSummary, error) {
	manifest, err := m.loadManifest()
	if err != nil {
		return nil, err
	}
	return manifest.Deleted, nil
}

func (m *Manager) loadManifest() (deletedManifest, error) {
	data, err := os.ReadFile(m.manifestPath())
	if err != nil {
		if os.IsNotExist(err) {
			return deletedManifest{Deleted: []DeletedSummary{}}, nil
		}
		return deletedManifest{}, fmt.Errorf("read deleted manifest: %w", err)
	}
	var manifest deletedManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return deletedManifest{}, fmt.Errorf("parse deleted manifest: %w", err)
	}
	return manifest, nil
}

func (m *Manager) saveManifest(manifest deletedManifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal deleted manifest: %w", err)
	}
	return layout.AtomicWriteFile(m.manifestPath(), data, 0o644)
}

func (m *Manager) appendToManifest(info DeletedSummary) error {
	manifest, err := m.loadManifest()
	if err != nil {
		return err
	}
	manifest.Deleted = append(manifest.Deleted, info)
	return m.saveManifest(manifest)
}

// createBackup archives a soft-deleted summary's directory into .backups/
// before it is permanently removed.
func (m *Manager) createBackup(entry DeletedSummary) (string, error) {
	safeSource := strings.ReplaceAll(entry.SourceKey, ":", "_")
	deletedDir := filepath.Join(m.deletedDir(), safeSource, entry.Period)

	if _, err := os.Stat(deletedDir); err != nil {
		return "", nil
	}

	backupDir := filepath.Join(m.root, layout.BackupsDir)
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return "", fmt.Errorf("create backups dir: %w", err)
	}

	timestamp := time.Now().UTC().Format("20060102_150405")
	backupName := fmt.Sprintf("%s_%s_%s", safeSource, entry.Period, timestamp)

	entries, err := os.ReadDir(deletedDir)
	if err != nil {
		return "", err
	}

	var backupPath string
	if m.config.ArchiveFormat == FormatTarGz {
		backupPath = filepath.Join(backupDir, backupName+".tar.gz")
		if err := writeTarGz(backupPath, deletedDir, entries); err != nil {
			return "", err
		}
	} else {
		backupPath = filepath.Join(backupDir, backupName+".zip")
		if err := writeZip(backupPath, deletedDir, entries); err != nil {
			return "", err
		}
	}

	slog.Info("created retention backup", "path", backupPath)
	return backupPath, nil
}

func writeZip(backupPath, srcDir string, entries []os.DirEntry) error {
	out, err := os.Create(backupPath)
	if err != nil {
		return fmt.Errorf("create backup zip: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := addFileToZip(zw, filepath.Join(srcDir, e.Name()), e.Name()); err != nil {
			zw.Close()
			return err
		}
	}
	return zw.Close()
}

func addFileToZip(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

func writeTarGz(backupPath, srcDir string, entries []os.DirEntry) error {
	out, err := os.Create(backupPath)
	if err != nil {
		return fmt.Errorf("create backup tar.gz: %w", err)
	}
	defer out.Close()

	gw := gzip.NewWriter(out)
	tw := tar.NewWriter(gw)

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := addFileToTar(tw, filepath.Join(srcDir, e.Name()), e.Name()); err != nil {
			tw.Close()
			gw.Close()
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gw.Close()
}

func addFileToTar(tw *tar.Writer, path, name string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}
