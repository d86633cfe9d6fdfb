// Package layout derives on-disk paths for the archive (spec §4.1 / §6.1)
// and provides the atomic-write primitive every other archive package
// builds on, grounded on internal/sessions.Manager.Save's
// temp-file-then-rename pattern.
package layout

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nextlevelbuilder/archivekeeper/internal/archive/model"
)

// Well-known root-relative paths (spec §6.1).
const (
	ManifestFile      = "manifest.json"
	CostLedgerFile    = "cost-ledger.json"
	PricingHistoryFile = "pricing-history.json"
	DeletedDir        = ".deleted"
	BackupsDir        = ".backups"
	TokensDir         = ".tokens"
	DeletedManifestFile = "deleted-manifest.json"
)

// SummaryPaths returns the Markdown and sidecar paths for a (source, period)
// slot under root.
func SummaryPaths(root string, source model.Source, period model.Period) (mdPath, metaPath string) {
	dateDir := filepath.Join(source.SummariesDir(root), period.Start.Format("2006"), period.Start.Format("01"))
	stem := period.FilenameStem()
	return filepath.Join(dateDir, stem+".md"), filepath.Join(dateDir, stem+".meta.json")
}

// ManifestPath returns the path to a source's platform-specific manifest.
func ManifestPath(root string, source model.Source) string {
	base := filepath.Join(root, "sources", string(source.SourceType), source.FolderName())
	return filepath.Join(base, source.ManifestFilename())
}

// SourceDir returns a source's base directory, independent of any channel
// or summaries subpath.
func SourceDir(root string, source model.Source) string {
	return filepath.Join(root, "sources", string(source.SourceType), source.FolderName())
}

// ImportsDir returns the directory holding a source's raw chat-history
// imports (e.g. WhatsApp .txt/JSON exports), per spec §4.2.
func ImportsDir(root string, source model.Source) string {
	return filepath.Join(SourceDir(root, source), "imports")
}

// SafeJoin joins root with a relative path, rejecting any result that
// escapes root — guards against a malformed source/period producing a path
// traversal, mirroring internal/sessions.Manager's sanitizeFilename +
// filepath.IsLocal validation before any file is touched.
func SafeJoin(root string, elem ...string) (string, error) {
	joined := filepath.Join(append([]string{root}, elem...)...)
	rel, err := filepath.Rel(root, joined)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: path escapes archive root", os.ErrInvalid)
	}
	return joined, nil
}

// AtomicWriteFile writes data to path via a temp sibling file and rename,
// so readers never observe a partial write. The parent directory is
// created if necessary.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	cleanup = false
	return nil
}
