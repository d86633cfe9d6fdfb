package retention

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/archivekeeper/internal/archive/model"
	"github.com/nextlevelbuilder/archivekeeper/internal/archive/writer"
)

func testSource() model.Source {
	return model.Source{SourceType: model.SourceDiscord, ServerID: "123", ServerName: "My Server"}
}

func seedSummary(t *testing.T, root string, generatedAt time.Time) string {
	t.Helper()
	w := writer.New(root)
	period := model.NewDailyPeriod(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), time.UTC)
	mdPath, err := w.WriteSummary(writer.WriteSummaryInput{
		Source: testSource(), Period: period, Content: "hello",
	})
	if err != nil {
		t.Fatalf("WriteSummary: %v", err)
	}
	metaPath := mdPath[:len(mdPath)-len(".md")] + ".meta.json"
	data, err := os.ReadFile(metaPath)
	if err != nil {
		t.Fatalf("read sidecar: %v", err)
	}
	var meta model.SummaryMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatalf("parse sidecar: %v", err)
	}
	meta.GeneratedAt = &generatedAt
	out, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		t.Fatalf("marshal sidecar: %v", err)
	}
	if err := os.WriteFile(metaPath, out, 0o644); err != nil {
		t.Fatalf("write sidecar: %v", err)
	}
	return mdPath
}

func TestSoftDelete_MovesFilesAndRecordsManifest(t *testing.T) {
	root := t.TempDir()
	mdPath := seedSummary(t, root, time.Now().UTC())

	m := New(root, Config{SoftDeleteGraceDays: 7})
	info, err := m.SoftDelete(mdPath, "manual")
	if err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}
	if info.SummaryID == "" {
		t.Error("expected a non-empty summary id")
	}

	if _, err := os.Stat(mdPath); !os.IsNotExist(err) {
		t.Error("expected original markdown to be moved away")
	}

	deleted, err := m.ListDeleted()
	if err != nil {
		t.Fatalf("ListDeleted: %v", err)
	}
	if len(deleted) != 1 {
		t.Fatalf("ListDeleted = %+v, want 1 entry", deleted)
	}
}

func TestRecover_RestoresOriginalFile(t *testing.T) {
	root := t.TempDir()
	mdPath := seedSummary(t, root, time.Now().UTC())

	m := New(root, Config{SoftDeleteGraceDays: 7})
	info, err := m.SoftDelete(mdPath, "manual")
	if err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}

	ok, err := m.Recover(info.SummaryID)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if !ok {
		t.Fatal("expected Recover to succeed")
	}

	if _, err := os.Stat(mdPath); err != nil {
		t.Errorf("expected %s to be restored: %v", mdPath, err)
	}

	deleted, err := m.ListDeleted()
	if err != nil {
		t.Fatalf("ListDeleted: %v", err)
	}
	if len(deleted) != 0 {
		t.Errorf("expected the manifest entry to be removed after recovery, got %+v", deleted)
	}
}

func TestRecover_UnknownID(t *testing.T) {
	m := New(t.TempDir(), Config{})
	ok, err := m.Recover("does-not-exist")
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if ok {
		t.Error("expected Recover to report false for an unknown id")
	}
}

func TestPermanentDelete_RemovesFilesAndCreatesBackup(t *testing.T) {
	root := t.TempDir()
	mdPath := seedSummary(t, root, time.Now().UTC())

	m := New(root, Config{SoftDeleteGraceDays: 7, ArchiveBeforeDelete: true, ArchiveFormat: FormatZip})
	info, err := m.SoftDelete(mdPath, "manual")
	if err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}

	ok, err := m.PermanentDelete(info.SummaryID)
	if err != nil {
		t.Fatalf("PermanentDelete: %v", err)
	}
	if !ok {
		t.Fatal("expected PermanentDelete to succeed")
	}

	backups, err := os.ReadDir(filepath.Join(root, ".backups"))
	if err != nil {
		t.Fatalf("read backups dir: %v", err)
	}
	if len(backups) != 1 {
		t.Errorf("backups = %+v, want 1 zip archive", backups)
	}

	deleted, err := m.ListDeleted()
	if err != nil {
		t.Fatalf("ListDeleted: %v", err)
	}
	if len(deleted) != 0 {
		t.Errorf("expected manifest to be empty after permanent delete, got %+v", deleted)
	}
}

func TestCleanupExpired_OnlyRemovesPastGrace(t *testing.T) {
	root := t.TempDir()
	mdPath := seedSummary(t, root, time.Now().UTC())

	m := New(root, Config{SoftDeleteGraceDays: 30})
	info, err := m.SoftDelete(mdPath, "manual")
	if err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}

	n, err := m.CleanupExpired()
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if n != 0 {
		t.Errorf("expected nothing expired yet, cleaned %d", n)
	}

	deleted, _ := m.ListDeleted()
	if len(deleted) != 1 || deleted[0].SummaryID != info.SummaryID {
		t.Errorf("expected the entry to still be pending recovery, got %+v", deleted)
	}
}

// TestScenarioS6 reproduces the literal scenario: a soft-deleted summary
// whose permanent_delete_at has already passed. CleanupExpired must remove
// the files under .deleted/, create a backup archive under .backups/, and
// drop the manifest entry.
func TestScenarioS6(t *testing.T) {
	root := t.TempDir()
	mdPath := seedSummary(t, root, time.Now().UTC())

	m := New(root, Config{SoftDeleteGraceDays: 30, ArchiveBeforeDelete: true, ArchiveFormat: FormatZip})
	info, err := m.SoftDelete(mdPath, "manual")
	if err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}

	manifest, err := m.loadManifest()
	if err != nil {
		t.Fatalf("loadManifest: %v", err)
	}
	for i := range manifest.Deleted {
		if manifest.Deleted[i].SummaryID == info.SummaryID {
			manifest.Deleted[i].PermanentDeleteAt = time.Now().UTC().AddDate(0, 0, -1)
		}
	}
	if err := m.saveManifest(manifest); err != nil {
		t.Fatalf("saveManifest: %v", err)
	}

	n, err := m.CleanupExpired()
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("CleanupExpired removed %d, want 1", n)
	}

	safeSourceKey := strings.ReplaceAll(info.SourceKey, ":", "_")
	if _, err := os.Stat(filepath.Join(m.deletedDir(), safeSourceKey, info.Period)); !os.IsNotExist(err) {
		t.Errorf("expected the .deleted/ subtree to be removed, stat err = %v", err)
	}

	backups, err := os.ReadDir(filepath.Join(root, ".backups"))
	if err != nil {
		t.Fatalf("read backups dir: %v", err)
	}
	if len(backups) != 1 {
		t.Errorf("backups = %+v, want 1 archive", backups)
	}

	deleted, err := m.ListDeleted()
	if err != nil {
		t.Fatalf("ListDeleted: %v", err)
	}
	if len(deleted) != 0 {
		t.Errorf("expected the manifest entry to be gone, got %+v", deleted)
	}
}

func TestApplyRetentionPolicy_SoftDeletesOldSummaries(t *testing.T) {
	root := t.TempDir()
	seedSummary(t, root, time.Now().UTC().AddDate(0, 0, -100))

	m := New(root, Config{RetentionDays: 30})
	n, err := m.ApplyRetentionPolicy()
	if err != nil {
		t.Fatalf("ApplyRetentionPolicy: %v", err)
	}
	if n != 1 {
		t.Errorf("ApplyRetentionPolicy soft-deleted %d, want 1", n)
	}
}

func TestApplyRetentionPolicy_DisabledWhenZero(t *testing.T) {
	root := t.TempDir()
	seedSummary(t, root, time.Now().UTC().AddDate(0, 0, -1000))

	m := New(root, Config{RetentionDays: 0})
	n, err := m.ApplyRetentionPolicy()
	if err != nil {
		t.Fatalf("ApplyRetentionPolicy: %v", err)
	}
	if n != 0 {
		t.Errorf("expected a zero RetentionDays to disable the sweep, got %d", n)
	}
}
