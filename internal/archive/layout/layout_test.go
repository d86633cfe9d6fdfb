package layout

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/archivekeeper/internal/archive/model"
)

func testSource() model.Source {
	return model.Source{SourceType: model.SourceDiscord, ServerID: "123", ServerName: "My Server"}
}

func TestSummaryPaths(t *testing.T) {
	source := testSource()
	period := model.NewDailyPeriod(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), time.UTC)

	md, meta := SummaryPaths("/root/archive", source, period)

	if filepath.Dir(md) != filepath.Dir(meta) {
		t.Fatalf("markdown and sidecar should live in the same directory: %s vs %s", md, meta)
	}
	if filepath.Ext(md) != ".md" {
		t.Errorf("expected .md extension, got %s", md)
	}
	wantDir := filepath.Join("/root/archive", "sources", "discord", "my-server_123", "summaries", "2026", "03")
	if filepath.Dir(md) != wantDir {
		t.Errorf("dir = %s, want %s", filepath.Dir(md), wantDir)
	}
}

func TestImportsDir(t *testing.T) {
	source := testSource()
	got := ImportsDir("/root/archive", source)
	want := filepath.Join("/root/archive", "sources", "discord", "my-server_123", "imports")
	if got != want {
		t.Errorf("ImportsDir = %s, want %s", got, want)
	}
}

func TestSafeJoin_RejectsEscape(t *testing.T) {
	if _, err := SafeJoin("/root/archive", "..", "..", "etc", "passwd"); err == nil {
		t.Fatal("expected SafeJoin to reject a path escaping root")
	}
}

func TestSafeJoin_AllowsNested(t *testing.T) {
	got, err := SafeJoin("/root/archive", "sources", "discord", "manifest.json")
	if err != nil {
		t.Fatalf("SafeJoin: %v", err)
	}
	want := filepath.Join("/root/archive", "sources", "discord", "manifest.json")
	if got != want {
		t.Errorf("SafeJoin = %s, want %s", got, want)
	}
}

func TestAtomicWriteFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "file.json")

	if err := AtomicWriteFile(path, []byte(`{"a":1}`), 0o644); err != nil {
		t.Fatalf("AtomicWriteFile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != `{"a":1}` {
		t.Errorf("content = %q", data)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != filepath.Base(path) {
		t.Errorf("expected only %s in directory, got %v", filepath.Base(path), entries)
	}
}

func TestAtomicWriteFile_OverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.json")

	if err := AtomicWriteFile(path, []byte("first"), 0o644); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := AtomicWriteFile(path, []byte("second"), 0o644); err != nil {
		t.Fatalf("second write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("content = %q, want %q", data, "second")
	}
}
