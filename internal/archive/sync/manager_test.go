package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/archivekeeper/internal/archive/model"
	"github.com/nextlevelbuilder/archivekeeper/internal/archive/registry"
)

type fakeProvider struct {
	result Result
	err    error
}

func (f *fakeProvider) Sync(ctx context.Context, localSubtree string) (Result, error) {
	return f.result, f.err
}
func (f *fakeProvider) Download(ctx context.Context, remotePath, localPath string) error { return nil }
func (f *fakeProvider) Delete(ctx context.Context, remotePath string) error              { return nil }
func (f *fakeProvider) List(ctx context.Context, remotePrefix string) ([]FileInfo, error) {
	return nil, nil
}
func (f *fakeProvider) Status(ctx context.Context) (StatusInfo, error) { return StatusInfo{}, nil }

func TestSyncSource_RecordsStateOnSuccess(t *testing.T) {
	root := t.TempDir()
	reg := registry.New(root)
	provider := &fakeProvider{result: Result{Status: StatusSuccess, FilesSynced: 3, BytesUploaded: 1024}}
	m := NewManager(root, provider, reg)

	result, err := m.SyncSource(context.Background(), "discord:123", root)
	if err != nil {
		t.Fatalf("SyncSource: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Errorf("Status = %s, want success", result.Status)
	}

	state, ok := m.SourceStatus("discord:123")
	if !ok {
		t.Fatal("expected state to be recorded")
	}
	if state.FilesSynced != 3 || state.TotalBytes != 1024 {
		t.Errorf("state = %+v, want FilesSynced=3 TotalBytes=1024", state)
	}
}

func TestSyncSource_NoProviderFails(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root, nil, registry.New(root))

	_, err := m.SyncSource(context.Background(), "discord:123", root)
	if err == nil {
		t.Fatal("expected an error when no provider is configured")
	}
	state, ok := m.SourceStatus("discord:123")
	if !ok || state.LastStatus != StatusFailed {
		t.Errorf("expected a failed state to be recorded, got %+v (ok=%v)", state, ok)
	}
}

func TestSyncAll_DiscoversAndSyncsEverySource(t *testing.T) {
	root := t.TempDir()
	source := model.Source{SourceType: model.SourceDiscord, ServerID: "123", ServerName: "My Server"}
	if err := os.MkdirAll(source.SummariesDir(root), 0o755); err != nil {
		t.Fatalf("seed source dir: %v", err)
	}

	reg := registry.New(root)
	provider := &fakeProvider{result: Result{Status: StatusSuccess, FilesSynced: 1}}
	m := NewManager(root, provider, reg)

	results, err := m.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %+v, want 1 source synced", results)
	}
	if results[source.Key()].Status != StatusSuccess {
		t.Errorf("result = %+v, want success", results[source.Key()])
	}
}

func TestNewManager_LoadsPersistedStateAcrossInstances(t *testing.T) {
	root := t.TempDir()
	provider := &fakeProvider{result: Result{Status: StatusSuccess, FilesSynced: 2}}

	m1 := NewManager(root, provider, registry.New(root))
	if _, err := m1.SyncSource(context.Background(), "discord:123", root); err != nil {
		t.Fatalf("SyncSource: %v", err)
	}

	m2 := NewManager(root, provider, registry.New(root))
	state, ok := m2.SourceStatus("discord:123")
	if !ok {
		t.Fatal("expected state persisted by m1 to be visible from a fresh Manager")
	}
	if state.FilesSynced != 2 {
		t.Errorf("FilesSynced = %d, want 2", state.FilesSynced)
	}
	if m2.LastSyncFor("discord:123").IsZero() {
		t.Error("expected a non-zero LastSyncFor after reload")
	}
}

func TestListStates_ReturnsAllTracked(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root, &fakeProvider{result: Result{Status: StatusSuccess}}, registry.New(root))

	if _, err := m.SyncSource(context.Background(), "discord:1", filepath.Join(root, "a")); err != nil {
		t.Fatalf("SyncSource: %v", err)
	}
	if _, err := m.SyncSource(context.Background(), "discord:2", filepath.Join(root, "b")); err != nil {
		t.Fatalf("SyncSource: %v", err)
	}

	states := m.ListStates()
	if len(states) != 2 {
		t.Errorf("ListStates = %+v, want 2 entries", states)
	}
}
