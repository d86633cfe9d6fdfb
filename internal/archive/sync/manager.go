package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nextlevelbuilder/archivekeeper/internal/archive/layout"
	"github.com/nextlevelbuilder/archivekeeper/internal/archive/registry"
)

// Manager coordinates Provider runs across every discovered source,
// persisting per-source state to sync-state.json so that "is this source's
// sync_frequency due yet" survives across CLI invocations. Grounded on
// original_source/archive/sync/service.py's ArchiveSyncService, narrowed
// from a multi-provider registry to the single configured Provider since
// this module ships one concrete backend.
type Manager struct {
	root      string
	provider  Provider
	reg       *registry.Registry
	statePath string

	mu     sync.Mutex
	states map[string]State
}

// NewManager returns a Manager that mirrors root's "sources" tree through
// provider. reg is used to enumerate sources for SyncAll. Prior state is
// loaded from root's sync-state.json, if present.
func NewManager(root string, provider Provider, reg *registry.Registry) *Manager {
	m := &Manager{
		root:      root,
		provider:  provider,
		reg:       reg,
		statePath: filepath.Join(root, "sync-state.json"),
		states:    map[string]State{},
	}
	m.loadState()
	return m
}

func (m *Manager) loadState() {
	data, err := os.ReadFile(m.statePath)
	if err != nil {
		return
	}
	var states map[string]State
	if err := json.Unmarshal(data, &states); err != nil {
		return
	}
	m.states = states
}

// saveState persists the tracked states atomically. Callers must hold m.mu.
func (m *Manager) saveState() error {
	data, err := json.MarshalIndent(m.states, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sync state: %w", err)
	}
	return layout.AtomicWriteFile(m.statePath, data, 0o644)
}

// SourceStatus returns the last recorded sync state for sourceKey.
func (m *Manager) SourceStatus(sourceKey string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[sourceKey]
	return s, ok
}

// ListStates returns every tracked source's last sync state.
func (m *Manager) ListStates() []State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]State, 0, len(m.states))
	for _, s := range m.states {
		out = append(out, s)
	}
	return out
}

// SyncSource mirrors localPath through the provider and records the
// outcome under sourceKey (a source key such as "discord:123").
func (m *Manager) SyncSource(ctx context.Context, sourceKey, localPath string) (Result, error) {
	if m.provider == nil {
		result := Result{Status: StatusFailed, Errors: []string{"sync provider not configured"}}
		m.recordState(sourceKey, result)
		return result, fmt.Errorf("sync: no provider configured")
	}

	result, err := m.provider.Sync(ctx, localPath)
	if err != nil {
		result.Status = StatusFailed
		result.Errors = append(result.Errors, err.Error())
	}
	m.recordState(sourceKey, result)
	return result, err
}

func (m *Manager) recordState(sourceKey string, result Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.states[sourceKey]
	state.SourceKey = sourceKey
	state.LastSync = time.Now().UTC()
	state.LastStatus = result.Status
	state.FilesSynced = result.FilesSynced
	state.TotalBytes += result.BytesUploaded
	if len(result.Errors) > 0 {
		if len(result.Errors) > 5 {
			result.Errors = result.Errors[:5]
		}
		state.Errors = result.Errors
	}
	m.states[sourceKey] = state
	if err := m.saveState(); err != nil {
		// State is advisory (used only to gate --if-due); a failed write
		// here must not fail the sync that already succeeded.
		_ = err
	}
}

// LastSyncFor returns the persisted last-sync time for sourceKey, the zero
// time if never synced.
func (m *Manager) LastSyncFor(sourceKey string) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[sourceKey].LastSync
}

// SyncAll discovers every source under root and syncs each in turn,
// returning results keyed by source key. Grounded on service.py's
// sync_all, which walks sources/<type>/<folder> the same way.
func (m *Manager) SyncAll(ctx context.Context) (map[string]Result, error) {
	sources, err := m.reg.DiscoverSources()
	if err != nil {
		return nil, fmt.Errorf("discover sources: %w", err)
	}

	results := make(map[string]Result, len(sources))
	for _, source := range sources {
		localPath := filepath.Join(m.root, "sources", string(source.SourceType), source.FolderName())
		result, err := m.SyncSource(ctx, source.Key(), localPath)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
		}
		results[source.Key()] = result
	}
	return results, nil
}
