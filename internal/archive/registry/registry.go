// Package registry is the platform-agnostic source registry described in
// spec §4.5, grounded on original_source/archive/sources.py's SourceRegistry.
package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/archivekeeper/internal/archive/layout"
	"github.com/nextlevelbuilder/archivekeeper/internal/archive/model"
)

// Registry tracks known sources and their manifests under one archive root.
// Safe for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	archiveRoot  string
	sources      map[string]model.Source
	manifests    map[string]model.SourceManifest
}

// New returns an empty Registry rooted at archiveRoot.
func New(archiveRoot string) *Registry {
	return &Registry{
		archiveRoot: archiveRoot,
		sources:     map[string]model.Source{},
		manifests:   map[string]model.SourceManifest{},
	}
}

// RegisterSource adds or replaces a source in the in-memory registry.
func (r *Registry) RegisterSource(source model.Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[source.Key()] = source
	slog.Info("registered source", "source_key", source.Key())
}

// GetSource returns the source for sourceKey, if registered.
func (r *Registry) GetSource(sourceKey string) (model.Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[sourceKey]
	return s, ok
}

// ListSources returns every registered source, optionally filtered by type.
// A zero sourceType returns all sources.
func (r *Registry) ListSources(sourceType model.SourceType) []model.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Source, 0, len(r.sources))
	for _, s := range r.sources {
		if sourceType != "" && s.SourceType != sourceType {
			continue
		}
		out = append(out, s)
	}
	return out
}

// GetManifest returns sourceKey's manifest, loading it from disk on first
// access and caching it thereafter.
func (r *Registry) GetManifest(sourceKey string) (model.SourceManifest, bool, error) {
	r.mu.RLock()
	if m, ok := r.manifests[sourceKey]; ok {
		r.mu.RUnlock()
		return m, true, nil
	}
	source, ok := r.sources[sourceKey]
	r.mu.RUnlock()
	if !ok {
		return model.SourceManifest{}, false, nil
	}

	path := layout.ManifestPath(r.archiveRoot, source)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.SourceManifest{}, false, nil
		}
		return model.SourceManifest{}, false, fmt.Errorf("read manifest %s: %w", path, err)
	}

	var m model.SourceManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return model.SourceManifest{}, false, fmt.Errorf("parse manifest %s: %w", path, err)
	}

	r.mu.Lock()
	r.manifests[sourceKey] = m
	r.mu.Unlock()
	return m, true, nil
}

// SaveManifest persists manifest for a registered source and refreshes the
// in-memory cache.
func (r *Registry) SaveManifest(sourceKey string, manifest model.SourceManifest) error {
	r.mu.RLock()
	source, ok := r.sources[sourceKey]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("source not registered: %s", sourceKey)
	}

	path := layout.ManifestPath(r.archiveRoot, source)
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := layout.AtomicWriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write manifest %s: %w", path, err)
	}

	r.mu.Lock()
	r.manifests[sourceKey] = manifest
	r.mu.Unlock()
	slog.Info("saved manifest", "source_key", sourceKey)
	return nil
}

// DiscoverSources walks <root>/sources/<type>/<folder>[/channels/<folder>]
// and registers every source it finds, returning the discovered list.
func (r *Registry) DiscoverSources() ([]model.Source, error) {
	sourcesPath := filepath.Join(r.archiveRoot, "sources")
	entries, err := os.ReadDir(sourcesPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sources dir: %w", err)
	}

	var discovered []model.Source
	for _, typeDir := range entries {
		if !typeDir.IsDir() {
			continue
		}
		sourceType := model.SourceType(typeDir.Name())
		if !model.ValidSourceType(sourceType) {
			slog.Warn("unknown source type directory", "name", typeDir.Name())
			continue
		}

		serverDirs, err := os.ReadDir(filepath.Join(sourcesPath, typeDir.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s sources: %w", typeDir.Name(), err)
		}
		for _, serverDir := range serverDirs {
			if !serverDir.IsDir() {
				continue
			}
			serverName, serverID, ok := splitFolderName(serverDir.Name())
			if !ok {
				continue
			}

			channelsDir := filepath.Join(sourcesPath, typeDir.Name(), serverDir.Name(), "channels")
			channelEntries, err := os.ReadDir(channelsDir)
			if err != nil {
				if !os.IsNotExist(err) {
					return nil, fmt.Errorf("read channels dir: %w", err)
				}
				source := model.Source{SourceType: sourceType, ServerID: serverID, ServerName: serverName}
				r.RegisterSource(source)
				discovered = append(discovered, source)
				continue
			}

			for _, channelDir := range channelEntries {
				if !channelDir.IsDir() {
					continue
				}
				channelName, channelID, ok := splitFolderName(channelDir.Name())
				if !ok {
					continue
				}
				source := model.Source{
					SourceType:  sourceType,
					ServerID:    serverID,
					ServerName:  serverName,
					ChannelID:   channelID,
					ChannelName: channelName,
				}
				r.RegisterSource(source)
				discovered = append(discovered, source)
			}
		}
	}

	slog.Info("discovered sources", "count", len(discovered))
	return discovered, nil
}

// splitFolderName reverses Source.FolderName: "{name}_{id}" split on the
// last underscore, matching original_source's rfind('_') parsing.
func splitFolderName(folder string) (name, id string, ok bool) {
	idx := strings.LastIndex(folder, "_")
	if idx < 0 {
		return "", "", false
	}
	return folder[:idx], folder[idx+1:], true
}

// GetArchiveManifest loads the root manifest.json, or returns a fresh one
// if it does not yet exist.
func (r *Registry) GetArchiveManifest() (model.ArchiveManifest, error) {
	path := filepath.Join(r.archiveRoot, layout.ManifestFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.NewArchiveManifest(), nil
		}
		return model.ArchiveManifest{}, fmt.Errorf("read archive manifest: %w", err)
	}
	var m model.ArchiveManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return model.ArchiveManifest{}, fmt.Errorf("parse archive manifest: %w", err)
	}
	return m, nil
}

// SaveArchiveManifest persists the root manifest.json, stamping LastUpdated.
func (r *Registry) SaveArchiveManifest(manifest model.ArchiveManifest) error {
	manifest.LastUpdated = time.Now().UTC()
	path := filepath.Join(r.archiveRoot, layout.ManifestFile)
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal archive manifest: %w", err)
	}
	return layout.AtomicWriteFile(path, data, 0o644)
}

// UpdateArchiveManifest rebuilds the root manifest's source list from the
// registry's current in-memory sources, counting Markdown files on disk.
func (r *Registry) UpdateArchiveManifest() error {
	manifest, err := r.GetArchiveManifest()
	if err != nil {
		return err
	}

	r.mu.RLock()
	sources := make([]model.Source, 0, len(r.sources))
	for _, s := range r.sources {
		sources = append(sources, s)
	}
	r.mu.RUnlock()

	manifest.Sources = make([]model.SourceSummary, 0, len(sources))
	for _, source := range sources {
		summary := model.SourceSummary{
			SourceType: source.SourceType,
			ServerID:   source.ServerID,
			ServerName: source.ServerName,
			Folder:     fmt.Sprintf("%s/%s", source.SourceType, source.FolderName()),
		}

		count, err := countMarkdown(source.SummariesDir(r.archiveRoot))
		if err == nil {
			summary.SummaryCount = count
		}
		manifest.Sources = append(manifest.Sources, summary)
	}

	return r.SaveArchiveManifest(manifest)
}

func countMarkdown(dir string) (int, error) {
	n := 0
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".md") {
			n++
		}
		return nil
	})
	if os.IsNotExist(err) {
		return 0, nil
	}
	return n, err
}
