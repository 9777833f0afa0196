// Package resolver defines the narrow boundary collaborator between
// dformat's core and whatever fetches/caches plugin bytes from disk or a
// registry — download and checksum verification are explicitly out of
// scope (spec.md §1 Non-goals); dformat only needs the bytes and which
// kind of bridge they require.
package resolver

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/dformat-org/dformat/pkg/plugin"
)

// Resolver turns a plugin key (as named in FormatConfig) into the bytes of
// the plugin artifact and the Kind of bridge that should load them.
type Resolver interface {
	Resolve(ctx context.Context, pluginKey string) ([]byte, plugin.Kind, error)
}

// FilePath is a Resolver backed by a fixed mapping of plugin key to a path
// already present on disk — it performs no network access, no caching,
// and no checksum verification.
type FilePath struct {
	mu    sync.RWMutex
	paths map[string]pathEntry
}

type pathEntry struct {
	path string
	kind plugin.Kind
}

func NewFilePath() *FilePath {
	return &FilePath{paths: map[string]pathEntry{}}
}

// Register associates pluginKey with a path and bridge kind. Typically
// populated from the resolved FormatConfig during CLI startup.
func (f *FilePath) Register(pluginKey, path string, kind plugin.Kind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths[pluginKey] = pathEntry{path: path, kind: kind}
}

// Path returns the raw on-disk path and bridge kind registered for
// pluginKey, without reading its contents — used by callers that need to
// exec the path directly (the process bridge) rather than read bytes
// into a WASM runtime.
func (f *FilePath) Path(pluginKey string) (string, plugin.Kind, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, ok := f.paths[pluginKey]
	return entry.path, entry.kind, ok
}

func (f *FilePath) Resolve(ctx context.Context, pluginKey string) ([]byte, plugin.Kind, error) {
	f.mu.RLock()
	entry, ok := f.paths[pluginKey]
	f.mu.RUnlock()
	if !ok {
		return nil, 0, fmt.Errorf("resolver: no path registered for plugin %q", pluginKey)
	}
	data, err := os.ReadFile(entry.path)
	if err != nil {
		return nil, 0, fmt.Errorf("resolver: reading %s: %w", entry.path, err)
	}
	return data, entry.kind, nil
}

// InMemory is a Resolver for tests: plugin bytes are registered directly.
type InMemory struct {
	mu    sync.RWMutex
	items map[string]inMemEntry
}

type inMemEntry struct {
	data []byte
	kind plugin.Kind
}

func NewInMemory() *InMemory {
	return &InMemory{items: map[string]inMemEntry{}}
}

func (m *InMemory) Register(pluginKey string, data []byte, kind plugin.Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[pluginKey] = inMemEntry{data: data, kind: kind}
}

func (m *InMemory) Resolve(ctx context.Context, pluginKey string) ([]byte, plugin.Kind, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.items[pluginKey]
	if !ok {
		return nil, 0, fmt.Errorf("resolver: no plugin registered for key %q", pluginKey)
	}
	return e.data, e.kind, nil
}
