// Package cache persists instrument categories between runs so the
// classification oracle is only asked about instruments it has not seen.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rumor-ml/commons.systems/tradesync/internal/domain"
)

// Store maps instrument names to categories.
//
// Set may buffer; callers must Flush before exit for the entries to survive.
type Store interface {
	Get(ctx context.Context, name string) (domain.Category, bool, error)
	Set(ctx context.Context, name string, category domain.Category) error
	Snapshot(ctx context.Context) (map[string]domain.Category, error)
	Flush(ctx context.Context) error
}

// Open selects a store from a "kind:target" spec:
//
//	json:config/sector_cache.json
//	sqlite:config/sector_cache.db
//	memory:
//
// A spec without a kind is treated as a JSON file path. Firestore-backed
// caches are opened by the firestore package.
func Open(spec string) (Store, error) {
	kind, target, found := strings.Cut(spec, ":")
	if !found {
		kind, target = "json", spec
	}
	switch kind {
	case "json":
		return OpenJSONFile(target)
	case "sqlite":
		return OpenSQLite(target)
	case "memory":
		return NewMemory(nil), nil
	default:
		return nil, fmt.Errorf("unknown cache kind %q (want json, sqlite or memory)", kind)
	}
}

// Memory is an in-process Store.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]domain.Category
}

// NewMemory returns a Memory seeded with a copy of entries.
func NewMemory(entries map[string]domain.Category) *Memory {
	m := &Memory{entries: make(map[string]domain.Category, len(entries))}
	for k, v := range entries {
		m.entries[k] = v
	}
	return m
}

func (m *Memory) Get(_ context.Context, name string) (domain.Category, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.entries[name]
	return c, ok, nil
}

func (m *Memory) Set(_ context.Context, name string, category domain.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[name] = category
	return nil
}

func (m *Memory) Snapshot(_ context.Context) (map[string]domain.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]domain.Category, len(m.entries))
	for k, v := range m.entries {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) Flush(context.Context) error { return nil }

// JSONFile keeps the cache in memory and writes it to a flat
// {"name": "category"} JSON object on Flush.
type JSONFile struct {
	*Memory
	path  string
	dirty bool
}

// OpenJSONFile loads path if it exists. A missing file starts an empty cache.
// Entries whose category is not a known category are dropped.
func OpenJSONFile(path string) (*JSONFile, error) {
	if path == "" {
		return nil, fmt.Errorf("cache path is required")
	}
	f := &JSONFile{Memory: NewMemory(nil), path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse cache file %s: %w", path, err)
	}
	for name, c := range raw {
		if domain.ValidateCategory(domain.Category(c)) {
			f.entries[name] = domain.Category(c)
		}
	}
	return f, nil
}

func (f *JSONFile) Set(ctx context.Context, name string, category domain.Category) error {
	if err := f.Memory.Set(ctx, name, category); err != nil {
		return err
	}
	f.mu.Lock()
	f.dirty = true
	f.mu.Unlock()
	return nil
}

// Flush writes the cache atomically: a temp file is written, then renamed
// over the target. Nothing is written when no entry changed.
func (f *JSONFile) Flush(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.dirty {
		return nil
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(f.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache: %w", err)
	}

	tempFile := f.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempFile, f.path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	f.dirty = false
	return nil
}
