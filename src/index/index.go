// Package index implements the advisory field-value index: a flat
// on-disk mapping from a field's stringified value to the record
// positions that carry it (spec §3, §4.H, §6.1). It collapses the
// teacher's page-file hash/B-tree index engines down to the much
// simpler single JSON sibling file spec §6.1 calls for.
package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"tdbx/src/record"
	"tdbx/src/tdberr"
)

// Index maps a field's stringified value to the positions (within the
// collection) of records carrying that value.
type Index map[string][]int

// FilePath returns the sibling index file path for a (collection, field)
// pair: "<collection>.index.<field>.json" (spec §6.1).
func FilePath(dbDir, collection, field string) string {
	return filepath.Join(dbDir, fmt.Sprintf("%s.index.%s.json", collection, field))
}

// Build streams the collection, mapping each field's stringified value to
// the list of positions that carry it (spec §4.H).
func Build(records []record.Record, field string) Index {
	idx := make(Index)
	for pos, r := range records {
		key := record.Stringify(r[field])
		idx[key] = append(idx[key], pos)
	}
	return idx
}

// Save persists idx as plain JSON at path.
func Save(path string, idx Index) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return tdberr.FileWrite(err, "encoding index %s", path)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return tdberr.FileWrite(err, "writing index %s", path)
	}
	return nil
}

// Load reads a previously built index back from disk.
func Load(path string) (Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, tdberr.FileRead(err, "reading index %s", path)
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, tdberr.DataCorruption(err, "index file %s is not valid JSON", path)
	}
	return idx, nil
}

// Drop removes the on-disk index artifact for (collection, field).
func Drop(dbDir, collection, field string) error {
	path := FilePath(dbDir, collection, field)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return tdberr.FileWrite(err, "removing index %s", path)
	}
	return nil
}

// Registry tracks, per collection, which fields currently have a built
// index in memory, so the filter evaluator and auto-indexing logic can
// check existence without touching disk on every query.
type Registry struct {
	mu      sync.RWMutex
	dbDir   string
	indexes map[string]map[string]Index // collection -> field -> Index
}

// NewRegistry builds a Registry rooted at dbDir.
func NewRegistry(dbDir string) *Registry {
	return &Registry{dbDir: dbDir, indexes: make(map[string]map[string]Index)}
}

// Exists reports whether collection has a built index for field.
func (r *Registry) Exists(collection, field string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fields, ok := r.indexes[collection]
	if !ok {
		return false
	}
	_, ok = fields[field]
	return ok
}

// Get returns the built index for (collection, field), if any.
func (r *Registry) Get(collection, field string) (Index, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fields, ok := r.indexes[collection]
	if !ok {
		return nil, false
	}
	idx, ok := fields[field]
	return idx, ok
}

// BuildAndPersist builds an index over records for field, stores it in
// the registry, and persists it to disk.
func (r *Registry) BuildAndPersist(collection, field string, records []record.Record) error {
	idx := Build(records, field)

	if err := Save(FilePath(r.dbDir, collection, field), idx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	fields, ok := r.indexes[collection]
	if !ok {
		fields = make(map[string]Index)
		r.indexes[collection] = fields
	}
	fields[field] = idx
	return nil
}

// Drop removes both the in-memory and on-disk index for (collection, field).
func (r *Registry) Drop(collection, field string) error {
	r.mu.Lock()
	if fields, ok := r.indexes[collection]; ok {
		delete(fields, field)
	}
	r.mu.Unlock()

	return Drop(r.dbDir, collection, field)
}

// RebuildAll rebuilds every index currently tracked for collection against
// records, keeping index positions in sync after a mutation shifts them
// underneath it (spec §4.D, §4.H).
func (r *Registry) RebuildAll(collection string, records []record.Record) error {
	r.mu.RLock()
	fields := make([]string, 0, len(r.indexes[collection]))
	for field := range r.indexes[collection] {
		fields = append(fields, field)
	}
	r.mu.RUnlock()

	for _, field := range fields {
		if err := r.BuildAndPersist(collection, field, records); err != nil {
			return err
		}
	}
	return nil
}

// DropCollection removes every index tracked for collection, called when
// the collection itself is dropped (spec §3 "Lifecycle").
func (r *Registry) DropCollection(collection string) {
	r.mu.Lock()
	fields := r.indexes[collection]
	delete(r.indexes, collection)
	r.mu.Unlock()

	for field := range fields {
		_ = Drop(r.dbDir, collection, field)
	}
}
