// Package alias keeps the in-memory lookup from normalized names to entities.
package alias

import (
	"context"
	"sync"

	"github.com/siherrmann/resolver/model"
)

// Source loads the entries the index is warmed from.
type Source interface {
	SelectIndexEntries(ctx context.Context) ([]model.IndexEntry, error)
}

type key struct {
	entityType model.EntityType
	text       string
}

// holders maps the entities owning a key to whether they own it as an alias only.
type holders map[int64]bool

// Lookup is the result of an index lookup.
type Lookup struct {
	EntityID int64
	IsAlias  bool
	// Ambiguous is set when more than one entity of the type owns the key.
	Ambiguous bool
	Found     bool
}

// Index maps (type, normalized text) to the entities whose display name or alias it is.
// It is safe for concurrent use.
type Index struct {
	mu      sync.RWMutex
	entries map[key]holders
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{entries: make(map[key]holders)}
}

// Load replaces the content of the index with the entries of source.
func (i *Index) Load(ctx context.Context, source Source) error {
	entries, err := source.SelectIndexEntries(ctx)
	if err != nil {
		return err
	}

	fresh := make(map[key]holders, len(entries))
	for _, e := range entries {
		addTo(fresh, e)
	}

	i.mu.Lock()
	i.entries = fresh
	i.mu.Unlock()
	return nil
}

// Add registers a display name or alias of an entity.
func (i *Index) Add(entry model.IndexEntry) {
	if entry.NormalizedText == "" {
		return
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	addTo(i.entries, entry)
}

func addTo(entries map[key]holders, entry model.IndexEntry) {
	k := key{entityType: entry.Type, text: entry.NormalizedText}
	h, ok := entries[k]
	if !ok {
		h = holders{}
		entries[k] = h
	}
	// A display name wins over an alias of the same entity
	if aliasOnly, exists := h[entry.EntityID]; exists {
		h[entry.EntityID] = aliasOnly && entry.IsAlias
		return
	}
	h[entry.EntityID] = entry.IsAlias
}

// Get looks up a normalized name within a type.
func (i *Index) Get(entityType model.EntityType, normalizedText string) Lookup {
	i.mu.RLock()
	defer i.mu.RUnlock()

	h := i.entries[key{entityType: entityType, text: normalizedText}]
	switch len(h) {
	case 0:
		return Lookup{}
	case 1:
		for id, isAlias := range h {
			return Lookup{EntityID: id, IsAlias: isAlias, Found: true}
		}
	}
	return Lookup{Ambiguous: true, Found: true}
}

// Holders returns every entity owning the key.
func (i *Index) Holders(entityType model.EntityType, normalizedText string) []int64 {
	i.mu.RLock()
	defer i.mu.RUnlock()

	h := i.entries[key{entityType: entityType, text: normalizedText}]
	ids := make([]int64, 0, len(h))
	for id := range h {
		ids = append(ids, id)
	}
	return ids
}

// Reassign moves every key of an absorbed entity to the survivor. The absorbed
// display name stays as an alias of the survivor.
func (i *Index) Reassign(entityType model.EntityType, absorbedID int64, survivingID int64) {
	i.mu.Lock()
	defer i.mu.Unlock()

	for k, h := range i.entries {
		if k.entityType != entityType {
			continue
		}
		if _, ok := h[absorbedID]; !ok {
			continue
		}
		delete(h, absorbedID)
		if _, ok := h[survivingID]; !ok {
			h[survivingID] = true
		}
	}
}

// Len returns the number of distinct keys.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.entries)
}
