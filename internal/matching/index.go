package matching

import (
	"sync"

	"github.com/armon/go-radix"
	"github.com/fieldledger/fieldledger/internal/entity"
	"github.com/google/uuid"
)

// NameIndex is an in-process prefix index over canonical names, one
// tree per entity kind. It backs the canonical-name lookup endpoint
// and is an accelerator only: the store remains the source of truth.
// The index tracks creates and status flips seen by this process;
// rows written by other instances appear after the next startup seed.
type NameIndex struct {
	mu    sync.RWMutex
	trees map[entity.Kind]*radix.Tree
}

// IndexEntry pairs a canonical name with its entity ID.
type IndexEntry struct {
	CanonicalName string    `json:"canonical_name"`
	EntityID      uuid.UUID `json:"entity_id"`
}

// NewNameIndex creates an empty name index.
func NewNameIndex() *NameIndex {
	return &NameIndex{
		trees: map[entity.Kind]*radix.Tree{
			entity.KindPerson: radix.New(),
			entity.KindVendor: radix.New(),
		},
	}
}

// Load seeds the index from the active entity population.
func (i *NameIndex) Load(profiles []*entity.Profile) {
	i.mu.Lock()
	defer i.mu.Unlock()

	for _, p := range profiles {
		if tree, ok := i.trees[p.Kind]; ok {
			tree.Insert(p.CanonicalName, p.ID)
		}
	}
}

// Insert records a canonical name for the given kind. Called after
// every successful create.
func (i *NameIndex) Insert(kind entity.Kind, canonicalName string, id uuid.UUID) {
	if canonicalName == "" {
		return
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if tree, ok := i.trees[kind]; ok {
		tree.Insert(canonicalName, id)
	}
}

// Remove drops a canonical name from the index when its profile
// leaves the active population.
func (i *NameIndex) Remove(kind entity.Kind, canonicalName string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if tree, ok := i.trees[kind]; ok {
		tree.Delete(canonicalName)
	}
}

// LookupPrefix returns up to limit entries whose canonical names start
// with the given prefix, in lexicographic order.
func (i *NameIndex) LookupPrefix(kind entity.Kind, prefix string, limit int) []IndexEntry {
	i.mu.RLock()
	defer i.mu.RUnlock()

	tree, ok := i.trees[kind]
	if !ok {
		return nil
	}

	var entries []IndexEntry
	tree.WalkPrefix(prefix, func(key string, value interface{}) bool {
		entries = append(entries, IndexEntry{
			CanonicalName: key,
			EntityID:      value.(uuid.UUID),
		})
		return limit > 0 && len(entries) >= limit
	})

	return entries
}

// Len returns the number of indexed names for a kind.
func (i *NameIndex) Len(kind entity.Kind) int {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if tree, ok := i.trees[kind]; ok {
		return tree.Len()
	}
	return 0
}
