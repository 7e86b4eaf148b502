package catalog

import (
	"sort"
	"sync"
	"time"

	"composer/internal/jsonvalue"
)

// Snapshot is the cached catalogue of one source. It is replaced whole on
// refresh and never mutated afterwards.
type Snapshot struct {
	SourceID    string
	SourceName  string
	Entries     []Entry
	Sample      jsonvalue.Value
	RefreshedAt time.Time

	byPath map[string]int
}

// Lookup returns the entry for path.
func (s *Snapshot) Lookup(path string) (Entry, bool) {
	i, ok := s.byPath[path]
	if !ok {
		return Entry{}, false
	}
	return s.Entries[i], true
}

// Cache holds one Snapshot per source ID. Each source has its own slot, so
// refreshing one source never blocks another.
type Cache struct {
	slots sync.Map // sourceID -> *Snapshot
	now   func() time.Time
}

// NewCache returns an empty cache.
func NewCache() *Cache { return &Cache{now: time.Now} }

// Put replaces the catalogue of sourceID.
func (c *Cache) Put(sourceID, sourceName string, entries []Entry, sample jsonvalue.Value) *Snapshot {
	snap := &Snapshot{
		SourceID:    sourceID,
		SourceName:  sourceName,
		Entries:     append([]Entry(nil), entries...),
		Sample:      sample,
		RefreshedAt: c.clock(),
		byPath:      make(map[string]int, len(entries)),
	}
	for i, e := range snap.Entries {
		snap.byPath[e.Path] = i
	}
	c.slots.Store(sourceID, snap)
	return snap
}

// Refresh indexes sample with ix and replaces the catalogue of sourceID.
// Indexing runs before the swap; readers see either the old or new snapshot.
func (c *Cache) Refresh(ix *Indexer, sourceID, sourceName string, sample jsonvalue.Value) *Snapshot {
	if ix == nil {
		ix = NewIndexer()
	}
	return c.Put(sourceID, sourceName, ix.IndexSource(sourceID, sourceName, sample), sample)
}

// Get returns the snapshot for sourceID.
func (c *Cache) Get(sourceID string) (*Snapshot, bool) {
	v, ok := c.slots.Load(sourceID)
	if !ok {
		return nil, false
	}
	return v.(*Snapshot), true
}

// Entries returns the catalogue of sourceID, or nil.
func (c *Cache) Entries(sourceID string) []Entry {
	snap, ok := c.Get(sourceID)
	if !ok {
		return nil
	}
	return snap.Entries
}

// Lookup returns one entry of one source.
func (c *Cache) Lookup(sourceID, path string) (Entry, bool) {
	snap, ok := c.Get(sourceID)
	if !ok {
		return Entry{}, false
	}
	return snap.Lookup(path)
}

// Sample returns the document the catalogue of sourceID was built from.
func (c *Cache) Sample(sourceID string) (jsonvalue.Value, bool) {
	snap, ok := c.Get(sourceID)
	if !ok {
		return jsonvalue.Value{}, false
	}
	return snap.Sample, true
}

// Invalidate drops the catalogue of sourceID.
func (c *Cache) Invalidate(sourceID string) {
	c.slots.Delete(sourceID)
}

// Sources returns the cached source IDs, sorted.
func (c *Cache) Sources() []string {
	var ids []string
	c.slots.Range(func(k, _ any) bool {
		ids = append(ids, k.(string))
		return true
	})
	sort.Strings(ids)
	return ids
}

// All returns every entry, grouped by source ID in sorted order.
func (c *Cache) All() []Entry {
	var out []Entry
	for _, id := range c.Sources() {
		out = append(out, c.Entries(id)...)
	}
	return out
}

func (c *Cache) clock() time.Time {
	if c.now == nil {
		return time.Now()
	}
	return c.now()
}
