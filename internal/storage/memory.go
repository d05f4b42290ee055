package storage

import (
	"math"
	"sort"
	"strings"
	"sync"
)

type memoryEntry struct {
	rec *ChunkRecord
	seq uint64 // insertion order, used as the stable tie-breaker
}

// MemoryStore is the in-process substitute for Qdrant. Every query is a linear scan.
// Contents are lost when the process exits.
//
// MemoryStore is safe for concurrent use.
type MemoryStore struct {
	mu        sync.RWMutex
	entries   map[string]*memoryEntry
	next      uint64
	dimension int
}

// NewMemoryStore creates an empty store that accepts vectors of the given dimension.
func NewMemoryStore(dimension int) *MemoryStore {
	return &MemoryStore{
		entries:   make(map[string]*memoryEntry),
		dimension: dimension,
	}
}

// Add inserts or overwrites records by ID. An overwritten record keeps its original
// position for tie-breaking. Nothing is written if any record has the wrong dimension.
// Nil records are skipped.
func (m *MemoryStore) Add(records []*ChunkRecord) error {
	records = nonNil(records)
	for _, rec := range records {
		if err := validateDimension(rec.Embedding, m.dimension, "chunk "+rec.ID); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range records {
		stored := *rec
		stored.Embedding = append([]float32(nil), rec.Embedding...)
		if e, ok := m.entries[rec.ID]; ok {
			e.rec = &stored
			continue
		}
		m.entries[rec.ID] = &memoryEntry{rec: &stored, seq: m.next}
		m.next++
	}
	return nil
}

// Search ranks every record by cosine similarity to vector and returns the top limit.
func (m *MemoryStore) Search(vector []float32, limit int) ([]SearchResult, error) {
	if err := validateDimension(vector, m.dimension, "query"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []SearchResult{}, nil
	}

	entries := m.snapshot()
	results := make([]SearchResult, len(entries))
	for i, e := range entries {
		results[i] = project(e.rec, CosineSimilarity(vector, e.rec.Embedding))
	}

	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Score > results[b].Score
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// ExistsByIDPrefix reports whether any record ID starts with prefix.
func (m *MemoryStore) ExistsByIDPrefix(prefix string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for id := range m.entries {
		if strings.HasPrefix(id, prefix) {
			return true
		}
	}
	return false
}

// CountByIDPrefix counts records whose ID starts with prefix.
func (m *MemoryStore) CountByIDPrefix(prefix string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for id := range m.entries {
		if strings.HasPrefix(id, prefix) {
			n++
		}
	}
	return n
}

// DeleteByIDPrefix removes records whose ID starts with prefix and returns how many.
func (m *MemoryStore) DeleteByIDPrefix(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id := range m.entries {
		if strings.HasPrefix(id, prefix) {
			delete(m.entries, id)
			n++
		}
	}
	return n
}

// DeleteByIDs removes the given IDs and returns how many existed.
func (m *MemoryStore) DeleteByIDs(ids []string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, id := range ids {
		if _, ok := m.entries[id]; ok {
			delete(m.entries, id)
			n++
		}
	}
	return n
}

// DocumentNames returns the distinct document names, sorted.
func (m *MemoryStore) DocumentNames() []string {
	m.mu.RLock()
	seen := make(map[string]struct{})
	for _, e := range m.entries {
		seen[e.rec.DocumentName] = struct{}{}
	}
	m.mu.RUnlock()

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ChunksByDocumentName returns every record of a document, scored with UnrankedScore.
func (m *MemoryStore) ChunksByDocumentName(name string) []SearchResult {
	results := []SearchResult{}
	for _, e := range m.snapshot() {
		if e.rec.DocumentName == name {
			results = append(results, project(e.rec, UnrankedScore))
		}
	}
	sortByOrdinal(results)
	return results
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// snapshot returns the entries in insertion order.
func (m *MemoryStore) snapshot() []*memoryEntry {
	m.mu.RLock()
	entries := make([]*memoryEntry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, &memoryEntry{rec: e.rec, seq: e.seq})
	}
	m.mu.RUnlock()

	sort.Slice(entries, func(a, b int) bool { return entries[a].seq < entries[b].seq })
	return entries
}

// CosineSimilarity returns the cosine of the angle between a and b.
// It is 0 when either vector has zero magnitude or the lengths differ; never NaN.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na2, nb2 float64
	for i := range a {
		va := float64(a[i])
		vb := float64(b[i])
		dot += va * vb
		na2 += va * va
		nb2 += vb * vb
	}
	if na2 == 0 || nb2 == 0 {
		return 0
	}
	s := dot / (math.Sqrt(na2) * math.Sqrt(nb2))
	if math.IsNaN(s) {
		return 0
	}
	return s
}

// sortByOrdinal orders chunks of one document by their trailing index.
func sortByOrdinal(results []SearchResult) {
	sort.SliceStable(results, func(a, b int) bool {
		oa, ob := chunkOrdinal(results[a].ID), chunkOrdinal(results[b].ID)
		if oa != ob {
			return oa < ob
		}
		return results[a].ID < results[b].ID
	})
}
