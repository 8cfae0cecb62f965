package repository

import (
	"context"
	"sync"
)

// InMemoryDedupRepository implements DedupRepository with a map of sets.
//
// The index grows for the lifetime of the process and never evicts. It is
// volatile: a restart forgets every recorded key.
type InMemoryDedupRepository struct {
	mu   sync.RWMutex
	keys map[string]map[string]struct{}
}

// NewInMemoryDedupRepository creates an empty dedup index.
func NewInMemoryDedupRepository() *InMemoryDedupRepository {
	return &InMemoryDedupRepository{
		keys: make(map[string]map[string]struct{}),
	}
}

// Contains reports whether key was archived in community.
func (r *InMemoryDedupRepository) Contains(ctx context.Context, communityID, key string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.keys[communityID]
	if !ok {
		return false, nil
	}
	_, seen := set[key]
	return seen, nil
}

// Record marks key as archived in community.
func (r *InMemoryDedupRepository) Record(ctx context.Context, communityID, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.keys[communityID]
	if !ok {
		set = make(map[string]struct{})
		r.keys[communityID] = set
	}
	set[key] = struct{}{}
	return nil
}

// Stats returns index size statistics.
func (r *InMemoryDedupRepository) Stats(ctx context.Context) (*DedupStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &DedupStats{Communities: len(r.keys)}
	for _, set := range r.keys {
		stats.Keys += len(set)
	}
	return stats, nil
}

// Close is a no-op.
func (r *InMemoryDedupRepository) Close() error {
	return nil
}
