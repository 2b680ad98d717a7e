package online

import (
	"context"
	"sync"
	"time"

	"github.com/featstore/featstore-go/registry"
)

// MemoryStore is the default online backend and the reference for the
// replacement rule the other backends implement.
type MemoryStore struct {
	mu    sync.RWMutex
	views map[string]map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{views: map[string]map[string]Record{}}
}

func (s *MemoryStore) Upsert(ctx context.Context, view *registry.FeatureView, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.views[view.Name]
	if stored == nil {
		stored = map[string]Record{}
		s.views[view.Name] = stored
	}
	for _, rec := range records {
		if existing, ok := stored[rec.Key]; ok && !rec.EventTime.After(existing.EventTime) {
			continue
		}
		stored[rec.Key] = rec.clone()
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, view *registry.FeatureView, keys []string) (map[string]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.views[view.Name]
	out := make(map[string]Record, len(keys))
	for _, key := range keys {
		if rec, ok := stored[key]; ok {
			out[key] = rec.clone()
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteExpired(ctx context.Context, view *registry.FeatureView, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for key, rec := range s.views[view.Name] {
		if rec.EventTime.Before(cutoff) {
			delete(s.views[view.Name], key)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Close() error { return nil }
