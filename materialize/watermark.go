package materialize

import (
	"context"
	"sync"
	"time"
)

// WatermarkStore remembers, per view, the end of the last successfully
// materialized window. Advance never regresses: concurrent runs can only
// move a watermark forward.
type WatermarkStore interface {
	Get(ctx context.Context, view string) (time.Time, bool, error)
	Advance(ctx context.Context, view string, t time.Time) error
}

type MemoryWatermarks struct {
	mu    sync.RWMutex
	marks map[string]time.Time
}

func NewMemoryWatermarks() *MemoryWatermarks {
	return &MemoryWatermarks{marks: map[string]time.Time{}}
}

func (s *MemoryWatermarks) Get(ctx context.Context, view string) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.marks[view]
	return t, ok, nil
}

func (s *MemoryWatermarks) Advance(ctx context.Context, view string, t time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.marks[view]; ok && !t.After(current) {
		return nil
	}
	s.marks[view] = t
	return nil
}
