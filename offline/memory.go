package offline

import (
	"context"
	"sync"
	"time"

	"github.com/featstore/featstore-go/registry"
)

// MemoryCatalog holds fixture rows per batch source name. It backs sources
// declared with the memory adapter and is the default offline backend.
type MemoryCatalog struct {
	mu   sync.RWMutex
	rows map[string][]Row
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{rows: map[string][]Row{}}
}

// AddRows appends fixture rows under a batch source name. Rows are copied in.
func (c *MemoryCatalog) AddRows(source string, rows ...Row) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, row := range rows {
		c.rows[source] = append(c.rows[source], row.Clone())
	}
}

// Reset drops every fixture row for a source.
func (c *MemoryCatalog) Reset(source string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rows, source)
}

func (c *MemoryCatalog) Adapter(source *registry.BatchSource) SourceAdapter {
	return &memoryAdapter{catalog: c, source: source}
}

type memoryAdapter struct {
	catalog *MemoryCatalog
	source  *registry.BatchSource
}

func (a *memoryAdapter) Fetch(ctx context.Context, view *registry.FeatureView, keys *KeySet, start, end time.Time) (RowSeq, error) {
	a.catalog.mu.RLock()
	stored := a.catalog.rows[a.source.Name]
	snapshot := make([]Row, len(stored))
	copy(snapshot, stored)
	a.catalog.mu.RUnlock()

	keyNames := view.JoinKeyNames()
	var out RowSlice
	for _, row := range snapshot {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !inWindow(start, end, row.EventTime) {
			continue
		}
		if !keys.Contains(row.CanonicalKey(keyNames)) {
			continue
		}
		keep, err := runFilter(a.source, row)
		if err != nil {
			return nil, err
		}
		if !keep {
			continue
		}
		out = append(out, row.Clone())
	}
	return out, nil
}
