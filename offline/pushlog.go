package offline

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/featstore/featstore-go/registry"
)

// PushLog is the durable offline destination for pushed rows. It doubles as
// the batch source for push views that have no backing batch source, so
// pushed history stays reachable by historical retrieval and
// materialization.
//
// Append is idempotent on (entity key, event time): replaying a batch never
// creates extra rows, and a conflicting payload at an existing (key, time)
// is dropped in favor of the first arrival, mirroring the online store's
// strictly newer replacement rule.
type PushLog interface {
	SourceAdapter
	Append(ctx context.Context, view *registry.FeatureView, rows []Row) error
}

type MemoryPushLog struct {
	mu   sync.RWMutex
	rows map[string]map[string]Row
}

func NewMemoryPushLog() *MemoryPushLog {
	return &MemoryPushLog{rows: map[string]map[string]Row{}}
}

func logKey(canonical string, et time.Time) string {
	return canonical + "@" + strconv.FormatInt(et.UnixNano(), 10)
}

func (l *MemoryPushLog) Append(ctx context.Context, view *registry.FeatureView, rows []Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	keyNames := view.JoinKeyNames()
	l.mu.Lock()
	defer l.mu.Unlock()
	viewRows := l.rows[view.Name]
	if viewRows == nil {
		viewRows = map[string]Row{}
		l.rows[view.Name] = viewRows
	}
	for _, row := range rows {
		k := logKey(row.CanonicalKey(keyNames), row.EventTime)
		if _, exists := viewRows[k]; exists {
			continue
		}
		viewRows[k] = row.Clone()
	}
	return nil
}

func (l *MemoryPushLog) Fetch(ctx context.Context, view *registry.FeatureView, keys *KeySet, start, end time.Time) (RowSeq, error) {
	l.mu.RLock()
	snapshot := make([]Row, 0, len(l.rows[view.Name]))
	for _, row := range l.rows[view.Name] {
		snapshot = append(snapshot, row)
	}
	l.mu.RUnlock()

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
		out = append(out, row.Clone())
	}
	return out, nil
}
