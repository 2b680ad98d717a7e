// Package online holds the low latency keyed stores that serve the latest
// feature values per entity. Memory, SQL, and Redis backends share one
// contract: keep the record with the newest event time per key, regardless
// of arrival order.
package online

import (
	"context"
	"time"

	"github.com/featstore/featstore-go/registry"
)

// Record is the latest known value set for one canonical entity key.
type Record struct {
	Key       string
	Values    map[string]interface{}
	EventTime time.Time
}

func (r Record) clone() Record {
	out := Record{Key: r.Key, Values: make(map[string]interface{}, len(r.Values)), EventTime: r.EventTime}
	for k, v := range r.Values {
		out.Values[k] = v
	}
	return out
}

// Store is the online backend for one or more views.
//
// Upsert applies last value wins by event time: a record replaces the stored
// one only when its event time is strictly newer, so replays and reordered
// arrivals are harmless. Get returns whatever is stored without TTL
// filtering; staleness is judged at serve time against the caller's clock.
// Close releases resources the store itself owns, not injected clients.
type Store interface {
	Upsert(ctx context.Context, view *registry.FeatureView, records []Record) error
	Get(ctx context.Context, view *registry.FeatureView, keys []string) (map[string]Record, error)

	// DeleteExpired removes records whose event time is before cutoff,
	// returning how many went away. It exists for storage reclamation;
	// serving correctness never depends on it running.
	DeleteExpired(ctx context.Context, view *registry.FeatureView, cutoff time.Time) (int64, error)

	Close() error
}
