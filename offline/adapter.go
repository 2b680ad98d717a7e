// Package offline reads a view's historical rows from wherever they live.
// Adapters exist for in-memory fixtures, SQL databases, NDJSON files, and
// the push log that backs push sources.
package offline

import (
	"context"
	"time"

	"github.com/expr-lang/expr"

	"github.com/featstore/featstore-go/errors"
	"github.com/featstore/featstore-go/registry"
	"github.com/featstore/featstore-go/utils"
)

// Row is one offline observation: the entity key columns, the feature
// values, and the moment the observation became true.
type Row struct {
	Keys      map[string]interface{}
	Values    map[string]interface{}
	EventTime time.Time
}

func (r Row) Clone() Row {
	out := Row{
		Keys:      make(map[string]interface{}, len(r.Keys)),
		Values:    make(map[string]interface{}, len(r.Values)),
		EventTime: r.EventTime,
	}
	for k, v := range r.Keys {
		out.Keys[k] = v
	}
	for k, v := range r.Values {
		out.Values[k] = v
	}
	return out
}

// CanonicalKey renders the row's entity key in the given column order.
func (r Row) CanonicalKey(keyNames []string) string {
	values := make([]interface{}, len(keyNames))
	for i, name := range keyNames {
		values[i] = r.Keys[name]
	}
	return utils.CanonicalKey(values...)
}

// RowSeq streams rows in no particular order. Each must be restartable:
// every call re-reads from the source.
type RowSeq interface {
	Each(ctx context.Context, fn func(Row) error) error
}

// RowSlice is a materialized RowSeq.
type RowSlice []Row

func (s RowSlice) Each(ctx context.Context, fn func(Row) error) error {
	for _, row := range s {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

// SourceAdapter fetches a view's rows with event times inside [start, end].
// A zero start or end leaves that bound open. A nil keys fetches rows for
// every entity; an empty KeySet fetches nothing.
type SourceAdapter interface {
	Fetch(ctx context.Context, view *registry.FeatureView, keys *KeySet, start, end time.Time) (RowSeq, error)
}

// Provider hands out the adapter serving a view's batch source.
type Provider interface {
	Adapter(view *registry.FeatureView) (SourceAdapter, error)
}

// KeySet is a deduplicated set of entity key tuples in a fixed column order.
type KeySet struct {
	names  []string
	tuples [][]interface{}
	index  map[string]int
}

func NewKeySet(names []string) *KeySet {
	return &KeySet{
		names: append([]string(nil), names...),
		index: map[string]int{},
	}
}

// Add records one key tuple and returns its canonical form. Duplicates are
// absorbed.
func (s *KeySet) Add(values ...interface{}) string {
	canon := utils.CanonicalKey(values...)
	if _, ok := s.index[canon]; !ok {
		s.index[canon] = len(s.tuples)
		s.tuples = append(s.tuples, append([]interface{}(nil), values...))
	}
	return canon
}

func (s *KeySet) Names() []string { return s.names }

func (s *KeySet) Tuples() [][]interface{} { return s.tuples }

func (s *KeySet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.tuples)
}

func (s *KeySet) Contains(canonical string) bool {
	if s == nil {
		return true
	}
	_, ok := s.index[canonical]
	return ok
}

// CanonicalKeys lists the canonical form of every tuple, in insertion order.
func (s *KeySet) CanonicalKeys() []string {
	out := make([]string, len(s.tuples))
	for canon, i := range s.index {
		out[i] = canon
	}
	return out
}

func inWindow(start, end, t time.Time) bool {
	if !start.IsZero() && t.Before(start) {
		return false
	}
	if !end.IsZero() && t.After(end) {
		return false
	}
	return true
}

// runFilter evaluates a batch source's row filter, if any, with the row's
// columns as the environment. Filter failures fail the fetch rather than
// silently dropping rows.
func runFilter(src *registry.BatchSource, row Row) (bool, error) {
	if src == nil {
		return true, nil
	}
	prog := src.FilterProgram()
	if prog == nil {
		return true, nil
	}
	env := make(map[string]interface{}, len(row.Keys)+len(row.Values)+1)
	for k, v := range row.Keys {
		env[k] = v
	}
	for k, v := range row.Values {
		env[k] = v
	}
	env[src.TimestampField] = row.EventTime
	out, err := expr.Run(prog, env)
	if err != nil {
		return false, errors.Wrapf(err, "filter on source %q", src.Name)
	}
	keep, ok := out.(bool)
	if !ok {
		return false, errors.Newf("filter on source %q returned %T, want bool", src.Name, out)
	}
	return keep, nil
}
