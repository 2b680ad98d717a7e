// Package join implements point in time correct historical retrieval: for
// every spine row, each requested view contributes the newest value whose
// event time is at or before the row's as-of time and still inside the
// view's TTL window. Rows from the future never leak into the result.
package join

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/featstore/featstore-go/errors"
	"github.com/featstore/featstore-go/ftable"
	"github.com/featstore/featstore-go/metric"
	"github.com/featstore/featstore-go/offline"
	"github.com/featstore/featstore-go/registry"
	"github.com/featstore/featstore-go/utils"
)

// Spine is the caller's entity table: join key columns, an as-of timestamp
// column, and any passthrough columns. All spine columns are echoed into the
// result unchanged.
type Spine struct {
	Table           *ftable.Table
	TimestampColumn string
}

type Engine struct {
	registry *registry.Registry
	provider offline.Provider
	logger   *zap.Logger
	metrics  *metric.Metrics

	bestEffort      bool
	viewParallelism int
	partitionSize   int
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithMetrics(m *metric.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithBestEffort degrades unavailable sources to null columns instead of
// failing the whole retrieval. Ambiguity and validation errors still fail.
func WithBestEffort(enabled bool) Option {
	return func(e *Engine) { e.bestEffort = enabled }
}

func WithViewParallelism(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.viewParallelism = n
		}
	}
}

func WithPartitionSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.partitionSize = n
		}
	}
}

func NewEngine(reg *registry.Registry, provider offline.Provider, opts ...Option) *Engine {
	e := &Engine{
		registry:        reg,
		provider:        provider,
		logger:          zap.NewNop(),
		viewParallelism: 4,
		partitionSize:   1024,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type refOutput struct {
	field  string
	column int
}

type viewJob struct {
	view    *registry.FeatureView
	refs    []refOutput
	keyIdx  []int
	nameMap []string
}

type candidate struct {
	eventTime time.Time
	values    map[string]interface{}
}

// Historical joins the requested features onto the spine. The result has the
// spine's columns first, then one column per reference in request order.
// Feature column names are qualified as view:field only when the bare field
// name appears more than once across the request and the spine.
func (e *Engine) Historical(ctx context.Context, spine Spine, refs []registry.FeatureRef) (*ftable.Table, error) {
	started := time.Now()
	defer func() {
		e.metrics.ObserveJoinDuration(time.Since(started))
	}()

	if spine.Table == nil {
		return nil, errors.NewValidation("spine table must not be nil")
	}
	if len(refs) == 0 {
		return nil, errors.NewValidation("at least one feature reference is required")
	}
	tsIdx, ok := spine.Table.ColumnIndex(spine.TimestampColumn)
	if !ok {
		return nil, errors.NewNotFound("spine column", spine.TimestampColumn)
	}

	asOfs, asOfMax, err := spineTimestamps(spine.Table, tsIdx, spine.TimestampColumn)
	if err != nil {
		return nil, err
	}

	spineCols := spine.Table.Columns()
	outputNames, err := OutputColumns(spineCols, refs)
	if err != nil {
		return nil, err
	}

	jobs, err := e.planJobs(spine.Table, refs, len(spineCols))
	if err != nil {
		return nil, err
	}

	numRows := spine.Table.NumRows()
	rows := make([][]interface{}, numRows)
	for i := 0; i < numRows; i++ {
		row := make([]interface{}, len(spineCols)+len(refs))
		copy(row, spine.Table.Row(i))
		rows[i] = row
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.viewParallelism)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			return e.joinView(gctx, job, spine.Table, asOfs, asOfMax, rows)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	columns := append(append([]string(nil), spineCols...), outputNames...)
	out, err := ftable.New(columns...)
	if err != nil {
		return nil, errors.NewValidation(err.Error())
	}
	for _, row := range rows {
		if err := out.AppendRow(row...); err != nil {
			return nil, err
		}
	}
	e.logger.Debug("historical retrieval complete",
		zap.Int("spine_rows", numRows),
		zap.Int("views", len(jobs)),
		zap.Int("features", len(refs)),
		zap.Duration("took", time.Since(started)))
	return out, nil
}

func spineTimestamps(table *ftable.Table, tsIdx int, tsCol string) ([]time.Time, time.Time, error) {
	asOfs := make([]time.Time, table.NumRows())
	var asOfMax time.Time
	var violations []string
	for i := 0; i < table.NumRows(); i++ {
		raw := table.Row(i)[tsIdx]
		t := utils.ToTime(raw, time.Time{})
		if t.IsZero() {
			violations = append(violations,
				fmt.Sprintf("spine row %d: column %q value %v is not a timestamp", i, tsCol, raw))
			continue
		}
		asOfs[i] = t
		if t.After(asOfMax) {
			asOfMax = t
		}
	}
	if len(violations) > 0 {
		return nil, time.Time{}, errors.NewValidation(violations...)
	}
	return asOfs, asOfMax, nil
}

// OutputColumns names one result column per reference. Bare field names win
// unless they collide with another reference or one of the reserved columns
// (spine columns for historical retrieval, echoed key columns for online).
// Requesting the same reference twice is a validation error.
func OutputColumns(reserved []string, refs []registry.FeatureRef) ([]string, error) {
	counts := map[string]int{}
	for _, c := range reserved {
		counts[c]++
	}
	seen := map[registry.FeatureRef]bool{}
	var violations []string
	for _, ref := range refs {
		if seen[ref] {
			violations = append(violations, fmt.Sprintf("feature %q requested more than once", ref))
		}
		seen[ref] = true
		counts[ref.Field]++
	}
	if len(violations) > 0 {
		return nil, errors.NewValidation(violations...)
	}
	out := make([]string, len(refs))
	for i, ref := range refs {
		if counts[ref.Field] > 1 {
			out[i] = ref.String()
		} else {
			out[i] = ref.Field
		}
	}
	return out, nil
}

// planJobs resolves references against the registry, groups them per view,
// and locates each view's join key columns in the spine. All resolution
// errors surface here, before any source I/O starts.
func (e *Engine) planJobs(table *ftable.Table, refs []registry.FeatureRef, columnBase int) ([]*viewJob, error) {
	jobs := map[string]*viewJob{}
	var order []string
	for i, ref := range refs {
		job, ok := jobs[ref.View]
		if !ok {
			view, err := e.registry.View(ref.View)
			if err != nil {
				return nil, err
			}
			job = &viewJob{view: view}
			keyNames := view.JoinKeyNames()
			job.nameMap = keyNames
			job.keyIdx = make([]int, len(keyNames))
			for k, name := range keyNames {
				idx, ok := table.ColumnIndex(name)
				if !ok {
					return nil, errors.NewNotFound("spine column", name)
				}
				job.keyIdx[k] = idx
			}
			jobs[ref.View] = job
			order = append(order, ref.View)
		}
		if _, ok := job.view.Field(ref.Field); !ok {
			return nil, errors.NewNotFound("feature", ref.String())
		}
		job.refs = append(job.refs, refOutput{field: ref.Field, column: columnBase + i})
	}
	out := make([]*viewJob, 0, len(order))
	for _, name := range order {
		out = append(out, jobs[name])
	}
	return out, nil
}

func (e *Engine) joinView(ctx context.Context, job *viewJob, table *ftable.Table,
	asOfs []time.Time, asOfMax time.Time, rows [][]interface{}) error {

	view := job.view
	numRows := table.NumRows()

	keys := offline.NewKeySet(job.nameMap)
	rowKeys := make([]string, numRows)
	for i := 0; i < numRows; i++ {
		tuple := make([]interface{}, len(job.keyIdx))
		complete := true
		for k, idx := range job.keyIdx {
			v := table.Row(i)[idx]
			if v == nil {
				complete = false
				break
			}
			tuple[k] = v
		}
		if !complete {
			// A nil join key can never match; the row keeps null features.
			continue
		}
		rowKeys[i] = keys.Add(tuple...)
	}

	candidates, err := e.fetchCandidates(ctx, view, keys, asOfMax)
	if err != nil {
		if e.bestEffort && errors.IsSourceUnavailable(err) {
			e.metrics.IncError("join")
			e.logger.Warn("degrading to null features for unavailable source",
				zap.String("view", view.Name), zap.Error(err))
			return nil
		}
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.viewParallelism)
	for start := 0; start < numRows; start += e.partitionSize {
		start := start
		end := start + e.partitionSize
		if end > numRows {
			end = numRows
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				if rowKeys[i] == "" {
					continue
				}
				match, ok := lookupAsOf(candidates[rowKeys[i]], asOfs[i], view)
				if !ok {
					continue
				}
				for _, ref := range job.refs {
					rows[i][ref.column] = match.values[ref.field]
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// fetchCandidates pulls every row for the requested keys up to the newest
// as-of time, groups them per key sorted by event time, and rejects keys
// that carry two rows at the same instant.
func (e *Engine) fetchCandidates(ctx context.Context, view *registry.FeatureView,
	keys *offline.KeySet, asOfMax time.Time) (map[string][]candidate, error) {

	adapter, err := e.provider.Adapter(view)
	if err != nil {
		return nil, err
	}
	seq, err := adapter.Fetch(ctx, view, keys, time.Time{}, asOfMax)
	if err != nil {
		return nil, err
	}
	keyNames := view.JoinKeyNames()
	candidates := map[string][]candidate{}
	err = seq.Each(ctx, func(row offline.Row) error {
		canon := row.CanonicalKey(keyNames)
		candidates[canon] = append(candidates[canon], candidate{
			eventTime: row.EventTime,
			values:    row.Values,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	for canon, list := range candidates {
		sort.Slice(list, func(i, j int) bool { return list[i].eventTime.Before(list[j].eventTime) })
		for i := 1; i < len(list); i++ {
			if list[i].eventTime.Equal(list[i-1].eventTime) {
				return nil, errors.WithStack(&errors.AmbiguousJoinError{
					View:      view.Name,
					EntityKey: canon,
					EventTime: list[i].eventTime,
				})
			}
		}
		candidates[canon] = list
	}
	return candidates, nil
}

// lookupAsOf finds the newest candidate at or before asOf that is still
// inside the view's TTL window.
func lookupAsOf(list []candidate, asOf time.Time, view *registry.FeatureView) (candidate, bool) {
	if len(list) == 0 {
		return candidate{}, false
	}
	idx := sort.Search(len(list), func(i int) bool { return list[i].eventTime.After(asOf) })
	if idx == 0 {
		return candidate{}, false
	}
	match := list[idx-1]
	if !view.WithinWindow(asOf, match.eventTime) {
		return candidate{}, false
	}
	return match, true
}
