// Package materialize moves offline rows into the online store. Each view is
// materialized in isolation: one view's source failing leaves the others
// running and their watermarks advancing.
package materialize

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/featstore/featstore-go/constants"
	"github.com/featstore/featstore-go/errors"
	"github.com/featstore/featstore-go/metric"
	"github.com/featstore/featstore-go/offline"
	"github.com/featstore/featstore-go/online"
	"github.com/featstore/featstore-go/registry"
)

type Engine struct {
	registry   *registry.Registry
	provider   offline.Provider
	store      online.Store
	watermarks WatermarkStore
	logger     *zap.Logger
	metrics    *metric.Metrics
	clock      func() time.Time

	viewParallelism int
	batchSize       int
	limiter         *rate.Limiter
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithMetrics(m *metric.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

func WithViewParallelism(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.viewParallelism = n
		}
	}
}

func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithRateLimiter throttles online writes across all views of a run. Batches
// larger than the limiter's burst are charged at the burst size.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(e *Engine) { e.limiter = l }
}

func NewEngine(reg *registry.Registry, provider offline.Provider, store online.Store,
	watermarks WatermarkStore, opts ...Option) *Engine {

	e := &Engine{
		registry:        reg,
		provider:        provider,
		store:           store,
		watermarks:      watermarks,
		logger:          zap.NewNop(),
		clock:           time.Now,
		viewParallelism: 4,
		batchSize:       500,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ViewResult reports one view's outcome inside a run.
type ViewResult struct {
	View        string
	Status      constants.RunStatus
	Err         error
	RowsRead    int64
	RowsWritten int64
	Start       time.Time
	End         time.Time
	Took        time.Duration
}

// RunReport is the full account of one materialization run.
type RunReport struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Views      []ViewResult
}

func (r *RunReport) Failed() []ViewResult {
	var out []ViewResult
	for _, v := range r.Views {
		if v.Status == constants.Run_Status_Failed {
			out = append(out, v)
		}
	}
	return out
}

// Err combines the per view failures, nil when every view succeeded or was
// skipped.
func (r *RunReport) Err() error {
	var err error
	for _, v := range r.Views {
		if v.Status == constants.Run_Status_Failed && v.Err != nil {
			err = errors.CombineErrors(err, errors.Wrapf(v.Err, "view %q", v.View))
		}
	}
	return err
}

type viewWindow struct {
	view  *registry.FeatureView
	start time.Time
	end   time.Time
	skip  bool
}

// Materialize loads [start, end] for the named views. A zero start leaves
// the window open on the left. Unknown names fail the whole call before any
// work starts; runtime failures are isolated per view and reported.
func (e *Engine) Materialize(ctx context.Context, views []string, start, end time.Time) (*RunReport, error) {
	if end.IsZero() {
		return nil, errors.NewValidation("materialization window end is required")
	}
	if !start.IsZero() && end.Before(start) {
		return nil, errors.NewValidation("materialization window end precedes start")
	}
	if len(views) == 0 {
		return nil, errors.NewValidation("at least one view is required")
	}
	windows, err := e.resolveViews(views)
	if err != nil {
		return nil, err
	}
	for i := range windows {
		windows[i].start = start
		windows[i].end = end
	}
	return e.run(ctx, windows), nil
}

// MaterializeIncremental loads (last watermark, end] per view, starting at
// end minus TTL for views that have never been materialized, or unbounded
// when the view has no TTL based horizon. With no names it covers every
// online enabled view.
func (e *Engine) MaterializeIncremental(ctx context.Context, end time.Time, views ...string) (*RunReport, error) {
	if end.IsZero() {
		return nil, errors.NewValidation("materialization window end is required")
	}
	var windows []viewWindow
	if len(views) == 0 {
		for _, view := range e.registry.Views() {
			if view.Online {
				windows = append(windows, viewWindow{view: view})
			}
		}
	} else {
		resolved, err := e.resolveViews(views)
		if err != nil {
			return nil, err
		}
		windows = resolved
	}
	for i := range windows {
		view := windows[i].view
		wm, ok, err := e.watermarks.Get(ctx, view.Name)
		if err != nil {
			return nil, errors.Wrapf(err, "view %q", view.Name)
		}
		switch {
		case ok && !end.After(wm):
			windows[i].start = wm
			windows[i].end = end
			windows[i].skip = true
		case ok:
			windows[i].start = wm
			windows[i].end = end
		case view.TTL > 0:
			windows[i].start = end.Add(-view.TTL)
			windows[i].end = end
		default:
			windows[i].end = end
		}
	}
	return e.run(ctx, windows), nil
}

func (e *Engine) resolveViews(names []string) ([]viewWindow, error) {
	windows := make([]viewWindow, 0, len(names))
	var violations []string
	for _, name := range names {
		view, err := e.registry.View(name)
		if err != nil {
			return nil, err
		}
		if !view.Online {
			violations = append(violations, fmt.Sprintf("view %q is not online enabled", name))
			continue
		}
		windows = append(windows, viewWindow{view: view})
	}
	if len(violations) > 0 {
		return nil, errors.NewValidation(violations...)
	}
	return windows, nil
}

func (e *Engine) run(ctx context.Context, windows []viewWindow) *RunReport {
	report := &RunReport{
		RunID:     uuid.NewString(),
		StartedAt: e.clock(),
		Views:     make([]ViewResult, len(windows)),
	}
	var g errgroup.Group
	g.SetLimit(e.viewParallelism)
	for i, w := range windows {
		i, w := i, w
		g.Go(func() error {
			if w.skip {
				report.Views[i] = ViewResult{
					View:   w.view.Name,
					Status: constants.Run_Status_Skipped,
					Start:  w.start,
					End:    w.end,
				}
				e.metrics.IncMaterializeRun(w.view.Name, string(constants.Run_Status_Skipped))
				return nil
			}
			report.Views[i] = e.materializeView(ctx, w.view, w.start, w.end)
			return nil
		})
	}
	g.Wait()
	report.FinishedAt = e.clock()

	for _, v := range report.Views {
		if v.Status == constants.Run_Status_Failed {
			e.logger.Warn("view materialization failed",
				zap.String("run_id", report.RunID),
				zap.String("view", v.View),
				zap.Error(v.Err))
		}
	}
	return report
}

func (e *Engine) materializeView(ctx context.Context, view *registry.FeatureView, start, end time.Time) ViewResult {
	began := e.clock()
	result := ViewResult{View: view.Name, Start: start, End: end}
	fail := func(err error) ViewResult {
		result.Status = constants.Run_Status_Failed
		result.Err = err
		result.Took = e.clock().Sub(began)
		e.metrics.IncMaterializeRun(view.Name, string(constants.Run_Status_Failed))
		e.metrics.IncError("materialize")
		return result
	}

	records, rowsRead, err := e.collect(ctx, view, start, end)
	if err != nil {
		return fail(err)
	}
	result.RowsRead = rowsRead

	for offset := 0; offset < len(records); offset += e.batchSize {
		limit := offset + e.batchSize
		if limit > len(records) {
			limit = len(records)
		}
		batch := records[offset:limit]
		if err := e.waitQuota(ctx, len(batch)); err != nil {
			return fail(err)
		}
		if err := e.store.Upsert(ctx, view, batch); err != nil {
			return fail(errors.Wrap(err, "upsert batch"))
		}
		result.RowsWritten += int64(len(batch))
	}

	if err := e.watermarks.Advance(ctx, view.Name, end); err != nil {
		return fail(err)
	}

	result.Status = constants.Run_Status_Succeeded
	result.Took = e.clock().Sub(began)
	e.metrics.AddRowsMaterialized(view.Name, result.RowsWritten)
	e.metrics.IncMaterializeRun(view.Name, string(constants.Run_Status_Succeeded))
	e.metrics.ObserveMaterializeDuration(view.Name, result.Took)
	e.logger.Info("materialized view",
		zap.String("view", view.Name),
		zap.Time("start", start),
		zap.Time("end", end),
		zap.Int64("rows", result.RowsWritten),
		zap.Duration("took", result.Took))
	return result
}

// collect drains the adapter and returns records sorted by key and event
// time, so upserts apply each key's history oldest first. Two rows on the
// same key and instant have no defined winner and are rejected.
func (e *Engine) collect(ctx context.Context, view *registry.FeatureView, start, end time.Time) ([]online.Record, int64, error) {
	adapter, err := e.provider.Adapter(view)
	if err != nil {
		return nil, 0, err
	}
	seq, err := adapter.Fetch(ctx, view, nil, start, end)
	if err != nil {
		return nil, 0, err
	}
	keyNames := view.JoinKeyNames()
	var records []online.Record
	var rowsRead int64
	err = seq.Each(ctx, func(row offline.Row) error {
		rowsRead++
		records = append(records, online.Record{
			Key:       row.CanonicalKey(keyNames),
			Values:    row.Values,
			EventTime: row.EventTime,
		})
		return nil
	})
	if err != nil {
		return nil, rowsRead, err
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Key != records[j].Key {
			return records[i].Key < records[j].Key
		}
		return records[i].EventTime.Before(records[j].EventTime)
	})
	for i := 1; i < len(records); i++ {
		if records[i].Key == records[i-1].Key && records[i].EventTime.Equal(records[i-1].EventTime) {
			return nil, rowsRead, errors.WithStack(&errors.DuplicateRowError{
				View:      view.Name,
				EntityKey: records[i].Key,
				EventTime: records[i].EventTime,
			})
		}
	}
	return records, rowsRead, nil
}

func (e *Engine) waitQuota(ctx context.Context, n int) error {
	if e.limiter == nil {
		return nil
	}
	if burst := e.limiter.Burst(); n > burst {
		n = burst
	}
	return e.limiter.WaitN(ctx, n)
}
