// Package push accepts fresh rows for push backed views and lands them in
// the online store, the offline push log, or both. A batch is validated as a
// whole before anything is written: one bad row rejects the entire batch.
package push

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/featstore/featstore-go/constants"
	"github.com/featstore/featstore-go/errors"
	"github.com/featstore/featstore-go/metric"
	"github.com/featstore/featstore-go/offline"
	"github.com/featstore/featstore-go/online"
	"github.com/featstore/featstore-go/registry"
	"github.com/featstore/featstore-go/utils"
)

type Gateway struct {
	registry *registry.Registry
	store    online.Store
	log      offline.PushLog
	logger   *zap.Logger
	metrics  *metric.Metrics
}

type Option func(*Gateway)

func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

func WithMetrics(m *metric.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

func NewGateway(reg *registry.Registry, store online.Store, log offline.PushLog, opts ...Option) *Gateway {
	g := &Gateway{registry: reg, store: store, log: log, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Push writes one batch to the destinations the mode selects. In dual mode
// the offline log is written first; if the online write then fails, the
// returned PartialWriteError says which side holds the batch so the caller
// can rerun materialization or retry.
func (g *Gateway) Push(ctx context.Context, viewName string, rows []offline.Row, mode constants.PushMode) error {
	view, err := g.registry.View(viewName)
	if err != nil {
		g.metrics.IncPushBatch(viewName, "rejected")
		return err
	}
	normalized, err := g.validate(view, rows, mode)
	if err != nil {
		g.metrics.IncPushBatch(view.Name, "rejected")
		return err
	}

	batchID := uuid.NewString()
	offlineDone := false
	if mode.WritesOffline() {
		if g.log == nil {
			g.metrics.IncPushBatch(view.Name, "failed")
			return errors.Newf("push mode %s needs a push log, but none is configured", mode)
		}
		if err := g.log.Append(ctx, view, normalized); err != nil {
			g.metrics.IncPushBatch(view.Name, "failed")
			g.metrics.IncError("push")
			return errors.Wrapf(err, "push batch %s: offline write to view %q", batchID, view.Name)
		}
		offlineDone = true
	}
	if mode.WritesOnline() {
		keyNames := view.JoinKeyNames()
		records := make([]online.Record, len(normalized))
		for i, row := range normalized {
			records[i] = online.Record{
				Key:       row.CanonicalKey(keyNames),
				Values:    row.Values,
				EventTime: row.EventTime,
			}
		}
		if err := g.store.Upsert(ctx, view, records); err != nil {
			g.metrics.IncPushBatch(view.Name, "failed")
			g.metrics.IncError("push")
			if offlineDone {
				return errors.WithStack(&errors.PartialWriteError{
					View:        view.Name,
					OfflineDone: true,
					Err:         err,
				})
			}
			return errors.Wrapf(err, "push batch %s: online write to view %q", batchID, view.Name)
		}
	}

	g.metrics.AddRowsPushed(view.Name, mode.String(), int64(len(normalized)))
	g.metrics.IncPushBatch(view.Name, "accepted")
	g.logger.Debug("pushed batch",
		zap.String("batch_id", batchID),
		zap.String("view", view.Name),
		zap.String("mode", mode.String()),
		zap.Int("rows", len(normalized)))
	return nil
}

// validate checks the whole batch against the view's schema and returns
// coerced copies. Violations are aggregated; two rows on the same key and
// instant are a DuplicateRowError because their merge would be undefined.
func (g *Gateway) validate(view *registry.FeatureView, rows []offline.Row, mode constants.PushMode) ([]offline.Row, error) {
	if !mode.Valid() {
		return nil, errors.NewValidation(fmt.Sprintf("unknown push mode %s", mode))
	}
	if !view.IsPush() {
		return nil, errors.NewValidation(fmt.Sprintf("view %q is not backed by a push source", view.Name))
	}
	if mode.WritesOnline() && !view.Online {
		return nil, errors.NewValidation(fmt.Sprintf("view %q is not online enabled; push mode %s needs the online store", view.Name, mode))
	}
	if len(rows) == 0 {
		return nil, errors.NewValidation("push batch must contain at least one row")
	}

	joinKeys := view.JoinKeys()
	keyNames := map[string]bool{}
	for _, k := range joinKeys {
		keyNames[k.Name] = true
	}

	var violations []string
	addf := func(format string, args ...interface{}) {
		violations = append(violations, fmt.Sprintf(format, args...))
	}
	normalized := make([]offline.Row, len(rows))
	for i, row := range rows {
		out := offline.Row{
			Keys:   make(map[string]interface{}, len(joinKeys)),
			Values: make(map[string]interface{}, len(view.Schema)),
		}
		if row.EventTime.IsZero() {
			addf("row %d: event time is required", i)
		} else {
			out.EventTime = row.EventTime.UTC()
		}
		for _, k := range joinKeys {
			raw, ok := row.Keys[k.Name]
			if !ok || raw == nil {
				addf("row %d: missing join key %q", i, k.Name)
				continue
			}
			v, err := utils.CoerceValue(raw, k.Type)
			if err != nil {
				addf("row %d: join key %q: %v", i, k.Name, err)
				continue
			}
			out.Keys[k.Name] = v
		}
		for name := range row.Keys {
			if !keyNames[name] {
				addf("row %d: unknown join key %q", i, name)
			}
		}
		for _, f := range view.Schema {
			raw, ok := row.Values[f.Name]
			if !ok {
				addf("row %d: missing field %q", i, f.Name)
				continue
			}
			if raw == nil {
				out.Values[f.Name] = nil
				continue
			}
			v, err := utils.CoerceValue(raw, f.Type)
			if err != nil {
				addf("row %d: field %q: %v", i, f.Name, err)
				continue
			}
			out.Values[f.Name] = v
		}
		for name := range row.Values {
			if _, ok := view.Field(name); !ok {
				addf("row %d: unknown field %q", i, name)
			}
		}
		normalized[i] = out
	}
	if len(violations) > 0 {
		return nil, errors.NewValidation(violations...)
	}

	keyOrder := view.JoinKeyNames()
	seen := map[string]int{}
	for i, row := range normalized {
		k := row.CanonicalKey(keyOrder) + "@" + row.EventTime.UTC().Format("20060102150405.000000000")
		if _, dup := seen[k]; dup {
			return nil, errors.WithStack(&errors.DuplicateRowError{
				View:      view.Name,
				EntityKey: row.CanonicalKey(keyOrder),
				EventTime: row.EventTime,
			})
		}
		seen[k] = i
	}
	return normalized, nil
}
