// Package featurestore ties the registry, offline sources, online stores,
// and the engines together behind one client facade. A client built with no
// options runs fully in memory, which is enough for tests and local work;
// options swap in SQL or Redis backends without touching calling code.
package featurestore

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/featstore/featstore-go/constants"
	"github.com/featstore/featstore-go/errors"
	"github.com/featstore/featstore-go/join"
	"github.com/featstore/featstore-go/materialize"
	"github.com/featstore/featstore-go/metric"
	"github.com/featstore/featstore-go/offline"
	"github.com/featstore/featstore-go/online"
	"github.com/featstore/featstore-go/push"
	"github.com/featstore/featstore-go/registry"
	"github.com/featstore/featstore-go/utils"
)

type Client struct {
	registry   *registry.Registry
	online     online.Store
	pushLog    offline.PushLog
	catalog    *offline.MemoryCatalog
	provider   offline.Provider
	watermarks materialize.WatermarkStore

	joins        *join.Engine
	materializer *materialize.Engine
	gateway      *push.Gateway

	logger  *zap.Logger
	metrics *metric.Metrics
	clock   func() time.Time

	bestEffort      bool
	viewParallelism int
	partitionSize   int
	batchSize       int
	limiter         *rate.Limiter
}

// NewClient assembles a feature store client from the given options.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		logger: zap.NewNop(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.registry == nil {
		c.registry = registry.New(registry.WithLogger(c.logger))
	}
	if c.online == nil {
		c.online = online.NewMemoryStore()
	}
	if c.pushLog == nil {
		c.pushLog = offline.NewMemoryPushLog()
	}
	if c.watermarks == nil {
		c.watermarks = materialize.NewMemoryWatermarks()
	}
	if c.provider == nil {
		c.catalog = offline.NewMemoryCatalog()
		c.provider = offline.NewStandardProvider(c.catalog, c.pushLog)
	}

	c.joins = join.NewEngine(c.registry, c.provider,
		join.WithLogger(c.logger),
		join.WithMetrics(c.metrics),
		join.WithBestEffort(c.bestEffort),
		join.WithViewParallelism(c.viewParallelism),
		join.WithPartitionSize(c.partitionSize))

	matOpts := []materialize.Option{
		materialize.WithLogger(c.logger),
		materialize.WithMetrics(c.metrics),
		materialize.WithClock(c.clock),
		materialize.WithViewParallelism(c.viewParallelism),
		materialize.WithBatchSize(c.batchSize),
	}
	if c.limiter != nil {
		matOpts = append(matOpts, materialize.WithRateLimiter(c.limiter))
	}
	c.materializer = materialize.NewEngine(c.registry, c.provider, c.online, c.watermarks, matOpts...)

	c.gateway = push.NewGateway(c.registry, c.online, c.pushLog,
		push.WithLogger(c.logger),
		push.WithMetrics(c.metrics))
	return c
}

// Apply validates the definition set as a whole and installs it atomically.
func (c *Client) Apply(defs *registry.Definitions) error {
	return c.registry.Apply(defs)
}

// LoadRegistryFile reads a YAML definition file and applies it.
func (c *Client) LoadRegistryFile(path string) error {
	defs, err := registry.LoadFile(path)
	if err != nil {
		return err
	}
	return c.registry.Apply(defs)
}

func (c *Client) Registry() *registry.Registry { return c.registry }

// Catalog returns the in memory offline catalog behind the default adapter
// provider, for loading fixture rows. It is nil when WithAdapterProvider
// replaced the default.
func (c *Client) Catalog() *offline.MemoryCatalog { return c.catalog }

func (c *Client) OnlineStore() online.Store { return c.online }

// Push ingests flat rows into a push backed view. Each row maps the view's
// join keys, every schema field, and the event time column (the backing
// source's timestamp field, or event_timestamp without one) to values. The
// batch is validated as a whole and written to the offline log and the
// online store per mode.
func (c *Client) Push(ctx context.Context, viewName string, rows []map[string]interface{}, mode constants.PushMode) error {
	view, err := c.registry.View(viewName)
	if err != nil {
		return err
	}
	tsField := view.EventTimeField()
	keyNames := map[string]bool{}
	for _, name := range view.JoinKeyNames() {
		keyNames[name] = true
	}

	structured := make([]offline.Row, len(rows))
	var violations []string
	for i, flat := range rows {
		row := offline.Row{
			Keys:   make(map[string]interface{}, len(keyNames)),
			Values: make(map[string]interface{}, len(flat)),
		}
		for name, raw := range flat {
			switch {
			case name == tsField:
				t := utils.ToTime(raw, time.Time{})
				if t.IsZero() {
					violations = append(violations,
						fmt.Sprintf("row %d: column %q value %v is not a timestamp", i, tsField, raw))
					continue
				}
				row.EventTime = t
			case keyNames[name]:
				row.Keys[name] = raw
			default:
				row.Values[name] = raw
			}
		}
		structured[i] = row
	}
	if len(violations) > 0 {
		return errors.NewValidation(violations...)
	}
	return c.gateway.Push(ctx, viewName, structured, mode)
}

// PushRows is Push for callers that already separate keys, values, and event
// times.
func (c *Client) PushRows(ctx context.Context, viewName string, rows []offline.Row, mode constants.PushMode) error {
	return c.gateway.Push(ctx, viewName, rows, mode)
}

// Materialize loads each named view's rows with event times in [start, end]
// into the online store. The report carries per view outcomes; the error is
// non nil when any view failed.
func (c *Client) Materialize(ctx context.Context, views []string, start, end time.Time) (*materialize.RunReport, error) {
	return c.materializer.Materialize(ctx, views, start, end)
}

// MaterializeIncremental materializes from each view's stored watermark up
// to end. Without views it covers every online enabled view.
func (c *Client) MaterializeIncremental(ctx context.Context, end time.Time, views ...string) (*materialize.RunReport, error) {
	return c.materializer.MaterializeIncremental(ctx, end, views...)
}

// CompactOnline sweeps records whose TTL window has already closed out of
// the online store. Serving never depends on the sweep: reads filter by TTL
// regardless. Without names it covers every online enabled view; views
// without a TTL have no expiry horizon and are skipped.
func (c *Client) CompactOnline(ctx context.Context, views ...string) (int64, error) {
	var targets []*registry.FeatureView
	if len(views) == 0 {
		for _, v := range c.registry.Views() {
			if v.Online {
				targets = append(targets, v)
			}
		}
	} else {
		for _, name := range views {
			v, err := c.registry.View(name)
			if err != nil {
				return 0, err
			}
			if !v.Online {
				return 0, errors.NewValidation(fmt.Sprintf("feature view %q is not online enabled", name))
			}
			targets = append(targets, v)
		}
	}

	now := c.clock()
	var total int64
	for _, v := range targets {
		if v.TTL <= 0 {
			continue
		}
		removed, err := c.online.DeleteExpired(ctx, v, now.Add(-v.TTL))
		if err != nil {
			c.metrics.IncError("compact")
			return total, errors.Wrapf(err, "compact view %s", v.Name)
		}
		total += removed
	}
	c.logger.Info("compacted online store",
		zap.Int("views", len(targets)),
		zap.Int64("records_removed", total))
	return total, nil
}

// Close releases resources owned by the client's stores. Injected clients
// and connections stay open.
func (c *Client) Close() error {
	return c.online.Close()
}
