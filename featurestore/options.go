package featurestore

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/featstore/featstore-go/materialize"
	"github.com/featstore/featstore-go/metric"
	"github.com/featstore/featstore-go/offline"
	"github.com/featstore/featstore-go/online"
	"github.com/featstore/featstore-go/registry"
)

type ClientOption func(c *Client)

// WithRegistry replaces the client's empty default registry, letting several
// clients share one applied definition set.
func WithRegistry(reg *registry.Registry) ClientOption {
	return func(c *Client) {
		if reg != nil {
			c.registry = reg
		}
	}
}

func WithOnlineStore(store online.Store) ClientOption {
	return func(c *Client) {
		if store != nil {
			c.online = store
		}
	}
}

func WithPushLog(log offline.PushLog) ClientOption {
	return func(c *Client) {
		if log != nil {
			c.pushLog = log
		}
	}
}

func WithWatermarkStore(store materialize.WatermarkStore) ClientOption {
	return func(c *Client) {
		if store != nil {
			c.watermarks = store
		}
	}
}

// WithAdapterProvider replaces the default provider, which serves memory
// sources from the client's catalog and push views from its push log.
func WithAdapterProvider(p offline.Provider) ClientOption {
	return func(c *Client) {
		if p != nil {
			c.provider = p
		}
	}
}

func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithMetrics(m *metric.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// WithClock fixes the time source used for serve time TTL checks, incremental
// materialization bounds, and compaction cutoffs.
func WithClock(clock func() time.Time) ClientOption {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithBestEffort makes historical retrieval return null columns for views
// whose source is unavailable instead of failing the whole call.
func WithBestEffort(enabled bool) ClientOption {
	return func(c *Client) { c.bestEffort = enabled }
}

func WithViewParallelism(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.viewParallelism = n
		}
	}
}

func WithSpinePartitionSize(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.partitionSize = n
		}
	}
}

func WithUpsertBatchSize(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithWriteRateLimit throttles materialization upserts.
func WithWriteRateLimit(l *rate.Limiter) ClientOption {
	return func(c *Client) { c.limiter = l }
}
