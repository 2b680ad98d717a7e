package offline

import (
	"sync"

	"github.com/featstore/featstore-go/constants"
	"github.com/featstore/featstore-go/datasource/sqldb"
	"github.com/featstore/featstore-go/errors"
	"github.com/featstore/featstore-go/registry"
)

// StandardProvider resolves a view's batch source to a concrete adapter:
// memory fixtures, a named SQL connection, an NDJSON path, or the push log
// for push views without a backing batch source. Adapters are cached per
// source and rebuilt when a registry apply replaces the source definition.
type StandardProvider struct {
	mu       sync.Mutex
	catalog  *MemoryCatalog
	pushLog  PushLog
	adapters map[string]cachedAdapter
}

type cachedAdapter struct {
	source  *registry.BatchSource
	adapter SourceAdapter
}

func NewStandardProvider(catalog *MemoryCatalog, pushLog PushLog) *StandardProvider {
	return &StandardProvider{
		catalog:  catalog,
		pushLog:  pushLog,
		adapters: map[string]cachedAdapter{},
	}
}

func (p *StandardProvider) Adapter(view *registry.FeatureView) (SourceAdapter, error) {
	source := view.BatchSource()
	if source == nil {
		if view.IsPush() {
			if p.pushLog == nil {
				return nil, errors.Newf("view %q needs the push log for historical reads, but none is configured", view.Name)
			}
			return p.pushLog, nil
		}
		return nil, errors.Newf("view %q has no batch source", view.Name)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if cached, ok := p.adapters[source.Name]; ok && cached.source == source {
		return cached.adapter, nil
	}

	var adapter SourceAdapter
	switch source.Adapter {
	case constants.Datasource_Type_Memory:
		if p.catalog == nil {
			return nil, errors.Newf("source %q uses the memory adapter, but no catalog is configured", source.Name)
		}
		adapter = p.catalog.Adapter(source)
	case constants.Datasource_Type_SQL:
		conn, err := sqldb.Get(source.Connection)
		if err != nil {
			return nil, errors.Wrapf(err, "source %q", source.Name)
		}
		adapter = NewSQLAdapter(conn.DB, conn.Flavor(), source)
	case constants.Datasource_Type_File:
		adapter = NewFileAdapter(source)
	default:
		return nil, errors.Newf("source %q: no adapter for kind %q", source.Name, source.Adapter)
	}
	p.adapters[source.Name] = cachedAdapter{source: source, adapter: adapter}
	return adapter, nil
}
