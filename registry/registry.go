// Package registry holds the validated catalog of entities, sources, feature
// views, and feature services. Apply swaps complete snapshots atomically, so
// readers always see either the previous catalog or the new one, never a mix.
package registry

import (
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/featstore/featstore-go/errors"
)

type Registry struct {
	snapshot atomic.Pointer[snapshot]
	logger   *zap.Logger
}

type snapshot struct {
	project      string
	entities     map[string]*Entity
	batchSources map[string]*BatchSource
	pushSources  map[string]*PushSource
	views        map[string]*FeatureView
	services     map[string]*FeatureService
	appliedAt    time.Time
}

type Option func(*Registry)

func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

func New(opts ...Option) *Registry {
	r := &Registry{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply validates defs as a whole and installs them as the current snapshot.
// On validation failure the previous snapshot stays in place untouched.
func (r *Registry) Apply(defs *Definitions) error {
	if defs == nil {
		return errors.NewValidation("definitions must not be nil")
	}
	snap, err := buildSnapshot(defs)
	if err != nil {
		return err
	}
	snap.appliedAt = time.Now()
	r.snapshot.Store(snap)
	r.logger.Info("applied registry definitions",
		zap.String("project", snap.project),
		zap.Int("entities", len(snap.entities)),
		zap.Int("batch_sources", len(snap.batchSources)),
		zap.Int("push_sources", len(snap.pushSources)),
		zap.Int("feature_views", len(snap.views)),
		zap.Int("feature_services", len(snap.services)))
	return nil
}

func (r *Registry) current() *snapshot {
	if snap := r.snapshot.Load(); snap != nil {
		return snap
	}
	return &snapshot{}
}

func (r *Registry) Project() string { return r.current().project }

// AppliedAt returns when the current snapshot was installed, zero when no
// definitions have been applied.
func (r *Registry) AppliedAt() time.Time { return r.current().appliedAt }

func (r *Registry) Entity(name string) (*Entity, error) {
	if e, ok := r.current().entities[name]; ok {
		return e, nil
	}
	return nil, errors.NewNotFound("entity", name)
}

func (r *Registry) BatchSource(name string) (*BatchSource, error) {
	if s, ok := r.current().batchSources[name]; ok {
		return s, nil
	}
	return nil, errors.NewNotFound("batch source", name)
}

func (r *Registry) PushSource(name string) (*PushSource, error) {
	if s, ok := r.current().pushSources[name]; ok {
		return s, nil
	}
	return nil, errors.NewNotFound("push source", name)
}

func (r *Registry) View(name string) (*FeatureView, error) {
	if v, ok := r.current().views[name]; ok {
		return v, nil
	}
	return nil, errors.NewNotFound("feature view", name)
}

func (r *Registry) Service(name string) (*FeatureService, error) {
	if s, ok := r.current().services[name]; ok {
		return s, nil
	}
	return nil, errors.NewNotFound("feature service", name)
}

func (r *Registry) Entities() []*Entity {
	snap := r.current()
	out := make([]*Entity, 0, len(snap.entities))
	for _, e := range snap.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) Views() []*FeatureView {
	snap := r.current()
	out := make([]*FeatureView, 0, len(snap.views))
	for _, v := range snap.views {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) Services() []*FeatureService {
	snap := r.current()
	out := make([]*FeatureService, 0, len(snap.services))
	for _, s := range snap.services {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
