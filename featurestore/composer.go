package featurestore

import (
	"github.com/featstore/featstore-go/join"
	"github.com/featstore/featstore-go/registry"
)

// ResolvedRef is one output of a feature service after projections are
// expanded: the source view and field plus the column name the output
// carries, qualified as view:field when bare names collide within the
// service.
type ResolvedRef struct {
	View       string
	Field      string
	OutputName string
}

func (r ResolvedRef) Ref() registry.FeatureRef {
	return registry.FeatureRef{View: r.View, Field: r.Field}
}

// ServiceInfo describes a feature service with its projections expanded.
type ServiceInfo struct {
	Name        string
	Description string
	Owner       string
	Tags        map[string]string
	Features    []ResolvedRef
}

// ResolveService expands a service's projections into the ordered reference
// list retrieval operates on. A projection with no fields selects its view's
// full schema in declaration order.
func (c *Client) ResolveService(name string) ([]ResolvedRef, error) {
	svc, err := c.registry.Service(name)
	if err != nil {
		return nil, err
	}
	var refs []registry.FeatureRef
	for _, p := range svc.Projections {
		view, err := c.registry.View(p.ViewName)
		if err != nil {
			return nil, err
		}
		fields := p.Fields
		if len(fields) == 0 {
			fields = make([]string, len(view.Schema))
			for i, f := range view.Schema {
				fields[i] = f.Name
			}
		}
		for _, f := range fields {
			refs = append(refs, registry.FeatureRef{View: p.ViewName, Field: f})
		}
	}
	names, err := join.OutputColumns(nil, refs)
	if err != nil {
		return nil, err
	}
	out := make([]ResolvedRef, len(refs))
	for i, ref := range refs {
		out[i] = ResolvedRef{View: ref.View, Field: ref.Field, OutputName: names[i]}
	}
	return out, nil
}

// GetFeatureService returns a service's metadata with projections resolved.
func (c *Client) GetFeatureService(name string) (*ServiceInfo, error) {
	svc, err := c.registry.Service(name)
	if err != nil {
		return nil, err
	}
	features, err := c.ResolveService(name)
	if err != nil {
		return nil, err
	}
	return &ServiceInfo{
		Name:        svc.Name,
		Description: svc.Description,
		Owner:       svc.Owner,
		Tags:        svc.Tags,
		Features:    features,
	}, nil
}

func featureRefs(resolved []ResolvedRef) []registry.FeatureRef {
	refs := make([]registry.FeatureRef, len(resolved))
	for i, r := range resolved {
		refs[i] = r.Ref()
	}
	return refs
}
