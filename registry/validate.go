package registry

import (
	"fmt"

	"github.com/expr-lang/expr"

	"github.com/featstore/featstore-go/constants"
	"github.com/featstore/featstore-go/errors"
)

// buildSnapshot deep copies and cross checks one definition set. All
// violations are collected before returning so callers see the complete list
// in a single ValidationError.
func buildSnapshot(defs *Definitions) (*snapshot, error) {
	var violations []string
	addf := func(format string, args ...interface{}) {
		violations = append(violations, fmt.Sprintf(format, args...))
	}

	entities := buildEntities(defs.Entities, addf)
	batchSources := buildBatchSources(defs.BatchSources, addf)
	pushSources := buildPushSources(defs.PushSources, batchSources, addf)
	views := buildViews(defs.FeatureViews, entities, batchSources, pushSources, addf)
	services := buildServices(defs.FeatureServices, views, addf)

	if len(violations) > 0 {
		return nil, errors.NewValidation(violations...)
	}
	return &snapshot{
		project:      defs.Project,
		entities:     entities,
		batchSources: batchSources,
		pushSources:  pushSources,
		views:        views,
		services:     services,
	}, nil
}

func buildEntities(in []*Entity, addf func(string, ...interface{})) map[string]*Entity {
	out := make(map[string]*Entity, len(in))
	for i, src := range in {
		label := fmt.Sprintf("entity[%d]", i)
		if src == nil {
			addf("%s: must not be nil", label)
			continue
		}
		if src.Name != "" {
			label = fmt.Sprintf("entity %q", src.Name)
		} else {
			addf("%s: name must not be empty", label)
		}
		if _, dup := out[src.Name]; dup {
			addf("%s: duplicate name", label)
			continue
		}
		e := &Entity{
			Name:        src.Name,
			JoinKeys:    append([]KeyField(nil), src.JoinKeys...),
			Description: src.Description,
			Tags:        copyTags(src.Tags),
		}
		if len(e.JoinKeys) == 0 {
			addf("%s: at least one join key is required", label)
		}
		seen := make(map[string]bool, len(e.JoinKeys))
		for j, k := range e.JoinKeys {
			if k.Name == "" {
				addf("%s: join_keys[%d]: name must not be empty", label, j)
				continue
			}
			if seen[k.Name] {
				addf("%s: duplicate join key %q", label, k.Name)
			}
			seen[k.Name] = true
			if !validType(k.Type) {
				addf("%s: join key %q: unknown type", label, k.Name)
			}
		}
		if src.Name != "" {
			out[src.Name] = e
		}
	}
	return out
}

func buildBatchSources(in []*BatchSource, addf func(string, ...interface{})) map[string]*BatchSource {
	out := make(map[string]*BatchSource, len(in))
	for i, src := range in {
		label := fmt.Sprintf("batch source[%d]", i)
		if src == nil {
			addf("%s: must not be nil", label)
			continue
		}
		if src.Name != "" {
			label = fmt.Sprintf("batch source %q", src.Name)
		} else {
			addf("%s: name must not be empty", label)
		}
		if _, dup := out[src.Name]; dup {
			addf("%s: duplicate name", label)
			continue
		}
		b := &BatchSource{
			Name:           src.Name,
			Adapter:        src.Adapter,
			Connection:     src.Connection,
			Table:          src.Table,
			Query:          src.Query,
			Path:           src.Path,
			TimestampField: src.TimestampField,
			Filter:         src.Filter,
			Description:    src.Description,
			Tags:           copyTags(src.Tags),
		}
		switch b.Adapter {
		case constants.Datasource_Type_Memory:
		case constants.Datasource_Type_SQL:
			if b.Connection == "" {
				addf("%s: sql adapter requires a connection", label)
			}
			if (b.Table == "") == (b.Query == "") {
				addf("%s: sql adapter requires exactly one of table or query", label)
			}
		case constants.Datasource_Type_File:
			if b.Path == "" {
				addf("%s: file adapter requires a path", label)
			}
		default:
			addf("%s: unknown adapter %q", label, b.Adapter)
		}
		if b.TimestampField == "" {
			addf("%s: timestamp_field is required", label)
		}
		if b.Filter != "" {
			prog, err := expr.Compile(b.Filter, expr.AllowUndefinedVariables(), expr.AsBool())
			if err != nil {
				addf("%s: filter does not compile: %v", label, err)
			} else {
				b.filterProgram = prog
			}
		}
		if src.Name != "" {
			out[src.Name] = b
		}
	}
	return out
}

func buildPushSources(in []*PushSource, batchSources map[string]*BatchSource, addf func(string, ...interface{})) map[string]*PushSource {
	out := make(map[string]*PushSource, len(in))
	for i, src := range in {
		label := fmt.Sprintf("push source[%d]", i)
		if src == nil {
			addf("%s: must not be nil", label)
			continue
		}
		if src.Name != "" {
			label = fmt.Sprintf("push source %q", src.Name)
		} else {
			addf("%s: name must not be empty", label)
		}
		if _, dup := out[src.Name]; dup {
			addf("%s: duplicate name", label)
			continue
		}
		if _, taken := batchSources[src.Name]; taken {
			addf("%s: name collides with a batch source", label)
		}
		p := &PushSource{
			Name:        src.Name,
			BatchSource: src.BatchSource,
			Description: src.Description,
			Tags:        copyTags(src.Tags),
		}
		if p.BatchSource != "" {
			b, ok := batchSources[p.BatchSource]
			if !ok {
				addf("%s: batch source %q not found", label, p.BatchSource)
			} else {
				p.batch = b
			}
		}
		if src.Name != "" {
			out[src.Name] = p
		}
	}
	return out
}

func buildViews(in []*FeatureView, entities map[string]*Entity, batchSources map[string]*BatchSource,
	pushSources map[string]*PushSource, addf func(string, ...interface{})) map[string]*FeatureView {

	out := make(map[string]*FeatureView, len(in))
	for i, src := range in {
		label := fmt.Sprintf("feature view[%d]", i)
		if src == nil {
			addf("%s: must not be nil", label)
			continue
		}
		if src.Name != "" {
			label = fmt.Sprintf("feature view %q", src.Name)
		} else {
			addf("%s: name must not be empty", label)
		}
		if _, dup := out[src.Name]; dup {
			addf("%s: duplicate name", label)
			continue
		}
		v := &FeatureView{
			Name:        src.Name,
			Entities:    append([]string(nil), src.Entities...),
			Schema:      append([]Field(nil), src.Schema...),
			TTL:         src.TTL,
			Online:      src.Online,
			Source:      src.Source,
			Description: src.Description,
			Tags:        copyTags(src.Tags),
			fieldTypes:  make(map[string]constants.FSType, len(src.Schema)),
		}
		if v.TTL < 0 {
			addf("%s: ttl must not be negative", label)
		}

		if len(v.Entities) == 0 {
			addf("%s: at least one entity is required", label)
		}
		seenEntity := make(map[string]bool, len(v.Entities))
		keyNames := map[string]bool{}
		for _, name := range v.Entities {
			if seenEntity[name] {
				addf("%s: entity %q listed more than once", label, name)
				continue
			}
			seenEntity[name] = true
			e, ok := entities[name]
			if !ok {
				addf("%s: entity %q not found", label, name)
				continue
			}
			v.entities = append(v.entities, e)
			for _, k := range e.JoinKeys {
				if keyNames[k.Name] {
					addf("%s: join key %q appears in more than one entity", label, k.Name)
					continue
				}
				keyNames[k.Name] = true
				v.joinKeys = append(v.joinKeys, k)
			}
		}

		if len(v.Schema) == 0 {
			addf("%s: schema must not be empty", label)
		}
		for j, f := range v.Schema {
			if f.Name == "" {
				addf("%s: schema[%d]: name must not be empty", label, j)
				continue
			}
			if !validType(f.Type) {
				addf("%s: field %q: unknown type", label, f.Name)
			}
			if _, dup := v.fieldTypes[f.Name]; dup {
				addf("%s: duplicate field %q", label, f.Name)
				continue
			}
			if keyNames[f.Name] {
				addf("%s: field %q collides with a join key", label, f.Name)
			}
			v.fieldTypes[f.Name] = f.Type
		}

		if v.Source == "" {
			addf("%s: source is required", label)
		} else if b, ok := batchSources[v.Source]; ok {
			v.batch = b
		} else if p, ok := pushSources[v.Source]; ok {
			v.push = p
			v.batch = p.batch
		} else {
			addf("%s: source %q not found", label, v.Source)
		}

		ets := v.EventTimeField()
		if _, clash := v.fieldTypes[ets]; clash {
			addf("%s: field %q collides with the event timestamp column", label, ets)
		}
		if keyNames[ets] {
			addf("%s: join key %q collides with the event timestamp column", label, ets)
		}

		if v.batch != nil && v.batch.Filter != "" {
			if vars, err := filterVariables(v.batch.Filter); err == nil {
				for _, name := range vars {
					if _, ok := v.fieldTypes[name]; ok {
						continue
					}
					if keyNames[name] || name == ets {
						continue
					}
					addf("%s: filter on source %q references unknown column %q", label, v.batch.Name, name)
				}
			}
		}

		if src.Name != "" {
			out[src.Name] = v
		}
	}
	return out
}

func buildServices(in []*FeatureService, views map[string]*FeatureView, addf func(string, ...interface{})) map[string]*FeatureService {
	out := make(map[string]*FeatureService, len(in))
	for i, src := range in {
		label := fmt.Sprintf("feature service[%d]", i)
		if src == nil {
			addf("%s: must not be nil", label)
			continue
		}
		if src.Name != "" {
			label = fmt.Sprintf("feature service %q", src.Name)
		} else {
			addf("%s: name must not be empty", label)
		}
		if _, dup := out[src.Name]; dup {
			addf("%s: duplicate name", label)
			continue
		}
		s := &FeatureService{
			Name:        src.Name,
			Projections: append([]Projection(nil), src.Projections...),
			Description: src.Description,
			Owner:       src.Owner,
			Tags:        copyTags(src.Tags),
		}
		if len(s.Projections) == 0 {
			addf("%s: at least one projection is required", label)
		}
		seenFeature := map[string]bool{}
		for j, p := range s.Projections {
			view, ok := views[p.ViewName]
			if !ok {
				addf("%s: projections[%d]: feature view %q not found", label, j, p.ViewName)
				continue
			}
			fields := p.Fields
			if len(fields) == 0 {
				fields = make([]string, len(view.Schema))
				for k, f := range view.Schema {
					fields[k] = f.Name
				}
			}
			for _, f := range p.Fields {
				if f == "" {
					addf("%s: projections[%d]: field name must not be empty", label, j)
					continue
				}
				if _, ok := view.Field(f); !ok {
					addf("%s: projections[%d]: field %q not in view %q", label, j, f, p.ViewName)
				}
			}
			for _, f := range fields {
				ref := p.ViewName + ":" + f
				if seenFeature[ref] {
					addf("%s: feature %q selected more than once", label, ref)
				}
				seenFeature[ref] = true
			}
		}
		if src.Name != "" {
			out[src.Name] = s
		}
	}
	return out
}

func validType(t constants.FSType) bool {
	switch t {
	case constants.FS_INT64, constants.FS_DOUBLE, constants.FS_STRING,
		constants.FS_BOOLEAN, constants.FS_TIMESTAMP:
		return true
	}
	return false
}

func copyTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}
