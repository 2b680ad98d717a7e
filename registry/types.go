package registry

import (
	"time"

	"github.com/expr-lang/expr/vm"

	"github.com/featstore/featstore-go/constants"
)

// Definitions is one complete declaration set for a project. Apply validates
// the whole set and swaps it in atomically.
type Definitions struct {
	Project         string
	Entities        []*Entity
	BatchSources    []*BatchSource
	PushSources     []*PushSource
	FeatureViews    []*FeatureView
	FeatureServices []*FeatureService
}

type KeyField struct {
	Name string
	Type constants.FSType
}

type Entity struct {
	Name        string
	JoinKeys    []KeyField
	Description string
	Tags        map[string]string
}

type Field struct {
	Name string
	Type constants.FSType
}

// BatchSource describes where a view's offline rows live. Adapter selects
// the connector kind, the remaining fields configure it.
type BatchSource struct {
	Name string

	// Adapter is one of the constants.Datasource_Type_* kinds.
	Adapter string

	// Connection names a datasource registration for the sql adapter.
	Connection string
	Table      string
	Query      string

	// Path points the file adapter at an NDJSON file or a directory of them.
	Path string

	// TimestampField is the column holding each row's event time.
	TimestampField string

	// Filter is an optional expression evaluated per row during fetch.
	Filter string

	Description string
	Tags        map[string]string

	filterProgram *vm.Program
}

// FilterProgram returns the compiled Filter, or nil when no filter is set.
func (s *BatchSource) FilterProgram() *vm.Program { return s.filterProgram }

// PushSource accepts rows at request time. BatchSource optionally names a
// batch source that holds the same rows for historical reads; without one,
// historical reads fall back to the push log.
type PushSource struct {
	Name        string
	BatchSource string
	Description string
	Tags        map[string]string

	batch *BatchSource
}

func (s *PushSource) Batch() *BatchSource { return s.batch }

type FeatureView struct {
	Name     string
	Entities []string
	Schema   []Field

	// TTL bounds how long a value stays joinable and servable after its
	// event time. Zero keeps only exact timestamp matches.
	TTL time.Duration

	Online      bool
	Source      string
	Description string
	Tags        map[string]string

	entities   []*Entity
	batch      *BatchSource
	push       *PushSource
	fieldTypes map[string]constants.FSType
	joinKeys   []KeyField
}

func (v *FeatureView) Field(name string) (Field, bool) {
	t, ok := v.fieldTypes[name]
	return Field{Name: name, Type: t}, ok
}

// FieldTypes returns the schema as a lookup map. Callers must not modify it.
func (v *FeatureView) FieldTypes() map[string]constants.FSType { return v.fieldTypes }

func (v *FeatureView) EntityList() []*Entity { return v.entities }

// JoinKeys returns the concatenated join keys of the view's entities, in
// declaration order.
func (v *FeatureView) JoinKeys() []KeyField { return v.joinKeys }

func (v *FeatureView) JoinKeyNames() []string {
	names := make([]string, len(v.joinKeys))
	for i, k := range v.joinKeys {
		names[i] = k.Name
	}
	return names
}

// IsPush reports whether the view is fed by a push source.
func (v *FeatureView) IsPush() bool { return v.push != nil }

// BatchSource returns the batch source historical reads should use. For a
// push backed view this is the push source's backing batch source, which may
// be nil.
func (v *FeatureView) BatchSource() *BatchSource { return v.batch }

func (v *FeatureView) PushSource() *PushSource { return v.push }

// EventTimeField names the column carrying event timestamps in rows pushed
// to or fetched for this view.
func (v *FeatureView) EventTimeField() string {
	if v.batch != nil && v.batch.TimestampField != "" {
		return v.batch.TimestampField
	}
	return constants.EventTimestampField
}

// WithinWindow reports whether a value observed at event is visible at asOf:
// the event must not be in asOf's future and must not have outlived the TTL.
// A zero TTL admits only exact timestamp matches.
func (v *FeatureView) WithinWindow(asOf, event time.Time) bool {
	if event.After(asOf) {
		return false
	}
	if asOf.Equal(event) {
		return true
	}
	return v.TTL > 0 && asOf.Sub(event) < v.TTL
}

// Projection selects fields from one view. An empty Fields list selects the
// view's full schema.
type Projection struct {
	ViewName string
	Fields   []string
}

type FeatureService struct {
	Name        string
	Projections []Projection
	Description string
	Owner       string
	Tags        map[string]string
}
