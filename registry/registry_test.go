package registry

import (
	"strings"
	"testing"
	"time"

	"fortio.org/assert"

	"github.com/featstore/featstore-go/constants"
	"github.com/featstore/featstore-go/errors"
)

func validDefs() *Definitions {
	return &Definitions{
		Project: "healthcare",
		Entities: []*Entity{{
			Name:     "patient",
			JoinKeys: []KeyField{{Name: "patient_id", Type: constants.FS_STRING}},
		}},
		BatchSources: []*BatchSource{{
			Name:           "clinical_records",
			Adapter:        constants.Datasource_Type_Memory,
			TimestampField: "event_timestamp",
		}},
		PushSources: []*PushSource{{Name: "lifestyle_push"}},
		FeatureViews: []*FeatureView{
			{
				Name:     "patient_clinical",
				Entities: []string{"patient"},
				Schema: []Field{
					{Name: "systolic_bp", Type: constants.FS_INT64},
					{Name: "cholesterol", Type: constants.FS_DOUBLE},
				},
				TTL:    30 * 24 * time.Hour,
				Online: true,
				Source: "clinical_records",
			},
			{
				Name:     "patient_lifestyle",
				Entities: []string{"patient"},
				Schema: []Field{
					{Name: "smoker", Type: constants.FS_BOOLEAN},
					{Name: "exercise_minutes", Type: constants.FS_INT64},
				},
				TTL:    30 * 24 * time.Hour,
				Online: true,
				Source: "lifestyle_push",
			},
		},
		FeatureServices: []*FeatureService{{
			Name: "risk_score_v1",
			Projections: []Projection{
				{ViewName: "patient_clinical"},
				{ViewName: "patient_lifestyle", Fields: []string{"smoker"}},
			},
		}},
	}
}

func TestApplyAndLookups(t *testing.T) {
	reg := New()
	assert.NoError(t, reg.Apply(validDefs()))
	assert.Equal(t, "healthcare", reg.Project())

	entity, err := reg.Entity("patient")
	assert.NoError(t, err)
	assert.Equal(t, "patient_id", entity.JoinKeys[0].Name)

	view, err := reg.View("patient_clinical")
	assert.NoError(t, err)
	assert.Equal(t, []string{"patient_id"}, view.JoinKeyNames())
	assert.Equal(t, "event_timestamp", view.EventTimeField())
	if view.IsPush() {
		t.Fatal("batch backed view reported as push")
	}

	lifestyle, err := reg.View("patient_lifestyle")
	assert.NoError(t, err)
	if !lifestyle.IsPush() {
		t.Fatal("push backed view not reported as push")
	}
	if lifestyle.BatchSource() != nil {
		t.Fatal("push source without batch backing must have nil batch source")
	}

	_, err = reg.View("nope")
	if !errors.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	_, err = reg.Service("nope")
	if !errors.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}

	views := reg.Views()
	assert.Equal(t, 2, len(views))
	assert.Equal(t, "patient_clinical", views[0].Name)
	assert.Equal(t, "patient_lifestyle", views[1].Name)
}

func TestApplyRejectsServiceWithUnknownField(t *testing.T) {
	defs := validDefs()
	defs.FeatureServices[0].Projections = append(defs.FeatureServices[0].Projections,
		Projection{ViewName: "patient_clinical", Fields: []string{"no_such_field"}})

	reg := New()
	err := reg.Apply(defs)
	if !errors.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	assert.Equal(t, true, strings.Contains(err.Error(), "no_such_field"))
}

func TestApplyAtomicity(t *testing.T) {
	reg := New()
	assert.NoError(t, reg.Apply(validDefs()))

	bad := validDefs()
	bad.FeatureViews[0].Source = "missing_source"
	bad.Entities[0].JoinKeys = nil
	err := reg.Apply(bad)
	if !errors.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	// the previous snapshot still serves
	view, err := reg.View("patient_clinical")
	assert.NoError(t, err)
	assert.Equal(t, "clinical_records", view.Source)
}

func TestApplyAggregatesViolations(t *testing.T) {
	defs := validDefs()
	defs.Entities[0].JoinKeys = []KeyField{}
	defs.FeatureViews[0].Schema = nil
	defs.FeatureViews[1].TTL = -time.Hour

	err := New().Apply(defs)
	var verr *errors.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Violations) < 3 {
		t.Fatalf("expected all violations collected, got %v", verr.Violations)
	}
}

func TestViewJoinKeysSpanEntities(t *testing.T) {
	defs := validDefs()
	defs.Entities = append(defs.Entities, &Entity{
		Name:     "provider",
		JoinKeys: []KeyField{{Name: "provider_id", Type: constants.FS_INT64}},
	})
	defs.FeatureViews[0].Entities = []string{"patient", "provider"}

	reg := New()
	assert.NoError(t, reg.Apply(defs))
	view, err := reg.View("patient_clinical")
	assert.NoError(t, err)
	assert.Equal(t, []string{"patient_id", "provider_id"}, view.JoinKeyNames())
}

func TestViewRejectsOverlappingJoinKeys(t *testing.T) {
	defs := validDefs()
	defs.Entities = append(defs.Entities, &Entity{
		Name:     "patient_alias",
		JoinKeys: []KeyField{{Name: "patient_id", Type: constants.FS_STRING}},
	})
	defs.FeatureViews[0].Entities = []string{"patient", "patient_alias"}

	err := New().Apply(defs)
	if !errors.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	assert.Equal(t, true, strings.Contains(err.Error(), "more than one entity"))
}

func TestViewRejectsFieldCollisions(t *testing.T) {
	defs := validDefs()
	defs.FeatureViews[0].Schema = append(defs.FeatureViews[0].Schema,
		Field{Name: "patient_id", Type: constants.FS_STRING})
	err := New().Apply(defs)
	if !errors.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	assert.Equal(t, true, strings.Contains(err.Error(), "collides with a join key"))

	defs = validDefs()
	defs.FeatureViews[0].Schema = append(defs.FeatureViews[0].Schema,
		Field{Name: "event_timestamp", Type: constants.FS_TIMESTAMP})
	err = New().Apply(defs)
	if !errors.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	assert.Equal(t, true, strings.Contains(err.Error(), "event timestamp column"))
}

func TestWithinWindow(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	day := 24 * time.Hour
	view := &FeatureView{TTL: 30 * day}

	testcases := []struct {
		asOf    time.Time
		event   time.Time
		visible bool
	}{
		{base.Add(20 * day), base.Add(10 * day), true},  // 10 days old
		{base.Add(35 * day), base.Add(10 * day), true},  // 25 days old
		{base.Add(50 * day), base.Add(10 * day), false}, // 40 days old
		{base.Add(40 * day), base.Add(10 * day), false}, // exactly TTL old
		{base.Add(5 * day), base.Add(10 * day), false},  // future event
		{base.Add(10 * day), base.Add(10 * day), true},  // exact instant
	}
	for _, tcase := range testcases {
		got := view.WithinWindow(tcase.asOf, tcase.event)
		if got != tcase.visible {
			t.Fatalf("WithinWindow(%v, %v) = %v, want %v", tcase.asOf, tcase.event, got, tcase.visible)
		}
	}

	exact := &FeatureView{TTL: 0}
	assert.Equal(t, true, exact.WithinWindow(base, base))
	assert.Equal(t, false, exact.WithinWindow(base.Add(time.Nanosecond), base))
}

func TestFilterValidation(t *testing.T) {
	defs := validDefs()
	defs.BatchSources[0].Filter = "systolic_bp > 0"
	assert.NoError(t, New().Apply(defs))

	defs = validDefs()
	defs.BatchSources[0].Filter = "no_such_column > 0"
	err := New().Apply(defs)
	if !errors.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	assert.Equal(t, true, strings.Contains(err.Error(), "no_such_column"))

	defs = validDefs()
	defs.BatchSources[0].Filter = "((("
	err = New().Apply(defs)
	if !errors.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestExtractFilterVariables(t *testing.T) {
	testcases := []struct {
		code   string
		expect []string
	}{
		{"systolic_bp > 120", []string{"systolic_bp"}},
		{"120 < systolic_bp", []string{"systolic_bp"}},
		{"smoker == true && exercise_minutes > 30", []string{"exercise_minutes", "smoker"}},
		{"(age < 30 && (3 <= level && level < 5)) || sex == 'male'", []string{"age", "level", "sex"}},
	}
	for _, tcase := range testcases {
		vars, err := filterVariables(tcase.code)
		assert.NoError(t, err)
		assert.Equal(t, tcase.expect, vars)
	}
}

func TestPushSourceWithBatchBacking(t *testing.T) {
	defs := validDefs()
	defs.PushSources[0].BatchSource = "clinical_records"

	reg := New()
	assert.NoError(t, reg.Apply(defs))
	view, err := reg.View("patient_lifestyle")
	assert.NoError(t, err)
	if view.BatchSource() == nil {
		t.Fatal("push view with batch backing must expose it")
	}
	assert.Equal(t, "clinical_records", view.BatchSource().Name)
}

func TestSourceNamespaceShared(t *testing.T) {
	defs := validDefs()
	defs.PushSources = append(defs.PushSources, &PushSource{Name: "clinical_records"})
	err := New().Apply(defs)
	if !errors.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	assert.Equal(t, true, strings.Contains(err.Error(), "collides with a batch source"))
}

func TestServiceDuplicateSelection(t *testing.T) {
	defs := validDefs()
	defs.FeatureServices[0].Projections = []Projection{
		{ViewName: "patient_clinical"},
		{ViewName: "patient_clinical", Fields: []string{"systolic_bp"}},
	}
	err := New().Apply(defs)
	if !errors.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	assert.Equal(t, true, strings.Contains(err.Error(), "selected more than once"))
}
