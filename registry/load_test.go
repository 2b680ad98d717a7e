package registry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fortio.org/assert"
)

const definitionsYAMLFixture = `
project: healthcare
entities:
  - name: patient
    join_keys:
      - name: patient_id
        type: string
batch_sources:
  - name: clinical_records
    adapter: memory
    timestamp_field: event_timestamp
    filter: systolic_bp > 0
push_sources:
  - name: lifestyle_push
feature_views:
  - name: patient_clinical
    entities: [patient]
    ttl: 30d
    online: true
    source: clinical_records
    schema:
      - name: systolic_bp
        type: int64
      - name: cholesterol
        type: double
  - name: patient_lifestyle
    entities: [patient]
    ttl: 36h
    online: true
    source: lifestyle_push
    schema:
      - name: smoker
        type: bool
feature_services:
  - name: risk_score_v1
    owner: care-team
    features:
      - view: patient_clinical
      - view: patient_lifestyle
        fields: [smoker]
`

func TestLoad(t *testing.T) {
	defs, err := Load(strings.NewReader(definitionsYAMLFixture))
	assert.NoError(t, err)
	assert.Equal(t, "healthcare", defs.Project)
	assert.Equal(t, 2, len(defs.FeatureViews))
	assert.Equal(t, 30*24*time.Hour, defs.FeatureViews[0].TTL)
	assert.Equal(t, 36*time.Hour, defs.FeatureViews[1].TTL)
	assert.Equal(t, "care-team", defs.FeatureServices[0].Owner)

	// the loaded set must survive a full apply
	assert.NoError(t, New().Apply(defs))
}

func TestLoadDurationForms(t *testing.T) {
	testcases := []struct {
		text   string
		expect time.Duration
	}{
		{"3650d", 3650 * 24 * time.Hour},
		{"1.5d", 36 * time.Hour},
		{"36h", 36 * time.Hour},
		{"90", 90 * time.Second},
	}
	for _, tcase := range testcases {
		yamlText := strings.Replace(definitionsYAMLFixture, "30d", tcase.text, 1)
		defs, err := Load(strings.NewReader(yamlText))
		assert.NoError(t, err)
		assert.Equal(t, tcase.expect, defs.FeatureViews[0].TTL)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	yamlText := strings.Replace(definitionsYAMLFixture, "online: true", "onlien: true", 1)
	if _, err := Load(strings.NewReader(yamlText)); err == nil {
		t.Fatal("expected error for unknown YAML key")
	}
}

func TestLoadRejectsBadType(t *testing.T) {
	yamlText := strings.Replace(definitionsYAMLFixture, "type: double", "type: decimal", 1)
	_, err := Load(strings.NewReader(yamlText))
	if err == nil || !strings.Contains(err.Error(), "decimal") {
		t.Fatalf("expected unknown type error, got %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "definitions.yaml")
	if err := os.WriteFile(path, []byte(definitionsYAMLFixture), 0o644); err != nil {
		t.Fatal(err)
	}
	defs, err := LoadFile(path)
	assert.NoError(t, err)
	assert.Equal(t, "healthcare", defs.Project)

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
