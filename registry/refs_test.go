package registry

import (
	"strings"
	"testing"

	"fortio.org/assert"

	"github.com/featstore/featstore-go/errors"
)

func TestParseRef(t *testing.T) {
	ref, err := ParseRef("patient_clinical:systolic_bp")
	assert.NoError(t, err)
	assert.Equal(t, FeatureRef{View: "patient_clinical", Field: "systolic_bp"}, ref)
	assert.Equal(t, "patient_clinical:systolic_bp", ref.String())

	for _, bad := range []string{"", "no_colon", ":field", "view:"} {
		if _, err := ParseRef(bad); !errors.IsValidation(err) {
			t.Fatalf("expected ValidationError for %q, got %v", bad, err)
		}
	}
}

func TestParseRefsAggregates(t *testing.T) {
	_, err := ParseRefs([]string{"ok:field", "bad", "also_bad"})
	var verr *errors.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	assert.Equal(t, 2, len(verr.Violations))
	assert.Equal(t, true, strings.Contains(err.Error(), "also_bad"))

	if _, err := ParseRefs(nil); !errors.IsValidation(err) {
		t.Fatalf("expected ValidationError for empty list, got %v", err)
	}

	refs, err := ParseRefs([]string{"a:b", "c:d"})
	assert.NoError(t, err)
	assert.Equal(t, 2, len(refs))
}
