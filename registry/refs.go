package registry

import (
	"fmt"
	"strings"

	"github.com/featstore/featstore-go/errors"
)

// FeatureRef addresses one field of one view, written "view:field".
type FeatureRef struct {
	View  string
	Field string
}

func (r FeatureRef) String() string { return r.View + ":" + r.Field }

func ParseRef(s string) (FeatureRef, error) {
	view, field, ok := strings.Cut(s, ":")
	if !ok || view == "" || field == "" {
		return FeatureRef{}, errors.NewValidation(
			fmt.Sprintf("feature reference %q must have the form view:field", s))
	}
	return FeatureRef{View: view, Field: field}, nil
}

// ParseRefs parses every reference and aggregates the malformed ones into a
// single ValidationError.
func ParseRefs(refs []string) ([]FeatureRef, error) {
	out := make([]FeatureRef, 0, len(refs))
	var violations []string
	for _, s := range refs {
		r, err := ParseRef(s)
		if err != nil {
			violations = append(violations, fmt.Sprintf("feature reference %q must have the form view:field", s))
			continue
		}
		out = append(out, r)
	}
	if len(violations) > 0 {
		return nil, errors.NewValidation(violations...)
	}
	if len(out) == 0 {
		return nil, errors.NewValidation("at least one feature reference is required")
	}
	return out, nil
}
