package errors

import (
	"strings"
	"testing"
	"time"

	"fortio.org/assert"
)

func TestMatchersSeeThroughWrapping(t *testing.T) {
	testcases := []struct {
		err   error
		match func(error) bool
	}{
		{NewNotFound("feature view", "missing"), IsNotFound},
		{NewValidation("field x is required"), IsValidation},
		{WithStack(&AmbiguousJoinError{View: "v", EntityKey: "k"}), IsAmbiguousJoin},
		{WithStack(&DuplicateRowError{View: "v", EntityKey: "k"}), IsDuplicateRow},
		{NewSourceUnavailable("s", New("connection refused")), IsSourceUnavailable},
		{WithStack(&PartialWriteError{View: "v", OfflineDone: true, Err: New("redis down")}), IsPartialWrite},
	}
	for _, tcase := range testcases {
		wrapped := Wrapf(tcase.err, "outer context")
		if !tcase.match(wrapped) {
			t.Fatalf("matcher failed for %v", wrapped)
		}
	}
	if IsNotFound(New("plain")) {
		t.Fatal("plain error must not match NotFound")
	}
}

func TestValidationAggregation(t *testing.T) {
	err := NewValidation("first", "second", "third")
	msg := err.Error()
	assert.Equal(t, true, strings.Contains(msg, "3 violations"))
	assert.Equal(t, true, strings.Contains(msg, "second"))

	single := NewValidation("only one")
	assert.Equal(t, "validation failed: only one", single.Error())
}

func TestPartialWriteMessageNamesSides(t *testing.T) {
	offlineDone := &PartialWriteError{View: "v", OfflineDone: true, Err: New("boom")}
	assert.Equal(t, true, strings.Contains(offlineDone.Error(), "offline store succeeded"))
	assert.Equal(t, true, strings.Contains(offlineDone.Error(), "online store failed"))

	onlineDone := &PartialWriteError{View: "v", OnlineDone: true, Err: New("boom")}
	assert.Equal(t, true, strings.Contains(onlineDone.Error(), "online store succeeded"))
}

func TestSourceUnavailableUnwraps(t *testing.T) {
	inner := New("dial tcp: refused")
	err := NewSourceUnavailable("patient_db", inner)
	assert.Equal(t, true, Is(err, inner))
}

func TestAmbiguousJoinMessage(t *testing.T) {
	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	err := &AmbiguousJoinError{View: "clinical", EntityKey: `"P1"`, EventTime: ts}
	assert.Equal(t, true, strings.Contains(err.Error(), "clinical"))
	assert.Equal(t, true, strings.Contains(err.Error(), "2024-05-01"))
}
