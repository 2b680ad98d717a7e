package errors

import (
	"fmt"
	"strings"
	"time"
)

// NotFoundError reports a registry object or spine column that does not
// exist. It is a caller error and is never retried.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

func NewNotFound(kind, name string) error {
	return WithStack(&NotFoundError{Kind: kind, Name: name})
}

func IsNotFound(err error) bool {
	var e *NotFoundError
	return As(err, &e)
}

// ValidationError aggregates every violation found in a definition set or a
// pushed batch. Nothing is applied or written when one is returned.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 1 {
		return "validation failed: " + e.Violations[0]
	}
	return fmt.Sprintf("validation failed (%d violations): %s",
		len(e.Violations), strings.Join(e.Violations, "; "))
}

func NewValidation(violations ...string) error {
	return WithStack(&ValidationError{Violations: violations})
}

func IsValidation(err error) bool {
	var e *ValidationError
	return As(err, &e)
}

// AmbiguousJoinError reports two offline rows for the same entity key with
// the same event timestamp inside one historical retrieval.
type AmbiguousJoinError struct {
	View      string
	EntityKey string
	EventTime time.Time
}

func (e *AmbiguousJoinError) Error() string {
	return fmt.Sprintf("ambiguous join in view %q: entity key %q has multiple rows at %s",
		e.View, e.EntityKey, e.EventTime.UTC().Format(time.RFC3339Nano))
}

func IsAmbiguousJoin(err error) bool {
	var e *AmbiguousJoinError
	return As(err, &e)
}

// DuplicateRowError reports a batch that carries two rows with the same
// entity key and event timestamp.
type DuplicateRowError struct {
	View      string
	EntityKey string
	EventTime time.Time
}

func (e *DuplicateRowError) Error() string {
	return fmt.Sprintf("duplicate row in view %q: entity key %q already has a row at %s",
		e.View, e.EntityKey, e.EventTime.UTC().Format(time.RFC3339Nano))
}

func IsDuplicateRow(err error) bool {
	var e *DuplicateRowError
	return As(err, &e)
}

// SourceUnavailableError wraps an I/O failure from a batch source. Best
// effort retrieval treats it as retryable and degrades instead of failing.
type SourceUnavailableError struct {
	Source string
	Err    error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source %q unavailable: %v", e.Source, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

func NewSourceUnavailable(source string, err error) error {
	return WithStack(&SourceUnavailableError{Source: source, Err: err})
}

func IsSourceUnavailable(err error) bool {
	var e *SourceUnavailableError
	return As(err, &e)
}

// PartialWriteError reports a dual destination push in which one store
// accepted the batch and the other failed.
type PartialWriteError struct {
	View        string
	OnlineDone  bool
	OfflineDone bool
	Err         error
}

func (e *PartialWriteError) Error() string {
	done, failed := "offline", "online"
	if e.OnlineDone {
		done, failed = "online", "offline"
	}
	return fmt.Sprintf("partial write to view %q: %s store succeeded, %s store failed: %v",
		e.View, done, failed, e.Err)
}

func (e *PartialWriteError) Unwrap() error { return e.Err }

func IsPartialWrite(err error) bool {
	var e *PartialWriteError
	return As(err, &e)
}
