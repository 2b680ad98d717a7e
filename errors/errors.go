// Package errors wraps github.com/cockroachdb/errors and adds the typed
// failures the feature store reports: registry lookups that miss, definition
// and row validation, offline rows that collide, unreachable sources, and
// writes that landed in only one of the two stores.
package errors

import (
	crdberrors "github.com/cockroachdb/errors"
)

var (
	New  = crdberrors.New
	Newf = crdberrors.Newf

	Wrap  = crdberrors.Wrap
	Wrapf = crdberrors.Wrapf

	WithStack = crdberrors.WithStack

	Is     = crdberrors.Is
	As     = crdberrors.As
	Unwrap = crdberrors.Unwrap

	CombineErrors = crdberrors.CombineErrors
)
