// Package evalerr defines the error taxonomy used across the evaluation
// pipeline (engine, evaluators, source adapters, connection provider). Each
// Kind identifies a distinct failure mode so callers at the scheduler
// boundary can log and swallow without inspecting error strings.
package evalerr

import (
	"errors"
	"fmt"
)

// Kind identifies a category of evaluation failure.
type Kind string

const (
	// KindUnknownAssertionType means the engine has no evaluator registered
	// for the assertion's type.
	KindUnknownAssertionType Kind = "UnknownAssertionType"

	// KindConnectionUnavailable means the Connection Provider returned nil
	// for the requested urn.
	KindConnectionUnavailable Kind = "ConnectionUnavailable"

	// KindUnsupportedPlatform means the Connection Provider was asked to
	// build a connection for a platform it has no extractor for.
	KindUnsupportedPlatform Kind = "UnsupportedPlatform"

	// KindUnsupportedSourceType means a source adapter was asked for an
	// event type it cannot produce, or the evaluation parameters named a
	// freshness source type the evaluator does not map.
	KindUnsupportedSourceType Kind = "UnsupportedSourceType"

	// KindUnsupportedColumnType means a FIELD_UPDATE request named a native
	// column type the adapter has no cast rule for.
	KindUnsupportedColumnType Kind = "UnsupportedColumnType"

	// KindUnsupportedUnit means a FIXED_INTERVAL schedule named a
	// CalendarInterval the evaluator does not convert (DAY).
	KindUnsupportedUnit Kind = "UnsupportedUnit"

	// KindWarehouseTransient wraps a driver-level error from inside the
	// adapter retry envelope.
	KindWarehouseTransient Kind = "WarehouseTransient"

	// KindCatalogEmitFailed means the result handler's emit call to the
	// catalog failed. Always logged and swallowed by the caller.
	KindCatalogEmitFailed Kind = "CatalogEmitFailed"

	// KindMalformedAssertion means a required nested field was missing
	// (e.g. a freshness assertion with no schedule, or FIELD_UPDATE
	// parameters missing path/native_type).
	KindMalformedAssertion Kind = "MalformedAssertion"

	// KindEvaluationTimeout means an evaluation exceeded the worker pool's
	// wall-clock cap. Not named in the upstream contract; suggested by it
	// as a sensible addition (spec §5) and swallowed at the same
	// scheduler boundary as every other Kind.
	KindEvaluationTimeout Kind = "EvaluationTimeout"
)

// Error is a Kind-tagged error carrying the underlying cause, if any.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a Kind-tagged error with no underlying cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds a Kind-tagged error around an underlying cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Is reports whether err (or anything it wraps) is an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}
