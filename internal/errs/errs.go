// Package errs carries coded errors across the service boundary.
package errs

import (
	"errors"
	"fmt"
)

// Code is the stable identifier surfaced to callers.
type Code string

const (
	BannerNotFound    Code = "BANNER_NOT_FOUND"
	BannerInactive    Code = "BANNER_INACTIVE"
	InvalidCount      Code = "INVALID_COUNT"
	InvalidID         Code = "INVALID_ID"
	InvalidRequest    Code = "INVALID_REQUEST"
	EmptyPool         Code = "EMPTY_POOL"
	RateTableInvalid  Code = "RATE_TABLE_INVALID"
	BannerInvalid     Code = "BANNER_INVALID"
	PityConflict      Code = "PITY_CONFLICT"
	PersistenceFailed Code = "PERSISTENCE_FAILED"
	Internal          Code = "INTERNAL"
)

// Kind groups codes by how a caller should react.
type Kind uint8

const (
	KindInternal   Kind = iota
	KindValidation      // caller fixes the input
	KindNotFound
	KindPrecondition // resource exists but cannot serve the request now
	KindConfig       // authoring fault; fatal if seen at pull time
	KindRetryable    // safe to retry the whole request
)

var kindNames = map[Kind]string{
	KindInternal:     "internal",
	KindValidation:   "validation",
	KindNotFound:     "not_found",
	KindPrecondition: "precondition",
	KindConfig:       "config",
	KindRetryable:    "retryable",
}

func (k Kind) String() string { return kindNames[k] }

// E is the unified error type.
type E struct {
	Code    Code
	Kind    Kind
	Message string
	Cause   error
}

func (e *E) Error() string {
	base := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Cause != nil {
		base += fmt.Sprintf(" (cause: %v)", e.Cause)
	}
	return base
}

func (e *E) Unwrap() error { return e.Cause }

// Is matches another *E by code, so errors.Is(err, errs.New(errs.BannerNotFound, ...)) works
// with any message.
func (e *E) Is(target error) bool {
	t, ok := target.(*E)
	return ok && t.Code == e.Code
}

func New(code Code, kind Kind, msg string) *E {
	return &E{Code: code, Kind: kind, Message: msg}
}

func Newf(code Code, kind Kind, format string, a ...any) *E {
	return New(code, kind, fmt.Sprintf(format, a...))
}

// Wrap attaches a code to a lower-level error.
func Wrap(cause error, code Code, kind Kind, msg string) *E {
	return &E{Code: code, Kind: kind, Message: msg, Cause: cause}
}

func Validation(code Code, format string, a ...any) *E {
	return Newf(code, KindValidation, format, a...)
}

func NotFound(code Code, format string, a ...any) *E {
	return Newf(code, KindNotFound, format, a...)
}

// As returns the first *E in err's chain.
func As(err error) (*E, bool) {
	var e *E
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the code of err, or Internal for uncoded errors.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return Internal
}

// Retryable reports whether the whole request may be safely retried.
func Retryable(err error) bool {
	e, ok := As(err)
	return ok && e.Kind == KindRetryable
}
