// Package interr defines the error taxonomy shared across the proxy core
// and its active-testing engines.
package interr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for HTTP status mapping and exchange annotation.
type Kind string

const (
	KindProtocol          Kind = "protocol_error"
	KindUpstreamUnreach    Kind = "upstream_unreachable"
	KindInvalidHostname    Kind = "invalid_hostname"
	KindInvalidConfig      Kind = "invalid_config"
	KindNotFound           Kind = "not_found"
	KindConflict           Kind = "conflict"
	KindCanceled           Kind = "canceled"
	KindInternal           Kind = "internal_error"
)

// Error is a taxonomy-tagged, wrapped error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err under op with the given kind. Returns nil if err is nil.
func New(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the taxonomy kind of err, or KindInternal if unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps a taxonomy kind to the status code the proxy or control
// API should surface to its caller.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindProtocol:
		return 400
	case KindUpstreamUnreach:
		return 502
	case KindInvalidHostname, KindInvalidConfig:
		return 400
	case KindNotFound:
		return 404
	case KindConflict:
		return 409
	case KindCanceled:
		return 499
	default:
		return 500
	}
}
