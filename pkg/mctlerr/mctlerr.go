// Package mctlerr defines the error taxonomy shared by the node supervisor
// and the central controller: a small set of kinds that the IPC server,
// the node HTTP API, and the controller API all map onto their own wire
// shapes (JSON error bodies, HTTP status codes).
package mctlerr

import "errors"

// Kind classifies an error for transport-layer mapping. Kind deliberately
// stays small: transport failures, timeouts, and child-process failures are
// represented as workload state (types.StatusFailed) rather than as Kinds,
// since they are recorded, not propagated as call errors.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindUpstream   Kind = "upstream"
	KindCancelled  Kind = "cancelled"
)

// Error wraps an underlying error with a Kind, letting callers that only
// care about the taxonomy recover it with errors.As without inspecting
// concrete types from pkg/registry, pkg/runner, etc.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an *Error of the given kind around an existing error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error, and
// reports ok=false otherwise. Callers typically treat ok=false as an
// unclassified/internal error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
