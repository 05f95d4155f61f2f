package engine

import "errors"

// ErrorKind classifies failures so callers can map them to exit codes
// or HTTP statuses without parsing messages.
type ErrorKind string

const (
	KindInvalidTransition     ErrorKind = "invalid_transition"
	KindComponentUnavailable  ErrorKind = "component_unavailable"
	KindAlreadyInUse          ErrorKind = "already_in_use"
	KindNotInUse              ErrorKind = "not_in_use"
	KindWrongComponentType    ErrorKind = "wrong_component_type"
	KindNoTechnicianAvailable ErrorKind = "no_technician_available"
	KindNotFound              ErrorKind = "not_found"
	KindValidation            ErrorKind = "validation"
	KindPersistence           ErrorKind = "persistence_failure"
)

type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func wrapError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the kind from err, defaulting to persistence_failure
// for untyped errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPersistence
}
