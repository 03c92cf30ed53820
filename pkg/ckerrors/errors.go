// Package ckerrors defines the tagged error kinds shared across the
// council packages: a closed Kind enum instead of loosely-typed error
// strings, so callers can switch on failure category.
package ckerrors

import "fmt"

// Kind is a closed set of error categories the core can produce.
type Kind string

const (
	KindConfigInvalid        Kind = "config_invalid"
	KindBackendUnreachable   Kind = "backend_unreachable"
	KindModelNotLoaded       Kind = "model_not_loaded"
	KindTimeout              Kind = "timeout"
	KindProtocolError        Kind = "protocol_error"
	KindParseWarning         Kind = "parse_warning"
	KindUnparseable          Kind = "unparseable"
	KindInsufficientCouncil  Kind = "insufficient_council"
	KindCancelled            Kind = "cancelled"
	KindNotFound             Kind = "not_found"
	KindSubscriberLagged     Kind = "subscriber_lagged"
)

// Error is the single error type produced by the core. Subject names the
// offending config key, model id, or conversation id, for remediation
// messages.
type Error struct {
	Kind    Kind
	Subject string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Subject != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Subject)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind.
func New(kind Kind, subject, message string) *Error {
	return &Error{Kind: kind, Subject: subject, Message: message}
}

// Wrap builds an Error of the given kind around an underlying error.
func Wrap(kind Kind, subject string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Subject: subject, Message: err.Error(), Err: err}
}

// Is reports whether err is a *Error of the given kind, unwrapping as
// necessary.
func Is(err error, kind Kind) bool {
	for err != nil {
		if ce, ok := err.(*Error); ok {
			return ce.Kind == kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// NotFound builds the KindNotFound error the persistence layer returns for
// missing ids.
func NotFound(id string) *Error {
	return New(KindNotFound, id, "conversation not found")
}
