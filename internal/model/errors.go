package model

import (
	"errors"

	"github.com/rotisserie/eris"
)

// ErrorKind classifies failures so transports can map them to responses.
type ErrorKind string

const (
	KindNotFound   ErrorKind = "not_found"
	KindValidation ErrorKind = "validation"
	KindIO         ErrorKind = "io"
	KindUpstream   ErrorKind = "upstream"
)

// Error carries a kind alongside the wrapped cause.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NotFound reports a missing dataset, model, summary or staging entry.
func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Err: eris.Errorf(format, args...)}
}

// Invalid reports a bad operator, missing feature or out-of-range parameter.
func Invalid(format string, args ...any) error {
	return &Error{Kind: KindValidation, Err: eris.Errorf(format, args...)}
}

// IOFailure wraps a filesystem failure.
func IOFailure(err error, format string, args ...any) error {
	return &Error{Kind: KindIO, Err: eris.Wrapf(err, format, args...)}
}

// Upstream wraps a failure of a remote collaborator such as the text generator.
func Upstream(err error, format string, args ...any) error {
	return &Error{Kind: KindUpstream, Err: eris.Wrapf(err, format, args...)}
}

// KindOf returns the kind of the first classified error in the chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsNotFound(err error) bool   { return KindOf(err) == KindNotFound }
func IsValidation(err error) bool { return KindOf(err) == KindValidation }
func IsIO(err error) bool         { return KindOf(err) == KindIO }
func IsUpstream(err error) bool   { return KindOf(err) == KindUpstream }
