package domain

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindInternal      ErrorKind = "internal"
	KindValidation    ErrorKind = "validation"
	KindConfiguration ErrorKind = "not_configured"
	KindLaunch        ErrorKind = "launch_failed"
	KindMonitor       ErrorKind = "monitor_failed"
	KindNormalization ErrorKind = "normalization_failed"
	KindNotFound      ErrorKind = "not_found"
)

// Error is the structured failure returned by business actions.
// Message is safe to show to the operator.
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

func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func NotConfigured(what string) error {
	return &Error{Kind: KindConfiguration, Message: what + " not configured"}
}

func LaunchFailed(msg string, err error) error {
	return &Error{Kind: KindLaunch, Message: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the operator-facing message of err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
