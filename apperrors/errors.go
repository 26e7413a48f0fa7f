package apperrors

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindForbidden
	KindValidation
	KindGateway
	KindConflict
	KindConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindValidation:
		return "validation_error"
	case KindGateway:
		return "gateway_error"
	case KindConflict:
		return "concurrency_conflict"
	case KindConfiguration:
		return "configuration_error"
	default:
		return "unknown"
	}
}

// Error carries the taxonomy kind so callers can branch on it instead of
// matching message strings.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Forbidden(format string, args ...interface{}) *Error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Gateway(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindGateway, Message: fmt.Sprintf(format, args...), Err: err}
}

func Conflict(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func Configuration(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsNotFound(err error) bool      { return KindOf(err) == KindNotFound }
func IsForbidden(err error) bool     { return KindOf(err) == KindForbidden }
func IsValidation(err error) bool    { return KindOf(err) == KindValidation }
func IsGateway(err error) bool       { return KindOf(err) == KindGateway }
func IsConflict(err error) bool      { return KindOf(err) == KindConflict }
func IsConfiguration(err error) bool { return KindOf(err) == KindConfiguration }
