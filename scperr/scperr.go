// Package scperr classifies failures reported by the application server.
//
// A failed remote procedure comes back as a number, a message and a severity discriminator.
// The number is only meaningful to code that knows the server's error catalogue, so neither
// value is ever synthesized here; both are copied verbatim from the server's reply.
//
//   - Fatal:         the connection is no longer usable; disconnect and reconnect.
//   - User:          the caller's data broke a business rule; correct it and retry.
//   - Informational: advisory; the connection and prior state remain valid.
package scperr

import (
	"errors"
	"fmt"
)

// Severity is the discriminator the server returns alongside a failure.
type Severity int

const (
	SeverityFatal         Severity = 1
	SeverityUser          Severity = 2
	SeverityInformational Severity = 3
)

func (s Severity) String() string {
	switch s {
	case SeverityFatal:
		return "fatal"
	case SeverityUser:
		return "user"
	case SeverityInformational:
		return "informational"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Valid reports whether s is one of the known discriminators.
func (s Severity) Valid() bool {
	return s == SeverityFatal || s == SeverityUser || s == SeverityInformational
}

// Sentinels used with errors.Is to test the variant of an *Error.
var (
	ErrFatal         = errors.New("scperr: fatal remote error")
	ErrUser          = errors.New("scperr: user remote error")
	ErrInformational = errors.New("scperr: informational remote error")
)

// Error is one failed remote operation. It is immutable.
type Error struct {
	number   int
	message  string
	severity Severity
}

// Fatal returns a remote error that invalidates the session.
func Fatal(errorNumber int, errorMessage string) *Error {
	return &Error{number: errorNumber, message: errorMessage, severity: SeverityFatal}
}

// User returns a remote error caused by caller data.
func User(errorNumber int, errorMessage string) *Error {
	return &Error{number: errorNumber, message: errorMessage, severity: SeverityUser}
}

// Informational returns an advisory remote condition.
func Informational(errorNumber int, errorMessage string) *Error {
	return &Error{number: errorNumber, message: errorMessage, severity: SeverityInformational}
}

// ErrorNumber returns the server's error number.
func (e *Error) ErrorNumber() int { return e.number }

// Message returns the server's error message.
func (e *Error) Message() string { return e.message }

func (e *Error) Severity() Severity { return e.severity }

func (e *Error) Error() string {
	return fmt.Sprintf("remote %s error %d: %s", e.severity, e.number, e.message)
}

// Is matches the severity sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrFatal:
		return e.severity == SeverityFatal
	case ErrUser:
		return e.severity == SeverityUser
	case ErrInformational:
		return e.severity == SeverityInformational
	}
	return false
}

func IsFatal(err error) bool         { return errors.Is(err, ErrFatal) }
func IsUser(err error) bool          { return errors.Is(err, ErrUser) }
func IsInformational(err error) bool { return errors.Is(err, ErrInformational) }

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var re *Error
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
