package commands

import (
	"errors"

	"github.com/arefin-khan/clinicsched/services/scheduling-service/internal/appointment"
)

type Kind int

const (
	KindNotFound Kind = iota + 1
	KindValidation
	KindConflict
)

// Error is a command outcome failure. Every failure a caller can act on
// carries a stable code; transport adapters map Kind to status codes.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// CodeConflict covers both a slot overlap and a stale optimistic
// version: either way the slot is no longer available as the caller last saw
// it, so reload and retry.
const CodeConflict = "Appointment.Conflict"

func notFound(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

func validation(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

func conflict(message string) *Error {
	return &Error{Kind: KindConflict, Code: CodeConflict, Message: message}
}

func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindNotFound
}

func IsValidation(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindValidation
}

func IsConflict(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindConflict
}

// AsError extracts the typed outcome, if err is one.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// fromDomain converts a domain rule violation raised by the aggregate into a
// Validation outcome, preserving the aggregate's code.
func fromDomain(err error) error {
	var de *appointment.Error
	if errors.As(err, &de) {
		return validation(de.Code, de.Message)
	}
	return err
}
