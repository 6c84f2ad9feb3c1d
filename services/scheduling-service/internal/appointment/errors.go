package appointment

import "errors"

// Sentinel errors the storage layer maps low-level failures onto. Command
// handlers match on these with errors.Is and never see driver errors.
var (
	ErrNotFound     = errors.New("appointment not found")
	ErrConflict     = errors.New("appointment slot conflict")
	ErrStaleVersion = errors.New("appointment version is stale")
)

type ErrorKind int

const (
	ErrKindInvalidArgument ErrorKind = iota + 1
	ErrKindInvalidOperation
)

// Error is a domain rule violation raised by the aggregate. Code is a stable
// machine-readable identifier; Message is human-readable.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func invalidArgument(code, message string) *Error {
	return &Error{Kind: ErrKindInvalidArgument, Code: code, Message: message}
}

func invalidOperation(code, message string) *Error {
	return &Error{Kind: ErrKindInvalidOperation, Code: code, Message: message}
}

func IsInvalidArgument(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == ErrKindInvalidArgument
}

func IsInvalidOperation(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == ErrKindInvalidOperation
}
