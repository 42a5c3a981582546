package errors

import (
	"errors"
	"fmt"
)

// Kind classifies how far an error propagates
type Kind string

const (
	// KindFatal aborts the whole run
	KindFatal Kind = "fatal"
	// KindAuthor is reported and the run continues with the next author
	KindAuthor Kind = "author"
	// KindTransfer skips one photo or one multi-photo set
	KindTransfer Kind = "transfer"
	// KindIntegrity marks stored data that cannot be interpreted
	KindIntegrity Kind = "integrity"
)

// Error is a classified error raised by the core components
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op string, err error, format string, args ...interface{}) *Error {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &Error{Kind: kind, Op: op, Message: msg, Err: err}
}

// Fatal wraps err as a run-aborting error
func Fatal(op string, err error, format string, args ...interface{}) *Error {
	return newError(KindFatal, op, err, format, args...)
}

// Author wraps err as a per-author recoverable error
func Author(op string, err error, format string, args ...interface{}) *Error {
	return newError(KindAuthor, op, err, format, args...)
}

// Transfer wraps err as a per-transfer recoverable error
func Transfer(op string, err error, format string, args ...interface{}) *Error {
	return newError(KindTransfer, op, err, format, args...)
}

// Integrity wraps err as a data-integrity error
func Integrity(op string, err error, format string, args ...interface{}) *Error {
	return newError(KindIntegrity, op, err, format, args...)
}

// KindOf returns the kind of the outermost classified error in the chain.
// Unclassified errors are fatal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFatal
}

// IsFatal reports whether err should abort the run
func IsFatal(err error) bool {
	return err != nil && KindOf(err) == KindFatal
}

// IsAuthor reports whether err is confined to a single author
func IsAuthor(err error) bool {
	return err != nil && KindOf(err) == KindAuthor
}

// IsTransfer reports whether err is confined to a single transfer or set
func IsTransfer(err error) bool {
	return err != nil && KindOf(err) == KindTransfer
}

// IsIntegrity reports whether err comes from malformed stored data
func IsIntegrity(err error) bool {
	return err != nil && KindOf(err) == KindIntegrity
}
