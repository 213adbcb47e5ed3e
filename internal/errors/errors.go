// Package errors classifies failures from the storage and repair layers.
package errors

import (
	stderrors "errors"
	"fmt"
)

type Kind string

const (
	// KindCorruption marks unreadable or inconsistent on-disk state.
	KindCorruption Kind = "CORRUPTION"
	// KindValidation marks well-formed requests against malformed data.
	KindValidation Kind = "VALIDATION"
	// KindAbort stops the current operation without implying damage.
	KindAbort Kind = "ABORT"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Corruptionf(format string, args ...any) *Error {
	return &Error{
		Kind:    KindCorruption,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapCorruption attaches a corruption classification to an underlying
// error.
func WrapCorruption(err error, format string, args ...any) *Error {
	return &Error{
		Kind:    KindCorruption,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

func Abortf(format string, args ...any) *Error {
	return &Error{
		Kind:    KindAbort,
		Message: fmt.Sprintf(format, args...),
	}
}

// InvalidWorkspaceData reports an unparseable cloud sync state file.
func InvalidWorkspaceData(filename string, err error) *Error {
	return &Error{
		Kind:    KindValidation,
		Message: fmt.Sprintf("failed to parse %s", filename),
		Err:     err,
	}
}

func is(err error, kind Kind) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

func IsCorruption(err error) bool { return is(err, KindCorruption) }

func IsValidation(err error) bool { return is(err, KindValidation) }

func IsAbort(err error) bool { return is(err, KindAbort) }
