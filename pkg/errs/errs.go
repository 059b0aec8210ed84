// Package errs implements the error taxonomy of the runtime's error
// handling design: each class of failure is a distinct type so callers can
// branch on Code rather than string-matching messages, following the
// core.Error{Code,Message} shape the teacher codebase uses throughout
// pkg/core and pkg/db.
package errs

import (
	"errors"
	"fmt"
)

// Code identifies one class of the error taxonomy.
type Code string

const (
	// CodeTransitionUnhandled: benign, observed but not propagated.
	CodeTransitionUnhandled Code = "TRANSITION_UNHANDLED"
	// CodeHandlerFailure: an entry/exit/stay action failed; recorded on
	// the transition record, the machine continues.
	CodeHandlerFailure Code = "HANDLER_FAILURE"
	// CodePersistenceTransient: retried with bounded backoff.
	CodePersistenceTransient Code = "PERSISTENCE_TRANSIENT"
	// CodePersistenceFatal: retries exhausted; the machine is marked
	// degraded and further events are rejected until cleared.
	CodePersistenceFatal Code = "PERSISTENCE_FATAL"
	// CodeArchivalFailure: rows remain in active storage; the next
	// archival pass retries. A history row that already exists under the
	// same primary key is kept as it is; versions are not compared.
	CodeArchivalFailure Code = "ARCHIVAL_FAILURE"
	// CodeSchedulerMiss: a timer failed to fire (e.g. process restart);
	// observed, overdue timeouts are injected eagerly on rehydration.
	CodeSchedulerMiss Code = "SCHEDULER_MISS"
	// CodeConfigurationError: construction-time, fatal to startup.
	CodeConfigurationError Code = "CONFIGURATION_ERROR"
	// CodeOverload: mailbox full; caller must back off.
	CodeOverload Code = "OVERLOAD"
	// CodeNotFound: a machine, definition, or row does not exist.
	CodeNotFound Code = "NOT_FOUND"
	// CodeDegraded: the target machine has PersistenceFatal set and is
	// refusing events until an operator clears it.
	CodeDegraded Code = "DEGRADED"
)

// Error is the concrete typed error every component returns.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an *Error wrapping cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Is reports whether err carries the given code, unwrapping as needed.
func Is(err error, code Code) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Code == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}
