package vex

import (
	"errors"
	"fmt"

	"github.com/vexjs/vex/internal/core"
)

// ErrorKind classifies every failure the engine can surface to the host.
// Kinds are themselves errors so callers can match with errors.Is:
//
//	if errors.Is(err, vex.ErrTimeout) { ... }
type ErrorKind string

const (
	// ErrParse means the source failed to compile; nothing executed.
	ErrParse ErrorKind = "parse error"
	// ErrScript means evaluation started and terminated with an uncaught
	// exception or a rejected promise.
	ErrScript ErrorKind = "script error"
	// ErrTimeout means the deadline elapsed and execution was cancelled.
	ErrTimeout ErrorKind = "timeout"
	// ErrMemoryLimit means the isolate hit its heap ceiling. The context is
	// unusable afterwards and is disposed automatically.
	ErrMemoryLimit ErrorKind = "memory limit exceeded"
	// ErrContextDisposed means the operation raced with, or followed,
	// disposal of its context.
	ErrContextDisposed ErrorKind = "context disposed"
	// ErrEncoding means a value could not cross the host/engine boundary:
	// invalid UTF-8, a lone surrogate, a cyclic object graph, or a graph
	// deeper than the configured limit.
	ErrEncoding ErrorKind = "encoding error"
	// ErrBusy is returned by TryEval when the context is already executing
	// or has queued work.
	ErrBusy ErrorKind = "context busy"
	// ErrInternal covers faults in the embedding layer itself, such as a
	// panic inside the engine binding. The context is disposed.
	ErrInternal ErrorKind = "internal error"
)

func (k ErrorKind) Error() string { return string(k) }

// Error is the concrete error type returned by Context operations. It wraps
// an ErrorKind and carries whatever detail the engine reported.
type Error struct {
	Kind    ErrorKind
	Name    string // engine-side constructor name (TypeError, RangeError, ...), when known
	Message string
	Stack   string
}

func (e *Error) Error() string {
	switch {
	case e.Message == "":
		return string(e.Kind)
	case e.Name != "":
		return fmt.Sprintf("%s: %s", e.Name, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

// Unwrap exposes the kind so errors.Is(err, vex.ErrTimeout) matches.
func (e *Error) Unwrap() error { return e.Kind }

func errDisposed(id string) *Error {
	return &Error{Kind: ErrContextDisposed, Message: fmt.Sprintf("context %s is disposed", id)}
}

func errBusy(id string) *Error {
	return &Error{Kind: ErrBusy, Message: fmt.Sprintf("context %s has work in flight", id)}
}

func errTimeout(msg string) *Error {
	return &Error{Kind: ErrTimeout, Message: msg}
}

// classifyEngineError folds a backend failure into the public taxonomy.
// disposing reports whether the supervisor interrupted the execution on
// behalf of Dispose; it disambiguates an interrupt the engine reports
// generically.
func classifyEngineError(err error, disposing bool) *Error {
	var ee *core.EngineError
	if !errors.As(err, &ee) {
		return &Error{Kind: ErrInternal, Message: err.Error()}
	}
	switch {
	case ee.OOM:
		return &Error{Kind: ErrMemoryLimit, Message: ee.Message}
	case ee.Interrupted && disposing:
		return &Error{Kind: ErrContextDisposed, Message: "execution cancelled by dispose"}
	case ee.Interrupted:
		return errTimeout("execution interrupted: " + ee.Message)
	case ee.Parse:
		return &Error{Kind: ErrParse, Message: ee.Message, Stack: ee.Stack}
	default:
		return &Error{Kind: ErrScript, Message: ee.Message, Stack: ee.Stack}
	}
}

// fatalKind reports whether an error kind poisons its context. After a
// fatal error the context transitions to disposal and every later call
// returns ErrContextDisposed.
func fatalKind(k ErrorKind) bool {
	return k == ErrMemoryLimit || k == ErrInternal
}
