// Package core defines the engine-neutral contracts shared by the vex
// public API and the engine backends. Backends live in sibling packages
// (quickjs, v8engine, gojaengine) and are selected at build time; nothing
// engine-specific may leak through these interfaces.
package core

import "fmt"

// IsolateConfig carries per-isolate settings a backend applies at
// creation time.
type IsolateConfig struct {
	MemoryLimitBytes uint64 // 0 means engine default / unlimited
}

// Isolate is a single engine heap with persistent global state. All
// methods must be called from one goroutine at a time; the vex layer
// serializes access through the owning context's runner.
type Isolate interface {
	// RunProgram evaluates src as a program and stores the completion
	// value (the value of the last expression statement) in
	// globalThis[resultGlobal].
	RunProgram(src, resultGlobal string) error

	// Eval evaluates src and discards the result.
	Eval(src string) error

	// EvalString evaluates src and coerces the result to a Go string.
	EvalString(src string) (string, error)

	// EvalBool evaluates src and coerces the result to a Go bool.
	EvalBool(src string) (bool, error)

	// EvalInt evaluates src and coerces the result to a Go int.
	EvalInt(src string) (int, error)

	// SetGlobal sets a global property. Plain Go scalars are converted
	// directly; composite values round-trip through JSON.
	SetGlobal(name string, value any) error

	// RegisterFunc exposes a Go function as a global JS function.
	// Supported signatures: basic scalar arguments (string, int, bool,
	// float64) and zero, one, or (T, error) returns; a non-nil error is
	// thrown as a TypeError in script.
	RegisterFunc(name string, fn any) error

	// RunMicrotasks pumps the engine's microtask queue.
	// V8: PerformMicrotaskCheckpoint, QuickJS: ExecutePendingJob loop,
	// goja: jobs run inline so this is a no-op.
	RunMicrotasks()

	// Interrupt requests termination of the running evaluation at the
	// engine's next safe point. Safe to call from any goroutine.
	Interrupt()

	// Dispose releases the isolate. Must not be called while an
	// evaluation is in flight.
	Dispose()
}

// Engine creates isolates for one JS engine implementation.
type Engine interface {
	Name() string
	NewIsolate(cfg IsolateConfig) (Isolate, error)

	// RecoversFromInterrupt reports whether an isolate remains usable
	// after Interrupt stopped an evaluation. When false the owning
	// context must be discarded after a soft interrupt.
	RecoversFromInterrupt() bool
}

// BinaryTransferer is an optional Isolate capability for moving byte
// buffers between Go and JS without base64 detours.
type BinaryTransferer interface {
	// WriteBinaryToJS stores data as an ArrayBuffer in
	// globalThis[globalName].
	WriteBinaryToJS(globalName string, data []byte) error

	// ReadBinaryFromJS reads the ArrayBuffer at globalThis[globalName],
	// deletes the global, and returns its contents.
	ReadBinaryFromJS(globalName string) ([]byte, error)

	// BinaryMode identifies the transfer mechanism ("ab" or "sab").
	BinaryMode() string
}

// HeapReporter is an optional Isolate capability exposing engine heap
// statistics.
type HeapReporter interface {
	HeapStats() (HeapStats, error)
}

// HeapStats is a snapshot of an isolate's heap usage.
type HeapStats struct {
	TotalHeapSize      uint64 `json:"total_heap_size"`
	UsedHeapSize       uint64 `json:"used_heap_size"`
	TotalAvailableSize uint64 `json:"total_available_size"`
	HeapSizeLimit      uint64 `json:"heap_size_limit"`
}

// EngineError is the normalized form of an engine-level fault. Backends
// translate their native error types into this before returning, so raw
// engine errors never cross into the vex layer.
type EngineError struct {
	Parse       bool   // source failed to parse/compile
	OOM         bool   // engine reported allocation failure
	Interrupted bool   // evaluation was stopped by Interrupt
	Message     string // first line of the engine's message
	Stack       string // remaining stack lines, if any
}

func (e *EngineError) Error() string {
	if e.Stack != "" {
		return fmt.Sprintf("%s\n%s", e.Message, e.Stack)
	}
	return e.Message
}
