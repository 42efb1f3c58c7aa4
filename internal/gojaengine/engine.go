//go:build goja && !v8

// Package gojaengine implements the engine backend on
// github.com/dop251/goja, selected with the "goja" build tag. It is the
// pure-Go option: no native engine library, at the cost of no heap
// accounting (memory ceilings are not enforced here).
package gojaengine

import (
	"github.com/dop251/goja"
	"github.com/vexjs/vex/internal/core"
)

// Engine creates goja runtimes.
type Engine struct{}

// New returns the goja engine.
func New() *Engine { return &Engine{} }

func (e *Engine) Name() string { return "goja" }

// RecoversFromInterrupt reports true: after ClearInterrupt the runtime
// is usable again.
func (e *Engine) RecoversFromInterrupt() bool { return true }

// NewIsolate creates a goja runtime. cfg.MemoryLimitBytes is ignored —
// goja exposes no allocation accounting to enforce it against.
func (e *Engine) NewIsolate(cfg core.IsolateConfig) (core.Isolate, error) {
	return &gojaIsolate{rt: goja.New()}, nil
}

var _ core.Engine = (*Engine)(nil)
