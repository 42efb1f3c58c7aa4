//go:build v8

// Package v8engine implements the engine backend on github.com/tommie/v8go,
// selected with the "v8" build tag.
package v8engine

import (
	"fmt"

	"github.com/vexjs/vex/internal/core"
	v8 "github.com/tommie/v8go"
)

// Engine creates V8 isolates.
type Engine struct{}

// New returns the V8 engine.
func New() *Engine { return &Engine{} }

func (e *Engine) Name() string { return "v8" }

// RecoversFromInterrupt reports true: TerminateExecution unwinds the
// running script at a safe point and the isolate stays usable.
func (e *Engine) RecoversFromInterrupt() bool { return true }

// NewIsolate creates a V8 isolate+context pair. A memory limit maps to
// V8 resource constraints (initial heap at half the ceiling).
func (e *Engine) NewIsolate(cfg core.IsolateConfig) (core.Isolate, error) {
	var iso *v8.Isolate
	if cfg.MemoryLimitBytes > 0 {
		iso = v8.NewIsolate(v8.WithResourceConstraints(cfg.MemoryLimitBytes/2, cfg.MemoryLimitBytes))
	} else {
		iso = v8.NewIsolate()
	}
	ctx := v8.NewContext(iso)
	if ctx == nil {
		iso.Dispose()
		return nil, fmt.Errorf("creating V8 context")
	}
	return &v8Isolate{iso: iso, ctx: ctx}, nil
}

var _ core.Engine = (*Engine)(nil)
