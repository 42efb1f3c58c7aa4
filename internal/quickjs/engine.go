//go:build !v8 && !goja

// Package quickjs implements the default engine backend on
// modernc.org/quickjs (a cgo-free QuickJS build). Where the Go wrapper
// has gaps (microtask pumping, ArrayBuffer access) the backend reaches
// through to the generated C API in modernc.org/libquickjs.
package quickjs

import (
	"fmt"

	"github.com/vexjs/vex/internal/core"
	"modernc.org/quickjs"
)

// Engine creates QuickJS isolates.
type Engine struct{}

// New returns the QuickJS engine.
func New() *Engine { return &Engine{} }

func (e *Engine) Name() string { return "quickjs" }

// RecoversFromInterrupt reports false: after vm.Interrupt stops an
// evaluation the VM's internal state is not guaranteed consistent, so
// the owning context is discarded. Conservative but safe.
func (e *Engine) RecoversFromInterrupt() bool { return false }

// NewIsolate creates a QuickJS VM, applies the memory limit, and caches
// the C API pointers used by the microtask pump and binary transfer.
func (e *Engine) NewIsolate(cfg core.IsolateConfig) (core.Isolate, error) {
	vm, err := quickjs.NewVM()
	if err != nil {
		return nil, fmt.Errorf("creating QuickJS VM: %w", err)
	}

	if cfg.MemoryLimitBytes > 0 {
		vm.SetMemoryLimit(uintptr(cfg.MemoryLimitBytes))
	}

	iso := &qjsIsolate{vm: vm}
	if err := iso.initCAPI(); err != nil {
		vm.Close()
		return nil, fmt.Errorf("binding QuickJS C API: %w", err)
	}
	return iso, nil
}

var _ core.Engine = (*Engine)(nil)
