// Package vex embeds a JavaScript engine behind a small, safe API.
//
// A Context owns one isolated engine instance. Scripts evaluated on a
// Context share its global object but see nothing of other contexts or
// of the host process beyond what the host binds explicitly. Every
// execution is bounded: deadlines interrupt runaway scripts, a heap
// ceiling fails allocation-hungry ones, and results cross back as plain
// host values.
//
//	ctx, err := vex.NewContext(vex.Options{DefaultTimeout: time.Second})
//	if err != nil { ... }
//	defer ctx.Dispose()
//
//	res, err := ctx.Eval(context.Background(), "6 * 7")
//	// res.Value.Int() == 42
//
// The engine backend is chosen at compile time: QuickJS by default, V8
// with -tags v8, and the pure-Go goja with -tags goja.
package vex

import (
	"sync"

	"go.uber.org/zap"

	"github.com/vexjs/vex/internal/core"
)

var (
	logger     *zap.Logger
	loggerOnce sync.Once
)

// Logger returns the package logger. It is a no-op logger by default.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
	})
	return logger
}

// SetLogger configures the package logger. Call it before creating
// contexts.
func SetLogger(l *zap.Logger) {
	logger = l
}

var (
	engineOnce sync.Once
	engine     core.Engine
)

// activeEngine returns the process-wide engine backend, creating it on
// first use.
func activeEngine() core.Engine {
	engineOnce.Do(func() {
		engine = newEngine()
		Logger().Info("engine backend initialized", zap.String("engine", engine.Name()))
	})
	return engine
}

// EngineName reports which backend this build embeds.
func EngineName() string {
	return activeEngine().Name()
}
