//go:build !v8 && !goja

package vex

import (
	"github.com/vexjs/vex/internal/core"
	"github.com/vexjs/vex/internal/quickjs"
)

func newEngine() core.Engine {
	return quickjs.New()
}
