//go:build goja && !v8

package vex

import (
	"github.com/vexjs/vex/internal/core"
	"github.com/vexjs/vex/internal/gojaengine"
)

func newEngine() core.Engine {
	return gojaengine.New()
}
