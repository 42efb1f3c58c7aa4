//go:build v8

package vex

import (
	"github.com/vexjs/vex/internal/core"
	"github.com/vexjs/vex/internal/v8engine"
)

func newEngine() core.Engine {
	return v8engine.New()
}
