package vex

import (
	"context"

	"github.com/vexjs/vex/internal/core"
)

// HeapStats is a snapshot of an isolate's heap. Only engines that track
// heap accounting report it; the others fail HeapStats with a plain
// error.
type HeapStats = core.HeapStats

// HeapStats reads the isolate's heap counters. The read is serialized
// with executions, so it reflects a quiescent heap but may wait behind
// queued work.
func (c *Context) HeapStats(ctx context.Context) (*HeapStats, error) {
	out := c.submit(ctx, newTask(taskStats))
	return out.stats, out.err
}
