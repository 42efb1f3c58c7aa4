package vex

import (
	"time"

	"go.uber.org/zap"
)

// Defaults applied by Options.normalized.
const (
	DefaultMaxBridgeDepth = 100
	DefaultGracePeriod    = 200 * time.Millisecond
	DefaultQueueSize      = 64

	minMemoryLimitBytes = 8 << 20
)

// Options configures a Context. The zero value is usable: no memory
// ceiling, no default timeout, default bridge depth.
type Options struct {
	// MemoryLimitBytes caps the isolate heap. Exceeding it fails the
	// running execution with ErrMemoryLimit and disposes the context.
	// Zero means the engine default.
	MemoryLimitBytes uint64

	// DefaultTimeout bounds executions whose call context carries no
	// deadline. Zero means unbounded.
	DefaultTimeout time.Duration

	// GracePeriod is how long the supervisor waits after an interrupt
	// before it gives up on the engine and tears the context down.
	GracePeriod time.Duration

	// MaxBridgeDepth bounds the nesting of values crossing the
	// host/engine boundary in either direction.
	MaxBridgeDepth int

	// QueueSize is how many submitted executions may wait on the context
	// before further submitters block.
	QueueSize int
}

// normalized fills defaults and clamps out-of-range settings, warning on
// anything it had to adjust.
func (o Options) normalized() Options {
	if o.MemoryLimitBytes > 0 && o.MemoryLimitBytes < minMemoryLimitBytes {
		Logger().Warn("memory limit below minimum, raising",
			zap.Uint64("requested", o.MemoryLimitBytes),
			zap.Uint64("minimum", minMemoryLimitBytes))
		o.MemoryLimitBytes = minMemoryLimitBytes
	}

	if o.DefaultTimeout < 0 {
		o.DefaultTimeout = 0
	}

	if o.GracePeriod <= 0 {
		o.GracePeriod = DefaultGracePeriod
	}

	if o.MaxBridgeDepth <= 0 {
		o.MaxBridgeDepth = DefaultMaxBridgeDepth
	}

	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}

	return o
}
