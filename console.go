package vex

import (
	"fmt"
	"sync"
	"time"

	"github.com/vexjs/vex/internal/core"
)

// LogEntry is one captured console call.
type LogEntry struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

const maxLogEntries = 1000
const maxLogMessageSize = 4096

// logBuffer collects console output for the execution in flight. The
// supervisor may read it from the watchdog goroutine on a hard timeout,
// so access is locked.
type logBuffer struct {
	mu      sync.Mutex
	entries []LogEntry
}

func (b *logBuffer) add(level, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) >= maxLogEntries {
		return
	}
	if len(message) > maxLogMessageSize {
		message = message[:maxLogMessageSize] + "...(truncated)"
	}
	b.entries = append(b.entries, LogEntry{
		Level:   level,
		Message: message,
		Time:    time.Now(),
	})
}

// take returns the captured entries and resets the buffer.
func (b *logBuffer) take() []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.entries
	b.entries = nil
	return out
}

// snapshot copies the entries without resetting. Used when a timed-out
// execution may still be appending.
func (b *logBuffer) snapshot() []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]LogEntry, len(b.entries))
	copy(out, b.entries)
	return out
}

// setupConsole replaces globalThis.console with a Go-backed version that
// captures output into the context's log buffer.
func setupConsole(iso core.Isolate, buf *logBuffer) error {
	if err := iso.RegisterFunc("__vex_log", func(level, message string) {
		buf.add(level, message)
	}); err != nil {
		return err
	}
	if err := iso.Eval(consoleJS); err != nil {
		return fmt.Errorf("evaluating console.js: %w", err)
	}
	return iso.Eval(consoleExtJS)
}

// setupPerformance installs performance.now backed by a Go monotonic
// clock. The extended console timers depend on it.
func setupPerformance(iso core.Isolate) error {
	startTime := time.Now()
	if err := iso.RegisterFunc("__vex_perf_now", func() float64 {
		return float64(time.Since(startTime).Nanoseconds()) / 1e6
	}); err != nil {
		return err
	}
	return iso.Eval(`
		globalThis.performance = {
			now: function() { return __vex_perf_now(); }
		};
	`)
}

const consoleJS = `
(function() {
	var levels = ['log', 'info', 'warn', 'error', 'debug'];
	var con = {};
	function fmt(arg) {
		if (typeof arg === 'object' && arg !== null) {
			try {
				return JSON.stringify(arg);
			} catch (e) {
				return String(arg);
			}
		}
		return String(arg);
	}
	for (var i = 0; i < levels.length; i++) {
		(function(lvl) {
			con[lvl] = function() {
				var parts = [];
				for (var j = 0; j < arguments.length; j++) {
					parts.push(fmt(arguments[j]));
				}
				__vex_log(lvl, parts.join(' '));
			};
		})(levels[i]);
	}
	globalThis.console = con;
})();
`

// consoleExtJS adds the extended console methods (time, count, assert,
// table, trace, group, dir).
const consoleExtJS = `
(function() {
var __timers = {};
var __counters = {};
var __groupDepth = 0;

console.time = function(label) {
	__timers[label || 'default'] = performance.now();
};
console.timeEnd = function(label) {
	var l = label || 'default';
	var start = __timers[l];
	if (start === undefined) { console.warn('Timer "' + l + '" does not exist'); return; }
	var elapsed = performance.now() - start;
	delete __timers[l];
	console.log(l + ': ' + elapsed.toFixed(3) + 'ms');
};
console.timeLog = function(label) {
	var l = label || 'default';
	var start = __timers[l];
	if (start === undefined) { console.warn('Timer "' + l + '" does not exist'); return; }
	var elapsed = performance.now() - start;
	var args = Array.prototype.slice.call(arguments, 1);
	if (args.length > 0) {
		console.log(l + ': ' + elapsed.toFixed(3) + 'ms', args.join(' '));
	} else {
		console.log(l + ': ' + elapsed.toFixed(3) + 'ms');
	}
};
console.count = function(label) {
	var l = label || 'default';
	__counters[l] = (__counters[l] || 0) + 1;
	console.log(l + ': ' + __counters[l]);
};
console.countReset = function(label) {
	__counters[label || 'default'] = 0;
};
console.assert = function(cond) {
	if (!cond) {
		var args = Array.prototype.slice.call(arguments, 1);
		if (args.length > 0) {
			console.error('Assertion failed:', args.join(' '));
		} else {
			console.error('Assertion failed');
		}
	}
};
console.table = function(data) {
	console.log(JSON.stringify(data, null, 2));
};
console.trace = function() {
	var args = Array.prototype.slice.call(arguments);
	if (args.length > 0) {
		console.log('Trace:', args.join(' '));
	} else {
		console.log('Trace');
	}
};
console.group = function(label) {
	if (label) console.log(label);
	__groupDepth++;
};
console.groupEnd = function() {
	if (__groupDepth > 0) __groupDepth--;
};
console.dir = function(obj) {
	console.log(JSON.stringify(obj, null, 2));
};
})();
`
