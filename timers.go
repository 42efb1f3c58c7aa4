package vex

import (
	"time"
)

// setupTimers installs setTimeout/setInterval backed by the context's
// event loop. Callbacks stay inside the isolate; Go tracks only the
// schedule. Timers fire while an execution is waiting on a promise, not
// between executions.
func (c *Context) setupTimers() error {
	if err := c.iso.RegisterFunc("__vex_timer_reg", func(delayMS float64, isInterval bool) int {
		if delayMS < 0 {
			delayMS = 0
		}
		return c.loop.RegisterTimer(time.Duration(delayMS*float64(time.Millisecond)), isInterval)
	}); err != nil {
		return err
	}
	if err := c.iso.RegisterFunc("__vex_timer_clear", func(id int) {
		c.loop.ClearTimer(id)
	}); err != nil {
		return err
	}
	return c.iso.Eval(timersJS)
}

const timersJS = `
(function() {
	globalThis.__vex_timers = {};

	globalThis.setTimeout = function(cb, delay) {
		if (typeof cb !== 'function') throw new TypeError('setTimeout requires a function');
		var args = Array.prototype.slice.call(arguments, 2);
		var id = __vex_timer_reg(typeof delay === 'number' ? delay : 0, false);
		globalThis.__vex_timers[id] = { fn: cb, args: args, interval: false };
		return id;
	};

	globalThis.setInterval = function(cb, delay) {
		if (typeof cb !== 'function') throw new TypeError('setInterval requires a function');
		var args = Array.prototype.slice.call(arguments, 2);
		var id = __vex_timer_reg(typeof delay === 'number' ? delay : 0, true);
		globalThis.__vex_timers[id] = { fn: cb, args: args, interval: true };
		return id;
	};

	globalThis.clearTimeout = function(id) {
		if (id === undefined || id === null) return;
		delete globalThis.__vex_timers[id];
		__vex_timer_clear(id);
	};

	globalThis.clearInterval = globalThis.clearTimeout;

	globalThis.queueMicrotask = function(cb) {
		if (typeof cb !== 'function') throw new TypeError('queueMicrotask requires a function');
		Promise.resolve().then(cb);
	};
})();
`
