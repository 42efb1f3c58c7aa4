package vex

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/vexjs/vex/internal/core"
)

const (
	awaitStateGlobal = "__vex_await_s"
	awaitValueGlobal = "__vex_await_v"

	// drainSlice bounds one event-loop drain pass while waiting on a
	// promise, so deadline checks stay responsive.
	drainSlice = 10 * time.Millisecond

	// awaitIdleSleep paces the settle loop when no timers or microtasks
	// are pending.
	awaitIdleSleep = time.Millisecond
)

// watchdog enforces one execution's deadline. The first timer asks the
// engine to stop; the grace timer deals with an engine that will not:
// it fails the call immediately and condemns the context, whose isolate
// is released once the engine finally yields.
type watchdog struct {
	timedOut  atomic.Bool
	hardFired atomic.Bool
	timer     *time.Timer
	grace     *time.Timer
}

func (c *Context) armWatchdog(t *task) *watchdog {
	wd := &watchdog{}
	if t.deadline.IsZero() {
		return wd
	}
	d := time.Until(t.deadline)
	if d < 0 {
		d = 0
	}
	wd.timer = time.AfterFunc(d, func() {
		wd.timedOut.Store(true)
		c.interrupt()
	})
	wd.grace = time.AfterFunc(d+c.opts.GracePeriod, func() {
		if t.claimed.Load() {
			return
		}
		wd.hardFired.Store(true)
		Logger().Warn("engine ignored cancellation, condemning context",
			zap.String("context", c.id),
			zap.Duration("grace", c.opts.GracePeriod))
		t.deliver(taskOutcome{
			res: &Result{Logs: c.logs.snapshot()},
			err: errTimeout("execution did not stop within the cancellation grace period"),
		})
		c.poison()
		c.interrupt()
	})
	return wd
}

func (wd *watchdog) stop() {
	if wd.timer != nil {
		wd.timer.Stop()
	}
	if wd.grace != nil {
		wd.grace.Stop()
	}
}

// perform executes one task on the runner goroutine.
func (c *Context) perform(t *task) (out taskOutcome) {
	switch t.kind {
	case taskBind:
		return c.performBind(t)
	case taskStats:
		return c.performStats()
	}

	if !t.deadline.IsZero() && !time.Now().Before(t.deadline) {
		return taskOutcome{err: errTimeout("deadline expired while queued")}
	}

	defer func() {
		if r := recover(); r != nil {
			Logger().Error("engine panic",
				zap.String("context", c.id), zap.Any("panic", r))
			c.poison()
			out = taskOutcome{
				res: &Result{Logs: c.logs.take()},
				err: &Error{Kind: ErrInternal, Message: fmt.Sprint("engine panic: ", r)},
			}
		}
	}()

	start := time.Now()
	wd := c.armWatchdog(t)
	defer wd.stop()

	var evalErr error
	switch t.kind {
	case taskEval:
		evalErr = c.iso.RunProgram(t.src, resultGlobal)
	case taskCall:
		evalErr = c.performCallScript(t)
	}
	if evalErr == nil {
		evalErr = c.awaitSettled(t.deadline)
	}

	var val Value
	if evalErr == nil {
		val, evalErr = c.extractResult()
	}

	duration := time.Since(start)
	wd.stop()

	if wd.hardFired.Load() {
		// Already failed by the grace timer; the outcome is discarded.
		return taskOutcome{err: errTimeout("execution did not stop within the cancellation grace period")}
	}

	if wd.timedOut.Load() {
		// A fault that condemns the context outranks the deadline it
		// happened to race with.
		if evalErr != nil {
			if eerr := c.toTaxonomy(evalErr); fatalKind(eerr.Kind) {
				c.poison()
				return taskOutcome{
					res: &Result{Logs: c.logs.take(), Duration: duration},
					err: eerr,
				}
			}
		}
		if activeEngine().RecoversFromInterrupt() {
			// Absorb a termination flag that landed after the engine
			// already returned, so it cannot fail the next execution.
			_ = c.iso.Eval(";")
		} else {
			c.poison()
		}
		return taskOutcome{
			res: &Result{Logs: c.logs.take(), Duration: duration},
			err: errTimeout(fmt.Sprintf("execution exceeded its deadline after %s", duration.Round(time.Millisecond))),
		}
	}

	if evalErr != nil {
		eerr := c.toTaxonomy(evalErr)
		if fatalKind(eerr.Kind) {
			c.poison()
		}
		return taskOutcome{
			res: &Result{Logs: c.logs.take(), Duration: duration},
			err: eerr,
		}
	}

	return taskOutcome{res: &Result{Value: val, Logs: c.logs.take(), Duration: duration}}
}

// toTaxonomy folds any execution failure into the public error types.
func (c *Context) toTaxonomy(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return mapBridgeThrow(e)
	}
	return mapBridgeThrow(classifyEngineError(err, c.isDisposing()))
}

// performCallScript stages the encoded arguments and invokes the target
// through the codec, leaving the completion value in the result global.
func (c *Context) performCallScript(t *task) error {
	argsJSON, err := c.encodeArgs(t.args)
	if err != nil {
		return err
	}
	if err := c.iso.SetGlobal(argsGlobal, argsJSON); err != nil {
		return fmt.Errorf("staging call arguments: %w", err)
	}

	var targetJSON string
	if t.target.path != "" {
		targetJSON, err = jsoniter.MarshalToString(map[string]string{"path": t.target.path})
	} else {
		targetJSON, err = jsoniter.MarshalToString(map[string]int64{"ref": t.target.ref})
	}
	if err != nil {
		return fmt.Errorf("encoding call target: %w", err)
	}

	script := fmt.Sprintf(
		"globalThis.%s = __vex.call(%s, globalThis.%s); delete globalThis.%s;",
		resultGlobal, targetJSON, argsGlobal, argsGlobal)
	return c.iso.Eval(script)
}

func (c *Context) performBind(t *task) taskOutcome {
	c.hostFns[t.bindName] = t.bindFn
	script := fmt.Sprintf("globalThis[%q] = __vex.makeHost(%q);", t.bindName, t.bindName)
	if err := c.iso.Eval(script); err != nil {
		delete(c.hostFns, t.bindName)
		return taskOutcome{err: c.toTaxonomy(err)}
	}
	return taskOutcome{}
}

func (c *Context) performStats() taskOutcome {
	hr, ok := c.iso.(core.HeapReporter)
	if !ok {
		return taskOutcome{err: fmt.Errorf("heap statistics not supported by the %s engine", activeEngine().Name())}
	}
	st, err := hr.HeapStats()
	if err != nil {
		return taskOutcome{err: fmt.Errorf("reading heap statistics: %w", err)}
	}
	return taskOutcome{stats: &st}
}

// awaitSettled waits for a promise result to settle, pumping microtasks
// and firing due timers between polls. Non-promise results return
// immediately.
func (c *Context) awaitSettled(deadline time.Time) error {
	isPromise, err := c.iso.EvalBool(
		"typeof Promise === 'function' && globalThis." + resultGlobal + " instanceof Promise")
	if err != nil || !isPromise {
		return err
	}

	setup := fmt.Sprintf(`
		globalThis.%[1]s = 'pending';
		globalThis.%[2]s = undefined;
		Promise.resolve(globalThis.%[3]s).then(function(v) {
			globalThis.%[1]s = 'fulfilled';
			globalThis.%[2]s = v;
		}, function(e) {
			globalThis.%[1]s = 'rejected';
			globalThis.%[2]s = e;
		});
	`, awaitStateGlobal, awaitValueGlobal, resultGlobal)
	if err := c.iso.Eval(setup); err != nil {
		return err
	}

	for {
		c.iso.RunMicrotasks()

		state, err := c.iso.EvalString("globalThis." + awaitStateGlobal)
		if err != nil {
			return err
		}
		switch state {
		case "fulfilled":
			return c.finishAwait(true)
		case "rejected":
			return c.finishAwait(false)
		}

		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return errTimeout("promise did not settle before the deadline")
		}

		if c.loop.HasPending() {
			end := time.Now().Add(drainSlice)
			if !deadline.IsZero() && deadline.Before(end) {
				end = deadline
			}
			c.loop.Drain(c.iso, end)
			continue
		}
		time.Sleep(awaitIdleSleep)
	}
}

// finishAwait moves the settled value into the result global, or turns a
// rejection into a script error.
func (c *Context) finishAwait(fulfilled bool) error {
	defer func() {
		_ = c.iso.Eval(fmt.Sprintf(
			"delete globalThis.%s; delete globalThis.%s;", awaitStateGlobal, awaitValueGlobal))
	}()

	if fulfilled {
		return c.iso.Eval(fmt.Sprintf("globalThis.%s = globalThis.%s;", resultGlobal, awaitValueGlobal))
	}

	msg, err := c.iso.EvalString("String(globalThis." + awaitValueGlobal + ")")
	if err != nil {
		msg = "promise rejected"
	}
	stack, _ := c.iso.EvalString(fmt.Sprintf(
		"globalThis.%[1]s && typeof globalThis.%[1]s.stack === 'string' ? globalThis.%[1]s.stack : ''",
		awaitValueGlobal))
	return &Error{Kind: ErrScript, Message: msg, Stack: stack}
}

// extractResult encodes the result global through the codec and decodes
// it into a host value.
func (c *Context) extractResult() (Value, error) {
	raw, err := c.iso.EvalString("__vex.encode(globalThis." + resultGlobal + ")")
	if err != nil {
		return Value{}, err
	}
	_ = c.iso.Eval("delete globalThis." + resultGlobal + ";")
	return decodeResult(c, raw)
}
