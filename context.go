package vex

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vexjs/vex/internal/core"
	"github.com/vexjs/vex/internal/eventloop"
)

// State is a context lifecycle stage. A context is Active from creation,
// Disposing once teardown has begun, and Disposed after its isolate has
// been released. Transitions are one-way.
type State int

const (
	StateActive State = iota
	StateDisposing
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateDisposing:
		return "disposing"
	case StateDisposed:
		return "disposed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// HostFunc is a Go function scripts can call once bound with Bind. An
// error return surfaces in the script as a thrown TypeError.
//
// HostFuncs run on the context's runner goroutine while a script is on
// the engine stack, so they must not call back into the same context.
type HostFunc func(args []Value) (Value, error)

// Result carries the outcome of one execution. On failure a partial
// Result still accompanies the error so console output captured before
// the fault is not lost.
type Result struct {
	Value    Value
	Logs     []LogEntry
	Duration time.Duration
}

type taskKind int

const (
	taskEval taskKind = iota
	taskCall
	taskBind
	taskStats
)

type callTarget struct {
	path string
	ref  int64
}

// task is one unit of work for the runner goroutine. done is buffered so
// whichever side delivers first never blocks; claimed makes delivery
// exactly-once between the runner, the watchdog and a cancelling caller.
type task struct {
	kind     taskKind
	src      string
	target   callTarget
	args     []Value
	bindName string
	bindFn   HostFunc
	deadline time.Time

	done    chan taskOutcome
	claimed atomic.Bool
}

type taskOutcome struct {
	res   *Result
	stats *HeapStats
	err   error
}

func newTask(kind taskKind) *task {
	return &task{kind: kind, done: make(chan taskOutcome, 1)}
}

func (t *task) deliver(out taskOutcome) bool {
	if !t.claimed.CompareAndSwap(false, true) {
		return false
	}
	t.done <- out
	return true
}

// Context is one isolated JavaScript engine instance. Scripts evaluated
// on it share a persistent global object; nothing is shared across
// contexts. All engine work runs on a single runner goroutine, so
// concurrent calls queue in arrival order. Context methods themselves
// are safe for concurrent use.
type Context struct {
	id   string
	opts Options

	iso  core.Isolate
	loop *eventloop.EventLoop
	logs *logBuffer

	tasks    chan *task
	quit     chan struct{}
	quitOnce sync.Once
	doneCh   chan struct{}

	pending atomic.Int64
	running atomic.Pointer[task]

	mu    sync.Mutex
	state State

	// staleInterrupt records that an interrupt was issued for an
	// execution whose outcome nobody wants anymore. The runner absorbs
	// it before touching the isolate again. Guarded by mu so the flag is
	// never observed before its interrupt has been delivered.
	staleInterrupt bool

	isoMu     sync.RWMutex
	isoClosed bool

	// hostFns is touched only on the runner goroutine.
	hostFns map[string]HostFunc

	createdAt time.Time
}

// NewContext creates a context backed by a fresh isolate.
func NewContext(opts Options) (*Context, error) {
	o := opts.normalized()
	eng := activeEngine()
	iso, err := eng.NewIsolate(core.IsolateConfig{MemoryLimitBytes: o.MemoryLimitBytes})
	if err != nil {
		return nil, fmt.Errorf("creating %s isolate: %w", eng.Name(), err)
	}

	c := &Context{
		id:        uuid.New().String(),
		opts:      o,
		iso:       iso,
		loop:      eventloop.New(),
		logs:      &logBuffer{},
		tasks:     make(chan *task, o.QueueSize),
		quit:      make(chan struct{}),
		doneCh:    make(chan struct{}),
		hostFns:   map[string]HostFunc{},
		createdAt: time.Now(),
	}

	if err := c.setupIsolate(); err != nil {
		iso.Dispose()
		return nil, fmt.Errorf("bootstrapping context: %w", err)
	}

	live.add(c)
	go c.runLoop()

	Logger().Debug("context created",
		zap.String("context", c.id),
		zap.String("engine", eng.Name()),
		zap.Uint64("memoryLimit", o.MemoryLimitBytes))
	return c, nil
}

// setupIsolate installs the transport codec, console, timers and the
// host-function dispatcher into a fresh isolate.
func (c *Context) setupIsolate() error {
	if err := c.iso.Eval(bridgeJS); err != nil {
		return fmt.Errorf("installing codec: %w", err)
	}
	if err := c.iso.Eval(fmt.Sprintf("__vex.maxDepth = %d;", c.opts.MaxBridgeDepth)); err != nil {
		return err
	}
	if _, ok := c.iso.(core.BinaryTransferer); ok {
		if err := c.iso.Eval("__vex.binaryRefs = true;"); err != nil {
			return err
		}
	}
	if err := setupPerformance(c.iso); err != nil {
		return fmt.Errorf("installing performance: %w", err)
	}
	if err := setupConsole(c.iso, c.logs); err != nil {
		return fmt.Errorf("installing console: %w", err)
	}
	if err := c.setupTimers(); err != nil {
		return fmt.Errorf("installing timers: %w", err)
	}
	if err := setupEncoding(c.iso); err != nil {
		return fmt.Errorf("installing text encoding: %w", err)
	}
	if err := c.iso.RegisterFunc("__vex_dispatch", c.dispatchHost); err != nil {
		return fmt.Errorf("installing dispatcher: %w", err)
	}
	return nil
}

// dispatchHost routes a script call to a bound host function. It runs
// inside the engine call that triggered it, so values cross inline and
// the engine is never re-entered.
func (c *Context) dispatchHost(name, payload string) (string, error) {
	fn := c.hostFns[name]
	if fn == nil {
		return "", fmt.Errorf("no host function %q", name)
	}
	args, err := decodeResult(c, payload)
	if err != nil {
		return "", err
	}
	out, err := fn(args.Array())
	if err != nil {
		return "", err
	}
	return c.encodeValueInline(out)
}

// ID returns the context's unique identifier.
func (c *Context) ID() string { return c.id }

// State reports the current lifecycle stage.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Disposed reports whether teardown has completed.
func (c *Context) Disposed() bool { return c.State() == StateDisposed }

// Eval evaluates source and returns its completion value. If the value
// is a promise, Eval waits for it to settle and returns the settled
// value; a rejection is an ErrScript failure.
//
// The execution deadline is the earlier of ctx's deadline and the
// context's DefaultTimeout, measured from submission. Concurrent calls
// queue in arrival order.
func (c *Context) Eval(ctx context.Context, src string) (*Result, error) {
	t := newTask(taskEval)
	t.src = src
	out := c.submit(ctx, t)
	return out.res, out.err
}

// TryEval is Eval without queueing: it fails fast with ErrBusy unless
// the context is idle.
func (c *Context) TryEval(ctx context.Context, src string) (*Result, error) {
	if err := c.ensureActive(); err != nil {
		return nil, err
	}
	if !c.pending.CompareAndSwap(0, 1) {
		return nil, errBusy(c.id)
	}
	t := newTask(taskEval)
	t.src = src
	out := c.enqueue(ctx, t)
	return out.res, out.err
}

// Call invokes a function reachable from the global object by dotted
// path, such as "JSON.stringify" or "handlers.onMessage". The callee's
// `this` is the object the path was resolved through.
func (c *Context) Call(ctx context.Context, path string, args ...Value) (*Result, error) {
	if path == "" {
		return nil, &Error{Kind: ErrScript, Message: "empty call path"}
	}
	return c.call(ctx, callTarget{path: path}, args)
}

func (c *Context) call(ctx context.Context, target callTarget, args []Value) (*Result, error) {
	t := newTask(taskCall)
	t.target = target
	t.args = args
	out := c.submit(ctx, t)
	return out.res, out.err
}

// Bind exposes fn to scripts as a global function. Binding queues like
// any other operation, so it takes effect after earlier submissions.
func (c *Context) Bind(ctx context.Context, name string, fn HostFunc) error {
	if !validBindName(name) {
		return fmt.Errorf("invalid binding name %q", name)
	}
	if fn == nil {
		return fmt.Errorf("nil host function for %q", name)
	}
	t := newTask(taskBind)
	t.bindName = name
	t.bindFn = fn
	return c.submit(ctx, t).err
}

func validBindName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		if r == '_' || r == '$' || unicode.IsLetter(r) {
			continue
		}
		if i > 0 && unicode.IsDigit(r) {
			continue
		}
		return false
	}
	return true
}

func (c *Context) ensureActive() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return errDisposed(c.id)
	}
	return nil
}

func (c *Context) isDisposing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != StateActive
}

// effectiveDeadline combines the caller deadline with the context
// default. Zero means unbounded.
func effectiveDeadline(ctx context.Context, def time.Duration) time.Time {
	var d time.Time
	if t, ok := ctx.Deadline(); ok {
		d = t
	}
	if def > 0 {
		t := time.Now().Add(def)
		if d.IsZero() || t.Before(d) {
			d = t
		}
	}
	return d
}

func (c *Context) submit(ctx context.Context, t *task) taskOutcome {
	if err := c.ensureActive(); err != nil {
		return taskOutcome{err: err}
	}
	c.pending.Add(1)
	return c.enqueue(ctx, t)
}

// enqueue hands the task to the runner and waits for its outcome. The
// pending slot must already be counted.
func (c *Context) enqueue(ctx context.Context, t *task) taskOutcome {
	t.deadline = effectiveDeadline(ctx, c.opts.DefaultTimeout)

	select {
	case c.tasks <- t:
	case <-c.quit:
		c.pending.Add(-1)
		return taskOutcome{err: errDisposed(c.id)}
	case <-ctx.Done():
		c.pending.Add(-1)
		return taskOutcome{err: ctx.Err()}
	}

	// The send can race the start of disposal. If disposal won, claim
	// the task ourselves in case the teardown drain already missed it.
	select {
	case <-c.quit:
		if t.deliver(taskOutcome{err: errDisposed(c.id)}) {
			return taskOutcome{err: errDisposed(c.id)}
		}
	default:
	}

	select {
	case out := <-t.done:
		return out
	case <-ctx.Done():
		if t.deliver(taskOutcome{err: ctx.Err()}) {
			// Abandoned before completion. Stop it if it is the one
			// running; if still queued, the runner skips claimed tasks.
			c.abandonRunning(t)
			return taskOutcome{err: ctx.Err()}
		}
		return <-t.done
	}
}

// abandonRunning interrupts the engine if t is the execution in flight.
// Setting staleInterrupt and interrupting under mu guarantees that once
// the runner observes the flag, the interrupt has already landed, so a
// single absorb pass is enough.
func (c *Context) abandonRunning(t *task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running.Load() != t {
		return
	}
	c.staleInterrupt = true
	c.interrupt()
}

// absorbStaleInterrupt deals with an interrupt that outlived the
// execution it targeted. Engines that recover swallow it with an empty
// eval; the rest would hand the poisoned state to the next execution, so
// their context is condemned instead. Runs on the runner goroutine.
func (c *Context) absorbStaleInterrupt() {
	c.mu.Lock()
	stale := c.staleInterrupt
	c.staleInterrupt = false
	c.mu.Unlock()
	if !stale {
		return
	}
	if activeEngine().RecoversFromInterrupt() {
		_ = c.iso.Eval(";")
		return
	}
	c.poison()
}

// runLoop is the context's runner goroutine. All engine calls happen
// here, giving every execution exclusive use of the isolate.
func (c *Context) runLoop() {
	defer c.teardown()
	for {
		// Disposal outranks queued work even when both are ready.
		select {
		case <-c.quit:
			return
		default:
		}

		select {
		case <-c.quit:
			return
		case t := <-c.tasks:
			if t.claimed.Load() {
				c.pending.Add(-1)
				continue
			}
			c.running.Store(t)
			out := c.perform(t)
			c.running.Store(nil)
			if !t.deliver(out) {
				// The outcome went unclaimed: the caller gave up and may
				// have interrupted the engine mid-flight.
				c.absorbStaleInterrupt()
			}
			c.pending.Add(-1)
		}
	}
}

// teardown refuses queued work, releases the isolate and marks the
// context Disposed. Runs exactly once, on the runner goroutine.
func (c *Context) teardown() {
	for drained := false; !drained; {
		select {
		case t := <-c.tasks:
			t.deliver(taskOutcome{err: errDisposed(c.id)})
			c.pending.Add(-1)
		default:
			drained = true
		}
	}

	c.loop.Reset()

	c.isoMu.Lock()
	c.iso.Dispose()
	c.isoClosed = true
	c.isoMu.Unlock()

	live.remove(c)

	c.mu.Lock()
	c.state = StateDisposed
	c.mu.Unlock()

	Logger().Debug("context disposed",
		zap.String("context", c.id),
		zap.Duration("lifetime", time.Since(c.createdAt)))
	close(c.doneCh)
}

// poison moves the context to Disposing and wakes the runner so
// teardown happens as soon as the isolate is free.
func (c *Context) poison() {
	c.mu.Lock()
	if c.state == StateActive {
		c.state = StateDisposing
	}
	c.mu.Unlock()
	c.quitOnce.Do(func() { close(c.quit) })
}

// interrupt asks the engine to abandon the running execution. Safe
// against concurrent teardown.
func (c *Context) interrupt() {
	c.isoMu.RLock()
	defer c.isoMu.RUnlock()
	if c.isoClosed {
		return
	}
	c.iso.Interrupt()
}

// Dispose tears the context down. Any in-flight execution is cancelled
// and completes with ErrContextDisposed; queued work is refused the same
// way. Dispose blocks until the isolate has been released and is safe to
// call repeatedly and concurrently.
func (c *Context) Dispose() {
	c.poison()
	if t := c.running.Load(); t != nil {
		c.interrupt()
	}
	<-c.doneCh
}
