//go:build !v8 && !goja

package quickjs

import (
	"fmt"
	"strings"

	"github.com/vexjs/vex/internal/core"
	"modernc.org/libc"
	"modernc.org/quickjs"
)

// qjsIsolate implements core.Isolate for the QuickJS engine.
type qjsIsolate struct {
	vm  *quickjs.VM
	tls *libc.TLS // cached from VM internals for direct C API access
	ctx uintptr   // cached JSContext pointer for direct C API access
	crt uintptr   // cached JSRuntime pointer for the microtask pump

	// fallback fields: used only when direct C API extraction fails
	// (e.g. if modernc.org/quickjs changes its unexported struct layout).
	useFallback   bool
	pendingBinary []byte // temp: data being written to JS
	pendingResult []byte // temp: data being read from JS
}

var _ core.Isolate = (*qjsIsolate)(nil)
var _ core.BinaryTransferer = (*qjsIsolate)(nil)

// RunProgram evaluates src as a program and stores the completion value
// under resultGlobal. The value stays engine-side; callers inspect it
// with further evals.
func (r *qjsIsolate) RunProgram(src, resultGlobal string) error {
	v, err := r.vm.EvalValue(src, quickjs.EvalGlobal)
	if err != nil {
		return normalizeError(err)
	}
	if err := r.setGlobalValue(resultGlobal, v); err != nil {
		v.Free()
		return err
	}
	v.Free()
	return nil
}

// Eval evaluates JavaScript and discards the result.
func (r *qjsIsolate) Eval(js string) error {
	v, err := r.vm.EvalValue(js, quickjs.EvalGlobal)
	if err != nil {
		return normalizeError(err)
	}
	v.Free()
	return nil
}

// EvalString evaluates JavaScript and returns the result as a Go string.
func (r *qjsIsolate) EvalString(js string) (string, error) {
	result, err := r.vm.Eval(js, quickjs.EvalGlobal)
	if err != nil {
		return "", normalizeError(err)
	}
	if result == nil {
		return "", nil
	}
	return fmt.Sprint(result), nil
}

// EvalBool evaluates JavaScript and returns the result as a Go bool.
func (r *qjsIsolate) EvalBool(js string) (bool, error) {
	result, err := r.vm.Eval(js, quickjs.EvalGlobal)
	if err != nil {
		return false, normalizeError(err)
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expected bool, got %T", result)
	}
	return b, nil
}

// EvalInt evaluates JavaScript and returns the result as a Go int.
func (r *qjsIsolate) EvalInt(js string) (int, error) {
	result, err := r.vm.Eval(js, quickjs.EvalGlobal)
	if err != nil {
		return 0, normalizeError(err)
	}
	switch v := result.(type) {
	case int:
		return v, nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("expected int, got %T", result)
	}
}

// RegisterFunc registers a Go function as a global JavaScript function.
// Multi-value Go returns (T, error) are automatically unwrapped: on
// success returns T, on error throws a TypeError. This is necessary
// because the QuickJS Go wrapper returns multi-value results as JS
// arrays.
func (r *qjsIsolate) RegisterFunc(name string, fn any) error {
	rawName := "__raw_" + name
	if err := r.vm.RegisterFunc(rawName, fn, false); err != nil {
		return err
	}
	wrapJS := fmt.Sprintf(`(function() {
		var raw = globalThis[%q];
		globalThis[%q] = function() {
			var r = raw.apply(this, arguments);
			if (Array.isArray(r)) {
				if (r[1] !== null && r[1] !== undefined) throw new TypeError("calling %s: " + r[1]);
				return r[0];
			}
			return r;
		};
		delete globalThis[%q];
	})()`, rawName, name, name, rawName)
	return r.Eval(wrapJS)
}

// SetGlobal sets a global property on the VM's global object.
func (r *qjsIsolate) SetGlobal(name string, value any) error {
	return r.setGlobalValue(name, value)
}

func (r *qjsIsolate) setGlobalValue(name string, value any) error {
	atom, err := r.vm.NewAtom(name)
	if err != nil {
		return fmt.Errorf("creating atom %q: %w", name, err)
	}
	glob := r.vm.GlobalObject()
	defer glob.Free()
	return glob.SetProperty(atom, value)
}

// RunMicrotasks pumps the QuickJS microtask queue.
func (r *qjsIsolate) RunMicrotasks() {
	executePendingJobs(r)
}

// Interrupt requests termination of the running evaluation. The VM
// observes it at the next interrupt check in the bytecode loop.
func (r *qjsIsolate) Interrupt() {
	r.vm.Interrupt()
}

// Dispose closes the VM.
func (r *qjsIsolate) Dispose() {
	r.vm.Close()
}

// normalizeError converts a QuickJS wrapper error into a
// core.EngineError. QuickJS reports everything as one formatted string:
// the exception's message on the first line, optionally followed by
// stack frames. Classification keys off the standard QuickJS message
// prefixes ("SyntaxError: ...", "InternalError: out of memory",
// "InternalError: interrupted").
func normalizeError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	stack := ""
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		stack = strings.TrimRight(msg[i+1:], "\n")
		msg = msg[:i]
	}
	lower := strings.ToLower(msg)
	return &core.EngineError{
		Parse:       strings.Contains(msg, "SyntaxError"),
		OOM:         strings.Contains(lower, "out of memory"),
		Interrupted: strings.Contains(lower, "interrupted"),
		Message:     msg,
		Stack:       stack,
	}
}
