//go:build v8

package v8engine

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/vexjs/vex/internal/core"
	v8 "github.com/tommie/v8go"
)

// v8Isolate implements core.Isolate for the V8 engine.
type v8Isolate struct {
	iso *v8.Isolate
	ctx *v8.Context
}

var _ core.Isolate = (*v8Isolate)(nil)
var _ core.BinaryTransferer = (*v8Isolate)(nil)
var _ core.HeapReporter = (*v8Isolate)(nil)

// RunProgram compiles and runs src as a program and stores the
// completion value under resultGlobal. Compiling separately keeps parse
// failures distinguishable from runtime failures.
func (r *v8Isolate) RunProgram(src, resultGlobal string) error {
	script, err := r.iso.CompileUnboundScript(src, "program.js", v8.CompileOptions{})
	if err != nil {
		return normalizeError(err, true)
	}
	val, err := script.Run(r.ctx)
	if err != nil {
		return normalizeError(err, false)
	}
	if val == nil {
		val = v8.Undefined(r.iso)
	}
	return r.ctx.Global().Set(resultGlobal, val)
}

// Eval evaluates JavaScript and discards the result.
func (r *v8Isolate) Eval(js string) error {
	_, err := r.ctx.RunScript(js, "eval.js")
	return normalizeError(err, false)
}

// EvalString evaluates JavaScript and returns the result as a Go string.
func (r *v8Isolate) EvalString(js string) (string, error) {
	val, err := r.ctx.RunScript(js, "eval_string.js")
	if err != nil {
		return "", normalizeError(err, false)
	}
	if val == nil {
		return "", nil
	}
	return val.String(), nil
}

// EvalBool evaluates JavaScript and returns the result as a Go bool.
func (r *v8Isolate) EvalBool(js string) (bool, error) {
	val, err := r.ctx.RunScript(js, "eval_bool.js")
	if err != nil {
		return false, normalizeError(err, false)
	}
	if val == nil {
		return false, nil
	}
	return val.Boolean(), nil
}

// EvalInt evaluates JavaScript and returns the result as a Go int.
func (r *v8Isolate) EvalInt(js string) (int, error) {
	val, err := r.ctx.RunScript(js, "eval_int.js")
	if err != nil {
		return 0, normalizeError(err, false)
	}
	if val == nil {
		return 0, nil
	}
	return int(val.Integer()), nil
}

// RegisterFunc registers a Go function as a global JavaScript function.
// Uses reflection to inspect the Go function's signature and creates a
// V8 FunctionTemplate that marshals arguments and return values.
//
// Supported argument types: string, int, float64, bool.
// Returns: none, a single scalar, or (T, error) — a non-nil error is
// thrown in script.
func (r *v8Isolate) RegisterFunc(name string, fn any) error {
	fnVal := reflect.ValueOf(fn)
	fnType := fnVal.Type()

	if fnType.Kind() != reflect.Func {
		return fmt.Errorf("RegisterFunc: expected function, got %T", fn)
	}

	tmpl := v8.NewFunctionTemplate(r.iso, func(info *v8.FunctionCallbackInfo) *v8.Value {
		args := info.Args()

		if len(args) < fnType.NumIn() {
			msg := fmt.Sprintf("%s requires at least %d argument(s), got %d", name, fnType.NumIn(), len(args))
			jsMsg, _ := v8.NewValue(r.iso, msg)
			r.iso.ThrowException(jsMsg)
			return nil
		}

		goArgs := make([]reflect.Value, fnType.NumIn())
		for i := 0; i < fnType.NumIn(); i++ {
			goArgs[i] = jsToGoArg(args[i], fnType.In(i))
		}

		results := fnVal.Call(goArgs)

		switch fnType.NumOut() {
		case 0:
			return nil
		case 1:
			return goToJSValue(r.iso, results[0])
		case 2:
			// (T, error) pattern: throw on error, return T on success.
			errVal := results[1]
			if !errVal.IsNil() {
				errMsg := errVal.Interface().(error).Error()
				msg := fmt.Sprintf("calling %s: %s", name, errMsg)
				jsMsg, _ := v8.NewValue(r.iso, msg)
				r.iso.ThrowException(jsMsg)
				return nil
			}
			return goToJSValue(r.iso, results[0])
		default:
			return nil
		}
	})

	fnObj := tmpl.GetFunction(r.ctx)

	return r.ctx.Global().Set(name, fnObj)
}

// SetGlobal sets a global variable on the JS context.
func (r *v8Isolate) SetGlobal(name string, value any) error {
	jsVal, err := goAnyToJSValue(r.iso, r.ctx, value)
	if err != nil {
		return fmt.Errorf("converting value for %q: %w", name, err)
	}
	return r.ctx.Global().Set(name, jsVal)
}

// RunMicrotasks pumps the V8 microtask queue.
func (r *v8Isolate) RunMicrotasks() {
	r.ctx.PerformMicrotaskCheckpoint()
}

// Interrupt requests termination of the running script.
// TerminateExecution is the one thread-safe V8 call.
func (r *v8Isolate) Interrupt() {
	r.iso.TerminateExecution()
}

// Dispose closes the context and the isolate.
func (r *v8Isolate) Dispose() {
	r.ctx.Close()
	r.iso.Dispose()
}

// HeapStats returns a snapshot of the isolate's heap usage.
func (r *v8Isolate) HeapStats() (core.HeapStats, error) {
	hs := r.iso.GetHeapStatistics()
	return core.HeapStats{
		TotalHeapSize:      hs.TotalHeapSize,
		UsedHeapSize:       hs.UsedHeapSize,
		TotalAvailableSize: hs.TotalAvailableSize,
		HeapSizeLimit:      hs.HeapSizeLimit,
	}, nil
}

// BinaryMode returns "sab" — V8 uses SharedArrayBuffer for binary transfer.
func (r *v8Isolate) BinaryMode() string { return "sab" }

// ReadBinaryFromJS reads the ArrayBuffer at globalThis[globalName] and
// returns its contents as Go bytes. The buffer is staged through a
// SharedArrayBuffer, whose backing store is reachable from Go.
func (r *v8Isolate) ReadBinaryFromJS(globalName string) ([]byte, error) {
	stageScript := fmt.Sprintf(`(function() {
		var buf = globalThis[%q];
		delete globalThis[%q];
		var view = buf instanceof ArrayBuffer ? new Uint8Array(buf) : new Uint8Array(buf.buffer, buf.byteOffset || 0, buf.byteLength);
		var sab = new SharedArrayBuffer(view.byteLength);
		new Uint8Array(sab).set(view);
		globalThis.__vex_read_sab = sab;
	})()`, globalName, globalName)
	if _, err := r.ctx.RunScript(stageScript, "sab_stage.js"); err != nil {
		return nil, fmt.Errorf("staging %s: %w", globalName, normalizeError(err, false))
	}

	sabVal, err := r.ctx.Global().Get("__vex_read_sab")
	if err != nil {
		return nil, fmt.Errorf("retrieving %s: %w", globalName, err)
	}

	data, release, err := sabVal.SharedArrayBufferGetContents()
	if err != nil {
		return nil, fmt.Errorf("reading SharedArrayBuffer for %s: %w", globalName, err)
	}
	result := make([]byte, len(data))
	copy(result, data)
	release()

	_, _ = r.ctx.RunScript("delete globalThis.__vex_read_sab;", "sab_read_cleanup.js")

	return result, nil
}

// WriteBinaryToJS writes Go bytes into a JS ArrayBuffer via the
// SharedArrayBuffer bridge.
func (r *v8Isolate) WriteBinaryToJS(globalName string, data []byte) error {
	allocScript := fmt.Sprintf("globalThis.__vex_write_sab = new SharedArrayBuffer(%d);", len(data))
	if _, err := r.ctx.RunScript(allocScript, "sab_alloc.js"); err != nil {
		return fmt.Errorf("allocating SharedArrayBuffer: %w", err)
	}

	if len(data) > 0 {
		sabVal, err := r.ctx.Global().Get("__vex_write_sab")
		if err != nil {
			_, _ = r.ctx.RunScript("delete globalThis.__vex_write_sab;", "sab_cleanup.js")
			return fmt.Errorf("retrieving SharedArrayBuffer: %w", err)
		}

		sabBytes, release, err := sabVal.SharedArrayBufferGetContents()
		if err != nil {
			_, _ = r.ctx.RunScript("delete globalThis.__vex_write_sab;", "sab_cleanup.js")
			return fmt.Errorf("getting SharedArrayBuffer contents: %w", err)
		}
		copy(sabBytes, data)
		release()
	}

	copyScript := fmt.Sprintf(`(function() {
		var sab = globalThis.__vex_write_sab;
		delete globalThis.__vex_write_sab;
		var buf = new ArrayBuffer(sab.byteLength);
		new Uint8Array(buf).set(new Uint8Array(sab));
		globalThis[%q] = buf;
	})()`, globalName)
	if _, err := r.ctx.RunScript(copyScript, "sab_copy.js"); err != nil {
		return fmt.Errorf("copying SharedArrayBuffer to ArrayBuffer: %w", err)
	}

	return nil
}

// normalizeError converts a v8go error into a core.EngineError. Runtime
// and compile failures arrive as *v8.JSError carrying the exception
// message and the joined stack trace.
func normalizeError(err error, parse bool) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	stack := ""
	if jsErr, ok := err.(*v8.JSError); ok {
		msg = jsErr.Message
		stack = jsErr.StackTrace
		// V8 stack traces repeat the message on the first line.
		if i := strings.Index(stack, "\n"); i >= 0 && strings.HasPrefix(stack, msg) {
			stack = strings.TrimLeft(stack[i+1:], "\n")
		}
	}
	lower := strings.ToLower(msg)
	return &core.EngineError{
		Parse:       parse || strings.Contains(msg, "SyntaxError"),
		OOM:         strings.Contains(lower, "out of memory"),
		Interrupted: strings.Contains(lower, "terminated"),
		Message:     msg,
		Stack:       stack,
	}
}

// jsToGoArg converts a V8 value to a Go reflect.Value of the expected type.
func jsToGoArg(val *v8.Value, targetType reflect.Type) reflect.Value {
	switch targetType.Kind() {
	case reflect.String:
		return reflect.ValueOf(val.String())
	case reflect.Int:
		return reflect.ValueOf(int(val.Integer()))
	case reflect.Int64:
		return reflect.ValueOf(val.Integer())
	case reflect.Float64:
		return reflect.ValueOf(val.Number())
	case reflect.Bool:
		return reflect.ValueOf(val.Boolean())
	default:
		return reflect.Zero(targetType)
	}
}

// goToJSValue converts a Go reflect.Value to a V8 value.
func goToJSValue(iso *v8.Isolate, val reflect.Value) *v8.Value {
	if !val.IsValid() {
		return nil
	}
	switch val.Kind() {
	case reflect.String:
		v, _ := v8.NewValue(iso, val.String())
		return v
	case reflect.Int, reflect.Int64, reflect.Int32:
		v, _ := v8.NewValue(iso, int32(val.Int()))
		return v
	case reflect.Float64, reflect.Float32:
		v, _ := v8.NewValue(iso, val.Float())
		return v
	case reflect.Bool:
		v, _ := v8.NewValue(iso, val.Bool())
		return v
	default:
		return nil
	}
}

// goAnyToJSValue converts a Go any value to a V8 value.
func goAnyToJSValue(iso *v8.Isolate, ctx *v8.Context, value any) (*v8.Value, error) {
	if value == nil {
		return v8.Undefined(iso), nil
	}

	switch v := value.(type) {
	case string:
		return v8.NewValue(iso, v)
	case int:
		return v8.NewValue(iso, int32(v))
	case int32:
		return v8.NewValue(iso, v)
	case int64:
		return v8.NewValue(iso, int32(v))
	case float64:
		return v8.NewValue(iso, v)
	case bool:
		return v8.NewValue(iso, v)
	case *v8.Value:
		return v, nil
	case *v8.Object:
		return v.Value, nil
	default:
		// For complex types, serialize to JSON and parse in JS.
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshaling value: %w", err)
		}
		script := fmt.Sprintf("JSON.parse(%s)", strconv.Quote(string(data)))
		return ctx.RunScript(script, "set_global.js")
	}
}
