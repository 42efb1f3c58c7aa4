//go:build goja && !v8

package gojaengine

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/dop251/goja"
	"github.com/vexjs/vex/internal/core"
)

// gojaIsolate implements core.Isolate for the goja engine.
type gojaIsolate struct {
	rt *goja.Runtime
}

var _ core.Isolate = (*gojaIsolate)(nil)

// RunProgram compiles and runs src as a program and stores the
// completion value under resultGlobal.
func (r *gojaIsolate) RunProgram(src, resultGlobal string) error {
	prog, err := goja.Compile("program.js", src, false)
	if err != nil {
		return normalizeError(err, true)
	}
	val, err := r.rt.RunProgram(prog)
	if err != nil {
		r.clearIfInterrupted(err)
		return normalizeError(err, false)
	}
	if val == nil {
		val = goja.Undefined()
	}
	return r.rt.Set(resultGlobal, val)
}

// Eval evaluates JavaScript and discards the result.
func (r *gojaIsolate) Eval(js string) error {
	_, err := r.rt.RunString(js)
	if err != nil {
		r.clearIfInterrupted(err)
		return normalizeError(err, false)
	}
	return nil
}

// EvalString evaluates JavaScript and returns the result as a Go string.
func (r *gojaIsolate) EvalString(js string) (string, error) {
	val, err := r.rt.RunString(js)
	if err != nil {
		r.clearIfInterrupted(err)
		return "", normalizeError(err, false)
	}
	if val == nil {
		return "", nil
	}
	return val.String(), nil
}

// EvalBool evaluates JavaScript and returns the result as a Go bool.
func (r *gojaIsolate) EvalBool(js string) (bool, error) {
	val, err := r.rt.RunString(js)
	if err != nil {
		r.clearIfInterrupted(err)
		return false, normalizeError(err, false)
	}
	if val == nil {
		return false, nil
	}
	return val.ToBoolean(), nil
}

// EvalInt evaluates JavaScript and returns the result as a Go int.
func (r *gojaIsolate) EvalInt(js string) (int, error) {
	val, err := r.rt.RunString(js)
	if err != nil {
		r.clearIfInterrupted(err)
		return 0, normalizeError(err, false)
	}
	if val == nil {
		return 0, nil
	}
	return int(val.ToInteger()), nil
}

// RegisterFunc registers a Go function as a global JavaScript function.
// goja can bind arbitrary Go functions itself, but the adapter below
// keeps the same argument/return contract as the other backends:
// scalar arguments, and (T, error) returns where a non-nil error is
// thrown as a TypeError.
func (r *gojaIsolate) RegisterFunc(name string, fn any) error {
	fnVal := reflect.ValueOf(fn)
	fnType := fnVal.Type()

	if fnType.Kind() != reflect.Func {
		return fmt.Errorf("RegisterFunc: expected function, got %T", fn)
	}

	adapter := func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < fnType.NumIn() {
			panic(r.rt.NewTypeError("%s requires at least %d argument(s), got %d",
				name, fnType.NumIn(), len(call.Arguments)))
		}

		goArgs := make([]reflect.Value, fnType.NumIn())
		for i := 0; i < fnType.NumIn(); i++ {
			goArgs[i] = jsToGoArg(call.Arguments[i], fnType.In(i))
		}

		results := fnVal.Call(goArgs)

		switch fnType.NumOut() {
		case 0:
			return goja.Undefined()
		case 1:
			return r.rt.ToValue(results[0].Interface())
		case 2:
			errVal := results[1]
			if !errVal.IsNil() {
				panic(r.rt.NewTypeError("calling %s: %s", name, errVal.Interface().(error).Error()))
			}
			return r.rt.ToValue(results[0].Interface())
		default:
			return goja.Undefined()
		}
	}

	return r.rt.Set(name, adapter)
}

// SetGlobal sets a global variable; goja converts Go natives directly.
func (r *gojaIsolate) SetGlobal(name string, value any) error {
	return r.rt.Set(name, value)
}

// RunMicrotasks is a no-op: goja drains its promise job queue before
// each Run call returns.
func (r *gojaIsolate) RunMicrotasks() {}

// Interrupt requests termination of the running evaluation.
func (r *gojaIsolate) Interrupt() {
	r.rt.Interrupt("interrupted")
}

// Dispose releases the runtime. goja has no explicit teardown; dropping
// the reference is enough.
func (r *gojaIsolate) Dispose() {}

// clearIfInterrupted resets the interrupt flag so subsequent runs on
// this runtime are not rejected.
func (r *gojaIsolate) clearIfInterrupted(err error) {
	if _, ok := err.(*goja.InterruptedError); ok {
		r.rt.ClearInterrupt()
	}
}

// normalizeError converts a goja error into a core.EngineError.
func normalizeError(err error, parse bool) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	stack := ""
	interrupted := false

	switch e := err.(type) {
	case *goja.InterruptedError:
		interrupted = true
		msg = "interrupted"
	case *goja.Exception:
		// Exception.String() is "<message>\n\tat ..." with the stack.
		msg = e.String()
	}
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		stack = strings.TrimRight(msg[i+1:], "\n")
		msg = msg[:i]
	}
	return &core.EngineError{
		Parse:       parse || strings.Contains(msg, "SyntaxError"),
		OOM:         false,
		Interrupted: interrupted,
		Message:     msg,
		Stack:       stack,
	}
}

// jsToGoArg converts a goja value to a Go reflect.Value of the expected type.
func jsToGoArg(val goja.Value, targetType reflect.Type) reflect.Value {
	switch targetType.Kind() {
	case reflect.String:
		return reflect.ValueOf(val.String())
	case reflect.Int:
		return reflect.ValueOf(int(val.ToInteger()))
	case reflect.Int64:
		return reflect.ValueOf(val.ToInteger())
	case reflect.Float64:
		return reflect.ValueOf(val.ToFloat())
	case reflect.Bool:
		return reflect.ValueOf(val.ToBoolean())
	default:
		return reflect.Zero(targetType)
	}
}
