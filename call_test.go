package vex

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Call by path
// ---------------------------------------------------------------------------

func TestCall_GlobalFunction(t *testing.T) {
	c := newTestContext(t)
	mustEval(t, c, "function add(a, b) { return a + b; }")

	res, err := c.Call(context.Background(), "add", Integer(2), Integer(3))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res.Value.Int() != 5 {
		t.Errorf("add(2, 3) = %d, want 5", res.Value.Int())
	}
}

func TestCall_NestedPathBindsThis(t *testing.T) {
	c := newTestContext(t)
	mustEval(t, c, `globalThis.counter = {
		n: 10,
		bump() { return ++this.n; },
	}`)

	res, err := c.Call(context.Background(), "counter.bump")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res.Value.Int() != 11 {
		t.Errorf("first bump = %d, want 11", res.Value.Int())
	}

	res, err = c.Call(context.Background(), "counter.bump")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res.Value.Int() != 12 {
		t.Errorf("second bump = %d, want 12 (this not preserved)", res.Value.Int())
	}
}

func TestCall_Builtin(t *testing.T) {
	c := newTestContext(t)

	res, err := c.Call(context.Background(), "JSON.stringify", Object(map[string]Value{"k": Integer(1)}))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res.Value.String() != `{"k":1}` {
		t.Errorf("value = %q, want %q", res.Value.String(), `{"k":1}`)
	}
}

func TestCall_AsyncFunction(t *testing.T) {
	c := newTestContext(t)
	mustEval(t, c, `async function fetchValue() {
		await new Promise(r => setTimeout(r, 10));
		return 'ready';
	}`)

	res, err := c.Call(context.Background(), "fetchValue")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res.Value.String() != "ready" {
		t.Errorf("value = %q, want %q", res.Value.String(), "ready")
	}
}

func TestCall_NotAFunction(t *testing.T) {
	c := newTestContext(t)

	_, err := c.Call(context.Background(), "Math.PI")
	if !errors.Is(err, ErrScript) {
		t.Fatalf("error = %v, want ErrScript", err)
	}
	if !strings.Contains(err.Error(), "not a function") {
		t.Errorf("error = %v, want 'not a function'", err)
	}
}

func TestCall_MissingPath(t *testing.T) {
	c := newTestContext(t)

	_, err := c.Call(context.Background(), "no.such.thing")
	if !errors.Is(err, ErrScript) {
		t.Errorf("error = %v, want ErrScript", err)
	}
}

func TestCall_EmptyPath(t *testing.T) {
	c := newTestContext(t)

	_, err := c.Call(context.Background(), "")
	if !errors.Is(err, ErrScript) {
		t.Errorf("error = %v, want ErrScript", err)
	}
}

func TestCall_ThrowingFunction(t *testing.T) {
	c := newTestContext(t)
	mustEval(t, c, `function explode() { throw new RangeError('out of range'); }`)

	_, err := c.Call(context.Background(), "explode")
	if !errors.Is(err, ErrScript) {
		t.Fatalf("error = %v, want ErrScript", err)
	}
	if !strings.Contains(err.Error(), "out of range") {
		t.Errorf("error = %v, want the thrown message", err)
	}
}

func TestCall_ArgsRoundTrip(t *testing.T) {
	c := newTestContext(t)
	mustEval(t, c, "function echo() { return Array.prototype.slice.call(arguments); }")

	args := []Value{
		Null(),
		Boolean(true),
		Integer(-5),
		Double(2.5),
		String("héllo ☺"),
		Array(Integer(1), Integer(2)),
		Object(map[string]Value{"k": String("v")}),
		Date(time.UnixMilli(1700000000123).UTC()),
	}
	res, err := c.Call(context.Background(), "echo", args...)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	got := res.Value.Array()
	if len(got) != len(args) {
		t.Fatalf("len = %d, want %d", len(got), len(args))
	}
	for i := range args {
		if !got[i].Equal(args[i]) {
			t.Errorf("arg %d: got %v, want %v", i, got[i], args[i])
		}
	}
}

// ---------------------------------------------------------------------------
// Function handles
// ---------------------------------------------------------------------------

func TestFuncRef_Invoke(t *testing.T) {
	c := newTestContext(t)

	v := mustEval(t, c, "(x => x * 2)")
	if v.Kind() != KindFunction {
		t.Fatalf("kind = %s, want function", v.Kind())
	}

	res, err := v.Function().Invoke(context.Background(), Integer(21))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Value.Int() != 42 {
		t.Errorf("value = %d, want 42", res.Value.Int())
	}
}

func TestFuncRef_ClosureStatePersists(t *testing.T) {
	c := newTestContext(t)

	v := mustEval(t, c, "(() => { let n = 0; return () => ++n; })()")
	fn := v.Function()
	if fn == nil {
		t.Fatal("no function handle")
	}
	for want := int64(1); want <= 3; want++ {
		res, err := fn.Invoke(context.Background())
		if err != nil {
			t.Fatalf("Invoke: %v", err)
		}
		if res.Value.Int() != want {
			t.Errorf("tick = %d, want %d", res.Value.Int(), want)
		}
	}
}

func TestFuncRef_PassedBackAsArgument(t *testing.T) {
	c := newTestContext(t)
	mustEval(t, c, "function applyTwice(f, x) { return f(f(x)); }")

	inc := mustEval(t, c, "(n => n + 1)").Function()
	res, err := c.Call(context.Background(), "applyTwice", Function(inc), Integer(40))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res.Value.Int() != 42 {
		t.Errorf("value = %d, want 42", res.Value.Int())
	}
}

func TestFuncRef_ForeignContextRejected(t *testing.T) {
	a := newTestContext(t)
	b := newTestContext(t)

	fn := mustEval(t, a, "(x => x)").Function()
	mustEval(t, b, "function id(x) { return x; }")

	_, err := b.Call(context.Background(), "id", Function(fn))
	if !errors.Is(err, ErrEncoding) {
		t.Fatalf("error = %v, want ErrEncoding", err)
	}
	if !strings.Contains(err.Error(), "belong") {
		t.Errorf("error = %v, want ownership message", err)
	}
}

func TestFuncRef_InvokeAfterDispose(t *testing.T) {
	c, err := NewContext(Options{})
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	res, err := c.Eval(context.Background(), "(x => x)")
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	fn := res.Value.Function()
	c.Dispose()

	if _, err := fn.Invoke(context.Background(), Integer(1)); !errors.Is(err, ErrContextDisposed) {
		t.Errorf("error = %v, want ErrContextDisposed", err)
	}
}

func TestFuncRef_NilInvoke(t *testing.T) {
	var fn *FuncRef
	if _, err := fn.Invoke(context.Background()); !errors.Is(err, ErrInternal) {
		t.Errorf("error = %v, want ErrInternal", err)
	}
	if fn.String() != "funcref(nil)" {
		t.Errorf("String() = %q, want funcref(nil)", fn.String())
	}
}

func TestFuncRef_Accessors(t *testing.T) {
	c := newTestContext(t)

	fn := mustEval(t, c, "(x => x)").Function()
	if fn.Context() != c {
		t.Error("Context() does not return the owning context")
	}
	if fn.ID() == 0 {
		t.Error("ID() = 0, want a registry id")
	}
	if !strings.HasPrefix(fn.String(), "funcref(") {
		t.Errorf("String() = %q", fn.String())
	}
}

// ---------------------------------------------------------------------------
// Host functions
// ---------------------------------------------------------------------------

func TestBind_HostFunction(t *testing.T) {
	c := newTestContext(t)

	err := c.Bind(context.Background(), "add", func(args []Value) (Value, error) {
		return Integer(args[0].Int() + args[1].Int()), nil
	})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}

	if v := mustEval(t, c, "add(2, 3)"); v.Int() != 5 {
		t.Errorf("add(2, 3) = %d, want 5", v.Int())
	}
}

func TestBind_HostReceivesArgs(t *testing.T) {
	c := newTestContext(t)

	var got []Value
	err := c.Bind(context.Background(), "capture", func(args []Value) (Value, error) {
		got = args
		return Undefined(), nil
	})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	mustEval(t, c, "capture(1, 'two', true, [3, 4])")

	if len(got) != 4 {
		t.Fatalf("len(args) = %d, want 4", len(got))
	}
	if got[0].Int() != 1 || got[1].String() != "two" || !got[2].Bool() {
		t.Errorf("args = %v", got)
	}
	if items := got[3].Array(); len(items) != 2 || items[1].Int() != 4 {
		t.Errorf("args[3] = %v, want [3 4]", got[3])
	}
}

func TestBind_HostError(t *testing.T) {
	c := newTestContext(t)

	err := c.Bind(context.Background(), "fail", func([]Value) (Value, error) {
		return Value{}, errors.New("boom")
	})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}

	_, evalErr := c.Eval(context.Background(), "fail()")
	if !errors.Is(evalErr, ErrScript) {
		t.Fatalf("error = %v, want ErrScript", evalErr)
	}
	if !strings.Contains(evalErr.Error(), "boom") {
		t.Errorf("error = %v, want the host message", evalErr)
	}
}

func TestBind_HostErrorCatchable(t *testing.T) {
	c := newTestContext(t)

	err := c.Bind(context.Background(), "fail", func([]Value) (Value, error) {
		return Value{}, errors.New("boom")
	})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}

	v := mustEval(t, c, `(() => {
		try { fail(); return 'no throw'; }
		catch (e) { return 'caught: ' + (e instanceof Error); }
	})()`)
	if v.String() != "caught: true" {
		t.Errorf("value = %q, want %q", v.String(), "caught: true")
	}
}

func TestBind_HostReturnsStructured(t *testing.T) {
	c := newTestContext(t)

	err := c.Bind(context.Background(), "lookup", func([]Value) (Value, error) {
		return Object(map[string]Value{
			"items": Array(String("a"), String("b")),
			"total": Integer(2),
		}), nil
	})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}

	v := mustEval(t, c, "const r = lookup(); r.items.length + r.total")
	if v.Int() != 4 {
		t.Errorf("value = %d, want 4", v.Int())
	}
}

func TestBind_ScriptFunctionToHost(t *testing.T) {
	c := newTestContext(t)

	var kind Kind
	err := c.Bind(context.Background(), "accept", func(args []Value) (Value, error) {
		kind = args[0].Kind()
		return Undefined(), nil
	})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	mustEval(t, c, "accept(() => 1)")

	if kind != KindFunction {
		t.Errorf("kind = %s, want function", kind)
	}
}

func TestBind_Overwrite(t *testing.T) {
	c := newTestContext(t)

	bind := func(n int64) {
		err := c.Bind(context.Background(), "which", func([]Value) (Value, error) {
			return Integer(n), nil
		})
		if err != nil {
			t.Fatalf("Bind: %v", err)
		}
	}
	bind(1)
	bind(2)

	if v := mustEval(t, c, "which()"); v.Int() != 2 {
		t.Errorf("which() = %d, want the later binding", v.Int())
	}
}

func TestBind_UnknownHostFunction(t *testing.T) {
	c := newTestContext(t)

	// __vex_dispatch with an unbound name must throw, not crash.
	_, err := c.Eval(context.Background(), "__vex_dispatch('ghost', '{\"t\":\"array\",\"v\":[]}')")
	if !errors.Is(err, ErrScript) {
		t.Errorf("error = %v, want ErrScript", err)
	}
}

func TestBind_BytesFromHost(t *testing.T) {
	c := newTestContext(t)

	err := c.Bind(context.Background(), "blob", func([]Value) (Value, error) {
		return Bytes([]byte{1, 2, 3, 4}), nil
	})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}

	// Host callback results inline bytes as base64; script sees a real
	// Uint8Array either way.
	v := mustEval(t, c, `(() => {
		const b = blob();
		let sum = 0;
		for (let i = 0; i < b.length; i++) sum += b[i];
		return b instanceof Uint8Array ? sum : -1;
	})()`)
	if v.Int() != 10 {
		t.Errorf("sum = %d, want 10", v.Int())
	}
}
