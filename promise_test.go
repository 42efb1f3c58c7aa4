package vex

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestPromise_Resolved(t *testing.T) {
	c := newTestContext(t)

	v := mustEval(t, c, "Promise.resolve(7)")
	if v.Kind() != KindInteger || v.Int() != 7 {
		t.Errorf("value = %v, want 7", v)
	}
}

func TestPromise_AsyncFunction(t *testing.T) {
	c := newTestContext(t)

	v := mustEval(t, c, `(async () => {
		const x = await Promise.resolve(20);
		return x + 1;
	})()`)
	if v.Int() != 21 {
		t.Errorf("value = %d, want 21", v.Int())
	}
}

func TestPromise_Rejected(t *testing.T) {
	c := newTestContext(t)

	_, err := c.Eval(context.Background(), "Promise.reject(new Error('nope'))")
	if !errors.Is(err, ErrScript) {
		t.Fatalf("error = %v, want ErrScript", err)
	}
	if !strings.Contains(err.Error(), "nope") {
		t.Errorf("error = %v, want the rejection message", err)
	}
}

func TestPromise_RejectedNonError(t *testing.T) {
	c := newTestContext(t)

	_, err := c.Eval(context.Background(), "Promise.reject('plain string reason')")
	if !errors.Is(err, ErrScript) {
		t.Fatalf("error = %v, want ErrScript", err)
	}
	if !strings.Contains(err.Error(), "plain string reason") {
		t.Errorf("error = %v, want the rejection reason", err)
	}
}

func TestPromise_AsyncThrow(t *testing.T) {
	c := newTestContext(t)

	_, err := c.Eval(context.Background(), `(async () => {
		await Promise.resolve();
		throw new Error('later failure');
	})()`)
	if !errors.Is(err, ErrScript) {
		t.Fatalf("error = %v, want ErrScript", err)
	}
	if !strings.Contains(err.Error(), "later failure") {
		t.Errorf("error = %v, want the thrown message", err)
	}
}

func TestPromise_TimerResolves(t *testing.T) {
	c := newTestContext(t)

	v := mustEval(t, c, `new Promise(resolve => setTimeout(() => resolve('late'), 30))`)
	if v.String() != "late" {
		t.Errorf("value = %q, want %q", v.String(), "late")
	}
}

func TestPromise_NestedTimers(t *testing.T) {
	c := newTestContext(t)

	v := mustEval(t, c, `new Promise(resolve => {
		setTimeout(() => {
			setTimeout(() => resolve('nested'), 10);
		}, 10);
	})`)
	if v.String() != "nested" {
		t.Errorf("value = %q, want %q", v.String(), "nested")
	}
}

func TestPromise_All(t *testing.T) {
	c := newTestContext(t)

	v := mustEval(t, c, `Promise.all([
		Promise.resolve(1),
		2,
		new Promise(r => setTimeout(() => r(3), 20)),
	])`)
	items := v.Array()
	if len(items) != 3 || items[0].Int() != 1 || items[1].Int() != 2 || items[2].Int() != 3 {
		t.Errorf("value = %v, want [1 2 3]", items)
	}
}

func TestPromise_NeverSettles(t *testing.T) {
	c, err := NewContext(Options{DefaultTimeout: 300 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	t.Cleanup(c.Dispose)

	_, evalErr := c.Eval(context.Background(), "new Promise(() => {})")
	if !errors.Is(evalErr, ErrTimeout) {
		t.Errorf("error = %v, want ErrTimeout", evalErr)
	}
}

func TestTimers_Interval(t *testing.T) {
	c := newTestContext(t)

	v := mustEval(t, c, `new Promise(resolve => {
		let n = 0;
		const id = setInterval(() => {
			n++;
			if (n >= 3) { clearInterval(id); resolve(n); }
		}, 10);
	})`)
	if v.Int() != 3 {
		t.Errorf("ticks = %d, want 3", v.Int())
	}
}

func TestTimers_ClearTimeout(t *testing.T) {
	c := newTestContext(t)

	v := mustEval(t, c, `new Promise(resolve => {
		const id = setTimeout(() => resolve('cancelled timer fired'), 10);
		clearTimeout(id);
		setTimeout(() => resolve('ok'), 50);
	})`)
	if v.String() != "ok" {
		t.Errorf("value = %q, want %q", v.String(), "ok")
	}
}

func TestTimers_ExtraArgsForwarded(t *testing.T) {
	c := newTestContext(t)

	v := mustEval(t, c, `new Promise(resolve =>
		setTimeout((a, b) => resolve(a + b), 10, 'x', 'y'))`)
	if v.String() != "xy" {
		t.Errorf("value = %q, want %q", v.String(), "xy")
	}
}

func TestTimers_ZeroDelay(t *testing.T) {
	c := newTestContext(t)

	v := mustEval(t, c, `new Promise(resolve => setTimeout(() => resolve(1)))`)
	if v.Int() != 1 {
		t.Errorf("value = %d, want 1", v.Int())
	}
}

func TestTimers_RequireFunction(t *testing.T) {
	c := newTestContext(t)

	_, err := c.Eval(context.Background(), "setTimeout('not a function', 10)")
	if !errors.Is(err, ErrScript) {
		t.Errorf("error = %v, want ErrScript", err)
	}
}

func TestMicrotask_RunsBeforeTimers(t *testing.T) {
	c := newTestContext(t)

	v := mustEval(t, c, `new Promise(resolve => {
		const order = [];
		queueMicrotask(() => order.push('micro'));
		order.push('sync');
		setTimeout(() => resolve(order.join(',')), 10);
	})`)
	if v.String() != "sync,micro" {
		t.Errorf("order = %q, want %q", v.String(), "sync,micro")
	}
}
