package vex

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestConsole_MultipleArguments(t *testing.T) {
	c := newTestContext(t)

	res, err := c.Eval(context.Background(), `console.log('hello', 'world', 42); null`)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if len(res.Logs) != 1 {
		t.Fatalf("logs = %d entries, want 1", len(res.Logs))
	}
	if res.Logs[0].Message != "hello world 42" {
		t.Errorf("message = %q, want %q", res.Logs[0].Message, "hello world 42")
	}
	if res.Logs[0].Level != "log" {
		t.Errorf("level = %q, want log", res.Logs[0].Level)
	}
	if res.Logs[0].Time.IsZero() {
		t.Error("entry has zero time")
	}
}

func TestConsole_EmptyArgs(t *testing.T) {
	c := newTestContext(t)

	res, err := c.Eval(context.Background(), "console.log(); null")
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if len(res.Logs) != 1 || res.Logs[0].Message != "" {
		t.Errorf("logs = %v, want one empty entry", res.Logs)
	}
}

func TestConsole_Levels(t *testing.T) {
	c := newTestContext(t)

	res, err := c.Eval(context.Background(), `
		console.log('l'); console.info('i'); console.warn('w');
		console.error('e'); console.debug('d'); null`)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	want := []string{"log", "info", "warn", "error", "debug"}
	if len(res.Logs) != len(want) {
		t.Fatalf("logs = %d entries, want %d", len(res.Logs), len(want))
	}
	for i, lvl := range want {
		if res.Logs[i].Level != lvl {
			t.Errorf("entry %d level = %q, want %q", i, res.Logs[i].Level, lvl)
		}
	}
}

func TestConsole_ObjectStringified(t *testing.T) {
	c := newTestContext(t)

	res, err := c.Eval(context.Background(), `console.log({foo: 'bar'}); null`)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if res.Logs[0].Message != `{"foo":"bar"}` {
		t.Errorf("message = %q, want JSON form", res.Logs[0].Message)
	}
}

func TestConsole_TruncatesLongMessage(t *testing.T) {
	c := newTestContext(t)

	res, err := c.Eval(context.Background(), `console.log('x'.repeat(5000)); null`)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	msg := res.Logs[0].Message
	if !strings.HasSuffix(msg, "...(truncated)") {
		t.Errorf("message not truncated, len = %d", len(msg))
	}
	if len(msg) != maxLogMessageSize+len("...(truncated)") {
		t.Errorf("message len = %d, want %d", len(msg), maxLogMessageSize+len("...(truncated)"))
	}
}

func TestConsole_CapsEntryCount(t *testing.T) {
	c := newTestContext(t)

	res, err := c.Eval(context.Background(), `for (let i = 0; i < 1100; i++) console.log(i); null`)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if len(res.Logs) != maxLogEntries {
		t.Errorf("logs = %d entries, want cap %d", len(res.Logs), maxLogEntries)
	}
}

func TestConsole_ClearedBetweenExecutions(t *testing.T) {
	c := newTestContext(t)

	res, err := c.Eval(context.Background(), "console.log('first'); null")
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if len(res.Logs) != 1 {
		t.Fatalf("logs = %d entries, want 1", len(res.Logs))
	}

	res, err = c.Eval(context.Background(), "null")
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if len(res.Logs) != 0 {
		t.Errorf("second eval logs = %v, want none", res.Logs)
	}
}

func TestConsole_PreservedOnScriptError(t *testing.T) {
	c := newTestContext(t)

	res, err := c.Eval(context.Background(), `console.log('before the fall'); throw new Error('fell')`)
	if !errors.Is(err, ErrScript) {
		t.Fatalf("error = %v, want ErrScript", err)
	}
	if res == nil || len(res.Logs) != 1 {
		t.Fatal("partial result carries no logs")
	}
	if res.Logs[0].Message != "before the fall" {
		t.Errorf("message = %q", res.Logs[0].Message)
	}
}

func TestConsole_Count(t *testing.T) {
	c := newTestContext(t)

	res, err := c.Eval(context.Background(), `
		console.count('req'); console.count('req');
		console.countReset('req'); console.count('req'); null`)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	want := []string{"req: 1", "req: 2", "req: 1"}
	if len(res.Logs) != len(want) {
		t.Fatalf("logs = %v", res.Logs)
	}
	for i, w := range want {
		if res.Logs[i].Message != w {
			t.Errorf("entry %d = %q, want %q", i, res.Logs[i].Message, w)
		}
	}
}

func TestConsole_Assert(t *testing.T) {
	c := newTestContext(t)

	res, err := c.Eval(context.Background(), `
		console.assert(true, 'silent');
		console.assert(false, 'oops');
		console.assert(false); null`)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if len(res.Logs) != 2 {
		t.Fatalf("logs = %v, want 2 entries", res.Logs)
	}
	if res.Logs[0].Message != "Assertion failed: oops" || res.Logs[0].Level != "error" {
		t.Errorf("entry 0 = %+v", res.Logs[0])
	}
	if res.Logs[1].Message != "Assertion failed" {
		t.Errorf("entry 1 = %q", res.Logs[1].Message)
	}
}

func TestConsole_Time(t *testing.T) {
	c := newTestContext(t)

	res, err := c.Eval(context.Background(), `
		console.time('phase');
		for (let i = 0; i < 1000; i++) {}
		console.timeEnd('phase');
		console.timeEnd('phase'); null`)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if len(res.Logs) != 2 {
		t.Fatalf("logs = %v", res.Logs)
	}
	if !strings.HasPrefix(res.Logs[0].Message, "phase: ") || !strings.HasSuffix(res.Logs[0].Message, "ms") {
		t.Errorf("timeEnd = %q, want 'phase: <n>ms'", res.Logs[0].Message)
	}
	// The second timeEnd hits a timer that no longer exists.
	if res.Logs[1].Level != "warn" {
		t.Errorf("stale timeEnd level = %q, want warn", res.Logs[1].Level)
	}
}

func TestConsole_TraceAndGroup(t *testing.T) {
	c := newTestContext(t)

	res, err := c.Eval(context.Background(), `
		console.trace('checkpoint');
		console.group('section');
		console.groupEnd(); null`)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if res.Logs[0].Message != "Trace: checkpoint" {
		t.Errorf("trace = %q", res.Logs[0].Message)
	}
	if res.Logs[1].Message != "section" {
		t.Errorf("group = %q", res.Logs[1].Message)
	}
}

func TestConsole_TableAndDir(t *testing.T) {
	c := newTestContext(t)

	res, err := c.Eval(context.Background(), `
		console.table([{id: 1}]);
		console.dir({deep: {nested: true}}); null`)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if !strings.Contains(res.Logs[0].Message, `"id": 1`) {
		t.Errorf("table = %q", res.Logs[0].Message)
	}
	if !strings.Contains(res.Logs[1].Message, `"nested": true`) {
		t.Errorf("dir = %q", res.Logs[1].Message)
	}
}

func TestPerformance_Now(t *testing.T) {
	c := newTestContext(t)

	v := mustEval(t, c, `(() => {
		const a = performance.now();
		for (let i = 0; i < 10000; i++) {}
		const b = performance.now();
		return b >= a;
	})()`)
	if !v.Bool() {
		t.Error("performance.now went backwards")
	}
}
