package eventloop

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

// scriptRecorder is a fake isolate that records every evaluated source
// string so tests can see which timer callbacks fired, and in what
// order.
type scriptRecorder struct {
	evals      []string
	microtasks int
}

func (r *scriptRecorder) RunProgram(src, resultGlobal string) error { return nil }

func (r *scriptRecorder) Eval(src string) error {
	r.evals = append(r.evals, src)
	return nil
}

func (r *scriptRecorder) EvalString(src string) (string, error) { return "", nil }
func (r *scriptRecorder) EvalBool(src string) (bool, error) { return false, nil }
func (r *scriptRecorder) EvalInt(src string) (int, error) { return 0, nil }
func (r *scriptRecorder) SetGlobal(name string, value any) error { return nil }
func (r *scriptRecorder) RegisterFunc(name string, fn any) error { return nil }
func (r *scriptRecorder) RunMicrotasks() { r.microtasks++ }
func (r *scriptRecorder) Interrupt() {}
func (r *scriptRecorder) Dispose() {}

// fired reports whether the callback for id was invoked.
func (r *scriptRecorder) fired(id int) bool {
	marker := fmt.Sprintf("__vex_timers[%d]", id)
	for _, src := range r.evals {
		if strings.Contains(src, marker) {
			return true
		}
	}
	return false
}

func TestRegisterTimer_SequentialIDs(t *testing.T) {
	el := New()

	a := el.RegisterTimer(time.Millisecond, false)
	b := el.RegisterTimer(time.Millisecond, false)
	if a != 1 || b != 2 {
		t.Errorf("ids = %d, %d, want 1, 2", a, b)
	}
	if !el.HasPending() {
		t.Error("HasPending() = false with two timers scheduled")
	}
}

func TestDrain_FiresDueTimeout(t *testing.T) {
	el := New()
	iso := &scriptRecorder{}

	id := el.RegisterTimer(5*time.Millisecond, false)
	el.Drain(iso, time.Now().Add(100*time.Millisecond))

	if !iso.fired(id) {
		t.Fatalf("timer %d did not fire; evals = %q", id, iso.evals)
	}
	if el.HasPending() {
		t.Error("timeout still pending after firing")
	}
	if iso.microtasks == 0 {
		t.Error("microtasks were not pumped after the callback")
	}
}

func TestDrain_StopsAtDeadline(t *testing.T) {
	el := New()
	iso := &scriptRecorder{}

	id := el.RegisterTimer(time.Hour, false)
	start := time.Now()
	el.Drain(iso, start.Add(20*time.Millisecond))

	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Drain blocked for %v", elapsed)
	}
	if iso.fired(id) {
		t.Error("timer beyond the deadline fired anyway")
	}
	if !el.HasPending() {
		t.Error("unfired timer was dropped")
	}
}

func TestDrain_DeadlineOrder(t *testing.T) {
	el := New()
	iso := &scriptRecorder{}

	late := el.RegisterTimer(30*time.Millisecond, false)
	early := el.RegisterTimer(10*time.Millisecond, false)
	el.Drain(iso, time.Now().Add(200*time.Millisecond))

	if !iso.fired(early) || !iso.fired(late) {
		t.Fatalf("not all timers fired; evals = %q", iso.evals)
	}
	earlyAt, lateAt := -1, -1
	for i, src := range iso.evals {
		if strings.Contains(src, fmt.Sprintf("__vex_timers[%d]", early)) {
			earlyAt = i
		}
		if strings.Contains(src, fmt.Sprintf("__vex_timers[%d]", late)) {
			lateAt = i
		}
	}
	if earlyAt > lateAt {
		t.Errorf("10ms timer fired at %d, after the 30ms timer at %d", earlyAt, lateAt)
	}
}

func TestDrain_IntervalRefires(t *testing.T) {
	el := New()
	iso := &scriptRecorder{}

	id := el.RegisterTimer(time.Millisecond, true)
	el.Drain(iso, time.Now().Add(35*time.Millisecond))

	fires := 0
	for _, src := range iso.evals {
		if strings.Contains(src, fmt.Sprintf("__vex_timers[%d]", id)) {
			fires++
		}
	}
	// The 1ms request is clamped to the 10ms floor, so a 35ms window
	// holds at least two firings.
	if fires < 2 {
		t.Errorf("interval fired %d times, want at least 2", fires)
	}
	if !el.HasPending() {
		t.Error("interval was dropped after firing")
	}
}

func TestClearTimer_PreventsFiring(t *testing.T) {
	el := New()
	iso := &scriptRecorder{}

	id := el.RegisterTimer(5*time.Millisecond, false)
	el.ClearTimer(id)

	if el.HasPending() {
		t.Error("cleared timer still pending")
	}
	el.Drain(iso, time.Now().Add(50*time.Millisecond))
	if iso.fired(id) {
		t.Error("cleared timer fired")
	}
}

func TestClearTimer_UnknownIDIsNoOp(t *testing.T) {
	el := New()
	el.ClearTimer(99)
	if el.HasPending() {
		t.Error("HasPending() = true on an empty loop")
	}
}

func TestDrain_EmptyReturnsImmediately(t *testing.T) {
	el := New()
	iso := &scriptRecorder{}

	start := time.Now()
	el.Drain(iso, start.Add(time.Hour))
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("empty Drain blocked for %v", elapsed)
	}
}

func TestReset_DropsTimersAndRestartsIDs(t *testing.T) {
	el := New()

	el.RegisterTimer(time.Millisecond, false)
	el.RegisterTimer(time.Millisecond, true)
	el.Reset()

	if el.HasPending() {
		t.Error("timers survived Reset")
	}
	if id := el.RegisterTimer(time.Millisecond, false); id != 1 {
		t.Errorf("first id after Reset = %d, want 1", id)
	}
}
