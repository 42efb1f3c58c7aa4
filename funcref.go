package vex

import (
	"context"
	"fmt"
)

// FuncRef is an opaque handle to a function value inside an engine
// context. Handles are minted when a result or callback argument contains
// a function; they stay valid until their context is disposed.
//
// A FuncRef received inside a HostFunc callback must not be invoked from
// within that callback. The context is busy running the script that
// triggered the callback, so a nested Invoke would wait on itself.
type FuncRef struct {
	ctx *Context
	id  int64
}

// ID returns the engine-side registry id. Useful for logging only.
func (f *FuncRef) ID() int64 { return f.id }

// Context returns the owning context.
func (f *FuncRef) Context() *Context { return f.ctx }

// Invoke calls the referenced function with the given arguments and waits
// for the result. It follows the same queueing, timeout and error rules
// as Context.Eval.
func (f *FuncRef) Invoke(ctx context.Context, args ...Value) (*Result, error) {
	if f == nil || f.ctx == nil {
		return nil, &Error{Kind: ErrInternal, Message: "invoke on nil function handle"}
	}
	return f.ctx.call(ctx, callTarget{ref: f.id}, args)
}

func (f *FuncRef) String() string {
	if f == nil {
		return "funcref(nil)"
	}
	return fmt.Sprintf("funcref(%d)", f.id)
}
