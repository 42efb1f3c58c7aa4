//go:build !v8 && !goja

package quickjs

import (
	"fmt"
	"reflect"
	"unsafe"

	"modernc.org/libc"
	lib "modernc.org/libquickjs"
)

// initCAPI extracts the VM's internal tls, JSContext, and JSRuntime
// pointers for direct C API access (microtask pump, binary transfer).
// If extraction fails (e.g. the struct layout changed in a new quickjs
// version), the isolate falls back to chunked base64 binary transfer and
// a no-op microtask pump; Promise jobs then only run via the engine's
// own checkpoints.
func (r *qjsIsolate) initCAPI() error {
	if err := r.tryExtractVMInternals(); err != nil {
		r.useFallback = true
		return r.initFallbackTransfer()
	}

	// Smoke-test: try a trivial C API call to verify pointers are valid.
	glob := lib.XJS_GetGlobalObject(r.tls, r.ctx)
	lib.XFreeValue(r.tls, r.ctx, glob)

	return nil
}

// tryExtractVMInternals uses reflect+unsafe to cache the VM's pointers.
//
// VM struct layout (modernc.org/quickjs@v0.17.1):
//
//	type VM struct {
//	    cContext uintptr
//	    ...
//	    runtime  *runtime
//	    ...
//	}
//
//	type runtime struct {
//	    cRuntime uintptr
//	    tls      *libc.TLS
//	}
func (r *qjsIsolate) tryExtractVMInternals() (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic extracting VM internals: %v", p)
		}
	}()

	vmType := reflect.TypeOf(r.vm).Elem()
	vmPtr := uintptr(unsafe.Pointer(r.vm))

	// cContext is the first field of VM (offset 0).
	r.ctx = *(*uintptr)(unsafe.Pointer(vmPtr))
	if r.ctx == 0 {
		return fmt.Errorf("JSContext is nil")
	}

	// Get runtime pointer via its reflected field offset.
	rtField, ok := vmType.FieldByName("runtime")
	if !ok {
		return fmt.Errorf("quickjs.VM missing 'runtime' field")
	}
	rtPtr := *(*uintptr)(unsafe.Pointer(vmPtr + rtField.Offset))
	if rtPtr == 0 {
		return fmt.Errorf("runtime pointer is nil")
	}

	// runtime struct: cRuntime first, tls second.
	r.crt = *(*uintptr)(unsafe.Pointer(rtPtr))
	if r.crt == 0 {
		return fmt.Errorf("JSRuntime pointer is nil")
	}
	r.tls = *(**libc.TLS)(unsafe.Pointer(rtPtr + unsafe.Sizeof(uintptr(0))))
	if r.tls == nil {
		return fmt.Errorf("TLS is nil")
	}

	return nil
}

// executePendingJobs runs all pending microtasks (Promise callbacks,
// etc.) in the QuickJS runtime. The modernc.org/quickjs Go wrapper never
// calls JS_ExecutePendingJob, so Promise .then() callbacks would
// otherwise never fire.
//
// Returns the number of jobs executed.
func executePendingJobs(r *qjsIsolate) int {
	if r.useFallback {
		return 0
	}
	count := 0
	for {
		ret := lib.XJS_ExecutePendingJob(r.tls, r.crt, 0)
		if ret <= 0 {
			break
		}
		count++
	}
	return count
}
