//go:build !v8 && !goja

package quickjs

import (
	"encoding/base64"
	"fmt"
	"unsafe"

	"modernc.org/libc"
	lib "modernc.org/libquickjs"
)

// btChunkSize is the raw byte chunk size for the fallback base64 transfer path.
const btChunkSize = 196608 // 192 KB raw → 256 KB base64

// BinaryMode returns "ab" — QuickJS uses plain ArrayBuffer for binary transfer.
func (r *qjsIsolate) BinaryMode() string { return "ab" }

// WriteBinaryToJS writes Go bytes into a JS ArrayBuffer at the given
// global variable name. Uses the QuickJS C API (JS_NewArrayBufferCopy)
// for a single memcpy. Falls back to chunked base64 if the C API
// pointers could not be extracted.
func (r *qjsIsolate) WriteBinaryToJS(globalName string, data []byte) error {
	if len(data) == 0 {
		return r.Eval(fmt.Sprintf("globalThis[%q] = new ArrayBuffer(0);", globalName))
	}
	if r.useFallback {
		return r.writeBinaryFallback(globalName, data)
	}

	// Create ArrayBuffer with copy of data via C API — single memcpy.
	bufPtr := uintptr(unsafe.Pointer(&data[0]))
	jsVal := lib.XJS_NewArrayBufferCopy(r.tls, r.ctx, bufPtr, lib.Tsize_t(len(data)))

	// Set as globalThis[globalName].
	cName, err := libc.CString(globalName)
	if err != nil {
		lib.XFreeValue(r.tls, r.ctx, jsVal)
		return fmt.Errorf("allocating property name: %w", err)
	}

	glob := lib.XJS_GetGlobalObject(r.tls, r.ctx)
	// JS_SetPropertyStr consumes the val reference — do not free jsVal after.
	ret := lib.XJS_SetPropertyStr(r.tls, r.ctx, glob, cName, jsVal)
	lib.XFreeValue(r.tls, r.ctx, glob)
	libc.Xfree(r.tls, cName)

	if ret < 0 {
		return fmt.Errorf("setting global %q", globalName)
	}
	return nil
}

// ReadBinaryFromJS reads binary data from a JS ArrayBuffer at the given
// global variable name and returns it as Go bytes. Uses the QuickJS C
// API (JS_GetArrayBuffer) for a single memcpy. Falls back to chunked
// base64 if the C API pointers could not be extracted.
func (r *qjsIsolate) ReadBinaryFromJS(globalName string) ([]byte, error) {
	if r.useFallback {
		return r.readBinaryFallback(globalName)
	}

	cName, err := libc.CString(globalName)
	if err != nil {
		return nil, fmt.Errorf("allocating property name: %w", err)
	}

	glob := lib.XJS_GetGlobalObject(r.tls, r.ctx)
	jsVal := lib.XJS_GetPropertyStr(r.tls, r.ctx, glob, cName)
	lib.XFreeValue(r.tls, r.ctx, glob)
	libc.Xfree(r.tls, cName)

	// Get ArrayBuffer data pointer and size.
	var size lib.Tsize_t
	dataPtr := lib.XJS_GetArrayBuffer(r.tls, r.ctx, uintptr(unsafe.Pointer(&size)), jsVal)

	if dataPtr == 0 || size == 0 {
		lib.XFreeValue(r.tls, r.ctx, jsVal)
		_ = r.Eval(fmt.Sprintf("delete globalThis[%q];", globalName))
		return nil, nil
	}

	// Copy data to Go bytes — single memcpy.
	result := make([]byte, size)
	copy(result, unsafe.Slice((*byte)(unsafe.Pointer(dataPtr)), size))

	// Clean up: free our reference, then delete the global property.
	lib.XFreeValue(r.tls, r.ctx, jsVal)
	_ = r.Eval(fmt.Sprintf("delete globalThis[%q];", globalName))

	return result, nil
}

// --- Fallback: chunked base64 transfer (used if C API extraction fails) ---

// initFallbackTransfer registers Go callback functions for chunked base64 transfer.
func (r *qjsIsolate) initFallbackTransfer() error {
	if err := r.RegisterFunc("__vex_bt_chunk", func(offset int) (string, error) {
		if r.pendingBinary == nil {
			return "", fmt.Errorf("no pending binary data")
		}
		end := offset + btChunkSize
		if end > len(r.pendingBinary) {
			end = len(r.pendingBinary)
		}
		return base64.StdEncoding.EncodeToString(r.pendingBinary[offset:end]), nil
	}); err != nil {
		return fmt.Errorf("registering __vex_bt_chunk: %w", err)
	}

	if err := r.RegisterFunc("__vex_bt_recv", func(b64 string) (string, error) {
		decoded, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return "", fmt.Errorf("decoding binary chunk: %w", err)
		}
		r.pendingResult = append(r.pendingResult, decoded...)
		return "", nil
	}); err != nil {
		return fmt.Errorf("registering __vex_bt_recv: %w", err)
	}

	return nil
}

func (r *qjsIsolate) writeBinaryFallback(globalName string, data []byte) error {
	r.pendingBinary = data
	defer func() { r.pendingBinary = nil }()

	return r.Eval(fmt.Sprintf(`(function() {
		var sz = %d;
		var buf = new ArrayBuffer(sz);
		var view = new Uint8Array(buf);
		var off = 0;
		while (off < sz) {
			var b64 = __vex_bt_chunk(off);
			var raw = __vex.b64dec(b64);
			view.set(raw, off);
			off += raw.length;
		}
		globalThis[%q] = buf;
	})()`, len(data), globalName))
}

func (r *qjsIsolate) readBinaryFallback(globalName string) ([]byte, error) {
	size, err := r.EvalInt(fmt.Sprintf(
		"(function(){var b=globalThis[%q];return b?b.byteLength:0;})()", globalName))
	if err != nil {
		return nil, fmt.Errorf("reading %s byte length: %w", globalName, err)
	}
	if size == 0 {
		_ = r.Eval(fmt.Sprintf("delete globalThis[%q];", globalName))
		return nil, nil
	}

	r.pendingResult = make([]byte, 0, size)
	defer func() { r.pendingResult = nil }()

	if err := r.Eval(fmt.Sprintf(`(function() {
		var buf = globalThis[%q];
		delete globalThis[%q];
		var view = new Uint8Array(buf);
		var cs = %d;
		for (var off = 0; off < view.length; off += cs) {
			var end = Math.min(off + cs, view.length);
			__vex_bt_recv(__vex.b64enc(view.subarray(off, end)));
		}
	})()`, globalName, globalName, btChunkSize)); err != nil {
		return nil, fmt.Errorf("reading binary from JS: %w", err)
	}

	return r.pendingResult, nil
}
