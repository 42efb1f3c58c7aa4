package vex

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"

	"github.com/vexjs/vex/internal/core"
)

// Values cross the boundary as a tagged JSON envelope. Every node is
// {"t": tag, "v": payload}; arrays carry child envelopes, objects carry
// [key, envelope] pairs so key order survives. Byte payloads either ride
// the engine's binary channel ({"g": globalName} / {"ref": id}) or inline
// as base64 when no channel exists, for example inside a host callback
// where the engine cannot be re-entered.
type envelope struct {
	T string          `json:"t"`
	V json.RawMessage `json:"v,omitempty"`
}

const (
	resultGlobal = "__vex_r"
	argsGlobal   = "__vex_args"
	binOutGlobal = "__vex_bin_out"
)

func decodeResult(c *Context, raw string) (Value, error) {
	var env envelope
	if err := jsoniter.UnmarshalFromString(raw, &env); err != nil {
		return Value{}, &Error{Kind: ErrInternal, Message: "malformed transport envelope: " + err.Error()}
	}
	return c.decodeEnvelope(env)
}

func (c *Context) decodeEnvelope(e envelope) (Value, error) {
	switch e.T {
	case "undefined":
		return Undefined(), nil
	case "null":
		return Null(), nil
	case "bool":
		var b bool
		if err := jsoniter.Unmarshal(e.V, &b); err != nil {
			return Value{}, envErr("bool", err)
		}
		return Boolean(b), nil
	case "int":
		var i int64
		if err := jsoniter.Unmarshal(e.V, &i); err != nil {
			return Value{}, envErr("int", err)
		}
		return Integer(i), nil
	case "double":
		return decodeDouble(e.V)
	case "string":
		var s string
		if err := jsoniter.Unmarshal(e.V, &s); err != nil {
			return Value{}, envErr("string", err)
		}
		if !utf8.ValidString(s) {
			return Value{}, &Error{Kind: ErrEncoding, Message: "string payload is not valid UTF-8"}
		}
		return String(s), nil
	case "date":
		var ms int64
		if err := jsoniter.Unmarshal(e.V, &ms); err != nil {
			return Value{}, envErr("date", err)
		}
		return Date(time.UnixMilli(ms).UTC()), nil
	case "fn":
		var id int64
		if err := jsoniter.Unmarshal(e.V, &id); err != nil {
			return Value{}, envErr("fn", err)
		}
		return Function(&FuncRef{ctx: c, id: id}), nil
	case "err":
		var p struct {
			Name    string `json:"name"`
			Message string `json:"message"`
			Stack   string `json:"stack"`
		}
		if err := jsoniter.Unmarshal(e.V, &p); err != nil {
			return Value{}, envErr("err", err)
		}
		return ErrorValue(&Error{Kind: ErrScript, Name: p.Name, Message: p.Message, Stack: p.Stack}), nil
	case "bytes":
		var p struct {
			B64 *string `json:"b64"`
			Ref int64   `json:"ref"`
		}
		if err := jsoniter.Unmarshal(e.V, &p); err != nil {
			return Value{}, envErr("bytes", err)
		}
		if p.B64 != nil {
			data, err := base64.StdEncoding.DecodeString(*p.B64)
			if err != nil {
				return Value{}, &Error{Kind: ErrEncoding, Message: "bad base64 byte payload: " + err.Error()}
			}
			return Bytes(data), nil
		}
		return c.readBinaryRef(p.Ref)
	case "array":
		var items []envelope
		if err := jsoniter.Unmarshal(e.V, &items); err != nil {
			return Value{}, envErr("array", err)
		}
		out := make([]Value, len(items))
		for i, item := range items {
			v, err := c.decodeEnvelope(item)
			if err != nil {
				return Value{}, err
			}
			out[i] = v
		}
		return Array(out...), nil
	case "object":
		var pairs [][2]json.RawMessage
		if err := jsoniter.Unmarshal(e.V, &pairs); err != nil {
			return Value{}, envErr("object", err)
		}
		fields := make(map[string]Value, len(pairs))
		for _, p := range pairs {
			var k string
			if err := jsoniter.Unmarshal(p[0], &k); err != nil {
				return Value{}, envErr("object key", err)
			}
			var child envelope
			if err := jsoniter.Unmarshal(p[1], &child); err != nil {
				return Value{}, envErr("object value", err)
			}
			v, err := c.decodeEnvelope(child)
			if err != nil {
				return Value{}, err
			}
			fields[k] = v
		}
		return Object(fields), nil
	}
	return Value{}, &Error{Kind: ErrInternal, Message: fmt.Sprintf("unknown transport tag %q", e.T)}
}

func decodeDouble(raw json.RawMessage) (Value, error) {
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := jsoniter.Unmarshal(raw, &s); err != nil {
			return Value{}, envErr("double", err)
		}
		switch s {
		case "NaN":
			return Double(math.NaN()), nil
		case "Infinity":
			return Double(math.Inf(1)), nil
		case "-Infinity":
			return Double(math.Inf(-1)), nil
		case "-0":
			return Double(math.Copysign(0, -1)), nil
		}
		return Value{}, &Error{Kind: ErrInternal, Message: fmt.Sprintf("unknown double literal %q", s)}
	}
	var f float64
	if err := jsoniter.Unmarshal(raw, &f); err != nil {
		return Value{}, envErr("double", err)
	}
	return Double(f), nil
}

func envErr(tag string, err error) *Error {
	return &Error{Kind: ErrInternal, Message: fmt.Sprintf("bad %s payload: %s", tag, err)}
}

// readBinaryRef moves one staged buffer out of the engine through the
// binary channel. Runs on the context runner, so engine calls are safe.
func (c *Context) readBinaryRef(id int64) (Value, error) {
	bt, ok := c.iso.(core.BinaryTransferer)
	if !ok {
		return Value{}, &Error{Kind: ErrInternal, Message: "binary reference from an engine without a binary channel"}
	}
	if err := c.iso.Eval(fmt.Sprintf("__vex.takeBin(%d)", id)); err != nil {
		return Value{}, &Error{Kind: ErrInternal, Message: "stage binary ref: " + err.Error()}
	}
	data, err := bt.ReadBinaryFromJS(binOutGlobal)
	if err != nil {
		return Value{}, &Error{Kind: ErrInternal, Message: "read binary ref: " + err.Error()}
	}
	return Bytes(data), nil
}

// argEncoder turns host Values into envelope trees. inline forbids use of
// the engine binary channel; the host-callback path sets it because the
// engine cannot be re-entered while a callback is on its stack.
type argEncoder struct {
	c      *Context
	inline bool
	binSeq int
	seen   map[uintptr]struct{}
}

func newArgEncoder(c *Context, inline bool) *argEncoder {
	return &argEncoder{c: c, inline: inline, seen: map[uintptr]struct{}{}}
}

// encodeArgs marshals a call argument list to envelope JSON. Bytes ride
// the binary channel when the engine has one.
func (c *Context) encodeArgs(args []Value) (string, error) {
	enc := newArgEncoder(c, false)
	items := make([]any, len(args))
	for i, a := range args {
		node, err := enc.encode(a, 0)
		if err != nil {
			return "", err
		}
		items[i] = node
	}
	return jsoniter.MarshalToString(map[string]any{"t": "array", "v": items})
}

// encodeValueInline marshals one value with byte payloads inlined as
// base64. Used for host callback results.
func (c *Context) encodeValueInline(v Value) (string, error) {
	node, err := newArgEncoder(c, true).encode(v, 0)
	if err != nil {
		return "", err
	}
	return jsoniter.MarshalToString(node)
}

func (e *argEncoder) encode(v Value, depth int) (any, error) {
	if depth > e.c.opts.MaxBridgeDepth {
		return nil, &Error{Kind: ErrEncoding, Message: fmt.Sprintf("value graph exceeds depth limit %d", e.c.opts.MaxBridgeDepth)}
	}
	switch v.kind {
	case KindUndefined:
		return map[string]any{"t": "undefined"}, nil
	case KindNull:
		return map[string]any{"t": "null"}, nil
	case KindBoolean:
		return map[string]any{"t": "bool", "v": v.b}, nil
	case KindInteger:
		return map[string]any{"t": "int", "v": v.i}, nil
	case KindDouble:
		switch {
		case math.IsNaN(v.f):
			return map[string]any{"t": "double", "v": "NaN"}, nil
		case math.IsInf(v.f, 1):
			return map[string]any{"t": "double", "v": "Infinity"}, nil
		case math.IsInf(v.f, -1):
			return map[string]any{"t": "double", "v": "-Infinity"}, nil
		case v.f == 0 && math.Signbit(v.f):
			return map[string]any{"t": "double", "v": "-0"}, nil
		}
		return map[string]any{"t": "double", "v": v.f}, nil
	case KindString:
		if !utf8.ValidString(v.s) {
			return nil, &Error{Kind: ErrEncoding, Message: "string is not valid UTF-8"}
		}
		return map[string]any{"t": "string", "v": v.s}, nil
	case KindBytes:
		if !e.inline {
			if bt, ok := e.c.iso.(core.BinaryTransferer); ok {
				e.binSeq++
				g := fmt.Sprintf("__vex_bin_arg_%d", e.binSeq)
				if err := bt.WriteBinaryToJS(g, v.bs); err != nil {
					return nil, &Error{Kind: ErrInternal, Message: "write binary arg: " + err.Error()}
				}
				return map[string]any{"t": "bytes", "v": map[string]any{"g": g}}, nil
			}
		}
		return map[string]any{"t": "bytes", "v": map[string]any{"b64": base64.StdEncoding.EncodeToString(v.bs)}}, nil
	case KindDate:
		return map[string]any{"t": "date", "v": v.ts.UnixMilli()}, nil
	case KindFunction:
		if v.fn == nil || v.fn.ctx != e.c {
			return nil, &Error{Kind: ErrEncoding, Message: "function handle does not belong to this context"}
		}
		return map[string]any{"t": "fn", "v": v.fn.id}, nil
	case KindError:
		name := "Error"
		msg := ""
		stack := ""
		if v.err != nil {
			if v.err.Name != "" {
				name = v.err.Name
			}
			msg = v.err.Message
			stack = v.err.Stack
		}
		return map[string]any{"t": "err", "v": map[string]any{"name": name, "message": msg, "stack": stack}}, nil
	case KindArray:
		if len(v.arr) > 0 {
			addr := reflect.ValueOf(v.arr).Pointer()
			if _, ok := e.seen[addr]; ok {
				return nil, &Error{Kind: ErrEncoding, Message: "cyclic value graph"}
			}
			e.seen[addr] = struct{}{}
			defer delete(e.seen, addr)
		}
		items := make([]any, len(v.arr))
		for i, item := range v.arr {
			node, err := e.encode(item, depth+1)
			if err != nil {
				return nil, err
			}
			items[i] = node
		}
		return map[string]any{"t": "array", "v": items}, nil
	case KindObject:
		if len(v.obj) > 0 {
			addr := reflect.ValueOf(v.obj).Pointer()
			if _, ok := e.seen[addr]; ok {
				return nil, &Error{Kind: ErrEncoding, Message: "cyclic value graph"}
			}
			e.seen[addr] = struct{}{}
			defer delete(e.seen, addr)
		}
		pairs := make([]any, 0, len(v.obj))
		for _, k := range v.sortedKeys() {
			if !utf8.ValidString(k) {
				return nil, &Error{Kind: ErrEncoding, Message: "object key is not valid UTF-8"}
			}
			node, err := e.encode(v.obj[k], depth+1)
			if err != nil {
				return nil, err
			}
			pairs = append(pairs, []any{k, node})
		}
		return map[string]any{"t": "object", "v": pairs}, nil
	}
	return nil, &Error{Kind: ErrInternal, Message: fmt.Sprintf("unencodable kind %s", v.kind)}
}

// Encode failures inside the engine surface as thrown errors carrying a
// __vex: marker. mapBridgeThrow rewrites them into the encoding taxonomy
// so callers never see transport internals.
func mapBridgeThrow(err *Error) *Error {
	if err == nil || err.Kind != ErrScript {
		return err
	}
	msg := err.Message
	i := strings.Index(msg, "__vex:")
	if i < 0 {
		return err
	}
	reason := msg[i+len("__vex:"):]
	out := &Error{Kind: ErrEncoding}
	switch {
	case strings.HasPrefix(reason, "cycle"):
		out.Message = "cyclic value graph"
	case strings.HasPrefix(reason, "depth"):
		out.Message = "value graph exceeds the depth limit"
	case strings.HasPrefix(reason, "surrogate"):
		out.Message = "string contains a lone surrogate"
	case strings.HasPrefix(reason, "unsupported"):
		out.Message = "value cannot cross the bridge: " + strings.TrimSpace(strings.TrimPrefix(reason, "unsupported"))
	default:
		out.Message = "value transport failed: " + reason
	}
	return out
}
