package vex

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"time"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"
)

// structJSON keeps numbers as json.Number so integral struct fields stay
// integers on their way through the bridge.
var structJSON = jsoniter.Config{UseNumber: true}.Froze()

// Kind identifies which member of the value union a Value holds.
type Kind uint8

const (
	KindUndefined Kind = iota
	KindNull
	KindBoolean
	KindInteger
	KindDouble
	KindString
	KindBytes
	KindArray
	KindObject
	KindFunction
	KindDate
	KindError
)

var kindNames = [...]string{
	"undefined", "null", "boolean", "integer", "double", "string",
	"bytes", "array", "object", "function", "date", "error",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is an immutable engine value held by the host. The zero Value is
// undefined.
//
//	Engine                  | Host accessor
//	------------------------+---------------------
//	undefined, null         | Kind only
//	boolean                 | Bool
//	number (integral)       | Int
//	number (fractional)     | Float
//	string                  | String
//	ArrayBuffer, typed view | Bytes
//	Array                   | Array
//	plain object            | Object
//	function                | Function
//	Date                    | Date
//	Error                   | Err
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	bs   []byte
	arr  []Value
	obj  map[string]Value
	ts   time.Time
	fn   *FuncRef
	err  *Error
}

// Undefined returns the undefined value.
func Undefined() Value { return Value{} }

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// Boolean wraps a bool.
func Boolean(b bool) Value { return Value{kind: KindBoolean, b: b} }

// Integer wraps an int64. Engine numbers are IEEE-754 doubles, so
// magnitudes beyond 2^53 lose precision once they cross the boundary.
func Integer(i int64) Value { return Value{kind: KindInteger, i: i} }

// Double wraps a float64. NaN and the infinities survive the round trip.
func Double(f float64) Value { return Value{kind: KindDouble, f: f} }

// String wraps a string. The string must be valid UTF-8; invalid input is
// rejected with ErrEncoding when the value crosses into the engine.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Bytes wraps a byte slice. It reaches the engine as a Uint8Array. The
// slice is not copied; the caller must not mutate it while in flight.
func Bytes(b []byte) Value { return Value{kind: KindBytes, bs: b} }

// Array builds an array value from its items.
func Array(items ...Value) Value { return Value{kind: KindArray, arr: items} }

// Object builds an object value from string-keyed fields.
func Object(fields map[string]Value) Value { return Value{kind: KindObject, obj: fields} }

// Date wraps a time.Time. Engine dates hold millisecond precision, so
// finer resolution is truncated on the way in.
func Date(t time.Time) Value { return Value{kind: KindDate, ts: t} }

// ErrorValue wraps an engine error object.
func ErrorValue(e *Error) Value { return Value{kind: KindError, err: e} }

// Function wraps a handle to an engine function. Handles come from prior
// results; hosts cannot mint them for arbitrary code.
func Function(fn *FuncRef) Value { return Value{kind: KindFunction, fn: fn} }

// Kind reports which union member the value holds.
func (v Value) Kind() Kind { return v.kind }

// Bool returns the boolean payload, or false for any other kind.
func (v Value) Bool() bool { return v.kind == KindBoolean && v.b }

// Int returns the integer payload. Doubles are truncated; other kinds
// yield zero.
func (v Value) Int() int64 {
	switch v.kind {
	case KindInteger:
		return v.i
	case KindDouble:
		return int64(v.f)
	}
	return 0
}

// Float returns the numeric payload as a float64, converting integers.
// Other kinds yield zero.
func (v Value) Float() float64 {
	switch v.kind {
	case KindDouble:
		return v.f
	case KindInteger:
		return float64(v.i)
	}
	return 0
}

// Bytes returns the byte payload, or nil for any other kind.
func (v Value) Bytes() []byte {
	if v.kind != KindBytes {
		return nil
	}
	return v.bs
}

// Array returns the items of an array value, or nil.
func (v Value) Array() []Value {
	if v.kind != KindArray {
		return nil
	}
	return v.arr
}

// Object returns the fields of an object value, or nil.
func (v Value) Object() map[string]Value {
	if v.kind != KindObject {
		return nil
	}
	return v.obj
}

// Date returns the time payload, or the zero time.
func (v Value) Date() time.Time {
	if v.kind != KindDate {
		return time.Time{}
	}
	return v.ts
}

// Function returns the function handle, or nil.
func (v Value) Function() *FuncRef {
	if v.kind != KindFunction {
		return nil
	}
	return v.fn
}

// Err returns the error payload, or nil.
func (v Value) Err() *Error {
	if v.kind != KindError {
		return nil
	}
	return v.err
}

// String returns the string payload for string values and a readable
// representation for everything else.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindBoolean:
		return strconv.FormatBool(v.b)
	case KindInteger:
		return strconv.FormatInt(v.i, 10)
	case KindDouble:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBytes:
		return fmt.Sprintf("bytes[%d]", len(v.bs))
	case KindArray:
		return fmt.Sprintf("array[%d]", len(v.arr))
	case KindObject:
		return fmt.Sprintf("object{%d}", len(v.obj))
	case KindFunction:
		return "function"
	case KindDate:
		return v.ts.Format(time.RFC3339)
	case KindError:
		return v.err.Error()
	}
	return v.kind.String()
}

// Equal reports structural equality. Arrays compare item-wise, objects
// field-wise, dates by instant. Function and error values compare by kind
// only, since handle identity does not survive a round trip. NaN equals
// NaN so that round-tripped doubles compare stable.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindUndefined, KindNull, KindFunction, KindError:
		return true
	case KindBoolean:
		return v.b == o.b
	case KindInteger:
		return v.i == o.i
	case KindDouble:
		if math.IsNaN(v.f) && math.IsNaN(o.f) {
			return true
		}
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindBytes:
		if len(v.bs) != len(o.bs) {
			return false
		}
		for i := range v.bs {
			if v.bs[i] != o.bs[i] {
				return false
			}
		}
		return true
	case KindDate:
		return v.ts.Equal(o.ts)
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.obj) != len(o.obj) {
			return false
		}
		for k, vv := range v.obj {
			ov, ok := o.obj[k]
			if !ok || !vv.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// Export converts the value to plain Go data: nil, bool, int64, float64,
// string, []byte, []any, map[string]any, time.Time, *FuncRef or *Error.
// Undefined and null both export as nil.
func (v Value) Export() any {
	switch v.kind {
	case KindBoolean:
		return v.b
	case KindInteger:
		return v.i
	case KindDouble:
		return v.f
	case KindString:
		return v.s
	case KindBytes:
		return v.bs
	case KindDate:
		return v.ts
	case KindFunction:
		return v.fn
	case KindError:
		return v.err
	case KindArray:
		out := make([]any, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.Export()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.obj))
		for k, f := range v.obj {
			out[k] = f.Export()
		}
		return out
	}
	return nil
}

// sortedKeys returns object keys in a stable order for encoding.
func (v Value) sortedKeys() []string {
	keys := make([]string, 0, len(v.obj))
	for k := range v.obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FromGo converts a Go value to an engine value.
//
//	Go                          | Engine
//	----------------------------+------------------
//	nil                         | null
//	bool                        | boolean
//	int*, uint*                 | number
//	float32, float64            | number
//	string                      | string
//	[]byte                      | Uint8Array
//	time.Time                   | Date
//	error                       | Error
//	*FuncRef                    | function
//	slice, array                | Array
//	map[string]T                | object
//	struct, pointer             | object (via JSON)
//
// Cyclic graphs and graphs deeper than the default bridge depth are
// rejected with ErrEncoding, as are strings that are not valid UTF-8.
func FromGo(v any) (Value, error) {
	return fromGo(v, 0, DefaultMaxBridgeDepth, map[uintptr]struct{}{})
}

func fromGo(v any, depth, maxDepth int, seen map[uintptr]struct{}) (Value, error) {
	if depth > maxDepth {
		return Value{}, &Error{Kind: ErrEncoding, Message: fmt.Sprintf("value graph exceeds depth limit %d", maxDepth)}
	}
	if v == nil {
		return Null(), nil
	}

	switch x := v.(type) {
	case Value:
		return x, nil
	case *FuncRef:
		return Function(x), nil
	case *Error:
		return ErrorValue(x), nil
	case error:
		return ErrorValue(&Error{Kind: ErrScript, Message: x.Error()}), nil
	case time.Time:
		return Date(x), nil
	case bool:
		return Boolean(x), nil
	case int:
		return Integer(int64(x)), nil
	case int8:
		return Integer(int64(x)), nil
	case int16:
		return Integer(int64(x)), nil
	case int32:
		return Integer(int64(x)), nil
	case int64:
		return Integer(x), nil
	case uint:
		return Integer(int64(x)), nil
	case uint8:
		return Integer(int64(x)), nil
	case uint16:
		return Integer(int64(x)), nil
	case uint32:
		return Integer(int64(x)), nil
	case uint64:
		if x > math.MaxInt64 {
			return Value{}, &Error{Kind: ErrEncoding, Message: fmt.Sprintf("uint64 %d overflows the numeric range", x)}
		}
		return Integer(int64(x)), nil
	case float32:
		return Double(float64(x)), nil
	case float64:
		return Double(x), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return Integer(i), nil
		}
		f, err := x.Float64()
		if err != nil {
			return Value{}, &Error{Kind: ErrEncoding, Message: "bad number literal " + x.String()}
		}
		return Double(f), nil
	case string:
		if !utf8.ValidString(x) {
			return Value{}, &Error{Kind: ErrEncoding, Message: "string is not valid UTF-8"}
		}
		return String(x), nil
	case []byte:
		return Bytes(x), nil
	case []Value:
		return Array(x...), nil
	case map[string]Value:
		return Object(x), nil
	}

	return fromGoReflect(reflect.ValueOf(v), depth, maxDepth, seen)
}

func fromGoReflect(rv reflect.Value, depth, maxDepth int, seen map[uintptr]struct{}) (Value, error) {
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return Null(), nil
		}
		addr := rv.Pointer()
		if _, ok := seen[addr]; ok {
			return Value{}, &Error{Kind: ErrEncoding, Message: "cyclic value graph"}
		}
		seen[addr] = struct{}{}
		defer delete(seen, addr)
		return fromGo(rv.Elem().Interface(), depth, maxDepth, seen)

	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice {
			if rv.Type().Elem().Kind() == reflect.Uint8 {
				return Bytes(rv.Bytes()), nil
			}
			addr := rv.Pointer()
			if _, ok := seen[addr]; ok {
				return Value{}, &Error{Kind: ErrEncoding, Message: "cyclic value graph"}
			}
			seen[addr] = struct{}{}
			defer delete(seen, addr)
		}
		items := make([]Value, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			item, err := fromGo(rv.Index(i).Interface(), depth+1, maxDepth, seen)
			if err != nil {
				return Value{}, err
			}
			items[i] = item
		}
		return Array(items...), nil

	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Value{}, &Error{Kind: ErrEncoding, Message: fmt.Sprintf("unsupported map key type %s", rv.Type().Key())}
		}
		addr := rv.Pointer()
		if _, ok := seen[addr]; ok {
			return Value{}, &Error{Kind: ErrEncoding, Message: "cyclic value graph"}
		}
		seen[addr] = struct{}{}
		defer delete(seen, addr)
		fields := make(map[string]Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := iter.Key().String()
			if !utf8.ValidString(k) {
				return Value{}, &Error{Kind: ErrEncoding, Message: "map key is not valid UTF-8"}
			}
			f, err := fromGo(iter.Value().Interface(), depth+1, maxDepth, seen)
			if err != nil {
				return Value{}, err
			}
			fields[k] = f
		}
		return Object(fields), nil

	case reflect.Struct:
		// Structs go through JSON so field tags keep their meaning. The
		// stdlib encoder is used on the way out because it fails cleanly
		// on cyclic pointer graphs instead of recursing forever.
		data, err := json.Marshal(rv.Interface())
		if err != nil {
			return Value{}, &Error{Kind: ErrEncoding, Message: "marshal struct: " + err.Error()}
		}
		var plain any
		if err := structJSON.Unmarshal(data, &plain); err != nil {
			return Value{}, &Error{Kind: ErrEncoding, Message: "unmarshal struct: " + err.Error()}
		}
		return fromGo(plain, depth+1, maxDepth, seen)
	}

	return Value{}, &Error{Kind: ErrEncoding, Message: fmt.Sprintf("unsupported value type %s", rv.Type())}
}
