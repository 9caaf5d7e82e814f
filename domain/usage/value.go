package usage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindObject:
		return "object"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is a free-form structured value carried in event properties.
// The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	list []Value
	obj  map[string]Value
}

// Properties is the open metadata mapping attached to a usage event.
type Properties map[string]Value

// NullValue returns the null Value.
func NullValue() Value { return Value{} }

// BoolValue wraps a boolean.
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// NumberValue wraps a number.
func NumberValue(n float64) Value { return Value{kind: KindNumber, n: n} }

// StringValue wraps a string.
func StringValue(s string) Value { return Value{kind: KindString, s: s} }

// ListValue wraps a sequence of values.
func ListValue(vs ...Value) Value { return Value{kind: KindList, list: vs} }

// ObjectValue wraps a string-keyed mapping of values.
func ObjectValue(m map[string]Value) Value { return Value{kind: KindObject, obj: m} }

// ValueOf converts a plain Go value into a Value. It accepts nil, bool, the
// integer and float types, string, json.Number, Value, and slices or string-keyed
// maps of those. Non-finite numbers are rejected since they have no JSON form.
func ValueOf(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return NullValue(), nil
	case Value:
		return x, nil
	case bool:
		return BoolValue(x), nil
	case string:
		return StringValue(x), nil
	case int:
		return NumberValue(float64(x)), nil
	case int8:
		return NumberValue(float64(x)), nil
	case int16:
		return NumberValue(float64(x)), nil
	case int32:
		return NumberValue(float64(x)), nil
	case int64:
		return NumberValue(float64(x)), nil
	case uint:
		return NumberValue(float64(x)), nil
	case uint8:
		return NumberValue(float64(x)), nil
	case uint16:
		return NumberValue(float64(x)), nil
	case uint32:
		return NumberValue(float64(x)), nil
	case uint64:
		return NumberValue(float64(x)), nil
	case float32:
		return finite(float64(x))
	case float64:
		return finite(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q", x.String())
		}
		return finite(f)
	case []string:
		list := make([]Value, len(x))
		for i, s := range x {
			list[i] = StringValue(s)
		}
		return ListValue(list...), nil
	case []any:
		list := make([]Value, len(x))
		for i, item := range x {
			iv, err := ValueOf(item)
			if err != nil {
				return Value{}, fmt.Errorf("[%d]: %w", i, err)
			}
			list[i] = iv
		}
		return ListValue(list...), nil
	case map[string]string:
		obj := make(map[string]Value, len(x))
		for k, s := range x {
			obj[k] = StringValue(s)
		}
		return ObjectValue(obj), nil
	case map[string]any:
		obj := make(map[string]Value, len(x))
		for k, item := range x {
			iv, err := ValueOf(item)
			if err != nil {
				return Value{}, fmt.Errorf("%s: %w", k, err)
			}
			obj[k] = iv
		}
		return ObjectValue(obj), nil
	}
	return Value{}, fmt.Errorf("unsupported property type %T", v)
}

func finite(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, fmt.Errorf("non-finite number %v", f)
	}
	return NumberValue(f), nil
}

// Kind returns the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Bool returns the boolean held by v.
func (v Value) Bool() (bool, bool) { return v.b, v.kind == KindBool }

// Number returns the number held by v.
func (v Value) Number() (float64, bool) { return v.n, v.kind == KindNumber }

// Str returns the string held by v.
func (v Value) Str() (string, bool) { return v.s, v.kind == KindString }

// List returns the elements held by v.
func (v Value) List() ([]Value, bool) { return v.list, v.kind == KindList }

// Object returns the members held by v.
func (v Value) Object() (map[string]Value, bool) { return v.obj, v.kind == KindObject }

// Interface converts v back into plain Go values (nil, bool, float64,
// string, []any, map[string]any).
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.obj))
		for k, item := range v.obj {
			out[k] = item.Interface()
		}
		return out
	}
	return nil
}

// Equal reports whether v and o hold the same structure.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.n == o.n
	case KindString:
		return v.s == o.s
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.obj) != len(o.obj) {
			return false
		}
		for k, item := range v.obj {
			other, ok := o.obj[k]
			if !ok || !item.Equal(other) {
				return false
			}
		}
		return true
	}
	return false
}

// MarshalJSON encodes v. Object members are written in key order.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindNumber:
		return json.Marshal(v.n)
	case KindString:
		return json.Marshal(v.s)
	case KindList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	case KindObject:
		keys := make([]string, 0, len(v.obj))
		for k := range v.obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := v.obj[k].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unknown value kind %d", v.kind)
}

// UnmarshalJSON decodes any JSON document into v.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ValueOf(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// PropertiesOf converts a plain map into Properties.
func PropertiesOf(m map[string]any) (Properties, error) {
	if m == nil {
		return nil, nil
	}
	props := make(Properties, len(m))
	for k, item := range m {
		v, err := ValueOf(item)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		props[k] = v
	}
	return props, nil
}

// Equal reports whether p and o hold the same members.
func (p Properties) Equal(o Properties) bool {
	return ObjectValue(p).Equal(ObjectValue(o))
}
