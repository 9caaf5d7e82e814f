package schema

import (
	"bytes"
	"encoding/json"
	"math"
)

// Object is a decoded JSON object whose fields are read by name.
//
// Read failures are accumulated, with their full path, in the ValidationError
// shared by every Object of the same document. Unknown fields are ignored.
// Methods on a nil *Object return zero values and record nothing, so a missing
// nested object is reported once rather than once per nested field.
type Object struct {
	path   string
	fields map[string]json.RawMessage
	errs   *ValidationError
}

// Decode parses data as a JSON object for the named entity. The returned
// ValidationError collects every failure found while the Object is read;
// callers check it with Err once they are done reading.
func Decode(entity string, data []byte) (*Object, *ValidationError) {
	errs := NewValidationError(entity)
	return decodeObject("", data, errs), errs
}

func decodeObject(path string, raw []byte, errs *ValidationError) *Object {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		errs.Add(path, ReasonMalformed)
		return nil
	}
	if isNull(trimmed) {
		errs.Add(path, ReasonNull)
		return nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		if json.Valid(trimmed) {
			errs.Add(path, ReasonObject)
		} else {
			errs.Add(path, ReasonMalformed)
		}
		return nil
	}

	return &Object{path: path, fields: fields, errs: errs}
}

// Path returns the path of the object within its document.
func (o *Object) Path() string {
	if o == nil {
		return ""
	}
	return o.path
}

// Has reports whether the field is present with a non-null value.
func (o *Object) Has(name string) bool {
	if o == nil {
		return false
	}
	raw, ok := o.fields[name]
	return ok && !isNull(raw)
}

// Invalid records a semantic failure for a field of the object.
func (o *Object) Invalid(name, reason string) {
	if o == nil {
		return
	}
	o.errs.Add(Join(o.path, name), reason)
}

// String reads a required string field.
func (o *Object) String(name string) string {
	return o.str(name, true)
}

// OptString reads an optional string field. Absent and null read as "".
func (o *Object) OptString(name string) string {
	return o.str(name, false)
}

// Number reads a required numeric field.
func (o *Object) Number(name string) float64 {
	raw, ok := o.lookup(name, true)
	if !ok {
		return 0
	}
	n, ok := o.number(name, raw)
	if !ok {
		return 0
	}
	f, err := n.Float64()
	if err != nil {
		o.errs.Add(Join(o.path, name), ReasonFinite)
		return 0
	}
	return f
}

// Int reads a required integral field. 3.0 is accepted, 3.5 is not.
func (o *Object) Int(name string) int {
	raw, ok := o.lookup(name, true)
	if !ok {
		return 0
	}
	n, ok := o.number(name, raw)
	if !ok {
		return 0
	}
	if i, err := n.Int64(); err == nil {
		return int(i)
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) >= math.Exp2(63) {
		o.errs.Add(Join(o.path, name), ReasonInteger)
		return 0
	}
	return int(f)
}

// Bool reads a required boolean field.
func (o *Object) Bool(name string) bool {
	raw, ok := o.lookup(name, true)
	if !ok {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		o.errs.Add(Join(o.path, name), ReasonBool)
		return false
	}
	return b
}

// Strings reads a required array of strings.
func (o *Object) Strings(name string) []string {
	return o.strs(name, true)
}

// OptStrings reads an optional array of strings. It returns nil when the
// field is absent and a non-nil slice when it is present.
func (o *Object) OptStrings(name string) []string {
	return o.strs(name, false)
}

// Object reads a required nested object.
func (o *Object) Object(name string) *Object {
	raw, ok := o.lookup(name, true)
	if !ok {
		return nil
	}
	return decodeObject(Join(o.path, name), raw, o.errs)
}

// OptObject reads an optional nested object; nil when absent or null.
func (o *Object) OptObject(name string) *Object {
	raw, ok := o.lookup(name, false)
	if !ok {
		return nil
	}
	return decodeObject(Join(o.path, name), raw, o.errs)
}

// Array reads a required array of objects.
func (o *Object) Array(name string) []*Object {
	return o.array(name, true)
}

// OptArray reads an optional array of objects. It returns nil when the field
// is absent and a non-nil slice when it is present.
func (o *Object) OptArray(name string) []*Object {
	return o.array(name, false)
}

// Raw returns the undecoded value of an optional field; nil when absent or null.
func (o *Object) Raw(name string) json.RawMessage {
	raw, ok := o.lookup(name, false)
	if !ok {
		return nil
	}
	return raw
}

func (o *Object) lookup(name string, required bool) (json.RawMessage, bool) {
	if o == nil {
		return nil, false
	}
	raw, ok := o.fields[name]
	if !ok {
		if required {
			o.errs.Add(Join(o.path, name), ReasonRequired)
		}
		return nil, false
	}
	if isNull(raw) {
		if required {
			o.errs.Add(Join(o.path, name), ReasonNull)
		}
		return nil, false
	}
	return raw, true
}

func (o *Object) str(name string, required bool) string {
	raw, ok := o.lookup(name, required)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		o.errs.Add(Join(o.path, name), ReasonString)
		return ""
	}
	return s
}

// number decodes raw as a JSON number literal. Quoted numbers are rejected.
func (o *Object) number(name string, raw json.RawMessage) (json.Number, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] == '"' {
		o.errs.Add(Join(o.path, name), ReasonNumber)
		return "", false
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		o.errs.Add(Join(o.path, name), ReasonNumber)
		return "", false
	}
	return n, true
}

func (o *Object) strs(name string, required bool) []string {
	raw, ok := o.lookup(name, required)
	if !ok {
		return nil
	}
	path := Join(o.path, name)
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		o.errs.Add(path, ReasonArray)
		return nil
	}
	out := make([]string, 0, len(items))
	for i, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err != nil || isNull(item) {
			o.errs.Add(Index(path, i), ReasonString)
			continue
		}
		out = append(out, s)
	}
	return out
}

func (o *Object) array(name string, required bool) []*Object {
	raw, ok := o.lookup(name, required)
	if !ok {
		return nil
	}
	path := Join(o.path, name)
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		o.errs.Add(path, ReasonArray)
		return nil
	}
	out := make([]*Object, 0, len(items))
	for i, item := range items {
		out = append(out, decodeObject(Index(path, i), item, o.errs))
	}
	return out
}

func isNull(raw []byte) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
