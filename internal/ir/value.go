package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"unicode/utf16"
)

// RefKey is the object key that marks a reference to another schema.
const RefKey = "$ref"

// Value is a sealed interface representing one node of a JSON document.
// Only Null, Bool, Number, String, Array, Object and Ref implement it.
type Value interface {
	value() // Sealed - only these types implement it
}

// Null represents a JSON null.
// Using an explicit type ensures all Values satisfy the sealed interface.
type Null struct{}

func (Null) value() {}

// Bool represents a JSON boolean.
type Bool bool

func (Bool) value() {}

// Number represents a JSON number in its literal form.
type Number json.Number

func (Number) value() {}

// String represents a JSON string.
type String string

func (String) value() {}

// Array represents a JSON array.
type Array []Value

func (Array) value() {}

// Object represents a JSON object.
// Use SortedKeys() for deterministic iteration.
type Object map[string]Value

func (Object) value() {}

// Ref is an object whose "$ref" points at another stored schema.
//
// Target is the schema name extracted from Raw ("address.json#/x" has
// target "address"). Siblings holds the other keys of the object, which
// survive resolution untouched.
type Ref struct {
	Target   string
	Raw      string
	Siblings Object
}

func (Ref) value() {}

// NewRef creates a Ref for the given raw "$ref" string.
// Returns false if raw is a local pointer or an absolute URL.
func NewRef(raw string, siblings Object) (Ref, bool) {
	target, ok := RefTarget(raw)
	if !ok {
		return Ref{}, false
	}
	return Ref{Target: target, Raw: raw, Siblings: siblings}, true
}

// schemaExtensions are stripped from reference targets so that
// "address.json#" and "address" name the same stored schema.
var schemaExtensions = []string{".json", ".yaml", ".yml", ".cue"}

// RefTarget extracts the schema name a "$ref" string points at.
//
// Local pointers ("#", "#/definitions/x") and absolute URLs
// ("https://...") are not schema references and return false.
func RefTarget(raw string) (string, bool) {
	if raw == "" || strings.HasPrefix(raw, "#") || strings.Contains(raw, "://") {
		return "", false
	}
	name, _, _ := strings.Cut(raw, "#")
	for _, ext := range schemaExtensions {
		if trimmed, ok := strings.CutSuffix(name, ext); ok {
			name = trimmed
			break
		}
	}
	if name == "" {
		return "", false
	}
	return name, true
}

// Object returns the Ref rewritten as a plain object with the given
// pointer as its "$ref".
func (r Ref) Object(pointer string) Object {
	obj := make(Object, len(r.Siblings)+1)
	for k, v := range r.Siblings {
		obj[k] = v
	}
	obj[RefKey] = String(pointer)
	return obj
}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// Go's sort.Strings uses UTF-8 which produces a different order.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

// compareUTF16 compares strings by UTF-16 code units as required by
// RFC 8785 key ordering.
func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	return len(a16) - len(b16)
}

// Unmarshal decodes a JSON document into a Value.
// Numbers are kept as literals; objects carrying a schema "$ref" become Ref.
func Unmarshal(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after top-level value")
	}
	return FromAny(raw)
}

// FromAny converts a decoded Go value (as produced by encoding/json,
// gopkg.in/yaml.v3 or CUE export) into a Value.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case json.Number:
		return Number(val), nil
	case int:
		return Number(fmt.Sprintf("%d", val)), nil
	case int64:
		return Number(fmt.Sprintf("%d", val)), nil
	case uint64:
		return Number(fmt.Sprintf("%d", val)), nil
	case float64:
		return Number(json.Number(fmt.Sprint(val))), nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			item, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = item
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			item, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
			obj[k] = item
		}
		return asRef(obj), nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// asRef turns an object into a Ref when its "$ref" names a stored schema.
func asRef(obj Object) Value {
	s, ok := obj[RefKey].(String)
	if !ok {
		return obj
	}
	siblings := make(Object, len(obj)-1)
	for k, v := range obj {
		if k != RefKey {
			siblings[k] = v
		}
	}
	if ref, ok := NewRef(string(s), siblings); ok {
		return ref
	}
	return obj
}

// ToAny converts a Value back into plain Go values (map[string]any,
// []any, string, bool, json.Number, nil).
func ToAny(v Value) any {
	switch val := v.(type) {
	case Null, nil:
		return nil
	case Bool:
		return bool(val)
	case Number:
		return json.Number(val)
	case String:
		return string(val)
	case Array:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ToAny(elem)
		}
		return out
	case Object:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = ToAny(elem)
		}
		return out
	case Ref:
		return ToAny(val.Object(val.Raw))
	default:
		return nil
	}
}

// MarshalJSON implements json.Marshaler for Object using canonical output.
func (obj Object) MarshalJSON() ([]byte, error) {
	return MarshalCanonical(obj)
}

// MarshalJSON implements json.Marshaler for Array using canonical output.
func (arr Array) MarshalJSON() ([]byte, error) {
	return MarshalCanonical(arr)
}

// MarshalJSON implements json.Marshaler for Ref.
// The original "$ref" string is written back unchanged.
func (r Ref) MarshalJSON() ([]byte, error) {
	return MarshalCanonical(r)
}

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}
