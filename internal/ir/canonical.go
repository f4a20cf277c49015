package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces canonical JSON for a Value.
//
// Differences from json.Marshal:
//  1. Object keys sorted by UTF-16 code units (not UTF-8 bytes) after
//     normalization; keys that collide once normalized are an error
//  2. No HTML escaping (< > & are NOT escaped)
//  3. Strings and keys are NFC normalized
//  4. Numbers are written exactly as they were read
//
// Two documents that differ only in key order or Unicode composition
// marshal to identical bytes, which keeps stored schemas and golden
// snapshots stable.
func MarshalCanonical(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v Value) error {
	switch val := v.(type) {
	case nil, Null:
		buf.WriteString("null")
	case Bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case Number:
		if !json.Valid([]byte(val)) {
			return fmt.Errorf("invalid number literal %q", string(val))
		}
		buf.WriteString(string(val))
	case String:
		return writeCanonicalString(buf, string(val))
	case Array:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case Object:
		// Keys are normalized before sorting; two keys that normalize to
		// the same string would be written as duplicates.
		original := make(map[string]string, len(val))
		for k := range val {
			nk := norm.NFC.String(k)
			if prev, dup := original[nk]; dup {
				return fmt.Errorf("keys %q and %q are equal after NFC normalization", prev, k)
			}
			original[nk] = k
		}

		buf.WriteByte('{')
		for i, nk := range slices.SortedFunc(maps.Keys(original), compareUTF16) {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonicalString(buf, nk); err != nil {
				return fmt.Errorf("key %q: %w", nk, err)
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[original[nk]]); err != nil {
				return fmt.Errorf("value for key %q: %w", nk, err)
			}
		}
		buf.WriteByte('}')
	case Ref:
		return writeCanonical(buf, val.Object(val.Raw))
	default:
		return fmt.Errorf("unsupported value type: %T", v)
	}
	return nil
}

// writeCanonicalString writes s as a JSON string with NFC normalization
// and HTML escaping disabled.
func writeCanonicalString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return err
	}
	// json.Encoder adds a trailing newline
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}
