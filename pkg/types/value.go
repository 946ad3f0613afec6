// Package types provides the core data types of the sweepdb run database.
package types

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Value is a tagged-variant measurement value. A zero Value is null:
// an explicit "no value" marker, distinct from a stored numeric zero.
type Value struct {
	kind  ParamType
	num   float64
	text  string
	array []float64
	valid bool
}

// Null returns the explicit "no value" marker.
func Null() Value {
	return Value{}
}

// Num returns a numeric value.
func Num(v float64) Value {
	return Value{kind: ParamNumeric, num: v, valid: true}
}

// Text returns a text value.
func Text(s string) Value {
	return Value{kind: ParamText, text: s, valid: true}
}

// Array returns an array value. The slice is copied.
func Array(vs []float64) Value {
	cp := make([]float64, len(vs))
	copy(cp, vs)
	return Value{kind: ParamArray, array: cp, valid: true}
}

// IsNull reports whether the value is the "no value" marker.
func (v Value) IsNull() bool {
	return !v.valid
}

// Kind returns the paramtype of the value; null values have no kind.
func (v Value) Kind() ParamType {
	return v.kind
}

// Float returns the numeric value and whether the value is a non-null numeric.
func (v Value) Float() (float64, bool) {
	return v.num, v.valid && v.kind == ParamNumeric
}

// String returns the text value, or a rendering of the value for diagnostics.
func (v Value) String() string {
	if !v.valid {
		return "<null>"
	}
	switch v.kind {
	case ParamNumeric:
		return fmt.Sprintf("%g", v.num)
	case ParamText:
		return v.text
	case ParamArray:
		return fmt.Sprintf("%v", v.array)
	}
	return "<null>"
}

// Str returns the text value and whether the value is a non-null text.
func (v Value) Str() (string, bool) {
	return v.text, v.valid && v.kind == ParamText
}

// Floats returns the array value and whether the value is a non-null array.
// The returned slice must not be mutated.
func (v Value) Floats() ([]float64, bool) {
	return v.array, v.valid && v.kind == ParamArray
}

// Equal reports whether two values are identical, including nullness.
func (v Value) Equal(o Value) bool {
	if v.valid != o.valid {
		return false
	}
	if !v.valid {
		return true
	}
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case ParamNumeric:
		return v.num == o.num
	case ParamText:
		return v.text == o.text
	case ParamArray:
		if len(v.array) != len(o.array) {
			return false
		}
		for i := range v.array {
			if v.array[i] != o.array[i] {
				return false
			}
		}
		return true
	}
	return false
}

// Driver returns the value in database/sql driver form: nil for null,
// float64/string for scalars, and a little-endian float64 blob for arrays.
func (v Value) Driver() interface{} {
	if !v.valid {
		return nil
	}
	switch v.kind {
	case ParamNumeric:
		return v.num
	case ParamText:
		return v.text
	case ParamArray:
		return EncodeArray(v.array)
	}
	return nil
}

// EncodeArray packs a float64 slice into a little-endian blob.
func EncodeArray(vs []float64) []byte {
	buf := make([]byte, 8*len(vs))
	for i, f := range vs {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(f))
	}
	return buf
}

// DecodeArray unpacks a little-endian float64 blob.
func DecodeArray(b []byte) ([]float64, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("array blob length %d is not a multiple of 8", len(b))
	}
	vs := make([]float64, len(b)/8)
	for i := range vs {
		vs[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return vs, nil
}

// ResultRow is one measured tuple: parameter name to value. Parameters
// absent from the map are stored as null (ragged sweeps).
type ResultRow map[string]Value
