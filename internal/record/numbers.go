package record

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// maxExactInt is the largest integer magnitude a float64 holds exactly.
const maxExactInt = 1 << 53

// DecodeFields decodes a JSON object into a field map without losing
// integer precision (see DecodeValue).
func DecodeFields(data []byte) (map[string]any, error) {
	fields := map[string]any{}
	if len(bytes.TrimSpace(data)) == 0 {
		return fields, nil
	}
	v, err := DecodeValue(data)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("decode fields: want a JSON object, got %T", v)
	}
	return m, nil
}

// DecodeValue decodes any JSON value. Numbers become float64, except
// integers beyond 2^53 which stay int64 so they read back exactly.
func DecodeValue(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return ExactNumbers(v), nil
}

// ExactNumbers replaces every json.Number inside v (as produced by a decoder
// with UseNumber) with a float64, or an int64 when float64 would round it.
// Maps and slices are rewritten in place.
func ExactNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		return numberValue(val)
	case map[string]any:
		for k, elem := range val {
			val[k] = ExactNumbers(elem)
		}
		return val
	case []any:
		for i, elem := range val {
			val[i] = ExactNumbers(elem)
		}
		return val
	default:
		return val
	}
}

func numberValue(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		if i > maxExactInt || i < -maxExactInt {
			return i
		}
		return float64(i)
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	// Out of float64 range; keep the literal rather than invent a value.
	return n
}
