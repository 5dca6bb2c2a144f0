package common

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Snowflake value encoding
// --------------------------------------------------------------------------

// The server stores every value as a string. Literals use single letters,
// buffers are hex encoded with a 0x prefix, strings, arrays and objects are JSON.
const (
	valueNull       = "N"
	valueTrue       = "T"
	valueFalse      = "F"
	bufferPrefix    = "0x"
	bufferObjPrefix = "Buffer#0x"
)

// StringifyValue encodes a value the way the server expects it for a
// stringified set request.
func StringifyValue(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return valueNull, nil
	case bool:
		if val {
			return valueTrue, nil
		}
		return valueFalse, nil
	case []byte:
		return bufferPrefix + hex.EncodeToString(val), nil
	case string, []any, []string:
		b, err := json.Marshal(val)
		return string(b), err
	case map[string]any:
		b, err := json.Marshal(markBuffers(val))
		return string(b), err
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case uint64:
		return strconv.FormatUint(val, 10), nil
	case json.Number:
		return val.String(), nil
	case fmt.Stringer:
		return val.String(), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

// ParseValue decodes a stored value string back into a Go value:
// nil, bool, []byte, float64, string, []any or map[string]any.
func ParseValue(s string) any {
	switch s {
	case "":
		return ""
	case "N", "n":
		return nil
	case "T", "t":
		return true
	case "F", "f":
		return false
	}

	if strings.HasPrefix(s, bufferPrefix) {
		if b, err := hex.DecodeString(s[len(bufferPrefix):]); err == nil {
			return b
		}
		return s
	}

	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return unmarkBuffers(v)
	}

	if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		return f
	}
	return s
}

func markBuffers(obj map[string]any) map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		switch val := v.(type) {
		case []byte:
			out[k] = bufferObjPrefix + hex.EncodeToString(val)
		case map[string]any:
			out[k] = markBuffers(val)
		default:
			out[k] = v
		}
	}
	return out
}

func unmarkBuffers(v any) any {
	switch val := v.(type) {
	case string:
		if strings.HasPrefix(val, bufferObjPrefix) {
			if b, err := hex.DecodeString(val[len(bufferObjPrefix):]); err == nil {
				return b
			}
		}
		return val
	case map[string]any:
		for k, inner := range val {
			val[k] = unmarkBuffers(inner)
		}
		return val
	case []any:
		for i, inner := range val {
			val[i] = unmarkBuffers(inner)
		}
		return val
	default:
		return v
	}
}

// Value types reported by the server
var ValueTypes = []string{"string", "boolean", "number", "array", "object", "buffer", "null"}

// ValueType returns the server type name of a parsed value
func ValueType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case []byte:
		return "buffer"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "number"
	}
}
