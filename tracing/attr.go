package tracing

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/spf13/cast"
)

// sanitizeValue reduces an arbitrary caller-supplied value to the supported
// attribute forms: string, int64, float64, bool, nil, or a slice of those.
// Strings are truncated to 4096 characters, slices to their first 32
// elements. Maps and anything else are stringified then truncated.
func sanitizeValue(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		return truncate(v, maxValueLen)
	case bool:
		return v
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case uint:
		return int64(v) //nolint:gosec // truncation on overflow is acceptable for telemetry
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return int64(v) //nolint:gosec // truncation on overflow is acceptable for telemetry
	case float32:
		return float64(v)
	case float64:
		return v
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		n := rv.Len()
		if n > maxArrayElems {
			n = maxArrayElems
		}
		out := make([]any, 0, n)
		for i := range n {
			out = append(out, sanitizeValue(rv.Index(i).Interface()))
		}
		return out
	}

	return truncate(stringify(value), maxValueLen)
}

// stringify renders maps and unknown types to a string. JSON is preferred
// for structured values; cast covers the common scalars behind interfaces.
func stringify(value any) string {
	if s, err := cast.ToStringE(value); err == nil {
		return s
	}

	if data, err := json.Marshal(value); err == nil {
		return string(data)
	}

	return fmt.Sprint(value)
}

// errorType names the dynamic type of an error for exception events.
func errorType(err error) string {
	return fmt.Sprintf("%T", err)
}
