package tool

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

var knownParamTypes = map[ParamType]struct{}{
	TypeString:  {},
	TypeDate:    {},
	TypeNumber:  {},
	TypeInteger: {},
	TypeBoolean: {},
}

// checkValue reports why value does not satisfy the declared type, or "".
func checkValue(typ ParamType, value any) string {
	switch typ {
	case TypeString:
		s, ok := value.(string)
		if !ok {
			return fmt.Sprintf("must be a string, got %s", describeValue(value))
		}
		if strings.TrimSpace(s) == "" {
			return "must not be empty"
		}
	case TypeDate:
		s, ok := value.(string)
		if !ok {
			return fmt.Sprintf("must be a date string, got %s", describeValue(value))
		}
		if _, err := time.Parse(DateLayout, strings.TrimSpace(s)); err != nil {
			return fmt.Sprintf("must be a date in YYYY-MM-DD format, got %q", s)
		}
	case TypeNumber:
		if _, ok := asFloat(value); !ok {
			return fmt.Sprintf("must be a number, got %s", describeValue(value))
		}
	case TypeInteger:
		f, ok := asFloat(value)
		if !ok || f != math.Trunc(f) {
			return fmt.Sprintf("must be an integer, got %s", describeValue(value))
		}
	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Sprintf("must be a boolean, got %s", describeValue(value))
		}
	}
	return ""
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func describeValue(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int32, int64, json.Number:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", value)
	}
}
