package camera

import (
	"math"
	"sort"
	"strconv"
)

// AsInt converts v to an integer.  Floats are accepted only when whole, which
// is what yaml and json decoding produce for integral settings.
func AsInt(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case uint8:
		return int64(t), true
	case uint16:
		return int64(t), true
	case uint32:
		return int64(t), true
	case float64:
		if t != math.Trunc(t) {
			return 0, false
		}
		return int64(t), true
	case string:
		i, err := strconv.ParseInt(t, 10, 64)
		return i, err == nil
	}
	return 0, false
}

// AsFloat converts v to a float64
func AsFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	if i, ok := AsInt(v); ok {
		return float64(i), true
	}
	return 0, false
}

// AsBool converts v to a bool
func AsBool(v interface{}) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(t)
		return b, err == nil
	}
	if i, ok := AsInt(v); ok {
		return i != 0, true
	}
	return false, false
}

// Coerce converts v to the representation of typ, one of
// "int", "float", "bool", "enum"
func Coerce(typ string, v interface{}) (interface{}, bool) {
	switch typ {
	case "int":
		i, ok := AsInt(v)
		return i, ok
	case "float":
		f, ok := AsFloat(v)
		return f, ok
	case "bool":
		b, ok := AsBool(v)
		return b, ok
	case "enum":
		s, ok := v.(string)
		return s, ok
	}
	return nil, false
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
