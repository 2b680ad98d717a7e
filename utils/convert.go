package utils

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/featstore/featstore-go/constants"
	"github.com/featstore/featstore-go/errors"
)

func ToInt64(value interface{}, defaultValue int64) int64 {
	switch v := value.(type) {
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
		return int64(v)
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return int64(v)
	case float32:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
	case string:
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	case bool:
		if v {
			return 1
		}
		return 0
	}
	return defaultValue
}

func ToFloat64(value interface{}, defaultValue float64) float64 {
	switch v := value.(type) {
	case float32:
		return float64(v)
	case float64:
		return v
	case int:
		return float64(v)
	case int8:
		return float64(v)
	case int16:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case uint:
		return float64(v)
	case uint8:
		return float64(v)
	case uint16:
		return float64(v)
	case uint32:
		return float64(v)
	case uint64:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func ToString(value interface{}, defaultValue string) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case json.Number:
		return v.String()
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	}
	return defaultValue
}

func ToBool(value interface{}, defaultValue bool) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	}
	return defaultValue
}

// ToTime accepts time.Time, RFC3339 strings, and Unix seconds carried as
// int64 or float64 with a fractional part.
func ToTime(value interface{}, defaultValue time.Time) time.Time {
	switch v := value.(type) {
	case time.Time:
		return v
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
		if t, err := time.Parse("2006-01-02 15:04:05", v); err == nil {
			return t.UTC()
		}
		if t, err := time.Parse("2006-01-02", v); err == nil {
			return t.UTC()
		}
	case int:
		return time.Unix(int64(v), 0).UTC()
	case int64:
		return time.Unix(v, 0).UTC()
	case float64:
		sec := int64(v)
		nsec := int64((v - float64(sec)) * float64(time.Second))
		return time.Unix(sec, nsec).UTC()
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return ToTime(f, defaultValue)
		}
	}
	return defaultValue
}

// CoerceValue converts value to the Go representation of t, or fails when
// the value cannot represent that type. nil passes through as nil.
func CoerceValue(value interface{}, t constants.FSType) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	switch t {
	case constants.FS_INT64:
		sentinel := int64(-1 << 62)
		if i := ToInt64(value, sentinel); i != sentinel {
			if f, isFloat := floatValue(value); isFloat && f != float64(int64(f)) {
				return nil, errors.Newf("value %v is not an integer", value)
			}
			return i, nil
		}
	case constants.FS_DOUBLE:
		sentinel := -1.7976931348623157e308
		if f := ToFloat64(value, sentinel); f != sentinel {
			return f, nil
		}
	case constants.FS_STRING:
		switch v := value.(type) {
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		}
	case constants.FS_BOOLEAN:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			if b, err := strconv.ParseBool(v); err == nil {
				return b, nil
			}
		case int, int64:
			i := ToInt64(v, 0)
			if i == 0 || i == 1 {
				return i == 1, nil
			}
		}
	case constants.FS_TIMESTAMP:
		zero := time.Time{}
		if ts := ToTime(value, zero); !ts.IsZero() {
			return ts, nil
		}
	default:
		return nil, errors.Newf("unknown value type %v", t)
	}
	return nil, errors.Newf("value %v (%T) cannot be coerced to %s", value, value, t)
}

func floatValue(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}
