package expr

import "time"

// Type is the logical column type carried by field references and literals.
type Type int

const (
	TypeUnknown Type = iota
	TypeBool
	TypeInt32
	TypeInt64
	TypeFloat32
	TypeFloat64
	TypeString
	TypeBytes
	TypeTimestamp
)

func (t Type) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeInt32:
		return "int32"
	case TypeInt64:
		return "int64"
	case TypeFloat32:
		return "float32"
	case TypeFloat64:
		return "float64"
	case TypeString:
		return "string"
	case TypeBytes:
		return "bytes"
	case TypeTimestamp:
		return "timestamp"
	default:
		return "unknown"
	}
}

// Convert coerces value into t's runtime representation. Only widening
// numeric conversions are accepted; anything lossy or cross-kind returns
// false.
func (t Type) Convert(value any) (any, bool) {
	if value == nil {
		return nil, false
	}
	switch t {
	case TypeBool:
		v, ok := value.(bool)
		return v, ok
	case TypeInt32:
		switch v := value.(type) {
		case int32:
			return v, true
		case int:
			if int(int32(v)) == v {
				return int32(v), true
			}
		case int64:
			if int64(int32(v)) == v {
				return int32(v), true
			}
		}
		return nil, false
	case TypeInt64:
		switch v := value.(type) {
		case int64:
			return v, true
		case int:
			return int64(v), true
		case int32:
			return int64(v), true
		}
		return nil, false
	case TypeFloat32:
		switch v := value.(type) {
		case float32:
			return v, true
		case int32:
			return float32(v), true
		}
		return nil, false
	case TypeFloat64:
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
		}
		return nil, false
	case TypeString:
		v, ok := value.(string)
		return v, ok
	case TypeBytes:
		switch v := value.(type) {
		case []byte:
			return v, true
		case string:
			return []byte(v), true
		}
		return nil, false
	case TypeTimestamp:
		v, ok := value.(time.Time)
		return v, ok
	default:
		return nil, false
	}
}
