// Package filter holds the store-native scan constraints and the translation
// from expression trees into them. Predicates are consumed opaquely by the
// store backends, either pushed down into SQL or evaluated locally.
package filter

import (
	"bytes"
	"fmt"
	"strings"
	"time"
)

type Kind int

const (
	KindIsNull Kind = iota
	KindIsNotNull
	KindCompare
	KindIn
)

type Op int

const (
	OpGreater Op = iota
	OpGreaterEqual
	OpEqual
	OpLess
	OpLessEqual
)

func (o Op) String() string {
	switch o {
	case OpGreater:
		return ">"
	case OpGreaterEqual:
		return ">="
	case OpEqual:
		return "="
	case OpLess:
		return "<"
	case OpLessEqual:
		return "<="
	default:
		return "?"
	}
}

// Predicate is a single scan constraint on one column. Value is set for
// KindCompare, Values for KindIn; both are nil for the null checks.
type Predicate struct {
	Column string
	Kind   Kind
	Op     Op
	Value  any
	Values []any
}

func IsNull(column string) Predicate {
	return Predicate{Column: column, Kind: KindIsNull}
}

func IsNotNull(column string) Predicate {
	return Predicate{Column: column, Kind: KindIsNotNull}
}

func Compare(column string, op Op, value any) Predicate {
	return Predicate{Column: column, Kind: KindCompare, Op: op, Value: value}
}

// In keeps the values in source order and does not deduplicate.
func In(column string, values []any) Predicate {
	return Predicate{Column: column, Kind: KindIn, Values: values}
}

func Equal(column string, value any) Predicate {
	return Compare(column, OpEqual, value)
}

func (p Predicate) String() string {
	switch p.Kind {
	case KindIsNull:
		return p.Column + " IS NULL"
	case KindIsNotNull:
		return p.Column + " IS NOT NULL"
	case KindCompare:
		return fmt.Sprintf("%s %s %v", p.Column, p.Op, p.Value)
	case KindIn:
		parts := make([]string, 0, len(p.Values))
		for _, value := range p.Values {
			parts = append(parts, fmt.Sprintf("%v", value))
		}
		return fmt.Sprintf("%s IN (%s)", p.Column, strings.Join(parts, ", "))
	default:
		return p.Column + " ?"
	}
}

// Matches evaluates the predicate against one column value. It backs the
// residual filtering done by backends that cannot push predicates into the
// store itself.
func (p Predicate) Matches(value any) bool {
	switch p.Kind {
	case KindIsNull:
		return value == nil
	case KindIsNotNull:
		return value != nil
	case KindCompare:
		cmp, ok := compareValues(value, p.Value)
		if !ok {
			return false
		}
		switch p.Op {
		case OpGreater:
			return cmp > 0
		case OpGreaterEqual:
			return cmp >= 0
		case OpEqual:
			return cmp == 0
		case OpLess:
			return cmp < 0
		case OpLessEqual:
			return cmp <= 0
		}
		return false
	case KindIn:
		for _, candidate := range p.Values {
			if cmp, ok := compareValues(value, candidate); ok && cmp == 0 {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func compareValues(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	switch left := a.(type) {
	case bool:
		right, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if left == right {
			return 0, true
		}
		if !left {
			return -1, true
		}
		return 1, true
	case string:
		right, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(left, right), true
	case []byte:
		right, ok := b.([]byte)
		if !ok {
			return 0, false
		}
		return bytes.Compare(left, right), true
	case time.Time:
		right, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return left.Compare(right), true
	default:
		lf, lok := toFloat(a)
		rf, rok := toFloat(b)
		if !lok || !rok {
			return 0, false
		}
		switch {
		case lf < rf:
			return -1, true
		case lf > rf:
			return 1, true
		default:
			return 0, true
		}
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}
