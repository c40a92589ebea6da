package filter

import (
	"log/slog"

	"github.com/rowlink/rowlink/internal/expr"
)

// Translator converts expression tree nodes into pushdown predicates. The
// zero value is usable; Logger, when set, records each node examined at
// debug level.
type Translator struct {
	Logger *slog.Logger
}

// Translate converts one node into a predicate. The second return is false
// when the node's shape is not representable as a single store predicate;
// that is a normal outcome, not an error, and the caller is expected to fall
// back to an unfiltered scan plus residual filtering.
//
// Recognized shapes:
//   - isNull/isNotNull over a single field reference;
//   - a two-child comparison between a field reference and a literal, in
//     either operand order;
//   - a variadic OR of equals(field, literal) disjuncts over one column,
//     which becomes an IN predicate.
func (t Translator) Translate(node expr.Node) (Predicate, bool) {
	if t.Logger != nil {
		t.Logger.Debug("translating filter expression", slog.String("node", node.Summary()))
	}
	call, ok := node.(expr.Call)
	if !ok {
		return Predicate{}, false
	}
	switch {
	case len(call.Args) == 1:
		return translateUnary(call)
	case len(call.Args) == 2 && call.Func != expr.FuncOr:
		return translateComparison(call)
	case len(call.Args) > 0 && call.Func == expr.FuncOr:
		return translateMembership(call)
	default:
		return Predicate{}, false
	}
}

// Translate is the logger-free form of Translator.Translate.
func Translate(node expr.Node) (Predicate, bool) {
	return Translator{}.Translate(node)
}

func translateUnary(call expr.Call) (Predicate, bool) {
	field, ok := call.Args[0].(expr.FieldRef)
	if !ok {
		return Predicate{}, false
	}
	switch call.Func {
	case expr.FuncIsNull:
		return IsNull(field.Name), true
	case expr.FuncIsNotNull:
		return IsNotNull(field.Name), true
	default:
		return Predicate{}, false
	}
}

// translateComparison accepts the field reference and literal in either
// order but never flips the operator: greaterThan(5, col) translates to
// col > 5, same as greaterThan(col, 5). Downstream plans rely on this
// field-centric reading; keep it.
func translateComparison(call expr.Call) (Predicate, bool) {
	var field expr.FieldRef
	var literal expr.Literal
	switch left := call.Args[0].(type) {
	case expr.FieldRef:
		right, ok := call.Args[1].(expr.Literal)
		if !ok {
			return Predicate{}, false
		}
		field, literal = left, right
	case expr.Literal:
		right, ok := call.Args[1].(expr.FieldRef)
		if !ok {
			return Predicate{}, false
		}
		field, literal = right, left
	default:
		return Predicate{}, false
	}

	value, ok := literal.ValueAs(field.Type)
	if !ok {
		return Predicate{}, false
	}
	switch call.Func {
	case expr.FuncGreaterThan:
		return Compare(field.Name, OpGreater, value), true
	case expr.FuncGreaterThanOrEqual:
		return Compare(field.Name, OpGreaterEqual, value), true
	case expr.FuncEquals:
		return Compare(field.Name, OpEqual, value), true
	case expr.FuncLessThan:
		return Compare(field.Name, OpLess, value), true
	case expr.FuncLessThanOrEqual:
		return Compare(field.Name, OpLessEqual, value), true
	default:
		return Predicate{}, false
	}
}

// translateMembership handles OR(equals(col, v1), equals(col, v2), ...) as
// produced by planners for IN lists. Every disjunct must be an equality on
// the same column; the first disjunct fixes the expected column for the
// rest. Value order and duplicates from the source are preserved.
func translateMembership(call expr.Call) (Predicate, bool) {
	values := make([]any, 0, len(call.Args))
	column := ""
	for i, arg := range call.Args {
		sub, ok := arg.(expr.Call)
		if !ok {
			return Predicate{}, false
		}
		if sub.Func != expr.FuncEquals || len(sub.Args) != 2 {
			return Predicate{}, false
		}
		field, ok := sub.Args[0].(expr.FieldRef)
		if !ok {
			return Predicate{}, false
		}
		literal, ok := sub.Args[1].(expr.Literal)
		if !ok {
			return Predicate{}, false
		}
		if i != 0 && column != field.Name {
			return Predicate{}, false
		}
		column = field.Name
		value, ok := literal.ValueAs(field.Type)
		if !ok {
			return Predicate{}, false
		}
		values = append(values, value)
	}
	return In(column, values), true
}
