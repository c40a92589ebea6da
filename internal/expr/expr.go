// Package expr defines the engine-neutral boolean expression tree that
// planners hand to the filter translator. The node set is closed: a node is
// exactly one of FieldRef, Literal, or Call.
package expr

import (
	"fmt"
	"strings"
)

type FuncID int

const (
	FuncUnknown FuncID = iota
	FuncEquals
	FuncGreaterThan
	FuncGreaterThanOrEqual
	FuncLessThan
	FuncLessThanOrEqual
	FuncIsNull
	FuncIsNotNull
	FuncOr
	FuncAnd
	FuncNot
)

func (f FuncID) String() string {
	switch f {
	case FuncEquals:
		return "equals"
	case FuncGreaterThan:
		return "greaterThan"
	case FuncGreaterThanOrEqual:
		return "greaterThanOrEqual"
	case FuncLessThan:
		return "lessThan"
	case FuncLessThanOrEqual:
		return "lessThanOrEqual"
	case FuncIsNull:
		return "isNull"
	case FuncIsNotNull:
		return "isNotNull"
	case FuncOr:
		return "or"
	case FuncAnd:
		return "and"
	case FuncNot:
		return "not"
	default:
		return "unknown"
	}
}

// Node is one expression tree node. The set of implementations is closed;
// external packages can match exhaustively over FieldRef, Literal, and Call.
type Node interface {
	node()
	Summary() string
}

// FieldRef names a column together with its declared logical type.
type FieldRef struct {
	Name string
	Type Type
}

// Literal is a constant with a declared logical type.
type Literal struct {
	Value any
	Type  Type
}

// Call applies a function to ordered child expressions.
type Call struct {
	Func FuncID
	Args []Node
}

func (FieldRef) node() {}
func (Literal) node()  {}
func (Call) node()     {}

func (f FieldRef) Summary() string {
	return fmt.Sprintf("field(%s:%s)", f.Name, f.Type)
}

func (l Literal) Summary() string {
	return fmt.Sprintf("literal(%v:%s)", l.Value, l.Type)
}

func (c Call) Summary() string {
	parts := make([]string, 0, len(c.Args))
	for _, arg := range c.Args {
		parts = append(parts, arg.Summary())
	}
	return fmt.Sprintf("%s(%s)", c.Func, strings.Join(parts, ", "))
}

// ValueAs converts the literal to the given logical type. The second return
// is false when no lossless conversion exists; callers must not guess.
func (l Literal) ValueAs(t Type) (any, bool) {
	return t.Convert(l.Value)
}
