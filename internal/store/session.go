package store

import "context"

// OpKind is the mutation kind carried by an Operation.
type OpKind int

const (
	OpInsert OpKind = iota
	OpUpsert
	OpUpdate
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpUpsert:
		return "upsert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Operation is one buffered mutation. Values are in schema column order; for
// deletes only the key columns are consulted.
type Operation struct {
	Kind   OpKind
	Values Row
}

// RowError is a per-row failure surfaced by a session flush rather than by
// the Apply call that buffered the row.
type RowError struct {
	Op      Operation
	Message string
}

func (e RowError) Error() string {
	return e.Op.Kind.String() + ": " + e.Message
}

// SessionOptions configure a buffered mutation session.
type SessionOptions struct {
	// Schema describes the columns mutation values are given in; key columns
	// drive update/delete targeting.
	Schema Schema
	// MaxBufferedOps triggers an implicit flush once reached; zero means
	// flush only on explicit Flush/Close.
	MaxBufferedOps int
	// IgnoreDuplicate drops duplicate-key errors on insert.
	IgnoreDuplicate bool
	// IgnoreNotFound drops missing-row errors on update/delete.
	IgnoreNotFound bool
}

// Session buffers mutations and applies them on flush. PendingErrors drains
// the row errors accumulated by flushes since the last call.
type Session interface {
	Apply(ctx context.Context, op Operation) error
	Flush(ctx context.Context) error
	PendingErrors() []RowError
	Close(ctx context.Context) error
}
