// Package store defines the narrow synchronous contract the lookup executor
// and writer drive against an external tabular store. Backends live in the
// sqlstore and parquetstore subpackages.
package store

import (
	"context"
	"errors"

	"github.com/rowlink/rowlink/internal/filter"
)

var (
	ErrTableNotFound = errors.New("table not found")
	ErrClosed        = errors.New("store client is closed")
	// ErrReadOnly is returned by backends that do not support mutations or
	// table creation.
	ErrReadOnly = errors.New("store is read-only")
)

// Row is one result row in (optionally projected) schema order. The lookup
// executor treats rows as opaque beyond collecting and re-emitting them.
type Row []any

// Connector opens a client connection. The executor and writer hold a
// connector and acquire their own client at Open time, so each parallel task
// instance owns exactly one connection.
type Connector interface {
	Connect(ctx context.Context) (Client, error)
}

type Client interface {
	TableExists(ctx context.Context, name string) (bool, error)
	OpenTable(ctx context.Context, name string) (Table, error)
	CreateTable(ctx context.Context, name string, schema Schema, opts CreateOptions) (Table, error)
	Close() error
}

// ScanSpec describes one scan request. An empty Projection selects all
// columns. Splits is the requested shard count; backends may return fewer.
type ScanSpec struct {
	Predicates []filter.Predicate
	Projection []string
	Splits     int
}

// Split is an opaque shard token produced by BuildScan and consumed by Scan
// on the same table. Backend split types embed SplitBase to satisfy it.
type Split interface {
	split()
}

// SplitBase is embedded by backend-specific split types.
type SplitBase struct{}

func (SplitBase) split() {}

type Table interface {
	Name() string
	BuildScan(ctx context.Context, spec ScanSpec) ([]Split, error)
	Scan(ctx context.Context, split Split) (RowIterator, error)
	// NewSession starts a buffered mutation session. Read-only backends
	// return ErrReadOnly.
	NewSession(opts SessionOptions) (Session, error)
}

// RowIterator is a pull-style iterator over matching rows. Next reports
// whether a row is available; Err surfaces the failure that stopped
// iteration, which may occur at any point mid-stream.
type RowIterator interface {
	Next() bool
	Row() Row
	Err() error
	Close() error
}
