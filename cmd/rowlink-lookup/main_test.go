package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rowlink/rowlink/internal/config"
	"github.com/rowlink/rowlink/internal/expr"
	"github.com/rowlink/rowlink/internal/filter"
	"github.com/rowlink/rowlink/internal/lookup"
	"github.com/rowlink/rowlink/internal/store"
)

// localMatchTable evaluates predicates client-side, the way the parquet
// backend does, so type mismatches between key values and column values are
// visible instead of being absorbed by server-side coercion.
type localMatchTable struct {
	columns []string
	rows    []store.Row
}

type localSplit struct {
	store.SplitBase

	predicates []filter.Predicate
}

func (t *localMatchTable) Name() string { return "dim" }

func (t *localMatchTable) BuildScan(ctx context.Context, spec store.ScanSpec) ([]store.Split, error) {
	return []store.Split{localSplit{predicates: spec.Predicates}}, nil
}

func (t *localMatchTable) Scan(ctx context.Context, split store.Split) (store.RowIterator, error) {
	predicates := split.(localSplit).predicates
	var matched []store.Row
	for _, row := range t.rows {
		if t.matches(row, predicates) {
			matched = append(matched, row)
		}
	}
	return &sliceIterator{rows: matched}, nil
}

func (t *localMatchTable) matches(row store.Row, predicates []filter.Predicate) bool {
	for _, predicate := range predicates {
		for i, column := range t.columns {
			if column == predicate.Column && !predicate.Matches(row[i]) {
				return false
			}
		}
	}
	return true
}

func (t *localMatchTable) NewSession(opts store.SessionOptions) (store.Session, error) {
	return nil, store.ErrReadOnly
}

type sliceIterator struct {
	rows []store.Row
	row  store.Row
}

func (it *sliceIterator) Next() bool {
	if len(it.rows) == 0 {
		return false
	}
	it.row = it.rows[0]
	it.rows = it.rows[1:]
	return true
}

func (it *sliceIterator) Row() store.Row { return it.row }
func (it *sliceIterator) Err() error     { return nil }
func (it *sliceIterator) Close() error   { return nil }

type localClient struct {
	table *localMatchTable
}

func (c localClient) TableExists(ctx context.Context, name string) (bool, error) { return true, nil }

func (c localClient) OpenTable(ctx context.Context, name string) (store.Table, error) {
	return c.table, nil
}

func (c localClient) CreateTable(ctx context.Context, name string, schema store.Schema, opts store.CreateOptions) (store.Table, error) {
	return nil, store.ErrReadOnly
}

func (c localClient) Close() error { return nil }

type localConnector struct {
	table *localMatchTable
}

func (f localConnector) Connect(ctx context.Context) (store.Client, error) {
	return localClient{table: f.table}, nil
}

func openTestExecutor(t *testing.T) *lookup.Executor {
	t.Helper()
	table := &localMatchTable{
		columns: []string{"id", "name"},
		rows:    []store.Row{{int64(7), "alpha"}, {int64(8), "beta"}},
	}
	executor := lookup.New(localConnector{table: table}, store.ForTable("dim"), lookup.Options{
		KeyColumns:      []string{"id"},
		CacheMaxEntries: lookup.CacheDisabled,
		CacheTTL:        lookup.CacheDisabled,
		MaxRetries:      1,
	}, nil)
	if err := executor.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = executor.Close() })
	return executor
}

// CSV fields must be coerced to the key columns' declared types before they
// reach a backend that compares values locally; raw strings never equal the
// stored int64 values.
func TestRunCoercesKeyFieldsForLocalMatching(t *testing.T) {
	executor := openTestExecutor(t)
	var out bytes.Buffer
	err := run(context.Background(), executor, []expr.Type{expr.TypeInt64}, strings.NewReader("7\n"), &out)
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if !strings.Contains(out.String(), "alpha") {
		t.Fatalf("output = %q, want the id=7 row", out.String())
	}
	if strings.Contains(out.String(), "beta") {
		t.Fatalf("output = %q, emitted an unmatched row", out.String())
	}
}

func TestRunWithoutKeyTypesPassesStringsThrough(t *testing.T) {
	executor := openTestExecutor(t)
	var out bytes.Buffer
	if err := run(context.Background(), executor, nil, strings.NewReader("7\n"), &out); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("output = %q, want nothing: a string key cannot match an int64 column locally", out.String())
	}
}

func TestRunRejectsUnparsableKeyField(t *testing.T) {
	executor := openTestExecutor(t)
	var out bytes.Buffer
	err := run(context.Background(), executor, []expr.Type{expr.TypeInt64}, strings.NewReader("seven\n"), &out)
	if err == nil {
		t.Fatal("run() expected error for a non-numeric key field")
	}
}

func TestParseKeyField(t *testing.T) {
	ts := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		field string
		typ   expr.Type
		want  any
	}{
		{"int32", "12", expr.TypeInt32, int32(12)},
		{"int64", "7", expr.TypeInt64, int64(7)},
		{"float32", "1.5", expr.TypeFloat32, float32(1.5)},
		{"float64", "2.5", expr.TypeFloat64, float64(2.5)},
		{"bool", "true", expr.TypeBool, true},
		{"string", "abc", expr.TypeString, "abc"},
		{"timestamp", "2026-08-28T12:00:00Z", expr.TypeTimestamp, ts},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseKeyField(tt.field, tt.typ)
			if err != nil {
				t.Fatalf("parseKeyField(%q, %v) error = %v", tt.field, tt.typ, err)
			}
			if got != tt.want {
				t.Fatalf("parseKeyField(%q, %v) = %v (%T), want %v (%T)", tt.field, tt.typ, got, got, tt.want, tt.want)
			}
		})
	}

	if _, err := parseKeyField("not-a-number", expr.TypeInt64); err == nil {
		t.Fatal("parseKeyField() expected error for a malformed int")
	}
	if _, err := parseKeyField("xyz", expr.TypeTimestamp); err == nil {
		t.Fatal("parseKeyField() expected error for a malformed timestamp")
	}
}

func TestBuildKeyTypes(t *testing.T) {
	cfg := config.Config{}
	cfg.Table.Columns = []string{"id:int64", "name:string"}
	cfg.Lookup.KeyColumns = []string{"id"}

	keyTypes, err := buildKeyTypes(cfg)
	if err != nil {
		t.Fatalf("buildKeyTypes() error = %v", err)
	}
	if len(keyTypes) != 1 || keyTypes[0] != expr.TypeInt64 {
		t.Fatalf("keyTypes = %v, want [int64]", keyTypes)
	}

	cfg.Lookup.KeyColumns = []string{"ghost"}
	if _, err := buildKeyTypes(cfg); err == nil {
		t.Fatal("buildKeyTypes() expected error for a key column missing from the table columns")
	}

	cfg = config.Config{}
	cfg.Lookup.KeyColumns = []string{"id"}
	if keyTypes, err := buildKeyTypes(cfg); err != nil || keyTypes != nil {
		t.Fatalf("buildKeyTypes() without columns = (%v, %v), want (nil, nil)", keyTypes, err)
	}

	cfg.Store.Backend = config.BackendParquet
	if _, err := buildKeyTypes(cfg); err == nil {
		t.Fatal("buildKeyTypes() expected error for parquet without table columns")
	}
}
