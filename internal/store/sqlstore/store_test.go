package sqlstore

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/rowlink/rowlink/internal/filter"
	"github.com/rowlink/rowlink/internal/store"
)

func newMockClient(t *testing.T, dialect Dialect) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewClient(db, dialect), mock
}

func TestRenderSelect(t *testing.T) {
	tests := []struct {
		name      string
		dialect   Dialect
		spec      store.ScanSpec
		wantQuery string
		wantArgs  []any
	}{
		{
			name:      "no predicates no projection",
			dialect:   DialectPostgres,
			spec:      store.ScanSpec{},
			wantQuery: `SELECT * FROM "dim"`,
		},
		{
			name:    "projection and compare",
			dialect: DialectPostgres,
			spec: store.ScanSpec{
				Projection: []string{"id", "name"},
				Predicates: []filter.Predicate{filter.Equal("id", int64(7))},
			},
			wantQuery: `SELECT "id", "name" FROM "dim" WHERE "id" = $1`,
			wantArgs:  []any{int64(7)},
		},
		{
			name:    "multiple predicates are conjoined",
			dialect: DialectPostgres,
			spec: store.ScanSpec{
				Predicates: []filter.Predicate{
					filter.Compare("score", filter.OpGreater, 1.5),
					filter.IsNotNull("name"),
					filter.In("region", []any{"eu", "us"}),
				},
			},
			wantQuery: `SELECT * FROM "dim" WHERE "score" > $1 AND "name" IS NOT NULL AND "region" IN ($2, $3)`,
			wantArgs:  []any{1.5, "eu", "us"},
		},
		{
			name:    "duckdb placeholders",
			dialect: DialectDuckDB,
			spec: store.ScanSpec{
				Predicates: []filter.Predicate{
					filter.Equal("a", int32(1)),
					filter.Equal("b", int32(2)),
				},
			},
			wantQuery: `SELECT * FROM "dim" WHERE "a" = ? AND "b" = ?`,
			wantArgs:  []any{int32(1), int32(2)},
		},
		{
			name:    "empty IN list matches nothing",
			dialect: DialectPostgres,
			spec: store.ScanSpec{
				Predicates: []filter.Predicate{filter.In("id", nil)},
			},
			wantQuery: `SELECT * FROM "dim" WHERE 1 = 0`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args, err := renderSelect(tt.dialect, "dim", tt.spec)
			if err != nil {
				t.Fatalf("renderSelect() error = %v", err)
			}
			if query != tt.wantQuery {
				t.Fatalf("renderSelect() = %q, want %q", query, tt.wantQuery)
			}
			if len(args) != len(tt.wantArgs) {
				t.Fatalf("args = %v, want %v", args, tt.wantArgs)
			}
			for i := range args {
				if args[i] != tt.wantArgs[i] {
					t.Fatalf("args[%d] = %v, want %v", i, args[i], tt.wantArgs[i])
				}
			}
		})
	}
}

func TestRenderCreateTable(t *testing.T) {
	schema, err := store.ParseSchema(
		[]string{"id:int64", "name:string", "score:double"},
		[]string{"id"},
	)
	if err != nil {
		t.Fatalf("ParseSchema() error = %v", err)
	}
	ddl, err := renderCreateTable(DialectPostgres, "dim", schema)
	if err != nil {
		t.Fatalf("renderCreateTable() error = %v", err)
	}
	want := `CREATE TABLE "dim" ("id" BIGINT NOT NULL, "name" TEXT, "score" DOUBLE PRECISION, PRIMARY KEY ("id"))`
	if ddl != want {
		t.Fatalf("renderCreateTable() = %q, want %q", ddl, want)
	}
}

func TestTableExists(t *testing.T) {
	client, mock := newMockClient(t, DialectPostgres)
	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT COUNT(*) FROM information_schema.tables WHERE table_name = $1",
	)).WithArgs("dim").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	exists, err := client.TableExists(context.Background(), "dim")
	if err != nil {
		t.Fatalf("TableExists() error = %v", err)
	}
	if !exists {
		t.Fatal("TableExists() = false, want true")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestOpenTableMissing(t *testing.T) {
	client, mock := newMockClient(t, DialectPostgres)
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	_, err := client.OpenTable(context.Background(), "ghost")
	if !errors.Is(err, store.ErrTableNotFound) {
		t.Fatalf("OpenTable() error = %v, want ErrTableNotFound", err)
	}
}

func TestScanDrainsRows(t *testing.T) {
	client, mock := newMockClient(t, DialectPostgres)
	table := &Table{client: client, name: "dim"}

	splits, err := table.BuildScan(context.Background(), store.ScanSpec{
		Projection: []string{"id", "name"},
		Predicates: []filter.Predicate{filter.Equal("id", int64(1))},
		Splits:     4,
	})
	if err != nil {
		t.Fatalf("BuildScan() error = %v", err)
	}
	if len(splits) != 1 {
		t.Fatalf("splits = %d, want 1 regardless of the requested count", len(splits))
	}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "id", "name" FROM "dim" WHERE "id" = $1`)).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(1), []byte("alpha")).
			AddRow(int64(1), []byte("beta")))

	iter, err := table.Scan(context.Background(), splits[0])
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	defer func() { _ = iter.Close() }()

	var rows []store.Row
	for iter.Next() {
		rows = append(rows, iter.Row())
	}
	if err := iter.Err(); err != nil {
		t.Fatalf("iterator error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	// database/sql hands back []byte for text columns; the iterator copies
	// them out as strings.
	if rows[0][1] != "alpha" || rows[1][1] != "beta" {
		t.Fatalf("rows = %v, want string-normalized values", rows)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestScanRejectsForeignSplit(t *testing.T) {
	client, _ := newMockClient(t, DialectPostgres)
	table := &Table{client: client, name: "dim"}

	type otherSplit struct{ store.SplitBase }
	if _, err := table.Scan(context.Background(), otherSplit{}); err == nil {
		t.Fatal("Scan() expected error for a split from another backend")
	}
}

func TestClosedClientRejectsOperations(t *testing.T) {
	client, mock := newMockClient(t, DialectPostgres)
	mock.ExpectClose()
	table := &Table{client: client, name: "dim"}
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	if _, err := client.TableExists(context.Background(), "dim"); !errors.Is(err, store.ErrClosed) {
		t.Fatalf("TableExists() error = %v, want ErrClosed", err)
	}
	if _, err := table.BuildScan(context.Background(), store.ScanSpec{}); !errors.Is(err, store.ErrClosed) {
		t.Fatalf("BuildScan() error = %v, want ErrClosed", err)
	}
	if _, err := table.NewSession(store.SessionOptions{}); !errors.Is(err, store.ErrClosed) {
		t.Fatalf("NewSession() error = %v, want ErrClosed", err)
	}
}
