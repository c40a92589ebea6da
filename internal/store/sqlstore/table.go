package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rowlink/rowlink/internal/filter"
	"github.com/rowlink/rowlink/internal/store"
)

type Table struct {
	client *Client
	name   string
}

func (t *Table) Name() string {
	return t.name
}

// Split carries one rendered SELECT. A database/sql scan is never
// partitioned server-side, so BuildScan always yields a single split
// regardless of the requested count.
type Split struct {
	store.SplitBase

	Query string
	Args  []any
}

func (t *Table) BuildScan(ctx context.Context, spec store.ScanSpec) ([]store.Split, error) {
	if t.client.closed {
		return nil, store.ErrClosed
	}
	query, args, err := renderSelect(t.client.dialect, t.name, spec)
	if err != nil {
		return nil, err
	}
	return []store.Split{Split{Query: query, Args: args}}, nil
}

func (t *Table) Scan(ctx context.Context, split store.Split) (store.RowIterator, error) {
	if t.client.closed {
		return nil, store.ErrClosed
	}
	sqlSplit, ok := split.(Split)
	if !ok {
		return nil, fmt.Errorf("split %T is not a sqlstore split", split)
	}
	rows, err := t.client.db.QueryContext(ctx, sqlSplit.Query, sqlSplit.Args...)
	if err != nil {
		return nil, fmt.Errorf("execute scan: %w", err)
	}
	columns, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("scan columns: %w", err)
	}
	return &rowIterator{rows: rows, width: len(columns)}, nil
}

func renderSelect(dialect Dialect, table string, spec store.ScanSpec) (string, []any, error) {
	projection := "*"
	if len(spec.Projection) > 0 {
		quoted := make([]string, len(spec.Projection))
		for i, column := range spec.Projection {
			quoted[i] = quoteIdent(column)
		}
		projection = strings.Join(quoted, ", ")
	}

	query := "SELECT " + projection + " FROM " + quoteIdent(table)
	args := make([]any, 0, len(spec.Predicates))
	clauses := make([]string, 0, len(spec.Predicates))
	for _, predicate := range spec.Predicates {
		clause, clauseArgs, err := renderPredicate(dialect, predicate, len(args))
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, clause)
		args = append(args, clauseArgs...)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	return query, args, nil
}

func renderPredicate(dialect Dialect, p filter.Predicate, offset int) (string, []any, error) {
	column := quoteIdent(p.Column)
	switch p.Kind {
	case filter.KindIsNull:
		return column + " IS NULL", nil, nil
	case filter.KindIsNotNull:
		return column + " IS NOT NULL", nil, nil
	case filter.KindCompare:
		return fmt.Sprintf("%s %s %s", column, p.Op, dialect.placeholder(offset+1)), []any{p.Value}, nil
	case filter.KindIn:
		if len(p.Values) == 0 {
			return "1 = 0", nil, nil
		}
		placeholders := make([]string, len(p.Values))
		for i := range p.Values {
			placeholders[i] = dialect.placeholder(offset + 1 + i)
		}
		return column + " IN (" + strings.Join(placeholders, ", ") + ")", append([]any(nil), p.Values...), nil
	default:
		return "", nil, fmt.Errorf("unsupported predicate kind for column %q", p.Column)
	}
}

// rowIterator adapts *sql.Rows to store.RowIterator. Byte slices are copied
// to strings because database/sql reuses the backing buffer between Next
// calls.
type rowIterator struct {
	rows  *sql.Rows
	width int
	row   store.Row
	err   error
}

func (it *rowIterator) Next() bool {
	if it.err != nil {
		return false
	}
	if !it.rows.Next() {
		it.err = it.rows.Err()
		return false
	}
	values := make([]any, it.width)
	targets := make([]any, it.width)
	for i := range values {
		targets[i] = &values[i]
	}
	if err := it.rows.Scan(targets...); err != nil {
		it.err = fmt.Errorf("scan row: %w", err)
		return false
	}
	for i, value := range values {
		if b, ok := value.([]byte); ok {
			values[i] = string(b)
		}
	}
	it.row = values
	return true
}

func (it *rowIterator) Row() store.Row {
	return it.row
}

func (it *rowIterator) Err() error {
	return it.err
}

func (it *rowIterator) Close() error {
	return it.rows.Close()
}
