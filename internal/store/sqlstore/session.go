package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/rowlink/rowlink/internal/store"
)

// NewSession starts a buffered mutation session over this table. Mutations
// accumulate until Flush (or the buffer limit) and per-row failures are
// collected as pending errors rather than failing the flush, mirroring the
// store contract the writer expects.
func (t *Table) NewSession(opts store.SessionOptions) (store.Session, error) {
	if t.client.closed {
		return nil, store.ErrClosed
	}
	if len(opts.Schema.Columns) == 0 {
		return nil, fmt.Errorf("session schema is required")
	}
	if len(opts.Schema.KeyColumns()) == 0 {
		return nil, fmt.Errorf("session schema has no key columns")
	}
	return &session{table: t, opts: opts}, nil
}

type session struct {
	table   *Table
	opts    store.SessionOptions
	buffer  []store.Operation
	pending []store.RowError
	closed  bool
}

func (s *session) Apply(ctx context.Context, op store.Operation) error {
	if s.closed {
		return store.ErrClosed
	}
	if len(op.Values) != len(s.opts.Schema.Columns) {
		return fmt.Errorf("operation has %d values for %d columns", len(op.Values), len(s.opts.Schema.Columns))
	}
	s.buffer = append(s.buffer, op)
	if s.opts.MaxBufferedOps > 0 && len(s.buffer) >= s.opts.MaxBufferedOps {
		return s.Flush(ctx)
	}
	return nil
}

func (s *session) Flush(ctx context.Context) error {
	if s.closed {
		return store.ErrClosed
	}
	for _, op := range s.buffer {
		s.applyOne(ctx, op)
	}
	s.buffer = s.buffer[:0]
	return nil
}

// PendingErrors drains the row errors accumulated by flushes since the last
// call.
func (s *session) PendingErrors() []store.RowError {
	errors := s.pending
	s.pending = nil
	return errors
}

func (s *session) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	err := s.Flush(ctx)
	s.closed = true
	return err
}

func (s *session) applyOne(ctx context.Context, op store.Operation) {
	query, args, err := s.renderOperation(op)
	if err != nil {
		s.pending = append(s.pending, store.RowError{Op: op, Message: err.Error()})
		return
	}
	result, err := s.table.client.db.ExecContext(ctx, query, args...)
	if err != nil {
		s.pending = append(s.pending, store.RowError{Op: op, Message: err.Error()})
		return
	}
	if op.Kind == store.OpUpdate || op.Kind == store.OpDelete {
		affected, err := result.RowsAffected()
		if err == nil && affected == 0 && !s.opts.IgnoreNotFound {
			s.pending = append(s.pending, store.RowError{Op: op, Message: "row not found"})
		}
	}
}

func (s *session) renderOperation(op store.Operation) (string, []any, error) {
	dialect := s.table.client.dialect
	schema := s.opts.Schema
	table := quoteIdent(s.table.name)
	keys := schema.KeyColumns()

	columnNames := make([]string, len(schema.Columns))
	for i, column := range schema.Columns {
		columnNames[i] = column.Name
	}

	switch op.Kind {
	case store.OpInsert, store.OpUpsert:
		quoted := make([]string, len(columnNames))
		placeholders := make([]string, len(columnNames))
		for i, name := range columnNames {
			quoted[i] = quoteIdent(name)
			placeholders[i] = dialect.placeholder(i + 1)
		}
		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			table, strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
		switch {
		case op.Kind == store.OpUpsert:
			query += " ON CONFLICT (" + joinQuoted(keys) + ") DO UPDATE SET " + excludedAssignments(schema, keys)
		case s.opts.IgnoreDuplicate:
			query += " ON CONFLICT (" + joinQuoted(keys) + ") DO NOTHING"
		}
		return query, append([]any(nil), op.Values...), nil

	case store.OpUpdate:
		assignments := make([]string, 0, len(schema.Columns))
		args := make([]any, 0, len(schema.Columns))
		n := 0
		for i, column := range schema.Columns {
			if column.Key {
				continue
			}
			n++
			assignments = append(assignments, quoteIdent(column.Name)+" = "+dialect.placeholder(n))
			args = append(args, op.Values[i])
		}
		if len(assignments) == 0 {
			return "", nil, fmt.Errorf("update has no non-key columns")
		}
		clause, keyArgs, err := s.keyClause(op, n)
		if err != nil {
			return "", nil, err
		}
		query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", table, strings.Join(assignments, ", "), clause)
		return query, append(args, keyArgs...), nil

	case store.OpDelete:
		clause, keyArgs, err := s.keyClause(op, 0)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("DELETE FROM %s WHERE %s", table, clause), keyArgs, nil

	default:
		return "", nil, fmt.Errorf("unsupported operation kind %q", op.Kind)
	}
}

func (s *session) keyClause(op store.Operation, offset int) (string, []any, error) {
	dialect := s.table.client.dialect
	clauses := make([]string, 0)
	args := make([]any, 0)
	for i, column := range s.opts.Schema.Columns {
		if !column.Key {
			continue
		}
		offset++
		clauses = append(clauses, quoteIdent(column.Name)+" = "+dialect.placeholder(offset))
		args = append(args, op.Values[i])
	}
	if len(clauses) == 0 {
		return "", nil, fmt.Errorf("schema has no key columns")
	}
	return strings.Join(clauses, " AND "), args, nil
}

func joinQuoted(names []string) string {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = quoteIdent(name)
	}
	return strings.Join(quoted, ", ")
}

func excludedAssignments(schema store.Schema, keys []string) string {
	assignments := make([]string, 0, len(schema.Columns))
	for _, column := range schema.Columns {
		if column.Key {
			continue
		}
		assignments = append(assignments, quoteIdent(column.Name)+" = EXCLUDED."+quoteIdent(column.Name))
	}
	if len(assignments) == 0 {
		// All-key tables degrade to insert-or-ignore.
		return quoteIdent(keys[0]) + " = EXCLUDED." + quoteIdent(keys[0])
	}
	return strings.Join(assignments, ", ")
}
