// Package parquetstore serves lookup tables stored as parquet objects in an
// S3-compatible object store. Predicates cannot be pushed into a parquet
// object, so the scan fetches the object and applies them as residual
// filters locally. The backend is read-only.
package parquetstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"

	"github.com/rowlink/rowlink/internal/filter"
	"github.com/rowlink/rowlink/internal/objstore"
	"github.com/rowlink/rowlink/internal/store"
)

// Config maps table names to parquet object keys and implements
// store.Connector over the given object store.
type Config struct {
	Objects objstore.ObjectStore
	Tables  map[string]string
}

func (c Config) Connect(ctx context.Context) (store.Client, error) {
	if c.Objects == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if len(c.Tables) == 0 {
		return nil, fmt.Errorf("at least one table mapping is required")
	}
	return &Client{objects: c.Objects, tables: c.Tables}, nil
}

type Client struct {
	objects objstore.ObjectStore
	tables  map[string]string
	closed  bool
}

func (c *Client) TableExists(ctx context.Context, name string) (bool, error) {
	if c.closed {
		return false, store.ErrClosed
	}
	key, ok := c.tables[name]
	if !ok {
		return false, nil
	}
	if _, err := c.objects.Stat(ctx, key); err != nil {
		if errors.Is(err, objstore.ErrObjectNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("stat table object %q: %w", key, err)
	}
	return true, nil
}

func (c *Client) OpenTable(ctx context.Context, name string) (store.Table, error) {
	if c.closed {
		return nil, store.ErrClosed
	}
	key, ok := c.tables[name]
	if !ok {
		return nil, fmt.Errorf("table %q: %w", name, store.ErrTableNotFound)
	}
	return &Table{client: c, name: name, objectKey: key}, nil
}

func (c *Client) CreateTable(ctx context.Context, name string, schema store.Schema, opts store.CreateOptions) (store.Table, error) {
	return nil, fmt.Errorf("create table %q: %w", name, store.ErrReadOnly)
}

func (c *Client) Close() error {
	c.closed = true
	return nil
}

type Table struct {
	client    *Client
	name      string
	objectKey string
}

func (t *Table) Name() string {
	return t.name
}

// Split captures the scan constraints; the object fetch happens in Scan. A
// parquet object is always scanned as a single split.
type Split struct {
	store.SplitBase

	Spec store.ScanSpec
}

func (t *Table) BuildScan(ctx context.Context, spec store.ScanSpec) ([]store.Split, error) {
	if t.client.closed {
		return nil, store.ErrClosed
	}
	return []store.Split{Split{Spec: spec}}, nil
}

func (t *Table) NewSession(opts store.SessionOptions) (store.Session, error) {
	return nil, store.ErrReadOnly
}

func (t *Table) Scan(ctx context.Context, split store.Split) (store.RowIterator, error) {
	if t.client.closed {
		return nil, store.ErrClosed
	}
	parquetSplit, ok := split.(Split)
	if !ok {
		return nil, fmt.Errorf("split %T is not a parquetstore split", split)
	}

	reader, err := t.client.objects.Get(ctx, t.objectKey)
	if err != nil {
		return nil, fmt.Errorf("get table object %q: %w", t.objectKey, err)
	}
	data, err := io.ReadAll(reader)
	closeErr := reader.Close()
	if err != nil {
		return nil, fmt.Errorf("read table object %q: %w", t.objectKey, err)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("close table object %q: %w", t.objectKey, closeErr)
	}

	rows, err := decodeMatchingRows(data, parquetSplit.Spec)
	if err != nil {
		return nil, fmt.Errorf("decode table object %q: %w", t.objectKey, err)
	}
	return &sliceIterator{rows: rows}, nil
}

func decodeMatchingRows(data []byte, spec store.ScanSpec) ([]store.Row, error) {
	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open parquet file: %w", err)
	}

	fields := file.Schema().Fields()
	columns := make([]string, len(fields))
	indexByName := make(map[string]int, len(fields))
	for i, field := range fields {
		columns[i] = field.Name()
		indexByName[field.Name()] = i
	}

	projection, err := resolveProjection(spec.Projection, indexByName)
	if err != nil {
		return nil, err
	}
	for _, predicate := range spec.Predicates {
		if _, ok := indexByName[predicate.Column]; !ok {
			return nil, fmt.Errorf("predicate column %q not in parquet schema", predicate.Column)
		}
	}

	var matched []store.Row
	buffer := make([]parquet.Row, 64)
	for _, rowGroup := range file.RowGroups() {
		reader := rowGroup.Rows()
		for {
			n, err := reader.ReadRows(buffer)
			for _, raw := range buffer[:n] {
				values := decodeRow(raw, len(fields))
				if !rowMatches(values, spec.Predicates, indexByName) {
					continue
				}
				matched = append(matched, projectRow(values, projection))
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				_ = reader.Close()
				return nil, fmt.Errorf("read parquet rows: %w", err)
			}
			if n == 0 {
				break
			}
		}
		if err := reader.Close(); err != nil {
			return nil, fmt.Errorf("close parquet row reader: %w", err)
		}
	}
	return matched, nil
}

func resolveProjection(projection []string, indexByName map[string]int) ([]int, error) {
	if len(projection) == 0 {
		return nil, nil
	}
	indexes := make([]int, len(projection))
	for i, column := range projection {
		index, ok := indexByName[column]
		if !ok {
			return nil, fmt.Errorf("projected column %q not in parquet schema", column)
		}
		indexes[i] = index
	}
	return indexes, nil
}

func decodeRow(raw parquet.Row, width int) store.Row {
	values := make(store.Row, width)
	for _, value := range raw {
		index := value.Column()
		if index < 0 || index >= width {
			continue
		}
		values[index] = decodeValue(value)
	}
	return values
}

func decodeValue(value parquet.Value) any {
	if value.IsNull() {
		return nil
	}
	switch value.Kind() {
	case parquet.Boolean:
		return value.Boolean()
	case parquet.Int32:
		return value.Int32()
	case parquet.Int64:
		return value.Int64()
	case parquet.Float:
		return value.Float()
	case parquet.Double:
		return value.Double()
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(value.ByteArray())
	default:
		return value.String()
	}
}

func rowMatches(values store.Row, predicates []filter.Predicate, indexByName map[string]int) bool {
	for _, predicate := range predicates {
		if !predicate.Matches(values[indexByName[predicate.Column]]) {
			return false
		}
	}
	return true
}

func projectRow(values store.Row, projection []int) store.Row {
	if projection == nil {
		return values
	}
	projected := make(store.Row, len(projection))
	for i, index := range projection {
		projected[i] = values[index]
	}
	return projected
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

func (it *sliceIterator) Row() store.Row {
	return it.row
}

func (it *sliceIterator) Err() error {
	return nil
}

func (it *sliceIterator) Close() error {
	return nil
}
