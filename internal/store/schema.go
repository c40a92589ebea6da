package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/rowlink/rowlink/internal/expr"
)

// Column describes one physical column for table creation.
type Column struct {
	Name     string
	Type     expr.Type
	Key      bool
	Nullable bool
}

type Schema struct {
	Columns []Column
}

func (s Schema) KeyColumns() []string {
	keys := make([]string, 0, len(s.Columns))
	for _, column := range s.Columns {
		if column.Key {
			keys = append(keys, column.Name)
		}
	}
	return keys
}

// ParseSchema builds a schema from "name:type" column specs; columns listed
// in keyColumns become non-nullable key columns.
func ParseSchema(columns []string, keyColumns []string) (Schema, error) {
	if len(columns) == 0 {
		return Schema{}, fmt.Errorf("at least one column is required")
	}
	keys := make(map[string]bool, len(keyColumns))
	for _, key := range keyColumns {
		keys[key] = true
	}
	schema := Schema{Columns: make([]Column, 0, len(columns))}
	for _, spec := range columns {
		name, typeName, ok := strings.Cut(spec, ":")
		if !ok {
			return Schema{}, fmt.Errorf("invalid column spec %q, want name:type", spec)
		}
		columnType, err := parseColumnType(typeName)
		if err != nil {
			return Schema{}, fmt.Errorf("column %q: %w", name, err)
		}
		schema.Columns = append(schema.Columns, Column{
			Name:     name,
			Type:     columnType,
			Key:      keys[name],
			Nullable: !keys[name],
		})
	}
	return schema, nil
}

func parseColumnType(name string) (expr.Type, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "bool", "boolean":
		return expr.TypeBool, nil
	case "int32", "int":
		return expr.TypeInt32, nil
	case "int64", "bigint":
		return expr.TypeInt64, nil
	case "float32", "real":
		return expr.TypeFloat32, nil
	case "float64", "double":
		return expr.TypeFloat64, nil
	case "string", "text":
		return expr.TypeString, nil
	case "bytes", "blob":
		return expr.TypeBytes, nil
	case "timestamp":
		return expr.TypeTimestamp, nil
	default:
		return expr.TypeUnknown, fmt.Errorf("unknown column type %q", name)
	}
}

// CreateOptions carries backend-specific table creation knobs.
type CreateOptions struct {
	Replicas int
}

// SchemaFactory defers schema construction until table creation is actually
// needed.
type SchemaFactory func() (Schema, error)

// OptionsFactory defers creation-option construction the same way.
type OptionsFactory func() CreateOptions

// TableInfo identifies the target table and, optionally, how to create it
// when missing.
type TableInfo struct {
	Name            string
	CreateIfMissing bool
	SchemaFactory   SchemaFactory
	OptionsFactory  OptionsFactory
}

func ForTable(name string) TableInfo {
	return TableInfo{Name: name}
}

// WithCreateIfMissing arms lazy creation with the given factories.
func (t TableInfo) WithCreateIfMissing(schema SchemaFactory, opts OptionsFactory) TableInfo {
	t.CreateIfMissing = true
	t.SchemaFactory = schema
	t.OptionsFactory = opts
	return t
}

// EnsureTable opens the table, creating it first when TableInfo allows.
func EnsureTable(ctx context.Context, client Client, info TableInfo) (Table, error) {
	exists, err := client.TableExists(ctx, info.Name)
	if err != nil {
		return nil, fmt.Errorf("check table %q: %w", info.Name, err)
	}
	if exists {
		return client.OpenTable(ctx, info.Name)
	}
	if !info.CreateIfMissing {
		return nil, fmt.Errorf("table %q: %w", info.Name, ErrTableNotFound)
	}
	if info.SchemaFactory == nil {
		return nil, fmt.Errorf("table %q: create-if-missing without schema factory", info.Name)
	}
	schema, err := info.SchemaFactory()
	if err != nil {
		return nil, fmt.Errorf("build schema for table %q: %w", info.Name, err)
	}
	opts := CreateOptions{}
	if info.OptionsFactory != nil {
		opts = info.OptionsFactory()
	}
	table, err := client.CreateTable(ctx, info.Name, schema, opts)
	if err != nil {
		return nil, fmt.Errorf("create table %q: %w", info.Name, err)
	}
	return table, nil
}
