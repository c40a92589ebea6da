// rowlink-lookup reads key tuples from stdin (one CSV record per line) and
// writes the matching store rows to stdout as JSON lines.
package main

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rowlink/rowlink/internal/config"
	"github.com/rowlink/rowlink/internal/expr"
	"github.com/rowlink/rowlink/internal/lookup"
	"github.com/rowlink/rowlink/internal/objstore/s3"
	"github.com/rowlink/rowlink/internal/observability"
	"github.com/rowlink/rowlink/internal/store"
	"github.com/rowlink/rowlink/internal/store/parquetstore"
	"github.com/rowlink/rowlink/internal/store/sqlstore"
)

func main() {
	cfg, err := config.LoadFromEnv("rowlink-lookup")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stderr)

	connector, err := buildConnector(cfg)
	if err != nil {
		logger.Error("failed to build store connector", slog.Any("error", err))
		os.Exit(1)
	}

	keyTypes, err := buildKeyTypes(cfg)
	if err != nil {
		logger.Error("invalid key column configuration", slog.Any("error", err))
		os.Exit(1)
	}

	executor := lookup.New(connector, store.ForTable(cfg.Table.Name), lookup.Options{
		KeyColumns:       cfg.Lookup.KeyColumns,
		ProjectedColumns: cfg.Lookup.ProjectedColumns,
		CacheMaxEntries:  cfg.Lookup.CacheMaxEntries,
		CacheTTL:         time.Duration(cfg.Lookup.CacheTTLMillis) * time.Millisecond,
		MaxRetries:       cfg.Lookup.MaxRetries,
		BackoffBase:      cfg.Lookup.BackoffBase,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := executor.Open(ctx); err != nil {
		logger.Error("failed to open lookup executor", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = executor.Close() }()

	if err := run(ctx, executor, keyTypes, os.Stdin, os.Stdout); err != nil {
		logger.Error("lookup run failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, executor *lookup.Executor, keyTypes []expr.Type, in io.Reader, out io.Writer) error {
	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1
	writer := bufio.NewWriter(out)
	defer func() { _ = writer.Flush() }()
	encoder := json.NewEncoder(writer)

	for {
		record, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read key record: %w", err)
		}
		keyValues, err := parseKeyRecord(record, keyTypes)
		if err != nil {
			return fmt.Errorf("key %v: %w", record, err)
		}
		if err := executor.Lookup(ctx, keyValues, func(row store.Row) error {
			return encoder.Encode(row)
		}); err != nil {
			return fmt.Errorf("lookup %v: %w", record, err)
		}
	}
}

// buildKeyTypes resolves each key column's declared type from the configured
// table columns. Without ROWLINK_TABLE_COLUMNS the key fields stay strings,
// which only suits backends that coerce server-side; the parquet backend
// compares key values locally and needs the declared types.
func buildKeyTypes(cfg config.Config) ([]expr.Type, error) {
	if len(cfg.Table.Columns) == 0 {
		if cfg.Store.Backend == config.BackendParquet {
			return nil, fmt.Errorf("the parquet backend requires ROWLINK_TABLE_COLUMNS to type the key fields")
		}
		return nil, nil
	}
	schema, err := store.ParseSchema(cfg.Table.Columns, cfg.Lookup.KeyColumns)
	if err != nil {
		return nil, fmt.Errorf("parse table columns: %w", err)
	}
	typeByName := make(map[string]expr.Type, len(schema.Columns))
	for _, column := range schema.Columns {
		typeByName[column.Name] = column.Type
	}
	keyTypes := make([]expr.Type, len(cfg.Lookup.KeyColumns))
	for i, name := range cfg.Lookup.KeyColumns {
		columnType, ok := typeByName[name]
		if !ok {
			return nil, fmt.Errorf("key column %q is not in the table columns", name)
		}
		keyTypes[i] = columnType
	}
	return keyTypes, nil
}

// parseKeyRecord coerces CSV fields to the key columns' types. With no
// declared types the fields pass through as strings. An arity mismatch is
// left for the executor to report.
func parseKeyRecord(record []string, keyTypes []expr.Type) ([]any, error) {
	keyValues := make([]any, len(record))
	for i, field := range record {
		if keyTypes == nil || i >= len(keyTypes) {
			keyValues[i] = field
			continue
		}
		value, err := parseKeyField(field, keyTypes[i])
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i+1, err)
		}
		keyValues[i] = value
	}
	return keyValues, nil
}

func parseKeyField(field string, t expr.Type) (any, error) {
	switch t {
	case expr.TypeString:
		return field, nil
	case expr.TypeBytes:
		return []byte(field), nil
	case expr.TypeBool:
		value, err := strconv.ParseBool(field)
		if err != nil {
			return nil, fmt.Errorf("parse bool %q: %w", field, err)
		}
		return value, nil
	case expr.TypeInt32:
		value, err := strconv.ParseInt(field, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("parse int32 %q: %w", field, err)
		}
		return int32(value), nil
	case expr.TypeInt64:
		value, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse int64 %q: %w", field, err)
		}
		return value, nil
	case expr.TypeFloat32:
		value, err := strconv.ParseFloat(field, 32)
		if err != nil {
			return nil, fmt.Errorf("parse float32 %q: %w", field, err)
		}
		return float32(value), nil
	case expr.TypeFloat64:
		value, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, fmt.Errorf("parse float64 %q: %w", field, err)
		}
		return value, nil
	case expr.TypeTimestamp:
		value, err := time.Parse(time.RFC3339, field)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp %q: %w", field, err)
		}
		return value, nil
	default:
		return nil, fmt.Errorf("unsupported key column type %q", t)
	}
}

func buildConnector(cfg config.Config) (store.Connector, error) {
	switch cfg.Store.Backend {
	case config.BackendPostgres, config.BackendDuckDB:
		dialect := sqlstore.DialectPostgres
		dsn := cfg.Store.DSN
		if cfg.Store.Backend == config.BackendDuckDB {
			dialect = sqlstore.DialectDuckDB
			dsn = cfg.Store.DuckDBPath
		}
		return sqlstore.Config{
			Dialect:         dialect,
			DSN:             dsn,
			MaxOpenConns:    cfg.Store.MaxOpenConns,
			MaxIdleConns:    cfg.Store.MaxIdleConns,
			ConnMaxIdleTime: cfg.Store.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
		}, nil
	case config.BackendParquet:
		objects, err := s3.New(s3.Config{
			Endpoint:        cfg.ObjectStore.Endpoint,
			Region:          cfg.ObjectStore.Region,
			Bucket:          cfg.ObjectStore.Bucket,
			AccessKeyID:     cfg.ObjectStore.AccessKeyID,
			SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
			UseSSL:          cfg.ObjectStore.UseSSL,
			Prefix:          cfg.ObjectStore.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("build object store: %w", err)
		}
		return parquetstore.Config{
			Objects: objects,
			Tables:  map[string]string{cfg.Table.Name: cfg.Table.ObjectKey},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
	}
}
