// rowlink-load reads JSON value arrays from stdin (one per line, in table
// column order) and loads them into the store table through the buffered
// write path.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rowlink/rowlink/internal/config"
	"github.com/rowlink/rowlink/internal/expr"
	"github.com/rowlink/rowlink/internal/observability"
	"github.com/rowlink/rowlink/internal/store"
	"github.com/rowlink/rowlink/internal/store/sqlstore"
	"github.com/rowlink/rowlink/internal/writer"
)

func main() {
	cfg, err := config.LoadFromEnv("rowlink-load")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stderr)

	if cfg.Store.Backend == config.BackendParquet {
		logger.Error("the parquet backend is read-only")
		os.Exit(1)
	}
	schema, err := store.ParseSchema(cfg.Table.Columns, cfg.Lookup.KeyColumns)
	if err != nil {
		logger.Error("invalid table columns", slog.Any("error", err))
		os.Exit(1)
	}

	dialect := sqlstore.DialectPostgres
	dsn := cfg.Store.DSN
	if cfg.Store.Backend == config.BackendDuckDB {
		dialect = sqlstore.DialectDuckDB
		dsn = cfg.Store.DuckDBPath
	}
	connector := sqlstore.Config{
		Dialect:         dialect,
		DSN:             dsn,
		MaxOpenConns:    cfg.Store.MaxOpenConns,
		MaxIdleConns:    cfg.Store.MaxIdleConns,
		ConnMaxIdleTime: cfg.Store.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
	}

	tableInfo := store.ForTable(cfg.Table.Name).WithCreateIfMissing(
		func() (store.Schema, error) { return schema, nil },
		nil,
	)

	w := writer.New(connector, tableInfo, writer.Options{
		Schema:          schema,
		MaxBufferedOps:  cfg.Writer.MaxBufferedOps,
		IgnoreDuplicate: cfg.Writer.IgnoreDuplicate,
		IgnoreNotFound:  cfg.Writer.IgnoreNotFound,
	}, writer.DefaultFailureHandler{}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := w.Open(ctx); err != nil {
		logger.Error("failed to open writer", slog.Any("error", err))
		os.Exit(1)
	}

	loaded, err := run(ctx, w, schema, os.Stdin)
	closeErr := w.Close(ctx)
	if err != nil {
		logger.Error("load failed", slog.Any("error", err))
		os.Exit(1)
	}
	if closeErr != nil {
		logger.Error("final flush failed", slog.Any("error", closeErr))
		os.Exit(1)
	}
	logger.Info("load complete", slog.Int("rows", loaded))
}

func run(ctx context.Context, w *writer.Writer, schema store.Schema, in io.Reader) (int, error) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	loaded := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var raw []any
		if err := json.Unmarshal(line, &raw); err != nil {
			return loaded, fmt.Errorf("parse row %d: %w", loaded+1, err)
		}
		values, err := coerceRow(raw, schema)
		if err != nil {
			return loaded, fmt.Errorf("row %d: %w", loaded+1, err)
		}
		if err := w.Write(ctx, store.Operation{Kind: store.OpUpsert, Values: values}); err != nil {
			return loaded, fmt.Errorf("write row %d: %w", loaded+1, err)
		}
		loaded++
	}
	if err := scanner.Err(); err != nil {
		return loaded, fmt.Errorf("read input: %w", err)
	}
	return loaded, nil
}

// coerceRow maps JSON-decoded values onto the schema's column types. JSON
// numbers arrive as float64 and need narrowing for integer columns.
func coerceRow(raw []any, schema store.Schema) (store.Row, error) {
	if len(raw) != len(schema.Columns) {
		return nil, fmt.Errorf("got %d values for %d columns", len(raw), len(schema.Columns))
	}
	values := make(store.Row, len(raw))
	for i, value := range raw {
		if value == nil {
			if !schema.Columns[i].Nullable {
				return nil, fmt.Errorf("column %q is not nullable", schema.Columns[i].Name)
			}
			continue
		}
		coerced, err := coerceValue(value, schema.Columns[i].Type)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", schema.Columns[i].Name, err)
		}
		values[i] = coerced
	}
	return values, nil
}

func coerceValue(value any, t expr.Type) (any, error) {
	if number, ok := value.(float64); ok {
		switch t {
		case expr.TypeInt32:
			return int32(number), nil
		case expr.TypeInt64:
			return int64(number), nil
		}
	}
	if text, ok := value.(string); ok && t == expr.TypeTimestamp {
		parsed, err := time.Parse(time.RFC3339, text)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp: %w", err)
		}
		return parsed, nil
	}
	converted, ok := t.Convert(value)
	if !ok {
		return nil, fmt.Errorf("cannot convert %T to %s", value, t)
	}
	return converted, nil
}
