// Package writer is the buffered write path to the store: mutations are
// applied through a store session, flushed in batches, and per-row failures
// are routed through a pluggable failure handler. Its correctness model is
// deliberately different from the lookup path (buffered, asynchronous
// surfacing of row errors).
package writer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rowlink/rowlink/internal/observability"
	"github.com/rowlink/rowlink/internal/store"
)

// FailureHandler decides what to do with per-row mutation errors surfaced
// by a flush. Returning an error aborts the write path.
type FailureHandler interface {
	OnFailure(rowErrors []store.RowError) error
}

// DefaultFailureHandler fails on any row error.
type DefaultFailureHandler struct{}

func (DefaultFailureHandler) OnFailure(rowErrors []store.RowError) error {
	messages := make([]string, len(rowErrors))
	for i, rowError := range rowErrors {
		messages[i] = rowError.Error()
	}
	return fmt.Errorf("%d row errors: %s", len(rowErrors), strings.Join(messages, "; "))
}

// LoggingFailureHandler logs row errors and continues.
type LoggingFailureHandler struct {
	Logger *slog.Logger
}

func (h LoggingFailureHandler) OnFailure(rowErrors []store.RowError) error {
	if h.Logger != nil {
		for _, rowError := range rowErrors {
			h.Logger.Warn("dropping failed row mutation",
				slog.String("op", rowError.Op.Kind.String()),
				slog.String("error", rowError.Message),
			)
		}
	}
	return nil
}

type Options struct {
	Schema          store.Schema
	MaxBufferedOps  int
	IgnoreDuplicate bool
	IgnoreNotFound  bool
}

// Writer owns one client connection and one mutation session for its
// lifetime, acquired in Open and released in Close.
type Writer struct {
	connector      store.Connector
	tableInfo      store.TableInfo
	opts           Options
	failureHandler FailureHandler
	logger         *slog.Logger

	client  store.Client
	session store.Session
}

func New(connector store.Connector, tableInfo store.TableInfo, opts Options, handler FailureHandler, logger *slog.Logger) *Writer {
	if handler == nil {
		handler = DefaultFailureHandler{}
	}
	return &Writer{
		connector:      connector,
		tableInfo:      tableInfo,
		opts:           opts,
		failureHandler: handler,
		logger:         logger,
	}
}

func (w *Writer) Open(ctx context.Context) error {
	client, err := w.connector.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connect write store: %w", err)
	}
	table, err := store.EnsureTable(ctx, client, w.tableInfo)
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("open write table: %w", err)
	}
	session, err := table.NewSession(store.SessionOptions{
		Schema:          w.opts.Schema,
		MaxBufferedOps:  w.opts.MaxBufferedOps,
		IgnoreDuplicate: w.opts.IgnoreDuplicate,
		IgnoreNotFound:  w.opts.IgnoreNotFound,
	})
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("start write session: %w", err)
	}
	w.client = client
	w.session = session
	return nil
}

// Write buffers one mutation. Row errors from any implicit flush are
// checked before and after applying, so a poisoned batch surfaces on the
// next write rather than silently accumulating.
func (w *Writer) Write(ctx context.Context, op store.Operation) error {
	if w.session == nil {
		return fmt.Errorf("writer is not open")
	}
	if err := w.checkPendingErrors(); err != nil {
		return err
	}
	if err := w.session.Apply(ctx, op); err != nil {
		return fmt.Errorf("apply %s: %w", op.Kind, err)
	}
	return w.checkPendingErrors()
}

func (w *Writer) Flush(ctx context.Context) error {
	if w.session == nil {
		return fmt.Errorf("writer is not open")
	}
	if err := w.session.Flush(ctx); err != nil {
		return fmt.Errorf("flush write session: %w", err)
	}
	rowErrors := w.session.PendingErrors()
	observability.ObserveWriterFlush(len(rowErrors))
	return w.handleRowErrors(rowErrors)
}

// Close flushes and releases the session and connection. Release errors are
// logged, not raised, so a flush failure is not masked.
func (w *Writer) Close(ctx context.Context) error {
	if w.session == nil && w.client == nil {
		return nil
	}
	var flushErr error
	if w.session != nil {
		flushErr = w.Flush(ctx)
		if err := w.session.Close(ctx); err != nil && w.logger != nil {
			w.logger.Warn("error closing write session", slog.Any("error", err))
		}
		w.session = nil
	}
	if w.client != nil {
		if err := w.client.Close(); err != nil && w.logger != nil {
			w.logger.Warn("error closing write store client", slog.Any("error", err))
		}
		w.client = nil
	}
	return flushErr
}

func (w *Writer) checkPendingErrors() error {
	return w.handleRowErrors(w.session.PendingErrors())
}

func (w *Writer) handleRowErrors(rowErrors []store.RowError) error {
	if len(rowErrors) == 0 {
		return nil
	}
	if err := w.failureHandler.OnFailure(rowErrors); err != nil {
		return fmt.Errorf("row mutations failed: %w", err)
	}
	return nil
}
