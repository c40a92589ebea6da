// Package lookup implements the per-record enrichment join: a cache-backed,
// retrying point lookup against an external tabular store.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rowlink/rowlink/internal/filter"
	"github.com/rowlink/rowlink/internal/observability"
	"github.com/rowlink/rowlink/internal/store"
)

var (
	// ErrKeyArity reports a lookup call whose value count does not match the
	// configured key columns. Never retried.
	ErrKeyArity = errors.New("lookup key arity mismatch")
	// ErrExhausted wraps the last scan failure once all retry attempts are
	// spent.
	ErrExhausted = errors.New("lookup retries exhausted")
	// ErrNotOpen reports a lookup before a successful Open.
	ErrNotOpen = errors.New("lookup executor is not open")
)

// CacheDisabled is the sentinel for Options.CacheMaxEntries and
// Options.CacheTTL that turns caching off entirely.
const CacheDisabled = -1

const defaultBackoffBase = time.Second

// EmitFunc receives each matching row as it is produced. An error aborts the
// current lookup without retry.
type EmitFunc func(store.Row) error

// Options configure one executor instance.
type Options struct {
	// KeyColumns define the lookup key arity and the columns the equality
	// predicates are built on. Required.
	KeyColumns []string
	// ProjectedColumns restrict the scanned columns; empty selects all.
	ProjectedColumns []string
	// CacheMaxEntries bounds the cache; CacheDisabled turns caching off.
	CacheMaxEntries int
	// CacheTTL is the entry lifetime from insertion; zero or any negative
	// value turns caching off.
	CacheTTL time.Duration
	// MaxRetries is the total number of scan attempts per lookup.
	MaxRetries int
	// BackoffBase is the linear backoff unit between attempts; defaults to
	// one second.
	BackoffBase time.Duration
}

// cacheEnabled requires a positive capacity and a positive TTL: a zero TTL
// would build a cache whose entries expire at insertion.
func (o Options) cacheEnabled() bool {
	return o.CacheMaxEntries > 0 && o.CacheTTL > 0
}

func (o Options) validate() error {
	if len(o.KeyColumns) == 0 {
		return fmt.Errorf("key columns are required")
	}
	if o.MaxRetries < 1 {
		return fmt.Errorf("max retries must be positive, got %d", o.MaxRetries)
	}
	return nil
}

// Executor performs blocking, single-threaded point lookups. One instance is
// created per parallel task of the host pipeline; it owns one store client
// and, when enabled, one cache, and is never shared across instances.
type Executor struct {
	connector store.Connector
	tableInfo store.TableInfo
	opts      Options
	logger    *slog.Logger

	client store.Client
	table  store.Table
	cache  *cache

	// sleep is replaced in tests to observe the backoff schedule.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func New(connector store.Connector, tableInfo store.TableInfo, opts Options, logger *slog.Logger) *Executor {
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = defaultBackoffBase
	}
	return &Executor{
		connector: connector,
		tableInfo: tableInfo,
		opts:      opts,
		logger:    logger,
		sleep:     sleepContext,
		now:       time.Now,
	}
}

// Open establishes the store connection, resolves the table, and builds the
// cache when enabled. It must be called before Lookup. On any failure the
// partially acquired client is released.
func (e *Executor) Open(ctx context.Context) error {
	if err := e.opts.validate(); err != nil {
		return fmt.Errorf("lookup options: %w", err)
	}
	e.warnInconsistentCacheConfig(ctx)

	client, err := e.connector.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connect lookup store: %w", err)
	}
	table, err := store.EnsureTable(ctx, client, e.tableInfo)
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("open lookup table: %w", err)
	}
	e.client = client
	e.table = table
	if e.opts.cacheEnabled() {
		e.cache = newCache(e.opts.CacheMaxEntries, e.opts.CacheTTL, e.now)
	}
	return nil
}

// Close releases the store connection and drops the cache. Idempotent and
// safe without a prior successful Open.
func (e *Executor) Close() error {
	if e.cache != nil {
		e.cache.Clear()
		e.cache = nil
	}
	if e.client == nil {
		return nil
	}
	err := e.client.Close()
	e.client = nil
	e.table = nil
	if err != nil {
		if e.logger != nil {
			e.logger.Warn("error closing lookup store client", slog.Any("error", err))
		}
		return fmt.Errorf("close lookup store: %w", err)
	}
	return nil
}

// Lookup streams every row matching keyValues to emit. Rows come from the
// cache when present (a cached empty list emits nothing and skips the scan);
// otherwise a single-split scan runs under the retry policy and, when
// caching is enabled, populates the cache. Rows emitted by a failed attempt
// are not retracted on retry, so downstream consumers may observe duplicates
// across a mid-stream failure.
func (e *Executor) Lookup(ctx context.Context, keyValues []any, emit EmitFunc) error {
	if e.table == nil {
		return ErrNotOpen
	}
	if len(keyValues) != len(e.opts.KeyColumns) {
		return fmt.Errorf("%w: got %d values for %d key columns", ErrKeyArity, len(keyValues), len(e.opts.KeyColumns))
	}

	start := e.now()
	cacheKey := buildCacheKey(keyValues)
	if e.cache != nil {
		if rows, ok := e.cache.Get(cacheKey); ok {
			observability.ObserveCacheHit()
			for _, row := range rows {
				if err := emit(row); err != nil {
					return fmt.Errorf("emit cached row: %w", err)
				}
			}
			observability.ObserveLookup(len(rows), e.now().Sub(start))
			return nil
		}
		observability.ObserveCacheMiss()
	}

	var lastErr error
	for attempt := 1; attempt <= e.opts.MaxRetries; attempt++ {
		observability.ObserveScanAttempt()
		emitted, err := e.scanOnce(ctx, keyValues, cacheKey, emit)
		if err == nil {
			observability.ObserveLookup(emitted, e.now().Sub(start))
			return nil
		}
		var emitErr *emitFailure
		if errors.As(err, &emitErr) {
			return fmt.Errorf("emit scanned row: %w", emitErr.err)
		}
		lastErr = err
		observability.ObserveScanFailure()
		if e.logger != nil {
			e.logger.ErrorContext(ctx, "lookup scan failed",
				slog.String("table", e.table.Name()),
				slog.Int("attempt", attempt),
				slog.Int("max_retries", e.opts.MaxRetries),
				slog.Any("error", err),
			)
		}
		if attempt >= e.opts.MaxRetries {
			break
		}
		backoff := time.Duration(attempt) * e.opts.BackoffBase
		observability.ObserveBackoff(backoff)
		if err := e.sleep(ctx, backoff); err != nil {
			return fmt.Errorf("lookup backoff interrupted: %w", err)
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, e.opts.MaxRetries, lastErr)
}

// scanOnce runs one full build-scan-drain sequence. Any store failure is
// returned as-is (transient, retryable); an emit failure is wrapped in
// emitFailure so the caller can abort without retrying.
func (e *Executor) scanOnce(ctx context.Context, keyValues []any, cacheKey string, emit EmitFunc) (int, error) {
	predicates := make([]filter.Predicate, len(e.opts.KeyColumns))
	for i, column := range e.opts.KeyColumns {
		predicates[i] = filter.Equal(column, keyValues[i])
	}

	// A keyed point lookup never needs partitioning: one split.
	splits, err := e.table.BuildScan(ctx, store.ScanSpec{
		Predicates: predicates,
		Projection: e.opts.ProjectedColumns,
		Splits:     1,
	})
	if err != nil {
		return 0, fmt.Errorf("build scan: %w", err)
	}

	emitted := 0
	var cached []store.Row
	for _, split := range splits {
		iter, err := e.table.Scan(ctx, split)
		if err != nil {
			return emitted, fmt.Errorf("open scan: %w", err)
		}
		for iter.Next() {
			row := iter.Row()
			if e.cache != nil {
				cached = append(cached, row)
			}
			if err := emit(row); err != nil {
				_ = iter.Close()
				return emitted, &emitFailure{err: err}
			}
			emitted++
		}
		if err := iter.Err(); err != nil {
			_ = iter.Close()
			return emitted, fmt.Errorf("drain scan: %w", err)
		}
		if err := iter.Close(); err != nil {
			return emitted, fmt.Errorf("close scan: %w", err)
		}
	}
	if e.cache != nil {
		if cached == nil {
			cached = []store.Row{}
		}
		e.cache.Put(cacheKey, cached)
	}
	return emitted, nil
}

// warnInconsistentCacheConfig surfaces a half-disabled cache configuration:
// the sentinel pair is meant to be set together, and a mixed setting turns
// caching off rather than producing a degenerate cache.
func (e *Executor) warnInconsistentCacheConfig(ctx context.Context) {
	entriesOff := e.opts.CacheMaxEntries == CacheDisabled
	ttlOff := e.opts.CacheTTL < 0
	if entriesOff != ttlOff && e.logger != nil {
		e.logger.WarnContext(ctx, "inconsistent lookup cache configuration, caching disabled",
			slog.Int("cache_max_entries", e.opts.CacheMaxEntries),
			slog.Duration("cache_ttl", e.opts.CacheTTL),
		)
	}
}

type emitFailure struct {
	err error
}

func (f *emitFailure) Error() string {
	return f.err.Error()
}

func (f *emitFailure) Unwrap() error {
	return f.err
}

// buildCacheKey encodes the ordered key tuple. Each component is
// length-prefixed so a value containing any delimiter byte cannot make two
// distinct tuples collide: keys are equal iff all component values are equal
// in the same order.
func buildCacheKey(keyValues []any) string {
	var b strings.Builder
	for _, value := range keyValues {
		component := fmt.Sprintf("%T=%v", value, value)
		fmt.Fprintf(&b, "%d:%s", len(component), component)
	}
	return b.String()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
