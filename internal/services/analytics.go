package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"retail-dashboard/internal/cleaner"
	"retail-dashboard/internal/loader"
	"retail-dashboard/internal/models"
	"retail-dashboard/internal/observability"
	"retail-dashboard/internal/query"
	"retail-dashboard/internal/store/sqlite"
)

var (
	ErrNotReady         = errors.New("dataset not loaded")
	ErrReloadInProgress = errors.New("reload already in progress")
	ErrNoSource         = errors.New("no source archive configured")
	ErrInvalidSelection = errors.New("invalid selection")
)

type Options struct {
	Loader      *loader.Loader
	Cleaner     *cleaner.Cleaner
	Store       *sqlite.Store
	TopN        int
	LoadTimeout time.Duration
	Logger      *slog.Logger
}

// Analytics owns the clean dataset for the life of the process and answers
// every dashboard query from an immutable snapshot of it.
type Analytics struct {
	mu      sync.RWMutex
	dataset *models.Dataset
	source  string

	loader      *loader.Loader
	cleaner     *cleaner.Cleaner
	store       *sqlite.Store
	topN        int
	loadTimeout time.Duration

	reloading    atomic.Bool
	loads        atomic.Int64
	queries      atomic.Int64
	lastDuration atomic.Int64
	logger       *slog.Logger
}

func NewAnalytics(opts Options) *Analytics {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	topN := opts.TopN
	if topN <= 0 {
		topN = models.DefaultTopN
	}
	loadTimeout := opts.LoadTimeout
	if loadTimeout <= 0 {
		loadTimeout = 5 * time.Minute
	}
	return &Analytics{
		loader:      opts.Loader,
		cleaner:     opts.Cleaner,
		store:       opts.Store,
		topN:        topN,
		loadTimeout: loadTimeout,
		logger:      logger,
	}
}

// SetData installs an already clean transaction slice as the dataset.
func (a *Analytics) SetData(txs []models.Transaction) {
	ds := &models.Dataset{
		Transactions: txs,
		Source:       "memory",
		LoadedAt:     time.Now().UTC(),
		RawRows:      len(txs),
		Dropped:      models.DropCounts{},
	}
	cleaner.Summarize(ds)

	if err := a.mirror(context.Background(), ds); err != nil {
		a.logger.Error("failed to mirror dataset", "error", err)
	}
	a.swap(ds, "")
}

// LoadFromArchive runs the load, clean and mirror steps for path and swaps
// the result in. On any failure the current dataset stays in place.
func (a *Analytics) LoadFromArchive(ctx context.Context, path string) (err error) {
	if a.loader == nil || a.cleaner == nil {
		return fmt.Errorf("analytics: loader and cleaner are required")
	}

	ctx, cancel := context.WithTimeout(ctx, a.loadTimeout)
	defer cancel()

	ctx, span := observability.StartSpan(ctx, "dataset.load", attribute.String("source", path))
	defer func() { observability.EndSpan(span, err) }()

	start := time.Now()
	a.logger.InfoContext(ctx, "loading dataset", "source", path)

	table, err := a.loadRaw(ctx, path)
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}

	ds, err := a.clean(ctx, table)
	if err != nil {
		return fmt.Errorf("clean %s: %w", path, err)
	}
	if ds.Len() == 0 {
		a.logger.WarnContext(ctx, "dataset is empty after cleaning", "source", path, "raw_rows", ds.RawRows)
	}

	if err := a.mirror(ctx, ds); err != nil {
		return fmt.Errorf("mirror %s: %w", path, err)
	}

	a.swap(ds, path)
	a.crossCheck(ctx, ds)

	duration := time.Since(start)
	a.lastDuration.Store(int64(duration))
	span.SetAttributes(attribute.Int("rows.clean", ds.Len()), attribute.Int("rows.raw", ds.RawRows))

	a.logger.InfoContext(ctx, "dataset loaded",
		"source", path,
		"rows", ds.Len(),
		"raw_rows", ds.RawRows,
		"dropped", ds.Dropped.Total(),
		"duration", duration,
		"rate", fmt.Sprintf("%.0f rows/sec", float64(ds.RawRows)/duration.Seconds()),
	)
	return nil
}

// Reload rebuilds the dataset from the last archive. Only one reload runs
// at a time.
func (a *Analytics) Reload(ctx context.Context) error {
	a.mu.RLock()
	source := a.source
	a.mu.RUnlock()
	if source == "" {
		return ErrNoSource
	}

	if !a.reloading.CompareAndSwap(false, true) {
		return ErrReloadInProgress
	}
	defer a.reloading.Store(false)

	if err := a.LoadFromArchive(ctx, source); err != nil {
		a.logger.ErrorContext(ctx, "reload failed, keeping previous dataset", "source", source, "error", err)
		return err
	}
	return nil
}

func (a *Analytics) loadRaw(ctx context.Context, path string) (*loader.RawTable, error) {
	ctx, span := observability.StartSpan(ctx, "dataset.decode")
	table, err := a.loader.Load(ctx, path)
	if err == nil {
		span.SetAttributes(attribute.Int("rows", len(table.Rows)), attribute.Int("rows.skipped", table.Skipped))
	}
	observability.EndSpan(span, err)
	return table, err
}

func (a *Analytics) clean(ctx context.Context, table *loader.RawTable) (*models.Dataset, error) {
	ctx, span := observability.StartSpan(ctx, "dataset.clean")
	ds, err := a.cleaner.Clean(ctx, table)
	observability.EndSpan(span, err)
	return ds, err
}

func (a *Analytics) mirror(ctx context.Context, ds *models.Dataset) (err error) {
	if a.store == nil {
		return nil
	}
	ctx, span := observability.StartSpan(ctx, "dataset.mirror", attribute.Int("rows", ds.Len()))
	defer func() { observability.EndSpan(span, err) }()

	return a.store.Replace(ctx, ds.Transactions)
}

func (a *Analytics) swap(ds *models.Dataset, source string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dataset = ds
	if source != "" {
		a.source = source
	}
	a.loads.Add(1)
}

// crossCheck compares the SQL top-N ranking with the in-memory engine.
func (a *Analytics) crossCheck(ctx context.Context, ds *models.Dataset) {
	if a.store == nil || ds.Len() == 0 {
		return
	}
	sel := models.Selection{TopN: a.topN}
	fromSQL, err := a.store.TopProducts(ctx, sel, a.topN)
	if err != nil {
		a.logger.WarnContext(ctx, "top products cross-check failed", "error", err)
		return
	}
	fromEngine := query.Run(ds.Transactions, sel).TopProducts
	if len(fromSQL) != len(fromEngine) {
		a.logger.WarnContext(ctx, "top products mismatch", "sql", len(fromSQL), "engine", len(fromEngine))
		return
	}
	for i := range fromSQL {
		if fromSQL[i].StockCode != fromEngine[i].StockCode {
			a.logger.WarnContext(ctx, "top products mismatch",
				"rank", i+1,
				"sql", fromSQL[i].StockCode,
				"engine", fromEngine[i].StockCode,
			)
			return
		}
	}
	a.logger.DebugContext(ctx, "top products cross-check passed", "n", len(fromSQL))
}

func (a *Analytics) snapshot() (*models.Dataset, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.dataset == nil {
		return nil, ErrNotReady
	}
	return a.dataset, nil
}

// Query filters the dataset by sel and computes every aggregate. Results
// are computed on each call.
func (a *Analytics) Query(ctx context.Context, sel models.Selection) (models.AggregateResult, error) {
	if err := sel.Validate(); err != nil {
		return models.AggregateResult{}, fmt.Errorf("%w: %v", ErrInvalidSelection, err)
	}
	if sel.TopN == 0 {
		sel.TopN = a.topN
	}

	ds, err := a.snapshot()
	if err != nil {
		return models.AggregateResult{}, err
	}

	_, span := observability.StartSpan(ctx, "dataset.query",
		attribute.StringSlice("countries", sel.Countries),
		attribute.String("granularity", string(sel.Granularity)),
	)
	result := query.Run(ds.Transactions, sel)
	span.SetAttributes(attribute.Int("rows.matched", result.LineCount))
	span.End()

	a.queries.Add(1)
	return result, nil
}

// Transactions returns one page of the raw filtered table.
func (a *Analytics) Transactions(ctx context.Context, sel models.Selection, limit, offset int) (models.TransactionPage, error) {
	if err := sel.Validate(); err != nil {
		return models.TransactionPage{}, fmt.Errorf("%w: %v", ErrInvalidSelection, err)
	}
	ds, err := a.snapshot()
	if err != nil {
		return models.TransactionPage{}, err
	}

	if a.store == nil {
		return pageInMemory(ds.Transactions, sel, limit, offset), nil
	}

	ctx, span := observability.StartSpan(ctx, "dataset.page")
	page, err := a.store.Page(ctx, sel, limit, offset)
	observability.EndSpan(span, err)
	return page, err
}

func pageInMemory(txs []models.Transaction, sel models.Selection, limit, offset int) models.TransactionPage {
	limit = sqlite.ClampLimit(limit)
	offset = max(offset, 0)
	rows := query.Filter(txs, sel)

	page := models.TransactionPage{Rows: []models.Transaction{}, Total: len(rows), Limit: limit, Offset: offset}
	if offset < len(rows) {
		page.Rows = append(page.Rows, rows[offset:min(offset+limit, len(rows))]...)
	}
	return page
}

func (a *Analytics) Filters() models.FilterOptions {
	a.mu.RLock()
	defer a.mu.RUnlock()

	opts := models.FilterOptions{Countries: []string{}}
	if a.dataset == nil {
		return opts
	}
	opts.Countries = append(opts.Countries, a.dataset.Countries...)
	if !a.dataset.MinDate.IsZero() {
		opts.MinDate = a.dataset.MinDate.Format(models.DateLayout)
		opts.MaxDate = a.dataset.MaxDate.Format(models.DateLayout)
	}
	return opts
}

// Dataset returns the current dataset metadata, or nil before the first load.
func (a *Analytics) Dataset() *models.Dataset {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.dataset
}

func (a *Analytics) Ready() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.dataset != nil
}

func (a *Analytics) Reloading() bool {
	return a.reloading.Load()
}

// Utility method for monitoring
func (a *Analytics) Stats() map[string]any {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := map[string]any{
		"ready":              a.dataset != nil,
		"reloading":          a.reloading.Load(),
		"loads":              a.loads.Load(),
		"queries":            a.queries.Load(),
		"last_load_duration": time.Duration(a.lastDuration.Load()).String(),
	}
	if a.dataset == nil {
		return stats
	}

	dropped := make(map[string]int, len(a.dataset.Dropped))
	for reason, n := range a.dataset.Dropped {
		dropped[string(reason)] = n
	}
	stats["source"] = a.dataset.Source
	stats["loaded_at"] = a.dataset.LoadedAt
	stats["record_count"] = a.dataset.Len()
	stats["raw_rows"] = a.dataset.RawRows
	stats["dropped"] = dropped
	stats["dropped_total"] = a.dataset.Dropped.Total()
	stats["countries"] = len(a.dataset.Countries)
	if !a.dataset.MinDate.IsZero() {
		stats["min_date"] = a.dataset.MinDate.Format(models.DateLayout)
		stats["max_date"] = a.dataset.MaxDate.Format(models.DateLayout)
	}
	return stats
}
