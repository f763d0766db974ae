package cleaner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"retail-dashboard/internal/loader"
	"retail-dashboard/internal/models"
	"retail-dashboard/internal/query"
)

const (
	batchSize  = 10000
	maxWorkers = 8
)

var ErrMissingColumn = errors.New("missing expected column")

type Cleaner struct {
	rules     Rules
	cancelled []string
	excluded  map[string]struct{}
	logger    *slog.Logger
}

func New(rules Rules, logger *slog.Logger) (*Cleaner, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Cleaner{
		rules:    rules,
		excluded: make(map[string]struct{}, len(rules.ExcludedDescriptions)),
		logger:   logger,
	}
	for _, p := range rules.CancellationPrefixes {
		if p = strings.TrimSpace(p); p != "" {
			c.cancelled = append(c.cancelled, strings.ToUpper(p))
		}
	}
	for _, d := range rules.ExcludedDescriptions {
		c.excluded[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}
	return c, nil
}

type rowResult struct {
	tx     models.Transaction
	reason models.DropReason
}

// Clean turns a raw table into the clean dataset. A missing expected
// column is fatal; individual bad rows are dropped and counted.
func (c *Cleaner) Clean(ctx context.Context, table *loader.RawTable) (*models.Dataset, error) {
	index, err := ResolveColumns(table.Header)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	results := make([]rowResult, len(table.Rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxWorkers)
	for lo := 0; lo < len(table.Rows); lo += batchSize {
		hi := min(lo+batchSize, len(table.Rows))
		g.Go(func() error {
			// cases.Caser is stateful, one per goroutine.
			caser := cases.Title(language.English)
			for i := lo; i < hi; i++ {
				if (i-lo)%1000 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				results[i] = c.normalizeRow(table.Rows[i], index, caser)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("normalize rows: %w", err)
	}

	ds := &models.Dataset{
		Source:       table.Source,
		LoadedAt:     time.Now().UTC(),
		RawRows:      len(table.Rows) + table.Skipped,
		Dropped:      models.DropCounts{},
		Transactions: make([]models.Transaction, 0, len(results)),
	}
	if table.Skipped > 0 {
		ds.Dropped[models.DropMalformedRow] += table.Skipped
	}

	seen := make(map[string]struct{}, len(results))
	for _, res := range results {
		if res.reason != "" {
			ds.Dropped[res.reason]++
			continue
		}
		if c.rules.Deduplicate {
			key := dedupKey(res.tx)
			if _, dup := seen[key]; dup {
				ds.Dropped[models.DropDuplicate]++
				continue
			}
			seen[key] = struct{}{}
		}
		ds.Transactions = append(ds.Transactions, res.tx)
	}

	Summarize(ds)

	c.logger.Info("dataset cleaned",
		"source", ds.Source,
		"raw_rows", ds.RawRows,
		"clean_rows", len(ds.Transactions),
		"dropped", ds.Dropped.Total(),
		"countries", len(ds.Countries),
		"duration", time.Since(start),
	)
	for reason, n := range ds.Dropped {
		c.logger.Debug("rows dropped", "reason", reason, "count", n)
	}
	return ds, nil
}

// Summarize fills the derived country list and date bounds of ds.
func Summarize(ds *models.Dataset) {
	ds.Countries = query.Countries(ds.Transactions)
	ds.MinDate, ds.MaxDate = query.Bounds(ds.Transactions)
}

// ResolveColumns maps each canonical column to its index in header.
func ResolveColumns(header []string) (map[Column]int, error) {
	positions := make(map[string]int, len(header))
	for i, h := range header {
		key := normalizeHeader(h)
		if _, dup := positions[key]; !dup {
			positions[key] = i
		}
	}

	index := make(map[Column]int, len(Columns))
	var missing []string
	for _, col := range Columns {
		found := false
		for _, alias := range columnAliases[col] {
			if i, ok := positions[alias]; ok {
				index[col] = i
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, string(col))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}
	return index, nil
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(h)
}

func (c *Cleaner) normalizeRow(record []string, index map[Column]int, caser cases.Caser) rowResult {
	values := make(map[Column]string, len(Columns))
	for _, col := range Columns {
		i := index[col]
		if i >= len(record) {
			return rowResult{reason: models.DropMalformedRow}
		}

		v := strings.TrimSpace(record[i])
		if isNull(v) {
			policy := c.rules.policy(col)
			switch policy.Action {
			case NullFill:
				v = policy.FillValue
			case NullKeep:
				v = ""
			default:
				return rowResult{reason: models.DropMissingValue}
			}
		}
		values[col] = v
	}

	invoice := values[ColInvoice]
	if c.isCancellation(invoice) {
		return rowResult{reason: models.DropCancelled}
	}

	quantity, err := parseQuantity(values[ColQuantity])
	if err != nil {
		return rowResult{reason: models.DropUnparsable}
	}
	price, err := decimal.NewFromString(values[ColUnitPrice])
	if err != nil {
		return rowResult{reason: models.DropUnparsable}
	}
	if quantity <= 0 || !price.IsPositive() {
		return rowResult{reason: models.DropNonPositive}
	}

	description := values[ColDescription]
	if _, skip := c.excluded[strings.ToLower(description)]; skip {
		return rowResult{reason: models.DropExcludedItem}
	}
	if c.rules.TitleCaseDescriptions {
		description = caser.String(description)
	}

	ts, ok := c.parseTimestamp(values[ColInvoiceDate])
	if !ok {
		return rowResult{reason: models.DropUnparsable}
	}

	return rowResult{tx: models.Transaction{
		Invoice:     invoice,
		StockCode:   strings.ToUpper(values[ColStockCode]),
		Description: description,
		Quantity:    quantity,
		UnitPrice:   price.InexactFloat64(),
		InvoiceDate: ts,
		CustomerID:  normalizeCustomerID(values[ColCustomerID]),
		Country:     values[ColCountry],
		Revenue:     price.Mul(decimal.NewFromInt(int64(quantity))).InexactFloat64(),
	}}
}

func (c *Cleaner) isCancellation(invoice string) bool {
	upper := strings.ToUpper(invoice)
	for _, p := range c.cancelled {
		if strings.HasPrefix(upper, p) {
			return true
		}
	}
	return false
}

func (c *Cleaner) parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range c.rules.TimestampLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

func isNull(v string) bool {
	switch strings.ToLower(v) {
	case "", "nan", "null", "none", "n/a":
		return true
	}
	return false
}

// parseQuantity accepts integers and integral floats such as "12.0".
func parseQuantity(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt32 {
		return 0, fmt.Errorf("quantity %q is not integral", s)
	}
	return int(f), nil
}

// normalizeCustomerID undoes float exports such as "13085.0".
func normalizeCustomerID(id string) string {
	if whole, ok := strings.CutSuffix(id, ".0"); ok {
		if _, err := strconv.ParseUint(whole, 10, 64); err == nil {
			return whole
		}
	}
	return id
}

func dedupKey(tx models.Transaction) string {
	return strings.Join([]string{
		tx.Invoice,
		tx.StockCode,
		tx.Description,
		strconv.Itoa(tx.Quantity),
		strconv.FormatFloat(tx.UnitPrice, 'g', -1, 64),
		tx.InvoiceDate.Format(time.RFC3339Nano),
		tx.CustomerID,
		tx.Country,
	}, "\x1f")
}
