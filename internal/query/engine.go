// Package query filters the clean dataset and computes the aggregates
// behind each dashboard panel. Every function is pure: results depend only
// on the arguments and nothing is cached between calls.
package query

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"retail-dashboard/internal/models"
)

// maxFilledPeriods bounds zero-filling of the revenue series.
const maxFilledPeriods = 20000

// Filter returns the transactions matching the country set and the
// inclusive date range of sel. The input slice is never modified.
func Filter(txs []models.Transaction, sel models.Selection) []models.Transaction {
	countries := sel.CountrySet()
	out := make([]models.Transaction, 0, len(txs)/4)
	for _, tx := range txs {
		if !Matches(tx, sel, countries) {
			continue
		}
		out = append(out, tx)
	}
	return out
}

// Matches reports whether tx satisfies sel. countries is the result of
// sel.CountrySet(), passed in so callers can build it once.
func Matches(tx models.Transaction, sel models.Selection, countries map[string]struct{}) bool {
	if countries != nil {
		if _, ok := countries[strings.ToLower(tx.Country)]; !ok {
			return false
		}
	}
	return sel.Contains(tx.Day())
}

// Run filters txs by sel and aggregates the result.
func Run(txs []models.Transaction, sel models.Selection) models.AggregateResult {
	return Aggregate(Filter(txs, sel), sel)
}

// Aggregate computes KPIs and chart series over already filtered rows.
func Aggregate(txs []models.Transaction, sel models.Selection) models.AggregateResult {
	sel = sel.Normalized()

	total := decimal.Zero
	invoices := make(map[string]struct{})
	customers := make(map[string]struct{})
	periods := make(map[time.Time]decimal.Decimal)
	countries := make(map[string]decimal.Decimal)
	products := make(map[string]*productAcc)

	for _, tx := range txs {
		revenue := decimal.NewFromFloat(tx.Revenue)
		total = total.Add(revenue)

		invoices[tx.Invoice] = struct{}{}
		if tx.CustomerID != "" {
			customers[tx.CustomerID] = struct{}{}
		}

		period := periodStart(tx.Day(), sel.Granularity)
		periods[period] = periods[period].Add(revenue)
		countries[tx.Country] = countries[tx.Country].Add(revenue)

		p, ok := products[tx.StockCode]
		if !ok {
			p = &productAcc{code: tx.StockCode, description: tx.Description}
			products[tx.StockCode] = p
		}
		p.revenue = p.revenue.Add(revenue)
		p.quantity += tx.Quantity
	}

	result := models.AggregateResult{
		KPIs: models.KPIs{
			TotalRevenue: total.InexactFloat64(),
			OrderCount:   len(invoices),
		},
		LineCount:     len(txs),
		CustomerCount: len(customers),
		Granularity:   sel.Granularity,
		RevenueSeries: revenueSeries(periods, sel.Granularity),
		CountryShares: countryShares(countries, total),
		TopProducts:   topProducts(products, sel.TopN),
	}
	result.AverageOrderValue = AverageOrderValue(total, len(invoices))
	return result
}

// AverageOrderValue is total / orders, defined as zero without orders.
func AverageOrderValue(total decimal.Decimal, orders int) float64 {
	if orders == 0 {
		return 0
	}
	return total.Div(decimal.NewFromInt(int64(orders))).InexactFloat64()
}

type productAcc struct {
	code        string
	description string
	revenue     decimal.Decimal
	quantity    int
}

func periodStart(day time.Time, g models.Granularity) time.Time {
	if g == models.GranularityMonth {
		return time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return day
}

func nextPeriod(t time.Time, g models.Granularity) time.Time {
	if g == models.GranularityMonth {
		return t.AddDate(0, 1, 0)
	}
	return t.AddDate(0, 0, 1)
}

func formatPeriod(t time.Time, g models.Granularity) string {
	if g == models.GranularityMonth {
		return t.Format(models.MonthLayout)
	}
	return t.Format(models.DateLayout)
}

// revenueSeries orders periods chronologically and fills gaps between the
// first and last period with zero revenue.
func revenueSeries(periods map[time.Time]decimal.Decimal, g models.Granularity) []models.SeriesPoint {
	if len(periods) == 0 {
		return []models.SeriesPoint{}
	}

	keys := make([]time.Time, 0, len(periods))
	for k := range periods {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b time.Time) int { return a.Compare(b) })

	first, last := keys[0], keys[len(keys)-1]
	series := make([]models.SeriesPoint, 0, len(keys))
	for t := first; !t.After(last); t = nextPeriod(t, g) {
		if len(series) >= maxFilledPeriods {
			// Too sparse to fill; fall back to the periods present.
			series = series[:0]
			for _, k := range keys {
				series = append(series, models.SeriesPoint{Period: formatPeriod(k, g), Revenue: periods[k].InexactFloat64()})
			}
			return series
		}
		series = append(series, models.SeriesPoint{
			Period:  formatPeriod(t, g),
			Revenue: periods[t].InexactFloat64(),
		})
	}
	return series
}

func countryShares(countries map[string]decimal.Decimal, total decimal.Decimal) []models.CountryShare {
	type entry struct {
		country string
		revenue decimal.Decimal
	}
	entries := make([]entry, 0, len(countries))
	for c, r := range countries {
		entries = append(entries, entry{c, r})
	}
	slices.SortFunc(entries, func(a, b entry) int {
		if c := b.revenue.Cmp(a.revenue); c != 0 {
			return c
		}
		return cmp.Compare(a.country, b.country)
	})

	shares := make([]models.CountryShare, 0, len(entries))
	for _, e := range entries {
		share := 0.0
		if total.IsPositive() {
			share = e.revenue.Div(total).InexactFloat64()
		}
		shares = append(shares, models.CountryShare{
			Country: e.country,
			Revenue: e.revenue.InexactFloat64(),
			Share:   share,
		})
	}
	return shares
}

func topProducts(products map[string]*productAcc, n int) []models.ProductRevenue {
	accs := make([]*productAcc, 0, len(products))
	for _, p := range products {
		accs = append(accs, p)
	}
	slices.SortFunc(accs, func(a, b *productAcc) int {
		if c := b.revenue.Cmp(a.revenue); c != 0 {
			return c
		}
		return cmp.Compare(a.code, b.code)
	})
	if n > 0 && len(accs) > n {
		accs = accs[:n]
	}

	out := make([]models.ProductRevenue, 0, len(accs))
	for _, p := range accs {
		out = append(out, models.ProductRevenue{
			StockCode:   p.code,
			Description: p.description,
			Revenue:     p.revenue.InexactFloat64(),
			Quantity:    p.quantity,
		})
	}
	return out
}

// Countries returns the distinct countries of txs in ascending order.
func Countries(txs []models.Transaction) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, tx := range txs {
		if _, ok := seen[tx.Country]; ok {
			continue
		}
		seen[tx.Country] = struct{}{}
		out = append(out, tx.Country)
	}
	slices.Sort(out)
	return out
}

// Bounds returns the first and last calendar day present in txs. Both are
// zero for an empty slice.
func Bounds(txs []models.Transaction) (first, last time.Time) {
	for _, tx := range txs {
		day := tx.Day()
		if first.IsZero() || day.Before(first) {
			first = day
		}
		if day.After(last) {
			last = day
		}
	}
	return first, last
}
