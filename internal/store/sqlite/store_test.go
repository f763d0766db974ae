package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retail-dashboard/internal/models"
	"retail-dashboard/internal/query"
)

func at(d int, hour int) time.Time {
	return time.Date(2010, 12, d, hour, 30, 0, 0, time.UTC)
}

func sample() []models.Transaction {
	line := func(invoice, code, desc, country string, ts time.Time, qty int, price float64) models.Transaction {
		return models.Transaction{
			Invoice: invoice, StockCode: code, Description: desc, Quantity: qty, UnitPrice: price,
			InvoiceDate: ts, CustomerID: "17850", Country: country, Revenue: float64(qty) * price,
		}
	}
	return []models.Transaction{
		line("536365", "85123A", "White Hanging Heart", "United Kingdom", at(1, 8), 6, 2.55),
		line("536365", "71053", "White Metal Lantern", "United Kingdom", at(1, 8), 6, 3.25),
		line("536366", "22633", "Hand Warmer Union Jack", "United Kingdom", at(1, 9), 6, 1.85),
		line("536370", "22728", "Alarm Clock Bakelike Pink", "France", at(2, 11), 24, 3.75),
		line("536371", "85123A", "Cream Hanging Heart", "France", at(3, 12), 10, 2.55),
		line("536372", "22752", "Set 7 Babushka Nesting Boxes", "Germany", at(3, 14), 2, 7.65),
		line("536373", "21730", "Glass Star Frosted T-Light Holder", "EIRE", at(4, 9), 6, 4.25),
	}
}

func newStore(t *testing.T, txs []models.Transaction) *Store {
	t.Helper()
	s, err := New(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Replace(context.Background(), txs))
	return s
}

func TestReplace(t *testing.T) {
	s := newStore(t, sample())
	ctx := context.Background()

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	require.NoError(t, s.Replace(ctx, sample()[:2]))
	n, err = s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.Replace(ctx, nil))
	n, err = s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReplace_CancelledContextKeepsPreviousRows(t *testing.T) {
	s := newStore(t, sample())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, s.Replace(ctx, sample()[:1]))

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestPage(t *testing.T) {
	s := newStore(t, sample())
	ctx := context.Background()

	tests := []struct {
		name     string
		sel      models.Selection
		limit    int
		offset   int
		total    int
		invoices []string
	}{
		{"all rows", models.Selection{}, 0, 0, 7, []string{"536365", "536365", "536366", "536370", "536371", "536372", "536373"}},
		{"country filter", models.Selection{Countries: []string{"france"}}, 10, 0, 2, []string{"536370", "536371"}},
		{"multiple countries", models.Selection{Countries: []string{"Germany", "EIRE"}}, 10, 0, 2, []string{"536372", "536373"}},
		{"date range inclusive", models.Selection{From: at(2, 0), To: at(3, 0)}, 10, 0, 3, []string{"536370", "536371", "536372"}},
		{"paging", models.Selection{}, 2, 2, 7, []string{"536366", "536370"}},
		{"offset past end", models.Selection{}, 5, 50, 7, []string{}},
		{"no match", models.Selection{Countries: []string{"Japan"}}, 5, 0, 0, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := s.Page(ctx, tt.sel, tt.limit, tt.offset)
			require.NoError(t, err)
			assert.Equal(t, tt.total, page.Total)

			got := make([]string, 0, len(page.Rows))
			for _, r := range page.Rows {
				got = append(got, r.Invoice)
			}
			assert.Equal(t, tt.invoices, got)
		})
	}
}

func TestPage_RoundTripsRows(t *testing.T) {
	s := newStore(t, sample())

	page, err := s.Page(context.Background(), models.Selection{Countries: []string{"Germany"}}, 1, 0)
	require.NoError(t, err)
	require.Len(t, page.Rows, 1)
	assert.Equal(t, sample()[5], page.Rows[0])
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultPageSize, ClampLimit(0))
	assert.Equal(t, 1, ClampLimit(-3))
	assert.Equal(t, 25, ClampLimit(25))
	assert.Equal(t, MaxPageSize, ClampLimit(10000))
}

func TestTopProducts_MatchesEngine(t *testing.T) {
	txs := sample()
	s := newStore(t, txs)
	ctx := context.Background()

	for _, sel := range []models.Selection{
		{},
		{Countries: []string{"United Kingdom"}},
		{Countries: []string{"France", "Germany"}, From: at(3, 0)},
		{From: at(5, 0)},
	} {
		got, err := s.TopProducts(ctx, sel, 5)
		require.NoError(t, err)

		want := query.Run(txs, sel).TopProducts
		require.Len(t, got, len(want))
		for i := range want {
			assert.Equal(t, want[i].StockCode, got[i].StockCode)
			assert.Equal(t, want[i].Description, got[i].Description)
			assert.Equal(t, want[i].Quantity, got[i].Quantity)
			assert.InDelta(t, want[i].Revenue, got[i].Revenue, 1e-6)
		}
	}
}

func TestTopProducts_FirstDescriptionWins(t *testing.T) {
	s := newStore(t, sample())

	top, err := s.TopProducts(context.Background(), models.Selection{}, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	// 22728 (90.00) outranks 85123A (15.30 + 25.50).
	assert.Equal(t, "22728", top[0].StockCode)

	top, err = s.TopProducts(context.Background(), models.Selection{}, 3)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, "85123A", top[1].StockCode)
	assert.Equal(t, "White Hanging Heart", top[1].Description)
	assert.Equal(t, 16, top[1].Quantity)
}
