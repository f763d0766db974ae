package models

import "time"

// Transaction is one cleaned sale line.
type Transaction struct {
	Invoice     string    `json:"invoice"`
	StockCode   string    `json:"stock_code"`
	Description string    `json:"description"`
	Quantity    int       `json:"quantity"`
	UnitPrice   float64   `json:"unit_price"`
	InvoiceDate time.Time `json:"invoice_date"`
	CustomerID  string    `json:"customer_id"`
	Country     string    `json:"country"`
	Revenue     float64   `json:"revenue"`
}

// Day returns the UTC calendar date of the transaction.
func (t Transaction) Day() time.Time {
	y, m, d := t.InvoiceDate.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Dataset is the immutable clean table built once per load.
type Dataset struct {
	Transactions []Transaction `json:"-"`
	Source       string        `json:"source"`
	LoadedAt     time.Time     `json:"loaded_at"`
	RawRows      int           `json:"raw_rows"`
	Dropped      DropCounts    `json:"dropped"`
	Countries    []string      `json:"countries"`
	MinDate      time.Time     `json:"min_date"`
	MaxDate      time.Time     `json:"max_date"`
}

// Len reports the number of clean rows.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Transactions)
}

// DropReason labels why the cleaner discarded a raw row.
type DropReason string

const (
	DropMissingValue DropReason = "missing_value"
	DropCancelled    DropReason = "cancelled"
	DropNonPositive  DropReason = "non_positive"
	DropUnparsable   DropReason = "unparsable"
	DropExcludedItem DropReason = "excluded_item"
	DropDuplicate    DropReason = "duplicate"
	DropMalformedRow DropReason = "malformed_row"
)

type DropCounts map[DropReason]int

func (d DropCounts) Total() int {
	total := 0
	for _, n := range d {
		total += n
	}
	return total
}

type CountryShare struct {
	Country string  `json:"country"`
	Revenue float64 `json:"revenue"`
	Share   float64 `json:"share"`
}

type ProductRevenue struct {
	StockCode   string  `json:"stock_code"`
	Description string  `json:"description"`
	Revenue     float64 `json:"revenue"`
	Quantity    int     `json:"quantity"`
}

type SeriesPoint struct {
	Period  string  `json:"period"`
	Revenue float64 `json:"revenue"`
}

// KPIs are the three headline numbers of the dashboard.
type KPIs struct {
	TotalRevenue      float64 `json:"total_revenue"`
	OrderCount        int     `json:"order_count"`
	AverageOrderValue float64 `json:"average_order_value"`
}

// AggregateResult is computed per filter change and never cached.
type AggregateResult struct {
	KPIs
	LineCount     int              `json:"line_count"`
	CustomerCount int              `json:"customer_count"`
	Granularity   Granularity      `json:"granularity"`
	RevenueSeries []SeriesPoint    `json:"revenue_series"`
	CountryShares []CountryShare   `json:"country_shares"`
	TopProducts   []ProductRevenue `json:"top_products"`
}

// Empty reports whether no transaction matched the selection.
func (r AggregateResult) Empty() bool {
	return r.LineCount == 0
}

type TransactionPage struct {
	Rows   []Transaction `json:"rows"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

type FilterOptions struct {
	Countries []string `json:"countries"`
	MinDate   string   `json:"min_date"`
	MaxDate   string   `json:"max_date"`
}
