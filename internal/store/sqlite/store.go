package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"retail-dashboard/internal/models"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500

	timestampLayout = "2006-01-02 15:04:05"
)

// Store mirrors the clean dataset in a private in-memory database.
type Store struct {
	db *sql.DB
}

func New(ctx context.Context) (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	store := &Store{db: db}
	if err := store.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Replace swaps the table contents for txs inside one transaction.
func (s *Store) Replace(ctx context.Context, txs []models.Transaction) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM transactions`); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transactions (
			seq, invoice, stock_code, description, quantity, unit_price,
			invoice_date, day, customer_id, country, country_key, revenue
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, t := range txs {
		if i%5000 == 0 {
			if err = ctx.Err(); err != nil {
				return err
			}
		}
		_, err = stmt.ExecContext(ctx,
			i,
			t.Invoice,
			t.StockCode,
			t.Description,
			t.Quantity,
			t.UnitPrice,
			t.InvoiceDate.UTC().Format(timestampLayout),
			t.Day().Format(models.DateLayout),
			t.CustomerID,
			t.Country,
			strings.ToLower(t.Country),
			t.Revenue,
		)
		if err != nil {
			return fmt.Errorf("sqlite: insert row %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// Count returns the number of mirrored rows.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&n)
	return n, err
}

// Page returns one page of rows matching sel together with the total match
// count. limit is clamped to [1, MaxPageSize]; zero selects DefaultPageSize.
func (s *Store) Page(ctx context.Context, sel models.Selection, limit, offset int) (models.TransactionPage, error) {
	limit = ClampLimit(limit)
	if offset < 0 {
		offset = 0
	}
	page := models.TransactionPage{Rows: []models.Transaction{}, Limit: limit, Offset: offset}

	where, args := whereClause(sel)
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`+where, args...).Scan(&page.Total); err != nil {
		return page, err
	}
	if page.Total == 0 || offset >= page.Total {
		return page, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT invoice, stock_code, description, quantity, unit_price,
			invoice_date, customer_id, country, revenue
		FROM transactions`+where+`
		ORDER BY invoice_date, invoice, stock_code, seq
		LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return page, err
	}
	defer rows.Close()

	for rows.Next() {
		var t models.Transaction
		var at string
		if err := rows.Scan(&t.Invoice, &t.StockCode, &t.Description, &t.Quantity, &t.UnitPrice,
			&at, &t.CustomerID, &t.Country, &t.Revenue); err != nil {
			return page, err
		}
		t.InvoiceDate, err = time.ParseInLocation(timestampLayout, at, time.UTC)
		if err != nil {
			return page, fmt.Errorf("sqlite: invoice_date %q: %w", at, err)
		}
		page.Rows = append(page.Rows, t)
	}
	return page, rows.Err()
}

// TopProducts ranks stock codes by revenue over the rows matching sel,
// ties broken by stock code.
func (s *Store) TopProducts(ctx context.Context, sel models.Selection, n int) ([]models.ProductRevenue, error) {
	if n <= 0 {
		n = models.DefaultTopN
	}
	where, args := whereClause(sel)
	// With MIN(seq), SQLite takes the bare description column from the
	// first matching row of each group.
	rows, err := s.db.QueryContext(ctx, `
		SELECT stock_code, description, MIN(seq), SUM(revenue), SUM(quantity)
		FROM transactions`+where+`
		GROUP BY stock_code
		ORDER BY ROUND(SUM(revenue), 6) DESC, stock_code ASC
		LIMIT ?`,
		append(args, n)...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.ProductRevenue, 0, n)
	for rows.Next() {
		var p models.ProductRevenue
		var first int64
		if err := rows.Scan(&p.StockCode, &p.Description, &first, &p.Revenue, &p.Quantity); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func ClampLimit(limit int) int {
	switch {
	case limit == 0:
		return DefaultPageSize
	case limit < 1:
		return 1
	case limit > MaxPageSize:
		return MaxPageSize
	}
	return limit
}

func whereClause(sel models.Selection) (string, []any) {
	var conds []string
	var args []any

	if set := sel.CountrySet(); set != nil {
		if len(set) == 0 {
			conds = append(conds, "1 = 0")
		} else {
			marks := make([]string, 0, len(set))
			for c := range set {
				marks = append(marks, "?")
				args = append(args, c)
			}
			conds = append(conds, "country_key IN ("+strings.Join(marks, ", ")+")")
		}
	}
	if !sel.From.IsZero() {
		conds = append(conds, "day >= ?")
		args = append(args, sel.From.UTC().Format(models.DateLayout))
	}
	if !sel.To.IsZero() {
		conds = append(conds, "day <= ?")
		args = append(args, sel.To.UTC().Format(models.DateLayout))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *Store) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS transactions (
			seq INTEGER PRIMARY KEY,
			invoice TEXT NOT NULL,
			stock_code TEXT NOT NULL,
			description TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			unit_price REAL NOT NULL,
			invoice_date TEXT NOT NULL,
			day TEXT NOT NULL,
			customer_id TEXT NOT NULL,
			country TEXT NOT NULL,
			country_key TEXT NOT NULL,
			revenue REAL NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_day ON transactions (day);`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_country ON transactions (country_key, day);`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_stock ON transactions (stock_code, seq);`,
	}

	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return err
		}
	}
	return nil
}
