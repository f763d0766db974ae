package cleaner

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Column names the canonical schema of a transaction row.
type Column string

const (
	ColInvoice     Column = "invoice"
	ColStockCode   Column = "stock_code"
	ColDescription Column = "description"
	ColQuantity    Column = "quantity"
	ColUnitPrice   Column = "unit_price"
	ColInvoiceDate Column = "invoice_date"
	ColCustomerID  Column = "customer_id"
	ColCountry     Column = "country"
)

// Columns lists the expected columns in source order.
var Columns = []Column{
	ColInvoice, ColStockCode, ColDescription, ColQuantity,
	ColUnitPrice, ColInvoiceDate, ColCustomerID, ColCountry,
}

// requiredColumns carry values the clean record cannot exist without.
var requiredColumns = map[Column]bool{
	ColInvoice:     true,
	ColStockCode:   true,
	ColDescription: true,
	ColQuantity:    true,
	ColUnitPrice:   true,
	ColInvoiceDate: true,
}

var columnAliases = map[Column][]string{
	ColInvoice:     {"invoice", "invoiceno", "invoicenumber", "invoiceid"},
	ColStockCode:   {"stockcode", "productcode", "sku"},
	ColDescription: {"description", "productdescription"},
	ColQuantity:    {"quantity", "qty"},
	ColUnitPrice:   {"price", "unitprice"},
	ColInvoiceDate: {"invoicedate", "timestamp", "date"},
	ColCustomerID:  {"customerid", "customer"},
	ColCountry:     {"country"},
}

type NullAction string

const (
	NullDrop NullAction = "drop"
	NullFill NullAction = "fill"
	NullKeep NullAction = "keep"
)

type ColumnPolicy struct {
	Action    NullAction `yaml:"action"`
	FillValue string     `yaml:"fill_value,omitempty"`
}

// Rules is the cleaning rule table. Fields absent from a rules file keep
// their default values.
type Rules struct {
	NullPolicy            map[Column]ColumnPolicy `yaml:"null_policy"`
	CancellationPrefixes  []string                `yaml:"cancellation_prefixes"`
	ExcludedDescriptions  []string                `yaml:"excluded_descriptions"`
	TimestampLayouts      []string                `yaml:"timestamp_layouts"`
	TitleCaseDescriptions bool                    `yaml:"title_case_descriptions"`
	Deduplicate           bool                    `yaml:"deduplicate"`
}

var ErrInvalidRules = errors.New("invalid cleaning rules")

func DefaultRules() Rules {
	return Rules{
		NullPolicy: map[Column]ColumnPolicy{
			ColInvoice:     {Action: NullDrop},
			ColStockCode:   {Action: NullDrop},
			ColDescription: {Action: NullDrop},
			ColQuantity:    {Action: NullDrop},
			ColUnitPrice:   {Action: NullDrop},
			ColInvoiceDate: {Action: NullDrop},
			ColCustomerID:  {Action: NullDrop},
			ColCountry:     {Action: NullFill, FillValue: "Unspecified"},
		},
		CancellationPrefixes: []string{"C"},
		ExcludedDescriptions: []string{"Manual", "POSTAGE", "DOTCOM POSTAGE", "CRUK Commission", "Discount"},
		TimestampLayouts: []string{
			"2006-01-02 15:04:05",
			"2006-01-02 15:04",
			"1/2/2006 15:04",
			"01/02/2006 15:04",
			time.RFC3339,
		},
		TitleCaseDescriptions: true,
		Deduplicate:           true,
	}
}

// LoadRules overlays the YAML file at path on DefaultRules. An empty path
// returns the defaults.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRules(data)
}

func ParseRules(data []byte) (Rules, error) {
	rules := DefaultRules()
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}
	if err := rules.Validate(); err != nil {
		return Rules{}, err
	}
	return rules, nil
}

func (r Rules) Validate() error {
	for col, policy := range r.NullPolicy {
		if !slices.Contains(Columns, col) {
			return fmt.Errorf("%w: unknown column %q in null_policy", ErrInvalidRules, col)
		}
		switch policy.Action {
		case NullDrop:
		case NullKeep:
			if requiredColumns[col] {
				return fmt.Errorf("%w: column %q is required and cannot use %q", ErrInvalidRules, col, NullKeep)
			}
		case NullFill:
			if strings.TrimSpace(policy.FillValue) == "" {
				return fmt.Errorf("%w: column %q uses %q without fill_value", ErrInvalidRules, col, NullFill)
			}
		default:
			return fmt.Errorf("%w: column %q has unknown action %q", ErrInvalidRules, col, policy.Action)
		}
	}
	if len(r.TimestampLayouts) == 0 {
		return fmt.Errorf("%w: at least one timestamp layout is required", ErrInvalidRules)
	}
	return nil
}

// policy returns the null policy for col, defaulting to drop.
func (r Rules) policy(col Column) ColumnPolicy {
	if p, ok := r.NullPolicy[col]; ok {
		return p
	}
	return ColumnPolicy{Action: NullDrop}
}
