package templates

import "encoding/json"

// DashboardProps seeds the page with the dataset bounds. Everything else
// arrives over /sse/dashboard.
type DashboardProps struct {
	Title     string
	Countries []string
	MinDate   string
	MaxDate   string
	Rows      int
	Ready     bool
}

// Signals is the initial Datastar signal object for the page.
func (p DashboardProps) Signals() string {
	b, _ := json.Marshal(map[string]any{
		"countries":    []string{},
		"from":         p.MinDate,
		"to":           p.MaxDate,
		"granularity":  "day",
		"page":         0,
		"seriesData":   []any{},
		"sharesData":   []any{},
		"productsData": []any{},
	})
	return string(b)
}

func (p DashboardProps) title() string {
	if p.Title == "" {
		return "Online Retail Dashboard"
	}
	return p.Title
}
