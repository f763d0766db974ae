package models

import (
	"fmt"
	"strings"
	"time"
)

const (
	DateLayout  = "2006-01-02"
	MonthLayout = "2006-01"

	DefaultTopN = 5
)

type Granularity string

const (
	GranularityDay   Granularity = "day"
	GranularityMonth Granularity = "month"
)

func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "day", "daily", "d":
		return GranularityDay, nil
	case "month", "monthly", "m":
		return GranularityMonth, nil
	default:
		return "", fmt.Errorf("unknown granularity %q", s)
	}
}

// Selection is the user's filter state. Empty Countries, or any entry
// naming "all", means every country. Zero From/To are unbounded.
type Selection struct {
	Countries   []string    `json:"countries"`
	From        time.Time   `json:"from"`
	To          time.Time   `json:"to"`
	Granularity Granularity `json:"granularity"`
	TopN        int         `json:"top_n"`
}

// AllCountries reports whether the selection places no country restriction.
func (s Selection) AllCountries() bool {
	if len(s.Countries) == 0 {
		return true
	}
	for _, c := range s.Countries {
		switch strings.ToLower(strings.TrimSpace(c)) {
		case "all", "select all", "*":
			return true
		}
	}
	return false
}

// CountrySet returns the lower-cased selected countries, or nil for all.
func (s Selection) CountrySet() map[string]struct{} {
	if s.AllCountries() {
		return nil
	}
	set := make(map[string]struct{}, len(s.Countries))
	for _, c := range s.Countries {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" {
			set[c] = struct{}{}
		}
	}
	return set
}

// Contains reports whether day (a UTC calendar date) falls in the inclusive range.
func (s Selection) Contains(day time.Time) bool {
	if !s.From.IsZero() && day.Before(truncateDay(s.From)) {
		return false
	}
	if !s.To.IsZero() && day.After(truncateDay(s.To)) {
		return false
	}
	return true
}

func (s Selection) Validate() error {
	if !s.From.IsZero() && !s.To.IsZero() && truncateDay(s.From).After(truncateDay(s.To)) {
		return fmt.Errorf("date range start %s is after end %s", s.From.Format(DateLayout), s.To.Format(DateLayout))
	}
	if s.TopN < 0 {
		return fmt.Errorf("top n must not be negative, got %d", s.TopN)
	}
	return nil
}

// Normalized fills defaults for granularity and top N.
func (s Selection) Normalized() Selection {
	if s.Granularity == "" {
		s.Granularity = GranularityDay
	}
	if s.TopN == 0 {
		s.TopN = DefaultTopN
	}
	return s
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
