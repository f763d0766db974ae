package handlers

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"retail-dashboard/internal/errors"
	"retail-dashboard/internal/models"
)

func TestParamsFromQuery(t *testing.T) {
	q := url.Values{
		"country":     {"United Kingdom, France", "EIRE", " "},
		"from":        {"2010-12-01"},
		"to":          {"2011-01-31"},
		"granularity": {"month"},
	}

	sel, appErr := paramsFromQuery(q).toSelection()
	if appErr != nil {
		t.Fatalf("toSelection() failed: %v", appErr)
	}

	if got := len(sel.Countries); got != 3 {
		t.Errorf("countries = %v, want 3 entries", sel.Countries)
	}
	if !sel.From.Equal(time.Date(2010, 12, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("from = %v", sel.From)
	}
	if !sel.To.Equal(time.Date(2011, 1, 31, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("to = %v", sel.To)
	}
	if sel.Granularity != models.GranularityMonth {
		t.Errorf("granularity = %q, want month", sel.Granularity)
	}
}

func TestToSelection_Errors(t *testing.T) {
	tests := []struct {
		name   string
		params selectionParams
		code   errors.ErrorCode
	}{
		{"bad from", selectionParams{From: "2010-13-01"}, errors.CodeBadRequest},
		{"bad to", selectionParams{To: "tomorrow"}, errors.CodeBadRequest},
		{"bad granularity", selectionParams{Granularity: "hour"}, errors.CodeBadRequest},
		{"reversed", selectionParams{From: "2011-01-02", To: "2011-01-01"}, errors.CodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, appErr := tt.params.toSelection()
			if appErr == nil {
				t.Fatal("expected an error")
			}
			if appErr.Code != tt.code {
				t.Errorf("code = %s, want %s", appErr.Code, tt.code)
			}
			if appErr.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", appErr.StatusCode)
			}
		})
	}
}

func TestToSelection_EmptyIsEverything(t *testing.T) {
	sel, appErr := selectionParams{}.toSelection()
	if appErr != nil {
		t.Fatal(appErr)
	}
	if len(sel.Countries) != 0 || !sel.From.IsZero() || !sel.To.IsZero() {
		t.Errorf("empty params should select everything, got %+v", sel)
	}
	if sel.Granularity != models.GranularityDay {
		t.Errorf("granularity = %q, want day", sel.Granularity)
	}
}

func TestIntParam(t *testing.T) {
	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{"", 7, false},
		{"0", 0, false},
		{" 25 ", 25, false},
		{"-1", 0, true},
		{"ten", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, appErr := intParam(url.Values{"limit": {tt.raw}}, "limit", 7)
			if (appErr != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", appErr, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}
