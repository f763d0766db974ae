package handlers

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"retail-dashboard/internal/models"
	"retail-dashboard/internal/services"
)

func dashboardStream(t *testing.T, h *SSEHandlers, signals string) string {
	t.Helper()
	target := "/sse/dashboard"
	if signals != "" {
		target += "?datastar=" + url.QueryEscape(signals)
	}
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()

	h.HandleDashboard(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	return w.Body.String()
}

func TestNewSSEHandlers(t *testing.T) {
	analytics := createTestAnalytics()
	logger := quietLogger()

	handlers := NewSSEHandlers(analytics, logger, 10)

	if handlers == nil {
		t.Fatal("NewSSEHandlers() returned nil")
	}
	if handlers.analytics != analytics {
		t.Error("NewSSEHandlers() should set analytics field")
	}
	if handlers.logger != logger {
		t.Error("NewSSEHandlers() should set logger field")
	}
}

func TestRenderKPIs(t *testing.T) {
	html, err := renderKPIs(models.KPIs{TotalRevenue: 1234567.4, OrderCount: 23456, AverageOrderValue: 52.631})
	if err != nil {
		t.Fatalf("renderKPIs() failed: %v", err)
	}

	for _, want := range []string{`id="kpis"`, "£1,234,567", "23,456", "£52.63"} {
		if !strings.Contains(html, want) {
			t.Errorf("KPI fragment should contain %q:\n%s", want, html)
		}
	}
}

func TestRenderTable(t *testing.T) {
	page := models.TransactionPage{
		Rows:   testTransactions()[:2],
		Total:  4,
		Limit:  2,
		Offset: 2,
	}

	html, err := renderTable(page)
	if err != nil {
		t.Fatalf("renderTable() failed: %v", err)
	}

	for _, want := range []string{`id="transactions-table"`, "<table", "Lantern", "2010-12-01 09:00", "60.00", "Rows 3 to 4 of 4"} {
		if !strings.Contains(html, want) {
			t.Errorf("table fragment should contain %q", want)
		}
	}
}

func TestRenderTable_Empty(t *testing.T) {
	html, err := renderTable(models.TransactionPage{Rows: []models.Transaction{}})
	if err != nil {
		t.Fatalf("renderTable() failed: %v", err)
	}
	if !strings.Contains(html, "No rows") {
		t.Error("empty table should say there are no rows")
	}
	if strings.Contains(html, "<td>") {
		t.Error("empty table should have no cells")
	}
}

func TestRenderTable_EscapesText(t *testing.T) {
	rows := []models.Transaction{{Invoice: "1", Description: `<script>alert("x")</script>`}}

	html, err := renderTable(models.TransactionPage{Rows: rows, Total: 1})
	if err != nil {
		t.Fatalf("renderTable() failed: %v", err)
	}
	if strings.Contains(html, "<script>") {
		t.Error("descriptions must be HTML escaped")
	}
}

func TestRenderNotice(t *testing.T) {
	hidden, err := renderNotice("")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(hidden, "notice-visible") {
		t.Error("an empty notice should stay hidden")
	}

	shown, err := renderNotice(emptyNotice)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(shown, "notice-visible") || !strings.Contains(shown, emptyNotice) {
		t.Errorf("notice = %q", shown)
	}
}

func TestSSEHandlers_HandleDashboard(t *testing.T) {
	handlers := NewSSEHandlers(createTestAnalytics(), quietLogger(), 50)

	tests := []struct {
		name    string
		signals string
		want    []string
		notWant []string
	}{
		{
			name:    "no signals means everything",
			signals: "",
			want:    []string{"kpi-revenue", "£180", "£60.00", "seriesData", "sharesData", "productsData", "transactions-table", "Rows 1 to 4 of 4"},
			notWant: []string{emptyNotice},
		},
		{
			name:    "single country",
			signals: `{"countries":["France"],"from":"","to":"","granularity":"day","page":0}`,
			want:    []string{"£30", "Mug", "Rows 1 to 1 of 1"},
			notWant: []string{"Lantern"},
		},
		{
			name:    "select all",
			signals: `{"countries":["Select All"],"granularity":"month"}`,
			want:    []string{"£180", "2010-12"},
		},
		{
			name:    "no match",
			signals: `{"countries":["Germany"]}`,
			want:    []string{"£0", emptyNotice, "No rows"},
		},
		{
			name:    "bad date",
			signals: `{"from":"01/12/2010"}`,
			want:    []string{"Invalid from date", "notice-visible"},
			notWant: []string{"kpi-revenue"},
		},
		{
			name:    "reversed range",
			signals: `{"from":"2010-12-03","to":"2010-12-01"}`,
			want:    []string{"From date must not be after to date."},
			notWant: []string{"kpi-revenue"},
		},
		{
			name:    "malformed signals",
			signals: `{"countries":`,
			want:    []string{"Could not read the filter selection."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := dashboardStream(t, handlers, tt.signals)

			for _, want := range tt.want {
				if !strings.Contains(body, want) {
					t.Errorf("stream should contain %q:\n%s", want, body)
				}
			}
			for _, notWant := range tt.notWant {
				if strings.Contains(body, notWant) {
					t.Errorf("stream should not contain %q", notWant)
				}
			}
		})
	}
}

func TestSSEHandlers_HandleDashboardPaging(t *testing.T) {
	handlers := NewSSEHandlers(createTestAnalytics(), quietLogger(), 2)

	body := dashboardStream(t, handlers, `{"page":1}`)

	if !strings.Contains(body, "Rows 3 to 4 of 4") {
		t.Errorf("second page caption missing:\n%s", body)
	}
	if strings.Contains(body, "<td>1001</td>") {
		t.Error("second page should not repeat the first rows")
	}
}

func TestSSEHandlers_HandleDashboardNotReady(t *testing.T) {
	handlers := NewSSEHandlers(services.NewAnalytics(services.Options{Logger: quietLogger()}), quietLogger(), 50)

	body := dashboardStream(t, handlers, "")

	if !strings.Contains(body, "Dataset is not loaded yet.") {
		t.Errorf("stream should explain the dataset is missing:\n%s", body)
	}
}
