package handlers

import (
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/starfederation/datastar-go/datastar"

	"retail-dashboard/internal/models"
	"retail-dashboard/internal/services"
)

const emptyNotice = "No data available for these filters."

var kpiTemplate = template.Must(template.New("kpis").Parse(`
<div id="kpis" class="kpi-grid">
<div class="kpi"><span class="kpi-label">Total Revenue</span><span class="kpi-value" id="kpi-revenue">{{.Revenue}}</span></div>
<div class="kpi"><span class="kpi-label">Total Orders</span><span class="kpi-value" id="kpi-orders">{{.Orders}}</span></div>
<div class="kpi"><span class="kpi-label">Avg. Order Value</span><span class="kpi-value" id="kpi-aov">{{.AOV}}</span></div>
</div>`))

var tableTemplate = template.Must(template.New("transactions").Parse(`
<div id="transactions-table">
<table class="modern-table">
<thead><tr><th>Invoice</th><th>Date</th><th>Stock Code</th><th>Description</th><th>Qty</th><th>Unit Price</th><th>Revenue</th><th>Customer</th><th>Country</th></tr></thead>
<tbody>
{{range .Rows}}<tr>
<td>{{.Invoice}}</td>
<td>{{.InvoiceDate.Format "2006-01-02 15:04"}}</td>
<td>{{.StockCode}}</td>
<td>{{.Description}}</td>
<td>{{.Quantity}}</td>
<td>{{printf "%.2f" .UnitPrice}}</td>
<td><strong>{{printf "%.2f" .Revenue}}</strong></td>
<td>{{.CustomerID}}</td>
<td>{{.Country}}</td>
</tr>{{end}}
</tbody>
</table>
<p class="table-footer">{{.Caption}}</p>
</div>`))

var noticeTemplate = template.Must(template.New("notice").Parse(
	`<div id="notice" class="notice{{if .}} notice-visible{{end}}">{{.}}</div>`))

type SSEHandlers struct {
	analytics *services.Analytics
	logger    *slog.Logger
	tableRows int
}

func NewSSEHandlers(analytics *services.Analytics, logger *slog.Logger, tableRows int) *SSEHandlers {
	return &SSEHandlers{
		analytics: analytics,
		logger:    logger,
		tableRows: tableRows,
	}
}

type kpiView struct {
	Revenue string
	Orders  string
	AOV     string
}

func renderKPIs(k models.KPIs) (string, error) {
	var buf strings.Builder
	err := kpiTemplate.Execute(&buf, kpiView{
		Revenue: formatPounds(k.TotalRevenue),
		Orders:  formatCount(k.OrderCount),
		AOV:     formatPence(k.AverageOrderValue),
	})
	return buf.String(), err
}

func renderTable(page models.TransactionPage) (string, error) {
	caption := "No rows"
	if page.Total > 0 {
		first := min(page.Offset+1, page.Total)
		last := min(page.Offset+len(page.Rows), page.Total)
		caption = "Rows " + formatCount(first) + " to " + formatCount(last) + " of " + formatCount(page.Total)
	}

	var buf strings.Builder
	err := tableTemplate.Execute(&buf, struct {
		Rows    []models.Transaction
		Caption string
	}{page.Rows, caption})
	return buf.String(), err
}

func renderNotice(msg string) (string, error) {
	var buf strings.Builder
	err := noticeTemplate.Execute(&buf, msg)
	return buf.String(), err
}

// HandleDashboard recomputes every panel for the filter signals sent by
// the page and patches KPIs, chart data, table and notice in one stream.
func (h *SSEHandlers) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	var params selectionParams
	readErr := datastar.ReadSignals(r, &params)

	sse := datastar.NewSSE(w, r)

	if readErr != nil {
		h.logger.WarnContext(r.Context(), "read signals", "error", readErr)
		h.patchNotice(sse, r, "Could not read the filter selection.")
		return
	}

	sel, appErr := params.toSelection()
	if appErr != nil {
		h.patchNotice(sse, r, appErr.Message+".")
		return
	}

	result, err := h.analytics.Query(r.Context(), sel)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "dashboard query", "error", err)
		h.patchNotice(sse, r, toAppError(err).Message+".")
		return
	}

	kpis, err := renderKPIs(result.KPIs)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "render kpis", "error", err)
		return
	}
	if err := sse.PatchElements(kpis); err != nil {
		h.logger.DebugContext(r.Context(), "client went away", "error", err)
		return
	}

	signals, err := json.Marshal(map[string]any{
		"seriesData":   result.RevenueSeries,
		"sharesData":   result.CountryShares,
		"productsData": result.TopProducts,
		"granularity":  result.Granularity,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "marshal chart signals", "error", err)
		return
	}
	if err := sse.PatchSignals(signals); err != nil {
		return
	}

	page, err := h.analytics.Transactions(r.Context(), sel, h.tableRows, max(params.Page, 0)*h.tableRows)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "transactions page", "error", err)
	} else if table, err := renderTable(page); err != nil {
		h.logger.ErrorContext(r.Context(), "render table", "error", err)
	} else if err := sse.PatchElements(table); err != nil {
		return
	}

	notice := ""
	if result.Empty() {
		notice = emptyNotice
	}
	h.patchNotice(sse, r, notice)
}

func (h *SSEHandlers) patchNotice(sse *datastar.ServerSentEventGenerator, r *http.Request, msg string) {
	html, err := renderNotice(msg)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "render notice", "error", err)
		return
	}
	if err := sse.PatchElements(html); err != nil {
		h.logger.DebugContext(r.Context(), "client went away", "error", err)
	}
}
