package handlers

import (
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/starfederation/datastar-go/datastar"

	"rfm-dashboard/internal/models"
	"rfm-dashboard/internal/services"
)

const maxTableRows = 50

// money is replaced per handler with the configured currency symbol.
var sseFuncs = template.FuncMap{
	"date":  func(t time.Time) string { return t.Format(time.DateOnly) },
	"money": func(d decimal.Decimal) string { return d.StringFixed(2) },
}

var summaryTemplate = template.Must(template.New("summary").Funcs(sseFuncs).Parse(`
<div id="summary-content" class="metrics">
<div class="metric"><span class="label">Total orders</span><strong>{{.Summary.TotalOrders}}</strong></div>
<div class="metric"><span class="label">Total revenue</span><strong>{{money .Summary.TotalRevenue}}</strong></div>
<div class="metric"><span class="label">Average recency (days)</span><strong>{{printf "%.1f" .Summary.AverageRecency}}</strong></div>
<div class="metric"><span class="label">Average frequency</span><strong>{{printf "%.2f" .Summary.AverageFrequency}}</strong></div>
<div class="metric"><span class="label">Average monetary</span><strong>{{money .Summary.AverageMonetary}}</strong></div>
<p class="range">{{date .Range.Start}} to {{date .Range.End}}</p>
</div>`))

var rfmTableTemplate = template.Must(template.New("rfmTable").Funcs(sseFuncs).Parse(`
<div id="rfm-content">
<table class="modern-table">
<thead><tr><th>Customer</th><th>Recency (days)</th><th>Frequency</th><th>Monetary</th></tr></thead>
<tbody>
{{range $i, $row := .Data}}{{if lt $i $.MaxRows}}<tr>
<td><code>{{.CustomerID}}</code></td>
<td>{{.Recency}}</td>
<td>{{.Frequency}}</td>
<td><strong>{{money .Monetary}}</strong></td>
</tr>{{end}}{{end}}
</tbody>
</table>
</div>`))

var errorTemplate = template.Must(template.New("error").Parse(
	`<div id="dashboard-error" class="error">{{.}}</div>`))

// emptyErrorElement replaces a banner left by an earlier failed request.
const emptyErrorElement = `<div id="dashboard-error"></div>`

// dashboardSignals are the Datastar signals sent by the date range form.
type dashboardSignals struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	Field     string `json:"geoField"`
	Sort      string `json:"rfmSort"`
}

type SSEHandlers struct {
	analytics *services.Analytics
	currency  string
	logger    *slog.Logger
}

func NewSSEHandlers(analytics *services.Analytics, currency string, logger *slog.Logger) *SSEHandlers {
	return &SSEHandlers{
		analytics: analytics,
		currency:  currency,
		logger:    logger,
	}
}

type templateData struct {
	Data    any
	MaxRows int
}

// formatMoney is display-only; the API always returns raw decimals.
func (h *SSEHandlers) formatMoney(d decimal.Decimal) string {
	return h.currency + " " + d.StringFixed(2)
}

func (h *SSEHandlers) render(tmpl *template.Template, data any) (string, error) {
	var buf strings.Builder
	clone, err := tmpl.Clone()
	if err != nil {
		return "", err
	}
	clone.Funcs(template.FuncMap{"money": h.formatMoney})
	if err := clone.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (h *SSEHandlers) renderRFMTable(rows []models.RFMRow) (string, error) {
	if len(rows) > maxTableRows {
		rows = rows[:maxTableRows]
	}
	return h.render(rfmTableTemplate, templateData{Data: rows, MaxRows: maxTableRows})
}

func (h *SSEHandlers) readRange(r *http.Request) (dashboardSignals, models.DateRange, error) {
	var signals dashboardSignals
	if err := datastar.ReadSignals(r, &signals); err != nil {
		return signals, models.DateRange{}, err
	}
	dr, err := resolveRange(h.analytics, signals.StartDate, signals.EndDate)
	return signals, dr, err
}

func (h *SSEHandlers) patchError(sse *datastar.ServerSentEventGenerator, err error) {
	h.logger.Warn("sse request failed", "error", err)

	var buf strings.Builder
	if execErr := errorTemplate.Execute(&buf, err.Error()); execErr != nil {
		h.logger.Error("render error element", "error", execErr)
		return
	}
	sse.PatchElements(buf.String())
}

func (h *SSEHandlers) clearError(sse *datastar.ServerSentEventGenerator) {
	sse.PatchElements(emptyErrorElement)
}

func (h *SSEHandlers) patchSignals(sse *datastar.ServerSentEventGenerator, signals map[string]any) {
	jsonData, err := json.Marshal(signals)
	if err != nil {
		h.logger.Error("marshal signals", "error", err)
		return
	}
	sse.PatchSignals(jsonData)
}

func flush(w http.ResponseWriter) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// HandleDashboard recomputes every view for the signalled date range.
func (h *SSEHandlers) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	_, dr, rangeErr := h.readRange(r)
	sse := datastar.NewSSE(w, r)
	defer flush(w)

	if rangeErr != nil {
		h.patchError(sse, rangeErr)
		return
	}

	dash, err := h.analytics.Dashboard(r.Context(), dr)
	if err != nil {
		h.patchError(sse, err)
		return
	}

	h.clearError(sse)

	summaryHTML, err := h.render(summaryTemplate, dash)
	if err != nil {
		h.logger.Error("render summary", "error", err)
		return
	}
	sse.PatchElements(summaryHTML)

	tableHTML, err := h.renderRFMTable(dash.TopByMonetary)
	if err != nil {
		h.logger.Error("render rfm table", "error", err)
		return
	}
	sse.PatchElements(tableHTML)

	h.patchSignals(sse, map[string]any{
		"startDate":       dr.Start.Format(time.DateOnly),
		"endDate":         dr.End.Format(time.DateOnly),
		"monthlyData":     dash.Monthly,
		"bestCategories":  dash.BestCategories,
		"worstCategories": dash.WorstCategories,
		"citiesData":      dash.TopCities,
		"statesData":      dash.TopStates,
		"rfmRecency":      dash.TopByRecency,
		"rfmFrequency":    dash.TopByFrequency,
		"rfmMonetary":     dash.TopByMonetary,
	})
}

func (h *SSEHandlers) HandleMonthly(w http.ResponseWriter, r *http.Request) {
	_, dr, rangeErr := h.readRange(r)
	sse := datastar.NewSSE(w, r)
	defer flush(w)

	if rangeErr != nil {
		h.patchError(sse, rangeErr)
		return
	}

	data, err := h.analytics.MonthlyMetrics(dr)
	if err != nil {
		h.patchError(sse, err)
		return
	}
	h.clearError(sse)
	h.patchSignals(sse, map[string]any{"monthlyData": data})
}

func (h *SSEHandlers) HandleCategories(w http.ResponseWriter, r *http.Request) {
	_, dr, rangeErr := h.readRange(r)
	sse := datastar.NewSSE(w, r)
	defer flush(w)

	if rangeErr != nil {
		h.patchError(sse, rangeErr)
		return
	}

	sales, err := h.analytics.CategorySales(dr)
	if err != nil {
		h.patchError(sse, err)
		return
	}
	h.clearError(sse)
	n := h.analytics.Limits().TopCategories
	h.patchSignals(sse, map[string]any{
		"bestCategories":  services.TopCategories(sales, n),
		"worstCategories": services.BottomCategories(sales, n),
	})
}

func (h *SSEHandlers) HandleGeo(w http.ResponseWriter, r *http.Request) {
	signals, dr, rangeErr := h.readRange(r)
	sse := datastar.NewSSE(w, r)
	defer flush(w)

	if rangeErr != nil {
		h.patchError(sse, rangeErr)
		return
	}

	field := models.GeoField(signals.Field)
	if field == "" {
		field = models.GeoCity
	}
	counts, err := h.analytics.GeoCounts(dr, field)
	if err != nil {
		h.patchError(sse, err)
		return
	}
	h.clearError(sse)
	h.patchSignals(sse, map[string]any{
		"geoField": field,
		"geoData":  services.TopGeo(counts, h.analytics.Limits().TopGeo),
	})
}

func (h *SSEHandlers) HandleRFM(w http.ResponseWriter, r *http.Request) {
	signals, dr, rangeErr := h.readRange(r)
	sse := datastar.NewSSE(w, r)
	defer flush(w)

	if rangeErr != nil {
		h.patchError(sse, rangeErr)
		return
	}

	metric := models.RFMMetric(signals.Sort)
	if !metric.Valid() {
		metric = models.ByMonetary
	}
	rows, err := h.analytics.RFM(dr)
	if err != nil {
		h.patchError(sse, err)
		return
	}

	html, err := h.renderRFMTable(services.SortRFM(rows, metric, h.analytics.Limits().TopCustomers))
	if err != nil {
		h.logger.Error("render rfm table", "error", err)
		return
	}
	h.clearError(sse)
	sse.PatchElements(html)
}
