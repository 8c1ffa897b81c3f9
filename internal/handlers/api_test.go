package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"rfm-dashboard/internal/config"
	"rfm-dashboard/internal/models"
	"rfm-dashboard/internal/observability"
	"rfm-dashboard/internal/services"
)

func orderLine(order, customer, city, state, category string, items int, price string, at time.Time) models.OrderLine {
	return models.OrderLine{
		OrderID:           order,
		CustomerID:        customer,
		CustomerCity:      city,
		CustomerState:     state,
		CategoryName:      category,
		OrderItemID:       items,
		TotalPrice:        decimal.RequireFromString(price),
		PurchaseTimestamp: at,
	}
}

func createTestAnalytics() *services.Analytics {
	rows := []models.OrderLine{
		orderLine("A", "1", "sao paulo", "SP", "toys", 2, "10.00", time.Date(2020, 1, 5, 9, 0, 0, 0, time.UTC)),
		orderLine("A", "1", "sao paulo", "SP", "toys", 1, "5.00", time.Date(2020, 1, 5, 9, 0, 0, 0, time.UTC)),
		orderLine("B", "2", "rio de janeiro", "RJ", "books", 1, "20.00", time.Date(2020, 2, 10, 14, 0, 0, 0, time.UTC)),
		orderLine("C", "3", "curitiba", "PR", "garden", 4, "99.90", time.Date(2020, 3, 20, 18, 0, 0, 0, time.UTC)),
	}
	return services.NewAnalytics(
		services.NewDataset(rows),
		config.DatasetConfig{GeoScope: config.GeoScopeFull, Currency: "R$"},
		config.DashboardConfig{TopCategories: 5, TopGeo: 10, TopCustomers: 5},
		testLogger(),
	)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.NewDecoder(w.Body).Decode(&env); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}
	return env
}

// serveAPI routes through a mux so path values are populated.
func serveAPI(h *APIHandlers, target string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/dashboard", h.HandleDashboard)
	mux.HandleFunc("GET /api/summary", h.HandleSummary)
	mux.HandleFunc("GET /api/monthly", h.HandleMonthly)
	mux.HandleFunc("GET /api/categories", h.HandleCategories)
	mux.HandleFunc("GET /api/geo/{field}", h.HandleGeo)
	mux.HandleFunc("GET /api/rfm", h.HandleRFM)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestNewAPIHandlers(t *testing.T) {
	analytics := createTestAnalytics()
	handlers := NewAPIHandlers(analytics, testLogger())

	if handlers == nil {
		t.Fatal("NewAPIHandlers() returned nil")
	}
	if handlers.analytics != analytics {
		t.Error("NewAPIHandlers() should set analytics field")
	}
}

func TestAPIHandlers_HandleMonthly(t *testing.T) {
	h := NewAPIHandlers(createTestAnalytics(), testLogger())

	w := serveAPI(h, "/api/monthly?start=2020-01-01&end=2020-02-29")

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected content-type 'application/json', got %q", ct)
	}
	if cc := w.Header().Get("Cache-Control"); cc != "public, max-age=300" {
		t.Errorf("expected cache-control 'public, max-age=300', got %q", cc)
	}

	env := decodeEnvelope(t, w)
	var data []struct {
		Month      string `json:"month"`
		OrderCount int    `json:"order_count"`
		Revenue    string `json:"revenue"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if len(data) != 2 {
		t.Fatalf("expected 2 months, got %d", len(data))
	}
	if data[0].Month != "2020-01" || data[0].OrderCount != 1 || data[0].Revenue != "15" {
		t.Errorf("unexpected first month: %+v", data[0])
	}
	if data[1].Month != "2020-02" {
		t.Errorf("months should be ascending, got %q second", data[1].Month)
	}
}

func TestAPIHandlers_HandleCategories(t *testing.T) {
	h := NewAPIHandlers(createTestAnalytics(), testLogger())

	tests := []struct {
		target string
		want   []string
	}{
		{"/api/categories", []string{"garden", "toys", "books"}},
		{"/api/categories?limit=1", []string{"garden"}},
		{"/api/categories?order=worst&limit=2", []string{"books", "toys"}},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			w := serveAPI(h, tt.target)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}

			var data []models.CategorySales
			if err := json.Unmarshal(decodeEnvelope(t, w).Data, &data); err != nil {
				t.Fatal(err)
			}
			var got []string
			for _, s := range data {
				got = append(got, s.Category)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("categories = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAPIHandlers_HandleGeo(t *testing.T) {
	h := NewAPIHandlers(createTestAnalytics(), testLogger())

	w := serveAPI(h, "/api/geo/state?limit=2")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var data []models.GeoCount
	if err := json.Unmarshal(decodeEnvelope(t, w).Data, &data); err != nil {
		t.Fatal(err)
	}
	if len(data) != 2 {
		t.Errorf("expected 2 states, got %d", len(data))
	}

	w = serveAPI(h, "/api/geo/country")
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown field status = %d, want 400", w.Code)
	}
}

func TestAPIHandlers_HandleRFM(t *testing.T) {
	h := NewAPIHandlers(createTestAnalytics(), testLogger())

	w := serveAPI(h, "/api/rfm?sort=monetary&limit=2")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var data []struct {
		CustomerID string `json:"customer_id"`
		Recency    int    `json:"recency"`
		Frequency  int    `json:"frequency"`
		Monetary   string `json:"monetary"`
	}
	if err := json.Unmarshal(decodeEnvelope(t, w).Data, &data); err != nil {
		t.Fatal(err)
	}
	if len(data) != 2 || data[0].CustomerID != "3" || data[0].Monetary != "99.9" {
		t.Errorf("unexpected rfm rows: %+v", data)
	}

	w = serveAPI(h, "/api/rfm")
	var all []models.RFMRow
	if err := json.Unmarshal(decodeEnvelope(t, w).Data, &all); err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 customers, got %d", len(all))
	}
	for _, row := range all {
		if row.CustomerID == "1" && row.Recency != 75 {
			t.Errorf("customer 1 recency = %d, want 75", row.Recency)
		}
	}
}

func TestAPIHandlers_HandleSummaryAndDashboard(t *testing.T) {
	h := NewAPIHandlers(createTestAnalytics(), testLogger())

	w := serveAPI(h, "/api/summary")
	if w.Code != http.StatusOK {
		t.Fatalf("summary status = %d", w.Code)
	}
	var summary models.Summary
	if err := json.Unmarshal(decodeEnvelope(t, w).Data, &summary); err != nil {
		t.Fatal(err)
	}
	if summary.TotalOrders != 3 || !summary.TotalRevenue.Equal(decimal.RequireFromString("134.9")) {
		t.Errorf("unexpected summary: %+v", summary)
	}

	w = serveAPI(h, "/api/dashboard?start=2020-03-01")
	if w.Code != http.StatusOK {
		t.Fatalf("dashboard status = %d", w.Code)
	}
	var dash models.Dashboard
	if err := json.Unmarshal(decodeEnvelope(t, w).Data, &dash); err != nil {
		t.Fatal(err)
	}
	if len(dash.Monthly) != 1 || dash.Summary.Customers != 1 {
		t.Errorf("dashboard from 2020-03-01 = %+v", dash)
	}
}

func TestAPIHandlers_EmptyRange(t *testing.T) {
	h := NewAPIHandlers(createTestAnalytics(), testLogger())

	for _, target := range []string{
		"/api/monthly?start=2021-01-01&end=2021-12-31",
		"/api/categories?start=2021-01-01&end=2021-12-31",
		"/api/rfm?start=2021-01-01&end=2021-12-31",
	} {
		w := serveAPI(h, target)
		if w.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", target, w.Code)
			continue
		}
		if data := strings.TrimSpace(string(decodeEnvelope(t, w).Data)); data != "[]" {
			t.Errorf("%s: data = %s, want []", target, data)
		}
	}
}

func TestAPIHandlers_BadRequests(t *testing.T) {
	h := NewAPIHandlers(createTestAnalytics(), testLogger())

	tests := []string{
		"/api/monthly?start=01/02/2020",
		"/api/monthly?start=2020-03-01&end=2020-01-01",
		"/api/categories?order=middle",
		"/api/categories?limit=-1",
		"/api/rfm?sort=age",
		"/api/rfm?limit=many",
	}

	for _, target := range tests {
		t.Run(target, func(t *testing.T) {
			w := serveAPI(h, target)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			env := decodeEnvelope(t, w)
			if env.Success || env.Error == nil || env.Error.Code != "BAD_REQUEST" {
				t.Errorf("unexpected envelope: %+v", env)
			}
		})
	}
}

func TestAPIHandlers_HandleHealth(t *testing.T) {
	h := NewAPIHandlers(createTestAnalytics(), testLogger())

	w := httptest.NewRecorder()
	h.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if cc := w.Header().Get("Cache-Control"); cc != "" {
		t.Errorf("health endpoint should not set cache-control, got %q", cc)
	}

	var data map[string]string
	if err := json.Unmarshal(decodeEnvelope(t, w).Data, &data); err != nil {
		t.Fatal(err)
	}
	if data["status"] != "healthy" {
		t.Errorf("expected status 'healthy', got %q", data["status"])
	}
	if _, err := time.Parse(time.RFC3339, data["timestamp"]); err != nil {
		t.Errorf("invalid timestamp format: %v", err)
	}
}

func TestAPIHandlers_HandleHealth_NoData(t *testing.T) {
	analytics := services.NewAnalytics(
		services.NewDataset(nil),
		config.DatasetConfig{GeoScope: config.GeoScopeFull, Currency: "R$"},
		config.DashboardConfig{TopCategories: 5, TopGeo: 10, TopCustomers: 5},
		testLogger(),
	)
	h := NewAPIHandlers(analytics, testLogger())

	w := httptest.NewRecorder()
	h.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
	env := decodeEnvelope(t, w)
	if env.Success {
		t.Error("expected success=false")
	}
	if env.Error == nil || env.Error.Code != "SERVICE_UNAVAILABLE" {
		t.Errorf("expected SERVICE_UNAVAILABLE, got %+v", env.Error)
	}
}

func TestAPIHandlers_HandleStats(t *testing.T) {
	h := NewAPIHandlers(createTestAnalytics(), testLogger())

	w := httptest.NewRecorder()
	h.HandleStats(w, httptest.NewRequest(http.MethodGet, "/admin/stats", nil))

	var data map[string]any
	if err := json.Unmarshal(decodeEnvelope(t, w).Data, &data); err != nil {
		t.Fatal(err)
	}
	if data["record_count"] != float64(4) {
		t.Errorf("record_count = %v, want 4", data["record_count"])
	}
	if data["last_purchase"] != "2020-03-20" {
		t.Errorf("last_purchase = %v", data["last_purchase"])
	}
}

func TestAPIHandlers_LogsViewSpan(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := NewAPIHandlers(createTestAnalytics(), logger)

	ctx, parent := observability.StartSpan(context.Background(), "GET /api/monthly")
	r := httptest.NewRequest(http.MethodGet, "/api/monthly", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	h.HandleMonthly(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	out := logs.String()
	for _, want := range []string{"span finished", "operation=view.monthly", "parent_id=" + parent.SpanID, "trace_id=" + parent.TraceID} {
		if !strings.Contains(out, want) {
			t.Errorf("log output should contain %q, got:\n%s", want, out)
		}
	}
}

func TestAPIHandlers_ViewSpanRecordsError(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := NewAPIHandlers(createTestAnalytics(), logger)

	w := serveAPI(h, "/api/rfm?sort=loyalty")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(logs.String(), "status=ERROR") {
		t.Errorf("failed view span should be logged with status=ERROR, got:\n%s", logs.String())
	}
}
