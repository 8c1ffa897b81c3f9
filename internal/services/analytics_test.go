package services

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"rfm-dashboard/internal/config"
	"rfm-dashboard/internal/errors"
	"rfm-dashboard/internal/models"
)

var testLimits = config.DashboardConfig{TopCategories: 5, TopGeo: 10, TopCustomers: 5}

func newTestAnalytics(scope config.GeoScope) *Analytics {
	rows := append(scenarioRows(),
		line("C", "3", "Z", "garden", 4, "99.90", ts(2020, 3, 20)),
	)
	return NewAnalytics(NewDataset(rows), config.DatasetConfig{GeoScope: scope}, testLimits, quietLogger())
}

func TestNewAnalytics(t *testing.T) {
	a := NewAnalytics(NewDataset(nil), config.DatasetConfig{}, testLimits, nil)
	if a == nil {
		t.Fatal("NewAnalytics() returned nil")
	}
	if a.logger == nil {
		t.Error("logger should default to slog.Default()")
	}
	if a.GeoScope() != config.GeoScopeFull {
		t.Errorf("GeoScope() = %q, want %q", a.GeoScope(), config.GeoScopeFull)
	}
}

func TestAnalytics_NormalizeRange(t *testing.T) {
	a := newTestAnalytics(config.GeoScopeFull)

	r, err := a.NormalizeRange(time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if !r.Start.Equal(time.Date(2020, 1, 5, 0, 0, 0, 0, time.UTC)) || !r.End.Equal(time.Date(2020, 3, 20, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("default range = %v..%v", r.Start, r.End)
	}

	r, err = a.NormalizeRange(time.Date(2020, 2, 1, 15, 0, 0, 0, time.UTC), time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if !r.Start.Equal(time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("start should be truncated to its day, got %v", r.Start)
	}

	_, err = a.NormalizeRange(time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC))
	if !errors.HasCode(err, errors.CodeBadRequest) {
		t.Errorf("inverted range error = %v, want BAD_REQUEST", err)
	}
}

func TestAnalytics_Dashboard(t *testing.T) {
	a := newTestAnalytics(config.GeoScopeFull)
	r, _ := a.NormalizeRange(time.Time{}, time.Time{})

	dash, err := a.Dashboard(context.Background(), r)
	if err != nil {
		t.Fatalf("Dashboard() error = %v", err)
	}

	if dash.Summary.TotalOrders != 3 {
		t.Errorf("TotalOrders = %d, want 3", dash.Summary.TotalOrders)
	}
	if !dash.Summary.TotalRevenue.Equal(decimal.RequireFromString("134.90")) {
		t.Errorf("TotalRevenue = %s, want 134.90", dash.Summary.TotalRevenue)
	}
	if len(dash.Monthly) != 3 {
		t.Errorf("Monthly has %d months, want 3", len(dash.Monthly))
	}
	if len(dash.BestCategories) == 0 || dash.BestCategories[0].Category != "garden" {
		t.Errorf("BestCategories = %+v, want garden first", dash.BestCategories)
	}
	if len(dash.WorstCategories) == 0 || dash.WorstCategories[0].Category != "books" {
		t.Errorf("WorstCategories = %+v, want books first", dash.WorstCategories)
	}
	if len(dash.TopByRecency) == 0 || dash.TopByRecency[0].CustomerID != "3" {
		t.Errorf("TopByRecency = %+v, want customer 3 first", dash.TopByRecency)
	}
	if len(dash.TopByMonetary) == 0 || dash.TopByMonetary[0].CustomerID != "3" {
		t.Errorf("TopByMonetary = %+v, want customer 3 first", dash.TopByMonetary)
	}
	if len(dash.TopCities) != 3 || len(dash.TopStates) != 3 {
		t.Errorf("TopCities = %d, TopStates = %d, want 3 each", len(dash.TopCities), len(dash.TopStates))
	}
}

func TestAnalytics_EmptyRange(t *testing.T) {
	a := newTestAnalytics(config.GeoScopeFiltered)
	r := models.DateRange{
		Start: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2021, 12, 31, 0, 0, 0, 0, time.UTC),
	}

	dash, err := a.Dashboard(context.Background(), r)
	if err != nil {
		t.Fatalf("Dashboard() on an empty range should not error, got %v", err)
	}

	views := map[string]int{
		"Monthly":         len(dash.Monthly),
		"BestCategories":  len(dash.BestCategories),
		"WorstCategories": len(dash.WorstCategories),
		"TopCities":       len(dash.TopCities),
		"TopStates":       len(dash.TopStates),
		"TopByRecency":    len(dash.TopByRecency),
		"TopByFrequency":  len(dash.TopByFrequency),
		"TopByMonetary":   len(dash.TopByMonetary),
	}
	for name, n := range views {
		if n != 0 {
			t.Errorf("%s has %d entries, want 0", name, n)
		}
	}

	if dash.Summary.TotalOrders != 0 || dash.Summary.Customers != 0 {
		t.Errorf("Summary = %+v, want zero orders and customers", dash.Summary)
	}
	if !dash.Summary.TotalRevenue.IsZero() {
		t.Errorf("TotalRevenue = %s, want 0", dash.Summary.TotalRevenue)
	}
}

func TestAnalytics_DashboardRepeatedCalls(t *testing.T) {
	a := newTestAnalytics(config.GeoScopeFull)
	r, _ := a.NormalizeRange(time.Time{}, time.Time{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		dash, err := a.Dashboard(ctx, r)
		if err != nil {
			t.Fatalf("Dashboard() call %d error = %v", i, err)
		}
		if dash == nil || len(dash.Monthly) != 3 {
			t.Fatalf("Dashboard() call %d = %+v, want 3 months", i, dash)
		}
	}
}

func TestAnalytics_DashboardCancelled(t *testing.T) {
	a := newTestAnalytics(config.GeoScopeFull)
	r, _ := a.NormalizeRange(time.Time{}, time.Time{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dash, err := a.Dashboard(ctx, r)
	if !stderrors.Is(err, context.Canceled) {
		t.Errorf("Dashboard() error = %v, want context.Canceled", err)
	}
	if dash != nil {
		t.Errorf("Dashboard() = %+v, want nil on a cancelled context", dash)
	}
}

func TestAnalytics_GeoScope(t *testing.T) {
	january := models.DateRange{
		Start: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2020, 1, 31, 0, 0, 0, 0, time.UTC),
	}

	tests := []struct {
		scope config.GeoScope
		want  int
	}{
		{config.GeoScopeFull, 3},
		{config.GeoScopeFiltered, 1},
	}

	for _, tt := range tests {
		t.Run(string(tt.scope), func(t *testing.T) {
			a := newTestAnalytics(tt.scope)
			got, err := a.GeoCounts(january, models.GeoCity)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != tt.want {
				t.Errorf("GeoCounts() returned %d cities, want %d", len(got), tt.want)
			}
		})
	}
}

func TestAnalytics_RFMUsesFilteredRows(t *testing.T) {
	a := newTestAnalytics(config.GeoScopeFull)
	r := models.DateRange{
		Start: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2020, 2, 28, 0, 0, 0, 0, time.UTC),
	}

	rfm, err := a.RFM(r)
	if err != nil {
		t.Fatal(err)
	}
	if len(rfm) != 2 {
		t.Fatalf("RFM() returned %d customers, want 2", len(rfm))
	}
	for _, row := range rfm {
		if row.CustomerID == "2" && row.Recency != 0 {
			t.Errorf("recency should be measured from the filtered max date, got %d", row.Recency)
		}
	}
}

func TestAnalytics_Summary(t *testing.T) {
	a := newTestAnalytics(config.GeoScopeFull)
	r, _ := a.NormalizeRange(time.Time{}, time.Time{})

	summary, err := a.Summary(r)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Customers != 3 || summary.TotalOrders != 3 {
		t.Errorf("Summary() = %+v", summary)
	}
}

func TestAnalytics_ConcurrentAccess(t *testing.T) {
	a := newTestAnalytics(config.GeoScopeFull)
	r, _ := a.NormalizeRange(time.Time{}, time.Time{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := a.Dashboard(context.Background(), r); err != nil {
				t.Errorf("Dashboard() error = %v", err)
			}
			_, _ = a.CategorySales(r)
			_ = a.Stats()
		}()
	}
	wg.Wait()

	if got := a.Stats()["dashboard_builds"]; got != int64(10) {
		t.Errorf("dashboard_builds = %v, want 10", got)
	}
}

func TestAnalytics_Stats(t *testing.T) {
	a := newTestAnalytics(config.GeoScopeFiltered)
	stats := a.Stats()

	if stats["record_count"] != 4 {
		t.Errorf("record_count = %v, want 4", stats["record_count"])
	}
	if stats["first_purchase"] != "2020-01-05" || stats["last_purchase"] != "2020-03-20" {
		t.Errorf("purchase bounds = %v..%v", stats["first_purchase"], stats["last_purchase"])
	}
	if stats["geo_scope"] != config.GeoScopeFiltered {
		t.Errorf("geo_scope = %v", stats["geo_scope"])
	}
}
