package services

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"rfm-dashboard/internal/config"
	"rfm-dashboard/internal/errors"
	"rfm-dashboard/internal/models"
)

// Analytics applies the dashboard's policies on top of the aggregation
// functions: which rows each view sees, default date range and top-N cuts.
// It holds no mutable state besides a request counter; every call
// recomputes from the dataset.
type Analytics struct {
	dataset  *Dataset
	geoScope config.GeoScope
	limits   config.DashboardConfig
	logger   *slog.Logger
	builds   atomic.Int64
}

func NewAnalytics(dataset *Dataset, datasetCfg config.DatasetConfig, limits config.DashboardConfig, logger *slog.Logger) *Analytics {
	if logger == nil {
		logger = slog.Default()
	}
	scope := datasetCfg.GeoScope
	if scope == "" {
		scope = config.GeoScopeFull
	}
	return &Analytics{
		dataset:  dataset,
		geoScope: scope,
		limits:   limits,
		logger:   logger,
	}
}

func (a *Analytics) Limits() config.DashboardConfig {
	return a.limits
}

func (a *Analytics) GeoScope() config.GeoScope {
	return a.geoScope
}

// Ready reports whether there is any order data to aggregate.
func (a *Analytics) Ready() bool {
	return a.dataset.Len() > 0
}

// NormalizeRange fills a zero start or end with the dataset's first or last
// purchase date.
func (a *Analytics) NormalizeRange(start, end time.Time) (models.DateRange, error) {
	bounds, _ := a.dataset.Bounds()
	if start.IsZero() {
		start = bounds.Start
	}
	if end.IsZero() {
		end = bounds.End
	}

	r := models.DateRange{Start: models.TruncateDay(start), End: models.TruncateDay(end)}
	if r.Start.After(r.End) {
		return models.DateRange{}, errors.BadRequest("start date must not be after end date")
	}
	return r, nil
}

func (a *Analytics) MonthlyMetrics(r models.DateRange) ([]models.MonthlyMetric, error) {
	result, err := MonthlyMetrics(a.dataset.Filter(r))
	a.observe("monthly", r, len(result), err)
	return result, err
}

func (a *Analytics) CategorySales(r models.DateRange) ([]models.CategorySales, error) {
	result, err := CategorySales(a.dataset.Filter(r))
	a.observe("categories", r, len(result), err)
	return result, err
}

// GeoCounts uses the whole dataset or only the rows in r depending on the
// configured geo scope.
func (a *Analytics) GeoCounts(r models.DateRange, field models.GeoField) ([]models.GeoCount, error) {
	result, err := GeoCounts(a.geoRows(r), field)
	a.observe("geo_"+string(field), r, len(result), err)
	return result, err
}

func (a *Analytics) RFM(r models.DateRange) ([]models.RFMRow, error) {
	result, err := RFM(a.dataset.Filter(r))
	a.observe("rfm", r, len(result), err)
	return result, err
}

func (a *Analytics) Summary(r models.DateRange) (models.Summary, error) {
	rows := a.dataset.Filter(r)
	monthly, err := MonthlyMetrics(rows)
	if err != nil {
		return models.Summary{}, err
	}
	rfm, err := RFM(rows)
	if err != nil {
		return models.Summary{}, err
	}
	return Summarize(monthly, rfm), nil
}

// Dashboard computes every view for r. The independent aggregations run
// concurrently over the same read-only rows.
func (a *Analytics) Dashboard(ctx context.Context, r models.DateRange) (*models.Dashboard, error) {
	start := time.Now()
	a.builds.Add(1)

	var (
		monthly    []models.MonthlyMetric
		categories []models.CategorySales
		cities     []models.GeoCount
		states     []models.GeoCount
		rfm        []models.RFMRow
	)

	g, gctx := errgroup.WithContext(ctx)
	run := func(fn func() error) {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn()
		})
	}
	run(func() error {
		var err error
		monthly, err = a.MonthlyMetrics(r)
		return err
	})
	run(func() error {
		var err error
		categories, err = a.CategorySales(r)
		return err
	})
	run(func() error {
		var err error
		cities, err = a.GeoCounts(r, models.GeoCity)
		return err
	})
	run(func() error {
		var err error
		states, err = a.GeoCounts(r, models.GeoState)
		return err
	})
	run(func() error {
		var err error
		rfm, err = a.RFM(r)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	// gctx is always cancelled once Wait returns; only the caller's ctx
	// says whether the request was abandoned.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dash := &models.Dashboard{
		Range:           r,
		Summary:         Summarize(monthly, rfm),
		Monthly:         monthly,
		BestCategories:  TopCategories(categories, a.limits.TopCategories),
		WorstCategories: BottomCategories(categories, a.limits.TopCategories),
		TopCities:       TopGeo(cities, a.limits.TopGeo),
		TopStates:       TopGeo(states, a.limits.TopGeo),
		TopByRecency:    SortRFM(rfm, models.ByRecency, a.limits.TopCustomers),
		TopByFrequency:  SortRFM(rfm, models.ByFrequency, a.limits.TopCustomers),
		TopByMonetary:   SortRFM(rfm, models.ByMonetary, a.limits.TopCustomers),
	}

	a.logger.Debug("dashboard computed",
		"start", r.Start.Format(time.DateOnly),
		"end", r.End.Format(time.DateOnly),
		"orders", dash.Summary.TotalOrders,
		"customers", dash.Summary.Customers,
		"duration", time.Since(start),
	)
	return dash, nil
}

func (a *Analytics) geoRows(r models.DateRange) []models.OrderLine {
	if a.geoScope == config.GeoScopeFiltered {
		return a.dataset.Filter(r)
	}
	return a.dataset.Rows()
}

func (a *Analytics) observe(view string, r models.DateRange, n int, err error) {
	switch {
	case err != nil:
		a.logger.Warn("aggregation failed", "view", view, "error", err)
	case n == 0:
		a.logger.Debug("empty result",
			"view", view,
			"start", r.Start.Format(time.DateOnly),
			"end", r.End.Format(time.DateOnly),
		)
	}
}

// Stats reports dataset and usage figures for monitoring.
func (a *Analytics) Stats() map[string]any {
	stats := map[string]any{
		"record_count":     a.dataset.Len(),
		"source":           a.dataset.Source(),
		"loaded_at":        a.dataset.LoadedAt(),
		"geo_scope":        a.geoScope,
		"dashboard_builds": a.builds.Load(),
	}
	if bounds, ok := a.dataset.Bounds(); ok {
		stats["first_purchase"] = bounds.Start.Format(time.DateOnly)
		stats["last_purchase"] = bounds.End.Format(time.DateOnly)
	}
	return stats
}
