package services

import (
	"cmp"
	"math"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"rfm-dashboard/internal/errors"
	"rfm-dashboard/internal/models"
)

// The aggregation functions below are pure: they only read rows, keep no
// state between calls and are safe to call concurrently on the same slice.
// An empty input yields an empty, non-nil result and a nil error.

func validateLine(i int, row models.OrderLine) error {
	switch {
	case row.OrderID == "":
		return errors.InvalidInput("row %d: missing order_id", i)
	case row.CustomerID == "":
		return errors.InvalidInput("row %d: missing customer_id", i)
	case row.PurchaseTimestamp.IsZero():
		return errors.InvalidInput("row %d: missing order_purchase_timestamp", i)
	}
	return nil
}

// MonthlyMetrics groups rows by the calendar month of their purchase
// timestamp. OrderCount counts distinct order ids, so an order split over
// several lines counts once. The result is ascending by month.
func MonthlyMetrics(rows []models.OrderLine) ([]models.MonthlyMetric, error) {
	type monthAcc struct {
		orders  map[string]struct{}
		revenue decimal.Decimal
	}

	groups := make(map[models.YearMonth]*monthAcc)
	for i, row := range rows {
		if err := validateLine(i, row); err != nil {
			return nil, err
		}

		key := models.MonthOf(row.PurchaseTimestamp)
		acc := groups[key]
		if acc == nil {
			acc = &monthAcc{orders: make(map[string]struct{}), revenue: decimal.Zero}
			groups[key] = acc
		}
		acc.orders[row.OrderID] = struct{}{}
		acc.revenue = acc.revenue.Add(row.TotalPrice)
	}

	result := make([]models.MonthlyMetric, 0, len(groups))
	for month, acc := range groups {
		result = append(result, models.MonthlyMetric{
			Month:      month,
			OrderCount: len(acc.orders),
			Revenue:    acc.revenue,
		})
	}
	slices.SortFunc(result, func(a, b models.MonthlyMetric) int {
		return a.Month.Compare(b.Month)
	})
	return result, nil
}

// CategorySales sums item counts per product category, sorted descending by
// units. Ties keep the order in which categories first appear. Lines without
// a category are dropped.
func CategorySales(rows []models.OrderLine) ([]models.CategorySales, error) {
	index := make(map[string]int)
	result := make([]models.CategorySales, 0)

	for i, row := range rows {
		if err := validateLine(i, row); err != nil {
			return nil, err
		}
		if row.CategoryName == "" {
			continue
		}

		idx, ok := index[row.CategoryName]
		if !ok {
			idx = len(result)
			index[row.CategoryName] = idx
			result = append(result, models.CategorySales{Category: row.CategoryName})
		}
		result[idx].TotalUnits += row.OrderItemID
	}

	slices.SortStableFunc(result, func(a, b models.CategorySales) int {
		return cmp.Compare(b.TotalUnits, a.TotalUnits)
	})
	return result, nil
}

// TopCategories returns the first n entries of a CategorySales result.
func TopCategories(sales []models.CategorySales, n int) []models.CategorySales {
	return head(sales, n)
}

// BottomCategories re-sorts ascending by units and returns the first n.
func BottomCategories(sales []models.CategorySales, n int) []models.CategorySales {
	sorted := slices.Clone(sales)
	slices.SortStableFunc(sorted, func(a, b models.CategorySales) int {
		return cmp.Compare(a.TotalUnits, b.TotalUnits)
	})
	return head(sorted, n)
}

// GeoCounts counts distinct customers per city or per state. Groups come
// back in first-seen order; callers sort with TopGeo when they need a
// ranking.
func GeoCounts(rows []models.OrderLine, field models.GeoField) ([]models.GeoCount, error) {
	if !field.Valid() {
		return nil, errors.InvalidInput("unknown geo field %q", field)
	}

	index := make(map[string]int)
	customers := make([]map[string]struct{}, 0)
	result := make([]models.GeoCount, 0)

	for i, row := range rows {
		if err := validateLine(i, row); err != nil {
			return nil, err
		}

		key := row.CustomerCity
		if field == models.GeoState {
			key = row.CustomerState
		}
		if key == "" {
			return nil, errors.InvalidInput("row %d: missing customer_%s", i, field)
		}

		idx, ok := index[key]
		if !ok {
			idx = len(result)
			index[key] = idx
			result = append(result, models.GeoCount{Value: key})
			customers = append(customers, make(map[string]struct{}))
		}
		customers[idx][row.CustomerID] = struct{}{}
	}

	for i := range result {
		result[i].CustomerCount = len(customers[i])
	}
	return result, nil
}

// TopGeo returns the n groups with the most customers.
func TopGeo(counts []models.GeoCount, n int) []models.GeoCount {
	sorted := slices.Clone(counts)
	slices.SortStableFunc(sorted, func(a, b models.GeoCount) int {
		return cmp.Compare(b.CustomerCount, a.CustomerCount)
	})
	return head(sorted, n)
}

// RFM builds one row per customer. Recency is the number of whole days
// between the latest purchase date in rows and the customer's own latest
// purchase date, so it is never negative. Rows come back in first-seen
// customer order.
func RFM(rows []models.OrderLine) ([]models.RFMRow, error) {
	type customerAcc struct {
		orders   map[string]struct{}
		monetary decimal.Decimal
		lastDay  time.Time
	}

	var globalLast time.Time
	index := make(map[string]int)
	accs := make([]*customerAcc, 0)
	ids := make([]string, 0)

	for i, row := range rows {
		if err := validateLine(i, row); err != nil {
			return nil, err
		}

		day := civilDay(row.PurchaseTimestamp)
		if day.After(globalLast) {
			globalLast = day
		}

		idx, ok := index[row.CustomerID]
		if !ok {
			idx = len(accs)
			index[row.CustomerID] = idx
			ids = append(ids, row.CustomerID)
			accs = append(accs, &customerAcc{orders: make(map[string]struct{}), monetary: decimal.Zero})
		}
		acc := accs[idx]
		acc.orders[row.OrderID] = struct{}{}
		acc.monetary = acc.monetary.Add(row.TotalPrice)
		if day.After(acc.lastDay) {
			acc.lastDay = day
		}
	}

	result := make([]models.RFMRow, len(accs))
	for i, acc := range accs {
		result[i] = models.RFMRow{
			CustomerID: ids[i],
			Recency:    daysBetween(acc.lastDay, globalLast),
			Frequency:  len(acc.orders),
			Monetary:   acc.monetary,
		}
	}
	return result, nil
}

// SortRFM orders rows for a "best customers" ranking: recency ascending,
// frequency and monetary descending. n <= 0 keeps every row.
func SortRFM(rows []models.RFMRow, metric models.RFMMetric, n int) []models.RFMRow {
	sorted := slices.Clone(rows)
	slices.SortStableFunc(sorted, func(a, b models.RFMRow) int {
		switch metric {
		case models.ByFrequency:
			return cmp.Compare(b.Frequency, a.Frequency)
		case models.ByMonetary:
			return b.Monetary.Cmp(a.Monetary)
		default:
			return cmp.Compare(a.Recency, b.Recency)
		}
	})
	return head(sorted, n)
}

// Summarize derives the headline metrics from the monthly series and the RFM
// table of the same rows.
func Summarize(monthly []models.MonthlyMetric, rfm []models.RFMRow) models.Summary {
	summary := models.Summary{
		TotalRevenue:    decimal.Zero,
		AverageMonetary: decimal.Zero,
		Customers:       len(rfm),
	}
	for _, m := range monthly {
		summary.TotalOrders += m.OrderCount
		summary.TotalRevenue = summary.TotalRevenue.Add(m.Revenue)
	}
	if len(rfm) == 0 {
		return summary
	}

	var recency, frequency int
	monetary := decimal.Zero
	for _, r := range rfm {
		recency += r.Recency
		frequency += r.Frequency
		monetary = monetary.Add(r.Monetary)
	}
	n := float64(len(rfm))
	summary.AverageRecency = math.Round(float64(recency)/n*10) / 10
	summary.AverageFrequency = math.Round(float64(frequency)/n*100) / 100
	summary.AverageMonetary = monetary.Div(decimal.NewFromInt(int64(len(rfm)))).Round(2)
	return summary
}

func head[T any](s []T, n int) []T {
	if n <= 0 || len(s) <= n {
		return slices.Clone(s)
	}
	return slices.Clone(s[:n])
}

// civilDay maps t to midnight UTC of its own calendar date.
func civilDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}
