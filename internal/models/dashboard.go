package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateRange is an inclusive range of calendar dates. Only the date portion of
// Start and End is significant.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// TruncateDay drops the time of day, keeping the location.
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

type Summary struct {
	TotalOrders      int             `json:"total_orders"`
	TotalRevenue     decimal.Decimal `json:"total_revenue"`
	Customers        int             `json:"customers"`
	AverageRecency   float64         `json:"average_recency"`
	AverageFrequency float64         `json:"average_frequency"`
	AverageMonetary  decimal.Decimal `json:"average_monetary"`
}

// Dashboard bundles every view shown for one date range.
type Dashboard struct {
	Range           DateRange       `json:"range"`
	Summary         Summary         `json:"summary"`
	Monthly         []MonthlyMetric `json:"monthly"`
	BestCategories  []CategorySales `json:"best_categories"`
	WorstCategories []CategorySales `json:"worst_categories"`
	TopCities       []GeoCount      `json:"top_cities"`
	TopStates       []GeoCount      `json:"top_states"`
	TopByRecency    []RFMRow        `json:"top_by_recency"`
	TopByFrequency  []RFMRow        `json:"top_by_frequency"`
	TopByMonetary   []RFMRow        `json:"top_by_monetary"`
}
