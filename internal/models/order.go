package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderLine is one item-level row of an order. A single order spans one or
// more lines, so OrderID is not unique per row.
type OrderLine struct {
	OrderID               string
	CustomerID            string
	CustomerCity          string
	CustomerState         string
	CategoryName          string // empty when the product has no category
	OrderItemID           int
	TotalPrice            decimal.Decimal
	PurchaseTimestamp     time.Time
	DeliveredCustomerDate *time.Time // nil when undelivered
}

// YearMonth is a calendar month key.
type YearMonth struct {
	Year  int
	Month time.Month
}

func MonthOf(t time.Time) YearMonth {
	return YearMonth{Year: t.Year(), Month: t.Month()}
}

func (m YearMonth) Compare(other YearMonth) int {
	switch {
	case m.Year < other.Year:
		return -1
	case m.Year > other.Year:
		return 1
	case m.Month < other.Month:
		return -1
	case m.Month > other.Month:
		return 1
	}
	return 0
}

func (m YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

func (m YearMonth) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *YearMonth) UnmarshalText(text []byte) error {
	t, err := time.Parse("2006-01", string(text))
	if err != nil {
		return fmt.Errorf("parse month %q: %w", text, err)
	}
	*m = MonthOf(t)
	return nil
}

type MonthlyMetric struct {
	Month      YearMonth       `json:"month"`
	OrderCount int             `json:"order_count"`
	Revenue    decimal.Decimal `json:"revenue"`
}

type CategorySales struct {
	Category   string `json:"category_name"`
	TotalUnits int    `json:"total_units"`
}

// GeoField selects the geographic column used to group customers.
type GeoField string

const (
	GeoCity  GeoField = "city"
	GeoState GeoField = "state"
)

func (f GeoField) Valid() bool {
	return f == GeoCity || f == GeoState
}

type GeoCount struct {
	Value         string `json:"value"`
	CustomerCount int    `json:"customer_count"`
}

type RFMRow struct {
	CustomerID string          `json:"customer_id"`
	Recency    int             `json:"recency"`
	Frequency  int             `json:"frequency"`
	Monetary   decimal.Decimal `json:"monetary"`
}

// RFMMetric names one of the RFM columns for re-sorting.
type RFMMetric string

const (
	ByRecency   RFMMetric = "recency"
	ByFrequency RFMMetric = "frequency"
	ByMonetary  RFMMetric = "monetary"
)

func (m RFMMetric) Valid() bool {
	return m == ByRecency || m == ByFrequency || m == ByMonetary
}
