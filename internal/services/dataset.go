package services

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"rfm-dashboard/internal/errors"
	"rfm-dashboard/internal/models"
)

const (
	batchSize  = 10000
	maxWorkers = 10
)

const (
	colOrderID       = "order_id"
	colCustomerID    = "customer_id"
	colCity          = "customer_city"
	colState         = "customer_state"
	colCategory      = "category_name"
	colOrderItemID   = "order_item_id"
	colTotalPrice    = "total_price"
	colPurchasedAt   = "order_purchase_timestamp"
	colDeliveredDate = "order_delivered_customer_date"
)

var requiredColumns = []string{
	colOrderID, colCustomerID, colCity, colState, colCategory,
	colOrderItemID, colTotalPrice, colPurchasedAt, colDeliveredDate,
}

var timestampLayouts = []string{
	time.DateTime,
	time.RFC3339,
	time.DateOnly,
}

// Dataset is the immutable, caller-owned set of order lines loaded once at
// startup. Rows are kept sorted by purchase timestamp.
type Dataset struct {
	rows     []models.OrderLine
	source   string
	loadedAt time.Time
}

// NewDataset copies rows and sorts the copy by purchase timestamp.
func NewDataset(rows []models.OrderLine) *Dataset {
	sorted := slices.Clone(rows)
	slices.SortStableFunc(sorted, func(a, b models.OrderLine) int {
		return a.PurchaseTimestamp.Compare(b.PurchaseTimestamp)
	})
	return &Dataset{rows: sorted, loadedAt: time.Now()}
}

// LoadDataset reads the order-line CSV at filename.
func LoadDataset(ctx context.Context, filename string, logger *slog.Logger) (*Dataset, error) {
	start := time.Now()
	logger.Info("processing CSV file", "filename", filename)

	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	ds, err := ReadDataset(ctx, file)
	if err != nil {
		return nil, fmt.Errorf("process csv: %w", err)
	}
	ds.source = filename

	duration := time.Since(start)
	logger.Info("csv processing complete",
		"records", ds.Len(),
		"duration", duration,
		"rate", fmt.Sprintf("%.0f records/sec", float64(ds.Len())/duration.Seconds()))

	return ds, nil
}

// ReadDataset parses CSV order lines from r. Columns are located by header
// name, so extra columns are ignored.
func ReadDataset(ctx context.Context, r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.InvalidInput("empty file")
	}
	if err != nil {
		return nil, errors.InvalidInputWrap(err, "read header")
	}

	cols, err := indexColumns(header)
	if err != nil {
		return nil, err
	}

	var rows []models.OrderLine
	batch := make([][]string, 0, batchSize)
	line := 1

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.InvalidInputWrap(err, "read record")
		}
		batch = append(batch, record)

		if len(batch) >= batchSize {
			parsed, err := parseBatch(ctx, batch, cols, line)
			if err != nil {
				return nil, err
			}
			rows = append(rows, parsed...)
			line += len(batch)
			batch = batch[:0]
		}
	}

	if len(batch) > 0 {
		parsed, err := parseBatch(ctx, batch, cols, line)
		if err != nil {
			return nil, err
		}
		rows = append(rows, parsed...)
	}

	if len(rows) == 0 {
		return nil, errors.InvalidInput("no records found")
	}

	return NewDataset(rows), nil
}

type columnIndex map[string]int

func indexColumns(header []string) (columnIndex, error) {
	cols := make(columnIndex, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		cols[name] = i
	}

	var missing []string
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, errors.InvalidInput("missing columns: %s", strings.Join(missing, ", "))
	}
	return cols, nil
}

// parseBatch converts records concurrently while keeping their order.
// firstLine is the data line number of batch[0], used in error messages.
func parseBatch(ctx context.Context, batch [][]string, cols columnIndex, firstLine int) ([]models.OrderLine, error) {
	out := make([]models.OrderLine, len(batch))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxWorkers)

	chunk := (len(batch) + maxWorkers - 1) / maxWorkers
	for lo := 0; lo < len(batch); lo += chunk {
		hi := min(lo+chunk, len(batch))
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				row, err := parseOrderLine(batch[i], cols)
				if err != nil {
					return errors.InvalidInputWrap(err, "line %d", firstLine+i+1)
				}
				out[i] = row
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func parseOrderLine(record []string, cols columnIndex) (models.OrderLine, error) {
	field := func(name string) string {
		return strings.TrimSpace(record[cols[name]])
	}

	purchasedAt, err := parseTimestamp(field(colPurchasedAt))
	if err != nil {
		return models.OrderLine{}, fmt.Errorf("%s: %w", colPurchasedAt, err)
	}

	var delivered *time.Time
	if raw := field(colDeliveredDate); raw != "" {
		t, err := parseTimestamp(raw)
		if err != nil {
			return models.OrderLine{}, fmt.Errorf("%s: %w", colDeliveredDate, err)
		}
		delivered = &t
	}

	items, err := parseCount(field(colOrderItemID))
	if err != nil {
		return models.OrderLine{}, fmt.Errorf("%s: %w", colOrderItemID, err)
	}

	price, err := decimal.NewFromString(field(colTotalPrice))
	if err != nil {
		return models.OrderLine{}, fmt.Errorf("%s: %w", colTotalPrice, err)
	}

	return models.OrderLine{
		OrderID:               field(colOrderID),
		CustomerID:            field(colCustomerID),
		CustomerCity:          field(colCity),
		CustomerState:         field(colState),
		CategoryName:          field(colCategory),
		OrderItemID:           items,
		TotalPrice:            price,
		PurchaseTimestamp:     purchasedAt,
		DeliveredCustomerDate: delivered,
	}, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			// Day and month boundaries are UTC everywhere else.
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", raw)
}

// parseCount accepts "3" as well as the "3.0" a dataframe export produces.
func parseCount(raw string) (int, error) {
	if n, err := strconv.Atoi(raw); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != float64(int(f)) {
		return 0, fmt.Errorf("not an integer: %q", raw)
	}
	return int(f), nil
}

// Rows returns every order line. The slice is shared and must not be
// modified.
func (d *Dataset) Rows() []models.OrderLine {
	return d.rows
}

func (d *Dataset) Len() int {
	return len(d.rows)
}

func (d *Dataset) Source() string {
	return d.source
}

func (d *Dataset) LoadedAt() time.Time {
	return d.loadedAt
}

// Bounds returns the dates of the earliest and latest purchase. ok is false
// for an empty dataset.
func (d *Dataset) Bounds() (r models.DateRange, ok bool) {
	if len(d.rows) == 0 {
		return models.DateRange{}, false
	}
	return models.DateRange{
		Start: models.TruncateDay(d.rows[0].PurchaseTimestamp),
		End:   models.TruncateDay(d.rows[len(d.rows)-1].PurchaseTimestamp),
	}, true
}

// Filter returns the lines purchased within r, both end dates included. The
// returned slice aliases the dataset and must not be modified.
func (d *Dataset) Filter(r models.DateRange) []models.OrderLine {
	start := models.TruncateDay(r.Start)
	end := models.TruncateDay(r.End).AddDate(0, 0, 1)
	if !start.Before(end) {
		return []models.OrderLine{}
	}

	byTimestamp := func(row models.OrderLine, t time.Time) int {
		return row.PurchaseTimestamp.Compare(t)
	}
	lo, _ := slices.BinarySearchFunc(d.rows, start, byTimestamp)
	hi, _ := slices.BinarySearchFunc(d.rows, end, byTimestamp)
	return d.rows[lo:hi:hi]
}
