package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"rfm-dashboard/internal/errors"
	"rfm-dashboard/internal/models"
	"rfm-dashboard/internal/services"
)

const maxLimit = 1000

// parseDate accepts an empty string as "not set".
func parseDate(name, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, errors.BadRequestWrap(err, name+" must be a date in YYYY-MM-DD format")
	}
	return t, nil
}

func resolveRange(analytics *services.Analytics, startRaw, endRaw string) (models.DateRange, error) {
	start, err := parseDate("start", startRaw)
	if err != nil {
		return models.DateRange{}, err
	}
	end, err := parseDate("end", endRaw)
	if err != nil {
		return models.DateRange{}, err
	}
	return analytics.NormalizeRange(start, end)
}

func queryRange(analytics *services.Analytics, r *http.Request) (models.DateRange, error) {
	q := r.URL.Query()
	return resolveRange(analytics, q.Get("start"), q.Get("end"))
}

// queryLimit returns def when the parameter is absent. Zero means no limit.
func queryLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 || n > maxLimit {
		return 0, errors.BadRequest("limit must be an integer between 0 and " + strconv.Itoa(maxLimit))
	}
	return n, nil
}
