package templates

import "time"

const defaultTitle = "Customer RFM Analysis"

// DashboardProps seeds the page with the dataset's date bounds, which are
// also the default selection.
type DashboardProps struct {
	Title   string
	MinDate time.Time
	MaxDate time.Time
}

// pageSignals is the initial Datastar signal set. Chart arrays start empty
// and are filled by the /sse/dashboard stream.
type pageSignals struct {
	StartDate       string `json:"startDate"`
	EndDate         string `json:"endDate"`
	MonthlyData     []any  `json:"monthlyData"`
	BestCategories  []any  `json:"bestCategories"`
	WorstCategories []any  `json:"worstCategories"`
	CitiesData      []any  `json:"citiesData"`
	StatesData      []any  `json:"statesData"`
	RFMRecency      []any  `json:"rfmRecency"`
	RFMFrequency    []any  `json:"rfmFrequency"`
	RFMMonetary     []any  `json:"rfmMonetary"`
	GeoField        string `json:"geoField"`
	RFMSort         string `json:"rfmSort"`
}

func (p DashboardProps) title() string {
	if p.Title == "" {
		return defaultTitle
	}
	return p.Title
}

func (p DashboardProps) minDate() string {
	return p.MinDate.Format(time.DateOnly)
}

func (p DashboardProps) maxDate() string {
	return p.MaxDate.Format(time.DateOnly)
}

func (p DashboardProps) signals() pageSignals {
	return pageSignals{
		StartDate:       p.minDate(),
		EndDate:         p.maxDate(),
		MonthlyData:     []any{},
		BestCategories:  []any{},
		WorstCategories: []any{},
		CitiesData:      []any{},
		StatesData:      []any{},
		RFMRecency:      []any{},
		RFMFrequency:    []any{},
		RFMMonetary:     []any{},
		GeoField:        "city",
		RFMSort:         "monetary",
	}
}
