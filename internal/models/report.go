package models

// Report represents the freshness analysis returned by the prediction service
type Report struct {
	Fruit            string     `json:"fruit"`
	InitialFreshness float64    `json:"initial_freshness"` // 0-100
	Decay            Decay      `json:"decay"`
	ShelfLife        *ShelfLife `json:"shelf_life,omitempty"`
	Status           string     `json:"status"`       // "FRESH", "CONSUME SOON", "SPOILED"
	StatusColor      string     `json:"status_color"` // hex, e.g. "#22c55e"
	ChartData        *ChartData `json:"chart_data,omitempty"`
}

// Decay holds projected freshness per storage condition
type Decay struct {
	DaysPassed    float64 `json:"days_passed"`
	IdealFinal    float64 `json:"ideal_final"`
	IdealDaysLeft float64 `json:"ideal_days_left"`
	RoomFinal     float64 `json:"room_final"`
	RoomDaysLeft  float64 `json:"room_days_left"`
	HumidFinal    float64 `json:"humid_final"`
	HumidDaysLeft float64 `json:"humid_days_left"`
}

// ShelfLife is the nominal shelf life in days per storage condition
type ShelfLife struct {
	Ideal float64 `json:"ideal"`
	Room  float64 `json:"room"`
	Humid float64 `json:"humid"`
}

// ChartData is the series used to chart decay across storage conditions
type ChartData struct {
	Labels    []string  `json:"labels"`
	Freshness []float64 `json:"freshness"`
	DaysLeft  []float64 `json:"days_left"`
}

// PredictResponse is the body of POST /api/predict
type PredictResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Report
}

// Item is one entry of the service's supported items catalog
type Item struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// ItemsResponse is the body of GET /api/items
type ItemsResponse struct {
	Items []Item `json:"items"`
}

// HealthResponse is the body of GET /api/health
type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
