package models

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned by the health check
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

// StatsResponse wraps the metrics observer snapshot
type StatsResponse struct {
	Metrics map[string]interface{} `json:"metrics"`
	Backend string                 `json:"backend"`
}
