package model

// QueueStats is the dashboard aggregate over delivery jobs.
type QueueStats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`

	AvgProcessingMs float64 `json:"avg_processing_ms"`
	JobsPerMinute   float64 `json:"jobs_per_minute"`
	SuccessRate     float64 `json:"success_rate"`
}
