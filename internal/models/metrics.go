package models

import "time"

// SystemMetrics is the aggregated instrumentation snapshot served by the
// operations endpoint. Prometheus scrapes the full series; this is the
// condensed view for humans and dashboards without a Prometheus stack.
type SystemMetrics struct {
	CacheHitRatio               float64   `json:"cache_hit_ratio"`
	CacheHits                   uint64    `json:"cache_hits"`
	CacheMisses                 uint64    `json:"cache_misses"`
	RequestsTotal               uint64    `json:"requests_total"`
	AverageRequestDurationMs    float64   `json:"average_request_duration_ms"`
	DBQueryCount                uint64    `json:"db_query_count"`
	AverageDBQueryDurationMs    float64   `json:"average_db_query_duration_ms"`
	GenerationsTotal            uint64    `json:"generations_total"`
	AverageGenerationDurationMs float64   `json:"average_generation_duration_ms"`
	PublishesTotal              uint64    `json:"publishes_total"`
	PublishedCellsTotal         uint64    `json:"published_cells_total"`
	Goroutines                  int       `json:"goroutines"`
	GeneratedAt                 time.Time `json:"generated_at"`
}
