package persistence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sawpanic/eligibility/internal/eligibility"
)

// TimeRange represents a time window for report queries
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// ReportRecord is one stored evaluation. Report holds the full JSON document.
type ReportRecord struct {
	ID          string          `json:"id" db:"id"`
	Address     string          `json:"address" db:"address"`
	Success     bool            `json:"success" db:"success"`
	Score       float64         `json:"score" db:"score"`
	Result      string          `json:"result" db:"result"`
	Report      json.RawMessage `json:"report" db:"report"`
	EvaluatedAt time.Time       `json:"evaluated_at" db:"evaluated_at"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// Decode unmarshals the stored report document
func (r ReportRecord) Decode() (eligibility.Report, error) {
	var report eligibility.Report
	err := json.Unmarshal(r.Report, &report)
	return report, err
}

// ReportsRepo provides eligibility report persistence
type ReportsRepo interface {
	// Save inserts a report; saving the same report id twice is a no-op
	Save(ctx context.Context, report eligibility.Report) error

	// Get returns the report with the given id, or nil when absent
	Get(ctx context.Context, id string) (*ReportRecord, error)

	// ListByAddress returns the most recent reports for an address
	ListByAddress(ctx context.Context, address string, limit int) ([]ReportRecord, error)

	// CountByResult returns report counts grouped by result label
	CountByResult(ctx context.Context, tr TimeRange) (map[string]int64, error)
}

// Repository aggregates all persistence interfaces
type Repository struct {
	Reports ReportsRepo
}

// HealthCheck represents repository health status
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth provides health monitoring for persistence layer
type RepositoryHealth interface {
	// Health returns current repository health status
	Health(ctx context.Context) HealthCheck

	// Ping tests basic connectivity to database
	Ping(ctx context.Context) error

	// Stats returns connection pool and query statistics
	Stats(ctx context.Context) map[string]interface{}
}
