package http

import (
	"time"

	"github.com/sawpanic/eligibility/internal/cache"
	"github.com/sawpanic/eligibility/internal/eligibility"
	"github.com/sawpanic/eligibility/internal/net/ratelimit"
	"github.com/sawpanic/eligibility/internal/persistence"
)

// CheckRequest is the body of POST /eligibility/check
type CheckRequest struct {
	Address string  `json:"address"`
	Chains  []int64 `json:"chains,omitempty"`
}

// CheckResponse is the evaluation report, plus an error message on total failure
type CheckResponse struct {
	eligibility.Report
	Error string `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                   `json:"status"` // healthy, degraded
	Timestamp time.Time                `json:"timestamp"`
	Version   string                   `json:"version"`
	Uptime    string                   `json:"uptime"`
	System    SystemInfo               `json:"system"`
	Chains    []ChainHealth            `json:"chains"`
	Cache     *cache.Stats             `json:"cache,omitempty"`
	Database  *persistence.HealthCheck `json:"database,omitempty"`
}

// SystemInfo provides process-level information
type SystemInfo struct {
	GoVersion     string `json:"go_version"`
	NumGoroutines int    `json:"num_goroutines"`
	MemAlloc      uint64 `json:"mem_alloc_bytes"`
	NumGC         uint32 `json:"num_gc"`
}

// ChainHealth represents one chain's gateway pool
type ChainHealth struct {
	ID        int64                   `json:"id"`
	Name      string                  `json:"name"`
	Circuit   string                  `json:"circuit"` // closed, half-open, open
	RateLimit *ratelimit.LimiterStats `json:"rate_limit,omitempty"`
}

// ErrorResponse represents API error responses
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}
