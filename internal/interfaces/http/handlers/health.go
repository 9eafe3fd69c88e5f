package handlers

import (
	"net/http"
	"runtime"
	"time"

	httpContracts "github.com/sawpanic/eligibility/internal/http"
)

// Health handles GET /health. Any open circuit or failing database marks the service degraded.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := httpContracts.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   h.deps.Version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		System: httpContracts.SystemInfo{
			GoVersion:     runtime.Version(),
			NumGoroutines: runtime.NumGoroutine(),
			MemAlloc:      mem.Alloc,
			NumGC:         mem.NumGC,
		},
	}

	states := h.deps.Chains.BreakerStates()
	limits := h.deps.Chains.Limiter().Stats()
	for _, c := range h.deps.Chains.Chains() {
		ch := httpContracts.ChainHealth{ID: c.ID, Name: c.Name, Circuit: states[c.ID]}
		if st, ok := limits[c.ID]; ok {
			ch.RateLimit = &st
		}
		if ch.Circuit == "open" {
			resp.Status = "degraded"
		}
		resp.Chains = append(resp.Chains, ch)
	}

	if h.deps.Cache != nil {
		stats := h.deps.Cache.Stats()
		resp.Cache = &stats
	}

	if h.deps.Database != nil {
		check := h.deps.Database.Health(r.Context())
		resp.Database = &check
		if !check.Healthy {
			resp.Status = "degraded"
		}
	}

	h.writeJSON(w, http.StatusOK, resp)
}
