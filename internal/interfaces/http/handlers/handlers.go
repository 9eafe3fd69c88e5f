package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/eligibility/internal/cache"
	"github.com/sawpanic/eligibility/internal/domain"
	"github.com/sawpanic/eligibility/internal/eligibility"
	httpContracts "github.com/sawpanic/eligibility/internal/http"
	"github.com/sawpanic/eligibility/internal/net/ratelimit"
	"github.com/sawpanic/eligibility/internal/persistence"
)

type ctxKey int

// RequestIDKey carries the request id set by the server middleware
const RequestIDKey ctxKey = iota

// Evaluator scores an address
type Evaluator interface {
	Evaluate(ctx context.Context, address string, chains []int64) (eligibility.Report, error)
}

// ChainStatus is the gateway surface used by /gas and /health
type ChainStatus interface {
	Chains() []domain.ChainInfo
	Supported(chainID int64) bool
	GasPrice(ctx context.Context, chainID int64) (domain.GasPrice, error)
	BreakerStates() map[int64]string
	Limiter() *ratelimit.Limiter
}

// Deps are the handler dependencies. Cache and Database are optional.
type Deps struct {
	Engine   Evaluator
	Chains   ChainStatus
	Cache    *cache.Cache
	Database persistence.RepositoryHealth
	Version  string
}

// Handlers manages all HTTP endpoint handlers
type Handlers struct {
	deps      Deps
	startTime time.Time
}

// NewHandlers creates a new handlers instance
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{deps: deps, startTime: time.Now()}
}

// writeJSON writes JSON response with proper error handling
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeError writes standardized error response
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	requestID, _ := r.Context().Value(RequestIDKey).(string)
	if requestID == "" {
		requestID = "unknown"
	}

	h.writeJSON(w, status, httpContracts.ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
	})
}

// NotFound handles 404 responses
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusNotFound, "endpoint_not_found",
		"The requested endpoint does not exist")
}
