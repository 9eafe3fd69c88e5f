package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/eligibility/internal/config"
)

// newBreaker builds the per-chain circuit breaker. Only transient failures count
// towards tripping; a malformed payload says nothing about endpoint health.
func newBreaker(chainID int64, cfg config.CircuitConfig) *gobreaker.CircuitBreaker {
	threshold := uint32(cfg.FailureThreshold)
	if threshold == 0 {
		threshold = 5
	}
	openTimeout := time.Duration(cfg.OpenTimeoutMS) * time.Millisecond
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}

	st := gobreaker.Settings{
		Name:        fmt.Sprintf("chain-%d", chainID),
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     openTimeout,
	}
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= threshold
	}
	st.IsSuccessful = func(err error) bool {
		if err == nil {
			return true
		}
		_, retryable := classify(context.Background(), err)
		return !retryable
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		log.Warn().
			Int64("chain_id", chainID).
			Str("breaker", name).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("circuit breaker state change")
	}

	return gobreaker.NewCircuitBreaker(st)
}
