package chain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies gateway failures
type ErrorKind int

const (
	KindTimeout ErrorKind = iota
	KindUnavailable
	KindMalformedResponse
	KindUnsupportedChain
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindUnavailable:
		return "unavailable"
	case KindMalformedResponse:
		return "malformed_response"
	case KindUnsupportedChain:
		return "unsupported_chain"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching against a GatewayError's kind
var (
	ErrTimeout           = errors.New("chain timeout")
	ErrUnavailable       = errors.New("chain unavailable")
	ErrMalformedResponse = errors.New("malformed response")
	ErrUnsupportedChain  = errors.New("unsupported chain")
)

// GatewayError is returned by every Gateway call that fails
type GatewayError struct {
	Kind     ErrorKind
	ChainID  int64
	Op       string
	Attempts int
	Err      error
}

func (e *GatewayError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("chain %d %s: %s", e.ChainID, e.Op, e.Kind)
	}
	return fmt.Sprintf("chain %d %s: %s after %d attempt(s): %v", e.ChainID, e.Op, e.Kind, e.Attempts, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind
func (e *GatewayError) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrUnavailable:
		return e.Kind == KindUnavailable
	case ErrMalformedResponse:
		return e.Kind == KindMalformedResponse
	case ErrUnsupportedChain:
		return e.Kind == KindUnsupportedChain
	}
	return false
}

// StatusError is returned by sources for non-2xx HTTP responses
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Malformed wraps a decode failure so the gateway treats it as non-retryable
func Malformed(err error) error {
	return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
}
