package liquidity

import (
	"errors"
	"fmt"
)

// RouteErrorKind classifies routing failures
type RouteErrorKind int

const (
	KindNoVenue RouteErrorKind = iota
	KindInsufficientLiquidity
)

func (k RouteErrorKind) String() string {
	switch k {
	case KindNoVenue:
		return "no_venue"
	case KindInsufficientLiquidity:
		return "insufficient_liquidity"
	default:
		return "unknown"
	}
}

var (
	ErrNoVenue               = errors.New("no venue")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
)

// RouteError is returned when no route can be selected
type RouteError struct {
	Kind     RouteErrorKind
	ChainID  int64
	TokenIn  string
	TokenOut string
	Rejected int // venues dropped by the liquidity floor
}

func (e *RouteError) Error() string {
	msg := fmt.Sprintf("route %s->%s on chain %d: %s", e.TokenIn, e.TokenOut, e.ChainID, e.Kind)
	if e.Rejected > 0 {
		msg += fmt.Sprintf(" (%d venue(s) below floor)", e.Rejected)
	}
	return msg
}

func (e *RouteError) Is(target error) bool {
	switch target {
	case ErrNoVenue:
		return e.Kind == KindNoVenue
	case ErrInsufficientLiquidity:
		return e.Kind == KindInsufficientLiquidity
	}
	return false
}
