package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/sawpanic/eligibility/internal/domain"
)

// Source is the outbound data provider for one chain. Implementations return
// StatusError for HTTP failures and wrap decode failures with Malformed.
type Source interface {
	GasPrice(ctx context.Context) (domain.GasPrice, error)
	Balances(ctx context.Context, address string) ([]domain.TokenBalance, error)
	Transactions(ctx context.Context, address string) ([]domain.Transaction, error)
	Venues(ctx context.Context, tokenIn, tokenOut string) ([]domain.Venue, error)
	Supply(ctx context.Context, token string) (domain.SupplyRecord, error)
	PriceSeries(ctx context.Context, token string, from, to time.Time) ([]domain.PricePoint, error)
	PoolTransactions(ctx context.Context, pool string, fromBlock, toBlock uint64) ([]domain.Transaction, error)
}

// RequestKind names a gateway operation; it doubles as the cache key class
type RequestKind string

const (
	RequestGas          RequestKind = "gas"
	RequestBalances     RequestKind = "balances"
	RequestTransactions RequestKind = "transactions"
	RequestVenues       RequestKind = "venues"
	RequestSupply       RequestKind = "supply"
	RequestPrices       RequestKind = "prices"
	RequestPoolTxs      RequestKind = "pool_transactions"
)

// Request is the untyped form of a gateway call
type Request struct {
	Kind     RequestKind
	Address  string // wallet or token, depending on Kind
	TokenIn  string
	TokenOut string
	From     time.Time
	To       time.Time
	// block window for RequestPoolTxs, inclusive
	FromBlock uint64
	ToBlock   uint64
}

// Fetch dispatches an untyped request to the matching typed call
func (g *Gateway) Fetch(ctx context.Context, chainID int64, req Request) (any, error) {
	switch req.Kind {
	case RequestGas:
		return g.GasPrice(ctx, chainID)
	case RequestBalances:
		return g.Balances(ctx, chainID, req.Address)
	case RequestTransactions:
		return g.Transactions(ctx, chainID, req.Address)
	case RequestVenues:
		return g.Venues(ctx, chainID, req.TokenIn, req.TokenOut)
	case RequestSupply:
		return g.Supply(ctx, chainID, req.Address)
	case RequestPrices:
		return g.PriceSeries(ctx, chainID, req.Address, req.From, req.To)
	case RequestPoolTxs:
		return g.PoolTransactions(ctx, chainID, req.Address, req.FromBlock, req.ToBlock)
	default:
		return nil, fmt.Errorf("unknown request kind %q", req.Kind)
	}
}
