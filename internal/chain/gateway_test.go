package chain

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/eligibility/internal/cache"
	"github.com/sawpanic/eligibility/internal/config"
	"github.com/sawpanic/eligibility/internal/domain"
)

// fakeSource answers every call through gas; other calls return canned data
type fakeSource struct {
	calls    atomic.Int32
	gas      func(ctx context.Context, n int32) (domain.GasPrice, error)
	balances []domain.TokenBalance
	poolTxs  []domain.Transaction
	windows  [][2]uint64
	mu       sync.Mutex
}

func (f *fakeSource) GasPrice(ctx context.Context) (domain.GasPrice, error) {
	n := f.calls.Add(1)
	return f.gas(ctx, n)
}

func (f *fakeSource) Balances(ctx context.Context, address string) ([]domain.TokenBalance, error) {
	f.calls.Add(1)
	return f.balances, nil
}

func (f *fakeSource) Transactions(ctx context.Context, address string) ([]domain.Transaction, error) {
	return nil, nil
}

func (f *fakeSource) Venues(ctx context.Context, tokenIn, tokenOut string) ([]domain.Venue, error) {
	return nil, nil
}

func (f *fakeSource) Supply(ctx context.Context, token string) (domain.SupplyRecord, error) {
	return domain.SupplyRecord{Token: token}, nil
}

func (f *fakeSource) PriceSeries(ctx context.Context, token string, from, to time.Time) ([]domain.PricePoint, error) {
	return nil, nil
}

func (f *fakeSource) PoolTransactions(ctx context.Context, pool string, fromBlock, toBlock uint64) ([]domain.Transaction, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.windows = append(f.windows, [2]uint64{fromBlock, toBlock})
	f.mu.Unlock()
	return f.poolTxs, nil
}

func testGatewayConfig() config.GatewayConfig {
	return config.GatewayConfig{
		TimeoutMS:     20,
		RetryAttempts: 3,
		BackoffMS:     config.BackoffConfig{Base: 1, Max: 5},
		Circuit:       config.CircuitConfig{FailureThreshold: 100, OpenTimeoutMS: 1000},
	}
}

func testChain(id int64) config.ChainConfig {
	return config.ChainConfig{
		ChainInfo:     domain.ChainInfo{ID: id, Name: "test"},
		RPS:           1000,
		Burst:         1000,
		MaxConcurrent: 4,
	}
}

func okGas(context.Context, int32) (domain.GasPrice, error) {
	return domain.GasPrice{ChainID: 1, Price: decimal.NewFromInt(30_000_000_000)}, nil
}

func TestUnsupportedChainFailsWithoutAttempts(t *testing.T) {
	src := &fakeSource{gas: okGas}
	gw := NewGateway(Options{Config: testGatewayConfig()}, Endpoint{Chain: testChain(1), Source: src})

	_, err := gw.Balances(context.Background(), 999999, "0x0000000000000000000000000000000000000000")
	require.Error(t, err)

	var gerr *GatewayError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindUnsupportedChain, gerr.Kind)
	assert.Equal(t, 0, gerr.Attempts)
	assert.ErrorIs(t, err, ErrUnsupportedChain)
	assert.Equal(t, int32(0), src.calls.Load())
}

func TestThreeTimeoutsYieldUnavailable(t *testing.T) {
	src := &fakeSource{gas: func(ctx context.Context, _ int32) (domain.GasPrice, error) {
		<-ctx.Done()
		return domain.GasPrice{}, ctx.Err()
	}}
	gw := NewGateway(Options{Config: testGatewayConfig()}, Endpoint{Chain: testChain(1), Source: src})

	_, err := gw.GasPrice(context.Background(), 1)
	require.Error(t, err)

	var gerr *GatewayError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindUnavailable, gerr.Kind)
	assert.Equal(t, 3, gerr.Attempts)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(3), src.calls.Load())
}

func TestTransientFailureRecovers(t *testing.T) {
	src := &fakeSource{gas: func(ctx context.Context, n int32) (domain.GasPrice, error) {
		if n < 3 {
			return domain.GasPrice{}, &StatusError{StatusCode: 503}
		}
		return okGas(ctx, n)
	}}
	gw := NewGateway(Options{Config: testGatewayConfig()}, Endpoint{Chain: testChain(1), Source: src})

	gp, err := gw.GasPrice(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, gp.Price.Equal(decimal.NewFromInt(30_000_000_000)))
	assert.Equal(t, int32(3), src.calls.Load())
}

func TestNonRetryableFailsImmediately(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind ErrorKind
	}{
		{"malformed", Malformed(errors.New("bad json")), KindMalformedResponse},
		{"client error", &StatusError{StatusCode: 400}, KindUnavailable},
		{"unknown", errors.New("no route"), KindUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{gas: func(context.Context, int32) (domain.GasPrice, error) {
				return domain.GasPrice{}, tt.err
			}}
			gw := NewGateway(Options{Config: testGatewayConfig()}, Endpoint{Chain: testChain(1), Source: src})

			_, err := gw.GasPrice(context.Background(), 1)
			var gerr *GatewayError
			require.ErrorAs(t, err, &gerr)
			assert.Equal(t, tt.kind, gerr.Kind)
			assert.Equal(t, 1, gerr.Attempts)
			assert.Equal(t, int32(1), src.calls.Load())
		})
	}
}

func TestCallerCancellationStopsRetries(t *testing.T) {
	cfg := testGatewayConfig()
	cfg.BackoffMS = config.BackoffConfig{Base: 500, Max: 500}
	src := &fakeSource{gas: func(context.Context, int32) (domain.GasPrice, error) {
		return domain.GasPrice{}, &StatusError{StatusCode: 502}
	}}
	gw := NewGateway(Options{Config: cfg}, Endpoint{Chain: testChain(1), Source: src})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := gw.GasPrice(ctx, 1)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestOpenCircuitFailsFast(t *testing.T) {
	cfg := testGatewayConfig()
	cfg.RetryAttempts = 1
	cfg.Circuit = config.CircuitConfig{FailureThreshold: 2, OpenTimeoutMS: 60000}
	src := &fakeSource{gas: func(context.Context, int32) (domain.GasPrice, error) {
		return domain.GasPrice{}, &StatusError{StatusCode: 500}
	}}
	gw := NewGateway(Options{Config: cfg}, Endpoint{Chain: testChain(1), Source: src})

	for i := 0; i < 2; i++ {
		_, err := gw.GasPrice(context.Background(), 1)
		require.Error(t, err)
	}
	assert.Equal(t, "open", gw.BreakerStates()[1])

	_, err := gw.GasPrice(context.Background(), 1)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(2), src.calls.Load(), "open circuit must not reach the source")
}

func TestGatewayCachesResponses(t *testing.T) {
	c := cache.New(cache.Options{})
	defer c.Stop()

	src := &fakeSource{gas: okGas, balances: []domain.TokenBalance{{Token: domain.TokenInfo{Symbol: "USDC"}}}}
	gw := NewGateway(Options{
		Config: testGatewayConfig(),
		Cache:  c,
		TTL:    func(string) time.Duration { return time.Minute },
	}, Endpoint{Chain: testChain(1), Source: src})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := gw.Balances(context.Background(), 1, "0xabc")
			assert.NoError(t, err)
			assert.Len(t, got, 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), src.calls.Load())
}

func TestInvalidateRefetchesPastRemoteTier(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := cache.New(cache.Options{Remote: cache.NewRedisTier(db, "test:")})
	defer c.Stop()

	src := &fakeSource{gas: okGas}
	gw := NewGateway(Options{
		Config: testGatewayConfig(),
		Cache:  c,
		TTL:    func(string) time.Duration { return time.Minute },
	}, Endpoint{Chain: testChain(1), Source: src})

	mock.ExpectGet("test:gas:1").RedisNil()
	mock.Regexp().ExpectSet("test:gas:1", `"exp"`, time.Minute).SetVal("OK")
	mock.ExpectDel("test:gas:1").SetVal(1)
	mock.ExpectGet("test:gas:1").RedisNil()
	mock.Regexp().ExpectSet("test:gas:1", `"exp"`, time.Minute).SetVal("OK")

	_, err := gw.GasPrice(context.Background(), 1)
	require.NoError(t, err)

	gw.Invalidate(context.Background(), cache.Key(string(RequestGas), int64(1)))

	_, err = gw.GasPrice(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, int32(2), src.calls.Load(), "the refresh must reach the source, not a stale remote copy")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchDispatch(t *testing.T) {
	src := &fakeSource{gas: okGas}
	gw := NewGateway(Options{Config: testGatewayConfig()}, Endpoint{Chain: testChain(1), Source: src})

	v, err := gw.Fetch(context.Background(), 1, Request{Kind: RequestSupply, Address: "0xtoken"})
	require.NoError(t, err)
	assert.Equal(t, "0xtoken", v.(domain.SupplyRecord).Token)

	_, err = gw.Fetch(context.Background(), 1, Request{Kind: "bogus"})
	assert.Error(t, err)
}

func TestPoolTransactionsAreCachedPerWindow(t *testing.T) {
	c := cache.New(cache.Options{})
	defer c.Stop()

	src := &fakeSource{gas: okGas, poolTxs: []domain.Transaction{{Hash: "0x02", Pool: "0xpool", BlockNumber: 100}}}
	gw := NewGateway(Options{
		Config: testGatewayConfig(),
		Cache:  c,
		TTL:    func(string) time.Duration { return time.Minute },
	}, Endpoint{Chain: testChain(1), Source: src})
	ctx := context.Background()

	v, err := gw.Fetch(ctx, 1, Request{Kind: RequestPoolTxs, Address: "0xpool", FromBlock: 99, ToBlock: 101})
	require.NoError(t, err)
	assert.Len(t, v.([]domain.Transaction), 1)

	_, err = gw.PoolTransactions(ctx, 1, "0xpool", 99, 101)
	require.NoError(t, err)
	_, err = gw.PoolTransactions(ctx, 1, "0xpool", 200, 202)
	require.NoError(t, err)

	assert.Equal(t, int32(2), src.calls.Load(), "a repeated window is served from cache")
	assert.Equal(t, [][2]uint64{{99, 101}, {200, 202}}, src.windows)
}

func TestBackoffIsBounded(t *testing.T) {
	gw := NewGateway(Options{Config: config.GatewayConfig{
		BackoffMS: config.BackoffConfig{Base: 200, Max: 5000, Jitter: true},
	}})

	for attempt := 1; attempt <= 10; attempt++ {
		d := gw.backoff(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 5*time.Second)
	}

	gw.cfg.BackoffMS.Jitter = false
	assert.Equal(t, 200*time.Millisecond, gw.backoff(1))
	assert.Equal(t, 400*time.Millisecond, gw.backoff(2))
	assert.Equal(t, 5*time.Second, gw.backoff(8))
}

func TestChainsKeepRegistrationOrder(t *testing.T) {
	gw := NewGateway(Options{Config: testGatewayConfig()},
		Endpoint{Chain: testChain(137), Source: &fakeSource{gas: okGas}},
		Endpoint{Chain: testChain(1), Source: &fakeSource{gas: okGas}},
	)

	chains := gw.Chains()
	require.Len(t, chains, 2)
	assert.Equal(t, int64(137), chains[0].ID)
	assert.True(t, gw.Supported(1))
	assert.False(t, gw.Supported(10))
}
