package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/eligibility/internal/domain"
)

const userAgent = "eligibility-engine/1.0"

// HTTPSource talks JSON-RPC to a node for gas data and REST to an indexer that
// already returns mapped records.
type HTTPSource struct {
	chainID    int64
	rpcURL     string
	indexerURL string
	client     *http.Client
	nextID     atomic.Int64
}

// NewHTTPSource creates a source; client may be nil
func NewHTTPSource(chainID int64, rpcURL, indexerURL string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Transport: http.DefaultTransport}
	}
	return &HTTPSource{
		chainID:    chainID,
		rpcURL:     rpcURL,
		indexerURL: strings.TrimRight(indexerURL, "/"),
		client:     client,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// GasPrice combines eth_gasPrice, eth_maxPriorityFeePerGas and the latest block's base fee
func (s *HTTPSource) GasPrice(ctx context.Context) (domain.GasPrice, error) {
	var priceHex string
	if err := s.rpc(ctx, "eth_gasPrice", nil, &priceHex); err != nil {
		return domain.GasPrice{}, err
	}
	price, err := parseQuantity(priceHex)
	if err != nil {
		return domain.GasPrice{}, Malformed(err)
	}

	var tipHex string
	tip := decimal.Zero
	if err := s.rpc(ctx, "eth_maxPriorityFeePerGas", nil, &tipHex); err == nil {
		if tip, err = parseQuantity(tipHex); err != nil {
			return domain.GasPrice{}, Malformed(err)
		}
	}

	var block struct {
		BaseFeePerGas string `json:"baseFeePerGas"`
	}
	baseFee := price.Sub(tip)
	if err := s.rpc(ctx, "eth_getBlockByNumber", []any{"latest", false}, &block); err != nil {
		return domain.GasPrice{}, err
	}
	if block.BaseFeePerGas != "" {
		if baseFee, err = parseQuantity(block.BaseFeePerGas); err != nil {
			return domain.GasPrice{}, Malformed(err)
		}
	}
	if baseFee.IsNegative() {
		baseFee = decimal.Zero
	}

	return domain.GasPrice{
		ChainID:     s.chainID,
		Price:       price,
		BaseFee:     baseFee,
		PriorityFee: tip,
		ObservedAt:  time.Now().UTC(),
	}, nil
}

func (s *HTTPSource) Balances(ctx context.Context, address string) ([]domain.TokenBalance, error) {
	var out []domain.TokenBalance
	err := s.get(ctx, "/balances/"+url.PathEscape(address), nil, &out)
	return out, err
}

func (s *HTTPSource) Transactions(ctx context.Context, address string) ([]domain.Transaction, error) {
	var out []domain.Transaction
	err := s.get(ctx, "/transactions/"+url.PathEscape(address), nil, &out)
	return out, err
}

func (s *HTTPSource) Venues(ctx context.Context, tokenIn, tokenOut string) ([]domain.Venue, error) {
	var out []domain.Venue
	q := url.Values{"tokenIn": {tokenIn}, "tokenOut": {tokenOut}}
	err := s.get(ctx, "/venues", q, &out)
	return out, err
}

func (s *HTTPSource) Supply(ctx context.Context, token string) (domain.SupplyRecord, error) {
	var out domain.SupplyRecord
	err := s.get(ctx, "/supply/"+url.PathEscape(token), nil, &out)
	return out, err
}

func (s *HTTPSource) PriceSeries(ctx context.Context, token string, from, to time.Time) ([]domain.PricePoint, error) {
	var out []domain.PricePoint
	q := url.Values{
		"from": {strconv.FormatInt(from.Unix(), 10)},
		"to":   {strconv.FormatInt(to.Unix(), 10)},
	}
	err := s.get(ctx, "/prices/"+url.PathEscape(token), q, &out)
	return out, err
}

func (s *HTTPSource) PoolTransactions(ctx context.Context, pool string, fromBlock, toBlock uint64) ([]domain.Transaction, error) {
	var out []domain.Transaction
	q := url.Values{
		"fromBlock": {strconv.FormatUint(fromBlock, 10)},
		"toBlock":   {strconv.FormatUint(toBlock, 10)},
	}
	err := s.get(ctx, "/pools/"+url.PathEscape(pool)+"/transactions", q, &out)
	return out, err
}

func (s *HTTPSource) rpc(ctx context.Context, method string, params []any, out any) error {
	if s.rpcURL == "" {
		return fmt.Errorf("chain %d has no rpc url", s.chainID)
	}
	if params == nil {
		params = []any{}
	}

	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: s.nextID.Add(1), Method: method, Params: params})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.rpcURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	raw, err := s.do(req)
	if err != nil {
		return err
	}

	var resp rpcResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Malformed(fmt.Errorf("%s: %w", method, err))
	}
	if resp.Error != nil {
		return resp.Error
	}
	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		return Malformed(fmt.Errorf("%s: empty result", method))
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return Malformed(fmt.Errorf("%s: %w", method, err))
	}
	return nil
}

func (s *HTTPSource) get(ctx context.Context, path string, query url.Values, out any) error {
	if s.indexerURL == "" {
		return fmt.Errorf("chain %d has no indexer url", s.chainID)
	}

	u := s.indexerURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	raw, err := s.do(req)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return Malformed(fmt.Errorf("GET %s: %w", path, err))
	}
	return nil
}

func (s *HTTPSource) do(req *http.Request) ([]byte, error) {
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(raw)
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: snippet}
	}
	return raw, nil
}

// parseQuantity decodes a 0x-prefixed JSON-RPC quantity
func parseQuantity(s string) (decimal.Decimal, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return decimal.Zero, fmt.Errorf("quantity %q lacks 0x prefix", s)
	}
	n, ok := new(big.Int).SetString(s[2:], 16)
	if !ok {
		return decimal.Zero, fmt.Errorf("invalid quantity %q", s)
	}
	return decimal.NewFromBigInt(n, 0), nil
}
