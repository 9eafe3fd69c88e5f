package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/eligibility/internal/cache"
	"github.com/sawpanic/eligibility/internal/domain"
)

// GasRefresher is the part of the Gateway the head watcher drives
type GasRefresher interface {
	Invalidate(ctx context.Context, key string)
	GasPrice(ctx context.Context, chainID int64) (domain.GasPrice, error)
}

// HeadWatcher subscribes to newHeads and refreshes the cached gas quote on every block
type HeadWatcher struct {
	chainID  int64
	url      string
	gateway  GasRefresher
	dialer   *websocket.Dialer
	lastHead atomic.Uint64

	minDelay time.Duration
	maxDelay time.Duration
}

// NewHeadWatcher creates a watcher for one chain's websocket endpoint
func NewHeadWatcher(chainID int64, wsURL string, gateway GasRefresher) *HeadWatcher {
	return &HeadWatcher{
		chainID:  chainID,
		url:      wsURL,
		gateway:  gateway,
		dialer:   &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		minDelay: time.Second,
		maxDelay: 30 * time.Second,
	}
}

// LastHead returns the most recent block number seen, zero before the first head
func (w *HeadWatcher) LastHead() uint64 {
	return w.lastHead.Load()
}

type subscriptionMessage struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	Params struct {
		Subscription string `json:"subscription"`
		Result       struct {
			Number        string `json:"number"`
			BaseFeePerGas string `json:"baseFeePerGas"`
		} `json:"result"`
	} `json:"params"`
}

// Run keeps a subscription alive until ctx is cancelled, reconnecting with doubling delay
func (w *HeadWatcher) Run(ctx context.Context) error {
	delay := w.minDelay
	for {
		err := w.session(ctx)
		if ctx.Err() != nil {
			return nil
		}

		log.Warn().Int64("chain_id", w.chainID).Err(err).Dur("retry_in", delay).Msg("head subscription dropped")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > w.maxDelay {
			delay = w.maxDelay
		}
	}
}

func (w *HeadWatcher) session(ctx context.Context) error {
	header := http.Header{"User-Agent": []string{userAgent}}
	conn, _, err := w.dialer.DialContext(ctx, w.url, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", w.url, err)
	}
	defer conn.Close()

	// unblock ReadMessage when the caller goes away
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	sub := rpcRequest{JSONRPC: "2.0", ID: 1, Method: "eth_subscribe", Params: []any{"newHeads"}}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	log.Info().Int64("chain_id", w.chainID).Str("url", w.url).Msg("subscribed to new heads")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg subscriptionMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Debug().Int64("chain_id", w.chainID).Err(err).Msg("ignoring undecodable head message")
			continue
		}
		if msg.Error != nil {
			return msg.Error
		}
		if msg.Method != "eth_subscription" {
			continue
		}

		w.onHead(ctx, msg.Params.Result.Number)
	}
}

func (w *HeadWatcher) onHead(ctx context.Context, numberHex string) {
	if n, err := parseQuantity(numberHex); err == nil {
		w.lastHead.Store(n.BigInt().Uint64())
	}

	w.gateway.Invalidate(ctx, cache.Key(string(RequestGas), w.chainID))
	if _, err := w.gateway.GasPrice(ctx, w.chainID); err != nil {
		log.Debug().Int64("chain_id", w.chainID).Err(err).Msg("gas refresh after new head failed")
	}
}
