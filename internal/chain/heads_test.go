package chain

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/eligibility/internal/domain"
)

type recordingRefresher struct {
	mu          sync.Mutex
	invalidated []string
	refreshed   int
}

func (r *recordingRefresher) Invalidate(ctx context.Context, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidated = append(r.invalidated, key)
}

func (r *recordingRefresher) GasPrice(ctx context.Context, chainID int64) (domain.GasPrice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshed++
	return domain.GasPrice{ChainID: chainID}, nil
}

func (r *recordingRefresher) snapshot() ([]string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.invalidated...), r.refreshed
}

func TestHeadWatcherRefreshesGasOnNewHead(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub rpcRequest
		if err := conn.ReadJSON(&sub); err != nil || sub.Method != "eth_subscribe" {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","id":1,"result":"0xsub"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","method":"eth_subscription","params":{"subscription":"0xsub","result":{"number":"0x112a880","baseFeePerGas":"0x1"}}}`))

		// hold the connection until the client leaves
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	refresher := &recordingRefresher{}
	w := NewHeadWatcher(1, "ws"+strings.TrimPrefix(srv.URL, "http"), refresher)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, refreshed := refresher.snapshot()
		return refreshed == 1
	}, 2*time.Second, 10*time.Millisecond)

	invalidated, _ := refresher.snapshot()
	assert.Equal(t, []string{"gas:1"}, invalidated)
	assert.Equal(t, uint64(18000000), w.LastHead())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop after cancel")
	}
}
