// Package httpclient builds the shared HTTP client used by chain sources. Retries and
// backoff live in the gateway; this layer only pools connections and records latency.
package httpclient

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type ClientConfig struct {
	MaxConnsPerHost int
	IdleConnTimeout time.Duration
	DialTimeout     time.Duration
	UserAgent       string
}

// DefaultConfig returns pool settings sized for a handful of chains
func DefaultConfig() ClientConfig {
	return ClientConfig{
		MaxConnsPerHost: 16,
		IdleConnTimeout: 90 * time.Second,
		DialTimeout:     5 * time.Second,
		UserAgent:       "eligibility-engine/1.0",
	}
}

type ClientStats struct {
	TotalRequests   int64
	SuccessRequests int64
	FailedRequests  int64
	TotalLatency    time.Duration
	P50Latency      time.Duration
	P95Latency      time.Duration
}

// ClientPool is an http.RoundTripper over a tuned transport
type ClientPool struct {
	config ClientConfig
	next   http.RoundTripper
	mu     sync.RWMutex
	stats  ClientStats
}

func NewClientPool(config ClientConfig) *ClientPool {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        config.MaxConnsPerHost * 4,
		MaxIdleConnsPerHost: config.MaxConnsPerHost,
		MaxConnsPerHost:     config.MaxConnsPerHost,
		IdleConnTimeout:     config.IdleConnTimeout,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return newClientPool(config, transport)
}

func newClientPool(config ClientConfig, next http.RoundTripper) *ClientPool {
	return &ClientPool{config: config, next: next}
}

// Client returns an http.Client using the pool. Per-request deadlines come from the context.
func (cp *ClientPool) Client() *http.Client {
	return &http.Client{Transport: cp}
}

// RoundTrip implements http.RoundTripper
func (cp *ClientPool) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	if cp.config.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", cp.config.UserAgent)
	}

	resp, err := cp.next.RoundTrip(req)
	cp.record(time.Since(start), err == nil && resp.StatusCode < 500)

	if err != nil {
		log.Debug().Err(err).Str("host", req.URL.Host).Msg("HTTP request failed")
	}
	return resp, err
}

func (cp *ClientPool) GetStats() ClientStats {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	return cp.stats
}

// CloseIdleConnections drops pooled connections on shutdown
func (cp *ClientPool) CloseIdleConnections() {
	if t, ok := cp.next.(interface{ CloseIdleConnections() }); ok {
		t.CloseIdleConnections()
	}
}

func (cp *ClientPool) record(duration time.Duration, ok bool) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	first := cp.stats.TotalRequests == 0
	cp.stats.TotalRequests++
	if ok {
		cp.stats.SuccessRequests++
	} else {
		cp.stats.FailedRequests++
	}
	cp.stats.TotalLatency += duration

	if first {
		cp.stats.P50Latency = duration
		cp.stats.P95Latency = duration
		return
	}

	// Exponential moving average approximation
	alpha := 0.1
	cp.stats.P50Latency = time.Duration(float64(cp.stats.P50Latency)*(1-alpha) + float64(duration)*alpha)

	// P95 uses slower decay
	alpha95 := 0.05
	if duration > cp.stats.P95Latency {
		alpha95 = 0.2 // React faster to higher latencies
	}
	cp.stats.P95Latency = time.Duration(float64(cp.stats.P95Latency)*(1-alpha95) + float64(duration)*alpha95)
}
