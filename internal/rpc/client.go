// Package rpc issues single-shot JSON-RPC calls over HTTP and records
// per-call timing and outcome.
package rpc

import (
	"context"
	"crypto/tls"
	"math/rand/v2"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"github.com/gateway-fm/rpcbench/pkg/types"
)

// Benchmark clients run without connection caps: the harness measures
// provider behavior under load and must not throttle itself. Go's
// http.Transport defaults MaxIdleConnsPerHost to 2, which would serialize
// keep-alive reuse under fan-out, so it is raised explicitly.
const (
	maxIdleConnsPerHost = 4096
	idleConnTimeout     = 90 * time.Second
)

// ClientProvider hands out an HTTP client for exactly one call.
// Implementations are immutable after construction and safe for
// concurrent use.
type ClientProvider interface {
	// Acquire returns the client to use for a single call.
	Acquire() *http.Client

	// Size returns the number of clients backing the provider.
	Size() int
}

// SingleClient is a ClientProvider that always returns the same client.
type SingleClient struct {
	client *http.Client
}

// NewSingleClient wraps one client as a provider.
func NewSingleClient(c *http.Client) *SingleClient {
	return &SingleClient{client: c}
}

// Acquire returns the wrapped client.
func (s *SingleClient) Acquire() *http.Client { return s.client }

// Size returns 1.
func (s *SingleClient) Size() int { return 1 }

// ClientPool is a ClientProvider that picks one member uniformly at random
// per call. Selection is stateless: no affinity, no bookkeeping, just a
// read of an immutable slice.
type ClientPool struct {
	clients []*http.Client
}

// NewClientPool wraps a fixed set of clients as a provider. Pool membership
// never changes after construction.
func NewClientPool(clients []*http.Client) *ClientPool {
	return &ClientPool{clients: clients}
}

// Acquire returns a uniformly random pool member.
func (p *ClientPool) Acquire() *http.Client {
	return p.clients[rand.IntN(len(p.clients))]
}

// Size returns the pool size.
func (p *ClientPool) Size() int { return len(p.clients) }

// NewClient builds an HTTP client for the given protocol profile. Both
// profiles share the benchmark policy: a hard per-request timeout and
// unbounded connection pooling.
//
// The endpoint URL only matters for the H2 profile, which needs to know
// whether to negotiate h2 over TLS or speak cleartext HTTP/2 (h2c).
func NewClient(proto types.Protocol, endpoint string, timeout time.Duration) *http.Client {
	var transport http.RoundTripper
	switch proto {
	case types.ProtocolH2:
		transport = newH2Transport(endpoint)
	default:
		transport = newH1Transport()
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// NewClients builds n independently configured clients of one profile. Each
// client owns its transport; siblings share no connection state.
func NewClients(proto types.Protocol, endpoint string, n int, timeout time.Duration) []*http.Client {
	clients := make([]*http.Client, n)
	for i := range clients {
		clients[i] = NewClient(proto, endpoint, timeout)
	}
	return clients
}

// NewClientProvider builds a provider over n fresh clients: a SingleClient
// for n==1, a random-choice pool otherwise.
func NewClientProvider(proto types.Protocol, endpoint string, n int, timeout time.Duration) ClientProvider {
	if n <= 1 {
		return NewSingleClient(NewClient(proto, endpoint, timeout))
	}
	return NewClientPool(NewClients(proto, endpoint, n, timeout))
}

// newH1Transport returns a transport pinned to HTTP/1.1. The non-nil empty
// TLSNextProto map disables ALPN upgrade even against servers that offer h2.
func newH1Transport() *http.Transport {
	return &http.Transport{
		MaxIdleConns:        0, // unlimited
		MaxIdleConnsPerHost: maxIdleConnsPerHost,
		MaxConnsPerHost:     0, // unlimited
		IdleConnTimeout:     idleConnTimeout,
		ForceAttemptHTTP2:   false,
		TLSNextProto:        map[string]func(string, *tls.Conn) http.RoundTripper{},
	}
}

// newH2Transport returns an HTTP/2 transport. For https endpoints the
// standard ALPN negotiation applies. For cleartext endpoints (local test
// servers) the transport dials plain TCP and speaks h2c.
func newH2Transport(endpoint string) *http2.Transport {
	t := &http2.Transport{}
	if strings.HasPrefix(endpoint, "http://") {
		t.AllowHTTP = true
		t.DialTLSContext = func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		}
	}
	return t
}
