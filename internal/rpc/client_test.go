package rpc

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/gateway-fm/rpcbench/pkg/types"
)

func TestSingleClientAcquire(t *testing.T) {
	c := &http.Client{}
	s := NewSingleClient(c)

	if s.Size() != 1 {
		t.Errorf("Size() = %d, want 1", s.Size())
	}
	for i := 0; i < 10; i++ {
		if got := s.Acquire(); got != c {
			t.Fatalf("Acquire() returned a different client on draw %d", i)
		}
	}
}

func TestClientPoolAcquire(t *testing.T) {
	clients := []*http.Client{{}, {}, {}}
	p := NewClientPool(clients)

	if p.Size() != 3 {
		t.Errorf("Size() = %d, want 3", p.Size())
	}

	members := map[*http.Client]bool{}
	for _, c := range clients {
		members[c] = true
	}

	seen := map[*http.Client]int{}
	for i := 0; i < 300; i++ {
		got := p.Acquire()
		if !members[got] {
			t.Fatal("Acquire() returned a client that is not a pool member")
		}
		seen[got]++
	}

	// Uniform random selection over 300 draws reaches every member of a
	// 3-client pool with overwhelming probability.
	if len(seen) != len(clients) {
		t.Errorf("Acquire() reached %d distinct members, want %d", len(seen), len(clients))
	}
}

func TestNewClientProvider(t *testing.T) {
	tests := []struct {
		name     string
		n        int
		wantSize int
		wantPool bool
	}{
		{name: "single client", n: 1, wantSize: 1, wantPool: false},
		{name: "pool of five", n: 5, wantSize: 5, wantPool: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewClientProvider(types.ProtocolH1, "http://localhost:8545", tt.n, time.Second)
			if p.Size() != tt.wantSize {
				t.Errorf("Size() = %d, want %d", p.Size(), tt.wantSize)
			}
			_, isPool := p.(*ClientPool)
			if isPool != tt.wantPool {
				t.Errorf("provider type pool = %v, want %v", isPool, tt.wantPool)
			}
		})
	}
}

func TestNewClientProfiles(t *testing.T) {
	timeout := 15 * time.Second

	t.Run("h1 transport pins HTTP/1.1", func(t *testing.T) {
		c := NewClient(types.ProtocolH1, "https://rpc.example.com", timeout)
		if c.Timeout != timeout {
			t.Errorf("Timeout = %v, want %v", c.Timeout, timeout)
		}
		tr, ok := c.Transport.(*http.Transport)
		if !ok {
			t.Fatalf("Transport = %T, want *http.Transport", c.Transport)
		}
		if tr.ForceAttemptHTTP2 {
			t.Error("ForceAttemptHTTP2 = true, want false")
		}
		if tr.TLSNextProto == nil {
			t.Error("TLSNextProto is nil, want non-nil empty map to disable ALPN h2")
		}
		if tr.MaxConnsPerHost != 0 {
			t.Errorf("MaxConnsPerHost = %d, want 0 (unlimited)", tr.MaxConnsPerHost)
		}
	})

	t.Run("h2 transport", func(t *testing.T) {
		c := NewClient(types.ProtocolH2, "https://rpc.example.com", timeout)
		if c.Timeout != timeout {
			t.Errorf("Timeout = %v, want %v", c.Timeout, timeout)
		}
		tr, ok := c.Transport.(*http2.Transport)
		if !ok {
			t.Fatalf("Transport = %T, want *http2.Transport", c.Transport)
		}
		if tr.AllowHTTP {
			t.Error("AllowHTTP = true for https endpoint, want false")
		}
	})

	t.Run("h2 cleartext endpoint", func(t *testing.T) {
		c := NewClient(types.ProtocolH2, "http://localhost:8545", timeout)
		tr := c.Transport.(*http2.Transport)
		if !tr.AllowHTTP {
			t.Error("AllowHTTP = false for http endpoint, want true")
		}
		if tr.DialTLSContext == nil {
			t.Error("DialTLSContext is nil, want plain-TCP dialer for h2c")
		}
	})
}

func TestClientNegotiatedProtocol(t *testing.T) {
	tests := []struct {
		name      string
		proto     types.Protocol
		wantProto string
	}{
		{name: "h1 speaks HTTP/1.1", proto: types.ProtocolH1, wantProto: "HTTP/1.1"},
		{name: "h2 speaks h2c against cleartext server", proto: types.ProtocolH2, wantProto: "HTTP/2.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotProto := make(chan string, 1)
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotProto <- r.Proto
				w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":null}`))
			})
			srv := httptest.NewServer(h2c.NewHandler(handler, &http2.Server{}))
			defer srv.Close()

			c := NewClient(tt.proto, srv.URL, 5*time.Second)
			resp, err := c.Get(srv.URL)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			resp.Body.Close()

			if got := <-gotProto; got != tt.wantProto {
				t.Errorf("server saw %s, want %s", got, tt.wantProto)
			}
		})
	}
}

func TestNewClientsIndependent(t *testing.T) {
	clients := NewClients(types.ProtocolH1, "http://localhost:8545", 3, time.Second)
	if len(clients) != 3 {
		t.Fatalf("len = %d, want 3", len(clients))
	}
	for i := 0; i < len(clients); i++ {
		for j := i + 1; j < len(clients); j++ {
			if clients[i] == clients[j] {
				t.Errorf("clients %d and %d are the same instance", i, j)
			}
			if clients[i].Transport == clients[j].Transport {
				t.Errorf("clients %d and %d share a transport", i, j)
			}
		}
	}
}
