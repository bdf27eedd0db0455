package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gateway-fm/rpcbench/pkg/types"
)

// fakeStatus is a StatusReporter returning a canned snapshot.
type fakeStatus struct {
	mu       sync.Mutex
	snapshot types.ProgressSnapshot
}

func (f *fakeStatus) Snapshot() types.ProgressSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot
}

func (f *fakeStatus) set(s types.ProgressSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshot = s
}

// fakeRunStore is an in-memory RunStore recording the query it receives.
type fakeRunStore struct {
	mu           sync.Mutex
	runs         map[string]*types.RunSummary
	lastProvider string
	lastLimit    int
	lastOffset   int
	failList     bool
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{runs: make(map[string]*types.RunSummary)}
}

func (f *fakeRunStore) GetRun(_ context.Context, label string) (*types.RunSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs[label], nil
}

func (f *fakeRunStore) ListRuns(_ context.Context, provider string, limit, offset int) (*types.PaginatedRuns, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failList {
		return nil, fmt.Errorf("index unavailable")
	}
	f.lastProvider = provider
	f.lastLimit = limit
	f.lastOffset = offset
	out := make([]types.RunSummary, 0, len(f.runs))
	for _, r := range f.runs {
		if provider != "" && r.Provider != provider {
			continue
		}
		out = append(out, *r)
	}
	return &types.PaginatedRuns{Runs: out, Total: len(out), Limit: limit, Offset: offset}, nil
}

func (f *fakeRunStore) DeleteRun(_ context.Context, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.runs, label)
	return nil
}

func (f *fakeRunStore) put(r *types.RunSummary) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[r.Label] = r
}

// fakeScenarios is a ScenarioLister with fixed names.
type fakeScenarios struct {
	names []string
}

func (f *fakeScenarios) Names() []string { return f.names }

func newTestServer(t *testing.T) (*Server, *fakeStatus, *fakeRunStore) {
	t.Helper()

	status := &fakeStatus{snapshot: types.ProgressSnapshot{Status: types.StatusIdle}}
	store := newFakeRunStore()
	scenarios := &fakeScenarios{names: []string{"limits", "probe", "protocols", "providers"}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv := NewServer(status, store, scenarios, logger, "*")
	t.Cleanup(srv.Close)

	return srv, status, store
}

func TestHandleStatus(t *testing.T) {
	srv, status, _ := newTestServer(t)
	status.set(types.ProgressSnapshot{
		Status:       types.StatusRunning,
		Scenario:     "protocols",
		CurrentLabel: "alchemy,b=1000,c=1000,p=h1,i=1",
		BatchesDone:  1,
		BatchesTotal: 4,
		CallsDone:    1500,
	})

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /status status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var got types.ProgressSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if got.Status != types.StatusRunning {
		t.Errorf("Status = %q, want %q", got.Status, types.StatusRunning)
	}
	if got.Scenario != "protocols" {
		t.Errorf("Scenario = %q, want %q", got.Scenario, "protocols")
	}
	if got.CurrentLabel != "alchemy,b=1000,c=1000,p=h1,i=1" {
		t.Errorf("CurrentLabel = %q, want %q", got.CurrentLabel, "alchemy,b=1000,c=1000,p=h1,i=1")
	}
	if got.CallsDone != 1500 {
		t.Errorf("CallsDone = %d, want %d", got.CallsDone, 1500)
	}
}

func TestHandleStatusMethodNotAllowed(t *testing.T) {
	srv, _, _ := newTestServer(t)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/status", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST /status failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("POST /status status = %d, want %d", resp.StatusCode, http.StatusMethodNotAllowed)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body["error"] == "" {
		t.Error("expected non-empty error message in body")
	}
}

func TestHandleRunsPagination(t *testing.T) {
	tests := []struct {
		name         string
		query        string
		wantLimit    int
		wantOffset   int
		wantProvider string
	}{
		{name: "defaults", query: "", wantLimit: 50, wantOffset: 0},
		{name: "explicit values", query: "?limit=10&offset=5", wantLimit: 10, wantOffset: 5},
		{name: "limit above max ignored", query: "?limit=500", wantLimit: 50, wantOffset: 0},
		{name: "zero limit ignored", query: "?limit=0", wantLimit: 50, wantOffset: 0},
		{name: "negative offset ignored", query: "?offset=-3", wantLimit: 50, wantOffset: 0},
		{name: "non-numeric ignored", query: "?limit=abc&offset=xyz", wantLimit: 50, wantOffset: 0},
		{name: "provider filter", query: "?provider=chainstack", wantLimit: 50, wantOffset: 0, wantProvider: "chainstack"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, store := newTestServer(t)

			ts := httptest.NewServer(srv.Handler())
			defer ts.Close()

			resp, err := http.Get(ts.URL + "/runs" + tt.query)
			if err != nil {
				t.Fatalf("GET /runs%s failed: %v", tt.query, err)
			}
			resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				t.Fatalf("GET /runs%s status = %d, want %d", tt.query, resp.StatusCode, http.StatusOK)
			}
			if store.lastLimit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", store.lastLimit, tt.wantLimit)
			}
			if store.lastOffset != tt.wantOffset {
				t.Errorf("offset = %d, want %d", store.lastOffset, tt.wantOffset)
			}
			if store.lastProvider != tt.wantProvider {
				t.Errorf("provider = %q, want %q", store.lastProvider, tt.wantProvider)
			}
		})
	}
}

func TestHandleRunsProviderFilter(t *testing.T) {
	srv, _, store := newTestServer(t)
	store.put(&types.RunSummary{Label: "alchemy,b=1000,c=100,p=h1,i=1", Provider: "alchemy"})
	store.put(&types.RunSummary{Label: "quicknode,b=1000,c=100,p=h1,i=1", Provider: "quicknode"})

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/runs?provider=quicknode")
	if err != nil {
		t.Fatalf("GET /runs?provider=quicknode failed: %v", err)
	}
	defer resp.Body.Close()

	var page types.PaginatedRuns
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		t.Fatalf("decode runs page: %v", err)
	}
	if len(page.Runs) != 1 {
		t.Fatalf("len(Runs) = %d, want 1", len(page.Runs))
	}
	if page.Runs[0].Provider != "quicknode" {
		t.Errorf("Provider = %q, want %q", page.Runs[0].Provider, "quicknode")
	}
}

func TestHandleRunsListError(t *testing.T) {
	srv, _, store := newTestServer(t)
	store.failList = true

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/runs")
	if err != nil {
		t.Fatalf("GET /runs failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("GET /runs status = %d, want %d", resp.StatusCode, http.StatusInternalServerError)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if !strings.Contains(body["error"], "index unavailable") {
		t.Errorf("error = %q, want it to contain %q", body["error"], "index unavailable")
	}
}

func TestHandleRunDetail(t *testing.T) {
	srv, _, store := newTestServer(t)
	label := "chainstack,concurrency,limits,b=100,c=100"
	store.put(&types.RunSummary{
		Label:    label,
		Scenario: "probe",
		Provider: "chainstack",
		Calls:    100,
		Errors:   2,
	})

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	// Labels contain commas and equals signs; both raw and escaped paths work
	paths := []string{
		"/runs/" + label,
		"/runs/" + url.PathEscape(label),
	}
	for _, p := range paths {
		resp, err := http.Get(ts.URL + p)
		if err != nil {
			t.Fatalf("GET %s failed: %v", p, err)
		}

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want %d", p, resp.StatusCode, http.StatusOK)
		}

		var run types.RunSummary
		if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
			t.Fatalf("decode run: %v", err)
		}
		resp.Body.Close()

		if run.Label != label {
			t.Errorf("Label = %q, want %q", run.Label, label)
		}
		if run.Calls != 100 || run.Errors != 2 {
			t.Errorf("Calls/Errors = %d/%d, want 100/2", run.Calls, run.Errors)
		}
	}
}

func TestHandleRunDetailNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/runs/no-such-label")
	if err != nil {
		t.Fatalf("GET /runs/no-such-label failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestHandleRunDetailDelete(t *testing.T) {
	srv, _, store := newTestServer(t)
	label := "alchemy,b=1000,c=100,p=h2,i=3"
	store.put(&types.RunSummary{Label: label})

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/runs/"+label, nil)
	if err != nil {
		t.Fatalf("build DELETE request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("DELETE status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var body map[string]bool
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode delete response: %v", err)
	}
	if !body["deleted"] {
		t.Error("expected deleted=true in response")
	}

	if got, _ := store.GetRun(context.Background(), label); got != nil {
		t.Errorf("run %q still present after delete", label)
	}
}

func TestHandleRunDetailMethodNotAllowed(t *testing.T) {
	srv, _, _ := newTestServer(t)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/runs/some-label", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("build PUT request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("PUT status = %d, want %d", resp.StatusCode, http.StatusMethodNotAllowed)
	}
}

func TestHandleScenarios(t *testing.T) {
	srv, _, _ := newTestServer(t)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/scenarios")
	if err != nil {
		t.Fatalf("GET /scenarios failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /scenarios status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var body map[string][]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode scenarios: %v", err)
	}

	want := []string{"limits", "probe", "protocols", "providers"}
	got := body["scenarios"]
	if len(got) != len(want) {
		t.Fatalf("scenarios = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("scenarios[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestHandleHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /health status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want %q", body["status"], "healthy")
	}
	if _, ok := body["uptime_seconds"]; !ok {
		t.Error("expected uptime_seconds in health response")
	}
}

func TestCORSAllowAll(t *testing.T) {
	srv, _, _ := newTestServer(t)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/status", nil)
	req.Header.Set("Origin", "http://example.com")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /status failed: %v", err)
	}
	resp.Body.Close()

	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, "*")
	}
}

func TestCORSConfiguredOrigins(t *testing.T) {
	status := &fakeStatus{}
	store := newFakeRunStore()
	scenarios := &fakeScenarios{names: []string{"protocols"}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv := NewServer(status, store, scenarios, logger, "http://dash.local, http://ops.local")
	t.Cleanup(srv.Close)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	tests := []struct {
		name       string
		origin     string
		wantHeader string
	}{
		{name: "first allowed origin", origin: "http://dash.local", wantHeader: "http://dash.local"},
		{name: "second allowed origin", origin: "http://ops.local", wantHeader: "http://ops.local"},
		{name: "unlisted origin", origin: "http://evil.local", wantHeader: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, ts.URL+"/status", nil)
			req.Header.Set("Origin", tt.origin)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("GET /status failed: %v", err)
			}
			resp.Body.Close()

			if got := resp.Header.Get("Access-Control-Allow-Origin"); got != tt.wantHeader {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantHeader)
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _, _ := newTestServer(t)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/runs", nil)
	req.Header.Set("Origin", "http://example.com")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS /runs failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("OPTIONS status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if got := resp.Header.Get("Access-Control-Allow-Methods"); !strings.Contains(got, "DELETE") {
		t.Errorf("Access-Control-Allow-Methods = %q, want it to contain DELETE", got)
	}
}

func TestWebSocketInitialSnapshot(t *testing.T) {
	srv, status, _ := newTestServer(t)
	status.set(types.ProgressSnapshot{
		Status:    types.StatusRunning,
		Scenario:  "limits",
		CallsDone: 42,
	})

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read initial snapshot: %v", err)
	}

	var got types.ProgressSnapshot
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if got.Scenario != "limits" {
		t.Errorf("Scenario = %q, want %q", got.Scenario, "limits")
	}
	if got.CallsDone != 42 {
		t.Errorf("CallsDone = %d, want %d", got.CallsDone, 42)
	}

	if n := srv.wsServer.ClientCount(); n != 1 {
		t.Errorf("ClientCount = %d, want 1", n)
	}
}

func TestWebSocketBroadcastLoop(t *testing.T) {
	srv, status, _ := newTestServer(t)
	status.set(types.ProgressSnapshot{
		Status:   types.StatusRunning,
		Scenario: "providers",
	})

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// First message is the connect-time snapshot, the second comes from
	// the 500ms broadcast ticker.
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for i := 0; i < 2; i++ {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read message %d: %v", i, err)
		}
		var got types.ProgressSnapshot
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal message %d: %v", i, err)
		}
		if got.Scenario != "providers" {
			t.Errorf("message %d Scenario = %q, want %q", i, got.Scenario, "providers")
		}
	}
}
