// Package transport provides the observer HTTP API: live sweep progress,
// the run index, and Prometheus metrics.
package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gateway-fm/rpcbench/pkg/types"
)

// StatusReporter exposes the live progress of the running sweep.
type StatusReporter interface {
	Snapshot() types.ProgressSnapshot
}

// RunStore is the slice of the run index the observer serves.
type RunStore interface {
	GetRun(ctx context.Context, label string) (*types.RunSummary, error)
	ListRuns(ctx context.Context, provider string, limit, offset int) (*types.PaginatedRuns, error)
	DeleteRun(ctx context.Context, label string) error
}

// ScenarioLister names the registered scenarios.
type ScenarioLister interface {
	Names() []string
}

// Server handles HTTP requests for the observer API.
type Server struct {
	status    StatusReporter
	runs      RunStore
	scenarios ScenarioLister
	logger    *slog.Logger
	startTime time.Time
	wsServer  *WebSocketServer

	// CORS configuration
	corsAllowedOrigins []string
	corsAllowAll       bool
}

// NewServer creates a new observer server.
func NewServer(status StatusReporter, runs RunStore, scenarios ScenarioLister, logger *slog.Logger, corsAllowedOrigins string) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	wsServer := NewWebSocketServer(status, logger)
	wsServer.Start()

	s := &Server{
		status:    status,
		runs:      runs,
		scenarios: scenarios,
		logger:    logger,
		startTime: time.Now(),
		wsServer:  wsServer,
	}

	origins := strings.TrimSpace(corsAllowedOrigins)
	if origins == "" || origins == "*" {
		s.corsAllowAll = true
	} else {
		s.corsAllowedOrigins = strings.Split(origins, ",")
		for i, o := range s.corsAllowedOrigins {
			s.corsAllowedOrigins[i] = strings.TrimSpace(o)
		}
	}

	return s
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/status", s.corsMiddleware(s.handleStatus))
	mux.HandleFunc("/runs", s.corsMiddleware(s.handleRuns))
	mux.HandleFunc("/runs/", s.corsMiddleware(s.handleRunDetail))
	mux.HandleFunc("/scenarios", s.corsMiddleware(s.handleScenarios))
	mux.HandleFunc("/ws", s.wsServer.Handler())

	mux.HandleFunc("/health", s.handleHealth)

	// Prometheus metrics (standard path)
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

// Close stops the WebSocket broadcaster and disconnects its clients.
func (s *Server) Close() {
	s.wsServer.Stop()
}

// corsMiddleware adds CORS headers based on the configured allowed origins.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if s.corsAllowAll {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			allowed := false
			for _, o := range s.corsAllowedOrigins {
				if o == origin {
					allowed = true
					break
				}
			}
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// handleStatus returns the current progress snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snapshot := s.status.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snapshot)
}

// handleRuns returns completed runs with optional pagination and an
// optional provider filter.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.runs == nil {
		s.writeJSONError(w, "Run index disabled", http.StatusNotFound)
		return
	}

	limit := 50
	offset := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}
	provider := r.URL.Query().Get("provider")

	result, err := s.runs.ListRuns(r.Context(), provider, limit, offset)
	if err != nil {
		s.writeJSONError(w, "Failed to list runs: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// handleRunDetail handles GET and DELETE for /runs/{label}. Labels contain
// commas and equals signs, which are legal path characters; percent-encoded
// forms are accepted too.
func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.writeJSONError(w, "Run index disabled", http.StatusNotFound)
		return
	}

	label := strings.TrimPrefix(r.URL.Path, "/runs/")
	if unescaped, err := url.PathUnescape(label); err == nil {
		label = unescaped
	}
	if label == "" {
		s.writeJSONError(w, "Missing run label", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodDelete:
		if err := s.runs.DeleteRun(r.Context(), label); err != nil {
			s.writeJSONError(w, "Failed to delete run: "+err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]bool{"deleted": true})

	case http.MethodGet:
		run, err := s.runs.GetRun(r.Context(), label)
		if err != nil {
			s.writeJSONError(w, "Failed to get run: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if run == nil {
			s.writeJSONError(w, "Run not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(run)

	default:
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleScenarios returns the registered scenario names.
func (s *Server) handleScenarios(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string][]string{"scenarios": s.scenarios.Names()})
}

// handleHealth handles liveness probes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":         "healthy",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": time.Since(s.startTime).Seconds(),
	})
}

// writeJSONError writes a JSON error response
func (s *Server) writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
