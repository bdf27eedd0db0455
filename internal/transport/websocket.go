package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gateway-fm/rpcbench/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Allow requests without Origin header (same-origin or direct)
		}

		// Parse the origin URL
		originURL, err := url.Parse(origin)
		if err != nil {
			return false
		}

		// Allow same origin (same host)
		if originURL.Host == r.Host {
			return true
		}

		// Allow localhost development origins
		host := originURL.Hostname()
		if host == "localhost" || host == "127.0.0.1" {
			return true
		}

		return false
	},
}

// WebSocketServer pushes progress snapshots to connected clients while a
// sweep is running.
type WebSocketServer struct {
	status    StatusReporter
	logger    *slog.Logger
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex
	done      chan struct{}
}

// NewWebSocketServer creates a new WebSocket server.
func NewWebSocketServer(status StatusReporter, logger *slog.Logger) *WebSocketServer {
	if logger == nil {
		logger = slog.Default()
	}

	return &WebSocketServer{
		status:  status,
		logger:  logger,
		clients: make(map[*websocket.Conn]bool),
		done:    make(chan struct{}),
	}
}

// Handler returns the HTTP handler for WebSocket connections.
func (ws *WebSocketServer) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			ws.logger.Error("websocket upgrade failed", "error", err)
			return
		}

		// The initial snapshot is sent while the lock is held: the broadcast
		// loop writes under RLock, so it can never interleave a tick with
		// this connection's first message.
		ws.clientsMu.Lock()
		ws.clients[conn] = true
		clientCount := len(ws.clients)
		ws.sendSnapshot(conn)
		ws.clientsMu.Unlock()

		ws.logger.Info("websocket client connected",
			"remote_addr", conn.RemoteAddr().String(),
			"total_clients", clientCount,
		)

		defer func() {
			ws.clientsMu.Lock()
			delete(ws.clients, conn)
			clientCount := len(ws.clients)
			ws.clientsMu.Unlock()
			conn.Close()

			ws.logger.Info("websocket client disconnected",
				"remote_addr", conn.RemoteAddr().String(),
				"total_clients", clientCount,
			)
		}()

		// Keep the connection open and detect disconnects
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					ws.logger.Debug("websocket read error", "error", err)
				}
				break
			}
		}
	}
}

// Start begins the broadcast loop.
func (ws *WebSocketServer) Start() {
	go ws.broadcastLoop()
}

// Stop shuts down the WebSocket server and disconnects all clients.
func (ws *WebSocketServer) Stop() {
	close(ws.done)

	ws.clientsMu.Lock()
	defer ws.clientsMu.Unlock()
	for conn := range ws.clients {
		conn.Close()
	}
	ws.clients = make(map[*websocket.Conn]bool)
}

// broadcastLoop pushes progress snapshots to all clients every 500ms.
func (ws *WebSocketServer) broadcastLoop() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ws.done:
			return
		case <-ticker.C:
			ws.clientsMu.RLock()
			hasClients := len(ws.clients) > 0
			ws.clientsMu.RUnlock()

			if !hasClients {
				continue
			}

			snapshot := ws.status.Snapshot()

			// Only broadcast while a sweep is active or has produced data
			if snapshot.Status != types.StatusIdle || snapshot.CallsDone > 0 {
				ws.broadcastSnapshot(snapshot)
			}
		}
	}
}

// broadcastSnapshot sends one snapshot to every connected client.
func (ws *WebSocketServer) broadcastSnapshot(snapshot types.ProgressSnapshot) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		ws.logger.Error("failed to marshal snapshot", "error", err)
		return
	}

	ws.clientsMu.RLock()
	defer ws.clientsMu.RUnlock()

	for conn := range ws.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			ws.logger.Debug("failed to send to websocket client",
				"remote_addr", conn.RemoteAddr().String(),
				"error", err,
			)
		}
	}
}

// sendSnapshot sends the current snapshot to a single client.
func (ws *WebSocketServer) sendSnapshot(conn *websocket.Conn) {
	data, err := json.Marshal(ws.status.Snapshot())
	if err != nil {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		ws.logger.Debug("failed to send initial snapshot", "error", err)
	}
}

// ClientCount returns the number of connected clients.
func (ws *WebSocketServer) ClientCount() int {
	ws.clientsMu.RLock()
	defer ws.clientsMu.RUnlock()
	return len(ws.clients)
}
