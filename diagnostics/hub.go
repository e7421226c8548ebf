// Package diagnostics implements the worker's optional -diag-ws debug
// stream: a local websocket endpoint broadcasting the snapshot computed
// on every workerDiagnosticsTimer tick (queue depths, pacing state,
// bytes sent/received) to any attached observer, purely for local
// debugging — it carries no job-control traffic.
package diagnostics

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Snapshot is one workerDiagnosticsTimer tick's worth of state, JSON-
// encoded and pushed to every attached client.
type Snapshot struct {
	TimestampMicros int64 `json:"timestamp_us"`

	BytesSent     uint64 `json:"bytes_sent"`
	BytesReceived uint64 `json:"bytes_received"`

	RayQueueLen      int `json:"ray_queue_len"`
	OutQueueLen      int `json:"out_queue_len"`
	PendingQueueLen  int `json:"pending_queue_len"`
	FinishedQueueLen int `json:"finished_queue_len"`

	OutstandingUDP int `json:"outstanding_udp"`

	PeersConnecting int `json:"peers_connecting"`
	PeersConnected  int `json:"peers_connected"`
}

// Hub fans out Snapshots to every connected websocket client, mirroring
// the register/remove/broadcast channel loop of a browser-facing live
// stats push.
type Hub struct {
	upgrader websocket.Upgrader

	register chan *websocket.Conn
	remove   chan *websocket.Conn
	bcast    chan []byte

	mu           sync.RWMutex
	latest       []byte
	latestIsSent bool
}

// NewHub constructs a Hub and starts its run loop.
func NewHub() *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		register: make(chan *websocket.Conn),
		remove:   make(chan *websocket.Conn),
		bcast:    make(chan []byte, 16),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	clients := make(map[*websocket.Conn]bool)
	for {
		select {
		case conn := <-h.register:
			clients[conn] = true
		case conn := <-h.remove:
			if clients[conn] {
				delete(clients, conn)
				conn.Close()
			}
		case msg := <-h.bcast:
			for conn := range clients {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					slog.Warn("diagnostics: dropping websocket client", "error", err)
					delete(clients, conn)
					conn.Close()
				}
			}
		}
	}
}

// Publish marshals snap and queues it for broadcast to every attached
// client, and records it as the latest frame for newly-attaching
// clients to catch up on immediately.
func (h *Hub) Publish(snap Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		slog.Error("diagnostics: marshaling snapshot", "error", err)
		return
	}

	h.mu.Lock()
	h.latest = data
	h.mu.Unlock()

	select {
	case h.bcast <- data:
	default:
		slog.Warn("diagnostics: broadcast channel full, dropping frame")
	}
}

// ServeHTTP upgrades the request to a websocket connection, sends the
// latest known snapshot immediately, then keeps the connection open
// until the client disconnects (its read loop is only there to detect
// that disconnect; the stream is one-directional).
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("diagnostics: websocket upgrade failed", "error", err)
		return
	}

	h.register <- conn

	h.mu.RLock()
	if h.latest != nil {
		conn.WriteMessage(websocket.TextMessage, h.latest)
	}
	h.mu.RUnlock()

	go func() {
		defer func() { h.remove <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
