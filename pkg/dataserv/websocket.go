package dataserv

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/itohio/beltmon/pkg/series"
)

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub fans snapshots out to websocket clients. A slow client only ever
// holds the newest snapshot; older undelivered ones are dropped.
type Hub struct {
	mu      sync.Mutex
	clients map[chan series.Snapshot]struct{}
	closed  bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[chan series.Snapshot]struct{}),
	}
}

// Broadcast queues snap for every client. It never blocks.
func (h *Hub) Broadcast(snap series.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.clients {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

// Subscribe registers a client. The returned channel is closed by Unsubscribe or Close.
func (h *Hub) Subscribe() chan series.Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan series.Snapshot, 1)
	if h.closed {
		close(ch)
		return ch
	}
	h.clients[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a client.
func (h *Hub) Unsubscribe(ch chan series.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.clients {
		delete(h.clients, ch)
		close(ch)
	}
	h.closed = true
}

// WebsocketHandler sends the current snapshot and then every published one.
func (s *Server) WebsocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	updates := s.hub.Subscribe()
	defer s.hub.Unsubscribe(updates)

	// Reading is only needed to notice the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := writeSnapshot(conn, s.provider.Snapshot()); err != nil {
		return
	}

	for {
		select {
		case <-gone:
			return
		case snap, ok := <-updates:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeTimeout))
				return
			}
			if err := writeSnapshot(conn, snap); err != nil {
				slog.Debug("Websocket client dropped", slog.Any("error", err))
				return
			}
		}
	}
}

func writeSnapshot(conn *websocket.Conn, snap series.Snapshot) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(NewSnapshotResponse(snap, 0))
}
