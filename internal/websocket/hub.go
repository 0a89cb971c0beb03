package websocket

import (
	"log/slog"
	"sync"

	"github.com/dukerupert/pickletv/internal/metrics"
)

// Hub tracks open status streams by device and wakes them when that
// device's auth status may have changed.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	logger  *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.deviceID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.deviceID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()
	metrics.StatusStreamsActive.Inc()
}

// Unregister removes a client from the hub. It is safe to call twice.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.clients[c.deviceID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.deviceID)
	}
	metrics.StatusStreamsActive.Dec()
}

// Notify wakes every stream open for deviceID so it re-checks status
// immediately instead of waiting for its next poll.
func (h *Hub) Notify(deviceID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients[deviceID] {
		select {
		case c.wake <- struct{}{}:
		default:
			// A wake-up is already pending.
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}
