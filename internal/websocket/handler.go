package websocket

import (
	"context"
	"errors"
	"net/http"
	"time"

	ws "github.com/coder/websocket"
)

// Streamer upgrades requests to status streams.
type Streamer struct {
	hub          *Hub
	status       StatusFunc
	pollInterval time.Duration
	maxDuration  time.Duration
}

func NewStreamer(hub *Hub, status StatusFunc, pollInterval, maxDuration time.Duration) *Streamer {
	return &Streamer{
		hub:          hub,
		status:       status,
		pollInterval: pollInterval,
		maxDuration:  maxDuration,
	}
}

// Serve upgrades the connection and streams status for deviceID. The caller
// validates deviceID before calling.
func (s *Streamer) Serve(w http.ResponseWriter, r *http.Request, deviceID string) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{
		InsecureSkipVerify: true, // TV clients send no Origin; CORS governs browsers
	})
	if err != nil {
		s.hub.logger.Warn("websocket accept", "error", err)
		return
	}
	defer conn.CloseNow()

	client := NewClient(s.hub, conn, deviceID)
	err = client.Run(r.Context(), s.status, s.pollInterval, s.maxDuration)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.hub.logger.Debug("status stream ended", "device_id", deviceID, "error", err)
	}
}
