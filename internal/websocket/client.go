package websocket

import (
	"context"
	"errors"
	"time"

	ws "github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/dukerupert/pickletv/internal/model"
)

// StatusFunc reports the current auth status of a device.
type StatusFunc func(ctx context.Context, deviceID string) (*model.AuthStatus, error)

// Client is one status stream for one device.
type Client struct {
	hub      *Hub
	conn     *ws.Conn
	deviceID string
	wake     chan struct{}
}

// NewClient creates a Client tied to the given hub and connection.
func NewClient(hub *Hub, conn *ws.Conn, deviceID string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		deviceID: deviceID,
		wake:     make(chan struct{}, 1),
	}
}

// Run registers the client and pushes status frames until the device is
// authenticated, maxDuration elapses, or the peer goes away.
func (c *Client) Run(ctx context.Context, status StatusFunc, pollInterval, maxDuration time.Duration) error {
	c.hub.Register(c)
	defer c.hub.Unregister(c)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.readPump(ctx, cancel)

	deadline := time.NewTimer(maxDuration)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		st, err := status(ctx, c.deviceID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.conn.Close(ws.StatusInternalError, "status check failed")
			return err
		}
		if err := wsjson.Write(ctx, c.conn, st); err != nil {
			return err
		}
		if st.Authenticated {
			return c.conn.Close(ws.StatusNormalClosure, "authenticated")
		}

		select {
		case <-ticker.C:
		case <-c.wake:
		case <-deadline.C:
			final := &model.AuthStatus{DeviceID: c.deviceID}
			if err := wsjson.Write(ctx, c.conn, final); err != nil {
				return err
			}
			return c.conn.Close(ws.StatusNormalClosure, "expired")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// readPump reads and discards all incoming messages so control frames are
// processed. It cancels the stream when the peer closes.
func (c *Client) readPump(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			var ce ws.CloseError
			if !errors.As(err, &ce) && ctx.Err() == nil {
				c.hub.logger.Debug("status stream read", "device_id", c.deviceID, "error", err)
			}
			return
		}
	}
}
