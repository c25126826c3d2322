package screenHandler

import (
	"context"
	"time"

	"github.com/gofiber/websocket/v2"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamReadTimeout  = 60 * time.Second
	streamPingPeriod   = 30 * time.Second
)

// handleViewStream pushes the current View and then every update of the
// screen until either side goes away.
func (h *ScreenHandler) handleViewStream(c *websocket.Conn) {
	id := c.Params("id")
	entry := h.log.WithField("screen_id", id)

	entry.Info("View stream client connected")
	defer entry.Info("View stream client disconnected")

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	current, err := h.screenService.View(ctx, id)
	cancel()
	if err != nil {
		_ = c.WriteJSON(map[string]string{"error": err.Error()})
		return
	}

	views, unsubscribe, err := h.screenService.Subscribe(id)
	if err != nil {
		_ = c.WriteJSON(map[string]string{"error": err.Error()})
		return
	}
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		c.SetPongHandler(func(string) error {
			return c.SetReadDeadline(time.Now().Add(streamReadTimeout))
		})
		for {
			if err := c.SetReadDeadline(time.Now().Add(streamReadTimeout)); err != nil {
				return
			}
			if _, _, err := c.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					entry.WithError(err).Warn("View stream read error")
				}
				return
			}
		}
	}()

	if err := h.writeView(c, current); err != nil {
		entry.WithError(err).Warn("Error writing view")
		return
	}

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case v, ok := <-views:
			if !ok {
				_ = c.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "screen unmounted"),
					time.Now().Add(streamWriteTimeout))
				return
			}
			if err := h.writeView(c, v); err != nil {
				entry.WithError(err).Warn("Error writing view")
				return
			}
		case <-ping.C:
			if err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (h *ScreenHandler) writeView(c *websocket.Conn, v interface{}) error {
	if err := c.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
		return err
	}
	return c.WriteJSON(v)
}
