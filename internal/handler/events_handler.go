package handler

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/SergeiKhy/shortlink/internal/broadcast"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	writeTimeout      = 5 * time.Second
	heartbeatInterval = 30 * time.Second
)

// EventsHandler стримит события жизненного цикла наблюдателям
type EventsHandler struct {
	broadcaster    broadcast.Broadcaster
	originPatterns []string
	logger         *zap.Logger

	done      chan struct{}
	closeOnce sync.Once
}

func NewEventsHandler(broadcaster broadcast.Broadcaster, originPatterns []string, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{
		broadcaster:    broadcaster,
		originPatterns: originPatterns,
		logger:         logger,
		done:           make(chan struct{}),
	}
}

// Close завершает открытые стримы при остановке сервера
func (h *EventsHandler) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// WebSocket godoc
// @Summary Live link events over WebSocket
// @Tags events
// @Router /ws/links [get]
func (h *EventsHandler) WebSocket(c *gin.Context) {
	clearWriteDeadline(c)

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		// Accept уже записал ответ
		h.logger.Warn("WebSocket handshake failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	sub := h.broadcaster.Subscribe()
	defer sub.Close()

	// Входящие сообщения не ожидаются; ctx отменяется, когда клиент уходит
	ctx := conn.CloseRead(c.Request.Context())

	h.logger.Debug("WebSocket observer connected", zap.String("remote", c.ClientIP()))

	for {
		select {
		case <-ctx.Done():
			return

		case <-h.done:
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return

		case event, ok := <-sub.C:
			if !ok {
				conn.Close(websocket.StatusTryAgainLater, "subscription closed")
				return
			}

			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, conn, event)
			cancel()
			if err != nil {
				h.logger.Debug("WebSocket write failed", zap.Error(err))
				return
			}
		}
	}
}

// Stream godoc
// @Summary Live link events over Server-Sent Events
// @Tags events
// @Produce text/event-stream
// @Router /api/v1/links/events [get]
func (h *EventsHandler) Stream(c *gin.Context) {
	clearWriteDeadline(c)

	sub := h.broadcaster.Subscribe()
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	// Заголовки уходят сразу, не дожидаясь первого события
	c.Status(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false

		case <-h.done:
			return false

		case <-heartbeat.C:
			c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
			return true

		case event, ok := <-sub.C:
			if !ok {
				return false
			}
			c.SSEvent(event.Action, event)
			return true
		}
	})
}

// clearWriteDeadline снимает WriteTimeout сервера с долгоживущего соединения
func clearWriteDeadline(c *gin.Context) {
	_ = http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{})
}
