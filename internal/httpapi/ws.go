package httpapi

import (
	"time"

	"github.com/bibswap/swapchat/internal/api"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 5 * time.Second

// handleWatch upgrades to a WebSocket and streams the conversation's push
// events. The subscription is taken before the upgrade, and the first frame is
// a watch.ready event, so a client that loads the thread after it sees ready
// misses nothing. A client that falls behind is closed with try-again-later.
func (s *Server) handleWatch() gin.HandlerFunc {
	return func(c *gin.Context) {
		u := userOf(c)
		convID := c.Param("id")
		if _, err := s.chat.Conversation(c.Request.Context(), convID, u.ID); err != nil {
			fail(c, err)
			return
		}

		sub := s.bus.Watch("", convID, s.opts.PushBuffer)
		defer sub.Close()

		conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade has already written the error response.
			s.logger.Debug("websocket upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		log := s.logger.With(zap.String("conversation_id", convID), zap.String("viewer_id", u.ID))
		log.Debug("websocket connected")

		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
		})

		// Inbound frames are discarded; reading drives the pong and close handlers.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		write := func(v any) error {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			return conn.WriteJSON(v)
		}
		if err := write(api.WatchEvent{Kind: api.KindReady, At: time.Now().UTC()}); err != nil {
			return
		}

		ticker := time.NewTicker(s.opts.PingInterval)
		defer ticker.Stop()

		for {
			select {
			case evt := <-sub.C:
				out, ok := api.ToWatchEvent(evt, u.ID)
				if !ok {
					continue
				}
				if err := write(out); err != nil {
					log.Debug("websocket write failed", zap.Error(err))
					return
				}
			case <-sub.Lost:
				log.Warn("websocket client fell behind, closing")
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "push events dropped"),
					time.Now().Add(writeWait))
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					log.Debug("websocket ping failed", zap.Error(err))
					return
				}
			case <-gone:
				log.Debug("websocket disconnected")
				return
			case <-s.closing:
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(writeWait))
				return
			}
		}
	}
}
