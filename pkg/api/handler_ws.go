package api

import (
	"log/slog"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
)

// wsHandler upgrades to WebSocket and hands the connection to the hub.
// Origins are checked against the configured patterns; with none configured
// only same-host upgrades are accepted.
func (s *Server) wsHandler(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedWSOrigins,
	})
	if err != nil {
		// Accept has already written the HTTP error.
		slog.Debug("WebSocket upgrade rejected", "remote", c.ClientIP(), "error", err)
		return
	}

	// HandleConnection blocks until the WebSocket closes.
	s.hub.HandleConnection(c.Request.Context(), conn)
}
