package relay

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleTab upgrades the request and joins the socket to the tab's room.
// Every frame read is broadcast to the whole room, including the sender,
// the same way a window's message event reaches its own listeners.
func (s *Server) handleTab(c *gin.Context) {
	tab := c.Param("tab")
	if tab == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tab required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	p := &peer{conn: conn, send: make(chan []byte, sendQueueDepth)}
	s.rooms.join(tab, p)
	s.metrics.IncWSConnections()

	go s.writePump(p)
	s.readPump(tab, p)
}

func (s *Server) readPump(tab string, p *peer) {
	defer func() {
		s.rooms.leave(tab, p)
		s.metrics.DecWSConnections()
		p.conn.Close()
	}()

	p.conn.SetReadLimit(maxFrameSize)
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("WebSocket read error", zap.String("tab", tab), zap.Error(err))
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		s.metrics.RecordRelayFrame("in")
		s.rooms.broadcast(tab, data)
	}
}

func (s *Server) writePump(p *peer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"rooms":  len(s.rooms.names()),
	})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) handleTabs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tabs": s.rooms.sizes()})
}
