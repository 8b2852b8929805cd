package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"autotrade-core/internal/session"
	"autotrade-core/pkg/logger"
)

const (
	wsBuffer       = 100
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocket streams session events. A slow client loses events rather than
// stalling the emitting session. ?session=<id> filters to one session.
func (s *Server) websocket(c *gin.Context) {
	log := logger.WithComponent("api.ws")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Warn("upgrade failed")
		return
	}
	defer conn.Close()

	if s.Events == nil {
		_ = conn.WriteJSON(gin.H{"error": "event stream not ready"})
		return
	}

	filter := c.Query("session")
	stream := make(chan session.Event, wsBuffer)
	unsub := s.Events.Subscribe(func(ev session.Event) {
		if filter != "" && ev.SessionID != filter {
			return
		}
		select {
		case stream <- ev:
		default:
		}
	})
	defer unsub()

	// Reader detects the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case ev := <-stream:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				log.WithError(err).Debug("write failed")
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
