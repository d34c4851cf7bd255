package statusserver

import (
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/j-veylop/cpamc/internal/eventbus"
	"github.com/j-veylop/cpamc/internal/logger"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = pongWait * 9 / 10
	streamBuffer = 64
)

// streamedEvents are forwarded to every websocket client.
var streamedEvents = []string{
	eventbus.QuotaChanged,
	eventbus.QuotaCleared,
	eventbus.AccountsChanged,
	eventbus.NotificationShown,
	eventbus.NotificationRemoved,
}

// Message is one event on the /ws stream.
type Message struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// stream upgrades the request and forwards bus events until the client leaves.
// A client that falls behind loses events rather than stalling the bus.
func (s *Server) stream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	out := make(chan Message, streamBuffer)
	bus := s.mgr.Bus()
	subs := make([]eventbus.Subscription, 0, len(streamedEvents))
	for _, name := range streamedEvents {
		subs = append(subs, bus.Subscribe(name, func(payload any) {
			select {
			case out <- Message{Event: name, Payload: payload}:
			default:
				logger.Debug("websocket client lagging, event dropped", "event", name)
			}
		}))
	}
	defer func() {
		for _, sub := range subs {
			bus.Unsubscribe(sub)
		}
	}()

	done := make(chan struct{})
	go readPump(conn, done)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

// readPump discards client messages and closes done when the peer goes away.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// sameHost accepts clients without an Origin header and same-host origins.
func sameHost(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}
