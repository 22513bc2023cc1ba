package server

import (
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"jukebox/internal/engine"
	"jukebox/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
)

// SocketServer accepts listener connections over WebSocket.
type SocketServer struct {
	engine   *engine.Engine
	sessions *SessionManager
	handler  *Handler
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewSocketServer creates a WebSocket endpoint. allowedOrigins lists the
// browser origins that may connect; "*" allows any.
func NewSocketServer(eng *engine.Engine, sessions *SessionManager, allowedOrigins []string, log zerolog.Logger) *SocketServer {
	s := &SocketServer{
		engine:   eng,
		sessions: sessions,
		handler:  NewHandler(eng, log),
		log:      log,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(allowedOrigins, r.Header.Get("Origin"))
		},
	}
	return s
}

// Serve upgrades the request and runs the connection until it closes.
func (s *SocketServer) Serve(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the error response.
		s.log.Warn().Err(err).Str("remote", c.ClientIP()).Msg("upgrade failed")
		return
	}

	session := NewSession(c.ClientIP())
	s.engine.Connect(func(snapshot protocol.Message) {
		session.Send(snapshot)
		s.sessions.Add(session)
	})
	s.log.Info().Str("session", session.ID).Str("remote", session.RemoteAddr).Int("clients", s.sessions.Count()).Msg("client connected")

	go s.writeLoop(conn, session)
	s.readLoop(conn, session)

	s.sessions.Remove(session.ID)
	s.log.Info().Str("session", session.ID).Int("clients", s.sessions.Count()).Msg("client disconnected")
}

// readLoop applies frames in the order the listener sent them.
func (s *SocketServer) readLoop(conn *websocket.Conn, session *Session) {
	defer session.Close()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn().Err(err).Str("session", session.ID).Msg("read failed")
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		s.handler.HandleFrame(session, data)
	}
}

// writeLoop is the only writer on conn.
func (s *SocketServer) writeLoop(conn *websocket.Conn, session *Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-session.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case frame := <-session.Outgoing():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.log.Warn().Err(err).Str("session", session.ID).Msg("write failed")
				session.Close()
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				session.Close()
				return
			}
		}
	}
}

// originAllowed reports whether a browser origin may connect. Requests
// without an Origin header come from non-browser clients and are allowed.
func originAllowed(allowed []string, origin string) bool {
	if origin == "" || slices.Contains(allowed, "*") {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, a := range allowed {
		if strings.EqualFold(strings.TrimRight(a, "/"), u.Scheme+"://"+u.Host) {
			return true
		}
	}
	return false
}
