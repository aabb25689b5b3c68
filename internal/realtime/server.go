package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"taskflow/internal/auth"
	"taskflow/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 16 * 1024
)

// Authenticator validates a handshake credential.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (auth.Identity, error)
}

type ServerOptions struct {
	SendQueue        int
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	// AllowedOrigins limits browser origins; empty allows any.
	AllowedOrigins []string
}

// Server is the websocket endpoint. The credential is checked before the
// upgrade, so a rejected client never gets a socket.
type Server struct {
	hub      *Hub
	authn    Authenticator
	opts     ServerOptions
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewServer(hub *Hub, authn Authenticator, opts ServerOptions, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 25 * time.Second
	}

	s := &Server{hub: hub, authn: authn, opts: opts, logger: logger}
	s.upgrader = websocket.Upgrader{
		HandshakeTimeout: opts.HandshakeTimeout,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		CheckOrigin:      s.checkOrigin,
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.HandshakeTimeout)
	identity, err := s.authn.Authenticate(ctx, auth.HandshakeCredential(r))
	cancel()
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "unauthorized"})
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := NewConn(identity, s.opts.SendQueue)
	s.hub.Register(c)
	defer s.hub.Unregister(c)

	go s.writeLoop(ws, c)
	s.readLoop(r.Context(), ws, c)
}

func (s *Server) readLoop(ctx context.Context, ws *websocket.Conn, c *Conn) {
	pongWait := 2 * s.opts.PingInterval

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.logger.Debug("socket read ended", slog.String("conn_id", c.ID), slog.String("error", err.Error()))
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))

		frame, err := protocol.Decode(data)
		if err != nil {
			s.logger.Debug("dropping undecodable frame", slog.String("conn_id", c.ID), slog.String("error", err.Error()))
			continue
		}
		msg, err := protocol.DecodeInbound(frame)
		if err != nil {
			s.logger.Debug("dropping inbound frame", slog.String("conn_id", c.ID), slog.String("event", frame.Event), slog.String("error", err.Error()))
			continue
		}
		s.hub.Handle(ctx, c, msg)
	}
}

func (s *Server) writeLoop(ws *websocket.Conn, c *Conn) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case frame := <-c.Outbound():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.opts.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
