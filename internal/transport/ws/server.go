package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/antoine2025-ux/lumi-work-os-sub004/internal/realtime"
)

// Authenticator resolves a handshake token to the connection's
// identity. auth.Verifier implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (realtime.Identity, error)
}

// Server terminates websocket connections for the realtime hub.
type Server struct {
	hub              *realtime.Hub
	auth             Authenticator
	handshakeTimeout time.Duration
	upgrader         websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

func NewServer(hub *realtime.Hub, auth Authenticator, handshakeTimeout time.Duration) *Server {
	return &Server{
		hub:              hub,
		auth:             auth,
		handshakeTimeout: handshakeTimeout,
		clients:          make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin checks belong to the reverse proxy in front of us.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and runs the handshake: the first
// frame must be a hello carrying a valid token, within the handshake
// window. A connection that fails either is dropped before it is
// registered anywhere.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	identity, err := s.handshake(r.Context(), conn)
	if err != nil {
		slog.Warn("Handshake failed", "remote", r.RemoteAddr, "error", err)
		writeDirect(conn, newErrorFrame("", "handshake", err.Error()))
		conn.Close()
		return
	}

	handle := realtime.Handle(uuid.NewString())
	c := newClient(handle, conn, s.hub)
	if err := s.hub.Connect(context.Background(), handle, identity, c); err != nil {
		slog.Error("Failed to register connection", "handle", string(handle), "error", err)
		writeDirect(conn, newErrorFrame("", "handshake", "registration failed"))
		conn.Close()
		return
	}
	if !s.track(c) {
		s.hub.Disconnect(context.Background(), handle)
		writeDirect(conn, newErrorFrame("", "unavailable", "server shutting down"))
		conn.Close()
		return
	}

	go c.writePump()
	c.reply(readyFrame{Type: "ready", Handle: string(handle), Identity: identity})
	go func() {
		c.readPump(context.Background())
		s.untrack(c)
	}()
}

func (s *Server) track(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

// Shutdown closes every live connection in an orderly way: each client
// gets its disconnect cascade run (editing stopped, rooms left, offline
// presence broadcast) and a websocket close frame, then Shutdown waits
// for the writers to flush, up to ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) {
	s.mu.Lock()
	s.closed = true
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.closeGraceful(ctx)
	}
	for _, c := range clients {
		select {
		case <-c.writerDone:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) (realtime.Identity, error) {
	conn.SetReadDeadline(time.Now().Add(s.handshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	_, data, err := conn.ReadMessage()
	if err != nil {
		return realtime.Identity{}, err
	}
	frame, err := decodeFrame(data)
	if err != nil {
		return realtime.Identity{}, err
	}
	if frame.Type != frameHello || frame.Token == "" {
		return realtime.Identity{}, errors.New("first frame must be a hello with a token")
	}
	return s.auth.Authenticate(ctx, frame.Token)
}

// writeDirect writes a frame synchronously, for the pre-registration
// window where no write pump exists yet.
func writeDirect(conn *websocket.Conn, v any) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteJSON(v)
}
