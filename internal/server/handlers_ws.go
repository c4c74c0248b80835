package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prop-ie/realtime/internal/metrics"
	"github.com/prop-ie/realtime/internal/platform/correlation"
	"github.com/prop-ie/realtime/internal/protocol"
)

const maxFrameBytes = 64 * 1024

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Cross-origin embedding allowed; identity is claimed in-band
	},
}

func (s *Server) handleWebSocket(c echo.Context) error {
	ip := c.RealIP()

	ok, reason := s.limits.Acquire(ip)
	if !ok {
		metrics.ConnectionsRejected.WithLabelValues(string(reason)).Inc()
		slog.Warn("Connection rejected", "remote_ip", ip, "reason", string(reason))
		return c.String(http.StatusTooManyRequests, "connection limit reached")
	}
	defer s.limits.Release(ip)

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade WebSocket: %w", err)
	}

	// Query parameters may pre-seed the identity claim; the authenticate
	// frame is authoritative and the connection starts unauthenticated.
	id, err := s.hub.Register(conn, ip, c.QueryParam("userId"), c.QueryParam("userRole"))
	if err != nil {
		slog.Error("Failed to register connection", "error", err)
		_ = conn.Close()
		return nil
	}

	ctx := correlation.WithConnectionID(c.Request().Context(), id.String())
	s.readLoop(ctx, id, conn)

	// Transport error, peer close, or eviction all end the read loop.
	// Remove is idempotent, so racing with the liveness monitor is fine.
	s.hub.Remove(id)

	return nil
}

// readLoop processes one connection's inbound frames in arrival order.
// It blocks until the connection closes.
func (s *Server) readLoop(ctx context.Context, id uuid.UUID, conn *websocket.Conn) {
	conn.SetReadLimit(maxFrameBytes)

	// The read deadline is a transport-level backstop; the hub's liveness
	// sweep is expected to evict first.
	resetDeadline := func() {
		_ = conn.SetReadDeadline(s.clock.Now().Add(s.config.EvictAfter + s.config.PingInterval))
	}
	conn.SetPongHandler(func(string) error {
		resetDeadline()
		s.hub.Touch(id)
		return nil
	})
	resetDeadline()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			slog.DebugContext(ctx, "Read loop ended", "error", err)
			return
		}
		resetDeadline()
		s.handleFrame(ctx, id, data)
	}
}

func (s *Server) handleFrame(ctx context.Context, id uuid.UUID, data []byte) {
	msg, err := protocol.DecodeInbound(data)
	if err != nil {
		// Protocol errors are scoped to the frame; the connection stays
		// open. Even a bad frame proves the peer is alive.
		metrics.ProtocolErrors.Inc()
		slog.WarnContext(ctx, "Protocol error", "error", err)
		s.hub.Touch(id)
		s.hub.SendTo(id, protocol.Error(err.Error()))
		return
	}

	switch m := msg.(type) {
	case protocol.Authenticate:
		s.hub.Authenticate(id, m.UserID, m.UserRole)
	case protocol.Subscribe:
		s.hub.Subscribe(id, m.Events)
	case protocol.Unsubscribe:
		s.hub.Unsubscribe(id, m.Events)
	case protocol.Ping:
		s.hub.Ping(id, m.Timestamp)
	case protocol.Publish:
		s.hub.PublishFrom(id, m)
	}
}
