package websocket

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

// Server is an http.Handler that accepts WebSocket connections and
// runs a session for each of them.
//
// Use Shutdown or Close to end the sessions gracefully, in harmony
// with net/http.Server's Shutdown and Close methods.
type Server struct {
	// Handler receives the messages of every session.
	// It may also implement ConnectHandler and CloseHandler.
	Handler Handler

	// AcceptOptions is passed to Accept.
	AcceptOptions *AcceptOptions

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	mu      sync.Mutex
	closing bool
	conns   map[*Conn]struct{}
}

var _ http.Handler = (*Server)(nil)

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.isClosing() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	log := s.logger().With(
		slog.String("session", uuid.NewString()),
		slog.String("remote", r.RemoteAddr),
	)

	c, err := Accept(w, r, s.AcceptOptions)
	if err != nil {
		log.Warn("failed to accept WebSocket", "error", err)
		return
	}

	err = s.addConn(c)
	if err != nil {
		log.Debug("refused WebSocket", "error", err)
		return
	}
	defer s.delConn(c)

	log.Debug("session started", "subprotocol", c.Subprotocol())

	if ch, ok := s.Handler.(ConnectHandler); ok {
		err = ch.HandleConnect(r, c)
		if err != nil {
			log.Info("connection rejected by handler", "error", err)
			c.Close(StatusPolicyViolation, "connection rejected")
			c.CloseNow()
			info := c.CloseInfo()
			if clh, ok := s.Handler.(CloseHandler); ok {
				clh.HandleClose(c, info)
			}
			return
		}
	}

	info := Serve(r.Context(), c, s.Handler)

	attrs := []any{
		"code", info.Code,
		"reason", info.Reason,
		"initiator", info.Initiator,
	}
	switch info.Code {
	case StatusNormalClosure, StatusGoingAway, StatusNoStatusRcvd:
		log.Debug("session ended", attrs...)
	case StatusInternalError:
		log.Error("session ended by handler failure", attrs...)
	default:
		log.Info("session ended", attrs...)
	}
}
