package websocket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var errShuttingDown = errors.New("server shutting down")

// closeTimeout bounds the close handshake of each connection in Close.
const closeTimeout = 5 * time.Second

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *Server) addConn(c *Conn) error {
	s.mu.Lock()
	closing := s.closing
	if !closing {
		if s.conns == nil {
			s.conns = make(map[*Conn]struct{})
		}
		s.conns[c] = struct{}{}
	}
	s.mu.Unlock()

	if closing {
		closeGoingAway(c)
		return errShuttingDown
	}
	return nil
}

func closeGoingAway(c *Conn) {
	t := time.AfterFunc(closeTimeout, func() {
		c.CloseNow()
	})
	defer t.Stop()

	c.Close(StatusGoingAway, errShuttingDown.Error())
	c.CloseNow()
}

func (s *Server) delConn(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

// Close prevents the acceptance of new connections with
// http.StatusServiceUnavailable and closes all accepted
// connections with StatusGoingAway.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closing = true
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
		delete(s.conns, c)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *Conn) {
			defer wg.Done()
			closeGoingAway(c)
		}(c)
	}
	wg.Wait()

	return nil
}

// Shutdown prevents the acceptance of new connections and waits until
// all sessions end. If the context is cancelled before that, it
// calls Close to close all connections immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.Close()

	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	// Same poll period used by net/http.
	t := time.NewTicker(500 * time.Millisecond)
	defer t.Stop()
	for {
		if s.zeroConns() {
			return nil
		}

		select {
		case <-t.C:
		case <-ctx.Done():
			return fmt.Errorf("failed to shutdown WebSockets: %w", ctx.Err())
		}
	}
}

func (s *Server) zeroConns() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns) == 0
}
