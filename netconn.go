package websocket

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// NetConn converts a *websocket.Conn into a net.Conn.
//
// It's for tunneling arbitrary protocols over WebSockets.
// Few users of the library will need this but it's tricky to implement
// correctly and so provided in the library.
//
// Every Write to the net.Conn will correspond to a message write of
// the given type on *websocket.Conn.
//
// The passed ctx bounds the lifetime of the net.Conn. If cancelled,
// the connection will be closed.
//
// Close will close the *websocket.Conn with StatusNormalClosure.
//
// When a deadline is hit, the connection will be closed. This is
// different from most net.Conn implementations where only the
// reading/writing goroutines are interrupted but the connection is kept alive.
//
// The Addr methods return the underlying transport's addresses when it is
// a net.Conn and a mock net.Addr otherwise.
//
// A received StatusNormalClosure or StatusGoingAway close frame will be translated to
// io.EOF when reading.
func NetConn(ctx context.Context, c *Conn, msgType MessageType) net.Conn {
	nc := &netConn{
		c:       c,
		msgType: msgType,
	}

	nc.writeCtx, nc.writeCancel = context.WithCancel(ctx)
	nc.readCtx, nc.readCancel = context.WithCancel(ctx)

	return nc
}

type netConn struct {
	c       *Conn
	msgType MessageType

	deadlineMu sync.Mutex
	writeTimer *time.Timer
	readTimer  *time.Timer

	writeMu     sync.Mutex
	writeCtx    context.Context
	writeCancel context.CancelFunc

	readMu     sync.Mutex
	readCtx    context.Context
	readCancel context.CancelFunc
	eofed      bool
	pending    []byte
}

var _ net.Conn = &netConn{}

func (nc *netConn) Close() error {
	err := nc.c.Close(StatusNormalClosure, "")
	nc.writeCancel()
	nc.readCancel()
	return err
}

func (nc *netConn) Write(p []byte) (int, error) {
	nc.writeMu.Lock()
	defer nc.writeMu.Unlock()

	err := nc.c.Write(nc.writeCtx, nc.msgType, p)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func (nc *netConn) Read(p []byte) (int, error) {
	nc.readMu.Lock()
	defer nc.readMu.Unlock()

	for len(nc.pending) == 0 {
		if nc.eofed {
			return 0, io.EOF
		}

		typ, b, err := nc.c.Read(nc.readCtx)
		if err != nil {
			switch CloseStatus(err) {
			case StatusNormalClosure, StatusGoingAway:
				nc.eofed = true
				return 0, io.EOF
			}
			return 0, err
		}
		if typ != nc.msgType {
			err := fmt.Errorf("unexpected frame type read (expected %v): %v", nc.msgType, typ)
			nc.c.Close(StatusUnsupportedData, err.Error())
			return 0, err
		}
		nc.pending = b
	}

	n := copy(p, nc.pending)
	nc.pending = nc.pending[n:]
	return n, nil
}

type websocketAddr struct {
}

func (a websocketAddr) Network() string {
	return "websocket"
}

func (a websocketAddr) String() string {
	return "websocket/unknown-addr"
}

func (nc *netConn) RemoteAddr() net.Addr {
	if unc, ok := nc.c.rwc.(net.Conn); ok {
		return unc.RemoteAddr()
	}
	return websocketAddr{}
}

func (nc *netConn) LocalAddr() net.Addr {
	if unc, ok := nc.c.rwc.(net.Conn); ok {
		return unc.LocalAddr()
	}
	return websocketAddr{}
}

func (nc *netConn) SetDeadline(t time.Time) error {
	nc.SetWriteDeadline(t)
	nc.SetReadDeadline(t)
	return nil
}

func (nc *netConn) SetWriteDeadline(t time.Time) error {
	nc.deadlineMu.Lock()
	defer nc.deadlineMu.Unlock()
	nc.writeTimer = resetDeadline(nc.writeTimer, t, nc.writeCancel)
	return nil
}

func (nc *netConn) SetReadDeadline(t time.Time) error {
	nc.deadlineMu.Lock()
	defer nc.deadlineMu.Unlock()
	nc.readTimer = resetDeadline(nc.readTimer, t, nc.readCancel)
	return nil
}

// resetDeadline stops timer and, unless t is zero, returns a new one
// that calls cancel at t.
func resetDeadline(timer *time.Timer, t time.Time, cancel context.CancelFunc) *time.Timer {
	if timer != nil {
		timer.Stop()
	}
	if t.IsZero() {
		return nil
	}
	return time.AfterFunc(time.Until(t), cancel)
}
