package websocket

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/wsengine/websocket/internal/wsframe"
)

// MessageType represents the type of a WebSocket message.
// See https://tools.ietf.org/html/rfc6455#section-5.6
type MessageType int

// MessageType constants.
const (
	// MessageText is for UTF-8 encoded text messages like JSON.
	MessageText MessageType = iota + 1
	// MessageBinary is for binary messages like protobufs.
	MessageBinary
)

func (typ MessageType) String() string {
	switch typ {
	case MessageText:
		return "MessageText"
	case MessageBinary:
		return "MessageBinary"
	}
	return fmt.Sprintf("MessageType(%d)", int(typ))
}

// Transport is the full duplex byte stream a Conn runs over.
//
// Read and Write block until data can be moved; Close releases the
// stream and must unblock any pending Read or Write.
// A net.Conn is a Transport.
type Transport interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Role is the side of the connection a Conn plays.
type Role int

// Role constants.
const (
	RoleServer Role = iota + 1
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleClient:
		return "client"
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// MaskPolicy controls masking of outgoing frames.
type MaskPolicy int

// MaskPolicy constants.
const (
	// MaskDefault masks as a client and does not as a server.
	MaskDefault MaskPolicy = iota
	// MaskAlways masks every outgoing frame.
	MaskAlways
	// MaskNever masks no outgoing frame.
	MaskNever
)

// ConnState is a stage of the connection lifecycle.
type ConnState int

// ConnState constants.
const (
	// StateOpen allows reading and writing messages.
	StateOpen ConnState = iota + 1
	// StateClosing means a close frame was sent or received.
	StateClosing
	// StateClosed means the transport was released.
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("ConnState(%d)", int(s))
}

// defaultReadLimit is the default maximum message size in bytes.
const defaultReadLimit = 32 << 20

// ConnOptions configures NewConn.
type ConnOptions struct {
	// Role defaults to RoleServer.
	Role Role

	// MaskPolicy overrides the role based masking of outgoing frames.
	// Only useful for testing peers.
	MaskPolicy MaskPolicy

	// Subprotocol is the subprotocol negotiated during the handshake.
	Subprotocol string

	// ReadLimit is the maximum size of a received message.
	// Defaults to 32 MiB.
	ReadLimit int64
}

// Conn represents a WebSocket connection.
// All methods may be called concurrently except for Read.
//
// You must always read from the connection. Otherwise control
// frames will not be handled. See Serve for a read loop.
//
// Be sure to call Close on the connection when you
// are finished with it to release the associated resources.
//
// Every error from Read will cause the connection
// to be closed so you do not need to write your own error message.
type Conn struct {
	role         Role
	maskOutgoing bool
	subprotocol  string
	rwc          Transport
	br           *bufio.Reader
	bw           *bufio.Writer

	readMu         *mu
	readLimit      atomic.Int64
	readHeaderBuf  [wsframe.MaxHeaderSize]byte
	readControlBuf [wsframe.MaxControlPayload]byte

	msgMu          *mu
	writeFrameMu   *mu
	writeHeaderBuf [wsframe.MaxHeaderSize]byte
	writeMaskBuf   []byte

	closed            chan struct{}
	closeMu           sync.Mutex
	state             ConnState
	closeSent         CloseInfo
	closeInfo         CloseInfo
	closeErr          error
	transportCloseErr error

	pingCounter   atomic.Int32
	activePingsMu sync.Mutex
	activePings   map[string]chan<- struct{}
}

// NewConn wraps a transport whose opening handshake was
// already completed by the caller.
// The Conn takes ownership of t.
func NewConn(t Transport, opts *ConnOptions) *Conn {
	if opts == nil {
		opts = &ConnOptions{}
	}
	return newConn(connConfig{
		rwc:         t,
		role:        opts.Role,
		maskPolicy:  opts.MaskPolicy,
		subprotocol: opts.Subprotocol,
		readLimit:   opts.ReadLimit,
	})
}

type connConfig struct {
	rwc         Transport
	role        Role
	maskPolicy  MaskPolicy
	subprotocol string
	readLimit   int64

	br *bufio.Reader
	bw *bufio.Writer
}

func newConn(cfg connConfig) *Conn {
	c := &Conn{
		role:        cfg.role,
		subprotocol: cfg.subprotocol,
		rwc:         cfg.rwc,
		br:          cfg.br,
		bw:          cfg.bw,
		state:       StateOpen,
		closed:      make(chan struct{}),
		activePings: make(map[string]chan<- struct{}),
	}
	if c.role == 0 {
		c.role = RoleServer
	}
	if c.br == nil {
		c.br = bufio.NewReader(c.rwc)
	}
	if c.bw == nil {
		c.bw = bufio.NewWriter(c.rwc)
	}

	switch cfg.maskPolicy {
	case MaskAlways:
		c.maskOutgoing = true
	case MaskNever:
		c.maskOutgoing = false
	default:
		c.maskOutgoing = c.role == RoleClient
	}
	if c.maskOutgoing {
		c.writeMaskBuf = make([]byte, 4096)
	}

	if cfg.readLimit <= 0 {
		cfg.readLimit = defaultReadLimit
	}
	c.readLimit.Store(cfg.readLimit)

	c.readMu = newMu(c)
	c.msgMu = newMu(c)
	c.writeFrameMu = newMu(c)

	return c
}

// Subprotocol returns the negotiated subprotocol.
// An empty string means the default protocol.
func (c *Conn) Subprotocol() string {
	return c.subprotocol
}

// Role returns the side of the connection c plays.
func (c *Conn) Role() Role {
	return c.role
}

// State returns the current lifecycle stage.
func (c *Conn) State() ConnState {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return c.state
}

// SetReadLimit sets the max number of bytes to read for a single message.
//
// By default, the connection has a message read limit of 32 MiB.
//
// When the limit is hit, the connection will be closed with StatusMessageTooBig.
func (c *Conn) SetReadLimit(n int64) {
	c.readLimit.Store(n)
}

// Ping sends a ping to the peer and waits for a pong.
// Use this to measure latency or ensure the peer is responsive.
// Ping must be called concurrently with Read as it does
// not read from the connection but instead waits for a Read call
// to read the pong.
//
// If ctx expires first, the connection is closed.
func (c *Conn) Ping(ctx context.Context) error {
	p := c.pingCounter.Add(1)

	err := c.ping(ctx, strconv.Itoa(int(p)))
	if err != nil {
		return fmt.Errorf("failed to ping: %w", err)
	}
	return nil
}

func (c *Conn) ping(ctx context.Context, p string) error {
	pong := make(chan struct{})

	c.activePingsMu.Lock()
	c.activePings[p] = pong
	c.activePingsMu.Unlock()

	defer func() {
		c.activePingsMu.Lock()
		delete(c.activePings, p)
		c.activePingsMu.Unlock()
	}()

	err := c.writeControl(ctx, wsframe.OpPing, []byte(p))
	if err != nil {
		return err
	}

	select {
	case <-c.closed:
		return c.closeErr
	case <-ctx.Done():
		return c.abnormal(fmt.Errorf("failed to wait for pong: %w", ctx.Err()))
	case <-pong:
		return nil
	}
}

func (c *Conn) handlePong(p []byte) {
	c.activePingsMu.Lock()
	defer c.activePingsMu.Unlock()

	pong, ok := c.activePings[string(p)]
	if ok {
		delete(c.activePings, string(p))
		close(pong)
	}
}

// mu is a mutex whose Lock is bounded by a context and gives up
// once the connection is closed.
type mu struct {
	c  *Conn
	ch chan struct{}
}

func newMu(c *Conn) *mu {
	return &mu{
		c:  c,
		ch: make(chan struct{}, 1),
	}
}

func (m *mu) lock(ctx context.Context) error {
	select {
	case <-m.c.closed:
		return m.c.closeErr
	case <-ctx.Done():
		return fmt.Errorf("failed to acquire lock: %w", ctx.Err())
	case m.ch <- struct{}{}:
		// To make sure the connection is certainly alive.
		// As it's possible the send on m.ch was selected
		// over the receive on closed.
		select {
		case <-m.c.closed:
			m.unlock()
			return m.c.closeErr
		default:
		}
		return nil
	}
}

func (m *mu) unlock() {
	select {
	case <-m.ch:
	default:
	}
}
