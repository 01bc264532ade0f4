package websocket

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"unicode/utf8"

	"github.com/wsengine/websocket/internal/errd"
	"github.com/wsengine/websocket/internal/wsframe"
)

// Read reads the next data message from the connection.
//
// Control frames are handled as they arrive, including between the
// frames of a fragmented message: pings are answered with a pong,
// pongs complete the matching Ping and a close frame completes the
// close handshake.
//
// If ctx expires the connection is closed.
// Only one Read may run at a time; concurrent calls wait their turn.
func (c *Conn) Read(ctx context.Context) (_ MessageType, _ []byte, err error) {
	defer errd.Wrap(&err, "failed to read")

	err = c.readMu.lock(ctx)
	if err != nil {
		return 0, nil, err
	}
	defer c.readMu.unlock()

	stop := context.AfterFunc(ctx, func() {
		c.abnormal(fmt.Errorf("read interrupted: %w", ctx.Err()))
	})
	defer stop()

	return c.readMessage(ctx)
}

// payloadStep bounds how much of a declared payload is reserved
// before its bytes are read.
const payloadStep = 64 << 10

// readMessage reads frames until a data message is complete.
// Must be called with readMu held.
func (c *Conn) readMessage(ctx context.Context) (MessageType, []byte, error) {
	var (
		typ     MessageType
		msg     []byte
		started bool
	)
	limit := c.readLimit.Load()

	for {
		h, err := c.readFrameHeader(ctx)
		if err != nil {
			return 0, nil, err
		}

		err = c.checkHeader(ctx, h)
		if err != nil {
			return 0, nil, err
		}

		switch {
		case h.Opcode.Control():
			err = c.handleControl(ctx, h)
			if err != nil {
				return 0, nil, err
			}
			continue
		case h.Opcode == wsframe.OpContinuation:
			if !started {
				return 0, nil, c.fail(ctx, StatusProtocolError, errors.New("received continuation frame without text or binary frame"))
			}
		default:
			if started {
				return 0, nil, c.fail(ctx, StatusProtocolError, errors.New("received new data message without finishing the previous message"))
			}
			started = true
			typ = MessageType(h.Opcode)
		}

		if h.PayloadLength > limit-int64(len(msg)) {
			return 0, nil, c.fail(ctx, StatusMessageTooBig, fmt.Errorf("read limited at %v bytes", limit))
		}

		msg, err = c.appendFramePayload(ctx, h, msg)
		if err != nil {
			return 0, nil, err
		}

		if !h.Fin {
			continue
		}

		if typ == MessageText && !utf8.Valid(msg) {
			return 0, nil, c.fail(ctx, StatusInvalidFramePayloadData, errors.New("received invalid UTF-8 in text message"))
		}
		if msg == nil {
			msg = []byte{}
		}
		return typ, msg, nil
	}
}

func (c *Conn) checkHeader(ctx context.Context, h wsframe.Header) error {
	if !h.Opcode.Known() {
		return c.fail(ctx, StatusUnsupportedData, fmt.Errorf("received unknown opcode %v", h.Opcode))
	}

	if h.RSV1 || h.RSV2 || h.RSV3 {
		return c.fail(ctx, StatusProtocolError, fmt.Errorf("received header with unexpected rsv bits set: %v:%v:%v", h.RSV1, h.RSV2, h.RSV3))
	}

	switch {
	case c.role == RoleServer && !h.Masked:
		return c.fail(ctx, StatusProtocolError, errors.New("received unmasked frame from client"))
	case c.role == RoleClient && h.Masked:
		return c.fail(ctx, StatusProtocolError, errors.New("received masked frame from server"))
	}

	return nil
}

func (c *Conn) readFrameHeader(ctx context.Context) (wsframe.Header, error) {
	h, err := wsframe.ReadHeader(c.br, c.readHeaderBuf[:])
	if err == nil {
		return h, nil
	}

	if c.isClosed() {
		return wsframe.Header{}, c.closeErr
	}

	switch {
	case (errors.Is(err, wsframe.ErrFragmentedControl) || errors.Is(err, wsframe.ErrControlTooLong)) && !h.Opcode.Known():
		return wsframe.Header{}, c.fail(ctx, StatusUnsupportedData, fmt.Errorf("received unknown opcode %v", h.Opcode))
	case errors.Is(err, wsframe.ErrNegativeLength):
		return wsframe.Header{}, c.fail(ctx, StatusInvalidFramePayloadData, err)
	case errors.Is(err, wsframe.ErrPayloadTooLong):
		return wsframe.Header{}, c.fail(ctx, StatusMessageTooBig, err)
	case errors.Is(err, wsframe.ErrFragmentedControl), errors.Is(err, wsframe.ErrControlTooLong):
		return wsframe.Header{}, c.fail(ctx, StatusProtocolError, err)
	}

	return wsframe.Header{}, c.abnormal(fmt.Errorf("failed to read frame header: %w", err))
}

func (c *Conn) readFramePayload(ctx context.Context, h wsframe.Header, p []byte) error {
	err := wsframe.ReadPayload(c.br, h, p)
	if err == nil {
		return nil
	}

	if c.isClosed() {
		return c.closeErr
	}
	return c.abnormal(fmt.Errorf("failed to read frame payload: %w", err))
}

// appendFramePayload reads the payload of h onto msg.
// The buffer grows with the bytes that actually arrive, never by the
// declared length alone.
func (c *Conn) appendFramePayload(ctx context.Context, h wsframe.Header, msg []byte) ([]byte, error) {
	key := h.MaskKey
	for left := h.PayloadLength; left > 0; {
		n := int(min(left, payloadStep))
		off := len(msg)
		msg = slices.Grow(msg, n)[:off+n]

		err := c.readFramePayload(ctx, wsframe.Header{PayloadLength: int64(n)}, msg[off:])
		if err != nil {
			return nil, err
		}
		if h.Masked {
			key = wsframe.Mask(key, msg[off:])
		}
		left -= int64(n)
	}
	return msg, nil
}

func (c *Conn) handleControl(ctx context.Context, h wsframe.Header) error {
	b := c.readControlBuf[:h.PayloadLength]
	err := c.readFramePayload(ctx, h, b)
	if err != nil {
		return err
	}

	switch h.Opcode {
	case wsframe.OpPing:
		if c.State() != StateOpen {
			return nil
		}
		return c.writeControl(ctx, wsframe.OpPong, b)
	case wsframe.OpPong:
		c.handlePong(b)
		return nil
	default:
		return c.handleClose(ctx, b)
	}
}
