package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/wsengine/websocket/internal/wsframe"
)

// Write writes a message to the connection.
//
// Messages longer than 65536 bytes are split into several frames.
// Control frames may be written between them but no other message can.
//
// See the Writer method if you want to stream a message.
func (c *Conn) Write(ctx context.Context, typ MessageType, p []byte) error {
	err := c.write(ctx, typ, p)
	if err != nil {
		return fmt.Errorf("failed to write msg: %w", err)
	}
	return nil
}

func (c *Conn) write(ctx context.Context, typ MessageType, p []byte) error {
	opcode, err := typ.opcode()
	if err != nil {
		return err
	}

	err = c.msgMu.lock(ctx)
	if err != nil {
		return err
	}
	defer c.msgMu.unlock()

	err = c.writable()
	if err != nil {
		return err
	}

	for first := true; first || len(p) > 0; first = false {
		n := min(len(p), wsframe.ChunkSize)
		err = c.writeFrame(ctx, n == len(p), opcode, p[:n])
		if err != nil {
			return err
		}
		p = p[n:]
		opcode = wsframe.OpContinuation
	}
	return nil
}

// Writer returns a writer bounded by the context that will write
// a WebSocket message of type typ to the connection.
//
// Every Write call sends its bytes as non final frames right away.
// Close sends the final frame and must always be called.
//
// Only one writer can be open at a time, multiple calls will block until the previous writer
// is closed.
func (c *Conn) Writer(ctx context.Context, typ MessageType) (io.WriteCloser, error) {
	w, err := c.writer(ctx, typ)
	if err != nil {
		return nil, fmt.Errorf("failed to get writer: %w", err)
	}
	return w, nil
}

func (c *Conn) writer(ctx context.Context, typ MessageType) (*messageWriter, error) {
	opcode, err := typ.opcode()
	if err != nil {
		return nil, err
	}

	err = c.msgMu.lock(ctx)
	if err != nil {
		return nil, err
	}

	err = c.writable()
	if err != nil {
		c.msgMu.unlock()
		return nil, err
	}

	return &messageWriter{
		c:      c,
		ctx:    ctx,
		opcode: opcode,
	}, nil
}

type messageWriter struct {
	c      *Conn
	ctx    context.Context
	opcode wsframe.Opcode
	closed bool
}

var errWriterClosed = errors.New("cannot use closed writer")

func (mw *messageWriter) Write(p []byte) (int, error) {
	if mw.closed {
		return 0, errWriterClosed
	}

	err := mw.c.writable()
	if err != nil {
		return 0, fmt.Errorf("failed to write: %w", err)
	}

	var n int
	for len(p) > 0 {
		chunk := min(len(p), wsframe.ChunkSize)
		err = mw.c.writeFrame(mw.ctx, false, mw.opcode, p[:chunk])
		if err != nil {
			return n, fmt.Errorf("failed to write: %w", err)
		}
		mw.opcode = wsframe.OpContinuation
		n += chunk
		p = p[chunk:]
	}
	return n, nil
}

func (mw *messageWriter) Close() error {
	if mw.closed {
		return errWriterClosed
	}
	mw.closed = true
	defer mw.c.msgMu.unlock()

	err := mw.c.writeFrame(mw.ctx, true, mw.opcode, nil)
	if err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	return nil
}

func (typ MessageType) opcode() (wsframe.Opcode, error) {
	switch typ {
	case MessageText:
		return wsframe.OpText, nil
	case MessageBinary:
		return wsframe.OpBinary, nil
	}
	return 0, fmt.Errorf("unknown message type %v", typ)
}

// writable reports whether data frames may still be written.
func (c *Conn) writable() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	switch c.state {
	case StateOpen:
		return nil
	case StateClosing:
		return fmt.Errorf("%w: close handshake in progress", ErrClosed)
	}
	return c.closeErr
}

func (c *Conn) writeControl(ctx context.Context, opcode wsframe.Opcode, p []byte) error {
	if len(p) > wsframe.MaxControlPayload {
		return fmt.Errorf("control frame payload of %v bytes exceeds %v", len(p), wsframe.MaxControlPayload)
	}

	err := c.writeFrame(ctx, true, opcode, p)
	if err != nil {
		return fmt.Errorf("failed to write control frame %v: %w", opcode, err)
	}
	return nil
}

// writeFrame writes and flushes a single frame.
// A transport failure closes the connection.
func (c *Conn) writeFrame(ctx context.Context, fin bool, opcode wsframe.Opcode, p []byte) error {
	err := c.writeFrameMu.lock(ctx)
	if err != nil {
		return err
	}
	defer c.writeFrameMu.unlock()

	stop := context.AfterFunc(ctx, func() {
		c.abnormal(fmt.Errorf("write interrupted: %w", ctx.Err()))
	})
	defer stop()

	h := wsframe.Header{
		Fin:           fin,
		Opcode:        opcode,
		PayloadLength: int64(len(p)),
	}
	if c.maskOutgoing {
		h.Masked = true
		h.MaskKey, err = wsframe.NewMaskKey()
		if err != nil {
			return err
		}
	}

	err = c.writeFramePayload(h, p)
	if err != nil {
		if c.isClosed() {
			return c.closeErr
		}
		return c.abnormal(fmt.Errorf("failed to write frame: %w", err))
	}
	return nil
}

func (c *Conn) writeFramePayload(h wsframe.Header, p []byte) error {
	_, err := c.bw.Write(wsframe.AppendHeader(c.writeHeaderBuf[:0], h))
	if err != nil {
		return err
	}

	if !h.Masked {
		_, err = c.bw.Write(p)
		if err != nil {
			return err
		}
		return c.bw.Flush()
	}

	key := h.MaskKey
	for len(p) > 0 {
		n := copy(c.writeMaskBuf, p)
		key = wsframe.Mask(key, c.writeMaskBuf[:n])
		_, err = c.bw.Write(c.writeMaskBuf[:n])
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return c.bw.Flush()
}
