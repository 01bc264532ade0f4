package websocket

import (
	"bytes"
	"context"
	"errors"
	"io"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wsengine/websocket/internal/test/assert"
	"github.com/wsengine/websocket/internal/test/xrand"
	"github.com/wsengine/websocket/internal/wsframe"
)

func TestConnRead(t *testing.T) {
	t.Parallel()

	t.Run("pingBetweenMessages", func(t *testing.T) {
		t.Parallel()

		tt := newMemTransport(t,
			peerFrame(t, true, wsframe.OpPing, "abc"),
			peerFrame(t, true, wsframe.OpText, "hi"),
		)
		c := NewConn(tt, nil)

		typ, b, err := c.Read(testContext(t))
		assert.Success(t, err)
		assert.Equal(t, "type", MessageText, typ)
		assert.Equal(t, "msg", "hi", string(b))

		frames := tt.written(t)
		assert.Equal(t, "frames written", 1, len(frames))
		assertFrame(t, frames[0], true, wsframe.OpPong, "abc")
		assert.Equal(t, "masked", false, frames[0].Masked)
	})

	t.Run("fragmented", func(t *testing.T) {
		t.Parallel()

		tt := newMemTransport(t,
			peerFrame(t, false, wsframe.OpText, "hel"),
			peerFrame(t, false, wsframe.OpContinuation, "lo "),
			peerFrame(t, true, wsframe.OpPing, ""),
			peerFrame(t, true, wsframe.OpContinuation, "world"),
		)
		c := NewConn(tt, nil)

		typ, b, err := c.Read(testContext(t))
		assert.Success(t, err)
		assert.Equal(t, "type", MessageText, typ)
		assert.Equal(t, "msg", "hello world", string(b))

		frames := tt.written(t)
		assert.Equal(t, "frames written", 1, len(frames))
		assertFrame(t, frames[0], true, wsframe.OpPong, "")
	})

	t.Run("emptyBinary", func(t *testing.T) {
		t.Parallel()

		tt := newMemTransport(t,
			peerFrame(t, true, wsframe.OpBinary, ""),
		)
		c := NewConn(tt, nil)

		typ, b, err := c.Read(testContext(t))
		assert.Success(t, err)
		assert.Equal(t, "type", MessageBinary, typ)
		assert.Equal(t, "non nil", true, b != nil)
		assert.Equal(t, "length", 0, len(b))
	})

	t.Run("unsolicitedPong", func(t *testing.T) {
		t.Parallel()

		tt := newMemTransport(t,
			peerFrame(t, true, wsframe.OpPong, "42"),
			peerFrame(t, true, wsframe.OpBinary, "x"),
		)
		c := NewConn(tt, nil)

		_, b, err := c.Read(testContext(t))
		assert.Success(t, err)
		assert.Equal(t, "msg", "x", string(b))
		assert.Equal(t, "frames written", 0, len(tt.written(t)))
	})

	t.Run("transportEOF", func(t *testing.T) {
		t.Parallel()

		tt := newMemTransport(t)
		c := NewConn(tt, nil)

		_, _, err := c.Read(testContext(t))
		assert.ErrorIs(t, ErrClosed, err)
		assert.Equal(t, "close status", StatusAbnormalClosure, CloseStatus(err))
		assert.Equal(t, "close info", CloseInfo{Code: StatusAbnormalClosure, Initiator: InitiatorLocal}, c.CloseInfo())
		assert.Equal(t, "state", StateClosed, c.State())
		assert.Equal(t, "transport closed", true, tt.isClosed())
	})

	t.Run("truncatedPayload", func(t *testing.T) {
		t.Parallel()

		b := peerFrame(t, true, wsframe.OpText, "hello")
		tt := newMemTransport(t, b[:len(b)-2])
		c := NewConn(tt, nil)

		_, _, err := c.Read(testContext(t))
		assert.ErrorIs(t, io.ErrUnexpectedEOF, err)
		assert.Equal(t, "close status", StatusAbnormalClosure, CloseStatus(err))
	})

	t.Run("payloadAcrossSteps", func(t *testing.T) {
		t.Parallel()

		exp := xrand.Bytes(payloadStep*3 + 5)
		tt := newMemTransport(t, peerFrame(t, true, wsframe.OpBinary, string(exp)))
		c := NewConn(tt, nil)

		typ, b, err := c.Read(testContext(t))
		assert.Success(t, err)
		assert.Equal(t, "type", MessageBinary, typ)
		assert.Equal(t, "payload", exp, b)
	})

	t.Run("readAfterClosed", func(t *testing.T) {
		t.Parallel()

		tt := newMemTransport(t)
		c := NewConn(tt, nil)
		c.CloseNow()

		_, _, err := c.Read(testContext(t))
		assert.ErrorIs(t, ErrClosed, err)
	})
}

// Not parallel so that the allocation count is not shared with other tests.
func TestConnReadDeclaredLength(t *testing.T) {
	// 1 GiB declared, 10 bytes delivered.
	b := wsframe.AppendHeader(nil, wsframe.Header{
		Fin:           true,
		Opcode:        wsframe.OpBinary,
		PayloadLength: 1 << 30,
		Masked:        true,
		MaskKey:       xrand.Uint32(),
	})
	b = append(b, make([]byte, 10)...)

	tt := newMemTransport(t, b)
	c := NewConn(tt, &ConnOptions{
		ReadLimit: 1 << 31,
	})

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	_, _, err := c.Read(testContext(t))
	runtime.ReadMemStats(&after)

	assert.ErrorIs(t, io.ErrUnexpectedEOF, err)
	assert.Equal(t, "close status", StatusAbnormalClosure, CloseStatus(err))
	if alloc := after.TotalAlloc - before.TotalAlloc; alloc > 16<<20 {
		t.Fatalf("allocated %v bytes for a 10 byte payload", alloc)
	}
}

func TestConnProtocolViolations(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		role   Role
		limit  int64
		frames func(t *testing.T) [][]byte
		code   StatusCode
	}{
		{
			name: "unknownOpcode",
			frames: func(t *testing.T) [][]byte {
				return [][]byte{peerFrame(t, true, wsframe.Opcode(3), "")}
			},
			code: StatusUnsupportedData,
		},
		{
			name: "reservedControlOpcode",
			frames: func(t *testing.T) [][]byte {
				return [][]byte{peerFrame(t, true, wsframe.Opcode(0xB), "")}
			},
			code: StatusUnsupportedData,
		},
		{
			name: "reservedControlFragmented",
			frames: func(t *testing.T) [][]byte {
				return [][]byte{{0x0b, 0x80, 0, 0, 0, 0}}
			},
			code: StatusUnsupportedData,
		},
		{
			name: "reservedControlTooLong",
			frames: func(t *testing.T) [][]byte {
				return [][]byte{{0x8b, 0x80 | 126, 0x00, 126, 0, 0, 0, 0}}
			},
			code: StatusUnsupportedData,
		},
		{
			name: "unmaskedFromClient",
			frames: func(t *testing.T) [][]byte {
				return [][]byte{encodeFrame(t, false, true, wsframe.OpText, "hi")}
			},
			code: StatusProtocolError,
		},
		{
			name: "maskedFromServer",
			role: RoleClient,
			frames: func(t *testing.T) [][]byte {
				return [][]byte{encodeFrame(t, true, true, wsframe.OpText, "hi")}
			},
			code: StatusProtocolError,
		},
		{
			name: "rsvBits",
			frames: func(t *testing.T) [][]byte {
				b := peerFrame(t, true, wsframe.OpText, "hi")
				b[0] |= 0x40
				return [][]byte{b}
			},
			code: StatusProtocolError,
		},
		{
			name: "continuationWithoutStart",
			frames: func(t *testing.T) [][]byte {
				return [][]byte{peerFrame(t, true, wsframe.OpContinuation, "hi")}
			},
			code: StatusProtocolError,
		},
		{
			name: "interleavedMessage",
			frames: func(t *testing.T) [][]byte {
				return [][]byte{
					peerFrame(t, false, wsframe.OpText, "hi"),
					peerFrame(t, true, wsframe.OpBinary, "there"),
				}
			},
			code: StatusProtocolError,
		},
		{
			name: "fragmentedPing",
			frames: func(t *testing.T) [][]byte {
				b := peerFrame(t, true, wsframe.OpPing, "a")
				b[0] &^= 0x80
				return [][]byte{b}
			},
			code: StatusProtocolError,
		},
		{
			name: "longPing",
			frames: func(t *testing.T) [][]byte {
				// 126 selects the 16 bit length.
				return [][]byte{{0x89, 0x80 | 126, 0x00, 126, 0, 0, 0, 0}}
			},
			code: StatusProtocolError,
		},
		{
			name: "negativeLength",
			frames: func(t *testing.T) [][]byte {
				return [][]byte{{0x82, 0x80 | 127, 0x80, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}}
			},
			code: StatusInvalidFramePayloadData,
		},
		{
			name: "invalidUTF8",
			frames: func(t *testing.T) [][]byte {
				return [][]byte{peerFrame(t, true, wsframe.OpText, "\xff\xfe")}
			},
			code: StatusInvalidFramePayloadData,
		},
		{
			name:  "readLimit",
			limit: 4,
			frames: func(t *testing.T) [][]byte {
				return [][]byte{peerFrame(t, true, wsframe.OpBinary, "hello")}
			},
			code: StatusMessageTooBig,
		},
		{
			name:  "readLimitAcrossFragments",
			limit: 4,
			frames: func(t *testing.T) [][]byte {
				return [][]byte{
					peerFrame(t, false, wsframe.OpBinary, "hel"),
					peerFrame(t, true, wsframe.OpContinuation, "lo"),
				}
			},
			code: StatusMessageTooBig,
		},
		{
			name: "readLimitOverflow",
			frames: func(t *testing.T) [][]byte {
				return [][]byte{
					peerFrame(t, false, wsframe.OpText, "hi"),
					// Continuation declaring a length of math.MaxInt64.
					{0x80, 0x80 | 127, 0x7f, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0, 0, 0, 0},
				}
			},
			code: StatusMessageTooBig,
		},
		{
			name: "badClosePayload",
			frames: func(t *testing.T) [][]byte {
				return [][]byte{peerFrame(t, true, wsframe.OpClose, "\x03")}
			},
			code: StatusProtocolError,
		},
		{
			name: "badCloseCode",
			frames: func(t *testing.T) [][]byte {
				return [][]byte{peerFrame(t, true, wsframe.OpClose, "\x03\xee")}
			},
			code: StatusProtocolError,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			tt := newMemTransport(t, tc.frames(t)...)
			c := NewConn(tt, &ConnOptions{
				Role:       tc.role,
				MaskPolicy: MaskNever,
				ReadLimit:  tc.limit,
			})

			_, _, err := c.Read(testContext(t))
			assert.ErrorIs(t, ErrClosed, err)

			var pe *ProtocolError
			if !errors.As(err, &pe) {
				t.Fatalf("expected *ProtocolError but got %v", err)
			}
			assert.Equal(t, "close status", tc.code, CloseStatus(err))

			info := c.CloseInfo()
			assert.Equal(t, "close code", tc.code, info.Code)
			assert.Equal(t, "initiator", InitiatorLocal, info.Initiator)
			assert.Equal(t, "state", StateClosed, c.State())

			frames := tt.written(t)
			assert.Equal(t, "frames written", 1, len(frames))
			assert.Equal(t, "opcode", wsframe.OpClose, frames[0].Opcode)
			ce, err := parseClosePayload(frames[0].Payload)
			assert.Success(t, err)
			assert.Equal(t, "sent code", tc.code, ce.Code)
			assert.Equal(t, "sent reason", info.Reason, ce.Reason)
		})
	}
}

func TestConnRemoteClose(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		payload string
		info    CloseInfo
		echo    string
	}{
		{
			name:    "normal",
			payload: "\x03\xe8bye",
			info: CloseInfo{
				Code:      StatusNormalClosure,
				Reason:    "bye",
				Initiator: InitiatorRemote,
			},
			echo: "\x03\xe8",
		},
		{
			name:    "goingAway",
			payload: "\x03\xe9",
			info: CloseInfo{
				Code:      StatusGoingAway,
				Initiator: InitiatorRemote,
			},
			echo: "\x03\xe9",
		},
		{
			name:    "noStatus",
			payload: "",
			info: CloseInfo{
				Code:      StatusNoStatusRcvd,
				Initiator: InitiatorRemote,
			},
			echo: "",
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			tt := newMemTransport(t,
				peerFrame(t, true, wsframe.OpClose, tc.payload),
				peerFrame(t, true, wsframe.OpText, "ignored"),
			)
			c := NewConn(tt, nil)

			_, _, err := c.Read(testContext(t))
			assert.ErrorIs(t, ErrClosed, err)
			assert.Equal(t, "close status", tc.info.Code, CloseStatus(err))
			assert.Equal(t, "close info", tc.info, c.CloseInfo())
			assert.Equal(t, "transport closed", true, tt.isClosed())

			frames := tt.written(t)
			assert.Equal(t, "frames written", 1, len(frames))
			assertFrame(t, frames[0], true, wsframe.OpClose, tc.echo)

			err = c.Write(testContext(t), MessageText, []byte("late"))
			assert.ErrorIs(t, ErrClosed, err)
		})
	}
}

func TestConnLocalClose(t *testing.T) {
	t.Parallel()

	t.Run("simultaneousClose", func(t *testing.T) {
		t.Parallel()

		tt := &racingTransport{memTransport: newMemTransport(t)}
		c := NewConn(tt, nil)
		tt.beforeWrite = func() {
			// A concurrent Read handles the peer's close frame before
			// ours reaches the transport.
			_ = c.handleClose(testContext(t), []byte{0x03, 0xe8})
		}

		err := c.Close(StatusNormalClosure, "")
		assert.Success(t, err)
		assert.Equal(t, "state", StateClosed, c.State())
		assert.Equal(t, "close code", StatusNormalClosure, c.CloseInfo().Code)
		assert.Equal(t, "transport closes", 1, tt.closes())
	})

	t.Run("handshake", func(t *testing.T) {
		t.Parallel()

		tt := newMemTransport(t,
			peerFrame(t, true, wsframe.OpText, "discarded"),
			peerFrame(t, true, wsframe.OpPing, "unanswered"),
			peerFrame(t, true, wsframe.OpClose, "\x03\xe8"),
		)
		c := NewConn(tt, nil)

		err := c.Close(StatusNormalClosure, "done")
		assert.Success(t, err)
		assert.Equal(t, "close info", CloseInfo{
			Code:      StatusNormalClosure,
			Reason:    "done",
			Initiator: InitiatorLocal,
		}, c.CloseInfo())
		assert.Equal(t, "state", StateClosed, c.State())
		assert.Equal(t, "transport closed", true, tt.isClosed())

		frames := tt.written(t)
		assert.Equal(t, "frames written", 1, len(frames))
		assertFrame(t, frames[0], true, wsframe.OpClose, "\x03\xe8done")

		err = c.Close(StatusNormalClosure, "")
		assert.Success(t, err)

		err = c.Write(testContext(t), MessageBinary, nil)
		assert.ErrorIs(t, ErrClosed, err)
	})

	t.Run("peerVanishes", func(t *testing.T) {
		t.Parallel()

		tt := newMemTransport(t)
		c := NewConn(tt, nil)

		err := c.Close(StatusGoingAway, "")
		assert.Equal(t, "close status", StatusAbnormalClosure, CloseStatus(err))
		assert.Equal(t, "close info", CloseInfo{Code: StatusAbnormalClosure, Initiator: InitiatorLocal}, c.CloseInfo())
	})

	t.Run("invalidArguments", func(t *testing.T) {
		t.Parallel()

		tt := newMemTransport(t)
		c := NewConn(tt, nil)

		err := c.Close(StatusNoStatusRcvd, "")
		assert.Contains(t, err, "cannot be set")

		err = c.Close(StatusNormalClosure, strings.Repeat("x", maxCloseReason+1))
		assert.Contains(t, err, "reason string max")

		assert.Equal(t, "state", StateOpen, c.State())
		assert.Equal(t, "frames written", 0, len(tt.written(t)))
	})

	t.Run("closeNow", func(t *testing.T) {
		t.Parallel()

		tt := newMemTransport(t)
		c := NewConn(tt, nil)

		err := c.CloseNow()
		assert.Success(t, err)
		err = c.CloseNow()
		assert.Success(t, err)

		assert.Equal(t, "close info", CloseInfo{Code: StatusAbnormalClosure, Initiator: InitiatorLocal}, c.CloseInfo())
		assert.Equal(t, "close calls", 1, tt.closes())
		assert.Equal(t, "frames written", 0, len(tt.written(t)))
	})
}

func TestConnWrite(t *testing.T) {
	t.Parallel()

	t.Run("chunked", func(t *testing.T) {
		t.Parallel()

		tt := newMemTransport(t)
		c := NewConn(tt, nil)

		msg := xrand.Bytes(70000)
		err := c.Write(testContext(t), MessageBinary, msg)
		assert.Success(t, err)

		frames := tt.written(t)
		assert.Equal(t, "frames written", 2, len(frames))
		assert.Equal(t, "first opcode", wsframe.OpBinary, frames[0].Opcode)
		assert.Equal(t, "first fin", false, frames[0].Fin)
		assert.Equal(t, "first length", int64(wsframe.ChunkSize), frames[0].PayloadLength)
		assert.Equal(t, "second opcode", wsframe.OpContinuation, frames[1].Opcode)
		assert.Equal(t, "second fin", true, frames[1].Fin)
		assert.Equal(t, "second length", int64(70000-wsframe.ChunkSize), frames[1].PayloadLength)

		got := append(frames[0].Payload, frames[1].Payload...)
		assert.Equal(t, "payload", true, bytes.Equal(msg, got))
	})

	t.Run("empty", func(t *testing.T) {
		t.Parallel()

		tt := newMemTransport(t)
		c := NewConn(tt, nil)

		err := c.Write(testContext(t), MessageText, nil)
		assert.Success(t, err)

		frames := tt.written(t)
		assert.Equal(t, "frames written", 1, len(frames))
		assertFrame(t, frames[0], true, wsframe.OpText, "")
	})

	t.Run("badType", func(t *testing.T) {
		t.Parallel()

		c := NewConn(newMemTransport(t), nil)

		err := c.Write(testContext(t), MessageType(9), []byte("x"))
		assert.Contains(t, err, "unknown message type")
	})

	t.Run("writer", func(t *testing.T) {
		t.Parallel()

		tt := newMemTransport(t)
		c := NewConn(tt, nil)

		w, err := c.Writer(testContext(t), MessageText)
		assert.Success(t, err)
		_, err = io.WriteString(w, "hello ")
		assert.Success(t, err)
		_, err = io.WriteString(w, "world")
		assert.Success(t, err)
		assert.Success(t, w.Close())
		assert.ErrorIs(t, errWriterClosed, w.Close())

		frames := tt.written(t)
		assert.Equal(t, "frames written", 3, len(frames))
		assertFrame(t, frames[0], false, wsframe.OpText, "hello ")
		assertFrame(t, frames[1], false, wsframe.OpContinuation, "world")
		assertFrame(t, frames[2], true, wsframe.OpContinuation, "")

		err = c.Write(testContext(t), MessageText, []byte("next"))
		assert.Success(t, err)
	})

	t.Run("transportFailure", func(t *testing.T) {
		t.Parallel()

		tt := newMemTransport(t)
		tt.writeErr = errors.New("broken pipe")
		c := NewConn(tt, nil)

		err := c.Write(testContext(t), MessageText, []byte("x"))
		assert.ErrorIs(t, ErrClosed, err)
		assert.Contains(t, err, "broken pipe")
		assert.Equal(t, "close status", StatusAbnormalClosure, CloseStatus(err))
		assert.Equal(t, "state", StateClosed, c.State())
	})
}

func TestConnMasking(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		opts   *ConnOptions
		role   Role
		masked bool
	}{
		{
			name:   "defaultServer",
			opts:   nil,
			role:   RoleServer,
			masked: false,
		},
		{
			name:   "client",
			opts:   &ConnOptions{Role: RoleClient},
			role:   RoleClient,
			masked: true,
		},
		{
			name:   "serverMaskAlways",
			opts:   &ConnOptions{Role: RoleServer, MaskPolicy: MaskAlways},
			role:   RoleServer,
			masked: true,
		},
		{
			name:   "clientMaskNever",
			opts:   &ConnOptions{Role: RoleClient, MaskPolicy: MaskNever},
			role:   RoleClient,
			masked: false,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			tt := newMemTransport(t)
			c := NewConn(tt, tc.opts)
			assert.Equal(t, "role", tc.role, c.Role())

			msg := xrand.String(5000)
			err := c.Write(testContext(t), MessageText, []byte(msg))
			assert.Success(t, err)

			frames := tt.written(t)
			assert.Equal(t, "frames written", 1, len(frames))
			assert.Equal(t, "masked", tc.masked, frames[0].Masked)
			assertFrame(t, frames[0], true, wsframe.OpText, msg)
		})
	}
}

func TestConnReadContext(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	defer pw.Close()

	tt := &pipeTransport{r: pr}
	c := NewConn(tt, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*50)
	defer cancel()

	_, _, err := c.Read(ctx)
	assert.ErrorIs(t, ErrClosed, err)
	assert.Equal(t, "close status", StatusAbnormalClosure, CloseStatus(err))
	assert.Equal(t, "state", StateClosed, c.State())
}

// pipeTransport blocks reads until closed.
type pipeTransport struct {
	r *io.PipeReader
}

func (pt *pipeTransport) Read(p []byte) (int, error)  { return pt.r.Read(p) }
func (pt *pipeTransport) Write(p []byte) (int, error) { return len(p), nil }
func (pt *pipeTransport) Close() error                { return pt.r.Close() }

// memTransport replays a fixed input and records everything written.
type memTransport struct {
	in       *bytes.Reader
	writeErr error

	mu     sync.Mutex
	out    bytes.Buffer
	closed int
}

func newMemTransport(t testing.TB, frames ...[]byte) *memTransport {
	t.Helper()
	return &memTransport{
		in: bytes.NewReader(bytes.Join(frames, nil)),
	}
}

func (mt *memTransport) Read(p []byte) (int, error) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if mt.closed > 0 {
		return 0, errors.New("use of closed transport")
	}
	return mt.in.Read(p)
}

func (mt *memTransport) Write(p []byte) (int, error) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if mt.writeErr != nil {
		return 0, mt.writeErr
	}
	return mt.out.Write(p)
}

func (mt *memTransport) Close() error {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.closed++
	return nil
}

func (mt *memTransport) isClosed() bool {
	return mt.closes() > 0
}

func (mt *memTransport) closes() int {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	return mt.closed
}

// racingTransport runs beforeWrite on the first Write and then fails
// it as if the transport had been released meanwhile.
type racingTransport struct {
	*memTransport
	beforeWrite func()
}

func (rt *racingTransport) Write(p []byte) (int, error) {
	if f := rt.beforeWrite; f != nil {
		rt.beforeWrite = nil
		f()
		return 0, errors.New("use of closed transport")
	}
	return rt.memTransport.Write(p)
}

// written decodes every frame written so far.
func (mt *memTransport) written(t testing.TB) []wsframe.Frame {
	t.Helper()

	mt.mu.Lock()
	r := bytes.NewReader(mt.out.Bytes())
	mt.mu.Unlock()

	var frames []wsframe.Frame
	for {
		f, err := wsframe.ReadFrame(r)
		if errors.Is(err, io.EOF) {
			return frames
		}
		assert.Success(t, err)
		frames = append(frames, f)
	}
}

// peerFrame encodes a frame as a client would send it.
func peerFrame(t testing.TB, fin bool, opcode wsframe.Opcode, payload string) []byte {
	t.Helper()
	return encodeFrame(t, true, fin, opcode, payload)
}

func encodeFrame(t testing.TB, masked, fin bool, opcode wsframe.Opcode, payload string) []byte {
	t.Helper()

	h := wsframe.Header{
		Fin:           fin,
		Opcode:        opcode,
		PayloadLength: int64(len(payload)),
	}
	if masked {
		h.Masked = true
		h.MaskKey = xrand.Uint32()
	}

	b := wsframe.AppendHeader(nil, h)
	n := len(b)
	b = append(b, payload...)
	if masked {
		wsframe.Mask(h.MaskKey, b[n:])
	}
	return b
}

func assertFrame(t testing.TB, f wsframe.Frame, fin bool, opcode wsframe.Opcode, payload string) {
	t.Helper()

	assert.Equal(t, "fin", fin, f.Fin)
	assert.Equal(t, "opcode", opcode, f.Opcode)
	assert.Equal(t, "payload", payload, string(f.Payload))
}

func testContext(t testing.TB) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
	t.Cleanup(cancel)
	return ctx
}
