// Package wsframe implements the RFC 6455 frame format.
//
// It knows nothing about connections, it only turns headers and payloads
// into bytes and back.
package wsframe

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Bits of the first two header bytes.
// See https://tools.ietf.org/html/rfc6455#section-5.2
const (
	finBit     = 1 << 7
	rsv1Bit    = 1 << 6
	rsv2Bit    = 1 << 5
	rsv3Bit    = 1 << 4
	opcodeBits = 0x0f

	maskBit    = 1 << 7
	lengthBits = 0x7f

	len16 = 126
	len64 = 127
)

const (
	// MaxHeaderSize is the size of the largest possible frame header.
	MaxHeaderSize = 2 + 8 + 4

	// MaxControlPayload is the largest payload a control frame may carry.
	MaxControlPayload = 125

	// ChunkSize is the largest payload written in a single data frame.
	ChunkSize = 65536
)

var (
	// ErrFragmentedControl is returned for a control frame without the fin bit.
	ErrFragmentedControl = errors.New("fragmented control frame")
	// ErrControlTooLong is returned for a control frame payload over MaxControlPayload.
	ErrControlTooLong = errors.New("control frame payload too long")
	// ErrNegativeLength is returned when a 64 bit length has its most significant bit set.
	ErrNegativeLength = errors.New("negative payload length")
	// ErrPayloadTooLong is returned when a length does not fit in an int on this platform.
	ErrPayloadTooLong = errors.New("payload length overflows int")
)

// Header represents a WebSocket frame header.
// See https://tools.ietf.org/html/rfc6455#section-5.2
type Header struct {
	Fin    bool
	RSV1   bool
	RSV2   bool
	RSV3   bool
	Opcode Opcode

	PayloadLength int64

	Masked  bool
	MaskKey uint32
}

// Frame is a header followed by its payload.
type Frame struct {
	Header
	Payload []byte
}

// Validate checks the control frame rules.
// Data frames always pass.
func (h Header) Validate() error {
	if !h.Opcode.Control() {
		return nil
	}
	if !h.Fin {
		return fmt.Errorf("%v frame: %w", h.Opcode, ErrFragmentedControl)
	}
	if h.PayloadLength > MaxControlPayload {
		return fmt.Errorf("%v frame with %v byte payload: %w", h.Opcode, h.PayloadLength, ErrControlTooLong)
	}
	return nil
}

// AppendHeader appends the wire form of h to b.
// The length selector is the smallest that fits h.PayloadLength.
func AppendHeader(b []byte, h Header) []byte {
	if h.Opcode < 0 || h.Opcode > opcodeBits {
		panic(fmt.Sprintf("wsframe: invalid opcode %#x", int(h.Opcode)))
	}
	if h.PayloadLength < 0 {
		panic(fmt.Sprintf("wsframe: negative payload length %v", h.PayloadLength))
	}

	b0 := byte(h.Opcode)
	if h.Fin {
		b0 |= finBit
	}
	if h.RSV1 {
		b0 |= rsv1Bit
	}
	if h.RSV2 {
		b0 |= rsv2Bit
	}
	if h.RSV3 {
		b0 |= rsv3Bit
	}
	b = append(b, b0)

	var b1 byte
	if h.Masked {
		b1 |= maskBit
	}

	switch {
	case h.PayloadLength < len16:
		b = append(b, b1|byte(h.PayloadLength))
	case h.PayloadLength <= math.MaxUint16:
		b = append(b, b1|len16)
		b = binary.BigEndian.AppendUint16(b, uint16(h.PayloadLength))
	default:
		b = append(b, b1|len64)
		b = binary.BigEndian.AppendUint64(b, uint64(h.PayloadLength))
	}

	if h.Masked {
		b = binary.LittleEndian.AppendUint32(b, h.MaskKey)
	}

	return b
}

// AppendFrame appends the wire form of f to b.
// PayloadLength is taken from len(f.Payload). When f is masked,
// the payload is masked in the output with f.MaskKey; f.Payload
// itself is never modified.
func AppendFrame(b []byte, f Frame) ([]byte, error) {
	f.PayloadLength = int64(len(f.Payload))
	err := f.Validate()
	if err != nil {
		return b, err
	}

	b = AppendHeader(b, f.Header)
	n := len(b)
	b = append(b, f.Payload...)
	if f.Masked {
		Mask(f.MaskKey, b[n:])
	}
	return b, nil
}

// Encode returns the wire form of f.
// When applyMask is set a fresh random key replaces f.MaskKey,
// otherwise the frame is written unmasked.
func Encode(f Frame, applyMask bool) ([]byte, error) {
	f.Masked = applyMask
	f.MaskKey = 0
	if applyMask {
		key, err := NewMaskKey()
		if err != nil {
			return nil, err
		}
		f.MaskKey = key
	}
	return AppendFrame(make([]byte, 0, MaxHeaderSize+len(f.Payload)), f)
}

// ReadHeader reads a frame header from r.
// buf is scratch space and may be nil.
//
// io.EOF is returned when the stream ends before the first two
// header bytes are complete. A stream that ends later returns
// io.ErrUnexpectedEOF.
//
// A header breaking the control frame rules is returned along with
// the error so the caller can tell which opcode it carried.
func ReadHeader(r io.Reader, buf []byte) (Header, error) {
	if cap(buf) < MaxHeaderSize {
		buf = make([]byte, MaxHeaderSize)
	}
	buf = buf[:MaxHeaderSize]

	_, err := io.ReadFull(r, buf[:2])
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		return Header{}, err
	}

	h := Header{
		Fin:    buf[0]&finBit != 0,
		RSV1:   buf[0]&rsv1Bit != 0,
		RSV2:   buf[0]&rsv2Bit != 0,
		RSV3:   buf[0]&rsv3Bit != 0,
		Opcode: Opcode(buf[0] & opcodeBits),
		Masked: buf[1]&maskBit != 0,
	}

	payloadLength := buf[1] & lengthBits

	extra := 0
	switch payloadLength {
	case len16:
		extra = 2
	case len64:
		extra = 8
	}
	if h.Masked {
		extra += 4
	}

	p := buf[2 : 2+extra]
	if extra > 0 {
		_, err = io.ReadFull(r, p)
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return Header{}, err
		}
	}

	switch payloadLength {
	case len16:
		h.PayloadLength = int64(binary.BigEndian.Uint16(p))
		p = p[2:]
	case len64:
		l := binary.BigEndian.Uint64(p)
		p = p[8:]
		if l > math.MaxInt {
			if math.MaxInt == math.MaxInt32 {
				return Header{}, fmt.Errorf("%v byte payload: %w", l, ErrPayloadTooLong)
			}
			return Header{}, fmt.Errorf("%#x: %w", l, ErrNegativeLength)
		}
		h.PayloadLength = int64(l)
	default:
		h.PayloadLength = int64(payloadLength)
	}

	if h.Masked {
		h.MaskKey = binary.LittleEndian.Uint32(p)
	}

	err = h.Validate()
	if err != nil {
		return h, err
	}

	return h, nil
}

// ReadPayload reads exactly len(p) payload bytes of a frame with
// header h into p and unmasks them if needed.
// len(p) must not exceed h.PayloadLength.
func ReadPayload(r io.Reader, h Header, p []byte) error {
	if int64(len(p)) > h.PayloadLength {
		return fmt.Errorf("buffer of %v bytes exceeds payload length %v", len(p), h.PayloadLength)
	}
	_, err := io.ReadFull(r, p)
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return err
	}
	if h.Masked {
		Mask(h.MaskKey, p)
	}
	return nil
}

// ReadFrame reads a complete frame from r.
// The payload buffer grows as bytes arrive so a bogus declared length
// cannot force a large allocation up front.
func ReadFrame(r io.Reader) (Frame, error) {
	h, err := ReadHeader(r, nil)
	if err != nil {
		return Frame{}, err
	}

	var buf bytes.Buffer
	_, err = io.CopyN(&buf, r, h.PayloadLength)
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}

	p := buf.Bytes()
	if h.Masked {
		Mask(h.MaskKey, p)
	}
	return Frame{Header: h, Payload: p}, nil
}

// ParseClosePayload splits a close frame payload into its status code
// and reason. An empty payload is not handled here.
func ParseClosePayload(p []byte) (code uint16, reason string, err error) {
	if len(p) < 2 {
		return 0, "", fmt.Errorf("close payload %q too small, cannot even contain the 2 byte status code", p)
	}
	return binary.BigEndian.Uint16(p), string(p[2:]), nil
}

// AppendClosePayload appends a close frame payload with code and reason to b.
func AppendClosePayload(b []byte, code uint16, reason string) []byte {
	b = binary.BigEndian.AppendUint16(b, code)
	return append(b, reason...)
}
