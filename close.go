package websocket

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/wsengine/websocket/internal/errd"
	"github.com/wsengine/websocket/internal/wsframe"
)

// ErrClosed is matched by every error returned once the connection
// has reached StateClosed.
var ErrClosed = errors.New("WebSocket closed")

// maxCloseReason is the longest reason that fits in a close frame
// next to the 2 byte status code.
const maxCloseReason = wsframe.MaxControlPayload - 2

// CloseError represents a WebSocket close frame.
// It is returned by Conn's methods when a WebSocket close frame is received from
// the peer or when the transport went away (StatusAbnormalClosure).
// Use errors.As or CloseStatus to check for this error.
type CloseError struct {
	Code   StatusCode
	Reason string
}

func (ce CloseError) Error() string {
	return fmt.Sprintf("status = %v and reason = %q", ce.Code, ce.Reason)
}

// CloseStatus is a convenience wrapper around errors.As to grab
// the status code from a CloseError. If the passed error is nil
// or not a CloseError, the returned StatusCode will be -1.
func CloseStatus(err error) StatusCode {
	var ce CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return -1
}

// ProtocolError is returned when the peer violated the protocol.
// Code is the status code the connection was closed with and
// Err describes the violation.
//
// A ProtocolError also matches CloseError{Code, Reason} with errors.As.
type ProtocolError struct {
	Code   StatusCode
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("WebSocket protocol violation (%v): %v", e.Code, e.Err)
}

func (e *ProtocolError) Unwrap() []error {
	return []error{CloseError{Code: e.Code, Reason: e.Reason}, e.Err}
}

// Initiator records which side started the close.
type Initiator int

// Initiator constants.
const (
	InitiatorLocal Initiator = iota + 1
	InitiatorRemote
)

func (i Initiator) String() string {
	switch i {
	case InitiatorLocal:
		return "local"
	case InitiatorRemote:
		return "remote"
	}
	return fmt.Sprintf("Initiator(%d)", int(i))
}

// CloseInfo describes how a connection ended.
type CloseInfo struct {
	Code      StatusCode
	Reason    string
	Initiator Initiator
}

func (ce CloseError) bytes() ([]byte, error) {
	if len(ce.Reason) > maxCloseReason {
		return nil, fmt.Errorf("reason string max is %v but got %q with length %v", maxCloseReason, ce.Reason, len(ce.Reason))
	}
	if !validWireCloseCode(ce.Code) {
		return nil, fmt.Errorf("status code %v cannot be set", ce.Code)
	}
	return wsframe.AppendClosePayload(nil, uint16(ce.Code), ce.Reason), nil
}

func parseClosePayload(p []byte) (CloseError, error) {
	if len(p) == 0 {
		return CloseError{
			Code: StatusNoStatusRcvd,
		}, nil
	}

	code, reason, err := wsframe.ParseClosePayload(p)
	if err != nil {
		return CloseError{}, err
	}

	ce := CloseError{
		Code:   StatusCode(code),
		Reason: reason,
	}

	if !validWireCloseCode(ce.Code) {
		return CloseError{}, fmt.Errorf("invalid status code %v", ce.Code)
	}
	if !utf8.ValidString(ce.Reason) {
		return CloseError{}, fmt.Errorf("close reason %q is not valid UTF-8", ce.Reason)
	}

	return ce, nil
}

// Close performs the WebSocket close handshake with the given status code and reason.
//
// It writes a close frame, moves the connection to StateClosing and then
// waits for the peer to echo the close frame, discarding any data messages
// that arrive in the meantime. The wait is bounded only by the transport.
//
// The reason may be at most 123 bytes and the code must be sendable on the wire.
// An invalid code or reason is returned as an error and leaves the connection
// untouched. Close is a no-op once the connection is closing or closed.
func (c *Conn) Close(code StatusCode, reason string) (err error) {
	defer errd.Wrap(&err, "failed to close WebSocket")

	p, err := CloseError{Code: code, Reason: reason}.bytes()
	if err != nil {
		return err
	}

	c.closeMu.Lock()
	if c.state != StateOpen {
		c.closeMu.Unlock()
		return nil
	}
	c.state = StateClosing
	c.closeSent = CloseInfo{Code: code, Reason: reason, Initiator: InitiatorLocal}
	c.closeMu.Unlock()

	err = c.writeControl(context.Background(), wsframe.OpClose, p)
	if err != nil {
		return c.closeResult(err)
	}

	return c.waitCloseHandshake()
}

// CloseNow closes the transport without a close handshake.
// The connection ends with StatusAbnormalClosure.
func (c *Conn) CloseNow() error {
	if !c.close(abnormalInfo, fmt.Errorf("%w: closed without handshake", CloseError{Code: StatusAbnormalClosure})) {
		return nil
	}
	if c.transportCloseErr != nil {
		return fmt.Errorf("failed to close WebSocket: %w", c.transportCloseErr)
	}
	return nil
}

// CloseInfo returns how the connection ended.
// It is the zero value until the connection reaches StateClosed.
func (c *Conn) CloseInfo() CloseInfo {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return c.closeInfo
}

func (c *Conn) waitCloseHandshake() error {
	err := c.readMu.lock(context.Background())
	if err != nil {
		return c.closeResult(err)
	}
	defer c.readMu.unlock()

	for {
		_, _, err = c.readMessage(context.Background())
		if err != nil {
			return c.closeResult(err)
		}
	}
}

// closeResult maps the error that ended a close handshake to Close's result.
func (c *Conn) closeResult(err error) error {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return err
	}
	if CloseStatus(err) == StatusAbnormalClosure {
		return err
	}
	return nil
}

func (c *Conn) handleClose(ctx context.Context, p []byte) error {
	ce, err := parseClosePayload(p)
	if err != nil {
		return c.fail(ctx, StatusProtocolError, fmt.Errorf("received invalid close payload: %w", err))
	}

	c.closeMu.Lock()
	wasOpen := c.state == StateOpen
	info := c.closeSent
	if wasOpen {
		c.state = StateClosing
		info = CloseInfo{Code: ce.Code, Reason: ce.Reason, Initiator: InitiatorRemote}
	}
	c.closeMu.Unlock()

	if wasOpen {
		var echo []byte
		if ce.Code != StatusNoStatusRcvd {
			echo = wsframe.AppendClosePayload(nil, uint16(ce.Code), "")
		}
		// The transport is released below whether or not the echo made it.
		_ = c.writeControl(ctx, wsframe.OpClose, echo)
	}

	c.close(info, fmt.Errorf("received close frame: %w", ce))
	return c.closeErr
}

// fail closes the connection after the peer violated the protocol.
// A close frame with code is sent first if none was sent yet.
func (c *Conn) fail(ctx context.Context, code StatusCode, err error) error {
	reason := err.Error()
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}
	reason = strings.ToValidUTF8(reason, "")

	c.closeMu.Lock()
	wasOpen := c.state == StateOpen
	if wasOpen {
		c.state = StateClosing
	}
	c.closeMu.Unlock()

	if wasOpen {
		p := wsframe.AppendClosePayload(nil, uint16(code), reason)
		_ = c.writeControl(ctx, wsframe.OpClose, p)
	}

	c.close(CloseInfo{Code: code, Reason: reason, Initiator: InitiatorLocal}, &ProtocolError{
		Code:   code,
		Reason: reason,
		Err:    err,
	})
	return c.closeErr
}

var abnormalInfo = CloseInfo{Code: StatusAbnormalClosure, Initiator: InitiatorLocal}

// abnormal closes the connection after the transport failed.
func (c *Conn) abnormal(err error) error {
	c.close(abnormalInfo, fmt.Errorf("%w: %w", CloseError{Code: StatusAbnormalClosure}, err))
	return c.closeErr
}

// close moves the connection to StateClosed and releases the transport.
// Only the first call has any effect and it reports true.
func (c *Conn) close(info CloseInfo, cause error) bool {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.state == StateClosed {
		return false
	}
	c.state = StateClosed
	c.closeInfo = info
	c.closeErr = fmt.Errorf("%w: %w", ErrClosed, cause)

	// c.closed must be closed before the transport so that any goroutine
	// woken up by the transport closing sees closeErr.
	close(c.closed)
	c.transportCloseErr = c.rwc.Close()
	return true
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
