package websocket

import (
	"context"
	"net/http"

	"github.com/wsengine/websocket/internal/xsync"
)

// Message is a complete data message.
type Message struct {
	Type MessageType
	Data []byte
}

// Handler consumes the messages of a session.
//
// HandleMessage is called for every data message in arrival order.
// A non nil reply is written back on c. A returned error or a panic
// closes the connection with StatusInternalError.
type Handler interface {
	HandleMessage(ctx context.Context, c *Conn, msg Message) (*Message, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, c *Conn, msg Message) (*Message, error)

// HandleMessage calls f.
func (f HandlerFunc) HandleMessage(ctx context.Context, c *Conn, msg Message) (*Message, error) {
	return f(ctx, c, msg)
}

// ConnectHandler is implemented by handlers that want to see a
// connection before its first message. Server calls it right after
// the handshake; an error closes the connection with StatusPolicyViolation.
type ConnectHandler interface {
	HandleConnect(r *http.Request, c *Conn) error
}

// CloseHandler is implemented by handlers that want to know how a
// session ended. It is called exactly once per session.
type CloseHandler interface {
	HandleClose(c *Conn, info CloseInfo)
}

// Serve runs the read loop of c until the connection is closed,
// passing every message to h. It returns how the connection ended.
//
// A failing handler only ends its own session.
func Serve(ctx context.Context, c *Conn, h Handler) CloseInfo {
	info := serve(ctx, c, h)
	if ch, ok := h.(CloseHandler); ok {
		ch.HandleClose(c, info)
	}
	return info
}

func serve(ctx context.Context, c *Conn, h Handler) CloseInfo {
	for {
		typ, b, err := c.Read(ctx)
		if err != nil {
			break
		}

		var reply *Message
		err = xsync.Try(func() (err error) {
			reply, err = h.HandleMessage(ctx, c, Message{Type: typ, Data: b})
			return err
		})
		if err != nil {
			c.Close(StatusInternalError, "")
			break
		}

		if reply != nil {
			err = c.Write(ctx, reply.Type, reply.Data)
			if err != nil {
				break
			}
		}
	}

	c.CloseNow()
	return c.CloseInfo()
}
