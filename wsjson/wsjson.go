// Package wsjson provides helpers for reading and writing JSON messages.
package wsjson

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wsengine/websocket"
	"github.com/wsengine/websocket/internal/bpool"
	"github.com/wsengine/websocket/internal/errd"
)

// Read reads a JSON message from c into v.
//
// A binary message closes c with StatusUnsupportedData and a message
// that is not valid JSON closes c with StatusInvalidFramePayloadData.
func Read(ctx context.Context, c *websocket.Conn, v interface{}) error {
	return read(ctx, c, v)
}

func read(ctx context.Context, c *websocket.Conn, v interface{}) (err error) {
	defer errd.Wrap(&err, "failed to read JSON message")

	typ, b, err := c.Read(ctx)
	if err != nil {
		return err
	}

	if typ != websocket.MessageText {
		c.Close(websocket.StatusUnsupportedData, "expected text message")
		return fmt.Errorf("expected text message for JSON but got: %v", typ)
	}

	err = json.Unmarshal(b, v)
	if err != nil {
		c.Close(websocket.StatusInvalidFramePayloadData, "failed to unmarshal JSON")
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	return nil
}

// Write writes the JSON message v to c as a single text message.
func Write(ctx context.Context, c *websocket.Conn, v interface{}) error {
	return write(ctx, c, v)
}

func write(ctx context.Context, c *websocket.Conn, v interface{}) (err error) {
	defer errd.Wrap(&err, "failed to write JSON message")

	buf := bpool.Get()
	defer bpool.Put(buf)

	err = json.NewEncoder(buf).Encode(v)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	return c.Write(ctx, websocket.MessageText, buf.Bytes())
}
