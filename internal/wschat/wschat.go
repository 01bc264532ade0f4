// Package wschat is a broadcast chat room served over WebSockets.
//
// Clients subscribe on /subscribe and receive every message published
// to the room, either as a text message on their own connection or as
// the body of a POST to /publish.
package wschat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/wsengine/websocket"
)

// MaxMessageSize bounds published messages from both sources.
const MaxMessageSize = 8192

// Room enables broadcasting to a set of subscribers.
type Room struct {
	// SubscriberBuffer is the number of messages queued for a
	// subscriber before further messages to it are dropped.
	SubscriberBuffer int

	// PublishLimiter controls the rate limit applied to publishing.
	// Defaults to one publish every 100ms with a burst of 8.
	PublishLimiter *rate.Limiter

	log *slog.Logger
	ws  *websocket.Server
	mux http.ServeMux

	mu          sync.Mutex
	subscribers map[*websocket.Conn]chan []byte
}

var (
	_ websocket.Handler        = (*Room)(nil)
	_ websocket.ConnectHandler = (*Room)(nil)
	_ websocket.CloseHandler   = (*Room)(nil)
)

// NewRoom returns an empty Room logging to log.
func NewRoom(log *slog.Logger) *Room {
	r := &Room{
		SubscriberBuffer: 16,
		PublishLimiter:   rate.NewLimiter(rate.Every(time.Millisecond*100), 8),
		log:              log,
		subscribers:      make(map[*websocket.Conn]chan []byte),
	}
	r.ws = &websocket.Server{
		Handler: r,
		AcceptOptions: &websocket.AcceptOptions{
			ReadLimit: MaxMessageSize,
		},
		Logger: log,
	}
	r.mux.Handle("/subscribe", r.ws)
	r.mux.HandleFunc("/publish", r.publishHandler)
	return r
}

func (r *Room) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Shutdown refuses new subscribers and waits for the current ones
// to leave. See websocket.Server.Shutdown.
func (r *Room) Shutdown(ctx context.Context) error {
	return r.ws.Shutdown(ctx)
}

// Subscribers returns the number of connected subscribers.
func (r *Room) Subscribers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subscribers)
}

// HandleConnect subscribes c to all future messages.
func (r *Room) HandleConnect(req *http.Request, c *websocket.Conn) error {
	msgs := make(chan []byte, max(r.SubscriberBuffer, 1))

	r.mu.Lock()
	r.subscribers[c] = msgs
	r.mu.Unlock()

	go r.writeLoop(c, msgs)
	return nil
}

// writeLoop forwards msgs to c until the subscription ends.
func (r *Room) writeLoop(c *websocket.Conn, msgs <-chan []byte) {
	for msg := range msgs {
		err := writeTimeout(context.Background(), time.Second*5, c, msg)
		if err != nil {
			r.log.Debug("failed to write to subscriber", "error", err)
			c.CloseNow()
			return
		}
	}
}

// HandleMessage publishes every text message to the room.
func (r *Room) HandleMessage(ctx context.Context, c *websocket.Conn, msg websocket.Message) (*websocket.Message, error) {
	if msg.Type != websocket.MessageText {
		c.Close(websocket.StatusUnsupportedData, "expected text message")
		return nil, nil
	}
	return nil, r.Publish(ctx, msg.Data)
}

// HandleClose deletes the subscription of c.
func (r *Room) HandleClose(c *websocket.Conn, info websocket.CloseInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msgs, ok := r.subscribers[c]
	if !ok {
		return
	}
	delete(r.subscribers, c)
	close(msgs)
}

// Publish sends msg to every subscriber once the limiter allows it.
// It never blocks on a subscriber: messages to subscribers whose
// buffer is full are dropped.
func (r *Room) Publish(ctx context.Context, msg []byte) error {
	if len(msg) > MaxMessageSize {
		return fmt.Errorf("message of %v bytes exceeds %v", len(msg), MaxMessageSize)
	}

	err := r.PublishLimiter.Wait(ctx)
	if err != nil {
		return fmt.Errorf("failed to wait for publish limiter: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for c, msgs := range r.subscribers {
		select {
		case msgs <- msg:
		default:
			r.log.Debug("dropped message for slow subscriber", "subprotocol", c.Subprotocol())
		}
	}
	return nil
}

// publishHandler reads the request body with a limit of MaxMessageSize
// bytes and then publishes the received message.
func (r *Room) publishHandler(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	msg, err := io.ReadAll(http.MaxBytesReader(w, req.Body, MaxMessageSize))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = r.Publish(req.Context(), msg)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeTimeout(ctx context.Context, timeout time.Duration, c *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return c.Write(ctx, websocket.MessageText, msg)
}
