// Package wsecho implements the echo service behind cmd/wsecho.
package wsecho

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/wsengine/websocket"
)

// Handler echoes every message back to its sender.
// Each session gets its own rate limiter.
type Handler struct {
	rate RateConfig
	log  *slog.Logger

	mu       sync.Mutex
	limiters map[*websocket.Conn]*rate.Limiter
}

var (
	_ websocket.Handler        = (*Handler)(nil)
	_ websocket.ConnectHandler = (*Handler)(nil)
	_ websocket.CloseHandler   = (*Handler)(nil)
)

// NewHandler returns a Handler limited by cfg.
func NewHandler(cfg RateConfig, log *slog.Logger) *Handler {
	return &Handler{
		rate:     cfg,
		log:      log,
		limiters: make(map[*websocket.Conn]*rate.Limiter),
	}
}

// NewServer returns a websocket.Server running the echo Handler.
func NewServer(cfg Config, log *slog.Logger) *websocket.Server {
	return &websocket.Server{
		Handler: NewHandler(cfg.Rate, log),
		AcceptOptions: &websocket.AcceptOptions{
			Subprotocols:       cfg.Subprotocols,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			OriginPatterns:     cfg.OriginPatterns,
			ReadLimit:          cfg.ReadLimit,
		},
		Logger: log,
	}
}

func (h *Handler) limiter() *rate.Limiter {
	if h.rate.Every <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(h.rate.Every), h.rate.Burst)
}

// HandleConnect registers the session's limiter.
func (h *Handler) HandleConnect(r *http.Request, c *websocket.Conn) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.limiters[c] = h.limiter()
	h.log.Debug("session limiter registered", "every", h.rate.Every, "burst", h.rate.Burst)
	return nil
}

// HandleMessage waits for the session's limiter and echoes msg.
func (h *Handler) HandleMessage(ctx context.Context, c *websocket.Conn, msg websocket.Message) (*websocket.Message, error) {
	h.mu.Lock()
	l, ok := h.limiters[c]
	if !ok {
		l = h.limiter()
		h.limiters[c] = l
	}
	h.mu.Unlock()

	err := l.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for rate limiter: %w", err)
	}
	return &msg, nil
}

// HandleClose drops the session's limiter.
func (h *Handler) HandleClose(c *websocket.Conn, info websocket.CloseInfo) {
	h.mu.Lock()
	delete(h.limiters, c)
	h.mu.Unlock()
}

func (h *Handler) sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.limiters)
}

// Dial connects to the echo server at u, sends every line of in as a
// text message and writes each reply to out on its own line.
// The connection is closed normally when in is exhausted.
func Dial(ctx context.Context, u string, cfg Config, in io.Reader, out io.Writer) error {
	c, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{
		Subprotocols: cfg.Subprotocols,
		ReadLimit:    cfg.ReadLimit,
	})
	if err != nil {
		return err
	}
	defer c.CloseNow()

	sc := bufio.NewScanner(in)
	for sc.Scan() {
		err = c.Write(ctx, websocket.MessageText, sc.Bytes())
		if err != nil {
			return err
		}

		_, b, err := c.Read(ctx)
		if err != nil {
			return err
		}

		_, err = fmt.Fprintf(out, "%s\n", b)
		if err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	return c.Close(websocket.StatusNormalClosure, "")
}
