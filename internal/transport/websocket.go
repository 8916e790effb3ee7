// Package transport frames WAMP messages over a WebSocket connection.
//
// The connection owns a write pump goroutine fed by a buffered send channel,
// so sends never contend for the socket with the session's dispatcher. This is
// what lets the dispatcher reply to an INVOCATION from inside the read path
// without deadlocking against itself.
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tortoisedoc/wampy"
)

const (
	// Subprotocol is the WAMP serialization announced during the WebSocket
	// handshake.
	Subprotocol = "wamp.2.json"

	defaultSendBuffer   = 256
	defaultPingInterval = 54 * time.Second
	writeTimeout        = 10 * time.Second
)

// Config tunes a dialed connection.
type Config struct {
	// URL is the router endpoint, e.g. "ws://localhost:8080/".
	URL string

	// HandshakeTimeout bounds the WebSocket handshake.
	HandshakeTimeout time.Duration

	// PingInterval paces keepalive pings on the write pump.
	PingInterval time.Duration

	// SendBuffer is the capacity of the outbound frame queue.
	SendBuffer int

	// Rate and Burst throttle outbound frames with a token bucket
	// (messages per second). Zero Rate disables throttling.
	Rate  float64
	Burst int

	Logger zerolog.Logger
}

// Conn is a live WebSocket connection carrying WAMP frames.
type Conn struct {
	ws      *websocket.Conn
	sendCh  chan []byte
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.RWMutex
	closed  bool
	limiter *rate.Limiter
	log     zerolog.Logger
}

// Dial connects to the router. Failure to establish the connection is
// reported as a *wampy.ConnectionError.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		Subprotocols:     []string{Subprotocol},
	}
	if dialer.HandshakeTimeout == 0 {
		dialer.HandshakeTimeout = 5 * time.Second
	}

	ws, _, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, &wampy.ConnectionError{Op: "dial " + cfg.URL, Err: err}
	}

	connCtx, cancel := context.WithCancel(context.Background())

	buffer := cfg.SendBuffer
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}

	var limiter *rate.Limiter
	if cfg.Rate > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.Rate), burst)
	}

	ping := cfg.PingInterval
	if ping <= 0 {
		ping = defaultPingInterval
	}

	c := &Conn{
		ws:      ws,
		sendCh:  make(chan []byte, buffer),
		ctx:     connCtx,
		cancel:  cancel,
		limiter: limiter,
		log:     cfg.Logger.With().Str("component", "transport").Logger(),
	}

	go c.writePump(ping)

	return c, nil
}

// Send queues one frame for delivery. It blocks only when the send buffer is
// full or the outbound rate limiter is throttling.
func (c *Conn) Send(ctx context.Context, frame []byte) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return &wampy.ConnectionError{Op: "send", Err: wampy.ErrSessionClosed}
	}

	// Hold the read lock while queueing to prevent a race with Close
	// closing the channel.
	select {
	case c.sendCh <- frame:
		c.mu.RUnlock()
		return nil
	case <-ctx.Done():
		c.mu.RUnlock()
		return ctx.Err()
	case <-c.ctx.Done():
		c.mu.RUnlock()
		return &wampy.ConnectionError{Op: "send", Err: c.ctx.Err()}
	}
}

// Receive blocks for the next frame. It returns a *wampy.ConnectionError when
// the connection drops or is closed.
func (c *Conn) Receive() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, &wampy.ConnectionError{Op: "receive", Err: err}
	}
	return data, nil
}

// Close sends a close frame and tears the connection down. Safe to call more
// than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.cancel()

	frame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	deadline := time.Now().Add(time.Second)
	c.ws.WriteControl(websocket.CloseMessage, frame, deadline)

	close(c.sendCh)
	return c.ws.Close()
}

// writePump owns the socket's write side: queued frames and keepalive pings.
func (c *Conn) writePump(ping time.Duration) {
	ticker := time.NewTicker(ping)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case frame, ok := <-c.sendCh:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Warn().Err(err).Msg("write failed")
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}
