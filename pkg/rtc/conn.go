package rtc

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultDialTimeout = 15 * time.Second
	captureFrameBytes  = 4800 // 100ms of 24kHz mono s16le

	writeTimeout = 5 * time.Second
)

// Options configures a Conn.
type Options struct {
	// Audio capture source (PCM s16le). Nil disables local capture.
	Source io.Reader
	// Remote audio sink. Nil discards remote audio.
	Sink io.Writer

	Dialer *websocket.Dialer
}

// Conn is the production Transport. The offer/answer exchange establishes a
// call; the answer carries the event-channel endpoint as an "a=channel:"
// attribute, which Conn dials over websocket. Remote audio arrives as binary
// frames on the same socket and never reaches the event consumer.
type Conn struct {
	opts Options

	nonce string

	mu   sync.Mutex
	ws   *websocket.Conn
	stop chan struct{} // signals the capture pump

	events chan []byte
	states chan State

	closeOnce sync.Once
	closed    atomic.Bool
	capturing atomic.Bool
}

// NewConn creates an unconnected transport for one connection attempt.
func NewConn(opts Options) *Conn {
	return &Conn{
		opts:   opts,
		nonce:  randHex(8),
		stop:   make(chan struct{}),
		events: make(chan []byte, 256),
		states: make(chan State, 16),
	}
}

// Offer returns the local session description. The description is opaque to
// callers; only the remote endpoint interprets it.
func (c *Conn) Offer(ctx context.Context) (string, error) {
	if c == nil {
		return "", fmt.Errorf("conn must not be nil")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("v=0\n")
	b.WriteString("o=vocalis " + c.nonce + " 0 IN IP4 0.0.0.0\n")
	b.WriteString("s=call\n")
	b.WriteString("m=audio pcm_s16le 24000 1\n")
	b.WriteString("a=channel-request:events\n")
	return b.String(), nil
}

// Accept applies the remote answer and opens the event channel.
func (c *Conn) Accept(ctx context.Context, answer, credential string) error {
	if c == nil {
		return fmt.Errorf("conn must not be nil")
	}
	if c.closed.Load() {
		return fmt.Errorf("transport is closed")
	}

	endpoint := answerAttr(answer, "channel")
	if endpoint == "" {
		return fmt.Errorf("answer description has no event channel endpoint")
	}
	wsURL, err := toWebSocketURL(endpoint)
	if err != nil {
		return err
	}

	dialer := c.opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		dialCtx, cancel = context.WithTimeout(ctx, defaultDialTimeout)
		defer cancel()
	}

	headers := make(http.Header)
	if strings.TrimSpace(credential) != "" {
		headers.Set("Authorization", "Bearer "+strings.TrimSpace(credential))
	}

	ws, resp, err := dialer.DialContext(dialCtx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("event channel dial failed (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("event channel dial failed: %w", err)
	}

	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		_ = ws.Close()
		return fmt.Errorf("transport is closed")
	}
	c.ws = ws
	c.mu.Unlock()

	c.emitState(StateConnected)
	go c.readLoop(ws)
	if c.opts.Source != nil {
		c.capturing.Store(true)
		go c.capturePump()
	}
	return nil
}

// Events yields inbound data-channel payloads.
func (c *Conn) Events() <-chan []byte {
	if c == nil {
		return nil
	}
	return c.events
}

// States yields connectivity transitions.
func (c *Conn) States() <-chan State {
	if c == nil {
		return nil
	}
	return c.states
}

// Send marshals one JSON event onto the data channel.
func (c *Conn) Send(v any) error {
	if c == nil {
		return fmt.Errorf("conn must not be nil")
	}
	if c.closed.Load() {
		return fmt.Errorf("transport is closed")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return fmt.Errorf("data channel is not open")
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(v)
}

// Close tears down the channel, the connection, and local capture. Idempotent
// and safe when resources were never established.
func (c *Conn) Close() error {
	if c == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.stop)
		c.capturing.Store(false)

		c.mu.Lock()
		ws := c.ws
		c.ws = nil
		c.mu.Unlock()

		if ws != nil {
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(2*time.Second))
			_ = ws.Close()
		} else {
			// Accept never ran; nothing reads, so close channels here.
			close(c.events)
		}
		c.emitState(StateClosed)
	})
	return nil
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	defer close(c.events)
	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if c.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.emitState(StateDisconnected)
			} else {
				c.emitState(StateFailed)
			}
			return
		}
		switch messageType {
		case websocket.TextMessage:
			select {
			case c.events <- data:
			default:
				// Drop rather than stall the socket on a slow consumer.
			}
		case websocket.BinaryMessage:
			if c.opts.Sink != nil {
				_, _ = c.opts.Sink.Write(data)
			}
		}
	}
}

func (c *Conn) capturePump() {
	buf := make([]byte, captureFrameBytes)
	for c.capturing.Load() {
		select {
		case <-c.stop:
			return
		default:
		}
		n, err := c.opts.Source.Read(buf)
		if n > 0 {
			c.mu.Lock()
			if c.ws != nil {
				_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
				_ = c.ws.WriteMessage(websocket.BinaryMessage, buf[:n])
			}
			c.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (c *Conn) emitState(s State) {
	select {
	case c.states <- s:
	default:
	}
}

func toWebSocketURL(endpoint string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return "", fmt.Errorf("invalid event channel endpoint: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("event channel endpoint must use http(s) or ws(s)")
	}
	return u.String(), nil
}

func randHex(nbytes int) string {
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		return hex.EncodeToString([]byte(time.Now().Format("150405.000000000")))
	}
	return hex.EncodeToString(b)
}
