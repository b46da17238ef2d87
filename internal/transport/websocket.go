package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/danmuck/goes/internal/protocol/frame"
	"github.com/danmuck/goes/internal/protocol/session"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WebSocketChannel carries one multipart message per binary websocket message.
type WebSocketChannel struct {
	inbox
	conn         *websocket.Conn
	limits       frame.Limits
	writeTimeout time.Duration
	mu           sync.Mutex
}

// NewWebSocketChannel wraps an established connection and starts its read loop.
func NewWebSocketChannel(conn *websocket.Conn, writeTimeout time.Duration, limits frame.Limits) *WebSocketChannel {
	c := &WebSocketChannel{
		inbox:        newInbox(),
		conn:         conn,
		limits:       limits,
		writeTimeout: writeTimeout,
	}
	go c.readLoop()
	return c
}

// DialWebSocket dials a ws:// or wss:// endpoint, retrying with backoff.
func DialWebSocket(ctx context.Context, endpoint string, cfg session.Config) (*WebSocketChannel, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.ValidateClientTransport(); err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	if cfg.TLS.Enabled {
		host, err := hostPort(endpoint)
		if err != nil {
			return nil, err
		}
		tlsCfg, err := cfg.ClientTLSConfig(host)
		if err != nil {
			return nil, err
		}
		dialer.TLSClientConfig = tlsCfg
	}

	var conn *websocket.Conn
	err := session.Retry(ctx, cfg.Backoff, cfg.MaxConnectAttempts, nil, func(attempt int) error {
		dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
		c, resp, err := dialer.DialContext(dialCtx, endpoint, nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			log.Warn().Int("attempt", attempt).Str("endpoint", endpoint).Err(err).Msg("websocket dial failed")
			return fmt.Errorf("dial websocket: %w", err)
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return NewWebSocketChannel(conn, cfg.WriteTimeout, frame.DefaultLimits()), nil
}

// Upgrader accepts websocket channels on the serving side.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// Accept upgrades an HTTP request into a channel.
func Accept(w http.ResponseWriter, r *http.Request) (*WebSocketChannel, error) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewWebSocketChannel(conn, 0, frame.DefaultLimits()), nil
}

func (c *WebSocketChannel) Send(msg [][]byte) error {
	if c.closed() {
		return ErrClosed
	}
	payload, err := frame.EncodeMessage(msg, c.limits)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, payload)
}

func (c *WebSocketChannel) Close() error {
	return c.shutdown(func() error {
		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.mu.Unlock()
		return c.conn.Close()
	})
}

func (c *WebSocketChannel) readLoop() {
	defer close(c.recv)
	for {
		kind, payload, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(fmt.Errorf("websocket read: %w", err))
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		msg, err := frame.DecodeMessage(payload, c.limits)
		if err != nil {
			c.fail(err)
			return
		}
		if !c.deliver(msg) {
			return
		}
	}
}
