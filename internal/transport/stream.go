package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/danmuck/goes/internal/protocol/frame"
	"github.com/danmuck/goes/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// StreamChannel carries multipart messages over a byte stream connection.
type StreamChannel struct {
	inbox
	conn         net.Conn
	limits       frame.Limits
	writeTimeout time.Duration

	mu sync.Mutex
	w  *bufio.Writer
}

// NewStreamChannel wraps conn and starts its read loop.
func NewStreamChannel(conn net.Conn, writeTimeout time.Duration, limits frame.Limits) *StreamChannel {
	c := &StreamChannel{
		inbox:        newInbox(),
		conn:         conn,
		limits:       limits,
		writeTimeout: writeTimeout,
		w:            bufio.NewWriter(conn),
	}
	go c.readLoop()
	return c
}

// Pipe returns two connected in-memory channels.
func Pipe() (*StreamChannel, *StreamChannel) {
	a, b := net.Pipe()
	return NewStreamChannel(a, 0, frame.DefaultLimits()), NewStreamChannel(b, 0, frame.DefaultLimits())
}

// DialTCP dials address, retrying with backoff, and performs the TLS
// handshake when cfg enables it.
func DialTCP(ctx context.Context, address string, cfg session.Config) (*StreamChannel, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.ValidateClientTransport(); err != nil {
		return nil, err
	}
	tlsCfg, err := cfg.ClientTLSConfig(address)
	if err != nil {
		return nil, err
	}

	var conn net.Conn
	err = session.Retry(ctx, cfg.Backoff, cfg.MaxConnectAttempts, nil, func(attempt int) error {
		c, err := dialOnce(ctx, address, cfg, tlsCfg)
		if err != nil {
			log.Warn().Int("attempt", attempt).Str("addr", address).Err(err).Msg("transport dial failed")
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return NewStreamChannel(conn, cfg.WriteTimeout, frame.DefaultLimits()), nil
}

func dialOnce(ctx context.Context, address string, cfg session.Config, tlsCfg *tls.Config) (net.Conn, error) {
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	if tlsCfg == nil {
		return rawConn, nil
	}
	conn := tls.Client(rawConn, tlsCfg)
	handshakeCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return conn, nil
}

// Send writes msg as one multipart message.
func (c *StreamChannel) Send(msg [][]byte) error {
	if c.closed() {
		return ErrClosed
	}
	if err := frame.CheckMessage(msg, c.limits); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	if err := frame.WriteMessage(c.w, msg, c.limits); err != nil {
		c.w.Reset(c.conn)
		return err
	}
	return c.w.Flush()
}

func (c *StreamChannel) Close() error {
	return c.shutdown(c.conn.Close)
}

func (c *StreamChannel) readLoop() {
	defer close(c.recv)
	r := bufio.NewReader(c.conn)
	for {
		msg, err := frame.ReadMessage(r, c.limits)
		if err != nil {
			c.fail(err)
			return
		}
		if !c.deliver(msg) {
			return
		}
	}
}
