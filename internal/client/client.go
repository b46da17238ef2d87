package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/goes/internal/events"
	"github.com/danmuck/goes/internal/observability"
	"github.com/danmuck/goes/internal/protocol"
	"github.com/danmuck/goes/internal/protocol/session"
	"github.com/danmuck/goes/internal/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrOrphanResponse    = errors.New("client: handler is missing for incoming response")
	ErrClosed            = errors.New("client: closed")
	ErrChannelLost       = errors.New("client: channel receive side ended")
	ErrAddressRequired   = errors.New("client: address required")
	ErrUnknownTransport  = errors.New("client: unknown transport")
	ErrRegistryImmutable = errors.New("client: types must be registered before the first call")
)

const (
	TransportTCP       = "tcp"
	TransportWebSocket = "ws"
)

// Config selects and configures the channel Dial opens.
type Config struct {
	Address   string
	Transport string
	Session   session.Config
}

func DefaultConfig() Config {
	return Config{
		Transport: TransportTCP,
		Session:   session.DefaultConfig(),
	}
}

type Option func(*Client)

// WithRegistry shares an existing type registry, e.g. with a storage reader.
func WithRegistry(reg *events.Registry) Option {
	return func(c *Client) {
		if reg != nil {
			c.types = reg
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

type continuation struct {
	call   *Call
	decode func(protocol.Message) ([]events.Envelope, error)
	queued time.Time
}

// Client issues commands over one channel and pairs replies FIFO.
type Client struct {
	ch      transport.Channel
	types   *events.Registry
	pending *session.Queue[*continuation]
	logger  zerolog.Logger
	errs    chan error

	sendMu  sync.Mutex
	started atomic.Bool
	closed  atomic.Bool
	done    chan struct{}
}

// New wraps an open channel and starts the receive loop.
func New(ch transport.Channel, opts ...Option) *Client {
	c := &Client{
		ch:      ch,
		types:   events.NewRegistry(),
		pending: session.NewQueue[*continuation](),
		logger:  log.Logger,
		errs:    make(chan error, 16),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "client").Logger()
	go c.receiveLoop()
	return c
}

// Dial opens the configured transport and wraps it.
func Dial(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	addr := strings.TrimSpace(cfg.Address)
	if addr == "" {
		return nil, ErrAddressRequired
	}
	var (
		ch  transport.Channel
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Transport)) {
	case "", TransportTCP:
		ch, err = transport.DialTCP(ctx, addr, cfg.Session)
	case TransportWebSocket:
		ch, err = transport.DialWebSocket(ctx, addr, cfg.Session)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, cfg.Transport)
	}
	if err != nil {
		return nil, err
	}
	return New(ch, opts...), nil
}

// Registry returns the type registry used to reconstruct payloads.
func (c *Client) Registry() *events.Registry {
	return c.types
}

// RegisterType adds a payload decoder. Registration is closed once the first
// command has been issued.
func (c *Client) RegisterType(typeID string, decode events.Decoder) error {
	if c.started.Load() {
		return ErrRegistryImmutable
	}
	return c.types.RegisterFunc(typeID, decode)
}

// Errors delivers failures that belong to no call: orphan responses and
// receive-side transport errors.
func (c *Client) Errors() <-chan error {
	return c.errs
}

// Pending returns the number of calls awaiting a reply.
func (c *Client) Pending() int {
	return c.pending.Len()
}

// AddEventAsync appends event to a stream. typeID may be empty when the event
// has a nominal type; metadata may be nil.
func (c *Client) AddEventAsync(streamID string, expectedVersion int64, event, metadata any, typeID string) *Call {
	req, err := protocol.NewAddEvent(streamID, expectedVersion, event, metadata, typeID)
	if err != nil {
		return c.failed(protocol.CommandAddEvent, err)
	}
	return c.send(protocol.CommandAddEvent, req.Encode(), func(msg protocol.Message) ([]events.Envelope, error) {
		return nil, protocol.DecodeWriteAck(msg)
	})
}

// ReadStreamAsync reads every event of one stream.
func (c *Client) ReadStreamAsync(streamID string) *Call {
	id, err := protocol.ParseStreamID(streamID)
	if err != nil {
		return c.failed(protocol.CommandReadStream, err)
	}
	return c.send(protocol.CommandReadStream, protocol.EncodeReadStream(id), c.decodeRead)
}

// ReadAllAsync reads every event in the store.
func (c *Client) ReadAllAsync() *Call {
	return c.send(protocol.CommandReadAll, protocol.EncodeReadAll(), c.decodeRead)
}

func (c *Client) AddEvent(ctx context.Context, streamID string, expectedVersion int64, event, metadata any, typeID string) error {
	_, err := c.AddEventAsync(streamID, expectedVersion, event, metadata, typeID).Wait(ctx)
	return err
}

func (c *Client) ReadStream(ctx context.Context, streamID string) ([]events.Envelope, error) {
	return c.ReadStreamAsync(streamID).Wait(ctx)
}

func (c *Client) ReadAll(ctx context.Context) ([]events.Envelope, error) {
	return c.ReadAllAsync().Wait(ctx)
}

// Close releases the channel. Calls still pending never complete.
func (c *Client) Close() error {
	c.closed.Store(true)
	err := c.ch.Close()
	if abandoned := c.pending.Drain(); len(abandoned) > 0 {
		c.logger.Debug().Int("abandoned", len(abandoned)).Msg("client closed with pending calls")
	}
	observability.SetClientPending(0)
	return err
}

func (c *Client) decodeRead(msg protocol.Message) ([]events.Envelope, error) {
	return protocol.DecodeReadResult(msg, c.types)
}

func (c *Client) failed(cmd protocol.Command, err error) *Call {
	call := newCall(cmd)
	call.finish(nil, err)
	return call
}

func (c *Client) send(cmd protocol.Command, msg protocol.Message, decode func(protocol.Message) ([]events.Envelope, error)) *Call {
	if c.closed.Load() {
		return c.failed(cmd, ErrClosed)
	}
	c.started.Store(true)
	call := newCall(cmd)
	cont := &continuation{call: call, decode: decode, queued: time.Now()}

	c.sendMu.Lock()
	depth := c.pending.Push(cont)
	err := c.ch.Send(msg)
	if err != nil {
		c.undoPush(cont)
	}
	c.sendMu.Unlock()

	if err != nil {
		c.logger.Debug().Str("command", string(cmd)).Err(err).Msg("send failed")
		call.finish(nil, err)
		observability.SetClientPending(c.pending.Len())
		return call
	}
	observability.SetClientPending(depth)
	c.logger.Trace().Str("command", string(cmd)).Int("pending", depth).Msg("sent")
	return call
}

// undoPush removes cont when it is still the newest entry. If the receive
// loop already consumed it, the call was completed there instead.
func (c *Client) undoPush(cont *continuation) {
	last, ok := c.pending.PopLast()
	if ok && last != cont {
		c.pending.Push(last)
	}
}

func (c *Client) receiveLoop() {
	defer close(c.done)
	for {
		select {
		case msg, ok := <-c.ch.Receive():
			if !ok {
				c.drainChannelErr()
				if !c.closed.Load() {
					c.emit(fmt.Errorf("%w: %d calls pending", ErrChannelLost, c.pending.Len()))
				}
				return
			}
			c.dispatch(protocol.Message(msg))
		case err := <-c.ch.Err():
			c.emit(err)
		}
	}
}

func (c *Client) drainChannelErr() {
	select {
	case err := <-c.ch.Err():
		c.emit(err)
	default:
	}
}

func (c *Client) dispatch(msg protocol.Message) {
	cont, ok := c.pending.Pop()
	if !ok {
		observability.RecordOrphanResponse()
		c.emit(fmt.Errorf("%w: %d frames", ErrOrphanResponse, len(msg)))
		return
	}
	observability.SetClientPending(c.pending.Len())
	envs, err := cont.decode(msg)
	c.logger.Trace().
		Str("command", string(cont.call.Command)).
		Dur("elapsed", time.Since(cont.queued)).
		Err(err).
		Msg("reply")
	cont.call.finish(envs, err)
}

func (c *Client) emit(err error) {
	if c.closed.Load() {
		return
	}
	c.logger.Warn().Err(err).Msg("client error")
	select {
	case c.errs <- err:
	default:
		c.logger.Error().Err(err).Msg("client error dropped, errors channel full")
	}
}
