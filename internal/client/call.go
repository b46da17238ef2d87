package client

import (
	"context"
	"sync"

	"github.com/danmuck/goes/internal/events"
	"github.com/danmuck/goes/internal/observability"
	"github.com/danmuck/goes/internal/protocol"
)

// Call is one in-flight command. Done receives the call exactly once, with
// either Err or Events set.
type Call struct {
	Command protocol.Command
	Events  []events.Envelope
	Err     error
	Done    chan *Call

	once sync.Once
}

func newCall(cmd protocol.Command) *Call {
	return &Call{Command: cmd, Done: make(chan *Call, 1)}
}

func (c *Call) finish(envs []events.Envelope, err error) {
	c.once.Do(func() {
		if err != nil {
			c.Err = err
		} else {
			c.Events = envs
		}
		observability.RecordClientRequest(string(c.Command), err)
		c.Done <- c
	})
}

// Wait blocks until the call completes or ctx ends.
func (c *Call) Wait(ctx context.Context) ([]events.Envelope, error) {
	select {
	case done := <-c.Done:
		c.Done <- done
		return done.Events, done.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
