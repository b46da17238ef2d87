package transport

import (
	"errors"
	"sync"
)

var ErrClosed = errors.New("transport: channel closed")

// Channel is a reliable, in-order duplex message channel.
type Channel interface {
	Send(msg [][]byte) error
	Receive() <-chan [][]byte
	Err() <-chan error
	Close() error
}

// inbox is the receive side shared by channel implementations.
type inbox struct {
	recv      chan [][]byte
	errs      chan error
	closeCh   chan struct{}
	closeOnce sync.Once
}

func newInbox() inbox {
	return inbox{
		recv:    make(chan [][]byte, 64),
		errs:    make(chan error, 1),
		closeCh: make(chan struct{}),
	}
}

func (b *inbox) Receive() <-chan [][]byte {
	return b.recv
}

func (b *inbox) Err() <-chan error {
	return b.errs
}

func (b *inbox) closed() bool {
	select {
	case <-b.closeCh:
		return true
	default:
		return false
	}
}

// deliver hands msg to the reader, giving up when the channel closes.
func (b *inbox) deliver(msg [][]byte) bool {
	select {
	case b.recv <- msg:
		return true
	case <-b.closeCh:
		return false
	}
}

// fail reports a receive error unless the channel was closed locally.
func (b *inbox) fail(err error) {
	if b.closed() {
		return
	}
	select {
	case b.errs <- err:
	default:
	}
}

// shutdown runs fn once and unblocks any pending deliver.
func (b *inbox) shutdown(fn func() error) error {
	err := ErrClosed
	b.closeOnce.Do(func() {
		close(b.closeCh)
		err = fn()
	})
	return err
}

var (
	_ Channel = (*StreamChannel)(nil)
	_ Channel = (*WebSocketChannel)(nil)
)
