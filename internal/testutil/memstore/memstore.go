// Package memstore is an in-memory event store server for tests. It speaks
// the channel protocol over any transport.Channel and answers in order.
package memstore

import (
	"bytes"
	"fmt"
	"strconv"
	"sync"

	"github.com/danmuck/goes/internal/protocol"
	"github.com/danmuck/goes/internal/transport"
	"github.com/google/uuid"
)

type record struct {
	event    []byte
	metadata []byte
}

// Store keeps streams in memory. The zero value is not usable; use New.
type Store struct {
	mu      sync.Mutex
	streams map[uuid.UUID][]record
	all     []record
	// Hold, when set, is consulted before each reply; returning true drops it.
	Hold func(cmd protocol.Command) bool
}

func New() *Store {
	return &Store{streams: make(map[uuid.UUID][]record)}
}

// Serve answers requests on ch until its receive side closes.
func (s *Store) Serve(ch transport.Channel) {
	for msg := range ch.Receive() {
		reply := s.Handle(protocol.Message(msg))
		if reply == nil {
			continue
		}
		if err := ch.Send(reply); err != nil {
			return
		}
	}
}

// Handle returns the reply for one request, or nil when Hold drops it.
func (s *Store) Handle(msg protocol.Message) protocol.Message {
	if len(msg) == 0 {
		return errorReply("BadRequest", "empty message")
	}
	cmd := protocol.Command(msg[0])
	if s.Hold != nil && s.Hold(cmd) {
		return nil
	}
	switch cmd {
	case protocol.CommandAddEvent:
		return s.add(msg)
	case protocol.CommandReadStream:
		if len(msg) != 2 || len(msg[1]) != protocol.StreamIDSize {
			return errorReply("BadRequest", "ReadStream expects a 16 byte stream id")
		}
		id, _ := uuid.FromBytes(msg[1])
		s.mu.Lock()
		defer s.mu.Unlock()
		return readReply(s.streams[id])
	case protocol.CommandReadAll:
		s.mu.Lock()
		defer s.mu.Unlock()
		return readReply(s.all)
	default:
		return errorReply("UnknownCommand", string(msg[0]))
	}
}

func (s *Store) add(msg protocol.Message) protocol.Message {
	if len(msg) != 4 {
		return errorReply("BadRequest", fmt.Sprintf("AddEvent expects 4 frames, got %d", len(msg)))
	}
	id, version, err := protocol.DecodeAddEventID(msg[1])
	if err != nil {
		return errorReply("BadRequest", err.Error())
	}
	metadata, _ := bytes.CutPrefix(msg[3], []byte(protocol.MetadataTag+" "))

	s.mu.Lock()
	defer s.mu.Unlock()
	current := len(s.streams[id])
	if int(version) != current {
		return errorReply("WrongExpectedVersion", fmt.Sprintf("expected %d, stream is at %d", version, current))
	}
	rec := record{event: clone(msg[2]), metadata: clone(metadata)}
	s.streams[id] = append(s.streams[id], rec)
	s.all = append(s.all, rec)
	return protocol.Message{[]byte(protocol.ResponseOk)}
}

func readReply(records []record) protocol.Message {
	out := make(protocol.Message, 0, 1+2*len(records))
	out = append(out, []byte(strconv.Itoa(len(records))))
	for _, rec := range records {
		out = append(out, rec.event, rec.metadata)
	}
	return out
}

func errorReply(code, msg string) protocol.Message {
	return protocol.Message{[]byte(fmt.Sprintf("%s %s: %s", protocol.ErrorMarker, code, msg))}
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
