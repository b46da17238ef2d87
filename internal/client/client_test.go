package client

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/goes/internal/events"
	"github.com/danmuck/goes/internal/protocol"
	"github.com/danmuck/goes/internal/testutil/memstore"
	"github.com/danmuck/goes/internal/testutil/testlog"
	"github.com/danmuck/goes/internal/transport"
)

const streamA = "6ba7b810-9dad-11d1-80b4-00c04fd430c8"

type MyEvent struct {
	Abc int `json:"abc"`
}

type renamed struct {
	N int `json:"n"`
}

func (renamed) TypeID() string { return "Renamed" }

// stubChannel lets a test script both directions by hand.
type stubChannel struct {
	mu      sync.Mutex
	sent    [][][]byte
	sendErr error
	recv    chan [][]byte
	errs    chan error
	once    sync.Once
}

func newStubChannel() *stubChannel {
	return &stubChannel{recv: make(chan [][]byte, 8), errs: make(chan error, 1)}
}

func (s *stubChannel) Send(msg [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *stubChannel) Receive() <-chan [][]byte { return s.recv }
func (s *stubChannel) Err() <-chan error { return s.errs }

func (s *stubChannel) Close() error {
	s.once.Do(func() { close(s.recv) })
	return nil
}

func (s *stubChannel) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func withTimeout(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func connected(t *testing.T, store *memstore.Store) *Client {
	t.Helper()
	local, remote := transport.Pipe()
	go store.Serve(remote)
	c := New(local)
	t.Cleanup(func() {
		_ = c.Close()
		_ = remote.Close()
	})
	return c
}

func TestAddThenReadStream(t *testing.T) {
	testlog.Start(t)
	c := connected(t, memstore.New())
	if err := events.Register[MyEvent](c.Registry(), ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	ctx := withTimeout(t)

	if err := c.AddEvent(ctx, streamA, 0, MyEvent{Abc: 123}, nil, ""); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := c.AddEvent(ctx, streamA, 1, MyEvent{Abc: 456}, map[string]any{"by": "test"}, ""); err != nil {
		t.Fatalf("add second: %v", err)
	}

	got, err := c.ReadStream(ctx, streamA)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	first, ok := got[0].Event.(MyEvent)
	if !ok || first.Abc != 123 || got[0].TypeID != "MyEvent" {
		t.Fatalf("unexpected first event: %#v", got[0])
	}
	if len(got[0].Metadata) != 0 {
		t.Fatalf("expected empty metadata, got %v", got[0].Metadata)
	}
	if got[1].Metadata["by"] != "test" {
		t.Fatalf("unexpected metadata: %v", got[1].Metadata)
	}
	if !got[0].CreationTime.IsZero() {
		t.Fatalf("wire reads carry no creation time")
	}
}

func TestPipelinedCallsCompleteInOrder(t *testing.T) {
	testlog.Start(t)
	c := connected(t, memstore.New())
	ctx := withTimeout(t)

	const n = 20
	calls := make([]*Call, 0, n+1)
	for i := 0; i < n; i++ {
		calls = append(calls, c.AddEventAsync(streamA, int64(i), MyEvent{Abc: i}, nil, ""))
	}
	calls = append(calls, c.ReadAllAsync())

	for i, call := range calls[:n] {
		if _, err := call.Wait(ctx); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}
	all, err := calls[n].Wait(ctx)
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(all) != n {
		t.Fatalf("expected %d events, got %d", n, len(all))
	}
	for i, env := range all {
		u, ok := env.Event.(events.Untyped)
		if !ok {
			t.Fatalf("event %d: unregistered type should stay untyped, got %T", i, env.Event)
		}
		if u.Fields()["abc"] != float64(i) {
			t.Fatalf("event %d out of order: %v", i, u.Fields())
		}
	}
	if c.Pending() != 0 {
		t.Fatalf("pending=%d after all replies", c.Pending())
	}
}

func TestWrongExpectedVersionIsServerError(t *testing.T) {
	testlog.Start(t)
	c := connected(t, memstore.New())
	ctx := withTimeout(t)

	err := c.AddEvent(ctx, streamA, 3, MyEvent{Abc: 1}, nil, "")
	se, ok := protocol.IsServerError(err)
	if !ok {
		t.Fatalf("expected server error, got %v", err)
	}
	if se.Code != "WrongExpectedVersion" {
		t.Fatalf("unexpected code %q", se.Code)
	}
	// the channel stays usable after a server error
	if err := c.AddEvent(ctx, streamA, 0, MyEvent{Abc: 1}, nil, ""); err != nil {
		t.Fatalf("add after error: %v", err)
	}
}

func TestTypeNamerAndExplicitTypeID(t *testing.T) {
	testlog.Start(t)
	c := connected(t, memstore.New())
	ctx := withTimeout(t)

	if err := c.AddEvent(ctx, streamA, 0, renamed{N: 1}, nil, ""); err != nil {
		t.Fatalf("add renamed: %v", err)
	}
	if err := c.AddEvent(ctx, streamA, 1, map[string]any{"x": 1}, nil, "Adhoc"); err != nil {
		t.Fatalf("add map: %v", err)
	}
	got, err := c.ReadStream(ctx, streamA)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got[0].TypeID != "Renamed" || got[1].TypeID != "Adhoc" {
		t.Fatalf("unexpected type ids: %q %q", got[0].TypeID, got[1].TypeID)
	}
}

func TestValidationFailsBeforeAnyWrite(t *testing.T) {
	testlog.Start(t)
	stub := newStubChannel()
	c := New(stub)
	defer c.Close()
	ctx := withTimeout(t)

	cases := []struct {
		name string
		err  error
		run  func() error
	}{
		{"bad stream id", protocol.ErrInvalidStreamID, func() error {
			return c.AddEvent(ctx, "abc", 0, MyEvent{}, nil, "")
		}},
		{"negative version", protocol.ErrInvalidExpectedVersion, func() error {
			return c.AddEvent(ctx, streamA, -1, MyEvent{}, nil, "")
		}},
		{"anonymous event", protocol.ErrAnonymousEvent, func() error {
			return c.AddEvent(ctx, streamA, 0, map[string]any{"a": 1}, nil, "")
		}},
		{"non object event", protocol.ErrInvalidPayload, func() error {
			return c.AddEvent(ctx, streamA, 0, 42, nil, "Number")
		}},
		{"read bad stream id", protocol.ErrInvalidStreamID, func() error {
			_, err := c.ReadStream(ctx, "not-a-uuid")
			return err
		}},
	}
	for _, tc := range cases {
		if err := tc.run(); !errors.Is(err, tc.err) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.err, err)
		}
	}
	if stub.sentCount() != 0 {
		t.Fatalf("validation failures wrote %d messages", stub.sentCount())
	}
	if c.Pending() != 0 {
		t.Fatalf("validation failures left %d pending", c.Pending())
	}
}

func TestSendFailureDropsContinuation(t *testing.T) {
	testlog.Start(t)
	stub := newStubChannel()
	c := New(stub)
	defer c.Close()
	ctx := withTimeout(t)

	first := c.ReadAllAsync()
	stub.mu.Lock()
	stub.sendErr = errors.New("broken pipe")
	stub.mu.Unlock()
	if _, err := c.ReadAll(ctx); err == nil || !strings.Contains(err.Error(), "broken pipe") {
		t.Fatalf("expected send error, got %v", err)
	}
	if c.Pending() != 1 {
		t.Fatalf("expected only the first call pending, got %d", c.Pending())
	}

	stub.recv <- [][]byte{[]byte("0")}
	got, err := first.Wait(ctx)
	if err != nil || len(got) != 0 {
		t.Fatalf("first call: events=%v err=%v", got, err)
	}
}

func TestOrphanResponseReported(t *testing.T) {
	testlog.Start(t)
	stub := newStubChannel()
	c := New(stub)
	defer c.Close()

	stub.recv <- [][]byte{[]byte(protocol.ResponseOk)}
	select {
	case err := <-c.Errors():
		if !errors.Is(err, ErrOrphanResponse) {
			t.Fatalf("expected orphan error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("orphan response not reported")
	}
}

func TestMalformedReplyFailsOnlyItsCall(t *testing.T) {
	testlog.Start(t)
	stub := newStubChannel()
	c := New(stub)
	defer c.Close()
	ctx := withTimeout(t)

	bad := c.ReadAllAsync()
	good := c.AddEventAsync(streamA, 0, MyEvent{Abc: 1}, nil, "")
	stub.recv <- [][]byte{[]byte("2"), []byte(`MyEvent {}`), []byte(`{}`)}
	stub.recv <- [][]byte{[]byte(protocol.ResponseOk)}

	if _, err := bad.Wait(ctx); !errors.Is(err, protocol.ErrIncompleteResponse) {
		t.Fatalf("expected incomplete response, got %v", err)
	}
	if _, err := good.Wait(ctx); err != nil {
		t.Fatalf("second call: %v", err)
	}
}

func TestCloseAbandonsPendingAndRejectsNewCalls(t *testing.T) {
	testlog.Start(t)
	store := memstore.New()
	store.Hold = func(protocol.Command) bool { return true }
	c := connected(t, store)

	held := c.ReadAllAsync()
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if c.Pending() != 0 {
		t.Fatalf("pending=%d after close", c.Pending())
	}
	select {
	case <-held.Done:
		t.Fatalf("abandoned call completed")
	case <-time.After(50 * time.Millisecond):
	}
	if _, err := c.ReadAll(withTimeout(t)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestRegisterTypeClosedAfterFirstCall(t *testing.T) {
	testlog.Start(t)
	c := connected(t, memstore.New())
	decode := func(json.RawMessage) (any, error) { return nil, nil }
	if err := c.RegisterType("Early", decode); err != nil {
		t.Fatalf("register before use: %v", err)
	}
	if _, err := c.ReadAll(withTimeout(t)); err != nil {
		t.Fatalf("read all: %v", err)
	}
	if err := c.RegisterType("Late", decode); !errors.Is(err, ErrRegistryImmutable) {
		t.Fatalf("expected ErrRegistryImmutable, got %v", err)
	}
}

func TestDialRequiresAddressAndKnownTransport(t *testing.T) {
	testlog.Start(t)
	ctx := withTimeout(t)
	if _, err := Dial(ctx, DefaultConfig()); !errors.Is(err, ErrAddressRequired) {
		t.Fatalf("expected ErrAddressRequired, got %v", err)
	}
	cfg := DefaultConfig()
	cfg.Address = "127.0.0.1:1"
	cfg.Transport = "carrier-pigeon"
	if _, err := Dial(ctx, cfg); !errors.Is(err, ErrUnknownTransport) {
		t.Fatalf("expected ErrUnknownTransport, got %v", err)
	}
}
