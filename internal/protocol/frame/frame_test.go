package frame

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"testing"
)

func TestReadWriteFrameRoundTrip(t *testing.T) {
	in := Frame{Header: Header{Flags: FlagMore}, Payload: []byte("AddEvent")}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, in, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	out, err := ReadFrame(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if out.Header.Magic != Magic || out.Header.Version != Version || !out.More() {
		t.Fatalf("header mismatch: got=%+v", out.Header)
	}
	if !bytes.Equal(out.Payload, in.Payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestMessageRoundTripKeepsEmptyFrames(t *testing.T) {
	parts := [][]byte{[]byte("ReadStream"), {}, []byte{0x00, 0x01, 0xff}}
	raw, err := EncodeMessage(parts, DefaultLimits())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeMessage(raw, DefaultLimits())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 3 || !reflect.DeepEqual(got[0], parts[0]) || len(got[1]) != 0 || !bytes.Equal(got[2], parts[2]) {
		t.Fatalf("unexpected parts: %q", got)
	}
}

func TestReadMessageSequence(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, [][]byte{[]byte("1"), []byte("A {}"), []byte("{}")}, DefaultLimits()); err != nil {
		t.Fatalf("write first: %v", err)
	}
	if err := WriteMessage(&buf, [][]byte{[]byte("Ok")}, DefaultLimits()); err != nil {
		t.Fatalf("write second: %v", err)
	}
	first, err := ReadMessage(&buf, DefaultLimits())
	if err != nil || len(first) != 3 {
		t.Fatalf("first: parts=%q err=%v", first, err)
	}
	second, err := ReadMessage(&buf, DefaultLimits())
	if err != nil || len(second) != 1 || string(second[0]) != "Ok" {
		t.Fatalf("second: parts=%q err=%v", second, err)
	}
	if _, err := ReadMessage(&buf, DefaultLimits()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestReadMessageTruncatedMidMessage(t *testing.T) {
	var buf bytes.Buffer
	_ = WriteFrame(&buf, Frame{Header: Header{Flags: FlagMore}, Payload: []byte("1")}, DefaultLimits())
	if _, err := ReadMessage(&buf, DefaultLimits()); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestReadFrameMalformedHeaderIsDeterministic(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{1, 2, 3}), DefaultLimits())
	if !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestReadFrameRejectsBadMagic(t *testing.T) {
	buf := EncodeHeader(Header{Magic: 1, Version: Version})
	if _, err := ReadFrame(bytes.NewReader(buf), DefaultLimits()); !errors.Is(err, ErrInvalidMagic) {
		t.Fatalf("expected ErrInvalidMagic, got %v", err)
	}
}

func TestLimitsAreEnforced(t *testing.T) {
	limits := Limits{MaxPayloadBytes: 4, MaxFrames: 2}
	if err := WriteFrame(io.Discard, Frame{Payload: []byte("too long")}, limits); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	if err := WriteMessage(io.Discard, [][]byte{{1}, {2}, {3}}, limits); !errors.Is(err, ErrTooManyFrames) {
		t.Fatalf("expected ErrTooManyFrames, got %v", err)
	}
	if err := WriteMessage(io.Discard, nil, limits); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	raw := EncodeHeader(Header{Magic: Magic, Version: Version, PayloadLen: 5})
	if _, err := ReadFrame(bytes.NewReader(raw), limits); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge on read, got %v", err)
	}
}

func TestWriteMessageChecksEveryPartFirst(t *testing.T) {
	limits := Limits{MaxPayloadBytes: 8, MaxFrames: 4}
	var buf bytes.Buffer
	err := WriteMessage(&buf, [][]byte{[]byte("AddEvent"), []byte("ok"), []byte("far too long")}, limits)
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("rejected message wrote %d bytes", buf.Len())
	}
}
