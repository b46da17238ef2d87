package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	HeaderLen uint32 = 12
	Magic     uint32 = 0x474F4553 // "GOES"
	Version   uint16 = 1

	// FlagMore marks every frame of a multipart message except the last.
	FlagMore uint16 = 0x01
)

var (
	ErrShortHeader     = errors.New("frame: short fixed header")
	ErrInvalidMagic    = errors.New("frame: invalid magic")
	ErrUnsupported     = errors.New("frame: unsupported version")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
	ErrTooManyFrames   = errors.New("frame: too many frames in message")
	ErrEmptyMessage    = errors.New("frame: message has no frames")
	ErrTrailingBytes   = errors.New("frame: trailing bytes after last frame")
)

// Header is the fixed wire header.
type Header struct {
	Magic      uint32
	Version    uint16
	Flags      uint16
	PayloadLen uint32
}

// Frame is one part of a multipart message.
type Frame struct {
	Header  Header
	Payload []byte
}

// More reports whether another frame of the same message follows.
func (f Frame) More() bool {
	return f.Header.Flags&FlagMore != 0
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint32
	MaxFrames       int
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 16 * 1024 * 1024,
		MaxFrames:       1 << 20,
	}
}

func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [HeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}

	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Frame{}, err
	}
	if h.PayloadLen > limits.MaxPayloadBytes {
		return Frame{}, ErrPayloadTooLarge
	}

	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Header: h, Payload: payload}, nil
}

func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	if uint64(len(f.Payload)) > uint64(limits.MaxPayloadBytes) {
		return ErrPayloadTooLarge
	}
	h := f.Header
	h.Magic = Magic
	h.Version = Version
	h.PayloadLen = uint32(len(f.Payload))

	if _, err := w.Write(EncodeHeader(h)); err != nil {
		return err
	}
	if len(f.Payload) > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return err
		}
	}
	return nil
}

// CheckMessage validates parts against limits without writing anything.
func CheckMessage(parts [][]byte, limits Limits) error {
	if len(parts) == 0 {
		return ErrEmptyMessage
	}
	if limits.MaxFrames > 0 && len(parts) > limits.MaxFrames {
		return ErrTooManyFrames
	}
	for _, part := range parts {
		if uint64(len(part)) > uint64(limits.MaxPayloadBytes) {
			return ErrPayloadTooLarge
		}
	}
	return nil
}

// WriteMessage writes parts as one multipart message. Limits are checked for
// every part before the first byte reaches w.
func WriteMessage(w io.Writer, parts [][]byte, limits Limits) error {
	if err := CheckMessage(parts, limits); err != nil {
		return err
	}
	for i, part := range parts {
		var flags uint16
		if i < len(parts)-1 {
			flags = FlagMore
		}
		if err := WriteFrame(w, Frame{Header: Header{Flags: flags}, Payload: part}, limits); err != nil {
			return err
		}
	}
	return nil
}

// ReadMessage reads frames until one without FlagMore.
func ReadMessage(r io.Reader, limits Limits) ([][]byte, error) {
	var parts [][]byte
	for {
		f, err := ReadFrame(r, limits)
		if err != nil {
			if len(parts) > 0 && errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		parts = append(parts, f.Payload)
		if limits.MaxFrames > 0 && len(parts) > limits.MaxFrames {
			return nil, ErrTooManyFrames
		}
		if !f.More() {
			return parts, nil
		}
	}
}

// EncodeMessage returns the multipart encoding of parts as one buffer.
func EncodeMessage(parts [][]byte, limits Limits) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, parts, limits); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeMessage parses a buffer holding exactly one multipart message.
func DecodeMessage(b []byte, limits Limits) ([][]byte, error) {
	r := bytes.NewReader(b)
	parts, err := ReadMessage(r, limits)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, ErrTrailingBytes
	}
	return parts, nil
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.Flags)
	binary.BigEndian.PutUint32(buf[8:12], h.PayloadLen)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != int(HeaderLen) {
		return Header{}, fmt.Errorf("frame: invalid fixed header length: %d", len(b))
	}
	h := Header{
		Magic:      binary.BigEndian.Uint32(b[0:4]),
		Version:    binary.BigEndian.Uint16(b[4:6]),
		Flags:      binary.BigEndian.Uint16(b[6:8]),
		PayloadLen: binary.BigEndian.Uint32(b[8:12]),
	}
	if h.Magic != Magic {
		return Header{}, ErrInvalidMagic
	}
	if h.Version != Version {
		return Header{}, ErrUnsupported
	}
	return h, nil
}
