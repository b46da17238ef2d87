package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/danmuck/goes/internal/events"
	"github.com/google/uuid"
)

// DecodeWriteAck checks an AddEvent reply: exactly one frame, "Ok" on success.
func DecodeWriteAck(msg Message) error {
	if len(msg) != 1 {
		return fmt.Errorf("%w: invalid number of frames, expected 1 got %d", ErrMalformedResponse, len(msg))
	}
	text := string(msg[0])
	if text == ResponseOk {
		return nil
	}
	if se, ok := ParseServerError(text); ok {
		return se
	}
	return fmt.Errorf("%w: %q", ErrMalformedResponse, text)
}

// DecodeReadResult decodes a ReadStream/ReadAll reply: a decimal count N
// followed by exactly N event/metadata frame pairs.
func DecodeReadResult(msg Message, reg *events.Registry) ([]events.Envelope, error) {
	if len(msg) < 1 {
		return nil, fmt.Errorf("%w: empty message, expecting at least 1 frame", ErrMalformedResponse)
	}
	header := string(msg[0])
	count, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || count < 0 {
		if se, ok := ParseServerError(header); ok {
			return nil, se
		}
		return nil, fmt.Errorf("%w: invalid count %q", ErrMalformedResponse, header)
	}

	body := msg[1:]
	if len(body) != 2*count {
		return nil, fmt.Errorf("%w: expected %d events (%d frames), message contains %d frames",
			ErrIncompleteResponse, count, 2*count, len(body))
	}

	out := make([]events.Envelope, 0, count)
	for i := 0; i < count; i++ {
		typeID, payload, err := DecodeEventFrame(body[2*i], reg)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		metadata, err := DecodeMetadataFrame(body[2*i+1])
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		out = append(out, events.Envelope{
			TypeID:   typeID,
			Event:    payload,
			Metadata: metadata,
		})
	}
	return out, nil
}

// SplitTagged splits "<tag> <payload>" at the first space.
func SplitTagged(frame []byte) (string, []byte, error) {
	idx := bytes.IndexByte(frame, tagSeparator)
	if idx <= 0 {
		return "", nil, fmt.Errorf("%w: frame has no type tag", ErrMalformedResponse)
	}
	return string(frame[:idx]), frame[idx+1:], nil
}

// DecodeEventFrame splits a tagged event frame and reconstructs its payload
// through reg. Unregistered tags yield an events.Untyped payload.
func DecodeEventFrame(frame []byte, reg *events.Registry) (string, any, error) {
	typeID, raw, err := SplitTagged(frame)
	if err != nil {
		return "", nil, err
	}
	payload, err := reg.Decode(typeID, raw)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return typeID, payload, nil
}

// DecodeMetadataFrame accepts either bare JSON or a "Metadata <json>" frame.
func DecodeMetadataFrame(frame []byte) (map[string]any, error) {
	raw := frame
	if rest, ok := bytes.CutPrefix(frame, []byte(MetadataTag+" ")); ok {
		raw = rest
	}
	metadata, err := events.DecodeMetadata(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrMalformedResponse, err)
	}
	return metadata, nil
}

// DecodeAddEventID splits the 20-byte id+version frame of an AddEvent request.
func DecodeAddEventID(frame []byte) (uuid.UUID, ExpectedVersion, error) {
	if len(frame) != addEventIDBytes {
		return uuid.Nil, 0, fmt.Errorf("%w: id frame has %d bytes, expected %d", ErrMalformedResponse, len(frame), addEventIDBytes)
	}
	id, err := uuid.FromBytes(frame[:StreamIDSize])
	if err != nil {
		return uuid.Nil, 0, err
	}
	return id, ExpectedVersion(binary.LittleEndian.Uint32(frame[StreamIDSize:])), nil
}
