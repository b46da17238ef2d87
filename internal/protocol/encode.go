package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/danmuck/goes/internal/events"
	"github.com/google/uuid"
)

// AddEvent is a validated write request.
type AddEvent struct {
	StreamID        uuid.UUID
	ExpectedVersion ExpectedVersion
	TypeID          string
	Event           []byte
	Metadata        []byte
}

// NewAddEvent validates arguments and serializes the payloads. typeID falls
// back to the event's own type name; anonymous values must name it explicitly.
// A nil metadata is sent as an empty object.
func NewAddEvent(streamID string, expectedVersion int64, event, metadata any, typeID string) (AddEvent, error) {
	id, err := ParseStreamID(streamID)
	if err != nil {
		return AddEvent{}, err
	}
	version, err := NewExpectedVersion(expectedVersion)
	if err != nil {
		return AddEvent{}, err
	}
	eventJSON, err := marshalObject("event", event)
	if err != nil {
		return AddEvent{}, err
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := marshalObject("metadata", metadata)
	if err != nil {
		return AddEvent{}, err
	}
	if typeID == "" {
		typeID = events.NameOf(event)
	}
	if typeID == "" {
		return AddEvent{}, ErrAnonymousEvent
	}
	if err := events.ValidateTypeID(typeID); err != nil {
		if typeIsAnonymous(err) {
			return AddEvent{}, ErrAnonymousEvent
		}
		return AddEvent{}, fmt.Errorf("%w: %v", ErrInvalidTypeID, err)
	}
	return AddEvent{
		StreamID:        id,
		ExpectedVersion: version,
		TypeID:          typeID,
		Event:           eventJSON,
		Metadata:        metadataJSON,
	}, nil
}

// Encode returns [AddEvent, id||version, "<typeId> <event>", "Metadata <metadata>"].
func (a AddEvent) Encode() Message {
	return Message{
		[]byte(CommandAddEvent),
		encodeStreamVersion(a.StreamID, a.ExpectedVersion),
		taggedPayload(a.TypeID, a.Event),
		taggedPayload(MetadataTag, a.Metadata),
	}
}

// EncodeReadStream returns [ReadStream, id].
func EncodeReadStream(id uuid.UUID) Message {
	raw := make([]byte, StreamIDSize)
	copy(raw, id[:])
	return Message{[]byte(CommandReadStream), raw}
}

// EncodeReadAll returns [ReadAll].
func EncodeReadAll() Message {
	return Message{[]byte(CommandReadAll)}
}

func encodeStreamVersion(id uuid.UUID, version ExpectedVersion) []byte {
	buf := make([]byte, addEventIDBytes)
	copy(buf[:StreamIDSize], id[:])
	binary.LittleEndian.PutUint32(buf[StreamIDSize:], uint32(version))
	return buf
}

func taggedPayload(tag string, payload []byte) []byte {
	buf := make([]byte, 0, len(tag)+1+len(payload))
	buf = append(buf, tag...)
	buf = append(buf, tagSeparator)
	return append(buf, payload...)
}

func marshalObject(name string, v any) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: %s is nil", ErrInvalidPayload, name)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, name, err)
	}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: %s is not object-shaped", ErrInvalidPayload, name)
	}
	return raw, nil
}

func typeIsAnonymous(err error) bool {
	return errors.Is(err, events.ErrAnonymousTypeID)
}
