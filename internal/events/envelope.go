package events

import (
	"bytes"
	"encoding/json"
	"time"
)

// Envelope is one stored event as handed to callers.
//
// CreationTime is zero for envelopes decoded from a server reply; the wire
// protocol does not carry it. The storage reader derives it from the file path.
type Envelope struct {
	CreationTime time.Time      `json:"creationTime"`
	TypeID       string         `json:"typeId"`
	Event        any            `json:"event"`
	Metadata     map[string]any `json:"metadata"`
}

// Untyped is the payload returned when no reconstruction is registered for a
// type id. It keeps the tag so callers can still dispatch on it.
type Untyped struct {
	TypeID string
	Data   any
	Raw    json.RawMessage
}

// Fields returns the payload as a JSON object, or nil when it is not one.
func (u Untyped) Fields() map[string]any {
	m, _ := u.Data.(map[string]any)
	return m
}

// MarshalJSON renders the payload as it arrived.
func (u Untyped) MarshalJSON() ([]byte, error) {
	if len(u.Raw) > 0 {
		return u.Raw, nil
	}
	return json.Marshal(u.Data)
}

// TypeNamer lets an event value name its own type id.
type TypeNamer interface {
	TypeID() string
}

// DecodeMetadata parses a metadata payload. Empty input yields an empty map.
func DecodeMetadata(raw []byte) (map[string]any, error) {
	out := map[string]any{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}
