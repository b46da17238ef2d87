package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrTypeExists      = errors.New("events: type already registered")
	ErrDecoderNil      = errors.New("events: decoder is nil")
	ErrInvalidTypeID   = errors.New("events: invalid type id")
	ErrDecodeFailed    = errors.New("events: payload decode failed")
	ErrAnonymousTypeID = errors.New("events: anonymous type id")
)

// Decoder gives a raw JSON payload its concrete shape.
type Decoder func(raw json.RawMessage) (any, error)

// Registry maps type ids to payload decoders.
//
// Registration is expected to finish before the registry is shared; lookups
// after that are read-only and need no locking.
type Registry struct {
	items map[string]Decoder
}

// NewRegistry creates an empty type registry.
func NewRegistry() *Registry {
	return &Registry{items: make(map[string]Decoder)}
}

// ValidateTypeID checks that id can tag a payload on the wire and on disk.
func ValidateTypeID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTypeID)
	}
	if strings.EqualFold(id, "object") {
		return fmt.Errorf("%w: %q needs an explicit type id", ErrAnonymousTypeID, id)
	}
	if strings.ContainsAny(id, " \t\r\n/") {
		return fmt.Errorf("%w: %q contains whitespace or a path separator", ErrInvalidTypeID, id)
	}
	return nil
}

// RegisterFunc adds a decoder for typeID.
func (r *Registry) RegisterFunc(typeID string, decode Decoder) error {
	if decode == nil {
		return ErrDecoderNil
	}
	if err := ValidateTypeID(typeID); err != nil {
		return err
	}
	if _, ok := r.items[typeID]; ok {
		return fmt.Errorf("%w: %s", ErrTypeExists, typeID)
	}
	r.items[typeID] = decode
	return nil
}

// Register adds a decoder that unmarshals payloads of typeID into T. An empty
// typeID falls back to T's own name.
func Register[T any](r *Registry, typeID string) error {
	if typeID == "" {
		var zero T
		typeID = NameOf(zero)
	}
	return r.RegisterFunc(typeID, func(raw json.RawMessage) (any, error) {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	})
}

// Resolve returns the decoder for typeID.
func (r *Registry) Resolve(typeID string) (Decoder, bool) {
	if r == nil {
		return nil, false
	}
	decode, ok := r.items[typeID]
	return decode, ok
}

// TypeIDs returns registered ids in sorted order.
func (r *Registry) TypeIDs() []string {
	if r == nil {
		return nil
	}
	ids := make([]string, 0, len(r.items))
	for id := range r.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Decode reconstructs a payload. Unknown type ids are not an error: the payload
// comes back as Untyped carrying its tag.
func (r *Registry) Decode(typeID string, raw []byte) (any, error) {
	if decode, ok := r.Resolve(typeID); ok {
		v, err := decode(json.RawMessage(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: type=%s: %v", ErrDecodeFailed, typeID, err)
		}
		return v, nil
	}
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("%w: type=%s: %v", ErrDecodeFailed, typeID, err)
	}
	cp := make(json.RawMessage, len(raw))
	copy(cp, raw)
	return Untyped{TypeID: typeID, Data: data, Raw: cp}, nil
}
