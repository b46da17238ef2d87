package protocol

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Command is the opcode carried in the first frame of a request.
type Command string

const (
	CommandAddEvent   Command = "AddEvent"
	CommandReadStream Command = "ReadStream"
	CommandReadAll    Command = "ReadAll"
)

const (
	ResponseOk  = "Ok"
	ErrorMarker = "Error:"
	MetadataTag = "Metadata"

	StreamIDSize    = 16
	VersionSize     = 4
	tagSeparator    = ' '
	addEventIDBytes = StreamIDSize + VersionSize
)

// Message is one multipart request or reply, frames in wire order.
type Message [][]byte

// Strings returns the frames as text, for logs and tests.
func (m Message) Strings() []string {
	out := make([]string, len(m))
	for i, f := range m {
		out[i] = string(f)
	}
	return out
}

var streamIDPattern = regexp.MustCompile(`(?i)^([0-9a-f]{8}-?)([0-9a-f]{4}-?){3}([0-9a-f]{12})$`)

// ParseStreamID validates UUID text and returns its 16-byte form.
func ParseStreamID(s string) (uuid.UUID, error) {
	if !streamIDPattern.MatchString(s) {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrInvalidStreamID, s)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q: %v", ErrInvalidStreamID, s, err)
	}
	return id, nil
}

// ExpectedVersion is the optimistic concurrency guard of a write. It always
// travels as 4 little-endian bytes.
type ExpectedVersion uint32

// NewExpectedVersion checks that v fits the fixed-width wire field.
func NewExpectedVersion(v int64) (ExpectedVersion, error) {
	if v < 0 || v > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d out of range", ErrInvalidExpectedVersion, v)
	}
	return ExpectedVersion(v), nil
}

// ParseExpectedVersion parses decimal text such as a CLI argument.
func ParseExpectedVersion(s string) (ExpectedVersion, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", ErrInvalidExpectedVersion, s)
	}
	return NewExpectedVersion(v)
}
