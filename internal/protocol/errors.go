package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// ErrValidation marks local argument errors raised before any I/O.
var ErrValidation = errors.New("protocol: invalid argument")

var (
	ErrInvalidStreamID        = fmt.Errorf("%w: streamId must be formatted as a UUID", ErrValidation)
	ErrInvalidExpectedVersion = fmt.Errorf("%w: expectedVersion must be a non-negative 32-bit integer", ErrValidation)
	ErrInvalidPayload         = fmt.Errorf("%w: payload must be a JSON object", ErrValidation)
	ErrAnonymousEvent         = fmt.Errorf("%w: you need to specify an eventType when using anonymous object", ErrValidation)
	ErrInvalidTypeID          = fmt.Errorf("%w: invalid eventType", ErrValidation)
)

var (
	ErrMalformedResponse  = errors.New("protocol: malformed response")
	ErrIncompleteResponse = errors.New("protocol: incomplete response")
)

// ServerError is a reply that carried the error marker.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	if e.Code == "" {
		return "server error: " + e.Message
	}
	return fmt.Sprintf("server error: %s: %s", e.Code, e.Message)
}

// IsServerError reports whether err carries a ServerError and returns it.
func IsServerError(err error) (*ServerError, bool) {
	var se *ServerError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// ParseServerError parses "Error: <code>: <message>". The code is empty when
// the text has no leading single-word segment followed by a colon.
func ParseServerError(text string) (*ServerError, bool) {
	if !strings.HasPrefix(text, ErrorMarker) {
		return nil, false
	}
	rest := strings.TrimSpace(text[len(ErrorMarker):])
	code, msg, found := strings.Cut(rest, ":")
	if !found || code == "" || strings.ContainsAny(code, " \t") {
		return &ServerError{Message: rest}, true
	}
	return &ServerError{Code: code, Message: strings.TrimSpace(msg)}, true
}
