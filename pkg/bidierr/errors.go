// Package bidierr defines the error kinds surfaced by the bidi client, per
// the transport's error handling design. Each kind is an explicit, typed
// value rather than a bare string so callers can errors.As/errors.Is into
// the specific failure instead of matching message text.
package bidierr

import (
	"encoding/json"
	"fmt"
)

// Kind names one of the closed set of failure modes the transport can
// surface to a caller.
type Kind string

const (
	NotConnected        Kind = "not_connected"
	DuplicateCommandId   Kind = "duplicate_command_id"
	CommandTimeout       Kind = "command_timeout"
	UnknownCommandId     Kind = "unknown_command_id"
	ConnectionClosed     Kind = "connection_closed"
	TransportStartFailed Kind = "transport_start_failed"
)

// Error wraps one of the Kind values above, optionally carrying an
// underlying cause (e.g. the dial error behind TransportStartFailed).
type Error struct {
	Kind Kind
	Err  error
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, &bidierr.Error{Kind: CommandTimeout}) match any
// *Error of the same Kind regardless of the wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinel values usable directly with errors.Is for kind-only matching.
var (
	ErrNotConnected        = &Error{Kind: NotConnected}
	ErrDuplicateCommandId  = &Error{Kind: DuplicateCommandId}
	ErrCommandTimeout      = &Error{Kind: CommandTimeout}
	ErrUnknownCommandId    = &Error{Kind: UnknownCommandId}
	ErrConnectionClosed    = &Error{Kind: ConnectionClosed}
	ErrTransportStartFailed = &Error{Kind: TransportStartFailed}
)

// ErrorResponse is the decoded form of a peer error frame.
type ErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Stacktrace string `json:"stacktrace,omitempty"`
}

func (r ErrorResponse) String() string {
	if r.Stacktrace == "" {
		return fmt.Sprintf("%s: %s", r.Error, r.Message)
	}
	return fmt.Sprintf("%s: %s\n%s", r.Error, r.Message, r.Stacktrace)
}

// PeerError is returned when a peer responds to a command with a
// CommandError frame.
type PeerError struct {
	Response ErrorResponse
}

func (e *PeerError) Error() string {
	return fmt.Sprintf("peer error: %s", e.Response.String())
}

// DecodeFailure is returned when a successful command response, or an
// event payload, could not be decoded into its declared schema.
type DecodeFailure struct {
	Err error
	Raw json.RawMessage
}

func (e *DecodeFailure) Error() string {
	return fmt.Sprintf("decode failure: %s", e.Err)
}

func (e *DecodeFailure) Unwrap() error { return e.Err }
