package bidierr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIsMatchesByKind(t *testing.T) {
	err := New(CommandTimeout, "waited %s", "1s")

	assert.True(t, errors.Is(err, ErrCommandTimeout))
	assert.False(t, errors.Is(err, ErrNotConnected))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("dial refused")
	err := Wrap(TransportStartFailed, cause)

	require.ErrorIs(t, err, cause)
	assert.Equal(t, "transport_start_failed: dial refused", err.Error())
}

func TestPeerErrorFormatsResponse(t *testing.T) {
	err := &PeerError{Response: ErrorResponse{Error: "no such frame", Message: "context x not found"}}
	assert.Equal(t, "peer error: no such frame: context x not found", err.Error())
}

func TestDecodeFailureUnwraps(t *testing.T) {
	cause := errors.New("unexpected end of JSON input")
	err := &DecodeFailure{Err: cause, Raw: []byte(`{`)}

	require.ErrorIs(t, err, cause)
}
