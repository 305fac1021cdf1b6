package bidi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyCommandResponse(t *testing.T) {
	f := classify(`{"id":1,"result":{"ready":true,"message":"ok"}}`)
	assert.Equal(t, frameCommandResponse, f.kind)
	assert.EqualValues(t, 1, f.id)
	assert.JSONEq(t, `{"ready":true,"message":"ok"}`, string(f.result))
}

func TestClassifyCommandError(t *testing.T) {
	f := classify(`{"id":2,"error":"no such frame","message":"context x not found"}`)
	assert.Equal(t, frameCommandError, f.kind)
	assert.EqualValues(t, 2, f.id)
	assert.Equal(t, "no such frame", f.errBody.Error)
	assert.Equal(t, "context x not found", f.errBody.Message)
}

func TestClassifyResultAndErrorPrefersError(t *testing.T) {
	f := classify(`{"id":3,"result":{},"error":"invalid argument","message":"bad"}`)
	assert.Equal(t, frameCommandError, f.kind, "a frame with both result and error is a CommandError")
}

func TestClassifyUnsolicitedError(t *testing.T) {
	f := classify(`{"error":"invalid argument","message":"bad frame"}`)
	assert.Equal(t, frameUnsolicitedError, f.kind)
}

func TestClassifyNullIdIsUnsolicited(t *testing.T) {
	f := classify(`{"id":null,"error":"invalid argument","message":"bad frame"}`)
	assert.Equal(t, frameUnsolicitedError, f.kind, "a present-but-null id means no id")
}

func TestClassifyEvent(t *testing.T) {
	f := classify(`{"method":"browsingContext.load","params":{"context":"c1"}}`)
	assert.Equal(t, frameEvent, f.kind)
	assert.Equal(t, "browsingContext.load", f.method)
}

func TestClassifyUnknownOnGarbage(t *testing.T) {
	f := classify(`not json`)
	assert.Equal(t, frameUnknown, f.kind)
}

func TestClassifyUnknownOnEmptyObject(t *testing.T) {
	f := classify(`{}`)
	assert.Equal(t, frameUnknown, f.kind)
}
