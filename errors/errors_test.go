package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(99), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.class.String())
	}
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.True(t, IsTransient(ErrFilterUpdate))
	assert.True(t, IsTransient(stderrors.New("connection refused")))
	assert.True(t, IsTransient(stderrors.New("request timeout exceeded")))
	assert.False(t, IsTransient(ErrInvalidURI))

	wrapped := WrapTransient(stderrors.New("boom"), "Client", "Request", "rpc")
	assert.True(t, IsTransient(wrapped))
}

func TestIsFatal(t *testing.T) {
	assert.False(t, IsFatal(nil))
	assert.True(t, IsFatal(ErrNoManagers))
	assert.True(t, IsFatal(ErrEmptyManagerID))
	assert.True(t, IsFatal(ErrItemNotRegistered))
	assert.True(t, IsFatal(ErrFilterCreate))
	assert.True(t, IsFatal(ErrSubscribeFailed))
	assert.False(t, IsFatal(ErrFilterUpdate))

	wrapped := WrapFatal(stderrors.New("boom"), "Handler", "setup", "discovery")
	assert.True(t, IsFatal(wrapped))
}

func TestIsInvalid(t *testing.T) {
	assert.False(t, IsInvalid(nil))
	assert.True(t, IsInvalid(ErrInvalidURI))
	assert.False(t, IsInvalid(ErrFilterNotFound))

	wrapped := WrapInvalid(stderrors.New("bad query"), "Decoder", "Vector3FromQuery", "decode")
	assert.True(t, IsInvalid(wrapped))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrorFatal, Classify(ErrNoManagers))
	assert.Equal(t, ErrorInvalid, Classify(ErrInvalidURI))
	assert.Equal(t, ErrorTransient, Classify(stderrors.New("something else")))
	assert.Equal(t, ErrorTransient, Classify(nil))
}

func TestClassifiedError(t *testing.T) {
	base := stderrors.New("underlying")
	err := WrapInvalid(base, "Handler", "AddCurve", "parse name")
	require.Error(t, err)

	var ce *ClassifiedError
	require.True(t, stderrors.As(err, &ce))
	assert.Equal(t, ErrorInvalid, ce.Class)
	assert.Equal(t, "Handler", ce.Component)
	assert.Equal(t, "AddCurve", ce.Operation)
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "Handler.AddCurve: parse name failed")
}

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap(nil, "a", "b", "c"))

	err := Wrap(ErrFilterUpdate, "Handler", "addItemToFilter", "push filter")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFilterUpdate)
	assert.Equal(t, "Handler.addItemToFilter: push filter failed: introspection filter update failed", err.Error())
}
