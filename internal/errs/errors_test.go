package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorUnwrapsToSentinel(t *testing.T) {
	err := Wrap("start call", ErrMediaAccessDenied, "camera")

	assert.ErrorIs(t, err, ErrMediaAccessDenied)
	assert.Equal(t, "start call: media access denied (camera)", err.Error())
	assert.True(t, IsMedia(fmt.Errorf("outer: %w", err)))
}

func TestNegotiationKeepsCause(t *testing.T) {
	err := Negotiation("create answer", errors.New("invalid sdp"))

	assert.ErrorIs(t, err, ErrNegotiationFailed)
	assert.Contains(t, err.Error(), "invalid sdp")
	assert.False(t, IsMedia(err))
}

func TestNewWithoutDetails(t *testing.T) {
	assert.Equal(t, "emit: session lost", New("emit", ErrSessionLost).Error())
}
