package wire

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tickforge/ecsengine/internal/core/ecserr"
)

func TestNewEnvelopeInitializesHeaders(t *testing.T) {
	env := NewEnvelope("subject.test", []byte("payload"))
	require.Equal(t, "subject.test", env.Subject)
	require.Equal(t, []byte("payload"), env.Payload)
	require.Empty(t, env.Header("missing"))
}

func TestSetHeaderOnZeroValueEnvelope(t *testing.T) {
	var env Envelope
	env.SetHeader(HeaderMsgType, "ComponentShard")
	require.Equal(t, "ComponentShard", env.Header(HeaderMsgType))
}

func TestRequireHeaderPresent(t *testing.T) {
	env := NewEnvelope("subject.test", nil)
	env.SetHeader(HeaderTickID, "7")

	v, err := env.RequireHeader(HeaderTickID)
	require.NoError(t, err)
	require.Equal(t, "7", v)
}

func TestRequireHeaderMissingWrapsErrMissingHeader(t *testing.T) {
	env := NewEnvelope("subject.test", nil)

	_, err := env.RequireHeader(HeaderTickID)
	require.Error(t, err)
	require.True(t, errors.Is(err, ecserr.ErrMissingHeader))
}

func TestRequireHeaderEmptyValueTreatedAsMissing(t *testing.T) {
	env := NewEnvelope("subject.test", nil)
	env.SetHeader(HeaderTickID, "")

	_, err := env.RequireHeader(HeaderTickID)
	require.Error(t, err)
}
