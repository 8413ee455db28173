package codec

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	network "github.com/lk2023060901/vnsync-go/internal/network"
	"github.com/lk2023060901/vnsync-go/pkg/util/merr"
)

type closeMsg struct {
	Method string `json:"method"`
	Reason string `json:"reason"`
}

type failingSerializer struct{}

func (failingSerializer) Marshal(any) ([]byte, error) { return nil, errors.New("no") }
func (failingSerializer) Unmarshal([]byte, any) error { return errors.New("no") }

func TestEncodeProducesTextFrame(t *testing.T) {
	frame, err := NewJSON().Encode(closeMsg{Method: "close", Reason: "init_timeout"})
	require.NoError(t, err)
	assert.True(t, frame.IsText())
	assert.JSONEq(t, `{"method":"close","reason":"init_timeout"}`, string(frame.Data))
}

func TestDecodeRejectsBinary(t *testing.T) {
	var msg closeMsg
	err := NewJSON().Decode(network.BinaryFrame([]byte(`{"method":"close"}`)), &msg)
	assert.ErrorIs(t, err, merr.ErrMalformedMessage)
	assert.True(t, errors.Is(err, network.ErrDecodeFailed))
}

func TestDecodeRejectsInvalidJSON(t *testing.T) {
	var msg closeMsg
	err := NewJSON().Decode(network.TextFrame([]byte(`not json`)), &msg)
	assert.ErrorIs(t, err, merr.ErrMalformedMessage)
}

func TestDecodeText(t *testing.T) {
	var msg closeMsg
	require.NoError(t, NewJSON().Decode(network.TextFrame([]byte(`{"method":"close","reason":"x"}`)), &msg))
	assert.Equal(t, "x", msg.Reason)
}

func TestNewRequiresSerializer(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, merr.ErrParameterMissing)

	c, err := New(failingSerializer{})
	require.NoError(t, err)
	_, err = c.Encode(closeMsg{})
	assert.True(t, errors.Is(err, network.ErrEncodeFailed))
}
