package serializer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Method string  `json:"method"`
	Value  *string `json:"string,omitempty"`
}

func TestJSONSerializer(t *testing.T) {
	var s Serializer = JSONSerializer{}

	v := ""
	data, err := s.Marshal(sample{Method: "reply", Value: &v})
	require.NoError(t, err)
	assert.JSONEq(t, `{"method":"reply","string":""}`, string(data))

	var out sample
	require.NoError(t, s.Unmarshal([]byte(`{"method":"init","extra":1}`), &out))
	assert.Equal(t, "init", out.Method)
	assert.Nil(t, out.Value)

	assert.Error(t, s.Unmarshal([]byte(`{"method":`), &out))
}
