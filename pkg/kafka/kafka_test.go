package kafka

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventMessage(t *testing.T) {
	m, err := Event{Key: "b-1", Value: map[string]string{"type": "error"}, Headers: map[string]string{"alert-type": "error"}}.message()
	require.NoError(t, err)
	assert.Equal(t, []byte("b-1"), m.Key)
	assert.JSONEq(t, `{"type":"error"}`, string(m.Value))
	require.Len(t, m.Headers, 1)
	assert.Equal(t, "alert-type", m.Headers[0].Key)

	raw := []byte(`{"operation":"index"`)
	m, err = Event{Key: "b-2", Value: raw}.message()
	require.NoError(t, err)
	assert.Equal(t, raw, m.Value)

	m, err = Event{Value: json.RawMessage(`{}`)}.message()
	require.NoError(t, err)
	assert.Equal(t, "{}", string(m.Value))

	_, err = Event{Value: make(chan int)}.message()
	assert.Error(t, err)
}

func TestDecodeJSON(t *testing.T) {
	type change struct {
		EntityID string `json:"entityId"`
	}
	c, err := DecodeJSON[change]([]byte(`{"entityId":"b-7"}`))
	require.NoError(t, err)
	assert.Equal(t, "b-7", c.EntityID)

	_, err = DecodeJSON[change]([]byte(`nope`))
	assert.Error(t, err)
}
