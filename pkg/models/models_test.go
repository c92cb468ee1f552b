package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatSizes(t *testing.T) {
	f := Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}
	assert.Equal(t, 2, f.BytesPerFrame())
	assert.Equal(t, 32000, f.BytesPerSecond())
	assert.Equal(t, 25*time.Millisecond, f.Duration(800))

	stereo8 := Format{SampleRate: 8000, Channels: 2, BitsPerSample: 8}
	assert.Equal(t, 2, stereo8.BytesPerFrame())
	assert.Equal(t, time.Second, stereo8.Duration(16000))

	assert.Equal(t, time.Duration(0), Format{}.Duration(100))
}

func TestChunkEvent(t *testing.T) {
	captured := time.Unix(1700000000, 250_000_000)
	chunk := AudioChunk{Data: []byte{1, 2, 3, 4}, Offset: 800, CapturedAt: captured}
	assert.Equal(t, uint64(804), chunk.End())

	event := NewChunkEvent(chunk)
	assert.Equal(t, "AQIDBA==", event.Data)
	assert.InDelta(t, 1700000000.25, event.Timestamp, 1e-6)
	assert.Equal(t, 4, event.Length)

	raw, err := json.Marshal(event)
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":"AQIDBA==","timestamp":1700000000.25,"offset":800,"length":4}`, string(raw))

	data, err := event.Decode()
	require.NoError(t, err)
	assert.Equal(t, chunk.Data, data)
}
