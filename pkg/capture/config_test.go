package capture

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	cfg, err := Config{}.withDefaults()
	require.NoError(t, err)
	assert.Equal(t, 44100, cfg.SampleRate)
	assert.Equal(t, 1, cfg.Channels)
	assert.Equal(t, 16, cfg.BitsPerSample)
	assert.Equal(t, 60*88200, cfg.CapacityBytes, "a minute of audio")
	assert.Equal(t, DefaultLedgerEntries, cfg.LedgerEntries)
	assert.Equal(t, DefaultDrainInterval, cfg.DrainInterval)
	assert.Equal(t, DropNewest, cfg.OverflowPolicy)
	assert.Equal(t, DefaultBlockTimeout, cfg.BlockTimeout)
}

func TestConfigKeepsExplicitValues(t *testing.T) {
	cfg, err := Config{
		SampleRate:     8000,
		Channels:       2,
		BitsPerSample:  8,
		CapacityBytes:  512,
		DrainInterval:  time.Second,
		OverflowPolicy: Block,
	}.withDefaults()
	require.NoError(t, err)
	assert.Equal(t, 512, cfg.CapacityBytes)
	assert.Equal(t, time.Second, cfg.DrainInterval)
	assert.Equal(t, 2, cfg.Format().BytesPerFrame())
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"sample rate", Config{SampleRate: 12345}},
		{"channels", Config{Channels: 3}},
		{"bits per sample", Config{BitsPerSample: 24}},
		{"negative capacity", Config{CapacityBytes: -1}},
		{"negative chunk", Config{MaxChunkBytes: -1}},
		{"overflow policy", Config{OverflowPolicy: "oldest"}},
		{"negative interval", Config{DrainInterval: -time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSession(tt.cfg, &fakeDevice{})
			assert.ErrorContains(t, err, "invalid capture config")
		})
	}
}

func TestNewSessionNeedsDevice(t *testing.T) {
	_, err := NewSession(DefaultConfig(), nil)
	assert.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "state(9)", State(9).String())
}
