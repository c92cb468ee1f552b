package capture

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/petrzlen/audiorecord-golang/pkg/models"
	"github.com/pkg/errors"
)

type OverflowPolicy string

const (
	// DropNewest rejects a delivery that does not fit and counts it. Never blocks the device.
	// There is no drop-oldest policy: discarding old bytes would mean the producer moving
	// the read offset, which only the consumer owns. Size CapacityBytes for the window to keep.
	DropNewest OverflowPolicy = "drop"
	// Block waits up to BlockTimeout for the consumer to make room, then drops.
	// Only meant for sources that are not real-time, like file replay.
	Block OverflowPolicy = "block"
)

const (
	DefaultSampleRate    = 44100
	DefaultChannels      = 1
	DefaultBitsPerSample = 16
	// DefaultBufferDuration of audio is held before deliveries get dropped.
	DefaultBufferDuration = 60 * time.Second
	DefaultLedgerEntries  = 4096
	DefaultDrainInterval  = 100 * time.Millisecond
	DefaultBlockTimeout   = 50 * time.Millisecond
)

// Config is read once at session start.
type Config struct {
	SampleRate    int `mapstructure:"sample_rate" validate:"oneof=8000 11025 16000 22050 44100 48000"`
	Channels      int `mapstructure:"channels" validate:"oneof=1 2"`
	BitsPerSample int `mapstructure:"bits_per_sample" validate:"oneof=8 16"`
	// AudioSource is the platform device id, empty for the default input.
	AudioSource string `mapstructure:"audio_source"`
	// WavFile, when set, receives every drained byte and is finalized on Stop.
	WavFile string `mapstructure:"wav_file"`

	// CapacityBytes of the ring buffer, zero means DefaultBufferDuration worth of audio.
	CapacityBytes int `mapstructure:"capacity_bytes" validate:"gte=0"`
	LedgerEntries int `mapstructure:"ledger_entries" validate:"gte=0"`
	// MaxChunkBytes caps a single drained chunk, zero means whatever is available.
	MaxChunkBytes  int            `mapstructure:"max_chunk_bytes" validate:"gte=0"`
	DrainInterval  time.Duration  `mapstructure:"drain_interval" validate:"gte=0"`
	OverflowPolicy OverflowPolicy `mapstructure:"overflow_policy" validate:"omitempty,oneof=drop block"`
	BlockTimeout   time.Duration  `mapstructure:"block_timeout" validate:"gte=0"`
	// ManualDrain disables the drain loop, the caller polls Drain instead.
	ManualDrain bool `mapstructure:"manual_drain"`
}

func DefaultConfig() Config {
	return Config{
		SampleRate:     DefaultSampleRate,
		Channels:       DefaultChannels,
		BitsPerSample:  DefaultBitsPerSample,
		LedgerEntries:  DefaultLedgerEntries,
		DrainInterval:  DefaultDrainInterval,
		OverflowPolicy: DropNewest,
		BlockTimeout:   DefaultBlockTimeout,
	}
}

func (c Config) Format() models.Format {
	return models.Format{
		SampleRate:    c.SampleRate,
		Channels:      c.Channels,
		BitsPerSample: c.BitsPerSample,
	}
}

var validate = validator.New()

// withDefaults fills zero values, then validates.
func (c Config) withDefaults() (Config, error) {
	d := DefaultConfig()
	if c.SampleRate == 0 {
		c.SampleRate = d.SampleRate
	}
	if c.Channels == 0 {
		c.Channels = d.Channels
	}
	if c.BitsPerSample == 0 {
		c.BitsPerSample = d.BitsPerSample
	}
	if c.LedgerEntries == 0 {
		c.LedgerEntries = d.LedgerEntries
	}
	if c.DrainInterval == 0 {
		c.DrainInterval = d.DrainInterval
	}
	if c.OverflowPolicy == "" {
		c.OverflowPolicy = d.OverflowPolicy
	}
	if c.BlockTimeout == 0 {
		c.BlockTimeout = d.BlockTimeout
	}
	if err := validate.Struct(c); err != nil {
		return c, errors.Wrap(err, "invalid capture config")
	}
	if c.CapacityBytes == 0 {
		c.CapacityBytes = int(DefaultBufferDuration/time.Second) * c.Format().BytesPerSecond()
	}
	return c, nil
}
