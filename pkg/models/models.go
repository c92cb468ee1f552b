package models

import (
	"encoding/base64"
	"time"

	"github.com/rs/zerolog/log"
)

type Trace struct {
	CreatedAt time.Time
	Creator   string

	ReceivedAt time.Time

	ProcessedAt time.Time
	Processor   string
}

func NewTrace(creator string) Trace {
	return Trace{
		CreatedAt: time.Now(),
		Creator:   creator,
	}
}

func (t Trace) Log() {
	log.Trace().Time("created_at", t.CreatedAt).Str("creator", t.Creator).Time("processed_at", t.ProcessedAt).Str("processor", t.Processor).Dur("dur_to_process", t.ProcessedAt.Sub(t.CreatedAt)).Msgf("tracing")
}

// Format describes interleaved little-endian PCM.
type Format struct {
	SampleRate    int `json:"sample_rate"`
	Channels      int `json:"channels"`
	BitsPerSample int `json:"bits_per_sample"`
}

func (f Format) BytesPerFrame() int {
	return f.Channels * f.BitsPerSample / 8
}

func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.BytesPerFrame()
}

// Duration of numBytes of audio in this format.
func (f Format) Duration(numBytes int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(int64(numBytes) * int64(time.Second) / int64(bps))
}

// AudioChunk is one drained range of the capture stream.
// Offset is the logical offset of Data[0] since the session started.
type AudioChunk struct {
	Data       []byte
	Offset     uint64
	CapturedAt time.Time
	Format     Format
	Trace      Trace
}

func (c AudioChunk) IsEmpty() bool {
	return len(c.Data) == 0
}

// End is the logical offset just past the chunk.
func (c AudioChunk) End() uint64 {
	return c.Offset + uint64(len(c.Data))
}

// ChunkEvent is the wire form of an AudioChunk, as emitted to event listeners.
type ChunkEvent struct {
	Data string `json:"data"`
	// Timestamp is the capture instant in fractional unix seconds.
	Timestamp float64 `json:"timestamp"`
	Offset    uint64  `json:"offset"`
	Length    int     `json:"length"`
}

func NewChunkEvent(c AudioChunk) ChunkEvent {
	return ChunkEvent{
		Data:      base64.StdEncoding.EncodeToString(c.Data),
		Timestamp: float64(c.CapturedAt.Unix()) + float64(c.CapturedAt.Nanosecond())/float64(time.Second),
		Offset:    c.Offset,
		Length:    len(c.Data),
	}
}

// Decode returns the raw bytes carried by the event.
func (e ChunkEvent) Decode() ([]byte, error) {
	return base64.StdEncoding.DecodeString(e.Data)
}
