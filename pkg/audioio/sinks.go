package audioio

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/petrzlen/audiorecord-golang/pkg/models"
	"github.com/pkg/errors"
)

// ChanSink forwards chunks into a channel. Deliver blocks while the channel is full,
// which slows the drain down but never the device: the ring buffer absorbs the gap.
type ChanSink struct {
	ch chan models.AudioChunk
}

func NewChanSink(size int) *ChanSink {
	return &ChanSink{ch: make(chan models.AudioChunk, size)}
}

func (s *ChanSink) Chunks() <-chan models.AudioChunk {
	return s.ch
}

func (s *ChanSink) Deliver(ctx context.Context, chunk models.AudioChunk) error {
	select {
	case s.ch <- chunk:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "chan sink")
	}
}

// Close closes the channel, call it only after the session stopped.
func (s *ChanSink) Close() {
	close(s.ch)
}

// JSONLinesSink writes one models.ChunkEvent per line, e.g. to stdout for piping.
type JSONLinesSink struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func NewJSONLinesSink(w io.Writer) *JSONLinesSink {
	return &JSONLinesSink{encoder: json.NewEncoder(w)}
}

func (s *JSONLinesSink) Deliver(_ context.Context, chunk models.AudioChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Wrap(s.encoder.Encode(models.NewChunkEvent(chunk)), "json lines sink")
}
