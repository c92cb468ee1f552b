package audioio

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/petrzlen/audiorecord-golang/pkg/models"
)

// FrameCallback receives raw PCM as the device delivers it.
// frames is only valid for the duration of the call.
type FrameCallback func(frames []byte, capturedAt time.Time)

// InputDevice is a hardware (or simulated) capture source.
// Start acquires the device and returns the format it actually delivers, which may
// differ from the requested one. After Stop returns no more callbacks are made and
// the device is released.
type InputDevice interface {
	Start(format models.Format, onFrames FrameCallback) (models.Format, error)
	Stop() error
}

// Sink receives drained chunks in capture order.
type Sink interface {
	Deliver(ctx context.Context, chunk models.AudioChunk) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, chunk models.AudioChunk) error

func (f SinkFunc) Deliver(ctx context.Context, chunk models.AudioChunk) error {
	return f(ctx, chunk)
}

type OutputDevice interface {
	Play(audioOutput io.Reader) (*sync.WaitGroup, error)
	Stop() error
}
