// Package ringbuffer is a fixed-capacity byte ring for exactly one producer and one consumer.
//
// The producer is usually an audio device callback, so Append never takes a lock:
// the write offset is published with an atomic store after the bytes are copied in,
// and the consumer publishes the read offset the same way after copying bytes out.
// Offsets are logical (cumulative since creation) and only reduced mod capacity
// when addressing storage.
package ringbuffer

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"
)

// ErrOverflow is returned when an append does not fit into the free space.
// The buffer is left untouched.
var ErrOverflow = errors.New("ring buffer overflow")

type Buffer struct {
	storage  []byte
	capacity uint64

	writeOffset atomic.Uint64 // only the producer stores
	readOffset  atomic.Uint64 // only the consumer stores

	// spaceFreed wakes an AppendWait producer, at most one pending token.
	spaceFreed chan struct{}
}

func New(capacity int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, errors.Errorf("ring buffer capacity must be positive, got %d", capacity)
	}
	return &Buffer{
		storage:    make([]byte, capacity),
		capacity:   uint64(capacity),
		spaceFreed: make(chan struct{}, 1),
	}, nil
}

func (b *Buffer) Capacity() int {
	return int(b.capacity)
}

// Available is the number of unread bytes.
func (b *Buffer) Available() int {
	// Load read first: it can only grow, so write-read never underflows.
	r := b.readOffset.Load()
	w := b.writeOffset.Load()
	if n := w - r; n < b.capacity {
		return int(n)
	}
	return int(b.capacity)
}

func (b *Buffer) Free() int {
	return int(b.capacity) - b.Available()
}

func (b *Buffer) WriteOffset() uint64 {
	return b.writeOffset.Load()
}

func (b *Buffer) ReadOffset() uint64 {
	return b.readOffset.Load()
}

// Append copies p behind the unread bytes. Producer only.
func (b *Buffer) Append(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	w := b.writeOffset.Load()
	r := b.readOffset.Load()
	if uint64(len(p)) > b.capacity-(w-r) {
		return ErrOverflow
	}

	pos := w % b.capacity
	n := copy(b.storage[pos:], p)
	if n < len(p) {
		copy(b.storage, p[n:])
	}
	b.writeOffset.Store(w + uint64(len(p)))
	return nil
}

// AppendWait is Append with backpressure: it waits for the consumer to free enough
// space, or for ctx to end. Never use it from a real-time callback without a deadline.
func (b *Buffer) AppendWait(ctx context.Context, p []byte) error {
	if uint64(len(p)) > b.capacity {
		return ErrOverflow
	}
	for {
		err := b.Append(p)
		if !errors.Is(err, ErrOverflow) {
			return err
		}
		if err := b.WaitConsumed(ctx); err != nil {
			return err
		}
	}
}

// WaitConsumed blocks until the consumer makes progress, or ctx ends.
// It may return early on progress made before the call; callers re-check.
func (b *Buffer) WaitConsumed(ctx context.Context) error {
	select {
	case <-b.spaceFreed:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for ring buffer space")
	}
}

// ConsumeInto moves up to len(dst) of the oldest bytes into dst and returns the count.
// Consumer only.
func (b *Buffer) ConsumeInto(dst []byte) int {
	r := b.readOffset.Load()
	w := b.writeOffset.Load()
	n := w - r
	if n == 0 || len(dst) == 0 {
		return 0
	}
	if uint64(len(dst)) < n {
		n = uint64(len(dst))
	}

	pos := r % b.capacity
	copied := copy(dst[:n], b.storage[pos:])
	if uint64(copied) < n {
		copy(dst[copied:n], b.storage)
	}
	b.readOffset.Store(r + n)

	select {
	case b.spaceFreed <- struct{}{}:
	default:
	}
	return int(n)
}

// Consume returns a copy of up to maxBytes of the oldest bytes, nil when empty.
func (b *Buffer) Consume(maxBytes int) []byte {
	n := b.Available()
	if maxBytes < n {
		n = maxBytes
	}
	if n <= 0 {
		return nil
	}
	out := make([]byte, n)
	return out[:b.ConsumeInto(out)]
}
