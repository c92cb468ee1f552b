// Package ledger maps cumulative byte offsets of a capture stream to the wall-clock
// instant the bytes were delivered by the device.
//
// Entries live in a fixed ring shared by one producer (Record) and one consumer
// (TimestampFor, PruneBefore), with the same atomic publication scheme as the
// byte ring buffer.
package ledger

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound means no entry can vouch for the requested range, usually because
	// the consumer fell behind the prune point.
	ErrNotFound = errors.New("no ledger entry covers the requested range")
	// ErrFull means the producer is ahead of the consumer by more than the ledger capacity.
	ErrFull         = errors.New("timestamp ledger full")
	ErrNonMonotonic = errors.New("ledger offsets must be strictly increasing")
)

// Entry marks that every byte before ByteOffset was captured at or before CapturedAt.
type Entry struct {
	ByteOffset uint64
	CapturedAt time.Time
}

type Ledger struct {
	entries  []Entry
	capacity uint64

	head atomic.Uint64 // next entry to prune, consumer stores
	tail atomic.Uint64 // next slot to record, producer stores

	lastOffset uint64        // producer owned
	watermark  atomic.Uint64 // highest PruneBefore offset, consumer stores
}

func New(capacity int) (*Ledger, error) {
	if capacity <= 0 {
		return nil, errors.Errorf("ledger capacity must be positive, got %d", capacity)
	}
	return &Ledger{
		entries:  make([]Entry, capacity),
		capacity: uint64(capacity),
	}, nil
}

func (l *Ledger) Len() int {
	h := l.head.Load()
	t := l.tail.Load()
	return int(t - h)
}

// Full reports whether the next Record would fail with ErrFull. Producer only.
func (l *Ledger) Full() bool {
	return l.tail.Load()-l.head.Load() >= l.capacity
}

// Record appends an entry. byteOffset is the cumulative write offset after the
// corresponding append. Producer only.
func (l *Ledger) Record(byteOffset uint64, capturedAt time.Time) error {
	t := l.tail.Load()
	if t > 0 && byteOffset <= l.lastOffset {
		return errors.Wrapf(ErrNonMonotonic, "offset %d after %d", byteOffset, l.lastOffset)
	}
	if t == 0 && byteOffset == 0 {
		return errors.Wrap(ErrNonMonotonic, "first offset must be positive")
	}
	if t-l.head.Load() >= l.capacity {
		return ErrFull
	}
	l.entries[t%l.capacity] = Entry{ByteOffset: byteOffset, CapturedAt: capturedAt}
	l.lastOffset = byteOffset
	l.tail.Store(t + 1)
	return nil
}

func (l *Ledger) at(i uint64) Entry {
	return l.entries[i%l.capacity]
}

// TimestampFor attributes a capture instant to the consumed range [start, end).
//
// The latest entry inside (start, end] wins. When a drain split a single delivery,
// no entry falls inside the range and the first entry at or after end (the delivery
// that closes the range) is used instead. Consumer only.
func (l *Ledger) TimestampFor(start, end uint64) (time.Time, error) {
	if end <= start {
		return time.Time{}, errors.Wrapf(ErrNotFound, "empty range [%d,%d)", start, end)
	}
	if wm := l.watermark.Load(); wm > 0 && end <= wm {
		return time.Time{}, errors.Wrapf(ErrNotFound, "range [%d,%d) pruned below %d", start, end, wm)
	}

	h := l.head.Load()
	t := l.tail.Load()
	n := int(t - h)
	// first entry with ByteOffset > end
	after := sort.Search(n, func(i int) bool {
		return l.at(h+uint64(i)).ByteOffset > end
	})
	if after > 0 {
		if e := l.at(h + uint64(after-1)); e.ByteOffset > start {
			return e.CapturedAt, nil
		}
	}
	if after < n {
		return l.at(h + uint64(after)).CapturedAt, nil
	}
	return time.Time{}, errors.Wrapf(ErrNotFound, "range [%d,%d)", start, end)
}

// PruneBefore discards entries with ByteOffset < offset. Consumer only.
func (l *Ledger) PruneBefore(offset uint64) {
	l.prune(offset, false)
}

// ReleaseThrough discards entries with ByteOffset <= offset, for a consumer that has
// drained everything up to offset: the entry closing that range is never looked up again.
// Ranges ending at or below offset fail like after PruneBefore. Consumer only.
func (l *Ledger) ReleaseThrough(offset uint64) {
	l.prune(offset, true)
}

func (l *Ledger) prune(offset uint64, inclusive bool) {
	h := l.head.Load()
	t := l.tail.Load()
	for h < t {
		o := l.at(h).ByteOffset
		if o > offset || (o == offset && !inclusive) {
			break
		}
		h++
	}
	l.head.Store(h)
	if offset > l.watermark.Load() {
		l.watermark.Store(offset)
	}
}

// Entries is a snapshot of the live entries, oldest first. Consumer side only.
func (l *Ledger) Entries() []Entry {
	h := l.head.Load()
	t := l.tail.Load()
	out := make([]Entry, 0, t-h)
	for i := h; i < t; i++ {
		out = append(out, l.at(i))
	}
	return out
}
