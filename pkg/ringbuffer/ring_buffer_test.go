package ringbuffer

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seq(start byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = start + byte(i)
	}
	return out
}

func TestNewRejectsNonPositiveCapacity(t *testing.T) {
	_, err := New(0)
	require.Error(t, err)
	_, err = New(-3)
	require.Error(t, err)
}

func TestFIFORoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		sizes []int
	}{
		{name: "single write", sizes: []int{64}},
		{name: "several writes", sizes: []int{10, 1, 30, 23}},
		{name: "exactly full", sizes: []int{32, 32}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := New(64)
			require.NoError(t, err)

			var want []byte
			total := 0
			for i, n := range tt.sizes {
				chunk := seq(byte(i*50), n)
				require.NoError(t, b.Append(chunk))
				want = append(want, chunk...)
				total += n
				assert.Equal(t, total, b.Available())
			}

			got := b.Consume(1 << 20)
			assert.Equal(t, want, got)
			assert.Equal(t, 0, b.Available())
			assert.Equal(t, uint64(total), b.ReadOffset())
			assert.Equal(t, uint64(total), b.WriteOffset())
		})
	}
}

func TestAppendOverflowLeavesBufferUntouched(t *testing.T) {
	b, err := New(16)
	require.NoError(t, err)
	first := seq(1, 12)
	require.NoError(t, b.Append(first))

	err = b.Append(seq(100, 5))
	require.ErrorIs(t, err, ErrOverflow)
	assert.Equal(t, 12, b.Available())
	assert.Equal(t, uint64(12), b.WriteOffset())

	assert.Equal(t, first, b.Consume(16))
}

func TestConsumeEmptyReturnsNothing(t *testing.T) {
	b, err := New(8)
	require.NoError(t, err)
	assert.Empty(t, b.Consume(8))
	assert.Equal(t, 0, b.ConsumeInto(make([]byte, 8)))
}

func TestConsumePartial(t *testing.T) {
	b, err := New(8)
	require.NoError(t, err)
	require.NoError(t, b.Append(seq(0, 6)))

	assert.Equal(t, []byte{0, 1, 2, 3}, b.Consume(4))
	assert.Equal(t, 2, b.Available())
	assert.Equal(t, []byte{4, 5}, b.Consume(4))
}

func TestWrapAround(t *testing.T) {
	b, err := New(10)
	require.NoError(t, err)

	require.NoError(t, b.Append(seq(0, 7)))
	require.Equal(t, seq(0, 7), b.Consume(7))

	// Physical write position is 7, so this append straddles the end of storage.
	wrapped := seq(40, 8)
	require.NoError(t, b.Append(wrapped))
	assert.Equal(t, 8, b.Available())

	dst := make([]byte, 8)
	n := b.ConsumeInto(dst)
	assert.Equal(t, 8, n)
	assert.Equal(t, wrapped, dst)
	assert.Equal(t, uint64(15), b.ReadOffset())
}

func TestAppendWaitUnblocksWhenConsumerFreesSpace(t *testing.T) {
	b, err := New(8)
	require.NoError(t, err)
	require.NoError(t, b.Append(seq(0, 8)))

	done := make(chan error, 1)
	go func() {
		done <- b.AppendWait(context.Background(), seq(20, 4))
	}()

	select {
	case <-done:
		t.Fatal("AppendWait returned while the buffer was full")
	case <-time.After(20 * time.Millisecond):
	}

	require.Equal(t, seq(0, 4), b.Consume(4))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("AppendWait did not unblock")
	}
	assert.Equal(t, append(seq(4, 4), seq(20, 4)...), b.Consume(8))
}

func TestAppendWaitHonoursContext(t *testing.T) {
	b, err := New(4)
	require.NoError(t, err)
	require.NoError(t, b.Append(seq(0, 4)))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = b.AppendWait(ctx, seq(0, 2))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 4, b.Available())

	require.ErrorIs(t, b.AppendWait(context.Background(), seq(0, 5)), ErrOverflow)
}

func TestConcurrentProducerConsumer(t *testing.T) {
	b, err := New(97)
	require.NoError(t, err)

	const total = 200_000
	var want bytes.Buffer
	for i := 0; i < total; i++ {
		want.WriteByte(byte(i * 7))
	}
	src := want.Bytes()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for off := 0; off < total; {
			n := 1 + off%13
			if off+n > total {
				n = total - off
			}
			if err := b.AppendWait(context.Background(), src[off:off+n]); err != nil {
				t.Error(err)
				return
			}
			off += n
		}
	}()

	got := make([]byte, 0, total)
	dst := make([]byte, 31)
	for len(got) < total {
		n := b.ConsumeInto(dst)
		got = append(got, dst[:n]...)
		assert.LessOrEqual(t, b.Available(), b.Capacity())
	}
	wg.Wait()

	assert.True(t, bytes.Equal(src, got), "consumer must see bytes in producer order")
}
