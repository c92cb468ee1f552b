package transcriber

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/petrzlen/audiorecord-golang/pkg/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTranscriber struct {
	mu      sync.Mutex
	replies []string
	prompts []string
	wavs    [][]byte
}

func (f *fakeTranscriber) SendAudio(_ context.Context, input io.Reader, fileExtension string, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fileExtension != "wav" {
		return "", errors.Errorf("unexpected extension %s", fileExtension)
	}
	data, err := io.ReadAll(input)
	if err != nil {
		return "", err
	}
	f.wavs = append(f.wavs, data)
	f.prompts = append(f.prompts, prompt)
	if len(f.replies) == 0 {
		return "", errors.New("no more replies")
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	return reply, nil
}

var mono16 = models.Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}

func feed(n, size int) <-chan models.AudioChunk {
	chunks := make(chan models.AudioChunk, n)
	start := time.Unix(1700000000, 0)
	for i := 0; i < n; i++ {
		chunks <- models.AudioChunk{
			Data:       make([]byte, size),
			Offset:     uint64(i * size),
			CapturedAt: start.Add(time.Duration(i) * 50 * time.Millisecond),
			Format:     mono16,
		}
	}
	close(chunks)
	return chunks
}

func TestTranscribeChunksRoutineWindows(t *testing.T) {
	fake := &fakeTranscriber{replies: []string{"one", "two", "three"}}
	transcripts := make(chan Transcript, 10)

	final := TranscribeChunksRoutine(context.Background(), fake, feed(5, 1600), 100*time.Millisecond, transcripts)
	assert.Equal(t, "one two three", final)

	var got []Transcript
	for tr := range transcripts {
		got = append(got, tr)
	}
	require.Len(t, got, 3)
	assert.Equal(t, uint64(0), got[0].Offset)
	assert.Equal(t, uint64(3200), got[1].Offset)
	assert.Equal(t, uint64(6400), got[2].Offset)
	assert.Equal(t, 100*time.Millisecond, got[0].Duration)
	assert.Equal(t, 50*time.Millisecond, got[2].Duration)
	assert.Equal(t, time.Unix(1700000000, 0).Add(100*time.Millisecond), got[1].CapturedAt)

	require.Len(t, fake.wavs, 3)
	assert.Equal(t, "RIFF", string(fake.wavs[0][:4]))
	assert.Len(t, fake.wavs[0], 44+3200)
	assert.Equal(t, []string{"", "one", "one two"}, fake.prompts)
}

func TestTranscribeChunksRoutineSkipsRepetitions(t *testing.T) {
	fake := &fakeTranscriber{replies: []string{"hello world", "world", "again"}}
	transcripts := make(chan Transcript, 10)

	final := TranscribeChunksRoutine(context.Background(), fake, feed(3, 3200), 100*time.Millisecond, transcripts)
	assert.Equal(t, "hello world again", final)
	assert.Len(t, transcripts, 2)
}

func TestTranscribeChunksRoutineSurvivesErrors(t *testing.T) {
	fake := &fakeTranscriber{replies: []string{"only"}}
	transcripts := make(chan Transcript, 10)

	final := TranscribeChunksRoutine(context.Background(), fake, feed(2, 3200), 100*time.Millisecond, transcripts)
	assert.Equal(t, "only", final)
	assert.Len(t, fake.wavs, 2)
}

func TestStripSilenceHallucinations(t *testing.T) {
	assert.Equal(t, "Yeah, tell me.", stripSilenceHallucinations("MBC 뉴스 Yeah, tell me."))
	assert.Equal(t, "plain", stripSilenceHallucinations("plain"))
}
