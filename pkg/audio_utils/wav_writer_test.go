package audio_utils

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/go-audio/wav"
	"github.com/petrzlen/audiorecord-golang/pkg/models"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mono16 = models.Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}

func pcm16(samples ...int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

func readAll(t *testing.T, fs afero.Fs, path string) []byte {
	t.Helper()
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	return data
}

func TestWavFileWriterStreamsChunks(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, err := NewWavFileWriter(fs, "out/session/audio.wav", mono16)
	require.NoError(t, err)

	samples := []int16{0, 1, -1, 32767, -32768, 1234}
	raw := pcm16(samples...)
	// Split mid-sample to exercise the pending frame bytes.
	_, err = w.Write(raw[:3])
	require.NoError(t, err)
	_, err = w.Write(raw[3:])
	require.NoError(t, err)
	assert.Equal(t, int64(len(raw)), w.BytesWritten())
	require.NoError(t, w.Close())
	require.NoError(t, w.Close(), "second close is a no-op")

	file, err := fs.Open("out/session/audio.wav")
	require.NoError(t, err)
	defer file.Close()
	decoder := wav.NewDecoder(file)
	require.True(t, decoder.IsValidFile())
	buf, err := decoder.FullPCMBuffer()
	require.NoError(t, err)

	assert.Equal(t, uint32(16000), decoder.SampleRate)
	assert.Equal(t, uint16(1), decoder.NumChans)
	assert.Equal(t, uint16(16), decoder.BitDepth)
	want := make([]int, len(samples))
	for i, s := range samples {
		want[i] = int(s)
	}
	assert.Equal(t, want, buf.Data)
}

func TestWavFileWriterRawLayout(t *testing.T) {
	tests := []struct {
		name   string
		format models.Format
		data   []byte
	}{
		{name: "16-bit stereo", format: models.Format{SampleRate: 44100, Channels: 2, BitsPerSample: 16}, data: pcm16(10, -10, 300, -300)},
		{name: "8-bit mono", format: models.Format{SampleRate: 8000, Channels: 1, BitsPerSample: 8}, data: []byte{0, 128, 255, 7}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			w, err := NewWavFileWriter(fs, "a.wav", tt.format)
			require.NoError(t, err)
			_, err = w.Write(tt.data)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			out := readAll(t, fs, "a.wav")
			require.Len(t, out, 44+len(tt.data))
			assert.Equal(t, "RIFF", string(out[0:4]))
			assert.Equal(t, uint32(len(out)-8), binary.LittleEndian.Uint32(out[4:8]))
			assert.Equal(t, "data", string(out[36:40]))
			assert.Equal(t, uint32(len(tt.data)), binary.LittleEndian.Uint32(out[40:44]))
			assert.Equal(t, tt.data, out[44:])
		})
	}
}

func TestWavFileWriterEmptyStillHasHeader(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, err := NewWavFileWriter(fs, "empty.wav", mono16)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	out := readAll(t, fs, "empty.wav")
	require.Len(t, out, 44)
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(out[40:44]))
}

func TestWavFileWriterAbortRemovesFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, err := NewWavFileWriter(fs, "gone.wav", mono16)
	require.NoError(t, err)
	require.NoError(t, w.Abort())

	exists, err := afero.Exists(fs, "gone.wav")
	require.NoError(t, err)
	assert.False(t, exists)
	_, err = w.Write([]byte{1, 2})
	assert.Error(t, err)
}

func TestNewWavFileWriterRejectsBadFormat(t *testing.T) {
	fs := afero.NewMemMapFs()
	_, err := NewWavFileWriter(fs, "x.wav", models.Format{SampleRate: 16000, Channels: 1, BitsPerSample: 24})
	assert.Error(t, err)
	_, err = NewWavFileWriter(fs, "x.wav", models.Format{SampleRate: 0, Channels: 1, BitsPerSample: 16})
	assert.Error(t, err)
}

func TestConvertPCMToWav(t *testing.T) {
	raw := pcm16(5, -5, 100)
	wavBytes, err := ConvertPCMToWav(raw, mono16)
	require.NoError(t, err)
	assert.Equal(t, raw, wavBytes[44:])

	empty, err := ConvertPCMToWav(nil, mono16)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestPCMIntRoundTrip(t *testing.T) {
	raw := pcm16(-2, 2, 32000)
	buf := PCMToIntBuffer(raw, mono16)
	assert.Equal(t, []int{-2, 2, 32000}, buf.Data)
	assert.Equal(t, raw, IntBufferToPCM(buf, 16))

	raw8 := []byte{1, 200}
	buf8 := PCMToIntBuffer(raw8, models.Format{SampleRate: 8000, Channels: 1, BitsPerSample: 8})
	assert.Equal(t, raw8, IntBufferToPCM(buf8, 8))
}

var _ io.Writer = (*WavFileWriter)(nil)
