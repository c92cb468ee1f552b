package audio_utils

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/petrzlen/audiorecord-golang/pkg/models"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

func dbg(err error) {
	if err != nil {
		log.Debug().Err(err).Msg("sth non-essential failed")
	}
}

// PCMToIntBuffer converts little-endian PCM into samples, one int per sample.
// 8-bit PCM is unsigned (as stored in WAV files), 16-bit is signed.
// A trailing partial sample is ignored.
func PCMToIntBuffer(data []byte, format models.Format) *audio.IntBuffer {
	var intData []int
	switch format.BitsPerSample {
	case 8:
		intData = make([]int, len(data))
		for i, b := range data {
			intData[i] = int(b)
		}
	default:
		intData = make([]int, len(data)/2)
		for i := 0; i+1 < len(data); i += 2 {
			intData[i/2] = int(int16(binary.LittleEndian.Uint16(data[i : i+2])))
		}
	}
	return &audio.IntBuffer{
		Data: intData,
		Format: &audio.Format{
			SampleRate:  format.SampleRate,
			NumChannels: format.Channels,
		},
		SourceBitDepth: format.BitsPerSample,
	}
}

// IntBufferToPCM is the inverse of PCMToIntBuffer. Samples are expected to be in
// the range of bitDepth; wider source depths should be shifted down by the caller.
func IntBufferToPCM(buf *audio.IntBuffer, bitDepth int) []byte {
	switch bitDepth {
	case 8:
		out := make([]byte, len(buf.Data))
		for i, v := range buf.Data {
			out[i] = byte(v)
		}
		return out
	default:
		out := make([]byte, 2*len(buf.Data))
		for i, v := range buf.Data {
			binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(v)))
		}
		return out
	}
}

// ConvertPCMToWav wraps raw PCM into an in-memory WAV file.
func ConvertPCMToWav(byteData []byte, format models.Format) (result []byte, err error) {
	if len(byteData) == 0 {
		return // Nothing to do
	}

	// wav.Encoder needs an io.WriteSeeker to finalize headers, an in-memory fs gives us one.
	fs := afero.NewMemMapFs()
	inMemoryFilename := "in-memory-output.wav"
	writer, err := NewWavFileWriter(fs, inMemoryFilename, format)
	if err != nil {
		return
	}
	if _, err = writer.Write(byteData); err != nil {
		err = fmt.Errorf("cannot encode byte output as wav %w", err)
		dbg(writer.Abort())
		return
	}
	if err = writer.Close(); err != nil {
		err = fmt.Errorf("cannot finish wav encoding %w", err)
		return
	}

	inMemoryFileReopen, err := fs.Open(inMemoryFilename)
	if err != nil {
		return
	}
	defer func() { dbg(inMemoryFileReopen.Close()) }()
	result, err = io.ReadAll(inMemoryFileReopen)
	if err == nil && len(result) == 0 {
		err = fmt.Errorf("wav output is empty when input was not")
	}
	return
}
