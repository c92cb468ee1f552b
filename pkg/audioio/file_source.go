package audioio

import (
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"
	"github.com/petrzlen/audiorecord-golang/pkg/audio_utils"
	"github.com/petrzlen/audiorecord-golang/pkg/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const DefaultFileSourceChunkDuration = 20 * time.Millisecond

// FileSource replays a decoded recording as if a device was delivering it,
// one chunk per chunkDuration. Handy for tests and for running without a microphone.
// It can be started once.
type FileSource struct {
	fs            afero.Fs
	path          string
	chunkDuration time.Duration
	clock         func() time.Time

	mu      sync.Mutex
	used    bool
	stopCh  chan struct{}
	done    chan struct{}
	stopped sync.WaitGroup
}

type FileSourceOption func(*FileSource)

func WithChunkDuration(d time.Duration) FileSourceOption {
	return func(s *FileSource) {
		if d > 0 {
			s.chunkDuration = d
		}
	}
}

func WithSourceClock(clock func() time.Time) FileSourceOption {
	return func(s *FileSource) {
		s.clock = clock
	}
}

// NewFileSource supports .wav, .mp3 and .flac. The file is decoded on Start and the
// file's own format is reported back; no resampling happens.
func NewFileSource(fs afero.Fs, path string, opts ...FileSourceOption) *FileSource {
	s := &FileSource{
		fs:            fs,
		path:          path,
		chunkDuration: DefaultFileSourceChunkDuration,
		clock:         time.Now,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Done is closed once the whole file was delivered.
func (s *FileSource) Done() <-chan struct{} {
	return s.done
}

func (s *FileSource) Start(requested models.Format, onFrames FrameCallback) (models.Format, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.used {
		return models.Format{}, errors.New("file source already started")
	}
	s.used = true

	pcm, format, err := DecodeFile(s.fs, s.path)
	if err != nil {
		return models.Format{}, err
	}
	if format != requested {
		log.Info().Interface("requested", requested).Interface("actual", format).Str("path", s.path).Msg("file source delivers its own format")
	}

	chunkSize := format.BytesPerSecond() * int(s.chunkDuration) / int(time.Second)
	chunkSize -= chunkSize % format.BytesPerFrame()
	if chunkSize <= 0 {
		chunkSize = format.BytesPerFrame()
	}

	s.stopCh = make(chan struct{})
	s.stopped.Add(1)
	go s.replayRoutine(pcm, chunkSize, onFrames, s.stopCh)
	return format, nil
}

func (s *FileSource) replayRoutine(pcm []byte, chunkSize int, onFrames FrameCallback, stopCh chan struct{}) {
	defer s.stopped.Done()
	ticker := time.NewTicker(s.chunkDuration)
	defer ticker.Stop()

	for off := 0; off < len(pcm); {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
		}
		end := off + chunkSize
		if end > len(pcm) {
			end = len(pcm)
		}
		onFrames(pcm[off:end], s.clock())
		off = end
	}
	log.Debug().Str("path", s.path).Int("bytes", len(pcm)).Msg("file source exhausted")
	close(s.done)
}

func (s *FileSource) Stop() error {
	s.mu.Lock()
	stopCh := s.stopCh
	s.stopCh = nil
	s.mu.Unlock()
	if stopCh == nil {
		return nil
	}
	close(stopCh)
	s.stopped.Wait()
	return nil
}

// DecodeFile decodes a recording into interleaved PCM, picking the decoder by extension.
func DecodeFile(fs afero.Fs, path string) (pcm []byte, format models.Format, err error) {
	file, err := fs.Open(path)
	if err != nil {
		err = errors.Wrapf(err, "cannot open %s", path)
		return
	}
	defer func() { dbg(file.Close()) }()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".wav":
		pcm, format, err = decodeWav(file)
	case ".mp3":
		pcm, format, err = decodeMp3(file)
	case ".flac":
		pcm, format, err = decodeFlac(file)
	default:
		err = errors.Errorf("unsupported audio file extension %q", ext)
	}
	if err != nil {
		err = errors.Wrapf(err, "cannot decode %s", path)
	}
	return
}

func decodeWav(r io.ReadSeeker) ([]byte, models.Format, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return nil, models.Format{}, errors.New("invalid wav file")
	}
	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, models.Format{}, err
	}

	bitDepth := int(decoder.BitDepth)
	if bitDepth > 16 {
		shift := uint(bitDepth - 16)
		for i, v := range buf.Data {
			buf.Data[i] = v >> shift
		}
		bitDepth = 16
	}
	format := models.Format{
		SampleRate:    int(decoder.SampleRate),
		Channels:      int(decoder.NumChans),
		BitsPerSample: bitDepth,
	}
	return audio_utils.IntBufferToPCM(buf, bitDepth), format, nil
}

// go-mp3 always decodes to 16-bit little-endian stereo.
func decodeMp3(r io.Reader) ([]byte, models.Format, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, models.Format{}, err
	}
	pcm, err := io.ReadAll(decoder)
	if err != nil {
		return nil, models.Format{}, err
	}
	return pcm, models.Format{SampleRate: decoder.SampleRate(), Channels: 2, BitsPerSample: 16}, nil
}

// FLAC is normalized to 16-bit.
func decodeFlac(r io.Reader) ([]byte, models.Format, error) {
	stream, err := flac.New(r)
	if err != nil {
		return nil, models.Format{}, err
	}
	defer func() { dbg(stream.Close()) }()

	bps := int(stream.Info.BitsPerSample)
	channels := int(stream.Info.NChannels)
	var samples []int
	for {
		frame, err := stream.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, models.Format{}, err
		}
		for i := 0; i < int(frame.BlockSize); i++ {
			for ch := 0; ch < channels; ch++ {
				v := int(frame.Subframes[ch].Samples[i])
				if bps > 16 {
					v >>= uint(bps - 16)
				} else if bps < 16 {
					v <<= uint(16 - bps)
				}
				samples = append(samples, v)
			}
		}
	}

	format := models.Format{SampleRate: int(stream.Info.SampleRate), Channels: channels, BitsPerSample: 16}
	buf := audio_utils.PCMToIntBuffer(nil, format)
	buf.Data = samples
	return audio_utils.IntBufferToPCM(buf, 16), format, nil
}
