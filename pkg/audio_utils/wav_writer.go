package audio_utils

import (
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/petrzlen/audiorecord-golang/pkg/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const wavPCMAudioFormat = 1

// WavFileWriter appends raw PCM to a WAV file as it arrives.
// The RIFF sizes are patched on Close, so an unclosed file has a bogus header.
type WavFileWriter struct {
	fs     afero.Fs
	path   string
	format models.Format

	file    afero.File
	encoder *wav.Encoder

	// bytes of an incomplete frame, held until the rest arrives
	pending []byte
	written int64
	started bool
	closed  bool
}

func NewWavFileWriter(fs afero.Fs, path string, format models.Format) (*WavFileWriter, error) {
	if format.BitsPerSample != 8 && format.BitsPerSample != 16 {
		return nil, errors.Errorf("unsupported wav bit depth %d", format.BitsPerSample)
	}
	if format.Channels <= 0 || format.SampleRate <= 0 {
		return nil, errors.Errorf("invalid wav format %+v", format)
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := fs.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrapf(err, "cannot create directory for %s", path)
		}
	}
	file, err := fs.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot create wav file %s", path)
	}

	return &WavFileWriter{
		fs:      fs,
		path:    path,
		format:  format,
		file:    file,
		encoder: wav.NewEncoder(file, format.SampleRate, format.BitsPerSample, format.Channels, wavPCMAudioFormat),
	}, nil
}

func (w *WavFileWriter) Path() string {
	return w.path
}

// BytesWritten counts PCM bytes handed to the encoder, header excluded.
func (w *WavFileWriter) BytesWritten() int64 {
	return w.written
}

// Write appends PCM bytes. Partial frames are buffered until completed.
func (w *WavFileWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errors.Errorf("wav file %s already closed", w.path)
	}
	frameSize := w.format.BytesPerFrame()
	data := p
	if len(w.pending) > 0 {
		data = append(w.pending, p...)
		w.pending = nil
	}
	whole := len(data) - len(data)%frameSize
	if rest := data[whole:]; len(rest) > 0 {
		w.pending = append([]byte(nil), rest...)
	}
	if whole == 0 {
		return len(p), nil
	}

	if err := w.encode(PCMToIntBuffer(data[:whole], w.format)); err != nil {
		return 0, errors.Wrapf(err, "cannot append to wav file %s", w.path)
	}
	w.written += int64(whole)
	return len(p), nil
}

func (w *WavFileWriter) encode(buf *audio.IntBuffer) error {
	w.started = true
	return w.encoder.Write(buf)
}

// Close finalizes the header. A trailing partial frame is dropped.
func (w *WavFileWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if len(w.pending) > 0 {
		log.Debug().Int("pending_bytes", len(w.pending)).Str("path", w.path).Msg("dropping incomplete trailing frame")
		w.pending = nil
	}

	if !w.started {
		// Emits the header and an empty data chunk.
		if err := w.encode(PCMToIntBuffer(nil, w.format)); err != nil {
			dbg(w.file.Close())
			return errors.Wrapf(err, "cannot write wav header %s", w.path)
		}
	}
	if err := w.encoder.Close(); err != nil {
		dbg(w.file.Close())
		return errors.Wrapf(err, "cannot finish wav encoding %s", w.path)
	}
	return errors.Wrapf(w.file.Close(), "cannot close wav file %s", w.path)
}

// Abort closes and removes the file, used when a session never got going.
func (w *WavFileWriter) Abort() error {
	if !w.closed {
		w.closed = true
		dbg(w.file.Close())
	}
	return w.fs.Remove(w.path)
}
