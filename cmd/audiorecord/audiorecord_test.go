package main

import (
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/petrzlen/audiorecord-golang/pkg/audio_utils"
	"github.com/petrzlen/audiorecord-golang/pkg/capture"
	"github.com/petrzlen/audiorecord-golang/pkg/models"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCaptureConfigFromFlags(t *testing.T) {
	v := viper.New()
	cmd := newRecordCmd(v)
	require.NoError(t, cmd.Flags().Set("sample-rate", "16000"))
	require.NoError(t, cmd.Flags().Set("drain-interval", "250ms"))
	require.NoError(t, cmd.Flags().Set("wav", "out/take.wav"))

	cfg, err := loadCaptureConfig(v)
	require.NoError(t, err)
	assert.Equal(t, 16000, cfg.SampleRate)
	assert.Equal(t, 1, cfg.Channels)
	assert.Equal(t, 250*time.Millisecond, cfg.DrainInterval)
	assert.Equal(t, "out/take.wav", cfg.WavFile)
	assert.Equal(t, capture.OverflowPolicy(""), cfg.OverflowPolicy, "left for the session defaults")
}

func TestLoadCaptureConfigFromEnv(t *testing.T) {
	t.Setenv("AUDIORECORD_CHANNELS", "2")
	t.Setenv("AUDIORECORD_INPUT", "speech.flac")

	v := viper.New()
	newRecordCmd(v)
	initConfig(v)

	cfg, err := loadCaptureConfig(v)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Channels)
	assert.Equal(t, capture.Block, cfg.OverflowPolicy, "files are replayed without drops")
}

func TestConvertFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	format := models.Format{SampleRate: 8000, Channels: 2, BitsPerSample: 16}
	pcm := make([]byte, 1600)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	w, err := audio_utils.NewWavFileWriter(fs, "in.wav", format)
	require.NoError(t, err)
	_, err = w.Write(pcm)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.NoError(t, convertFile(fs, "in.wav", "converted/out.wav"))

	f, err := fs.Open("converted/out.wav")
	require.NoError(t, err)
	defer f.Close()
	decoder := wav.NewDecoder(f)
	buf, err := decoder.FullPCMBuffer()
	require.NoError(t, err)
	assert.Equal(t, 8000, buf.Format.SampleRate)
	assert.Equal(t, 2, buf.Format.NumChannels)
	assert.Len(t, buf.Data, 800)

	assert.Error(t, convertFile(fs, "missing.mp3", "x.wav"))
}
