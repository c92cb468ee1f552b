package main

import (
	"github.com/petrzlen/audiorecord-golang/pkg/audio_utils"
	"github.com/petrzlen/audiorecord-golang/pkg/audioio"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newConvertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "convert <input.wav|mp3|flac> <output.wav>",
		Short: "Decode an audio file into a 16-bit PCM WAV, the format replayed by record --input",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return convertFile(afero.NewOsFs(), args[0], args[1])
		},
	}
}

func convertFile(fs afero.Fs, input string, output string) (err error) {
	pcm, format, err := audioio.DecodeFile(fs, input)
	if err != nil {
		return err
	}
	w, err := audio_utils.NewWavFileWriter(fs, output, format)
	if err != nil {
		return err
	}
	if _, err = w.Write(pcm); err != nil {
		_ = w.Abort()
		return errors.Wrapf(err, "cannot write %s", output)
	}
	if err = w.Close(); err != nil {
		return err
	}
	log.Info().Str("input", input).Str("output", output).Int("sample_rate", format.SampleRate).Int("channels", format.Channels).Dur("duration", format.Duration(len(pcm))).Msg("converted")
	return nil
}
