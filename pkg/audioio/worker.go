package audioio

import (
	"bytes"
	"time"

	"github.com/petrzlen/audiorecord-golang/pkg/models"
	"github.com/rs/zerolog/log"
)

// PlayChunksRoutine plays drained PCM through the output device, chunk after chunk,
// so one can monitor what is being captured. Returns when chunks is closed.
func PlayChunksRoutine(outputDevice OutputDevice, chunks <-chan models.AudioChunk) {
	log.Info().Msgf("PlayChunksRoutine started")

	i := 0
	for chunk := range chunks {
		if chunk.IsEmpty() {
			continue
		}
		i++
		startTime := time.Now()

		waitTilDone, err := outputDevice.Play(bytes.NewReader(chunk.Data))
		if err != nil {
			log.Error().Err(err).Uint64("offset", chunk.Offset).Msg("cannot play captured chunk, skipping")
			continue
		} else if waitTilDone != nil {
			waitTilDone.Wait()
		}

		log.Trace().Int("num", i).Dur("duration", time.Since(startTime)).Dur("capture_lag", time.Since(chunk.CapturedAt)).Msg("monitor chunk played")
	}
	log.Info().Int("chunks_played", i).Msgf("PlayChunksRoutine finished")
}
