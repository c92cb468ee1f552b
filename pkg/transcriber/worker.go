package transcriber

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/petrzlen/audiorecord-golang/pkg/audio_utils"
	"github.com/petrzlen/audiorecord-golang/pkg/models"
	"github.com/rs/zerolog/log"
)

// DefaultWindow of audio is collected before a transcription request, shorter ones transcribe poorly.
const DefaultWindow = 3 * time.Second

type window struct {
	pcm        []byte
	format     models.Format
	offset     uint64
	capturedAt time.Time
}

func (w *window) add(chunk models.AudioChunk) {
	if len(w.pcm) == 0 {
		w.offset = chunk.Offset
		w.capturedAt = chunk.CapturedAt
		w.format = chunk.Format
	}
	w.pcm = append(w.pcm, chunk.Data...)
}

func (w *window) duration() time.Duration {
	return w.format.Duration(len(w.pcm))
}

// TranscribeChunksRoutine is intended to run for the entire lifespan of a capture session.
// It groups drained chunks into windows of at least windowSize, sends each as WAV to the
// transcriber and emits the text. Returns the full transcript once chunks is closed,
// after closing transcripts.
func TranscribeChunksRoutine(ctx context.Context, transcriber Transcriber, chunks <-chan models.AudioChunk, windowSize time.Duration, transcripts chan<- Transcript) string {
	log.Info().Dur("window", windowSize).Msgf("TranscribeChunksRoutine started")
	defer close(transcripts)

	var transcriptBuilder strings.Builder
	transcriptRepetitions := 0
	current := &window{}

	flush := func() {
		if len(current.pcm) == 0 {
			return
		}
		w := current
		current = &window{}

		trace := models.NewTrace("capture.session")
		trace.CreatedAt = w.capturedAt
		trace.ReceivedAt = time.Now()

		wavBytes, err := audio_utils.ConvertPCMToWav(w.pcm, w.format)
		if err != nil {
			log.Error().Err(err).Int("pcm_byte_length", len(w.pcm)).Msg("cannot convert window to wav, skipping")
			return
		}
		previousWords := transcriptBuilder.String()
		transcript, err := transcriber.SendAudio(ctx, bytes.NewReader(wavBytes), "wav", previousWords)
		if err != nil {
			log.Error().Err(err).Int("wav_chunk_byte_length", len(wavBytes)).Msg("cannot transcribe audio, skipping window")
			return
		}
		if transcript == "" {
			return
		}
		// Silence is often transcribed as the prompt words over and over.
		if len(transcript) >= 3 && strings.HasSuffix(previousWords, transcript) {
			transcriptRepetitions += 1
			log.Info().Int("repetitions", transcriptRepetitions).Str("transcript", transcript).Msg("transcript repeated previous words, skipping window")
			return
		}
		transcriptRepetitions = 0

		if transcriptBuilder.Len() > 0 {
			transcriptBuilder.WriteString(" ")
		}
		transcriptBuilder.WriteString(transcript)

		trace.ProcessedAt = time.Now()
		trace.Processor = "transcribe_open_ai_whisper"
		trace.Log()
		transcripts <- Transcript{
			Text:       transcript,
			Offset:     w.offset,
			CapturedAt: w.capturedAt,
			Duration:   w.duration(),
			Trace:      trace,
		}
	}

	for chunk := range chunks {
		if chunk.IsEmpty() {
			continue
		}
		if len(current.pcm) > 0 && chunk.Format != current.format {
			flush()
		}
		current.add(chunk)
		if current.duration() >= windowSize {
			flush()
		}
	}
	flush()

	finalTranscript := transcriptBuilder.String()
	log.Info().Msgf("TranscribeChunksRoutine ended with finalTranscript %s", finalTranscript)
	return finalTranscript
}
