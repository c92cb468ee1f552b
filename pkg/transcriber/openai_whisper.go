package transcriber

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
)

const whisperModel = "whisper-1"

type openAIWhisper struct {
	client *openai.Client
}

func NewOpenAIWhisper(client *openai.Client) Transcriber {
	return &openAIWhisper{
		client: client,
	}
}

func (o *openAIWhisper) SendAudio(ctx context.Context, input io.Reader, fileExtension string, prompt string) (result string, err error) {
	startTime := time.Now()
	req := openai.AudioRequest{
		Model:  whisperModel,
		Reader: input,
		// Only the extension matters, it tells the API how to decode the reader.
		FilePath: fmt.Sprintf("capture.%s", fileExtension),
		// NOTE: Giving the model the previous words improves accuracy.
		// Whisper can take up to 244 tokens, if more are passed than only the last are used.
		Prompt: prompt,
	}

	log.Debug().Str("model", req.Model).Str("prompt", prompt).Msg("create transcription request")
	resp, err := o.client.CreateTranscription(ctx, req)
	if err != nil {
		err = errors.Wrap(err, "cannot create transcription")
		return
	}

	result = stripSilenceHallucinations(resp.Text)
	if result != resp.Text {
		log.Info().Str("original_text", resp.Text).Str("processed_text", result).Msg("transcription post-processing removed some text")
	}

	log.Debug().Str("transcription", result).Dur("time_elapsed", time.Since(startTime)).Msg("received transcription")
	return
}

var nonASCII = regexp.MustCompile(`[^\x00-\x7F]+`)

// stripSilenceHallucinations drops what Whisper tends to invent for silent audio, e.g.
// MBC 뉴스 이덕영입니다. Yeah, tell me. a bit about uh, written  in 100 words.  MBC 뉴스 이덕영입니다.
func stripSilenceHallucinations(text string) string {
	text = nonASCII.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "MBC", "")
	return strings.TrimSpace(text)
}
