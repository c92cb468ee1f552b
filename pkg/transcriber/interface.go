package transcriber

import (
	"context"
	"io"
	"time"

	"github.com/petrzlen/audiorecord-golang/pkg/models"
)

type Transcriber interface {
	SendAudio(ctx context.Context, input io.Reader, fileExtension string, prompt string) (result string, err error)
}

// Transcript is the text of a window of captured audio.
type Transcript struct {
	Text string
	// Offset and CapturedAt are those of the first chunk in the window.
	Offset     uint64
	CapturedAt time.Time
	Duration   time.Duration
	Trace      models.Trace
}
