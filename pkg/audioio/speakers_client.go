package audioio

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/petrzlen/audiorecord-golang/pkg/models"
	"github.com/rs/zerolog/log"
)

// speakers monitors the capture on the default output device.
//
// The state flow is:
//  1. player == nil => idle
//  2. Play grabs mutex => playing, a monitor routine watches the player
//  3. Stop (or playback done) grabs mutex, pauses the player and waits for the monitor to close it.
//  4. Before another Play, wait on the returned WaitGroup or call Stop().
//
// Invariant: there is at most one playerMonitorRoutine running at the same time.
type speakers struct {
	otoContext *oto.Context

	player *oto.Player
	done   *sync.WaitGroup

	mutex    sync.Mutex // Protects player, done and stopFlag
	stopFlag bool
}

func otoFormat(bitsPerSample int) (oto.Format, error) {
	switch bitsPerSample {
	case 8:
		return oto.FormatUnsignedInt8, nil
	case 16:
		return oto.FormatSignedInt16LE, nil
	default:
		return 0, fmt.Errorf("speakers cannot play %d bits per sample", bitsPerSample)
	}
}

// NewSpeakers must be called at most once per process, oto allows a single context.
func NewSpeakers(format models.Format) (OutputDevice, error) {
	sampleFormat, err := otoFormat(format.BitsPerSample)
	if err != nil {
		return nil, err
	}
	op := &oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       sampleFormat,
	}

	log.Info().Int("sample_rate", format.SampleRate).Int("channels", format.Channels).Msg("oto context - will wait until ready")
	otoCtx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, err
	}
	<-readyChan // about 200ms empirically
	log.Info().Msg("oto context ready")

	return &speakers{otoContext: otoCtx}, nil
}

// Play plays the entire stream and returns a WaitGroup if a routine wants to block until done.
func (s *speakers) Play(audioOutput io.Reader) (*sync.WaitGroup, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.player != nil {
		return nil, fmt.Errorf("speakers are busy, call Stop or wait for the previous Play")
	}

	s.done = &sync.WaitGroup{}
	s.done.Add(1)
	s.player = s.otoContext.NewPlayer(audioOutput)
	s.player.Play()

	go s.playerMonitorRoutine()
	return s.done, nil
}

func (s *speakers) Stop() error {
	s.mutex.Lock()
	if s.stopFlag {
		s.mutex.Unlock()
		return fmt.Errorf("double-stop called, the player is already being stopped")
	}
	if s.player == nil {
		s.mutex.Unlock()
		return nil
	}

	s.stopFlag = true
	s.player.Pause()
	untilStopped := s.done // copied, the monitor resets it
	s.mutex.Unlock()

	untilStopped.Wait()
	return nil
}

func (s *speakers) playerMonitorRoutine() {
	defer s.done.Done()

	startTime := time.Now()
	for {
		s.mutex.Lock()
		playing := s.player.IsPlaying()
		stop := s.stopFlag
		s.mutex.Unlock()

		if !playing || stop {
			break
		}
		time.Sleep(time.Millisecond)
	}

	// The only place resetting player, so the unlocked gap above is fine.
	s.mutex.Lock()
	if err := s.player.Close(); err != nil {
		log.Error().Err(err).Msg("player.Close failed")
	}
	s.player = nil
	s.stopFlag = false
	s.mutex.Unlock()

	log.Trace().Dur("playback_duration", time.Since(startTime)).Msg("playback done")
}
