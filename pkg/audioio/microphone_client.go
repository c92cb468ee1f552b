// TLDR; Go itself cannot work with Microphone's well
// BUT it can bind with C-libraries which can do this with a bit of black-magic.
package audioio

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/petrzlen/audiorecord-golang/pkg/models"
	"github.com/rs/zerolog/log"
)

func dbg(err error) {
	if err != nil {
		log.Debug().Err(err).Msg("sth non-essential failed")
	}
}

type microphone struct {
	// audioSource selects a capture device by its malgo ID string, empty means default.
	audioSource string

	mu           sync.Mutex
	malgoContext *malgo.AllocatedContext
	device       *malgo.Device
	clock        func() time.Time

	recordingStart time.Time
}

// NewMicrophone is a miniaudio backed InputDevice. Nothing is acquired until Start.
func NewMicrophone(audioSource string) InputDevice {
	return &microphone{
		audioSource: audioSource,
		clock:       time.Now,
	}
}

func malgoFormat(bitsPerSample int) (malgo.FormatType, error) {
	switch bitsPerSample {
	case 8:
		return malgo.FormatU8, nil
	case 16:
		return malgo.FormatS16, nil
	default:
		return malgo.FormatUnknown, fmt.Errorf("unsupported bits per sample %d", bitsPerSample)
	}
}

// Start inits the malgo context and device, and starts capturing.
// Mostly from https://github.com/gen2brain/malgo/blob/master/_examples/capture/capture.go
func (m *microphone) Start(format models.Format, onFrames FrameCallback) (actual models.Format, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device != nil {
		err = fmt.Errorf("microphone already started")
		return
	}

	sampleFormat, err := malgoFormat(format.BitsPerSample)
	if err != nil {
		return
	}

	log.Info().Msg("malgo init context (miniaudio)")
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Debug().Msg(strings.Replace("malgo devices: "+message, "\n", "", -1))
	})
	if err != nil {
		err = fmt.Errorf("cannot init malgo context %w", err)
		return
	}
	// Released on every failure path below.
	release := func() {
		dbg(ctx.Uninit())
		ctx.Free()
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = sampleFormat
	deviceConfig.Capture.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = uint32(format.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	if m.audioSource != "" {
		var infos []malgo.DeviceInfo
		infos, err = ctx.Devices(malgo.Capture)
		if err != nil {
			release()
			err = fmt.Errorf("cannot list capture devices %w", err)
			return
		}
		found := false
		for i := range infos {
			if infos[i].ID.String() == m.audioSource {
				deviceConfig.Capture.DeviceID = infos[i].ID.Pointer()
				found = true
				break
			}
		}
		if !found {
			release()
			err = fmt.Errorf("capture device %q not found", m.audioSource)
			return
		}
	}

	// Empirically about every 10ms at 44100Hz. Hot path: no logging, no locking.
	onRecvFrames := func(pOutputSample, pInputSamples []byte, framecount uint32) {
		onFrames(pInputSamples, m.clock())
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onRecvFrames,
	})
	if err != nil {
		release()
		err = fmt.Errorf("cannot init malgo device with config %v: %w", deviceConfig, err)
		return
	}

	log.Info().Int("sample_rate", format.SampleRate).Int("channels", format.Channels).Int("bits_per_sample", format.BitsPerSample).Msg("malgo START recording...")
	if err = device.Start(); err != nil {
		device.Uninit()
		release()
		err = fmt.Errorf("cannot start malgo device %w", err)
		return
	}

	m.malgoContext = ctx
	m.device = device
	m.recordingStart = m.clock()
	actual = models.Format{
		SampleRate:    int(device.SampleRate()),
		Channels:      int(device.CaptureChannels()),
		BitsPerSample: format.BitsPerSample,
	}
	return
}

func (m *microphone) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device == nil {
		return nil
	}

	log.Info().Dur("recording_duration", m.clock().Sub(m.recordingStart)).Msg("malgo STOP recording")
	err := m.device.Stop()
	m.device.Uninit()
	dbg(m.malgoContext.Uninit())
	m.malgoContext.Free()

	m.device = nil
	m.malgoContext = nil
	return err
}
