package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/petrzlen/audiorecord-golang/internal/networking"
	"github.com/petrzlen/audiorecord-golang/pkg/audioio"
	"github.com/petrzlen/audiorecord-golang/pkg/capture"
	"github.com/petrzlen/audiorecord-golang/pkg/transcriber"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// flag name -> config key, the keys match capture.Config mapstructure tags
var recordFlags = map[string]string{
	"sample-rate":     "sample_rate",
	"channels":        "channels",
	"bits":            "bits_per_sample",
	"source":          "audio_source",
	"wav":             "wav_file",
	"capacity-bytes":  "capacity_bytes",
	"ledger-entries":  "ledger_entries",
	"max-chunk-bytes": "max_chunk_bytes",
	"drain-interval":  "drain_interval",
	"overflow-policy": "overflow_policy",
	"block-timeout":   "block_timeout",
	"input":           "input",
	"duration":        "duration",
	"events":          "events",
	"ws-addr":         "ws_addr",
	"monitor":         "monitor",
	"transcribe":      "transcribe",
	"window":          "transcribe_window",
}

func newRecordCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record until interrupted, --duration elapsed or the --input file ended",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(cmd, v)
		},
	}

	d := capture.DefaultConfig()
	f := cmd.Flags()
	f.Int("sample-rate", d.SampleRate, "requested sample rate, the device may pick another")
	f.Int("channels", d.Channels, "1 or 2")
	f.Int("bits", d.BitsPerSample, "8 or 16 bits per sample")
	f.String("source", "", "input device id, empty for the default microphone")
	f.String("wav", "", "write the recording to this WAV file")
	f.Int("capacity-bytes", 0, "ring buffer size, 0 for a minute of audio")
	f.Int("ledger-entries", d.LedgerEntries, "timestamp ledger size")
	f.Int("max-chunk-bytes", 0, "cap on a single drained chunk, 0 for no cap")
	f.Duration("drain-interval", d.DrainInterval, "how often the buffer is drained")
	f.String("overflow-policy", "", "drop or block, block is the default for --input")
	f.Duration("block-timeout", d.BlockTimeout, "how long block waits for the consumer")
	f.String("input", "", "replay a wav, mp3 or flac file instead of the microphone")
	f.Duration("duration", 0, "stop after this long, 0 to record until interrupted")
	f.Bool("events", true, "print a JSON line per drained chunk to stdout")
	f.String("ws-addr", "", "serve chunk events to websocket listeners on this address, e.g. :8081")
	f.Bool("monitor", false, "play the capture on the speakers")
	f.Bool("transcribe", false, "transcribe with OpenAI Whisper, needs OPEN_AI_API_KEY")
	f.Duration("window", transcriber.DefaultWindow, "audio per transcription request")
	for flag, key := range recordFlags {
		_ = v.BindPFlag(key, f.Lookup(flag))
	}
	return cmd
}

func loadCaptureConfig(v *viper.Viper) (cfg capture.Config, err error) {
	cfg = capture.DefaultConfig()
	if err = v.Unmarshal(&cfg); err != nil {
		err = errors.Wrap(err, "cannot read capture config")
		return
	}
	if cfg.OverflowPolicy == "" && v.GetString("input") != "" {
		// A file has no real-time deadline, waiting beats losing audio.
		cfg.OverflowPolicy = capture.Block
	}
	return
}

func setupSignalHandler(cleanup func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigs
		log.Info().Msgf("Received signal: %v", sig)
		cleanup()
	}()
}

func runRecord(cmd *cobra.Command, v *viper.Viper) error {
	cfg, err := loadCaptureConfig(v)
	if err != nil {
		return err
	}

	var device audioio.InputDevice
	var inputDone <-chan struct{}
	if input := v.GetString("input"); input != "" {
		source := audioio.NewFileSource(afero.NewOsFs(), input)
		device, inputDone = source, source.Done()
	} else {
		device = audioio.NewMicrophone(cfg.AudioSource)
	}

	var sinks []audioio.Sink
	var closers []func()
	var routines sync.WaitGroup
	defer func() {
		for _, closeSink := range closers {
			closeSink()
		}
		routines.Wait()
	}()

	if v.GetBool("events") {
		sinks = append(sinks, audioio.NewJSONLinesSink(cmd.OutOrStdout()))
	}

	if addr := v.GetString("ws_addr"); addr != "" {
		hub := networking.NewHub(networking.DefaultClientBufferSize)
		mux := http.NewServeMux()
		mux.HandleFunc("/listen", hub.HandlerFunc())
		server := &http.Server{Addr: addr, Handler: mux}
		go func() {
			log.Info().Str("addr", addr).Msg("serving chunk events on /listen")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("websocket server failed")
			}
		}()
		sinks = append(sinks, hub)
		closers = append(closers, func() {
			hub.Close()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			dbg(server.Shutdown(shutdownCtx))
		})
	}

	if v.GetBool("monitor") {
		speakers, err := audioio.NewSpeakers(cfg.Format())
		if err != nil {
			return errors.Wrap(err, "cannot open speakers")
		}
		monitorSink := audioio.NewChanSink(64)
		sinks = append(sinks, monitorSink)
		routines.Add(1)
		go func() {
			defer routines.Done()
			audioio.PlayChunksRoutine(speakers, monitorSink.Chunks())
		}()
		closers = append(closers, monitorSink.Close)
	}

	if v.GetBool("transcribe") {
		apiKey := v.GetString("open_ai_api_key")
		if apiKey == "" {
			return errors.New("OPEN_AI_API_KEY is not set")
		}
		whisper := transcriber.NewOpenAIWhisper(openai.NewClient(apiKey))
		transcribeSink := audioio.NewChanSink(256)
		transcripts := make(chan transcriber.Transcript, 16)
		sinks = append(sinks, transcribeSink)
		routines.Add(2)
		go func() {
			defer routines.Done()
			transcriber.TranscribeChunksRoutine(cmd.Context(), whisper, transcribeSink.Chunks(), v.GetDuration("transcribe_window"), transcripts)
		}()
		go func() {
			defer routines.Done()
			for tr := range transcripts {
				log.Info().Uint64("offset", tr.Offset).Time("captured_at", tr.CapturedAt).Str("text", tr.Text).Msg("transcript")
			}
		}()
		closers = append(closers, transcribeSink.Close)
	}

	session, err := capture.NewSession(cfg, device, capture.WithSinks(sinks...))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	setupSignalHandler(cancel)

	if err := session.Start(ctx); err != nil {
		return err
	}

	var deadline <-chan time.Time
	if duration := v.GetDuration("duration"); duration > 0 {
		deadline = time.After(duration)
	}
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

wait:
	for {
		select {
		case <-ctx.Done():
			break wait
		case <-deadline:
			break wait
		case <-inputDone:
			break wait
		case <-ticker.C:
			if session.State() == capture.Idle {
				break wait
			}
		}
	}

	result, stopErr := session.Stop(context.Background())
	if failure := session.Err(); failure != nil {
		return errors.Wrap(failure, "capture session failed")
	}
	if stopErr != nil {
		return stopErr
	}

	summary, err := json.Marshal(result)
	if err != nil {
		return errors.Wrap(err, "cannot marshal result")
	}
	log.Info().RawJSON("result", summary).Msg("recording finished")
	return nil
}

func dbg(err error) {
	if err != nil {
		log.Debug().Err(err).Msg("sth non-essential failed")
	}
}
