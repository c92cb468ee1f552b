package capture

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/petrzlen/audiorecord-golang/pkg/audio_utils"
	"github.com/petrzlen/audiorecord-golang/pkg/audioio"
	"github.com/petrzlen/audiorecord-golang/pkg/ledger"
	"github.com/petrzlen/audiorecord-golang/pkg/models"
	"github.com/petrzlen/audiorecord-golang/pkg/ringbuffer"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

type State int32

const (
	Idle State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type Stats struct {
	BytesWritten  uint64 `json:"bytes_written"`
	BytesConsumed uint64 `json:"bytes_consumed"`
	// BytesDropped were rejected by a full buffer or ledger, the device kept running.
	BytesDropped    uint64 `json:"bytes_dropped"`
	DroppedWrites   uint64 `json:"dropped_writes"`
	ChunksDelivered uint64 `json:"chunks_delivered"`
	LedgerEntries   int    `json:"ledger_entries"`
}

// Result summarizes a finished recording.
type Result struct {
	SessionID string        `json:"session_id"`
	FilePath  string        `json:"file_path,omitempty"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Format    models.Format `json:"format"`
	Stats     Stats         `json:"stats"`
}

type Option func(*Session)

// WithSinks receive every drained chunk, in order, from the consumer goroutine.
func WithSinks(sinks ...audioio.Sink) Option {
	return func(s *Session) {
		s.sinks = append(s.sinks, sinks...)
	}
}

// WithFs sets the filesystem the WAV file is written to, the OS one by default.
func WithFs(fs afero.Fs) Option {
	return func(s *Session) {
		s.fs = fs
	}
}

func WithClock(clock func() time.Time) Option {
	return func(s *Session) {
		s.clock = clock
	}
}

// Session wires an input device to the ring buffer and the timestamp ledger.
// The device callback is the only producer, the drain path the only consumer.
//
// Lifecycle: Idle -> Starting -> Running (first callback) -> Stopping -> Idle.
// Start and Stop may be called from any goroutine, except Stop from a sink.
type Session struct {
	cfg    Config
	device audioio.InputDevice
	sinks  []audioio.Sink
	fs     afero.Fs
	clock  func() time.Time

	state atomic.Int32
	// lifecycle serializes Start with the release of resources.
	lifecycle sync.Mutex
	// drainMu keeps the consumer role single, the loop and Drain share it.
	drainMu sync.Mutex

	current atomic.Pointer[run]

	errMu sync.Mutex
	err   error
}

// run holds everything owned by one Start..Stop cycle.
type run struct {
	id        string
	buffer    *ringbuffer.Buffer
	ledger    *ledger.Ledger
	wav       *audio_utils.WavFileWriter
	format    models.Format
	startTime time.Time

	// live until finished, a Drain holding an older run must not touch it
	live atomic.Bool

	// producer side
	accepting      atomic.Bool
	inflight       atomic.Int32
	written        uint64 // only touched by the device callback
	producerCtx    context.Context
	cancelProducer context.CancelFunc

	// consumer side
	consumed        atomic.Uint64
	delivered       atomic.Uint64
	reportedDropped uint64 // guarded by drainMu

	dropped       atomic.Uint64
	droppedWrites atomic.Uint64

	wake       chan struct{}
	loopCtx    context.Context
	cancelLoop context.CancelFunc
	loopDone   chan struct{} // nil with ManualDrain
}

func NewSession(cfg Config, device audioio.InputDevice, opts ...Option) (*Session, error) {
	if device == nil {
		return nil, errors.New("capture session needs an input device")
	}
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	s := &Session{
		cfg:    cfg,
		device: device,
		fs:     afero.NewOsFs(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) Config() Config {
	return s.cfg
}

// ID of the current or last recording, empty before the first Start.
func (s *Session) ID() string {
	if r := s.current.Load(); r != nil {
		return r.id
	}
	return ""
}

// Format the device actually delivers, it may differ from the requested one.
func (s *Session) Format() models.Format {
	if r := s.current.Load(); r != nil && r.format.SampleRate > 0 {
		return r.format
	}
	return s.cfg.Format()
}

// Err returns the error which ended the last recording on its own, if any.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Session) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	s.err = err
}

// Stats are safe to read at any time, also after Stop.
func (s *Session) Stats() Stats {
	r := s.current.Load()
	if r == nil {
		return Stats{}
	}
	return r.stats()
}

func (r *run) stats() Stats {
	return Stats{
		BytesWritten:    r.buffer.WriteOffset(),
		BytesConsumed:   r.consumed.Load(),
		BytesDropped:    r.dropped.Load(),
		DroppedWrites:   r.droppedWrites.Load(),
		ChunksDelivered: r.delivered.Load(),
		LedgerEntries:   r.ledger.Len(),
	}
}

// Start acquires the buffer, the ledger, the device and the WAV file, in this order.
// On failure everything acquired so far is released and the session is Idle again.
func (s *Session) Start(ctx context.Context) (err error) {
	// Taken before the transition, so a concurrent Stop sees either Idle or a complete run.
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if !s.state.CompareAndSwap(int32(Idle), int32(Starting)) {
		return errors.Wrapf(ErrAlreadyRunning, "state %s", s.State())
	}
	defer func() {
		if err != nil {
			s.state.Store(int32(Idle))
		}
	}()

	if err := ctx.Err(); err != nil {
		return &ResourceAcquisitionError{Resource: "context", Err: err}
	}

	r := &run{
		id:   uuid.NewString(),
		wake: make(chan struct{}, 1),
	}
	if r.buffer, err = ringbuffer.New(s.cfg.CapacityBytes); err != nil {
		return &ResourceAcquisitionError{Resource: "ring buffer", Err: err}
	}
	if r.ledger, err = ledger.New(s.cfg.LedgerEntries); err != nil {
		return &ResourceAcquisitionError{Resource: "timestamp ledger", Err: err}
	}
	r.producerCtx, r.cancelProducer = context.WithCancel(context.Background())
	r.loopCtx, r.cancelLoop = context.WithCancel(context.Background())

	s.setErr(nil)
	r.live.Store(true)
	s.current.Store(r)
	r.startTime = s.clock()
	r.accepting.Store(true)

	format, err := s.device.Start(s.cfg.Format(), s.onFrames(r))
	if err != nil {
		s.silence(r)
		return &ResourceAcquisitionError{Resource: "input device", Err: err}
	}
	r.format = format

	if s.cfg.WavFile != "" {
		r.wav, err = audio_utils.NewWavFileWriter(s.fs, s.cfg.WavFile, format)
		if err != nil {
			s.silence(r)
			if stopErr := s.device.Stop(); stopErr != nil {
				log.Error().Err(stopErr).Msg("cannot stop input device after a failed start")
			}
			return &ResourceAcquisitionError{Resource: "wav file", Err: err}
		}
	}

	if !s.cfg.ManualDrain {
		r.loopDone = make(chan struct{})
		go s.drainLoop(r)
	}

	log.Info().
		Str("session_id", r.id).
		Int("sample_rate", format.SampleRate).
		Int("channels", format.Channels).
		Int("bits_per_sample", format.BitsPerSample).
		Int("capacity_bytes", s.cfg.CapacityBytes).
		Str("wav_file", s.cfg.WavFile).
		Msg("capture session started")
	return nil
}

// silence stops accepting deliveries and waits for the callbacks already inside.
func (s *Session) silence(r *run) {
	r.accepting.Store(false)
	r.cancelProducer()
	for r.inflight.Load() > 0 {
		runtime.Gosched()
	}
}

// onFrames is the producer. It runs on the device thread: no logging, no locks,
// and no waiting unless the policy is Block.
func (s *Session) onFrames(r *run) audioio.FrameCallback {
	return func(frames []byte, capturedAt time.Time) {
		r.inflight.Add(1)
		defer r.inflight.Add(-1)
		if !r.accepting.Load() || len(frames) == 0 {
			return
		}
		s.state.CompareAndSwap(int32(Starting), int32(Running))

		n := len(frames)
		if !r.fits(n) && s.cfg.OverflowPolicy == Block && n <= r.buffer.Capacity() {
			s.waitForRoom(r, n)
		}
		if !r.fits(n) {
			r.dropped.Add(uint64(n))
			r.droppedWrites.Add(1)
			r.signal()
			return
		}

		// The entry goes in before the bytes are published so that the consumer
		// never sees bytes it cannot attribute.
		end := r.written + uint64(n)
		if err := r.ledger.Record(end, capturedAt); err != nil {
			r.dropped.Add(uint64(n))
			r.droppedWrites.Add(1)
			return
		}
		if err := r.buffer.Append(frames); err != nil {
			// Unreachable with a single producer, free space only grows under us.
			r.dropped.Add(uint64(n))
			r.droppedWrites.Add(1)
			return
		}
		r.written = end

		if r.buffer.Available() >= r.buffer.Capacity()/2 {
			r.signal()
		}
	}
}

func (r *run) fits(n int) bool {
	return n <= r.buffer.Free() && !r.ledger.Full()
}

// signal asks the drain loop for an early pass.
func (r *run) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (s *Session) waitForRoom(r *run, n int) {
	ctx, cancel := context.WithTimeout(r.producerCtx, s.cfg.BlockTimeout)
	defer cancel()
	r.signal()
	for !r.fits(n) {
		if err := r.buffer.WaitConsumed(ctx); err != nil {
			return
		}
	}
}

// Drain moves up to MaxChunkBytes from the buffer to the WAV file and the sinks,
// returning the chunk. An empty chunk means there was nothing to drain.
// A chunk whose bytes cannot be attributed to a capture time ends the session.
func (s *Session) Drain(ctx context.Context) (models.AudioChunk, error) {
	r := s.current.Load()
	if r == nil || !r.live.Load() || !s.active() {
		return models.AudioChunk{}, ErrNotRunning
	}
	chunk, err := s.drain(ctx, r)
	if errors.Is(err, ledger.ErrNotFound) {
		s.abort(r, err)
	}
	return chunk, err
}

func (s *Session) active() bool {
	st := s.State()
	return st == Starting || st == Running
}

func (s *Session) drain(ctx context.Context, r *run) (chunk models.AudioChunk, err error) {
	s.drainMu.Lock()
	defer s.drainMu.Unlock()

	if dropped := r.dropped.Load(); dropped > r.reportedDropped {
		log.Warn().
			Str("session_id", r.id).
			Uint64("bytes_dropped", dropped-r.reportedDropped).
			Uint64("dropped_writes", r.droppedWrites.Load()).
			Msg("capture buffer overflow, deliveries dropped")
		r.reportedDropped = dropped
	}

	n := r.buffer.Available()
	if limit := s.cfg.MaxChunkBytes; limit > 0 && n > limit {
		n = limit
	}
	if n == 0 {
		return models.AudioChunk{}, nil
	}

	start := r.consumed.Load()
	data := r.buffer.Consume(n)
	end := start + uint64(len(data))
	r.consumed.Store(end)

	capturedAt, err := r.ledger.TimestampFor(start, end)
	if err != nil {
		return models.AudioChunk{}, errors.Wrapf(err, "bytes [%d, %d)", start, end)
	}
	r.ledger.ReleaseThrough(end)

	chunk = models.AudioChunk{
		Data:       data,
		Offset:     start,
		CapturedAt: capturedAt,
		Format:     r.format,
	}

	if r.wav != nil {
		if _, wavErr := r.wav.Write(data); wavErr != nil {
			err = errors.Wrap(wavErr, "cannot write wav file")
		}
	}
	for _, sink := range s.sinks {
		if sinkErr := sink.Deliver(ctx, chunk); sinkErr != nil && err == nil {
			err = errors.Wrapf(sinkErr, "sink failed for offset %d", start)
		}
	}
	r.delivered.Add(1)
	return chunk, err
}

func (s *Session) drainLoop(r *run) {
	defer close(r.loopDone)

	ticker := time.NewTicker(s.cfg.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.loopCtx.Done():
			return
		case <-ticker.C:
		case <-r.wake:
		}

		for {
			chunk, err := s.drain(r.loopCtx, r)
			if errors.Is(err, ledger.ErrNotFound) {
				// Stop waits for this loop, so the release happens elsewhere.
				if s.beginStop() {
					s.setErr(err)
					go s.release(r, err)
				}
				return
			}
			if err != nil {
				log.Error().Err(err).Str("session_id", r.id).Msg("drain failed")
			}
			if chunk.IsEmpty() || r.loopCtx.Err() != nil {
				break
			}
		}
	}
}

// abort ends the session from a caller of Drain, without flushing.
func (s *Session) abort(r *run, cause error) {
	if !s.beginStop() {
		return
	}
	s.setErr(cause)
	s.release(r, cause)
}

func (s *Session) release(r *run, cause error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	log.Error().Err(cause).Str("session_id", r.id).Msg("capture session failed, releasing resources")
	if _, err := s.finish(context.Background(), r, false); err != nil {
		log.Error().Err(err).Str("session_id", r.id).Msg("release after failure")
	}
}

func (s *Session) beginStop() bool {
	for {
		st := s.state.Load()
		if st != int32(Starting) && st != int32(Running) {
			return false
		}
		if s.state.CompareAndSwap(st, int32(Stopping)) {
			return true
		}
	}
}

// Stop flushes what is left in the buffer, releases the device exactly once,
// finalizes the WAV file and returns the session to Idle.
// Stopping an Idle session is a no-op returning an empty Result.
func (s *Session) Stop(ctx context.Context) (Result, error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	r := s.current.Load()
	if r == nil || !s.beginStop() {
		return Result{}, nil
	}
	return s.finish(ctx, r, true)
}

// finish expects the state to be Stopping and the lifecycle lock held.
func (s *Session) finish(ctx context.Context, r *run, flush bool) (result Result, err error) {
	defer s.state.Store(int32(Idle))
	defer r.live.Store(false)

	s.silence(r)
	r.cancelLoop()
	if r.loopDone != nil {
		<-r.loopDone
	}

	for flush {
		chunk, drainErr := s.drain(ctx, r)
		if drainErr != nil {
			log.Error().Err(drainErr).Str("session_id", r.id).Msg("flush on stop")
			if err == nil {
				err = drainErr
			}
			if errors.Is(drainErr, ledger.ErrNotFound) || ctx.Err() != nil {
				break
			}
		}
		if chunk.IsEmpty() {
			break
		}
	}

	if stopErr := s.device.Stop(); stopErr != nil && err == nil {
		err = errors.Wrap(stopErr, "cannot stop input device")
	}

	// After a failure the file keeps whatever was drained before it.
	if r.wav != nil {
		if closeErr := r.wav.Close(); closeErr != nil && err == nil {
			err = errors.Wrap(closeErr, "cannot finalize wav file")
		}
	}

	result = Result{
		SessionID: r.id,
		StartTime: r.startTime,
		EndTime:   s.clock(),
		Format:    r.format,
		Stats:     r.stats(),
	}
	if r.wav != nil {
		result.FilePath = r.wav.Path()
	}

	log.Info().
		Str("session_id", r.id).
		Uint64("bytes_written", result.Stats.BytesWritten).
		Uint64("bytes_consumed", result.Stats.BytesConsumed).
		Uint64("bytes_dropped", result.Stats.BytesDropped).
		Dur("duration", result.EndTime.Sub(result.StartTime)).
		Msg("capture session stopped")
	return result, err
}
