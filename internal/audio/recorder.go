package audio

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"voice-dialogue/internal/config"
	"voice-dialogue/internal/vad"
)

// ErrNotRecording is returned by Stop when no streaming session is active.
var ErrNotRecording = errors.New("audio: not recording")

const (
	micEnergyFloor = 1e-6
	micPeakFloor   = 0.001
)

// SessionState is the lifecycle of the recorder's single session.
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionRecording
	SessionStopping
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "Idle"
	case SessionRecording:
		return "Recording"
	case SessionStopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

type sessionMode int

const (
	modeEndpointing sessionMode = iota
	modeStreaming
	modeProbe
)

// session is one open capture stream plus everything read from it.
type session struct {
	mode   sessionMode
	stream InputStream

	mu      sync.Mutex
	raw     []float32
	frames  int
	speech  bool
	readErr error

	stopCh    chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
	closeOnce sync.Once
}

func (s *session) requestStop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *session) append(chunk []float32, channels int) {
	s.mu.Lock()
	s.raw = append(s.raw, chunk...)
	s.frames += len(chunk) / channels
	s.mu.Unlock()
}

func (s *session) snapshot() (raw []float32, speech bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw = make([]float32, len(s.raw))
	copy(raw, s.raw)
	return raw, s.speech, s.readErr
}

// Recorder owns the input device and produces finalized mono buffers. At most
// one session is active at a time; a second request fails fast with ErrBusy.
type Recorder struct {
	dev    InputDevice
	cfg    config.AudioConfig
	log    *slog.Logger
	events dispatcher

	mu    sync.Mutex
	state SessionState
	sess  *session
}

// NewRecorder returns a Recorder reading from dev.
func NewRecorder(dev InputDevice, cfg config.AudioConfig, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{
		dev: dev,
		cfg: cfg,
		log: log.With("component", "recorder"),
	}
}

// Subscribe registers o for recording events.
func (r *Recorder) Subscribe(o Observer) (unsubscribe func()) {
	return r.events.subscribe(o)
}

// State returns the current session state.
func (r *Recorder) State() SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Recorder) params() StreamParams {
	return StreamParams{
		SampleRate:      r.cfg.SampleRate,
		Channels:        r.cfg.Channels,
		FramesPerBuffer: r.cfg.ChunkSize,
	}
}

func (r *Recorder) begin(mode sessionMode) (*session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != SessionIdle {
		return nil, ErrBusy
	}

	stream, err := r.dev.OpenInput(r.params())
	if err != nil {
		return nil, err
	}
	if err := stream.Start(); err != nil {
		if cerr := stream.Close(); cerr != nil {
			r.log.Warn("close input stream after failed start", "error", cerr)
		}
		return nil, err
	}

	s := &session{
		mode:   mode,
		stream: stream,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	r.state = SessionRecording
	r.sess = s
	return s, nil
}

// readLoop reads chunks until step reports completion, a stop is requested,
// or the device fails. Each iteration blocks for at most one chunk.
func (r *Recorder) readLoop(s *session, step func(chunk []float32) bool) {
	defer close(s.done)

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		chunk, err := s.stream.Read()
		if errors.Is(err, ErrOverflow) {
			r.log.Warn("input overflow, samples were dropped")
			err = nil
		}
		if err != nil {
			r.log.Error("read from input device failed", "error", err)
			s.mu.Lock()
			s.readErr = err
			s.mu.Unlock()
			return
		}

		s.append(chunk, r.cfg.Channels)
		if step(chunk) {
			return
		}
	}
}

// endpointStep feeds each chunk's RMS into ep and records whether speech was
// seen.
func (r *Recorder) endpointStep(s *session, ep *vad.Endpointer) func([]float32) bool {
	return func(chunk []float32) bool {
		mono := Downmix(chunk, r.cfg.Channels)
		decision := ep.Push(RMS(mono), framesToDuration(len(mono), r.cfg.SampleRate))

		s.mu.Lock()
		s.speech = ep.SpeechSeen()
		s.mu.Unlock()

		if decision != vad.Continue {
			r.log.Info("endpoint reached", "reason", decision.String(), "elapsed", ep.Elapsed())
			return true
		}
		return false
	}
}

// closeStream stops and closes the session stream exactly once.
func (r *Recorder) closeStream(s *session) {
	s.closeOnce.Do(func() {
		if err := s.stream.Stop(); err != nil {
			r.log.Warn("stop input stream", "error", err)
		}
		if err := s.stream.Close(); err != nil {
			r.log.Warn("close input stream", "error", err)
		}
	})
}

// join waits for the reader to exit, giving up after the join timeout.
func (r *Recorder) join(s *session) {
	s.requestStop()

	timer := time.NewTimer(r.cfg.JoinTimeout)
	defer timer.Stop()
	select {
	case <-s.done:
	case <-timer.C:
		r.log.Warn("reader did not stop in time, forcing teardown", "timeout", r.cfg.JoinTimeout)
	}
}

// teardown stops the reader, releases the device and returns to Idle.
func (r *Recorder) teardown(s *session) {
	r.mu.Lock()
	r.state = SessionStopping
	r.mu.Unlock()

	r.join(s)
	r.closeStream(s)

	r.mu.Lock()
	r.state = SessionIdle
	r.sess = nil
	r.mu.Unlock()
}

func (r *Recorder) finalize(raw []float32) *Buffer {
	return Finalize(raw, r.cfg.SampleRate, r.cfg.Channels, r.cfg.SilenceThreshold)
}

// RecordWithEndpointing records until speech is followed by a silence run of
// the configured length (once minDur has elapsed) or until maxDur. It returns
// ErrNoSpeech when no chunk ever exceeded the silence threshold, and
// ctx.Err() when cancelled. Device failures are returned as is; the recorder
// never retries.
func (r *Recorder) RecordWithEndpointing(ctx context.Context, minDur, maxDur time.Duration) (*Buffer, error) {
	s, err := r.begin(modeEndpointing)
	if err != nil {
		r.log.Error("cannot start recording", "error", err)
		return nil, err
	}
	r.events.emit(Event{Kind: EventRecordingStarted})

	ep := vad.New(vad.Params{
		Threshold:       r.cfg.SilenceThreshold,
		SilenceDuration: r.cfg.SilenceDuration,
		MinDuration:     minDur,
		MaxDuration:     maxDur,
	})
	go r.readLoop(s, r.endpointStep(s, ep))

	var cancelled bool
	select {
	case <-s.done:
	case <-ctx.Done():
		cancelled = true
	}
	r.teardown(s)

	raw, speech, readErr := s.snapshot()
	switch {
	case cancelled:
		r.events.emit(Event{Kind: EventRecordingStopped})
		return nil, ctx.Err()
	case readErr != nil && !speech:
		r.events.emit(Event{Kind: EventRecordingStopped})
		return nil, readErr
	case !speech:
		r.log.Info("no speech detected", "captured", framesToDuration(len(raw)/r.cfg.Channels, r.cfg.SampleRate))
		r.events.emit(Event{Kind: EventRecordingStopped})
		return nil, ErrNoSpeech
	}

	buf := r.finalize(raw)
	r.log.Info("recording finished", "captured", buf.Captured, "duration", buf.Duration())
	r.events.emit(Event{Kind: EventRecordingStopped, Buffer: buf})
	return buf, nil
}

// StartStreaming starts a continuous recording. onChunk, if non-nil, is called
// on the reader goroutine with every raw chunk and must not block. Reading
// ends on its own after the silence run or the record timeout, or when ctx is
// done; the device is released at that point. Stop collects the result.
func (r *Recorder) StartStreaming(ctx context.Context, onChunk func(chunk []float32)) error {
	s, err := r.begin(modeStreaming)
	if err != nil {
		r.log.Error("cannot start streaming", "error", err)
		return err
	}
	r.events.emit(Event{Kind: EventRecordingStarted})

	ep := vad.New(vad.Params{
		Threshold:       r.cfg.SilenceThreshold,
		SilenceDuration: r.cfg.SilenceDuration,
		MaxDuration:     r.cfg.RecordTimeout,
	})
	step := r.endpointStep(s, ep)
	go r.readLoop(s, func(chunk []float32) bool {
		if onChunk != nil {
			onChunk(chunk)
		}
		return step(chunk)
	})

	go func() {
		select {
		case <-s.done:
		case <-ctx.Done():
			r.join(s)
		}
		r.closeStream(s)
	}()
	return nil
}

// Stop ends a streaming session and returns its finalized buffer. It is safe
// to call from any goroutine; without an active streaming session it returns
// ErrNotRecording. An endpointing recording in progress is asked to stop and
// delivers its own result; Stop then returns nil, nil.
func (r *Recorder) Stop() (*Buffer, error) {
	r.mu.Lock()
	s := r.sess
	state := r.state
	r.mu.Unlock()

	if s == nil || state != SessionRecording {
		return nil, ErrNotRecording
	}
	if s.mode != modeStreaming {
		s.requestStop()
		return nil, nil
	}

	r.teardown(s)

	raw, _, readErr := s.snapshot()
	if len(raw) == 0 {
		r.events.emit(Event{Kind: EventRecordingStopped})
		if readErr != nil {
			return nil, readErr
		}
		return nil, ErrNoSpeech
	}

	buf := r.finalize(raw)
	r.log.Info("streaming recording stopped", "captured", buf.Captured, "duration", buf.Duration())
	r.events.emit(Event{Kind: EventRecordingStopped, Buffer: buf})
	return buf, nil
}

// TestMicrophone records for d and reports whether the input shows any sign
// of life.
func (r *Recorder) TestMicrophone(ctx context.Context, d time.Duration) bool {
	s, err := r.begin(modeProbe)
	if err != nil {
		r.log.Error("microphone test failed to start", "error", err)
		return false
	}

	need := int(d.Seconds() * float64(r.cfg.SampleRate))
	go r.readLoop(s, func([]float32) bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.frames >= need
	})

	select {
	case <-s.done:
	case <-ctx.Done():
	}
	r.teardown(s)

	raw, _, readErr := s.snapshot()
	if len(raw) == 0 {
		r.log.Error("microphone test captured no audio", "error", readErr)
		return false
	}

	mono := Downmix(raw, r.cfg.Channels)
	energy, peak := Energy(mono), Peak(mono)
	r.log.Info("microphone test finished", "energy", energy, "peak", peak,
		"speech", HasSpeech(mono, r.cfg.SilenceThreshold))
	if energy > micEnergyFloor || peak > micPeakFloor {
		return true
	}
	r.log.Warn("microphone appears silent")
	return false
}
