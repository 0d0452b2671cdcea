package audio

import (
	"bytes"
	"log/slog"
	"sync"
	"time"

	"voice-dialogue/internal/config"
)

func testAudioConfig() config.AudioConfig {
	cfg := config.Default().Audio
	cfg.SampleRate = 16000
	cfg.Channels = 1
	cfg.ChunkSize = 1600
	cfg.SilenceThreshold = 0.01
	cfg.SilenceDuration = 2 * time.Second
	cfg.JoinTimeout = 100 * time.Millisecond
	return cfg
}

// constChunk returns a DC chunk whose RMS equals level.
func constChunk(level float32, n int) []float32 {
	c := make([]float32, n)
	for i := range c {
		c[i] = level
	}
	return c
}

// scriptedInput replays chunks and then returns silence forever. When gate is
// non-nil every Read waits for it (or for Close). errs attaches an error to
// the read with that index; the chunk is still returned.
type scriptedInput struct {
	mu      sync.Mutex
	chunks  [][]float32
	errs    map[int]error
	size    int
	reads   int
	started bool
	stopped bool

	gate   chan struct{}
	closed chan struct{}
	once   sync.Once
}

func newScriptedInput(size int, chunks ...[]float32) *scriptedInput {
	return &scriptedInput{chunks: chunks, size: size, closed: make(chan struct{})}
}

func (s *scriptedInput) Start() error {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

func (s *scriptedInput) Read() ([]float32, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-s.closed:
			return nil, ErrDeviceUnavailable
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.reads
	s.reads++
	err := s.errs[i]
	if i < len(s.chunks) {
		out := make([]float32, len(s.chunks[i]))
		copy(out, s.chunks[i])
		return out, err
	}
	return make([]float32, s.size), err
}

func (s *scriptedInput) Stop() error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	return nil
}

func (s *scriptedInput) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *scriptedInput) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type fakeInputDevice struct {
	stream *scriptedInput
	err    error
	opens  int
}

func (d *fakeInputDevice) OpenInput(StreamParams) (InputStream, error) {
	d.opens++
	if d.err != nil {
		return nil, d.err
	}
	return d.stream, nil
}

// recordingOutput stores everything written. When gate is non-nil each Write
// waits for a token from it.
type recordingOutput struct {
	mu      sync.Mutex
	written []float32
	writes  int
	closed  bool
	gate    chan struct{}
	err     error
}

func (o *recordingOutput) Start() error { return nil }

func (o *recordingOutput) Write(chunk []float32) error {
	if o.gate != nil {
		<-o.gate
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.written = append(o.written, chunk...)
	o.writes++
	return nil
}

func (o *recordingOutput) Stop() error { return nil }

func (o *recordingOutput) Close() error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	return nil
}

func (o *recordingOutput) samples() []float32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]float32, len(o.written))
	copy(out, o.written)
	return out
}

type fakeOutputDevice struct {
	mu      sync.Mutex
	streams []*recordingOutput
	gate    chan struct{}
	err     error
}

func (d *fakeOutputDevice) OpenOutput(StreamParams) (OutputStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	o := &recordingOutput{gate: d.gate}
	d.streams = append(d.streams, o)
	return o, nil
}

func (d *fakeOutputDevice) opened() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.streams)
}

// eventLog collects audio events for assertions.
type eventLog struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func newEventLog() *eventLog {
	return &eventLog{ch: make(chan Event, 64)}
}

func (l *eventLog) OnAudioEvent(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
	l.ch <- e
}

func (l *eventLog) count(kind EventKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int
	for _, e := range l.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (l *eventLog) waitFor(kind EventKind, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		select {
		case e := <-l.ch:
			if e.Kind == kind {
				return true
			}
		case <-deadline:
			return false
		}
	}
}

// logBuffer is a goroutine-safe sink for a debug-level test logger.
type logBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (l *logBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func (l *logBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.String()
}

func (l *logBuffer) logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(l, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
