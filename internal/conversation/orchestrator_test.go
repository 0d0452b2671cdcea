package conversation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"voice-dialogue/internal/audio"
	"voice-dialogue/internal/config"
	"voice-dialogue/internal/llm"
	"voice-dialogue/internal/state"
)

type captureResult struct {
	buf *audio.Buffer
	err error
}

// fakeCapturer replays scripted results, then blocks until cancelled.
type fakeCapturer struct {
	mu     sync.Mutex
	script []captureResult
	calls  int
	stops  int
	called chan struct{}
}

func newFakeCapturer(script ...captureResult) *fakeCapturer {
	return &fakeCapturer{script: script, called: make(chan struct{}, 16)}
}

func (c *fakeCapturer) RecordWithEndpointing(ctx context.Context, minDur, maxDur time.Duration) (*audio.Buffer, error) {
	c.mu.Lock()
	c.calls++
	var next *captureResult
	if len(c.script) > 0 {
		next = &c.script[0]
		c.script = c.script[1:]
	}
	c.mu.Unlock()

	select {
	case c.called <- struct{}{}:
	default:
	}
	if next != nil {
		return next.buf, next.err
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *fakeCapturer) Stop() (*audio.Buffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	return nil, audio.ErrNotRecording
}

func speech() captureResult {
	return captureResult{buf: &audio.Buffer{
		Samples:    audio.Sine(300, 500*time.Millisecond, 0.3, 16000),
		SampleRate: 16000,
		Channels:   1,
		Captured:   500 * time.Millisecond,
	}}
}

// fakeSpeaker records what was played. Played files hold the synthesized
// text, so spoken lists the texts in order.
type fakeSpeaker struct {
	mu       sync.Mutex
	spoken   []string
	tones    []audio.NotificationKind
	stops    int
	failPlay bool
}

func (s *fakeSpeaker) PlayFile(ctx context.Context, path string, blocking bool) bool {
	data, err := os.ReadFile(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.spoken = append(s.spoken, string(data))
	}
	return err == nil && !s.failPlay
}

func (s *fakeSpeaker) Notify(ctx context.Context, kind audio.NotificationKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tones = append(s.tones, kind)
	return true
}

func (s *fakeSpeaker) WaitForCompletion(timeout time.Duration) bool { return true }

func (s *fakeSpeaker) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	return false
}

func (s *fakeSpeaker) snapshot() ([]string, []audio.NotificationKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spoken...), append([]audio.NotificationKind(nil), s.tones...)
}

type fakeRecognizer struct {
	mu      sync.Mutex
	results []string
}

func (r *fakeRecognizer) Transcribe(ctx context.Context, buf *audio.Buffer) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.results) == 0 {
		return ""
	}
	out := r.results[0]
	r.results = r.results[1:]
	return out
}

type generatorFunc func(call int, history []llm.Exchange, utterance string) (string, error)

type fakeGenerator struct {
	mu    sync.Mutex
	calls int
	fn    generatorFunc
}

func (g *fakeGenerator) GenerateReply(ctx context.Context, history []llm.Exchange, utterance string) (string, error) {
	g.mu.Lock()
	g.calls++
	call := g.calls
	g.mu.Unlock()
	return g.fn(call, history, utterance)
}

func echoGenerator() *fakeGenerator {
	return &fakeGenerator{fn: func(_ int, _ []llm.Exchange, utterance string) (string, error) {
		return "you said " + utterance, nil
	}}
}

// fakeSynthesizer writes the text into a file under dir.
type fakeSynthesizer struct {
	dir string
	err error

	mu    sync.Mutex
	count int
}

func (s *fakeSynthesizer) Synthesize(ctx context.Context, text, ref string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.mu.Lock()
	s.count++
	path := filepath.Join(s.dir, fmt.Sprintf("reply_%d.wav", s.count))
	s.mu.Unlock()
	return path, os.WriteFile(path, []byte(text), 0644)
}

type sleepLog struct {
	mu sync.Mutex
	ds []time.Duration
}

func (l *sleepLog) sleep(ctx context.Context, d time.Duration) error {
	l.mu.Lock()
	l.ds = append(l.ds, d)
	l.mu.Unlock()
	return ctx.Err()
}

type harness struct {
	o        *Orchestrator
	capturer *fakeCapturer
	speaker  *fakeSpeaker
	synth    *fakeSynthesizer
	sleeps   *sleepLog
	cfg      config.ConversationConfig

	mu       sync.Mutex
	events   []Event
	statuses []state.Status
}

func newHarness(t *testing.T, capturer *fakeCapturer, rec *fakeRecognizer, gen *fakeGenerator) *harness {
	t.Helper()
	h := &harness{
		capturer: capturer,
		speaker:  &fakeSpeaker{},
		synth:    &fakeSynthesizer{dir: t.TempDir()},
		sleeps:   &sleepLog{},
		cfg:      config.Default().Conversation,
	}
	h.o = New(Deps{
		Capturer:    capturer,
		Speaker:     h.speaker,
		Recognizer:  rec,
		Generator:   gen,
		Synthesizer: h.synth,
	}, h.cfg, config.Default().Audio, WithSleep(h.sleeps.sleep))

	h.o.Subscribe(ListenerFunc(func(e Event) {
		h.mu.Lock()
		h.events = append(h.events, e)
		h.mu.Unlock()
	}))
	h.o.States().Subscribe(state.ListenerFunc(func(c state.Change) {
		h.mu.Lock()
		h.statuses = append(h.statuses, c.To)
		h.mu.Unlock()
	}))
	return h
}

func (h *harness) eventsOf(kind EventKind) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Event
	for _, e := range h.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (h *harness) transitions() []state.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]state.Status(nil), h.statuses...)
}

func equalStatuses(a, b []state.Status) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRunTurnCompleted(t *testing.T) {
	h := newHarness(t, newFakeCapturer(speech()), &fakeRecognizer{results: []string{" hello "}}, echoGenerator())

	if got := h.o.RunTurn(context.Background()); got != state.Completed {
		t.Fatalf("Expected Completed, got %s", got)
	}

	want := []state.Status{state.Recording, state.Transcribing, state.Generating,
		state.Synthesizing, state.Speaking, state.Completed, state.WaitingForSpeech}
	if got := h.transitions(); !equalStatuses(got, want) {
		t.Errorf("Expected transitions %v, got %v", want, got)
	}

	spoken, tones := h.speaker.snapshot()
	if len(spoken) != 1 || spoken[0] != "you said hello" {
		t.Errorf("Expected reply to be spoken, got %v", spoken)
	}
	if len(tones) != 0 {
		t.Errorf("Expected no tones on a good turn, got %v", tones)
	}
	if u := h.eventsOf(EventUtterance); len(u) != 1 || u[0].Text != "hello" {
		t.Errorf("Expected utterance event, got %+v", u)
	}
	if hist := h.o.History(); len(hist) != 1 || hist[0].Reply != "you said hello" {
		t.Errorf("Expected one exchange in history, got %+v", hist)
	}

	entries, _ := os.ReadDir(h.synth.dir)
	if len(entries) != 0 {
		t.Errorf("Expected played artifact to be removed, %d files left", len(entries))
	}
	t.Log("✓ full turn completed")
}

func TestGeneratorFailureDoesNotEndLoop(t *testing.T) {
	gen := &fakeGenerator{fn: func(call int, _ []llm.Exchange, utterance string) (string, error) {
		if call == 1 {
			return "", errors.New("model overloaded")
		}
		return "fine thanks", nil
	}}
	h := newHarness(t, newFakeCapturer(speech(), speech()),
		&fakeRecognizer{results: []string{"first", "second"}}, gen)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		h.o.RunTurn(ctx)
		if got := h.o.States().Current(); got != state.WaitingForSpeech {
			t.Fatalf("turn %d: expected WaitingForSpeech, got %s", i, got)
		}
	}

	spoken, _ := h.speaker.snapshot()
	if len(spoken) != 2 || spoken[0] != h.cfg.ErrorReply || spoken[1] != "fine thanks" {
		t.Errorf("Expected error phrase then reply, got %v", spoken)
	}
	if hist := h.o.History(); len(hist) != 1 || hist[0].Utterance != "second" {
		t.Errorf("Expected only the successful exchange in history, got %+v", hist)
	}
	if h.o.States().Turns() != 2 {
		t.Errorf("Expected 2 turns, got %d", h.o.States().Turns())
	}
}

func TestEmptyReplyUsesFallback(t *testing.T) {
	gen := &fakeGenerator{fn: func(int, []llm.Exchange, string) (string, error) { return "  ", nil }}
	h := newHarness(t, newFakeCapturer(speech()), &fakeRecognizer{results: []string{"hi"}}, gen)

	if got := h.o.RunTurn(context.Background()); got != state.Completed {
		t.Fatalf("Expected Completed, got %s", got)
	}
	spoken, _ := h.speaker.snapshot()
	if len(spoken) != 1 || spoken[0] != h.cfg.FallbackReply {
		t.Errorf("Expected fallback reply, got %v", spoken)
	}
}

func TestSynthesisFailureRecovers(t *testing.T) {
	h := newHarness(t, newFakeCapturer(speech()), &fakeRecognizer{results: []string{"hi"}}, echoGenerator())
	h.synth.err = errors.New("voice unavailable")

	if got := h.o.RunTurn(context.Background()); got != state.ErrorRecovery {
		t.Fatalf("Expected ErrorRecovery, got %s", got)
	}

	want := []state.Status{state.Recording, state.Transcribing, state.Generating,
		state.Synthesizing, state.ErrorRecovery, state.WaitingForSpeech}
	if got := h.transitions(); !equalStatuses(got, want) {
		t.Errorf("Expected transitions %v, got %v", want, got)
	}

	_, tones := h.speaker.snapshot()
	if len(tones) != 1 || tones[0] != audio.NotifyError {
		t.Errorf("Expected one error tone, got %v", tones)
	}
	h.sleeps.mu.Lock()
	ds := append([]time.Duration(nil), h.sleeps.ds...)
	h.sleeps.mu.Unlock()
	if len(ds) != 1 || ds[0] != h.cfg.ErrorBackoff {
		t.Errorf("Expected one backoff of %v, got %v", h.cfg.ErrorBackoff, ds)
	}
	if r := h.eventsOf(EventRecovered); len(r) != 1 || r[0].Err == nil {
		t.Errorf("Expected a recovered event with the cause, got %+v", r)
	}
}

func TestPlaybackFailureRecovers(t *testing.T) {
	h := newHarness(t, newFakeCapturer(speech()), &fakeRecognizer{results: []string{"hi"}}, echoGenerator())
	h.speaker.failPlay = true

	if got := h.o.RunTurn(context.Background()); got != state.ErrorRecovery {
		t.Fatalf("Expected ErrorRecovery, got %s", got)
	}
	if got := h.o.States().Current(); got != state.WaitingForSpeech {
		t.Errorf("Expected WaitingForSpeech, got %s", got)
	}
}

func TestEmptyRecognitionEmitsHint(t *testing.T) {
	gen := echoGenerator()
	h := newHarness(t, newFakeCapturer(speech()), &fakeRecognizer{results: []string{"   "}}, gen)

	if got := h.o.RunTurn(context.Background()); got != state.WaitingForSpeech {
		t.Fatalf("Expected skipped turn, got %s", got)
	}
	if hints := h.eventsOf(EventHint); len(hints) != 1 || hints[0].Text != h.cfg.NoSpeechHint {
		t.Errorf("Expected one hint, got %+v", hints)
	}
	if gen.calls != 0 {
		t.Errorf("Expected generator not to be called, got %d calls", gen.calls)
	}
	if _, tones := h.speaker.snapshot(); len(tones) != 0 {
		t.Errorf("Expected no tones, got %v", tones)
	}
}

func TestNoSpeechSkipsSilently(t *testing.T) {
	tests := []struct {
		name   string
		result captureResult
		sleeps int
	}{
		{"no speech", captureResult{err: audio.ErrNoSpeech}, 0},
		{"nil buffer", captureResult{}, 0},
		{"device busy", captureResult{err: audio.ErrBusy}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, newFakeCapturer(tt.result), &fakeRecognizer{}, echoGenerator())

			if got := h.o.RunTurn(context.Background()); got != state.WaitingForSpeech {
				t.Fatalf("Expected WaitingForSpeech, got %s", got)
			}
			if _, tones := h.speaker.snapshot(); len(tones) != 0 {
				t.Errorf("Expected no tones, got %v", tones)
			}
			if len(h.eventsOf(EventHint)) != 0 {
				t.Error("Expected no hint for a silent turn")
			}
			if len(h.sleeps.ds) != tt.sleeps {
				t.Errorf("Expected %d pauses, got %d", tt.sleeps, len(h.sleeps.ds))
			}
		})
	}
}

// cancellingRecognizer cancels the turn while recognition is in flight.
type cancellingRecognizer struct {
	cancel context.CancelFunc
}

func (r cancellingRecognizer) Transcribe(ctx context.Context, buf *audio.Buffer) string {
	r.cancel()
	return "too late"
}

func TestCancellationBetweenStages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gen := echoGenerator()
	h := newHarness(t, newFakeCapturer(speech()), nil, gen)
	h.o.deps.Recognizer = cancellingRecognizer{cancel: cancel}

	if got := h.o.RunTurn(ctx); got != state.WaitingForSpeech {
		t.Fatalf("Expected cancelled turn to end waiting, got %s", got)
	}
	if gen.calls != 0 {
		t.Errorf("Expected no generation after cancel, got %d calls", gen.calls)
	}
	if _, tones := h.speaker.snapshot(); len(tones) != 0 {
		t.Errorf("Expected no error tone for a cancelled turn, got %v", tones)
	}
	if got := h.o.States().Current(); got != state.WaitingForSpeech {
		t.Errorf("Expected WaitingForSpeech, got %s", got)
	}
}

func TestRunAndStop(t *testing.T) {
	capturer := newFakeCapturer()
	h := newHarness(t, capturer, &fakeRecognizer{}, echoGenerator())

	errCh := make(chan error, 1)
	go func() { errCh <- h.o.Run(context.Background()) }()

	select {
	case <-capturer.called:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected the loop to start listening")
	}

	if err := h.o.Run(context.Background()); !errors.Is(err, ErrRunning) {
		t.Errorf("Expected ErrRunning for a second Run, got %v", err)
	}

	if !h.o.Stop(2 * time.Second) {
		t.Fatal("Expected Stop to join the loop")
	}
	if err := <-errCh; err != nil {
		t.Errorf("Expected Run to return nil, got %v", err)
	}

	spoken, tones := h.speaker.snapshot()
	if len(spoken) != 2 || spoken[0] != h.cfg.Greeting || spoken[1] != h.cfg.Farewell {
		t.Errorf("Expected greeting and farewell, got %v", spoken)
	}
	if len(tones) != 2 || tones[0] != audio.NotifySuccess || tones[1] != audio.NotifyInfo {
		t.Errorf("Expected success then info tone, got %v", tones)
	}
	if capturer.stops != 1 {
		t.Errorf("Expected capture to be stopped once, got %d", capturer.stops)
	}
	if got := h.o.States().Current(); got != state.WaitingForSpeech {
		t.Errorf("Expected WaitingForSpeech after stop, got %s", got)
	}
	if h.o.Stop(100 * time.Millisecond) {
		t.Error("Expected Stop on a stopped orchestrator to return false")
	}
	t.Log("✓ run and stop")
}
