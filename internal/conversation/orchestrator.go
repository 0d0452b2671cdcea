// Package conversation runs the spoken dialogue loop: listen, recognize,
// reply, synthesize, speak, and recover from a failed turn without ending
// the session.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"voice-dialogue/internal/asr"
	"voice-dialogue/internal/audio"
	"voice-dialogue/internal/config"
	"voice-dialogue/internal/llm"
	"voice-dialogue/internal/state"
	"voice-dialogue/internal/tts"
)

// ErrRunning is returned by Run when the orchestrator is already running.
var ErrRunning = errors.New("conversation: already running")

// toneWait bounds how long a notification tone may hold the speaker.
const toneWait = 2 * time.Second

// Capturer produces one endpointed utterance. audio.Recorder implements it.
type Capturer interface {
	RecordWithEndpointing(ctx context.Context, minDur, maxDur time.Duration) (*audio.Buffer, error)
	Stop() (*audio.Buffer, error)
}

// Speaker plays synthesized replies and notification tones. audio.Player
// implements it.
type Speaker interface {
	PlayFile(ctx context.Context, path string, blocking bool) bool
	Notify(ctx context.Context, kind audio.NotificationKind) bool
	WaitForCompletion(timeout time.Duration) bool
	Stop() bool
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Capturer    Capturer
	Speaker     Speaker
	Recognizer  asr.Recognizer
	Generator   llm.Generator
	Synthesizer tts.Synthesizer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSleep replaces the context-aware pause used for backoff and pacing.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// Orchestrator sequences conversation turns. Stages within a turn run
// strictly one after another on the caller's goroutine.
type Orchestrator struct {
	deps     Deps
	cfg      config.ConversationConfig
	minRec   time.Duration
	maxRec   time.Duration
	log      *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	states   *state.Manager
	history  *llm.History
	events   listeners
	mu       sync.Mutex
	cancel   context.CancelFunc
	finished chan struct{}
}

func New(deps Deps, cfg config.ConversationConfig, audioCfg config.AudioConfig, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		deps:    deps,
		cfg:     cfg,
		minRec:  audioCfg.MinRecordDuration,
		maxRec:  audioCfg.MaxRecordDuration,
		log:     slog.Default(),
		sleep:   sleepContext,
		history: llm.NewHistory(cfg.MaxHistory),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.states = state.NewManager(o.log)
	o.log = o.log.With("component", "orchestrator")
	return o
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Subscribe registers l for conversation events.
func (o *Orchestrator) Subscribe(l Listener) (unsubscribe func()) {
	return o.events.add(l)
}

// States exposes the turn state manager, mainly for subscribing to
// transitions.
func (o *Orchestrator) States() *state.Manager {
	return o.states
}

// History returns the exchanges kept for the generator.
func (o *Orchestrator) History() []llm.Exchange {
	return o.history.Snapshot()
}

// advance checks for cancellation before every transition.
func (o *Orchestrator) advance(ctx context.Context, to state.Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return o.states.Transition(to)
}

// RunTurn runs one turn and returns how it ended: Completed, ErrorRecovery
// after a recovered failure, or WaitingForSpeech for a skipped or cancelled
// turn. The turn state is always back at WaitingForSpeech afterwards.
func (o *Orchestrator) RunTurn(ctx context.Context) state.Status {
	n, err := o.states.BeginTurn()
	if err != nil {
		o.log.Error("turn not started", "error", err)
		o.reset()
		return state.ErrorRecovery
	}
	o.events.emit(Event{Kind: EventListening, Turn: n})

	outcome, err := o.turn(ctx, n)
	switch {
	case err == nil:
		return outcome
	case ctx.Err() != nil:
		o.log.Info("turn cancelled", "turn", n, "status", o.states.Current().String())
		o.reset()
		return state.WaitingForSpeech
	default:
		o.recoverTurn(ctx, n, err)
		return state.ErrorRecovery
	}
}

func (o *Orchestrator) turn(ctx context.Context, n int) (state.Status, error) {
	if err := o.advance(ctx, state.Recording); err != nil {
		return 0, err
	}
	buf, err := o.deps.Capturer.RecordWithEndpointing(ctx, o.minRec, o.maxRec)
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	if err != nil || buf == nil {
		switch {
		case errors.Is(err, audio.ErrNoSpeech), err == nil:
			o.log.Debug("no speech captured", "turn", n)
		default:
			o.log.Warn("recording failed, skipping turn", "turn", n, "error", err)
			// Pause so a dead device cannot spin the loop.
			if err := o.sleep(ctx, o.cfg.ErrorBackoff); err != nil {
				return 0, err
			}
		}
		return state.WaitingForSpeech, o.advance(ctx, state.WaitingForSpeech)
	}
	o.states.Update(func(t *state.Turn) { t.Input = buf })
	o.log.Info("recording captured", "turn", n, "duration", buf.Duration(), "captured", buf.Captured)

	if err := o.advance(ctx, state.Transcribing); err != nil {
		return 0, err
	}
	utterance := strings.TrimSpace(o.deps.Recognizer.Transcribe(ctx, buf))
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	if utterance == "" {
		o.log.Info("nothing recognized, skipping turn", "turn", n)
		o.events.emit(Event{Kind: EventHint, Turn: n, Text: o.cfg.NoSpeechHint})
		return state.WaitingForSpeech, o.advance(ctx, state.WaitingForSpeech)
	}
	o.states.Update(func(t *state.Turn) { t.Utterance = utterance })
	o.events.emit(Event{Kind: EventUtterance, Turn: n, Text: utterance})

	if err := o.advance(ctx, state.Generating); err != nil {
		return 0, err
	}
	reply := o.reply(ctx, n, utterance)
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	o.states.Update(func(t *state.Turn) { t.Reply = reply })
	o.events.emit(Event{Kind: EventReply, Turn: n, Text: reply})

	if err := o.advance(ctx, state.Synthesizing); err != nil {
		return 0, err
	}
	path, err := o.synthesize(ctx, reply)
	if err != nil {
		return 0, err
	}
	defer o.discard(path)
	o.states.Update(func(t *state.Turn) { t.Artifact = path })

	if err := o.advance(ctx, state.Speaking); err != nil {
		return 0, err
	}
	if !o.deps.Speaker.PlayFile(ctx, path, true) {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("playback of %s failed", path)
	}

	if err := o.advance(ctx, state.Completed); err != nil {
		return 0, err
	}
	if err := o.sleep(ctx, o.cfg.TurnPause); err != nil {
		return 0, err
	}
	return state.Completed, o.advance(ctx, state.WaitingForSpeech)
}

// reply asks the generator for an answer. A failed call yields the error
// phrase and an empty answer the fallback phrase; neither is recorded in the
// history.
func (o *Orchestrator) reply(ctx context.Context, n int, utterance string) string {
	reply, err := o.deps.Generator.GenerateReply(ctx, o.history.Snapshot(), utterance)
	switch {
	case err != nil:
		o.log.Error("reply generation failed", "turn", n, "error", err)
		return o.cfg.ErrorReply
	case strings.TrimSpace(reply) == "":
		o.log.Warn("empty reply, using fallback", "turn", n)
		return o.cfg.FallbackReply
	}

	reply = llm.CapReply(reply, o.cfg.MaxReplyChars)
	o.history.Add(utterance, reply)
	return reply
}

func (o *Orchestrator) synthesize(ctx context.Context, text string) (string, error) {
	path, err := o.deps.Synthesizer.Synthesize(ctx, tts.PreprocessText(text, o.cfg.MaxSpeechChars), o.cfg.ReferenceAudio)
	if err != nil {
		return "", fmt.Errorf("synthesis failed: %w", err)
	}
	if path == "" {
		return "", errors.New("synthesis produced no artifact")
	}
	return path, nil
}

// discard removes a played artifact unless artifacts are kept.
func (o *Orchestrator) discard(path string) {
	if o.cfg.KeepArtifacts {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		o.log.Warn("remove artifact", "path", path, "error", err)
	}
}

// recoverTurn handles a failed turn: error tone, fixed backoff, back to
// waiting.
func (o *Orchestrator) recoverTurn(ctx context.Context, n int, cause error) {
	o.log.Error("turn failed", "turn", n, "status", o.states.Current().String(), "error", cause)
	if err := o.states.Transition(state.ErrorRecovery); err != nil {
		o.log.Error("enter error recovery", "turn", n, "error", err)
	}

	if o.deps.Speaker.Notify(ctx, audio.NotifyError) {
		o.deps.Speaker.WaitForCompletion(toneWait)
	}
	if err := o.sleep(ctx, o.cfg.ErrorBackoff); err != nil {
		o.log.Debug("backoff interrupted", "turn", n, "error", err)
	}

	if err := o.states.Transition(state.WaitingForSpeech); err != nil {
		o.log.Error("leave error recovery", "turn", n, "error", err)
	}
	o.events.emit(Event{Kind: EventRecovered, Turn: n, Err: cause})
}

// reset returns an abandoned turn to WaitingForSpeech without the audible
// recovery.
func (o *Orchestrator) reset() {
	switch o.states.Current() {
	case state.WaitingForSpeech:
		return
	case state.ErrorRecovery:
	default:
		if err := o.states.Transition(state.ErrorRecovery); err != nil {
			o.log.Error("reset turn", "error", err)
			return
		}
	}
	if err := o.states.Transition(state.WaitingForSpeech); err != nil {
		o.log.Error("reset turn", "error", err)
	}
}

// Speak synthesizes text and plays it to completion.
func (o *Orchestrator) Speak(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	path, err := o.synthesize(ctx, text)
	if err != nil {
		return err
	}
	defer o.discard(path)

	if !o.deps.Speaker.PlayFile(ctx, path, true) {
		return fmt.Errorf("playback of %s failed", path)
	}
	return nil
}

func (o *Orchestrator) tone(ctx context.Context, kind audio.NotificationKind) {
	if o.deps.Speaker.Notify(ctx, kind) {
		o.deps.Speaker.WaitForCompletion(toneWait)
	}
}

// Run plays the startup tone and greeting, then runs turns until ctx is
// cancelled or Stop is called. It finishes with the farewell and a closing
// tone under a fresh shutdown grace period.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	if o.cancel != nil {
		o.mu.Unlock()
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	finished := make(chan struct{})
	o.cancel, o.finished = cancel, finished
	o.mu.Unlock()

	defer func() {
		cancel()
		o.mu.Lock()
		o.cancel, o.finished = nil, nil
		o.mu.Unlock()
		close(finished)
	}()

	o.log.Info("conversation started")
	o.tone(ctx, audio.NotifySuccess)
	if err := o.sleep(ctx, o.cfg.TurnPause); err == nil {
		if err := o.Speak(ctx, o.cfg.Greeting); err != nil {
			o.log.Error("greeting failed", "error", err)
		}
	}

	for ctx.Err() == nil {
		o.RunTurn(ctx)
	}

	o.shutdown(ctx)
	o.log.Info("conversation stopped", "turns", o.states.Turns())
	return nil
}

func (o *Orchestrator) shutdown(ctx context.Context) {
	if _, err := o.deps.Capturer.Stop(); err != nil && !errors.Is(err, audio.ErrNotRecording) {
		o.log.Warn("stop capture", "error", err)
	}
	o.deps.Speaker.Stop()

	gctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.ShutdownGrace)
	defer cancel()

	if err := o.Speak(gctx, o.cfg.Farewell); err != nil {
		o.log.Warn("farewell failed", "error", err)
	}
	if err := o.sleep(gctx, o.cfg.TurnPause); err != nil {
		return
	}
	o.tone(gctx, audio.NotifyInfo)
}

// Stop cancels a running conversation and waits up to timeout for Run to
// return. It reports whether Run finished in time; false also when nothing
// was running.
func (o *Orchestrator) Stop(timeout time.Duration) bool {
	o.mu.Lock()
	cancel, finished := o.cancel, o.finished
	o.mu.Unlock()
	if cancel == nil {
		return false
	}

	cancel()
	select {
	case <-finished:
		return true
	case <-time.After(timeout):
		o.log.Warn("conversation did not stop in time", "timeout", timeout)
		return false
	}
}
