package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"voice-dialogue/internal/config"
)

const (
	beepFrequency = 800
	beepDuration  = 200 * time.Millisecond
)

// Player owns the output device. Only one playback runs at a time; a request
// made while playing is rejected rather than queued.
type Player struct {
	dev    OutputDevice
	cfg    config.AudioConfig
	log    *slog.Logger
	events dispatcher

	mu      sync.Mutex
	volume  float64
	playing bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// slot is a reserved playback. It is held from the moment a request is
// accepted until its stream is closed.
type slot struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPlayer returns a Player writing to dev.
func NewPlayer(dev OutputDevice, cfg config.AudioConfig, log *slog.Logger) *Player {
	if log == nil {
		log = slog.Default()
	}
	p := &Player{
		dev: dev,
		cfg: cfg,
		log: log.With("component", "player"),
	}
	p.SetVolume(cfg.Volume)
	return p
}

// SetVolume sets the output gain, clamped to [0, 1]. It applies to
// playbacks started afterwards.
func (p *Player) SetVolume(v float64) {
	v = max(0, min(v, 1))
	p.mu.Lock()
	p.volume = v
	p.mu.Unlock()
	p.log.Debug("volume set", "volume", v)
}

// Volume returns the current output gain.
func (p *Player) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// Subscribe registers o for playback events.
func (p *Player) Subscribe(o Observer) (unsubscribe func()) {
	return p.events.subscribe(o)
}

// IsPlaying reports whether a playback is in progress.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// PlayBuffer plays buf after converting it to the device format and
// normalizing it. With blocking set it returns once playback ends and reports
// whether it completed; otherwise it returns true as soon as playback has
// started. It returns false immediately when another playback is running.
func (p *Player) PlayBuffer(ctx context.Context, buf *Buffer, blocking bool) bool {
	if buf == nil || len(buf.Samples) == 0 {
		p.log.Warn("nothing to play")
		return false
	}
	s, ok := p.reserve(ctx, blocking)
	if !ok {
		return false
	}
	samples, err := p.prepare(buf, true)
	if err != nil {
		p.release(s)
		p.log.Error("prepare audio for playback", "error", err)
		return false
	}
	return p.start(s, samples, blocking)
}

// PlayFile decodes the WAV or MP3 file at path and plays it.
func (p *Player) PlayFile(ctx context.Context, path string, blocking bool) bool {
	buf, err := DecodeFile(path)
	if err != nil {
		p.log.Error("cannot play file", "path", path, "error", err)
		return false
	}
	p.log.Info("playing file", "path", path, "duration", buf.Duration())
	return p.PlayBuffer(ctx, buf, blocking)
}

// Notify plays the notification sound for kind without blocking.
func (p *Player) Notify(ctx context.Context, kind NotificationKind) bool {
	tones := NotificationTones(kind, p.cfg.SampleRate)
	return p.playRaw(ctx, tones, false)
}

// Beep plays a short 800 Hz tone without blocking.
func (p *Player) Beep(ctx context.Context) bool {
	return p.playRaw(ctx, Beep(beepFrequency, beepDuration, p.cfg.SampleRate), false)
}

// TestSpeaker plays a test tone of the given frequency and duration and
// reports whether it was written to the device completely.
func (p *Player) TestSpeaker(ctx context.Context, d time.Duration, freq float64) bool {
	tone := Sine(freq, d, speakerTestGain, p.cfg.SampleRate)
	applyFade(tone, p.cfg.SampleRate)
	ok := p.playRaw(ctx, tone, true)
	p.log.Info("speaker test finished", "ok", ok, "frequency", freq, "duration", d)
	return ok
}

// Stop interrupts the current playback. It returns false when nothing is
// playing.
func (p *Player) Stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.playing {
		return false
	}
	p.cancel()
	p.log.Info("playback stop requested")
	return true
}

// WaitForCompletion blocks until the current playback ends or timeout
// elapses. It returns true if nothing is playing by then.
func (p *Player) WaitForCompletion(timeout time.Duration) bool {
	p.mu.Lock()
	if !p.playing {
		p.mu.Unlock()
		return true
	}
	done := p.done
	p.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// prepare converts buf to device-rate samples interleaved for the device
// channel count.
func (p *Player) prepare(buf *Buffer, normalize bool) ([]float32, error) {
	mono := Downmix(buf.Samples, buf.Channels)
	if buf.SampleRate != p.cfg.SampleRate {
		var err error
		in := len(mono)
		mono, err = Resample(mono, buf.SampleRate, p.cfg.SampleRate)
		if err != nil {
			return nil, err
		}
		p.log.Debug("resampled audio", "from", buf.SampleRate, "to", p.cfg.SampleRate, "in", in, "out", len(mono))
	}
	if normalize {
		mono = Normalize(mono, TargetLevelDB)
	}
	return p.expand(p.gain(mono)), nil
}

// gain scales mono by the current volume. The input is left untouched.
func (p *Player) gain(mono []float32) []float32 {
	v := float32(p.Volume())
	if v == 1 {
		return mono
	}
	out := make([]float32, len(mono))
	for i, s := range mono {
		out[i] = s * v
	}
	return out
}

func (p *Player) expand(mono []float32) []float32 {
	if p.cfg.Channels <= 1 {
		return mono
	}
	out := make([]float32, len(mono)*p.cfg.Channels)
	for i, s := range mono {
		for c := 0; c < p.cfg.Channels; c++ {
			out[i*p.cfg.Channels+c] = s
		}
	}
	return out
}

func (p *Player) playRaw(ctx context.Context, mono []float32, blocking bool) bool {
	s, ok := p.reserve(ctx, blocking)
	if !ok {
		return false
	}
	return p.start(s, p.expand(p.gain(mono)), blocking)
}

// reserve claims the player before any conversion work is done, so a
// rejected request costs nothing. Non-blocking playbacks outlive the
// caller's ctx.
func (p *Player) reserve(ctx context.Context, blocking bool) (*slot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.playing {
		p.log.Warn("playback already in progress, request rejected")
		return nil, false
	}
	parent := ctx
	if !blocking {
		parent = context.WithoutCancel(ctx)
	}
	playCtx, cancel := context.WithCancel(parent)
	s := &slot{ctx: playCtx, cancel: cancel, done: make(chan struct{})}
	p.playing = true
	p.cancel = cancel
	p.done = s.done
	return s, true
}

func (p *Player) release(s *slot) {
	s.cancel()
	p.mu.Lock()
	p.playing = false
	p.cancel = nil
	p.mu.Unlock()
	close(s.done)
}

func (p *Player) start(s *slot, samples []float32, blocking bool) bool {
	stream, err := p.dev.OpenOutput(StreamParams{
		SampleRate:      p.cfg.SampleRate,
		Channels:        p.cfg.Channels,
		FramesPerBuffer: p.cfg.ChunkSize,
	})
	if err != nil {
		p.release(s)
		p.log.Error("cannot open output device", "error", err)
		return false
	}

	p.events.emit(Event{Kind: EventPlaybackStarted})

	if blocking {
		return p.run(s, stream, samples)
	}
	go p.run(s, stream, samples)
	return true
}

func (p *Player) run(s *slot, stream OutputStream, samples []float32) bool {
	defer p.release(s)
	defer func() {
		if err := stream.Close(); err != nil {
			p.log.Warn("close output stream", "error", err)
		}
	}()

	start := time.Now()
	if err := p.write(s.ctx, stream, samples); err != nil {
		if errors.Is(err, context.Canceled) {
			p.log.Info("playback interrupted")
		} else {
			p.log.Error("playback failed", "error", err)
		}
		p.events.emit(Event{Kind: EventPlaybackFailed, Err: err})
		return false
	}

	p.log.Debug("playback finished", "elapsed", time.Since(start))
	p.events.emit(Event{Kind: EventPlaybackFinished})
	return true
}

func (p *Player) write(ctx context.Context, stream OutputStream, samples []float32) error {
	if err := stream.Start(); err != nil {
		return err
	}

	step := p.cfg.ChunkSize * max(p.cfg.Channels, 1)
	for off := 0; off < len(samples); off += step {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(off+step, len(samples))
		if err := stream.Write(samples[off:end]); err != nil {
			return fmt.Errorf("write chunk: %w", err)
		}
	}

	// Stop drains what is already buffered.
	if err := stream.Stop(); err != nil {
		return fmt.Errorf("drain output: %w", err)
	}
	return nil
}
