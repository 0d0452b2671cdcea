// Package vad decides when a spoken utterance has ended, using a single
// energy threshold over fixed-size chunks.
package vad

import "time"

// Decision is the endpointer's verdict after a chunk.
type Decision int

const (
	// Continue means keep recording.
	Continue Decision = iota
	// StopSilence means speech was followed by a long enough silence run.
	StopSilence
	// StopMaxDuration means the recording hit its hard limit.
	StopMaxDuration
)

func (d Decision) String() string {
	switch d {
	case Continue:
		return "continue"
	case StopSilence:
		return "silence"
	case StopMaxDuration:
		return "max-duration"
	default:
		return "unknown"
	}
}

// Params configures an Endpointer. A zero MaxDuration disables the hard limit.
type Params struct {
	// Threshold is the RMS level above which a chunk counts as speech.
	Threshold       float64
	SilenceDuration time.Duration
	MinDuration     time.Duration
	MaxDuration     time.Duration
}

// Endpointer tracks elapsed time and the current silence run across chunks.
// The silence run only accumulates once speech has been observed. It is not
// safe for concurrent use.
type Endpointer struct {
	p Params

	elapsed    time.Duration
	silenceRun time.Duration
	speechSeen bool
}

// New returns an Endpointer for p.
func New(p Params) *Endpointer {
	return &Endpointer{p: p}
}

// Push accounts for one chunk of the given RMS energy and duration.
func (e *Endpointer) Push(energy float64, chunk time.Duration) Decision {
	e.elapsed += chunk

	if energy > e.p.Threshold {
		e.speechSeen = true
		e.silenceRun = 0
	} else if e.speechSeen {
		e.silenceRun += chunk
	}

	if e.speechSeen && e.elapsed >= e.p.MinDuration && e.silenceRun >= e.p.SilenceDuration {
		return StopSilence
	}
	if e.p.MaxDuration > 0 && e.elapsed >= e.p.MaxDuration {
		return StopMaxDuration
	}
	return Continue
}

// SpeechSeen reports whether any chunk exceeded the threshold.
func (e *Endpointer) SpeechSeen() bool { return e.speechSeen }

// Elapsed is the total duration pushed so far.
func (e *Endpointer) Elapsed() time.Duration { return e.elapsed }

// SilenceRun is the length of the current sub-threshold run after speech.
func (e *Endpointer) SilenceRun() time.Duration { return e.silenceRun }

// Reset clears all accumulated state.
func (e *Endpointer) Reset() {
	e.elapsed, e.silenceRun, e.speechSeen = 0, 0, false
}
