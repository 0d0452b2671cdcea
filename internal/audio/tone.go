package audio

import (
	"math"
	"time"
)

// NotificationKind names a procedurally generated notification sound.
type NotificationKind string

const (
	NotifySuccess NotificationKind = "success"
	NotifyError   NotificationKind = "error"
	NotifyInfo    NotificationKind = "info"
)

const (
	toneAmplitude   = 0.2
	speakerTestGain = 0.3
	fadeDuration    = 10 * time.Millisecond
)

type toneSpec struct {
	freqs []float64
	each  time.Duration
}

var notificationTones = map[NotificationKind]toneSpec{
	NotifySuccess: {freqs: []float64{523, 659, 784}, each: 150 * time.Millisecond},
	NotifyError:   {freqs: []float64{523, 440, 349}, each: 200 * time.Millisecond},
	NotifyInfo:    {freqs: []float64{659}, each: 100 * time.Millisecond},
}

// Sine generates a sine wave of the given frequency, duration and amplitude.
func Sine(freq float64, d time.Duration, amplitude float64, sampleRate int) []float32 {
	n := int(d.Seconds() * float64(sampleRate))
	out := make([]float32, n)
	for i := range out {
		t := float64(i) / float64(sampleRate)
		out[i] = float32(amplitude * math.Sin(2*math.Pi*freq*t))
	}
	return out
}

// applyFade ramps the first and last fade samples linearly to avoid clicks.
// Signals shorter than two fades are left untouched.
func applyFade(samples []float32, sampleRate int) {
	fade := int(fadeDuration.Seconds() * float64(sampleRate))
	if fade <= 1 || len(samples) <= 2*fade {
		return
	}
	for i := 0; i < fade; i++ {
		g := float32(i) / float32(fade-1)
		samples[i] *= g
		samples[len(samples)-1-i] *= g
	}
}

// NotificationTones renders the tone sequence for kind. Every tone in the
// sequence gets its own fade in and out. Unknown kinds fall back to a single
// short 523 Hz tone.
func NotificationTones(kind NotificationKind, sampleRate int) []float32 {
	spec, ok := notificationTones[kind]
	if !ok {
		spec = toneSpec{freqs: []float64{523}, each: 100 * time.Millisecond}
	}

	var out []float32
	for _, f := range spec.freqs {
		tone := Sine(f, spec.each, toneAmplitude, sampleRate)
		applyFade(tone, sampleRate)
		out = append(out, tone...)
	}
	return out
}

// Beep renders a single faded tone.
func Beep(freq float64, d time.Duration, sampleRate int) []float32 {
	tone := Sine(freq, d, toneAmplitude, sampleRate)
	applyFade(tone, sampleRate)
	return tone
}
