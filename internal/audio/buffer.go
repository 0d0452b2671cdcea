package audio

import (
	"math"
	"time"
)

const (
	// TargetLevelDB is the RMS level recordings and playback are normalized to.
	TargetLevelDB = -20.0
	// PeakCeiling caps the absolute sample value after normalization.
	PeakCeiling = 0.95

	trimFrameSize = 512
)

// Buffer is a finalized block of audio. Samples are interleaved when
// Channels > 1. Buffers returned by the recorder are mono and must not be
// modified by the caller.
type Buffer struct {
	Samples    []float32
	SampleRate int
	Channels   int
	// Captured is the length of the raw capture before silence trimming.
	Captured time.Duration
}

// Frames returns the number of sample frames.
func (b *Buffer) Frames() int {
	if b == nil || b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Duration returns the playback length of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return framesToDuration(b.Frames(), b.SampleRate)
}

func framesToDuration(frames, sampleRate int) time.Duration {
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}

// RMS returns the root-mean-square amplitude of samples.
func RMS(samples []float32) float64 {
	return math.Sqrt(Energy(samples))
}

// Energy returns the mean square of samples.
func Energy(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return sum / float64(len(samples))
}

// Peak returns the largest absolute sample value.
func Peak(samples []float32) float64 {
	var peak float64
	for _, s := range samples {
		if v := math.Abs(float64(s)); v > peak {
			peak = v
		}
	}
	return peak
}

// HasSpeech reports whether the RMS energy of samples exceeds threshold.
func HasSpeech(samples []float32, threshold float64) bool {
	return RMS(samples) > threshold
}

// Downmix averages interleaved frames into a mono signal.
func Downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		out := make([]float32, len(interleaved))
		copy(out, interleaved)
		return out
	}

	frames := len(interleaved) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += interleaved[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// TrimSilence drops leading and trailing frames whose RMS is below threshold.
// If no frame reaches the threshold the input is returned unchanged.
func TrimSilence(samples []float32, threshold float64, frameSize int) []float32 {
	if frameSize <= 0 {
		frameSize = trimFrameSize
	}
	if len(samples) == 0 {
		return samples
	}

	start, end := -1, -1
	for off := 0; off < len(samples); off += frameSize {
		stop := min(off+frameSize, len(samples))
		if RMS(samples[off:stop]) >= threshold {
			if start < 0 {
				start = off
			}
			end = stop
		}
	}
	if start < 0 {
		return samples
	}
	return samples[start:end]
}

// Normalize scales samples so their RMS equals targetDB dBFS, then scales
// down further if the peak would exceed PeakCeiling. Silent input is returned
// as a copy.
func Normalize(samples []float32, targetDB float64) []float32 {
	out := make([]float32, len(samples))
	copy(out, samples)

	rms := RMS(samples)
	if rms == 0 {
		return out
	}

	gain := math.Pow(10, targetDB/20) / rms
	if peak := Peak(samples) * gain; peak > PeakCeiling {
		gain *= PeakCeiling / peak
	}
	for i := range out {
		out[i] = float32(float64(out[i]) * gain)
	}
	return out
}

// Finalize turns raw interleaved capture into a mono, trimmed, normalized
// buffer.
func Finalize(raw []float32, sampleRate, channels int, threshold float64) *Buffer {
	mono := Downmix(raw, channels)
	captured := framesToDuration(len(mono), sampleRate)
	trimmed := TrimSilence(mono, threshold, trimFrameSize)
	return &Buffer{
		Samples:    Normalize(trimmed, TargetLevelDB),
		SampleRate: sampleRate,
		Channels:   1,
		Captured:   captured,
	}
}
