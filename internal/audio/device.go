package audio

import "errors"

var (
	// ErrBusy is returned when a session or device is already held.
	ErrBusy = errors.New("audio: device busy")
	// ErrDeviceUnavailable wraps failures to open or start a device.
	ErrDeviceUnavailable = errors.New("audio: device unavailable")
	// ErrDeviceNotFound is returned when a device selector matches no
	// suitable host device.
	ErrDeviceNotFound = errors.New("audio: device not found")
	// ErrOverflow accompanies a chunk read after the device dropped input.
	ErrOverflow = errors.New("audio: input overflow")
	// ErrNoSpeech is returned when a recording never rose above the silence
	// threshold.
	ErrNoSpeech = errors.New("audio: no speech detected")
)

// StreamParams describes a fixed-chunk device stream.
type StreamParams struct {
	SampleRate      int
	Channels        int
	FramesPerBuffer int
}

// ChunkSamples is the number of interleaved samples in one chunk.
func (p StreamParams) ChunkSamples() int {
	return p.FramesPerBuffer * p.Channels
}

// InputStream delivers fixed-size chunks of interleaved samples.
type InputStream interface {
	Start() error
	// Read blocks for at most one chunk period and returns a fresh slice.
	// A non-nil chunk together with ErrOverflow means earlier input was lost
	// but the chunk itself is valid.
	Read() ([]float32, error)
	Stop() error
	Close() error
}

// OutputStream accepts fixed-size chunks of interleaved samples.
type OutputStream interface {
	Start() error
	// Write blocks until the chunk has been handed to the device. Short
	// chunks are padded with silence.
	Write(chunk []float32) error
	// Stop waits for queued output to drain.
	Stop() error
	Close() error
}

// InputDevice opens capture streams. Opening while a stream is held fails
// with ErrBusy.
type InputDevice interface {
	OpenInput(StreamParams) (InputStream, error)
}

// OutputDevice opens playback streams. Opening while a stream is held fails
// with ErrBusy.
type OutputDevice interface {
	OpenOutput(StreamParams) (OutputStream, error)
}
