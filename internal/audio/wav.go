package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/youpy/go-wav"
)

// ErrUnsupportedFormat is returned for audio the decoder cannot handle.
var ErrUnsupportedFormat = errors.New("audio: unsupported format")

// streamingDataSize is the placeholder some encoders write when the length
// of a streamed WAV is unknown.
const streamingDataSize = 0xFFFFFFFF

// fmtChunk mirrors the 16-byte PCM "fmt " chunk.
type fmtChunk struct {
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

// parseWAV walks the RIFF chunks of data in memory. A data chunk whose
// declared size runs past the end of the input is clamped to what is there,
// which is what streamed TTS responses look like.
func parseWAV(data []byte) (*Buffer, error) {
	if len(data) < 12 || string(data[:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: not a RIFF/WAVE stream", ErrUnsupportedFormat)
	}

	var (
		format  *fmtChunk
		payload []byte
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int64(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := int64(off + 8)
		end := body + size
		if size == streamingDataSize || end > int64(len(data)) {
			end = int64(len(data))
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return nil, fmt.Errorf("fmt chunk too small: %d bytes", end-body)
			}
			var f fmtChunk
			if err := binary.Read(bytes.NewReader(data[body:end]), binary.LittleEndian, &f); err != nil {
				return nil, fmt.Errorf("read fmt chunk: %w", err)
			}
			format = &f
		case "data":
			payload = data[body:end]
		}

		// chunks are word aligned
		off = int(end + end%2)
		if payload != nil && format != nil {
			break
		}
	}

	if format == nil {
		return nil, errors.New("fmt chunk not found")
	}
	if payload == nil {
		return nil, errors.New("data chunk not found")
	}
	if format.NumChannels == 0 || format.SampleRate == 0 {
		return nil, fmt.Errorf("%w: %d channels at %d Hz", ErrUnsupportedFormat, format.NumChannels, format.SampleRate)
	}

	samples, err := pcmToFloat(payload, format)
	if err != nil {
		return nil, err
	}
	return &Buffer{
		Samples:    samples,
		SampleRate: int(format.SampleRate),
		Channels:   int(format.NumChannels),
	}, nil
}

func pcmToFloat(payload []byte, f *fmtChunk) ([]float32, error) {
	switch {
	case f.AudioFormat == wav.AudioFormatPCM && f.BitsPerSample == 16:
		out := make([]float32, len(payload)/2)
		for i := range out {
			out[i] = float32(int16(binary.LittleEndian.Uint16(payload[i*2:]))) / 32768.0
		}
		return out, nil
	case f.AudioFormat == wav.AudioFormatIEEEFloat && f.BitsPerSample == 32:
		out := make([]float32, len(payload)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[i*4:]))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: format %d with %d bits", ErrUnsupportedFormat, f.AudioFormat, f.BitsPerSample)
	}
}

// decodeWAVLib reads data with go-wav, which handles the 8, 24 and 32 bit
// integer layouts parseWAV does not.
func decodeWAVLib(data []byte) (*Buffer, error) {
	r := wav.NewReader(bytes.NewReader(data))
	format, err := r.Format()
	if err != nil {
		return nil, fmt.Errorf("read wav format: %w", err)
	}
	channels := int(format.NumChannels)
	if channels < 1 || channels > 2 {
		return nil, fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, channels)
	}

	var samples []float32
	for {
		batch, err := r.ReadSamples()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read wav samples: %w", err)
		}
		for _, s := range batch {
			for c := 0; c < channels; c++ {
				samples = append(samples, float32(r.FloatValue(s, uint(c))))
			}
		}
	}

	return &Buffer{
		Samples:    samples,
		SampleRate: int(format.SampleRate),
		Channels:   channels,
	}, nil
}

// EncodeWAV renders interleaved samples as 16-bit PCM WAV.
func EncodeWAV(samples []float32, sampleRate, channels int) ([]byte, error) {
	if sampleRate <= 0 || channels < 1 || channels > 2 {
		return nil, fmt.Errorf("%w: %d channels at %d Hz", ErrUnsupportedFormat, channels, sampleRate)
	}

	frames := len(samples) / channels
	var out bytes.Buffer
	w := wav.NewWriter(&out, uint32(frames), uint16(channels), uint32(sampleRate), 16)

	batch := make([]wav.Sample, frames)
	for i := range batch {
		for c := 0; c < channels; c++ {
			batch[i].Values[c] = int(toInt16(samples[i*channels+c]))
		}
	}
	if err := w.WriteSamples(batch); err != nil {
		return nil, fmt.Errorf("write wav samples: %w", err)
	}
	return out.Bytes(), nil
}

// WriteWAV saves buf to path as 16-bit PCM WAV.
func WriteWAV(path string, buf *Buffer) error {
	data, err := EncodeWAV(buf.Samples, buf.SampleRate, buf.Channels)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write wav file: %w", err)
	}
	return nil
}

func toInt16(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return int16(s * 32767)
}
