package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"

	"github.com/tosone/minimp3"
)

// Format is a container format recognised by Decode.
type Format string

const (
	FormatWAV     Format = "wav"
	FormatMP3     Format = "mp3"
	FormatUnknown Format = "unknown"
)

// DetectFormat sniffs the container format from the leading bytes.
func DetectFormat(data []byte) Format {
	switch {
	case len(data) >= 4 && bytes.Equal(data[:4], []byte("RIFF")):
		return FormatWAV
	case len(data) >= 3 && bytes.Equal(data[:3], []byte("ID3")):
		return FormatMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		// MPEG frame sync
		return FormatMP3
	default:
		return FormatUnknown
	}
}

// Decode turns an encoded WAV or MP3 payload into an interleaved Buffer.
// Unrecognised input is tried as WAV first and then as MP3.
func Decode(data []byte) (*Buffer, error) {
	switch DetectFormat(data) {
	case FormatWAV:
		return decodeWAV(data)
	case FormatMP3:
		return decodeMP3(data)
	default:
		if buf, err := decodeWAV(data); err == nil {
			return buf, nil
		}
		return decodeMP3(data)
	}
}

// DecodeFile reads and decodes the audio file at path.
func DecodeFile(path string) (*Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read audio file: %w", err)
	}
	buf, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return buf, nil
}

func decodeWAV(data []byte) (*Buffer, error) {
	buf, err := parseWAV(data)
	if err == nil {
		return buf, nil
	}
	// Fall back to go-wav when parsing fails.
	slog.Debug("in-memory wav parser failed, falling back to go-wav", "error", err)
	return decodeWAVLib(data)
}

func decodeMP3(data []byte) (*Buffer, error) {
	dec, pcm, err := minimp3.DecodeFull(data)
	if err != nil {
		return nil, fmt.Errorf("decode mp3: %w", err)
	}
	defer dec.Close()

	if dec.Channels < 1 || dec.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: mp3 with %d channels at %d Hz", ErrUnsupportedFormat, dec.Channels, dec.SampleRate)
	}

	// int16 little-endian PCM
	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}
	return &Buffer{
		Samples:    samples,
		SampleRate: dec.SampleRate,
		Channels:   dec.Channels,
	}, nil
}
