// Package tts turns reply text into playable speech files, either in-process
// through the OpenAI speech API or through a remote synthesis job service.
package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"voice-dialogue/internal/config"
)

var (
	// ErrEmptyText is returned when there is nothing to speak.
	ErrEmptyText = errors.New("tts: text is empty")
	// ErrNotFound is returned when the service reports an unknown job or a
	// missing artifact.
	ErrNotFound = errors.New("tts: not found")
	// ErrJobFailed is returned when a remote job ends in the failed state.
	ErrJobFailed = errors.New("tts: synthesis job failed")
)

// Synthesizer renders text to an audio file and returns its path. The caller
// owns the file. referenceAudio is a voice sample for backends that clone
// voices and may be empty.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, referenceAudio string) (string, error)
}

// OpenAISynthesizer calls the speech endpoint of the OpenAI API.
type OpenAISynthesizer struct {
	client    openai.Client
	model     string
	voice     string
	speed     float64
	format    string
	outputDir string
	timeout   time.Duration
	log       *slog.Logger
}

var _ Synthesizer = (*OpenAISynthesizer)(nil)

// NewOpenAISynthesizer builds a synthesizer that writes its files to
// outputDir in the given format ("wav" or "mp3").
func NewOpenAISynthesizer(cfg config.OpenAIConfig, format, outputDir string, log *slog.Logger, opts ...option.RequestOption) *OpenAISynthesizer {
	if log == nil {
		log = slog.Default()
	}
	if format == "" {
		format = "wav"
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	clientOpts = append(clientOpts, opts...)

	return &OpenAISynthesizer{
		client:    openai.NewClient(clientOpts...),
		model:     cfg.TTSModel,
		voice:     cfg.Voice,
		speed:     cfg.Speed,
		format:    format,
		outputDir: outputDir,
		timeout:   cfg.Timeout,
		log:       log.With("component", "tts"),
	}
}

// Synthesize writes speech for text to a fresh file under the output
// directory.
func (s *OpenAISynthesizer) Synthesize(ctx context.Context, text, referenceAudio string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}

	path := filepath.Join(s.outputDir, "tts_"+uuid.NewString()+"."+s.format)
	if err := s.SynthesizeTo(ctx, text, referenceAudio, path); err != nil {
		return "", err
	}
	return path, nil
}

// SynthesizeTo writes speech for text to outPath. The format follows the
// file extension. The hosted API has no voice cloning, so referenceAudio is
// ignored.
func (s *OpenAISynthesizer) SynthesizeTo(ctx context.Context, text, referenceAudio, outPath string) (err error) {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	if referenceAudio != "" {
		s.log.Debug("reference audio ignored by hosted voice", "reference", referenceAudio)
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	params := openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(s.model),
		Voice:          openai.AudioSpeechNewParamsVoice(s.voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormat(formatOf(outPath)),
	}
	if s.speed > 0 && s.speed != 1.0 {
		params.Speed = openai.Float(s.speed)
	}

	start := time.Now()
	resp, err := s.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return fmt.Errorf("speech synthesis failed: %w", err)
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create audio file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close audio file: %w", cerr)
		}
		if err != nil {
			os.Remove(outPath)
		}
	}()

	n, err := io.Copy(f, resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read audio data: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("speech synthesis returned no audio")
	}

	s.log.Info("speech synthesized",
		"chars", len([]rune(text)),
		"bytes", n,
		"path", outPath,
		"elapsed", time.Since(start))
	return nil
}

// Info describes the backend for the job service health endpoint.
func (s *OpenAISynthesizer) Info() map[string]any {
	return map[string]any{
		"backend": "openai",
		"model":   s.model,
		"voice":   s.voice,
		"speed":   s.speed,
		"formats": []string{"wav", "mp3"},
	}
}
