// Package asr turns recorded utterances into text.
package asr

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"voice-dialogue/internal/audio"
	"voice-dialogue/internal/config"
)

// Recognizer transcribes a buffer. An empty result means nothing usable was
// heard; recognizers log their own failures and never return an error.
type Recognizer interface {
	Transcribe(ctx context.Context, buf *audio.Buffer) string
}

// OpenAIRecognizer uploads recordings to the Whisper transcription API.
type OpenAIRecognizer struct {
	client   openai.Client
	model    string
	language string
	timeout  time.Duration
	log      *slog.Logger
}

var _ Recognizer = (*OpenAIRecognizer)(nil)

// NewOpenAIRecognizer builds a recognizer from cfg. Extra options are applied
// after the ones derived from cfg.
func NewOpenAIRecognizer(cfg config.OpenAIConfig, log *slog.Logger, opts ...option.RequestOption) *OpenAIRecognizer {
	if log == nil {
		log = slog.Default()
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	clientOpts = append(clientOpts, opts...)

	return &OpenAIRecognizer{
		client:   openai.NewClient(clientOpts...),
		model:    cfg.ASRModel,
		language: cfg.Language,
		timeout:  cfg.Timeout,
		log:      log.With("component", "asr"),
	}
}

func (r *OpenAIRecognizer) Transcribe(ctx context.Context, buf *audio.Buffer) string {
	if buf == nil || len(buf.Samples) == 0 {
		return ""
	}

	data, err := audio.EncodeWAV(buf.Samples, buf.SampleRate, buf.Channels)
	if err != nil {
		r.log.Error("encode recording", "error", err)
		return ""
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(data), "audio.wav", "audio/wav"),
		Model: openai.AudioModel(r.model),
	}
	if r.language != "" && r.language != "auto" {
		params.Language = openai.String(r.language)
	}

	start := time.Now()
	transcription, err := r.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		r.log.Error("transcription failed", "error", err, "audio", buf.Duration())
		return ""
	}

	text := strings.TrimSpace(transcription.Text)
	r.log.Info("transcribed", "chars", len([]rune(text)), "audio", buf.Duration(), "elapsed", time.Since(start))
	return text
}
