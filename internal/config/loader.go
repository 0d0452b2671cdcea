package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML file at path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over Default(). Unknown keys are rejected
// so that typos surface instead of silently keeping a default.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides secrets and endpoints from the environment.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.OpenAI.BaseURL = v
	}
	if v := os.Getenv("TTS_SERVICE_URL"); v != "" {
		cfg.TTS.ServiceURL = v
	}
}

// Validate checks that cfg is coherent and returns every problem found,
// joined into a single error.
func Validate(cfg *Config) error {
	var errs []error

	a := cfg.Audio
	if a.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", a.SampleRate))
	}
	if a.Channels < 1 || a.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels must be 1 or 2, got %d", a.Channels))
	}
	if a.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.chunk_size must be positive, got %d", a.ChunkSize))
	}
	if a.SilenceThreshold <= 0 || a.SilenceThreshold >= 1 {
		errs = append(errs, fmt.Errorf("audio.silence_threshold %.4f is out of range (0, 1)", a.SilenceThreshold))
	}
	if a.SilenceDuration <= 0 {
		errs = append(errs, errors.New("audio.silence_duration must be positive"))
	}
	if a.MinRecordDuration < 0 {
		errs = append(errs, errors.New("audio.min_record_duration must not be negative"))
	}
	if a.MaxRecordDuration <= 0 || a.MaxRecordDuration < a.MinRecordDuration {
		errs = append(errs, fmt.Errorf("audio.max_record_duration %s must be positive and >= min_record_duration %s",
			a.MaxRecordDuration, a.MinRecordDuration))
	}
	if a.RecordTimeout <= 0 {
		errs = append(errs, errors.New("audio.record_timeout must be positive"))
	}
	if a.JoinTimeout <= 0 {
		errs = append(errs, errors.New("audio.join_timeout must be positive"))
	}
	if a.Volume < 0 || a.Volume > 1 {
		errs = append(errs, fmt.Errorf("audio.volume %.2f is out of range [0, 1]", a.Volume))
	}

	c := cfg.Conversation
	if c.MaxHistory < 1 {
		errs = append(errs, fmt.Errorf("conversation.max_history must be at least 1, got %d", c.MaxHistory))
	}
	if c.MaxReplyChars <= 0 {
		errs = append(errs, fmt.Errorf("conversation.max_reply_chars must be positive, got %d", c.MaxReplyChars))
	}
	if c.MaxSpeechChars <= 0 {
		errs = append(errs, fmt.Errorf("conversation.max_speech_chars must be positive, got %d", c.MaxSpeechChars))
	}
	if c.FallbackReply == "" {
		errs = append(errs, errors.New("conversation.fallback_reply is required"))
	}
	if c.ErrorBackoff < 0 || c.TurnPause < 0 || c.ShutdownGrace < 0 {
		errs = append(errs, errors.New("conversation durations must not be negative"))
	}

	t := cfg.TTS
	if !t.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("tts.mode %q is invalid; valid values: local, remote", t.Mode))
	}
	if t.Format != "wav" && t.Format != "mp3" {
		errs = append(errs, fmt.Errorf("tts.format %q is invalid; valid values: wav, mp3", t.Format))
	}
	if t.Mode == SynthesisRemote && t.ServiceURL == "" {
		errs = append(errs, errors.New("tts.service_url is required when tts.mode is remote"))
	}
	if t.PollInterval <= 0 || t.WaitTimeout <= 0 {
		errs = append(errs, errors.New("tts.poll_interval and tts.wait_timeout must be positive"))
	}

	j := cfg.Jobs
	if j.ArtifactTTL <= 0 {
		errs = append(errs, errors.New("jobs.artifact_ttl must be positive"))
	}
	if j.SweepInterval <= 0 {
		errs = append(errs, errors.New("jobs.sweep_interval must be positive"))
	}
	if j.MaxTextLength <= 0 {
		errs = append(errs, fmt.Errorf("jobs.max_text_length must be positive, got %d", j.MaxTextLength))
	}
	if j.SweepInterval > j.ArtifactTTL && j.ArtifactTTL > 0 {
		slog.Warn("jobs.sweep_interval exceeds jobs.artifact_ttl; expired artifacts will linger on disk between sweeps",
			"sweep_interval", j.SweepInterval, "artifact_ttl", j.ArtifactTTL)
	}

	if cfg.Log.Level != "" && !cfg.Log.Level.IsValid() {
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: debug, info, warn, error", cfg.Log.Level))
	}

	return errors.Join(errs...)
}

// SlogLevel maps the configured level onto slog.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
