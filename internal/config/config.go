// Package config holds the explicit configuration value shared by the voice
// assistant, the synthesis job service and their tools. A Config is built once
// in main and handed to each component constructor.
package config

import "time"

// LogLevel is the minimum level the process logger emits.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// IsValid reports whether l is a known log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	}
	return false
}

// SynthesisMode selects where speech synthesis runs.
type SynthesisMode string

const (
	// SynthesisLocal calls the speech API in-process.
	SynthesisLocal SynthesisMode = "local"
	// SynthesisRemote submits jobs to a running tts_service.
	SynthesisRemote SynthesisMode = "remote"
)

// IsValid reports whether m is a known synthesis mode.
func (m SynthesisMode) IsValid() bool {
	return m == SynthesisLocal || m == SynthesisRemote
}

// Config is the root configuration document.
type Config struct {
	Audio        AudioConfig        `yaml:"audio"`
	Conversation ConversationConfig `yaml:"conversation"`
	OpenAI       OpenAIConfig       `yaml:"openai"`
	TTS          TTSConfig          `yaml:"tts"`
	Jobs         JobsConfig         `yaml:"jobs"`
	Log          LogConfig          `yaml:"log"`
}

// AudioConfig describes the capture and playback devices and endpointing.
type AudioConfig struct {
	SampleRate       int           `yaml:"sample_rate"`
	Channels         int           `yaml:"channels"`
	ChunkSize        int           `yaml:"chunk_size"`
	SilenceThreshold float64       `yaml:"silence_threshold"`
	SilenceDuration  time.Duration `yaml:"silence_duration"`
	// RecordTimeout caps continuous (streaming) recordings.
	RecordTimeout     time.Duration `yaml:"record_timeout"`
	MinRecordDuration time.Duration `yaml:"min_record_duration"`
	MaxRecordDuration time.Duration `yaml:"max_record_duration"`
	// JoinTimeout bounds how long a stopping session waits for its reader
	// before the stream is torn down anyway.
	JoinTimeout time.Duration `yaml:"join_timeout"`
	// InputDevice and OutputDevice select a host device by index or by
	// name. Empty means the system default.
	InputDevice  string  `yaml:"input_device"`
	OutputDevice string  `yaml:"output_device"`
	Volume       float64 `yaml:"volume"`
}

// ConversationConfig tunes the dialogue loop.
type ConversationConfig struct {
	MaxHistory     int           `yaml:"max_history"`
	MaxReplyChars  int           `yaml:"max_reply_chars"`
	MaxSpeechChars int           `yaml:"max_speech_chars"`
	ErrorBackoff   time.Duration `yaml:"error_backoff"`
	TurnPause      time.Duration `yaml:"turn_pause"`
	ShutdownGrace  time.Duration `yaml:"shutdown_grace"`
	SystemPrompt   string        `yaml:"system_prompt"`
	Greeting       string        `yaml:"greeting"`
	Farewell       string        `yaml:"farewell"`
	FallbackReply  string        `yaml:"fallback_reply"`
	ErrorReply     string        `yaml:"error_reply"`
	NoSpeechHint   string        `yaml:"no_speech_hint"`
	// ReferenceAudio is passed to the synthesizer for voice cloning backends.
	ReferenceAudio string `yaml:"reference_audio"`
	KeepArtifacts  bool   `yaml:"keep_artifacts"`
}

// OpenAIConfig configures the hosted recognizer, generator and synthesizer.
type OpenAIConfig struct {
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Timeout     time.Duration `yaml:"timeout"`
	ASRModel    string        `yaml:"asr_model"`
	Language    string        `yaml:"language"`
	ChatModel   string        `yaml:"chat_model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	TTSModel    string        `yaml:"tts_model"`
	Voice       string        `yaml:"voice"`
	Speed       float64       `yaml:"speed"`
}

// TTSConfig configures how the assistant obtains synthesized speech.
type TTSConfig struct {
	Mode         SynthesisMode `yaml:"mode"`
	ServiceURL   string        `yaml:"service_url"`
	Format       string        `yaml:"format"`
	OutputDir    string        `yaml:"output_dir"`
	PollInterval time.Duration `yaml:"poll_interval"`
	WaitTimeout  time.Duration `yaml:"wait_timeout"`
}

// JobsConfig configures the synthesis job service.
type JobsConfig struct {
	Listen        string        `yaml:"listen"`
	OutputDir     string        `yaml:"output_dir"`
	ArtifactTTL   time.Duration `yaml:"artifact_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	MaxTextLength int           `yaml:"max_text_length"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level LogLevel `yaml:"level"`
}

// Default returns a Config populated with the documented defaults.
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			SampleRate:        16000,
			Channels:          1,
			ChunkSize:         1024,
			SilenceThreshold:  0.01,
			SilenceDuration:   2 * time.Second,
			RecordTimeout:     5 * time.Second,
			MinRecordDuration: time.Second,
			MaxRecordDuration: 30 * time.Second,
			JoinTimeout:       2 * time.Second,
			Volume:            1.0,
		},
		Conversation: ConversationConfig{
			MaxHistory:     10,
			MaxReplyChars:  200,
			MaxSpeechChars: 500,
			ErrorBackoff:   time.Second,
			TurnPause:      500 * time.Millisecond,
			ShutdownGrace:  10 * time.Second,
			SystemPrompt:   "You are a helpful voice assistant. Answer briefly and in a friendly tone; your reply will be spoken aloud.",
			Greeting:       "Hello, I'm listening. What can I do for you?",
			Farewell:       "Goodbye, take care.",
			FallbackReply:  "I'm not sure what to say to that. Could you say it another way?",
			ErrorReply:     "I'm having some trouble right now. Let's try again in a moment.",
			NoSpeechHint:   "No speech was recognized, please try again.",
		},
		OpenAI: OpenAIConfig{
			Timeout:     60 * time.Second,
			ASRModel:    "whisper-1",
			ChatModel:   "gpt-4o-mini",
			Temperature: 0.7,
			MaxTokens:   300,
			TTSModel:    "tts-1",
			Voice:       "alloy",
			Speed:       1.0,
		},
		TTS: TTSConfig{
			Mode:         SynthesisLocal,
			ServiceURL:   "http://127.0.0.1:8888",
			Format:       "wav",
			OutputDir:    "output/tts",
			PollInterval: time.Second,
			WaitTimeout:  60 * time.Second,
		},
		Jobs: JobsConfig{
			Listen:        ":8888",
			OutputDir:     "output/jobs",
			ArtifactTTL:   60 * time.Second,
			SweepInterval: 10 * time.Second,
			MaxTextLength: 1000,
		},
		Log: LogConfig{Level: LogLevelInfo},
	}
}
