package asr

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/openai/openai-go/option"

	"voice-dialogue/internal/audio"
	"voice-dialogue/internal/config"
)

func testBuffer() *audio.Buffer {
	return &audio.Buffer{
		Samples:    audio.Sine(440, 200*time.Millisecond, 0.3, 16000),
		SampleRate: 16000,
		Channels:   1,
	}
}

func fakeWhisper(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("Expected multipart upload: %v", err)
		} else if r.FormValue("model") != "whisper-1" {
			t.Errorf("Expected model whisper-1, got %q", r.FormValue("model"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(baseURL string) config.OpenAIConfig {
	cfg := config.Default().OpenAI
	cfg.APIKey = "test-key"
	cfg.BaseURL = baseURL
	cfg.Timeout = 5 * time.Second
	return cfg
}

func TestOpenAIRecognizerTranscribe(t *testing.T) {
	srv := fakeWhisper(t, http.StatusOK, `{"text":"  hello there  "}`)
	r := NewOpenAIRecognizer(testConfig(srv.URL+"/v1"), nil, option.WithMaxRetries(0))

	if got := r.Transcribe(context.Background(), testBuffer()); got != "hello there" {
		t.Errorf("Expected %q, got %q", "hello there", got)
	}
}

func TestOpenAIRecognizerFailureIsEmpty(t *testing.T) {
	srv := fakeWhisper(t, http.StatusInternalServerError, `{"error":{"message":"boom"}}`)
	r := NewOpenAIRecognizer(testConfig(srv.URL+"/v1"), nil, option.WithMaxRetries(0))

	if got := r.Transcribe(context.Background(), testBuffer()); got != "" {
		t.Errorf("Expected empty text on failure, got %q", got)
	}
}

func TestOpenAIRecognizerEmptyBuffer(t *testing.T) {
	r := NewOpenAIRecognizer(testConfig("http://127.0.0.1:1"), nil)
	if got := r.Transcribe(context.Background(), nil); got != "" {
		t.Errorf("Expected empty text for nil buffer, got %q", got)
	}
}

func TestOpenAIRecognizerLive(t *testing.T) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		t.Skip("OPENAI_API_KEY not set, skipping live transcription test")
	}

	cfg := config.Default().OpenAI
	cfg.APIKey = apiKey
	r := NewOpenAIRecognizer(cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// a pure tone has no words; the call itself must not fail hard
	text := r.Transcribe(ctx, testBuffer())
	t.Logf("✓ transcription of test tone: %q", text)
}
