package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"voice-dialogue/internal/config"
	"voice-dialogue/internal/jobs"
)

// ServiceClient talks to a running synthesis job service.
type ServiceClient struct {
	baseURL      string
	httpClient   *http.Client
	format       string
	outputDir    string
	pollInterval time.Duration
	waitTimeout  time.Duration
	log          *slog.Logger
}

var _ Synthesizer = (*ServiceClient)(nil)

// NewServiceClient creates a client for the service at cfg.ServiceURL.
func NewServiceClient(cfg config.TTSConfig, log *slog.Logger) *ServiceClient {
	if log == nil {
		log = slog.Default()
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	return &ServiceClient{
		baseURL: strings.TrimRight(cfg.ServiceURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		format:       cfg.Format,
		outputDir:    cfg.OutputDir,
		pollInterval: poll,
		waitTimeout:  cfg.WaitTimeout,
		log:          log.With("component", "tts-client"),
	}
}

// do sends a request and returns the body of a 2xx response. A 404 maps to
// ErrNotFound; other failures carry the service's error message.
func (c *ServiceClient) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reqBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(reqBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode/100 != 2 {
		var errorResp jobs.ErrorResponse
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &errorResp) == nil && errorResp.Error != "" {
			msg = errorResp.Error
		}
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, msg)
		}
		return nil, fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, msg)
	}
	return data, nil
}

// Health checks that the service is up.
func (c *ServiceClient) Health(ctx context.Context) (*jobs.HealthResponse, error) {
	data, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return nil, err
	}
	var health jobs.HealthResponse
	if err := json.Unmarshal(data, &health); err != nil {
		return nil, fmt.Errorf("failed to decode health: %w", err)
	}
	return &health, nil
}

// Submit creates a synthesis job and returns its id.
func (c *ServiceClient) Submit(ctx context.Context, text, referenceAudio string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}

	data, err := c.do(ctx, http.MethodPost, "/jobs", jobs.SubmitRequest{
		Text:           text,
		ReferenceAudio: referenceAudio,
		Format:         c.format,
	})
	if err != nil {
		return "", err
	}
	var resp jobs.SubmitResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("failed to decode submit response: %w", err)
	}
	return resp.JobID, nil
}

// Status fetches the current state of a job.
func (c *ServiceClient) Status(ctx context.Context, id string) (*jobs.Job, error) {
	data, err := c.do(ctx, http.MethodGet, "/jobs/"+id, nil)
	if err != nil {
		return nil, err
	}
	var job jobs.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	return &job, nil
}

// Fetch downloads the artifact of a completed job.
func (c *ServiceClient) Fetch(ctx context.Context, id string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, "/artifacts/"+id, nil)
}

// Delete removes the artifact of a job from the service.
func (c *ServiceClient) Delete(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/artifacts/"+id, nil)
	return err
}

// WaitForCompletion polls the job until it completes, fails or the wait
// timeout elapses.
func (c *ServiceClient) WaitForCompletion(ctx context.Context, id string) (*jobs.Job, error) {
	if c.waitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.waitTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		job, err := c.Status(ctx, id)
		if err != nil {
			return nil, err
		}

		switch job.Status {
		case jobs.StatusCompleted:
			return job, nil
		case jobs.StatusFailed:
			return job, fmt.Errorf("%w: %s", ErrJobFailed, job.Error)
		}
		c.log.Debug("waiting for job", "job", id, "status", job.Status, "progress", job.Progress)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for job %s: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Synthesize submits text, waits for the job, saves the artifact locally
// and asks the service to drop its copy.
func (c *ServiceClient) Synthesize(ctx context.Context, text, referenceAudio string) (string, error) {
	id, err := c.Submit(ctx, text, referenceAudio)
	if err != nil {
		return "", fmt.Errorf("submit failed: %w", err)
	}

	job, err := c.WaitForCompletion(ctx, id)
	if err != nil {
		return "", err
	}

	data, err := c.Fetch(ctx, id)
	if err != nil {
		return "", fmt.Errorf("fetch artifact failed: %w", err)
	}

	path := filepath.Join(c.outputDir, "tts_"+id+"."+job.Format)
	if err := saveAudioToFile(data, path); err != nil {
		return "", err
	}

	if err := c.Delete(ctx, id); err != nil {
		c.log.Warn("remote artifact not deleted", "job", id, "error", err)
	}

	c.log.Info("speech synthesized remotely", "job", id, "bytes", len(data), "path", path)
	return path, nil
}
