// Package jobs tracks speech synthesis requests as asynchronous jobs:
// submit, poll, fetch the artifact, and expire it after a fixed lifetime.
package jobs

import (
	"errors"
	"time"
)

var (
	// ErrNotFound covers unknown jobs and missing, unfinished or expired
	// artifacts.
	ErrNotFound = errors.New("jobs: not found")
	// ErrInvalidRequest is returned for requests that fail validation.
	ErrInvalidRequest = errors.New("jobs: invalid request")
	// ErrShuttingDown is returned by Submit after Shutdown has begun.
	ErrShuttingDown = errors.New("jobs: service shutting down")
)

// Status is the lifecycle of a job. Completed and Failed are terminal.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	default:
		return 2
	}
}

// Progress checkpoints. They are coarse markers, not measurements.
const (
	ProgressDequeued    = 0.1
	ProgressSynthesize  = 0.3
	ProgressSynthesized = 0.9
	ProgressDone        = 1.0
)

// Supported artifact formats.
const (
	FormatWAV = "wav"
	FormatMP3 = "mp3"
)

// Job is the externally visible record of one synthesis request.
type Job struct {
	ID             string    `json:"job_id"`
	Text           string    `json:"text"`
	ReferenceAudio string    `json:"reference_audio,omitempty"`
	Format         string    `json:"format"`
	Status         Status    `json:"status"`
	Progress       float64   `json:"progress"`
	Error          string    `json:"error,omitempty"`
	ArtifactURL    string    `json:"artifact_url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	FinishedAt     time.Time `json:"finished_at,omitzero"`

	// ArtifactRemoved is set once the artifact was deleted or expired.
	ArtifactRemoved bool `json:"artifact_removed,omitempty"`

	artifactPath string
}

// SubmitRequest is the body of POST /jobs and POST /synthesize.
type SubmitRequest struct {
	Text           string `json:"text"`
	ReferenceAudio string `json:"reference_audio,omitempty"`
	Format         string `json:"format,omitempty"`
}

// SubmitResponse is returned by POST /jobs.
type SubmitResponse struct {
	JobID  string `json:"job_id"`
	Status Status `json:"status"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string         `json:"status"`
	Jobs      int            `json:"jobs"`
	Backend   map[string]any `json:"backend,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
