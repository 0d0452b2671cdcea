package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"voice-dialogue/internal/config"
)

// recordRetention is how long a finished job's record stays queryable after
// its artifact is gone.
const recordRetention = time.Hour

// Backend performs the actual synthesis.
type Backend interface {
	// SynthesizeTo writes the rendered speech for text to outPath.
	SynthesizeTo(ctx context.Context, text, referenceAudio, outPath string) error
	// Info describes the backend for GET /health and GET /models/info.
	Info() map[string]any
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMetrics records job metrics to m.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// Service runs synthesis jobs on background goroutines. It performs no
// admission control: every valid submission starts a worker immediately.
type Service struct {
	backend Backend
	cfg     config.JobsConfig
	log     *slog.Logger
	now     func() time.Time
	metrics *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	jobs   map[string]*Job
	closed bool
}

// NewService creates the output directory and returns a ready Service.
func NewService(backend Backend, cfg config.JobsConfig, opts ...Option) (*Service, error) {
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		backend: backend,
		cfg:     cfg,
		log:     slog.Default(),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(map[string]*Job),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "jobs")
	return s, nil
}

// Validate normalizes req and checks it against the service limits.
func (s *Service) Validate(req *SubmitRequest) error {
	if strings.TrimSpace(req.Text) == "" {
		return fmt.Errorf("%w: text cannot be empty", ErrInvalidRequest)
	}
	if n := utf8.RuneCountInString(req.Text); s.cfg.MaxTextLength > 0 && n > s.cfg.MaxTextLength {
		return fmt.Errorf("%w: text too long (%d characters, max %d)", ErrInvalidRequest, n, s.cfg.MaxTextLength)
	}
	if req.Format == "" {
		req.Format = FormatWAV
	}
	if req.Format != FormatWAV && req.Format != FormatMP3 {
		return fmt.Errorf("%w: unsupported format %q", ErrInvalidRequest, req.Format)
	}
	return nil
}

func (s *Service) register(req SubmitRequest) (*Job, error) {
	job := &Job{
		ID:             uuid.NewString(),
		Text:           req.Text,
		ReferenceAudio: req.ReferenceAudio,
		Format:         req.Format,
		Status:         StatusPending,
		CreatedAt:      s.now(),
	}
	job.artifactPath = filepath.Join(s.cfg.OutputDir, job.ID+"."+job.Format)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrShuttingDown
	}
	s.jobs[job.ID] = job
	s.wg.Add(1)
	s.metrics.recordSubmitted()
	return job, nil
}

// Submit validates req, records a pending job and starts its worker. A
// caller that has already gone away registers nothing; once accepted, the
// job runs on the service's own context.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if err := s.Validate(&req); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	job, err := s.register(req)
	if err != nil {
		return "", err
	}

	s.log.Info("job submitted", "job", job.ID, "chars", utf8.RuneCountInString(req.Text), "format", job.Format)
	go s.process(s.ctx, job.ID)
	return job.ID, nil
}

// SynthesizeNow runs a job to completion on the caller's goroutine.
func (s *Service) SynthesizeNow(ctx context.Context, req SubmitRequest) (Job, error) {
	if err := s.Validate(&req); err != nil {
		return Job{}, err
	}
	job, err := s.register(req)
	if err != nil {
		return Job{}, err
	}

	s.process(ctx, job.ID)
	return s.Status(job.ID)
}

func (s *Service) process(ctx context.Context, id string) {
	defer s.wg.Done()

	s.advance(id, StatusProcessing, ProgressDequeued)

	s.mu.RLock()
	job := s.jobs[id]
	text, ref, out := job.Text, job.ReferenceAudio, job.artifactPath
	s.mu.RUnlock()

	s.advance(id, StatusProcessing, ProgressSynthesize)
	start := time.Now()
	err := s.backend.SynthesizeTo(ctx, text, ref, out)
	if err == nil {
		if _, statErr := os.Stat(out); statErr != nil {
			err = fmt.Errorf("backend produced no artifact: %w", statErr)
		}
	}
	if err != nil {
		s.metrics.recordFinished(false, 0)
		s.fail(id, err)
		return
	}
	s.advance(id, StatusProcessing, ProgressSynthesized)

	elapsed := time.Since(start)
	s.metrics.recordFinished(true, elapsed.Seconds())
	s.advance(id, StatusCompleted, ProgressDone)
	s.log.Info("job completed", "job", id, "elapsed", elapsed)
}

// advance moves job id forward. Status never moves backwards, progress never
// decreases and terminal jobs are left alone.
func (s *Service) advance(id string, to Status, progress float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status.Terminal() {
		return
	}
	if to.rank() > job.Status.rank() {
		job.Status = to
	}
	job.Progress = max(job.Progress, progress)
	if job.Status.Terminal() {
		job.FinishedAt = s.now()
	}
}

func (s *Service) fail(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status.Terminal() {
		return
	}
	job.Status = StatusFailed
	job.Error = err.Error()
	job.FinishedAt = s.now()
	s.log.Error("job failed", "job", id, "progress", job.Progress, "error", err)

	if rmErr := os.Remove(job.artifactPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		s.log.Warn("remove partial artifact", "job", id, "error", rmErr)
	}
	job.ArtifactRemoved = true
}

// Status returns a snapshot of job id.
func (s *Service) Status(id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: job %s", ErrNotFound, id)
	}
	out := *job
	if out.Status == StatusCompleted && !out.ArtifactRemoved && !s.expired(job) {
		out.ArtifactURL = "/artifacts/" + id
	}
	return out, nil
}

// expired reports whether the artifact of a completed job outlived its TTL.
// The caller holds s.mu.
func (s *Service) expired(job *Job) bool {
	return job.Status == StatusCompleted && s.now().Sub(job.FinishedAt) >= s.cfg.ArtifactTTL
}

// FetchArtifact returns the bytes of a completed job's artifact. Artifacts
// past their TTL are not served even if the sweeper has not run yet.
func (s *Service) FetchArtifact(id string) ([]byte, error) {
	s.mu.RLock()
	job, ok := s.jobs[id]
	var (
		path      string
		available bool
	)
	if ok {
		path = job.artifactPath
		available = job.Status == StatusCompleted && !job.ArtifactRemoved && !s.expired(job)
	}
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: job %s", ErrNotFound, id)
	}
	if !available {
		return nil, fmt.Errorf("%w: artifact for job %s", ErrNotFound, id)
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: artifact file for job %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, nil
}

// DeleteArtifact removes a completed job's artifact ahead of its expiry.
func (s *Service) DeleteArtifact(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status != StatusCompleted || job.ArtifactRemoved {
		return fmt.Errorf("%w: artifact for job %s", ErrNotFound, id)
	}
	if err := os.Remove(job.artifactPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete artifact: %w", err)
	}
	job.ArtifactRemoved = true
	s.log.Info("artifact deleted", "job", id)
	return nil
}

// Sweep deletes every artifact whose TTL has elapsed, fetched or not, and
// forgets job records that finished long ago. It also removes stray files
// in the output directory older than the TTL. It returns the number of
// artifacts removed.
func (s *Service) Sweep() int {
	now := s.now()
	var removed int

	s.mu.Lock()
	live := make(map[string]bool, len(s.jobs))
	for id, job := range s.jobs {
		if job.Status.Terminal() && now.Sub(job.FinishedAt) >= recordRetention {
			delete(s.jobs, id)
			continue
		}
		if job.Status == StatusCompleted && !job.ArtifactRemoved && s.expired(job) {
			if err := os.Remove(job.artifactPath); err != nil && !errors.Is(err, os.ErrNotExist) {
				s.log.Warn("remove expired artifact", "job", id, "error", err)
				continue
			}
			job.ArtifactRemoved = true
			removed++
			continue
		}
		live[filepath.Base(job.artifactPath)] = true
	}
	s.mu.Unlock()

	removed += s.sweepStray(now, live)
	s.metrics.recordExpired(removed)
	if removed > 0 {
		s.log.Info("expired artifacts removed", "count", removed)
	}
	return removed
}

// sweepStray removes files no live job owns, such as artifacts left behind
// by an earlier process.
func (s *Service) sweepStray(now time.Time, live map[string]bool) int {
	entries, err := os.ReadDir(s.cfg.OutputDir)
	if err != nil {
		s.log.Warn("list output dir", "error", err)
		return 0
	}

	var removed int
	for _, e := range entries {
		if e.IsDir() || live[e.Name()] {
			continue
		}
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) < s.cfg.ArtifactTTL {
			continue
		}
		if err := os.Remove(filepath.Join(s.cfg.OutputDir, e.Name())); err != nil {
			s.log.Warn("remove stray artifact", "file", e.Name(), "error", err)
			continue
		}
		removed++
	}
	return removed
}

// Run sweeps expired artifacts every sweep interval until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	s.log.Info("artifact sweeper started", "interval", s.cfg.SweepInterval, "ttl", s.cfg.ArtifactTTL)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Len returns the number of tracked jobs.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Info describes the synthesis backend.
func (s *Service) Info() map[string]any {
	return s.backend.Info()
}

// Shutdown stops accepting jobs and waits for running ones. When ctx ends
// first, running jobs are cancelled and ctx.Err() is returned.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}
