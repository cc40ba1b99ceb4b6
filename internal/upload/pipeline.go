package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pitabwire/frame/workerpool"

	"github.com/signbridge/signbridge/pkg/events"
)

// Config controls validation and polling.
type Config struct {
	MaxBytes          int64
	Formats           []string
	PollInterval      time.Duration
	ProcessingTimeout time.Duration
	FailureThreshold  int
}

// Option configures optional collaborators.
type Option func(*Pipeline)

// WithPool runs job runners on pool instead of plain goroutines.
func WithPool(pool workerpool.WorkerPool) Option {
	return func(p *Pipeline) { p.pool = pool }
}

// WithPublisher emits upload events through pub.
func WithPublisher(pub *events.Publisher) Option {
	return func(p *Pipeline) { p.pub = pub }
}

// Pipeline owns at most one upload job. Starting a new upload or removing
// the file discards the current job; responses for discarded jobs are
// ignored.
type Pipeline struct {
	cfg       Config
	client    Client
	validator Validator
	pool      workerpool.WorkerPool
	pub       *events.Publisher

	mu      sync.RWMutex
	current Job
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPipeline creates an idle pipeline.
func NewPipeline(client Client, cfg Config, opts ...Option) *Pipeline {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = 10 * time.Minute
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	p := &Pipeline{
		cfg:       cfg,
		client:    client,
		validator: Validator{MaxBytes: cfg.MaxBytes, Formats: cfg.Formats},
		current:   Job{Status: StatusIdle},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Current returns a snapshot of the current job.
func (p *Pipeline) Current() Job {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// UploadVideo validates file and starts uploading it in the background.
// Validation failures return before any network activity and leave the
// pipeline unchanged.
func (p *Pipeline) UploadVideo(ctx context.Context, file File) (Job, error) {
	contentType, err := p.validator.Validate(file)
	if err != nil {
		return p.Current(), err
	}

	now := time.Now().UTC()
	job := Job{
		ID:          uuid.NewString(),
		FileName:    file.Name,
		Size:        file.Size,
		ContentType: contentType,
		Status:      StatusUploading,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.current = job
	p.cancel = cancel
	p.mu.Unlock()

	slog.InfoContext(ctx, "upload: started",
		slog.String("job_id", job.ID),
		slog.String("file", file.Name),
		slog.Int64("size", file.Size),
	)
	p.emitProgress(ctx, job)

	run := func() {
		defer p.wg.Done()
		p.run(runCtx, job.ID, file, contentType)
	}
	p.wg.Add(1)
	if p.pool != nil {
		if err := p.pool.Submit(runCtx, run); err != nil {
			slog.WarnContext(ctx, "upload: pool submit failed, running inline goroutine", slog.String("error", err.Error()))
			go run()
		}
	} else {
		go run()
	}

	return job, nil
}

// RemoveFile discards the current job from any state and returns to idle.
func (p *Pipeline) RemoveFile() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.current = Job{Status: StatusIdle}
}

// Wait blocks until every job runner has returned.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) run(ctx context.Context, id string, file File, contentType string) {
	remote, err := p.client.Upload(ctx, file, contentType, func(sent, total int64) {
		if total <= 0 {
			return
		}
		pct := int(sent * 100 / total)
		if pct >= 100 {
			// 100 is reported once the server has accepted the upload.
			pct = 99
		}
		p.apply(ctx, id, func(j *Job) bool {
			if j.Status != StatusUploading || pct <= j.Progress {
				return false
			}
			j.Progress = pct
			return true
		})
	})
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		p.fail(ctx, id, fmt.Errorf("%w: %v", ErrUploadFailed, err))
		return
	}

	if !p.apply(ctx, id, func(j *Job) bool {
		if !isValidTransition(j.Status, StatusProcessing) {
			return false
		}
		j.Status = StatusProcessing
		j.Progress = 100
		j.RemoteID = remote.RemoteID()
		return true
	}) {
		return
	}

	if remote.Terminal() {
		p.finish(ctx, id, remote)
		return
	}
	p.poll(ctx, id, remote.RemoteID())
}

func (p *Pipeline) poll(ctx context.Context, id, remoteID string) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ProcessingTimeout)
	defer cancel()

	breaker := newPollBreaker(p.cfg.FailureThreshold)
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				p.fail(context.WithoutCancel(ctx), id, fmt.Errorf("%w: no result after %s", ErrProcessingFailed, p.cfg.ProcessingTimeout))
			}
			return
		case <-ticker.C:
		}

		remote, err := p.client.Job(ctx, remoteID)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			slog.WarnContext(ctx, "upload: poll failed",
				slog.String("job_id", id), slog.String("error", err.Error()))
			if breaker.RecordFailure() {
				p.fail(ctx, id, fmt.Errorf("%w: status unavailable after %d consecutive failures: %v",
					ErrProcessingFailed, breaker.Failures(), err))
				return
			}
			continue
		}
		breaker.RecordSuccess()

		if remote.Terminal() {
			p.finish(ctx, id, remote)
			return
		}

		pct := remote.Percent()
		if !p.apply(ctx, id, func(j *Job) bool {
			if pct <= j.ProcessingProgress {
				return false
			}
			j.ProcessingProgress = pct
			return true
		}) && p.stale(id) {
			return
		}
	}
}

func (p *Pipeline) finish(ctx context.Context, id string, remote RemoteJob) {
	if remote.Status == remoteFailed {
		msg := remote.Error
		if msg == "" {
			msg = "the server could not process the video"
		}
		p.fail(ctx, id, fmt.Errorf("%w: %s", ErrProcessingFailed, msg))
		return
	}
	if remote.Result == nil {
		p.fail(ctx, id, fmt.Errorf("%w: completed without a result", ErrProcessingFailed))
		return
	}

	result := remote.Result.Normalize()
	if result.ID == "" {
		result.ID = remote.RemoteID()
	}

	var completed Job
	if !p.apply(ctx, id, func(j *Job) bool {
		if !isValidTransition(j.Status, StatusCompleted) {
			return false
		}
		j.Status = StatusCompleted
		j.ProcessingProgress = 100
		j.Result = &result
		completed = *j
		return true
	}) {
		return
	}

	slog.InfoContext(ctx, "upload: completed",
		slog.String("job_id", id), slog.Int("segments", len(result.Segments)))
	if err := p.pub.Emit(ctx, events.UploadCompleted, id, events.UploadCompletedData{
		JobID:    id,
		RemoteID: completed.RemoteID,
		Segments: len(result.Segments),
		Duration: result.Duration,
		Summary:  result.Summary,
	}); err != nil {
		slog.WarnContext(ctx, "upload: emit completed", slog.String("error", err.Error()))
	}
}

func (p *Pipeline) fail(ctx context.Context, id string, cause error) {
	if !p.apply(ctx, id, func(j *Job) bool {
		if !isValidTransition(j.Status, StatusError) {
			return false
		}
		j.Status = StatusError
		j.Error = cause.Error()
		return true
	}) {
		return
	}

	slog.ErrorContext(ctx, "upload: failed", slog.String("job_id", id), slog.String("error", cause.Error()))
	if err := p.pub.Emit(ctx, events.UploadFailed, id, events.UploadFailedData{JobID: id, Error: cause.Error()}); err != nil {
		slog.WarnContext(ctx, "upload: emit failed", slog.String("error", err.Error()))
	}
}

// apply mutates the current job if it is still job id. It reports whether
// fn changed anything; updates for a discarded job are dropped.
func (p *Pipeline) apply(ctx context.Context, id string, fn func(j *Job) bool) bool {
	p.mu.Lock()
	if p.current.ID != id {
		p.mu.Unlock()
		slog.DebugContext(ctx, "upload: ignoring update for discarded job", slog.String("job_id", id))
		return false
	}
	if !fn(&p.current) {
		p.mu.Unlock()
		return false
	}
	p.current.UpdatedAt = time.Now().UTC()
	snap := p.current
	p.mu.Unlock()

	p.emitProgress(ctx, snap)
	return true
}

func (p *Pipeline) stale(id string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current.ID != id
}

func (p *Pipeline) emitProgress(ctx context.Context, j Job) {
	progress := j.Progress
	if j.Status == StatusProcessing {
		progress = j.ProcessingProgress
	}
	if err := p.pub.Emit(ctx, events.UploadProgress, j.ID, events.UploadProgressData{
		JobID:    j.ID,
		Status:   string(j.Status),
		Progress: progress,
	}); err != nil {
		slog.WarnContext(ctx, "upload: emit progress", slog.String("error", err.Error()))
	}
}
