package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"whisper-api/internal/entity"
	"whisper-api/internal/repository/postgresql"
)

const (
	DefaultListLimit = 50
	maxListLimit     = 500
)

// JobRepository is the store port (implementation: postgresql.JobRepository).
type JobRepository interface {
	Create(ctx context.Context, p postgresql.CreateJobParams) (uuid.UUID, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	List(ctx context.Context, status entity.JobStatus, limit int) ([]*entity.Job, error)
	Cancel(ctx context.Context, id uuid.UUID) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// JobQueue is the narrow enqueue-only port the orchestrator needs.
type JobQueue interface {
	Enqueue(ctx context.Context, jobID string) error
}

// ModelResolver validates model names against what the model manager
// actually has on disk.
type ModelResolver interface {
	Resolve(name string) (string, error)
	Available() []string
}

type JobService struct {
	repo     JobRepository
	queue    JobQueue
	models   ModelResolver
	validate *validator.Validate
	logger   *slog.Logger

	defaultModel string
	resultTTL    time.Duration
}

func NewJobService(repo JobRepository, queue JobQueue, models ModelResolver, logger *slog.Logger, defaultModel string, resultTTL time.Duration) *JobService {
	if resultTTL <= 0 {
		resultTTL = 24 * time.Hour
	}
	return &JobService{
		repo:         repo,
		queue:        queue,
		models:       models,
		validate:     validator.New(),
		logger:       logger,
		defaultModel: defaultModel,
		resultTTL:    resultTTL,
	}
}

type SubmitRequest struct {
	AudioPath string `validate:"required"`
	Model     string `validate:"omitempty,max=64"`
	Language  string `validate:"omitempty,min=2,max=8"`
}

// Submit validates the request, writes the queued record, enqueues the
// descriptor and returns the id without waiting for a worker. A record
// that cannot be durably enqueued is rolled back rather than left
// looking queued.
func (s *JobService) Submit(ctx context.Context, req SubmitRequest) (uuid.UUID, error) {
	if req.Model == "" {
		req.Model = s.defaultModel
	}

	if err := s.validate.Struct(req); err != nil {
		return uuid.Nil, validationErrorf("invalid request: %v", err)
	}
	if _, err := os.Stat(req.AudioPath); err != nil {
		return uuid.Nil, validationErrorf("audio file not found: %s", req.AudioPath)
	}
	if _, err := s.models.Resolve(req.Model); err != nil {
		return uuid.Nil, validationErrorf("unknown model %q (available: %v)", req.Model, s.models.Available())
	}

	id, err := s.repo.Create(ctx, postgresql.CreateJobParams{
		AudioPath: req.AudioPath,
		Model:     req.Model,
		Language:  req.Language,
		TTL:       s.resultTTL,
	})
	if err != nil {
		return uuid.Nil, storeErr(err)
	}

	if err := s.queue.Enqueue(ctx, id.String()); err != nil {
		if delErr := s.repo.Delete(ctx, id); delErr != nil {
			s.logger.Error("rollback after enqueue failure", "job_id", id, "error", delErr)
		}
		return uuid.Nil, storeErr(err)
	}

	s.logger.Info("job submitted", "job_id", id, "model", req.Model, "language", req.Language)
	return id, nil
}

func (s *JobService) Get(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, postgresql.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, storeErr(err)
	}
	return job, nil
}

// Result returns the job record once completed. For any other state it
// returns the record alongside ErrNotReady so callers can report how
// far the job got (including a recorded failure).
func (s *JobService) Result(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != entity.StatusCompleted {
		return job, ErrNotReady
	}
	return job, nil
}

func (s *JobService) List(ctx context.Context, status entity.JobStatus, limit int) ([]*entity.Job, error) {
	if status != "" && !status.Valid() {
		return nil, validationErrorf("unknown status filter %q", status)
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	jobs, err := s.repo.List(ctx, status, limit)
	if err != nil {
		return nil, storeErr(err)
	}
	return jobs, nil
}

// Cancel marks a queued or processing job cancelled. The descriptor is
// not removed from the queue; the worker's pre-check is what keeps the
// cancelled job from being worked. Cancelling a terminal job returns
// ErrConflict, an unknown id ErrNotFound.
func (s *JobService) Cancel(ctx context.Context, id uuid.UUID) error {
	won, err := s.repo.Cancel(ctx, id)
	if err != nil {
		if errors.Is(err, postgresql.ErrNotFound) {
			return ErrNotFound
		}
		return storeErr(err)
	}
	if !won {
		return ErrConflict
	}

	s.logger.Info("job cancelled", "job_id", id)
	return nil
}
