package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"whisper-api/internal/entity"
	"whisper-api/internal/repository/postgresql"
	"whisper-api/internal/whispercpp"
)

// JobRepo is the store port the processor needs. All transitions are
// conditional at the store: MarkProcessing only wins against a queued
// row, Complete/Fail only against a processing one.
type JobRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error)
	Complete(ctx context.Context, id uuid.UUID, res *entity.TranscriptionResult) (bool, error)
	Fail(ctx context.Context, id uuid.UUID, kind, message string) (bool, error)
	Requeue(ctx context.Context, id uuid.UUID) (bool, error)
	SetProgress(ctx context.Context, id uuid.UUID, pct int) error
}

// Transcriber is the engine port (implementation: whispercpp.Engine).
// The call may run for minutes; it is the only long suspension point.
type Transcriber interface {
	Transcribe(ctx context.Context, in whispercpp.Input, progress func(pct int)) (*entity.TranscriptionResult, error)
}

type Processor struct {
	repo       JobRepo
	engine     Transcriber
	logger     *slog.Logger
	jobTimeout time.Duration
}

func NewProcessor(repo JobRepo, engine Transcriber, logger *slog.Logger, jobTimeout time.Duration) *Processor {
	return &Processor{
		repo:       repo,
		engine:     engine,
		logger:     logger,
		jobTimeout: jobTimeout,
	}
}

// Process executes one delivered descriptor end-to-end.
//
// A nil return means the descriptor is spent and must be acked: the job
// reached a terminal state, or the delivery was correctly dropped
// (expired, cancelled, redundant). A non-nil return means no outcome
// was recorded (store unreachable before any work, or shutdown
// interrupted the run); the descriptor stays unacked so the reaper
// redelivers it.
//
// A store failure on the terminal write itself is logged and absorbed:
// the job parks in "processing" until its TTL. Retrying there could
// double-run a transcription that already spent minutes of CPU.
func (p *Processor) Process(ctx context.Context, jobID string) error {
	start := time.Now()

	id, err := uuid.Parse(jobID)
	if err != nil {
		p.logger.Error("undeliverable descriptor", "job_id", jobID, "error", err)
		return nil
	}

	log := p.logger.With("job_id", id.String())

	job, err := p.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, postgresql.ErrNotFound) {
			// Expired before pickup.
			log.Info("dropping descriptor, record gone")
			return nil
		}
		log.Error("fetch job", "error", err)
		return err
	}

	if job.Status.Terminal() {
		// Redundant delivery or cancelled before pickup. Mandatory
		// pre-check: cancellation never removes the descriptor from
		// the queue, this is its sole enforcement point.
		log.Info("dropping descriptor", "status", job.Status)
		p.removeInput(job.AudioPath, log)
		return nil
	}

	won, err := p.repo.MarkProcessing(ctx, id)
	if err != nil {
		log.Error("mark processing", "error", err)
		return err
	}
	if !won {
		// Cancelled or claimed between fetch and transition.
		log.Info("dropping descriptor, lost pickup transition")
		return nil
	}

	log.Info("processing", "model", job.Model, "language", job.Language, "audio", job.AudioPath)

	runCtx := ctx
	if p.jobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.jobTimeout)
		defer cancel()
	}

	progress := func(pct int) {
		if err := p.repo.SetProgress(ctx, id, pct); err != nil {
			log.Warn("progress update failed", "pct", pct, "error", err)
		}
	}

	res, procErr := p.engine.Transcribe(runCtx, whispercpp.Input{
		AudioPath: job.AudioPath,
		Model:     job.Model,
		Language:  job.Language,
	}, progress)

	if procErr != nil && errors.Is(ctx.Err(), context.Canceled) {
		// Shutdown killed the run, there is no outcome to record.
		// Revert the row to queued and keep the descriptor and the
		// audio so the job is picked up again after restart.
		won, reqErr := p.repo.Requeue(context.WithoutCancel(ctx), id)
		switch {
		case reqErr != nil:
			log.Error("requeue after interrupted run failed, job parked until expiry", "error", reqErr)
		case !won:
			log.Warn("interrupted job no longer processing, leaving row as is")
		default:
			log.Info("run interrupted by shutdown, job requeued")
		}
		return ctx.Err()
	}

	// A shutdown arriving after the run finished must not lose the
	// outcome: terminal writes run detached from cancellation.
	writeCtx := context.WithoutCancel(ctx)

	if procErr != nil {
		kind, message := classifyEngineError(runCtx, procErr)
		p.writeTerminal(log, "failed", func() (bool, error) {
			return p.repo.Fail(writeCtx, id, kind, message)
		})
		log.Info("job failed", "kind", kind, "message", message, "duration_ms", time.Since(start).Milliseconds())
	} else {
		p.writeTerminal(log, "completed", func() (bool, error) {
			return p.repo.Complete(writeCtx, id, res)
		})
		log.Info("job completed", "segments", len(res.Segments), "duration_ms", time.Since(start).Milliseconds())
	}

	p.removeInput(job.AudioPath, log)
	return nil
}

// writeTerminal performs the conditional terminal write and logs the
// two ways it can not take effect: a stale write (job left processing
// in the meantime, discard our outcome) and a store outage (park until
// TTL expiry, no re-enqueue).
func (p *Processor) writeTerminal(log *slog.Logger, status string, write func() (bool, error)) {
	won, err := write()
	if err != nil {
		log.Error("terminal write failed, job parked until expiry", "status", status, "error", err)
		return
	}
	if !won {
		log.Warn("stale terminal write discarded", "status", status)
	}
}

func (p *Processor) removeInput(path string, log *slog.Logger) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn("failed to remove audio file", "path", path, "error", err)
	}
}

func classifyEngineError(runCtx context.Context, err error) (kind, message string) {
	var ee *whispercpp.EngineError
	if errors.As(err, &ee) {
		return ee.Kind, ee.Message
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return whispercpp.KindTimeout, "transcription timeout exceeded"
	}
	return "EngineFailure", err.Error()
}
