package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"whisper-api/internal/entity"
)

var ErrNotFound = errors.New("not found")

// JobRepository persists job records. Expiry is fixed from submission:
// expires_at is written once on insert and never moved, and every read
// filters expired rows so a record becomes unreachable when its TTL
// elapses even before the sweep removes it.
type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

type CreateJobParams struct {
	AudioPath string
	Model     string
	Language  string
	TTL       time.Duration
}

func (r *JobRepository) Create(ctx context.Context, p CreateJobParams) (uuid.UUID, error) {
	const q = `
INSERT INTO jobs (id, status, audio_path, model, language, progress, submitted_at, expires_at)
VALUES ($1, 'queued', $2, $3, $4, 0, now(), now() + $5)
RETURNING id;
`
	// language is nullable; an absent hint is stored as NULL, not ''.
	var lang *string
	if p.Language != "" {
		lang = &p.Language
	}

	id := uuid.New()
	if err := r.pool.QueryRow(ctx, q, id, p.AudioPath, p.Model, lang, p.TTL).Scan(&id); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	const q = `
SELECT id, status, audio_path, model, language, progress,
       submitted_at, started_at, finished_at, expires_at,
       result, error_kind, error_message
FROM jobs
WHERE id = $1 AND expires_at > now();
`
	job, err := scanJob(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// List returns unexpired jobs, newest submission first. An empty status
// matches every status.
func (r *JobRepository) List(ctx context.Context, status entity.JobStatus, limit int) ([]*entity.Job, error) {
	const q = `
SELECT id, status, audio_path, model, language, progress,
       submitted_at, started_at, finished_at, expires_at,
       result, error_kind, error_message
FROM jobs
WHERE ($1 = '' OR status = $1) AND expires_at > now()
ORDER BY submitted_at DESC
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, q, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*entity.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// MarkProcessing moves a queued job to processing and stamps started_at.
// It reports false when the job is no longer queued (cancelled, expired,
// or claimed by a redundant delivery), which the caller must treat as
// "do no work".
func (r *JobRepository) MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	const q = `
UPDATE jobs SET status='processing', started_at=now()
WHERE id=$1 AND status='queued' AND expires_at > now();
`
	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Complete writes the terminal completed record. The status guard makes
// a stale write (job cancelled mid-flight, or already finished by a
// redundant delivery) a reported no-op instead of a corruption.
func (r *JobRepository) Complete(ctx context.Context, id uuid.UUID, res *entity.TranscriptionResult) (bool, error) {
	raw, err := json.Marshal(res)
	if err != nil {
		return false, fmt.Errorf("marshal result: %w", err)
	}

	const q = `
UPDATE jobs SET status='completed', progress=100, finished_at=now(),
       result=$2, error_kind=NULL, error_message=NULL
WHERE id=$1 AND status='processing';
`
	tag, err := r.pool.Exec(ctx, q, id, raw)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Fail writes the terminal failed record with the engine's error kind
// and message preserved verbatim. Same stale-write guard as Complete.
func (r *JobRepository) Fail(ctx context.Context, id uuid.UUID, kind, message string) (bool, error) {
	const q = `
UPDATE jobs SET status='failed', finished_at=now(),
       result=NULL, error_kind=$2, error_message=$3
WHERE id=$1 AND status='processing';
`
	tag, err := r.pool.Exec(ctx, q, id, kind, message)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Requeue reverts a processing job to queued after an interrupted run,
// resetting started_at and progress so the next pickup starts clean.
// It reports false when the row is no longer processing (cancelled in
// the meantime, or expired).
func (r *JobRepository) Requeue(ctx context.Context, id uuid.UUID) (bool, error) {
	const q = `
UPDATE jobs SET status='queued', started_at=NULL, progress=0
WHERE id=$1 AND status='processing' AND expires_at > now();
`
	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Cancel moves a queued or processing job to cancelled. It reports
// false when the job exists but is already terminal; missing or expired
// jobs return ErrNotFound.
func (r *JobRepository) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	const q = `
UPDATE jobs SET status='cancelled', finished_at=now()
WHERE id=$1 AND status IN ('queued','processing') AND expires_at > now();
`
	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	if _, err := r.GetByID(ctx, id); err != nil {
		return false, err // ErrNotFound or store failure
	}
	return false, nil
}

// SetProgress records best-effort progress while a job is processing.
// GREATEST keeps the value monotonically non-decreasing even when the
// engine repeats a milestone. Rows no longer processing are skipped
// silently.
func (r *JobRepository) SetProgress(ctx context.Context, id uuid.UUID, pct int) error {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	const q = `
UPDATE jobs SET progress=GREATEST(progress, $2)
WHERE id=$1 AND status='processing';
`
	_, err := r.pool.Exec(ctx, q, id, pct)
	return err
}

// Delete removes a single record. Used to roll back a submission whose
// descriptor could not be enqueued, so a job never sits "queued" with
// nothing to deliver.
func (r *JobRepository) Delete(ctx context.Context, id uuid.UUID) error {
	const q = `DELETE FROM jobs WHERE id=$1;`

	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpired removes records past their TTL regardless of status.
func (r *JobRepository) DeleteExpired(ctx context.Context) (int64, error) {
	const q = `DELETE FROM jobs WHERE expires_at <= now();`

	tag, err := r.pool.Exec(ctx, q)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*entity.Job, error) {
	var (
		job        entity.Job
		statusText string
		language   *string
		resultRaw  []byte
		errKind    *string
		errMsg     *string
	)

	if err := row.Scan(
		&job.ID,
		&statusText,
		&job.AudioPath,
		&job.Model,
		&language, // NULL => nil
		&job.Progress,
		&job.SubmittedAt,
		&job.StartedAt,
		&job.FinishedAt,
		&job.ExpiresAt,
		&resultRaw,
		&errKind,
		&errMsg,
	); err != nil {
		return nil, err
	}

	job.Status = entity.JobStatus(statusText)
	if language != nil {
		job.Language = *language
	}
	if resultRaw != nil {
		var res entity.TranscriptionResult
		if err := json.Unmarshal(resultRaw, &res); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
		job.Result = &res
	}
	if errKind != nil {
		job.Error = &entity.JobError{Kind: *errKind}
		if errMsg != nil {
			job.Error.Message = *errMsg
		}
	}

	return &job, nil
}
