package entity

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition may leave s.
// Terminal records are only ever removed by the TTL sweep.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Segment is a timed transcript fragment.
type Segment struct {
	Index    int     `json:"id"`
	StartSec float64 `json:"start"`
	EndSec   float64 `json:"end"`
	Text     string  `json:"text"`
}

// TranscriptionResult is the engine's output: segments in playback
// order plus the joined text.
type TranscriptionResult struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
}

// JobError records why a job failed. Kind is the engine's error class
// (e.g. DecodeError, Timeout), Message the human-readable cause, both
// preserved verbatim from the engine.
type JobError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type Job struct {
	ID        uuid.UUID `json:"id"`
	Status    JobStatus `json:"status"`
	AudioPath string    `json:"-"`
	Model     string    `json:"model"`
	Language  string    `json:"language,omitempty"`
	Progress  int       `json:"progress"`

	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	ExpiresAt   time.Time  `json:"-"`

	Result *TranscriptionResult `json:"result,omitempty"`
	Error  *JobError            `json:"error,omitempty"`
}
