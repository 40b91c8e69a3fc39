package httptransport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"whisper-api/internal/entity"
	"whisper-api/internal/service"
)

type Handler struct {
	jobSvc       *service.JobService
	models       service.ModelResolver
	defaultModel string
}

func NewHandler(jobSvc *service.JobService, models service.ModelResolver, defaultModel string) *Handler {
	return &Handler{jobSvc: jobSvc, models: models, defaultModel: defaultModel}
}

type submitJobDTO struct {
	AudioPath string `json:"audio_path"`
	Model     string `json:"model,omitempty"`
	Language  string `json:"language,omitempty"`
}

type submitJobResp struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	PollURL   string `json:"poll_url"`
	ResultURL string `json:"result_url"`
}

// jobView is the polling representation: status, progress and a human
// message, without the (possibly large) transcript body.
type jobView struct {
	ID          string           `json:"id"`
	Status      entity.JobStatus `json:"status"`
	Progress    int              `json:"progress"`
	Message     string           `json:"message"`
	Model       string           `json:"model"`
	Language    string           `json:"language,omitempty"`
	SubmittedAt string           `json:"submitted_at"`
	StartedAt   string           `json:"started_at,omitempty"`
	FinishedAt  string           `json:"finished_at,omitempty"`
	ResultURL   string           `json:"result_url,omitempty"`
	Error       *entity.JobError `json:"error,omitempty"`
}

type listJobsResp struct {
	Jobs  []jobView `json:"jobs"`
	Count int       `json:"count"`
}

type cancelJobResp struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// SubmitJob godoc
// @Summary Submit an async transcription job
// @Description Records the job (queued) and enqueues it for a worker; returns immediately with the id to poll.
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body submitJobDTO true "job payload"
// @Success 202 {object} submitJobResp
// @Failure 400 {object} apiError
// @Failure 503 {object} apiError
// @Router /api/v1/jobs [post]
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var dto submitJobDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	id, err := h.jobSvc.Submit(r.Context(), service.SubmitRequest{
		AudioPath: dto.AudioPath,
		Model:     dto.Model,
		Language:  dto.Language,
	})
	if err != nil {
		h.writeServiceErr(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, submitJobResp{
		ID:        id.String(),
		Status:    string(entity.StatusQueued),
		Message:   "Job submitted for processing",
		PollURL:   "/api/v1/jobs/" + id.String(),
		ResultURL: "/api/v1/jobs/" + id.String() + "/result",
	})
}

// GetJob godoc
// @Summary Get job status
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} jobView
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /api/v1/jobs/{id} [get]
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}

	job, err := h.jobSvc.Get(r.Context(), id)
	if err != nil {
		h.writeServiceErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toJobView(job))
}

// GetJobResult godoc
// @Summary Get the transcription result of a completed job
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} entity.Job
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /api/v1/jobs/{id}/result [get]
func (h *Handler) GetJobResult(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}

	job, err := h.jobSvc.Result(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrNotReady) && job != nil {
			if job.Status == entity.StatusFailed && job.Error != nil {
				writeErr(w, http.StatusConflict,
					fmt.Sprintf("job failed: %s: %s", job.Error.Kind, job.Error.Message))
				return
			}
			writeErr(w, http.StatusConflict,
				fmt.Sprintf("job not completed (status: %s)", job.Status))
			return
		}
		h.writeServiceErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// ListJobs godoc
// @Summary List recent jobs, newest first
// @Tags jobs
// @Produce json
// @Param status query string false "status filter (queued|processing|completed|failed|cancelled)"
// @Param limit query int false "max records (default 50)"
// @Success 200 {object} listJobsResp
// @Failure 400 {object} apiError
// @Router /api/v1/jobs [get]
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	status := entity.JobStatus(r.URL.Query().Get("status"))

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	jobs, err := h.jobSvc.List(r.Context(), status, limit)
	if err != nil {
		h.writeServiceErr(w, err)
		return
	}

	views := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, toJobView(j))
	}
	writeJSON(w, http.StatusOK, listJobsResp{Jobs: views, Count: len(views)})
}

// CancelJob godoc
// @Summary Cancel a queued or processing job
// @Description Terminal jobs return 409; cancellation of a processing job is cooperative and takes effect before the worker's terminal write.
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} cancelJobResp
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /api/v1/jobs/{id} [delete]
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}

	if err := h.jobSvc.Cancel(r.Context(), id); err != nil {
		h.writeServiceErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, cancelJobResp{
		ID:      id.String(),
		Status:  string(entity.StatusCancelled),
		Message: "Job cancelled successfully",
	})
}

// ListModels godoc
// @Summary List available whisper models
// @Tags models
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/v1/models [get]
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	available := h.models.Available()
	writeJSON(w, http.StatusOK, map[string]any{
		"models": available,
		"count":  len(available),
	})
}

// Info godoc
// @Summary Service information
// @Tags info
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/v1/info [get]
func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":       "whisper-api",
		"api_version":   "1.0.0",
		"default_model": h.defaultModel,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeServiceErr(w http.ResponseWriter, err error) {
	var ve *service.ValidationError
	switch {
	case errors.As(err, &ve):
		writeErr(w, http.StatusBadRequest, ve.Message)
	case errors.Is(err, service.ErrNotFound):
		writeErr(w, http.StatusNotFound, "job not found")
	case errors.Is(err, service.ErrConflict):
		writeErr(w, http.StatusConflict, "job already in a terminal state")
	case errors.Is(err, service.ErrNotReady):
		writeErr(w, http.StatusConflict, "job not completed")
	case errors.Is(err, service.ErrStoreUnavailable):
		writeErr(w, http.StatusServiceUnavailable, "service temporarily unavailable, retry later")
	default:
		writeErr(w, http.StatusInternalServerError, "internal error")
	}
}

func toJobView(j *entity.Job) jobView {
	v := jobView{
		ID:          j.ID.String(),
		Status:      j.Status,
		Progress:    j.Progress,
		Message:     statusMessage(j),
		Model:       j.Model,
		Language:    j.Language,
		SubmittedAt: j.SubmittedAt.Format(time.RFC3339),
		Error:       j.Error,
	}
	if j.StartedAt != nil {
		v.StartedAt = j.StartedAt.Format(time.RFC3339)
	}
	if j.FinishedAt != nil {
		v.FinishedAt = j.FinishedAt.Format(time.RFC3339)
	}
	if j.Status == entity.StatusCompleted {
		v.ResultURL = "/api/v1/jobs/" + j.ID.String() + "/result"
	}
	return v
}

func statusMessage(j *entity.Job) string {
	switch j.Status {
	case entity.StatusQueued:
		return "Job is queued"
	case entity.StatusProcessing:
		return "Processing audio"
	case entity.StatusCompleted:
		return "Transcription completed"
	case entity.StatusFailed:
		if j.Error != nil {
			return j.Error.Message
		}
		return "Transcription failed"
	case entity.StatusCancelled:
		return "Job cancelled"
	}
	return string(j.Status)
}
