package httptransport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whisper-api/internal/entity"
	"whisper-api/internal/repository/postgresql"
	"whisper-api/internal/service"
	httptransport "whisper-api/internal/transport/http"
)

// ---- fakes ----

type memRepo struct {
	jobs map[uuid.UUID]*entity.Job
}

func newMemRepo() *memRepo {
	return &memRepo{jobs: map[uuid.UUID]*entity.Job{}}
}

func (r *memRepo) Create(ctx context.Context, p postgresql.CreateJobParams) (uuid.UUID, error) {
	id := uuid.New()
	now := time.Now().UTC()
	r.jobs[id] = &entity.Job{
		ID:          id,
		Status:      entity.StatusQueued,
		AudioPath:   p.AudioPath,
		Model:       p.Model,
		Language:    p.Language,
		SubmittedAt: now,
		ExpiresAt:   now.Add(p.TTL),
	}
	return id, nil
}

func (r *memRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	j, ok := r.jobs[id]
	if !ok || !j.ExpiresAt.After(time.Now()) {
		return nil, postgresql.ErrNotFound
	}
	return j, nil
}

func (r *memRepo) List(ctx context.Context, status entity.JobStatus, limit int) ([]*entity.Job, error) {
	var out []*entity.Job
	for _, j := range r.jobs {
		if status != "" && j.Status != status {
			continue
		}
		if !j.ExpiresAt.After(time.Now()) {
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].SubmittedAt.After(out[k].SubmittedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	j, ok := r.jobs[id]
	if !ok || !j.ExpiresAt.After(time.Now()) {
		return false, postgresql.ErrNotFound
	}
	if j.Status.Terminal() {
		return false, nil
	}
	now := time.Now().UTC()
	j.Status = entity.StatusCancelled
	j.FinishedAt = &now
	return true, nil
}

func (r *memRepo) Delete(ctx context.Context, id uuid.UUID) error {
	delete(r.jobs, id)
	return nil
}

type queueStub struct {
	enqueued []string
}

func (q *queueStub) Enqueue(ctx context.Context, jobID string) error {
	q.enqueued = append(q.enqueued, jobID)
	return nil
}

type resolverStub struct{}

func (resolverStub) Resolve(name string) (string, error) {
	if name == "base.en" || name == "small" {
		return "/models/ggml-" + name + ".bin", nil
	}
	return "", fmt.Errorf("model %q not found", name)
}

func (resolverStub) Available() []string { return []string{"base.en", "small"} }

// ---- helpers ----

func newTestRouter(repo *memRepo, queue *queueStub) http.Handler {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.NewJobService(repo, queue, resolverStub{}, log, "base.en", 24*time.Hour)
	h := httptransport.NewHandler(svc, resolverStub{}, "base.en")
	return httptransport.Routes(h, log)
}

func tempAudioFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "speech.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF"), 0o644))
	return path
}

func doJSON(t *testing.T, router http.Handler, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

// ---- tests ----

func TestHTTP_SubmitJob_202(t *testing.T) {
	repo := newMemRepo()
	queue := &queueStub{}
	router := newTestRouter(repo, queue)

	body := fmt.Sprintf(`{"audio_path":%q,"model":"small","language":"en"}`, tempAudioFile(t))
	rr := doJSON(t, router, http.MethodPost, "/api/v1/jobs", body)

	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	var resp struct {
		ID        string `json:"id"`
		Status    string `json:"status"`
		PollURL   string `json:"poll_url"`
		ResultURL string `json:"result_url"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "queued", resp.Status)
	assert.Equal(t, "/api/v1/jobs/"+resp.ID, resp.PollURL)
	assert.Equal(t, "/api/v1/jobs/"+resp.ID+"/result", resp.ResultURL)

	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, resp.ID, queue.enqueued[0])
}

func TestHTTP_SubmitJob_400s(t *testing.T) {
	router := newTestRouter(newMemRepo(), &queueStub{})

	rr := doJSON(t, router, http.MethodPost, "/api/v1/jobs", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	body := fmt.Sprintf(`{"audio_path":%q,"model":"gigantic"}`, tempAudioFile(t))
	rr = doJSON(t, router, http.MethodPost, "/api/v1/jobs", body)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doJSON(t, router, http.MethodPost, "/api/v1/jobs", `{"audio_path":"/missing.wav"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHTTP_GetJob_StatusView(t *testing.T) {
	repo := newMemRepo()
	queue := &queueStub{}
	router := newTestRouter(repo, queue)

	body := fmt.Sprintf(`{"audio_path":%q}`, tempAudioFile(t))
	rr := doJSON(t, router, http.MethodPost, "/api/v1/jobs", body)
	require.Equal(t, http.StatusAccepted, rr.Code)

	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))

	rr = doJSON(t, router, http.MethodGet, "/api/v1/jobs/"+created.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)

	var view map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	assert.Equal(t, "queued", view["status"])
	assert.Equal(t, "Job is queued", view["message"])
	assert.Equal(t, float64(0), view["progress"])
	assert.Equal(t, "base.en", view["model"])
	assert.NotEmpty(t, view["submitted_at"])
	assert.NotContains(t, view, "result", "status view never carries the transcript")
}

func TestHTTP_GetJob_404(t *testing.T) {
	router := newTestRouter(newMemRepo(), &queueStub{})

	rr := doJSON(t, router, http.MethodGet, "/api/v1/jobs/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = doJSON(t, router, http.MethodGet, "/api/v1/jobs/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHTTP_GetJobResult_409WhileProcessing(t *testing.T) {
	repo := newMemRepo()
	router := newTestRouter(repo, &queueStub{})

	id := uuid.New()
	now := time.Now().UTC()
	repo.jobs[id] = &entity.Job{
		ID: id, Status: entity.StatusProcessing, Model: "base.en",
		SubmittedAt: now, StartedAt: &now, ExpiresAt: now.Add(time.Hour),
	}

	rr := doJSON(t, router, http.MethodGet, "/api/v1/jobs/"+id.String()+"/result", "")
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), "processing")
}

func TestHTTP_GetJobResult_200WhenCompleted(t *testing.T) {
	repo := newMemRepo()
	router := newTestRouter(repo, &queueStub{})

	id := uuid.New()
	now := time.Now().UTC()
	repo.jobs[id] = &entity.Job{
		ID: id, Status: entity.StatusCompleted, Model: "base.en", Progress: 100,
		SubmittedAt: now, StartedAt: &now, FinishedAt: &now, ExpiresAt: now.Add(time.Hour),
		Result: &entity.TranscriptionResult{
			Text:     "hello",
			Segments: []entity.Segment{{Index: 0, StartSec: 0.0, EndSec: 3.2, Text: "hello"}},
		},
	}

	rr := doJSON(t, router, http.MethodGet, "/api/v1/jobs/"+id.String()+"/result", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var got struct {
		Status string `json:"status"`
		Result struct {
			Text     string `json:"text"`
			Segments []struct {
				ID    int     `json:"id"`
				Start float64 `json:"start"`
				End   float64 `json:"end"`
				Text  string  `json:"text"`
			} `json:"segments"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "completed", got.Status)
	assert.Equal(t, "hello", got.Result.Text)
	require.Len(t, got.Result.Segments, 1)
	assert.Equal(t, 0, got.Result.Segments[0].ID)
	assert.InDelta(t, 3.2, got.Result.Segments[0].End, 1e-9)
}

func TestHTTP_GetJobResult_409WithFailureDetail(t *testing.T) {
	repo := newMemRepo()
	router := newTestRouter(repo, &queueStub{})

	id := uuid.New()
	now := time.Now().UTC()
	repo.jobs[id] = &entity.Job{
		ID: id, Status: entity.StatusFailed, Model: "base.en",
		SubmittedAt: now, FinishedAt: &now, ExpiresAt: now.Add(time.Hour),
		Error: &entity.JobError{Kind: "DecodeError", Message: "bad stream"},
	}

	rr := doJSON(t, router, http.MethodGet, "/api/v1/jobs/"+id.String()+"/result", "")
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), "DecodeError")
	assert.Contains(t, rr.Body.String(), "bad stream")
}

func TestHTTP_CancelJob_DistinguishesOutcomes(t *testing.T) {
	repo := newMemRepo()
	router := newTestRouter(repo, &queueStub{})

	body := fmt.Sprintf(`{"audio_path":%q}`, tempAudioFile(t))
	rr := doJSON(t, router, http.MethodPost, "/api/v1/jobs", body)
	require.Equal(t, http.StatusAccepted, rr.Code)

	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))

	// first cancel succeeds
	rr = doJSON(t, router, http.MethodDelete, "/api/v1/jobs/"+created.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "cancelled")

	// second hits a terminal job: conflict, not success and not 404
	rr = doJSON(t, router, http.MethodDelete, "/api/v1/jobs/"+created.ID, "")
	assert.Equal(t, http.StatusConflict, rr.Code)

	// unknown id: not found
	rr = doJSON(t, router, http.MethodDelete, "/api/v1/jobs/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHTTP_ListJobs_FilterLimitOrder(t *testing.T) {
	repo := newMemRepo()
	router := newTestRouter(repo, &queueStub{})

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		id := uuid.New()
		repo.jobs[id] = &entity.Job{
			ID: id, Status: entity.StatusCompleted, Model: "base.en",
			SubmittedAt: now.Add(time.Duration(i) * time.Minute),
			ExpiresAt:   now.Add(time.Hour),
		}
	}
	queuedID := uuid.New()
	repo.jobs[queuedID] = &entity.Job{
		ID: queuedID, Status: entity.StatusQueued, Model: "base.en",
		SubmittedAt: now.Add(time.Hour), ExpiresAt: now.Add(2 * time.Hour),
	}

	rr := doJSON(t, router, http.MethodGet, "/api/v1/jobs?status=completed&limit=2", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Jobs []struct {
			Status      string `json:"status"`
			SubmittedAt string `json:"submitted_at"`
		} `json:"jobs"`
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Jobs, 2)
	assert.Equal(t, 2, resp.Count)
	for _, j := range resp.Jobs {
		assert.Equal(t, "completed", j.Status)
	}
	assert.GreaterOrEqual(t, resp.Jobs[0].SubmittedAt, resp.Jobs[1].SubmittedAt, "newest first")

	rr = doJSON(t, router, http.MethodGet, "/api/v1/jobs?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHTTP_ModelsAndHealth(t *testing.T) {
	router := newTestRouter(newMemRepo(), &queueStub{})

	rr := doJSON(t, router, http.MethodGet, "/api/v1/models", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "base.en")

	rr = doJSON(t, router, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "healthy")
}
