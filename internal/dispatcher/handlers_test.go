package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mitto-dev/mitto/internal/cloudjobs"
	"github.com/mitto-dev/mitto/internal/common"
	"github.com/mitto-dev/mitto/internal/models"
	"github.com/mitto-dev/mitto/internal/storage/postgres"
)

type fakeExecStore struct {
	active   *models.JobExecution
	rows     map[string]*models.JobExecution
	inserted []*models.JobExecution
	statuses []string
	patches  []map[string]any
}

func newFakeExecStore() *fakeExecStore {
	return &fakeExecStore{rows: map[string]*models.JobExecution{}}
}

func (f *fakeExecStore) FindActive(_ context.Context, _ int64, _ int) (*models.JobExecution, error) {
	if f.active != nil {
		return f.active, nil
	}
	return nil, postgres.ErrNotFound
}

func (f *fakeExecStore) Insert(_ context.Context, e *models.JobExecution) error {
	f.inserted = append(f.inserted, e)
	f.rows[e.ExecutionID] = e
	return nil
}

func (f *fakeExecStore) Get(_ context.Context, executionID string) (*models.JobExecution, error) {
	if row, ok := f.rows[executionID]; ok {
		return row, nil
	}
	return nil, postgres.ErrNotFound
}

func (f *fakeExecStore) List(_ context.Context, status string, _ int64, _ int) ([]*models.JobExecution, error) {
	var out []*models.JobExecution
	for _, row := range f.rows {
		if status == "" || row.Status == status {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeExecStore) UpdateStatus(_ context.Context, executionID, status string, endedAt *time.Time) error {
	f.statuses = append(f.statuses, status)
	if row, ok := f.rows[executionID]; ok {
		row.Status = status
		row.EndedAt = endedAt
	}
	return nil
}

func (f *fakeExecStore) UpdateMetadata(_ context.Context, executionID string, patch map[string]any) error {
	f.patches = append(f.patches, patch)
	return nil
}

type fakeDispatchJobs struct {
	runErr    error
	runCalls  int
	cancelled []string
}

func (f *fakeDispatchJobs) RunJob(_ context.Context, req cloudjobs.RunRequest) (*cloudjobs.RunResult, error) {
	f.runCalls++
	if f.runErr != nil {
		return nil, f.runErr
	}
	return &cloudjobs.RunResult{
		OperationName: "operations/op-1",
		ExecutionName: "jobs/" + req.Env["JOB_EXECUTION_ID"],
	}, nil
}

func (f *fakeDispatchJobs) GetJob(context.Context, string) (*cloudjobs.JobStatus, error) {
	return &cloudjobs.JobStatus{State: cloudjobs.StateRunning}, nil
}

func (f *fakeDispatchJobs) CancelJob(_ context.Context, name string) error {
	f.cancelled = append(f.cancelled, name)
	return nil
}

type fakeSigner struct {
	err error
}

func (f *fakeSigner) EnsureFresh(_ context.Context, raw, _ string, _, _ time.Duration) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return raw, nil
}

type fakeWatcher struct {
	watched []string
}

func (f *fakeWatcher) Watch(_ context.Context, executionID, _ string) {
	f.watched = append(f.watched, executionID)
}

type handlerFixture struct {
	store   *fakeExecStore
	jobs    *fakeDispatchJobs
	signer  *fakeSigner
	watcher *fakeWatcher
	router  chi.Router
}

func newHandlerFixture() *handlerFixture {
	f := &handlerFixture{
		store:   newFakeExecStore(),
		jobs:    &fakeDispatchJobs{},
		signer:  &fakeSigner{},
		watcher: &fakeWatcher{},
	}
	h := NewHandlers(f.store, f.jobs, f.signer, f.watcher, "form-sender", context.Background(), common.GetLogger())

	r := chi.NewRouter()
	r.Get("/healthz", h.Health)
	r.Route("/v1/form-sender", func(r chi.Router) {
		r.Post("/validate-config", h.ValidateConfig)
		r.Post("/tasks", h.DispatchTask)
		r.Post("/signed-url/refresh", h.RefreshSignedURL)
		r.Get("/executions", h.ListExecutions)
		r.Post("/executions/{executionID}/cancel", h.CancelExecution)
	})
	f.router = r
	return f
}

func (f *handlerFixture) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthEndpoint(t *testing.T) {
	f := newHandlerFixture()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeBody(t, w)["status"])
}

func TestDispatchLaunchesJob(t *testing.T) {
	f := newHandlerFixture()
	w := f.post(t, "/v1/form-sender/tasks", launchTask())

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, "queued", body["status"])
	assert.NotEmpty(t, body["job_execution_id"])
	assert.Equal(t, "operations/op-1", body["cloud_run_operation"])

	require.Len(t, f.store.inserted, 1)
	assert.Equal(t, models.ExecutionStatusRunning, f.store.inserted[0].Status)
	assert.Equal(t, int64(42), f.store.inserted[0].TargetingID)
	assert.Equal(t, 1, f.jobs.runCalls)
	assert.Equal(t, []string{f.store.inserted[0].ExecutionID}, f.watcher.watched)

	require.Len(t, f.store.patches, 1)
	batch := f.store.patches[0]["batch"].(map[string]any)
	assert.Equal(t, "jobs/"+f.store.inserted[0].ExecutionID, batch["job_name"])
}

func TestDispatchDuplicateReturnsExisting(t *testing.T) {
	f := newHandlerFixture()
	f.store.active = &models.JobExecution{
		ExecutionID: "exec-existing",
		Status:      models.ExecutionStatusRunning,
	}

	w := f.post(t, "/v1/form-sender/tasks", launchTask())

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "duplicate", body["status"])
	assert.Equal(t, "exec-existing", body["job_execution_id"])
	assert.Zero(t, f.jobs.runCalls)
	assert.Empty(t, f.store.inserted)
}

func TestDispatchRejectsInvalidTask(t *testing.T) {
	f := newHandlerFixture()
	task := launchTask()
	task.TargetingID = 0

	w := f.post(t, "/v1/form-sender/tasks", task)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, f.jobs.runCalls)
}

func TestDispatchSignedURLPolicyRejected(t *testing.T) {
	f := newHandlerFixture()
	f.signer.err = fmt.Errorf("%w: host mismatch", ErrSignedURLPolicy)

	w := f.post(t, "/v1/form-sender/tasks", launchTask())
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Zero(t, f.jobs.runCalls)
}

func TestDispatchLaunchFailureMarksRowFailed(t *testing.T) {
	f := newHandlerFixture()
	f.jobs.runErr = errors.New("quota exhausted")

	w := f.post(t, "/v1/form-sender/tasks", launchTask())
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, f.store.statuses, models.ExecutionStatusFailed)
	assert.Empty(t, f.watcher.watched)
}

func TestValidateConfigEndpoint(t *testing.T) {
	f := newHandlerFixture()

	w := f.post(t, "/v1/form-sender/validate-config", launchTask())
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "valid", decodeBody(t, w)["status"])

	bad := launchTask()
	bad.ClientConfigObject = "not-a-gs-uri"
	w = f.post(t, "/v1/form-sender/validate-config", bad)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRefreshSignedURLPolicyError(t *testing.T) {
	f := newHandlerFixture()
	f.signer.err = fmt.Errorf("%w: wrong bucket", ErrSignedURLPolicy)

	w := f.post(t, "/v1/form-sender/signed-url/refresh", refreshRequest{
		URL:    "https://storage.googleapis.com/other/client.json",
		Object: testGSURI,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestRefreshSignedURLRequiresObject(t *testing.T) {
	f := newHandlerFixture()
	w := f.post(t, "/v1/form-sender/signed-url/refresh", refreshRequest{URL: "https://x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListExecutionsFiltersByStatus(t *testing.T) {
	f := newHandlerFixture()
	f.store.rows["exec-1"] = &models.JobExecution{ExecutionID: "exec-1", Status: models.ExecutionStatusRunning}
	f.store.rows["exec-2"] = &models.JobExecution{ExecutionID: "exec-2", Status: models.ExecutionStatusSucceeded}

	req := httptest.NewRequest(http.MethodGet, "/v1/form-sender/executions?status=running", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(1), body["count"])
}

func TestCancelRunningExecution(t *testing.T) {
	f := newHandlerFixture()
	f.store.rows["exec-1"] = &models.JobExecution{
		ExecutionID: "exec-1",
		Status:      models.ExecutionStatusRunning,
		Metadata: map[string]any{
			"batch": map[string]any{"job_name": "jobs/exec-1"},
		},
	}

	w := f.post(t, "/v1/form-sender/executions/exec-1/cancel", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cancelled", decodeBody(t, w)["status"])
	assert.Equal(t, []string{"jobs/exec-1"}, f.jobs.cancelled)
	assert.Equal(t, models.ExecutionStatusCancelled, f.store.rows["exec-1"].Status)
	require.NotNil(t, f.store.rows["exec-1"].EndedAt)
}

func TestCancelTerminalExecutionIsNoOp(t *testing.T) {
	f := newHandlerFixture()
	f.store.rows["exec-1"] = &models.JobExecution{
		ExecutionID: "exec-1",
		Status:      models.ExecutionStatusSucceeded,
	}

	w := f.post(t, "/v1/form-sender/executions/exec-1/cancel", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.ExecutionStatusSucceeded, decodeBody(t, w)["status"])
	assert.Empty(t, f.jobs.cancelled)
	assert.Empty(t, f.store.statuses)
}

func TestCancelUnknownExecution(t *testing.T) {
	f := newHandlerFixture()
	w := f.post(t, "/v1/form-sender/executions/missing/cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
