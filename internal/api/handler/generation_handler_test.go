package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/imagegen-be/internal/api/dto"
	"github.com/cuongbtq/imagegen-be/internal/api/model"
	"github.com/cuongbtq/imagegen-be/internal/archiver/domain"
	"github.com/cuongbtq/imagegen-be/internal/imageref"
	"github.com/cuongbtq/imagegen-be/internal/replicate"
	"github.com/cuongbtq/imagegen-be/internal/results"
	"github.com/cuongbtq/imagegen-be/internal/thumbs"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type fakeRunner struct {
	outcome *replicate.Outcome
	err     error
	lastReq replicate.GenerateRequest
}

func (f *fakeRunner) Run(_ context.Context, _ replicate.Family, req replicate.GenerateRequest) (*replicate.Outcome, error) {
	f.lastReq = req
	return f.outcome, f.err
}

type fakePublisher struct {
	mu     sync.Mutex
	bodies [][]byte
	err    error
}

func (f *fakePublisher) PublishWithRetry(_ context.Context, body []byte, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies = append(f.bodies, body)
	return f.err
}

func (f *fakePublisher) published() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies
}

type fakeUsage struct {
	mu   sync.Mutex
	logs []*model.UsageLog
	err  error
}

func (f *fakeUsage) InsertUsageLog(_ context.Context, log *model.UsageLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, log)
	return f.err
}

func (f *fakeUsage) ListUsageLogs(_ context.Context, _ int) ([]model.UsageLog, error) {
	return nil, nil
}

type testEnv struct {
	handler   *GenerationHandler
	store     *results.Store
	publisher *fakePublisher
	usage     *fakeUsage
}

func newTestEnv(runner GenerationRunner) *testEnv {
	store := results.NewStore(time.Hour)
	publisher := &fakePublisher{}
	usage := &fakeUsage{}

	h := NewGenerationHandler(&Dependencies{
		Logger:    testLogger(),
		Runner:    runner,
		Store:     store,
		Publisher: publisher,
		Usage:     usage,
	})

	return &testEnv{handler: h, store: store, publisher: publisher, usage: usage}
}

func postGenerate(t *testing.T, h *GenerationHandler, body any) *httptest.ResponseRecorder {
	t.Helper()

	raw, err := json.Marshal(body)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/generations", bytes.NewReader(raw))
	c.Request.Header.Set("Content-Type", "application/json")

	h.Generate(c)
	return w
}

func TestGenerate_Success(t *testing.T) {
	runner := &fakeRunner{
		outcome: &replicate.Outcome{
			JobID:   "pred-1",
			Status:  replicate.StatusSucceeded,
			Outputs: []string{"https://replicate.delivery/out.png"},
		},
	}
	env := newTestEnv(runner)

	w := postGenerate(t, env.handler, dto.GenerateRequest{
		Prompt: "a cat",
		User:   dto.UserDTO{ID: "u1", Name: "Ann", Email: "ann@example.com"},
	})

	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.GenerationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "pred-1", resp.JobID)
	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, []string{"https://replicate.delivery/out.png"}, resp.Outputs)
	assert.Equal(t, "a cat", resp.Prompt)

	// The job is queryable afterwards
	job, ok := env.store.Get("pred-1")
	require.True(t, ok)
	assert.Equal(t, results.StatusCompleted, job.Status)
	assert.Equal(t, "Ann", job.User.Name)

	// A completion event was published for the archiver
	bodies := env.publisher.published()
	require.Len(t, bodies, 1)
	var event domain.GenerationCompletedEvent
	require.NoError(t, json.Unmarshal(bodies[0], &event))
	assert.Equal(t, "pred-1", event.JobID)
	assert.Equal(t, "completed", event.Status)
	assert.Equal(t, []string{"https://replicate.delivery/out.png"}, event.Outputs)

	// Usage was recorded
	require.Len(t, env.usage.logs, 1)
	assert.Equal(t, http.StatusOK, env.usage.logs[0].StatusCode)
}

func TestGenerate_MissingPrompt(t *testing.T) {
	env := newTestEnv(&fakeRunner{})

	w := postGenerate(t, env.handler, map[string]any{"model": "standard"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGenerate_UnknownModel(t *testing.T) {
	env := newTestEnv(&fakeRunner{})

	w := postGenerate(t, env.handler, dto.GenerateRequest{Prompt: "a cat", Model: "does-not-exist"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGenerate_MissingReferenceIsBadRequest(t *testing.T) {
	runner := &fakeRunner{err: replicate.ErrReferenceRequired}
	env := newTestEnv(runner)

	w := postGenerate(t, env.handler, dto.GenerateRequest{Prompt: "a house", Model: "control"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGenerate_SubmitFailureIsBadGateway(t *testing.T) {
	runner := &fakeRunner{err: fmt.Errorf("failed to submit generation: boom")}
	env := newTestEnv(runner)

	w := postGenerate(t, env.handler, dto.GenerateRequest{Prompt: "a cat"})
	assert.Equal(t, http.StatusBadGateway, w.Code)

	// The rejection is still recorded in usage
	require.Len(t, env.usage.logs, 1)
	assert.Equal(t, http.StatusBadGateway, env.usage.logs[0].StatusCode)
}

func TestGenerate_TimeoutIsGatewayTimeout(t *testing.T) {
	runner := &fakeRunner{
		outcome: &replicate.Outcome{
			JobID:  "pred-1",
			Status: replicate.StatusProcessing,
			Err:    "generation timed out before completing",
		},
		err: replicate.ErrPollTimeout,
	}
	env := newTestEnv(runner)

	w := postGenerate(t, env.handler, dto.GenerateRequest{Prompt: "a cat"})
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)

	// Non-terminal outcome: no completion event
	assert.Empty(t, env.publisher.published())
}

func TestGenerate_RemoteFailureIsOKWithFailedStatus(t *testing.T) {
	runner := &fakeRunner{
		outcome: &replicate.Outcome{
			JobID:  "pred-1",
			Status: replicate.StatusFailed,
			Err:    "NSFW content detected",
		},
	}
	env := newTestEnv(runner)

	w := postGenerate(t, env.handler, dto.GenerateRequest{Prompt: "a cat"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.GenerationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "failed", resp.Status)
	assert.Equal(t, "NSFW content detected", resp.Error)
}

func TestGenerate_UsageFailureDoesNotAbort(t *testing.T) {
	runner := &fakeRunner{
		outcome: &replicate.Outcome{
			JobID:   "pred-1",
			Status:  replicate.StatusSucceeded,
			Outputs: []string{"https://replicate.delivery/out.png"},
		},
	}
	env := newTestEnv(runner)
	env.usage.err = fmt.Errorf("database is down")

	w := postGenerate(t, env.handler, dto.GenerateRequest{Prompt: "a cat"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhook_UpdatesJob(t *testing.T) {
	env := newTestEnv(&fakeRunner{})
	env.store.Put(results.Job{ID: "pred-1", Status: results.StatusProcessing})

	payload := dto.WebhookPayload{
		ID:     "pred-1",
		Status: "succeeded",
		Output: json.RawMessage(`["https://replicate.delivery/out.png"]`),
	}
	raw, _ := json.Marshal(payload)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/generations/webhook", bytes.NewReader(raw))
	c.Request.Header.Set("Content-Type", "application/json")

	env.handler.Webhook(c)
	require.Equal(t, http.StatusOK, w.Code)

	job, ok := env.store.Get("pred-1")
	require.True(t, ok)
	assert.Equal(t, results.StatusCompleted, job.Status)
	assert.Equal(t, []string{"https://replicate.delivery/out.png"}, job.Outputs)
}

func TestWebhook_BeforeSubmitCreatesRecord(t *testing.T) {
	env := newTestEnv(&fakeRunner{})

	payload := dto.WebhookPayload{ID: "pred-9", Status: "failed", Error: "model crashed"}
	raw, _ := json.Marshal(payload)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/generations/webhook", bytes.NewReader(raw))
	c.Request.Header.Set("Content-Type", "application/json")

	env.handler.Webhook(c)
	require.Equal(t, http.StatusOK, w.Code)

	job, ok := env.store.Get("pred-9")
	require.True(t, ok)
	assert.Equal(t, results.StatusFailed, job.Status)
	assert.Equal(t, "model crashed", job.Error)
}

func TestWebhook_SucceededWithoutOutputIsFailed(t *testing.T) {
	env := newTestEnv(&fakeRunner{})

	payload := dto.WebhookPayload{ID: "pred-1", Status: "succeeded", Output: json.RawMessage(`[]`)}
	raw, _ := json.Marshal(payload)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/generations/webhook", bytes.NewReader(raw))
	c.Request.Header.Set("Content-Type", "application/json")

	env.handler.Webhook(c)
	require.Equal(t, http.StatusOK, w.Code)

	job, _ := env.store.Get("pred-1")
	assert.Equal(t, results.StatusFailed, job.Status)
	assert.Equal(t, "no output produced", job.Error)
}

func TestWebhook_TerminalTransitionPublishesCompletionEvent(t *testing.T) {
	env := newTestEnv(&fakeRunner{})

	// The poll loop gave up on this job; the webhook delivers the outcome
	env.store.Put(results.Job{ID: "pred-1", Status: results.StatusProcessing, Prompt: "a cat"})

	payload := dto.WebhookPayload{
		ID:     "pred-1",
		Status: "succeeded",
		Output: json.RawMessage(`["https://replicate.delivery/out.png"]`),
	}
	raw, _ := json.Marshal(payload)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/generations/webhook", bytes.NewReader(raw))
	c.Request.Header.Set("Content-Type", "application/json")

	env.handler.Webhook(c)
	require.Equal(t, http.StatusOK, w.Code)

	bodies := env.publisher.published()
	require.Len(t, bodies, 1)

	var event domain.GenerationCompletedEvent
	require.NoError(t, json.Unmarshal(bodies[0], &event))
	assert.Equal(t, "pred-1", event.JobID)
	assert.Equal(t, "completed", event.Status)
	assert.Equal(t, []string{"https://replicate.delivery/out.png"}, event.Outputs)
	assert.Equal(t, "a cat", event.Prompt)
	assert.False(t, event.CompletedAt.IsZero())
}

func TestWebhook_AlreadyTerminalJobIsNotRepublished(t *testing.T) {
	env := newTestEnv(&fakeRunner{})

	// Completed via the poll path; its event is already out
	env.store.Update("pred-1", func(job *results.Job) {
		job.Status = results.StatusCompleted
		job.Outputs = []string{"https://replicate.delivery/out.png"}
	})

	payload := dto.WebhookPayload{
		ID:     "pred-1",
		Status: "succeeded",
		Output: json.RawMessage(`["https://replicate.delivery/out.png"]`),
	}
	raw, _ := json.Marshal(payload)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/generations/webhook", bytes.NewReader(raw))
	c.Request.Header.Set("Content-Type", "application/json")

	env.handler.Webhook(c)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Empty(t, env.publisher.published())
}

func TestGetGeneration(t *testing.T) {
	env := newTestEnv(&fakeRunner{})
	env.store.Put(results.Job{ID: "pred-1", Status: results.StatusProcessing, Prompt: "a cat"})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/generations/pred-1", nil)
	c.Params = gin.Params{{Key: "job_id", Value: "pred-1"}}

	env.handler.GetGeneration(c)
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.GenerationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "processing", resp.Status)
}

func TestGetGeneration_NotFound(t *testing.T) {
	env := newTestEnv(&fakeRunner{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/generations/missing", nil)
	c.Params = gin.Params{{Key: "job_id", Value: "missing"}}

	env.handler.GetGeneration(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestGenerate_EndToEnd drives the real orchestrator and prediction client
// against a scripted prediction server.
func TestGenerate_EndToEnd(t *testing.T) {
	polls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/predictions":
			fmt.Fprint(w, `{"id":"pred-e2e","status":"starting"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/predictions/pred-e2e":
			polls++
			if polls < 2 {
				fmt.Fprint(w, `{"id":"pred-e2e","status":"processing"}`)
				return
			}
			fmt.Fprint(w, `{"id":"pred-e2e","status":"succeeded","output":["https://replicate.delivery/car.png"]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := replicate.NewClient(srv.URL, "test-token", time.Second, testLogger())
	orchestrator := replicate.NewOrchestrator(&replicate.Config{
		API:          client,
		Resolver:     imageref.NewPublisher(nil, time.Second, 0, testLogger()),
		Versions:     map[string]string{"standard": "owner/model:abc"},
		PollInterval: time.Millisecond,
		MaxAttempts:  50,
		Logger:       testLogger(),
	})

	env := newTestEnv(orchestrator)

	w := postGenerate(t, env.handler, dto.GenerateRequest{
		Prompt: "A car in a mountain landscape",
	})

	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.GenerationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "completed", resp.Status)
	assert.NotEmpty(t, resp.Outputs)
	assert.Equal(t, "A car in a mountain landscape", resp.Prompt)
}

// keep the thumbs import tied to the ThumbnailArchive contract
var _ ThumbnailArchive = (*thumbs.Archiver)(nil)
