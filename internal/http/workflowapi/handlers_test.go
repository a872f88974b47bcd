package workflowapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"gorm.io/gorm"

	repos "github.com/yungbote/neurobridge-backend/internal/data/repos/workflow"
	workflow "github.com/yungbote/neurobridge-backend/internal/domain/workflow"
	"github.com/yungbote/neurobridge-backend/internal/pkg/dbctx"
	"github.com/yungbote/neurobridge-backend/internal/pkg/logger"
	"github.com/yungbote/neurobridge-backend/internal/workflow/cache"
	"github.com/yungbote/neurobridge-backend/internal/workflow/errs"
	"github.com/yungbote/neurobridge-backend/internal/workflow/eventbus"
	"github.com/yungbote/neurobridge-backend/internal/workflow/orchestrator"
	"github.com/yungbote/neurobridge-backend/internal/workflow/queue"
	"github.com/yungbote/neurobridge-backend/internal/workflow/stageconfig"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

type fakeSubmissionRepo struct {
	repos.SubmissionRepo
	subs []*workflow.Submission
}

func (f *fakeSubmissionRepo) ListSubmissions(dbc dbctx.Context, limit, offset int) ([]*workflow.Submission, error) {
	return f.subs, nil
}

func (f *fakeSubmissionRepo) GetSubmission(dbc dbctx.Context, id uuid.UUID) (*workflow.Submission, error) {
	return nil, gorm.ErrRecordNotFound
}

type fakeSampleRepo struct {
	repos.SampleRepo
	byID    map[uuid.UUID]*workflow.Sample
	byOwner map[uuid.UUID][]*workflow.Sample
}

func (f *fakeSampleRepo) GetSample(dbc dbctx.Context, id uuid.UUID) (*workflow.Sample, error) {
	s, ok := f.byID[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return s, nil
}

func (f *fakeSampleRepo) GetSamplesBySubmission(dbc dbctx.Context, submissionID uuid.UUID) ([]*workflow.Sample, error) {
	return f.byOwner[submissionID], nil
}

func (f *fakeSampleRepo) UpdateSampleFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	return nil
}

type fakeStepRepo struct {
	repos.StepRepo
	bySample map[uuid.UUID][]*workflow.ProcessingStep
	byID     map[uuid.UUID]*workflow.ProcessingStep
}

func (f *fakeStepRepo) GetSampleSteps(dbc dbctx.Context, sampleID uuid.UUID) ([]*workflow.ProcessingStep, error) {
	return f.bySample[sampleID], nil
}

func (f *fakeStepRepo) GetStep(dbc dbctx.Context, id uuid.UUID) (*workflow.ProcessingStep, error) {
	s, ok := f.byID[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return s, nil
}

func (f *fakeStepRepo) UpdateStep(dbc dbctx.Context, id uuid.UUID, patch map[string]interface{}) error {
	return nil
}

func (f *fakeStepRepo) CountStepsByStatus(dbc dbctx.Context, sampleID uuid.UUID) (map[workflow.StepStatus]int64, error) {
	return nil, nil
}

type fakeLeases struct{ cache.StepRegistry }

func (fakeLeases) Put(ctx context.Context, stepID uuid.UUID, rec cache.Record, ttl time.Duration) error {
	return nil
}
func (fakeLeases) Close() error { return nil }

type fakeBus struct{ eventbus.Bus }

func (fakeBus) Publish(ctx context.Context, evt workflow.Event) error { return nil }
func (fakeBus) Subscribe(ctx context.Context, subject workflow.EventSubject, h eventbus.Handler) error {
	return nil
}

func newTestHandler(t *testing.T, subs repos.SubmissionRepo, samples *fakeSampleRepo, steps *fakeStepRepo) *Handler {
	t.Helper()
	graph, err := stageconfig.Load()
	if err != nil {
		t.Fatalf("stageconfig.Load: %v", err)
	}
	qm := queue.NewManager(true)
	orch := orchestrator.New(testLogger(t), orchestrator.DefaultConfig(), graph, subs, samples, steps, qm, fakeLeases{}, fakeBus{})
	return New(testLogger(t), orch, fakeBus{}, subs, samples, steps, qm, graph)
}

func doRequest(h *Handler, handlerFn gin.HandlerFunc, method, target string, body string, params gin.Params) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Params = params
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
		c.Request = httptest.NewRequest(method, target, reader)
		c.Request.Header.Set("Content-Type", "application/json")
	} else {
		c.Request = httptest.NewRequest(method, target, nil)
	}
	handlerFn(c)
	return w
}

func TestGetSampleWorkflowReturns404ForUnknownSample(t *testing.T) {
	h := newTestHandler(t, &fakeSubmissionRepo{}, &fakeSampleRepo{byID: map[uuid.UUID]*workflow.Sample{}}, &fakeStepRepo{})
	w := doRequest(h, h.GetSampleWorkflow, http.MethodGet, "/api/samples/x/workflow", "", gin.Params{{Key: "id", Value: uuid.NewString()}})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetSampleWorkflowReturnsSampleAndSteps(t *testing.T) {
	sampleID := uuid.New()
	sample := &workflow.Sample{ID: sampleID, SampleName: "s1"}
	steps := []*workflow.ProcessingStep{{ID: uuid.New(), SampleID: sampleID}}
	h := newTestHandler(t,
		&fakeSubmissionRepo{},
		&fakeSampleRepo{byID: map[uuid.UUID]*workflow.Sample{sampleID: sample}},
		&fakeStepRepo{bySample: map[uuid.UUID][]*workflow.ProcessingStep{sampleID: steps}},
	)
	w := doRequest(h, h.GetSampleWorkflow, http.MethodGet, "/api/samples/x/workflow", "", gin.Params{{Key: "id", Value: sampleID.String()}})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Success bool `json:"success"`
		Data    struct {
			Sample struct {
				SampleName string `json:"sample_name"`
			} `json:"sample"`
			Steps []json.RawMessage `json:"steps"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Data.Sample.SampleName != "s1" || len(body.Data.Steps) != 1 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestPauseSampleConflictsOnArchivedSample(t *testing.T) {
	sampleID := uuid.New()
	sample := &workflow.Sample{ID: sampleID, Status: workflow.SampleArchived}
	h := newTestHandler(t, &fakeSubmissionRepo{}, &fakeSampleRepo{byID: map[uuid.UUID]*workflow.Sample{sampleID: sample}}, &fakeStepRepo{})
	w := doRequest(h, h.PauseSample, http.MethodPost, "/api/samples/x/pause", "", gin.Params{{Key: "id", Value: sampleID.String()}})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRetryStepConflictsWhenStepIsNotFailed(t *testing.T) {
	stepID := uuid.New()
	step := &workflow.ProcessingStep{ID: stepID, StepStatus: workflow.StepCompleted}
	h := newTestHandler(t, &fakeSubmissionRepo{}, &fakeSampleRepo{}, &fakeStepRepo{byID: map[uuid.UUID]*workflow.ProcessingStep{stepID: step}})
	w := doRequest(h, h.RetryStep, http.MethodPost, "/api/steps/x/retry", "", gin.Params{{Key: "id", Value: stepID.String()}})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRetryStepSucceedsOnFailedStep(t *testing.T) {
	stepID, sampleID := uuid.New(), uuid.New()
	step := &workflow.ProcessingStep{ID: stepID, SampleID: sampleID, StepStatus: workflow.StepFailed}
	sample := &workflow.Sample{ID: sampleID}
	h := newTestHandler(t, &fakeSubmissionRepo{}, &fakeSampleRepo{byID: map[uuid.UUID]*workflow.Sample{sampleID: sample}}, &fakeStepRepo{byID: map[uuid.UUID]*workflow.ProcessingStep{stepID: step}})
	w := doRequest(h, h.RetryStep, http.MethodPost, "/api/steps/x/retry", "", gin.Params{{Key: "id", Value: stepID.String()}})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestChangePriorityRejectsInvalidPriority(t *testing.T) {
	sampleID := uuid.New()
	sample := &workflow.Sample{ID: sampleID, Priority: workflow.PriorityNormal}
	h := newTestHandler(t, &fakeSubmissionRepo{}, &fakeSampleRepo{byID: map[uuid.UUID]*workflow.Sample{sampleID: sample}}, &fakeStepRepo{})
	w := doRequest(h, h.ChangePriority, http.MethodPatch, "/api/samples/x/priority", `{"priority":"urgentish"}`, gin.Params{{Key: "id", Value: sampleID.String()}})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestChangePriorityAcceptsValidPriority(t *testing.T) {
	sampleID := uuid.New()
	sample := &workflow.Sample{ID: sampleID, Priority: workflow.PriorityNormal}
	h := newTestHandler(t, &fakeSubmissionRepo{}, &fakeSampleRepo{byID: map[uuid.UUID]*workflow.Sample{sampleID: sample}}, &fakeStepRepo{})
	w := doRequest(h, h.ChangePriority, http.MethodPatch, "/api/samples/x/priority", `{"priority":"urgent"}`, gin.Params{{Key: "id", Value: sampleID.String()}})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestDistributeSampleConflictsWhenNotCompleted(t *testing.T) {
	sampleID := uuid.New()
	sample := &workflow.Sample{ID: sampleID, Status: workflow.SamplePrep}
	h := newTestHandler(t, &fakeSubmissionRepo{}, &fakeSampleRepo{byID: map[uuid.UUID]*workflow.Sample{sampleID: sample}}, &fakeStepRepo{})
	w := doRequest(h, h.DistributeSample, http.MethodPost, "/api/samples/x/distribute", "", gin.Params{{Key: "id", Value: sampleID.String()}})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestListQueueReturnsEmptyArrayNotNull(t *testing.T) {
	h := newTestHandler(t, &fakeSubmissionRepo{}, &fakeSampleRepo{}, &fakeStepRepo{})
	w := doRequest(h, h.ListQueue, http.MethodGet, "/api/queue", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Data == nil {
		t.Fatalf("expected an empty array, got null")
	}
}

func TestHealthReportsUnavailableOnRepoError(t *testing.T) {
	h := newTestHandler(t, &errorSubmissionRepo{}, &fakeSampleRepo{}, &fakeStepRepo{})
	w := doRequest(h, h.Health, http.MethodGet, "/api/health", "", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", w.Code, w.Body.String())
	}
}

type errorSubmissionRepo struct {
	repos.SubmissionRepo
}

func (errorSubmissionRepo) ListSubmissions(dbc dbctx.Context, limit, offset int) ([]*workflow.Submission, error) {
	return nil, errs.NewTransient(gorm.ErrInvalidDB)
}
