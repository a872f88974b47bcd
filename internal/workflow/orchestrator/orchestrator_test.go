package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	repos "github.com/yungbote/neurobridge-backend/internal/data/repos/workflow"
	workflow "github.com/yungbote/neurobridge-backend/internal/domain/workflow"
	"github.com/yungbote/neurobridge-backend/internal/pkg/dbctx"
	"github.com/yungbote/neurobridge-backend/internal/pkg/logger"
	"github.com/yungbote/neurobridge-backend/internal/workflow/cache"
	"github.com/yungbote/neurobridge-backend/internal/workflow/eventbus"
	"github.com/yungbote/neurobridge-backend/internal/workflow/queue"
	"github.com/yungbote/neurobridge-backend/internal/workflow/stageconfig"
)

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
	byID map[uuid.UUID]*workflow.Submission
}

func (f *fakeSubmissionRepo) GetSubmission(dbc dbctx.Context, id uuid.UUID) (*workflow.Submission, error) {
	s, ok := f.byID[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return s, nil
}

type fakeSampleRepo struct {
	repos.SampleRepo
	byID    map[uuid.UUID]*workflow.Sample
	updates map[string]interface{}
}

func (f *fakeSampleRepo) GetSample(dbc dbctx.Context, id uuid.UUID) (*workflow.Sample, error) {
	s, ok := f.byID[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return s, nil
}

func (f *fakeSampleRepo) UpdateSampleFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	f.updates = updates
	for k, v := range updates {
		switch k {
		case "status":
			f.byID[id].Status = v.(workflow.SampleStatus)
		case "workflow_stage":
			f.byID[id].WorkflowStage = v.(workflow.StageName)
		}
	}
	return nil
}

func (f *fakeSampleRepo) WithSampleLock(dbc dbctx.Context, id uuid.UUID, fn func(tx *gorm.DB, sample *workflow.Sample) error) error {
	sample, ok := f.byID[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	return fn(nil, sample)
}

type fakeStepRepo struct {
	repos.StepRepo
	bySample map[uuid.UUID][]*workflow.ProcessingStep
	byID     map[uuid.UUID]*workflow.ProcessingStep
	patches  map[uuid.UUID]map[string]interface{}
}

func (f *fakeStepRepo) GetStep(dbc dbctx.Context, id uuid.UUID) (*workflow.ProcessingStep, error) {
	s, ok := f.byID[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return s, nil
}

func (f *fakeStepRepo) GetSampleSteps(dbc dbctx.Context, sampleID uuid.UUID) ([]*workflow.ProcessingStep, error) {
	return f.bySample[sampleID], nil
}

func (f *fakeStepRepo) CreateStepsBulk(dbc dbctx.Context, sampleID uuid.UUID, graph *stageconfig.Graph) ([]*workflow.ProcessingStep, error) {
	var out []*workflow.ProcessingStep
	for i, stage := range workflow.CanonicalStages {
		s := &workflow.ProcessingStep{ID: uuid.New(), SampleID: sampleID, StepName: stage, StepOrder: i, StepStatus: workflow.StepPending}
		out = append(out, s)
		f.byID[s.ID] = s
	}
	f.bySample[sampleID] = out
	return out, nil
}

func (f *fakeStepRepo) applyPatch(id uuid.UUID, patch map[string]interface{}) {
	s := f.byID[id]
	if s == nil {
		return
	}
	if v, ok := patch["step_status"]; ok {
		s.StepStatus = v.(workflow.StepStatus)
	}
	if v, ok := patch["started_at"]; ok {
		if t, ok := v.(time.Time); ok {
			s.StartedAt = &t
		}
	}
	if v, ok := patch["notes"]; ok {
		s.Notes = v.(string)
	}
	if v, ok := patch["failure_count"]; ok {
		s.FailureCount = v.(int)
	}
	if v, ok := patch["last_error_text"]; ok {
		s.LastErrorText = v.(string)
	}
}

func (f *fakeStepRepo) UpdateStep(dbc dbctx.Context, id uuid.UUID, patch map[string]interface{}) error {
	f.applyPatch(id, patch)
	return nil
}

func (f *fakeStepRepo) UpdateStepUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowed []workflow.StepStatus, patch map[string]interface{}) (bool, error) {
	s := f.byID[id]
	if s == nil {
		return false, gorm.ErrRecordNotFound
	}
	for _, d := range disallowed {
		if s.StepStatus == d {
			return false, nil
		}
	}
	f.applyPatch(id, patch)
	return true, nil
}

type fakeLeases struct{ cache.StepRegistry }

func (fakeLeases) Put(ctx context.Context, stepID uuid.UUID, rec cache.Record, ttl time.Duration) error {
	return nil
}

type fakeBus struct {
	eventbus.Bus
	published []workflow.Event
}

func (f *fakeBus) Publish(ctx context.Context, evt workflow.Event) error {
	f.published = append(f.published, evt)
	return nil
}

func newTestOrchestrator(t *testing.T, subs *fakeSubmissionRepo, samples *fakeSampleRepo, steps *fakeStepRepo, bus *fakeBus) *Orchestrator {
	t.Helper()
	graph, err := stageconfig.Load()
	if err != nil {
		t.Fatalf("stageconfig.Load: %v", err)
	}
	qm := queue.NewManager(true)
	return New(testLogger(t), DefaultConfig(), graph, subs, samples, steps, qm, fakeLeases{}, bus)
}

func newSampleQCStep(sampleID uuid.UUID, status workflow.StepStatus) *workflow.ProcessingStep {
	return &workflow.ProcessingStep{ID: uuid.New(), SampleID: sampleID, StepName: workflow.StageSampleQC, StepStatus: status}
}

func TestHandleSampleCreatedCreatesStepsWhenMissing(t *testing.T) {
	sampleID := uuid.New()
	submissionID := uuid.New()
	sample := &workflow.Sample{ID: sampleID, SubmissionID: submissionID, SampleNumber: 1, Priority: workflow.PriorityNormal}
	subs := &fakeSubmissionRepo{byID: map[uuid.UUID]*workflow.Submission{submissionID: {ID: submissionID, SubmissionDate: time.Now()}}}
	samples := &fakeSampleRepo{byID: map[uuid.UUID]*workflow.Sample{sampleID: sample}}
	steps := &fakeStepRepo{bySample: map[uuid.UUID][]*workflow.ProcessingStep{}, byID: map[uuid.UUID]*workflow.ProcessingStep{}}
	bus := &fakeBus{}
	o := newTestOrchestrator(t, subs, samples, steps, bus)

	err := o.handleSampleCreated(context.Background(), workflow.Event{SampleID: &sampleID})
	if err != nil {
		t.Fatalf("handleSampleCreated: %v", err)
	}
	if len(steps.bySample[sampleID]) != len(workflow.CanonicalStages) {
		t.Fatalf("expected %d steps created, got %d", len(workflow.CanonicalStages), len(steps.bySample[sampleID]))
	}
	if o.queues.Stage(workflow.StageSampleQC).Len() != 1 {
		t.Fatalf("expected sample_qc queue to receive the first ready step")
	}
}

func TestHandleSampleCreatedIsIdempotentWhenStepsAlreadyExist(t *testing.T) {
	sampleID := uuid.New()
	sample := &workflow.Sample{ID: sampleID, Priority: workflow.PriorityNormal}
	existing := []*workflow.ProcessingStep{newSampleQCStep(sampleID, workflow.StepPending)}
	subs := &fakeSubmissionRepo{byID: map[uuid.UUID]*workflow.Submission{}}
	samples := &fakeSampleRepo{byID: map[uuid.UUID]*workflow.Sample{sampleID: sample}}
	steps := &fakeStepRepo{bySample: map[uuid.UUID][]*workflow.ProcessingStep{sampleID: existing}, byID: map[uuid.UUID]*workflow.ProcessingStep{existing[0].ID: existing[0]}}
	o := newTestOrchestrator(t, subs, samples, steps, &fakeBus{})

	if err := o.handleSampleCreated(context.Background(), workflow.Event{SampleID: &sampleID}); err != nil {
		t.Fatalf("handleSampleCreated: %v", err)
	}
	if len(steps.bySample[sampleID]) != 1 {
		t.Fatalf("expected no duplicate step creation, got %d steps", len(steps.bySample[sampleID]))
	}
}

func TestHandleStepStartedSetsStartedAtAndWorkflowStage(t *testing.T) {
	sampleID := uuid.New()
	step := newSampleQCStep(sampleID, workflow.StepPending)
	sample := &workflow.Sample{ID: sampleID}
	samples := &fakeSampleRepo{byID: map[uuid.UUID]*workflow.Sample{sampleID: sample}}
	steps := &fakeStepRepo{byID: map[uuid.UUID]*workflow.ProcessingStep{step.ID: step}}
	o := newTestOrchestrator(t, &fakeSubmissionRepo{}, samples, steps, &fakeBus{})

	if err := o.handleStepStarted(context.Background(), workflow.Event{StepID: &step.ID}); err != nil {
		t.Fatalf("handleStepStarted: %v", err)
	}
	if step.StepStatus != workflow.StepInProgress || step.StartedAt == nil {
		t.Fatalf("expected step started, got status=%s startedAt=%v", step.StepStatus, step.StartedAt)
	}
	if sample.WorkflowStage != workflow.StageSampleQC {
		t.Fatalf("expected sample workflow_stage updated to sample_qc, got %s", sample.WorkflowStage)
	}
}

func TestHandleStepStartedIsNoOpForAlreadyCompletedStep(t *testing.T) {
	sampleID := uuid.New()
	step := newSampleQCStep(sampleID, workflow.StepCompleted)
	samples := &fakeSampleRepo{byID: map[uuid.UUID]*workflow.Sample{sampleID: {ID: sampleID}}}
	steps := &fakeStepRepo{byID: map[uuid.UUID]*workflow.ProcessingStep{step.ID: step}}
	o := newTestOrchestrator(t, &fakeSubmissionRepo{}, samples, steps, &fakeBus{})

	if err := o.handleStepStarted(context.Background(), workflow.Event{StepID: &step.ID}); err != nil {
		t.Fatalf("handleStepStarted: %v", err)
	}
	if step.StartedAt != nil {
		t.Fatalf("expected redelivery against a completed step to be a no-op")
	}
}

func TestHandleStepCompletedAdvancesToNextStageWithoutAllStepsDone(t *testing.T) {
	sampleID := uuid.New()
	submissionID := uuid.New()
	qcStep := newSampleQCStep(sampleID, workflow.StepInProgress)
	started := time.Now().Add(-time.Hour)
	qcStep.StartedAt = &started
	libPrep := &workflow.ProcessingStep{ID: uuid.New(), SampleID: sampleID, StepName: workflow.StageLibraryPrep, StepStatus: workflow.StepPending}
	allSteps := []*workflow.ProcessingStep{qcStep, libPrep}

	sample := &workflow.Sample{ID: sampleID, SubmissionID: submissionID, SampleNumber: 1, Priority: workflow.PriorityNormal, Status: workflow.SampleSubmitted}
	subs := &fakeSubmissionRepo{byID: map[uuid.UUID]*workflow.Submission{submissionID: {ID: submissionID, SubmissionDate: time.Now()}}}
	samples := &fakeSampleRepo{byID: map[uuid.UUID]*workflow.Sample{sampleID: sample}}
	steps := &fakeStepRepo{
		byID:     map[uuid.UUID]*workflow.ProcessingStep{qcStep.ID: qcStep, libPrep.ID: libPrep},
		bySample: map[uuid.UUID][]*workflow.ProcessingStep{sampleID: allSteps},
	}
	bus := &fakeBus{}
	o := newTestOrchestrator(t, subs, samples, steps, bus)

	err := o.handleStepCompleted(context.Background(), workflow.Event{StepID: &qcStep.ID, SampleID: &sampleID})
	if err != nil {
		t.Fatalf("handleStepCompleted: %v", err)
	}
	if qcStep.StepStatus != workflow.StepCompleted {
		t.Fatalf("expected qc step completed, got %s", qcStep.StepStatus)
	}
	if sample.Status == workflow.SampleCompleted {
		t.Fatalf("sample should not be fully completed while library_prep is still pending")
	}
	if sample.WorkflowStage != workflow.StageLibraryPrep {
		t.Fatalf("expected workflow_stage advanced to library_prep, got %s", sample.WorkflowStage)
	}
	for _, evt := range bus.published {
		if evt.Subject == workflow.SubjectWorkflowCompleted {
			t.Fatalf("did not expect workflow.completed before every step is done")
		}
	}
}

func TestHandleStepCompletedIsIdempotentOnRedelivery(t *testing.T) {
	sampleID := uuid.New()
	qcStep := newSampleQCStep(sampleID, workflow.StepCompleted)
	sample := &workflow.Sample{ID: sampleID, Status: workflow.SampleCompleted}
	samples := &fakeSampleRepo{byID: map[uuid.UUID]*workflow.Sample{sampleID: sample}}
	steps := &fakeStepRepo{byID: map[uuid.UUID]*workflow.ProcessingStep{qcStep.ID: qcStep}, bySample: map[uuid.UUID][]*workflow.ProcessingStep{sampleID: {qcStep}}}
	o := newTestOrchestrator(t, &fakeSubmissionRepo{}, samples, steps, &fakeBus{})

	if err := o.handleStepCompleted(context.Background(), workflow.Event{StepID: &qcStep.ID, SampleID: &sampleID}); err != nil {
		t.Fatalf("handleStepCompleted: %v", err)
	}
}

func TestHandleStepFailedSetsSampleToPrepAndTracksFailureCount(t *testing.T) {
	sampleID := uuid.New()
	step := newSampleQCStep(sampleID, workflow.StepInProgress)
	sample := &workflow.Sample{ID: sampleID, Status: workflow.SamplePrep}
	samples := &fakeSampleRepo{byID: map[uuid.UUID]*workflow.Sample{sampleID: sample}}
	steps := &fakeStepRepo{byID: map[uuid.UUID]*workflow.ProcessingStep{step.ID: step}}
	bus := &fakeBus{}
	o := newTestOrchestrator(t, &fakeSubmissionRepo{}, samples, steps, bus)

	evt := workflow.Event{StepID: &step.ID, SampleID: &sampleID, Payload: map[string]any{"error": "instrument timeout"}}
	if err := o.handleStepFailed(context.Background(), evt); err != nil {
		t.Fatalf("handleStepFailed: %v", err)
	}
	if step.StepStatus != workflow.StepFailed || step.FailureCount != 1 || step.LastErrorText != "instrument timeout" {
		t.Fatalf("unexpected step state: %+v", step)
	}
	if sample.Status != workflow.SamplePrep {
		t.Fatalf("expected sample.status = prep, got %s", sample.Status)
	}

	// A second failure with the same error text increments the streak
	// instead of resetting it.
	step.StepStatus = workflow.StepInProgress
	if err := o.handleStepFailed(context.Background(), evt); err != nil {
		t.Fatalf("handleStepFailed (repeat): %v", err)
	}
	if step.FailureCount != 2 {
		t.Fatalf("expected repeated failure to increment failure_count, got %d", step.FailureCount)
	}
}

func TestHandleSampleStatusChangedArchivedRemovesPendingStepsFromQueues(t *testing.T) {
	sampleID := uuid.New()
	pending := newSampleQCStep(sampleID, workflow.StepPending)
	steps := &fakeStepRepo{bySample: map[uuid.UUID][]*workflow.ProcessingStep{sampleID: {pending}}}
	samples := &fakeSampleRepo{byID: map[uuid.UUID]*workflow.Sample{}}
	o := newTestOrchestrator(t, &fakeSubmissionRepo{}, samples, steps, &fakeBus{})
	o.queues.Enqueue(workflow.StageSampleQC, pending.ID, sampleID, queue.Key{Priority: workflow.PriorityNormal})

	evt := workflow.Event{SampleID: &sampleID, Payload: map[string]any{"status": string(workflow.SampleArchived)}}
	if err := o.handleSampleStatusChanged(context.Background(), evt); err != nil {
		t.Fatalf("handleSampleStatusChanged: %v", err)
	}
	if o.queues.Stage(workflow.StageSampleQC).Len() != 0 {
		t.Fatalf("expected archived sample's pending step removed from the queue")
	}
}

func TestHandleSampleStatusChangedIgnoresNonArchivedStatus(t *testing.T) {
	sampleID := uuid.New()
	pending := newSampleQCStep(sampleID, workflow.StepPending)
	steps := &fakeStepRepo{bySample: map[uuid.UUID][]*workflow.ProcessingStep{sampleID: {pending}}}
	o := newTestOrchestrator(t, &fakeSubmissionRepo{}, &fakeSampleRepo{byID: map[uuid.UUID]*workflow.Sample{}}, steps, &fakeBus{})
	o.queues.Enqueue(workflow.StageSampleQC, pending.ID, sampleID, queue.Key{Priority: workflow.PriorityNormal})

	evt := workflow.Event{SampleID: &sampleID, Payload: map[string]any{"status": string(workflow.SamplePrep)}}
	if err := o.handleSampleStatusChanged(context.Background(), evt); err != nil {
		t.Fatalf("handleSampleStatusChanged: %v", err)
	}
	if o.queues.Stage(workflow.StageSampleQC).Len() != 1 {
		t.Fatalf("expected non-archived status change to leave queues untouched")
	}
}
