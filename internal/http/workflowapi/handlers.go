// Package workflowapi implements the HTTP API surface of spec §6, grounded
// on the teacher's internal/http/handlers/job.go (thin gin handlers
// delegating to a service/orchestrator, uuid path-param parsing, envelope
// helpers) generalized to the sample-workflow domain and spec §6's own
// {success, data, message} envelope (internal/http/envelope).
package workflowapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	repos "github.com/yungbote/neurobridge-backend/internal/data/repos/workflow"
	workflow "github.com/yungbote/neurobridge-backend/internal/domain/workflow"
	"github.com/yungbote/neurobridge-backend/internal/http/envelope"
	"github.com/yungbote/neurobridge-backend/internal/pkg/dbctx"
	"github.com/yungbote/neurobridge-backend/internal/pkg/logger"
	"github.com/yungbote/neurobridge-backend/internal/workflow/errs"
	"github.com/yungbote/neurobridge-backend/internal/workflow/eventbus"
	"github.com/yungbote/neurobridge-backend/internal/workflow/orchestrator"
	"github.com/yungbote/neurobridge-backend/internal/workflow/queue"
	"github.com/yungbote/neurobridge-backend/internal/workflow/stageconfig"
)

type Handler struct {
	log         *logger.Logger
	orch        *orchestrator.Orchestrator
	bus         eventbus.Bus
	submissions repos.SubmissionRepo
	samples     repos.SampleRepo
	steps       repos.StepRepo
	queues      *queue.Manager
	graph       *stageconfig.Graph
}

func New(
	log *logger.Logger,
	orch *orchestrator.Orchestrator,
	bus eventbus.Bus,
	submissions repos.SubmissionRepo,
	samples repos.SampleRepo,
	steps repos.StepRepo,
	queues *queue.Manager,
	graph *stageconfig.Graph,
) *Handler {
	return &Handler{
		log:         log.With("component", "WorkflowAPI"),
		orch:        orch,
		bus:         bus,
		submissions: submissions,
		samples:     samples,
		steps:       steps,
		queues:      queues,
		graph:       graph,
	}
}

// queueItem is the JSON shape of one GET /api/queue entry.
type queueItem struct {
	StepID   uuid.UUID          `json:"step_id"`
	SampleID uuid.UUID          `json:"sample_id"`
	Stage    workflow.StageName `json:"stage"`
	Priority workflow.Priority  `json:"priority"`
}

// GET /api/queue
func (h *Handler) ListQueue(c *gin.Context) {
	var out []queueItem
	for _, stage := range workflow.CanonicalStages {
		for _, item := range h.queues.Stage(stage).Snapshot() {
			out = append(out, queueItem{
				StepID:   item.StepID,
				SampleID: item.SampleID,
				Stage:    item.Stage,
				Priority: item.Key.Priority,
			})
		}
	}
	if out == nil {
		out = []queueItem{}
	}
	envelope.OK(c, http.StatusOK, out, "")
}

type sampleWorkflowResponse struct {
	Sample *workflow.Sample           `json:"sample"`
	Steps  []*workflow.ProcessingStep `json:"steps"`
}

// GET /api/samples/{id}/workflow
func (h *Handler) GetSampleWorkflow(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		envelope.Fail(c, http.StatusBadRequest, "invalid sample id")
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	sample, err := h.samples.GetSample(dbc, id)
	if err != nil {
		envelope.FromError(c, errs.NewNotFound("sample", id.String()))
		return
	}
	steps, err := h.steps.GetSampleSteps(dbc, id)
	if err != nil {
		envelope.FromError(c, errs.NewTransient(err))
		return
	}
	envelope.OK(c, http.StatusOK, sampleWorkflowResponse{Sample: sample, Steps: steps}, "")
}

// POST /api/samples/{id}/pause
func (h *Handler) PauseSample(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		envelope.Fail(c, http.StatusBadRequest, "invalid sample id")
		return
	}
	if err := h.orch.PauseSample(c.Request.Context(), id); err != nil {
		envelope.FromError(c, err)
		return
	}
	envelope.OK(c, http.StatusOK, nil, "sample paused")
}

// POST /api/samples/{id}/resume
func (h *Handler) ResumeSample(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		envelope.Fail(c, http.StatusBadRequest, "invalid sample id")
		return
	}
	if err := h.orch.ResumeSample(c.Request.Context(), id); err != nil {
		envelope.FromError(c, err)
		return
	}
	envelope.OK(c, http.StatusOK, nil, "sample resumed")
}

// POST /api/samples/{id}/distribute (additive, SPEC_FULL.md decision #3)
func (h *Handler) DistributeSample(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		envelope.Fail(c, http.StatusBadRequest, "invalid sample id")
		return
	}
	if err := h.orch.Distribute(c.Request.Context(), id); err != nil {
		envelope.FromError(c, err)
		return
	}
	envelope.OK(c, http.StatusOK, nil, "sample distributed")
}

// POST /api/steps/{id}/retry
func (h *Handler) RetryStep(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		envelope.Fail(c, http.StatusBadRequest, "invalid step id")
		return
	}
	if err := h.orch.RetryStep(c.Request.Context(), id); err != nil {
		envelope.FromError(c, err)
		return
	}
	envelope.OK(c, http.StatusOK, nil, "step requeued")
}

type priorityRequest struct {
	Priority string `json:"priority"`
}

// PATCH /api/samples/{id}/priority
func (h *Handler) ChangePriority(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		envelope.Fail(c, http.StatusBadRequest, "invalid sample id")
		return
	}
	var req priorityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		envelope.Fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.orch.ChangePriority(c.Request.Context(), id, workflow.Priority(req.Priority)); err != nil {
		envelope.FromError(c, err)
		return
	}
	envelope.OK(c, http.StatusOK, nil, "priority updated")
}

type workflowStatusResponse struct {
	TotalSamples     int64                      `json:"totalSamples"`
	ActiveSamples    int64                      `json:"activeSamples"`
	CompletedSamples int64                      `json:"completedSamples"`
	FailedSteps      int64                      `json:"failedSteps"`
	QueueLengths     map[workflow.StageName]int `json:"queueLengths"`
}

// GET /api/workflow/status
func (h *Handler) Status(c *gin.Context) {
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	subs, err := h.submissions.ListSubmissions(dbc, 0, 0)
	if err != nil {
		envelope.FromError(c, errs.NewTransient(err))
		return
	}
	var total, active, completed int64
	for _, s := range subs {
		total += int64(s.SampleCount)
		completed += int64(s.SamplesCompleted)
	}
	active = total - completed

	var failedSteps int64
	for _, sub := range subs {
		samples, err := h.samples.GetSamplesBySubmission(dbc, sub.ID)
		if err != nil {
			continue
		}
		for _, sample := range samples {
			counts, err := h.steps.CountStepsByStatus(dbc, sample.ID)
			if err != nil {
				continue
			}
			failedSteps += counts[workflow.StepFailed]
		}
	}

	envelope.OK(c, http.StatusOK, workflowStatusResponse{
		TotalSamples:     total,
		ActiveSamples:    active,
		CompletedSamples: completed,
		FailedSteps:      failedSteps,
		QueueLengths:     h.queues.Lengths(),
	}, "")
}

// GET /api/health: liveness + dependency probes (§6).
func (h *Handler) Health(c *gin.Context) {
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	if _, err := h.submissions.ListSubmissions(dbc, 1, 0); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type ingestSampleRequest struct {
	SampleNumber      int      `json:"sample_number"`
	SampleName        string   `json:"sample_name"`
	SampleType        string   `json:"sample_type"`
	ConcentrationNgUl *float64 `json:"concentration_ng_ul"`
	VolumeUl          *float64 `json:"volume_ul"`
}

type ingestRequest struct {
	Submission struct {
		SubmissionNumber string `json:"submission_number"`
		OriginFilename   string `json:"origin_filename"`
		SubmitterName    string `json:"submitter_name"`
		SubmitterEmail   string `json:"submitter_email"`
		Organization     string `json:"organization"`
		Project          string `json:"project"`
		Priority         string `json:"priority"`
	} `json:"submission"`
	Samples []ingestSampleRequest `json:"samples"`
}

type ingestResponse struct {
	SubmissionID   uuid.UUID `json:"submissionId"`
	SamplesCreated int       `json:"samples_created"`
	Errors         []string  `json:"errors"`
}

// POST /api/submissions/ingest: creates submission, samples, and their 8
// steps (§6), then emits sample.created once per sample for the
// Orchestrator to pick up. The writes are separate and not wrapped in one
// transaction: a failure after the submission row is written leaves that
// row in place, and a failed step creation is reported in the response's
// errors list while its sample stays.
func (h *Handler) Ingest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		envelope.Fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Submission.OriginFilename == "" {
		envelope.Fail(c, http.StatusBadRequest, "missing pdf_filename")
		return
	}
	priority := workflow.Priority(req.Submission.Priority)
	if !priority.Valid() {
		priority = workflow.PriorityNormal
	}

	dbc := dbctx.Context{Ctx: c.Request.Context()}
	submissionID, err := h.submissions.CreateSubmission(dbc, &workflow.Submission{
		SubmissionNumber: req.Submission.SubmissionNumber,
		OriginFilename:   req.Submission.OriginFilename,
		SubmitterName:    req.Submission.SubmitterName,
		SubmitterEmail:   req.Submission.SubmitterEmail,
		Organization:     req.Submission.Organization,
		Project:          req.Submission.Project,
		Priority:         priority,
		Status:           workflow.SubmissionPending,
		SampleCount:      len(req.Samples),
	})
	if err != nil {
		envelope.FromError(c, errs.NewTransient(err))
		return
	}

	var errorsOut []string
	samples := make([]*workflow.Sample, 0, len(req.Samples))
	for _, s := range req.Samples {
		sampleType := workflow.SampleType(s.SampleType)
		samples = append(samples, &workflow.Sample{
			SubmissionID:      submissionID,
			SampleNumber:      s.SampleNumber,
			SampleName:        s.SampleName,
			SampleType:        sampleType,
			ConcentrationNgUl: s.ConcentrationNgUl,
			VolumeUl:          s.VolumeUl,
			Priority:          priority,
			WorkflowStage:     workflow.StageSampleQC,
			Status:            workflow.SampleSubmitted,
		})
	}
	created, err := h.samples.CreateSamplesBulk(dbc, samples)
	if err != nil {
		envelope.FromError(c, errs.NewTransient(err))
		return
	}
	for _, sample := range created {
		if _, err := h.steps.CreateStepsBulk(dbc, sample.ID, h.graph); err != nil {
			errorsOut = append(errorsOut, err.Error())
			continue
		}
	}

	c.JSON(http.StatusCreated, ingestResponse{
		SubmissionID:   submissionID,
		SamplesCreated: len(created),
		Errors:         errorsOut,
	})

	// Steps are already persisted synchronously above;
	// publishing sample.created only triggers the orchestrator's first
	// enqueueReady pass (§4.6.1) rather than step creation itself, so the
	// handler's own response does not depend on the publish succeeding.
	reqCtx := c.Request.Context()
	for _, sample := range created {
		evt := workflow.Event{
			Subject:      workflow.SubjectSampleCreated,
			Source:       "http_ingest",
			SampleID:     &sample.ID,
			SubmissionID: &submissionID,
		}
		if err := h.bus.Publish(reqCtx, evt); err != nil {
			h.log.Error("failed to publish sample.created", "sample_id", sample.ID, "error", err)
		}
	}
}
