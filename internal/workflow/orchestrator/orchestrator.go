// Package orchestrator implements the Orchestrator (spec §4.6): the step
// state machine, its event handlers, the scheduling/reconcile loop, and
// pause/resume/retry/priority operator actions. Apart from the HTTP ingest
// handler, which creates the rows, it is the only component that writes to
// samples and processing_steps — Stage Workers only report outcomes as
// events (§4.3, §9).
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	repos "github.com/yungbote/neurobridge-backend/internal/data/repos/workflow"
	workflow "github.com/yungbote/neurobridge-backend/internal/domain/workflow"
	"github.com/yungbote/neurobridge-backend/internal/pkg/dbctx"
	"github.com/yungbote/neurobridge-backend/internal/pkg/logger"
	"github.com/yungbote/neurobridge-backend/internal/pkg/tracing"
	"github.com/yungbote/neurobridge-backend/internal/workflow/cache"
	"github.com/yungbote/neurobridge-backend/internal/workflow/errs"
	"github.com/yungbote/neurobridge-backend/internal/workflow/eventbus"
	"github.com/yungbote/neurobridge-backend/internal/workflow/queue"
	"github.com/yungbote/neurobridge-backend/internal/workflow/stageconfig"
)

// Config controls the Orchestrator's scheduling loop (§6 configuration).
type Config struct {
	ReconcileInterval time.Duration
	StableOrdering    bool
}

func DefaultConfig() Config {
	return Config{ReconcileInterval: 5 * time.Second, StableOrdering: true}
}

// Orchestrator coordinates the Persistence Adapter, Step Registry, Event
// Bus, Dependency Resolver, and Priority Queues (§2 component F).
type Orchestrator struct {
	log         *logger.Logger
	cfg         Config
	graph       *stageconfig.Graph
	submissions repos.SubmissionRepo
	samples     repos.SampleRepo
	steps       repos.StepRepo
	queues      *queue.Manager
	leases      cache.StepRegistry
	bus         eventbus.Bus
}

func New(
	log *logger.Logger,
	cfg Config,
	graph *stageconfig.Graph,
	submissions repos.SubmissionRepo,
	samples repos.SampleRepo,
	steps repos.StepRepo,
	queues *queue.Manager,
	leases cache.StepRegistry,
	bus eventbus.Bus,
) *Orchestrator {
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = 5 * time.Second
	}
	return &Orchestrator{
		log:         log.With("component", "Orchestrator"),
		cfg:         cfg,
		graph:       graph,
		submissions: submissions,
		samples:     samples,
		steps:       steps,
		queues:      queues,
		leases:      leases,
		bus:         bus,
	}
}

// traced wraps an event handler in a span named after its subject, so the
// scheduling loop's handling of each event is visible end to end in a
// trace (spec §4.6, ambient tracing per SPEC_FULL.md).
func traced(subject workflow.EventSubject, h eventbus.Handler) eventbus.Handler {
	return func(ctx context.Context, evt workflow.Event) error {
		spanCtx, span := tracing.Start(ctx, "orchestrator.handle."+string(subject))
		defer span.End()
		return h(spanCtx, evt)
	}
}

// Start subscribes every event handler (§4.6) and launches the per-stage
// reconcile loop (§4.5, §4.6). It also rehydrates in-progress steps from
// the Persistence Adapter into the Step Registry cache (§4.2, §9).
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.rehydrate(ctx); err != nil {
		o.log.Warn("rehydrate on start failed", "error", err)
	}
	subs := map[workflow.EventSubject]eventbus.Handler{
		workflow.SubjectSampleCreated:       o.handleSampleCreated,
		workflow.SubjectStepStarted:         o.handleStepStarted,
		workflow.SubjectStepCompleted:       o.handleStepCompleted,
		workflow.SubjectStepFailed:          o.handleStepFailed,
		workflow.SubjectPriorityChanged:     o.handlePriorityChangedEvent,
		workflow.SubjectSampleStatusChanged: o.handleSampleStatusChanged,
	}
	for subject, h := range subs {
		if err := o.bus.Subscribe(ctx, subject, traced(subject, h)); err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
	}
	go o.reconcileLoop(ctx)
	return nil
}

// rehydrate restores the authoritative in_progress step set into the Step
// Registry cache after a restart (§4.2 get_in_progress_steps, §9).
func (o *Orchestrator) rehydrate(ctx context.Context) error {
	dbc := dbctx.Context{Ctx: ctx}
	inProgress, err := o.steps.GetInProgressSteps(dbc)
	if err != nil {
		return err
	}
	for _, step := range inProgress {
		_ = o.leases.Put(ctx, step.ID, cache.Record{
			StepID:   step.ID,
			SampleID: step.SampleID,
			StepName: string(step.StepName),
			Status:   string(step.StepStatus),
		}, 2*time.Hour)
	}
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, subject workflow.EventSubject, sampleID, submissionID uuid.UUID, stepID *uuid.UUID, payload map[string]any) {
	evt := workflow.Event{
		Subject:      subject,
		Source:       "orchestrator",
		SampleID:     &sampleID,
		SubmissionID: &submissionID,
		StepID:       stepID,
		Payload:      payload,
	}
	if err := o.bus.Publish(ctx, evt); err != nil {
		o.log.Error("failed to publish event", "subject", subject, "sample_id", sampleID, "error", err)
	}
}

func stepViews(steps []*workflow.ProcessingStep) []stageconfig.StepView {
	out := make([]stageconfig.StepView, 0, len(steps))
	for _, s := range steps {
		out = append(out, stageconfig.StepView{StepName: s.StepName, StepStatus: s.StepStatus})
	}
	return out
}

func stepByName(steps []*workflow.ProcessingStep, name workflow.StageName) *workflow.ProcessingStep {
	for _, s := range steps {
		if s.StepName == name {
			return s
		}
	}
	return nil
}

// enqueueReady enqueues every currently-ready stage for a sample into its
// stage's priority queue (§4.4, §4.5).
func (o *Orchestrator) enqueueReady(ctx context.Context, sample *workflow.Sample, submissionDate time.Time, steps []*workflow.ProcessingStep) {
	ready := o.graph.ReadyStages(stepViews(steps))
	for _, stage := range ready {
		step := stepByName(steps, stage)
		if step == nil {
			continue
		}
		o.queues.Enqueue(stage, step.ID, sample.ID, queue.Key{
			Priority:       sample.Priority,
			SubmissionDate: submissionDate,
			SampleNumber:   sample.SampleNumber,
		})
	}
}

func (o *Orchestrator) submissionDate(ctx context.Context, submissionID uuid.UUID) time.Time {
	dbc := dbctx.Context{Ctx: ctx}
	sub, err := o.submissions.GetSubmission(dbc, submissionID)
	if err != nil || sub == nil {
		return time.Now()
	}
	return sub.SubmissionDate
}

// -------------------- event handlers (§4.6) --------------------

// handleSampleCreated creates the eight step rows if they do not already
// exist (idempotent: the ingest handler normally creates them already,
// §4.2), then resolves and enqueues ready steps.
func (o *Orchestrator) handleSampleCreated(ctx context.Context, evt workflow.Event) error {
	if evt.SampleID == nil {
		return errs.NewValidation("sample.created event missing sample_id")
	}
	dbc := dbctx.Context{Ctx: ctx}
	sample, err := o.samples.GetSample(dbc, *evt.SampleID)
	if err != nil {
		return errs.NewTransient(err)
	}
	steps, err := o.steps.GetSampleSteps(dbc, sample.ID)
	if err != nil {
		return errs.NewTransient(err)
	}
	if len(steps) == 0 {
		created, err := o.steps.CreateStepsBulk(dbc, sample.ID, o.graph)
		if err != nil {
			return errs.NewTransient(err)
		}
		steps = created
	}
	o.enqueueReady(ctx, sample, o.submissionDate(ctx, sample.SubmissionID), steps)
	return nil
}

// handleStepStarted is emitted by the Stage Worker Runtime after lease
// acquisition; it is the only place that sets started_at (§4.6.2). Pause
// and the reconciler clear it when they revert a step to pending.
func (o *Orchestrator) handleStepStarted(ctx context.Context, evt workflow.Event) error {
	if evt.StepID == nil {
		return errs.NewValidation("step.started event missing step_id")
	}
	dbc := dbctx.Context{Ctx: ctx}
	now := time.Now()
	changed, err := o.steps.UpdateStepUnlessStatus(dbc, *evt.StepID,
		[]workflow.StepStatus{workflow.StepCompleted, workflow.StepFailed, workflow.StepSkipped},
		map[string]interface{}{"step_status": workflow.StepInProgress, "started_at": now})
	if err != nil {
		return errs.NewTransient(err)
	}
	if !changed {
		return nil
	}
	step, err := o.steps.GetStep(dbc, *evt.StepID)
	if err != nil {
		return errs.NewTransient(err)
	}
	return o.samples.UpdateSampleFields(dbc, step.SampleID, map[string]interface{}{"workflow_stage": step.StepName})
}

// handleStepCompleted implements §4.6.3 inside a single sample-row-locked
// transaction: mark completed, recompute workflow_stage, flip sample to
// completed when all eight steps are done, enqueue the next-ready stage
// (stepwise advancement, §9), and publish workflow.completed if finished.
func (o *Orchestrator) handleStepCompleted(ctx context.Context, evt workflow.Event) error {
	if evt.StepID == nil || evt.SampleID == nil {
		return errs.NewValidation("step.completed event missing step_id/sample_id")
	}
	stepID, sampleID := *evt.StepID, *evt.SampleID

	var becameFullyComplete bool
	var finishedSample *workflow.Sample
	var resultsJSON map[string]any
	if r, ok := evt.Payload["results"].(map[string]any); ok {
		resultsJSON = r
	}

	err := o.samples.WithSampleLock(dbctx.Context{Ctx: ctx}, sampleID, func(tx *gorm.DB, sample *workflow.Sample) error {
		txdbc := dbctx.Context{Ctx: ctx, Tx: tx}

		now := time.Now()
		step, err := o.steps.GetStep(txdbc, stepID)
		if err != nil {
			return err
		}
		patch := map[string]interface{}{
			"step_status":  workflow.StepCompleted,
			"completed_at": now,
		}
		if step.StartedAt != nil {
			hrs := now.Sub(*step.StartedAt).Hours()
			patch["actual_duration_hours"] = hrs
		}
		if resultsJSON != nil {
			raw, _ := json.Marshal(resultsJSON)
			patch["results"] = datatypes.JSON(raw)
		}
		if qc, ok := evt.Payload["qc_result"]; ok {
			raw, _ := json.Marshal(qc)
			patch["qc_notes"] = string(raw)
			passed := false
			if m, ok := qc.(map[string]any); ok {
				if p, ok := m["passed"].(bool); ok {
					passed = p
				}
			}
			patch["qc_passed"] = passed
		}

		changed, err := o.steps.UpdateStepUnlessStatus(txdbc, stepID, []workflow.StepStatus{workflow.StepCompleted}, patch)
		if err != nil {
			return err
		}
		if !changed {
			// Already completed: at-least-once redelivery, idempotent no-op
			// (§8 round-trip law).
			return nil
		}

		o.queues.RemoveFromAllStages(stepID)

		steps, err := o.steps.GetSampleSteps(txdbc, sampleID)
		if err != nil {
			return err
		}

		nextStage, hasNext := o.graph.NextStage(step.StepName)
		sampleUpdates := map[string]interface{}{}
		allDone := true
		for _, s := range steps {
			if s.StepStatus != workflow.StepCompleted {
				allDone = false
				break
			}
		}
		if allDone {
			sampleUpdates["status"] = workflow.SampleCompleted
			sampleUpdates["workflow_stage"] = step.StepName
			becameFullyComplete = true
		} else if hasNext {
			sampleUpdates["workflow_stage"] = nextStage
		} else {
			sampleUpdates["workflow_stage"] = earliestNonCompleted(steps)
		}
		if err := o.samples.UpdateSampleFields(txdbc, sampleID, sampleUpdates); err != nil {
			return err
		}

		refreshed, err := o.samples.GetSample(txdbc, sampleID)
		if err != nil {
			return err
		}
		finishedSample = refreshed

		// Stepwise advancement (§9): only the immediate next stage is
		// considered newly-ready here, matching the dependency graph.
		o.enqueueReady(ctx, refreshed, o.submissionDate(ctx, refreshed.SubmissionID), steps)
		return nil
	})
	if err != nil {
		return errs.NewTransient(err)
	}
	if finishedSample == nil {
		return nil
	}
	if becameFullyComplete {
		o.publish(ctx, workflow.SubjectWorkflowCompleted, sampleID, finishedSample.SubmissionID, &stepID, nil)
		o.publish(ctx, workflow.SubjectSampleStatusChanged, sampleID, finishedSample.SubmissionID, nil, map[string]any{"status": string(finishedSample.Status)})
	}
	return nil
}

// earliestNonCompleted implements §3 invariant 4's fallback clause: when
// no step is in_progress, workflow_stage is the earliest non-completed
// step in canonical order.
func earliestNonCompleted(steps []*workflow.ProcessingStep) workflow.StageName {
	byName := make(map[workflow.StageName]*workflow.ProcessingStep, len(steps))
	for _, s := range steps {
		byName[s.StepName] = s
	}
	for _, stage := range workflow.CanonicalStages {
		if s, ok := byName[stage]; ok && s.StepStatus != workflow.StepCompleted {
			return stage
		}
	}
	return workflow.StageDataDelivery
}

// handleStepFailed implements §4.6.4: mark the step failed with an error
// note, set sample.status = prep for manual remediation, and never
// auto-retry. The step's queue entry is removed (it was already dequeued
// by the runtime before execution; this also covers a redelivered event).
func (o *Orchestrator) handleStepFailed(ctx context.Context, evt workflow.Event) error {
	if evt.StepID == nil || evt.SampleID == nil {
		return errs.NewValidation("step.failed event missing step_id/sample_id")
	}
	stepID, sampleID := *evt.StepID, *evt.SampleID
	dbc := dbctx.Context{Ctx: ctx}

	reason, _ := evt.Payload["error"].(string)

	step, err := o.steps.GetStep(dbc, stepID)
	if err != nil {
		return errs.NewTransient(err)
	}

	patch := map[string]interface{}{
		"notes": reason,
	}
	// Failure-streak bookkeeping (§4.6 failure semantics): failure_count
	// counts consecutive failures with the same error text, and a different
	// error text restarts it at 1. Every step.failed leaves the step failed
	// with no automatic retry, whatever the count; RetryStep resets it.
	if step.LastErrorText == reason {
		patch["failure_count"] = step.FailureCount + 1
	} else {
		patch["failure_count"] = 1
		patch["last_error_text"] = reason
	}

	changed, err := o.steps.UpdateStepUnlessStatus(dbc, stepID, []workflow.StepStatus{workflow.StepFailed}, mergeStatus(patch, workflow.StepFailed))
	if err != nil {
		return errs.NewTransient(err)
	}
	o.queues.RemoveFromAllStages(stepID)
	if !changed {
		return nil
	}

	if err := o.samples.UpdateSampleFields(dbc, sampleID, map[string]interface{}{"status": workflow.SamplePrep}); err != nil {
		return errs.NewTransient(err)
	}
	o.publish(ctx, workflow.SubjectSampleStatusChanged, sampleID, uuid.Nil, nil, map[string]any{"status": string(workflow.SamplePrep)})
	return nil
}

func mergeStatus(patch map[string]interface{}, status workflow.StepStatus) map[string]interface{} {
	patch["step_status"] = status
	return patch
}

// handlePriorityChangedEvent is the audit-trail side of a priority change;
// the authoritative mutation + queue reorder happens synchronously in
// ChangePriority so the HTTP caller observes it immediately (§4.6.5, §6).
func (o *Orchestrator) handlePriorityChangedEvent(_ context.Context, _ workflow.Event) error {
	return nil
}

// handleSampleStatusChanged implements §4.6.6: no-op unless the new
// status is archived, in which case pending steps are pulled from every
// queue.
func (o *Orchestrator) handleSampleStatusChanged(ctx context.Context, evt workflow.Event) error {
	if evt.SampleID == nil {
		return nil
	}
	status, _ := evt.Payload["status"].(string)
	if workflow.SampleStatus(status) != workflow.SampleArchived {
		return nil
	}
	dbc := dbctx.Context{Ctx: ctx}
	steps, err := o.steps.GetSampleSteps(dbc, *evt.SampleID)
	if err != nil {
		return errs.NewTransient(err)
	}
	for _, s := range steps {
		if s.StepStatus == workflow.StepPending {
			o.queues.RemoveFromAllStages(s.ID)
		}
	}
	return nil
}

// -------------------- operator actions (§6) --------------------

// PauseSample implements §4.6 pause: removes pending steps from queues and
// moves in-progress steps back to pending after revoking their leases.
// Completed and failed steps are never touched.
func (o *Orchestrator) PauseSample(ctx context.Context, sampleID uuid.UUID) error {
	dbc := dbctx.Context{Ctx: ctx}
	sample, err := o.samples.GetSample(dbc, sampleID)
	if err != nil {
		return errs.NewNotFound("sample", sampleID.String())
	}
	if sample.Status == workflow.SampleArchived {
		return errs.NewConflict("cannot pause an archived sample")
	}
	steps, err := o.steps.GetSampleSteps(dbc, sampleID)
	if err != nil {
		return errs.NewTransient(err)
	}
	for _, s := range steps {
		switch s.StepStatus {
		case workflow.StepPending:
			o.queues.RemoveFromAllStages(s.ID)
		case workflow.StepInProgress:
			_ = o.leases.Delete(ctx, s.ID)
			if _, err := o.steps.UpdateStepUnlessStatus(dbc, s.ID,
				[]workflow.StepStatus{workflow.StepCompleted, workflow.StepFailed, workflow.StepSkipped},
				map[string]interface{}{"step_status": workflow.StepPending, "started_at": nil}); err != nil {
				return errs.NewTransient(err)
			}
			o.queues.RemoveFromAllStages(s.ID)
		}
	}
	return nil
}

// ResumeSample implements §4.6 resume: re-enqueues the first ready step.
func (o *Orchestrator) ResumeSample(ctx context.Context, sampleID uuid.UUID) error {
	dbc := dbctx.Context{Ctx: ctx}
	sample, err := o.samples.GetSample(dbc, sampleID)
	if err != nil {
		return errs.NewNotFound("sample", sampleID.String())
	}
	if sample.Status == workflow.SampleArchived {
		return errs.NewConflict("cannot resume an archived sample")
	}
	steps, err := o.steps.GetSampleSteps(dbc, sampleID)
	if err != nil {
		return errs.NewTransient(err)
	}
	o.enqueueReady(ctx, sample, o.submissionDate(ctx, sample.SubmissionID), steps)
	return nil
}

// RetryStep implements §9's resolved open question: POST
// /api/steps/{id}/retry is both HTTP-reachable and the mechanism for the
// only legal failed -> pending transition (§4.6 valid transitions).
func (o *Orchestrator) RetryStep(ctx context.Context, stepID uuid.UUID) error {
	dbc := dbctx.Context{Ctx: ctx}
	step, err := o.steps.GetStep(dbc, stepID)
	if err != nil {
		return errs.NewNotFound("step", stepID.String())
	}
	if step.StepStatus != workflow.StepFailed {
		return errs.NewConflict(fmt.Sprintf("step %s is not in failed state", stepID))
	}
	if err := o.steps.UpdateStep(dbc, stepID, map[string]interface{}{
		"step_status":     workflow.StepPending,
		"notes":           "",
		"last_error_text": "",
		"failure_count":   0,
	}); err != nil {
		return errs.NewTransient(err)
	}
	sample, err := o.samples.GetSample(dbc, step.SampleID)
	if err != nil {
		return errs.NewTransient(err)
	}
	if o.graph.Ready(step.StepName, stepViews(mustSteps(o.steps.GetSampleSteps(dbc, step.SampleID)))) {
		o.queues.Enqueue(step.StepName, step.ID, sample.ID, queue.Key{
			Priority:       sample.Priority,
			SubmissionDate: o.submissionDate(ctx, sample.SubmissionID),
			SampleNumber:   sample.SampleNumber,
		})
	}
	return nil
}

func mustSteps(steps []*workflow.ProcessingStep, err error) []*workflow.ProcessingStep {
	if err != nil {
		return nil
	}
	return steps
}

// ChangePriority implements §4.6.5: updates the sample's priority and
// reorders every pending step's queue position; in-progress steps are
// untouched. Setting priority to its current value is a no-op beyond the
// trivial event (§8 idempotence law).
func (o *Orchestrator) ChangePriority(ctx context.Context, sampleID uuid.UUID, newPriority workflow.Priority) error {
	if !newPriority.Valid() {
		return errs.NewValidation("invalid priority value")
	}
	dbc := dbctx.Context{Ctx: ctx}
	sample, err := o.samples.GetSample(dbc, sampleID)
	if err != nil {
		return errs.NewNotFound("sample", sampleID.String())
	}
	if sample.Priority == newPriority {
		o.publish(ctx, workflow.SubjectPriorityChanged, sampleID, sample.SubmissionID, nil, map[string]any{"priority": string(newPriority)})
		return nil
	}
	if err := o.samples.UpdateSampleFields(dbc, sampleID, map[string]interface{}{"priority": newPriority}); err != nil {
		return errs.NewTransient(err)
	}
	steps, err := o.steps.GetSampleSteps(dbc, sampleID)
	if err != nil {
		return errs.NewTransient(err)
	}
	submissionDate := o.submissionDate(ctx, sample.SubmissionID)
	for _, s := range steps {
		if s.StepStatus != workflow.StepPending {
			continue
		}
		if !o.queues.Stage(s.StepName).Contains(s.ID) {
			continue
		}
		o.queues.Enqueue(s.StepName, s.ID, sampleID, queue.Key{
			Priority:       newPriority,
			SubmissionDate: submissionDate,
			SampleNumber:   sample.SampleNumber,
		})
	}
	o.publish(ctx, workflow.SubjectPriorityChanged, sampleID, sample.SubmissionID, nil, map[string]any{"priority": string(newPriority)})
	return nil
}

// Distribute implements SPEC_FULL.md's additive operator action: the only
// legal completed -> distributed transition, surfaced as POST
// /api/samples/{id}/distribute (resolved Open Question #3).
func (o *Orchestrator) Distribute(ctx context.Context, sampleID uuid.UUID) error {
	dbc := dbctx.Context{Ctx: ctx}
	sample, err := o.samples.GetSample(dbc, sampleID)
	if err != nil {
		return errs.NewNotFound("sample", sampleID.String())
	}
	if sample.Status != workflow.SampleCompleted {
		return errs.NewConflict(fmt.Sprintf("sample %s is not completed", sampleID))
	}
	if err := o.samples.UpdateSampleFields(dbc, sampleID, map[string]interface{}{"status": workflow.SampleDistribute}); err != nil {
		return errs.NewTransient(err)
	}
	o.publish(ctx, workflow.SubjectSampleStatusChanged, sampleID, sample.SubmissionID, nil, map[string]any{"status": string(workflow.SampleDistribute)})
	return nil
}

// reconcileLoop is the crash/missed-event recovery backstop (§4.5, §9): it
// periodically repopulates each stage's priority queue straight from the
// Persistence Adapter and reclaims steps whose Step Registry lease expired
// without a step.failed event ever arriving (a crashed worker, a network
// partition), moving them back to pending so they are retried (§4.6 "lease
// fail -> pending" transition, testable scenario S5).
func (o *Orchestrator) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.reconcileOnce(ctx)
		}
	}
}

func (o *Orchestrator) reconcileOnce(ctx context.Context) {
	dbc := dbctx.Context{Ctx: ctx}

	for _, stage := range workflow.CanonicalStages {
		rows, err := o.steps.GetPendingSteps(dbc, stage, 500)
		if err != nil {
			o.log.Warn("reconcile: list pending steps failed", "stage", stage, "error", err)
			continue
		}
		for _, row := range rows {
			o.queues.Enqueue(stage, row.Step.ID, row.SampleID, queue.Key{
				Priority:       row.Priority,
				SubmissionDate: row.SubmissionDate,
				SampleNumber:   row.SampleNumber,
			})
		}
	}

	inProgress, err := o.steps.GetInProgressSteps(dbc)
	if err != nil {
		o.log.Warn("reconcile: list in-progress steps failed", "error", err)
		return
	}
	for _, step := range inProgress {
		holder, err := o.leases.LeaseHolder(ctx, step.ID)
		if err != nil {
			o.log.Warn("reconcile: lease lookup failed", "step_id", step.ID, "error", err)
			continue
		}
		if holder != "" {
			continue
		}
		// Lease expired or was never recorded after a restart window: the
		// worker that held it is presumed dead. Revert to pending and
		// re-enqueue rather than leaving the step stuck in_progress forever.
		changed, err := o.steps.UpdateStepUnlessStatus(dbc, step.ID,
			[]workflow.StepStatus{workflow.StepCompleted, workflow.StepFailed, workflow.StepSkipped},
			map[string]interface{}{"step_status": workflow.StepPending, "started_at": nil})
		if err != nil {
			o.log.Warn("reconcile: revert expired-lease step failed", "step_id", step.ID, "error", err)
			continue
		}
		if !changed {
			continue
		}
		o.log.Warn("reclaimed step with expired lease", "step_id", step.ID, "stage", step.StepName)
	}
}
