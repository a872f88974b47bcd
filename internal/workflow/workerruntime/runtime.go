package workerruntime

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	workflow "github.com/yungbote/neurobridge-backend/internal/domain/workflow"
	repos "github.com/yungbote/neurobridge-backend/internal/data/repos/workflow"
	"github.com/yungbote/neurobridge-backend/internal/pkg/dbctx"
	"github.com/yungbote/neurobridge-backend/internal/pkg/logger"
	"github.com/yungbote/neurobridge-backend/internal/workflow/cache"
	"github.com/yungbote/neurobridge-backend/internal/workflow/errs"
	"github.com/yungbote/neurobridge-backend/internal/workflow/eventbus"
	"github.com/yungbote/neurobridge-backend/internal/workflow/queue"
	"github.com/yungbote/neurobridge-backend/internal/workflow/retry"
)

// Config controls the bounded worker pool, lease sizing (§5, §6), and the
// backoff applied to transient Event Bus publish failures (§7).
type Config struct {
	MaxInFlightPerStage int
	LeaseTTLMultiplier  float64
	RetryPolicy         retry.Policy
}

func DefaultConfig() Config {
	return Config{MaxInFlightPerStage: 4, LeaseTTLMultiplier: 2, RetryPolicy: retry.DefaultPolicy()}
}

// Runtime hosts one bounded worker pool per stage, consuming step ids from
// the Priority Queues, acquiring leases from the Step Registry, invoking
// the registered Handler, and publishing started/completed/failed events.
// It never writes to the database; the Orchestrator does that in
// response to the events published here (§4.3, §9).
type Runtime struct {
	log      *logger.Logger
	cfg      Config
	registry *Registry
	queues   *queue.Manager
	leases   cache.StepRegistry
	bus      eventbus.Bus
	steps    repos.StepRepo
	samples  repos.SampleRepo

	holderID string
	sems     map[workflow.StageName]*semaphore.Weighted
}

func New(
	log *logger.Logger,
	cfg Config,
	registry *Registry,
	queues *queue.Manager,
	leases cache.StepRegistry,
	bus eventbus.Bus,
	steps repos.StepRepo,
	samples repos.SampleRepo,
) *Runtime {
	if cfg.MaxInFlightPerStage <= 0 {
		cfg.MaxInFlightPerStage = 4
	}
	if cfg.LeaseTTLMultiplier <= 0 {
		cfg.LeaseTTLMultiplier = 2
	}
	if cfg.RetryPolicy.MaxAttempts <= 0 {
		cfg.RetryPolicy = retry.DefaultPolicy()
	}
	sems := make(map[workflow.StageName]*semaphore.Weighted, len(workflow.CanonicalStages))
	for _, s := range workflow.CanonicalStages {
		sems[s] = semaphore.NewWeighted(int64(cfg.MaxInFlightPerStage))
	}
	return &Runtime{
		log:      log.With("component", "StageWorkerRuntime"),
		cfg:      cfg,
		registry: registry,
		queues:   queues,
		leases:   leases,
		bus:      bus,
		steps:    steps,
		samples:  samples,
		holderID: uuid.NewString(),
		sems:     sems,
	}
}

// leaseTTL is 2x estimated_duration_hours by default (§4.1, §6).
func (rt *Runtime) leaseTTL(step *workflow.ProcessingStep) time.Duration {
	hours := step.EstimatedDurationHours
	if hours <= 0 {
		hours = 1
	}
	return time.Duration(hours * rt.cfg.LeaseTTLMultiplier * float64(time.Hour))
}

// Start launches one dispatch loop per stage. Each loop blocks on a short
// poll interval when its queue is empty (§8: "Dequeue from an empty stage
// queue returns empty within the configured timeout").
func (rt *Runtime) Start(ctx context.Context) {
	for _, stage := range workflow.CanonicalStages {
		go rt.dispatchLoop(ctx, stage)
	}
}

func (rt *Runtime) dispatchLoop(ctx context.Context, stage workflow.StageName) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stepID, ok := rt.queues.Dequeue(stage)
			if !ok {
				continue
			}
			sem := rt.sems[stage]
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			go func(stepID uuid.UUID) {
				defer sem.Release(1)
				rt.handleOne(ctx, stage, stepID)
			}(stepID)
		}
	}
}

func (rt *Runtime) handleOne(ctx context.Context, stage workflow.StageName, stepID uuid.UUID) {
	dbc := dbctx.Context{Ctx: ctx}
	step, err := rt.steps.GetStep(dbc, stepID)
	if err != nil {
		rt.log.Warn("failed to load step for dispatch", "stage", stage, "step_id", stepID, "error", err)
		return
	}
	sample, err := rt.samples.GetSample(dbc, step.SampleID)
	if err != nil {
		rt.log.Warn("failed to load sample for dispatch", "stage", stage, "step_id", stepID, "error", err)
		return
	}

	ttl := rt.leaseTTL(step)
	acquired, err := rt.leases.AcquireLease(ctx, stepID, rt.holderID, ttl)
	if err != nil {
		rt.log.Warn("lease acquisition error, treated non-fatally per §4.1", "step_id", stepID, "error", err)
		return
	}
	if !acquired {
		// Another runtime instance already holds the lease; drop this
		// dequeue. The reconciler will re-enqueue if the lease expires.
		return
	}

	_ = rt.leases.Put(ctx, stepID, cache.Record{
		StepID:   stepID,
		SampleID: sample.ID,
		StepName: string(stage),
		Status:   string(workflow.StepInProgress),
	}, ttl)

	rt.publish(ctx, workflow.SubjectStepStarted, step, sample, nil, nil, "")

	handler, ok := rt.registry.Get(stage)
	if !ok {
		rt.log.Error("no handler registered for stage", "stage", stage)
		rt.publish(ctx, workflow.SubjectStepFailed, step, sample, nil, nil, "no worker registered for stage")
		_ = rt.leases.Delete(ctx, stepID)
		return
	}

	deadline := rt.leaseTTL(step)
	execCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	renew := func(rctx context.Context) error {
		ok, err := rt.leases.RenewLease(rctx, stepID, rt.holderID, ttl)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("lease no longer held by %s", rt.holderID)
		}
		return nil
	}

	result, err := handler.Execute(execCtx, step, sample, renew)
	if execCtx.Err() == context.DeadlineExceeded {
		rt.publish(ctx, workflow.SubjectStepFailed, step, sample, nil, nil, "deadline exceeded")
		_ = rt.leases.Delete(ctx, stepID)
		return
	}
	if err != nil {
		rt.publish(ctx, workflow.SubjectStepFailed, step, sample, nil, nil, err.Error())
		_ = rt.leases.Delete(ctx, stepID)
		return
	}

	switch result.Outcome {
	case OutcomeCompleted:
		rt.publish(ctx, workflow.SubjectStepCompleted, step, sample, result.Results, result.QCResult, "")
	case OutcomeFailed:
		rt.publish(ctx, workflow.SubjectStepFailed, step, sample, result.Results, result.QCResult, result.ErrorMessage)
	case OutcomeSkipped:
		// Skipped is an operator action in this spec (§4.6); a worker
		// reporting it is treated as a failure surfaced for review.
		rt.publish(ctx, workflow.SubjectStepFailed, step, sample, result.Results, result.QCResult, "worker reported skipped outcome")
	}
	_ = rt.leases.Delete(ctx, stepID)
}

func (rt *Runtime) publish(ctx context.Context, subject workflow.EventSubject, step *workflow.ProcessingStep, sample *workflow.Sample, results map[string]any, qc *workflow.QCResult, errMsg string) {
	payload := map[string]any{}
	if results != nil {
		payload["results"] = results
	}
	if qc != nil {
		payload["qc_result"] = qc
	}
	if errMsg != "" {
		payload["error"] = errMsg
	}
	stepID := step.ID
	evt := workflow.Event{
		Subject:      subject,
		Source:       "stage_worker_runtime",
		SampleID:     &sample.ID,
		SubmissionID: &sample.SubmissionID,
		StepID:       &stepID,
		Payload:      payload,
	}
	err := retry.Do(ctx, rt.cfg.RetryPolicy, func() error {
		if pubErr := rt.bus.Publish(ctx, evt); pubErr != nil {
			return errs.NewTransient(pubErr)
		}
		return nil
	})
	if err != nil {
		rt.log.Error("failed to publish event after retries", "subject", subject, "step_id", step.ID, "error", err)
	}
}
