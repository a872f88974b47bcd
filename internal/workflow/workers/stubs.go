package workers

import (
	"context"
	"time"

	workflow "github.com/yungbote/neurobridge-backend/internal/domain/workflow"
	"github.com/yungbote/neurobridge-backend/internal/workflow/workerruntime"
)

// simStageWorker is a minimal reference implementation of the worker
// contract for a stage whose actual business work is out of scope (§1):
// it waits for its configured simulated duration, if any, and reports
// completion. Every constructor in this file passes a zero duration, so
// these workers complete immediately. Real
// deployments are expected to replace these with the pluggable workers
// that do the real sample QC, library prep, sequencing, etc.
type simStageWorker struct {
	stage    workflow.StageName
	simulate time.Duration
}

func newSim(stage workflow.StageName, simulate time.Duration) *simStageWorker {
	return &simStageWorker{stage: stage, simulate: simulate}
}

func (w *simStageWorker) Stage() workflow.StageName { return w.stage }

func (w *simStageWorker) Execute(ctx context.Context, step *workflow.ProcessingStep, sample *workflow.Sample, renew workerruntime.RenewFunc) (workerruntime.ExecuteResult, error) {
	if w.simulate > 0 {
		timer := time.NewTimer(w.simulate)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return workerruntime.ExecuteResult{}, ctx.Err()
		case <-timer.C:
		}
	}
	return workerruntime.ExecuteResult{
		Outcome: workerruntime.OutcomeCompleted,
		Results: map[string]any{"stage": string(w.stage), "sample_id": sample.ID.String()},
	}, nil
}

func NewLibraryPrepWorker() workerruntime.Handler {
	return newSim(workflow.StageLibraryPrep, 0)
}

func NewLibraryQCWorker() workerruntime.Handler {
	return newSim(workflow.StageLibraryQC, 0)
}

func NewSequencingSetupWorker() workerruntime.Handler {
	return newSim(workflow.StageSequencingSetup, 0)
}

func NewSequencingRunWorker() workerruntime.Handler {
	return newSim(workflow.StageSequencingRun, 0)
}

func NewBasecallingWorker() workerruntime.Handler {
	return newSim(workflow.StageBasecalling, 0)
}

func NewQualityAssessmentWorker() workerruntime.Handler {
	return newSim(workflow.StageQualityAssessment, 0)
}

func NewDataDeliveryWorker() workerruntime.Handler {
	return newSim(workflow.StageDataDelivery, 0)
}
