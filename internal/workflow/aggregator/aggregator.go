// Package aggregator implements the Submission Aggregator (spec §4.8):
// it subscribes to sample.status_changed and keeps submission.sample_count,
// submission.samples_completed, and submission.status derived per §3
// invariants 5-6. Grounded on the teacher's Redis subscription pattern in
// internal/clients/redis/sse_bus.go, generalized with a per-submission
// coalescing timer so a burst of sample events collapses into a single
// recompute.
package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	repos "github.com/yungbote/neurobridge-backend/internal/data/repos/workflow"
	workflow "github.com/yungbote/neurobridge-backend/internal/domain/workflow"
	"github.com/yungbote/neurobridge-backend/internal/pkg/dbctx"
	"github.com/yungbote/neurobridge-backend/internal/pkg/logger"
	"github.com/yungbote/neurobridge-backend/internal/workflow/eventbus"
)

// CoalesceWindow bounds recomputation to at most once per second per
// submission (§4.8).
const CoalesceWindow = time.Second

// Aggregator recomputes submission-level counters from the authoritative
// sample rows. It never writes directly from the event payload — it always
// re-reads counts from the Persistence Adapter, so a missed or duplicate
// event can never drift the derived fields (§8 round-trip laws).
type Aggregator struct {
	log         *logger.Logger
	submissions repos.SubmissionRepo
	samples     repos.SampleRepo

	mu      sync.Mutex
	pending map[uuid.UUID]*time.Timer
}

func New(log *logger.Logger, submissions repos.SubmissionRepo, samples repos.SampleRepo) *Aggregator {
	return &Aggregator{
		log:         log.With("component", "SubmissionAggregator"),
		submissions: submissions,
		samples:     samples,
		pending:     make(map[uuid.UUID]*time.Timer),
	}
}

// Start subscribes to sample.status_changed on bus.
func (a *Aggregator) Start(ctx context.Context, bus eventbus.Bus) error {
	return bus.Subscribe(ctx, workflow.SubjectSampleStatusChanged, a.handleSampleStatusChanged)
}

func (a *Aggregator) handleSampleStatusChanged(ctx context.Context, evt workflow.Event) error {
	if evt.SubmissionID == nil || *evt.SubmissionID == uuid.Nil {
		if evt.SampleID == nil {
			return nil
		}
		dbc := dbctx.Context{Ctx: ctx}
		sample, err := a.samples.GetSample(dbc, *evt.SampleID)
		if err != nil {
			return nil
		}
		subID := sample.SubmissionID
		evt.SubmissionID = &subID
	}
	a.schedule(ctx, *evt.SubmissionID)
	return nil
}

// schedule coalesces recomputes for the same submission within
// CoalesceWindow: a burst of sample.status_changed events for one
// submission triggers exactly one recompute at the window's close.
func (a *Aggregator) schedule(ctx context.Context, submissionID uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, scheduled := a.pending[submissionID]; scheduled {
		return
	}
	// The bus cancels the handler's context when the handler returns, which
	// is before the timer fires; keep its values but drop the cancellation.
	ctx = context.WithoutCancel(ctx)
	a.pending[submissionID] = time.AfterFunc(CoalesceWindow, func() {
		a.mu.Lock()
		delete(a.pending, submissionID)
		a.mu.Unlock()
		if err := a.Recompute(ctx, submissionID); err != nil {
			a.log.Error("recompute failed", "submission_id", submissionID, "error", err)
		}
	})
}

// Recompute implements §3 invariants 5-6 within a single set of reads
// followed by one update: sample_count and samples_completed are derived
// counts, and status is "failed" if any sample failed, "completed" if all
// samples are completed, "processing" once at least one sample has left
// `submitted` (the resolved reading of §3 invariant 6's "pending" sample
// state, since the Sample status enum has no literal `pending` value —
// see DESIGN.md), otherwise "pending".
func (a *Aggregator) Recompute(ctx context.Context, submissionID uuid.UUID) error {
	dbc := dbctx.Context{Ctx: ctx}
	counts, err := a.submissions.CountSamplesByStatus(dbc, submissionID)
	if err != nil {
		return err
	}

	var total, completed, failed, notSubmitted int64
	for status, n := range counts {
		total += n
		switch status {
		case workflow.SampleCompleted:
			completed += n
		case workflow.SampleFailed:
			failed += n
		}
		if status != workflow.SampleSubmitted {
			notSubmitted += n
		}
	}

	status := workflow.SubmissionPending
	switch {
	case failed > 0:
		status = workflow.SubmissionFailed
	case total > 0 && completed == total:
		status = workflow.SubmissionCompleted
	case notSubmitted > 0:
		status = workflow.SubmissionProcessing
	}

	return a.submissions.UpdateSubmissionFields(dbc, submissionID, map[string]interface{}{
		"sample_count":      total,
		"samples_completed": completed,
		"status":            status,
	})
}
