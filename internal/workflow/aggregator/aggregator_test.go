package aggregator

import (
	"context"
	"testing"

	"github.com/google/uuid"

	repos "github.com/yungbote/neurobridge-backend/internal/data/repos/workflow"
	domain "github.com/yungbote/neurobridge-backend/internal/domain/workflow"
	"github.com/yungbote/neurobridge-backend/internal/pkg/dbctx"
	"github.com/yungbote/neurobridge-backend/internal/pkg/logger"
)

type fakeSubmissionRepo struct {
	repos.SubmissionRepo
	counts  map[domain.SampleStatus]int64
	updates map[string]interface{}
}

func (f *fakeSubmissionRepo) CountSamplesByStatus(dbc dbctx.Context, submissionID uuid.UUID) (map[domain.SampleStatus]int64, error) {
	return f.counts, nil
}

func (f *fakeSubmissionRepo) UpdateSubmissionFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	f.updates = updates
	return nil
}

type fakeSampleRepo struct {
	repos.SampleRepo
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func TestRecomputeAllCompletedYieldsSubmissionCompleted(t *testing.T) {
	subs := &fakeSubmissionRepo{counts: map[domain.SampleStatus]int64{
		domain.SampleCompleted: 3,
	}}
	a := New(testLogger(t), subs, &fakeSampleRepo{})
	if err := a.Recompute(context.Background(), uuid.New()); err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if subs.updates["status"] != domain.SubmissionCompleted {
		t.Fatalf("expected completed status, got %v", subs.updates["status"])
	}
	if subs.updates["sample_count"] != int64(3) || subs.updates["samples_completed"] != int64(3) {
		t.Fatalf("unexpected counts: %+v", subs.updates)
	}
}

func TestRecomputeAnyFailedYieldsSubmissionFailed(t *testing.T) {
	subs := &fakeSubmissionRepo{counts: map[domain.SampleStatus]int64{
		domain.SampleCompleted: 2,
		domain.SampleFailed:    1,
	}}
	a := New(testLogger(t), subs, &fakeSampleRepo{})
	if err := a.Recompute(context.Background(), uuid.New()); err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if subs.updates["status"] != domain.SubmissionFailed {
		t.Fatalf("failed sample must dominate, got %v", subs.updates["status"])
	}
}

func TestRecomputeAllStillSubmittedYieldsSubmissionPending(t *testing.T) {
	subs := &fakeSubmissionRepo{counts: map[domain.SampleStatus]int64{
		domain.SampleSubmitted: 4,
	}}
	a := New(testLogger(t), subs, &fakeSampleRepo{})
	if err := a.Recompute(context.Background(), uuid.New()); err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if subs.updates["status"] != domain.SubmissionPending {
		t.Fatalf("expected pending while every sample is still submitted, got %v", subs.updates["status"])
	}
}

func TestRecomputeSomeInFlightYieldsSubmissionProcessing(t *testing.T) {
	subs := &fakeSubmissionRepo{counts: map[domain.SampleStatus]int64{
		domain.SampleSubmitted: 2,
		domain.SamplePrep:      1,
	}}
	a := New(testLogger(t), subs, &fakeSampleRepo{})
	if err := a.Recompute(context.Background(), uuid.New()); err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if subs.updates["status"] != domain.SubmissionProcessing {
		t.Fatalf("expected processing once a sample has left submitted, got %v", subs.updates["status"])
	}
}
