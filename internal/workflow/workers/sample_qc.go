// Package workers hosts the eight concrete Stage Workers (spec §9:
// "a single capability interface execute(step, sample) -> outcome
// implemented by eight concrete types"). Only Sample QC carries
// spec-mandated scoring logic (§4.3); the remaining seven are minimal
// reference implementations of the worker contract, since per-stage
// business work is explicitly out of scope (§1) and pluggable.
package workers

import (
	"context"
	"fmt"

	workflow "github.com/yungbote/neurobridge-backend/internal/domain/workflow"
	"github.com/yungbote/neurobridge-backend/internal/workflow/workerruntime"
)

// SampleQCWorker implements the QC gate that scores concentration,
// volume, and sample_type against the threshold table in spec §4.3.
type SampleQCWorker struct{}

func NewSampleQCWorker() *SampleQCWorker { return &SampleQCWorker{} }

func (w *SampleQCWorker) Stage() workflow.StageName { return workflow.StageSampleQC }

func (w *SampleQCWorker) Execute(_ context.Context, _ *workflow.ProcessingStep, sample *workflow.Sample, _ workerruntime.RenewFunc) (workerruntime.ExecuteResult, error) {
	qc := scoreSampleQC(sample)
	outcome := workerruntime.OutcomeCompleted
	errMsg := ""
	if !qc.Passed {
		outcome = workerruntime.OutcomeFailed
		errMsg = fmt.Sprintf("sample QC failed: score=%d issues=%v", qc.Score, qc.Issues)
	}
	return workerruntime.ExecuteResult{
		Outcome:      outcome,
		Results:      map[string]any{"qc_result": qc},
		QCResult:     &qc,
		ErrorMessage: errMsg,
	}, nil
}

// scoreSampleQC derives a QCResult from concentration, volume, sample_type
// and the derived total_amount, following the reference threshold table
// in spec §4.3 verbatim. QC passes if no critical issue fired and the
// final score is >= 70.
func scoreSampleQC(sample *workflow.Sample) workflow.QCResult {
	score := 100
	var issues []string
	var recommendations []string
	critical := false
	metrics := map[string]float64{}

	if sample.ConcentrationNgUl == nil {
		critical = true
		issues = append(issues, "concentration missing")
	} else {
		conc := *sample.ConcentrationNgUl
		metrics["concentration_ng_ul"] = conc
		if conc < 1 {
			score -= 30
			issues = append(issues, "concentration below 1 ng/uL")
			recommendations = append(recommendations, "re-quantify or concentrate the sample")
		} else if conc > 1000 {
			score -= 15
			issues = append(issues, "concentration above 1000 ng/uL")
			recommendations = append(recommendations, "dilute before library preparation")
		}
	}

	if sample.VolumeUl == nil {
		score -= 30
		issues = append(issues, "volume missing")
	} else {
		vol := *sample.VolumeUl
		metrics["volume_ul"] = vol
		if vol < 1 {
			score -= 25
			issues = append(issues, "volume below 1 uL")
			recommendations = append(recommendations, "resubmit with additional volume")
		} else if vol > 100 {
			score -= 5
			issues = append(issues, "volume above 100 uL")
		}
	}

	if sample.SampleType == "" {
		critical = true
		issues = append(issues, "sample_type missing")
	}

	if total := sample.TotalAmountNg(); total != nil {
		metrics["total_amount_ng"] = *total
		if *total < 50 {
			score -= 20
			issues = append(issues, "total amount below 50 ng")
			recommendations = append(recommendations, "increase input mass before proceeding")
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	passed := !critical && score >= 70

	return workflow.QCResult{
		Passed:          passed,
		Score:           score,
		Metrics:         metrics,
		Issues:          issues,
		Recommendations: recommendations,
	}
}
