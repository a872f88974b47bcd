package workflow

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type SampleType string

const (
	SampleTypeDNA     SampleType = "DNA"
	SampleTypeRNA     SampleType = "RNA"
	SampleTypeProtein SampleType = "Protein"
	SampleTypeOther   SampleType = "Other"
)

type SampleStatus string

const (
	SampleSubmitted  SampleStatus = "submitted"
	SamplePrep       SampleStatus = "prep"
	SampleSequencing SampleStatus = "sequencing"
	SampleAnalysis   SampleStatus = "analysis"
	SampleCompleted  SampleStatus = "completed"
	SampleDistribute SampleStatus = "distributed"
	SampleArchived   SampleStatus = "archived"
	SampleFailed     SampleStatus = "failed"
)

// StageName identifies one of the eight canonical pipeline stages.
type StageName string

const (
	StageSampleQC          StageName = "sample_qc"
	StageLibraryPrep       StageName = "library_prep"
	StageLibraryQC         StageName = "library_qc"
	StageSequencingSetup   StageName = "sequencing_setup"
	StageSequencingRun     StageName = "sequencing_run"
	StageBasecalling       StageName = "basecalling"
	StageQualityAssessment StageName = "quality_assessment"
	StageDataDelivery      StageName = "data_delivery"
)

// CanonicalStages is the fixed, ordered eight-stage pipeline (§4.4).
var CanonicalStages = []StageName{
	StageSampleQC,
	StageLibraryPrep,
	StageLibraryQC,
	StageSequencingSetup,
	StageSequencingRun,
	StageBasecalling,
	StageQualityAssessment,
	StageDataDelivery,
}

// Sample is an individual biological item tracked through the eight stages.
type Sample struct {
	ID           uuid.UUID  `json:"id" gorm:"type:uuid;default:uuid_generate_v4();primaryKey"`
	SubmissionID uuid.UUID  `json:"submission_id" gorm:"type:uuid;not null;index;uniqueIndex:idx_submission_sample_number"`
	SampleNumber int        `json:"sample_number" gorm:"not null;uniqueIndex:idx_submission_sample_number"`
	SampleName   string     `json:"sample_name"`
	SampleType   SampleType `json:"sample_type" gorm:"type:varchar(16);not null"`

	ConcentrationNgUl *float64 `json:"concentration_ng_ul,omitempty"`
	VolumeUl          *float64 `json:"volume_ul,omitempty"`
	QubitConcNgUl     *float64 `json:"qubit_conc_ng_ul,omitempty"`
	NanodropConcNgUl  *float64 `json:"nanodrop_conc_ng_ul,omitempty"`
	A260280           *float64 `json:"a260_280,omitempty"`
	A260230           *float64 `json:"a260_230,omitempty"`

	WorkflowStage StageName    `json:"workflow_stage" gorm:"type:varchar(32);index;not null"`
	Status        SampleStatus `json:"status" gorm:"type:varchar(16);not null;default:submitted"`
	Priority      Priority     `json:"priority" gorm:"type:varchar(16);not null;default:normal;index:idx_samples_priority_status_submitted"`

	AssigneeID   *uuid.UUID `json:"assignee_id,omitempty" gorm:"type:uuid"`
	AssigneeName string     `json:"assignee_name,omitempty"`

	SubmittedAt time.Time `json:"submitted_at" gorm:"index:idx_samples_priority_status_submitted;not null"`

	ChartField string `json:"chart_field,omitempty"`

	QCResult datatypes.JSON `json:"qc_result,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

func (Sample) TableName() string { return "nanopore_samples" }

// TotalAmountNg is the derived concentration*volume figure used by the
// Sample QC worker's scoring rubric (§4.3).
func (s *Sample) TotalAmountNg() *float64 {
	if s.ConcentrationNgUl == nil || s.VolumeUl == nil {
		return nil
	}
	total := *s.ConcentrationNgUl * *s.VolumeUl
	return &total
}
