package workflow

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
	StepSkipped    StepStatus = "skipped"
)

// ProcessingStep is a per-sample instance of one stage with its own state.
type ProcessingStep struct {
	ID         uuid.UUID  `json:"id" gorm:"type:uuid;default:uuid_generate_v4();primaryKey"`
	SampleID   uuid.UUID  `json:"sample_id" gorm:"type:uuid;not null;index"`
	StepName   StageName  `json:"step_name" gorm:"type:varchar(32);not null"`
	StepOrder  int        `json:"step_order" gorm:"not null"`
	StepStatus StepStatus `json:"step_status" gorm:"type:varchar(16);index;not null;default:pending"`

	AssigneeID   *uuid.UUID `json:"assignee_id,omitempty" gorm:"type:uuid"`
	AssigneeName string     `json:"assignee_name,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	EstimatedDurationHours float64  `json:"estimated_duration_hours" gorm:"not null"`
	ActualDurationHours    *float64 `json:"actual_duration_hours,omitempty"`

	Notes string `json:"notes,omitempty"`

	Results datatypes.JSON `json:"results,omitempty"`

	QCPassed *bool  `json:"qc_passed,omitempty"`
	QCNotes  string `json:"qc_notes,omitempty"`

	// LeaseHolder/LeaseExpiresAt mirror the authoritative side of the Step
	// Registry lease (§4.1) so a restart can rehydrate via
	// get_in_progress_steps without the cache.
	LeaseHolder    string     `json:"lease_holder,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`

	FailureCount  int    `json:"failure_count" gorm:"not null;default:0"`
	LastErrorText string `json:"last_error_text,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

func (ProcessingStep) TableName() string { return "nanopore_processing_steps" }

// QCResult is the structured outcome of the Sample QC worker (§4.3).
type QCResult struct {
	Passed          bool     `json:"passed"`
	Score           int      `json:"score"`
	Metrics         map[string]float64 `json:"metrics"`
	Issues          []string `json:"issues"`
	Recommendations []string `json:"recommendations"`
}
