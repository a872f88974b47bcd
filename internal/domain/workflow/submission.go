package workflow

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Priority is the shared priority class for submissions and samples.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank returns a higher-is-more-urgent ordinal, used by the priority queues
// to sort dequeue order (urgent > high > normal > low).
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	case PriorityLow:
		return 0
	default:
		return 0
	}
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type SubmissionStatus string

const (
	SubmissionPending    SubmissionStatus = "pending"
	SubmissionProcessing SubmissionStatus = "processing"
	SubmissionCompleted  SubmissionStatus = "completed"
	SubmissionFailed     SubmissionStatus = "failed"
)

// Submission groups one or more samples sharing submitter/project metadata.
type Submission struct {
	ID               uuid.UUID        `json:"id" gorm:"type:uuid;default:uuid_generate_v4();primaryKey"`
	SubmissionNumber string           `json:"submission_number" gorm:"uniqueIndex;not null"`
	OriginFilename   string           `json:"origin_filename"`
	SubmitterName    string           `json:"submitter_name"`
	SubmitterEmail   string           `json:"submitter_email"`
	Organization     string           `json:"organization,omitempty"`
	Project          string           `json:"project,omitempty"`
	Priority         Priority         `json:"priority" gorm:"type:varchar(16);not null;default:normal"`
	Status           SubmissionStatus `json:"status" gorm:"type:varchar(16);index;not null;default:pending"`
	SampleCount      int              `json:"sample_count" gorm:"not null;default:0"`
	SamplesCompleted int              `json:"samples_completed" gorm:"not null;default:0"`
	SubmissionDate   time.Time        `json:"submission_date" gorm:"index;not null"`
	OwnerID          uuid.UUID        `json:"owner_id" gorm:"type:uuid;index"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	DeletedAt        gorm.DeletedAt   `json:"-" gorm:"index"`
}

func (Submission) TableName() string { return "nanopore_submissions" }
