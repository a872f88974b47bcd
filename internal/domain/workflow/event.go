package workflow

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// EventSubject enumerates the Event Bus subjects (§4.7).
type EventSubject string

const (
	SubjectSampleCreated       EventSubject = "sample.created"
	SubjectSampleUpdated       EventSubject = "sample.updated"
	SubjectSampleStatusChanged EventSubject = "sample.status_changed"
	SubjectStepStarted         EventSubject = "step.started"
	SubjectStepCompleted       EventSubject = "step.completed"
	SubjectStepFailed          EventSubject = "step.failed"
	SubjectPriorityChanged     EventSubject = "priority.changed"
	SubjectWorkflowCompleted   EventSubject = "workflow.completed"
)

// Event is the typed envelope delivered by the Event Bus.
type Event struct {
	ID            uuid.UUID      `json:"id"`
	Subject       EventSubject   `json:"subject"`
	Timestamp     time.Time      `json:"timestamp"`
	Source        string         `json:"source"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	SampleID      *uuid.UUID     `json:"sample_id,omitempty"`
	SubmissionID  *uuid.UUID     `json:"submission_id,omitempty"`
	StepID        *uuid.UUID     `json:"step_id,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// WorkflowEvent is the durable outbox row backing the Event Bus's
// at-least-once delivery and the replay property in §8.5.
type WorkflowEvent struct {
	ID            uuid.UUID      `json:"id" gorm:"type:uuid;default:uuid_generate_v4();primaryKey"`
	Subject       string         `json:"subject" gorm:"type:varchar(64);index;not null"`
	SampleID      *uuid.UUID     `json:"sample_id,omitempty" gorm:"type:uuid;index"`
	SubmissionID  *uuid.UUID     `json:"submission_id,omitempty" gorm:"type:uuid;index"`
	StepID        *uuid.UUID     `json:"step_id,omitempty" gorm:"type:uuid"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Payload       datatypes.JSON `json:"payload,omitempty"`
	PublishedAt   time.Time      `json:"published_at" gorm:"index;not null"`
}

func (WorkflowEvent) TableName() string { return "nanopore_workflow_events" }
