package workflow

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	domain "github.com/yungbote/neurobridge-backend/internal/domain/workflow"
	"github.com/yungbote/neurobridge-backend/internal/pkg/dbctx"
	"github.com/yungbote/neurobridge-backend/internal/pkg/logger"
	"github.com/yungbote/neurobridge-backend/internal/workflow/stageconfig"
)

// PendingStepRow is one row of get_pending_steps: the step joined with
// enough sample/submission context to compute the priority ordering key
// (§4.5) without a second round-trip.
type PendingStepRow struct {
	Step           domain.ProcessingStep
	SampleID       uuid.UUID
	SampleNumber   int
	SubmissionID   uuid.UUID
	Priority       domain.Priority
	SubmissionDate time.Time
}

type StepRepo interface {
	// CreateStepsBulk inserts the eight step rows for a sample. Intake calls
	// it after sample creation as a separate write, not in the same
	// transaction (§4.2).
	CreateStepsBulk(dbc dbctx.Context, sampleID uuid.UUID, graph *stageconfig.Graph) ([]*domain.ProcessingStep, error)
	GetStep(dbc dbctx.Context, id uuid.UUID) (*domain.ProcessingStep, error)
	GetSampleSteps(dbc dbctx.Context, sampleID uuid.UUID) ([]*domain.ProcessingStep, error)
	// GetPendingSteps returns steps in `pending` for stageName ordered by
	// the priority key of §4.5 (priority desc, submission_date asc,
	// sample_number asc).
	GetPendingSteps(dbc dbctx.Context, stageName domain.StageName, limit int) ([]PendingStepRow, error)
	// GetStepDependencies returns the step rows of sampleID whose
	// step_name is in depStageNames.
	GetStepDependencies(dbc dbctx.Context, sampleID uuid.UUID, depStageNames []domain.StageName) ([]*domain.ProcessingStep, error)
	// UpdateStep is a targeted field patch.
	UpdateStep(dbc dbctx.Context, id uuid.UUID, patch map[string]interface{}) error
	// UpdateStepUnlessStatus applies patch only if the step's current
	// status is not in disallowed; returns whether a row was changed. This
	// is the mechanism that keeps event handlers idempotent under
	// at-least-once delivery (§4.6, §8 round-trip laws).
	UpdateStepUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowed []domain.StepStatus, patch map[string]interface{}) (bool, error)
	// GetInProgressSteps rehydrates the Step Registry on orchestrator
	// start (§4.2).
	GetInProgressSteps(dbc dbctx.Context) ([]*domain.ProcessingStep, error)
	// CountStepsByStatus is used by invariant checks and tests.
	CountStepsByStatus(dbc dbctx.Context, sampleID uuid.UUID) (map[domain.StepStatus]int64, error)
}

type stepRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStepRepo(db *gorm.DB, baseLog *logger.Logger) StepRepo {
	return &stepRepo{db: db, log: baseLog.With("repo", "StepRepo")}
}

func (r *stepRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *stepRepo) CreateStepsBulk(dbc dbctx.Context, sampleID uuid.UUID, graph *stageconfig.Graph) ([]*domain.ProcessingStep, error) {
	stages := graph.Stages()
	steps := make([]*domain.ProcessingStep, 0, len(stages))
	for _, name := range stages {
		cfg, _ := graph.Config(name)
		steps = append(steps, &domain.ProcessingStep{
			SampleID:               sampleID,
			StepName:               name,
			StepOrder:              graph.Order(name),
			StepStatus:             domain.StepPending,
			EstimatedDurationHours: cfg.EstimatedDurationHours,
		})
	}
	if err := r.tx(dbc).WithContext(dbc.Ctx).Create(&steps).Error; err != nil {
		return nil, err
	}
	return steps, nil
}

func (r *stepRepo) GetStep(dbc dbctx.Context, id uuid.UUID) (*domain.ProcessingStep, error) {
	var s domain.ProcessingStep
	if err := r.tx(dbc).WithContext(dbc.Ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *stepRepo) GetSampleSteps(dbc dbctx.Context, sampleID uuid.UUID) ([]*domain.ProcessingStep, error) {
	var out []*domain.ProcessingStep
	if err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("sample_id = ?", sampleID).
		Order("step_order ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// GetPendingSteps joins processing_steps -> samples -> submissions and
// orders by the §4.5 priority key. The CASE expression maps the priority
// enum to a numeric rank so SQL ORDER BY can sort on it directly.
func (r *stepRepo) GetPendingSteps(dbc dbctx.Context, stageName domain.StageName, limit int) ([]PendingStepRow, error) {
	type joinRow struct {
		domain.ProcessingStep
		SampleID2       uuid.UUID `gorm:"column:s_id"`
		SampleNumber    int       `gorm:"column:sample_number"`
		SubmissionID2   uuid.UUID `gorm:"column:submission_id"`
		Priority        domain.Priority `gorm:"column:priority"`
		SubmissionDate  time.Time       `gorm:"column:submission_date"`
	}
	var rows []joinRow
	q := r.tx(dbc).WithContext(dbc.Ctx).
		Table("nanopore_processing_steps AS ps").
		Select(`ps.*, s.id AS s_id, s.sample_number AS sample_number, s.submission_id AS submission_id,
			s.priority AS priority, sub.submission_date AS submission_date`).
		Joins("JOIN nanopore_samples s ON s.id = ps.sample_id").
		Joins("JOIN nanopore_submissions sub ON sub.id = s.submission_id").
		Where("ps.step_name = ? AND ps.step_status = ?", stageName, domain.StepPending).
		Order(`CASE s.priority
			WHEN 'urgent' THEN 3
			WHEN 'high' THEN 2
			WHEN 'normal' THEN 1
			WHEN 'low' THEN 0
			ELSE 0 END DESC, sub.submission_date ASC, s.sample_number ASC`)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]PendingStepRow, 0, len(rows))
	for _, jr := range rows {
		out = append(out, PendingStepRow{
			Step:           jr.ProcessingStep,
			SampleID:       jr.SampleID2,
			SampleNumber:   jr.SampleNumber,
			SubmissionID:   jr.SubmissionID2,
			Priority:       jr.Priority,
			SubmissionDate: jr.SubmissionDate,
		})
	}
	return out, nil
}

func (r *stepRepo) GetStepDependencies(dbc dbctx.Context, sampleID uuid.UUID, depStageNames []domain.StageName) ([]*domain.ProcessingStep, error) {
	var out []*domain.ProcessingStep
	if len(depStageNames) == 0 {
		return out, nil
	}
	if err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("sample_id = ? AND step_name IN ?", sampleID, depStageNames).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *stepRepo) UpdateStep(dbc dbctx.Context, id uuid.UUID, patch map[string]interface{}) error {
	if patch == nil {
		patch = map[string]interface{}{}
	}
	if _, ok := patch["updated_at"]; !ok {
		patch["updated_at"] = time.Now()
	}
	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.ProcessingStep{}).
		Where("id = ?", id).
		Updates(patch).Error
}

func (r *stepRepo) UpdateStepUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowed []domain.StepStatus, patch map[string]interface{}) (bool, error) {
	if patch == nil {
		patch = map[string]interface{}{}
	}
	if _, ok := patch["updated_at"]; !ok {
		patch["updated_at"] = time.Now()
	}
	q := r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.ProcessingStep{}).
		Where("id = ?", id)
	if len(disallowed) == 1 {
		q = q.Where("step_status <> ?", disallowed[0])
	} else if len(disallowed) > 1 {
		q = q.Where("step_status NOT IN ?", disallowed)
	}
	res := q.Updates(patch)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *stepRepo) GetInProgressSteps(dbc dbctx.Context) ([]*domain.ProcessingStep, error) {
	var out []*domain.ProcessingStep
	if err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("step_status = ?", domain.StepInProgress).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *stepRepo) CountStepsByStatus(dbc dbctx.Context, sampleID uuid.UUID) (map[domain.StepStatus]int64, error) {
	type row struct {
		StepStatus domain.StepStatus
		N          int64
	}
	var rows []row
	if err := r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.ProcessingStep{}).
		Select("step_status, count(*) as n").
		Where("sample_id = ?", sampleID).
		Group("step_status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[domain.StepStatus]int64, len(rows))
	for _, rr := range rows {
		out[rr.StepStatus] = rr.N
	}
	return out, nil
}
