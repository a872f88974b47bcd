// Package workflow holds the Persistence Adapter (spec §4.2): typed,
// transactional access to submissions, samples, and processing_steps.
// Grounded on the teacher's internal/data/repos/jobs/job_run.go (dbctx
// parameter convention, transaction fallback, row-locked claims).
package workflow

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	domain "github.com/yungbote/neurobridge-backend/internal/domain/workflow"
	"github.com/yungbote/neurobridge-backend/internal/pkg/dbctx"
	"github.com/yungbote/neurobridge-backend/internal/pkg/logger"
)

type SubmissionRepo interface {
	// CreateSubmission persists a single submission row and returns its id.
	CreateSubmission(dbc dbctx.Context, rec *domain.Submission) (uuid.UUID, error)
	GetSubmission(dbc dbctx.Context, id uuid.UUID) (*domain.Submission, error)
	GetSubmissionByNumber(dbc dbctx.Context, number string) (*domain.Submission, error)
	// UpdateSubmissionFields performs the targeted field update the
	// Aggregator uses. It applies the updates as given, with no optimistic
	// updated_at check; the Aggregator derives them from a fresh count just
	// before calling it, outside any transaction.
	UpdateSubmissionFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	// CountSamplesByStatus is used by the Aggregator to recompute
	// sample_count / samples_completed / status (§3 invariant 5, §4.8).
	CountSamplesByStatus(dbc dbctx.Context, submissionID uuid.UUID) (map[domain.SampleStatus]int64, error)
	ListSubmissions(dbc dbctx.Context, limit, offset int) ([]*domain.Submission, error)
}

type submissionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSubmissionRepo(db *gorm.DB, baseLog *logger.Logger) SubmissionRepo {
	return &submissionRepo{db: db, log: baseLog.With("repo", "SubmissionRepo")}
}

func (r *submissionRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *submissionRepo) CreateSubmission(dbc dbctx.Context, rec *domain.Submission) (uuid.UUID, error) {
	if rec.SubmissionDate.IsZero() {
		rec.SubmissionDate = time.Now()
	}
	if err := r.tx(dbc).WithContext(dbc.Ctx).Create(rec).Error; err != nil {
		return uuid.Nil, err
	}
	return rec.ID, nil
}

func (r *submissionRepo) GetSubmission(dbc dbctx.Context, id uuid.UUID) (*domain.Submission, error) {
	var s domain.Submission
	if err := r.tx(dbc).WithContext(dbc.Ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *submissionRepo) GetSubmissionByNumber(dbc dbctx.Context, number string) (*domain.Submission, error) {
	var s domain.Submission
	if err := r.tx(dbc).WithContext(dbc.Ctx).Where("submission_number = ?", number).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *submissionRepo) UpdateSubmissionFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.Submission{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *submissionRepo) CountSamplesByStatus(dbc dbctx.Context, submissionID uuid.UUID) (map[domain.SampleStatus]int64, error) {
	type row struct {
		Status domain.SampleStatus
		N      int64
	}
	var rows []row
	if err := r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.Sample{}).
		Select("status, count(*) as n").
		Where("submission_id = ?", submissionID).
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[domain.SampleStatus]int64, len(rows))
	for _, rr := range rows {
		out[rr.Status] = rr.N
	}
	return out, nil
}

func (r *submissionRepo) ListSubmissions(dbc dbctx.Context, limit, offset int) ([]*domain.Submission, error) {
	var out []*domain.Submission
	q := r.tx(dbc).WithContext(dbc.Ctx).Order("submission_date DESC")
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
