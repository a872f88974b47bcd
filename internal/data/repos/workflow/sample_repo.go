package workflow

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	domain "github.com/yungbote/neurobridge-backend/internal/domain/workflow"
	"github.com/yungbote/neurobridge-backend/internal/pkg/dbctx"
	"github.com/yungbote/neurobridge-backend/internal/pkg/logger"
	"github.com/yungbote/neurobridge-backend/internal/pkg/tracing"
)

type SampleRepo interface {
	// CreateSamplesBulk inserts every sample row for a submission in one
	// statement, returning the persisted rows (with ids + timestamps
	// populated) in the same order.
	CreateSamplesBulk(dbc dbctx.Context, samples []*domain.Sample) ([]*domain.Sample, error)
	GetSample(dbc dbctx.Context, id uuid.UUID) (*domain.Sample, error)
	GetSamplesBySubmission(dbc dbctx.Context, submissionID uuid.UUID) ([]*domain.Sample, error)
	UpdateSampleFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	// WithSampleLock runs fn inside a transaction holding a row-level lock
	// on the sample id, serializing concurrent writers to the same sample
	// (§4.2: "writes to the same sample serialize via a row-level lock").
	WithSampleLock(dbc dbctx.Context, id uuid.UUID, fn func(tx *gorm.DB, sample *domain.Sample) error) error
}

type sampleRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSampleRepo(db *gorm.DB, baseLog *logger.Logger) SampleRepo {
	return &sampleRepo{db: db, log: baseLog.With("repo", "SampleRepo")}
}

func (r *sampleRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *sampleRepo) CreateSamplesBulk(dbc dbctx.Context, samples []*domain.Sample) ([]*domain.Sample, error) {
	if len(samples) == 0 {
		return samples, nil
	}
	now := time.Now()
	for _, s := range samples {
		if s.SubmittedAt.IsZero() {
			s.SubmittedAt = now
		}
		if s.WorkflowStage == "" {
			s.WorkflowStage = domain.StageSampleQC
		}
		if s.Status == "" {
			s.Status = domain.SampleSubmitted
		}
	}
	if err := r.tx(dbc).WithContext(dbc.Ctx).Create(&samples).Error; err != nil {
		return nil, err
	}
	return samples, nil
}

func (r *sampleRepo) GetSample(dbc dbctx.Context, id uuid.UUID) (*domain.Sample, error) {
	var s domain.Sample
	if err := r.tx(dbc).WithContext(dbc.Ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *sampleRepo) GetSamplesBySubmission(dbc dbctx.Context, submissionID uuid.UUID) ([]*domain.Sample, error) {
	var out []*domain.Sample
	if err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("submission_id = ?", submissionID).
		Order("sample_number ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *sampleRepo) UpdateSampleFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.Sample{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *sampleRepo) WithSampleLock(dbc dbctx.Context, id uuid.UUID, fn func(tx *gorm.DB, sample *domain.Sample) error) error {
	spanCtx, span := tracing.Start(dbc.Ctx, "persistence.WithSampleLock")
	defer span.End()
	dbc.Ctx = spanCtx

	base := r.tx(dbc)
	return base.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var sample domain.Sample
		if err := txx.Clauses(lockingForUpdate()).
			Where("id = ?", id).
			First(&sample).Error; err != nil {
			return err
		}
		return fn(txx, &sample)
	})
}
