package app

import (
	"gorm.io/gorm"

	repos "github.com/yungbote/neurobridge-backend/internal/data/repos/workflow"
	"github.com/yungbote/neurobridge-backend/internal/pkg/logger"
)

// Repos wires the three Persistence Adapter repos (spec §4.2): submissions,
// samples, and processing steps.
type Repos struct {
	Submission repos.SubmissionRepo
	Sample     repos.SampleRepo
	Step       repos.StepRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Submission: repos.NewSubmissionRepo(db, log),
		Sample:     repos.NewSampleRepo(db, log),
		Step:       repos.NewStepRepo(db, log),
	}
}
