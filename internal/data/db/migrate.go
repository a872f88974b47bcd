package db

import (
	"gorm.io/gorm"

	workflow "github.com/yungbote/neurobridge-backend/internal/domain/workflow"
)

// AutoMigrateAll creates/updates the persisted schema for every domain
// model. Table/constraint shape follows spec §6 "Persisted state layout":
// CHECK constraints on enum-like columns, UNIQUE(submission_id,
// sample_number), and cascading foreign keys from step -> sample ->
// submission.
func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&workflow.Submission{},
		&workflow.Sample{},
		&workflow.ProcessingStep{},
		&workflow.WorkflowEvent{},
	); err != nil {
		return err
	}
	// CHECK constraints and explicit FK cascade DDL use Postgres syntax;
	// any other dialect gets plain AutoMigrate only.
	if db.Name() != "postgres" {
		return nil
	}
	return applyConstraints(db)
}

func applyConstraints(db *gorm.DB) error {
	stmts := []string{
		`ALTER TABLE nanopore_submissions
			DROP CONSTRAINT IF EXISTS chk_submission_status`,
		`ALTER TABLE nanopore_submissions
			ADD CONSTRAINT chk_submission_status
			CHECK (status IN ('pending','processing','completed','failed'))`,
		`ALTER TABLE nanopore_samples
			DROP CONSTRAINT IF EXISTS chk_sample_status`,
		`ALTER TABLE nanopore_samples
			ADD CONSTRAINT chk_sample_status
			CHECK (status IN ('submitted','prep','sequencing','analysis','completed','distributed','archived','failed'))`,
		`ALTER TABLE nanopore_samples
			DROP CONSTRAINT IF EXISTS chk_sample_workflow_stage`,
		`ALTER TABLE nanopore_samples
			ADD CONSTRAINT chk_sample_workflow_stage
			CHECK (workflow_stage IN ('sample_qc','library_prep','library_qc','sequencing_setup','sequencing_run','basecalling','quality_assessment','data_delivery'))`,
		`ALTER TABLE nanopore_processing_steps
			DROP CONSTRAINT IF EXISTS chk_step_status`,
		`ALTER TABLE nanopore_processing_steps
			ADD CONSTRAINT chk_step_status
			CHECK (step_status IN ('pending','in_progress','completed','failed','skipped'))`,
		`ALTER TABLE nanopore_samples
			DROP CONSTRAINT IF EXISTS fk_samples_submission`,
		`ALTER TABLE nanopore_samples
			ADD CONSTRAINT fk_samples_submission
			FOREIGN KEY (submission_id) REFERENCES nanopore_submissions(id) ON DELETE CASCADE`,
		`ALTER TABLE nanopore_processing_steps
			DROP CONSTRAINT IF EXISTS fk_steps_sample`,
		`ALTER TABLE nanopore_processing_steps
			ADD CONSTRAINT fk_steps_sample
			FOREIGN KEY (sample_id) REFERENCES nanopore_samples(id) ON DELETE CASCADE`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_status ON nanopore_submissions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_submission_date ON nanopore_submissions(submission_date)`,
		`CREATE INDEX IF NOT EXISTS idx_samples_workflow_stage ON nanopore_samples(workflow_stage)`,
		`CREATE INDEX IF NOT EXISTS idx_samples_priority_status_submitted ON nanopore_samples(priority, status, submitted_at)`,
		`CREATE INDEX IF NOT EXISTS idx_steps_sample_id ON nanopore_processing_steps(sample_id)`,
		`CREATE INDEX IF NOT EXISTS idx_steps_step_status ON nanopore_processing_steps(step_status)`,
	}
	for _, s := range stmts {
		if err := db.Exec(s).Error; err != nil {
			return err
		}
	}
	return nil
}
