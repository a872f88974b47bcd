package app

import (
	"github.com/yungbote/neurobridge-backend/internal/http/workflowapi"
	"github.com/yungbote/neurobridge-backend/internal/pkg/logger"
)

type Handlers struct {
	Workflow *workflowapi.Handler
}

func wireHandlers(log *logger.Logger, services Services, repos Repos) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Workflow: workflowapi.New(log, services.Orchestrator, services.Bus, repos.Submission, repos.Sample, repos.Step, services.Queues, services.Graph),
	}
}
