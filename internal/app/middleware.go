package app

import (
	"github.com/yungbote/neurobridge-backend/internal/http/workflowapi"
	"github.com/yungbote/neurobridge-backend/internal/pkg/logger"
)

type Middleware struct {
	OperatorAuth *workflowapi.OperatorAuth
}

func wireMiddleware(log *logger.Logger, cfg Config) Middleware {
	log.Info("Wiring middleware...")
	return Middleware{
		OperatorAuth: workflowapi.NewOperatorAuth(log, cfg.OperatorJWTSecret),
	}
}
