package app

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/neurobridge-backend/internal/http/workflowapi"
)

func wireRouter(handlers Handlers, middleware Middleware) *gin.Engine {
	return workflowapi.NewRouter(handlers.Workflow, middleware.OperatorAuth)
}
