package workflowapi

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpMW "github.com/yungbote/neurobridge-backend/internal/http/middleware"
)

// NewRouter wires the routes of spec §6, grounded on the teacher's
// internal/http/router.go (gin.Default + CORS + a grouped /api tree).
// Operator actions (pause/resume/retry/priority/distribute) sit behind
// OperatorAuth; the read endpoints and the intake endpoint do not, matching
// spec.md's framing of authentication as out of scope for those surfaces.
func NewRouter(h *Handler, auth *OperatorAuth) *gin.Engine {
	r := gin.Default()
	r.Use(httpMW.CORS())
	r.Use(otelgin.Middleware("nanopore-workflow-engine"))

	r.GET("/api/health", h.Health)

	api := r.Group("/api")
	{
		api.GET("/queue", h.ListQueue)
		api.GET("/samples/:id/workflow", h.GetSampleWorkflow)
		api.GET("/workflow/status", h.Status)
		api.POST("/submissions/ingest", h.Ingest)
	}

	operator := api.Group("/")
	operator.Use(auth.RequireOperator())
	{
		operator.POST("/samples/:id/pause", h.PauseSample)
		operator.POST("/samples/:id/resume", h.ResumeSample)
		operator.POST("/samples/:id/distribute", h.DistributeSample)
		operator.POST("/steps/:id/retry", h.RetryStep)
		operator.PATCH("/samples/:id/priority", h.ChangePriority)
	}

	return r
}
