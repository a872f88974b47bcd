package app

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	appdb "github.com/yungbote/neurobridge-backend/internal/data/db"
	"github.com/yungbote/neurobridge-backend/internal/pkg/logger"
	"github.com/yungbote/neurobridge-backend/internal/pkg/tracing"
)

// App wires the Workflow Orchestration Engine's Persistence Adapter, the
// Orchestrator/Aggregator/Stage Worker Runtime trio, and the HTTP API,
// grounded on the teacher's own internal/app/app.go composition root.
type App struct {
	Log          *logger.Logger
	DB           *gorm.DB
	Router       *gin.Engine
	Cfg          Config
	Repos        Repos
	Services     Services
	Handlers     Handlers
	Middleware   Middleware
	cancel       context.CancelFunc
	otelShutdown func(context.Context) error
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	otelShutdown := tracing.Init(context.Background(), log, "nanopore-workflow-engine", logMode)

	pg, err := appdb.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	theDB := pg.DB()
	if err := appdb.AutoMigrateAll(theDB); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}

	reposet := wireRepos(theDB, log)

	serviceset, err := wireServices(theDB, log, cfg, reposet)
	if err != nil {
		log.Sync()
		return nil, err
	}

	handlerset := wireHandlers(log, serviceset, reposet)
	middlewareset := wireMiddleware(log, cfg)
	router := wireRouter(handlerset, middlewareset)

	return &App{
		Log:          log,
		DB:           theDB,
		Router:       router,
		Cfg:          cfg,
		Repos:        reposet,
		Services:     serviceset,
		Handlers:     handlerset,
		Middleware:   middlewareset,
		otelShutdown: otelShutdown,
	}, nil
}

// Start launches the background components: the Orchestrator's event
// subscriptions and reconcile loop, the Submission Aggregator, and the
// Stage Worker Runtime's per-stage dispatch loops. runServer is accepted
// for symmetry with the entrypoint's two-flag model but does not itself
// gate anything here — the HTTP server is started separately via Run.
func (a *App) Start(runServer, runWorker bool) {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if a.Cfg.RunOrchestrator {
		if err := a.Services.Orchestrator.Start(ctx); err != nil {
			a.Log.Warn("orchestrator failed to start", "error", err)
		}
		if err := a.Services.Aggregator.Start(ctx, a.Services.Bus); err != nil {
			a.Log.Warn("aggregator failed to start", "error", err)
		}
	}
	if runWorker && a.Cfg.RunWorkers {
		a.Services.Runtime.Start(ctx)
	}
}

func (a *App) Run(addr string) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Router.Run(addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Services.Leases != nil {
		_ = a.Services.Leases.Close()
	}
	if a.Services.Bus != nil {
		_ = a.Services.Bus.Close()
	}
	if a.otelShutdown != nil {
		_ = a.otelShutdown(context.Background())
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
