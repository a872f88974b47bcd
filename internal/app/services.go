package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-backend/internal/pkg/logger"
	"github.com/yungbote/neurobridge-backend/internal/workflow/aggregator"
	"github.com/yungbote/neurobridge-backend/internal/workflow/cache"
	"github.com/yungbote/neurobridge-backend/internal/workflow/eventbus"
	"github.com/yungbote/neurobridge-backend/internal/workflow/orchestrator"
	"github.com/yungbote/neurobridge-backend/internal/workflow/queue"
	"github.com/yungbote/neurobridge-backend/internal/workflow/retry"
	"github.com/yungbote/neurobridge-backend/internal/workflow/stageconfig"
	"github.com/yungbote/neurobridge-backend/internal/workflow/workerruntime"
	"github.com/yungbote/neurobridge-backend/internal/workflow/workers"
)

// Services wires every moving part of the Workflow Orchestration Engine
// (spec §2): the dependency graph, the shared cache/bus, the priority
// queues, the Orchestrator, the Submission Aggregator, and the Stage
// Worker Runtime with its eight registered workers.
type Services struct {
	Graph        *stageconfig.Graph
	Leases       cache.StepRegistry
	Bus          eventbus.Bus
	Queues       *queue.Manager
	Orchestrator *orchestrator.Orchestrator
	Aggregator   *aggregator.Aggregator
	Runtime      *workerruntime.Runtime
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, repos Repos) (Services, error) {
	log.Info("Wiring services...")

	graph, err := stageconfig.Load()
	if err != nil {
		return Services{}, fmt.Errorf("load stage config: %w", err)
	}

	leases, err := cache.NewRedisStepRegistry(log, cfg.RedisAddr, cfg.RedisKeyPrefix)
	if err != nil {
		return Services{}, fmt.Errorf("init step registry: %w", err)
	}

	bus, err := eventbus.NewRedisBus(log, db, cfg.RedisAddr, cfg.EventChannelPfx)
	if err != nil {
		return Services{}, fmt.Errorf("init event bus: %w", err)
	}

	queues := queue.NewManager(cfg.QueueOrderingStable)

	orchCfg := orchestrator.Config{
		ReconcileInterval: cfg.ReconcileInterval,
		StableOrdering:    cfg.QueueOrderingStable,
	}
	orch := orchestrator.New(log, orchCfg, graph, repos.Submission, repos.Sample, repos.Step, queues, leases, bus)

	agg := aggregator.New(log, repos.Submission, repos.Sample)

	registry := workerruntime.NewRegistry()
	handlers := []workerruntime.Handler{
		workers.NewSampleQCWorker(),
		workers.NewLibraryPrepWorker(),
		workers.NewLibraryQCWorker(),
		workers.NewSequencingSetupWorker(),
		workers.NewSequencingRunWorker(),
		workers.NewBasecallingWorker(),
		workers.NewQualityAssessmentWorker(),
		workers.NewDataDeliveryWorker(),
	}
	for _, h := range handlers {
		if err := registry.Register(h); err != nil {
			return Services{}, fmt.Errorf("register stage worker: %w", err)
		}
	}

	runtimeCfg := workerruntime.Config{
		MaxInFlightPerStage: cfg.MaxInFlightPerStage,
		LeaseTTLMultiplier:  cfg.LeaseTTLMultiplier,
		RetryPolicy: retry.Policy{
			MaxAttempts: cfg.RetryAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
			JitterFrac:  0.20,
		},
	}
	rt := workerruntime.New(log, runtimeCfg, registry, queues, leases, bus, repos.Step, repos.Sample)

	return Services{
		Graph:        graph,
		Leases:       leases,
		Bus:          bus,
		Queues:       queues,
		Orchestrator: orch,
		Aggregator:   agg,
		Runtime:      rt,
	}, nil
}
