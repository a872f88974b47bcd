// Package workerruntime hosts the Stage Worker contract (spec §4.3) and
// the runtime that drives pluggable worker plugins: lease acquisition,
// deadline enforcement, lease renewal, and started/completed/failed event
// publication. Grounded on the teacher's internal/jobs/runtime/registry.go
// (handler registry pattern) and internal/jobs/worker/worker.go (bounded
// worker pool + heartbeat/lease renewal loop).
package workerruntime

import (
	"context"
	"fmt"
	"sync"

	workflow "github.com/yungbote/neurobridge-backend/internal/domain/workflow"
)

// Outcome is the terminal result a Stage Worker reports for one step.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// ExecuteResult is what execute(step, sample) returns (§4.3).
type ExecuteResult struct {
	Outcome      Outcome
	Results      map[string]any
	QCResult     *workflow.QCResult
	ErrorMessage string
}

// RenewFunc lets a long-running worker extend its own lease. Workers MUST
// call it at <= TTL/2 intervals (§4.3).
type RenewFunc func(ctx context.Context) error

// Handler is the capability interface every Stage Worker implements.
// Resolution happens via a static registry keyed by stage name (§9): no
// base-class state, no inheritance hierarchy among the eight workers.
//
// Workers MUST NOT write the database directly; all state changes flow
// through the Orchestrator reacting to the events the runtime publishes
// on the worker's behalf (§4.3). Workers MUST be idempotent: receiving
// the same step twice must not corrupt state.
type Handler interface {
	Stage() workflow.StageName
	Execute(ctx context.Context, step *workflow.ProcessingStep, sample *workflow.Sample, renew RenewFunc) (ExecuteResult, error)
}

// Registry is a concurrency-safe stage_name -> Handler map.
type Registry struct {
	mu       sync.RWMutex
	handlers map[workflow.StageName]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[workflow.StageName]Handler)}
}

// Register fails fast on nil handlers, empty stage names, and duplicate
// registration — a collision is almost always a wiring error, not a
// condition to paper over (mirrors the teacher's runtime.Registry.Register).
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return fmt.Errorf("nil handler")
	}
	stage := h.Stage()
	if stage == "" {
		return fmt.Errorf("handler Stage() is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[stage]; exists {
		return fmt.Errorf("handler already registered for stage=%s", stage)
	}
	r.handlers[stage] = h
	return nil
}

func (r *Registry) Get(stage workflow.StageName) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[stage]
	return h, ok
}
