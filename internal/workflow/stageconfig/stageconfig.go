// Package stageconfig loads the static, canonical eight-stage dependency
// graph (spec §3 StageConfig, §4.4) and answers readiness queries for the
// Dependency Resolver.
package stageconfig

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	workflow "github.com/yungbote/neurobridge-backend/internal/domain/workflow"
)

//go:embed stageconfig.yaml
var embeddedYAML []byte

// StageConfig describes one stage's static configuration.
type StageConfig struct {
	Name                   workflow.StageName   `yaml:"name"`
	EstimatedDurationHours float64              `yaml:"estimated_duration_hours"`
	Deps                   []workflow.StageName `yaml:"deps"`
	QCGateRequired         bool                 `yaml:"qc_gate"`
}

type rawFile struct {
	Stages []StageConfig `yaml:"stages"`
}

// Graph is the resolved, validated stage dependency graph.
type Graph struct {
	order   []workflow.StageName
	byName  map[workflow.StageName]StageConfig
	nextOf  map[workflow.StageName]workflow.StageName
}

// Load parses the embedded stageconfig.yaml. Callers needing a custom
// config (e.g. tests tuning durations) can use LoadBytes instead.
func Load() (*Graph, error) {
	return LoadBytes(embeddedYAML)
}

func LoadBytes(raw []byte) (*Graph, error) {
	var f rawFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse stage config: %w", err)
	}
	if len(f.Stages) != len(workflow.CanonicalStages) {
		return nil, fmt.Errorf("stage config must define exactly %d stages, got %d", len(workflow.CanonicalStages), len(f.Stages))
	}
	g := &Graph{
		byName: make(map[workflow.StageName]StageConfig, len(f.Stages)),
		nextOf: make(map[workflow.StageName]workflow.StageName, len(f.Stages)),
	}
	for _, s := range f.Stages {
		g.byName[s.Name] = s
		g.order = append(g.order, s.Name)
	}
	for _, canon := range workflow.CanonicalStages {
		if _, ok := g.byName[canon]; !ok {
			return nil, fmt.Errorf("stage config missing canonical stage %q", canon)
		}
	}
	for i, name := range workflow.CanonicalStages {
		if i+1 < len(workflow.CanonicalStages) {
			g.nextOf[name] = workflow.CanonicalStages[i+1]
		}
	}
	return g, nil
}

// Stages returns the stage order exactly as declared (matches
// workflow.CanonicalStages; kept separate so tests can assert on it).
func (g *Graph) Stages() []workflow.StageName {
	out := make([]workflow.StageName, len(g.order))
	copy(out, g.order)
	return out
}

func (g *Graph) Config(name workflow.StageName) (StageConfig, bool) {
	c, ok := g.byName[name]
	return c, ok
}

// Deps returns the dependency set for a stage name.
func (g *Graph) Deps(name workflow.StageName) []workflow.StageName {
	return g.byName[name].Deps
}

// NextStage returns the stage that follows name in the canonical order, or
// ("", false) if name is the terminal stage. Spec §9 prescribes stepwise
// advancement: only the immediate next stage is considered newly-ready on
// step.completed, never a chain of later stages.
func (g *Graph) NextStage(name workflow.StageName) (workflow.StageName, bool) {
	n, ok := g.nextOf[name]
	return n, ok
}

// Order returns the 1-based step_order for a stage name.
func (g *Graph) Order(name workflow.StageName) int {
	for i, s := range workflow.CanonicalStages {
		if s == name {
			return i + 1
		}
	}
	return 0
}

// StepView is the minimal shape the Dependency Resolver needs per step; it
// decouples resolver logic from the persistence layer's concrete row type.
type StepView struct {
	StepName   workflow.StageName
	StepStatus workflow.StepStatus
}

// Ready reports whether the step named `name` may transition to
// in_progress given the full set of a sample's steps (spec §4.4):
// ready(step) ⇔ step.step_status = pending AND every dependency step is
// completed.
func (g *Graph) Ready(name workflow.StageName, sampleSteps []StepView) bool {
	byName := make(map[workflow.StageName]workflow.StepStatus, len(sampleSteps))
	for _, s := range sampleSteps {
		byName[s.StepName] = s.StepStatus
	}
	if byName[name] != workflow.StepPending {
		return false
	}
	for _, dep := range g.Deps(name) {
		if byName[dep] != workflow.StepCompleted {
			return false
		}
	}
	return true
}

// ReadyStages returns every stage name that is ready given the current
// state of a sample's steps.
func (g *Graph) ReadyStages(sampleSteps []StepView) []workflow.StageName {
	var out []workflow.StageName
	for _, name := range g.order {
		if g.Ready(name, sampleSteps) {
			out = append(out, name)
		}
	}
	return out
}
