// Package graph describes the stage dependency graph of a tutoring
// pipeline: which stages exist, what each one depends on, which model
// role it calls, and what triggers it. The graph itself is static; the
// runtime frontier is computed from a session's stage result map.
package graph

import (
	"fmt"
	"sort"

	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/domain"
)

// Trigger identifies what kind of client input starts a stage's cycle.
type Trigger string

const (
	TriggerImage   Trigger = "image"
	TriggerMessage Trigger = "message"
)

// Stage is one node in the pipeline graph.
type Stage struct {
	Name      string
	Role      domain.Role
	DependsOn []string
	Trigger   Trigger
}

// Graph is a validated, acyclic stage dependency graph.
type Graph struct {
	stages map[string]Stage
	order  []string // stable topological order
}

// Canonical stage names for the default tutoring pipeline.
const (
	StageExtractText     = "extract_text"
	StageDeepAnswer      = "deep_answer"
	StageQuickSummary    = "quick_summary"
	StageLogicChain      = "logic_chain"
	StageKnowledgePoints = "knowledge_points"
	StageChatReply       = "chat_reply"
)

// Default returns the standard tutoring pipeline: vision extraction
// feeds a deep answer and a quick exam-point summary in parallel, then
// logic-chain and knowledge extraction fan out from the answer. Chat
// replies are message-triggered and independent of the image pipeline.
func Default() *Graph {
	g, err := New([]Stage{
		{Name: StageExtractText, Role: domain.RoleVision, Trigger: TriggerImage},
		{Name: StageDeepAnswer, Role: domain.RoleDeepReasoning, DependsOn: []string{StageExtractText}, Trigger: TriggerImage},
		{Name: StageQuickSummary, Role: domain.RoleQuickSummary, DependsOn: []string{StageExtractText}, Trigger: TriggerImage},
		{Name: StageLogicChain, Role: domain.RoleQuickSummary, DependsOn: []string{StageDeepAnswer}, Trigger: TriggerImage},
		{Name: StageKnowledgePoints, Role: domain.RoleQuickSummary, DependsOn: []string{StageDeepAnswer}, Trigger: TriggerImage},
		{Name: StageChatReply, Role: domain.RoleDeepReasoning, Trigger: TriggerMessage},
	})
	if err != nil {
		panic(err) // static graph, cannot fail
	}
	return g
}

// New validates the stage set and returns a Graph. It rejects duplicate
// stage names, dependencies on unknown stages, and cycles.
func New(stages []Stage) (*Graph, error) {
	byName := make(map[string]Stage, len(stages))
	for _, s := range stages {
		if s.Name == "" {
			return nil, fmt.Errorf("stage with empty name")
		}
		if _, dup := byName[s.Name]; dup {
			return nil, fmt.Errorf("duplicate stage %q", s.Name)
		}
		byName[s.Name] = s
	}
	for _, s := range stages {
		for _, dep := range s.DependsOn {
			if _, ok := byName[dep]; !ok {
				return nil, fmt.Errorf("stage %q depends on unknown stage %q", s.Name, dep)
			}
		}
	}

	order, err := topoSort(byName)
	if err != nil {
		return nil, err
	}
	return &Graph{stages: byName, order: order}, nil
}

func topoSort(stages map[string]Stage) ([]string, error) {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(stages))
	order := make([]string, 0, len(stages))

	names := make([]string, 0, len(stages))
	for name := range stages {
		names = append(names, name)
	}
	sort.Strings(names)

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("dependency cycle through stage %q", name)
		}
		state[name] = visiting
		deps := append([]string(nil), stages[name].DependsOn...)
		sort.Strings(deps)
		for _, dep := range deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[name] = done
		order = append(order, name)
		return nil
	}
	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Stage returns the named stage.
func (g *Graph) Stage(name string) (Stage, bool) {
	s, ok := g.stages[name]
	return s, ok
}

// Stages returns all stages in a stable topological order.
func (g *Graph) Stages() []Stage {
	out := make([]Stage, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.stages[name])
	}
	return out
}

// Triggered returns the stages started by the given trigger.
func (g *Graph) Triggered(t Trigger) []Stage {
	var out []Stage
	for _, name := range g.order {
		if g.stages[name].Trigger == t {
			out = append(out, g.stages[name])
		}
	}
	return out
}

// ImageDependent returns the names of all stages whose output depends,
// directly or transitively, on image content: vision stages and
// everything downstream of one. These are the results a re-upload
// discards.
func (g *Graph) ImageDependent() []string {
	tainted := make(map[string]bool)
	for _, name := range g.order { // topological order: deps settle first
		s := g.stages[name]
		if s.Role == domain.RoleVision || s.Trigger == TriggerImage {
			tainted[name] = true
			continue
		}
		for _, dep := range s.DependsOn {
			if tainted[dep] {
				tainted[name] = true
				break
			}
		}
	}
	names := make([]string, 0, len(tainted))
	for _, name := range g.order {
		if tainted[name] {
			names = append(names, name)
		}
	}
	return names
}

// Dependents returns the names of all stages that transitively depend
// on the given stage. Used to propagate failure without invoking them.
func (g *Graph) Dependents(name string) []string {
	affected := map[string]bool{name: true}
	for _, n := range g.order {
		for _, dep := range g.stages[n].DependsOn {
			if affected[dep] {
				affected[n] = true
				break
			}
		}
	}
	var out []string
	for _, n := range g.order {
		if n != name && affected[n] {
			out = append(out, n)
		}
	}
	return out
}

// ReadyStages returns the stages that are part of an active cycle
// (present in the result map as pending) and whose dependencies have
// all reached done. Stages with no entry in the map have not been
// triggered and are never ready.
func (g *Graph) ReadyStages(results map[string]domain.StageResult) []string {
	var ready []string
	for _, name := range g.order {
		r, ok := results[name]
		if !ok || r.State != domain.StagePending {
			continue
		}
		ok = true
		for _, dep := range g.stages[name].DependsOn {
			if results[dep].State != domain.StageDone {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, name)
		}
	}
	return ready
}

// IsTerminal reports whether the current cycle can make no further
// progress: every triggered stage is done or failed. Failure
// propagation guarantees a stage downstream of a failed one is marked
// failed rather than left pending forever.
func (g *Graph) IsTerminal(results map[string]domain.StageResult) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if !r.Settled() {
			return false
		}
	}
	return true
}

// DeriveStatus computes the session status from the stage results and
// image presence alone.
func (g *Graph) DeriveStatus(results map[string]domain.StageResult, hasImage bool) domain.SessionStatus {
	if len(results) == 0 {
		if hasImage {
			return domain.SessionStatusImageReceived
		}
		return domain.SessionStatusCreated
	}
	failed := false
	for _, r := range results {
		switch r.State {
		case domain.StagePending, domain.StageRunning:
			return domain.SessionStatusProcessing
		case domain.StageFailed:
			failed = true
		}
	}
	if failed {
		return domain.SessionStatusFailed
	}

	// Everything triggered so far is done. The pipeline is COMPLETED
	// once every image stage has run; if the graph accepts chat turns
	// the session stays open for input instead.
	for _, name := range g.ImageDependent() {
		if results[name].State != domain.StageDone {
			return domain.SessionStatusAwaitingInput
		}
	}
	if len(g.Triggered(TriggerMessage)) > 0 {
		return domain.SessionStatusAwaitingInput
	}
	return domain.SessionStatusCompleted
}
