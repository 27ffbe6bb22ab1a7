package graph

import (
	"testing"

	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/domain"
)

func TestDefaultGraph(t *testing.T) {
	g := Default()

	if len(g.Stages()) != 6 {
		t.Fatalf("expected 6 stages, got %d", len(g.Stages()))
	}

	msg := g.Triggered(TriggerMessage)
	if len(msg) != 1 || msg[0].Name != StageChatReply {
		t.Fatalf("expected chat_reply as the only message stage, got %v", msg)
	}

	st, ok := g.Stage(StageDeepAnswer)
	if !ok {
		t.Fatal("deep_answer not found")
	}
	if len(st.DependsOn) != 1 || st.DependsOn[0] != StageExtractText {
		t.Fatalf("unexpected deep_answer deps: %v", st.DependsOn)
	}
}

func TestNewRejectsInvalidGraphs(t *testing.T) {
	cases := []struct {
		name   string
		stages []Stage
	}{
		{"duplicate", []Stage{
			{Name: "a", Trigger: TriggerImage},
			{Name: "a", Trigger: TriggerImage},
		}},
		{"unknown dep", []Stage{
			{Name: "a", DependsOn: []string{"missing"}, Trigger: TriggerImage},
		}},
		{"cycle", []Stage{
			{Name: "a", DependsOn: []string{"b"}, Trigger: TriggerImage},
			{Name: "b", DependsOn: []string{"a"}, Trigger: TriggerImage},
		}},
		{"empty name", []Stage{
			{Name: "", Trigger: TriggerImage},
		}},
	}
	for _, tc := range cases {
		if _, err := New(tc.stages); err == nil {
			t.Errorf("%s: expected error, got nil", tc.name)
		}
	}
}

func TestImageDependentExcludesChat(t *testing.T) {
	g := Default()
	for _, name := range g.ImageDependent() {
		if name == StageChatReply {
			t.Fatal("chat_reply must not be image-dependent")
		}
	}
	if len(g.ImageDependent()) != 5 {
		t.Fatalf("expected 5 image-dependent stages, got %v", g.ImageDependent())
	}
}

func TestDependentsTransitive(t *testing.T) {
	g := Default()
	deps := g.Dependents(StageExtractText)

	want := map[string]bool{
		StageDeepAnswer:      true,
		StageQuickSummary:    true,
		StageLogicChain:      true,
		StageKnowledgePoints: true,
	}
	if len(deps) != len(want) {
		t.Fatalf("expected %d dependents, got %v", len(want), deps)
	}
	for _, d := range deps {
		if !want[d] {
			t.Errorf("unexpected dependent %q", d)
		}
	}
}

func TestReadyStagesProgression(t *testing.T) {
	g := Default()
	results := make(map[string]domain.StageResult)
	for _, name := range g.ImageDependent() {
		if st, _ := g.Stage(name); st.Trigger == TriggerImage {
			results[name] = domain.StageResult{State: domain.StagePending}
		}
	}

	ready := g.ReadyStages(results)
	if len(ready) != 1 || ready[0] != StageExtractText {
		t.Fatalf("expected only extract_text ready, got %v", ready)
	}

	results[StageExtractText] = domain.StageResult{State: domain.StageDone, Value: "q"}
	ready = g.ReadyStages(results)
	if len(ready) != 2 {
		t.Fatalf("expected deep_answer and quick_summary ready, got %v", ready)
	}

	results[StageDeepAnswer] = domain.StageResult{State: domain.StageDone, Value: "a"}
	ready = g.ReadyStages(results)
	want := map[string]bool{StageQuickSummary: true, StageLogicChain: true, StageKnowledgePoints: true}
	for _, name := range ready {
		if !want[name] {
			t.Errorf("unexpected ready stage %q", name)
		}
	}
}

func TestReadyStagesIgnoresUntriggered(t *testing.T) {
	g := Default()
	// No entries at all: nothing is ready even though extract_text has
	// no dependencies.
	if ready := g.ReadyStages(map[string]domain.StageResult{}); len(ready) != 0 {
		t.Fatalf("expected no ready stages, got %v", ready)
	}
}

func TestIsTerminal(t *testing.T) {
	g := Default()

	if g.IsTerminal(map[string]domain.StageResult{}) {
		t.Fatal("empty result map must not be terminal")
	}
	if g.IsTerminal(map[string]domain.StageResult{
		StageExtractText: {State: domain.StageRunning},
	}) {
		t.Fatal("running stage must not be terminal")
	}
	if !g.IsTerminal(map[string]domain.StageResult{
		StageExtractText: {State: domain.StageDone},
		StageDeepAnswer:  {State: domain.StageFailed},
	}) {
		t.Fatal("all settled must be terminal")
	}
}

func TestDeriveStatus(t *testing.T) {
	g := Default()
	done := domain.StageResult{State: domain.StageDone}

	cases := []struct {
		name     string
		results  map[string]domain.StageResult
		hasImage bool
		want     domain.SessionStatus
	}{
		{"fresh", map[string]domain.StageResult{}, false, domain.SessionStatusCreated},
		{"image only", map[string]domain.StageResult{}, true, domain.SessionStatusImageReceived},
		{"running", map[string]domain.StageResult{
			StageExtractText: {State: domain.StageRunning},
		}, true, domain.SessionStatusProcessing},
		{"failed", map[string]domain.StageResult{
			StageExtractText: {State: domain.StageFailed},
		}, true, domain.SessionStatusFailed},
		{"pipeline complete", map[string]domain.StageResult{
			StageExtractText:     done,
			StageDeepAnswer:      done,
			StageQuickSummary:    done,
			StageLogicChain:      done,
			StageKnowledgePoints: done,
		}, true, domain.SessionStatusAwaitingInput},
		{"chat only", map[string]domain.StageResult{
			StageChatReply: done,
		}, false, domain.SessionStatusAwaitingInput},
	}
	for _, tc := range cases {
		if got := g.DeriveStatus(tc.results, tc.hasImage); got != tc.want {
			t.Errorf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}
