package runner

import (
	"context"
	"strings"
	"testing"

	"github.com/fleetctl/orchestrator/internal/domain"
	"github.com/fleetctl/orchestrator/internal/knowledge"
)

func TestRegistryBuildsRegisteredRunner(t *testing.T) {
	reg := NewRegistry()
	reg.Register(domain.AgentTypeResearch, NewLLMRunnerFactory("research assistant", NullLLM{}, knowledge.NullStore{}))

	r, err := reg.Build(domain.AgentTypeResearch, &domain.Agent{Type: domain.AgentTypeResearch})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if r.SystemPrompt() == "" {
		t.Fatal("expected a non-empty system prompt")
	}
}

func TestRegistryRejectsUnregisteredType(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Build(domain.AgentTypeWorker, &domain.Agent{}); err == nil {
		t.Fatal("expected an error for an unregistered agent type")
	}
}

func TestLLMRunnerExecuteUsesConfiguredClient(t *testing.T) {
	called := false
	llm := FuncLLM(func(ctx context.Context, prompt string) (string, error) {
		called = true
		return "done", nil
	})
	r := NewLLMRunnerFactory("worker", llm, knowledge.NullStore{})(&domain.Agent{})

	out, err := r.Execute(context.Background(), Input{TaskID: "t1", AgentID: "a1", Description: "do something"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !called {
		t.Fatal("expected the llm to be invoked")
	}
	if out.Data["result"] != "done" {
		t.Fatalf("expected result %q, got %v", "done", out.Data["result"])
	}
}

func TestLLMRunnerExecuteIncludesKnowledgeContext(t *testing.T) {
	var seenPrompt string
	llm := FuncLLM(func(ctx context.Context, prompt string) (string, error) {
		seenPrompt = prompt
		return "done", nil
	})
	store := fakeKnowledgeStore{entries: []knowledge.Entry{{Content: "prior run failed on malformed input"}}}
	r := NewLLMRunnerFactory("worker", llm, store)(&domain.Agent{})

	if _, err := r.Execute(context.Background(), Input{TaskID: "t1", AgentID: "a1", Description: "do something"}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(seenPrompt, "prior run failed on malformed input") {
		t.Fatalf("expected the prompt to include the knowledge entry, got %q", seenPrompt)
	}
}

type fakeKnowledgeStore struct {
	entries []knowledge.Entry
}

func (f fakeKnowledgeStore) Put(ctx context.Context, entry knowledge.Entry) error { return nil }
func (f fakeKnowledgeStore) Search(ctx context.Context, agentID, kind string, limit int) ([]knowledge.Entry, error) {
	return f.entries, nil
}
func (f fakeKnowledgeStore) Forget(ctx context.Context, id string) error { return nil }
