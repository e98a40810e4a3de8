package runner

import (
	"context"
	"fmt"
	"strings"

	"github.com/fleetctl/orchestrator/internal/domain"
	"github.com/fleetctl/orchestrator/internal/knowledge"
)

// LLMRunner is the default Runner: it looks up whatever knowledge
// entries the agent has accumulated, renders the task description into
// a prompt prefixed by a role-specific system prompt, invokes the
// configured LLM, and returns the raw text under the "result" key.
// Agent kinds that need structured tool use or multi-step planning
// register their own Runner instead; this one covers the common
// single-shot case.
type LLMRunner struct {
	role  string
	llm   LLM
	store knowledge.Store
}

// NewLLMRunnerFactory builds a Factory that creates an LLMRunner
// addressing agents as role (e.g. "research assistant", "code
// reviewer"), all sharing the same llm client and knowledge store. A
// nil store is treated as knowledge.NullStore{}.
func NewLLMRunnerFactory(role string, llm LLM, store knowledge.Store) Factory {
	if store == nil {
		store = knowledge.NullStore{}
	}
	return func(agent *domain.Agent) Runner {
		return &LLMRunner{role: role, llm: llm, store: store}
	}
}

// SystemPrompt describes the runner's role to the model.
func (r *LLMRunner) SystemPrompt() string {
	return fmt.Sprintf("You are a %s. Work autonomously and report a concise result.", r.role)
}

// Execute sends the task description, augmented with any relevant
// knowledge entries recorded against the agent, to the LLM and wraps
// its response as the task's output.
func (r *LLMRunner) Execute(ctx context.Context, input Input) (Output, error) {
	prompt := fmt.Sprintf("%s\n\nTask: %s", r.SystemPrompt(), input.Description)
	if entries, err := r.store.Search(ctx, input.AgentID, "context", 5); err == nil && len(entries) > 0 {
		var notes strings.Builder
		for _, e := range entries {
			notes.WriteString("- ")
			notes.WriteString(e.Content)
			notes.WriteString("\n")
		}
		prompt = fmt.Sprintf("%s\n\nRelevant context:\n%s", prompt, notes.String())
	}

	text, err := r.llm.Invoke(ctx, prompt)
	if err != nil {
		return Output{}, fmt.Errorf("invoke llm for task %s: %w", input.TaskID, err)
	}
	return Output{Data: map[string]interface{}{"result": text}}, nil
}
