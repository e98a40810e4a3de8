package runner

import "context"

// LLM is the opaque language-model client a Runner calls out to. No
// concrete implementation (OpenAI, Anthropic, local) lives in this
// module; wiring a real client, typically a thin HTTP call rather than
// a vendored SDK, is left to the deployment.
type LLM interface {
	Invoke(ctx context.Context, prompt string) (string, error)
}

// NullLLM always returns an empty response; useful for wiring a Runner
// together before a real client is configured.
type NullLLM struct{}

// Invoke satisfies LLM, returning "" with no error.
func (NullLLM) Invoke(ctx context.Context, prompt string) (string, error) {
	return "", nil
}

// FuncLLM adapts a plain function to the LLM interface, for tests that
// want to script specific responses.
type FuncLLM func(ctx context.Context, prompt string) (string, error)

// Invoke calls the wrapped function.
func (f FuncLLM) Invoke(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}
