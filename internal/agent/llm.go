package agent

import (
	"context"
	"fmt"

	"github.com/TobiSchelling/AIResearch/internal/config"
	"github.com/TobiSchelling/AIResearch/internal/llm"
)

// LLMAgent serves a role by prompting an LLM provider.
type LLMAgent struct {
	role      Role
	provider  llm.Provider
	maxTokens int
}

// NewLLMAgent creates an agent for one of the LLM-backed roles.
func NewLLMAgent(role Role, provider llm.Provider, maxTokens int) *LLMAgent {
	return &LLMAgent{role: role, provider: provider, maxTokens: maxTokens}
}

// Handle renders the role's prompt for input and returns the completion.
func (a *LLMAgent) Handle(ctx context.Context, input any) (string, error) {
	prompt, err := RenderPrompt(a.role, input)
	if err != nil {
		return "", &llm.FatalAgentError{Provider: string(a.role), Message: err.Error()}
	}
	out, err := a.provider.Generate(ctx, prompt, a.maxTokens)
	if err != nil {
		return "", llm.Classify(providerName(a.provider), err)
	}
	return out, nil
}

func providerName(p llm.Provider) string {
	if n, ok := p.(llm.Named); ok {
		return n.Name()
	}
	return "llm"
}

func inputTypeError(role Role, input any) error {
	return fmt.Errorf("role %s cannot handle input of type %T", role, input)
}

// RegisterLLM binds the planner, summarizer, synthesizer and reviewer roles
// to provider with their configured token budgets.
func RegisterLLM(r *Registry, provider llm.Provider, cfg *config.Config) {
	for _, role := range []Role{Planner, Summarizer, Synthesizer, Reviewer} {
		r.Register(role, NewLLMAgent(role, provider, cfg.MaxTokensFor(string(role))))
	}
}
