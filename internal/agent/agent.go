// Package agent routes role-tagged requests to the capability serving each
// role: an LLM for planning, summarizing, synthesizing and reviewing, and
// local tools for searching and scraping.
package agent

import (
	"context"
	"fmt"
	"sort"

	"github.com/TobiSchelling/AIResearch/internal/llm"
)

// Role names the part an agent plays in a session.
type Role string

const (
	Planner     Role = "planner"
	Searcher    Role = "searcher"
	Scraper     Role = "scraper"
	Summarizer  Role = "summarizer"
	Synthesizer Role = "synthesizer"
	Reviewer    Role = "reviewer"
)

// Roles lists every role in pipeline order.
var Roles = []Role{Planner, Searcher, Scraper, Summarizer, Synthesizer, Reviewer}

// Proxy asks the agent playing role to handle input and returns its raw
// text. Errors follow the llm error taxonomy.
type Proxy interface {
	Invoke(ctx context.Context, role Role, input any) (string, error)
}

// Agent serves a single role.
type Agent interface {
	Handle(ctx context.Context, input any) (string, error)
}

// AgentFunc adapts a function to Agent.
type AgentFunc func(ctx context.Context, input any) (string, error)

func (f AgentFunc) Handle(ctx context.Context, input any) (string, error) { return f(ctx, input) }

// Registry is a Proxy that dispatches to the agent registered for a role.
type Registry struct {
	agents map[Role]Agent
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[Role]Agent)}
}

// Register binds a to role, replacing any earlier binding.
func (r *Registry) Register(role Role, a Agent) {
	r.agents[role] = a
}

// Has reports whether role has an agent.
func (r *Registry) Has(role Role) bool {
	_, ok := r.agents[role]
	return ok
}

// Registered returns the bound roles, sorted.
func (r *Registry) Registered() []Role {
	out := make([]Role, 0, len(r.agents))
	for role := range r.agents {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Invoke implements Proxy.
func (r *Registry) Invoke(ctx context.Context, role Role, input any) (string, error) {
	a, ok := r.agents[role]
	if !ok {
		return "", &llm.FatalAgentError{Provider: "agent", Message: fmt.Sprintf("no agent registered for role %q", role)}
	}
	return a.Handle(ctx, input)
}

// Override returns a Proxy that sends role to a and every other role to next.
func Override(next Proxy, role Role, a Agent) Proxy {
	return &override{next: next, role: role, agent: a}
}

type override struct {
	next  Proxy
	role  Role
	agent Agent
}

func (o *override) Invoke(ctx context.Context, role Role, input any) (string, error) {
	if role == o.role {
		return o.agent.Handle(ctx, input)
	}
	return o.next.Invoke(ctx, role, input)
}
