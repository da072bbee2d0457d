// Package planner turns a free-text request into a validated node list for the
// workflow graph. The planning work itself is delegated to a remote agent; this
// package owns prompt assembly, response parsing, and schema validation of the
// emitted plan.
package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/maestro-ai/maestro/internal/agent"
	"github.com/maestro-ai/maestro/pkg/schema"
)

// PlanResult is the outcome of one planning call.
type PlanResult struct {
	Nodes         []schema.NodeConfig
	RequiresInput bool
	Question      string // set when the planner needs clarification
}

// Planner converts a request plus conversation history into a node list.
type Planner interface {
	Plan(ctx context.Context, query string, history []schema.Message) (*PlanResult, error)
}

// PlannerFunc adapts a function to the Planner interface.
type PlannerFunc func(ctx context.Context, query string, history []schema.Message) (*PlanResult, error)

func (f PlannerFunc) Plan(ctx context.Context, query string, history []schema.Message) (*PlanResult, error) {
	return f(ctx, query, history)
}

const planPrompt = `Decompose the user request into sub-tasks for remote agents.
Respond with JSON only: {"nodes":[{"id":"...","agent":"...","query":"...","dependsOn":["..."]}]}.
Each id must be unique; dependsOn may only reference ids in the same list.
If the request is too ambiguous to plan, ask the user a clarifying question in plain text instead.`

// AgentPlanner delegates planning to a remote agent through the executor
// boundary and validates whatever comes back before it reaches the graph.
type AgentPlanner struct {
	exec      agent.Executor
	validator *PlanValidator
}

// NewAgentPlanner wires a planner around the given executor handle.
func NewAgentPlanner(exec agent.Executor) (*AgentPlanner, error) {
	v, err := NewPlanValidator()
	if err != nil {
		return nil, err
	}
	return &AgentPlanner{exec: exec, validator: v}, nil
}

// Plan calls the planning agent and parses its response into a node list.
// A clarification request from the agent surfaces as RequiresInput rather
// than an error.
func (p *AgentPlanner) Plan(ctx context.Context, query string, history []schema.Message) (*PlanResult, error) {
	prompt := buildPrompt(query, history)

	res, err := p.exec.Execute(ctx, prompt, "", "")
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodePlanning, "planner call failed: %s", err.Error()).WithCause(err)
	}
	if res.RequiresInput {
		return &PlanResult{RequiresInput: true, Question: res.Content}, nil
	}
	if !res.Success {
		return nil, schema.NewErrorf(schema.ErrCodePlanning, "planner reported failure: %s", res.Content)
	}

	nodes, err := p.validator.ParsePlan([]byte(extractJSON(res.Content)))
	if err != nil {
		// No JSON in the response means the planner answered in prose;
		// treat that as a clarifying question for the caller.
		if strings.TrimSpace(extractJSON(res.Content)) == "" && strings.TrimSpace(res.Content) != "" {
			return &PlanResult{RequiresInput: true, Question: strings.TrimSpace(res.Content)}, nil
		}
		return nil, err
	}
	return &PlanResult{Nodes: nodes}, nil
}

// buildPrompt prepends recent conversation turns so the planner sees context
// from earlier rounds of the same session.
func buildPrompt(query string, history []schema.Message) string {
	var b strings.Builder
	b.WriteString(planPrompt)
	if len(history) > 0 {
		b.WriteString("\n\nConversation so far:\n")
		for _, m := range history {
			text := ""
			for _, part := range m.Parts {
				if part.Kind == schema.PartKindText {
					if text != "" {
						text += " "
					}
					text += part.Text
				}
			}
			if text == "" {
				continue
			}
			fmt.Fprintf(&b, "%s: %s\n", m.Role, text)
		}
	}
	b.WriteString("\nUser request: ")
	b.WriteString(query)
	return b.String()
}

// extractJSON pulls the first JSON object out of a model response, tolerating
// markdown code fences and surrounding prose.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.Index(s, "```"); idx >= 0 {
		rest := s[idx+3:]
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end >= 0 {
			s = strings.TrimSpace(rest[:end])
		}
	}
	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			escaped = inString
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}
