package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/itchyny/gojq"

	"github.com/maestro-ai/maestro/pkg/schema"
)

// stringsQuery pulls every string value out of a structured payload, for
// artifacts that carry data parts without presentable text.
var stringsQuery = mustParseQuery(`[.. | strings] | join(" ")`)

func mustParseQuery(src string) *gojq.Query {
	q, err := gojq.Parse(src)
	if err != nil {
		panic(fmt.Sprintf("parse gojq query %q: %v", src, err))
	}
	return q
}

// aggregate synthesizes the final artifact from the per-node results. When a
// summarizer agent is configured it gets the first word; any summarizer
// problem falls back to the local aggregation rather than failing the request.
func (o *Orchestrator) aggregate(ctx context.Context, r *run) schema.Artifact {
	artifacts := r.graph.CompletedArtifacts()
	failed := r.graph.FailedNodes()

	if o.config.SummarizerAgent != "" {
		if summary, err := o.summarize(ctx, r, artifacts); err == nil {
			return newArtifact("summary", "", summary, nil)
		} else {
			o.logger.WarnContext(ctx, "summarizer unavailable, using local aggregation", "error", err)
		}
	}

	var b strings.Builder
	for i, a := range artifacts {
		text := a.Text()
		if text == "" {
			text = extractStrings(dataOf(a))
		}
		if text == "" {
			continue
		}
		if i > 0 && b.Len() > 0 {
			b.WriteString("\n\n")
		}
		if a.Name != "" {
			fmt.Fprintf(&b, "[%s] ", a.Name)
		}
		b.WriteString(text)
	}
	for _, node := range failed {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(nodeFailureText(node))
	}
	if b.Len() == 0 {
		b.WriteString("no results produced")
	}
	return newArtifact("summary", "", b.String(), nil)
}

// summarize asks the configured summarizer agent for the final response.
func (o *Orchestrator) summarize(ctx context.Context, r *run, artifacts []schema.Artifact) (string, error) {
	exec, err := o.agents.Resolve(ctx, o.config.SummarizerAgent)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("Combine the following results into one coherent response for the user.\n")
	for _, a := range artifacts {
		text := a.Text()
		if text == "" {
			text = extractStrings(dataOf(a))
		}
		fmt.Fprintf(&b, "\n%s:\n%s\n", a.Name, text)
	}
	for _, node := range r.graph.FailedNodes() {
		fmt.Fprintf(&b, "\n%s\n", nodeFailureText(node))
	}

	res, err := exec.Execute(ctx, b.String(), r.sess.ContextID, r.task.ID)
	if err != nil {
		return "", err
	}
	if !res.Success || res.Content == "" {
		return "", schema.NewError(schema.ErrCodeExecution, "summarizer returned no content")
	}
	return res.Content, nil
}

// dataOf merges the data parts of an artifact.
func dataOf(a schema.Artifact) map[string]any {
	var merged map[string]any
	for _, p := range a.Parts {
		if p.Kind != schema.PartKindData || len(p.Data) == 0 {
			continue
		}
		if merged == nil {
			merged = make(map[string]any)
		}
		for k, v := range p.Data {
			merged[k] = v
		}
	}
	return merged
}

// extractStrings runs the strings query over a structured payload.
func extractStrings(data map[string]any) string {
	if len(data) == 0 {
		return ""
	}
	iter := stringsQuery.Run(map[string]any(data))
	v, ok := iter.Next()
	if !ok {
		return ""
	}
	if _, isErr := v.(error); isErr {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}
