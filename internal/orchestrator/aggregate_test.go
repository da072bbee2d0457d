package orchestrator

import (
	"strings"
	"testing"

	"github.com/maestro-ai/maestro/pkg/schema"
)

func TestExtractStrings(t *testing.T) {
	data := map[string]any{
		"flight": map[string]any{"carrier": "TAP", "price": 123.0},
		"notes":  []any{"window seat", "no meal"},
	}
	got := extractStrings(data)
	for _, want := range []string{"TAP", "window seat", "no meal"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in %q", want, got)
		}
	}
	if extractStrings(nil) != "" {
		t.Fatal("nil payload should extract nothing")
	}
	if extractStrings(map[string]any{"n": 42.0}) != "" {
		t.Fatal("numeric-only payload should extract nothing")
	}
}

func TestDataOfMergesDataParts(t *testing.T) {
	artifact := schema.Artifact{
		Parts: []schema.Part{
			schema.TextPart("hello"),
			schema.DataPart(map[string]any{"a": 1}),
			schema.DataPart(map[string]any{"b": 2}),
		},
	}
	data := dataOf(artifact)
	if len(data) != 2 || data["a"] != 1 || data["b"] != 2 {
		t.Fatalf("unexpected merge result %+v", data)
	}
	if dataOf(schema.Artifact{Parts: []schema.Part{schema.TextPart("x")}}) != nil {
		t.Fatal("text-only artifact should have no data")
	}
}
