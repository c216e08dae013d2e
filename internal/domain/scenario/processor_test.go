package scenario

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/dialogforge/dialogforge/internal/domain/entity"
	apperrors "github.com/dialogforge/dialogforge/pkg/errors"
)

func testProcessor(t *testing.T) *Processor {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	return NewProcessor(NewActionRegistry(logger), logger)
}

func graphFromJSON(t *testing.T, raw string) *entity.Graph {
	t.Helper()
	g, err := entity.ParseGraph([]byte(raw))
	if err != nil {
		t.Fatalf("parse graph: %v", err)
	}
	return g
}

// === Graph validation ===

func TestValidateGraph_Valid(t *testing.T) {
	g := graphFromJSON(t, `{
		"version": "1.0",
		"start_step": "welcome",
		"variables": {"choice": {"type": "string"}},
		"steps": {
			"welcome": {
				"type": "message",
				"message": {"text": "Hello"},
				"buttons": [{"text": "Yes", "value": "yes"}, {"text": "No", "value": "no"}],
				"expected_input": {"type": "button", "variable": "choice"},
				"next_step": {"conditions": [{"if": "choice == 'yes'", "then": "done"}], "else": "done"}
			},
			"done": {"type": "message", "message": {"text": "Bye"}}
		}
	}`)

	if err := testProcessor(t).ValidateGraph(g); err != nil {
		t.Fatalf("expected valid graph, got %v", err)
	}
}

func TestValidateGraph_Rejections(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"missing start step", `{
			"version": "1.0", "start_step": "nope",
			"steps": {"a": {"type": "message", "message": {"text": "x"}}}
		}`},
		{"dangling next", `{
			"version": "1.0", "start_step": "a",
			"steps": {"a": {"type": "message", "message": {"text": "x"}, "next_step": "ghost"}}
		}`},
		{"malformed condition", `{
			"version": "1.0", "start_step": "a",
			"steps": {
				"a": {"type": "message", "message": {"text": "x"},
					"next_step": {"conditions": [{"if": "x ===", "then": "b"}]}},
				"b": {"type": "message", "message": {"text": "y"}}
			}
		}`},
		{"unknown action", `{
			"version": "1.0", "start_step": "a",
			"steps": {"a": {"type": "action", "action": "launch_rockets"}}
		}`},
		{"undeclared input variable", `{
			"version": "1.0", "start_step": "a",
			"steps": {"a": {"type": "message", "message": {"text": "x"},
				"expected_input": {"type": "text", "variable": "ghost"}}}
		}`},
		{"button input without buttons", `{
			"version": "1.0", "start_step": "a",
			"variables": {"c": {"type": "string"}},
			"steps": {"a": {"type": "message", "message": {"text": "x"},
				"expected_input": {"type": "button", "variable": "c"}}}
		}`},
		{"duplicate button values", `{
			"version": "1.0", "start_step": "a",
			"steps": {"a": {"type": "message", "message": {"text": "x"},
				"buttons": [{"text": "A", "value": "v"}, {"text": "B", "value": "v"}]}}
		}`},
	}

	p := testProcessor(t)
	for _, tc := range cases {
		g := graphFromJSON(t, tc.raw)
		if err := p.ValidateGraph(g); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

// === Step evaluation ===

func TestEvaluateStep_MessageWithSubstitution(t *testing.T) {
	g := graphFromJSON(t, `{
		"version": "1.0", "start_step": "greet",
		"variables": {"user_name": {"type": "string", "default": ""}},
		"steps": {"greet": {"type": "message", "message": {"text": "Hello {{user_name}}"}}}
	}`)

	res, err := testProcessor(t).EvaluateStep(context.Background(), g, "greet", map[string]any{"user_name": "Ada"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Rendered == nil || res.Rendered.Text != "Hello Ada" {
		t.Fatalf("rendered = %+v", res.Rendered)
	}
	if res.AwaitsInput {
		t.Error("plain message should not await input")
	}
	if res.NextStepID != "" {
		t.Errorf("terminal step resolved next %q", res.NextStepID)
	}
}

func TestEvaluateStep_AwaitsInput(t *testing.T) {
	g := graphFromJSON(t, `{
		"version": "1.0", "start_step": "ask",
		"variables": {"name": {"type": "string"}},
		"steps": {
			"ask": {"type": "message", "message": {"text": "Name?"},
				"expected_input": {"type": "text", "variable": "name"},
				"next_step": "done"},
			"done": {"type": "message", "message": {"text": "ok"}}
		}
	}`)

	res, err := testProcessor(t).EvaluateStep(context.Background(), g, "ask", map[string]any{})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.AwaitsInput {
		t.Fatal("expected AwaitsInput")
	}
	if res.NextStepID != "" {
		t.Error("next must not resolve while awaiting input")
	}
	if res.ExpectedInput == nil || res.ExpectedInput.Variable != "name" {
		t.Errorf("expected input spec carried through, got %+v", res.ExpectedInput)
	}
}

func TestEvaluateStep_ConditionalVariant(t *testing.T) {
	g := graphFromJSON(t, `{
		"version": "1.0", "start_step": "verdict",
		"variables": {"age": {"type": "number"}},
		"steps": {"verdict": {"type": "conditional_message", "variants": [
			{"if": "age >= 18", "message": {"text": "adult"}},
			{"message": {"text": "minor"}}
		]}}
	}`)

	p := testProcessor(t)

	res, err := p.EvaluateStep(context.Background(), g, "verdict", map[string]any{"age": "21"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Rendered.Text != "adult" {
		t.Errorf("got %q", res.Rendered.Text)
	}

	res, err = p.EvaluateStep(context.Background(), g, "verdict", map[string]any{"age": "17"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Rendered.Text != "minor" {
		t.Errorf("fallback variant not chosen, got %q", res.Rendered.Text)
	}
}

func TestEvaluateStep_ActionUpdatesVisibleToNext(t *testing.T) {
	g := graphFromJSON(t, `{
		"version": "1.0", "start_step": "mark",
		"variables": {"flag": {"type": "string"}},
		"steps": {
			"mark": {"type": "action", "action": "set_variable",
				"params": {"flag": "on"},
				"next_step": {"conditions": [{"if": "flag == 'on'", "then": "yes"}], "else": "no"}},
			"yes": {"type": "message", "message": {"text": "yes"}},
			"no": {"type": "message", "message": {"text": "no"}}
		}
	}`)

	res, err := testProcessor(t).EvaluateStep(context.Background(), g, "mark", map[string]any{})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.VariableUpdates["flag"] != "on" {
		t.Errorf("updates = %v", res.VariableUpdates)
	}
	if res.NextStepID != "yes" {
		t.Errorf("action updates must be visible to edge conditions, got next %q", res.NextStepID)
	}
}

func TestEvaluateStep_UnknownStepIsFatal(t *testing.T) {
	g := graphFromJSON(t, `{
		"version": "1.0", "start_step": "a",
		"steps": {"a": {"type": "message", "message": {"text": "x"}}}
	}`)

	_, err := testProcessor(t).EvaluateStep(context.Background(), g, "ghost", map[string]any{})
	if !apperrors.IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
}

func TestEvaluateStep_ActionFailureIsFatal(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	registry := NewActionRegistry(logger)
	registry.Register("explode", func(ctx context.Context, params, data map[string]any) (map[string]any, error) {
		return nil, errors.New("boom")
	})
	p := NewProcessor(registry, logger)

	g := graphFromJSON(t, `{
		"version": "1.0", "start_step": "a",
		"steps": {"a": {"type": "action", "action": "explode"}}
	}`)

	_, err := p.EvaluateStep(context.Background(), g, "a", map[string]any{})
	if !apperrors.IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
}

// === Next-step resolution ===

func TestResolveNext_ConditionErrorCountsFalse(t *testing.T) {
	g := graphFromJSON(t, `{
		"version": "1.0", "start_step": "a",
		"steps": {
			"a": {"type": "message", "message": {"text": "x"},
				"next_step": {"conditions": [{"if": "missing == 'x'", "then": "b"}], "else": "c"}},
			"b": {"type": "message", "message": {"text": "b"}},
			"c": {"type": "message", "message": {"text": "c"}}
		}
	}`)

	next := testProcessor(t).ResolveNext(g, g.StepByID("a"), map[string]any{})
	if next != "c" {
		t.Errorf("failed condition must fall through to else, got %q", next)
	}
}

func TestResolveNext_NoMatchNoElseEnds(t *testing.T) {
	g := graphFromJSON(t, `{
		"version": "1.0", "start_step": "a",
		"steps": {
			"a": {"type": "message", "message": {"text": "x"},
				"next_step": {"conditions": [{"if": "exists nothing", "then": "b"}]}},
			"b": {"type": "message", "message": {"text": "b"}}
		}
	}`)

	next := testProcessor(t).ResolveNext(g, g.StepByID("a"), map[string]any{})
	if next != "" {
		t.Errorf("expected conversation end, got %q", next)
	}
}
