package entity

import (
	"encoding/json"
	"testing"
)

const exampleGraph = `{
	"version": "1.0",
	"start_step": "welcome",
	"variables": {
		"user_name": {"type": "string"},
		"age": {"type": "number", "default": 0}
	},
	"steps": {
		"welcome": {
			"type": "message",
			"message": {"text": "Hi! What is your name?"},
			"expected_input": {"type": "text", "variable": "user_name", "min_length": 1, "max_length": 64},
			"next_step": "ask_age"
		},
		"ask_age": {
			"type": "message",
			"message": {"text": "Nice to meet you, {{user_name}}. How old are you?"},
			"expected_input": {"type": "number", "variable": "age", "min_value": 0, "max_value": 120},
			"next_step": {
				"conditions": [{"if": "age >= 18", "then": "adult"}],
				"else": "minor"
			}
		},
		"adult": {
			"type": "message",
			"message": {"text": "Welcome aboard!"},
			"media": [{"type": "image", "description": "Welcome banner", "file_id": "banner"}]
		},
		"minor": {"type": "message", "message": {"text": "Sorry, adults only."}}
	}
}`

func TestParseGraph(t *testing.T) {
	g, err := ParseGraph([]byte(exampleGraph))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if g.StartStep != "welcome" {
		t.Errorf("start step = %q", g.StartStep)
	}
	if len(g.Steps) != 4 {
		t.Errorf("steps = %d", len(g.Steps))
	}
	if g.Variables["age"].Type != "number" {
		t.Errorf("age variable = %+v", g.Variables["age"])
	}

	welcome := g.StepByID("welcome")
	if welcome == nil || welcome.Type != StepMessage {
		t.Fatalf("welcome = %+v", welcome)
	}
	if welcome.ExpectedInput == nil || welcome.ExpectedInput.Kind != InputText {
		t.Errorf("welcome input = %+v", welcome.ExpectedInput)
	}
	if *welcome.ExpectedInput.MaxLength != 64 {
		t.Errorf("max length = %v", welcome.ExpectedInput.MaxLength)
	}

	adult := g.StepByID("adult")
	if len(adult.Media) != 1 || adult.Media[0].FileID != "banner" {
		t.Errorf("adult media = %+v", adult.Media)
	}
	if !adult.IsTerminal() {
		t.Error("adult has no next_step and must be terminal")
	}
}

func TestParseGraph_Rejects(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `{{`},
		{"no start step", `{"version": "1.0", "steps": {"a": {"type": "message"}}}`},
		{"no steps", `{"version": "1.0", "start_step": "a"}`},
	}
	for _, tc := range cases {
		if _, err := ParseGraph([]byte(tc.raw)); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestNextRef_LiteralForm(t *testing.T) {
	var ref NextRef
	if err := json.Unmarshal([]byte(`"done"`), &ref); err != nil {
		t.Fatalf("unmarshal literal: %v", err)
	}
	if !ref.IsLiteral() || ref.StepID != "done" {
		t.Fatalf("ref = %+v", ref)
	}

	out, err := json.Marshal(ref)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `"done"` {
		t.Errorf("literal form did not round-trip: %s", out)
	}
}

func TestNextRef_ConditionalForm(t *testing.T) {
	raw := `{"conditions": [{"if": "x == 1", "then": "a"}], "else": "b"}`
	var ref NextRef
	if err := json.Unmarshal([]byte(raw), &ref); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ref.IsLiteral() {
		t.Fatal("conditional ref must not be literal")
	}
	if len(ref.Conditions) != 1 || ref.Conditions[0].Then != "a" || ref.Else != "b" {
		t.Fatalf("ref = %+v", ref)
	}

	out, err := json.Marshal(ref)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back NextRef
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatalf("re-unmarshal: %v", err)
	}
	if len(back.Conditions) != 1 || back.Else != "b" {
		t.Errorf("conditional form did not round-trip: %s", out)
	}
}

func TestNextRef_RejectsOtherShapes(t *testing.T) {
	var ref NextRef
	if err := json.Unmarshal([]byte(`42`), &ref); err == nil {
		t.Error("numeric next_step must be rejected")
	}
}

func TestDialogState_ResetTo(t *testing.T) {
	g, err := ParseGraph([]byte(exampleGraph))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	sc := NewScenario("bot1", 1, g)

	state := NewDialogState("bot1", "telegram", "chat1", sc)
	state.SetVariable("user_name", "Ada")
	state.CurrentStepID = "ask_age"

	sc2 := NewScenario("bot1", 2, g)
	state.ResetTo(sc2)

	if state.ScenarioID != sc2.ID || state.ScenarioVersion != 2 {
		t.Errorf("not rebound: %+v", state)
	}
	if state.CurrentStepID != "welcome" {
		t.Errorf("current step = %q", state.CurrentStepID)
	}
	if len(state.CollectedData) != 0 {
		t.Errorf("collected data survived: %v", state.CollectedData)
	}
}
