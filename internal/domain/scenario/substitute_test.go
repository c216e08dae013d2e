package scenario

import (
	"testing"

	"github.com/dialogforge/dialogforge/internal/domain/entity"
)

func TestSubstitute_Basic(t *testing.T) {
	out, missing := Substitute("Hello {{user_name}}!", map[string]any{"user_name": "Ada"}, nil)
	if out != "Hello Ada!" {
		t.Errorf("got %q", out)
	}
	if len(missing) != 0 {
		t.Errorf("unexpected missing: %v", missing)
	}
}

func TestSubstitute_DefaultFallback(t *testing.T) {
	vars := map[string]entity.VariableMeta{
		"greeting": {Type: "string", Default: "friend"},
	}
	out, missing := Substitute("Hi {{greeting}}", map[string]any{}, vars)
	if out != "Hi friend" {
		t.Errorf("got %q", out)
	}
	if len(missing) != 0 {
		t.Errorf("default should not count as missing: %v", missing)
	}
}

func TestSubstitute_MissingResolvesEmpty(t *testing.T) {
	out, missing := Substitute("[{{nope}}]", map[string]any{}, nil)
	if out != "[]" {
		t.Errorf("got %q", out)
	}
	if len(missing) != 1 || missing[0] != "nope" {
		t.Errorf("missing = %v", missing)
	}
}

func TestSubstitute_Escape(t *testing.T) {
	out, _ := Substitute("literal {{{{name}} here", map[string]any{"name": "x"}, nil)
	if out != "literal {{name}} here" {
		t.Errorf("got %q", out)
	}
}

func TestSubstitute_SinglePassNonRecursive(t *testing.T) {
	// A substituted value containing placeholder syntax must not be
	// re-expanded.
	data := map[string]any{"a": "{{b}}", "b": "inner"}
	out, _ := Substitute("{{a}}", data, nil)
	if out != "{{b}}" {
		t.Errorf("got %q, substitution recursed", out)
	}
}

func TestSubstitute_NumberFormatting(t *testing.T) {
	data := map[string]any{"age": float64(18), "score": 4.5}
	out, _ := Substitute("{{age}} / {{score}}", data, nil)
	if out != "18 / 4.5" {
		t.Errorf("got %q", out)
	}
}

func TestSubstitute_UnclosedPlaceholder(t *testing.T) {
	out, _ := Substitute("broken {{name", map[string]any{"name": "x"}, nil)
	if out != "broken {{name" {
		t.Errorf("got %q", out)
	}
}
