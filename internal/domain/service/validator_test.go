package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dialogforge/dialogforge/internal/domain/entity"
	"github.com/dialogforge/dialogforge/internal/domain/platform"
	"github.com/dialogforge/dialogforge/internal/infrastructure/sidestore"
	apperrors "github.com/dialogforge/dialogforge/pkg/errors"
)

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

func redisValidator(t *testing.T, cfg ValidatorConfig) (*Validator, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := sidestore.NewWithClient(client, zap.NewNop())
	return NewValidator(store, cfg, zap.NewNop()), mr
}

// === CheckEvent ===

func TestCheckEvent_DuplicateClick(t *testing.T) {
	v, _ := redisValidator(t, ValidatorConfig{
		DuplicateWindow: time.Second,
		RateTokens:      100,
	})
	ev := platform.Event{Kind: platform.EventButton, Value: "yes"}

	if err := v.CheckEvent(context.Background(), "bot1", "chat1", "step1", ev); err != nil {
		t.Fatalf("first click: %v", err)
	}
	err := v.CheckEvent(context.Background(), "bot1", "chat1", "step1", ev)
	if apperrors.CodeOf(err) != apperrors.CodeDuplicate {
		t.Fatalf("second click: want CodeDuplicate, got %v", err)
	}
}

func TestCheckEvent_DuplicateWindowExpires(t *testing.T) {
	v, mr := redisValidator(t, ValidatorConfig{
		DuplicateWindow: time.Second,
		RateTokens:      100,
	})
	ev := platform.Event{Kind: platform.EventButton, Value: "yes"}

	if err := v.CheckEvent(context.Background(), "bot1", "chat1", "step1", ev); err != nil {
		t.Fatalf("first click: %v", err)
	}
	mr.FastForward(2 * time.Second)
	if err := v.CheckEvent(context.Background(), "bot1", "chat1", "step1", ev); err != nil {
		t.Fatalf("click after window: %v", err)
	}
}

func TestCheckEvent_DistinctEventsNotDuplicates(t *testing.T) {
	v, _ := redisValidator(t, ValidatorConfig{
		DuplicateWindow: time.Second,
		RateTokens:      100,
	})

	a := platform.Event{Kind: platform.EventButton, Value: "yes"}
	b := platform.Event{Kind: platform.EventButton, Value: "no"}
	if err := v.CheckEvent(context.Background(), "bot1", "chat1", "step1", a); err != nil {
		t.Fatalf("a: %v", err)
	}
	if err := v.CheckEvent(context.Background(), "bot1", "chat1", "step1", b); err != nil {
		t.Fatalf("different value must not collide: %v", err)
	}
}

func TestCheckEvent_RateLimited(t *testing.T) {
	v, _ := redisValidator(t, ValidatorConfig{
		DuplicateWindow:  time.Second,
		RateTokens:       2,
		RateRefillPerSec: 0.001,
	})

	// Distinct texts so the fingerprint check never fires first.
	for i, text := range []string{"one", "two"} {
		ev := platform.Event{Kind: platform.EventText, Text: text}
		if err := v.CheckEvent(context.Background(), "bot1", "chat1", "step1", ev); err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
	}

	ev := platform.Event{Kind: platform.EventText, Text: "three"}
	err := v.CheckEvent(context.Background(), "bot1", "chat1", "step1", ev)
	if apperrors.CodeOf(err) != apperrors.CodeRateLimited {
		t.Fatalf("want CodeRateLimited, got %v", err)
	}
}

func TestCheckEvent_LocalFallbackDuplicates(t *testing.T) {
	// No side store at all: duplicates must still be caught locally.
	v := NewValidator(nil, ValidatorConfig{DuplicateWindow: time.Second}, zap.NewNop())
	ev := platform.Event{Kind: platform.EventButton, Value: "yes"}

	if err := v.CheckEvent(context.Background(), "bot1", "chat1", "step1", ev); err != nil {
		t.Fatalf("first: %v", err)
	}
	err := v.CheckEvent(context.Background(), "bot1", "chat1", "step1", ev)
	if apperrors.CodeOf(err) != apperrors.CodeDuplicate {
		t.Fatalf("want CodeDuplicate from local fallback, got %v", err)
	}
}

func TestCheckEvent_RateLimitFailsOpenOnOutage(t *testing.T) {
	v, mr := redisValidator(t, ValidatorConfig{
		DuplicateWindow:  time.Second,
		RateTokens:       1,
		RateRefillPerSec: 0.001,
	})
	mr.Close()

	// Store down: the event must still pass.
	ev := platform.Event{Kind: platform.EventText, Text: "hello"}
	if err := v.CheckEvent(context.Background(), "bot1", "chat1", "step1", ev); err != nil {
		t.Fatalf("outage must fail open, got %v", err)
	}
}

// === ValidateInput ===

func TestValidateInput_Button(t *testing.T) {
	v := NewValidator(nil, ValidatorConfig{}, zap.NewNop())
	step := &entity.Step{Buttons: []entity.Button{{Text: "Yes", Value: "yes"}, {Text: "No", Value: "no"}}}
	spec := &entity.InputSpec{Kind: entity.InputButton, Variable: "choice"}

	got, err := v.ValidateInput(step, spec, platform.Event{Kind: platform.EventButton, Value: "yes"})
	if err != nil {
		t.Fatalf("valid button: %v", err)
	}
	if got != "yes" {
		t.Errorf("got %v", got)
	}

	_, err = v.ValidateInput(step, spec, platform.Event{Kind: platform.EventButton, Value: "maybe"})
	if apperrors.CodeOf(err) != apperrors.CodeInvalidButton {
		t.Fatalf("want CodeInvalidButton, got %v", err)
	}
}

func TestValidateInput_TextLengths(t *testing.T) {
	v := NewValidator(nil, ValidatorConfig{}, zap.NewNop())
	step := &entity.Step{}
	spec := &entity.InputSpec{
		Kind:      entity.InputText,
		Variable:  "name",
		MinLength: intPtr(2),
		MaxLength: intPtr(5),
	}

	if _, err := v.ValidateInput(step, spec, platform.Event{Kind: platform.EventText, Text: "x"}); err == nil {
		t.Error("below min length must fail")
	}
	// Exactly max length is accepted; lengths count runes, not bytes.
	got, err := v.ValidateInput(step, spec, platform.Event{Kind: platform.EventText, Text: "пятьх"})
	if err != nil {
		t.Fatalf("exact max length: %v", err)
	}
	if got != "пятьх" {
		t.Errorf("got %v", got)
	}
	if _, err := v.ValidateInput(step, spec, platform.Event{Kind: platform.EventText, Text: "toolong"}); err == nil {
		t.Error("above max length must fail")
	}
}

func TestValidateInput_TextPatternAndErrorMessage(t *testing.T) {
	v := NewValidator(nil, ValidatorConfig{}, zap.NewNop())
	step := &entity.Step{}
	spec := &entity.InputSpec{
		Kind:         entity.InputText,
		Variable:     "code",
		Pattern:      `^[A-Z]{3}$`,
		ErrorMessage: "three capital letters please",
	}

	if _, err := v.ValidateInput(step, spec, platform.Event{Kind: platform.EventText, Text: "ABC"}); err != nil {
		t.Fatalf("matching input: %v", err)
	}
	_, err := v.ValidateInput(step, spec, platform.Event{Kind: platform.EventText, Text: "abc"})
	if err == nil {
		t.Fatal("non-matching input must fail")
	}
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) || appErr.Message != "three capital letters please" {
		t.Errorf("scenario error_message not used, got %v", err)
	}
}

func TestValidateInput_Number(t *testing.T) {
	v := NewValidator(nil, ValidatorConfig{}, zap.NewNop())
	step := &entity.Step{}
	spec := &entity.InputSpec{
		Kind:     entity.InputNumber,
		Variable: "age",
		MinValue: floatPtr(0),
		MaxValue: floatPtr(120),
	}

	got, err := v.ValidateInput(step, spec, platform.Event{Kind: platform.EventText, Text: "18"})
	if err != nil {
		t.Fatalf("valid number: %v", err)
	}
	if got != float64(18) {
		t.Errorf("got %v (%T)", got, got)
	}
	if _, err := v.ValidateInput(step, spec, platform.Event{Kind: platform.EventText, Text: "abc"}); err == nil {
		t.Error("non-numeric must fail")
	}
	if _, err := v.ValidateInput(step, spec, platform.Event{Kind: platform.EventText, Text: "121"}); err == nil {
		t.Error("above max must fail")
	}
}

func TestValidateInput_Date(t *testing.T) {
	v := NewValidator(nil, ValidatorConfig{}, zap.NewNop())
	step := &entity.Step{}
	spec := &entity.InputSpec{Kind: entity.InputDate, Variable: "birthday"}

	for _, raw := range []string{"1990-05-15", "15.05.1990", "05/15/1990"} {
		got, err := v.ValidateInput(step, spec, platform.Event{Kind: platform.EventText, Text: raw})
		if err != nil {
			t.Fatalf("%s: %v", raw, err)
		}
		if got != "1990-05-15" {
			t.Errorf("%s: normalized to %v", raw, got)
		}
	}
	if _, err := v.ValidateInput(step, spec, platform.Event{Kind: platform.EventText, Text: "yesterday"}); err == nil {
		t.Error("unparseable date must fail")
	}
}

func TestValidateInput_Email(t *testing.T) {
	v := NewValidator(nil, ValidatorConfig{}, zap.NewNop())
	step := &entity.Step{}
	spec := &entity.InputSpec{Kind: entity.InputEmail, Variable: "email"}

	got, err := v.ValidateInput(step, spec, platform.Event{Kind: platform.EventText, Text: "Ada@Example.COM"})
	if err != nil {
		t.Fatalf("valid email: %v", err)
	}
	if got != "ada@example.com" {
		t.Errorf("not lowercased: %v", got)
	}
	if _, err := v.ValidateInput(step, spec, platform.Event{Kind: platform.EventText, Text: "not-an-email"}); err == nil {
		t.Error("invalid email must fail")
	}
}

func TestValidateInput_Phone(t *testing.T) {
	v := NewValidator(nil, ValidatorConfig{}, zap.NewNop())
	step := &entity.Step{}
	spec := &entity.InputSpec{Kind: entity.InputPhone, Variable: "phone"}

	if _, err := v.ValidateInput(step, spec, platform.Event{Kind: platform.EventText, Text: "+1 (555) 123-4567"}); err != nil {
		t.Fatalf("valid phone: %v", err)
	}
	if _, err := v.ValidateInput(step, spec, platform.Event{Kind: platform.EventText, Text: "call me"}); err == nil {
		t.Error("invalid phone must fail")
	}
}

func TestValidateInput_TrimsWhitespace(t *testing.T) {
	v := NewValidator(nil, ValidatorConfig{}, zap.NewNop())
	step := &entity.Step{}
	spec := &entity.InputSpec{Kind: entity.InputText, Variable: "name"}

	got, err := v.ValidateInput(step, spec, platform.Event{Kind: platform.EventText, Text: "  Ada  "})
	if err != nil {
		t.Fatalf("trimmed input: %v", err)
	}
	if got != "Ada" {
		t.Errorf("got %q", got)
	}
}
