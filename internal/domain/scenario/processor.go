package scenario

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dialogforge/dialogforge/internal/domain/entity"
	apperrors "github.com/dialogforge/dialogforge/pkg/errors"
)

// RenderedMessage is one outgoing message produced by a step.
type RenderedMessage struct {
	Text    string
	Media   []entity.MediaRef
	Buttons []entity.Button
}

// StepResult is the outcome of evaluating one step. The dialog manager
// applies VariableUpdates, sends Rendered (if any), and either waits for
// input (AwaitsInput) or continues to NextStepID ("" ends the dialog).
type StepResult struct {
	StepID          string
	Rendered        *RenderedMessage
	ExpectedInput   *entity.InputSpec
	VariableUpdates map[string]any
	NextStepID      string
	AwaitsInput     bool
}

// Processor interprets scenario graphs. Evaluation is pure over the
// arguments except for registered action handlers, which may reach
// external systems.
type Processor struct {
	actions *ActionRegistry
	logger  *zap.Logger
}

// NewProcessor creates a processor bound to a fixed action registry.
func NewProcessor(actions *ActionRegistry, logger *zap.Logger) *Processor {
	return &Processor{
		actions: actions,
		logger:  logger.With(zap.String("component", "scenario-processor")),
	}
}

// ValidateGraph performs the load-time checks that make runtime
// evaluation total: every reference resolves, every condition parses,
// every action is registered, every expected input writes a declared
// variable. Scenario activation must refuse graphs that fail here.
func (p *Processor) ValidateGraph(g *entity.Graph) error {
	if g.StepByID(g.StartStep) == nil {
		return fmt.Errorf("start_step %q is not a step", g.StartStep)
	}

	for id, step := range g.Steps {
		switch step.Type {
		case entity.StepMessage:
			if step.Message == nil {
				return fmt.Errorf("step %q: message step without message body", id)
			}
		case entity.StepConditionalMessage:
			if len(step.Variants) == 0 {
				return fmt.Errorf("step %q: conditional_message without variants", id)
			}
			for i, variant := range step.Variants {
				if variant.If == "" {
					continue // fallback variant
				}
				if _, err := ParseExpr(variant.If); err != nil {
					return fmt.Errorf("step %q variant %d: %w", id, i, err)
				}
			}
		case entity.StepAction:
			if step.Action == "" {
				return fmt.Errorf("step %q: action step without action name", id)
			}
			if _, ok := p.actions.Lookup(step.Action); !ok {
				return fmt.Errorf("step %q: unknown action %q", id, step.Action)
			}
		default:
			return fmt.Errorf("step %q: unknown step type %q", id, step.Type)
		}

		if err := p.validateNextRef(g, id, step.Next); err != nil {
			return err
		}

		if step.ExpectedInput != nil {
			spec := step.ExpectedInput
			if spec.Variable == "" {
				return fmt.Errorf("step %q: expected_input without variable", id)
			}
			if _, declared := g.Variables[spec.Variable]; !declared {
				return fmt.Errorf("step %q: expected_input variable %q is not declared", id, spec.Variable)
			}
			if spec.Kind == entity.InputButton && len(step.Buttons) == 0 {
				return fmt.Errorf("step %q: button input without buttons", id)
			}
		}

		seen := make(map[string]bool, len(step.Buttons))
		for _, b := range step.Buttons {
			if seen[b.Value] {
				return fmt.Errorf("step %q: duplicate button value %q", id, b.Value)
			}
			seen[b.Value] = true
		}
	}

	return nil
}

func (p *Processor) validateNextRef(g *entity.Graph, stepID string, next *entity.NextRef) error {
	if next == nil {
		return nil
	}
	if next.IsLiteral() {
		if g.StepByID(next.StepID) == nil {
			return fmt.Errorf("step %q: next_step %q does not exist", stepID, next.StepID)
		}
		return nil
	}
	for i, cond := range next.Conditions {
		if _, err := ParseExpr(cond.If); err != nil {
			return fmt.Errorf("step %q condition %d: %w", stepID, i, err)
		}
		if g.StepByID(cond.Then) == nil {
			return fmt.Errorf("step %q condition %d: target %q does not exist", stepID, i, cond.Then)
		}
	}
	if next.Else != "" && g.StepByID(next.Else) == nil {
		return fmt.Errorf("step %q: else target %q does not exist", stepID, next.Else)
	}
	return nil
}

// EvaluateStep evaluates the step at stepID against collected data:
// renders its message (with substitution), runs its action, and — when
// the step does not wait for input — resolves the next step id.
//
// An unknown step id or a failing action handler is fatal: the caller
// parks the conversation in the fault state.
func (p *Processor) EvaluateStep(ctx context.Context, g *entity.Graph, stepID string, data map[string]any) (*StepResult, error) {
	step := g.StepByID(stepID)
	if step == nil {
		return nil, apperrors.NewFatal(fmt.Sprintf("unknown step id %q", stepID))
	}

	result := &StepResult{
		StepID:          stepID,
		VariableUpdates: make(map[string]any),
	}

	switch step.Type {
	case entity.StepMessage:
		result.Rendered = p.render(g, step, step.Message, data)
	case entity.StepConditionalMessage:
		body := p.selectVariant(step, data)
		if body != nil {
			result.Rendered = p.render(g, step, body, data)
		}
	case entity.StepAction:
		handler, ok := p.actions.Lookup(step.Action)
		if !ok {
			return nil, apperrors.NewFatal(fmt.Sprintf("unknown action %q at step %q", step.Action, stepID))
		}
		updates, err := handler(ctx, step.Params, data)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeFatal,
				fmt.Sprintf("action %q failed at step %q", step.Action, stepID), err)
		}
		for k, v := range updates {
			result.VariableUpdates[k] = v
		}
	}

	if step.ExpectedInput != nil {
		result.ExpectedInput = step.ExpectedInput
		result.AwaitsInput = true
		return result, nil
	}

	// Auto-transition candidate: resolve the outgoing edge now, with the
	// action's updates visible to conditions.
	merged := data
	if len(result.VariableUpdates) > 0 {
		merged = make(map[string]any, len(data)+len(result.VariableUpdates))
		for k, v := range data {
			merged[k] = v
		}
		for k, v := range result.VariableUpdates {
			merged[k] = v
		}
	}
	result.NextStepID = p.ResolveNext(g, step, merged)
	return result, nil
}

// ResolveNext resolves a step's outgoing reference against collected
// data. Empty string means the conversation ends. Condition evaluation
// errors count as false and are logged.
func (p *Processor) ResolveNext(g *entity.Graph, step *entity.Step, data map[string]any) string {
	if step.Next == nil {
		return ""
	}
	if step.Next.IsLiteral() {
		return step.Next.StepID
	}
	for _, cond := range step.Next.Conditions {
		expr, err := ParseExpr(cond.If)
		if err != nil {
			// Unreachable for validated graphs; kept as a runtime guard.
			p.logger.Error("ConditionError: unparseable condition at runtime",
				zap.String("condition", cond.If),
				zap.Error(err),
			)
			continue
		}
		ok, err := expr.Eval(data)
		if err != nil {
			p.logger.Warn("ConditionError",
				zap.String("condition", cond.If),
				zap.Error(err),
			)
			continue
		}
		if ok {
			return cond.Then
		}
	}
	return step.Next.Else
}

// selectVariant picks the first variant whose guard holds; a guardless
// variant acts as the fallback.
func (p *Processor) selectVariant(step *entity.Step, data map[string]any) *entity.MessageContent {
	for i := range step.Variants {
		variant := &step.Variants[i]
		if variant.If == "" {
			return &variant.Message
		}
		expr, err := ParseExpr(variant.If)
		if err != nil {
			p.logger.Error("ConditionError: unparseable variant guard",
				zap.String("condition", variant.If),
				zap.Error(err),
			)
			continue
		}
		ok, err := expr.Eval(data)
		if err != nil {
			p.logger.Warn("ConditionError",
				zap.String("condition", variant.If),
				zap.Error(err),
			)
			continue
		}
		if ok {
			return &variant.Message
		}
	}
	return nil
}

// render substitutes the template and carries media and buttons through.
func (p *Processor) render(g *entity.Graph, step *entity.Step, body *entity.MessageContent, data map[string]any) *RenderedMessage {
	text, missing := Substitute(body.Text, data, g.Variables)
	for _, name := range missing {
		p.logger.Debug("SubstitutionError: placeholder resolved to empty",
			zap.String("variable", name),
		)
	}
	return &RenderedMessage{
		Text:    text,
		Media:   step.Media,
		Buttons: step.Buttons,
	}
}
