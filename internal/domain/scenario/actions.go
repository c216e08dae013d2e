package scenario

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ActionHandler executes a registered action step. Handlers receive the
// step params merged over a read-only view of collected data and return
// variable updates to apply. Errors mark the conversation faulted.
type ActionHandler func(ctx context.Context, params map[string]any, data map[string]any) (map[string]any, error)

// ActionRegistry is the fixed, code-level map of action names. Scenarios
// reference handlers by name only; nothing user-supplied is ever executed.
type ActionRegistry struct {
	handlers map[string]ActionHandler
	logger   *zap.Logger
}

// NewActionRegistry creates a registry preloaded with the built-in
// handlers.
func NewActionRegistry(logger *zap.Logger) *ActionRegistry {
	r := &ActionRegistry{
		handlers: make(map[string]ActionHandler),
		logger:   logger,
	}
	r.Register("noop", noopAction)
	r.Register("set_variable", setVariableAction)
	r.Register("register_with_hr", registerWithHRAction(logger))
	return r
}

// Register adds a handler. Call during startup only; the registry is not
// safe for concurrent mutation.
func (r *ActionRegistry) Register(name string, handler ActionHandler) {
	r.handlers[name] = handler
}

// Lookup returns the handler or false.
func (r *ActionRegistry) Lookup(name string) (ActionHandler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Names lists registered action names (for scenario validation).
func (r *ActionRegistry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// --- Built-in handlers ---

func noopAction(context.Context, map[string]any, map[string]any) (map[string]any, error) {
	return nil, nil
}

// setVariableAction copies params into collected data verbatim.
// Scenario authors use it to seed flags before a conditional branch.
func setVariableAction(_ context.Context, params map[string]any, _ map[string]any) (map[string]any, error) {
	updates := make(map[string]any, len(params))
	for k, v := range params {
		updates[k] = v
	}
	return updates, nil
}

// registerWithHRAction is the reference business action: it forwards the
// collected candidate fields to the HR intake. The external call lives
// behind the hook so tests can run the action without a backend.
var hrIntakeHook = func(ctx context.Context, candidate map[string]any) (string, error) {
	return "", fmt.Errorf("hr intake backend not configured")
}

func registerWithHRAction(logger *zap.Logger) ActionHandler {
	return func(ctx context.Context, params map[string]any, data map[string]any) (map[string]any, error) {
		candidate := make(map[string]any, len(data)+len(params))
		for k, v := range data {
			candidate[k] = v
		}
		for k, v := range params {
			candidate[k] = v
		}

		ticket, err := hrIntakeHook(ctx, candidate)
		if err != nil {
			return nil, fmt.Errorf("register_with_hr: %w", err)
		}

		logger.Info("Candidate registered with HR",
			zap.String("ticket", ticket),
		)
		return map[string]any{"hr_ticket": ticket}, nil
	}
}

// SetHRIntakeHook swaps the HR backend call. Startup wiring and tests
// only.
func SetHRIntakeHook(fn func(ctx context.Context, candidate map[string]any) (string, error)) {
	hrIntakeHook = fn
}
