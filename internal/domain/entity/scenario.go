package entity

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StepType discriminates the step variants in a scenario graph.
type StepType string

const (
	StepMessage            StepType = "message"
	StepConditionalMessage StepType = "conditional_message"
	StepAction             StepType = "action"
)

// InputKind enumerates the typed inputs a step may expect.
type InputKind string

const (
	InputText   InputKind = "text"
	InputButton InputKind = "button"
	InputNumber InputKind = "number"
	InputDate   InputKind = "date"
	InputEmail  InputKind = "email"
	InputPhone  InputKind = "phone"
)

// Scenario is a versioned, immutable dialog graph owned by a bot.
// A new version is a new record; at most one scenario is active per bot.
type Scenario struct {
	ID        string
	BotID     string
	Version   int
	Active    bool
	Graph     *Graph
	CreatedAt time.Time
}

// NewScenario creates an inactive scenario version for a bot.
func NewScenario(botID string, version int, graph *Graph) *Scenario {
	return &Scenario{
		ID:        uuid.NewString(),
		BotID:     botID,
		Version:   version,
		Graph:     graph,
		CreatedAt: time.Now().UTC(),
	}
}

// Graph is the executable scenario body as it appears on the wire.
type Graph struct {
	WireVersion string                  `json:"version"`
	StartStep   string                  `json:"start_step"`
	HelpText    string                  `json:"help_text,omitempty"`
	Variables   map[string]VariableMeta `json:"variables,omitempty"`
	Steps       map[string]*Step        `json:"steps"`
}

// VariableMeta declares a collected-data variable.
type VariableMeta struct {
	Type    string `json:"type"` // string, number, bool
	Default any    `json:"default,omitempty"`
}

// Step is a node in the graph. Fields are populated per Type; a
// conditional_message carries Variants evaluated against collected data.
type Step struct {
	Type          StepType         `json:"type"`
	Message       *MessageContent  `json:"message,omitempty"`
	Variants      []MessageVariant `json:"variants,omitempty"`
	Media         []MediaRef       `json:"media,omitempty"`
	Buttons       []Button         `json:"buttons,omitempty"`
	ExpectedInput *InputSpec       `json:"expected_input,omitempty"`
	Next          *NextRef         `json:"next_step,omitempty"`

	// action steps only
	Action string         `json:"action,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

// MessageContent is the renderable body of a message step.
type MessageContent struct {
	Text string `json:"text"`
}

// MessageVariant is one selectable body of a conditional_message step.
// The first variant whose If expression is true wins; a variant with an
// empty If is the fallback.
type MessageVariant struct {
	If      string         `json:"if,omitempty"`
	Message MessageContent `json:"message"`
}

// MediaRef points at a media asset by its bot-scoped logical id.
type MediaRef struct {
	Type        string `json:"type"` // image, video, audio, document
	Description string `json:"description,omitempty"`
	FileID      string `json:"file_id"` // logical id, not a platform id
}

// Button is a single interactive choice.
type Button struct {
	Text  string `json:"text"`
	Value string `json:"value"`
}

// InputSpec declares the input a step expects and how to validate it.
type InputSpec struct {
	Kind         InputKind `json:"type"`
	Variable     string    `json:"variable"`
	MinLength    *int      `json:"min_length,omitempty"`
	MaxLength    *int      `json:"max_length,omitempty"`
	Pattern      string    `json:"pattern,omitempty"`
	MinValue     *float64  `json:"min_value,omitempty"`
	MaxValue     *float64  `json:"max_value,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// NextRef resolves the next step: either a literal step id or a list of
// guarded branches with an optional else.
type NextRef struct {
	StepID     string
	Conditions []Condition
	Else       string
}

// Condition is one guarded branch of a conditional NextRef.
type Condition struct {
	If   string `json:"if"`
	Then string `json:"then"`
}

// nextRefWire is the object form on the wire.
type nextRefWire struct {
	Conditions []Condition `json:"conditions,omitempty"`
	Else       string      `json:"else,omitempty"`
}

// UnmarshalJSON accepts "step_id" or {"conditions": [...], "else": "..."}.
func (n *NextRef) UnmarshalJSON(data []byte) error {
	var literal string
	if err := json.Unmarshal(data, &literal); err == nil {
		n.StepID = literal
		n.Conditions = nil
		n.Else = ""
		return nil
	}

	var wire nextRefWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("next_step must be a step id or a conditions object: %w", err)
	}
	n.StepID = ""
	n.Conditions = wire.Conditions
	n.Else = wire.Else
	return nil
}

// MarshalJSON emits the literal form when no conditions are present.
func (n NextRef) MarshalJSON() ([]byte, error) {
	if len(n.Conditions) == 0 && n.Else == "" {
		return json.Marshal(n.StepID)
	}
	return json.Marshal(nextRefWire{Conditions: n.Conditions, Else: n.Else})
}

// IsLiteral reports whether the ref is a plain step id.
func (n *NextRef) IsLiteral() bool {
	return n != nil && len(n.Conditions) == 0 && n.StepID != ""
}

// ParseGraph decodes the scenario wire format. Structural validation
// (step references, expressions) is the scenario interpreter's job.
func ParseGraph(data []byte) (*Graph, error) {
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("invalid scenario JSON: %w", err)
	}
	if g.StartStep == "" {
		return nil, fmt.Errorf("scenario missing start_step")
	}
	if len(g.Steps) == 0 {
		return nil, fmt.Errorf("scenario has no steps")
	}
	return &g, nil
}

// EncodeGraph serializes a graph back to the wire format.
func EncodeGraph(g *Graph) ([]byte, error) {
	return json.Marshal(g)
}

// Step lookup helpers.

// StepByID returns the step or nil.
func (g *Graph) StepByID(id string) *Step {
	if g == nil {
		return nil
	}
	return g.Steps[id]
}

// ButtonValues lists the declared button values of a step, in order.
func (s *Step) ButtonValues() []string {
	values := make([]string, 0, len(s.Buttons))
	for _, b := range s.Buttons {
		values = append(values, b.Value)
	}
	return values
}

// IsTerminal reports whether the step has no outgoing reference at all.
func (s *Step) IsTerminal() bool {
	return s.Next == nil
}
