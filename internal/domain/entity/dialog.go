package entity

import (
	"time"

	"github.com/google/uuid"
)

// FaultStepID is the sentinel current_step_id for conversations parked in
// the fault sub-state. Only /reset leaves it. Double underscores keep it
// out of the scenario author's namespace.
const FaultStepID = "__fault__"

// MessageType classifies a history entry.
type MessageType string

const (
	MessageUser   MessageType = "user"
	MessageBot    MessageType = "bot"
	MessageSystem MessageType = "system"
)

// DialogState is the single mutable record of a conversation.
// Exactly one exists per (bot, platform, chat). The scenario id and
// version are pinned at creation so a running dialog keeps executing the
// graph it started on even if the bot activates a newer scenario.
type DialogState struct {
	ID                string
	BotID             string
	Platform          string
	ChatID            string
	ScenarioID        string
	ScenarioVersion   int
	CurrentStepID     string
	CollectedData     map[string]any
	CreatedAt         time.Time
	LastInteractionAt time.Time
	Version           int64 // optimistic concurrency token
}

// NewDialogState materializes a conversation at a scenario's start step.
func NewDialogState(botID, platform, chatID string, sc *Scenario) *DialogState {
	now := time.Now().UTC()
	return &DialogState{
		ID:                uuid.NewString(),
		BotID:             botID,
		Platform:          platform,
		ChatID:            chatID,
		ScenarioID:        sc.ID,
		ScenarioVersion:   sc.Version,
		CurrentStepID:     sc.Graph.StartStep,
		CollectedData:     make(map[string]any),
		CreatedAt:         now,
		LastInteractionAt: now,
		Version:           1,
	}
}

// InFault reports whether the conversation is parked in the fault state.
func (s *DialogState) InFault() bool {
	return s.CurrentStepID == FaultStepID
}

// ResetTo rebinds the state to a scenario's start step and wipes collected
// data. History is untouched; resetting twice is the same as once.
func (s *DialogState) ResetTo(sc *Scenario) {
	s.ScenarioID = sc.ID
	s.ScenarioVersion = sc.Version
	s.CurrentStepID = sc.Graph.StartStep
	s.CollectedData = make(map[string]any)
	s.LastInteractionAt = time.Now().UTC()
}

// SetVariable records collected data under a declared variable name.
func (s *DialogState) SetVariable(name string, value any) {
	if s.CollectedData == nil {
		s.CollectedData = make(map[string]any)
	}
	s.CollectedData[name] = value
}

// DialogHistoryEntry is one append-only record of a conversation.
// Seq is assigned by the repository and is strictly increasing per dialog.
type DialogHistoryEntry struct {
	DialogID    string
	Seq         int64
	MessageType MessageType
	Payload     string
	Timestamp   time.Time
}

// NewHistoryEntry builds an unsequenced entry; the repository assigns Seq.
func NewHistoryEntry(dialogID string, mt MessageType, payload string) *DialogHistoryEntry {
	return &DialogHistoryEntry{
		DialogID:    dialogID,
		MessageType: mt,
		Payload:     payload,
		Timestamp:   time.Now().UTC(),
	}
}
