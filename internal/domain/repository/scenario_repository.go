package repository

import (
	"context"

	"github.com/dialogforge/dialogforge/internal/domain/entity"
)

// ScenarioRepository stores versioned scenario graphs.
//
// Activate atomically makes the given scenario the bot's only active one.
// Delete refuses active scenarios and cascades dialog states that pinned
// the deleted scenario.
type ScenarioRepository interface {
	GetByID(ctx context.Context, scenarioID string) (*entity.Scenario, error)
	GetActive(ctx context.Context, botID string) (*entity.Scenario, error)
	Save(ctx context.Context, sc *entity.Scenario) error
	Activate(ctx context.Context, botID, scenarioID string) error
	Deactivate(ctx context.Context, scenarioID string) error
	Delete(ctx context.Context, scenarioID string) error
}
