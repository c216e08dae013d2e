package persistence

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/dialogforge/dialogforge/internal/domain/entity"
	"github.com/dialogforge/dialogforge/internal/infrastructure/persistence/models"
	apperrors "github.com/dialogforge/dialogforge/pkg/errors"
)

// GormScenarioRepository stores versioned scenario graphs.
type GormScenarioRepository struct {
	db *gorm.DB
}

// NewGormScenarioRepository creates the repository.
func NewGormScenarioRepository(db *gorm.DB) *GormScenarioRepository {
	return &GormScenarioRepository{db: db}
}

func (r *GormScenarioRepository) GetByID(ctx context.Context, scenarioID string) (*entity.Scenario, error) {
	var m models.ScenarioModel
	err := r.db.WithContext(ctx).Where("id = ?", scenarioID).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFound("scenario not found")
		}
		return nil, apperrors.NewTransient("load scenario", err)
	}
	return scenarioToEntity(&m)
}

func (r *GormScenarioRepository) GetActive(ctx context.Context, botID string) (*entity.Scenario, error) {
	var m models.ScenarioModel
	err := r.db.WithContext(ctx).
		Where("bot_id = ? AND active = ?", botID, true).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFound("bot has no active scenario")
		}
		return nil, apperrors.NewTransient("load active scenario", err)
	}
	return scenarioToEntity(&m)
}

func (r *GormScenarioRepository) Save(ctx context.Context, sc *entity.Scenario) error {
	graph, err := entity.EncodeGraph(sc.Graph)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "encode scenario graph", err)
	}
	m := models.ScenarioModel{
		ID:        sc.ID,
		BotID:     sc.BotID,
		Version:   sc.Version,
		Active:    sc.Active,
		Graph:     string(graph),
		CreatedAt: sc.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		if isUniqueViolation(err) {
			return apperrors.NewAlreadyExists("scenario version already exists")
		}
		return apperrors.NewTransient("save scenario", err)
	}
	return nil
}

// Activate atomically makes scenarioID the bot's only active scenario.
func (r *GormScenarioRepository) Activate(ctx context.Context, botID, scenarioID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m models.ScenarioModel
		err := tx.Where("id = ? AND bot_id = ?", scenarioID, botID).First(&m).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NewNotFound("scenario not found for this bot")
			}
			return apperrors.NewTransient("load scenario", err)
		}

		err = tx.Model(&models.ScenarioModel{}).
			Where("bot_id = ? AND active = ?", botID, true).
			Update("active", false).Error
		if err != nil {
			return apperrors.NewTransient("deactivate previous scenario", err)
		}

		err = tx.Model(&models.ScenarioModel{}).
			Where("id = ?", scenarioID).
			Update("active", true).Error
		if err != nil {
			return apperrors.NewTransient("activate scenario", err)
		}
		return nil
	})
}

func (r *GormScenarioRepository) Deactivate(ctx context.Context, scenarioID string) error {
	err := r.db.WithContext(ctx).Model(&models.ScenarioModel{}).
		Where("id = ?", scenarioID).
		Update("active", false).Error
	if err != nil {
		return apperrors.NewTransient("deactivate scenario", err)
	}
	return nil
}

// Delete refuses active scenarios and cascades dialog states that pinned
// the deleted version, history included.
func (r *GormScenarioRepository) Delete(ctx context.Context, scenarioID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m models.ScenarioModel
		err := tx.Where("id = ?", scenarioID).First(&m).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NewNotFound("scenario not found")
			}
			return apperrors.NewTransient("load scenario", err)
		}
		if m.Active {
			return apperrors.NewInvalidInput("cannot delete an active scenario")
		}

		var stateIDs []string
		err = tx.Model(&models.DialogStateModel{}).
			Where("scenario_id = ?", scenarioID).
			Pluck("id", &stateIDs).Error
		if err != nil {
			return apperrors.NewTransient("list pinned dialog states", err)
		}
		if len(stateIDs) > 0 {
			if err := tx.Delete(&models.DialogHistoryModel{}, "dialog_id IN ?", stateIDs).Error; err != nil {
				return apperrors.NewTransient("cascade dialog history", err)
			}
			if err := tx.Delete(&models.DialogStateModel{}, "scenario_id = ?", scenarioID).Error; err != nil {
				return apperrors.NewTransient("cascade dialog states", err)
			}
		}

		if err := tx.Delete(&models.ScenarioModel{}, "id = ?", scenarioID).Error; err != nil {
			return apperrors.NewTransient("delete scenario", err)
		}
		return nil
	})
}

func scenarioToEntity(m *models.ScenarioModel) (*entity.Scenario, error) {
	graph, err := entity.ParseGraph([]byte(m.Graph))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "decode scenario graph", err)
	}
	return &entity.Scenario{
		ID:        m.ID,
		BotID:     m.BotID,
		Version:   m.Version,
		Active:    m.Active,
		Graph:     graph,
		CreatedAt: m.CreatedAt,
	}, nil
}
