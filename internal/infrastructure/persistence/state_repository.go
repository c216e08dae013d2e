package persistence

import (
	"context"
	"encoding/json"
	"errors"

	"gorm.io/gorm"

	"github.com/dialogforge/dialogforge/internal/domain/entity"
	"github.com/dialogforge/dialogforge/internal/infrastructure/persistence/models"
	apperrors "github.com/dialogforge/dialogforge/pkg/errors"
)

// GormStateRepository persists dialog states and history.
type GormStateRepository struct {
	db *gorm.DB
}

// NewGormStateRepository creates the repository.
func NewGormStateRepository(db *gorm.DB) *GormStateRepository {
	return &GormStateRepository{db: db}
}

func (r *GormStateRepository) Get(ctx context.Context, botID, platform, chatID string) (*entity.DialogState, error) {
	var m models.DialogStateModel
	err := r.db.WithContext(ctx).
		Where("bot_id = ? AND platform = ? AND chat_id = ?", botID, platform, chatID).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFound("dialog state not found")
		}
		return nil, apperrors.NewTransient("load dialog state", err)
	}
	return stateToEntity(&m)
}

func (r *GormStateRepository) Create(ctx context.Context, state *entity.DialogState) error {
	m, err := stateToModel(state)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		if isUniqueViolation(err) {
			return apperrors.NewAlreadyExists("dialog state already exists for this conversation")
		}
		return apperrors.NewTransient("create dialog state", err)
	}
	return nil
}

// Update applies the state with optimistic concurrency: the row is only
// written when the stored version matches the one the caller read, and
// the version is bumped in the same statement.
func (r *GormStateRepository) Update(ctx context.Context, state *entity.DialogState) error {
	data, err := json.Marshal(state.CollectedData)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "encode collected data", err)
	}

	res := r.db.WithContext(ctx).Model(&models.DialogStateModel{}).
		Where("id = ? AND version = ?", state.ID, state.Version).
		Updates(map[string]any{
			"scenario_id":         state.ScenarioID,
			"scenario_version":    state.ScenarioVersion,
			"current_step_id":     state.CurrentStepID,
			"collected_data":      string(data),
			"last_interaction_at": state.LastInteractionAt,
			"version":             state.Version + 1,
		})
	if res.Error != nil {
		return apperrors.NewTransient("update dialog state", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.NewConflict("dialog state version mismatch")
	}
	state.Version++
	return nil
}

func (r *GormStateRepository) Delete(ctx context.Context, stateID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.DialogStateModel{}, "id = ?", stateID).Error; err != nil {
			return apperrors.NewTransient("delete dialog state", err)
		}
		if err := tx.Delete(&models.DialogHistoryModel{}, "dialog_id = ?", stateID).Error; err != nil {
			return apperrors.NewTransient("delete dialog history", err)
		}
		return nil
	})
}

// AppendHistory assigns the next Seq inside a transaction so entries stay
// strictly ordered per dialog.
func (r *GormStateRepository) AppendHistory(ctx context.Context, e *entity.DialogHistoryEntry) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int64
		err := tx.Model(&models.DialogHistoryModel{}).
			Where("dialog_id = ?", e.DialogID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&maxSeq).Error
		if err != nil {
			return apperrors.NewTransient("read history seq", err)
		}

		e.Seq = maxSeq + 1
		m := models.DialogHistoryModel{
			DialogID:    e.DialogID,
			Seq:         e.Seq,
			MessageType: string(e.MessageType),
			Payload:     e.Payload,
			Timestamp:   e.Timestamp,
		}
		if err := tx.Create(&m).Error; err != nil {
			return apperrors.NewTransient("append history", err)
		}
		return nil
	})
}

// History returns the most recent entries in ascending Seq order.
func (r *GormStateRepository) History(ctx context.Context, dialogID string, limit int) ([]*entity.DialogHistoryEntry, error) {
	q := r.db.WithContext(ctx).
		Where("dialog_id = ?", dialogID).
		Order("seq DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []models.DialogHistoryModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, apperrors.NewTransient("load history", err)
	}

	entries := make([]*entity.DialogHistoryEntry, len(rows))
	for i, row := range rows {
		entries[len(rows)-1-i] = &entity.DialogHistoryEntry{
			DialogID:    row.DialogID,
			Seq:         row.Seq,
			MessageType: entity.MessageType(row.MessageType),
			Payload:     row.Payload,
			Timestamp:   row.Timestamp,
		}
	}
	return entries, nil
}

func stateToModel(s *entity.DialogState) (*models.DialogStateModel, error) {
	data, err := json.Marshal(s.CollectedData)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "encode collected data", err)
	}
	return &models.DialogStateModel{
		ID:                s.ID,
		BotID:             s.BotID,
		Platform:          s.Platform,
		ChatID:            s.ChatID,
		ScenarioID:        s.ScenarioID,
		ScenarioVersion:   s.ScenarioVersion,
		CurrentStepID:     s.CurrentStepID,
		CollectedData:     string(data),
		CreatedAt:         s.CreatedAt,
		LastInteractionAt: s.LastInteractionAt,
		Version:           s.Version,
	}, nil
}

func stateToEntity(m *models.DialogStateModel) (*entity.DialogState, error) {
	data := make(map[string]any)
	if m.CollectedData != "" {
		if err := json.Unmarshal([]byte(m.CollectedData), &data); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInternal, "decode collected data", err)
		}
	}
	return &entity.DialogState{
		ID:                m.ID,
		BotID:             m.BotID,
		Platform:          m.Platform,
		ChatID:            m.ChatID,
		ScenarioID:        m.ScenarioID,
		ScenarioVersion:   m.ScenarioVersion,
		CurrentStepID:     m.CurrentStepID,
		CollectedData:     data,
		CreatedAt:         m.CreatedAt,
		LastInteractionAt: m.LastInteractionAt,
		Version:           m.Version,
	}, nil
}
