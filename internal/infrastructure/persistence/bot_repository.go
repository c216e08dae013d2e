package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dialogforge/dialogforge/internal/domain/entity"
	"github.com/dialogforge/dialogforge/internal/infrastructure/persistence/models"
	apperrors "github.com/dialogforge/dialogforge/pkg/errors"
)

// GormBotRepository stores bot instances and platform credentials.
type GormBotRepository struct {
	db *gorm.DB
}

// NewGormBotRepository creates the repository.
func NewGormBotRepository(db *gorm.DB) *GormBotRepository {
	return &GormBotRepository{db: db}
}

func (r *GormBotRepository) Get(ctx context.Context, botID string) (*entity.BotInstance, error) {
	var m models.BotModel
	err := r.db.WithContext(ctx).Where("id = ?", botID).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFound("bot not found")
		}
		return nil, apperrors.NewTransient("load bot", err)
	}
	return &entity.BotInstance{
		ID:        m.ID,
		AccountID: m.AccountID,
		Name:      m.Name,
		Active:    m.Active,
		CreatedAt: m.CreatedAt,
	}, nil
}

func (r *GormBotRepository) Save(ctx context.Context, bot *entity.BotInstance) error {
	m := models.BotModel{
		ID:        bot.ID,
		AccountID: bot.AccountID,
		Name:      bot.Name,
		Active:    bot.Active,
		CreatedAt: bot.CreatedAt,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&m).Error
	if err != nil {
		return apperrors.NewTransient("save bot", err)
	}
	return nil
}

func (r *GormBotRepository) Credential(ctx context.Context, botID, platform string) (*entity.PlatformCredential, error) {
	var m models.PlatformCredentialModel
	err := r.db.WithContext(ctx).
		Where("bot_id = ? AND platform = ?", botID, platform).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFound("platform credential not found")
		}
		return nil, apperrors.NewTransient("load credential", err)
	}
	return credentialToEntity(&m)
}

func (r *GormBotRepository) SaveCredential(ctx context.Context, cred *entity.PlatformCredential) error {
	secrets, err := json.Marshal(cred.Secrets)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "encode credential secrets", err)
	}
	m := models.PlatformCredentialModel{
		BotID:              cred.BotID,
		Platform:           cred.Platform,
		Secrets:            string(secrets),
		WebhookURL:         cred.WebhookURL,
		WebhookLastChecked: cred.WebhookLastChecked,
		AutoRefresh:        cred.AutoRefresh,
		Healthy:            cred.Healthy,
	}
	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&m).Error
	if err != nil {
		return apperrors.NewTransient("save credential", err)
	}
	return nil
}

func (r *GormBotRepository) MarkCredentialUnhealthy(ctx context.Context, botID, platform string) error {
	err := r.db.WithContext(ctx).Model(&models.PlatformCredentialModel{}).
		Where("bot_id = ? AND platform = ?", botID, platform).
		Update("healthy", false).Error
	if err != nil {
		return apperrors.NewTransient("mark credential unhealthy", err)
	}
	return nil
}

func (r *GormBotRepository) TouchWebhookChecked(ctx context.Context, botID, platform string) error {
	err := r.db.WithContext(ctx).Model(&models.PlatformCredentialModel{}).
		Where("bot_id = ? AND platform = ?", botID, platform).
		Update("webhook_last_checked", time.Now().UTC()).Error
	if err != nil {
		return apperrors.NewTransient("touch webhook checked", err)
	}
	return nil
}

func (r *GormBotRepository) ListAutoRefresh(ctx context.Context) ([]*entity.PlatformCredential, error) {
	var rows []models.PlatformCredentialModel
	err := r.db.WithContext(ctx).
		Where("auto_refresh = ?", true).
		Find(&rows).Error
	if err != nil {
		return nil, apperrors.NewTransient("list auto-refresh credentials", err)
	}

	creds := make([]*entity.PlatformCredential, 0, len(rows))
	for i := range rows {
		cred, err := credentialToEntity(&rows[i])
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	return creds, nil
}

func credentialToEntity(m *models.PlatformCredentialModel) (*entity.PlatformCredential, error) {
	secrets := make(map[string]string)
	if m.Secrets != "" {
		if err := json.Unmarshal([]byte(m.Secrets), &secrets); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInternal, "decode credential secrets", err)
		}
	}
	return &entity.PlatformCredential{
		BotID:              m.BotID,
		Platform:           m.Platform,
		Secrets:            secrets,
		WebhookURL:         m.WebhookURL,
		WebhookLastChecked: m.WebhookLastChecked,
		AutoRefresh:        m.AutoRefresh,
		Healthy:            m.Healthy,
	}, nil
}
