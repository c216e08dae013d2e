package persistence

import (
	"context"
	"errors"
	"os"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dialogforge/dialogforge/internal/domain/entity"
	"github.com/dialogforge/dialogforge/internal/infrastructure/persistence/models"
	apperrors "github.com/dialogforge/dialogforge/pkg/errors"
)

// GormMediaRepository stores media assets; bytes live on disk behind
// BytesRef.
type GormMediaRepository struct {
	db *gorm.DB
}

// NewGormMediaRepository creates the repository.
func NewGormMediaRepository(db *gorm.DB) *GormMediaRepository {
	return &GormMediaRepository{db: db}
}

func (r *GormMediaRepository) GetByLogicalID(ctx context.Context, botID, logicalFileID string) (*entity.MediaAsset, error) {
	var m models.MediaAssetModel
	err := r.db.WithContext(ctx).
		Where("bot_id = ? AND logical_file_id = ?", botID, logicalFileID).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFound("media asset not found")
		}
		return nil, apperrors.NewTransient("load media asset", err)
	}

	var ids []models.MediaPlatformIDModel
	err = r.db.WithContext(ctx).Where("asset_id = ?", m.ID).Find(&ids).Error
	if err != nil {
		return nil, apperrors.NewTransient("load media platform ids", err)
	}

	asset := &entity.MediaAsset{
		ID:            m.ID,
		BotID:         m.BotID,
		LogicalFileID: m.LogicalFileID,
		Mime:          m.Mime,
		Description:   m.Description,
		BytesRef:      m.BytesRef,
		PlatformIDs:   make(map[string]string, len(ids)),
		CreatedAt:     m.CreatedAt,
	}
	for _, id := range ids {
		asset.PlatformIDs[id.Platform] = id.PlatformFileID
	}
	return asset, nil
}

func (r *GormMediaRepository) Save(ctx context.Context, asset *entity.MediaAsset) error {
	m := models.MediaAssetModel{
		ID:            asset.ID,
		BotID:         asset.BotID,
		LogicalFileID: asset.LogicalFileID,
		Mime:          asset.Mime,
		Description:   asset.Description,
		BytesRef:      asset.BytesRef,
		CreatedAt:     asset.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		if isUniqueViolation(err) {
			return apperrors.NewAlreadyExists("logical file id already taken for this bot")
		}
		return apperrors.NewTransient("save media asset", err)
	}
	return nil
}

// SetPlatformID records the native file id for an (asset, platform) pair.
// The insert is write-once: a pair that already exists is left untouched
// and reported as CodeAlreadyExists.
func (r *GormMediaRepository) SetPlatformID(ctx context.Context, assetID, platform, platformFileID string) error {
	m := models.MediaPlatformIDModel{
		AssetID:        assetID,
		Platform:       platform,
		PlatformFileID: platformFileID,
		CreatedAt:      time.Now().UTC(),
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&m)
	if res.Error != nil {
		return apperrors.NewTransient("save platform file id", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.NewAlreadyExists("platform file id already set")
	}
	return nil
}

func (r *GormMediaRepository) GetBytes(_ context.Context, asset *entity.MediaAsset) ([]byte, error) {
	data, err := os.ReadFile(asset.BytesRef)
	if err != nil {
		return nil, apperrors.NewTransient("read media bytes", err)
	}
	return data, nil
}
