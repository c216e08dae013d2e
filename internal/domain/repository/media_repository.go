package repository

import (
	"context"

	"github.com/dialogforge/dialogforge/internal/domain/entity"
)

// MediaRepository stores media assets and their per-platform file ids.
//
// SetPlatformID is write-once per (asset, platform): a second write for
// the same pair returns CodeAlreadyExists and leaves the stored id intact.
// The write must be durable before SetPlatformID returns so every later
// resolve in the process observes it.
type MediaRepository interface {
	GetByLogicalID(ctx context.Context, botID, logicalFileID string) (*entity.MediaAsset, error)
	Save(ctx context.Context, asset *entity.MediaAsset) error
	SetPlatformID(ctx context.Context, assetID, platform, platformFileID string) error
	GetBytes(ctx context.Context, asset *entity.MediaAsset) ([]byte, error)
}
