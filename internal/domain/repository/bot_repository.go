package repository

import (
	"context"

	"github.com/dialogforge/dialogforge/internal/domain/entity"
)

// BotRepository stores bot instances and their platform credentials.
type BotRepository interface {
	Get(ctx context.Context, botID string) (*entity.BotInstance, error)
	Save(ctx context.Context, bot *entity.BotInstance) error
	Credential(ctx context.Context, botID, platform string) (*entity.PlatformCredential, error)
	SaveCredential(ctx context.Context, cred *entity.PlatformCredential) error
	MarkCredentialUnhealthy(ctx context.Context, botID, platform string) error
	TouchWebhookChecked(ctx context.Context, botID, platform string) error
	ListAutoRefresh(ctx context.Context) ([]*entity.PlatformCredential, error)
}
