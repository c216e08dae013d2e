// Package adapters resolves platform adapters from stored credentials.
package adapters

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/dialogforge/dialogforge/internal/domain/platform"
	"github.com/dialogforge/dialogforge/internal/domain/repository"
	"github.com/dialogforge/dialogforge/internal/interfaces/telegram"
	apperrors "github.com/dialogforge/dialogforge/pkg/errors"
)

// Provider builds and caches one adapter per (bot, platform). Adapters
// hold live API clients, so construction happens once per credential.
type Provider struct {
	bots   repository.BotRepository
	logger *zap.Logger

	mu    sync.Mutex
	cache map[string]platform.Adapter
}

// NewProvider creates a provider over the bot repository.
func NewProvider(bots repository.BotRepository, logger *zap.Logger) *Provider {
	return &Provider{
		bots:   bots,
		logger: logger,
		cache:  make(map[string]platform.Adapter),
	}
}

// Adapter returns the adapter for a bot on a platform, constructing it
// from the stored credential on first use.
func (p *Provider) Adapter(ctx context.Context, botID, platformName string) (platform.Adapter, error) {
	key := botID + "|" + platformName

	p.mu.Lock()
	if a, ok := p.cache[key]; ok {
		p.mu.Unlock()
		return a, nil
	}
	p.mu.Unlock()

	cred, err := p.bots.Credential(ctx, botID, platformName)
	if err != nil {
		return nil, err
	}
	if !cred.Healthy {
		return nil, apperrors.NewUnauthorized("platform credential is marked unhealthy")
	}

	a, err := p.build(platformName, cred.Secrets)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.cache[key] = a
	p.mu.Unlock()
	return a, nil
}

// Invalidate drops a cached adapter, forcing a rebuild on next use.
// Called when credentials change.
func (p *Provider) Invalidate(botID, platformName string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cache, botID+"|"+platformName)
}

func (p *Provider) build(platformName string, secrets map[string]string) (platform.Adapter, error) {
	switch platform.Name(platformName) {
	case platform.Telegram:
		token := secrets["token"]
		if token == "" {
			return nil, apperrors.NewUnauthorized("telegram credential has no token")
		}
		var uploadChatID int64
		if raw := secrets["upload_chat_id"]; raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, apperrors.NewInvalidInput("invalid upload_chat_id in credential")
			}
			uploadChatID = id
		}
		return telegram.New(token, uploadChatID, p.logger)
	default:
		return nil, apperrors.NewInvalidInput(fmt.Sprintf("unsupported platform %q", platformName))
	}
}
