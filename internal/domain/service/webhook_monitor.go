package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dialogforge/dialogforge/internal/domain/platform"
	"github.com/dialogforge/dialogforge/internal/domain/repository"
	"github.com/dialogforge/dialogforge/pkg/safego"
)

// WebhookMonitor periodically verifies that every auto-refresh credential
// still has its webhook registered, and re-registers when the platform
// lost or changed it.
type WebhookMonitor struct {
	bots     repository.BotRepository
	adapters AdapterProvider
	interval time.Duration
	logger   *zap.Logger
}

// NewWebhookMonitor creates a monitor; Start launches the loop.
func NewWebhookMonitor(bots repository.BotRepository, adapters AdapterProvider, interval time.Duration, logger *zap.Logger) *WebhookMonitor {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &WebhookMonitor{
		bots:     bots,
		adapters: adapters,
		interval: interval,
		logger:   logger.With(zap.String("component", "webhook-monitor")),
	}
}

// Start runs the check loop until ctx is cancelled.
func (w *WebhookMonitor) Start(ctx context.Context) {
	safego.Loop(ctx, w.logger, "webhook-monitor", w.interval, w.CheckAll)
}

// CheckAll verifies every auto-refresh credential once.
func (w *WebhookMonitor) CheckAll(ctx context.Context) {
	creds, err := w.bots.ListAutoRefresh(ctx)
	if err != nil {
		w.logger.Error("Could not list auto-refresh credentials", zap.Error(err))
		return
	}

	for _, cred := range creds {
		if !cred.Healthy || cred.WebhookURL == "" {
			continue
		}
		w.checkOne(ctx, cred.BotID, cred.Platform, cred.WebhookURL, cred.SecretToken())
	}
}

func (w *WebhookMonitor) checkOne(ctx context.Context, botID, platformName, wantURL, secretToken string) {
	adapter, err := w.adapters.Adapter(ctx, botID, platformName)
	if err != nil {
		w.logger.Warn("Could not resolve adapter for webhook check",
			zap.String("bot_id", botID),
			zap.String("platform", platformName),
			zap.Error(err),
		)
		return
	}

	info, err := adapter.WebhookInfo(ctx)
	if err != nil {
		w.logger.Warn("Webhook info query failed",
			zap.String("bot_id", botID),
			zap.Error(err),
		)
		return
	}

	if info.URL != wantURL {
		w.logger.Info("Webhook registration drifted, re-registering",
			zap.String("bot_id", botID),
			zap.String("platform", platformName),
			zap.String("registered", info.URL),
			zap.String("expected", wantURL),
		)
		err := adapter.SetWebhook(ctx, wantURL, platform.WebhookOptions{SecretToken: secretToken})
		if err != nil {
			w.logger.Error("Webhook re-registration failed",
				zap.String("bot_id", botID),
				zap.Error(err),
			)
			return
		}
	} else if info.LastErrorMessage != "" {
		w.logger.Warn("Platform reports webhook delivery errors",
			zap.String("bot_id", botID),
			zap.String("last_error", info.LastErrorMessage),
			zap.Int("pending", info.PendingUpdates),
		)
	}

	if err := w.bots.TouchWebhookChecked(ctx, botID, platformName); err != nil {
		w.logger.Warn("Could not record webhook check", zap.Error(err))
	}
}
