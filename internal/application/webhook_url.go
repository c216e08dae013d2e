package application

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dialogforge/dialogforge/internal/domain/platform"
)

// buildWebhookURL constructs the public webhook URL for one bot. The
// base is either the configured domain or, for local development, the
// public address of a running ngrok tunnel.
func (app *App) buildWebhookURL(ctx context.Context, platformName, botID string) (string, error) {
	base := strings.TrimSuffix(app.config.Webhook.Domain, "/")
	if app.config.Webhook.UseNgrok {
		ngrokBase, err := ngrokPublicURL(ctx, app.config.Webhook.NgrokPort)
		if err != nil {
			return "", err
		}
		base = ngrokBase
	}
	if base == "" {
		return "", fmt.Errorf("no webhook domain configured")
	}
	return fmt.Sprintf("%s/webhook/%s/%s", base, platformName, botID), nil
}

// ngrokPublicURL asks the local ngrok agent for its https tunnel address.
func ngrokPublicURL(ctx context.Context, agentPort int) (string, error) {
	url := fmt.Sprintf("http://127.0.0.1:%d/api/tunnels", agentPort)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("query ngrok agent: %w", err)
	}
	defer resp.Body.Close()

	var payload struct {
		Tunnels []struct {
			PublicURL string `json:"public_url"`
			Proto     string `json:"proto"`
		} `json:"tunnels"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode ngrok response: %w", err)
	}

	for _, t := range payload.Tunnels {
		if t.Proto == "https" {
			return t.PublicURL, nil
		}
	}
	return "", fmt.Errorf("ngrok agent reports no https tunnel")
}

// ensureWebhooks registers the webhook for every auto-refresh credential
// whose stored URL drifted from the one this deployment serves. The
// monitor keeps verifying afterwards.
func (app *App) ensureWebhooks(ctx context.Context) {
	creds, err := app.bots.ListAutoRefresh(ctx)
	if err != nil {
		app.logger.Warn("Could not list credentials for webhook registration", zap.Error(err))
		return
	}

	for _, cred := range creds {
		if !cred.Healthy {
			continue
		}

		want, err := app.buildWebhookURL(ctx, cred.Platform, cred.BotID)
		if err != nil {
			app.logger.Warn("Could not build webhook URL",
				zap.String("bot_id", cred.BotID),
				zap.Error(err),
			)
			continue
		}
		if cred.WebhookURL == want {
			continue
		}

		adapter, err := app.provider.Adapter(ctx, cred.BotID, cred.Platform)
		if err != nil {
			app.logger.Warn("Could not resolve adapter for webhook registration",
				zap.String("bot_id", cred.BotID),
				zap.Error(err),
			)
			continue
		}

		err = adapter.SetWebhook(ctx, want, platform.WebhookOptions{SecretToken: cred.SecretToken()})
		if err != nil {
			app.logger.Error("Webhook registration failed",
				zap.String("bot_id", cred.BotID),
				zap.String("url", want),
				zap.Error(err),
			)
			continue
		}

		cred.WebhookURL = want
		if err := app.bots.SaveCredential(ctx, cred); err != nil {
			app.logger.Warn("Could not persist webhook URL", zap.Error(err))
		}
	}
}
