package entity

import "time"

// BotInstance is a logical assistant owned by an account. It owns
// credentials and scenarios and may speak on multiple platforms.
type BotInstance struct {
	ID        string
	AccountID string
	Name      string
	Active    bool
	CreatedAt time.Time
}

// PlatformCredential binds a bot to one messaging platform. Secrets are
// opaque to the engine; the adapter layer knows how to use them.
type PlatformCredential struct {
	BotID              string
	Platform           string
	Secrets            map[string]string
	WebhookURL         string
	WebhookLastChecked time.Time
	AutoRefresh        bool
	Healthy            bool
}

// SecretToken returns the webhook secret used to authenticate inbound
// calls, empty when the platform scheme doesn't use one.
func (c *PlatformCredential) SecretToken() string {
	return c.Secrets["secret_token"]
}
