// Package models defines the gorm persistence layout. Conversion to and
// from domain entities lives with the repositories.
package models

import "time"

// BotModel is one bot instance row.
type BotModel struct {
	ID        string `gorm:"primaryKey"`
	AccountID string `gorm:"index"`
	Name      string
	Active    bool
	CreatedAt time.Time
}

func (BotModel) TableName() string { return "bots" }

// PlatformCredentialModel binds a bot to a platform. Secrets are stored
// as a JSON object, opaque to the engine.
type PlatformCredentialModel struct {
	BotID              string `gorm:"primaryKey"`
	Platform           string `gorm:"primaryKey"`
	Secrets            string
	WebhookURL         string
	WebhookLastChecked time.Time
	AutoRefresh        bool
	Healthy            bool
}

func (PlatformCredentialModel) TableName() string { return "platform_credentials" }

// ScenarioModel is one immutable scenario version; the graph is stored in
// its wire JSON form.
type ScenarioModel struct {
	ID        string `gorm:"primaryKey"`
	BotID     string `gorm:"index;uniqueIndex:idx_bot_version"`
	Version   int    `gorm:"uniqueIndex:idx_bot_version"`
	Active    bool   `gorm:"index"`
	Graph     string
	CreatedAt time.Time
}

func (ScenarioModel) TableName() string { return "scenarios" }

// DialogStateModel is the single mutable row per conversation. The unique
// index over the conversation triple enforces one state per chat.
type DialogStateModel struct {
	ID                string `gorm:"primaryKey"`
	BotID             string `gorm:"uniqueIndex:idx_conversation"`
	Platform          string `gorm:"uniqueIndex:idx_conversation"`
	ChatID            string `gorm:"uniqueIndex:idx_conversation"`
	ScenarioID        string `gorm:"index"`
	ScenarioVersion   int
	CurrentStepID     string
	CollectedData     string
	CreatedAt         time.Time
	LastInteractionAt time.Time
	Version           int64
}

func (DialogStateModel) TableName() string { return "dialog_states" }

// DialogHistoryModel is the append-only conversation record, keyed by
// (dialog, seq).
type DialogHistoryModel struct {
	DialogID    string `gorm:"primaryKey"`
	Seq         int64  `gorm:"primaryKey;autoIncrement:false"`
	MessageType string
	Payload     string
	Timestamp   time.Time
}

func (DialogHistoryModel) TableName() string { return "dialog_history" }

// MediaAssetModel is one uploaded file; bytes live outside the database
// behind BytesRef.
type MediaAssetModel struct {
	ID            string `gorm:"primaryKey"`
	BotID         string `gorm:"uniqueIndex:idx_bot_logical"`
	LogicalFileID string `gorm:"uniqueIndex:idx_bot_logical"`
	Mime          string
	Description   string
	BytesRef      string
	CreatedAt     time.Time
}

func (MediaAssetModel) TableName() string { return "media_assets" }

// MediaPlatformIDModel caches one platform's native file id for an asset.
// The composite primary key makes the write write-once at the store level.
type MediaPlatformIDModel struct {
	AssetID        string `gorm:"primaryKey"`
	Platform       string `gorm:"primaryKey"`
	PlatformFileID string
	CreatedAt      time.Time
}

func (MediaPlatformIDModel) TableName() string { return "media_platform_ids" }

// All lists every model for migration.
func All() []any {
	return []any{
		&BotModel{},
		&PlatformCredentialModel{},
		&ScenarioModel{},
		&DialogStateModel{},
		&DialogHistoryModel{},
		&MediaAssetModel{},
		&MediaPlatformIDModel{},
	}
}
