package entity

import (
	"time"

	"github.com/google/uuid"
)

// MediaAsset is an uploaded file addressable from scenarios by its
// bot-scoped logical id. PlatformIDs maps a platform name to the native
// file id returned by that platform's upload; each entry is written once
// and never overwritten.
type MediaAsset struct {
	ID            string
	BotID         string
	LogicalFileID string
	Mime          string
	Description   string
	BytesRef      string // storage reference resolved by the media repository
	PlatformIDs   map[string]string
	CreatedAt     time.Time
}

// NewMediaAsset registers an uploaded file under a logical id.
func NewMediaAsset(botID, logicalFileID, mime, description, bytesRef string) *MediaAsset {
	return &MediaAsset{
		ID:            uuid.NewString(),
		BotID:         botID,
		LogicalFileID: logicalFileID,
		Mime:          mime,
		Description:   description,
		BytesRef:      bytesRef,
		PlatformIDs:   make(map[string]string),
		CreatedAt:     time.Now().UTC(),
	}
}

// PlatformID returns the cached native file id for a platform, if any.
func (a *MediaAsset) PlatformID(platform string) (string, bool) {
	id, ok := a.PlatformIDs[platform]
	return id, ok
}
