package repository

import (
	"context"

	"github.com/dialogforge/dialogforge/internal/domain/entity"
)

// StateRepository persists dialog states and their append-only history.
//
// Update performs optimistic concurrency on DialogState.Version: the write
// only succeeds against the version the caller read, and bumps it. A
// mismatch returns CodeConflict; the caller re-reads and retries.
//
// AppendHistory assigns the next strictly-increasing Seq for the dialog.
type StateRepository interface {
	Get(ctx context.Context, botID, platform, chatID string) (*entity.DialogState, error)
	Create(ctx context.Context, state *entity.DialogState) error
	Update(ctx context.Context, state *entity.DialogState) error
	Delete(ctx context.Context, stateID string) error
	AppendHistory(ctx context.Context, entry *entity.DialogHistoryEntry) error
	History(ctx context.Context, dialogID string, limit int) ([]*entity.DialogHistoryEntry, error)
}
