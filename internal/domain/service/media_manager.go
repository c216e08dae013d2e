package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"github.com/dialogforge/dialogforge/internal/domain/entity"
	"github.com/dialogforge/dialogforge/internal/domain/platform"
	"github.com/dialogforge/dialogforge/internal/domain/repository"
	apperrors "github.com/dialogforge/dialogforge/pkg/errors"
)

// ResolveFailure reports one media reference that could not be resolved.
type ResolveFailure struct {
	Ref entity.MediaRef
	Err error
}

// MediaManager resolves scenario media references into sendable items,
// uploading to the platform on first use and caching the returned native
// file id. The platform id for an (asset, platform) pair is written once;
// a per-asset mutex keeps concurrent first sends from uploading twice.
type MediaManager struct {
	repo       repository.MediaRepository
	maxRetries int
	logger     *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewMediaManager creates a media manager.
func NewMediaManager(repo repository.MediaRepository, maxRetries int, logger *zap.Logger) *MediaManager {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &MediaManager{
		repo:       repo,
		maxRetries: maxRetries,
		logger:     logger.With(zap.String("component", "media-manager")),
		locks:      make(map[string]*sync.Mutex),
	}
}

// Resolve turns media refs into OutMedia items ready to send. Failed refs
// are returned separately so the caller can still deliver the message
// text; a partially resolvable group is not an error.
func (m *MediaManager) Resolve(ctx context.Context, botID string, adapter platform.Adapter, refs []entity.MediaRef) ([]platform.OutMedia, []ResolveFailure) {
	items := make([]platform.OutMedia, 0, len(refs))
	var failures []ResolveFailure

	for _, ref := range refs {
		item, err := m.resolveOne(ctx, botID, adapter, ref)
		if err != nil {
			m.logger.Warn("Media resolve failed",
				zap.String("bot_id", botID),
				zap.String("logical_file_id", ref.FileID),
				zap.Error(err),
			)
			failures = append(failures, ResolveFailure{Ref: ref, Err: err})
			continue
		}
		items = append(items, item)
	}

	return items, failures
}

func (m *MediaManager) resolveOne(ctx context.Context, botID string, adapter platform.Adapter, ref entity.MediaRef) (platform.OutMedia, error) {
	platformName := string(adapter.Name())

	asset, err := m.repo.GetByLogicalID(ctx, botID, ref.FileID)
	if err != nil {
		return platform.OutMedia{}, err
	}

	if id, ok := asset.PlatformID(platformName); ok {
		return m.outMedia(ref, asset, id), nil
	}

	key := asset.ID + "|" + platformName
	lock := m.assetLock(key)
	lock.Lock()
	defer lock.Unlock()

	// Another sender may have finished the upload while we waited.
	asset, err = m.repo.GetByLogicalID(ctx, botID, ref.FileID)
	if err != nil {
		return platform.OutMedia{}, err
	}
	if id, ok := asset.PlatformID(platformName); ok {
		m.dropAssetLock(key)
		return m.outMedia(ref, asset, id), nil
	}

	data, err := m.repo.GetBytes(ctx, asset)
	if err != nil {
		return platform.OutMedia{}, err
	}

	fileID, err := m.upload(ctx, adapter, data, asset.Mime)
	if err != nil {
		return platform.OutMedia{}, err
	}

	if err := m.repo.SetPlatformID(ctx, asset.ID, platformName, fileID); err != nil {
		if apperrors.Is(err, apperrors.CodeAlreadyExist) {
			// Lost a cross-process race; the stored id wins.
			asset, rerr := m.repo.GetByLogicalID(ctx, botID, ref.FileID)
			if rerr == nil {
				if id, ok := asset.PlatformID(platformName); ok {
					m.dropAssetLock(key)
					return m.outMedia(ref, asset, id), nil
				}
			}
		}
		return platform.OutMedia{}, err
	}

	m.dropAssetLock(key)
	return m.outMedia(ref, asset, fileID), nil
}

// upload pushes the bytes to the platform, retrying transient failures.
func (m *MediaManager) upload(ctx context.Context, adapter platform.Adapter, data []byte, mime string) (string, error) {
	var fileID string
	err := retry.Do(
		func() error {
			id, err := adapter.UploadMedia(ctx, data, mime)
			if err != nil {
				return err
			}
			fileID = id
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(m.maxRetries)),
		retry.Delay(200*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(apperrors.IsTransient),
	)
	if err != nil {
		return "", fmt.Errorf("media upload: %w", err)
	}
	return fileID, nil
}

func (m *MediaManager) outMedia(ref entity.MediaRef, asset *entity.MediaAsset, fileID string) platform.OutMedia {
	description := ref.Description
	if description == "" {
		description = asset.Description
	}
	return platform.OutMedia{
		Type:        ref.Type,
		Description: description,
		FileID:      fileID,
		Mime:        asset.Mime,
	}
}

func (m *MediaManager) assetLock(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[key] = lock
	}
	return lock
}

// dropAssetLock evicts a mutex whose upload has completed. The platform
// id is write-once, so the entry has no further use; the map stays
// bounded by in-flight uploads. Waiters blocked on the old mutex still
// hold their reference and find the cached id on their re-read.
func (m *MediaManager) dropAssetLock(key string) {
	m.mu.Lock()
	delete(m.locks, key)
	m.mu.Unlock()
}
