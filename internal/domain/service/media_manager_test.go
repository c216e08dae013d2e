package service

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/dialogforge/dialogforge/internal/domain/entity"
	"github.com/dialogforge/dialogforge/internal/infrastructure/persistence/memory"
	apperrors "github.com/dialogforge/dialogforge/pkg/errors"
)

func newMediaFixture(t *testing.T) (*MediaManager, *memory.MediaRepository, *fakeAdapter) {
	t.Helper()
	repo := memory.NewMediaRepository()
	asset := entity.NewMediaAsset("bot1", "pic1", "image/jpeg", "A cute cat", "ref1")
	if err := repo.Save(context.Background(), asset); err != nil {
		t.Fatalf("save asset: %v", err)
	}
	repo.PutBytes("ref1", []byte("jpeg-bytes"))
	return NewMediaManager(repo, 3, zap.NewNop()), repo, &fakeAdapter{}
}

func (m *MediaManager) lockCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

// === Asset locks ===

func TestMediaManager_AssetLockEvictedAfterUpload(t *testing.T) {
	mm, _, adapter := newMediaFixture(t)

	refs := []entity.MediaRef{{Type: "image", FileID: "pic1"}}
	items, failures := mm.Resolve(context.Background(), "bot1", adapter, refs)
	if len(failures) != 0 {
		t.Fatalf("resolve failed: %v", failures)
	}
	if len(items) != 1 || items[0].FileID == "" {
		t.Fatalf("items = %+v", items)
	}

	// The platform id is stored, so the upload mutex has no further use.
	if n := mm.lockCount(); n != 0 {
		t.Errorf("asset lock map holds %d entries after a completed upload", n)
	}

	// The cached id takes the fast path and leaves no lock behind either.
	if _, failures := mm.Resolve(context.Background(), "bot1", adapter, refs); len(failures) != 0 {
		t.Fatalf("cached resolve failed: %v", failures)
	}
	if adapter.uploads != 1 {
		t.Errorf("uploads = %d, want 1", adapter.uploads)
	}
	if n := mm.lockCount(); n != 0 {
		t.Errorf("asset lock map holds %d entries after a cached resolve", n)
	}
}

func TestMediaManager_AssetLockKeptWhileUploadFails(t *testing.T) {
	mm, _, adapter := newMediaFixture(t)
	adapter.uploadErr = apperrors.NewTransient("upload failed", nil)

	_, failures := mm.Resolve(context.Background(), "bot1", adapter, []entity.MediaRef{{Type: "image", FileID: "pic1"}})
	if len(failures) != 1 {
		t.Fatalf("expected the upload to fail, got %v", failures)
	}

	// The id was never written, so the mutex stays for the next attempt.
	if n := mm.lockCount(); n != 1 {
		t.Errorf("asset lock map holds %d entries, want 1", n)
	}

	adapter.uploadErr = nil
	items, failures := mm.Resolve(context.Background(), "bot1", adapter, []entity.MediaRef{{Type: "image", FileID: "pic1"}})
	if len(failures) != 0 || len(items) != 1 {
		t.Fatalf("retry resolve: items %v failures %v", items, failures)
	}
	if n := mm.lockCount(); n != 0 {
		t.Errorf("asset lock map holds %d entries after the retry succeeded", n)
	}
}
