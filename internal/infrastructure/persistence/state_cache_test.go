package persistence

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dialogforge/dialogforge/internal/domain/entity"
	"github.com/dialogforge/dialogforge/internal/domain/repository"
	"github.com/dialogforge/dialogforge/internal/infrastructure/persistence/memory"
	apperrors "github.com/dialogforge/dialogforge/pkg/errors"
)

// countingStates counts reads that reach the inner repository.
type countingStates struct {
	repository.StateRepository
	gets int
}

func (c *countingStates) Get(ctx context.Context, botID, platform, chatID string) (*entity.DialogState, error) {
	c.gets++
	return c.StateRepository.Get(ctx, botID, platform, chatID)
}

func testState(id, chatID string) *entity.DialogState {
	return &entity.DialogState{
		ID:            id,
		BotID:         "bot1",
		Platform:      "telegram",
		ChatID:        chatID,
		CurrentStepID: "welcome",
		CollectedData: map[string]any{},
		Version:       1,
	}
}

func newCacheFixture(size int, ttl time.Duration) (*CachedStateRepository, *countingStates) {
	inner := &countingStates{StateRepository: memory.NewStateRepository()}
	cache := NewCachedStateRepository(inner, size, ttl, zap.NewNop())
	return cache, inner
}

func TestStateCache_GetCachesReads(t *testing.T) {
	cache, inner := newCacheFixture(16, time.Minute)
	ctx := context.Background()

	if err := inner.Create(ctx, testState("s1", "chat1")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	for i := 0; i < 3; i++ {
		state, err := cache.Get(ctx, "bot1", "telegram", "chat1")
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		if state.ID != "s1" {
			t.Fatalf("get %d returned %q", i, state.ID)
		}
	}

	if inner.gets != 1 {
		t.Errorf("inner reads = %d, want 1", inner.gets)
	}
}

func TestStateCache_TTLExpiry(t *testing.T) {
	cache, inner := newCacheFixture(16, time.Minute)
	ctx := context.Background()
	base := time.Now()
	cache.now = func() time.Time { return base }

	if err := inner.Create(ctx, testState("s1", "chat1")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := cache.Get(ctx, "bot1", "telegram", "chat1"); err != nil {
		t.Fatalf("first get: %v", err)
	}

	cache.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, err := cache.Get(ctx, "bot1", "telegram", "chat1"); err != nil {
		t.Fatalf("get after expiry: %v", err)
	}

	if inner.gets != 2 {
		t.Errorf("inner reads = %d, want 2 (entry expired)", inner.gets)
	}
}

func TestStateCache_UpdateRefills(t *testing.T) {
	cache, inner := newCacheFixture(16, time.Minute)
	ctx := context.Background()

	state := testState("s1", "chat1")
	if err := cache.Create(ctx, state); err != nil {
		t.Fatalf("create: %v", err)
	}

	state.CurrentStepID = "greet"
	if err := cache.Update(ctx, state); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := cache.Get(ctx, "bot1", "telegram", "chat1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CurrentStepID != "greet" {
		t.Errorf("cached step = %q", got.CurrentStepID)
	}
	if inner.gets != 0 {
		t.Errorf("inner reads = %d, want 0 (write-through refill)", inner.gets)
	}
}

func TestStateCache_FailedUpdateInvalidates(t *testing.T) {
	cache, inner := newCacheFixture(16, time.Minute)
	ctx := context.Background()

	state := testState("s1", "chat1")
	if err := cache.Create(ctx, state); err != nil {
		t.Fatalf("create: %v", err)
	}

	// A stale copy conflicts; the cache must not keep serving its value.
	stale := testState("s1", "chat1")
	stale.Version = 99
	stale.CurrentStepID = "wrong"
	if err := cache.Update(ctx, stale); !apperrors.IsConflict(err) {
		t.Fatalf("want conflict, got %v", err)
	}

	got, err := cache.Get(ctx, "bot1", "telegram", "chat1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CurrentStepID != "welcome" {
		t.Errorf("read %q, want the store's truth", got.CurrentStepID)
	}
	if inner.gets != 1 {
		t.Errorf("inner reads = %d, want 1 (entry invalidated)", inner.gets)
	}
}

func TestStateCache_LRUEviction(t *testing.T) {
	cache, inner := newCacheFixture(2, time.Minute)
	ctx := context.Background()

	for i, chat := range []string{"chat1", "chat2", "chat3"} {
		if err := cache.Create(ctx, testState(string(rune('a'+i)), chat)); err != nil {
			t.Fatalf("create %s: %v", chat, err)
		}
	}

	// chat1 was pushed out by the capacity bound.
	if _, err := cache.Get(ctx, "bot1", "telegram", "chat1"); err != nil {
		t.Fatalf("get chat1: %v", err)
	}
	if inner.gets != 1 {
		t.Errorf("inner reads = %d, want 1 (chat1 evicted)", inner.gets)
	}

	inner.gets = 0
	if _, err := cache.Get(ctx, "bot1", "telegram", "chat3"); err != nil {
		t.Fatalf("get chat3: %v", err)
	}
	if inner.gets != 0 {
		t.Errorf("chat3 should still be cached, inner reads = %d", inner.gets)
	}
}

func TestStateCache_DeleteDropsEntry(t *testing.T) {
	cache, inner := newCacheFixture(16, time.Minute)
	ctx := context.Background()

	if err := cache.Create(ctx, testState("s1", "chat1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := cache.Delete(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := cache.Get(ctx, "bot1", "telegram", "chat1"); !apperrors.IsNotFound(err) {
		t.Fatalf("want NotFound after delete, got %v", err)
	}
	if inner.gets != 1 {
		t.Errorf("inner reads = %d, want 1", inner.gets)
	}
}
